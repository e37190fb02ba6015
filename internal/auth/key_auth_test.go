package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/entrys/gateway/internal/store"
)

// testAPIKey is the raw agent key used in tests.
const testAPIKey = "ent_stag_test_valid_key_1234567890abcdef"

// testHash returns a bcrypt hash of key using MinCost (fast for tests).
func testHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to generate bcrypt hash: %v", err)
	}
	return string(hash)
}

// mockStore implements KeyStore for testing.
type mockStore struct {
	rows       []*store.AgentKeyWithEnv
	err        error
	callCount  atomic.Int32
	touchCount atomic.Int32
	prefix     atomic.Value
}

func (m *mockStore) LookupAgentKeysByPrefix(_ context.Context, prefix string) ([]*store.AgentKeyWithEnv, error) {
	m.callCount.Add(1)
	m.prefix.Store(prefix)
	if m.err != nil {
		return nil, m.err
	}
	return m.rows, nil
}

func (m *mockStore) TouchAgentKey(context.Context, string) error {
	m.touchCount.Add(1)
	return nil
}

func keyRow(t *testing.T, id, key string) *store.AgentKeyWithEnv {
	return &store.AgentKeyWithEnv{
		AgentKey: store.AgentKey{
			ID: id, TeamID: "team-1", EnvID: "env-1", Name: "demo-agent",
			KeyHash: testHash(t, key), KeyPrefix: key[:store.KeyPrefixLen],
		},
		EnvName: "staging",
	}
}

func requestWith(header, value string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/invoke/echo", nil)
	if header != "" {
		r.Header.Set(header, value)
	}
	return r
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		value   string
		want    string
		wantErr error
	}{
		{"x-api-key", "x-api-key", testAPIKey, testAPIKey, nil},
		{"bearer", "Authorization", "Bearer " + testAPIKey, testAPIKey, nil},
		{"bearer lowercase", "Authorization", "bearer " + testAPIKey, testAPIKey, nil},
		{"missing", "", "", "", ErrMissingAPIKey},
		{"basic scheme", "Authorization", "Basic abc", "", ErrMissingAPIKey},
		{"wrong prefix", "x-api-key", "tsk_abc", "", ErrInvalidAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractAPIKey(requestWith(tt.header, tt.value))
			if !errors.Is(err, tt.wantErr) || got != tt.want {
				t.Errorf("got (%q, %v), want (%q, %v)", got, err, tt.want, tt.wantErr)
			}
		})
	}
}

func TestKeyAuth_CacheMiss_ValidKey(t *testing.T) {
	s := &mockStore{rows: []*store.AgentKeyWithEnv{keyRow(t, "agent-1", testAPIKey)}}
	a := NewKeyAuthenticator(s, time.Minute, zap.NewNop())

	agent, err := a.Authenticate(context.Background(), requestWith("x-api-key", testAPIKey))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if agent.AgentKeyID != "agent-1" || agent.EnvName != "staging" || agent.TeamID != "team-1" {
		t.Errorf("agent = %+v", agent)
	}
	if got := s.prefix.Load(); got != testAPIKey[:store.KeyPrefixLen] {
		t.Errorf("prefix = %v", got)
	}
	if s.callCount.Load() != 1 {
		t.Errorf("expected 1 DB call, got %d", s.callCount.Load())
	}
}

func TestKeyAuth_PicksMatchingCandidate(t *testing.T) {
	other := testAPIKey[:store.KeyPrefixLen] + "_different_secret"
	s := &mockStore{rows: []*store.AgentKeyWithEnv{
		keyRow(t, "agent-other", other),
		keyRow(t, "agent-1", testAPIKey),
	}}
	a := NewKeyAuthenticator(s, time.Minute, zap.NewNop())

	agent, err := a.Authenticate(context.Background(), requestWith("x-api-key", testAPIKey))
	if err != nil {
		t.Fatal(err)
	}
	if agent.AgentKeyID != "agent-1" {
		t.Errorf("matched %s", agent.AgentKeyID)
	}
}

func TestKeyAuth_CacheHit_NoDBCall(t *testing.T) {
	s := &mockStore{rows: []*store.AgentKeyWithEnv{keyRow(t, "agent-1", testAPIKey)}}
	a := NewKeyAuthenticator(s, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := a.Authenticate(context.Background(), requestWith("x-api-key", testAPIKey)); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	if s.callCount.Load() != 1 {
		t.Errorf("expected 1 DB call, got %d", s.callCount.Load())
	}
}

func TestKeyAuth_WrongSecret(t *testing.T) {
	s := &mockStore{rows: []*store.AgentKeyWithEnv{keyRow(t, "agent-1", testAPIKey)}}
	a := NewKeyAuthenticator(s, time.Minute, zap.NewNop())

	wrong := testAPIKey[:store.KeyPrefixLen] + "_not_the_key"
	_, err := a.Authenticate(context.Background(), requestWith("x-api-key", wrong))
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got %v", err)
	}
}

func TestKeyAuth_NoCandidates(t *testing.T) {
	a := NewKeyAuthenticator(&mockStore{}, time.Minute, zap.NewNop())
	_, err := a.Authenticate(context.Background(), requestWith("x-api-key", testAPIKey))
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got %v", err)
	}
}

func TestKeyAuth_DBError(t *testing.T) {
	a := NewKeyAuthenticator(&mockStore{err: errors.New("connection refused")}, time.Minute, zap.NewNop())
	_, err := a.Authenticate(context.Background(), requestWith("x-api-key", testAPIKey))
	if !errors.Is(err, ErrAuthUnavailable) {
		t.Errorf("expected ErrAuthUnavailable, got %v", err)
	}
}

func TestKeyAuth_EvictForcesLookup(t *testing.T) {
	s := &mockStore{rows: []*store.AgentKeyWithEnv{keyRow(t, "agent-1", testAPIKey)}}
	a := NewKeyAuthenticator(s, time.Minute, zap.NewNop())

	if _, err := a.Authenticate(context.Background(), requestWith("x-api-key", testAPIKey)); err != nil {
		t.Fatal(err)
	}

	// Revoked: the store no longer returns the key.
	s.rows = nil
	a.Evict("agent-1")

	_, err := a.Authenticate(context.Background(), requestWith("x-api-key", testAPIKey))
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey after evict, got %v", err)
	}
	if s.callCount.Load() != 2 {
		t.Errorf("expected 2 DB calls, got %d", s.callCount.Load())
	}
}

func TestKeyAuth_TouchesOnLookup(t *testing.T) {
	s := &mockStore{rows: []*store.AgentKeyWithEnv{keyRow(t, "agent-1", testAPIKey)}}
	a := NewKeyAuthenticator(s, time.Minute, zap.NewNop())

	if _, err := a.Authenticate(context.Background(), requestWith("x-api-key", testAPIKey)); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for s.touchCount.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.touchCount.Load() != 1 {
		t.Errorf("touch count = %d", s.touchCount.Load())
	}
}
