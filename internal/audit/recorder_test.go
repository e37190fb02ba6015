package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/scrub"
	"github.com/entrys/gateway/internal/storage"
	"github.com/entrys/gateway/internal/store"
	"github.com/entrys/gateway/internal/webhook"
)

type mockStore struct {
	mu   sync.Mutex
	rows []*store.AuditLog
	err  error
}

func (m *mockStore) InsertAuditLog(ctx context.Context, l *store.AuditLog) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = "audit-1"
	l.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.rows = append(m.rows, l)
	return nil
}

type mockNotifier struct {
	payloads []webhook.Payload
	teams    []string
}

func (m *mockNotifier) FanOutAuditEvent(p webhook.Payload, teamID string) {
	m.payloads = append(m.payloads, p)
	m.teams = append(m.teams, teamID)
}

type mockEvents struct {
	events []*storage.InvocationEvent
}

func (m *mockEvents) Write(e *storage.InvocationEvent) { m.events = append(m.events, e) }
func (m *mockEvents) Close()                           {}

func strPtr(s string) *string { return &s }

func allowEntry() Entry {
	status := 200
	return Entry{
		TeamID: "team-1", EnvID: "env-1", Environment: "staging", RequestID: "req-1",
		AgentKeyID: "agent-1", AgentName: "demo-agent", AgentLabel: "demo-agent (ent_stag_abc...)",
		ToolName: "echo", LogicalName: strPtr("echo_httpbin"), ToolVersion: strPtr("v1"),
		BackendType: strPtr("http"), Decision: store.DecisionAllow, StatusCode: &status, LatencyMs: 42,
		Redactions: []scrub.Redaction{{Type: "email", Count: 2}, {Type: "key_token", Count: 1}},
	}
}

func TestRecord_PersistsThenMirrors(t *testing.T) {
	s, n, ev := &mockStore{}, &mockNotifier{}, &mockEvents{}
	NewRecorder(s, ev, n, zap.NewNop()).Record(context.Background(), allowEntry())

	if len(s.rows) != 1 {
		t.Fatalf("rows = %d", len(s.rows))
	}
	row := s.rows[0]
	if row.AgentKeyID == nil || *row.AgentKeyID != "agent-1" || row.Decision != "allow" {
		t.Errorf("row = %+v", row)
	}
	var red []scrub.Redaction
	if err := json.Unmarshal(row.Redactions, &red); err != nil || len(red) != 2 || red[0].Type != "email" {
		t.Errorf("redactions = %s (%v)", row.Redactions, err)
	}

	if len(n.payloads) != 1 || n.teams[0] != "team-1" {
		t.Fatalf("payloads = %d", len(n.payloads))
	}
	p := n.payloads[0]
	if p.RedactionCount != 3 || p.Environment != "staging" || *p.Version != "v1" || !p.Timestamp.Equal(row.CreatedAt) {
		t.Errorf("payload = %+v", p)
	}

	if len(ev.events) != 1 {
		t.Fatalf("events = %d", len(ev.events))
	}
	e := ev.events[0]
	if e.StatusCode != 200 || e.LogicalName != "echo_httpbin" || len(e.RedactionCounts) != 2 || e.RedactionCounts[0] != 2 {
		t.Errorf("event = %+v", e)
	}
}

func TestRecord_DenyWithoutResolution(t *testing.T) {
	s, n := &mockStore{}, &mockNotifier{}
	NewRecorder(s, nil, n, zap.NewNop()).Record(context.Background(), Entry{
		TeamID: "team-1", RequestID: "req-2", ToolName: "nope", Decision: store.DecisionDeny,
		ErrorCode: "TOOL_NOT_FOUND",
	})

	row := s.rows[0]
	if row.LogicalName != nil || row.AgentKeyID != nil || row.StatusCode != nil {
		t.Errorf("row = %+v", row)
	}
	if string(row.Redactions) != "[]" {
		t.Errorf("redactions = %s", row.Redactions)
	}
	if n.payloads[0].LogicalName != nil || n.payloads[0].RedactionCount != 0 {
		t.Errorf("payload = %+v", n.payloads[0])
	}
}

func TestRecord_InsertFailureSuppressesEvents(t *testing.T) {
	n, ev := &mockNotifier{}, &mockEvents{}
	NewRecorder(&mockStore{err: errors.New("db down")}, ev, n, zap.NewNop()).
		Record(context.Background(), allowEntry())

	if len(n.payloads) != 0 || len(ev.events) != 0 {
		t.Error("failed audit write should not emit events")
	}
}

func TestRecord_SurvivesCanceledRequest(t *testing.T) {
	s := &mockStore{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewRecorder(s, nil, nil, zap.NewNop()).Record(ctx, allowEntry())

	if len(s.rows) != 1 {
		t.Error("audit row dropped for a canceled request")
	}
}
