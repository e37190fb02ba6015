package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/entrys/gateway/internal/store"
)

const (
	defaultCacheTTL   = 30 * time.Second
	backgroundTimeout = 5 * time.Second
)

// KeyStore abstracts the agent key queries for testability.
type KeyStore interface {
	LookupAgentKeysByPrefix(ctx context.Context, prefix string) ([]*store.AgentKeyWithEnv, error)
	TouchAgentKey(ctx context.Context, id string) error
}

// KeyAuthenticator validates agent keys against the agent_keys table.
// Uses AuthCache with stale-while-revalidate to keep bcrypt off the hot path.
type KeyAuthenticator struct {
	store  KeyStore
	cache  *AuthCache
	logger *zap.Logger
}

// NewKeyAuthenticator creates an authenticator. A zero ttl uses 30s.
func NewKeyAuthenticator(s KeyStore, ttl time.Duration, logger *zap.Logger) *KeyAuthenticator {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &KeyAuthenticator{store: s, cache: NewAuthCache(ttl), logger: logger}
}

// Authenticate validates the request's agent key.
//
//  1. Extract the key from x-api-key or Authorization: Bearer
//  2. Cache lookup:
//     - Fresh hit: return immediately
//     - Stale hit: return the stale agent, refresh in the background
//     - Miss: prefix lookup + bcrypt synchronously
func (a *KeyAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Agent, error) {
	apiKey, err := ExtractAPIKey(r)
	if err != nil {
		return nil, err
	}

	result := a.cache.Get(apiKey)
	if result.Hit {
		if result.NeedsRefresh {
			go a.backgroundRefresh(apiKey)
		}
		return result.Agent, nil
	}

	agent, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		return nil, a.handleLookupError(err)
	}

	a.cache.Set(apiKey, agent)
	return agent, nil
}

// Evict drops cached entries for a revoked agent key.
func (a *KeyAuthenticator) Evict(agentKeyID string) {
	a.cache.DeleteAgent(agentKeyID)
}

// backgroundRefresh re-verifies a stale key. A failure drops the entry so the
// next request re-authenticates synchronously; a revoked key stops working
// after at most one TTL.
func (a *KeyAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	agent, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		a.cache.Delete(apiKey)
		return
	}
	a.cache.Set(apiKey, agent)
}

func (a *KeyAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*Agent, error) {
	if len(apiKey) < store.KeyPrefixLen {
		return nil, ErrInvalidAPIKey
	}

	candidates, err := a.store.LookupAgentKeysByPrefix(ctx, apiKey[:store.KeyPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}

	for _, k := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(apiKey)) != nil {
			continue
		}
		go a.touch(k.ID)
		return &Agent{
			AgentKeyID: k.ID,
			Name:       k.Name,
			KeyPrefix:  k.KeyPrefix,
			TeamID:     k.TeamID,
			EnvID:      k.EnvID,
			EnvName:    k.EnvName,
		}, nil
	}
	return nil, ErrInvalidAPIKey
}

func (a *KeyAuthenticator) touch(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()
	if err := a.store.TouchAgentKey(ctx, id); err != nil {
		a.logger.Warn("failed to update last_used_at", zap.String("agent_key_id", id), zap.Error(err))
	}
}

func (a *KeyAuthenticator) handleLookupError(err error) error {
	if errors.Is(err, ErrInvalidAPIKey) {
		return ErrInvalidAPIKey
	}
	a.logger.Warn("auth DB unreachable", zap.Error(err))
	return fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
}
