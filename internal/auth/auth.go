// Package auth authenticates agents by their ent_ API key.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// KeyPrefix starts every agent key.
const KeyPrefix = "ent_"

// Agent is the identity behind a valid agent key.
type Agent struct {
	AgentKeyID string
	Name       string
	KeyPrefix  string
	TeamID     string
	EnvID      string
	EnvName    string
}

// Authenticator resolves the agent making an HTTP request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Agent, error)
}

// ExtractAPIKey reads the key from x-api-key, falling back to a Bearer
// Authorization header.
func ExtractAPIKey(r *http.Request) (string, error) {
	token := strings.TrimSpace(r.Header.Get("x-api-key"))
	if token == "" {
		h := r.Header.Get("Authorization")
		// RFC 6750: the "Bearer" scheme is case-insensitive.
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			token = strings.TrimSpace(h[7:])
		}
	}
	if token == "" {
		return "", ErrMissingAPIKey
	}
	if !strings.HasPrefix(token, KeyPrefix) {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

type agentCtxKey struct{}

// WithAgent returns a context carrying agent.
func WithAgent(ctx context.Context, agent *Agent) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, agent)
}

// AgentFromContext returns the agent stored by WithAgent, or nil.
func AgentFromContext(ctx context.Context) *Agent {
	a, _ := ctx.Value(agentCtxKey{}).(*Agent)
	return a
}
