package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is the number of leading characters of an agent key stored in clear
// to narrow candidates before the bcrypt compare.
const KeyPrefixLen = 12

// AgentKey represents a row in the agent_keys table.
type AgentKey struct {
	ID         string
	TeamID     string
	EnvID      string
	Name       string
	KeyHash    string
	KeyPrefix  string
	IsRevoked  bool
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// AgentKeyWithEnv is an AgentKey joined with its environment name (for auth lookups).
type AgentKeyWithEnv struct {
	AgentKey
	EnvName string
}

// GenerateAgentKey creates a new ent_ key for the environment with its bcrypt hash
// and prefix. Returns (fullKey, hash, prefix, error). The fullKey is shown once.
func GenerateAgentKey(envName string) (string, string, string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAgentKey: %w", err)
	}
	tag := "stag"
	if envName == EnvProd {
		tag = "live"
	}
	fullKey := "ent_" + tag + "_" + base64.RawURLEncoding.EncodeToString(raw)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAgentKey: %w", err)
	}
	return fullKey, string(hashBytes), fullKey[:KeyPrefixLen], nil
}

const agentKeyColumns = `k.id, k.team_id, k.env_id, k.name, k.key_hash, k.key_prefix,
	k.is_revoked, k.last_used_at, k.created_at`

func scanAgentKey(row rowScanner, extra ...any) (*AgentKey, error) {
	var k AgentKey
	dest := append([]any{&k.ID, &k.TeamID, &k.EnvID, &k.Name, &k.KeyHash, &k.KeyPrefix,
		&k.IsRevoked, &k.LastUsedAt, &k.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &k, nil
}

// CreateAgentKey inserts a key for an environment of the team.
// Returns the key and its plaintext (shown once), or nil if the environment is unknown.
func (s *Store) CreateAgentKey(ctx context.Context, teamID, envID, name string) (*AgentKey, string, error) {
	env, err := s.GetEnvironment(ctx, teamID, envID)
	if err != nil {
		return nil, "", fmt.Errorf("CreateAgentKey: %w", err)
	}
	if env == nil {
		return nil, "", nil
	}

	fullKey, keyHash, keyPrefix, err := GenerateAgentKey(env.Name)
	if err != nil {
		return nil, "", fmt.Errorf("CreateAgentKey: %w", err)
	}

	k, err := scanAgentKey(s.db.QueryRowContext(ctx, `
		WITH k AS (
			INSERT INTO agent_keys (team_id, env_id, name, key_hash, key_prefix)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING *
		)
		SELECT `+agentKeyColumns+` FROM k`,
		teamID, envID, name, keyHash, keyPrefix))
	if err != nil {
		return nil, "", fmt.Errorf("CreateAgentKey: %w", err)
	}
	return k, fullKey, nil
}

// GetAgentKey returns an agent key of the team by id, or nil if not found.
func (s *Store) GetAgentKey(ctx context.Context, teamID, id string) (*AgentKey, error) {
	k, err := scanAgentKey(s.db.QueryRowContext(ctx, `
		SELECT `+agentKeyColumns+` FROM agent_keys k
		WHERE k.id = $1 AND k.team_id = $2`, id, teamID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgentKey: %w", err)
	}
	return k, nil
}

// ListAgentKeys returns the team's agent keys ordered by created_at DESC.
func (s *Store) ListAgentKeys(ctx context.Context, teamID string) ([]*AgentKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentKeyColumns+` FROM agent_keys k
		WHERE k.team_id = $1 ORDER BY k.created_at DESC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("ListAgentKeys: %w", err)
	}
	defer rows.Close()

	var keys []*AgentKey
	for rows.Next() {
		k, err := scanAgentKey(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAgentKeys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAgentKey marks a key revoked and returns it, or nil if not found.
func (s *Store) RevokeAgentKey(ctx context.Context, teamID, id string) (*AgentKey, error) {
	k, err := scanAgentKey(s.db.QueryRowContext(ctx, `
		WITH k AS (
			UPDATE agent_keys SET is_revoked = true
			WHERE id = $1 AND team_id = $2
			RETURNING *
		)
		SELECT `+agentKeyColumns+` FROM k`, id, teamID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("RevokeAgentKey: %w", err)
	}
	return k, nil
}

// LookupAgentKeysByPrefix returns the non-revoked keys sharing a prefix.
// Used by auth to narrow candidates before bcrypt verify.
func (s *Store) LookupAgentKeysByPrefix(ctx context.Context, prefix string) ([]*AgentKeyWithEnv, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentKeyColumns+`, e.name
		FROM agent_keys k
		JOIN environments e ON e.id = k.env_id
		WHERE k.key_prefix = $1 AND NOT k.is_revoked`, prefix)
	if err != nil {
		return nil, fmt.Errorf("LookupAgentKeysByPrefix: %w", err)
	}
	defer rows.Close()

	var keys []*AgentKeyWithEnv
	for rows.Next() {
		var envName string
		k, err := scanAgentKey(rows, &envName)
		if err != nil {
			return nil, fmt.Errorf("LookupAgentKeysByPrefix: %w", err)
		}
		keys = append(keys, &AgentKeyWithEnv{AgentKey: *k, EnvName: envName})
	}
	return keys, rows.Err()
}

// TouchAgentKey records that a key was just used.
func (s *Store) TouchAgentKey(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE agent_keys SET last_used_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("TouchAgentKey: %w", err)
	}
	return nil
}
