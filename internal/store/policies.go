package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Policy actions.
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// ToolPolicy is an allow or deny rule attached to a tool. It targets either one
// agent key or every agent whose name matches AgentNamePattern.
type ToolPolicy struct {
	ID               string
	ToolID           string
	AgentKeyID       *string
	AgentNamePattern *string
	Action           string // "allow" or "deny"
	CreatedAt        time.Time
}

// CreatePolicyParams holds the fields for a new tool policy.
type CreatePolicyParams struct {
	ToolID           string
	AgentKeyID       *string
	AgentNamePattern *string
	Action           string
}

const policyColumns = `p.id, p.tool_id, p.agent_key_id, p.agent_name_pattern, p.action, p.created_at`

func scanPolicy(row rowScanner) (*ToolPolicy, error) {
	var p ToolPolicy
	if err := row.Scan(&p.ID, &p.ToolID, &p.AgentKeyID, &p.AgentNamePattern, &p.Action, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPoliciesForTool returns the policies of a tool owned by the team.
func (s *Store) ListPoliciesForTool(ctx context.Context, teamID, toolID string) ([]*ToolPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+policyColumns+`
		FROM tool_policies p
		JOIN tools t ON t.id = p.tool_id
		WHERE p.tool_id = $1 AND t.team_id = $2
		ORDER BY p.created_at`, toolID, teamID)
	if err != nil {
		return nil, fmt.Errorf("ListPoliciesForTool: %w", err)
	}
	defer rows.Close()

	var policies []*ToolPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("ListPoliciesForTool: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// CreatePolicy inserts a policy for a tool owned by the team. Returns nil if
// the tool does not belong to the team.
func (s *Store) CreatePolicy(ctx context.Context, teamID string, params CreatePolicyParams) (*ToolPolicy, error) {
	p, err := scanPolicy(s.db.QueryRowContext(ctx, `
		WITH ins AS (
			INSERT INTO tool_policies (tool_id, agent_key_id, agent_name_pattern, action)
			SELECT t.id, $3, $4, $5 FROM tools t
			WHERE t.id = $1 AND t.team_id = $2
			RETURNING id, tool_id, agent_key_id, agent_name_pattern, action, created_at
		)
		SELECT `+policyColumns+` FROM ins p`,
		params.ToolID, teamID, params.AgentKeyID, params.AgentNamePattern, params.Action))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("CreatePolicy: %w", err)
	}
	return p, nil
}

// DeletePolicy deletes a policy whose tool belongs to the team.
func (s *Store) DeletePolicy(ctx context.Context, teamID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tool_policies p USING tools t
		WHERE p.id = $1 AND p.tool_id = t.id AND t.team_id = $2`, id, teamID)
	if err != nil {
		return fmt.Errorf("DeletePolicy: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
