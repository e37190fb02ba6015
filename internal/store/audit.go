package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Audit decisions.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionError = "error"
)

// MaxAuditPage caps the number of audit rows returned by one list call.
const MaxAuditPage = 200

// AuditLog represents a row in the append-only audit_logs table.
type AuditLog struct {
	ID          string
	TeamID      string
	EnvID       string
	RequestID   string
	AgentKeyID  *string
	AgentLabel  string
	ToolName    string
	LogicalName *string
	ToolVersion *string
	BackendType *string
	Decision    string
	StatusCode  *int
	LatencyMs   int
	Redactions  json.RawMessage // JSONB array of {type, count}
	CreatedAt   time.Time
}

// AuditFilter narrows ListAuditLogs. Empty fields are ignored.
type AuditFilter struct {
	ToolName    string
	LogicalName string
	Decision    string
	AgentKeyID  string
	Limit       int
}

// InsertAuditLog appends one audit record and fills in its id and created_at.
func (s *Store) InsertAuditLog(ctx context.Context, l *AuditLog) error {
	redactions := l.Redactions
	if len(redactions) == 0 {
		redactions = json.RawMessage(`[]`)
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (team_id, env_id, request_id, agent_key_id, agent_label,
		                        tool_name, logical_name, tool_version, backend_type,
		                        decision, status_code, latency_ms, redactions_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`,
		l.TeamID, l.EnvID, l.RequestID, l.AgentKeyID, l.AgentLabel,
		l.ToolName, l.LogicalName, l.ToolVersion, l.BackendType,
		l.Decision, l.StatusCode, l.LatencyMs, []byte(redactions),
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertAuditLog: %w", err)
	}
	return nil
}

// ListAuditLogs returns the team's most recent audit records matching f.
func (s *Store) ListAuditLogs(ctx context.Context, teamID string, f AuditFilter) ([]*AuditLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > MaxAuditPage {
		limit = MaxAuditPage
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, env_id, request_id, agent_key_id, agent_label, tool_name,
		       logical_name, tool_version, backend_type, decision, status_code,
		       latency_ms, redactions_json, created_at
		FROM audit_logs
		WHERE team_id = $1
		  AND ($2 = '' OR tool_name = $2)
		  AND ($3 = '' OR logical_name = $3)
		  AND ($4 = '' OR decision = $4)
		  AND ($5 = '' OR agent_key_id::text = $5)
		ORDER BY created_at DESC
		LIMIT $6`,
		teamID, f.ToolName, f.LogicalName, f.Decision, f.AgentKeyID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListAuditLogs: %w", err)
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		var l AuditLog
		var redactions []byte
		if err := rows.Scan(&l.ID, &l.TeamID, &l.EnvID, &l.RequestID, &l.AgentKeyID,
			&l.AgentLabel, &l.ToolName, &l.LogicalName, &l.ToolVersion, &l.BackendType,
			&l.Decision, &l.StatusCode, &l.LatencyMs, &redactions, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListAuditLogs: %w", err)
		}
		l.Redactions = json.RawMessage(redactions)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
