package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Backend types.
const (
	ToolTypeHTTP = "http"
	ToolTypeMCP  = "mcp"
)

// Tool represents one version of a logical tool in the tools table.
type Tool struct {
	ID               string
	TeamID           string
	EnvID            string
	LogicalName      string
	Version          string
	DisplayName      string
	IsActive         bool
	Type             string // "http" or "mcp"
	Method           string // GET, POST, PUT, PATCH, DELETE
	URLTemplate      string
	HeadersJSON      json.RawMessage // nullable JSONB object of header overrides
	MCPToolName      *string
	AllowAllAgents   bool
	RedactionEnabled bool
	InputSchemaJSON  json.RawMessage // nullable JSON Schema for the invocation input
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateToolParams holds the fields for a new tool version. Nil pointers take
// the column defaults; IsActive nil means "active if this is the first version".
type CreateToolParams struct {
	TeamID           string
	EnvID            string
	LogicalName      string
	Version          string
	DisplayName      string
	Type             *string
	Method           *string
	URLTemplate      string
	HeadersJSON      json.RawMessage
	MCPToolName      *string
	AllowAllAgents   *bool
	RedactionEnabled *bool
	InputSchemaJSON  json.RawMessage
	IsActive         *bool
}

// UpdateToolParams holds optional fields for partial tool updates.
type UpdateToolParams struct {
	DisplayName      *string
	Method           *string
	URLTemplate      *string
	HeadersJSON      json.RawMessage // nil = don't change
	MCPToolName      *string
	AllowAllAgents   *bool
	RedactionEnabled *bool
	InputSchemaJSON  json.RawMessage // nil = don't change
}

const toolColumns = `id, team_id, env_id, logical_name, version, display_name, is_active,
	type, method, url_template, headers_json, mcp_tool_name, allow_all_agents,
	redaction_enabled, input_schema_json, created_at, updated_at`

func scanTool(row rowScanner) (*Tool, error) {
	var t Tool
	var headers, schema []byte
	if err := row.Scan(&t.ID, &t.TeamID, &t.EnvID, &t.LogicalName, &t.Version, &t.DisplayName,
		&t.IsActive, &t.Type, &t.Method, &t.URLTemplate, &headers, &t.MCPToolName,
		&t.AllowAllAgents, &t.RedactionEnabled, &schema, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.HeadersJSON = rawOrNil(headers)
	t.InputSchemaJSON = rawOrNil(schema)
	return &t, nil
}

// FindActiveTool returns the active version of logicalName in the environment, or nil.
func (s *Store) FindActiveTool(ctx context.Context, teamID, envID, logicalName string) (*Tool, error) {
	t, err := scanTool(s.db.QueryRowContext(ctx, `
		SELECT `+toolColumns+` FROM tools
		WHERE team_id = $1 AND env_id = $2 AND logical_name = $3 AND is_active
		LIMIT 1`, teamID, envID, logicalName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindActiveTool: %w", err)
	}
	return t, nil
}

// GetTool returns a tool of the team by id, or nil if not found.
func (s *Store) GetTool(ctx context.Context, teamID, id string) (*Tool, error) {
	t, err := scanTool(s.db.QueryRowContext(ctx, `
		SELECT `+toolColumns+` FROM tools
		WHERE id = $1 AND team_id = $2`, id, teamID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetTool: %w", err)
	}
	return t, nil
}

// ListTools returns the team's tools, optionally restricted to one environment.
func (s *Store) ListTools(ctx context.Context, teamID, envID string) ([]*Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+toolColumns+` FROM tools
		WHERE team_id = $1 AND ($2 = '' OR env_id::text = $2)
		ORDER BY logical_name, created_at DESC`, teamID, envID)
	if err != nil {
		return nil, fmt.Errorf("ListTools: %w", err)
	}
	defer rows.Close()

	var tools []*Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("ListTools: %w", err)
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

// CreateTool inserts a new tool version. When the new version is active, its
// siblings are deactivated in the same transaction.
func (s *Store) CreateTool(ctx context.Context, p CreateToolParams) (*Tool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateTool: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM tools
		WHERE team_id = $1 AND env_id = $2 AND logical_name = $3`,
		p.TeamID, p.EnvID, p.LogicalName,
	).Scan(&existing)
	if err != nil {
		return nil, fmt.Errorf("CreateTool: %w", err)
	}

	active := existing == 0
	if p.IsActive != nil {
		active = *p.IsActive
	}
	if active {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tools SET is_active = false, updated_at = now()
			WHERE team_id = $1 AND env_id = $2 AND logical_name = $3 AND is_active`,
			p.TeamID, p.EnvID, p.LogicalName); err != nil {
			return nil, fmt.Errorf("CreateTool: %w", err)
		}
	}

	t, err := scanTool(tx.QueryRowContext(ctx, `
		INSERT INTO tools (team_id, env_id, logical_name, version, display_name, is_active,
		                   type, method, url_template, headers_json, mcp_tool_name,
		                   allow_all_agents, redaction_enabled, input_schema_json)
		VALUES ($1, $2, $3, $4, $5, $6,
		        COALESCE($7, 'http'), COALESCE($8, 'POST'), $9, $10, $11,
		        COALESCE($12, true), COALESCE($13, true), $14)
		RETURNING `+toolColumns,
		p.TeamID, p.EnvID, p.LogicalName, p.Version, p.DisplayName, active,
		p.Type, p.Method, p.URLTemplate, nullableRaw(p.HeadersJSON), p.MCPToolName,
		p.AllowAllAgents, p.RedactionEnabled, nullableRaw(p.InputSchemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("CreateTool: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("CreateTool: %w", err)
	}
	return t, nil
}

// UpdateTool applies a partial update to a tool version. Only non-nil fields are changed.
func (s *Store) UpdateTool(ctx context.Context, teamID, id string, p UpdateToolParams) (*Tool, error) {
	t, err := scanTool(s.db.QueryRowContext(ctx, `
		UPDATE tools SET
			display_name      = COALESCE($3, display_name),
			method            = COALESCE($4, method),
			url_template      = COALESCE($5, url_template),
			headers_json      = COALESCE($6, headers_json),
			mcp_tool_name     = COALESCE($7, mcp_tool_name),
			allow_all_agents  = COALESCE($8, allow_all_agents),
			redaction_enabled = COALESCE($9, redaction_enabled),
			input_schema_json = COALESCE($10, input_schema_json),
			updated_at        = now()
		WHERE id = $1 AND team_id = $2
		RETURNING `+toolColumns,
		id, teamID, p.DisplayName, p.Method, p.URLTemplate, nullableRaw(p.HeadersJSON),
		p.MCPToolName, p.AllowAllAgents, p.RedactionEnabled, nullableRaw(p.InputSchemaJSON)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateTool: %w", err)
	}
	return t, nil
}

// ActivateTool makes the given version the only active version of its logical
// name. Sibling rows are locked so concurrent activations serialize.
func (s *Store) ActivateTool(ctx context.Context, teamID, id string) (*Tool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ActivateTool: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var envID, logicalName string
	err = tx.QueryRowContext(ctx, `
		SELECT env_id, logical_name FROM tools
		WHERE id = $1 AND team_id = $2
		FOR UPDATE`, id, teamID,
	).Scan(&envID, &logicalName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ActivateTool: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		SELECT id FROM tools
		WHERE team_id = $1 AND env_id = $2 AND logical_name = $3
		FOR UPDATE`, teamID, envID, logicalName); err != nil {
		return nil, fmt.Errorf("ActivateTool: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tools SET is_active = false, updated_at = now()
		WHERE team_id = $1 AND env_id = $2 AND logical_name = $3 AND id <> $4 AND is_active`,
		teamID, envID, logicalName, id); err != nil {
		return nil, fmt.Errorf("ActivateTool: %w", err)
	}

	t, err := scanTool(tx.QueryRowContext(ctx, `
		UPDATE tools SET is_active = true, updated_at = now()
		WHERE id = $1 AND team_id = $2
		RETURNING `+toolColumns, id, teamID))
	if err != nil {
		return nil, fmt.Errorf("ActivateTool: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ActivateTool: %w", err)
	}
	return t, nil
}

// DeactivateTool clears is_active on a version. The logical name then has no active version.
func (s *Store) DeactivateTool(ctx context.Context, teamID, id string) (*Tool, error) {
	t, err := scanTool(s.db.QueryRowContext(ctx, `
		UPDATE tools SET is_active = false, updated_at = now()
		WHERE id = $1 AND team_id = $2
		RETURNING `+toolColumns, id, teamID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("DeactivateTool: %w", err)
	}
	return t, nil
}

// DeleteTool deletes a tool version and returns it. Policies cascade; aliases do not.
func (s *Store) DeleteTool(ctx context.Context, teamID, id string) (*Tool, error) {
	t, err := scanTool(s.db.QueryRowContext(ctx, `
		DELETE FROM tools WHERE id = $1 AND team_id = $2
		RETURNING `+toolColumns, id, teamID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("DeleteTool: %w", err)
	}
	return t, nil
}
