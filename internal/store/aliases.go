package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ToolAlias maps an alternative name to a logical tool name within one environment.
type ToolAlias struct {
	ID          string
	TeamID      string
	EnvID       string
	Alias       string
	LogicalName string
	CreatedAt   time.Time
}

const aliasColumns = `id, team_id, env_id, alias, logical_name, created_at`

func scanAlias(row rowScanner) (*ToolAlias, error) {
	var a ToolAlias
	if err := row.Scan(&a.ID, &a.TeamID, &a.EnvID, &a.Alias, &a.LogicalName, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// FindAlias returns the alias named alias in the environment, or nil.
func (s *Store) FindAlias(ctx context.Context, teamID, envID, alias string) (*ToolAlias, error) {
	a, err := scanAlias(s.db.QueryRowContext(ctx, `
		SELECT `+aliasColumns+` FROM tool_aliases
		WHERE team_id = $1 AND env_id = $2 AND alias = $3`, teamID, envID, alias))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindAlias: %w", err)
	}
	return a, nil
}

// ListAliases returns the team's aliases, optionally restricted to one environment.
func (s *Store) ListAliases(ctx context.Context, teamID, envID string) ([]*ToolAlias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+aliasColumns+` FROM tool_aliases
		WHERE team_id = $1 AND ($2 = '' OR env_id::text = $2)
		ORDER BY alias`, teamID, envID)
	if err != nil {
		return nil, fmt.Errorf("ListAliases: %w", err)
	}
	defer rows.Close()

	var aliases []*ToolAlias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAliases: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// CreateAlias inserts an alias. The target logical name is not required to exist.
func (s *Store) CreateAlias(ctx context.Context, teamID, envID, alias, logicalName string) (*ToolAlias, error) {
	a, err := scanAlias(s.db.QueryRowContext(ctx, `
		INSERT INTO tool_aliases (team_id, env_id, alias, logical_name)
		VALUES ($1, $2, $3, $4)
		RETURNING `+aliasColumns, teamID, envID, alias, logicalName))
	if err != nil {
		return nil, fmt.Errorf("CreateAlias: %w", err)
	}
	return a, nil
}

// DeleteAlias deletes an alias and returns it, or nil if it did not exist.
func (s *Store) DeleteAlias(ctx context.Context, teamID, id string) (*ToolAlias, error) {
	a, err := scanAlias(s.db.QueryRowContext(ctx, `
		DELETE FROM tool_aliases WHERE id = $1 AND team_id = $2
		RETURNING `+aliasColumns, id, teamID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("DeleteAlias: %w", err)
	}
	return a, nil
}
