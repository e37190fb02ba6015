package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Environment names.
const (
	EnvStaging = "staging"
	EnvProd    = "prod"
)

// Team represents a row in the teams table.
type Team struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Environment represents a row in the environments table.
type Environment struct {
	ID        string
	TeamID    string
	Name      string
	CreatedAt time.Time
}

// CreateTeam inserts a team together with its staging and prod environments.
func (s *Store) CreateTeam(ctx context.Context, name string) (*Team, []*Environment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("CreateTeam: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var t Team
	err = tx.QueryRowContext(ctx, `
		INSERT INTO teams (name) VALUES ($1)
		RETURNING id, name, created_at`, name,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("CreateTeam: %w", err)
	}

	var envs []*Environment
	for _, envName := range []string{EnvStaging, EnvProd} {
		var e Environment
		err = tx.QueryRowContext(ctx, `
			INSERT INTO environments (team_id, name) VALUES ($1, $2)
			RETURNING id, team_id, name, created_at`, t.ID, envName,
		).Scan(&e.ID, &e.TeamID, &e.Name, &e.CreatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("CreateTeam: %w", err)
		}
		envs = append(envs, &e)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("CreateTeam: %w", err)
	}
	return &t, envs, nil
}

// GetTeam returns a team by id, or nil if not found.
func (s *Store) GetTeam(ctx context.Context, id string) (*Team, error) {
	var t Team
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM teams WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetTeam: %w", err)
	}
	return &t, nil
}

// FindTeamByName returns the first team with the given name, or nil if none exists.
func (s *Store) FindTeamByName(ctx context.Context, name string) (*Team, error) {
	var t Team
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM teams
		WHERE name = $1 ORDER BY created_at LIMIT 1`, name,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindTeamByName: %w", err)
	}
	return &t, nil
}

// ListEnvironments returns the environments of a team ordered by name.
func (s *Store) ListEnvironments(ctx context.Context, teamID string) ([]*Environment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, name, created_at FROM environments
		WHERE team_id = $1 ORDER BY name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("ListEnvironments: %w", err)
	}
	defer rows.Close()

	var envs []*Environment
	for rows.Next() {
		var e Environment
		if err := rows.Scan(&e.ID, &e.TeamID, &e.Name, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListEnvironments: %w", err)
		}
		envs = append(envs, &e)
	}
	return envs, rows.Err()
}

// GetEnvironment returns an environment of the team, or nil if not found.
func (s *Store) GetEnvironment(ctx context.Context, teamID, envID string) (*Environment, error) {
	var e Environment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, name, created_at FROM environments
		WHERE id = $1 AND team_id = $2`, envID, teamID,
	).Scan(&e.ID, &e.TeamID, &e.Name, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetEnvironment: %w", err)
	}
	return &e, nil
}

// GetEnvironmentByName returns the team's environment called name, or nil if not found.
func (s *Store) GetEnvironmentByName(ctx context.Context, teamID, name string) (*Environment, error) {
	var e Environment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, name, created_at FROM environments
		WHERE team_id = $1 AND name = $2`, teamID, name,
	).Scan(&e.ID, &e.TeamID, &e.Name, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetEnvironmentByName: %w", err)
	}
	return &e, nil
}
