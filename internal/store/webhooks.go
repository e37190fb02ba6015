package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Webhook represents a row in the audit_webhooks table.
type Webhook struct {
	ID        string
	TeamID    string
	Name      string
	URL       string
	IsEnabled bool
	CreatedAt time.Time
}

// UpdateWebhookParams holds optional fields for partial webhook updates.
type UpdateWebhookParams struct {
	Name      *string
	URL       *string
	IsEnabled *bool
}

const webhookColumns = `id, team_id, name, url, is_enabled, created_at`

func scanWebhook(row rowScanner) (*Webhook, error) {
	var w Webhook
	if err := row.Scan(&w.ID, &w.TeamID, &w.Name, &w.URL, &w.IsEnabled, &w.CreatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) queryWebhooks(ctx context.Context, op, query string, args ...any) ([]*Webhook, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var hooks []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

// ListWebhooks returns all webhooks of the team.
func (s *Store) ListWebhooks(ctx context.Context, teamID string) ([]*Webhook, error) {
	return s.queryWebhooks(ctx, "ListWebhooks", `
		SELECT `+webhookColumns+` FROM audit_webhooks
		WHERE team_id = $1 ORDER BY created_at`, teamID)
}

// ListEnabledWebhooks returns the team's webhooks that should receive audit events.
func (s *Store) ListEnabledWebhooks(ctx context.Context, teamID string) ([]*Webhook, error) {
	return s.queryWebhooks(ctx, "ListEnabledWebhooks", `
		SELECT `+webhookColumns+` FROM audit_webhooks
		WHERE team_id = $1 AND is_enabled ORDER BY created_at`, teamID)
}

// CreateWebhook inserts an enabled webhook.
func (s *Store) CreateWebhook(ctx context.Context, teamID, name, url string) (*Webhook, error) {
	w, err := scanWebhook(s.db.QueryRowContext(ctx, `
		INSERT INTO audit_webhooks (team_id, name, url) VALUES ($1, $2, $3)
		RETURNING `+webhookColumns, teamID, name, url))
	if err != nil {
		return nil, fmt.Errorf("CreateWebhook: %w", err)
	}
	return w, nil
}

// UpdateWebhook applies a partial update. Only non-nil fields are changed.
func (s *Store) UpdateWebhook(ctx context.Context, teamID, id string, p UpdateWebhookParams) (*Webhook, error) {
	w, err := scanWebhook(s.db.QueryRowContext(ctx, `
		UPDATE audit_webhooks SET
			name       = COALESCE($3, name),
			url        = COALESCE($4, url),
			is_enabled = COALESCE($5, is_enabled)
		WHERE id = $1 AND team_id = $2
		RETURNING `+webhookColumns, id, teamID, p.Name, p.URL, p.IsEnabled))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateWebhook: %w", err)
	}
	return w, nil
}

// DeleteWebhook deletes a webhook of the team.
func (s *Store) DeleteWebhook(ctx context.Context, teamID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM audit_webhooks WHERE id = $1 AND team_id = $2`, id, teamID)
	if err != nil {
		return fmt.Errorf("DeleteWebhook: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
