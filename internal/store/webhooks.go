package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// WebhookConfig is an account's outbound notification target.
type WebhookConfig struct {
	AccountID string
	URL       string
	Enabled   bool
	Secret    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WebhookDelivery is one outbound delivery attempt.
type WebhookDelivery struct {
	ID             string
	AccountID      string
	Event          string
	Payload        string
	ResponseStatus int
	ResponseBody   string
	Success        bool
	CreatedAt      time.Time
}

// GetWebhookConfig returns the account's webhook config, or (nil, nil).
func (s *Store) GetWebhookConfig(ctx context.Context, accountID string) (*WebhookConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT account_id, url, enabled, secret, created_at, updated_at
		FROM webhook_configs WHERE account_id = ?`, accountID)
	var (
		c                WebhookConfig
		enabled          int
		created, updated int64
	)
	if err := row.Scan(&c.AccountID, &c.URL, &enabled, &c.Secret, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook config: %w", err)
	}
	c.Enabled = enabled != 0
	c.CreatedAt = time.Unix(created, 0).UTC()
	c.UpdatedAt = time.Unix(updated, 0).UTC()
	return &c, nil
}

// SaveWebhookConfig inserts or replaces the account's webhook config.
func (s *Store) SaveWebhookConfig(ctx context.Context, c *WebhookConfig) error {
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if _, err := s.db.ExecContext(ctx, `INSERT INTO webhook_configs
		(account_id, url, enabled, secret, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			url = excluded.url,
			enabled = excluded.enabled,
			secret = excluded.secret,
			updated_at = excluded.updated_at`,
		c.AccountID, c.URL, boolToInt(c.Enabled), c.Secret, c.CreatedAt.Unix(), c.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("save webhook config: %w", err)
	}
	return nil
}

// DeleteWebhookConfig removes the account's webhook config, secret included.
func (s *Store) DeleteWebhookConfig(ctx context.Context, accountID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM webhook_configs WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("delete webhook config: %w", err)
	}
	return nil
}

// InsertWebhookDelivery records a delivery attempt.
func (s *Store) InsertWebhookDelivery(ctx context.Context, d *WebhookDelivery) error {
	if d.ID == "" {
		d.ID = ulid.Make().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO webhook_deliveries
		(id, account_id, event, payload, response_status, response_body, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AccountID, d.Event, d.Payload, d.ResponseStatus, d.ResponseBody,
		boolToInt(d.Success), d.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// ListWebhookDeliveries returns the account's most recent deliveries, newest first.
func (s *Store) ListWebhookDeliveries(ctx context.Context, accountID string, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, account_id, event, payload, response_status, response_body, success, created_at
		FROM webhook_deliveries WHERE account_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	defer rows.Close()

	var out []WebhookDelivery
	for rows.Next() {
		var (
			d       WebhookDelivery
			success int
			created int64
		)
		if err := rows.Scan(&d.ID, &d.AccountID, &d.Event, &d.Payload, &d.ResponseStatus,
			&d.ResponseBody, &success, &created); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		d.Success = success != 0
		d.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}
