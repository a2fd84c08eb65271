package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Subscription statuses.
const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
)

// Account is the owner of credentials, usage and webhook configuration.
type Account struct {
	ID        string
	Email     string
	Active    bool
	CreatedAt time.Time
}

// Subscription binds an account to a plan tier.
type Subscription struct {
	ID        string
	AccountID string
	Tier      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateAccount inserts a new account, assigning an ID when empty.
func (s *Store) CreateAccount(ctx context.Context, a *Account) error {
	if a == nil {
		return fmt.Errorf("account is nil")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, active, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.Email, boolToInt(a.Active), a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID. Returns (nil, nil) when absent.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, active, created_at FROM accounts WHERE id = ?`, id)
	var (
		a       Account
		active  int
		created int64
	)
	if err := row.Scan(&a.ID, &a.Email, &active, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.Active = active != 0
	a.CreatedAt = time.Unix(created, 0).UTC()
	return &a, nil
}

// SetAccountActive flips the account's active flag.
func (s *Store) SetAccountActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivateSubscription cancels any active subscription for the account and
// starts a new active one on tier, so at most one plan is active at a time.
func (s *Store) ActivateSubscription(ctx context.Context, accountID, tier string) (*Subscription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin activate subscription: %w", err)
	}
	defer rollback(tx)

	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE account_id = ? AND status = ?`,
		SubscriptionCanceled, now.Unix(), accountID, SubscriptionActive); err != nil {
		return nil, fmt.Errorf("cancel previous subscription: %w", err)
	}

	sub := &Subscription{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Tier:      tier,
		Status:    SubscriptionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions (id, account_id, tier, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.AccountID, sub.Tier, sub.Status, now.Unix(), now.Unix()); err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit subscription: %w", err)
	}
	return sub, nil
}

// CancelSubscription marks the account's active subscription as canceled.
func (s *Store) CancelSubscription(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE account_id = ? AND status = ?`,
		SubscriptionCanceled, s.now().UTC().Unix(), accountID, SubscriptionActive)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

// ActiveSubscription returns the account's active subscription, or (nil, nil).
func (s *Store) ActiveSubscription(ctx context.Context, accountID string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, account_id, tier, status, created_at, updated_at
		FROM subscriptions WHERE account_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`, accountID, SubscriptionActive)
	var (
		sub              Subscription
		created, updated int64
	)
	if err := row.Scan(&sub.ID, &sub.AccountID, &sub.Tier, &sub.Status, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	sub.CreatedAt = time.Unix(created, 0).UTC()
	sub.UpdatedAt = time.Unix(updated, 0).UTC()
	return &sub, nil
}
