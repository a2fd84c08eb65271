package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Credential is a stored bearer credential. The raw secret is never persisted.
type Credential struct {
	ID         string
	AccountID  string
	Name       string
	SecretHash string
	Prefix     string
	Suffix     string
	Active     bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// CredentialUpdate carries optional changes for UpdateCredential.
type CredentialUpdate struct {
	Name   *string
	Active *bool
}

const credentialColumns = `id, account_id, name, secret_hash, prefix, suffix, active, created_at, last_used_at`

// InsertCredential stores c unless the account already holds ceiling
// credentials. A ceiling of zero or less disables the check.
func (s *Store) InsertCredential(ctx context.Context, c *Credential, ceiling int) error {
	if c == nil {
		return fmt.Errorf("credential is nil")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert credential: %w", err)
	}
	defer rollback(tx)

	if ceiling > 0 {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM credentials WHERE account_id = ?`, c.AccountID).Scan(&count); err != nil {
			return fmt.Errorf("count credentials: %w", err)
		}
		if count >= ceiling {
			return ErrCredentialCeiling
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.Name, c.SecretHash, c.Prefix, c.Suffix,
		boolToInt(c.Active), c.CreatedAt.Unix(), nullableTimeUnix(c.LastUsedAt)); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credential: %w", err)
	}
	return nil
}

// CredentialByHash looks up a credential by its secret hash. Returns (nil, nil) when absent.
func (s *Store) CredentialByHash(ctx context.Context, hash string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE secret_hash = ?`, hash)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// GetCredential returns the account's credential with id, or ErrNotFound.
func (s *Store) GetCredential(ctx context.Context, accountID, id string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ? AND account_id = ?`, id, accountID)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCredentials returns all credentials of an account, oldest first.
func (s *Store) ListCredentials(ctx context.Context, accountID string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE account_id = ? ORDER BY created_at ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCredential applies u to the account's credential. Deactivating the
// last active credential returns ErrLastActiveCredential.
func (s *Store) UpdateCredential(ctx context.Context, accountID, id string, u CredentialUpdate) (*Credential, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update credential: %w", err)
	}
	defer rollback(tx)

	c, err := scanCredential(tx.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ? AND account_id = ?`, id, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if u.Active != nil && !*u.Active && c.Active {
		if err := ensureAnotherActive(ctx, tx, accountID, id); err != nil {
			return nil, err
		}
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Active != nil {
		c.Active = *u.Active
	}

	if _, err := tx.ExecContext(ctx, `UPDATE credentials SET name = ?, active = ? WHERE id = ?`,
		c.Name, boolToInt(c.Active), c.ID); err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credential update: %w", err)
	}
	return c, nil
}

// DeleteCredential removes the account's credential. Deleting the last active
// credential returns ErrLastActiveCredential.
func (s *Store) DeleteCredential(ctx context.Context, accountID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete credential: %w", err)
	}
	defer rollback(tx)

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT active FROM credentials WHERE id = ? AND account_id = ?`, id, accountID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if active != 0 {
		if err := ensureAnotherActive(ctx, tx, accountID, id); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credential delete: %w", err)
	}
	return nil
}

// TouchCredential records the last time a credential authenticated a request.
func (s *Store) TouchCredential(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET last_used_at = ? WHERE id = ?`, at.Unix(), id); err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	return nil
}

func ensureAnotherActive(ctx context.Context, tx *sql.Tx, accountID, excludeID string) error {
	var others int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE account_id = ? AND active = 1 AND id != ?`,
		accountID, excludeID).Scan(&others); err != nil {
		return fmt.Errorf("count active credentials: %w", err)
	}
	if others == 0 {
		return ErrLastActiveCredential
	}
	return nil
}

func scanCredential(row scanner) (*Credential, error) {
	var (
		c        Credential
		active   int
		created  int64
		lastUsed sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.AccountID, &c.Name, &c.SecretHash, &c.Prefix, &c.Suffix,
		&active, &created, &lastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	c.Active = active != 0
	c.CreatedAt = time.Unix(created, 0).UTC()
	c.LastUsedAt = timeFromNullable(lastUsed)
	return &c, nil
}
