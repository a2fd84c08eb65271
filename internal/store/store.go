// Package store persists accounts, credentials, usage, request logs and
// webhook state in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

var (
	// ErrNotFound is returned when a record owned by the caller does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrLastActiveCredential is returned when a change would leave an account
	// without any active credential.
	ErrLastActiveCredential = errors.New("cannot remove the last active credential")
	// ErrCredentialCeiling is returned when an account already holds the maximum
	// number of credentials for its plan.
	ErrCredentialCeiling = errors.New("credential limit reached")
)

// Store wraps the SQLite handle. All methods are safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL DEFAULT '',
		active     INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email) WHERE email != '';

	CREATE TABLE IF NOT EXISTS subscriptions (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		tier       TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_account ON subscriptions(account_id, status);

	CREATE TABLE IF NOT EXISTS credentials (
		id           TEXT PRIMARY KEY,
		account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		name         TEXT NOT NULL DEFAULT '',
		secret_hash  TEXT NOT NULL UNIQUE,
		prefix       TEXT NOT NULL DEFAULT '',
		suffix       TEXT NOT NULL DEFAULT '',
		active       INTEGER NOT NULL DEFAULT 1,
		created_at   INTEGER NOT NULL,
		last_used_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_credentials_account ON credentials(account_id);

	CREATE TABLE IF NOT EXISTS usage_records (
		id            TEXT PRIMARY KEY,
		account_id    TEXT NOT NULL,
		credential_id TEXT NOT NULL DEFAULT '',
		endpoint      TEXT NOT NULL,
		status        INTEGER NOT NULL,
		created_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_account_time ON usage_records(account_id, created_at);

	CREATE TABLE IF NOT EXISTS request_logs (
		id            TEXT PRIMARY KEY,
		account_id    TEXT NOT NULL,
		credential_id TEXT NOT NULL DEFAULT '',
		endpoint      TEXT NOT NULL,
		method        TEXT NOT NULL,
		status_code   INTEGER NOT NULL,
		latency_ms    INTEGER NOT NULL,
		error         TEXT NOT NULL DEFAULT '',
		params        TEXT NOT NULL DEFAULT '',
		client_ip     TEXT NOT NULL DEFAULT '',
		user_agent    TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_request_logs_account_time ON request_logs(account_id, created_at);

	CREATE TABLE IF NOT EXISTS webhook_configs (
		account_id TEXT PRIMARY KEY,
		url        TEXT NOT NULL DEFAULT '',
		enabled    INTEGER NOT NULL DEFAULT 0,
		secret     TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id              TEXT PRIMARY KEY,
		account_id      TEXT NOT NULL,
		event           TEXT NOT NULL,
		payload         TEXT NOT NULL,
		response_status INTEGER NOT NULL,
		response_body   TEXT NOT NULL DEFAULT '',
		success         INTEGER NOT NULL,
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_account_time ON webhook_deliveries(account_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init store schema: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported version %d", current, schemaVersion)
	}
	if current < schemaVersion {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
			schemaVersion, time.Now().Unix()); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		log.Info().Int("from", current).Int("to", schemaVersion).Msg("Store schema initialised")
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

func timeFromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Warn().Err(err).Msg("Store transaction rollback failed")
	}
}
