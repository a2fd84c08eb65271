package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// UsageRecord is one attempted render unit.
type UsageRecord struct {
	ID           string
	AccountID    string
	CredentialID string
	Endpoint     string
	Status       int
	CreatedAt    time.Time
}

// RequestLog is one inbound API call.
type RequestLog struct {
	ID           string         `json:"id"`
	AccountID    string         `json:"-"`
	CredentialID string         `json:"credentialId,omitempty"`
	Endpoint     string         `json:"endpoint"`
	Method       string         `json:"method"`
	StatusCode   int            `json:"statusCode"`
	LatencyMS    int64          `json:"latencyMs"`
	Error        string         `json:"error,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	ClientIP     string         `json:"clientIp,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Status classes accepted by LogFilter.Status.
const (
	StatusClassSuccess = "success"
	StatusClassError   = "error"
)

// LogFilter selects request logs for one account.
type LogFilter struct {
	AccountID string
	Since     time.Time
	Status    string // "", StatusClassSuccess or StatusClassError
	Limit     int
	Offset    int
}

// InsertUsage stores a usage record, assigning an ID and timestamp when empty.
func (s *Store) InsertUsage(ctx context.Context, r *UsageRecord) error {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO usage_records
		(id, account_id, credential_id, endpoint, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountID, r.CredentialID, r.Endpoint, r.Status, r.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// CountUsageSince counts the account's usage records created at or after since.
func (s *Store) CountUsageSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_records WHERE account_id = ? AND created_at >= ?`,
		accountID, since.Unix()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count usage records: %w", err)
	}
	return n, nil
}

// InsertRequestLog stores a request log, assigning an ID and timestamp when empty.
func (s *Store) InsertRequestLog(ctx context.Context, l *RequestLog) error {
	if l.ID == "" {
		l.ID = ulid.Make().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now().UTC()
	}
	var params string
	if len(l.Params) > 0 {
		data, err := json.Marshal(l.Params)
		if err != nil {
			return fmt.Errorf("encode request log params: %w", err)
		}
		params = string(data)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO request_logs
		(id, account_id, credential_id, endpoint, method, status_code, latency_ms, error, params, client_ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.AccountID, l.CredentialID, l.Endpoint, l.Method, l.StatusCode, l.LatencyMS,
		l.Error, params, l.ClientIP, l.UserAgent, l.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// QueryRequestLogs returns one page of matching logs, newest first, and the
// total number of matches.
func (s *Store) QueryRequestLogs(ctx context.Context, f LogFilter) ([]RequestLog, int, error) {
	var (
		where = []string{"account_id = ?"}
		args  = []any{f.AccountID}
	)
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.Unix())
	}
	switch f.Status {
	case StatusClassSuccess:
		where = append(where, "status_code >= 200 AND status_code < 300")
	case StatusClassError:
		where = append(where, "(status_code >= 400 OR status_code < 200)")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_logs WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count request logs: %w", err)
	}

	query := `SELECT id, account_id, credential_id, endpoint, method, status_code, latency_ms,
		error, params, client_ip, user_agent, created_at
		FROM request_logs WHERE ` + clause + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query request logs: %w", err)
	}
	defer rows.Close()

	logs := make([]RequestLog, 0)
	for rows.Next() {
		var (
			l       RequestLog
			params  string
			created int64
		)
		if err := rows.Scan(&l.ID, &l.AccountID, &l.CredentialID, &l.Endpoint, &l.Method,
			&l.StatusCode, &l.LatencyMS, &l.Error, &params, &l.ClientIP, &l.UserAgent, &created); err != nil {
			return nil, 0, fmt.Errorf("scan request log: %w", err)
		}
		if params != "" {
			if err := json.Unmarshal([]byte(params), &l.Params); err != nil {
				return nil, 0, fmt.Errorf("decode request log params: %w", err)
			}
		}
		l.CreatedAt = time.Unix(created, 0).UTC()
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate request logs: %w", err)
	}
	return logs, total, nil
}
