// Package usage records metered render units and per-request audit logs, and
// serves the retention-bounded read side of the request log.
package usage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/metrics"
	"github.com/rcourtman/pdfforge/internal/plans"
	"github.com/rcourtman/pdfforge/internal/store"
)

const (
	writeTimeout = 5 * time.Second

	// DefaultPageSize and MaxPageSize bound ListLogs.
	DefaultPageSize = 50
	MaxPageSize     = 100

	recentActivityCount = 10
)

// Store is the persistence the recorder needs.
type Store interface {
	InsertUsage(ctx context.Context, r *store.UsageRecord) error
	InsertRequestLog(ctx context.Context, l *store.RequestLog) error
	QueryRequestLogs(ctx context.Context, f store.LogFilter) ([]store.RequestLog, int, error)
}

// Entry describes one inbound API call.
type Entry struct {
	PrincipalID  string
	CredentialID string
	Endpoint     string
	Method       string
	StatusCode   int
	Latency      time.Duration
	Error        string
	Params       map[string]any
	ClientIP     string
	UserAgent    string
}

// Recorder writes usage records and request logs. Usage records are written
// before the response so quota admission counts them; request logs are
// written off the response path. Write errors never surface to callers.
type Recorder struct {
	store Store
	plans *plans.Table
	now   func() time.Time

	wg sync.WaitGroup
}

// NewRecorder creates a Recorder.
func NewRecorder(s Store, table *plans.Table) *Recorder {
	return &Recorder{store: s, plans: table, now: time.Now}
}

// RecordUsage stores one attempted render unit: status 200 on success, 500 on
// failure. It returns once the write is done; cancelling ctx does not abort it.
func (r *Recorder) RecordUsage(ctx context.Context, principalID, credentialID, endpoint string, success bool) {
	status := 500
	if success {
		status = 200
	}
	rec := &store.UsageRecord{
		AccountID:    principalID,
		CredentialID: credentialID,
		Endpoint:     endpoint,
		Status:       status,
		CreatedAt:    r.now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	r.report("usage", r.store.InsertUsage(ctx, rec))
}

// RecordRequest stores one request log.
func (r *Recorder) RecordRequest(e Entry) {
	rec := &store.RequestLog{
		AccountID:    e.PrincipalID,
		CredentialID: e.CredentialID,
		Endpoint:     e.Endpoint,
		Method:       e.Method,
		StatusCode:   e.StatusCode,
		LatencyMS:    e.Latency.Milliseconds(),
		Error:        e.Error,
		Params:       e.Params,
		ClientIP:     e.ClientIP,
		UserAgent:    e.UserAgent,
		CreatedAt:    r.now().UTC(),
	}
	r.detach("request_log", func(ctx context.Context) error {
		return r.store.InsertRequestLog(ctx, rec)
	})
}

func (r *Recorder) detach(kind string, write func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		r.report(kind, write(ctx))
	}()
}

func (r *Recorder) report(kind string, err error) {
	if err == nil {
		return
	}
	metrics.RecorderFailures.WithLabelValues(kind).Inc()
	log.Error().Err(err).Str("kind", kind).Msg("Failed to record usage")
}

// Close waits for in-flight writes or until ctx is done.
func (r *Recorder) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SanitizeParams reduces a request body to presence flags, a batch size and
// the recognised render options. Document content is never stored.
func SanitizeParams(content, source string, batchSize int, options json.RawMessage) map[string]any {
	params := make(map[string]any, 4)
	if batchSize > 0 {
		params["batchSize"] = batchSize
	} else {
		params["hasContent"] = content != ""
		params["hasSource"] = source != ""
	}
	if opts := sanitizeOptions(options); len(opts) > 0 {
		params["options"] = opts
	}
	return params
}

var loggedOptionKeys = []string{"format", "landscape", "printBackground", "margin"}

func sanitizeOptions(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var in map[string]any
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil
	}
	out := make(map[string]any)
	for _, k := range loggedOptionKeys {
		if v, ok := in[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Query selects a page of request logs.
type Query struct {
	Limit  int
	Offset int
	Status string
}

// LogPage is one page of request logs.
type LogPage struct {
	Logs          []store.RequestLog `json:"logs"`
	Total         int                `json:"total"`
	Limit         int                `json:"limit"`
	Offset        int                `json:"offset"`
	RetentionDays int                `json:"retentionDays"`
}

// ListLogs returns the account's request logs inside its plan's retention window.
func (r *Recorder) ListLogs(ctx context.Context, principalID string, tier plans.Tier, q Query) (*LogPage, error) {
	const op = "list_logs"

	switch q.Status {
	case "", store.StatusClassSuccess, store.StatusClassError:
	default:
		return nil, apperrors.InvalidInput(op, "status must be 'success' or 'error'")
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	retention := r.plans.Get(tier).LogRetentionDays
	logs, total, err := r.store.QueryRequestLogs(ctx, store.LogFilter{
		AccountID: principalID,
		Since:     r.now().AddDate(0, 0, -retention),
		Status:    q.Status,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	if logs == nil {
		logs = []store.RequestLog{}
	}
	return &LogPage{
		Logs:          logs,
		Total:         total,
		Limit:         q.Limit,
		Offset:        q.Offset,
		RetentionDays: retention,
	}, nil
}

// RecentActivity returns the newest request logs for the account summary.
func (r *Recorder) RecentActivity(ctx context.Context, principalID string, tier plans.Tier) ([]store.RequestLog, error) {
	page, err := r.ListLogs(ctx, principalID, tier, Query{Limit: recentActivityCount})
	if err != nil {
		return nil, err
	}
	return page.Logs, nil
}
