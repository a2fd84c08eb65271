// Package render converts HTML or a fetched URL into a PDF and normalises
// every outcome, panics included, into an Outcome record.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/metrics"
)

// DefaultTimeout bounds source resolution plus rendering for one unit.
const DefaultTimeout = 30 * time.Second

// Engine hands out render sessions. Acquiring a session may be expensive.
type Engine interface {
	Acquire(ctx context.Context) (Session, error)
}

// Session renders documents. A session is shared by all units of one request
// and closed exactly once by its owner.
type Session interface {
	Render(ctx context.Context, html string, opts Options) ([]byte, error)
	Close() error
}

// Fetcher resolves a source locator into HTML.
type Fetcher interface {
	Fetch(ctx context.Context, source string) (string, error)
}

// Item is one unit of work. Exactly one of Content or Source must be set.
type Item struct {
	Content    string          `json:"content,omitempty"`
	Source     string          `json:"source,omitempty"`
	OutputName string          `json:"outputName,omitempty"`
	Options    json.RawMessage `json:"options,omitempty"`
}

// UnmarshalJSON accepts html/url/filename as aliases of content/source/outputName.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw struct {
		Content    string          `json:"content"`
		HTML       string          `json:"html"`
		Source     string          `json:"source"`
		URL        string          `json:"url"`
		OutputName string          `json:"outputName"`
		Filename   string          `json:"filename"`
		Options    json.RawMessage `json:"options"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*it = Item{
		Content:    firstNonEmpty(raw.Content, raw.HTML),
		Source:     firstNonEmpty(raw.Source, raw.URL),
		OutputName: firstNonEmpty(raw.OutputName, raw.Filename),
		Options:    raw.Options,
	}
	return nil
}

// Outcome is the normalised result of rendering one Item.
type Outcome struct {
	Success  bool
	Data     []byte
	Err      error
	Duration time.Duration
}

// ErrorMessage returns a client-safe description of the failure.
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	var appErr *apperrors.Error
	if apperrors.As(o.Err, &appErr) && appErr.Kind != apperrors.KindInternal {
		return appErr.Message
	}
	return "Failed to generate PDF"
}

// Dispatcher renders single units against a session.
type Dispatcher struct {
	fetcher Fetcher
	timeout time.Duration
}

// NewDispatcher creates a Dispatcher. A non-positive timeout selects DefaultTimeout.
func NewDispatcher(fetcher Fetcher, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{fetcher: fetcher, timeout: timeout}
}

// Timeout returns the per-unit deadline.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Render renders item with session. It never panics and never returns an
// error; failures are reported in the Outcome.
func (d *Dispatcher) Render(ctx context.Context, session Session, item Item) (out Outcome) {
	const op = "render_item"
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic while rendering")
			out = Outcome{Err: apperrors.Internal(op, fmt.Errorf("panic: %v", r))}
		}
		out.Duration = time.Since(start)
		metrics.RecordRender(out.Success, out.Duration)
	}()

	opts, err := Validate(item)
	if err != nil {
		return Outcome{Err: err}
	}
	source := strings.TrimSpace(item.Source)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	html := item.Content
	if source != "" {
		if d.fetcher == nil {
			return Outcome{Err: apperrors.InvalidInput(op, "source rendering is not available")}
		}
		html, err = d.fetcher.Fetch(ctx, source)
		if err != nil {
			return Outcome{Err: classify(op, "Failed to load source", err)}
		}
	}

	data, err := session.Render(ctx, html, opts)
	if err != nil {
		return Outcome{Err: classify(op, "Failed to generate PDF", err)}
	}
	if len(data) == 0 {
		return Outcome{Err: apperrors.New(apperrors.KindRenderFailure, op, "Renderer returned an empty document")}
	}
	return Outcome{Success: true, Data: data}
}

// Validate checks that item names exactly one of content or source and that
// its options parse.
func Validate(item Item) (Options, error) {
	const op = "validate_item"
	content := strings.TrimSpace(item.Content)
	source := strings.TrimSpace(item.Source)
	switch {
	case content == "" && source == "":
		return Options{}, apperrors.InvalidInput(op, "Either content or source is required")
	case content != "" && source != "":
		return Options{}, apperrors.InvalidInput(op, "Provide only one of content or source")
	}
	return ParseOptions(item.Options)
}

// RenderOne acquires a session, renders item and releases the session.
func (d *Dispatcher) RenderOne(ctx context.Context, engine Engine, item Item) Outcome {
	session, err := engine.Acquire(ctx)
	if err != nil {
		out := Outcome{Err: classify("acquire_session", "Renderer unavailable", err)}
		metrics.RecordRender(false, 0)
		return out
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release render session")
		}
	}()
	return d.Render(ctx, session, item)
}

// classify keeps typed errors and turns everything else into a render failure.
func classify(op, message string, err error) error {
	var appErr *apperrors.Error
	if apperrors.As(err, &appErr) {
		return err
	}
	if apperrors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindRenderFailure, op, message+": timed out", err)
	}
	return apperrors.Wrap(apperrors.KindRenderFailure, op, message, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
