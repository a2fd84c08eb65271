// Package batch renders many items against one shared render session and
// packages the successful outputs into a zip archive.
package batch

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"runtime/debug"
	"strings"
	"time"
	"unicode"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/metrics"
	"github.com/rcourtman/pdfforge/internal/plans"
	"github.com/rcourtman/pdfforge/internal/render"
)

// DefaultWorkers is the number of items rendered concurrently per batch.
const DefaultWorkers = 4

const maxNameLength = 200

// ItemResult is the outcome of one batch item. Results are associated with
// their input by Index.
type ItemResult struct {
	Index      int           `json:"index"`
	OutputName string        `json:"filename"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
	Err        error         `json:"-"`
	Data       []byte        `json:"-"`
}

// Result aggregates a whole batch. len(Results) == Total and
// SuccessCount+FailureCount == Total.
type Result struct {
	Results      []ItemResult
	Archive      []byte
	SuccessCount int
	FailureCount int
	Total        int
}

// Orchestrator runs batches.
type Orchestrator struct {
	dispatcher *render.Dispatcher
	engine     render.Engine
	plans      *plans.Table
	workers    int
}

// NewOrchestrator creates an Orchestrator. workers below 1 selects DefaultWorkers.
func NewOrchestrator(dispatcher *render.Dispatcher, engine render.Engine, table *plans.Table, workers int) *Orchestrator {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Orchestrator{
		dispatcher: dispatcher,
		engine:     engine,
		plans:      table,
		workers:    workers,
	}
}

// Validate rejects empty batches and batches above the tier's ceiling.
func (o *Orchestrator) Validate(size int, tier plans.Tier) error {
	const op = "validate_batch"
	if size == 0 {
		return apperrors.InvalidInput(op, "items array is required and must not be empty")
	}
	ceiling := o.plans.Get(tier).BatchCeiling
	if size > ceiling {
		return apperrors.InvalidInput(op, fmt.Sprintf("Maximum %d PDFs per batch request", ceiling)).
			WithDetail("limit", ceiling).
			WithDetail("requested", size)
	}
	return nil
}

// Run validates items, renders them with bounded concurrency on one session
// and builds the archive. Per-item failures are reported in the result; an
// error is returned only when the batch is rejected or no session could be
// acquired.
func (o *Orchestrator) Run(ctx context.Context, items []render.Item, tier plans.Tier) (*Result, error) {
	if err := o.Validate(len(items), tier); err != nil {
		return nil, err
	}

	session, err := o.engine.Acquire(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindRenderFailure, "acquire_session", "Renderer unavailable", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release batch render session")
		}
	}()

	metrics.BatchSize.Observe(float64(len(items)))

	results := make([]ItemResult, len(items))
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i := range items {
		g.Go(func() error {
			results[i] = o.renderItem(ctx, session, i, items[i])
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Results: results, Total: len(items)}
	for _, r := range results {
		if r.Success {
			res.SuccessCount++
		} else {
			res.FailureCount++
		}
	}

	archive, err := buildArchive(results)
	if err != nil {
		return nil, apperrors.Internal("build_archive", err)
	}
	res.Archive = archive

	log.Debug().
		Int("total", res.Total).
		Int("success", res.SuccessCount).
		Int("failed", res.FailureCount).
		Msg("Batch completed")
	return res, nil
}

func (o *Orchestrator) renderItem(ctx context.Context, session render.Session, index int, item render.Item) (res ItemResult) {
	res = ItemResult{Index: index, OutputName: OutputName(item.OutputName, index)}
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int("index", index).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic in batch item")
			res.Success = false
			res.Data = nil
			res.Err = apperrors.Internal("render_batch_item", fmt.Errorf("panic: %v", r))
			res.Error = "Failed to generate PDF"
		}
	}()

	out := o.dispatcher.Render(ctx, session, item)
	res.Success = out.Success
	res.Duration = out.Duration
	if out.Success {
		res.Data = out.Data
		return res
	}
	res.Err = out.Err
	res.Error = out.ErrorMessage()
	return res
}

// OutputName sanitises a client-supplied name into a flat archive entry name
// ending in .pdf. An empty name becomes document_<index+1>.pdf.
func OutputName(name string, index int) string {
	fallback := fmt.Sprintf("document_%d.pdf", index+1)

	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return fallback
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	if len(name) > maxNameLength {
		name = name[:maxNameLength-len(".pdf")] + ".pdf"
	}
	return name
}

// buildArchive writes one entry per successful item in index order. Names
// are not deduplicated; an extractor keeps the later of two equal names.
func buildArchive(results []ItemResult) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	modified := time.Now()
	for _, r := range results {
		if !r.Success {
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     r.OutputName,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, fmt.Errorf("create archive entry %s: %w", r.OutputName, err)
		}
		if _, err := w.Write(r.Data); err != nil {
			return nil, fmt.Errorf("write archive entry %s: %w", r.OutputName, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
