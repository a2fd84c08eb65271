package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/rcourtman/pdfforge/internal/auth"
	"github.com/rcourtman/pdfforge/internal/batch"
	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/metrics"
	"github.com/rcourtman/pdfforge/internal/quota"
	"github.com/rcourtman/pdfforge/internal/render"
	"github.com/rcourtman/pdfforge/internal/usage"
	"github.com/rcourtman/pdfforge/internal/webhooks"
)

type batchRequest struct {
	Items []render.Item `json:"items"`
	Batch []render.Item `json:"batch"`
}

type batchResponse struct {
	Total   int                `json:"total"`
	Success int                `json:"success"`
	Failed  int                `json:"failed"`
	Results []batch.ItemResult `json:"results"`
	Archive string             `json:"archive"`
}

func (r *Router) handleRender(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	p := principal(req)

	var item render.Item
	if err := decodeJSON(w, req, &item); err != nil {
		writeError(w, req, err)
		return
	}
	if a := auditFromContext(ctx); a != nil {
		a.params = usage.SanitizeParams(item.Content, item.Source, 0, item.Options)
	}
	if _, err := render.Validate(item); err != nil {
		writeError(w, req, err)
		return
	}

	res, ok := r.reserve(w, req, p, 1)
	if !ok {
		return
	}
	defer res.Release()

	out := r.Dispatcher.RenderOne(ctx, r.Engine, item)
	res.Commit(func() {
		r.Recorder.RecordUsage(ctx, p.ID, p.CredentialID, routeRender, out.Success)
	})

	var events []webhooks.Event
	if out.Success {
		events = append(events, webhooks.Event{Name: webhooks.EventPDFGenerated, Data: map[string]any{
			"size":        len(out.Data),
			"duration_ms": out.Duration.Milliseconds(),
		}})
	} else {
		events = append(events, webhooks.Event{Name: webhooks.EventPDFFailed, Data: map[string]any{
			"error":       out.ErrorMessage(),
			"duration_ms": out.Duration.Milliseconds(),
		}})
	}
	r.notify(p, appendThreshold(events, res))

	if !out.Success {
		writeError(w, req, out.Err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="document.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

func (r *Router) handleBatch(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	p := principal(req)

	var body batchRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeError(w, req, err)
		return
	}
	items := body.Items
	if len(items) == 0 {
		items = body.Batch
	}
	if a := auditFromContext(ctx); a != nil {
		a.params = usage.SanitizeParams("", "", len(items), nil)
	}
	if err := r.Batches.Validate(len(items), p.Tier); err != nil {
		writeError(w, req, err)
		return
	}

	reservation, ok := r.reserve(w, req, p, len(items))
	if !ok {
		return
	}
	defer reservation.Release()

	res, err := r.Batches.Run(ctx, items, p.Tier)
	if err != nil {
		writeError(w, req, err)
		return
	}

	reservation.Commit(func() {
		for _, item := range res.Results {
			r.Recorder.RecordUsage(ctx, p.ID, p.CredentialID, routeBatch, item.Success)
		}
	})

	events := make([]webhooks.Event, 0, len(res.Results)+2)
	for _, item := range res.Results {
		events = append(events, itemEvent(item))
	}
	events = appendThreshold(events, reservation)
	events = append(events, webhooks.Event{Name: webhooks.EventBatchCompleted, Data: map[string]any{
		"total":   res.Total,
		"success": res.SuccessCount,
		"failed":  res.FailureCount,
		"results": res.Results,
	}})
	r.notify(p, events)

	h := w.Header()
	h.Set("X-Batch-Total", strconv.Itoa(res.Total))
	h.Set("X-Batch-Success", strconv.Itoa(res.SuccessCount))
	h.Set("X-Batch-Failed", strconv.Itoa(res.FailureCount))

	if wantsJSON(req) {
		writeJSON(w, http.StatusOK, batchResponse{
			Total:   res.Total,
			Success: res.SuccessCount,
			Failed:  res.FailureCount,
			Results: res.Results,
			Archive: base64.StdEncoding.EncodeToString(res.Archive),
		})
		return
	}

	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", `attachment; filename="pdfs.zip"`)
	h.Set("Content-Length", strconv.Itoa(len(res.Archive)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Archive)
}

// reserve admits requested units against the monthly quota and writes the
// error response when the request is refused.
func (r *Router) reserve(w http.ResponseWriter, req *http.Request, p auth.Principal, requested int) (*quota.Reservation, bool) {
	res, err := r.Quota.Reserve(req.Context(), p.ID, p.Tier, requested)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindQuotaExceeded {
			metrics.QuotaRejections.WithLabelValues(string(p.Tier)).Inc()
		}
		writeError(w, req, err)
		return nil, false
	}
	return res, true
}

// appendThreshold adds usage.threshold when the reserved units moved the
// account across a warning mark.
func appendThreshold(events []webhooks.Event, res *quota.Reservation) []webhooks.Event {
	t := quota.Crossed(res.Used, res.Post(), res.Limit)
	if t == 0 {
		return events
	}
	return append(events, webhooks.Event{Name: webhooks.EventUsageThreshold, Data: map[string]any{
		"threshold": t,
		"current":   res.Post(),
		"limit":     res.Limit,
	}})
}

// itemEvent is the per-unit event for one batch item.
func itemEvent(item batch.ItemResult) webhooks.Event {
	data := map[string]any{
		"index":       item.Index,
		"filename":    item.OutputName,
		"duration_ms": item.Duration.Milliseconds(),
	}
	if !item.Success {
		data["error"] = item.Error
		return webhooks.Event{Name: webhooks.EventPDFFailed, Data: data}
	}
	data["size"] = len(item.Data)
	return webhooks.Event{Name: webhooks.EventPDFGenerated, Data: data}
}

// notify queues events for delivery in order. Plans without webhooks get none.
func (r *Router) notify(p auth.Principal, events []webhooks.Event) {
	if r.Notifier == nil || !r.Plans.Get(p.Tier).Webhooks {
		return
	}
	r.Notifier.NotifyAllAsync(p.ID, events)
}
