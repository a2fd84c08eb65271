// Package webhooks delivers signed event notifications to account-configured
// HTTPS endpoints and manages the per-account webhook configuration.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/rcourtman/pdfforge/internal/metrics"
	"github.com/rcourtman/pdfforge/internal/store"
)

// Event types.
const (
	EventPDFGenerated   = "pdf.generated"
	EventPDFFailed      = "pdf.failed"
	EventBatchCompleted = "batch.completed"
	EventUsageThreshold = "usage.threshold"
)

const (
	// DefaultTimeout bounds one delivery attempt.
	DefaultTimeout = 10 * time.Second
	// DefaultInFlight bounds concurrent detached deliveries.
	DefaultInFlight = 16

	userAgent       = "PDFForge-Webhooks/1.0"
	maxResponseBody = 500
	recordTimeout   = 5 * time.Second
)

// Store is the persistence the notifier needs.
type Store interface {
	GetWebhookConfig(ctx context.Context, accountID string) (*store.WebhookConfig, error)
	InsertWebhookDelivery(ctx context.Context, d *store.WebhookDelivery) error
}

// Payload is the JSON body posted to the endpoint.
type Payload struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Notifier posts events. Delivery is attempted once; failures are recorded,
// never retried.
type Notifier struct {
	store   Store
	client  *http.Client
	timeout time.Duration
	sem     *semaphore.Weighted
	now     func() time.Time

	wg sync.WaitGroup
}

// NewNotifier creates a Notifier. Non-positive timeout and inFlight select
// the defaults.
func NewNotifier(s Store, client *http.Client, timeout time.Duration, inFlight int) *Notifier {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if inFlight <= 0 {
		inFlight = DefaultInFlight
	}
	return &Notifier{
		store:   s,
		client:  client,
		timeout: timeout,
		sem:     semaphore.NewWeighted(int64(inFlight)),
		now:     time.Now,
	}
}

// Notify delivers one event synchronously. It returns (nil, nil) when the
// account has no enabled webhook. The returned delivery describes the attempt;
// the error reports only a failure to load the configuration.
func (n *Notifier) Notify(ctx context.Context, principalID, event string, data any) (*store.WebhookDelivery, error) {
	cfg, err := n.store.GetWebhookConfig(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("load webhook config: %w", err)
	}
	if cfg == nil || !cfg.Enabled || cfg.URL == "" {
		return nil, nil
	}

	body, err := json.Marshal(Payload{
		Event:     event,
		Data:      data,
		Timestamp: n.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}

	delivery := &store.WebhookDelivery{
		AccountID: principalID,
		Event:     event,
		Payload:   string(body),
	}
	status, respBody, sendErr := n.send(ctx, cfg, event, body)
	delivery.ResponseStatus = status
	delivery.Success = sendErr == nil
	if sendErr != nil && status == 0 {
		respBody = sendErr.Error()
	}
	delivery.ResponseBody = truncate(respBody, maxResponseBody)

	result := "success"
	if !delivery.Success {
		result = "failure"
		log.Warn().
			Err(sendErr).
			Str("principal_id", principalID).
			Str("event", event).
			Int("status", status).
			Msg("Webhook delivery failed")
	}
	metrics.WebhookDeliveries.WithLabelValues(event, result).Inc()

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := n.store.InsertWebhookDelivery(recordCtx, delivery); err != nil {
		metrics.RecorderFailures.WithLabelValues("webhook_delivery").Inc()
		log.Error().Err(err).Str("principal_id", principalID).Msg("Failed to record webhook delivery")
	}
	return delivery, nil
}

// Event is one notification queued for detached delivery.
type Event struct {
	Name string
	Data any
}

// NotifyAsync delivers event on a detached goroutine. It returns false when
// the in-flight bound is reached and the event was dropped.
func (n *Notifier) NotifyAsync(principalID, event string, data any) bool {
	return n.NotifyAllAsync(principalID, []Event{{Name: event, Data: data}})
}

// NotifyAllAsync delivers events in order on one detached goroutine that
// holds a single in-flight slot. It returns false when the bound is reached
// and every event was dropped.
func (n *Notifier) NotifyAllAsync(principalID string, events []Event) bool {
	if len(events) == 0 {
		return true
	}
	if !n.sem.TryAcquire(1) {
		for _, ev := range events {
			metrics.WebhookDeliveries.WithLabelValues(ev.Name, "dropped").Inc()
		}
		log.Warn().
			Str("principal_id", principalID).
			Str("event", events[0].Name).
			Int("events", len(events)).
			Msg("Webhook delivery dropped: too many deliveries in flight")
		return false
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.sem.Release(1)
		for _, ev := range events {
			if _, err := n.Notify(context.Background(), principalID, ev.Name, ev.Data); err != nil {
				log.Error().Err(err).Str("principal_id", principalID).Str("event", ev.Name).Msg("Webhook notification failed")
				return
			}
		}
	}()
	return true
}

// Close waits for detached deliveries or until ctx is done.
func (n *Notifier) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) send(ctx context.Context, cfg *store.WebhookConfig, event string, body []byte) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set(SignatureHeader, Sign(cfg.Secret, body))

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, string(respBody), fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, string(respBody), nil
}

// truncate caps s at n bytes and drops any partial or invalid UTF-8 left
// behind by the cut or by the read limit.
func truncate(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.ToValidUTF8(s, "")
}
