package webhooks

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/plans"
	"github.com/rcourtman/pdfforge/internal/store"
)

const maxDeliveries = 50

// ConfigStore is the persistence the config service needs.
type ConfigStore interface {
	GetWebhookConfig(ctx context.Context, accountID string) (*store.WebhookConfig, error)
	SaveWebhookConfig(ctx context.Context, c *store.WebhookConfig) error
	DeleteWebhookConfig(ctx context.Context, accountID string) error
	ListWebhookDeliveries(ctx context.Context, accountID string, limit int) ([]store.WebhookDelivery, error)
}

// DeliveryView is one recorded delivery attempt as shown to clients.
type DeliveryView struct {
	ID             string          `json:"id"`
	Event          string          `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	ResponseStatus int             `json:"responseStatus"`
	ResponseBody   string          `json:"responseBody,omitempty"`
	Success        bool            `json:"success"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ConfigView is the client-visible configuration. The secret itself is never
// returned after creation.
type ConfigView struct {
	URL       string     `json:"url"`
	Enabled   bool       `json:"enabled"`
	HasSecret bool       `json:"hasSecret"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// ConfigUpdate is a partial update; nil fields are left unchanged.
type ConfigUpdate struct {
	URL     *string
	Enabled *bool
}

// ConfigService manages webhook configuration per account.
type ConfigService struct {
	store ConfigStore
	plans *plans.Table
}

// NewConfigService creates a ConfigService.
func NewConfigService(s ConfigStore, table *plans.Table) *ConfigService {
	return &ConfigService{store: s, plans: table}
}

// Get returns the account's configuration, or an empty view.
func (c *ConfigService) Get(ctx context.Context, principalID string) (ConfigView, error) {
	cfg, err := c.store.GetWebhookConfig(ctx, principalID)
	if err != nil {
		return ConfigView{}, apperrors.Internal("get_webhook_config", err)
	}
	return viewOf(cfg), nil
}

// Set applies u. The returned secret is non-empty only when this call
// generated it, which happens the first time the webhook is enabled.
func (c *ConfigService) Set(ctx context.Context, principalID string, tier plans.Tier, u ConfigUpdate) (ConfigView, string, error) {
	const op = "set_webhook_config"

	if !c.plans.Get(tier).Webhooks {
		return ConfigView{}, "", apperrors.Forbidden(op, "Webhooks are not available on the Starter plan").
			WithDetail("message", "Please upgrade to Professional or Enterprise to use webhooks")
	}
	if u.URL != nil {
		trimmed := strings.TrimSpace(*u.URL)
		if err := validateURL(op, trimmed); err != nil {
			return ConfigView{}, "", err
		}
		u.URL = &trimmed
	}

	cfg, err := c.store.GetWebhookConfig(ctx, principalID)
	if err != nil {
		return ConfigView{}, "", apperrors.Internal(op, err)
	}
	if cfg == nil {
		cfg = &store.WebhookConfig{AccountID: principalID}
	}
	if u.URL != nil {
		cfg.URL = *u.URL
	}
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if cfg.Enabled && cfg.URL == "" {
		return ConfigView{}, "", apperrors.InvalidInput(op, "A webhook URL is required to enable webhooks")
	}

	var generated string
	if cfg.Enabled && cfg.Secret == "" {
		generated, err = generateSecret()
		if err != nil {
			return ConfigView{}, "", apperrors.Internal(op, err)
		}
		cfg.Secret = generated
	}

	if err := c.store.SaveWebhookConfig(ctx, cfg); err != nil {
		return ConfigView{}, "", apperrors.Internal(op, err)
	}
	return viewOf(cfg), generated, nil
}

// Delete clears the URL, disables delivery and removes the secret.
func (c *ConfigService) Delete(ctx context.Context, principalID string) error {
	if err := c.store.DeleteWebhookConfig(ctx, principalID); err != nil {
		return apperrors.Internal("delete_webhook_config", err)
	}
	return nil
}

// Deliveries returns the account's most recent delivery attempts, newest first.
func (c *ConfigService) Deliveries(ctx context.Context, principalID string, limit int) ([]DeliveryView, error) {
	if limit <= 0 || limit > maxDeliveries {
		limit = maxDeliveries
	}
	rows, err := c.store.ListWebhookDeliveries(ctx, principalID, limit)
	if err != nil {
		return nil, apperrors.Internal("list_webhook_deliveries", err)
	}
	out := make([]DeliveryView, 0, len(rows))
	for _, d := range rows {
		payload := json.RawMessage(d.Payload)
		if !json.Valid(payload) {
			payload = nil
		}
		out = append(out, DeliveryView{
			ID:             d.ID,
			Event:          d.Event,
			Payload:        payload,
			ResponseStatus: d.ResponseStatus,
			ResponseBody:   d.ResponseBody,
			Success:        d.Success,
			CreatedAt:      d.CreatedAt,
		})
	}
	return out, nil
}

func validateURL(op, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return apperrors.InvalidInput(op, "Invalid webhook URL")
	}
	if u.Scheme != "https" {
		return apperrors.InvalidInput(op, "Webhook URL must use HTTPS")
	}
	return nil
}

func viewOf(cfg *store.WebhookConfig) ConfigView {
	if cfg == nil {
		return ConfigView{}
	}
	updated := cfg.UpdatedAt
	v := ConfigView{
		URL:       cfg.URL,
		Enabled:   cfg.Enabled,
		HasSecret: cfg.Secret != "",
	}
	if !updated.IsZero() {
		v.UpdatedAt = &updated
	}
	return v
}
