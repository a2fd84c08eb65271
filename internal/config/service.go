package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServiceConfig holds all configuration for the rendering API.
type ServiceConfig struct {
	DataDir         string
	BindAddress     string
	Port            int
	MetricsPort     int // 0 disables the metrics listener
	MetricsTimeout  time.Duration
	LogLevel        string
	LogFormat       string
	LogFile         string
	RenderEndpoint  string // empty selects the built-in engine
	RenderTimeout   time.Duration
	FetchTimeout    time.Duration
	BatchWorkers    int
	WebhookTimeout  time.Duration
	WebhookInFlight int
	PlansFile       string
}

// DatabasePath returns the SQLite file holding all durable records.
func (c *ServiceConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "pdfforge.db")
}

// ListenAddr returns the API listen address.
func (c *ServiceConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// MetricsAddr returns the metrics listen address, or "" when disabled.
func (c *ServiceConfig) MetricsAddr() string {
	if c.MetricsPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.BindAddress, c.MetricsPort)
}

// Load reads configuration from environment variables.
// A .env file is loaded if present but not required.
func Load() (*ServiceConfig, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("PDFFORGE_PORT", 8080)
	if err != nil {
		return nil, err
	}
	metricsPort, err := envOrDefaultInt("PDFFORGE_METRICS_PORT", 9091)
	if err != nil {
		return nil, err
	}
	batchWorkers, err := envOrDefaultInt("PDFFORGE_BATCH_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	inFlight, err := envOrDefaultInt("PDFFORGE_WEBHOOK_IN_FLIGHT", 16)
	if err != nil {
		return nil, err
	}
	renderTimeout, err := envOrDefaultDuration("PDFFORGE_RENDER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := envOrDefaultDuration("PDFFORGE_FETCH_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	webhookTimeout, err := envOrDefaultDuration("PDFFORGE_WEBHOOK_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	metricsTimeout, err := envOrDefaultDuration("PDFFORGE_METRICS_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &ServiceConfig{
		DataDir:         envOrDefault("PDFFORGE_DATA_DIR", "./data"),
		BindAddress:     envOrDefault("PDFFORGE_BIND_ADDRESS", "0.0.0.0"),
		Port:            port,
		MetricsPort:     metricsPort,
		MetricsTimeout:  metricsTimeout,
		LogLevel:        envOrDefault("PDFFORGE_LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("PDFFORGE_LOG_FORMAT", "auto"),
		LogFile:         strings.TrimSpace(os.Getenv("PDFFORGE_LOG_FILE")),
		RenderEndpoint:  strings.TrimSpace(os.Getenv("PDFFORGE_RENDER_ENDPOINT")),
		RenderTimeout:   renderTimeout,
		FetchTimeout:    fetchTimeout,
		BatchWorkers:    batchWorkers,
		WebhookTimeout:  webhookTimeout,
		WebhookInFlight: inFlight,
		PlansFile:       strings.TrimSpace(os.Getenv("PDFFORGE_PLANS_FILE")),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate service config: %w", err)
	}
	return cfg, nil
}

func (c *ServiceConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PDFFORGE_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("PDFFORGE_METRICS_PORT must be between 0 and 65535, got %d", c.MetricsPort)
	}
	if c.MetricsPort != 0 && c.MetricsPort == c.Port {
		return fmt.Errorf("PDFFORGE_METRICS_PORT must differ from PDFFORGE_PORT")
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("PDFFORGE_BATCH_WORKERS must be at least 1, got %d", c.BatchWorkers)
	}
	if c.WebhookInFlight < 1 {
		return fmt.Errorf("PDFFORGE_WEBHOOK_IN_FLIGHT must be at least 1, got %d", c.WebhookInFlight)
	}
	for key, d := range map[string]time.Duration{
		"PDFFORGE_RENDER_TIMEOUT":  c.RenderTimeout,
		"PDFFORGE_FETCH_TIMEOUT":   c.FetchTimeout,
		"PDFFORGE_WEBHOOK_TIMEOUT": c.WebhookTimeout,
		"PDFFORGE_METRICS_TIMEOUT": c.MetricsTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be greater than 0, got %s", key, d)
		}
	}

	if c.RenderEndpoint != "" {
		parsed, err := url.Parse(c.RenderEndpoint)
		if err != nil {
			return fmt.Errorf("PDFFORGE_RENDER_ENDPOINT must be a valid URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("PDFFORGE_RENDER_ENDPOINT must use http or https scheme")
		}
		if parsed.Host == "" {
			return fmt.Errorf("PDFFORGE_RENDER_ENDPOINT must include a host")
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

// envOrDefaultDuration accepts Go duration strings ("45s") or bare seconds ("45").
func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	return d, nil
}
