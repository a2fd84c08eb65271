// Package server assembles the rendering API from configuration and runs it
// until the context is cancelled or the process is signalled.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/pdfforge/internal/api"
	"github.com/rcourtman/pdfforge/internal/auth"
	"github.com/rcourtman/pdfforge/internal/batch"
	"github.com/rcourtman/pdfforge/internal/config"
	"github.com/rcourtman/pdfforge/internal/logging"
	"github.com/rcourtman/pdfforge/internal/netutil"
	"github.com/rcourtman/pdfforge/internal/plans"
	"github.com/rcourtman/pdfforge/internal/quota"
	"github.com/rcourtman/pdfforge/internal/ratelimit"
	"github.com/rcourtman/pdfforge/internal/render"
	"github.com/rcourtman/pdfforge/internal/store"
	"github.com/rcourtman/pdfforge/internal/usage"
	"github.com/rcourtman/pdfforge/internal/webhooks"
)

const shutdownTimeout = 30 * time.Second

// Run starts the API server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "pdfforge",
	})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "pdfforge",
		FilePath:  cfg.LogFile,
	})
	defer logging.Shutdown()

	log.Info().Str("version", version).Msg("Starting PDFForge API")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	table := plans.NewTable()
	if cfg.PlansFile != "" {
		if err := table.LoadFile(cfg.PlansFile); err != nil {
			return err
		}
		if err := table.Watch(ctx, cfg.PlansFile); err != nil {
			log.Warn().Err(err).Str("path", cfg.PlansFile).Msg("Plan overrides will not be reloaded")
		}
		log.Info().Str("path", cfg.PlansFile).Msg("Plan overrides loaded")
	}

	dialer := netutil.NewCachedDialer(ctx, 0)

	var engine render.Engine
	if cfg.RenderEndpoint != "" {
		engine = render.NewRemoteEngine(cfg.RenderEndpoint, dialer.Client(cfg.RenderTimeout))
		log.Info().Str("endpoint", cfg.RenderEndpoint).Msg("Using remote render engine")
	} else {
		engine = render.NewBasicEngine()
		log.Info().Msg("Using built-in render engine (set PDFFORGE_RENDER_ENDPOINT for full HTML fidelity)")
	}

	fetcher := render.NewHTTPFetcher(dialer.Client(cfg.FetchTimeout), cfg.FetchTimeout)
	dispatcher := render.NewDispatcher(fetcher, cfg.RenderTimeout)
	limiter := ratelimit.New()
	defer limiter.Stop()
	resolver := auth.NewResolver(db)
	recorder := usage.NewRecorder(db, table)
	notifier := webhooks.NewNotifier(db, dialer.Client(cfg.WebhookTimeout), cfg.WebhookTimeout, cfg.WebhookInFlight)

	handler := api.NewRouter(api.Deps{
		Accounts:    db,
		Plans:       table,
		Resolver:    resolver,
		Credentials: auth.NewCredentialManager(db, table),
		Limiter:     limiter,
		Quota:       quota.NewTracker(db, table),
		Dispatcher:  dispatcher,
		Engine:      engine,
		Batches:     batch.NewOrchestrator(dispatcher, engine, table, cfg.BatchWorkers),
		Recorder:    recorder,
		Notifier:    notifier,
		Webhooks:    webhooks.NewConfigService(db, table),
		Version:     version,
	})

	if addr := cfg.MetricsAddr(); addr != "" {
		if _, err := startMetricsServer(ctx, addr, cfg.MetricsTimeout); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	case runErr = <-serveErr:
		log.Error().Err(runErr).Msg("Server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if err := notifier.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Webhook deliveries still in flight at shutdown")
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Usage writes still in flight at shutdown")
	}
	resolver.Wait()

	cancel()
	log.Info().Msg("PDFForge API stopped")
	return runErr
}
