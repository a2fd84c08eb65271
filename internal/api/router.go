package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rcourtman/pdfforge/internal/auth"
	"github.com/rcourtman/pdfforge/internal/batch"
	"github.com/rcourtman/pdfforge/internal/plans"
	"github.com/rcourtman/pdfforge/internal/quota"
	"github.com/rcourtman/pdfforge/internal/ratelimit"
	"github.com/rcourtman/pdfforge/internal/render"
	"github.com/rcourtman/pdfforge/internal/store"
	"github.com/rcourtman/pdfforge/internal/usage"
	"github.com/rcourtman/pdfforge/internal/webhooks"
)

const (
	routeRender            = "/v1/render"
	routeBatch             = "/v1/render/batch"
	routeAccount           = "/v1/account"
	routeKeys              = "/v1/keys"
	routeLogs              = "/v1/logs"
	routeWebhook           = "/v1/webhook"
	routeWebhookDeliveries = "/v1/webhook/deliveries"
)

// AccountStore is the account lookup and readiness probe the router needs.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*store.Account, error)
	Ping(ctx context.Context) error
}

// Deps wires the pipeline components into the HTTP surface.
type Deps struct {
	Accounts    AccountStore
	Plans       *plans.Table
	Resolver    *auth.Resolver
	Credentials *auth.CredentialManager
	Limiter     *ratelimit.Limiter
	Quota       *quota.Tracker
	Dispatcher  *render.Dispatcher
	Engine      render.Engine
	Batches     *batch.Orchestrator
	Recorder    *usage.Recorder
	Notifier    *webhooks.Notifier
	Webhooks    *webhooks.ConfigService
	Version     string
}

// Router handles all HTTP routes.
type Router struct {
	mux *http.ServeMux
	Deps
}

// NewRouter creates a new router instance.
func NewRouter(deps Deps) http.Handler {
	r := &Router{
		mux:  http.NewServeMux(),
		Deps: deps,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("GET /healthz", r.handleHealth)
	r.mux.HandleFunc("GET /readyz", r.handleReady)

	metered := func(h http.HandlerFunc) http.Handler {
		return r.requireAuth(r.auditRequest(r.rateLimit(h)))
	}
	r.mux.Handle("POST "+routeRender, metered(r.handleRender))
	r.mux.Handle("POST "+routeBatch, metered(r.handleBatch))

	r.mux.Handle("GET "+routeAccount, r.requireAuth(http.HandlerFunc(r.handleAccount)))

	r.mux.Handle("GET "+routeKeys, r.requireAuth(http.HandlerFunc(r.handleListKeys)))
	r.mux.Handle("POST "+routeKeys, r.requireAuth(http.HandlerFunc(r.handleCreateKey)))
	r.mux.Handle("PATCH "+routeKeys+"/{id}", r.requireAuth(http.HandlerFunc(r.handleUpdateKey)))
	r.mux.Handle("DELETE "+routeKeys+"/{id}", r.requireAuth(http.HandlerFunc(r.handleDeleteKey)))

	r.mux.Handle("GET "+routeLogs, r.requireAuth(http.HandlerFunc(r.handleLogs)))

	r.mux.Handle("GET "+routeWebhook, r.requireAuth(http.HandlerFunc(r.handleGetWebhook)))
	r.mux.Handle("PUT "+routeWebhook, r.requireAuth(http.HandlerFunc(r.handlePutWebhook)))
	r.mux.Handle("DELETE "+routeWebhook, r.requireAuth(http.HandlerFunc(r.handleDeleteWebhook)))
	r.mux.Handle("GET "+routeWebhookDeliveries, r.requireAuth(http.HandlerFunc(r.handleWebhookDeliveries)))
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	ErrorHandler(r.mux).ServeHTTP(w, req)
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": r.Version,
	})
}

func (r *Router) handleReady(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()
	if err := r.Accounts.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
