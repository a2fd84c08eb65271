package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rcourtman/pdfforge/internal/auth"
	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/metrics"
	"github.com/rcourtman/pdfforge/internal/usage"
)

type auditKey struct{}

// requestAudit collects what handlers learn about a metered request so the
// request log can be written once the response is complete.
type requestAudit struct {
	errorMessage string
	params       map[string]any
}

func withAudit(ctx context.Context, a *requestAudit) context.Context {
	return context.WithValue(ctx, auditKey{}, a)
}

func auditFromContext(ctx context.Context) *requestAudit {
	a, _ := ctx.Value(auditKey{}).(*requestAudit)
	return a
}

// principal returns the caller attached by requireAuth.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

// requireAuth resolves the bearer credential and attaches the principal.
func (r *Router) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p, err := r.Resolver.Resolve(req.Context(), req.Header.Get("Authorization"))
		if err != nil {
			writeError(w, req, err)
			return
		}
		next.ServeHTTP(w, req.WithContext(auth.WithPrincipal(req.Context(), p)))
	})
}

// auditRequest writes one request log per metered call after the handler
// returns.
func (r *Router) auditRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		a := &requestAudit{}
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			p := principal(req)
			r.Recorder.RecordRequest(usage.Entry{
				PrincipalID:  p.ID,
				CredentialID: p.CredentialID,
				Endpoint:     req.URL.Path,
				Method:       req.Method,
				StatusCode:   rw.StatusCode(),
				Latency:      time.Since(start),
				Error:        a.errorMessage,
				Params:       a.params,
				ClientIP:     clientIP(req),
				UserAgent:    req.UserAgent(),
			})
		}()

		next.ServeHTTP(rw, req.WithContext(withAudit(req.Context(), a)))
	})
}

// rateLimit applies the per-minute ceiling of the caller's plan.
func (r *Router) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p := principal(req)
		d := r.Limiter.Check(p.ID, r.Plans.Get(p.Tier).RateLimitPerMinute)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.Itoa(d.ResetSeconds))

		if !d.Allowed {
			metrics.RateLimitRejections.WithLabelValues(string(p.Tier)).Inc()
			h.Set("Retry-After", strconv.Itoa(d.ResetSeconds))
			writeError(w, req, apperrors.New(apperrors.KindRateLimited, "rate_limit",
				"Rate limit exceeded. Please slow down your requests.").
				WithDetail("limit", d.Limit).
				WithDetail("remaining", 0).
				WithDetail("reset_seconds", d.ResetSeconds))
			return
		}
		next.ServeHTTP(w, req)
	})
}
