package api

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/plans"
	"github.com/rcourtman/pdfforge/internal/store"
	"github.com/rcourtman/pdfforge/internal/usage"
)

type accountUsage struct {
	Current   int `json:"current"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

type accountResponse struct {
	ID             string             `json:"id"`
	Email          string             `json:"email"`
	Plan           plans.Tier         `json:"plan"`
	Limits         plans.Limits       `json:"limits"`
	Usage          accountUsage       `json:"usage"`
	RecentActivity []store.RequestLog `json:"recentActivity"`
}

func (r *Router) handleAccount(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	p := principal(req)

	acct, err := r.Accounts.GetAccount(ctx, p.ID)
	if err != nil {
		writeError(w, req, apperrors.Internal("get_account", err))
		return
	}
	if acct == nil {
		writeError(w, req, apperrors.NotFound("get_account", "Account not found"))
		return
	}
	u, err := r.Quota.Remaining(ctx, p.ID, p.Tier)
	if err != nil {
		writeError(w, req, err)
		return
	}
	recent, err := r.Recorder.RecentActivity(ctx, p.ID, p.Tier)
	if err != nil {
		writeError(w, req, err)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse{
		ID:             acct.ID,
		Email:          acct.Email,
		Plan:           p.Tier,
		Limits:         r.Plans.Get(p.Tier),
		Usage:          accountUsage{Current: u.Used, Limit: u.Limit, Remaining: u.Remaining()},
		RecentActivity: recent,
	})
}

func (r *Router) handleListKeys(w http.ResponseWriter, req *http.Request) {
	keys, err := r.Credentials.List(req.Context(), principal(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (r *Router) handleCreateKey(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, req, &body); err != nil {
		writeError(w, req, err)
		return
	}
	created, err := r.Credentials.Create(req.Context(), principal(req), body.Name)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleUpdateKey(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Name   *string `json:"name"`
		Active *bool   `json:"active"`
	}
	if err := decodeJSON(w, req, &body); err != nil {
		writeError(w, req, err)
		return
	}
	view, err := r.Credentials.Update(req.Context(), principal(req), req.PathValue("id"), body.Name, body.Active)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Router) handleDeleteKey(w http.ResponseWriter, req *http.Request) {
	if err := r.Credentials.Delete(req.Context(), principal(req), req.PathValue("id")); err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	const op = "list_logs"
	p := principal(req)
	values := req.URL.Query()

	q := usage.Query{Status: strings.TrimSpace(values.Get("status"))}
	var err error
	if q.Limit, err = intParam(values.Get("limit")); err != nil {
		writeError(w, req, apperrors.InvalidInput(op, "limit must be an integer"))
		return
	}
	if q.Offset, err = intParam(values.Get("offset")); err != nil {
		writeError(w, req, apperrors.InvalidInput(op, "offset must be an integer"))
		return
	}

	page, err := r.Recorder.ListLogs(req.Context(), p.ID, p.Tier, q)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
