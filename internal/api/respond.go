package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/logging"
)

const maxBodyBytes = 20 << 20

// APIError represents a structured API error response.
type APIError struct {
	ErrorMessage string         `json:"error"`
	Code         string         `json:"code"`
	StatusCode   int            `json:"status_code"`
	Timestamp    int64          `json:"timestamp"`
	RequestID    string         `json:"request_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.ErrorMessage
}

// writeError translates err into the JSON error shape. Internal errors are
// logged with their cause and replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperrors.KindOf(err)
	status := kind.HTTPStatus()

	message := "Internal server error"
	var details map[string]any
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		details = appErr.Details
		if kind != apperrors.KindInternal && appErr.Message != "" {
			message = appErr.Message
		}
	}
	if kind == apperrors.KindInternal || kind == apperrors.KindRenderFailure {
		logging.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request error")
	}
	if a := auditFromContext(r.Context()); a != nil {
		a.errorMessage = message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := APIError{
		ErrorMessage: message,
		Code:         string(kind),
		StatusCode:   status,
		Timestamp:    time.Now().Unix(),
		RequestID:    logging.RequestID(r.Context()),
		Details:      details,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	const op = "decode_body"
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperrors.InvalidInput(op, "Request body too large")
		case errors.Is(err, io.EOF):
			return apperrors.InvalidInput(op, "Request body is required")
		default:
			return apperrors.InvalidInput(op, "Request body must be valid JSON")
		}
	}
	return nil
}

// wantsJSON reports whether the client asked for a JSON batch response.
func wantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "application/zip")
}
