package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindInvalidInput, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindQuotaExceeded, http.StatusTooManyRequests},
		{KindRenderFailure, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
		{Kind("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.kind.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", Forbidden("resolve_credential", "no active plan"))
	if got := KindOf(wrapped); got != KindForbidden {
		t.Fatalf("KindOf(wrapped) = %q, want forbidden", got)
	}
	if got := KindOf(fmt.Errorf("x: %w", ErrQuotaExceeded)); got != KindQuotaExceeded {
		t.Fatalf("KindOf(sentinel) = %q, want quota_exceeded", got)
	}
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("KindOf(plain) = %q, want internal", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %q, want empty", got)
	}
}

func TestIsMatchesSentinelAndCause(t *testing.T) {
	err := Wrap(KindRenderFailure, "render_item", "Failed to generate PDF", context.DeadlineExceeded)
	if !errors.Is(err, ErrRenderFailure) {
		t.Fatal("expected errors.Is(err, ErrRenderFailure)")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected the cause to stay reachable")
	}
	if errors.Is(err, ErrInternal) {
		t.Fatal("render failure must not match ErrInternal")
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{New(KindNotFound, "", ""), "not_found"},
		{New(KindNotFound, "delete_credential", "API key not found"), "delete_credential: API key not found"},
		{Internal("count_usage", errors.New("disk full")), "count_usage: internal server error: disk full"},
		{&Error{Kind: KindInternal, Message: "oops", Err: errors.New("cause")}, "oops: cause"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestWithDetail(t *testing.T) {
	err := New(KindRateLimited, "rate_limit", "slow down").
		WithDetail("limit", 10).
		WithDetail("reset_seconds", 42)
	if err.Details["limit"] != 10 || err.Details["reset_seconds"] != 42 {
		t.Fatalf("Details = %v", err.Details)
	}
}
