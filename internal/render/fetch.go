package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
)

const (
	// DefaultFetchTimeout bounds one source fetch.
	DefaultFetchTimeout = 15 * time.Second
	// MaxSourceBytes caps the size of a fetched source document.
	MaxSourceBytes = 10 << 20

	fetchUserAgent = "PDFForge-Fetcher/1.0"
)

// HTTPFetcher resolves http and https sources.
type HTTPFetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher. A non-positive timeout selects DefaultFetchTimeout.
func NewHTTPFetcher(client *http.Client, timeout time.Duration) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{client: client, timeout: timeout, maxBytes: MaxSourceBytes}
}

// Fetch downloads source and returns its body as text.
func (f *HTTPFetcher) Fetch(ctx context.Context, source string) (string, error) {
	const op = "fetch_source"

	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil || u.Host == "" {
		return "", apperrors.InvalidInput(op, "source must be an absolute http or https URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperrors.InvalidInput(op, "source must use http or https")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", apperrors.InvalidInput(op, "source is not a valid URL")
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperrors.Wrap(apperrors.KindRenderFailure, op,
				fmt.Sprintf("Timed out loading source after %s", f.timeout), err)
		}
		return "", apperrors.Wrap(apperrors.KindRenderFailure, op, "Failed to load source", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.New(apperrors.KindRenderFailure, op,
			fmt.Sprintf("Source returned HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindRenderFailure, op, "Failed to read source", err)
	}
	if int64(len(data)) > f.maxBytes {
		return "", apperrors.New(apperrors.KindRenderFailure, op,
			fmt.Sprintf("Source exceeds %d bytes", f.maxBytes))
	}
	return string(data), nil
}
