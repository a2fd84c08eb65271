package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

const (
	convertPath     = "/forms/chromium/convert/html"
	healthPath      = "/health"
	maxErrorBodyLen = 500
	maxDocumentSize = 100 << 20
)

// RemoteEngine renders through a headless-browser conversion service that
// speaks the Gotenberg Chromium HTML route.
type RemoteEngine struct {
	endpoint string
	client   *http.Client
}

// NewRemoteEngine creates a RemoteEngine posting to endpoint with client.
func NewRemoteEngine(endpoint string, client *http.Client) *RemoteEngine {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteEngine{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}
}

// Acquire verifies the service is healthy and returns a session bound to it.
func (e *RemoteEngine) Acquire(ctx context.Context) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+healthPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("renderer health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyLen))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("renderer health check returned HTTP %d", resp.StatusCode)
	}
	return &remoteSession{engine: e}, nil
}

type remoteSession struct {
	engine *RemoteEngine
	mu     sync.Mutex
	closed bool
}

func (s *remoteSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("render session already closed")
	}
	s.closed = true
	return nil
}

func (s *remoteSession) Render(ctx context.Context, doc string, opts Options) ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("render session closed")
	}

	body, contentType, err := buildConvertForm(doc, opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.engine.endpoint+convertPath, body)
	if err != nil {
		return nil, fmt.Errorf("build convert request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.engine.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("convert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, fmt.Errorf("renderer returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read rendered document: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("rendered document exceeds %d bytes", maxDocumentSize)
	}
	return data, nil
}

func buildConvertForm(doc string, opts Options) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.WriteString(part, doc); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}

	fields := map[string]string{
		"paperWidth":      inches(opts.Page.Width),
		"paperHeight":     inches(opts.Page.Height),
		"marginTop":       inches(opts.Margins.Top),
		"marginRight":     inches(opts.Margins.Right),
		"marginBottom":    inches(opts.Margins.Bottom),
		"marginLeft":      inches(opts.Margins.Left),
		"landscape":       strconv.FormatBool(opts.Landscape),
		"printBackground": strconv.FormatBool(opts.PrintBackground),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func inches(mm float64) string {
	return strconv.FormatFloat(mm/25.4, 'f', 4, 64)
}
