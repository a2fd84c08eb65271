package render

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
)

type fakeSession struct {
	render func(ctx context.Context, html string, opts Options) ([]byte, error)
	closed atomic.Int32
}

func (s *fakeSession) Render(ctx context.Context, html string, opts Options) ([]byte, error) {
	return s.render(ctx, html, opts)
}

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeEngine struct {
	session *fakeSession
	err     error
}

func (e *fakeEngine) Acquire(context.Context) (Session, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.session, nil
}

type fakeFetcher struct {
	body string
	err  error
}

func (f fakeFetcher) Fetch(ctx context.Context, source string) (string, error) {
	return f.body, f.err
}

func echoSession() *fakeSession {
	return &fakeSession{render: func(_ context.Context, html string, _ Options) ([]byte, error) {
		return []byte("%PDF-" + html), nil
	}}
}

func TestRenderContent(t *testing.T) {
	d := NewDispatcher(nil, 0)
	out := d.Render(context.Background(), echoSession(), Item{Content: "<p>hi</p>"})

	require.True(t, out.Success, "err: %v", out.Err)
	assert.Equal(t, "%PDF-<p>hi</p>", string(out.Data))
	assert.Equal(t, DefaultTimeout, d.Timeout())
}

func TestRenderSourceUsesFetcher(t *testing.T) {
	d := NewDispatcher(fakeFetcher{body: "<h1>remote</h1>"}, time.Second)
	out := d.Render(context.Background(), echoSession(), Item{Source: "https://example.com"})

	require.True(t, out.Success)
	assert.Equal(t, "%PDF-<h1>remote</h1>", string(out.Data))
}

func TestRenderRequiresExactlyOneInput(t *testing.T) {
	d := NewDispatcher(fakeFetcher{body: "x"}, time.Second)

	out := d.Render(context.Background(), echoSession(), Item{})
	assert.False(t, out.Success)
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(out.Err))
	assert.Equal(t, "Either content or source is required", out.ErrorMessage())

	out = d.Render(context.Background(), echoSession(), Item{Content: "a", Source: "https://b"})
	assert.False(t, out.Success)
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(out.Err))
}

func TestRenderUnknownFormatFailsItem(t *testing.T) {
	d := NewDispatcher(nil, time.Second)
	out := d.Render(context.Background(), echoSession(), Item{
		Content: "x",
		Options: json.RawMessage(`{"format":"B4"}`),
	})
	assert.False(t, out.Success)
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(out.Err))
}

func TestRenderRecoversFromPanic(t *testing.T) {
	s := &fakeSession{render: func(context.Context, string, Options) ([]byte, error) {
		panic("renderer exploded")
	}}
	out := NewDispatcher(nil, time.Second).Render(context.Background(), s, Item{Content: "x"})

	assert.False(t, out.Success)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(out.Err))
	assert.Equal(t, "Failed to generate PDF", out.ErrorMessage())
}

func TestRenderEngineErrorBecomesRenderFailure(t *testing.T) {
	s := &fakeSession{render: func(context.Context, string, Options) ([]byte, error) {
		return nil, errors.New("chromium crashed")
	}}
	out := NewDispatcher(nil, time.Second).Render(context.Background(), s, Item{Content: "x"})

	assert.False(t, out.Success)
	assert.Equal(t, apperrors.KindRenderFailure, apperrors.KindOf(out.Err))
	assert.Equal(t, "Failed to generate PDF", out.ErrorMessage())
}

func TestRenderEmptyOutputIsFailure(t *testing.T) {
	s := &fakeSession{render: func(context.Context, string, Options) ([]byte, error) {
		return nil, nil
	}}
	out := NewDispatcher(nil, time.Second).Render(context.Background(), s, Item{Content: "x"})
	assert.False(t, out.Success)
	assert.Equal(t, apperrors.KindRenderFailure, apperrors.KindOf(out.Err))
}

func TestRenderTimesOut(t *testing.T) {
	s := &fakeSession{render: func(ctx context.Context, _ string, _ Options) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	start := time.Now()
	out := NewDispatcher(nil, 50*time.Millisecond).Render(context.Background(), s, Item{Content: "x"})

	assert.False(t, out.Success)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Contains(t, out.ErrorMessage(), "timed out")
}

func TestRenderFetchFailureKeepsMessage(t *testing.T) {
	fetchErr := apperrors.New(apperrors.KindRenderFailure, "fetch_source", "Source returned HTTP 404")
	out := NewDispatcher(fakeFetcher{err: fetchErr}, time.Second).
		Render(context.Background(), echoSession(), Item{Source: "https://example.com/missing"})

	assert.False(t, out.Success)
	assert.Equal(t, "Source returned HTTP 404", out.ErrorMessage())
}

func TestRenderOneReleasesSession(t *testing.T) {
	s := echoSession()
	out := NewDispatcher(nil, time.Second).RenderOne(context.Background(), &fakeEngine{session: s}, Item{Content: "x"})

	require.True(t, out.Success)
	assert.EqualValues(t, 1, s.closed.Load())
}

func TestRenderOneAcquireFailure(t *testing.T) {
	out := NewDispatcher(nil, time.Second).RenderOne(context.Background(), &fakeEngine{err: errors.New("no browser")}, Item{Content: "x"})
	assert.False(t, out.Success)
	assert.Equal(t, apperrors.KindRenderFailure, apperrors.KindOf(out.Err))
}

func TestItemAliases(t *testing.T) {
	var it Item
	require.NoError(t, json.Unmarshal([]byte(`{"html":"<p>x</p>","filename":"a.pdf","options":{"landscape":true}}`), &it))
	assert.Equal(t, "<p>x</p>", it.Content)
	assert.Equal(t, "a.pdf", it.OutputName)
	assert.JSONEq(t, `{"landscape":true}`, string(it.Options))

	require.NoError(t, json.Unmarshal([]byte(`{"url":"https://example.com"}`), &it))
	assert.Equal(t, "https://example.com", it.Source)
	assert.Empty(t, it.Content)

	require.NoError(t, json.Unmarshal([]byte(`{"content":"c","html":"h"}`), &it))
	assert.Equal(t, "c", it.Content, "canonical name wins over alias")
}

func TestValidateChecksShapeWithoutRendering(t *testing.T) {
	opts, err := Validate(Item{Content: "<p>x</p>", Options: json.RawMessage(`{"landscape":true}`)})
	require.NoError(t, err)
	assert.True(t, opts.Landscape)

	for _, item := range []Item{
		{},
		{Content: "   "},
		{Content: "<p>x</p>", Source: "https://example.com"},
		{Source: "https://example.com", Options: json.RawMessage(`{"format":"B9"}`)},
	} {
		_, err := Validate(item)
		assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err), "%+v", item)
	}
}
