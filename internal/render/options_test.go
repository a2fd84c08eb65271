package render

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
)

func TestParseOptionsDefaults(t *testing.T) {
	for _, raw := range []string{"", "null", "{}", `{"scale": 2, "unknownKey": true}`} {
		opts, err := ParseOptions(json.RawMessage(raw))
		require.NoError(t, err, "raw %q", raw)
		assert.Equal(t, DefaultOptions(), opts, "raw %q", raw)
	}

	d := DefaultOptions()
	assert.Equal(t, "A4", d.Page.Name)
	assert.True(t, d.PrintBackground)
	assert.False(t, d.Landscape)
	assert.Equal(t, Margins{10, 10, 10, 10}, d.Margins)
}

func TestParseOptionsOverrides(t *testing.T) {
	opts, err := ParseOptions(json.RawMessage(`{
		"format": "letter",
		"printBackground": false,
		"landscape": true,
		"margin": {"top": "20mm", "right": "0.5in", "bottom": 96, "left": "2cm"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Letter", opts.Page.Name)
	assert.False(t, opts.PrintBackground)
	assert.True(t, opts.Landscape)
	assert.InDelta(t, 20, opts.Margins.Top, 1e-9)
	assert.InDelta(t, 12.7, opts.Margins.Right, 1e-9)
	assert.InDelta(t, 25.4, opts.Margins.Bottom, 1e-9)
	assert.InDelta(t, 20, opts.Margins.Left, 1e-9)

	w, h := opts.PageDimensions()
	assert.Equal(t, 279.4, w)
	assert.Equal(t, 215.9, h)
}

func TestParseOptionsPartialMarginKeepsDefaults(t *testing.T) {
	opts, err := ParseOptions(json.RawMessage(`{"margin": {"top": "5mm"}}`))
	require.NoError(t, err)
	assert.Equal(t, Margins{Top: 5, Right: 10, Bottom: 10, Left: 10}, opts.Margins)
}

func TestParseOptionsErrors(t *testing.T) {
	cases := []string{
		`{"format": "B5"}`,
		`{"format": 4}`,
		`{"margin": {"top": "1furlong"}}`,
		`{"margin": {"top": "-1cm"}}`,
		`{"margin": {"left": "110mm", "right": "110mm"}}`,
		`[1, 2]`,
	}
	for _, raw := range cases {
		_, err := ParseOptions(json.RawMessage(raw))
		require.Error(t, err, "raw %s", raw)
		assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err), "raw %s", raw)
	}
}

func TestParseLengthUnits(t *testing.T) {
	cases := map[string]float64{
		`"10mm"`:  10,
		`"1cm"`:   10,
		`"1in"`:   25.4,
		`"96px"`:  25.4,
		`"48"`:    12.7,
		`0`:       0,
		`" 2 CM"`: 20,
	}
	for raw, want := range cases {
		got, err := parseLength(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.True(t, math.Abs(got-want) < 1e-9, "%s = %v, want %v", raw, got, want)
	}
}

func TestFormatIsCaseInsensitive(t *testing.T) {
	for _, f := range []string{"a3", "A5", "LEGAL", "Tabloid"} {
		_, err := ParseOptions(json.RawMessage(`{"format":"` + f + `"}`))
		assert.NoError(t, err, f)
	}
}
