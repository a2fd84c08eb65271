package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
)

// PageSize is a paper size in millimetres, portrait orientation.
type PageSize struct {
	Name   string
	Width  float64
	Height float64
}

var pageSizes = map[string]PageSize{
	"a3":      {"A3", 297, 420},
	"a4":      {"A4", 210, 297},
	"a5":      {"A5", 148, 210},
	"letter":  {"Letter", 215.9, 279.4},
	"legal":   {"Legal", 215.9, 355.6},
	"tabloid": {"Tabloid", 279.4, 431.8},
}

// Margins are page margins in millimetres.
type Margins struct {
	Top    float64
	Right  float64
	Bottom float64
	Left   float64
}

// Options are the resolved render options for one unit.
type Options struct {
	Page            PageSize
	PrintBackground bool
	Landscape       bool
	Margins         Margins
}

// DefaultOptions returns A4 portrait with backgrounds and 1cm margins.
func DefaultOptions() Options {
	return Options{
		Page:            pageSizes["a4"],
		PrintBackground: true,
		Landscape:       false,
		Margins:         Margins{Top: 10, Right: 10, Bottom: 10, Left: 10},
	}
}

// PageDimensions returns width and height in millimetres after orientation.
func (o Options) PageDimensions() (float64, float64) {
	if o.Landscape {
		return o.Page.Height, o.Page.Width
	}
	return o.Page.Width, o.Page.Height
}

type rawMargin struct {
	Top    json.RawMessage `json:"top"`
	Right  json.RawMessage `json:"right"`
	Bottom json.RawMessage `json:"bottom"`
	Left   json.RawMessage `json:"left"`
}

type rawOptions struct {
	Format          *string    `json:"format"`
	PrintBackground *bool      `json:"printBackground"`
	Landscape       *bool      `json:"landscape"`
	Margin          *rawMargin `json:"margin"`
}

// ParseOptions resolves a JSON options object on top of the defaults.
// Unknown keys are ignored; an empty or null document yields the defaults.
func ParseOptions(raw json.RawMessage) (Options, error) {
	const op = "parse_options"

	opts := DefaultOptions()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return opts, nil
	}

	var in rawOptions
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return opts, apperrors.Wrap(apperrors.KindInvalidInput, op, "options must be an object with valid field types", err)
	}

	if in.Format != nil && strings.TrimSpace(*in.Format) != "" {
		size, ok := pageSizes[strings.ToLower(strings.TrimSpace(*in.Format))]
		if !ok {
			return opts, apperrors.InvalidInput(op,
				fmt.Sprintf("unsupported format %q (use A3, A4, A5, Letter, Legal or Tabloid)", *in.Format))
		}
		opts.Page = size
	}
	if in.PrintBackground != nil {
		opts.PrintBackground = *in.PrintBackground
	}
	if in.Landscape != nil {
		opts.Landscape = *in.Landscape
	}
	if in.Margin != nil {
		for _, side := range []struct {
			name string
			raw  json.RawMessage
			dst  *float64
		}{
			{"top", in.Margin.Top, &opts.Margins.Top},
			{"right", in.Margin.Right, &opts.Margins.Right},
			{"bottom", in.Margin.Bottom, &opts.Margins.Bottom},
			{"left", in.Margin.Left, &opts.Margins.Left},
		} {
			if len(side.raw) == 0 || string(side.raw) == "null" {
				continue
			}
			mm, err := parseLength(side.raw)
			if err != nil {
				return opts, apperrors.Wrap(apperrors.KindInvalidInput, op,
					fmt.Sprintf("invalid margin.%s", side.name), err)
			}
			*side.dst = mm
		}
	}

	w, h := opts.PageDimensions()
	if opts.Margins.Left+opts.Margins.Right >= w || opts.Margins.Top+opts.Margins.Bottom >= h {
		return opts, apperrors.InvalidInput(op, "margins leave no printable area")
	}
	return opts, nil
}

// parseLength converts a CSS-style length ("1cm", "10mm", "0.5in", "20px",
// or a bare number of pixels) to millimetres.
func parseLength(raw json.RawMessage) (float64, error) {
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return pxToMM(num)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("must be a number or a string with a unit")
	}
	s = strings.ToLower(strings.TrimSpace(s))

	unit := "px"
	for _, u := range []string{"mm", "cm", "in", "px"} {
		if strings.HasSuffix(s, u) {
			unit = u
			s = strings.TrimSpace(strings.TrimSuffix(s, u))
			break
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unrecognised length %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("length must not be negative")
	}

	switch unit {
	case "mm":
		return v, nil
	case "cm":
		return v * 10, nil
	case "in":
		return v * 25.4, nil
	default:
		return pxToMM(v)
	}
}

func pxToMM(v float64) (float64, error) {
	if v < 0 {
		return 0, fmt.Errorf("length must not be negative")
	}
	return v * 25.4 / 96, nil
}
