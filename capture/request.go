package capture

import (
	"fmt"
	"math"
	"strings"
)

// Mode selects what a capture produces.
type Mode string

const (
	ModeFullPage Mode = "fullpage"
	ModeVisible  Mode = "visible"
	ModeManual   Mode = "manual"
	ModeRegion   Mode = "region"
)

// ParseMode accepts the settings names plus the long spellings.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fullpage", "full-page", "full":
		return ModeFullPage, nil
	case "visible", "viewport":
		return ModeVisible, nil
	case "manual", "manual-region":
		return ModeManual, nil
	case "region", "scrollable-element", "element":
		return ModeRegion, nil
	}
	return "", fmt.Errorf("capture: unknown mode %q", s)
}

// Format is the output encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat maps a format name, empty meaning png.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png", "image/png":
		return FormatPNG, nil
	case "jpeg", "jpg", "image/jpeg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("capture: unsupported format %q", s)
}

// MIME returns the media type of f.
func (f Format) MIME() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// DefaultQuality is used when a request carries no usable quality.
const DefaultQuality = 0.9

// Options is the per-invocation output request. It is never mutated by a run.
type Options struct {
	Format  Format
	Quality float64
}

// Normalized fills defaults and clamps quality into [0,1].
func (o Options) Normalized() Options {
	if o.Format != FormatJPEG {
		o.Format = FormatPNG
	}
	if math.IsNaN(o.Quality) || o.Quality < 0 || o.Quality > 1 {
		o.Quality = DefaultQuality
	}
	return o
}

// QualityFromPercent converts a stored 1..100 percentage.
func QualityFromPercent(p int) float64 {
	if p <= 0 || p > 100 {
		return DefaultQuality
	}
	return float64(p) / 100
}

// jpegQuality maps a [0,1] quality to the encoder's 1..100 scale.
func (o Options) jpegQuality() int {
	q := int(math.Round(o.Quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return q
}

// MinSelection is the smallest manual selection side, in CSS pixels, that the
// selection front end forwards.
const MinSelection = 10

// Region is a manual selection in viewport coordinates. ScrollX and ScrollY
// record the page offset at selection time.
type Region struct {
	Left    float64
	Top     float64
	Width   float64
	Height  float64
	ScrollX float64
	ScrollY float64
}

// Validate rejects selections smaller than MinSelection on either side.
func (r Region) Validate() error {
	if r.Width < MinSelection || r.Height < MinSelection {
		return fmt.Errorf("capture: selection %gx%g is smaller than %dx%d", r.Width, r.Height, MinSelection, MinSelection)
	}
	if r.Left < 0 || r.Top < 0 {
		return fmt.Errorf("capture: selection origin %g,%g is negative", r.Left, r.Top)
	}
	return nil
}
