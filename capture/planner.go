package capture

import "math"

const (
	// MaxRasterHeight is the tallest buffer the rasterizer accepts, in device pixels.
	MaxRasterHeight = 32767
	// MaxRasterPixels caps the pixel count of a single buffer.
	MaxRasterPixels = 268435456
)

const (
	reasonTooWide = "page too wide to capture"
	reasonEmpty   = "page has no visible area"
)

// Segment is one output raster covering a vertical slice of the page.
type Segment struct {
	Index  int
	Width  int
	Height int
}

// Plan is the ordered list of segments for a page.
type Plan struct {
	Scale            float64
	Width            int
	TotalHeight      float64
	MaxSegmentHeight int
	Segments         []Segment
}

// PlanSegments splits a page of the given CSS size into rasters that respect
// MaxRasterHeight and MaxRasterPixels at the device pixel ratio.
func PlanSegments(pageWidth, pageHeight, devicePixelRatio float64) (Plan, error) {
	scale := devicePixelRatio
	if scale <= 0 || math.IsNaN(scale) {
		scale = 1
	}
	if pageWidth <= 0 || pageHeight <= 0 {
		return Plan{}, &GeometryError{Width: pageWidth, Height: pageHeight, Scale: scale, Reason: reasonEmpty}
	}
	width := int(math.Ceil(pageWidth * scale))
	if width > MaxRasterPixels {
		return Plan{}, &GeometryError{Width: pageWidth, Height: pageHeight, Scale: scale, Reason: reasonTooWide}
	}
	maxHeight := MaxRasterPixels / width
	if maxHeight > MaxRasterHeight {
		maxHeight = MaxRasterHeight
	}

	total := pageHeight * scale
	count := int(math.Ceil(total / float64(maxHeight)))
	plan := Plan{
		Scale:            scale,
		Width:            width,
		TotalHeight:      total,
		MaxSegmentHeight: maxHeight,
		Segments:         make([]Segment, 0, count),
	}
	for i := 0; i < count; i++ {
		rest := total - float64(i*maxHeight)
		h := int(math.Ceil(math.Min(float64(maxHeight), rest)))
		if h > maxHeight {
			h = maxHeight
		}
		plan.Segments = append(plan.Segments, Segment{Index: i, Width: width, Height: h})
	}
	return plan, nil
}

// Locate maps a page Y offset in CSS pixels to the segment containing it and
// the row offset inside that segment.
func (p Plan) Locate(pageY float64) (index, offset int) {
	pos := int(math.Floor(pageY * p.Scale))
	if pos < 0 || p.MaxSegmentHeight <= 0 {
		return 0, 0
	}
	return pos / p.MaxSegmentHeight, pos % p.MaxSegmentHeight
}

// Steps returns the number of viewport positions needed to cover the page.
func Steps(pageHeight, viewportHeight float64) int {
	if viewportHeight <= 0 || pageHeight <= 0 {
		return 0
	}
	return int(math.Ceil(pageHeight / viewportHeight))
}
