package capture

import (
	"context"
	"fmt"
	"image"
	"math"
)

// Visible saves the current viewport as is.
func (s *Session) Visible(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.Normalized()
	return s.run(ctx, ModeVisible, func(ctx context.Context, p *progress) (*Result, error) {
		img, err := s.captureClean(ctx, p)
		if err != nil {
			return nil, err
		}
		f, err := s.save(ctx, img, opts, "_visible")
		if err != nil {
			return nil, err
		}
		return &Result{Files: []File{f}, Segments: 1, Steps: 1}, nil
	})
}

// ManualRegion crops one viewport capture to r, given in viewport CSS pixels.
// r.ScrollX and r.ScrollY are only recorded.
func (s *Session) ManualRegion(ctx context.Context, r Region, opts Options) (*Result, error) {
	opts = opts.Normalized()
	return s.run(ctx, ModeManual, func(ctx context.Context, p *progress) (*Result, error) {
		geo, err := s.page.Geometry(ctx)
		if err != nil {
			return nil, fmt.Errorf("measure page: %w", err)
		}
		img, err := s.captureClean(ctx, p)
		if err != nil {
			return nil, err
		}
		rect, err := cropRect(r, geo.Scale())
		if err != nil {
			return nil, err
		}
		s.logger.Printf("CAPTURE manual region=%g,%g %gx%g scroll=%g,%g px=%v",
			r.Left, r.Top, r.Width, r.Height, r.ScrollX, r.ScrollY, rect)
		out := crop(img, rect.Add(img.Bounds().Min))
		f, err := s.save(ctx, out, opts, "_manual")
		if err != nil {
			return nil, err
		}
		return &Result{Files: []File{f}, Segments: 1, Steps: 1}, nil
	})
}

// cropRect converts a selection to device pixels.
func cropRect(r Region, scale float64) (image.Rectangle, error) {
	x := int(math.Round(r.Left * scale))
	y := int(math.Round(r.Top * scale))
	w := int(math.Round(r.Width * scale))
	h := int(math.Round(r.Height * scale))
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, fmt.Errorf("capture: empty selection %gx%g", r.Width, r.Height)
	}
	return image.Rect(x, y, x+w, y+h), nil
}
