package capture

import (
	"context"
	"errors"
	"fmt"
)

// IsScrollable reports whether el overflows on an axis whose overflow style
// permits scrolling. body and the document element never qualify.
func IsScrollable(ctx context.Context, el Element) (bool, error) {
	m, err := el.ScrollMetrics(ctx)
	if err != nil {
		return false, err
	}
	if m.DocumentRoot {
		return false, nil
	}
	style, err := el.ComputedStyle(ctx, "overflow", "overflow-x", "overflow-y")
	if err != nil {
		return false, err
	}
	scrolls := func(v string) bool { return v == "scroll" || v == "auto" }
	shorthand := scrolls(style["overflow"])
	vertical := m.ScrollHeight > m.ClientHeight && (scrolls(style["overflow-y"]) || shorthand)
	horizontal := m.ScrollWidth > m.ClientWidth && (scrolls(style["overflow-x"]) || shorthand)
	return vertical || horizontal, nil
}

// ScrollableElement expands the element matching selector to its full
// scroll size and renders it as one image.
func (s *Session) ScrollableElement(ctx context.Context, selector string, opts Options) (*Result, error) {
	opts = opts.Normalized()
	return s.run(ctx, ModeRegion, func(ctx context.Context, p *progress) (*Result, error) {
		el, err := s.page.Query(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("find %q: %w", selector, err)
		}
		return s.expandAndRender(ctx, p, el, selector, opts)
	})
}

func (s *Session) expandAndRender(ctx context.Context, p *progress, el Element, selector string, opts Options) (*Result, error) {
	t := s.cfg.Timing
	ok, err := IsScrollable(ctx, el)
	if err != nil {
		return nil, fmt.Errorf("inspect %q: %w", selector, err)
	}
	if !ok {
		return nil, &NotScrollableError{Selector: selector}
	}
	if s.renderer == nil {
		return nil, &RenderError{Err: ErrNoRenderer}
	}
	start, err := el.ScrollMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("measure %q: %w", selector, err)
	}

	p.text(ctx, "Preparing capture...")
	if err := sleep(ctx, t.Prepare); err != nil {
		return nil, err
	}

	p.text(ctx, "Rendering content...")
	colors, err := s.colors.Normalize(ctx, el)
	if err != nil {
		s.logger.Printf("COLOR %q: %v", selector, err)
	}
	expanded := &StyleLedger{}
	preserved := &StyleLedger{}
	restored := false
	restore := func() error {
		if restored {
			return nil
		}
		restored = true
		rctx := context.WithoutCancel(ctx)
		errs := []error{
			expanded.Restore(rctx),
			preserved.Restore(rctx),
			colors.Restore(rctx),
			el.ScrollTo(rctx, start.ScrollLeft, start.ScrollTop),
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err := restore(); err != nil {
			s.logger.Printf("RENDER restore %q: %v", selector, err)
		}
	}()

	if err := preserved.Remember(ctx, el, "overflow-x", "overflow-y", "height"); err != nil {
		return nil, err
	}
	width := fmt.Sprintf("%gpx", start.ScrollWidth)
	for _, o := range [][2]string{
		{"width", width},
		{"min-width", width},
		{"max-width", width},
		{"overflow", "visible"},
		{"max-height", "none"},
	} {
		if err := expanded.Override(ctx, el, o[0], o[1], ""); err != nil {
			return nil, fmt.Errorf("expand %q: %w", selector, err)
		}
	}
	if err := sleep(ctx, t.ExpandSettle); err != nil {
		return nil, err
	}

	mctx, cancel := context.WithTimeout(ctx, t.MediaWait)
	err = s.page.ResolveLazyMedia(mctx, el)
	cancel()
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Printf("RENDER %q: media still loading after %s", selector, t.MediaWait)
	default:
		s.logger.Printf("RENDER %q: lazy media: %v", selector, err)
	}
	if err := sleep(ctx, t.PostMediaSettle); err != nil {
		return nil, err
	}

	final, err := el.ScrollMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("measure expanded %q: %w", selector, err)
	}
	geo, err := s.page.Geometry(ctx)
	if err != nil {
		return nil, fmt.Errorf("measure page: %w", err)
	}
	s.logger.Printf("RENDER %q %gx%g -> %gx%g dpr=%g", selector, start.ScrollWidth, start.ScrollHeight, final.ScrollWidth, final.ScrollHeight, geo.Scale())
	img, err := s.renderer.Render(ctx, el, RenderOptions{
		Width:        final.ScrollWidth,
		Height:       final.ScrollHeight,
		WindowWidth:  final.ScrollWidth,
		WindowHeight: final.ScrollHeight,
		Scale:        geo.Scale(),
		Background:   white,
	})
	if err != nil {
		return nil, &RenderError{Err: err}
	}
	if err := restore(); err != nil {
		return nil, err
	}

	p.text(ctx, "Saving...")
	f, err := s.save(ctx, img, opts, "_region")
	if err != nil {
		return nil, err
	}
	return &Result{Files: []File{f}, Segments: 1}, nil
}
