package capture

import (
	"context"
	"fmt"
	"image"
	"math"
)

// FullPage scrolls through the page one viewport at a time and stitches the
// captures into one image per planned segment. Page state is restored on
// every path.
func (s *Session) FullPage(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.Normalized()
	return s.run(ctx, ModeFullPage, func(ctx context.Context, p *progress) (*Result, error) {
		return s.fullPage(ctx, p, opts)
	})
}

// pageState is what a full-page run changes and must put back.
type pageState struct {
	scrollX, scrollY float64
	bodyOverflow     string
	htmlOverflow     string
	fixed            *StyleLedger
	restored         bool
}

func (s *Session) restorePage(ctx context.Context, st *pageState) error {
	if st.restored {
		return nil
	}
	st.restored = true
	var first error
	if err := st.fixed.Restore(ctx); err != nil {
		first = fmt.Errorf("restore fixed elements: %w", err)
	}
	if err := s.page.ScrollTo(ctx, st.scrollX, st.scrollY); err != nil && first == nil {
		first = fmt.Errorf("restore scroll: %w", err)
	}
	if err := s.page.SetDocumentOverflow(ctx, st.bodyOverflow, st.htmlOverflow); err != nil && first == nil {
		first = fmt.Errorf("restore overflow: %w", err)
	}
	return first
}

func (s *Session) fullPage(ctx context.Context, p *progress, opts Options) (res *Result, err error) {
	t := s.cfg.Timing
	st := &pageState{fixed: &StyleLedger{}}
	if st.scrollX, st.scrollY, err = s.page.ScrollPosition(ctx); err != nil {
		return nil, fmt.Errorf("read scroll position: %w", err)
	}
	if st.bodyOverflow, st.htmlOverflow, err = s.page.DocumentOverflow(ctx); err != nil {
		return nil, fmt.Errorf("read document overflow: %w", err)
	}
	defer func() {
		if rerr := s.restorePage(context.WithoutCancel(ctx), st); rerr != nil {
			s.logger.Printf("CAPTURE restore: %v", rerr)
			if err == nil {
				err = rerr
			}
		}
	}()

	fixed, err := s.page.FixedElements(ctx, p.element())
	if err != nil {
		return nil, fmt.Errorf("find fixed elements: %w", err)
	}

	p.text(ctx, "Preparing capture...")
	if err := sleep(ctx, t.Prepare); err != nil {
		return nil, err
	}
	for _, el := range fixed {
		if err := st.fixed.Override(ctx, el, "visibility", "hidden", ""); err != nil {
			return nil, fmt.Errorf("hide fixed element: %w", err)
		}
	}

	geo, err := s.page.Geometry(ctx)
	if err != nil {
		return nil, fmt.Errorf("measure page: %w", err)
	}
	plan, err := PlanSegments(geo.PageWidth, geo.PageHeight, geo.Scale())
	if err != nil {
		return nil, err
	}
	steps := Steps(geo.PageHeight, geo.ViewportHeight)
	if steps == 0 {
		return nil, &GeometryError{Width: geo.PageWidth, Height: geo.PageHeight, Scale: plan.Scale, Reason: reasonEmpty}
	}
	s.logger.Printf("CAPTURE page=%gx%g viewport=%g dpr=%g segments=%d steps=%d fixed=%d",
		geo.PageWidth, geo.PageHeight, geo.ViewportHeight, plan.Scale, len(plan.Segments), steps, len(fixed))

	canvases := make([]*image.RGBA, len(plan.Segments))
	for i, seg := range plan.Segments {
		canvases[i] = newCanvas(seg.Width, seg.Height)
	}

	for i := 0; i < steps; i++ {
		top := float64(i) * geo.ViewportHeight
		if err := s.page.ScrollTo(ctx, 0, top); err != nil {
			return nil, fmt.Errorf("scroll to %g: %w", top, err)
		}
		if err := sleep(ctx, t.Settle); err != nil {
			return nil, err
		}
		p.text(ctx, fmt.Sprintf("Capturing... %d%%", int(math.Round(float64(i+1)/float64(steps)*100))))

		_, actual, err := s.page.ScrollPosition(ctx)
		if err != nil {
			return nil, fmt.Errorf("read scroll position: %w", err)
		}
		img, err := s.captureClean(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("step %d/%d: %w", i+1, steps, err)
		}
		partHeight := math.Min(geo.ViewportHeight, geo.PageHeight-top)
		// The last step may be clamped by the browser to the bottom of the page.
		skip := 0
		if actual < top {
			skip = int(math.Round((top - actual) * plan.Scale))
		}
		idx, off := s.drawStep(plan, canvases, img, skip, top, partHeight)
		s.logger.Printf("STEP %d/%d top=%g rows=%g segment=%d offset=%d", i+1, steps, top, partHeight*plan.Scale, idx, off)
		if err := sleep(ctx, t.OverlayToggle); err != nil {
			return nil, err
		}
	}

	if len(fixed) > 0 {
		if err := s.compositeFixed(ctx, p, st, plan, geo, canvases); err != nil {
			return nil, err
		}
	}

	if err := s.restorePage(context.WithoutCancel(ctx), st); err != nil {
		return nil, err
	}

	p.text(ctx, "Saving...")
	// Every segment is encoded before any reaches the sink.
	encoded := make([]encodedImage, len(canvases))
	for i, c := range canvases {
		suffix := ""
		if len(canvases) > 1 {
			suffix = fmt.Sprintf("_part%d", i+1)
		}
		e, err := s.encode(c, opts, suffix)
		if err != nil {
			return nil, err
		}
		encoded[i] = e
		canvases[i] = nil
	}
	res = &Result{Segments: len(encoded), Steps: steps}
	for i, e := range encoded {
		f, err := s.deliver(ctx, e)
		if err != nil {
			s.discard(context.WithoutCancel(ctx), res.Files)
			return nil, err
		}
		encoded[i] = encodedImage{}
		res.Files = append(res.Files, f)
	}
	return res, nil
}

// drawStep copies partHeight rows of a viewport capture, starting skip rows
// down, to the segment containing page offset top. Rows past the segment end
// are clipped unless SplitAcrossSegments is set.
func (s *Session) drawStep(plan Plan, canvases []*image.RGBA, img image.Image, skip int, top, partHeight float64) (int, int) {
	idx, off := plan.Locate(top)
	if idx >= len(canvases) {
		return idx, off
	}
	rows := int(math.Round(partHeight * plan.Scale))
	if avail := img.Bounds().Dy() - skip; rows > avail {
		rows = avail
	}
	if rows <= 0 {
		return idx, off
	}
	if !s.cfg.SplitAcrossSegments {
		blitRows(canvases[idx], off, rows, img, skip, rows)
		return idx, off
	}
	done, dstY := 0, off
	for i := idx; i < len(canvases) && done < rows; i++ {
		n := min(rows-done, canvases[i].Bounds().Dy()-dstY)
		blitRows(canvases[i], dstY, n, img, skip+done, n)
		done += n
		dstY = 0
	}
	return idx, off
}

// compositeFixed brings the fixed elements back at the top of the page and
// pastes one viewport capture over the top of the first segment, or of every
// segment with OverlayAllSegments.
func (s *Session) compositeFixed(ctx context.Context, p *progress, st *pageState, plan Plan, geo Geometry, canvases []*image.RGBA) error {
	t := s.cfg.Timing
	if err := s.page.ScrollTo(ctx, 0, 0); err != nil {
		return fmt.Errorf("scroll to top: %w", err)
	}
	if err := sleep(ctx, t.FixedSettle); err != nil {
		return err
	}
	if err := st.fixed.Restore(ctx); err != nil {
		return fmt.Errorf("show fixed elements: %w", err)
	}
	if err := sleep(ctx, t.FixedSettle); err != nil {
		return err
	}
	img, err := s.captureClean(ctx, p)
	if err != nil {
		return fmt.Errorf("fixed overlay: %w", err)
	}
	bh := img.Bounds().Dy()
	rows := int(math.Round(math.Min(geo.ViewportHeight, float64(bh)) * plan.Scale))
	if rows > bh {
		rows = bh
	}
	targets := canvases[:1]
	if s.cfg.OverlayAllSegments {
		targets = canvases
	}
	for _, c := range targets {
		blitRows(c, 0, rows, img, 0, rows)
	}
	s.logger.Printf("STEP fixed overlay rows=%d segments=%d", rows, len(targets))
	return nil
}
