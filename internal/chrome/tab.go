package chrome

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	xdraw "golang.org/x/image/draw"

	"webcapture/capture"
)

// Tab is one loaded page. It implements every host interface a
// capture.Session needs.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	dpr    float64
	url    string
	logger *log.Logger
}

var (
	_ capture.Page          = (*Tab)(nil)
	_ capture.Screenshotter = (*Tab)(nil)
	_ capture.Renderer      = (*Tab)(nil)
	_ capture.ColorResolver = (*Tab)(nil)
)

// URL is the location after redirects.
func (t *Tab) URL() string { return t.url }

// Close closes the browser tab.
func (t *Tab) Close() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Host returns the capture host backed by this tab.
func (t *Tab) Host(sink capture.Sink) capture.Host {
	return capture.Host{Page: t, Screenshotter: t, Sink: sink, Renderer: t, Colors: t}
}

// run executes actions on the tab while ctx is live. The tab context is the
// parent so cancelling ctx never closes the tab itself.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (t *Tab) Geometry(ctx context.Context) (capture.Geometry, error) {
	var g capture.Geometry
	err := t.call(ctx, &g, "geometry")
	return g, err
}

func (t *Tab) ScrollPosition(ctx context.Context) (float64, float64, error) {
	var pos [2]float64
	if err := t.call(ctx, &pos, "scrollPosition"); err != nil {
		return 0, 0, err
	}
	return pos[0], pos[1], nil
}

func (t *Tab) ScrollTo(ctx context.Context, x, y float64) error {
	return t.call(ctx, nil, "scrollTo", x, y)
}

func (t *Tab) DocumentOverflow(ctx context.Context) (string, string, error) {
	var ov [2]string
	if err := t.call(ctx, &ov, "documentOverflow"); err != nil {
		return "", "", err
	}
	return ov[0], ov[1], nil
}

func (t *Tab) SetDocumentOverflow(ctx context.Context, body, html string) error {
	return t.call(ctx, nil, "setDocumentOverflow", body, html)
}

func (t *Tab) FixedElements(ctx context.Context, exclude capture.Element) ([]capture.Element, error) {
	var ids []int
	if err := t.call(ctx, &ids, "fixed", elementID(exclude)); err != nil {
		return nil, err
	}
	return t.elements(ids), nil
}

func (t *Tab) Query(ctx context.Context, selector string) (capture.Element, error) {
	var id int
	if err := t.call(ctx, &id, "query", selector); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, fmt.Errorf("chrome: no element matches %q", selector)
	}
	return &element{tab: t, id: id}, nil
}

func (t *Tab) Subtree(ctx context.Context, root capture.Element) ([]capture.Element, error) {
	id := elementID(root)
	if id == 0 {
		return nil, errForeignElement
	}
	var ids []int
	if err := t.call(ctx, &ids, "subtree", id); err != nil {
		return nil, err
	}
	return t.elements(ids), nil
}

func (t *Tab) ScrollableElements(ctx context.Context) ([]capture.ScrollableElement, error) {
	var list []capture.ScrollableElement
	err := t.call(ctx, &list, "scrollables")
	return list, err
}

// ResolveLazyMedia forces deferred images under root to load and waits for
// every image still downloading. Subtrees without images skip the round trip.
func (t *Tab) ResolveLazyMedia(ctx context.Context, root capture.Element) error {
	id := elementID(root)
	if id == 0 {
		return errForeignElement
	}
	var markup string
	if err := t.call(ctx, &markup, "outerHTML", id); err != nil {
		return err
	}
	scan, err := scanMedia(markup)
	if err != nil {
		t.logger.Printf("RENDER media scan: %v", err)
	} else if !scan.needsWait() {
		return nil
	}
	var settled int
	if err := t.call(ctx, &settled, "resolveLazy", id); err != nil {
		return err
	}
	t.logger.Printf("RENDER media images=%d lazy=%d settled=%d", scan.Images, scan.Lazy, settled)
	return nil
}

func (t *Tab) NewOverlay(ctx context.Context) (capture.Overlay, error) {
	var id int
	if err := t.call(ctx, &id, "overlay"); err != nil {
		return nil, err
	}
	return &overlay{el: &element{tab: t, id: id}}, nil
}

// CaptureVisibleViewport screenshots what is currently on screen.
func (t *Tab) CaptureVisibleViewport(ctx context.Context, format capture.Format, quality int) ([]byte, error) {
	var data []byte
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		shot := page.CaptureScreenshot().WithFromSurface(true)
		if format == capture.FormatJPEG {
			shot = shot.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(int64(quality))
		} else {
			shot = shot.WithFormat(page.CaptureScreenshotFormatPng)
		}
		var err error
		data, err = shot.Do(ctx)
		return err
	}))
	return data, err
}

// Render captures el at its full size in one clipped screenshot that may
// extend past the viewport. The background override fills transparent areas.
func (t *Tab) Render(ctx context.Context, el capture.Element, opt capture.RenderOptions) (image.Image, error) {
	if elementID(el) == 0 {
		return nil, errForeignElement
	}
	if opt.Width <= 0 || opt.Height <= 0 {
		return nil, fmt.Errorf("chrome: render %gx%g: empty area", opt.Width, opt.Height)
	}
	scale := opt.Scale
	if scale <= 0 {
		scale = t.dpr
	}
	rect, err := el.BoundingRect(ctx)
	if err != nil {
		return nil, err
	}
	sx, sy, err := t.ScrollPosition(ctx)
	if err != nil {
		return nil, err
	}
	clip := &page.Viewport{
		X:      rect.Left + sx,
		Y:      rect.Top + sy,
		Width:  opt.Width,
		Height: opt.Height,
		Scale:  scale / t.dpr,
	}

	var data []byte
	err = t.run(ctx,
		backgroundOverride(opt.Background),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			data, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				WithCaptureBeyondViewport(true).
				WithFromSurface(true).
				WithClip(clip).
				Do(ctx)
			return err
		}),
	)
	if opt.Background != nil {
		if cerr := t.run(context.WithoutCancel(ctx), emulation.SetDefaultBackgroundColorOverride()); cerr != nil {
			t.logger.Printf("RENDER clear background: %v", cerr)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("chrome: render screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("chrome: decode render: %w", err)
	}
	w := int(math.Round(opt.Width * scale))
	h := int(math.Round(opt.Height * scale))
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		t.logger.Printf("RENDER rescale %dx%d -> %dx%d", b.Dx(), b.Dy(), w, h)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		img = dst
	}
	return img, nil
}

func backgroundOverride(c color.Color) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if c == nil {
			return nil
		}
		n := color.NRGBAModel.Convert(c).(color.NRGBA)
		return emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{
			R: int64(n.R),
			G: int64(n.G),
			B: int64(n.B),
			A: float64(n.A) / 255,
		}).Do(ctx)
	})
}

// ResolveColor lets the browser parse value and reads the painted pixel
// back. Values the browser rejects fall back to the built-in parser.
func (t *Tab) ResolveColor(ctx context.Context, value string) (color.NRGBA, error) {
	var px []float64
	err := t.call(ctx, &px, "resolveColor", value)
	if err == nil && len(px) == 4 {
		return color.NRGBA{R: channel(px[0]), G: channel(px[1]), B: channel(px[2]), A: channel(px[3])}, nil
	}
	c, perr := capture.CSSColorResolver{}.ResolveColor(ctx, value)
	if perr != nil {
		return color.NRGBA{}, errors.Join(err, perr)
	}
	return c, nil
}

func channel(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

func (t *Tab) elements(ids []int) []capture.Element {
	out := make([]capture.Element, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			out = append(out, &element{tab: t, id: id})
		}
	}
	return out
}
