package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"math"
	"sync"
	"testing"
	"time"
)

// fakeElement keeps inline styles in a map. Computed styles are fixed at
// construction, so overrides never feed back into detection.
type fakeElement struct {
	mu       sync.Mutex
	name     string
	inline   map[string]InlineStyle
	computed map[string]string
	metrics  ScrollMetrics
	rect     Rect
	setErr   error
}

func newFakeElement(name string) *fakeElement {
	return &fakeElement{name: name, inline: map[string]InlineStyle{}, computed: map[string]string{}}
}

func (e *fakeElement) BoundingRect(context.Context) (Rect, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rect, nil
}

func (e *fakeElement) ComputedStyle(_ context.Context, props ...string) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(props))
	for _, p := range props {
		out[p] = e.computed[p]
	}
	return out, nil
}

func (e *fakeElement) InlineStyle(_ context.Context, prop string) (InlineStyle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inline[prop], nil
}

func (e *fakeElement) SetStyle(_ context.Context, prop, value, priority string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.setErr != nil {
		return e.setErr
	}
	e.inline[prop] = InlineStyle{Value: value, Priority: priority, Present: true}
	return nil
}

func (e *fakeElement) RemoveStyle(_ context.Context, prop string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inline, prop)
	return nil
}

func (e *fakeElement) ScrollMetrics(context.Context) (ScrollMetrics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics, nil
}

func (e *fakeElement) ScrollTo(_ context.Context, left, top float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.ScrollLeft, e.metrics.ScrollTop = left, top
	return nil
}

func (e *fakeElement) hidden() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inline["visibility"].Value == "hidden"
}

func (e *fakeElement) inlineCopy() map[string]InlineStyle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]InlineStyle, len(e.inline))
	for k, v := range e.inline {
		out[k] = v
	}
	return out
}

type fakeOverlay struct {
	mu      sync.Mutex
	visible bool
	removed bool
	texts   []string
	el      *fakeElement
}

func (o *fakeOverlay) SetText(_ context.Context, text string) error {
	o.mu.Lock()
	o.texts = append(o.texts, text)
	o.mu.Unlock()
	return nil
}

func (o *fakeOverlay) SetVisible(_ context.Context, v bool) error {
	o.mu.Lock()
	o.visible = v
	o.mu.Unlock()
	return nil
}

func (o *fakeOverlay) Remove(context.Context) error {
	o.mu.Lock()
	o.removed = true
	o.mu.Unlock()
	return nil
}

func (o *fakeOverlay) Element() Element { return o.el }

func (o *fakeOverlay) isVisible() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.visible && !o.removed
}

// fixedRows is the height in device pixels painted by visible fixed elements.
const fixedRows = 20

var fixedColor = color.NRGBA{B: 255, A: 255}

// rowColor encodes an absolute page row in device pixels.
func rowColor(row int) color.NRGBA {
	return color.NRGBA{R: uint8(row % 256), G: uint8((row / 256) % 256), A: 255}
}

type fakePage struct {
	mu           sync.Mutex
	geo          Geometry
	x, y         float64
	bodyOverflow string
	htmlOverflow string
	fixed        []*fakeElement
	byQuery      map[string]*fakeElement
	subtrees     map[Element][]Element
	scrollable   []ScrollableElement
	overlay      *fakeOverlay
	scrollCalls  int
	failScrollAt int
	lazyCalls    int
}

func newFakePage(w, h, vh, dpr float64) *fakePage {
	return &fakePage{
		geo:          Geometry{PageWidth: w, PageHeight: h, ViewportHeight: vh, DevicePixelRatio: dpr},
		bodyOverflow: "auto",
		byQuery:      map[string]*fakeElement{},
		subtrees:     map[Element][]Element{},
	}
}

func (p *fakePage) Geometry(context.Context) (Geometry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.geo, nil
}

func (p *fakePage) ScrollPosition(context.Context) (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.x, p.y, nil
}

// ScrollTo clamps like a browser does at the bottom of the document.
func (p *fakePage) ScrollTo(_ context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollCalls++
	if p.failScrollAt > 0 && p.scrollCalls == p.failScrollAt {
		return errors.New("scroll rejected")
	}
	maxY := math.Max(0, p.geo.PageHeight-p.geo.ViewportHeight)
	p.x, p.y = x, math.Min(math.Max(0, y), maxY)
	return nil
}

func (p *fakePage) DocumentOverflow(context.Context) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bodyOverflow, p.htmlOverflow, nil
}

func (p *fakePage) SetDocumentOverflow(_ context.Context, body, html string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodyOverflow, p.htmlOverflow = body, html
	return nil
}

func (p *fakePage) FixedElements(_ context.Context, exclude Element) ([]Element, error) {
	var out []Element
	for _, el := range p.fixed {
		if Element(el) == exclude || el.hidden() {
			continue
		}
		out = append(out, el)
	}
	return out, nil
}

func (p *fakePage) Query(_ context.Context, selector string) (Element, error) {
	el, ok := p.byQuery[selector]
	if !ok {
		return nil, fmt.Errorf("no element matches %q", selector)
	}
	return el, nil
}

func (p *fakePage) Subtree(_ context.Context, root Element) ([]Element, error) {
	if list, ok := p.subtrees[root]; ok {
		return list, nil
	}
	return []Element{root}, nil
}

func (p *fakePage) ScrollableElements(context.Context) ([]ScrollableElement, error) {
	return p.scrollable, nil
}

func (p *fakePage) ResolveLazyMedia(context.Context, Element) error {
	p.mu.Lock()
	p.lazyCalls++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) NewOverlay(context.Context) (Overlay, error) {
	p.overlay = &fakeOverlay{visible: true, el: newFakeElement("overlay")}
	return p.overlay, nil
}

// viewport paints the visible part of the page: every row carries its page
// row, with visible fixed elements drawn over the top rows.
func (p *fakePage) viewport() *image.NRGBA {
	p.mu.Lock()
	geo, y := p.geo, p.y
	p.mu.Unlock()
	scale := geo.Scale()
	w := int(math.Ceil(geo.PageWidth * scale))
	h := int(math.Round(geo.ViewportHeight * scale))
	first := int(math.Round(y * scale))
	showFixed := false
	for _, el := range p.fixed {
		if !el.hidden() {
			showFixed = true
		}
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for row := 0; row < h; row++ {
		c := rowColor(first + row)
		if showFixed && row < fixedRows {
			c = fixedColor
		}
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, row, c)
		}
	}
	return img
}

type fakeShots struct {
	mu        sync.Mutex
	page      *fakePage
	calls     int
	failFirst int
	data      []byte
	leaks     int
	started   chan struct{}
	block     chan struct{}
}

func (f *fakeShots) CaptureVisibleViewport(ctx context.Context, _ Format, _ int) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= f.failFirst {
		return nil, errors.New("screenshot primitive failed")
	}
	if f.data != nil {
		return f.data, nil
	}
	if f.page.overlay != nil && f.page.overlay.isVisible() {
		f.mu.Lock()
		f.leaks++
		f.mu.Unlock()
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.page.viewport()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type savedFile struct {
	name string
	data []byte
}

type fakeSink struct {
	mu    sync.Mutex
	files []savedFile
	err   error
	// failAt fails the n-th download (1-based) with err when set.
	failAt int
	calls  int
}

func (s *fakeSink) Download(_ context.Context, data []byte, filename string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil && (s.failAt == 0 || s.failAt == s.calls) {
		return "", s.err
	}
	s.files = append(s.files, savedFile{name: filename, data: data})
	return filename, nil
}

// removingSink also takes files back.
type removingSink struct {
	*fakeSink
	removed []string
}

func (s *removingSink) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.files {
		if f.name == id {
			s.files = append(s.files[:i], s.files[i+1:]...)
			s.removed = append(s.removed, id)
			return nil
		}
	}
	return fmt.Errorf("no file %q", id)
}

type fakeRenderer struct {
	opts   RenderOptions
	inline map[string]InlineStyle
	child  map[string]InlineStyle
	watch  *fakeElement
	err    error
}

func (r *fakeRenderer) Render(_ context.Context, el Element, opt RenderOptions) (image.Image, error) {
	r.opts = opt
	if fe, ok := el.(*fakeElement); ok {
		r.inline = fe.inlineCopy()
	}
	if r.watch != nil {
		r.child = r.watch.inlineCopy()
	}
	if r.err != nil {
		return nil, r.err
	}
	w := int(math.Round(opt.Width * opt.Scale))
	h := int(math.Round(opt.Height * opt.Scale))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return img, nil
}

var testTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func testConfig() Config {
	return Config{
		Attempts: 3,
		Logger:   log.New(io.Discard, "", 0),
		Clock:    func() time.Time { return testTime },
	}
}

type testHost struct {
	page     *fakePage
	shots    *fakeShots
	sink     *fakeSink
	renderer *fakeRenderer
}

func newTestHost(w, h, vh, dpr float64) *testHost {
	page := newFakePage(w, h, vh, dpr)
	return &testHost{
		page:     page,
		shots:    &fakeShots{page: page},
		sink:     &fakeSink{},
		renderer: &fakeRenderer{},
	}
}

func (h *testHost) session(cfg Config) *Session {
	return NewSession(Host{
		Page:          h.page,
		Screenshotter: h.shots,
		Sink:          h.sink,
		Renderer:      h.renderer,
	}, cfg)
}

func decodeFile(t *testing.T, f savedFile) image.Image {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(f.data))
	if err != nil {
		t.Fatalf("decode %s: %v", f.name, err)
	}
	return img
}

func pixel(img image.Image, x, y int) color.NRGBA {
	b := img.Bounds()
	return color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
}
