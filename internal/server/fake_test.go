package server

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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"webcapture/capture"
	"webcapture/internal/chrome"
)

// fakeTab is a two-viewport page painted grey.
type fakeTab struct {
	url     string
	mu      sync.Mutex
	closed  bool
	y       float64
	started chan struct{}
	block   chan struct{}
}

func (t *fakeTab) Host(sink capture.Sink) capture.Host {
	return capture.Host{Page: t, Screenshotter: t, Sink: sink}
}

func (t *fakeTab) URL() string { return t.url }

func (t *fakeTab) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *fakeTab) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTab) Geometry(context.Context) (capture.Geometry, error) {
	return capture.Geometry{PageWidth: 40, PageHeight: 120, ViewportHeight: 60, DevicePixelRatio: 1}, nil
}

func (t *fakeTab) ScrollPosition(context.Context) (float64, float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return 0, t.y, nil
}

func (t *fakeTab) ScrollTo(_ context.Context, _, y float64) error {
	t.mu.Lock()
	t.y = y
	t.mu.Unlock()
	return nil
}

func (t *fakeTab) DocumentOverflow(context.Context) (string, string, error) { return "", "", nil }

func (t *fakeTab) SetDocumentOverflow(context.Context, string, string) error { return nil }

func (t *fakeTab) FixedElements(context.Context, capture.Element) ([]capture.Element, error) {
	return nil, nil
}

func (t *fakeTab) Query(_ context.Context, selector string) (capture.Element, error) {
	return nil, fmt.Errorf("no element matches %q", selector)
}

func (t *fakeTab) Subtree(_ context.Context, root capture.Element) ([]capture.Element, error) {
	return []capture.Element{root}, nil
}

func (t *fakeTab) ScrollableElements(context.Context) ([]capture.ScrollableElement, error) {
	return []capture.ScrollableElement{{Selector: "#feed", ScrollWidth: 300, ScrollHeight: 2000, ClientWidth: 300, ClientHeight: 400}}, nil
}

func (t *fakeTab) ResolveLazyMedia(context.Context, capture.Element) error { return nil }

func (t *fakeTab) NewOverlay(context.Context) (capture.Overlay, error) {
	return nil, errors.New("no overlay in tests")
}

func (t *fakeTab) CaptureVisibleViewport(ctx context.Context, _ capture.Format, _ int) ([]byte, error) {
	if t.started != nil {
		select {
		case t.started <- struct{}{}:
		default:
		}
	}
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	img := image.NewNRGBA(image.Rect(0, 0, 40, 60))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.SetNRGBA(0, 0, color.NRGBA{A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type fakeBrowser struct {
	mu    sync.Mutex
	tabs  []*fakeTab
	opts  []chrome.OpenOptions
	err   error
	setup func(*fakeTab)
}

func (b *fakeBrowser) Open(_ context.Context, opt chrome.OpenOptions) (Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts = append(b.opts, opt)
	if b.err != nil {
		return nil, b.err
	}
	tab := &fakeTab{url: opt.URL}
	if b.setup != nil {
		b.setup(tab)
	}
	b.tabs = append(b.tabs, tab)
	return tab, nil
}

func (b *fakeBrowser) opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tabs)
}

var testNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T, b *fakeBrowser) (*Server, *testClock) {
	t.Helper()
	dir := t.TempDir()
	clock := &testClock{now: testNow}
	logger := log.New(io.Discard, "", 0)
	s, err := New(Config{
		OutDir:       filepath.Join(dir, "out"),
		SettingsPath: filepath.Join(dir, "settings.json"),
		SitesDir:     filepath.Join(dir, "sites"),
		SessionTTL:   time.Minute,
		Capture: capture.Config{
			ExclusiveModes: true,
			Logger:         logger,
			Clock:          clock.Now,
		},
		Browser: b,
		Logger:  logger,
		Clock:   clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s, clock
}
