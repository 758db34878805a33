package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func scrollBox(name string) *fakeElement {
	el := newFakeElement(name)
	el.metrics = ScrollMetrics{ScrollWidth: 400, ScrollHeight: 3000, ClientWidth: 400, ClientHeight: 500, ScrollTop: 120}
	el.computed["overflow"] = "hidden auto"
	el.computed["overflow-x"] = "hidden"
	el.computed["overflow-y"] = "auto"
	return el
}

func TestIsScrollable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		metrics ScrollMetrics
		style   map[string]string
		want    bool
	}{
		{"vertical auto", ScrollMetrics{ScrollHeight: 900, ClientHeight: 300}, map[string]string{"overflow-y": "auto"}, true},
		{"vertical shorthand", ScrollMetrics{ScrollHeight: 900, ClientHeight: 300}, map[string]string{"overflow": "scroll"}, true},
		{"horizontal scroll", ScrollMetrics{ScrollWidth: 900, ClientWidth: 300}, map[string]string{"overflow-x": "scroll"}, true},
		{"overflow hidden", ScrollMetrics{ScrollHeight: 900, ClientHeight: 300}, map[string]string{"overflow": "hidden", "overflow-y": "hidden"}, false},
		{"visible", ScrollMetrics{ScrollHeight: 900, ClientHeight: 300}, map[string]string{"overflow-y": "visible"}, false},
		{"no overflow", ScrollMetrics{ScrollHeight: 300, ClientHeight: 300}, map[string]string{"overflow-y": "auto"}, false},
		{"wrong axis", ScrollMetrics{ScrollWidth: 900, ClientWidth: 300}, map[string]string{"overflow-y": "auto"}, false},
		{"document root", ScrollMetrics{ScrollHeight: 900, ClientHeight: 300, DocumentRoot: true}, map[string]string{"overflow": "auto"}, false},
	}
	for _, tc := range cases {
		el := newFakeElement(tc.name)
		el.metrics = tc.metrics
		el.computed = tc.style
		got, err := IsScrollable(context.Background(), el)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: IsScrollable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestScrollableElementCapture(t *testing.T) {
	h := newTestHost(1024, 2000, 700, 2)
	box := scrollBox("feed")
	box.inline["overflow-x"] = InlineStyle{Value: "hidden", Present: true}
	box.inline["max-height"] = InlineStyle{Value: "500px", Present: true}
	child := newFakeElement("item")
	child.computed["color"] = "oklch(0.628 0.2577 29.23)"
	h.page.byQuery["#feed"] = box
	h.page.subtrees[box] = []Element{box, child}
	h.renderer.watch = child
	wantBox := box.inlineCopy()
	s := h.session(testConfig())

	res, err := s.ScrollableElement(context.Background(), "#feed", Options{Format: FormatPNG})
	if err != nil {
		t.Fatalf("ScrollableElement: %v", err)
	}
	if res.Mode != ModeRegion || len(res.Files) != 1 {
		t.Fatalf("result = %+v", res)
	}

	during := h.renderer.inline
	for prop, want := range map[string]string{
		"width":      "400px",
		"min-width":  "400px",
		"max-width":  "400px",
		"overflow":   "visible",
		"max-height": "none",
	} {
		if during[prop].Value != want {
			t.Fatalf("%s during render = %q, want %q", prop, during[prop].Value, want)
		}
	}
	if c := h.renderer.child["color"]; c.Value != "rgba(255, 0, 0, 1)" || c.Priority != "important" {
		t.Fatalf("child color during render = %+v", c)
	}
	opt := h.renderer.opts
	if opt.Width != 400 || opt.Height != 3000 || opt.Scale != 2 || opt.WindowHeight != 3000 {
		t.Fatalf("render options = %+v", opt)
	}
	if h.page.lazyCalls != 1 {
		t.Fatalf("lazy media resolved %d times", h.page.lazyCalls)
	}

	assertInline(t, "box", box.inlineCopy(), wantBox)
	assertInline(t, "child", child.inlineCopy(), map[string]InlineStyle{})
	if box.metrics.ScrollTop != 120 {
		t.Fatalf("scrollTop = %g, want 120", box.metrics.ScrollTop)
	}

	f := h.sink.files[0]
	if !strings.HasSuffix(f.name, "_region.png") {
		t.Fatalf("filename = %q", f.name)
	}
	if b := decodeFile(t, f).Bounds(); b.Dx() != 800 || b.Dy() != 6000 {
		t.Fatalf("image %dx%d, want 800x6000", b.Dx(), b.Dy())
	}
}

func TestScrollableElementFailures(t *testing.T) {
	renderFail := errors.New("canvas tainted")
	cases := []struct {
		name  string
		setup func(*testHost, *fakeElement)
		check func(*testing.T, error)
	}{
		{
			name: "not scrollable",
			setup: func(h *testHost, el *fakeElement) {
				el.computed["overflow-y"] = "visible"
				el.computed["overflow"] = "visible"
			},
			check: func(t *testing.T, err error) {
				var ns *NotScrollableError
				if !errors.As(err, &ns) || ns.Selector != "#feed" {
					t.Fatalf("err = %v, want NotScrollableError", err)
				}
			},
		},
		{
			name: "no renderer",
			setup: func(h *testHost, el *fakeElement) {
				h.renderer = nil
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoRenderer) {
					t.Fatalf("err = %v, want ErrNoRenderer", err)
				}
			},
		},
		{
			name: "renderer throws",
			setup: func(h *testHost, el *fakeElement) {
				h.renderer.err = renderFail
			},
			check: func(t *testing.T, err error) {
				var re *RenderError
				if !errors.As(err, &re) || !errors.Is(err, renderFail) {
					t.Fatalf("err = %v, want RenderError", err)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHost(1024, 2000, 700, 1)
			box := scrollBox("feed")
			box.inline["width"] = InlineStyle{Value: "50%", Priority: "important", Present: true}
			h.page.byQuery["#feed"] = box
			tc.setup(h, box)
			want := box.inlineCopy()
			var s *Session
			if h.renderer == nil {
				s = NewSession(Host{Page: h.page, Screenshotter: h.shots, Sink: h.sink}, testConfig())
			} else {
				s = h.session(testConfig())
			}

			_, err := s.ScrollableElement(context.Background(), "#feed", Options{})
			var failed *CaptureFailedError
			if !errors.As(err, &failed) || failed.Mode != ModeRegion {
				t.Fatalf("err = %v, want CaptureFailedError for region", err)
			}
			tc.check(t, err)
			assertInline(t, "box", box.inlineCopy(), want)
			if box.metrics.ScrollTop != 120 {
				t.Fatalf("scrollTop = %g, want 120", box.metrics.ScrollTop)
			}
			if len(h.sink.files) != 0 {
				t.Fatal("failed capture reached the sink")
			}
			if s.State(ModeRegion) != Idle {
				t.Fatal("guard still running")
			}
		})
	}
}
