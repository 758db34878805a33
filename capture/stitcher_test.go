package capture

import (
	"context"
	"errors"
	"testing"
)

func TestFullPageEndToEnd(t *testing.T) {
	h := newTestHost(800, 5000, 1000, 1)
	h.page.y = 1234
	s := h.session(testConfig())

	res, err := s.FullPage(context.Background(), Options{Format: FormatPNG, Quality: 0.9})
	if err != nil {
		t.Fatalf("FullPage: %v", err)
	}
	if res.Steps != 5 || res.Segments != 1 || len(res.Files) != 1 {
		t.Fatalf("steps=%d segments=%d files=%d, want 5/1/1", res.Steps, res.Segments, len(res.Files))
	}
	if len(h.sink.files) != 1 {
		t.Fatalf("sink got %d files, want 1", len(h.sink.files))
	}
	if got, want := h.sink.files[0].name, "webpage_20240102_030405.png"; got != want {
		t.Fatalf("filename = %q, want %q", got, want)
	}
	img := decodeFile(t, h.sink.files[0])
	if b := img.Bounds(); b.Dx() != 800 || b.Dy() != 5000 {
		t.Fatalf("image %dx%d, want 800x5000", b.Dx(), b.Dy())
	}
	for _, row := range []int{0, 999, 1000, 2500, 4999} {
		if got := pixel(img, 400, row); got != rowColor(row) {
			t.Fatalf("row %d = %v, want %v", row, got, rowColor(row))
		}
	}
	if h.shots.leaks != 0 {
		t.Fatalf("progress overlay visible in %d captures", h.shots.leaks)
	}
	if h.page.y != 1234 {
		t.Fatalf("scroll restored to %g, want 1234", h.page.y)
	}
	if !h.page.overlay.removed {
		t.Fatal("progress overlay was not removed")
	}
	if s.State(ModeFullPage) != Idle {
		t.Fatal("guard still running after capture")
	}
}

func TestFullPageHiDPI(t *testing.T) {
	h := newTestHost(400, 1500, 600, 2)
	s := h.session(testConfig())

	res, err := s.FullPage(context.Background(), Options{})
	if err != nil {
		t.Fatalf("FullPage: %v", err)
	}
	if res.Steps != 3 {
		t.Fatalf("steps = %d, want 3", res.Steps)
	}
	img := decodeFile(t, h.sink.files[0])
	if b := img.Bounds(); b.Dx() != 800 || b.Dy() != 3000 {
		t.Fatalf("image %dx%d, want 800x3000", b.Dx(), b.Dy())
	}
	// The last step is clamped to 900 CSS px, so its rows come from the
	// lower part of the bitmap.
	for _, row := range []int{0, 1199, 1200, 2400, 2999} {
		if got := pixel(img, 10, row); got != rowColor(row) {
			t.Fatalf("row %d = %v, want %v", row, got, rowColor(row))
		}
	}
}

func TestFullPageFixedElements(t *testing.T) {
	h := newTestHost(300, 3000, 1000, 1)
	header := newFakeElement("header")
	header.inline["visibility"] = InlineStyle{Value: "visible", Priority: "important", Present: true}
	header.inline["top"] = InlineStyle{Value: "0px", Present: true}
	banner := newFakeElement("banner")
	h.page.fixed = []*fakeElement{header, banner}
	wantHeader := header.inlineCopy()
	s := h.session(testConfig())

	if _, err := s.FullPage(context.Background(), Options{}); err != nil {
		t.Fatalf("FullPage: %v", err)
	}
	img := decodeFile(t, h.sink.files[0])
	for _, row := range []int{0, fixedRows - 1} {
		if got := pixel(img, 5, row); got != fixedColor {
			t.Fatalf("row %d = %v, want fixed chrome", row, got)
		}
	}
	// Later viewport steps were taken with the chrome hidden.
	for _, row := range []int{1000, 1000 + fixedRows - 1, 2000} {
		if got := pixel(img, 5, row); got != rowColor(row) {
			t.Fatalf("row %d = %v, want page content %v", row, got, rowColor(row))
		}
	}
	assertInline(t, "header", header.inlineCopy(), wantHeader)
	assertInline(t, "banner", banner.inlineCopy(), map[string]InlineStyle{})
}

func TestFullPageOverlayAllSegments(t *testing.T) {
	h := newTestHost(100, 40000, 1000, 1)
	h.page.fixed = []*fakeElement{newFakeElement("nav")}
	cfg := testConfig()
	cfg.OverlayAllSegments = true
	s := h.session(cfg)

	res, err := s.FullPage(context.Background(), Options{})
	if err != nil {
		t.Fatalf("FullPage: %v", err)
	}
	if len(res.Files) != 2 {
		t.Fatalf("files = %d, want 2", len(res.Files))
	}
	for _, f := range h.sink.files {
		if got := pixel(decodeFile(t, f), 0, 0); got != fixedColor {
			t.Fatalf("%s top row = %v, want fixed chrome", f.name, got)
		}
	}
}

func TestFullPageSegments(t *testing.T) {
	cases := []struct {
		name  string
		split bool
	}{
		{name: "clipped", split: false},
		{name: "split", split: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHost(100, 40000, 1000, 1)
			cfg := testConfig()
			cfg.SplitAcrossSegments = tc.split
			s := h.session(cfg)

			res, err := s.FullPage(context.Background(), Options{})
			if err != nil {
				t.Fatalf("FullPage: %v", err)
			}
			if res.Segments != 2 || res.Steps != 40 {
				t.Fatalf("segments=%d steps=%d, want 2/40", res.Segments, res.Steps)
			}
			names := []string{h.sink.files[0].name, h.sink.files[1].name}
			if names[0] != "webpage_20240102_030405_part1.png" || names[1] != "webpage_20240102_030405_part2.png" {
				t.Fatalf("names = %v", names)
			}
			first := decodeFile(t, h.sink.files[0])
			second := decodeFile(t, h.sink.files[1])
			if first.Bounds().Dy() != MaxRasterHeight || second.Bounds().Dy() != 40000-MaxRasterHeight {
				t.Fatalf("heights %d/%d", first.Bounds().Dy(), second.Bounds().Dy())
			}
			if got := pixel(first, 0, MaxRasterHeight-1); got != rowColor(MaxRasterHeight-1) {
				t.Fatalf("last row of segment 0 = %v", got)
			}
			// Step 33 starts at page row 33000, offset 233 in segment 1.
			if got := pixel(second, 0, 233); got != rowColor(33000) {
				t.Fatalf("segment 1 row 233 = %v, want %v", got, rowColor(33000))
			}
			got := pixel(second, 0, 0)
			if tc.split {
				if got != rowColor(MaxRasterHeight) {
					t.Fatalf("segment 1 row 0 = %v, want %v", got, rowColor(MaxRasterHeight))
				}
			} else if got != white {
				t.Fatalf("segment 1 row 0 = %v, want white background", got)
			}
		})
	}
}

func TestFullPageRestoresAfterFailure(t *testing.T) {
	h := newTestHost(300, 3000, 1000, 1)
	h.page.y = 700
	h.page.htmlOverflow = "scroll"
	header := newFakeElement("header")
	header.inline["visibility"] = InlineStyle{Value: "visible", Present: true}
	h.page.fixed = []*fakeElement{header}
	h.page.failScrollAt = 2
	s := h.session(testConfig())

	_, err := s.FullPage(context.Background(), Options{})
	var failed *CaptureFailedError
	if !errors.As(err, &failed) || failed.Mode != ModeFullPage {
		t.Fatalf("err = %v, want CaptureFailedError for fullpage", err)
	}
	if len(h.sink.files) != 0 {
		t.Fatalf("sink got %d files after failure", len(h.sink.files))
	}
	assertInline(t, "header", header.inlineCopy(), map[string]InlineStyle{
		"visibility": {Value: "visible", Present: true},
	})
	if h.page.y != 700 {
		t.Fatalf("scroll = %g, want 700", h.page.y)
	}
	if h.page.bodyOverflow != "auto" || h.page.htmlOverflow != "scroll" {
		t.Fatalf("overflow = %q/%q", h.page.bodyOverflow, h.page.htmlOverflow)
	}
	if s.State(ModeFullPage) != Idle {
		t.Fatal("guard still running after failure")
	}
}

func TestFullPageDownloadFailure(t *testing.T) {
	h := newTestHost(300, 1000, 1000, 1)
	h.sink.err = errors.New("disk full")
	s := h.session(testConfig())

	_, err := s.FullPage(context.Background(), Options{})
	var dl *DownloadError
	if !errors.As(err, &dl) {
		t.Fatalf("err = %v, want DownloadError", err)
	}
	if Message(err) != "could not save the screenshot" {
		t.Fatalf("Message = %q", Message(err))
	}
}

func TestFullPageDownloadFailureTakesBackParts(t *testing.T) {
	cases := []struct {
		name     string
		removing bool
		left     int
	}{
		{name: "sink can remove", removing: true, left: 0},
		{name: "sink cannot remove", removing: false, left: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHost(100, 40000, 1000, 1)
			h.sink.err = errors.New("disk full")
			h.sink.failAt = 2
			rs := &removingSink{fakeSink: h.sink}
			var sink Sink = h.sink
			if tc.removing {
				sink = rs
			}
			s := NewSession(Host{Page: h.page, Screenshotter: h.shots, Sink: sink}, testConfig())

			_, err := s.FullPage(context.Background(), Options{})
			var dl *DownloadError
			if !errors.As(err, &dl) || dl.Filename != "webpage_20240102_030405_part2.png" {
				t.Fatalf("err = %v, want DownloadError for part 2", err)
			}
			if len(h.sink.files) != tc.left {
				t.Fatalf("files left in sink = %d, want %d", len(h.sink.files), tc.left)
			}
			if tc.removing && (len(rs.removed) != 1 || rs.removed[0] != "webpage_20240102_030405_part1.png") {
				t.Fatalf("removed = %v", rs.removed)
			}
		})
	}
}

func TestFullPageTooWide(t *testing.T) {
	h := newTestHost(MaxRasterPixels+1, 1000, 1000, 1)
	s := h.session(testConfig())

	_, err := s.FullPage(context.Background(), Options{})
	var geo *GeometryError
	if !errors.As(err, &geo) {
		t.Fatalf("err = %v, want GeometryError", err)
	}
	if Message(err) != "page too wide to capture" {
		t.Fatalf("Message = %q", Message(err))
	}
	if h.shots.calls != 0 {
		t.Fatalf("captured %d viewports for an impossible plan", h.shots.calls)
	}
}

func TestFullPageSingleFlight(t *testing.T) {
	cases := []struct {
		name      string
		exclusive bool
		second    func(*Session) error
		wantBusy  bool
	}{
		{
			name: "same mode",
			second: func(s *Session) error {
				_, err := s.FullPage(context.Background(), Options{})
				return err
			},
			wantBusy: true,
		},
		{
			name: "other mode",
			second: func(s *Session) error {
				_, err := s.ScrollableElement(context.Background(), "#missing", Options{})
				return err
			},
		},
		{
			name:      "exclusive",
			exclusive: true,
			second: func(s *Session) error {
				_, err := s.ScrollableElement(context.Background(), "#missing", Options{})
				return err
			},
			wantBusy: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHost(300, 2000, 1000, 1)
			h.shots.started = make(chan struct{}, 1)
			h.shots.block = make(chan struct{})
			cfg := testConfig()
			cfg.ExclusiveModes = tc.exclusive
			s := h.session(cfg)

			done := make(chan error, 1)
			go func() {
				_, err := s.FullPage(context.Background(), Options{})
				done <- err
			}()
			<-h.shots.started

			err := tc.second(s)
			if busy := errors.Is(err, ErrBusy); busy != tc.wantBusy {
				t.Fatalf("second call err = %v, want busy=%v", err, tc.wantBusy)
			}
			close(h.shots.block)
			if err := <-done; err != nil {
				t.Fatalf("first run: %v", err)
			}
			if len(h.sink.files) != 1 {
				t.Fatalf("sink got %d files, want 1", len(h.sink.files))
			}
		})
	}
}

func assertInline(t *testing.T, name string, got, want map[string]InlineStyle) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s inline = %v, want %v", name, got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s inline %s = %+v, want %+v", name, k, got[k], v)
		}
	}
}
