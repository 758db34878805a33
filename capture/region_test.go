package capture

import (
	"context"
	"strings"
	"testing"
)

func TestManualRegionCrop(t *testing.T) {
	h := newTestHost(800, 5000, 1000, 1)
	s := h.session(testConfig())

	r := Region{Left: 10, Top: 20, Width: 100, Height: 50}
	res, err := s.ManualRegion(context.Background(), r, Options{Format: FormatPNG})
	if err != nil {
		t.Fatalf("ManualRegion: %v", err)
	}
	if res.Mode != ModeManual || len(res.Files) != 1 {
		t.Fatalf("result = %+v", res)
	}
	f := h.sink.files[0]
	if !strings.HasSuffix(f.name, "_manual.png") {
		t.Fatalf("filename = %q", f.name)
	}
	img := decodeFile(t, f)
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("crop %dx%d, want 100x50", b.Dx(), b.Dy())
	}
	if got := pixel(img, 0, 0); got != rowColor(20) {
		t.Fatalf("top-left = %v, want source row 20", got)
	}
	if got := pixel(img, 99, 49); got != rowColor(69) {
		t.Fatalf("bottom-right = %v, want source row 69", got)
	}
	if h.shots.leaks != 0 {
		t.Fatal("overlay visible in capture")
	}
}

func TestManualRegionScaled(t *testing.T) {
	h := newTestHost(400, 2000, 500, 2)
	h.page.y = 300
	s := h.session(testConfig())

	r := Region{Left: 5, Top: 10, Width: 40, Height: 30, ScrollY: 300}
	if _, err := s.ManualRegion(context.Background(), r, Options{}); err != nil {
		t.Fatalf("ManualRegion: %v", err)
	}
	img := decodeFile(t, h.sink.files[0])
	if b := img.Bounds(); b.Dx() != 80 || b.Dy() != 60 {
		t.Fatalf("crop %dx%d, want 80x60", b.Dx(), b.Dy())
	}
	if got := pixel(img, 0, 0); got != rowColor(600+20) {
		t.Fatalf("top-left = %v, want row %d", got, 620)
	}
}

func TestVisiblePassThrough(t *testing.T) {
	h := newTestHost(640, 3000, 480, 1)
	h.page.y = 100
	s := h.session(testConfig())

	res, err := s.Visible(context.Background(), Options{Format: FormatJPEG, Quality: 0.8})
	if err != nil {
		t.Fatalf("Visible: %v", err)
	}
	if res.Mode != ModeVisible {
		t.Fatalf("mode = %s", res.Mode)
	}
	f := h.sink.files[0]
	if f.name != "webpage_20240102_030405_visible.jpeg" {
		t.Fatalf("filename = %q", f.name)
	}
	img := decodeFile(t, f)
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Fatalf("image %dx%d, want 640x480", b.Dx(), b.Dy())
	}
}

func TestHandleManualSelectorRejectsSmallSelection(t *testing.T) {
	h := newTestHost(800, 1000, 1000, 1)
	s := h.session(testConfig())

	cases := []Trigger{
		{Action: ActionEnableManualSelector},
		{Action: ActionEnableManualSelector, Region: &Region{Width: 9, Height: 50}},
		{Action: ActionEnableManualSelector, Region: &Region{Width: 50, Height: 5}},
	}
	for _, tr := range cases {
		if _, err := s.Handle(context.Background(), tr); err == nil {
			t.Fatalf("Handle(%+v) succeeded", tr.Region)
		}
	}
	if h.shots.calls != 0 || len(h.sink.files) != 0 {
		t.Fatal("rejected selection reached the capture path")
	}
}
