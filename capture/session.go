package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
)

// Host bundles the collaborators a Session drives. Renderer and Colors are
// optional: without a renderer element capture fails with ErrNoRenderer, and
// without a color resolver CSSColorResolver is used.
type Host struct {
	Page          Page
	Screenshotter Screenshotter
	Sink          Sink
	Renderer      Renderer
	Colors        ColorResolver
}

// File is one image handed to the sink.
type File struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  int    `json:"bytes"`
}

// Result describes a finished capture run.
type Result struct {
	Mode     Mode   `json:"mode"`
	Files    []File `json:"files"`
	Segments int    `json:"segments,omitempty"`
	Steps    int    `json:"steps,omitempty"`
}

// Session captures one page. It owns the page's single-flight guards, so
// independent pages get independent sessions.
type Session struct {
	page     Page
	shots    *ViewportCapturer
	sink     Sink
	renderer Renderer
	colors   *ColorNormalizer
	guard    *Guard
	cfg      Config
	logger   *log.Logger
}

// NewSession wires a session for h.
func NewSession(h Host, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		page:     h.Page,
		shots:    NewViewportCapturer(h.Screenshotter, cfg),
		sink:     h.Sink,
		renderer: h.Renderer,
		colors:   NewColorNormalizer(h.Page, h.Colors, cfg.Logger),
		guard:    NewGuard(cfg.ExclusiveModes),
		cfg:      cfg,
		logger:   cfg.Logger,
	}
}

// State reports whether a capture of mode m is running.
func (s *Session) State(m Mode) RunState { return s.guard.State(m) }

// Candidates lists the scrollable elements a region capture may target.
func (s *Session) Candidates(ctx context.Context) ([]ScrollableElement, error) {
	list, err := s.page.ScrollableElements(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: list scrollable elements: %w", err)
	}
	s.logger.Printf("CAPTURE scrollable candidates=%d", len(list))
	return list, nil
}

// run holds the guard for m around fn and turns failures into
// CaptureFailedError.
func (s *Session) run(ctx context.Context, m Mode, fn func(context.Context, *progress) (*Result, error)) (*Result, error) {
	if !s.guard.TryAcquire(m) {
		s.logger.Printf("CAPTURE mode=%s ignored: already running", m)
		return nil, ErrBusy
	}
	defer s.guard.Release(m)

	start := s.cfg.Clock()
	p := s.openProgress(ctx)
	defer p.close(context.WithoutCancel(ctx))

	res, err := fn(ctx, p)
	if err != nil {
		p.text(context.WithoutCancel(ctx), "Capture failed: "+Message(err))
		s.logger.Printf("CAPTURE mode=%s failed after %s: %v", m, s.cfg.Clock().Sub(start), err)
		return nil, &CaptureFailedError{Mode: m, Err: err}
	}
	res.Mode = m
	if len(res.Files) > 1 {
		p.text(ctx, fmt.Sprintf("Capture complete: %d parts saved", len(res.Files)))
	} else {
		p.text(ctx, "Capture complete")
	}
	s.logger.Printf("CAPTURE mode=%s files=%d in %s", m, len(res.Files), s.cfg.Clock().Sub(start))
	return res, nil
}

// save encodes img and hands it to the sink.
func (s *Session) save(ctx context.Context, img image.Image, opts Options, suffix string) (File, error) {
	e, err := s.encode(img, opts, suffix)
	if err != nil {
		return File{}, err
	}
	return s.deliver(ctx, e)
}

type encodedImage struct {
	name          string
	data          []byte
	width, height int
}

func (s *Session) encode(img image.Image, opts Options, suffix string) (encodedImage, error) {
	data, err := Encode(img, opts)
	if err != nil {
		return encodedImage{}, err
	}
	b := img.Bounds()
	return encodedImage{name: Filename(s.cfg.Clock(), suffix, opts.Format), data: data, width: b.Dx(), height: b.Dy()}, nil
}

func (s *Session) deliver(ctx context.Context, e encodedImage) (File, error) {
	id, err := s.sink.Download(ctx, e.data, e.name)
	if err != nil {
		return File{}, &DownloadError{Filename: e.name, Err: err}
	}
	s.logger.Printf("SINK saved %s id=%s %dx%d bytes=%d", e.name, id, e.width, e.height, len(e.data))
	return File{Name: e.name, ID: id, Width: e.width, Height: e.height, Bytes: len(e.data)}, nil
}

// discard takes delivered files back from sinks that support it.
func (s *Session) discard(ctx context.Context, files []File) {
	rm, ok := s.sink.(Remover)
	if !ok {
		if len(files) > 0 {
			s.logger.Printf("SINK cannot take back %d partial files", len(files))
		}
		return
	}
	for _, f := range files {
		if err := rm.Remove(ctx, f.ID); err != nil {
			s.logger.Printf("SINK remove %s: %v", f.ID, err)
			continue
		}
		s.logger.Printf("SINK removed partial %s", f.ID)
	}
}

// captureClean takes a viewport capture with the progress overlay hidden.
func (s *Session) captureClean(ctx context.Context, p *progress) (image.Image, error) {
	if err := p.hide(ctx); err != nil {
		return nil, err
	}
	if err := sleep(ctx, s.cfg.Timing.OverlayToggle); err != nil {
		return nil, err
	}
	img, err := s.shots.Capture(ctx)
	p.show(ctx)
	return img, err
}

// progress drives the optional overlay. Only hide failures matter, since a
// visible overlay would end up in the capture.
type progress struct {
	ov     Overlay
	logger *log.Logger
}

func (s *Session) openProgress(ctx context.Context) *progress {
	p := &progress{logger: s.logger}
	ov, err := s.page.NewOverlay(ctx)
	if err != nil {
		s.logger.Printf("CAPTURE progress overlay unavailable: %v", err)
		return p
	}
	p.ov = ov
	return p
}

func (p *progress) element() Element {
	if p.ov == nil {
		return nil
	}
	return p.ov.Element()
}

func (p *progress) text(ctx context.Context, msg string) {
	if p.ov == nil {
		return
	}
	if err := p.ov.SetText(ctx, msg); err != nil {
		p.logger.Printf("CAPTURE progress text: %v", err)
	}
}

func (p *progress) hide(ctx context.Context) error {
	if p.ov == nil {
		return nil
	}
	if err := p.ov.SetVisible(ctx, false); err != nil {
		return fmt.Errorf("hide progress overlay: %w", err)
	}
	return nil
}

func (p *progress) show(ctx context.Context) {
	if p.ov == nil {
		return
	}
	if err := p.ov.SetVisible(ctx, true); err != nil {
		p.logger.Printf("CAPTURE progress show: %v", err)
	}
}

func (p *progress) close(ctx context.Context) {
	if p.ov == nil {
		return
	}
	if err := p.ov.Remove(ctx); err != nil {
		p.logger.Printf("CAPTURE progress remove: %v", err)
	}
}

// Action names a mode-trigger message.
type Action string

const (
	ActionStartCapture             Action = "startCapture"
	ActionCaptureVisible           Action = "captureVisible"
	ActionEnableManualSelector     Action = "enableManualSelector"
	ActionEnableRegionSelector     Action = "enableRegionSelector"
	ActionCaptureScrollableElement Action = "captureScrollableElement"
)

// Trigger is a mode-trigger message. Manual selection carries the region the
// selection front end produced.
type Trigger struct {
	Action   Action   `json:"action"`
	Format   string   `json:"format,omitempty"`
	Quality  *float64 `json:"quality,omitempty"`
	Selector string   `json:"selector,omitempty"`
	Region   *Region  `json:"region,omitempty"`
}

// Options returns the output options carried by t.
func (t Trigger) Options() (Options, error) {
	f, err := ParseFormat(t.Format)
	if err != nil {
		return Options{}, err
	}
	q := DefaultQuality
	if t.Quality != nil {
		q = *t.Quality
	}
	return Options{Format: f, Quality: q}.Normalized(), nil
}

// Reply is the outcome of a trigger: a finished capture or, for
// enableRegionSelector, the candidates to pick from.
type Reply struct {
	Result     *Result             `json:"result,omitempty"`
	Candidates []ScrollableElement `json:"candidates,omitempty"`
}

var errNoRegion = errors.New("capture: manual selection carries no region")

// Handle dispatches a trigger to the matching capture mode.
func (s *Session) Handle(ctx context.Context, t Trigger) (*Reply, error) {
	opts, err := t.Options()
	if err != nil {
		return nil, err
	}
	var res *Result
	switch t.Action {
	case ActionStartCapture:
		res, err = s.FullPage(ctx, opts)
	case ActionCaptureVisible:
		res, err = s.Visible(ctx, opts)
	case ActionEnableManualSelector:
		if t.Region == nil {
			return nil, errNoRegion
		}
		if err := t.Region.Validate(); err != nil {
			return nil, err
		}
		res, err = s.ManualRegion(ctx, *t.Region, opts)
	case ActionEnableRegionSelector:
		list, err := s.Candidates(ctx)
		if err != nil {
			return nil, err
		}
		return &Reply{Candidates: list}, nil
	case ActionCaptureScrollableElement:
		res, err = s.ScrollableElement(ctx, t.Selector, opts)
	default:
		return nil, fmt.Errorf("capture: unknown action %q", t.Action)
	}
	if err != nil {
		return nil, err
	}
	return &Reply{Result: res}, nil
}
