package capture

import (
	"context"
	"image"
	"image/color"
)

// Geometry is the page layout recorded once at the start of a capture.
type Geometry struct {
	PageWidth        float64
	PageHeight       float64
	ViewportHeight   float64
	DevicePixelRatio float64
}

// Scale returns the device pixel ratio, defaulting to 1.
func (g Geometry) Scale() float64 {
	if g.DevicePixelRatio <= 0 {
		return 1
	}
	return g.DevicePixelRatio
}

// Rect is a rectangle in CSS pixels.
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// ScrollMetrics describes the scroll box of an element.
type ScrollMetrics struct {
	ScrollWidth  float64
	ScrollHeight float64
	ClientWidth  float64
	ClientHeight float64
	ScrollLeft   float64
	ScrollTop    float64
	// DocumentRoot is set for body and the document element.
	DocumentRoot bool
}

// InlineStyle is one property of an element's inline style declaration.
// Present is false when the property is not set inline.
type InlineStyle struct {
	Value    string
	Priority string
	Present  bool
}

// Element is an opaque handle to a node of the captured page.
type Element interface {
	BoundingRect(ctx context.Context) (Rect, error)
	ComputedStyle(ctx context.Context, props ...string) (map[string]string, error)
	InlineStyle(ctx context.Context, prop string) (InlineStyle, error)
	SetStyle(ctx context.Context, prop, value, priority string) error
	RemoveStyle(ctx context.Context, prop string) error
	ScrollMetrics(ctx context.Context) (ScrollMetrics, error)
	ScrollTo(ctx context.Context, left, top float64) error
}

// Overlay is the progress indicator shown while a capture runs. It must never
// appear in a captured bitmap.
type Overlay interface {
	SetText(ctx context.Context, text string) error
	SetVisible(ctx context.Context, visible bool) error
	Remove(ctx context.Context) error
	Element() Element
}

// ScrollableElement is a candidate target for element capture.
type ScrollableElement struct {
	Selector     string  `json:"selector"`
	ScrollWidth  float64 `json:"scrollWidth"`
	ScrollHeight float64 `json:"scrollHeight"`
	ClientWidth  float64 `json:"clientWidth"`
	ClientHeight float64 `json:"clientHeight"`
}

// Page is the host page a session captures.
type Page interface {
	Geometry(ctx context.Context) (Geometry, error)
	ScrollPosition(ctx context.Context) (x, y float64, err error)
	ScrollTo(ctx context.Context, x, y float64) error
	DocumentOverflow(ctx context.Context) (body, html string, err error)
	SetDocumentOverflow(ctx context.Context, body, html string) error
	// FixedElements returns visible elements with computed position fixed or
	// sticky and a non-zero height, skipping exclude and its ancestors.
	FixedElements(ctx context.Context, exclude Element) ([]Element, error)
	Query(ctx context.Context, selector string) (Element, error)
	// Subtree returns root followed by all of its descendants in document order.
	Subtree(ctx context.Context, root Element) ([]Element, error)
	ScrollableElements(ctx context.Context) ([]ScrollableElement, error)
	// ResolveLazyMedia switches lazy media under root to eager loading and
	// blocks until every pending load settles or ctx is done.
	ResolveLazyMedia(ctx context.Context, root Element) error
	NewOverlay(ctx context.Context) (Overlay, error)
}

// Screenshotter is the host primitive producing an encoded image of the
// currently visible viewport.
type Screenshotter interface {
	CaptureVisibleViewport(ctx context.Context, format Format, quality int) ([]byte, error)
}

// RenderOptions are passed to the DOM-to-raster renderer.
type RenderOptions struct {
	Width        float64
	Height       float64
	WindowWidth  float64
	WindowHeight float64
	Scale        float64
	Background   color.Color
}

// Renderer rasterizes an element subtree at its full size.
type Renderer interface {
	Render(ctx context.Context, el Element, opt RenderOptions) (image.Image, error)
}

// ColorResolver converts any CSS color value into explicit sRGB channels.
type ColorResolver interface {
	ResolveColor(ctx context.Context, value string) (color.NRGBA, error)
}

// Sink accepts encoded images and stores them under filename.
type Sink interface {
	Download(ctx context.Context, data []byte, filename string) (string, error)
}

// Remover is implemented by sinks that can take back a stored file by the id
// Download returned.
type Remover interface {
	Remove(ctx context.Context, id string) error
}
