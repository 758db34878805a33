package capture

import (
	"errors"
	"fmt"
	"time"
)

// ErrBusy is returned when a capture of the same kind is already running on
// the session.
var ErrBusy = errors.New("capture: already in progress")

// ErrNoRenderer is wrapped in a RenderError when element capture has no
// renderer to call.
var ErrNoRenderer = errors.New("renderer unavailable")

var errEmptyScreenshot = errors.New("empty screenshot data")

// GeometryError reports a page that cannot be planned into raster segments.
type GeometryError struct {
	Width  float64
	Height float64
	Scale  float64
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("capture: geometry %gx%g@%g: %s", e.Width, e.Height, e.Scale, e.Reason)
}

// CaptureTimeoutError reports a viewport capture or decode that exceeded its
// per-attempt deadline.
type CaptureTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *CaptureTimeoutError) Error() string {
	return fmt.Sprintf("capture: %s timed out after %s", e.Stage, e.Timeout)
}

// CaptureDecodeError reports screenshot bytes that could not be decoded.
type CaptureDecodeError struct {
	Err error
}

func (e *CaptureDecodeError) Error() string { return "capture: decode screenshot: " + e.Err.Error() }
func (e *CaptureDecodeError) Unwrap() error { return e.Err }

// CaptureExhaustedError is returned after every viewport capture attempt failed.
type CaptureExhaustedError struct {
	Attempts int
	Err      error
}

func (e *CaptureExhaustedError) Error() string {
	return fmt.Sprintf("capture: viewport capture failed after %d attempts: %v", e.Attempts, e.Err)
}
func (e *CaptureExhaustedError) Unwrap() error { return e.Err }

// NotScrollableError reports an element capture target without scrollable
// overflow.
type NotScrollableError struct {
	Selector string
}

func (e *NotScrollableError) Error() string {
	if e.Selector == "" {
		return "capture: element is not scrollable"
	}
	return fmt.Sprintf("capture: element %q is not scrollable", e.Selector)
}

// RenderError wraps a failure of the DOM-to-raster renderer.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return "capture: render: " + e.Err.Error() }
func (e *RenderError) Unwrap() error { return e.Err }

// DownloadError reports the sink rejecting an image.
type DownloadError struct {
	Filename string
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("capture: download %s: %v", e.Filename, e.Err)
}
func (e *DownloadError) Unwrap() error { return e.Err }

// CaptureFailedError is the umbrella error surfaced for a failed run.
type CaptureFailedError struct {
	Mode Mode
	Err  error
}

func (e *CaptureFailedError) Error() string {
	return fmt.Sprintf("capture %s failed: %v", e.Mode, e.Err)
}
func (e *CaptureFailedError) Unwrap() error { return e.Err }

// Message returns a short human-readable description of err.
func Message(err error) string {
	var (
		geo    *GeometryError
		notScr *NotScrollableError
		render *RenderError
		dl     *DownloadError
		ex     *CaptureExhaustedError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "a capture is already in progress"
	case errors.As(err, &geo):
		if geo.Reason == reasonTooWide {
			return "page too wide to capture"
		}
		return "page cannot be captured: " + geo.Reason
	case errors.As(err, &notScr):
		return "the selected area is not scrollable"
	case errors.As(err, &render):
		return "could not render the selected area"
	case errors.As(err, &dl):
		return "could not save the screenshot"
	case errors.As(err, &ex):
		return "could not capture the visible page"
	default:
		return "capture failed"
	}
}
