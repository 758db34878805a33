package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log"
	"time"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ViewportCapturer wraps the host screenshot primitive with per-attempt
// timeouts and bounded retry, and decodes the result.
type ViewportCapturer struct {
	shot           Screenshotter
	attempts       int
	backoff        time.Duration
	captureTimeout time.Duration
	decodeTimeout  time.Duration
	logger         *log.Logger
}

// NewViewportCapturer builds a capturer from cfg.
func NewViewportCapturer(shot Screenshotter, cfg Config) *ViewportCapturer {
	cfg = cfg.withDefaults()
	return &ViewportCapturer{
		shot:           shot,
		attempts:       cfg.Attempts,
		backoff:        cfg.Timing.RetryBackoff,
		captureTimeout: cfg.Timing.CaptureTimeout,
		decodeTimeout:  cfg.Timing.DecodeTimeout,
		logger:         cfg.Logger,
	}
}

// Capture returns the decoded bitmap of the visible viewport.
func (c *ViewportCapturer) Capture(ctx context.Context) (image.Image, error) {
	var last error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		img, err := c.once(ctx)
		if err == nil {
			return img, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		last = err
		c.logger.Printf("SHOT attempt %d/%d failed: %v", attempt, c.attempts, err)
		if attempt < c.attempts {
			if err := sleep(ctx, c.backoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, &CaptureExhaustedError{Attempts: c.attempts, Err: last}
}

type shotResult struct {
	data []byte
	err  error
}

type decodeResult struct {
	img image.Image
	err error
}

func (c *ViewportCapturer) once(ctx context.Context) (image.Image, error) {
	data, err := c.raw(ctx)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &CaptureDecodeError{Err: errEmptyScreenshot}
	}

	done := make(chan decodeResult, 1)
	go func() {
		img, _, err := image.Decode(bytes.NewReader(data))
		done <- decodeResult{img: img, err: err}
	}()
	var timeout <-chan time.Time
	if c.decodeTimeout > 0 {
		t := time.NewTimer(c.decodeTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case res := <-done:
		if res.err != nil {
			return nil, &CaptureDecodeError{Err: res.err}
		}
		return res.img, nil
	case <-timeout:
		return nil, &CaptureTimeoutError{Stage: "decode", Timeout: c.decodeTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// raw runs the screenshot primitive once. The call is abandoned, not
// interrupted, when the primitive ignores its context past the deadline.
func (c *ViewportCapturer) raw(ctx context.Context) ([]byte, error) {
	actx := ctx
	cancel := func() {}
	if c.captureTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, c.captureTimeout)
	}
	defer cancel()

	done := make(chan shotResult, 1)
	go func() {
		data, err := c.shot.CaptureVisibleViewport(actx, FormatPNG, 100)
		done <- shotResult{data: data, err: err}
	}()
	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &CaptureTimeoutError{Stage: "capture", Timeout: c.captureTimeout}
		}
		return res.data, res.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &CaptureTimeoutError{Stage: "capture", Timeout: c.captureTimeout}
	}
}
