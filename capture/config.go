package capture

import (
	"context"
	"log"
	"time"
)

// Timing holds the fixed waits of a capture run. Zero waits are skipped.
type Timing struct {
	Prepare         time.Duration
	Settle          time.Duration
	OverlayToggle   time.Duration
	FixedSettle     time.Duration
	ExpandSettle    time.Duration
	PostMediaSettle time.Duration
	MediaWait       time.Duration
	RetryBackoff    time.Duration
	CaptureTimeout  time.Duration
	DecodeTimeout   time.Duration
}

// DefaultTiming returns the waits a desktop browser needs in practice.
func DefaultTiming() Timing {
	return Timing{
		Prepare:         100 * time.Millisecond,
		Settle:          200 * time.Millisecond,
		OverlayToggle:   50 * time.Millisecond,
		FixedSettle:     100 * time.Millisecond,
		ExpandSettle:    300 * time.Millisecond,
		PostMediaSettle: 200 * time.Millisecond,
		MediaWait:       3 * time.Second,
		RetryBackoff:    500 * time.Millisecond,
		CaptureTimeout:  5 * time.Second,
		DecodeTimeout:   3 * time.Second,
	}
}

// DefaultAttempts bounds viewport capture retries.
const DefaultAttempts = 3

// Config wires a Session.
type Config struct {
	Timing   Timing
	Attempts int
	// ExclusiveModes makes every mode share one single-flight guard.
	ExclusiveModes bool
	// OverlayAllSegments composites the fixed element capture onto the top of
	// every segment instead of segment 0 only.
	OverlayAllSegments bool
	// SplitAcrossSegments draws the rows of a viewport step that cross a
	// segment boundary into the following segment instead of clipping them.
	SplitAcrossSegments bool
	Logger              *log.Logger
	Clock               func() time.Time
}

// DefaultConfig returns the stock waits, three capture attempts and the
// default logger.
func DefaultConfig() Config {
	return Config{
		Timing:   DefaultTiming(),
		Attempts: DefaultAttempts,
		Logger:   log.Default(),
		Clock:    time.Now,
	}
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
