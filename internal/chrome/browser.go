// Package chrome hosts capture sessions in headless Chrome over the DevTools
// protocol.
package chrome

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Config controls the browser process and the default tab viewport.
type Config struct {
	ExecPath       string
	ViewportWidth  int
	ViewportHeight int
	// DeviceScaleFactor is the emulated device pixel ratio.
	DeviceScaleFactor float64
	NoSandbox         bool
	Logger            *log.Logger
}

// DefaultConfig returns a desktop-sized viewport at 1x.
func DefaultConfig() Config {
	return Config{
		ViewportWidth:     1280,
		ViewportHeight:    800,
		DeviceScaleFactor: 1,
		Logger:            log.Default(),
	}
}

// Browser owns one Chrome process shared by every tab.
type Browser struct {
	allocator context.Context
	cancel    context.CancelFunc
	cfg       Config
	logger    *log.Logger
}

// NewBrowser prepares an allocator; Chrome starts with the first tab.
func NewBrowser(cfg Config) *Browser {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		d := DefaultConfig()
		cfg.ViewportWidth, cfg.ViewportHeight = d.ViewportWidth, d.ViewportHeight
	}
	if cfg.DeviceScaleFactor <= 0 {
		cfg.DeviceScaleFactor = 1
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{allocator: allocCtx, cancel: cancel, cfg: cfg, logger: cfg.Logger}
}

// Close stops Chrome and every tab.
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// OpenOptions describe the page a tab loads.
type OpenOptions struct {
	URL    string
	Header http.Header
	Jar    http.CookieJar
	// WaitSelector blocks until a matching element is visible.
	WaitSelector string
	// NetworkIdle waits for this long without network activity.
	NetworkIdle time.Duration
	// Settle is an extra fixed wait after load.
	Settle  time.Duration
	Scripts []string
	// Viewport overrides the browser default when non-zero.
	ViewportWidth     int
	ViewportHeight    int
	DeviceScaleFactor float64
	Timeout           time.Duration
}

// activity counts in-flight requests for the network idle wait.
type activity struct {
	mu     sync.Mutex
	active int
	last   time.Time
}

func (a *activity) touch(delta int) {
	a.mu.Lock()
	a.active += delta
	if a.active < 0 {
		a.active = 0
	}
	a.last = time.Now()
	a.mu.Unlock()
}

func (a *activity) idleFor() (int, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active, time.Since(a.last)
}

// Open starts a tab and loads opt.URL. The tab outlives ctx; call Close on
// it when done.
func (b *Browser) Open(ctx context.Context, opt OpenOptions) (*Tab, error) {
	target := strings.TrimSpace(opt.URL)
	if target == "" {
		return nil, fmt.Errorf("chrome: empty target url")
	}
	width, height, dpr := opt.ViewportWidth, opt.ViewportHeight, opt.DeviceScaleFactor
	if width <= 0 || height <= 0 {
		width, height = b.cfg.ViewportWidth, b.cfg.ViewportHeight
	}
	if dpr <= 0 {
		dpr = b.cfg.DeviceScaleFactor
	}

	tabCtx, cancelTab := chromedp.NewContext(b.allocator)
	// The first Run binds the target to tabCtx.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		return nil, fmt.Errorf("chrome: start tab: %w", err)
	}
	tab := &Tab{ctx: tabCtx, cancel: cancelTab, dpr: dpr, logger: b.logger}

	act := &activity{last: time.Now()}
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			act.touch(1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			act.touch(-1)
		}
	})

	actions := []chromedp.Action{
		network.Enable(),
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), dpr, false),
	}
	hdr := cloneHeader(opt.Header)
	if ua := hdr.Get("User-Agent"); ua != "" {
		actions = append(actions, emulation.SetUserAgentOverride(ua))
		hdr.Del("User-Agent")
	}
	if extra := extraHeaders(hdr); len(extra) > 0 {
		actions = append(actions, network.SetExtraHTTPHeaders(extra))
	}
	if opt.Jar != nil {
		if u, err := url.Parse(target); err == nil {
			if params := cookieParams(opt.Jar.Cookies(u), u); len(params) > 0 {
				actions = append(actions, network.SetCookies(params))
			}
		}
	}
	actions = append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if sel := strings.TrimSpace(opt.WaitSelector); sel != "" {
		actions = append(actions, chromedp.WaitVisible(sel, chromedp.ByQuery))
	}
	if opt.NetworkIdle > 0 {
		actions = append(actions, waitNetworkIdle(act, opt.NetworkIdle))
	}
	if opt.Settle > 0 {
		actions = append(actions, chromedp.Sleep(opt.Settle))
	}
	for _, snippet := range opt.Scripts {
		if code := strings.TrimSpace(snippet); code != "" {
			actions = append(actions, chromedp.Evaluate(code, nil))
		}
	}
	actions = append(actions, chromedp.Location(&tab.url))

	runCtx := ctx
	if opt.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opt.Timeout)
		defer cancel()
	}
	if err := tab.run(runCtx, actions...); err != nil {
		tab.Close()
		return nil, fmt.Errorf("chrome: load %s: %w", target, err)
	}
	if err := tab.install(runCtx); err != nil {
		tab.Close()
		return nil, err
	}
	if opt.Jar != nil {
		tab.syncCookies(runCtx, opt.Jar)
	}
	b.logger.Printf("CONN tab open %s viewport=%dx%d dpr=%g", tab.url, width, height, dpr)
	return tab, nil
}

func waitNetworkIdle(act *activity, quiet time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			if active, idle := act.idleFor(); active == 0 && idle >= quiet {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}

func extraHeaders(h http.Header) network.Headers {
	extra := network.Headers{}
	for k, vs := range h {
		name := http.CanonicalHeaderKey(k)
		if strings.EqualFold(name, "Content-Length") || len(vs) == 0 {
			continue
		}
		extra[name] = strings.Join(vs, ", ")
	}
	return extra
}

func cloneHeader(h http.Header) http.Header {
	out := http.Header{}
	for k, vs := range h {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}
