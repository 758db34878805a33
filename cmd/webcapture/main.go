package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"webcapture/capture"
	"webcapture/internal/chrome"
	"webcapture/internal/server"
	"webcapture/internal/sink"
)

func main() {
	addrFlag := flag.String("addr", ":8081", "listen address, e.g. :81 or 0.0.0.0:8081")
	chromePath := flag.String("chrome", os.Getenv("WEBCAPTURE_CHROME"), "Chrome executable (default: search PATH)")
	noSandbox := flag.Bool("no-sandbox", os.Getenv("WEBCAPTURE_NO_SANDBOX") == "1", "run Chrome without its sandbox")
	viewport := flag.String("viewport", "", "viewport size WxH (default 1280x800 or WEBCAPTURE_VIEWPORT)")
	dpr := flag.Float64("dpr", 0, "device pixel ratio")

	target := flag.String("url", "", "capture this page once and exit instead of serving")
	mode := flag.String("mode", "fullpage", "one-shot mode: fullpage, visible, manual or region")
	format := flag.String("format", "png", "png or jpeg")
	quality := flag.Int("quality", 90, "jpeg quality 1..100")
	selector := flag.String("selector", "", "scrollable element for region mode")
	region := flag.String("region", "", "manual region left,top,width,height in CSS pixels")
	outDir := flag.String("out", ".", "one-shot output directory")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg := server.DefaultConfig()
	if *viewport != "" {
		w, h, err := server.ParseViewport(*viewport)
		if err != nil {
			log.Fatal(err)
		}
		cfg.ViewportWidth, cfg.ViewportHeight = w, h
	}
	if *dpr > 0 {
		cfg.DPR = *dpr
	}

	bcfg := chrome.DefaultConfig()
	bcfg.ExecPath = *chromePath
	bcfg.NoSandbox = *noSandbox
	if cfg.ViewportWidth > 0 {
		bcfg.ViewportWidth, bcfg.ViewportHeight = cfg.ViewportWidth, cfg.ViewportHeight
	}
	if cfg.DPR > 0 {
		bcfg.DeviceScaleFactor = cfg.DPR
	}
	browser := chrome.NewBrowser(bcfg)
	defer browser.Close()

	if *target != "" {
		trigger, err := oneShotTrigger(*mode, *format, *quality, *selector, *region)
		if err != nil {
			log.Fatal(err)
		}
		if err := captureOnce(browser, cfg, *target, *outDir, trigger); err != nil {
			log.Printf("CAPTURE %v", err)
			browser.Close()
			os.Exit(1)
		}
		return
	}

	addr := *addrFlag
	if env := os.Getenv("PORT"); env != "" {
		addr = ":" + env
	}

	cfg.Browser = server.ChromeBrowser(browser)
	handler, err := server.New(cfg)
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	defer handler.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Full page captures of long pages take a while.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     log.New(os.Stdout, "HTTPERR ", log.LstdFlags|log.Lmicroseconds),
		ConnState: func(c net.Conn, s http.ConnState) {
			log.Printf("CONN %s %s", s.String(), c.RemoteAddr())
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Listen error on %s: %v", addr, err)
	}

	log.Println("Listening on", addr)
	log.Fatal(srv.Serve(ln))
}

func oneShotTrigger(mode, format string, quality int, selector, region string) (capture.Trigger, error) {
	var t capture.Trigger
	m, err := capture.ParseMode(mode)
	if err != nil {
		return t, err
	}
	if quality < 1 || quality > 100 {
		return t, fmt.Errorf("quality %d outside 1..100", quality)
	}
	q := capture.QualityFromPercent(quality)
	t.Format, t.Quality, t.Selector = format, &q, selector
	switch m {
	case capture.ModeFullPage:
		t.Action = capture.ActionStartCapture
	case capture.ModeVisible:
		t.Action = capture.ActionCaptureVisible
	case capture.ModeManual:
		r, err := parseRegion(region)
		if err != nil {
			return t, err
		}
		t.Action, t.Region = capture.ActionEnableManualSelector, &r
	case capture.ModeRegion:
		t.Action = capture.ActionEnableRegionSelector
		if selector != "" {
			t.Action = capture.ActionCaptureScrollableElement
		}
	}
	if _, err := t.Options(); err != nil {
		return t, err
	}
	return t, nil
}

func parseRegion(s string) (capture.Region, error) {
	var r capture.Region
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return r, fmt.Errorf("region %q: want left,top,width,height", s)
	}
	dst := []*float64{&r.Left, &r.Top, &r.Width, &r.Height}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r, fmt.Errorf("region %q: %w", s, err)
		}
		*dst[i] = v
	}
	return r, r.Validate()
}

func captureOnce(b *chrome.Browser, cfg server.Config, target, outDir string, t capture.Trigger) error {
	ctx := context.Background()
	tab, err := b.Open(ctx, chrome.OpenOptions{
		URL:               target,
		ViewportWidth:     cfg.ViewportWidth,
		ViewportHeight:    cfg.ViewportHeight,
		DeviceScaleFactor: cfg.DPR,
		Timeout:           cfg.LoadTimeout,
	})
	if err != nil {
		return err
	}
	defer tab.Close()
	dir, err := sink.NewDir(outDir, 0, log.Default())
	if err != nil {
		return err
	}
	reply, err := capture.NewSession(tab.Host(dir), cfg.Capture).Handle(ctx, t)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reply)
}
