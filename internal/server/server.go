// Package server exposes capture sessions over HTTP. Each client gets its own
// browser tab and capture session.
package server

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"webcapture/capture"
	"webcapture/internal/sink"
)

const defaultIndexHTML = `<!DOCTYPE html>
<html><body>
<h1>Webcapture</h1>
<form action="/capture" method="post">
URL: <input name="url" size="60"><br>
Action: <select name="action">
<option value="">(stored mode)</option>
<option value="startCapture">Full page</option>
<option value="captureVisible">Visible part</option>
<option value="enableManualSelector">Manual region</option>
<option value="enableRegionSelector">List scrollable elements</option>
<option value="captureScrollableElement">Scrollable element</option>
</select><br>
Format: <select name="format"><option value="">(stored)</option><option>png</option><option>jpeg</option></select>
Quality: <input name="quality" size="4"> %<br>
Selector: <input name="selector" size="40"><br>
Region: <input name="left" size="4"> <input name="top" size="4"> <input name="width" size="4"> <input name="height" size="4"><br>
<button type="submit">Capture</button>
</form>
<p><a href="/captures/">Saved captures</a> | <a href="/settings">Settings</a></p>
</body></html>`

const (
	defaultOutDir     = "captures"
	defaultSettings   = "config/settings.json"
	defaultSitesDir   = "config/sites"
	defaultOutMB      = 512
	defaultSessionTTL = 10 * time.Minute
	defaultLoadTime   = time.Minute
)

// Config describes server wiring and runtime behaviour.
type Config struct {
	IndexHTML      string
	OutDir         string
	OutMaxBytes    int64
	SettingsPath   string
	SitesDir       string
	ViewportWidth  int
	ViewportHeight int
	DPR            float64
	SessionTTL     time.Duration
	LoadTimeout    time.Duration
	Capture        capture.Config
	Browser        Browser
	Logger         *log.Logger
	Clock          func() time.Time
}

// DefaultConfig populates configuration from environment variables.
func DefaultConfig() Config {
	cfg := Config{
		IndexHTML:    defaultIndexHTML,
		OutDir:       envOr("WEBCAPTURE_OUT_DIR", defaultOutDir),
		OutMaxBytes:  defaultOutMB * 1024 * 1024,
		SettingsPath: envOr("WEBCAPTURE_SETTINGS", defaultSettings),
		SitesDir:     envOr("WEBCAPTURE_SITES_DIR", defaultSitesDir),
		SessionTTL:   defaultSessionTTL,
		LoadTimeout:  defaultLoadTime,
		Capture:      capture.DefaultConfig(),
		Logger:       log.Default(),
		Clock:        time.Now,
	}
	cfg.Capture.ExclusiveModes = true
	if s := strings.TrimSpace(os.Getenv("WEBCAPTURE_OUT_MB")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			cfg.OutMaxBytes = int64(v) * 1024 * 1024
		}
	}
	if s := strings.TrimSpace(os.Getenv("WEBCAPTURE_VIEWPORT")); s != "" {
		if w, h, err := ParseViewport(s); err == nil {
			cfg.ViewportWidth, cfg.ViewportHeight = w, h
		}
	}
	if s := strings.TrimSpace(os.Getenv("WEBCAPTURE_DPR")); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
			cfg.DPR = v
		}
	}
	if s := strings.TrimSpace(os.Getenv("WEBCAPTURE_SESSION_TTL")); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			cfg.SessionTTL = d
		}
	}
	return cfg
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// ParseViewport parses "WxH".
func ParseViewport(s string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("viewport %q: want WxH", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("viewport %q: bad width", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("viewport %q: bad height", s)
	}
	return w, h, nil
}

var _ capture.Remover = (*sink.Dir)(nil)

// Server exposes the HTTP handlers.
type Server struct {
	cfg        Config
	mux        *http.ServeMux
	handler    http.Handler
	logger     *log.Logger
	settings   *settingsStore
	sessions   *sessionStore
	cookieJars *cookieJarStore
	sites      *siteConfigStore
	out        *sink.Dir
	clock      func() time.Time
}

// New wires a server. cfg.Browser is required.
func New(cfg Config) (*Server, error) {
	if cfg.Browser == nil {
		return nil, fmt.Errorf("server: no browser configured")
	}
	if cfg.IndexHTML == "" {
		cfg.IndexHTML = defaultIndexHTML
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.OutDir == "" {
		cfg.OutDir = defaultOutDir
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = filepath.Join(cfg.OutDir, "settings.json")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTime
	}
	if cfg.Capture.Logger == nil {
		cfg.Capture.Logger = cfg.Logger
	}
	out, err := sink.NewDir(cfg.OutDir, cfg.OutMaxBytes, cfg.Logger)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		logger:     cfg.Logger,
		settings:   newSettingsStore(cfg.SettingsPath),
		cookieJars: newCookieJarStore(),
		sites:      newSiteConfigStore(cfg.SitesDir, cfg.Logger),
		out:        out,
		clock:      cfg.Clock,
	}
	s.sessions = newSessionStore(cfg.SessionTTL, cfg.Clock, s.openSession)
	s.registerRoutes()
	s.handler = withLogging(s.logger, s.mux)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases every open tab.
func (s *Server) Close() {
	s.sessions.CloseAll()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/capture", s.handleCapture)
	s.mux.HandleFunc("/settings", s.handleSettings)
	s.mux.HandleFunc("/captures/", s.handleCaptures)
	s.mux.HandleFunc("/ping", s.handlePing)
}
