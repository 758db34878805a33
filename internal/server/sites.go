package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SiteConfig tunes page loading for one host and its subdomains. It lives in
// <sitesDir>/<host>.json and is picked up again when the file changes.
type SiteConfig struct {
	Headers       map[string]string `json:"headers,omitempty"`
	WaitSelector  string            `json:"waitSelector,omitempty"`
	NetworkIdleMS int               `json:"networkIdleMs,omitempty"`
	SettleMS      int               `json:"settleMs,omitempty"`
	Scripts       []string          `json:"scripts,omitempty"`
}

func (c *SiteConfig) networkIdle() time.Duration {
	if c == nil || c.NetworkIdleMS <= 0 {
		return 0
	}
	return time.Duration(c.NetworkIdleMS) * time.Millisecond
}

func (c *SiteConfig) settle() time.Duration {
	if c == nil || c.SettleMS <= 0 {
		return 0
	}
	return time.Duration(c.SettleMS) * time.Millisecond
}

// header returns the configured request headers, nil when there are none.
func (c *SiteConfig) header() http.Header {
	if c == nil || len(c.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}

func readSiteConfig(path string) (*SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SiteConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.WaitSelector = strings.TrimSpace(cfg.WaitSelector)
	scripts := cfg.Scripts[:0]
	for _, js := range cfg.Scripts {
		if strings.TrimSpace(js) != "" {
			scripts = append(scripts, js)
		}
	}
	cfg.Scripts = scripts
	return &cfg, nil
}

// hostSuffixes lists host and each parent domain, nearest first.
func hostSuffixes(host string) []string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return nil
	}
	var out []string
	for {
		out = append(out, host)
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return out
		}
		host = host[i+1:]
	}
}

type siteFile struct {
	mod  time.Time
	size int64
	cfg  *SiteConfig
}

// siteConfigStore resolves site configs by host suffix. Parsed files are
// kept until their size or mtime changes.
type siteConfigStore struct {
	dir    string
	logger *log.Logger
	mu     sync.Mutex
	files  map[string]siteFile
}

func newSiteConfigStore(dir string, logger *log.Logger) *siteConfigStore {
	if logger == nil {
		logger = log.Default()
	}
	return &siteConfigStore{dir: dir, logger: logger, files: make(map[string]siteFile)}
}

// Find returns the config of the nearest matching host suffix, or nil.
func (s *siteConfigStore) Find(target string) *SiteConfig {
	if s.dir == "" {
		return nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil
	}
	for _, name := range hostSuffixes(u.Hostname()) {
		if cfg := s.file(name); cfg != nil {
			return cfg
		}
	}
	return nil
}

func (s *siteConfigStore) file(name string) *SiteConfig {
	path := filepath.Join(s.dir, name+".json")
	info, err := os.Stat(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || info.IsDir() {
		delete(s.files, name)
		return nil
	}
	if f, ok := s.files[name]; ok && f.size == info.Size() && f.mod.Equal(info.ModTime()) {
		return f.cfg
	}
	cfg, err := readSiteConfig(path)
	if err != nil {
		s.logger.Printf("CONN site config %s: %v", name, err)
	}
	s.files[name] = siteFile{mod: info.ModTime(), size: info.Size(), cfg: cfg}
	return cfg
}
