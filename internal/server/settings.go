package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"webcapture/capture"
)

// Settings are the user's stored capture choices. Quality is a percentage.
type Settings struct {
	CaptureMode capture.Mode   `json:"captureMode"`
	Format      capture.Format `json:"format"`
	Quality     int            `json:"quality"`
}

// DefaultSettings is persisted on first access.
func DefaultSettings() Settings {
	return Settings{CaptureMode: capture.ModeFullPage, Format: capture.FormatPNG, Quality: 90}
}

// Validate canonicalizes mode and format names.
func (st Settings) Validate() (Settings, error) {
	m, err := capture.ParseMode(string(st.CaptureMode))
	if err != nil {
		return Settings{}, err
	}
	f, err := capture.ParseFormat(string(st.Format))
	if err != nil {
		return Settings{}, err
	}
	if st.Quality < 1 || st.Quality > 100 {
		return Settings{}, fmt.Errorf("quality %d outside 1..100", st.Quality)
	}
	return Settings{CaptureMode: m, Format: f, Quality: st.Quality}, nil
}

// settingsStore keeps settings in a JSON file.
type settingsStore struct {
	path   string
	mu     sync.Mutex
	loaded bool
	cur    Settings
}

func newSettingsStore(path string) *settingsStore {
	return &settingsStore{path: path}
}

// Get returns stored settings, writing the defaults when nothing is stored.
func (s *settingsStore) Get() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.cur, nil
	}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		def := DefaultSettings()
		if err := s.write(def); err != nil {
			return Settings{}, err
		}
		s.cur, s.loaded = def, true
		return def, nil
	case err != nil:
		return Settings{}, fmt.Errorf("settings: read %s: %w", s.path, err)
	}
	var st Settings
	if err := json.Unmarshal(data, &st); err != nil {
		return Settings{}, fmt.Errorf("settings: parse %s: %w", s.path, err)
	}
	// Fill gaps from older files field by field.
	def := DefaultSettings()
	if st.CaptureMode == "" {
		st.CaptureMode = def.CaptureMode
	}
	if st.Format == "" {
		st.Format = def.Format
	}
	if st.Quality == 0 {
		st.Quality = def.Quality
	}
	if st, err = st.Validate(); err != nil {
		return Settings{}, fmt.Errorf("settings: %s: %w", s.path, err)
	}
	s.cur, s.loaded = st, true
	return st, nil
}

// Put validates and stores st.
func (s *settingsStore) Put(st Settings) (Settings, error) {
	st, err := st.Validate()
	if err != nil {
		return Settings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(st); err != nil {
		return Settings{}, err
	}
	s.cur, s.loaded = st, true
	return st, nil
}

func (s *settingsStore) write(st Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	return nil
}
