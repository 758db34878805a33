// Package sink stores finished captures on disk.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidName is returned for names that would escape the directory.
var ErrInvalidName = errors.New("sink: invalid file name")

// Dir writes each download into one directory and keeps the directory
// under MaxBytes by removing the oldest captures.
type Dir struct {
	root     string
	maxBytes int64
	logger   *log.Logger
	mu       sync.Mutex
}

// NewDir creates root if needed. maxBytes <= 0 disables pruning.
func NewDir(root string, maxBytes int64, logger *log.Logger) (*Dir, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", root, err)
	}
	return &Dir{root: root, maxBytes: maxBytes, logger: logger}, nil
}

// Root is the capture directory.
func (d *Dir) Root() string { return d.root }

// Download stores data under filename, adding a counter when the name is
// taken, and returns the stored name.
func (d *Dir) Download(ctx context.Context, data []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("sink: empty image")
	}
	name, err := clean(filename)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	name = d.available(name)
	path := filepath.Join(d.root, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("sink: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("sink: rename %s: %w", name, err)
	}
	d.prune(name)
	return name, nil
}

// Remove deletes a stored capture by the name Download returned.
func (d *Dir) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := clean(name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(filepath.Join(d.root, clean)); err != nil {
		return fmt.Errorf("sink: remove %s: %w", clean, err)
	}
	d.logger.Printf("SINK removed %s", clean)
	return nil
}

// available returns name or the first free "<base>-N<ext>".
func (d *Dir) available(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(d.root, candidate)); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
}

// Entry is one stored capture.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// List returns stored captures, newest first.
func (d *Dir) List() ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := d.scan()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTime.After(entries[j].ModTime) })
	return entries, nil
}

// Open opens a stored capture for reading.
func (d *Dir) Open(name string) (*os.File, error) {
	clean, err := clean(name)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(d.root, clean))
}

func (d *Dir) scan() ([]Entry, error) {
	dirents, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("sink: read %s: %w", d.root, err)
	}
	out := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if de.IsDir() || strings.HasSuffix(de.Name(), ".tmp") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return out, nil
}

// prune removes the oldest captures until the total fits, never touching
// keep. Caller holds d.mu.
func (d *Dir) prune(keep string) {
	if d.maxBytes <= 0 {
		return
	}
	entries, err := d.scan()
	if err != nil {
		d.logger.Printf("SINK prune: %v", err)
		return
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	if total <= d.maxBytes {
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	for _, e := range entries {
		if total <= d.maxBytes {
			break
		}
		if e.Name == keep {
			continue
		}
		if err := os.Remove(filepath.Join(d.root, e.Name)); err != nil {
			d.logger.Printf("SINK prune %s: %v", e.Name, err)
			continue
		}
		total -= e.Size
		d.logger.Printf("SINK pruned %s (%d bytes)", e.Name, e.Size)
	}
}

func clean(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}
