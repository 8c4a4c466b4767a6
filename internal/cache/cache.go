// Package cache persists TOC snapshots between sessions.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/danmuck/crtplink/internal/logging"
	"github.com/danmuck/crtplink/internal/protocol/toc"
	"github.com/pelletier/go-toml/v2"
)

var ErrEmptyKey = errors.New("cache: empty key")

// Memory is a process-local toc.Cache.
type Memory struct {
	mu    sync.RWMutex
	snaps map[string]toc.Snapshot
}

func NewMemory() *Memory {
	return &Memory{snaps: make(map[string]toc.Snapshot)}
}

func (m *Memory) Get(key string) (toc.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snaps[key]
	if !ok {
		return toc.Snapshot{}, false
	}
	return cloneSnapshot(s), true
}

func (m *Memory) Put(key string, snap toc.Snapshot) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	m.snaps[key] = cloneSnapshot(snap)
	m.mu.Unlock()
	return nil
}

// File stores one TOML document per key under Dir.
type File struct {
	Dir string
}

func NewFile(dir string) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", dir, err)
	}
	return &File{Dir: dir}, nil
}

// Path is the file backing key.
func (f *File) Path(key string) string {
	return filepath.Join(f.Dir, fileName(key))
}

// Get treats an unreadable or corrupt file as a miss.
func (f *File) Get(key string) (toc.Snapshot, bool) {
	path := f.Path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warnf("cache.File.Get path=%q err=%v", path, err)
		}
		return toc.Snapshot{}, false
	}
	var snap toc.Snapshot
	if err := toml.Unmarshal(data, &snap); err != nil {
		logging.Warnf("cache.File.Get parse failed path=%q err=%v", path, err)
		return toc.Snapshot{}, false
	}
	return snap, true
}

func (f *File) Put(key string, snap toc.Snapshot) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	data, err := toml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	path := f.Path(key)
	tmp, err := os.CreateTemp(f.Dir, ".toc-*")
	if err != nil {
		return fmt.Errorf("cache: write %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("cache: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("cache: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("cache: write %s: %w", path, err)
	}
	logging.Debugf("cache.File.Put path=%q items=%d", path, len(snap.Items))
	return nil
}

func fileName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "._") + ".toml"
}

func cloneSnapshot(s toc.Snapshot) toc.Snapshot {
	s.Items = append([]toc.Descriptor(nil), s.Items...)
	return s
}
