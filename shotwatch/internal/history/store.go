// Package history keeps the bounded, time-ordered buffer of cropped
// screenshots on disk.
//
// Files are named screenshot_<YYYYMMDDHHMMSS>.png. The store keeps an
// in-memory index keyed by the time parsed from the name, rebuilt from the
// directory listing on Open and on every retention pass, so ordering never
// depends on string sort alone.
package history

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix = "screenshot_"
	fileExt    = ".png"

	// TimeLayout is the second-resolution timestamp embedded in file names.
	TimeLayout = "20060102150405"

	// DefaultKeep is how many captures survive a retention pass.
	DefaultKeep = 5
)

// ErrInsufficient is returned by LatestTwo when fewer than two captures exist.
var ErrInsufficient = errors.New("history: insufficient history")

// Entry is one retained capture.
type Entry struct {
	Name string    `json:"name"`
	Path string    `json:"-"`
	Time time.Time `json:"time"`
}

// Store is the directory-backed capture buffer. Writes come from the single
// poll loop; reads may come from any goroutine.
type Store struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	entries []Entry // oldest first
}

// Open creates dir if needed and indexes the captures already in it.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: mkdir %s: %w", dir, err)
	}
	s := &Store{dir: dir, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// FileName returns the capture file name for t. The stamp is UTC so that
// name order stays chronological across DST transitions.
func FileName(t time.Time) string {
	return filePrefix + t.UTC().Format(TimeLayout) + fileExt
}

// ParseFileName extracts the capture time from a file name produced by
// FileName. Names that do not match are rejected.
func ParseFileName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)
	if len(stamp) != len(TimeLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimeLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Reload rebuilds the index from the directory listing.
func (s *Store) Reload() error {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("history: list %s: %w", s.dir, err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		t, ok := ParseFileName(de.Name())
		if !ok {
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), Path: filepath.Join(s.dir, de.Name()), Time: t})
	}
	sortEntries(entries)

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

// Add encodes img as PNG under the name derived from t and records it.
// The file is written to a temporary name and renamed, so a failed write
// never leaves a partial capture behind. A capture with the same second
// replaces the previous one.
func (s *Store) Add(t time.Time, img image.Image) (Entry, error) {
	name := FileName(t)
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".screenshot-*.tmp")
	if err != nil {
		return Entry{}, fmt.Errorf("history: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Entry{}, fmt.Errorf("history: encode %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Entry{}, fmt.Errorf("history: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return Entry{}, fmt.Errorf("history: rename %s: %w", name, err)
	}

	// Reparse so the indexed time has the same second resolution as a reload.
	parsed, _ := ParseFileName(name)
	e := Entry{Name: name, Path: path, Time: parsed}

	s.mu.Lock()
	s.entries = slices.DeleteFunc(s.entries, func(x Entry) bool { return x.Name == name })
	s.entries = append(s.entries, e)
	sortEntries(s.entries)
	s.mu.Unlock()

	s.logger.Debug("history: added", "name", name)
	return e, nil
}

// RetainLatest deletes all but the n most recent captures and returns how
// many were removed. It rescans the directory first so files added or
// removed behind the store's back are accounted for. Files already gone are
// not an error, which makes consecutive calls idempotent.
func (s *Store) RetainLatest(n int) (int, error) {
	if n < 0 {
		n = 0
	}
	if err := s.Reload(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) <= n {
		return 0, nil
	}
	evict := s.entries[:len(s.entries)-n]

	var errs []error
	var kept []Entry
	removed := 0
	for _, e := range evict {
		err := os.Remove(e.Path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("history: remove %s: %w", e.Name, err))
			kept = append(kept, e)
			continue
		}
		removed++
		s.logger.Debug("history: evicted", "name", e.Name)
	}
	s.entries = append(kept, s.entries[len(s.entries)-n:]...)
	return removed, errors.Join(errs...)
}

// LatestTwo returns the two most recent captures, or ErrInsufficient.
func (s *Store) LatestTwo() (older, newer Entry, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) < 2 {
		return Entry{}, Entry{}, ErrInsufficient
	}
	return s.entries[len(s.entries)-2], s.entries[len(s.entries)-1], nil
}

// Latest returns the most recent capture.
func (s *Store) Latest() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// List returns a copy of the index, oldest first.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// Len returns the number of indexed captures.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int { return a.Time.Compare(b.Time) })
}
