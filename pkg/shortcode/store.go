package shortcode

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	entryExt   = ".html"
	tempPrefix = ".tmp-"
)

// Store is a flat directory of write-once fragment files, one per cache key.
// It is safe for concurrent use within one process; it does no cross-process locking.
type Store struct {
	dir    string
	logger *slog.Logger
}

// Stats summarizes the cache directory.
type Stats struct {
	Dir        string        `json:"dir"`
	Entries    int           `json:"entries"`
	TotalBytes int64         `json:"total_bytes"`
	OldestAge  time.Duration `json:"oldest_age"`
}

// OpenStore makes sure dir exists and, when purge is set, removes every regular
// file directly inside it. Both steps must succeed before the store is usable.
func OpenStore(dir string, purge bool, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty cache directory", ErrInvalidArgument)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating cache directory: %w", ErrStorage, err)
	}
	s := &Store{dir: dir, logger: logger}
	if purge {
		n, err := s.purge()
		if err != nil {
			return nil, err
		}
		logger.Info("Purged fragment cache", "dir", dir, "removed", n)
	}
	return s, nil
}

// Dir returns the cache directory path.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) entryPath(key string) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("%w: malformed cache key %q", ErrInvalidArgument, key)
	}
	return filepath.Join(s.dir, key+entryExt), nil
}

// Exists reports whether an entry for key is present.
func (s *Store) Exists(key string) bool {
	path, err := s.entryPath(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the fragment stored under key.
func (s *Store) Read(key string) (string, error) {
	path, err := s.entryPath(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: reading %s: %w", ErrStorage, key, err)
	}
	return string(data), nil
}

// Write stores text under key unless an entry already exists, in which case it
// is a successful no-op. The first writer wins: the file is staged under a
// temporary name and hard-linked into place, and linking never replaces an
// existing file.
func (s *Store) Write(key, text string) error {
	path, err := s.entryPath(key)
	if err != nil {
		return err
	}
	if s.Exists(key) {
		return nil
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+key+"-*")
	if err != nil {
		return fmt.Errorf("%w: staging %s: %w", ErrStorage, key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: writing %s: %w", ErrStorage, key, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrStorage, key, err)
	}

	err = os.Link(tmpName, path)
	switch {
	case err == nil, errors.Is(err, fs.ErrExist):
		return nil
	default:
		// Some filesystems refuse hard links; an exclusive create keeps the
		// no-overwrite guarantee at the cost of a window where readers can see
		// a partially written file.
		s.logger.Debug("Hard link unavailable, falling back to exclusive create", "key", key, "error", err)
		return s.writeExclusive(path, key, text)
	}
}

func (s *Store) writeExclusive(path, key, text string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("%w: creating %s: %w", ErrStorage, key, err)
	}
	if _, err = f.WriteString(text); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: writing %s: %w", ErrStorage, key, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrStorage, key, err)
	}
	return nil
}

// Remove deletes the entry for key and reports whether one existed.
func (s *Store) Remove(key string) (bool, error) {
	path, err := s.entryPath(key)
	if err != nil {
		return false, err
	}
	if err = os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return true, fmt.Errorf("%w: removing %s: %w", ErrStorage, key, err)
	}
	return true, nil
}

// Created returns the creation time of the entry for key.
func (s *Store) Created(key string) (time.Time, error) {
	path, err := s.entryPath(key)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("%w: stat %s: %w", ErrStorage, key, err)
	}
	return birthTime(path, info), nil
}

// Stats walks the cache directory. It never removes anything.
func (s *Store) Stats(now time.Time) (Stats, error) {
	stats := Stats{Dir: s.dir}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return stats, fmt.Errorf("%w: reading cache directory: %w", ErrStorage, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != entryExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.TotalBytes += info.Size()
		if age := now.Sub(birthTime(filepath.Join(s.dir, e.Name()), info)); age > stats.OldestAge {
			stats.OldestAge = age
		}
	}
	return stats, nil
}

// purge removes every regular file directly inside the cache directory,
// including stale staging files. Subdirectories are left alone.
func (s *Store) purge() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("%w: reading cache directory: %w", ErrStorage, err)
	}
	var removed int
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err = os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("%w: purging cache directory: %w", ErrStorage, errors.Join(errs...))
	}
	return removed, nil
}
