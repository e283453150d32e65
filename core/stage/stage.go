// Package stage manages the local scratch directory used while a worker holds
// a lease. Files are named by track id, one subdirectory per job kind.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"QFMIngest/core/pipeline"
	"QFMIngest/logger"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// Kind is a staging subdirectory.
type Kind string

const (
	KindOnboarding Kind = "onboarding"
	KindWriteBack  Kind = "writeback"
)

var kinds = []Kind{KindOnboarding, KindWriteBack}

const lockDir = "locks"

// Stage is the local staging area rooted at one directory.
type Stage struct {
	root          string
	retryInterval time.Duration
	maxAttempts   int
	remove        func(string) error
	log           *zap.Logger
}

// New creates the root and one subdirectory per kind. maxAttempts of 0 retries
// deletes until the context ends.
func New(root string, retryInterval time.Duration, maxAttempts int) (*Stage, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("staging dir is empty")
	}
	if retryInterval <= 0 {
		retryInterval = 500 * time.Millisecond
	}
	for _, dir := range append([]string{lockDir}, kindDirs()...) {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create staging dir %s: %w", dir, err)
		}
	}
	return &Stage{
		root:          root,
		retryInterval: retryInterval,
		maxAttempts:   maxAttempts,
		remove:        os.Remove,
		log:           logger.Named("stage"),
	}, nil
}

func kindDirs() []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Root returns the staging root directory.
func (s *Stage) Root() string { return s.root }

// Name builds a file name: the track id, optionally followed by dot-separated
// suffixes such as a preset directory and extension.
func Name(trackID string, suffix ...string) string {
	parts := []string{trackID}
	for _, p := range suffix {
		if p = strings.Trim(p, ". "); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Path returns the staged path of a track file.
func (s *Stage) Path(kind Kind, trackID string, suffix ...string) string {
	return filepath.Join(s.root, string(kind), Name(trackID, suffix...))
}

// Create creates (or truncates) a staged file.
func (s *Stage) Create(kind Kind, name string) (*os.File, error) {
	return os.Create(filepath.Join(s.root, string(kind), name))
}

// Open opens a staged file for reading.
func (s *Stage) Open(path string) (*os.File, error) {
	return os.Open(path)
}

// Exists reports whether path exists.
func (s *Stage) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Size returns the size of a staged file.
func (s *Stage) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Delete removes path. A missing file counts as deleted. Any other failure,
// such as a handle still held by a lagging encoder, is retried on a fixed
// interval until it succeeds, the attempt limit is hit, or ctx ends.
func (s *Stage) Delete(ctx context.Context, path string) error {
	attempt := 0
	return pipeline.Retry(ctx, s.retryInterval, s.maxAttempts, func(context.Context) error {
		attempt++
		err := s.remove(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		s.log.Warn("stage delete failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return fmt.Errorf("%w: delete %s: %v", pipeline.ErrTransientIO, path, err)
	})
}

// Unlocker releases a stage lock.
type Unlocker interface {
	Unlock() error
}

// Lock takes an exclusive per-track file lock for kind, polling until it is
// acquired or ctx ends. The lock is honoured across processes.
func (s *Stage) Lock(ctx context.Context, kind Kind, trackID string) (Unlocker, error) {
	fl := flock.New(filepath.Join(s.root, lockDir, Name(trackID, string(kind), "lock")))
	locked, err := fl.TryLockContext(ctx, s.retryInterval/5+time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock %s/%s: %w", kind, trackID, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s/%s: not acquired", kind, trackID)
	}
	return fl, nil
}

// CleanStale removes staged files older than maxAge. Lock files are left alone.
func (s *Stage) CleanStale(maxAge time.Duration) (removed int, err error) {
	cutoff := time.Now().Add(-maxAge)
	var errs []error
	for _, kind := range kinds {
		dir := filepath.Join(s.root, string(kind))
		entries, readErr := os.ReadDir(dir)
		if readErr != nil {
			if !os.IsNotExist(readErr) {
				errs = append(errs, readErr)
			}
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, infoErr := entry.Info()
			if infoErr != nil {
				errs = append(errs, infoErr)
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				errs = append(errs, rmErr)
				continue
			}
			removed++
			s.log.Info("removed stale stage file",
				zap.String("path", path),
				zap.Duration("age", time.Since(info.ModTime())))
		}
	}
	return removed, errors.Join(errs...)
}
