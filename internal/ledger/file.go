package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	defaultWriteAttempts = 3
	defaultRetryDelay    = 100 * time.Millisecond
)

// File is a Store persisted as a single JSON document that is rewritten in
// full on every append. The in-memory copy is the source of truth between
// writes and is only updated after the file write has succeeded.
type File struct {
	path       string
	logger     *slog.Logger
	attempts   int
	retryDelay time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	days   Snapshot
	loaded bool
}

type FileOption func(*File)

func WithFileLogger(logger *slog.Logger) FileOption {
	return func(f *File) {
		f.logger = logger
	}
}

// WithWriteRetry sets how many times a failed write is attempted and the base
// delay between attempts. The delay grows linearly.
func WithWriteRetry(attempts int, delay time.Duration) FileOption {
	return func(f *File) {
		if attempts > 0 {
			f.attempts = attempts
		}
		f.retryDelay = delay
	}
}

// NewFile returns a store backed by the JSON file at path. Nothing is read
// until Load or the first Append.
func NewFile(path string, opts ...FileOption) *File {
	f := &File{
		path:       path,
		logger:     slog.Default(),
		attempts:   defaultWriteAttempts,
		retryDelay: defaultRetryDelay,
		now:        time.Now,
		days:       Snapshot{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Load reads the backing file. A missing file yields an empty snapshot. An
// unreadable document is moved aside, the store starts empty, and the
// returned error wraps ErrCorruptState.
func (f *File) Load(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.loadLocked()
	if err != nil && !errors.Is(err, ErrCorruptState) {
		return Snapshot{}, err
	}
	return f.days.Clone(), err
}

func (f *File) loadLocked() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.days = Snapshot{}
		f.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("error reading ledger file: %w", err)
	}

	days, decodeErr := DecodeSnapshot(data)
	f.days = days
	f.loaded = true
	if decodeErr == nil {
		return nil
	}

	aside := fmt.Sprintf("%s.corrupt-%d", f.path, f.now().Unix())
	if err := os.Rename(f.path, aside); err != nil {
		f.logger.Warn("could not move corrupt ledger aside", "path", f.path, "error", err)
	} else {
		f.logger.Warn("corrupt ledger moved aside", "path", f.path, "moved_to", aside)
	}
	return decodeErr
}

// Append adds rec to the day ledger for date and rewrites the file.
func (f *File) Append(ctx context.Context, date string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.loaded {
		if err := f.loadLocked(); err != nil {
			if !errors.Is(err, ErrCorruptState) {
				return err
			}
			f.logger.Warn("starting from an empty ledger", "error", err)
		}
	}

	next := make(Snapshot, len(f.days)+1)
	for d, recs := range f.days {
		next[d] = recs
	}
	day := make([]Record, len(f.days[date]), len(f.days[date])+1)
	copy(day, f.days[date])
	next[date] = append(day, rec.Clone())

	data, err := EncodeSnapshot(next)
	if err != nil {
		return fmt.Errorf("error encoding ledger: %w", err)
	}
	if err := f.writeWithRetry(ctx, data); err != nil {
		return err
	}

	f.days = next
	return nil
}

func (f *File) writeWithRetry(ctx context.Context, data []byte) error {
	var lastErr error
	for i := 0; i < f.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("error writing ledger: %w", ctx.Err())
			case <-time.After(f.retryDelay * time.Duration(i)):
			}
		}
		err := writeFileAtomic(f.path, data)
		if err == nil {
			return nil
		}
		lastErr = err
		f.logger.Warn("ledger write failed", "attempt", i+1, "error", err)
	}
	return fmt.Errorf("error writing ledger after %d attempts: %w", f.attempts, lastErr)
}

func (f *File) QueryDay(_ context.Context, date string) ([]Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return CloneRecords(f.days[date]), nil
}

func (f *File) QueryAll(_ context.Context) (Snapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.days.Clone(), nil
}

// writeFileAtomic replaces path with data via a synced temporary file in the
// same directory, so readers never see a half-written document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
