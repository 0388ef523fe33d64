// Package lockfile provides cross-process mutual exclusion for metadata
// documents using marker files next to the protected path.
//
// A lock on /x/prds.json is the exclusive existence of /x/prds.json.lock.
// The marker records its owner so abandoned locks can be broken: a marker is
// stale once it is older than the acquisition timeout, when its content cannot
// be parsed, or when it names a process on this host that is no longer running.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/prdledger/internal/debug"
)

// Defaults for Options.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetryInterval = 100 * time.Millisecond
)

// ErrLockUnavailable is returned (wrapped in *ContentionError) when a lock
// could not be acquired within the timeout. It is retryable.
var ErrLockUnavailable = errors.New("lock unavailable")

// ContentionError reports a lock acquisition that timed out.
type ContentionError struct {
	Path     string
	Waited   time.Duration
	Attempts int
	Timeout  time.Duration
	Holder   *Marker
}

func (e *ContentionError) Error() string {
	msg := fmt.Sprintf("lock unavailable for %s after %s (%d attempts)", e.Path, e.Waited.Round(time.Millisecond), e.Attempts)
	if e.Holder != nil {
		msg += fmt.Sprintf(", held by pid %d since %s", e.Holder.PID, e.Holder.AcquiredAt.Format(time.RFC3339))
	}
	return msg
}

// Is makes errors.Is(err, ErrLockUnavailable) work.
func (e *ContentionError) Is(target error) bool {
	return target == ErrLockUnavailable
}

// Options configures a Manager. Zero values select the defaults; a negative
// Timeout means a single attempt.
type Options struct {
	Timeout       time.Duration
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// Manager acquires and releases marker-file locks and remembers the ones
// this process holds so they can be dropped at shutdown.
type Manager struct {
	timeout  time.Duration
	retry    time.Duration
	log      *slog.Logger
	hostname string
	pid      int
	now      func() time.Time

	mu   sync.Mutex
	held map[string]struct{}
}

// New returns a Manager.
func New(opts Options) *Manager {
	timeout := opts.Timeout
	switch {
	case timeout == 0:
		timeout = DefaultTimeout
	case timeout < 0:
		timeout = 0
	}
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	log := opts.Logger
	if log == nil {
		log = debug.Logger()
	}
	host, _ := os.Hostname()
	return &Manager{
		timeout:  timeout,
		retry:    retry,
		log:      log.With("component", "lockfile"),
		hostname: host,
		pid:      os.Getpid(),
		now:      time.Now,
		held:     make(map[string]struct{}),
	}
}

// Timeout returns the acquisition timeout.
func (m *Manager) Timeout() time.Duration { return m.timeout }

var errContended = errors.New("lock held by another owner")

// Acquire blocks until the lock for path is held, the timeout elapses, or ctx
// is cancelled. Stale markers encountered while waiting are removed.
func (m *Manager) Acquire(ctx context.Context, path string) error {
	markerPath := MarkerPath(path)
	start := m.now()
	attempts := 0

	if err := os.MkdirAll(filepath.Dir(markerPath), 0o755); err != nil {
		return fmt.Errorf("acquire lock %s: %w", path, err)
	}

	var bo backoff.BackOff = &backoff.StopBackOff{}
	waitCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
		bo = backoff.WithContext(backoff.NewConstantBackOff(m.retry), waitCtx)
	}

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		data, err := json.Marshal(Marker{
			PID:        m.pid,
			Hostname:   m.hostname,
			AcquiredAt: m.now().UTC(),
			Target:     path,
		})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("encode lock marker: %w", err))
		}
		err = writeMarker(markerPath, data)
		if err == nil {
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return backoff.Permanent(err)
		}
		if m.breakIfStale(markerPath) {
			// Retry right away instead of waiting a full interval.
			if err := writeMarker(markerPath, data); err == nil {
				return nil
			}
		}
		return errContended
	}

	err := backoff.Retry(op, bo)
	if err == nil {
		m.mu.Lock()
		m.held[path] = struct{}{}
		m.mu.Unlock()
		m.log.Debug("lock acquired", "path", path, "attempts", attempts, "waited", m.now().Sub(start))
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("acquire lock %s: %w", path, ctxErr)
	}
	if errors.Is(err, errContended) || errors.Is(err, context.DeadlineExceeded) {
		holder, _, _ := ReadMarker(markerPath)
		return &ContentionError{
			Path:     path,
			Waited:   m.now().Sub(start),
			Attempts: attempts,
			Timeout:  m.timeout,
			Holder:   holder,
		}
	}
	return fmt.Errorf("acquire lock %s: %w", path, err)
}

// Release deletes the marker for path. Failures are logged, never returned,
// so they cannot mask the outcome of the protected operation.
func (m *Manager) Release(path string) {
	m.mu.Lock()
	delete(m.held, path)
	m.mu.Unlock()

	if err := os.Remove(MarkerPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warn("failed to release lock", "path", path, "error", err)
		return
	}
	m.log.Debug("lock released", "path", path)
}

// Held reports whether this Manager currently holds the lock for path.
func (m *Manager) Held(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[path]
	return ok
}

// WithLock runs fn while holding the lock for path. The lock is released even
// if fn panics; fn's error is returned unchanged.
func (m *Manager) WithLock(ctx context.Context, path string, fn func() error) error {
	if err := m.Acquire(ctx, path); err != nil {
		return err
	}
	defer m.Release(path)
	return fn()
}

// WithLocks acquires every path in the order given, runs fn, and releases
// in reverse order. Callers must pass paths in one fixed global order to
// avoid lock-order inversion. Duplicate paths are locked once.
func (m *Manager) WithLocks(ctx context.Context, paths []string, fn func() error) error {
	var acquired []string
	defer func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			m.Release(acquired[i])
		}
	}()

	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		if err := m.Acquire(ctx, p); err != nil {
			return err
		}
		acquired = append(acquired, p)
	}
	return fn()
}

// ReleaseAll drops every lock this Manager still holds. Called at shutdown.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	paths := make([]string, 0, len(m.held))
	for p := range m.held {
		paths = append(paths, p)
	}
	m.mu.Unlock()

	for _, p := range paths {
		m.Release(p)
	}
}
