package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupStale removes stale markers in dir, along with temp files left
// behind by an interrupted acquisition. Returns the number of markers removed.
// Markers held by live owners are left alone.
func (m *Manager) CleanupStale(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan %s for stale locks: %w", dir, err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		full := filepath.Join(dir, name)
		switch {
		case isMarkerName(name):
			if m.breakIfStale(full) {
				removed++
			}
		case strings.Contains(name, Suffix+".tmp."):
			info, err := e.Info()
			if err == nil && m.now().Sub(info.ModTime()) > m.orphanAge() {
				_ = os.Remove(full)
			}
		}
	}
	return removed, nil
}

func (m *Manager) orphanAge() time.Duration {
	if m.timeout > 0 {
		return m.timeout
	}
	return DefaultTimeout
}

// StartJanitor sweeps dirs for stale markers every interval until ctx is done.
// The returned channel is closed when the janitor exits.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration, dirs ...string) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, dir := range dirs {
					if n, err := m.CleanupStale(dir); err != nil {
						m.log.Warn("stale lock sweep failed", "dir", dir, "error", err)
					} else if n > 0 {
						m.log.Info("stale lock sweep", "dir", dir, "removed", n)
					}
				}
			}
		}
	}()
	return done
}
