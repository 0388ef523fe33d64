package lockfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Suffix is appended to a protected path to form its marker path.
const Suffix = ".lock"

// Marker is the content of a lock marker file.
type Marker struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt"`
	Target     string    `json:"target"`
}

// MarkerPath returns the marker file for a protected path.
func MarkerPath(path string) string {
	return path + Suffix
}

// ReadMarker parses the marker at markerPath. The raw bytes are returned
// alongside so callers can detect replacement before removing it.
func ReadMarker(markerPath string) (*Marker, []byte, error) {
	// #nosec G304 -- marker paths are derived from the configured layout
	data, err := os.ReadFile(markerPath)
	if err != nil {
		return nil, nil, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, data, fmt.Errorf("parse lock marker %s: %w", markerPath, err)
	}
	if m.PID <= 0 || m.AcquiredAt.IsZero() {
		return nil, data, fmt.Errorf("parse lock marker %s: missing pid or timestamp", markerPath)
	}
	return &m, data, nil
}

// writeMarker publishes the marker exclusively. The content is written to a
// temp file first and hard-linked into place, so the marker never exists
// half-written. Filesystems without hard links fall back to O_EXCL.
// Returns an error matching os.ErrExist when another owner holds it.
func writeMarker(markerPath string, data []byte) error {
	dir := filepath.Dir(markerPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(markerPath)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create lock temp for %s: %w", markerPath, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write lock temp for %s: %w", markerPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close lock temp for %s: %w", markerPath, err)
	}

	err = os.Link(tmpName, markerPath)
	if err == nil || errors.Is(err, os.ErrExist) {
		return err
	}

	// #nosec G304 -- marker paths are derived from the configured layout
	f, err := os.OpenFile(markerPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, werr := f.Write(data); werr != nil {
		_ = f.Close()
		_ = os.Remove(markerPath)
		return fmt.Errorf("write lock marker %s: %w", markerPath, werr)
	}
	return f.Close()
}

// staleReason reports why an existing marker may be broken, or "" if it is
// held by a live owner.
func (m *Manager) staleReason(markerPath string) (string, []byte) {
	marker, raw, err := ReadMarker(markerPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		if raw == nil {
			return "", nil
		}
		// A marker created through the O_EXCL fallback is briefly empty.
		if info, serr := os.Stat(markerPath); serr == nil && m.now().Sub(info.ModTime()) < m.retry {
			return "", nil
		}
		return "unparseable", raw
	}
	// A same-host owner is judged by liveness alone: a live holder keeps the
	// lock however long its critical section runs. Age applies only to
	// markers whose owner cannot be checked.
	if canCheckProcesses && marker.Hostname != "" && marker.Hostname == m.hostname {
		if isProcessRunning(marker.PID) {
			return "", nil
		}
		return fmt.Sprintf("owner pid %d is not running", marker.PID), raw
	}
	if age := m.now().Sub(marker.AcquiredAt); m.timeout > 0 && age > m.timeout {
		return fmt.Sprintf("age %s exceeds timeout %s", age.Round(time.Millisecond), m.timeout), raw
	}
	return "", nil
}

// breakIfStale removes a stale marker. The marker is re-read just before
// removal so a lock that changed hands in the meantime is left alone.
func (m *Manager) breakIfStale(markerPath string) bool {
	reason, raw := m.staleReason(markerPath)
	if reason == "" {
		return false
	}
	// #nosec G304 -- marker paths are derived from the configured layout
	current, err := os.ReadFile(markerPath)
	if err != nil || !bytes.Equal(current, raw) {
		return false
	}
	if err := os.Remove(markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warn("failed to remove stale lock", "marker", markerPath, "error", err)
		return false
	}
	m.log.Warn("removed stale lock", "marker", markerPath, "reason", reason)
	return true
}

func isMarkerName(name string) bool {
	return strings.HasSuffix(name, Suffix)
}
