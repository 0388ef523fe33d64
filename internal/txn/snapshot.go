package txn

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/steveyegge/prdledger/internal/debug"
	"github.com/steveyegge/prdledger/internal/utils"
)

// SnapshotSuffix ends the stamped snapshots a multi-step workflow takes of
// every document it touches. Snapshots sharing a stamp form one set.
const SnapshotSuffix = ".archive-backup"

// SnapshotPath returns the snapshot of path for the given stamp.
func SnapshotPath(path, stamp string) string {
	return path + "." + stamp + SnapshotSuffix
}

// PendingSnapshots returns the stamps that have a snapshot of any of paths,
// oldest first.
func PendingSnapshots(paths []string) ([]string, error) {
	seen := map[string]bool{}
	for _, p := range paths {
		stamps, err := snapshotStamps(p)
		if err != nil {
			return nil, err
		}
		for _, s := range stamps {
			seen[s] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// RecoverSnapshots settles snapshot sets left by a workflow that never
// finished. paths[0] is the commit point: the workflow discards its snapshot
// first, so while it exists the set is restored as a whole; once it is gone
// the workflow had committed and the remaining snapshots are dropped.
// The caller must hold the lock for every path.
func RecoverSnapshots(paths []string, log *slog.Logger) error {
	if len(paths) == 0 {
		return nil
	}
	stamps, err := PendingSnapshots(paths)
	if err != nil {
		return err
	}
	if log == nil {
		log = debug.Logger()
	}
	for _, stamp := range stamps {
		committed := !utils.FileExists(SnapshotPath(paths[0], stamp))
		var errs []error
		for _, p := range paths {
			sp := SnapshotPath(p, stamp)
			if !utils.FileExists(sp) {
				continue
			}
			if committed {
				log.Warn("dropping snapshot of a committed workflow", "path", p, "snapshot", sp)
				if err := os.Remove(sp); err != nil && !errors.Is(err, os.ErrNotExist) {
					errs = append(errs, fmt.Errorf("remove %s: %w", sp, err))
				}
				continue
			}
			log.Warn("restoring snapshot from an interrupted workflow", "path", p, "snapshot", sp)
			if err := Restore(sp, p); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return &RollbackError{
				Cause:       fmt.Errorf("interrupted workflow %s left snapshots behind", stamp),
				RollbackErr: errors.Join(errs...),
				Paths:       paths,
			}
		}
		if !committed {
			debug.LogEvent("txn_recovered", "", strings.Join(paths, ","))
		}
	}
	return nil
}

func snapshotStamps(path string) ([]string, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s for snapshots: %w", dir, err)
	}
	var stamps []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, base+".") || !strings.HasSuffix(name, SnapshotSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, base+"."), SnapshotSuffix)
		if stamp != "" {
			stamps = append(stamps, stamp)
		}
	}
	return stamps, nil
}
