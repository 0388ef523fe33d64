// Package linksync keeps the task -> PRD references (task prdSource) and the
// PRD -> task references (linkedTaskIds) consistent.
//
// Link and Unlink change both documents in one transaction. Sync is the
// repair pass for anything that drifted, e.g. tasks regenerated or deleted by
// the task subsystem.
package linksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/steveyegge/prdledger/internal/debug"
	"github.com/steveyegge/prdledger/internal/history"
	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/types"
)

var (
	ErrAlreadyLinked = errors.New("task already linked to prd")
	ErrNotLinked     = errors.New("task not linked to prd")
)

// Synchronizer links tasks to PRDs.
type Synchronizer struct {
	store storage.Storage
	now   func() time.Time
	log   *slog.Logger
}

// New returns a Synchronizer over store.
func New(store storage.Storage) *Synchronizer {
	return &Synchronizer{
		store: store,
		now:   time.Now,
		log:   debug.Logger().With("component", "linksync"),
	}
}

// SetClock overrides the clock, for tests.
func (s *Synchronizer) SetClock(now func() time.Time) { s.now = now }

// Link points taskID at prdID and adds it to the PRD's linkedTaskIds. A task
// linked to another PRD is moved.
func (s *Synchronizer) Link(ctx context.Context, taskID, prdID, author string) error {
	var movedFrom string
	err := s.store.UpdateBoth(ctx, func(prds *types.PRDCollection, tasks *types.TaskCollection) error {
		task, err := tasks.Get(taskID)
		if err != nil {
			return err
		}
		p, err := prds.Get(prdID)
		if err != nil {
			return err
		}
		if p.Status == types.StatusArchived {
			return fmt.Errorf("prd %s is archived", prdID)
		}
		if p.HasLinkedTask(taskID) && pointsAt(task, p) {
			return fmt.Errorf("%w: task %s, %s", ErrAlreadyLinked, taskID, prdID)
		}

		now := s.now()
		if old := previousPRD(prds, task, p); old != nil && old.UnlinkTask(taskID) {
			movedFrom = old.ID
			old.TaskStats = tasks.StatsFor(old.LinkedTaskIDs)
			old.LastModified = now.UTC()
			if _, err := history.Record(old, history.ChangeTasksUnlinked, map[string]any{
				"taskIds": []string{taskID},
				"movedTo": prdID,
			}, author, history.BumpPatch, now); err != nil {
				return err
			}
		}

		task.PRDSource = sourceFor(p, now)
		p.LinkTask(taskID)
		p.TaskStats = tasks.StatsFor(p.LinkedTaskIDs)
		p.LastModified = now.UTC()
		_, err = history.Record(p, history.ChangeTasksLinked, map[string]any{
			"taskIds": []string{taskID},
		}, author, history.BumpPatch, now)
		return err
	})
	if err != nil {
		return err
	}
	if movedFrom != "" {
		debug.LogEventAs("task_unlinked", movedFrom, author, "task "+taskID+" moved to "+prdID)
	}
	debug.LogEventAs("task_linked", prdID, author, "task "+taskID)
	return nil
}

// Unlink removes the link between taskID and prdID on both sides. A task that
// no longer exists is dropped from the PRD only.
func (s *Synchronizer) Unlink(ctx context.Context, taskID, prdID, author string) error {
	err := s.store.UpdateBoth(ctx, func(prds *types.PRDCollection, tasks *types.TaskCollection) error {
		p, err := prds.Get(prdID)
		if err != nil {
			return err
		}
		task := tasks.Find(taskID)
		taskSide := task != nil && pointsAt(task, p)
		if !p.HasLinkedTask(taskID) && !taskSide {
			return fmt.Errorf("%w: task %s, %s", ErrNotLinked, taskID, prdID)
		}

		if taskSide {
			task.PRDSource = nil
		}
		now := s.now()
		p.UnlinkTask(taskID)
		p.TaskStats = tasks.StatsFor(p.LinkedTaskIDs)
		p.LastModified = now.UTC()
		_, err = history.Record(p, history.ChangeTasksUnlinked, map[string]any{
			"taskIds": []string{taskID},
		}, author, history.BumpPatch, now)
		return err
	})
	if err != nil {
		return err
	}
	debug.LogEventAs("task_unlinked", prdID, author, "task "+taskID)
	return nil
}

// Result counts the repairs made by Sync.
type Result struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Removed int      `json:"removed"`
	Errors  []string `json:"errors"`
}

// Changed reports whether Sync modified anything.
func (r *Result) Changed() bool {
	return r.Created+r.Updated+r.Removed > 0
}

// Sync makes every link bidirectional:
//   - a task reference is resolved by file name, then by PRD id; unresolvable
//     references are dropped, and stale cached hashes are refreshed;
//   - a resolved task missing from its PRD's linkedTaskIds is added;
//   - linkedTaskIds entries for missing tasks, or for tasks that point at a
//     different PRD, are dropped;
//   - a linked task with no reference of its own gets one.
//
// Task stats are refreshed for every PRD. A failure on one PRD is recorded
// in Errors and leaves that PRD unchanged; the pass continues. Running Sync
// twice in a row makes no changes the second time.
func (s *Synchronizer) Sync(ctx context.Context, author string) (*Result, error) {
	var res Result
	err := s.store.UpdateBoth(ctx, func(prds *types.PRDCollection, tasks *types.TaskCollection) error {
		res = Result{Errors: []string{}}
		now := s.now()

		added := map[string][]string{}
		removed := map[string][]string{}

		// Task side.
		for _, task := range tasks.Tasks {
			if task.PRDSource == nil {
				continue
			}
			p := resolve(prds, task.PRDSource)
			if p == nil {
				s.log.Debug("dropping orphaned prd reference", "task", task.ID, "prd", task.PRDSource.PRDID, "file", task.PRDSource.FileName)
				task.PRDSource = nil
				res.Removed++
				continue
			}
			if stale(task.PRDSource, p) {
				task.PRDSource = refresh(task.PRDSource, p, now)
				res.Updated++
			}
			if p.LinkTask(task.ID) {
				added[p.ID] = append(added[p.ID], task.ID)
				res.Created++
			}
		}

		// PRD side.
		for _, p := range prds.PRDs {
			for _, id := range slices.Clone(p.LinkedTaskIDs) {
				task := tasks.Find(id)
				switch {
				case task == nil, task.PRDSource != nil && !pointsAt(task, p):
					p.UnlinkTask(id)
					removed[p.ID] = append(removed[p.ID], id)
					res.Removed++
				case task.PRDSource == nil:
					task.PRDSource = sourceFor(p, now)
					res.Updated++
				}
			}
		}

		for i, p := range prds.PRDs {
			work := p.Clone()
			work.TaskStats = tasks.StatsFor(work.LinkedTaskIDs)
			a, r := added[p.ID], removed[p.ID]
			if len(a)+len(r) > 0 {
				work.LastModified = now.UTC()
				details := map[string]any{}
				if len(a) > 0 {
					details["added"] = a
				}
				if len(r) > 0 {
					details["removed"] = r
				}
				if _, err := history.Record(work, history.ChangeLinksSynced, details, author, history.BumpPatch, now); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p.ID, err))
					s.log.Warn("link sync failed for prd", "prd", p.ID, "error", err)
					continue
				}
			}
			prds.PRDs[i] = work
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Changed() {
		debug.LogEventAs("links_synced", "", author, fmt.Sprintf("created=%d updated=%d removed=%d", res.Created, res.Updated, res.Removed))
	}
	return &res, nil
}

// resolve finds the PRD a task reference points at: by file name first,
// then by id.
func resolve(prds *types.PRDCollection, src *types.PRDSource) *types.PRD {
	if src.FileName != "" {
		if p := prds.FindByFileName(src.FileName); p != nil {
			return p
		}
	}
	if src.PRDID != "" {
		return prds.Find(src.PRDID)
	}
	return nil
}

func pointsAt(task *types.Task, p *types.PRD) bool {
	if task.PRDSource == nil {
		return false
	}
	if task.PRDSource.FileName != "" {
		return task.PRDSource.FileName == p.FileName
	}
	return task.PRDSource.PRDID == p.ID
}

// previousPRD returns the PRD task is currently linked to, if other than p.
func previousPRD(prds *types.PRDCollection, task *types.Task, p *types.PRD) *types.PRD {
	if task.PRDSource != nil {
		if old := resolve(prds, task.PRDSource); old != nil && old.ID != p.ID {
			return old
		}
	}
	for _, old := range prds.PRDs {
		if old.ID != p.ID && old.HasLinkedTask(task.ID) {
			return old
		}
	}
	return nil
}

func stale(src *types.PRDSource, p *types.PRD) bool {
	return src.PRDID != p.ID || src.FileHash != p.FileHash || src.FilePath != p.FilePath || src.FileName != p.FileName
}

func sourceFor(p *types.PRD, now time.Time) *types.PRDSource {
	return &types.PRDSource{
		PRDID:    p.ID,
		FileName: p.FileName,
		FilePath: p.FilePath,
		FileHash: p.FileHash,
		FileSize: p.FileSize,
		LinkedAt: now.UTC(),
	}
}

// refresh updates the cached PRD fields of src, keeping the original link time.
func refresh(src *types.PRDSource, p *types.PRD, now time.Time) *types.PRDSource {
	out := sourceFor(p, now)
	if !src.LinkedAt.IsZero() {
		out.LinkedAt = src.LinkedAt
	}
	return out
}
