package status

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
	// ErrManualOverride is returned when an automatic change targets a pinned PRD.
	ErrManualOverride = errors.New("status is manually pinned")

	// ErrArchivedPRD is returned when changing the status of an archived PRD.
	ErrArchivedPRD = errors.New("prd is archived")

	// ErrArchiveOnly is returned by SetStatus for the archived status, which
	// is reachable only through the archive workflow.
	ErrArchiveOnly = errors.New("use the archive workflow to archive a prd")
)

// Engine reconciles PRD statuses against their linked tasks.
type Engine struct {
	store storage.Storage
	now   func() time.Time
	log   *slog.Logger
}

// New returns an Engine over store.
func New(store storage.Storage) *Engine {
	return &Engine{
		store: store,
		now:   time.Now,
		log:   debug.Logger().With("component", "status"),
	}
}

// SetClock overrides the clock, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Options controls Reconcile.
type Options struct {
	// Force re-applies the recommended status even when it already matches,
	// recording a version entry.
	Force bool
	// DryRun computes the recommendation without writing.
	DryRun bool
	// OverrideManual permits changes to manually pinned PRDs.
	OverrideManual bool
	Author         string
}

// Result describes one reconciliation.
type Result struct {
	PRDID       string          `json:"prdId"`
	Previous    types.Status    `json:"previousStatus"`
	Recommended types.Status    `json:"recommendedStatus"`
	Changed     bool            `json:"changed"`
	Applied     bool            `json:"applied"`
	DryRun      bool            `json:"dryRun,omitempty"`
	Pinned      bool            `json:"pinned,omitempty"`
	Version     string          `json:"version,omitempty"`
	Counts      types.TaskStats `json:"taskStats"`
}

// Reconcile computes the recommended status for a PRD and applies it.
func (e *Engine) Reconcile(ctx context.Context, prdID string, opts Options) (*Result, error) {
	if opts.DryRun {
		prds, tasks, err := e.load(ctx)
		if err != nil {
			return nil, err
		}
		p, err := prds.Get(prdID)
		if err != nil {
			return nil, err
		}
		r := preview(p, tasks)
		return &r, nil
	}

	var res Result
	err := e.store.UpdatePRDsWithTasks(ctx, func(prds *types.PRDCollection, tasks *types.TaskCollection) error {
		p, err := prds.Get(prdID)
		if err != nil {
			return err
		}
		res, err = e.apply(p, tasks, opts, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logResult(res, opts.Author)
	return &res, nil
}

// BatchResult is the outcome of ReconcileAll.
type BatchResult struct {
	Results []Result  `json:"results"`
	Skipped []string  `json:"skipped,omitempty"`
	Errors  []Failure `json:"errors,omitempty"`
}

// Failure is a per-PRD error in a batch.
type Failure struct {
	PRDID string `json:"prdId"`
	Error string `json:"error"`
}

// ReconcileAll reconciles every non-archived PRD in a single write. Pinned
// PRDs are skipped unless OverrideManual is set; per-PRD failures are
// collected and leave that PRD untouched.
func (e *Engine) ReconcileAll(ctx context.Context, opts Options) (*BatchResult, error) {
	batch := &BatchResult{Results: []Result{}}
	if opts.DryRun {
		prds, tasks, err := e.load(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range prds.PRDs {
			if p.Status == types.StatusArchived {
				continue
			}
			batch.Results = append(batch.Results, preview(p, tasks))
		}
		return batch, nil
	}

	err := e.store.UpdatePRDsWithTasks(ctx, func(prds *types.PRDCollection, tasks *types.TaskCollection) error {
		*batch = BatchResult{Results: []Result{}}
		now := e.now()
		for i, p := range prds.PRDs {
			if p.Status == types.StatusArchived {
				continue
			}
			if p.ManualStatusOverride && !opts.OverrideManual {
				batch.Skipped = append(batch.Skipped, p.ID)
				continue
			}
			work := p.Clone()
			r, err := e.apply(work, tasks, opts, now)
			if errors.Is(err, storage.ErrNoChange) {
				batch.Results = append(batch.Results, r)
				continue
			}
			if err != nil {
				batch.Errors = append(batch.Errors, Failure{PRDID: p.ID, Error: err.Error()})
				continue
			}
			prds.PRDs[i] = work
			batch.Results = append(batch.Results, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range batch.Results {
		e.logResult(r, opts.Author)
	}
	return batch, nil
}

// OnTaskStatusChanged reconciles every PRD linked to taskID, either through the
// task's prdSource or through a PRD's linkedTaskIds. Pinned PRDs are skipped.
func (e *Engine) OnTaskStatusChanged(ctx context.Context, taskID, author string) ([]Result, error) {
	prds, tasks, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	if t := tasks.Find(taskID); t != nil && t.PRDSource != nil && t.PRDSource.PRDID != "" {
		ids = append(ids, t.PRDSource.PRDID)
	}
	for _, p := range prds.PRDs {
		if p.HasLinkedTask(taskID) && !slices.Contains(ids, p.ID) {
			ids = append(ids, p.ID)
		}
	}

	var results []Result
	var errs []error
	for _, id := range ids {
		r, err := e.Reconcile(ctx, id, Options{Author: author})
		switch {
		case errors.Is(err, ErrManualOverride), errors.Is(err, types.ErrPRDNotFound):
			e.log.Debug("skipping prd on task change", "prd", id, "task", taskID, "reason", err)
		case err != nil:
			errs = append(errs, err)
		default:
			results = append(results, *r)
		}
	}
	return results, errors.Join(errs...)
}

// SetOptions controls a manual status change.
type SetOptions struct {
	// Pin marks the PRD as manually overridden so reconciliation leaves it alone.
	Pin bool
	// Force allows an edge the lifecycle does not normally permit.
	Force  bool
	Author string
}

// SetStatus applies a manual status change, validated against the lifecycle.
func (e *Engine) SetStatus(ctx context.Context, prdID string, to types.Status, opts SetOptions) (*Result, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("invalid status %q", to)
	}
	if to == types.StatusArchived {
		return nil, ErrArchiveOnly
	}

	var res Result
	err := e.store.UpdatePRDsWithTasks(ctx, func(prds *types.PRDCollection, tasks *types.TaskCollection) error {
		p, err := prds.Get(prdID)
		if err != nil {
			return err
		}
		if p.Status == types.StatusArchived {
			return fmt.Errorf("%w: %s", ErrArchivedPRD, prdID)
		}
		if !opts.Force && !CanTransition(p.Status, to) {
			return &TransitionError{PRDID: prdID, From: p.Status, To: to}
		}
		res = Result{
			PRDID:       prdID,
			Previous:    p.Status,
			Recommended: to,
			Changed:     p.Status != to,
			Pinned:      opts.Pin || p.ManualStatusOverride,
			Counts:      tasks.StatsFor(p.LinkedTaskIDs),
		}
		if !res.Changed && (!opts.Pin || p.ManualStatusOverride) {
			return storage.ErrNoChange
		}

		now := e.now()
		p.Status = to
		p.TaskStats = res.Counts
		p.LastModified = now.UTC()
		if opts.Pin {
			p.ManualStatusOverride = true
		}
		entry, err := history.Record(p, history.ChangeStatusChanged, map[string]any{
			"from":   string(res.Previous),
			"to":     string(to),
			"manual": true,
			"pinned": p.ManualStatusOverride,
		}, opts.Author, history.BumpPatch, now)
		if err != nil {
			return err
		}
		res.Applied = true
		res.Version = entry.Version
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logResult(res, opts.Author)
	return &res, nil
}

// Unpin clears a PRD's manual override so reconciliation manages it again.
func (e *Engine) Unpin(ctx context.Context, prdID, author string) error {
	err := e.store.UpdatePRDs(ctx, func(prds *types.PRDCollection) error {
		p, err := prds.Get(prdID)
		if err != nil {
			return err
		}
		if !p.ManualStatusOverride {
			return storage.ErrNoChange
		}
		p.ManualStatusOverride = false
		p.LastModified = e.now().UTC()
		return nil
	})
	if err == nil {
		debug.LogEventAs("status_unpinned", prdID, author, "")
	}
	return err
}

// apply reconciles p in place. It returns ErrNoChange when nothing needs
// writing.
func (e *Engine) apply(p *types.PRD, tasks *types.TaskCollection, opts Options, now time.Time) (Result, error) {
	res := preview(p, tasks)
	if p.Status == types.StatusArchived {
		return res, storage.ErrNoChange
	}
	if !res.Changed && !opts.Force {
		if p.TaskStats == res.Counts {
			return res, storage.ErrNoChange
		}
		p.TaskStats = res.Counts
		return res, nil
	}
	if p.ManualStatusOverride && !opts.OverrideManual {
		return res, fmt.Errorf("%w: %s (status %s, recommended %s)", ErrManualOverride, p.ID, p.Status, res.Recommended)
	}

	p.Status = res.Recommended
	p.TaskStats = res.Counts
	p.LastModified = now.UTC()
	entry, err := history.Record(p, history.ChangeStatusChanged, map[string]any{
		"from":      string(res.Previous),
		"to":        string(res.Recommended),
		"forced":    opts.Force,
		"completed": res.Counts.CompletedTasks,
		"total":     res.Counts.TotalTasks,
	}, opts.Author, history.BumpPatch, now)
	if err != nil {
		return res, err
	}
	res.Applied = true
	res.Version = entry.Version
	return res, nil
}

func preview(p *types.PRD, tasks *types.TaskCollection) Result {
	counts := tasks.StatsFor(p.LinkedTaskIDs)
	rec := Recommend(p.Status, counts)
	return Result{
		PRDID:       p.ID,
		Previous:    p.Status,
		Recommended: rec,
		Changed:     rec != p.Status,
		Pinned:      p.ManualStatusOverride,
		Counts:      counts,
	}
}

func (e *Engine) load(ctx context.Context) (*types.PRDCollection, *types.TaskCollection, error) {
	prds, err := e.store.LoadPRDs(ctx)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := e.store.LoadTasks(ctx)
	if err != nil {
		return nil, nil, err
	}
	return prds, tasks, nil
}

func (e *Engine) logResult(r Result, author string) {
	if !r.Applied {
		return
	}
	e.log.Info("prd status updated", "prd", r.PRDID, "from", r.Previous, "to", r.Recommended, "version", r.Version)
	debug.LogEventAs(history.ChangeStatusChanged, r.PRDID, author, fmt.Sprintf("%s -> %s", r.Previous, r.Recommended))
}
