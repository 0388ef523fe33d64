// Package archive moves a completed PRD and its linked tasks out of active
// tracking into a compressed archive artifact.
//
// The workflow holds both document locks for its whole duration. Both
// documents are snapshotted first; any failure after that point restores
// them, so the active collections are all-or-nothing.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/prdledger/internal/debug"
	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/txn"
	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/utils"
	"github.com/steveyegge/prdledger/internal/validation"
)

// BackupSuffix ends the snapshot files taken before an archive commits.
const BackupSuffix = txn.SnapshotSuffix

// stampFormat is used in archive file names and snapshot names.
const stampFormat = "20060102-150405"

// Steps of the committed sequence, in order.
const (
	StepBackup          = "backup"
	StepWriteArchive    = "write-archive"
	StepRemovePRD       = "remove-prd"
	StepRemoveTasks     = "remove-tasks"
	StepDeleteSource    = "delete-source"
	StepDeleteTaskFiles = "delete-task-files"
)

// IncompleteTask is a linked task that blocks archiving.
type IncompleteTask struct {
	ID     string           `json:"id"`
	Title  string           `json:"title,omitempty"`
	Status types.TaskStatus `json:"status"`
}

// PreconditionError lists why a PRD cannot be archived without Force.
type PreconditionError struct {
	PRDID           string           `json:"prdId"`
	Status          types.Status     `json:"status"`
	IncompleteTasks []IncompleteTask `json:"incompleteTasks"`
}

func (e *PreconditionError) Error() string {
	var parts []string
	if e.Status != types.StatusDone {
		parts = append(parts, fmt.Sprintf("status is %s, not done", e.Status))
	}
	if n := len(e.IncompleteTasks); n > 0 {
		ids := make([]string, n)
		for i, t := range e.IncompleteTasks {
			ids[i] = fmt.Sprintf("%s (%s)", t.ID, t.Status)
		}
		parts = append(parts, fmt.Sprintf("%d incomplete task(s): %s", n, strings.Join(ids, ", ")))
	}
	return fmt.Sprintf("cannot archive %s: %s (use --force to override)", e.PRDID, strings.Join(parts, "; "))
}

// RolledBackError means a committed step failed and every change was undone:
// both documents and all moved files are as they were before the archive.
type RolledBackError struct {
	PRDID string
	Step  string
	Cause error
}

func (e *RolledBackError) Error() string {
	return fmt.Sprintf("archive %s failed at %s (rolled back): %v", e.PRDID, e.Step, e.Cause)
}

func (e *RolledBackError) Unwrap() error { return e.Cause }

// Options controls Archive.
type Options struct {
	Force  bool
	DryRun bool
	Author string
}

// Preview describes what an archive would do.
type Preview struct {
	PRD         *types.PRD         `json:"prd"`
	Tasks       []*types.Task      `json:"tasks"`
	ArchivePath string             `json:"archivePath"`
	Files       []string           `json:"files"`
	Valid       bool               `json:"valid"`
	Problems    *PreconditionError `json:"problems,omitempty"`
	SchemaError string             `json:"schemaError,omitempty"`
}

// Result is returned by a committed or previewed archive.
type Result struct {
	PRDID        string    `json:"prdId"`
	ArchivePath  string    `json:"archivePath"`
	TaskCount    int       `json:"taskCount"`
	DeletedFiles []string  `json:"deletedFiles"`
	Metadata     *Metadata `json:"metadata,omitempty"`
	DryRun       bool      `json:"dryRun,omitempty"`
	Preview      *Preview  `json:"preview,omitempty"`
}

// Archiver runs the archival workflow.
type Archiver struct {
	store storage.Storage
	now   func() time.Time
	log   *slog.Logger

	// stepHook runs before each committed step; tests use it to inject failures.
	stepHook func(step string) error
}

// New returns an Archiver over store.
func New(store storage.Storage) *Archiver {
	return &Archiver{
		store: store,
		now:   time.Now,
		log:   debug.Logger().With("component", "archive"),
	}
}

// SetClock overrides the clock, for tests.
func (a *Archiver) SetClock(now func() time.Time) { a.now = now }

// Archive archives prdID. See the package doc for the guarantees.
func (a *Archiver) Archive(ctx context.Context, prdID string, opts Options) (*Result, error) {
	if opts.DryRun {
		return a.preview(ctx, prdID, opts)
	}

	var res *Result
	err := a.store.Lock(ctx, func(tx storage.Tx) error {
		prds, err := tx.PRDs()
		if err != nil {
			return err
		}
		tasks, err := tx.Tasks()
		if err != nil {
			return err
		}
		if _, err := a.recoverStaging(prds); err != nil {
			return err
		}
		p, err := prds.Get(prdID)
		if err != nil {
			return err
		}
		linked := linkedTasks(p, tasks)
		if problems := check(p, linked); problems != nil && !opts.Force {
			return problems
		}
		res, err = a.commit(tx, prds, tasks, p, linked, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.log.Info("prd archived", "prd", prdID, "archive", res.ArchivePath, "tasks", res.TaskCount)
	debug.LogEventAs("prd_archived", prdID, res.Metadata.ArchivedBy, a.store.Layout().Rel(res.ArchivePath))
	return res, nil
}

func (a *Archiver) preview(ctx context.Context, prdID string, opts Options) (*Result, error) {
	prds, err := a.store.LoadPRDs(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := a.store.LoadTasks(ctx)
	if err != nil {
		return nil, err
	}
	p, err := prds.Get(prdID)
	if err != nil {
		return nil, err
	}
	layout := a.store.Layout()
	linked := linkedTasks(p, tasks)
	pv := &Preview{
		PRD:         p.Clone(),
		Tasks:       make([]*types.Task, len(linked)),
		ArchivePath: archivePath(layout, p.ID, a.now()),
		Files:       filesToDelete(layout, p, linked),
		Problems:    check(p, linked),
	}
	for i, t := range linked {
		pv.Tasks[i] = t.Clone()
	}
	if err := validation.PRD(p); err != nil {
		pv.SchemaError = err.Error()
	}
	pv.Valid = pv.SchemaError == "" && (pv.Problems == nil || opts.Force)
	return &Result{
		PRDID:        p.ID,
		ArchivePath:  pv.ArchivePath,
		TaskCount:    len(linked),
		DeletedFiles: pv.Files,
		DryRun:       true,
		Preview:      pv,
	}, nil
}

// commit runs steps 1-6. Every failure after the snapshots restores both
// documents and any moved files.
func (a *Archiver) commit(tx storage.Tx, prds *types.PRDCollection, tasks *types.TaskCollection, p *types.PRD, linked []*types.Task, opts Options) (*Result, error) {
	layout := a.store.Layout()
	now := a.now().UTC()
	author := opts.Author
	if author == "" {
		author = "system"
	}

	ids := make([]string, len(linked))
	for i, t := range linked {
		ids[i] = t.ID
	}
	meta := Metadata{
		ArchiveID:  uuid.NewString(),
		PRDID:      p.ID,
		PRD:        p.Clone(),
		TaskIDs:    ids,
		TaskCount:  len(linked),
		Tasks:      linked,
		ArchivedAt: now,
		ArchivedBy: author,
		Forced:     opts.Force,
	}
	dest := archivePath(layout, p.ID, now)
	log := a.log.With("prd", p.ID, "archiveId", meta.ArchiveID)

	current := StepBackup
	step := func(name string) error {
		current = name
		return a.step(name)
	}

	// Step 1. The PRD document's snapshot is discarded first on success,
	// which makes it the commit point for crash recovery.
	if err := step(StepBackup); err != nil {
		return nil, err
	}
	stamp := now.Format(stampFormat)
	snaps, err := takeSnapshots(stamp, layout.PRDFile, layout.TasksFile)
	if err != nil {
		return nil, err
	}

	staging := filepath.Join(layout.ArchiveDir, stagingPrefix+meta.ArchiveID)
	journal := &manifest{PRDID: p.ID, ArchivePath: dest, Moves: []movedFile{}}
	var moved []movedFile
	fail := func(cause error) error {
		log.Warn("archive failed, rolling back", "step", current, "error", cause)
		var errs []error
		for _, s := range snaps {
			if err := s.restore(); err != nil {
				errs = append(errs, err)
			}
		}
		for i := len(moved) - 1; i >= 0; i-- {
			if err := moved[i].restore(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return &txn.RollbackError{
				Cause:       cause,
				RollbackErr: errors.Join(errs...),
				Paths:       []string{layout.PRDFile, layout.TasksFile},
			}
		}
		_ = os.RemoveAll(staging)
		if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove partial archive", "path", dest, "error", err)
		}
		log.Info("archive rolled back")
		return &RolledBackError{PRDID: p.ID, Step: current, Cause: cause}
	}

	if err := journal.write(staging); err != nil {
		return nil, fail(err)
	}

	// Step 2.
	if err := step(StepWriteArchive); err != nil {
		return nil, fail(err)
	}
	if err := writeArchive(dest, &meta, layout, p, linked); err != nil {
		return nil, fail(err)
	}

	// Step 3.
	if err := step(StepRemovePRD); err != nil {
		return nil, fail(err)
	}
	prds.Remove(p.ID)
	if err := tx.SavePRDs(prds); err != nil {
		return nil, fail(err)
	}

	// Step 4.
	if err := step(StepRemoveTasks); err != nil {
		return nil, fail(err)
	}
	if len(ids) > 0 {
		tasks.Remove(ids)
		if err := tx.SaveTasks(tasks); err != nil {
			return nil, fail(err)
		}
	}

	// Steps 5 and 6 move files aside so a later failure can put them back.
	var deleted []string
	if err := step(StepDeleteSource); err != nil {
		return nil, fail(err)
	}
	if src := layout.SourcePath(p); utils.FileExists(src) {
		m, err := stage(src, staging, journal)
		if err != nil {
			return nil, fail(err)
		}
		moved = append(moved, m)
		deleted = append(deleted, filepath.Base(src))
	}

	if err := step(StepDeleteTaskFiles); err != nil {
		return nil, fail(err)
	}
	for _, t := range linked {
		path := layout.TaskFilePath(t.ID)
		if !utils.FileExists(path) {
			continue
		}
		m, err := stage(path, staging, journal)
		if err != nil {
			return nil, fail(err)
		}
		moved = append(moved, m)
		deleted = append(deleted, filepath.Base(path))
	}

	for _, s := range snaps {
		s.discard(log)
	}
	if err := os.RemoveAll(staging); err != nil {
		log.Warn("failed to remove staging directory", "path", staging, "error", err)
	}
	if deleted == nil {
		deleted = []string{}
	}
	return &Result{
		PRDID:        p.ID,
		ArchivePath:  dest,
		TaskCount:    len(linked),
		DeletedFiles: deleted,
		Metadata:     &meta,
	}, nil
}

func (a *Archiver) step(name string) error {
	if a.stepHook == nil {
		return nil
	}
	return a.stepHook(name)
}

// linkedTasks returns the tasks listed in the PRD's linkedTaskIds plus any
// task whose prdSource points at it. Ids with no task are skipped.
func linkedTasks(p *types.PRD, tasks *types.TaskCollection) []*types.Task {
	var out []*types.Task
	for _, id := range p.LinkedTaskIDs {
		if t := tasks.Find(id); t != nil {
			out = append(out, t)
		}
	}
	for _, t := range tasks.LinkedTo(p.ID) {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// check returns nil when p may be archived without Force.
func check(p *types.PRD, linked []*types.Task) *PreconditionError {
	e := &PreconditionError{PRDID: p.ID, Status: p.Status, IncompleteTasks: []IncompleteTask{}}
	for _, t := range linked {
		if t.Status != types.TaskStatusDone {
			e.IncompleteTasks = append(e.IncompleteTasks, IncompleteTask{ID: t.ID, Title: t.Title, Status: t.Status})
		}
	}
	if p.Status == types.StatusDone && len(e.IncompleteTasks) == 0 {
		return nil
	}
	return e
}

func archivePath(layout storage.Layout, prdID string, now time.Time) string {
	return filepath.Join(layout.ArchiveDir, fmt.Sprintf("%s_%s%s", prdID, now.UTC().Format(stampFormat), Ext))
}

func filesToDelete(layout storage.Layout, p *types.PRD, linked []*types.Task) []string {
	files := []string{}
	if src := layout.SourcePath(p); utils.FileExists(src) {
		files = append(files, filepath.Base(src))
	}
	for _, t := range linked {
		if path := layout.TaskFilePath(t.ID); utils.FileExists(path) {
			files = append(files, filepath.Base(path))
		}
	}
	return files
}

type snapshot struct {
	path    string
	backup  string
	existed bool
}

func takeSnapshots(stamp string, paths ...string) ([]snapshot, error) {
	snaps := make([]snapshot, 0, len(paths))
	for _, path := range paths {
		s := snapshot{path: path, backup: txn.SnapshotPath(path, stamp)}
		if utils.FileExists(path) {
			if err := utils.CopyFile(path, s.backup); err != nil {
				for _, done := range snaps {
					_ = os.Remove(done.backup)
				}
				return nil, fmt.Errorf("snapshot %s: %w", path, err)
			}
			s.existed = true
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

func (s snapshot) restore() error {
	if !s.existed {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", s.path, err)
		}
		return nil
	}
	return txn.Restore(s.backup, s.path)
}

func (s snapshot) discard(log *slog.Logger) {
	if !s.existed {
		return
	}
	if err := os.Remove(s.backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove archive snapshot", "path", s.backup, "error", err)
	}
}
