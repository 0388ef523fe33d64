// Package teststore provides file-backed test helpers for storage consumers.
//
// Each Env is an isolated project root under t.TempDir() with the default
// layout, a jsonfile.Store, and helpers to seed PRDs, tasks, source documents
// and per-task files. All seeding writes through the codec, so seeded
// documents are valid by construction.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    env := teststore.New(t)
//	    prd := env.AddPRD("prd_001", types.StatusPending)
//	    env.AddTask("1", types.TaskStatusDone, prd)
//	}
package teststore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/prdledger/internal/codec"
	"github.com/steveyegge/prdledger/internal/lockfile"
	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/storage/jsonfile"
	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/utils"
)

// Epoch is the fixed creation time of seeded records.
var Epoch = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

// Env is an isolated project with seeded documents.
type Env struct {
	T      testing.TB
	Root   string
	Layout storage.Layout
	Locks  *lockfile.Manager
	Store  *jsonfile.Store

	prds  *types.PRDCollection
	tasks *types.TaskCollection
}

// New creates an empty project. Locks use a short timeout so contention
// failures surface quickly.
func New(t testing.TB) *Env {
	t.Helper()
	root := t.TempDir()
	layout := storage.DefaultLayout(root)
	locks := lockfile.New(lockfile.Options{Timeout: 5 * time.Second, RetryInterval: 5 * time.Millisecond})
	env := &Env{
		T:      t,
		Root:   root,
		Layout: layout,
		Locks:  locks,
		Store:  jsonfile.New(layout, locks),
		prds:   types.NewPRDCollection(),
		tasks:  types.NewTaskCollection(),
	}
	for _, dir := range []string{layout.PRDDir, layout.TasksDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("teststore: mkdir %s: %v", dir, err)
		}
	}
	t.Cleanup(func() { _ = env.Store.Close() })
	return env
}

// NewPRD returns a valid PRD record with a single "created" history entry.
func NewPRD(id string, status types.Status) *types.PRD {
	return &types.PRD{
		ID:            id,
		Title:         "PRD " + id,
		FileName:      id + ".md",
		Status:        status,
		Priority:      types.PriorityMedium,
		CreatedDate:   Epoch,
		LastModified:  Epoch,
		FilePath:      filepath.ToSlash(filepath.Join(storage.DefaultPRDDir, id+".md")),
		Tags:          []string{},
		LinkedTaskIDs: []string{},
		VersionHistory: []types.VersionEntry{{
			Version:    "1.0.0",
			Timestamp:  Epoch,
			ChangeType: "created",
			Author:     "test",
			Snapshot:   types.Snapshot{Status: status, Priority: types.PriorityMedium, Tags: []string{}, LinkedTaskIDs: []string{}},
		}},
		CurrentVersion: "1.0.0",
	}
}

// AddPRD seeds a PRD and writes its source document.
func (e *Env) AddPRD(id string, status types.Status) *types.PRD {
	e.T.Helper()
	p := NewPRD(id, status)
	e.prds.PRDs = append(e.prds.PRDs, p)
	e.WriteSource(p, "# "+p.Title+"\n\nRequirements for "+id+".\n")
	return p
}

// AddTask seeds a task, linking it to prd when prd is non-nil.
func (e *Env) AddTask(id string, status types.TaskStatus, prd *types.PRD) *types.Task {
	e.T.Helper()
	task := &types.Task{ID: id, Title: "Task " + id, Status: status}
	e.tasks.Tasks = append(e.tasks.Tasks, task)
	if prd != nil {
		task.PRDSource = &types.PRDSource{
			PRDID:    prd.ID,
			FileName: prd.FileName,
			FilePath: prd.FilePath,
			FileHash: prd.FileHash,
			LinkedAt: Epoch,
		}
		prd.LinkTask(id)
		prd.TaskStats = e.tasks.StatsFor(prd.LinkedTaskIDs)
	}
	e.Flush()
	return task
}

// WriteSource writes a PRD's source document and records its hash and size.
func (e *Env) WriteSource(p *types.PRD, content string) {
	e.T.Helper()
	path := e.Layout.SourcePath(p)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.T.Fatalf("teststore: mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.T.Fatalf("teststore: write source: %v", err)
	}
	info, err := utils.HashFile(path)
	if err != nil {
		e.T.Fatalf("teststore: hash source: %v", err)
	}
	p.FileHash = info.Hash
	p.FileSize = info.Size
	e.Flush()
}

// WriteTaskFile writes the per-task file for id and returns its path.
func (e *Env) WriteTaskFile(id, content string) string {
	e.T.Helper()
	path := e.Layout.TaskFilePath(id)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.T.Fatalf("teststore: write task file: %v", err)
	}
	return path
}

// Flush writes the seeded collections to disk.
func (e *Env) Flush() {
	e.T.Helper()
	e.prds.Touch(Epoch)
	if err := codec.WritePRDs(e.Layout.PRDFile, e.prds); err != nil {
		e.T.Fatalf("teststore: write prds: %v", err)
	}
	if err := codec.WriteTasks(e.Layout.TasksFile, e.tasks); err != nil {
		e.T.Fatalf("teststore: write tasks: %v", err)
	}
}

// PRDs reads the PRD document from disk.
func (e *Env) PRDs() *types.PRDCollection {
	e.T.Helper()
	c, err := codec.ReadPRDs(e.Layout.PRDFile)
	if err != nil {
		e.T.Fatalf("teststore: read prds: %v", err)
	}
	return c
}

// PRD reads one PRD from disk, failing the test if it is missing.
func (e *Env) PRD(id string) *types.PRD {
	e.T.Helper()
	p := e.PRDs().Find(id)
	if p == nil {
		e.T.Fatalf("teststore: prd %s not found", id)
	}
	return p
}

// Tasks reads the task document from disk.
func (e *Env) Tasks() *types.TaskCollection {
	e.T.Helper()
	c, err := codec.ReadTasks(e.Layout.TasksFile)
	if err != nil {
		e.T.Fatalf("teststore: read tasks: %v", err)
	}
	return c
}

// SetTaskStatus rewrites one task's status on disk, as the task subsystem would.
func (e *Env) SetTaskStatus(id string, status types.TaskStatus) {
	e.T.Helper()
	tasks := e.Tasks()
	task := tasks.Find(id)
	if task == nil {
		e.T.Fatalf("teststore: task %s not found", id)
	}
	task.Status = status
	if err := codec.WriteTasks(e.Layout.TasksFile, tasks); err != nil {
		e.T.Fatalf("teststore: write tasks: %v", err)
	}
	if t := e.tasks.Find(id); t != nil {
		t.Status = status
	}
}

// ReadBytes returns the raw content of path.
func (e *Env) ReadBytes(path string) []byte {
	e.T.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		e.T.Fatalf("teststore: read %s: %v", path, err)
	}
	return data
}
