// Package storage provides the interface every component uses to read and
// mutate the PRD and task documents.
//
// The concrete implementation lives in the jsonfile sub-package. This package
// holds the interface and value types shared by the implementation and its
// consumers (status, history, linksync, archive, cmd/prd).
package storage

import (
	"context"
	"errors"

	"github.com/steveyegge/prdledger/internal/types"
)

// ErrNoChange may be returned by an update callback to skip the write.
// The update then returns nil.
var ErrNoChange = errors.New("no change")

// Storage is the interface satisfied by *jsonfile.Store.
//
// Load* and GetPRD are unlocked, best-effort reads for listing; their results
// must never be written back. All mutation goes through the Update* methods
// or Lock, which hold the document locks (PRD document first, then task
// document) for the duration of the callback.
type Storage interface {
	Layout() Layout

	// Unlocked reads
	LoadPRDs(ctx context.Context) (*types.PRDCollection, error)
	LoadTasks(ctx context.Context) (*types.TaskCollection, error)
	GetPRD(ctx context.Context, id string) (*types.PRD, error)

	// UpdatePRDs runs fn on a fresh copy of the PRD document under its lock
	// and writes the result back. The file is restored if the write fails.
	UpdatePRDs(ctx context.Context, fn func(prds *types.PRDCollection) error) error

	// UpdateTasks is UpdatePRDs for the task document.
	UpdateTasks(ctx context.Context, fn func(tasks *types.TaskCollection) error) error

	// UpdatePRDsWithTasks locks both documents but writes only the PRD
	// document. The task collection is read-only context for fn.
	UpdatePRDsWithTasks(ctx context.Context, fn func(prds *types.PRDCollection, tasks *types.TaskCollection) error) error

	// UpdateBoth mutates both documents in one transaction. Tasks are written
	// first, then PRDs; if either write fails both files are restored.
	UpdateBoth(ctx context.Context, fn func(prds *types.PRDCollection, tasks *types.TaskCollection) error) error

	// Lock holds both document locks while fn runs, without automatic
	// backups. It is for multi-step workflows that manage their own
	// snapshots and rollback.
	Lock(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any locks still held by this process.
	Close() error
}

// Tx is the view of the documents available inside Storage.Lock.
type Tx interface {
	PRDs() (*types.PRDCollection, error)
	Tasks() (*types.TaskCollection, error)
	SavePRDs(prds *types.PRDCollection) error
	SaveTasks(tasks *types.TaskCollection) error
}
