// Package prdledger provides the public API for embedding the PRD lifecycle
// store in other Go programs.
//
// A Ledger opens the PRD and task metadata documents of one project and
// exposes the engines that mutate them. All engines share one lock manager,
// so Close releases every lock this process still holds.
//
//	l, err := prdledger.Open(prdledger.Options{Root: "."})
//	if err != nil { ... }
//	defer l.Close()
//	res, err := l.Status.Reconcile(ctx, "prd_001", status.Options{})
package prdledger

import (
	"context"
	"time"

	"github.com/steveyegge/prdledger/internal/archive"
	"github.com/steveyegge/prdledger/internal/discovery"
	"github.com/steveyegge/prdledger/internal/history"
	"github.com/steveyegge/prdledger/internal/linksync"
	"github.com/steveyegge/prdledger/internal/lockfile"
	"github.com/steveyegge/prdledger/internal/status"
	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/storage/jsonfile"
	"github.com/steveyegge/prdledger/internal/telemetry"
	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/watch"
)

// Core types
type (
	PRD           = types.PRD
	PRDCollection = types.PRDCollection
	Task          = types.Task
	VersionEntry  = types.VersionEntry
	Status        = types.Status
	TaskStatus    = types.TaskStatus
	Layout        = storage.Layout
	Storage       = storage.Storage
)

// Status constants
const (
	StatusPending    = types.StatusPending
	StatusInProgress = types.StatusInProgress
	StatusDone       = types.StatusDone
	StatusArchived   = types.StatusArchived
)

// Options configures Open. Zero values select the defaults.
type Options struct {
	// Root is the project directory; defaults to the working directory.
	Root string
	// Layout overrides individual document locations. Relative paths resolve
	// against Root.
	Layout Layout

	LockTimeout       time.Duration
	LockRetryInterval time.Duration
}

// Ledger is an open project.
type Ledger struct {
	Store     Storage
	Locks     *lockfile.Manager
	History   *history.Tracker
	Status    *status.Engine
	Links     *linksync.Synchronizer
	Archiver  *archive.Archiver
	Registrar *discovery.Registrar
}

// Open builds a Ledger. It does not touch the filesystem; documents are read
// on first use and a missing PRD document reads as empty.
func Open(opts Options) (*Ledger, error) {
	l := opts.Layout
	if opts.Root != "" {
		l.Root = opts.Root
	}
	layout := storage.NewLayout(l)
	locks := lockfile.New(lockfile.Options{
		Timeout:       opts.LockTimeout,
		RetryInterval: opts.LockRetryInterval,
	})
	store := telemetry.WrapStorage(jsonfile.New(layout, locks))
	return &Ledger{
		Store:     store,
		Locks:     locks,
		History:   history.New(store),
		Status:    status.New(store),
		Links:     linksync.New(store),
		Archiver:  archive.New(store),
		Registrar: discovery.New(store),
	}, nil
}

// Layout returns the resolved document locations.
func (l *Ledger) Layout() Layout { return l.Store.Layout() }

// NewWatcher returns a watcher that records source document edits.
func (l *Ledger) NewWatcher(opts watch.Options) *watch.Watcher {
	return watch.New(l.Store, l.History, opts)
}

// StartJanitor removes stale lock markers every interval until ctx is done.
func (l *Ledger) StartJanitor(ctx context.Context, interval time.Duration) <-chan struct{} {
	return l.Locks.StartJanitor(ctx, interval, l.Layout().LockDirs()...)
}

// Close releases every lock still held by this process.
func (l *Ledger) Close() error {
	err := l.Store.Close()
	l.Locks.ReleaseAll()
	return err
}
