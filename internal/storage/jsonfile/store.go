// Package jsonfile implements storage.Storage over the two JSON documents,
// using marker-file locks and backup/restore transactions.
package jsonfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steveyegge/prdledger/internal/codec"
	"github.com/steveyegge/prdledger/internal/debug"
	"github.com/steveyegge/prdledger/internal/lockfile"
	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/txn"
	"github.com/steveyegge/prdledger/internal/types"
)

// Store is the file-backed storage implementation.
type Store struct {
	layout storage.Layout
	locks  *lockfile.Manager
	log    *slog.Logger
	now    func() time.Time
}

var _ storage.Storage = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New returns a Store over layout. locks is shared by every caller in the
// process so ReleaseAll at shutdown sees all held locks.
func New(layout storage.Layout, locks *lockfile.Manager, opts ...Option) *Store {
	s := &Store{
		layout: layout,
		locks:  locks,
		log:    debug.Logger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "storage")
	return s
}

func (s *Store) Layout() storage.Layout { return s.layout }

// Locks returns the lock manager the store acquires through.
func (s *Store) Locks() *lockfile.Manager { return s.locks }

func (s *Store) LoadPRDs(ctx context.Context) (*types.PRDCollection, error) {
	return codec.ReadPRDs(s.layout.PRDFile)
}

func (s *Store) LoadTasks(ctx context.Context) (*types.TaskCollection, error) {
	return codec.ReadTasks(s.layout.TasksFile)
}

func (s *Store) GetPRD(ctx context.Context, id string) (*types.PRD, error) {
	prds, err := s.LoadPRDs(ctx)
	if err != nil {
		return nil, err
	}
	p, err := prds.Get(id)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (s *Store) UpdatePRDs(ctx context.Context, fn func(*types.PRDCollection) error) error {
	if err := s.settleSnapshots(ctx); err != nil {
		return err
	}
	path := s.layout.PRDFile
	return txn.Atomic(ctx, s.locks, path, func() error {
		prds, err := codec.ReadPRDs(path)
		if err != nil {
			return err
		}
		before, err := codec.EncodePRDs(prds)
		if err != nil {
			return err
		}
		if err := fn(prds); err != nil {
			return skipNoChange(err)
		}
		return s.writePRDsIfChanged(prds, before)
	}, txn.Options{CreateBackup: true, Logger: s.log})
}

func (s *Store) UpdateTasks(ctx context.Context, fn func(*types.TaskCollection) error) error {
	if err := s.settleSnapshots(ctx); err != nil {
		return err
	}
	path := s.layout.TasksFile
	return txn.Atomic(ctx, s.locks, path, func() error {
		tasks, err := codec.ReadTasks(path)
		if err != nil {
			return err
		}
		before, err := codec.EncodeTasks(tasks)
		if err != nil {
			return err
		}
		if err := fn(tasks); err != nil {
			return skipNoChange(err)
		}
		return s.writeTasksIfChanged(tasks, before)
	}, txn.Options{CreateBackup: true, Logger: s.log})
}

func (s *Store) UpdatePRDsWithTasks(ctx context.Context, fn func(*types.PRDCollection, *types.TaskCollection) error) error {
	prdPath, taskPath := s.layout.PRDFile, s.layout.TasksFile
	return s.locks.WithLocks(ctx, s.lockOrder(), func() error {
		if err := s.recoverLocked(); err != nil {
			return err
		}
		return txn.Run(prdPath, func() error {
			prds, err := codec.ReadPRDs(prdPath)
			if err != nil {
				return err
			}
			tasks, err := codec.ReadTasks(taskPath)
			if err != nil {
				return err
			}
			before, err := codec.EncodePRDs(prds)
			if err != nil {
				return err
			}
			if err := fn(prds, tasks); err != nil {
				return skipNoChange(err)
			}
			return s.writePRDsIfChanged(prds, before)
		}, txn.Options{CreateBackup: true, Logger: s.log})
	})
}

func (s *Store) UpdateBoth(ctx context.Context, fn func(*types.PRDCollection, *types.TaskCollection) error) error {
	prdPath, taskPath := s.layout.PRDFile, s.layout.TasksFile
	return s.locks.WithLocks(ctx, s.lockOrder(), func() error {
		if err := s.recoverLocked(); err != nil {
			return err
		}
		return txn.RunMulti(s.lockOrder(), func() error {
			return s.updateBoth(prdPath, taskPath, fn)
		}, txn.Options{CreateBackup: true, Logger: s.log})
	})
}

func (s *Store) updateBoth(prdPath, taskPath string, fn func(*types.PRDCollection, *types.TaskCollection) error) error {
	prds, err := codec.ReadPRDs(prdPath)
	if err != nil {
		return err
	}
	tasks, err := codec.ReadTasks(taskPath)
	if err != nil {
		return err
	}
	prdsBefore, err := codec.EncodePRDs(prds)
	if err != nil {
		return err
	}
	tasksBefore, err := codec.EncodeTasks(tasks)
	if err != nil {
		return err
	}
	if err := fn(prds, tasks); err != nil {
		return skipNoChange(err)
	}
	if err := s.writeTasksIfChanged(tasks, tasksBefore); err != nil {
		return err
	}
	return s.writePRDsIfChanged(prds, prdsBefore)
}

func (s *Store) Lock(ctx context.Context, fn func(storage.Tx) error) error {
	return s.locks.WithLocks(ctx, s.lockOrder(), func() error {
		if err := s.recoverLocked(); err != nil {
			return err
		}
		return fn(&tx{store: s})
	})
}

// recoverLocked repairs what an interrupted holder left behind: per-document
// backups and stamped snapshot sets. The caller holds both locks.
func (s *Store) recoverLocked() error {
	for _, p := range s.lockOrder() {
		if err := txn.RecoverLeftover(p, s.log); err != nil {
			return err
		}
	}
	return txn.RecoverSnapshots(s.lockOrder(), s.log)
}

// settleSnapshots runs recovery under both locks when a snapshot set is on
// disk, so a single-document update never builds on a half-finished archive.
// A set belonging to a live workflow is gone by the time the locks are free.
func (s *Store) settleSnapshots(ctx context.Context) error {
	stamps, err := txn.PendingSnapshots(s.lockOrder())
	if err != nil || len(stamps) == 0 {
		return err
	}
	return s.locks.WithLocks(ctx, s.lockOrder(), s.recoverLocked)
}

func (s *Store) Close() error {
	s.locks.ReleaseAll()
	return nil
}

// lockOrder is the one global acquisition order: PRD document, then tasks.
func (s *Store) lockOrder() []string {
	return []string{s.layout.PRDFile, s.layout.TasksFile}
}

// writePRDsIfChanged compares against before with the count already
// refreshed, so added or removed PRDs validate and a no-op skips the write.
func (s *Store) writePRDsIfChanged(prds *types.PRDCollection, before []byte) error {
	prds.Metadata.TotalPRDs = len(prds.PRDs)
	after, err := codec.EncodePRDs(prds)
	if err != nil {
		return err
	}
	if bytes.Equal(before, after) {
		return nil
	}
	return s.savePRDs(prds)
}

func (s *Store) writeTasksIfChanged(tasks *types.TaskCollection, before []byte) error {
	after, err := codec.EncodeTasks(tasks)
	if err != nil {
		return err
	}
	if bytes.Equal(before, after) {
		return nil
	}
	return codec.WriteFile(s.layout.TasksFile, after)
}

func (s *Store) savePRDs(prds *types.PRDCollection) error {
	prds.Touch(s.now().UTC())
	if err := codec.WritePRDs(s.layout.PRDFile, prds); err != nil {
		return fmt.Errorf("save prds: %w", err)
	}
	return nil
}

// skipNoChange turns ErrNoChange into success without a write.
func skipNoChange(err error) error {
	if errors.Is(err, storage.ErrNoChange) {
		return nil
	}
	return err
}

// tx reads and writes the documents directly; the caller holds both locks.
type tx struct {
	store *Store
}

func (t *tx) PRDs() (*types.PRDCollection, error) {
	return codec.ReadPRDs(t.store.layout.PRDFile)
}

func (t *tx) Tasks() (*types.TaskCollection, error) {
	return codec.ReadTasks(t.store.layout.TasksFile)
}

func (t *tx) SavePRDs(prds *types.PRDCollection) error {
	return t.store.savePRDs(prds)
}

func (t *tx) SaveTasks(tasks *types.TaskCollection) error {
	if err := codec.WriteTasks(t.store.layout.TasksFile, tasks); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	return nil
}
