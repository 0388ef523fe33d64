// Package txn runs read-modify-write operations over metadata documents so
// that each protected file ends up either fully before or fully after the
// operation.
//
// The file's prior content is copied to <path>.backup before the operation
// runs. On success the backup is removed; on failure it is renamed back over
// the file. A backup still present when the lock is next acquired means an
// earlier holder died mid-operation, and is restored before anything else.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/steveyegge/prdledger/internal/debug"
	"github.com/steveyegge/prdledger/internal/utils"
)

// BackupSuffix is appended to a protected path to form its backup path.
const BackupSuffix = ".backup"

// BackupPath returns the transaction backup file for path.
func BackupPath(path string) string {
	return path + BackupSuffix
}

// Locker is the mutual exclusion the transaction runs under.
// *lockfile.Manager satisfies it.
type Locker interface {
	WithLock(ctx context.Context, path string, fn func() error) error
	WithLocks(ctx context.Context, paths []string, fn func() error) error
}

// Options controls a transaction.
type Options struct {
	// CreateBackup snapshots every protected path before the operation runs.
	CreateBackup bool
	Logger       *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return debug.Logger()
}

// RollbackError means the operation failed and at least one file could not be
// restored. The files may be in an intermediate state and need manual repair.
type RollbackError struct {
	Cause       error
	RollbackErr error
	Paths       []string
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed for %s after error %v: %v (manual intervention required)",
		strings.Join(e.Paths, ", "), e.Cause, e.RollbackErr)
}

// Unwrap exposes both the original failure and the restore failure.
func (e *RollbackError) Unwrap() []error {
	return []error{e.Cause, e.RollbackErr}
}

// IsFatal reports whether err carries a failed rollback.
func IsFatal(err error) bool {
	var rb *RollbackError
	return errors.As(err, &rb)
}

type backup struct {
	path    string
	existed bool
}

// Run executes op with backup/rollback for path. The caller must already hold
// the lock for path.
func Run(path string, op func() error, opts Options) error {
	return RunMulti([]string{path}, op, opts)
}

// RunMulti is Run over several paths: all are backed up before op and all are
// restored if op fails. The caller must hold every lock.
func RunMulti(paths []string, op func() error, opts Options) (err error) {
	log := opts.logger().With("txn", uuid.NewString()[:8])

	for _, p := range paths {
		if rerr := RecoverLeftover(p, log); rerr != nil {
			return rerr
		}
	}

	var backups []backup
	if opts.CreateBackup {
		for _, p := range paths {
			b, berr := snapshot(p)
			if berr != nil {
				discard(backups, log)
				return berr
			}
			backups = append(backups, b)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			if rerr := rollback(backups, log); rerr != nil {
				log.Error("rollback after panic failed", "error", rerr)
			}
			panic(r)
		}
	}()

	err = op()
	if err == nil {
		discard(backups, log)
		return nil
	}

	if len(backups) == 0 {
		return err
	}
	if rerr := rollback(backups, log); rerr != nil {
		return &RollbackError{Cause: err, RollbackErr: rerr, Paths: paths}
	}
	log.Debug("rolled back", "paths", paths, "cause", err)
	return err
}

// Atomic acquires the lock for path and runs op under Run.
func Atomic(ctx context.Context, locker Locker, path string, op func() error, opts Options) error {
	return locker.WithLock(ctx, path, func() error {
		return Run(path, op, opts)
	})
}

// AtomicMulti acquires the locks for paths in the order given and runs op
// under RunMulti.
func AtomicMulti(ctx context.Context, locker Locker, paths []string, op func() error, opts Options) error {
	return locker.WithLocks(ctx, paths, func() error {
		return RunMulti(paths, op, opts)
	})
}

// AtomicValue is Atomic for operations that produce a result.
func AtomicValue[T any](ctx context.Context, locker Locker, path string, op func() (T, error), opts Options) (T, error) {
	var result T
	err := Atomic(ctx, locker, path, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		result = v
		return nil
	}, opts)
	return result, err
}

// RecoverLeftover restores path from a backup left behind by a holder that
// died mid-operation. The caller must hold the lock for path.
func RecoverLeftover(path string, log *slog.Logger) error {
	bp := BackupPath(path)
	if !utils.FileExists(bp) {
		return nil
	}
	if log == nil {
		log = debug.Logger()
	}
	log.Warn("restoring leftover backup from an interrupted operation", "path", path, "backup", bp)
	if err := Restore(bp, path); err != nil {
		return &RollbackError{
			Cause:       errors.New("interrupted operation left a backup behind"),
			RollbackErr: err,
			Paths:       []string{path},
		}
	}
	debug.LogEvent("txn_recovered", "", path)
	return nil
}

// Restore moves backupPath over path.
func Restore(backupPath, path string) error {
	if err := utils.DefaultRenameRetry(backupPath, path); err != nil {
		return fmt.Errorf("restore %s from %s: %w", path, backupPath, err)
	}
	return nil
}

func snapshot(path string) (backup, error) {
	if !utils.FileExists(path) {
		return backup{path: path}, nil
	}
	if err := utils.CopyFile(path, BackupPath(path)); err != nil {
		_ = os.Remove(BackupPath(path))
		return backup{}, fmt.Errorf("backup %s: %w", path, err)
	}
	return backup{path: path, existed: true}, nil
}

func rollback(backups []backup, log *slog.Logger) error {
	var errs []error
	for i := len(backups) - 1; i >= 0; i-- {
		b := backups[i]
		if b.existed {
			if err := Restore(BackupPath(b.path), b.path); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		// The file did not exist before; the operation may have created it.
		if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", b.path, err))
		}
	}
	if len(errs) > 0 {
		log.Error("rollback failed", "error", errors.Join(errs...))
	}
	return errors.Join(errs...)
}

func discard(backups []backup, log *slog.Logger) {
	for _, b := range backups {
		if !b.existed {
			continue
		}
		if err := os.Remove(BackupPath(b.path)); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove backup", "path", BackupPath(b.path), "error", err)
		}
	}
}
