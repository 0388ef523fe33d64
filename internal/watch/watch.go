// Package watch records source document edits as they happen.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/prdledger/internal/debug"
	"github.com/steveyegge/prdledger/internal/discovery"
	"github.com/steveyegge/prdledger/internal/history"
	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/utils"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Tracker is the part of history.Tracker the watcher needs.
type Tracker interface {
	TrackFileChanges(ctx context.Context, prdID, author string) (*history.FileChange, error)
}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Author   string
	// OnChange is called for every recorded change.
	OnChange func(history.FileChange)
	// OnError is called for per-file failures; Run keeps going.
	OnError func(error)
}

// Watcher tracks changes to registered source documents under the PRD directory.
type Watcher struct {
	store   storage.Storage
	tracker Tracker
	opts    Options
	log     *slog.Logger
	ready   chan struct{}
}

// New returns a Watcher. Call Run to start it.
func New(store storage.Storage, tracker Tracker, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Author == "" {
		opts.Author = "watcher"
	}
	return &Watcher{
		store:   store,
		tracker: tracker,
		opts:    opts,
		log:     debug.Logger().With("component", "watch"),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the directories are being watched.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Run watches until ctx is cancelled. Unregistered files are ignored.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	root := w.store.Layout().PRDDir
	if err := w.addTree(fw, root); err != nil {
		return err
	}
	close(w.ready)
	w.log.Info("watching for source changes", "dir", root)

	pending := map[string]struct{}{}
	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, event.Name); err != nil {
						w.report(err)
					}
					continue
				}
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isSource(event.Name) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.opts.Debounce)
		case <-timer.C:
			w.flush(ctx, pending)
			clear(pending)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.report(fmt.Errorf("watcher: %w", err))
		}
	}
}

// flush records changes for every pending path that belongs to a PRD.
func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	prds, err := w.store.LoadPRDs(ctx)
	if err != nil {
		w.report(err)
		return
	}
	layout := w.store.Layout()
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	for _, path := range paths {
		var prdID string
		for _, p := range prds.PRDs {
			if utils.PathsEqual(layout.SourcePath(p), path) {
				prdID = p.ID
				break
			}
		}
		if prdID == "" {
			w.log.Debug("ignoring unregistered file", "path", path)
			continue
		}
		change, err := w.tracker.TrackFileChanges(ctx, prdID, w.opts.Author)
		if errors.Is(err, history.ErrSourceMissing) {
			// Editors that save by rename can briefly remove the file.
			w.log.Debug("source missing during save", "prd", prdID, "path", path)
			continue
		}
		if err != nil {
			w.report(fmt.Errorf("%s: %w", prdID, err))
			continue
		}
		if change.Changed && w.opts.OnChange != nil {
			w.opts.OnChange(*change)
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	archive := w.store.Layout().ArchiveDir
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || utils.PathsEqual(path, archive)) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) report(err error) {
	w.log.Warn("watch error", "error", err)
	if w.opts.OnError != nil {
		w.opts.OnError(err)
	}
}

func isSource(path string) bool {
	return slices.Contains(discovery.SourceExtensions, strings.ToLower(filepath.Ext(path)))
}
