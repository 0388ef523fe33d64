package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/prdledger/internal/debug"
	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/utils"
)

// ErrVersionNotFound is returned when a requested version is not in a PRD's history.
var ErrVersionNotFound = errors.New("version not found")

// ErrSourceMissing is returned when a PRD's source document cannot be found.
var ErrSourceMissing = errors.New("source document missing")

// hashWorkers bounds concurrent hashing in TrackAll.
const hashWorkers = 8

// Tracker records and queries PRD version history.
type Tracker struct {
	store storage.Storage
	now   func() time.Time
	log   *slog.Logger
}

// New returns a Tracker over store.
func New(store storage.Storage) *Tracker {
	return &Tracker{
		store: store,
		now:   time.Now,
		log:   debug.Logger().With("component", "history"),
	}
}

// SetClock overrides the clock, for tests.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Options for AddVersionEntry.
type Options struct {
	Author string
	Bump   Bump
}

// AddVersionEntry appends an entry to a PRD's history and persists it.
func (t *Tracker) AddVersionEntry(ctx context.Context, prdID, changeType string, details map[string]any, opts Options) (*types.VersionEntry, error) {
	var entry types.VersionEntry
	err := t.store.UpdatePRDs(ctx, func(prds *types.PRDCollection) error {
		p, err := prds.Get(prdID)
		if err != nil {
			return err
		}
		now := t.now()
		entry, err = Record(p, changeType, details, opts.Author, opts.Bump, now)
		if err != nil {
			return err
		}
		p.LastModified = now.UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	debug.LogEventAs(changeType, prdID, entry.Author, "version "+entry.Version)
	return &entry, nil
}

// Filter narrows History results. Zero values match everything.
type Filter struct {
	// Limit keeps only the most recent N entries.
	Limit      int
	ChangeType string
	Author     string
	Since      time.Time
}

// History returns a PRD's entries oldest first, filtered. This is an unlocked read.
func (t *Tracker) History(ctx context.Context, prdID string, f Filter) ([]types.VersionEntry, error) {
	p, err := t.store.GetPRD(ctx, prdID)
	if err != nil {
		return nil, err
	}
	return FilterEntries(p.VersionHistory, f), nil
}

// FilterEntries applies f to entries, preserving order.
func FilterEntries(entries []types.VersionEntry, f Filter) []types.VersionEntry {
	out := make([]types.VersionEntry, 0, len(entries))
	for _, e := range entries {
		if f.ChangeType != "" && e.ChangeType != f.ChangeType {
			continue
		}
		if f.Author != "" && e.Author != f.Author {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Diff is a field-by-field comparison of two version entries. Each flag is
// true when that field differs.
type Diff struct {
	PRDID       string `json:"prdId"`
	From        string `json:"from"`
	To          string `json:"to"`
	Status      bool   `json:"status"`
	Priority    bool   `json:"priority"`
	Complexity  bool   `json:"complexity"`
	Tags        bool   `json:"tags"`
	LinkedTasks bool   `json:"linkedTasks"`
	FileHash    bool   `json:"fileHash"`
	FileSize    bool   `json:"fileSize"`
	HasChanges  bool   `json:"hasChanges"`

	FromEntry types.VersionEntry `json:"fromEntry"`
	ToEntry   types.VersionEntry `json:"toEntry"`
}

// CompareEntries diffs two entries. Tags compare as sets; linked tasks compare in order.
func CompareEntries(a, b types.VersionEntry) Diff {
	d := Diff{
		From:        a.Version,
		To:          b.Version,
		Status:      a.Snapshot.Status != b.Snapshot.Status,
		Priority:    a.Snapshot.Priority != b.Snapshot.Priority,
		Complexity:  a.Snapshot.Complexity != b.Snapshot.Complexity,
		Tags:        !sameSet(a.Snapshot.Tags, b.Snapshot.Tags),
		LinkedTasks: !slices.Equal(a.Snapshot.LinkedTaskIDs, b.Snapshot.LinkedTaskIDs),
		FileHash:    a.FileHash != b.FileHash,
		FileSize:    a.FileSize != b.FileSize,
		FromEntry:   a,
		ToEntry:     b,
	}
	d.HasChanges = d.Status || d.Priority || d.Complexity || d.Tags || d.LinkedTasks || d.FileHash || d.FileSize
	return d
}

func sameSet(a, b []string) bool {
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(slices.Compact(x), slices.Compact(y))
}

// Compare looks up two versions of a PRD and diffs them.
func (t *Tracker) Compare(ctx context.Context, prdID, v1, v2 string) (*Diff, error) {
	p, err := t.store.GetPRD(ctx, prdID)
	if err != nil {
		return nil, err
	}
	a := p.FindVersion(v1)
	if a == nil {
		return nil, fmt.Errorf("%w: %s@%s", ErrVersionNotFound, prdID, v1)
	}
	b := p.FindVersion(v2)
	if b == nil {
		return nil, fmt.Errorf("%w: %s@%s", ErrVersionNotFound, prdID, v2)
	}
	d := CompareEntries(*a, *b)
	d.PRDID = prdID
	return &d, nil
}

// FileChange is the outcome of rehashing one PRD's source document.
type FileChange struct {
	PRDID        string `json:"prdId"`
	Changed      bool   `json:"changed"`
	PreviousHash string `json:"previousHash,omitempty"`
	NewHash      string `json:"newHash,omitempty"`
	PreviousSize int64  `json:"previousSize"`
	NewSize      int64  `json:"newSize"`
	SizeDelta    int64  `json:"sizeDelta"`
	Version      string `json:"version,omitempty"`
	Error        string `json:"error,omitempty"`
}

// TrackFileChanges rehashes a PRD's source document. When content changed it
// updates the file metadata and appends a file_modified entry; otherwise it
// reports a no-op. Hashing happens under the PRD document lock.
func (t *Tracker) TrackFileChanges(ctx context.Context, prdID, author string) (*FileChange, error) {
	layout := t.store.Layout()
	var change FileChange
	err := t.store.UpdatePRDs(ctx, func(prds *types.PRDCollection) error {
		p, err := prds.Get(prdID)
		if err != nil {
			return err
		}
		info, err := hashSource(layout, p)
		if err != nil {
			return err
		}
		change, err = t.apply(p, info, author)
		if err != nil {
			return err
		}
		if !change.Changed {
			return storage.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if change.Changed {
		t.log.Debug("file change recorded", "prd", prdID, "version", change.Version, "sizeDelta", change.SizeDelta)
		debug.LogEventAs(ChangeFileModified, prdID, author, fmt.Sprintf("%s -> %s", short(change.PreviousHash), short(change.NewHash)))
	}
	return &change, nil
}

// TrackAll rehashes every PRD's source document concurrently and records all
// changes in a single write. PRDs whose source is missing are reported with
// an error and skipped.
func (t *Tracker) TrackAll(ctx context.Context, author string) ([]FileChange, error) {
	layout := t.store.Layout()
	var changes []FileChange
	err := t.store.UpdatePRDs(ctx, func(prds *types.PRDCollection) error {
		infos := make([]utils.FileInfo, len(prds.PRDs))
		errs := make([]error, len(prds.PRDs))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(hashWorkers)
		for i, p := range prds.PRDs {
			if p.Status == types.StatusArchived {
				continue
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				infos[i], errs[i] = hashSource(layout, p)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		changes = changes[:0]
		changed := false
		for i, p := range prds.PRDs {
			if p.Status == types.StatusArchived {
				continue
			}
			if errs[i] != nil {
				changes = append(changes, FileChange{PRDID: p.ID, Error: errs[i].Error()})
				continue
			}
			c, err := t.apply(p, infos[i], author)
			if err != nil {
				return err
			}
			changed = changed || c.Changed
			changes = append(changes, c)
		}
		if !changed {
			return storage.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range changes {
		if c.Changed {
			debug.LogEventAs(ChangeFileModified, c.PRDID, author, fmt.Sprintf("%s -> %s", short(c.PreviousHash), short(c.NewHash)))
		}
	}
	return changes, nil
}

// apply compares info with the PRD's recorded metadata and records a
// file_modified entry when they differ.
func (t *Tracker) apply(p *types.PRD, info utils.FileInfo, author string) (FileChange, error) {
	change := FileChange{
		PRDID:        p.ID,
		PreviousHash: p.FileHash,
		NewHash:      info.Hash,
		PreviousSize: p.FileSize,
		NewSize:      info.Size,
		SizeDelta:    info.Size - p.FileSize,
	}
	if info.Hash == p.FileHash && info.Size == p.FileSize {
		return change, nil
	}

	now := t.now()
	p.FileHash = info.Hash
	p.FileSize = info.Size
	p.LastModified = now.UTC()
	entry, err := Record(p, ChangeFileModified, map[string]any{
		"previousHash": change.PreviousHash,
		"newHash":      change.NewHash,
		"previousSize": change.PreviousSize,
		"newSize":      change.NewSize,
		"sizeDelta":    change.SizeDelta,
	}, author, BumpPatch, now)
	if err != nil {
		return change, err
	}
	change.Changed = true
	change.Version = entry.Version
	return change, nil
}

func hashSource(layout storage.Layout, p *types.PRD) (utils.FileInfo, error) {
	path := layout.SourcePath(p)
	info, err := utils.HashFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return utils.FileInfo{}, fmt.Errorf("%w: %s (%s)", ErrSourceMissing, p.ID, path)
	}
	if err != nil {
		return utils.FileInfo{}, err
	}
	return info, nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	if hash == "" {
		return "none"
	}
	return hash
}
