// Package discovery registers requirement documents as PRDs, either one at a
// time or by scanning the PRD directory for unregistered files.
package discovery

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

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/prdledger/internal/debug"
	"github.com/steveyegge/prdledger/internal/history"
	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/utils"
	"github.com/steveyegge/prdledger/internal/validation"
)

// ErrAlreadyRegistered is returned when a source document is already tracked.
var ErrAlreadyRegistered = errors.New("document already registered")

// SourceExtensions are the file types treated as requirement documents.
var SourceExtensions = []string{".md", ".txt"}

const scanWorkers = 8

// Registrar creates PRD records.
type Registrar struct {
	store storage.Storage
	now   func() time.Time
	log   *slog.Logger
}

// New returns a Registrar over store.
func New(store storage.Storage) *Registrar {
	return &Registrar{
		store: store,
		now:   time.Now,
		log:   debug.Logger().With("component", "discovery"),
	}
}

// SetClock overrides the clock, for tests.
func (r *Registrar) SetClock(now func() time.Time) { r.now = now }

// Options are explicit values for a registration. Non-empty fields override
// the document's front matter.
type Options struct {
	Title       string
	Description string
	Priority    string
	Complexity  string
	Tags        []string
	Author      string
}

// candidate is a parsed, hashed source document ready to register.
type candidate struct {
	path string
	rel  string
	info utils.FileInfo
	fm   FrontMatter
	body []byte
}

// Register adds the document at path as a new PRD with the next unused
// prd_NNN id, hashing its content and recording a "created" entry at 1.0.0.
func (r *Registrar) Register(ctx context.Context, path string, opts Options) (*types.PRD, error) {
	c, err := r.inspect(path)
	if err != nil {
		return nil, err
	}
	var created *types.PRD
	err = r.store.UpdatePRDs(ctx, func(prds *types.PRDCollection) error {
		if existing := r.findRegistered(prds, c.path); existing != nil {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyRegistered, c.rel, existing.ID)
		}
		p, err := r.build(prds.NextID(), c, opts)
		if err != nil {
			return err
		}
		prds.PRDs = append(prds.PRDs, p)
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("prd registered", "prd", created.ID, "file", c.rel)
	debug.LogEventAs(history.ChangeCreated, created.ID, created.VersionHistory[0].Author, c.rel)
	return created.Clone(), nil
}

// DiscoverOptions controls Discover.
type DiscoverOptions struct {
	// Dir overrides the layout's PRD directory.
	Dir    string
	DryRun bool
	Author string
}

// Result lists what Discover found.
type Result struct {
	Registered []*types.PRD `json:"registered"`
	Pending    []string     `json:"pending,omitempty"`
	Skipped    []string     `json:"skipped"`
	Errors     []string     `json:"errors"`
}

// Discover scans the PRD directory for source documents not yet registered
// and registers all of them in one write. Files that cannot be read or parsed
// are reported in Errors and skipped. With DryRun it only lists them in Pending.
func (r *Registrar) Discover(ctx context.Context, opts DiscoverOptions) (*Result, error) {
	layout := r.store.Layout()
	dir := layout.PRDDir
	if opts.Dir != "" {
		dir = layout.Resolve(opts.Dir)
	}
	paths, err := scan(dir, layout.ArchiveDir)
	if err != nil {
		return nil, err
	}

	known, err := r.store.LoadPRDs(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Registered: []*types.PRD{}, Skipped: []string{}, Errors: []string{}}
	var fresh []string
	for _, p := range paths {
		if r.findRegistered(known, p) != nil {
			res.Skipped = append(res.Skipped, layout.Rel(p))
			continue
		}
		fresh = append(fresh, p)
	}
	if opts.DryRun {
		for _, p := range fresh {
			res.Pending = append(res.Pending, layout.Rel(p))
		}
		return res, nil
	}
	if len(fresh) == 0 {
		return res, nil
	}

	cands := make([]*candidate, len(fresh))
	errs := make([]error, len(fresh))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWorkers)
	for i, p := range fresh {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cands[i], errs[i] = r.inspect(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	err = r.store.UpdatePRDs(ctx, func(prds *types.PRDCollection) error {
		res.Registered = res.Registered[:0]
		for i, c := range cands {
			if errs[i] != nil {
				continue
			}
			// Registered by someone else since the unlocked scan.
			if r.findRegistered(prds, c.path) != nil {
				continue
			}
			p, err := r.build(prds.NextID(), c, Options{Author: opts.Author})
			if err != nil {
				errs[i] = err
				continue
			}
			prds.PRDs = append(prds.PRDs, p)
			res.Registered = append(res.Registered, p)
		}
		if len(res.Registered) == 0 {
			return storage.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, e := range errs {
		if e != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", layout.Rel(fresh[i]), e))
		}
	}
	for _, p := range res.Registered {
		debug.LogEventAs(history.ChangeCreated, p.ID, p.VersionHistory[0].Author, p.FilePath)
	}
	return res, nil
}

// inspect reads, parses and hashes a source document.
func (r *Registrar) inspect(path string) (*candidate, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- registering a user-named document is the point
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fm, body, err := ParseFrontMatter(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	info, err := utils.HashFile(abs)
	if err != nil {
		return nil, err
	}
	return &candidate{path: abs, rel: r.store.Layout().Rel(abs), info: info, fm: fm, body: body}, nil
}

func (r *Registrar) build(id string, c *candidate, opts Options) (*types.PRD, error) {
	pick := func(explicit, fromDoc string) string {
		if explicit != "" {
			return explicit
		}
		return fromDoc
	}

	title := pick(opts.Title, c.fm.Title)
	if title == "" {
		title = ExtractTitle(c.body)
	}
	if title == "" {
		title = titleFromFileName(filepath.Base(c.path))
	}

	priority := types.PriorityMedium
	if s := pick(opts.Priority, c.fm.Priority); s != "" {
		pr, err := validation.ParsePriority(s)
		if err != nil {
			return nil, err
		}
		priority = pr
	}
	complexity, err := validation.ParseComplexity(pick(opts.Complexity, c.fm.Complexity))
	if err != nil {
		return nil, err
	}
	tags := opts.Tags
	if len(tags) == 0 {
		tags = c.fm.Tags
	}
	tags = normalizeTags(tags)

	now := r.now().UTC()
	p := &types.PRD{
		ID:            id,
		Title:         title,
		FileName:      filepath.Base(c.path),
		Status:        types.StatusPending,
		Priority:      priority,
		Complexity:    complexity,
		CreatedDate:   now,
		LastModified:  now,
		FilePath:      c.rel,
		FileHash:      c.info.Hash,
		FileSize:      c.info.Size,
		Description:   pick(opts.Description, c.fm.Description),
		Tags:          tags,
		LinkedTaskIDs: []string{},
	}
	if _, err := history.Record(p, history.ChangeCreated, map[string]any{"source": c.rel}, opts.Author, history.BumpPatch, now); err != nil {
		return nil, err
	}
	if err := validation.PRD(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Registrar) findRegistered(prds *types.PRDCollection, path string) *types.PRD {
	layout := r.store.Layout()
	for _, p := range prds.PRDs {
		if utils.PathsEqual(layout.SourcePath(p), path) {
			return p
		}
	}
	return nil
}

// scan lists source documents under dir, skipping hidden directories and the
// archive directory.
func scan(dir, archiveDir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(d.Name(), ".") || utils.PathsEqual(path, archiveDir)) {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.Contains(SourceExtensions, strings.ToLower(filepath.Ext(d.Name()))) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	slices.Sort(out)
	return out, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
