package storage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/steveyegge/prdledger/internal/types"
)

// Default locations relative to the project root.
const (
	DefaultPRDFile         = ".taskmaster/prds/prds.json"
	DefaultPRDDir          = ".taskmaster/prds"
	DefaultTasksFile       = ".taskmaster/tasks/tasks.json"
	DefaultTasksDir        = ".taskmaster/tasks"
	DefaultTaskFilePattern = "task_%03d.txt"
	DefaultArchiveDir      = ".taskmaster/archives"
	DefaultEventsLog       = ".taskmaster/prds/events.log"
)

// Layout is where the store keeps its documents. All paths are absolute once
// built through NewLayout.
type Layout struct {
	Root            string
	PRDFile         string
	PRDDir          string
	TasksFile       string
	TasksDir        string
	TaskFilePattern string
	ArchiveDir      string
	EventsLog       string
}

// DefaultLayout returns the standard layout under root.
func DefaultLayout(root string) Layout {
	return NewLayout(Layout{Root: root})
}

// NewLayout fills empty fields with defaults and makes every path absolute
// relative to l.Root.
func NewLayout(l Layout) Layout {
	if l.Root == "" {
		l.Root = "."
	}
	if abs, err := filepath.Abs(l.Root); err == nil {
		l.Root = abs
	}
	pick := func(v, def string) string {
		if v == "" {
			v = def
		}
		return l.Resolve(v)
	}
	l.PRDFile = pick(l.PRDFile, DefaultPRDFile)
	l.PRDDir = pick(l.PRDDir, DefaultPRDDir)
	l.TasksFile = pick(l.TasksFile, DefaultTasksFile)
	l.TasksDir = pick(l.TasksDir, DefaultTasksDir)
	l.ArchiveDir = pick(l.ArchiveDir, DefaultArchiveDir)
	l.EventsLog = pick(l.EventsLog, DefaultEventsLog)
	if l.TaskFilePattern == "" {
		l.TaskFilePattern = DefaultTaskFilePattern
	}
	return l
}

// Resolve makes p absolute relative to the project root.
func (l Layout) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.Root, p)
}

// Rel returns p relative to the project root, or p unchanged if that fails.
func (l Layout) Rel(p string) string {
	if rel, err := filepath.Rel(l.Root, p); err == nil {
		return filepath.ToSlash(rel)
	}
	return p
}

var verbPattern = regexp.MustCompile(`%0?\d*[ds]`)

// TaskFileName renders the per-task file name for id. Integer ids use the
// pattern as is; other ids ("2.1") replace the verb literally.
func (l Layout) TaskFileName(id string) string {
	if n, err := strconv.Atoi(id); err == nil && n >= 0 {
		return fmt.Sprintf(l.TaskFilePattern, n)
	}
	return verbPattern.ReplaceAllLiteralString(l.TaskFilePattern, id)
}

// TaskFilePath is the absolute path of the per-task file for id.
func (l Layout) TaskFilePath(id string) string {
	return filepath.Join(l.TasksDir, l.TaskFileName(id))
}

// SourcePath is the absolute path of a PRD's source document.
func (l Layout) SourcePath(p *types.PRD) string {
	if p.FilePath != "" {
		return l.Resolve(p.FilePath)
	}
	return filepath.Join(l.PRDDir, p.FileName)
}

// LockDirs lists the directories that can hold lock markers.
func (l Layout) LockDirs() []string {
	dirs := []string{filepath.Dir(l.PRDFile)}
	if d := filepath.Dir(l.TasksFile); d != dirs[0] {
		dirs = append(dirs, d)
	}
	return dirs
}
