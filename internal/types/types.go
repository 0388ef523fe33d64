// Package types defines core data structures for the PRD lifecycle store.
package types

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors shared across packages. Callers wrap them with the id
// that was looked up.
var (
	ErrPRDNotFound  = errors.New("prd not found")
	ErrTaskNotFound = errors.New("task not found")
)

// CollectionSchemaVersion is written into the metadata block of new PRD collections.
const CollectionSchemaVersion = "1.0.0"

// PRDIDPrefix is the prefix of every PRD identifier (prd_001, prd_002, ...).
const PRDIDPrefix = "prd_"

// PRD represents one tracked requirement document.
type PRD struct {
	ID          string     `json:"id" validate:"required,prdid"`
	Title       string     `json:"title" validate:"required,max=500"`
	FileName    string     `json:"fileName" validate:"required"`
	Status      Status     `json:"status" validate:"required,oneof=pending in-progress done archived"`
	Priority    Priority   `json:"priority" validate:"required,oneof=low medium high"`
	Complexity  Complexity `json:"complexity,omitempty" validate:"omitempty,oneof=low medium high"`
	CreatedDate time.Time  `json:"createdDate" validate:"required"`
	// LastModified is stamped on every committed mutation.
	LastModified time.Time `json:"lastModified" validate:"required"`
	FilePath     string    `json:"filePath" validate:"required"`
	FileHash     string    `json:"fileHash,omitempty" validate:"omitempty,hexadecimal"`
	FileSize     int64     `json:"fileSize" validate:"gte=0"`
	Description  string    `json:"description,omitempty"`
	Tags         []string  `json:"tags" validate:"dive,required"`

	// LinkedTaskIDs is ordered and kept duplicate-free by the link synchronizer.
	LinkedTaskIDs []string  `json:"linkedTaskIds" validate:"dive,required"`
	TaskStats     TaskStats `json:"taskStats"`

	// ManualStatusOverride pins the status: automatic reconciliation leaves it alone.
	ManualStatusOverride bool `json:"manualStatusOverride,omitempty"`

	CurrentVersion string         `json:"currentVersion,omitempty" validate:"omitempty,semver"`
	VersionHistory []VersionEntry `json:"versionHistory,omitempty" validate:"dive"`
}

// HasLinkedTask reports whether taskID appears in the PRD's linked task list.
func (p *PRD) HasLinkedTask(taskID string) bool {
	return slices.Contains(p.LinkedTaskIDs, taskID)
}

// LinkTask appends taskID unless it is already linked. Returns true if added.
func (p *PRD) LinkTask(taskID string) bool {
	if p.HasLinkedTask(taskID) {
		return false
	}
	p.LinkedTaskIDs = append(p.LinkedTaskIDs, taskID)
	return true
}

// UnlinkTask removes every occurrence of taskID. Returns true if anything was removed.
func (p *PRD) UnlinkTask(taskID string) bool {
	before := len(p.LinkedTaskIDs)
	p.LinkedTaskIDs = slices.DeleteFunc(p.LinkedTaskIDs, func(id string) bool { return id == taskID })
	return len(p.LinkedTaskIDs) != before
}

// Snapshot copies the mutable fields recorded with each version entry.
func (p *PRD) Snapshot() Snapshot {
	return Snapshot{
		Status:        p.Status,
		Priority:      p.Priority,
		Complexity:    p.Complexity,
		Tags:          slices.Clone(p.Tags),
		LinkedTaskIDs: slices.Clone(p.LinkedTaskIDs),
		TaskStats:     p.TaskStats,
	}
}

// LatestVersion returns the most recent version entry, or nil for a PRD without history.
func (p *PRD) LatestVersion() *VersionEntry {
	if len(p.VersionHistory) == 0 {
		return nil
	}
	return &p.VersionHistory[len(p.VersionHistory)-1]
}

// FindVersion looks up a version entry by its version string.
func (p *PRD) FindVersion(version string) *VersionEntry {
	for i := range p.VersionHistory {
		if p.VersionHistory[i].Version == version {
			return &p.VersionHistory[i]
		}
	}
	return nil
}

// Clone returns a deep copy suitable for dry-run previews and archive metadata.
func (p *PRD) Clone() *PRD {
	if p == nil {
		return nil
	}
	c := *p
	c.Tags = slices.Clone(p.Tags)
	c.LinkedTaskIDs = slices.Clone(p.LinkedTaskIDs)
	c.VersionHistory = make([]VersionEntry, len(p.VersionHistory))
	for i, e := range p.VersionHistory {
		c.VersionHistory[i] = e.clone()
	}
	return &c
}

// SetDefaults fills fields that legacy documents may omit.
func (p *PRD) SetDefaults() {
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.Priority == "" {
		p.Priority = PriorityMedium
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.LinkedTaskIDs == nil {
		p.LinkedTaskIDs = []string{}
	}
}

// Status represents the lifecycle state of a PRD.
type Status string

// PRD status constants
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusArchived   Status = "archived"
)

// IsValid checks if the status value is one of the four lifecycle states.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusArchived:
		return true
	}
	return false
}

// Priority of a PRD.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid checks the priority against the known levels.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Rank orders priorities for sorting (high first).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// Complexity of a PRD. The empty value means "not assessed".
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// IsValid accepts the empty complexity as well as the three levels.
func (c Complexity) IsValid() bool {
	switch c {
	case "", ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	}
	return false
}

// TaskStats aggregates the statuses of a PRD's linked tasks.
type TaskStats struct {
	TotalTasks           int `json:"totalTasks" validate:"gte=0"`
	CompletedTasks       int `json:"completedTasks" validate:"gte=0"`
	InProgressTasks      int `json:"inProgressTasks" validate:"gte=0"`
	PendingTasks         int `json:"pendingTasks" validate:"gte=0"`
	BlockedTasks         int `json:"blockedTasks" validate:"gte=0"`
	DeferredTasks        int `json:"deferredTasks" validate:"gte=0"`
	CancelledTasks       int `json:"cancelledTasks" validate:"gte=0"`
	CompletionPercentage int `json:"completionPercentage" validate:"gte=0,lte=100"`
}

// Add tallies one task status into the stats. Review counts as in progress.
func (s *TaskStats) Add(status TaskStatus) {
	s.TotalTasks++
	switch status {
	case TaskStatusDone:
		s.CompletedTasks++
	case TaskStatusInProgress, TaskStatusReview:
		s.InProgressTasks++
	case TaskStatusBlocked:
		s.BlockedTasks++
	case TaskStatusDeferred:
		s.DeferredTasks++
	case TaskStatusCancelled:
		s.CancelledTasks++
	default:
		s.PendingTasks++
	}
	s.CompletionPercentage = (s.CompletedTasks*100 + s.TotalTasks/2) / s.TotalTasks
}

// VersionEntry is an immutable audit record of one tracked mutation.
type VersionEntry struct {
	Version       string         `json:"version" validate:"required,semver"`
	Timestamp     time.Time      `json:"timestamp" validate:"required"`
	ChangeType    string         `json:"changeType" validate:"required"`
	Author        string         `json:"author"`
	FileHash      string         `json:"fileHash,omitempty"`
	FileSize      int64          `json:"fileSize"`
	ChangeDetails map[string]any `json:"changeDetails,omitempty"`
	Snapshot      Snapshot       `json:"snapshot"`
}

func (e VersionEntry) clone() VersionEntry {
	c := e
	if e.ChangeDetails != nil {
		c.ChangeDetails = make(map[string]any, len(e.ChangeDetails))
		for k, v := range e.ChangeDetails {
			c.ChangeDetails[k] = v
		}
	}
	c.Snapshot.Tags = slices.Clone(e.Snapshot.Tags)
	c.Snapshot.LinkedTaskIDs = slices.Clone(e.Snapshot.LinkedTaskIDs)
	return c
}

// Snapshot is the copy of a PRD's mutable fields stored in each version entry.
type Snapshot struct {
	Status        Status     `json:"status"`
	Priority      Priority   `json:"priority"`
	Complexity    Complexity `json:"complexity,omitempty"`
	Tags          []string   `json:"tags"`
	LinkedTaskIDs []string   `json:"linkedTaskIds"`
	TaskStats     TaskStats  `json:"taskStats"`
}

// CollectionMetadata is the aggregate block of the PRD collection document.
type CollectionMetadata struct {
	Version     string    `json:"version" validate:"required"`
	LastUpdated time.Time `json:"lastUpdated"`
	TotalPRDs   int       `json:"totalPrds" validate:"gte=0"`
	// LastPRDNumber is the highest number ever allocated. It never goes
	// down, so archived ids are not handed out again.
	LastPRDNumber int `json:"lastPrdNumber,omitempty" validate:"gte=0"`
}

// PRDCollection is the on-disk PRD metadata document.
type PRDCollection struct {
	PRDs     []*PRD             `json:"prds" validate:"dive,required"`
	Metadata CollectionMetadata `json:"metadata"`
}

// NewPRDCollection returns an empty collection, used when the document does not exist yet.
func NewPRDCollection() *PRDCollection {
	return &PRDCollection{
		PRDs:     []*PRD{},
		Metadata: CollectionMetadata{Version: CollectionSchemaVersion},
	}
}

// Find returns the PRD with the given id, or nil.
func (c *PRDCollection) Find(id string) *PRD {
	for _, p := range c.PRDs {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Get is Find with a wrapped ErrPRDNotFound.
func (c *PRDCollection) Get(id string) (*PRD, error) {
	if p := c.Find(id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPRDNotFound, id)
}

// FindByFileName returns the PRD whose source document has the given file name, or nil.
func (c *PRDCollection) FindByFileName(name string) *PRD {
	for _, p := range c.PRDs {
		if p.FileName == name {
			return p
		}
	}
	return nil
}

// Remove deletes the PRD with the given id. Returns false if it was absent.
// The removed number stays reserved.
func (c *PRDCollection) Remove(id string) bool {
	if n, ok := ParsePRDNumber(id); ok && c.Find(id) != nil && n > c.Metadata.LastPRDNumber {
		c.Metadata.LastPRDNumber = n
	}
	before := len(c.PRDs)
	c.PRDs = slices.DeleteFunc(c.PRDs, func(p *PRD) bool { return p.ID == id })
	return len(c.PRDs) != before
}

// NextID allocates the next sequential identifier: one past the larger of
// the highest live id and the recorded high-water mark, which it advances.
func (c *PRDCollection) NextID() string {
	max := c.Metadata.LastPRDNumber
	for _, p := range c.PRDs {
		if n, ok := ParsePRDNumber(p.ID); ok && n > max {
			max = n
		}
	}
	c.Metadata.LastPRDNumber = max + 1
	return FormatPRDID(max + 1)
}

// Touch refreshes the aggregate metadata before the collection is written.
func (c *PRDCollection) Touch(now time.Time) {
	if c.Metadata.Version == "" {
		c.Metadata.Version = CollectionSchemaVersion
	}
	c.Metadata.LastUpdated = now
	c.Metadata.TotalPRDs = len(c.PRDs)
}

// FormatPRDID renders n as prd_NNN (at least three digits).
func FormatPRDID(n int) string {
	return fmt.Sprintf("%s%03d", PRDIDPrefix, n)
}

// ParsePRDNumber extracts the numeric part of a prd_NNN identifier.
func ParsePRDNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, PRDIDPrefix)
	if !ok || len(rest) < 3 {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
