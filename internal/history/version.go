// Package history maintains the append-only version history of each PRD.
package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/validation"
)

// Bump selects which version component a new entry increments.
type Bump string

const (
	BumpPatch Bump = "patch"
	BumpMinor Bump = "minor"
	BumpMajor Bump = "major"
)

// InitialVersion is the version of a PRD's first history entry.
const InitialVersion = "1.0.0"

// Common change types.
const (
	ChangeCreated       = "created"
	ChangeStatusChanged = "status_changed"
	ChangeFileModified  = "file_modified"
	ChangeTasksLinked   = "tasks_linked"
	ChangeTasksUnlinked = "tasks_unlinked"
	ChangeLinksSynced   = "links_synced"
	ChangeMetadata      = "metadata_updated"
)

// DefaultAuthor is recorded when no author is supplied.
const DefaultAuthor = "system"

// ParseBump accepts patch, minor or major. Empty means patch.
func ParseBump(s string) (Bump, error) {
	switch b := Bump(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BumpPatch, nil
	case BumpPatch, BumpMinor, BumpMajor:
		return b, nil
	}
	return "", fmt.Errorf("invalid version bump %q (expected patch, minor or major)", s)
}

// NextVersion returns the version after current. An empty current yields
// InitialVersion regardless of bump.
func NextVersion(current string, bump Bump) (string, error) {
	if current == "" {
		return InitialVersion, nil
	}
	canon := validation.Canonical(current)
	if !semver.IsValid(canon) {
		return "", fmt.Errorf("invalid current version %q", current)
	}
	core, _, _ := strings.Cut(strings.TrimPrefix(semver.Canonical(canon), "v"), "-")
	core, _, _ = strings.Cut(core, "+")
	parts := strings.Split(core, ".")
	nums := make([]int, 3)
	for i := range nums {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return "", fmt.Errorf("invalid current version %q: %w", current, err)
		}
		nums[i] = n
	}

	switch bump {
	case BumpMajor:
		nums[0]++
		nums[1], nums[2] = 0, 0
	case BumpMinor:
		nums[1]++
		nums[2] = 0
	case BumpPatch, "":
		nums[2]++
	default:
		return "", fmt.Errorf("invalid version bump %q", bump)
	}
	return fmt.Sprintf("%d.%d.%d", nums[0], nums[1], nums[2]), nil
}

// CompareVersions orders two versions like strings.Compare.
func CompareVersions(a, b string) int {
	return semver.Compare(validation.Canonical(a), validation.Canonical(b))
}

// Record appends a version entry to p, snapshotting its current mutable
// fields, and advances CurrentVersion. p is modified in place.
func Record(p *types.PRD, changeType string, details map[string]any, author string, bump Bump, now time.Time) (types.VersionEntry, error) {
	current := p.CurrentVersion
	if last := p.LatestVersion(); last != nil && CompareVersions(last.Version, current) > 0 {
		current = last.Version
	}
	next, err := NextVersion(current, bump)
	if err != nil {
		return types.VersionEntry{}, fmt.Errorf("prd %s: %w", p.ID, err)
	}
	if author == "" {
		author = DefaultAuthor
	}
	entry := types.VersionEntry{
		Version:       next,
		Timestamp:     now.UTC(),
		ChangeType:    changeType,
		Author:        author,
		FileHash:      p.FileHash,
		FileSize:      p.FileSize,
		ChangeDetails: details,
		Snapshot:      p.Snapshot(),
	}
	p.VersionHistory = append(p.VersionHistory, entry)
	p.CurrentVersion = next
	return entry, nil
}
