package types

import (
	"cmp"
	"slices"
	"strings"
)

// SortField names a PRD attribute usable in sort orders.
type SortField string

const (
	SortFieldID       SortField = "id"
	SortFieldPriority SortField = "priority"
	SortFieldStatus   SortField = "status"
	SortFieldTitle    SortField = "title"
	SortFieldCreated  SortField = "created"
	SortFieldUpdated  SortField = "updated"
	SortFieldProgress SortField = "progress"
)

// SortDirection is asc or desc.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortOption is one key of a multi-key sort.
type SortOption struct {
	Field     SortField
	Direction SortDirection
}

// DefaultSortOptions returns the default listing order: priority (high first), then id.
func DefaultSortOptions() []SortOption {
	return []SortOption{
		{Field: SortFieldPriority, Direction: SortAsc},
		{Field: SortFieldID, Direction: SortAsc},
	}
}

// ParseSortOrder converts a comma-delimited string (e.g. "priority-asc,updated-desc")
// into sort options. Unrecognised fields or directions are skipped.
func ParseSortOrder(raw string) []SortOption {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	options := make([]SortOption, 0, len(parts))
	seen := make(map[SortField]bool)

	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}

		field, dir := splitSortToken(token)
		sortField := mapSortField(field)
		if sortField == "" {
			continue
		}
		direction := mapSortDirection(dir)
		if direction == "" {
			continue
		}
		if seen[sortField] {
			continue
		}
		seen[sortField] = true

		options = append(options, SortOption{Field: sortField, Direction: direction})
	}

	return options
}

// EncodeSortOrder is the inverse of ParseSortOrder.
func EncodeSortOrder(options []SortOption) string {
	tokens := make([]string, 0, len(options))
	for _, opt := range options {
		if opt.Field == "" || opt.Direction == "" {
			continue
		}
		tokens = append(tokens, string(opt.Field)+"-"+string(opt.Direction))
	}
	return strings.Join(tokens, ",")
}

// SortPRDs orders prds in place. An empty option list uses DefaultSortOptions.
func SortPRDs(prds []*PRD, options []SortOption) {
	if len(options) == 0 {
		options = DefaultSortOptions()
	}
	slices.SortStableFunc(prds, func(a, b *PRD) int {
		for _, opt := range options {
			c := comparePRDs(a, b, opt.Field)
			if opt.Direction == SortDesc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

func comparePRDs(a, b *PRD, field SortField) int {
	switch field {
	case SortFieldID:
		an, aok := ParsePRDNumber(a.ID)
		bn, bok := ParsePRDNumber(b.ID)
		if aok && bok {
			return cmp.Compare(an, bn)
		}
		return strings.Compare(a.ID, b.ID)
	case SortFieldPriority:
		return cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
	case SortFieldStatus:
		return cmp.Compare(statusRank(a.Status), statusRank(b.Status))
	case SortFieldTitle:
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case SortFieldCreated:
		return a.CreatedDate.Compare(b.CreatedDate)
	case SortFieldUpdated:
		return a.LastModified.Compare(b.LastModified)
	case SortFieldProgress:
		return cmp.Compare(a.TaskStats.CompletionPercentage, b.TaskStats.CompletionPercentage)
	}
	return 0
}

func statusRank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusDone:
		return 2
	case StatusArchived:
		return 3
	}
	return 4
}

func splitSortToken(token string) (string, string) {
	if idx := strings.IndexAny(token, ":-"); idx >= 0 {
		return strings.ToLower(strings.TrimSpace(token[:idx])), strings.ToLower(strings.TrimSpace(token[idx+1:]))
	}
	return strings.ToLower(token), "asc"
}

func mapSortField(raw string) SortField {
	switch raw {
	case "id":
		return SortFieldID
	case "priority":
		return SortFieldPriority
	case "status":
		return SortFieldStatus
	case "title":
		return SortFieldTitle
	case "created", "createddate", "created_at":
		return SortFieldCreated
	case "updated", "modified", "lastmodified", "updated_at":
		return SortFieldUpdated
	case "progress", "completion":
		return SortFieldProgress
	}
	return ""
}

func mapSortDirection(raw string) SortDirection {
	switch raw {
	case "asc", "ascending":
		return SortAsc
	case "desc", "descending":
		return SortDesc
	}
	return ""
}

// Filter selects PRDs for listing. Zero values match everything.
type Filter struct {
	Status   []Status
	Priority []Priority
	Tag      string
	Search   string
}

// Matches reports whether p passes the filter.
func (f Filter) Matches(p *PRD) bool {
	if len(f.Status) > 0 && !slices.Contains(f.Status, p.Status) {
		return false
	}
	if len(f.Priority) > 0 && !slices.Contains(f.Priority, p.Priority) {
		return false
	}
	if f.Tag != "" && !slices.Contains(p.Tags, f.Tag) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Title), q) &&
			!strings.Contains(strings.ToLower(p.Description), q) &&
			!strings.Contains(strings.ToLower(p.ID), q) {
			return false
		}
	}
	return true
}

// Apply returns the PRDs matching f, in input order.
func (f Filter) Apply(prds []*PRD) []*PRD {
	out := make([]*PRD, 0, len(prds))
	for _, p := range prds {
		if f.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}
