package validation

import (
	"fmt"
	"strings"

	"github.com/steveyegge/prdledger/internal/types"
)

// ParsePriority accepts the words low/medium/high and the P0-P4 shorthand
// (P0/P1 high, P2 medium, P3/P4 low).
func ParsePriority(content string) (types.Priority, error) {
	s := strings.ToLower(strings.TrimSpace(content))
	switch s {
	case "high", "p0", "p1", "critical":
		return types.PriorityHigh, nil
	case "medium", "med", "p2", "normal":
		return types.PriorityMedium, nil
	case "low", "p3", "p4":
		return types.PriorityLow, nil
	}
	return "", fmt.Errorf("invalid priority %q (expected low, medium, high or P0-P4)", content)
}

// ParseComplexity accepts low/medium/high. Empty input means not assessed.
func ParseComplexity(content string) (types.Complexity, error) {
	c := types.Complexity(strings.ToLower(strings.TrimSpace(content)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid complexity %q (expected low, medium or high)", content)
	}
	return c, nil
}

// ParseStatus validates a PRD status. Underscores and spaces are accepted for
// the hyphen in in-progress.
func ParseStatus(content string) (types.Status, error) {
	s := strings.ToLower(strings.TrimSpace(content))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	status := types.Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid status %q (expected pending, in-progress, done or archived)", content)
	}
	return status, nil
}

// ValidateIDFormat checks that id looks like prd_NNN. A bare number is
// expanded ("7" -> "prd_007").
func ValidateIDFormat(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("empty PRD id")
	}
	if _, ok := types.ParsePRDNumber(id); ok {
		return id, nil
	}
	var n int
	if _, err := fmt.Sscanf(id, "%d", &n); err == nil && n > 0 && fmt.Sprint(n) == strings.TrimLeft(id, "0") {
		return types.FormatPRDID(n), nil
	}
	return "", fmt.Errorf("invalid PRD id %q (expected format prd_NNN, e.g. 'prd_007')", id)
}
