// Package status derives PRD status from linked task progress and applies
// status transitions.
package status

import (
	"fmt"

	"github.com/steveyegge/prdledger/internal/types"
)

// Recommend returns the status a PRD should have given the aggregated status
// of its linked tasks. Archived PRDs are returned unchanged; archiving only
// happens through the archive workflow.
func Recommend(current types.Status, counts types.TaskStats) types.Status {
	if current == types.StatusArchived {
		return current
	}
	switch {
	case counts.TotalTasks == 0:
		return types.StatusPending
	case counts.InProgressTasks > 0:
		return types.StatusInProgress
	case counts.CompletedTasks == counts.TotalTasks:
		return types.StatusDone
	case counts.PendingTasks == counts.TotalTasks:
		return types.StatusPending
	case current == types.StatusDone:
		// Something is no longer done; surface the regression.
		return types.StatusInProgress
	}
	return current
}

var transitions = map[types.Status][]types.Status{
	types.StatusPending:    {types.StatusInProgress},
	types.StatusInProgress: {types.StatusDone, types.StatusPending},
	types.StatusDone:       {types.StatusArchived, types.StatusInProgress},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
// Staying in the same state is always allowed.
func CanTransition(from, to types.Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned by SetStatus for an edge the lifecycle does not allow.
type TransitionError struct {
	PRDID string
	From  types.Status
	To    types.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("prd %s: cannot change status from %s to %s", e.PRDID, e.From, e.To)
}
