package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskPreservesUnknownFields(t *testing.T) {
	in := `{"id":3,"title":"Index docs","details":{"owner":"x","n":[1,2]},"status":"pending","dependencies":[1,2],"testStrategy":"unit"}`

	var task Task
	require.NoError(t, json.Unmarshal([]byte(in), &task))
	assert.Equal(t, "3", task.ID)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Nil(t, task.PRDSource)

	out, err := json.Marshal(task)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Equal(t, in, string(out), "field order must survive")

	task.Status = TaskStatusDone
	task.PRDSource = &PRDSource{PRDID: "prd_001", FileName: "a.md"}
	out, err = json.Marshal(task)
	require.NoError(t, err)
	assert.Equal(t,
		`{"id":3,"title":"Index docs","details":{"owner":"x","n":[1,2]},"status":"done","dependencies":[1,2],"testStrategy":"unit","prdSource":{"prdId":"prd_001","fileName":"a.md"}}`,
		string(out))

	task.PRDSource = nil
	out, err = json.Marshal(task)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "prdSource")
}

func TestTaskIDForms(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"id":7}`, "7"},
		{`{"id":"2.1"}`, "2.1"},
		{`{"id":"abc"}`, "abc"},
	}
	for _, tt := range tests {
		var task Task
		require.NoError(t, json.Unmarshal([]byte(tt.in), &task))
		assert.Equal(t, tt.want, task.ID)
	}

	var task Task
	assert.Error(t, json.Unmarshal([]byte(`{"id":[1]}`), &task))
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &task))
}

func TestTaskCollectionKeepsSiblings(t *testing.T) {
	in := `{"master":{"tag":"x"},"tasks":[{"id":1,"status":"done"}]}`
	var c TaskCollection
	require.NoError(t, json.Unmarshal([]byte(in), &c))
	require.Len(t, c.Tasks, 1)

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))

	var empty TaskCollection
	require.NoError(t, json.Unmarshal([]byte(`{}`), &empty))
	assert.NotNil(t, empty.Tasks)
}

func TestStatsFor(t *testing.T) {
	c := NewTaskCollection()
	for i, s := range []TaskStatus{TaskStatusDone, TaskStatusDone, TaskStatusInProgress, TaskStatusReview, TaskStatusBlocked, TaskStatusDeferred, TaskStatusCancelled, "weird"} {
		c.Tasks = append(c.Tasks, &Task{ID: FormatPRDID(i), Status: s})
	}
	ids := make([]string, 0, len(c.Tasks)+1)
	for _, task := range c.Tasks {
		ids = append(ids, task.ID)
	}
	ids = append(ids, "missing")

	s := c.StatsFor(ids)
	assert.Equal(t, 8, s.TotalTasks)
	assert.Equal(t, 2, s.CompletedTasks)
	assert.Equal(t, 2, s.InProgressTasks)
	assert.Equal(t, 1, s.BlockedTasks)
	assert.Equal(t, 1, s.DeferredTasks)
	assert.Equal(t, 1, s.CancelledTasks)
	assert.Equal(t, 1, s.PendingTasks)
	assert.Equal(t, 25, s.CompletionPercentage)

	assert.Equal(t, TaskStats{}, c.StatsFor(nil))
}

func TestCompletionPercentageRounds(t *testing.T) {
	var s TaskStats
	s.Add(TaskStatusDone)
	s.Add(TaskStatusPending)
	s.Add(TaskStatusPending)
	assert.Equal(t, 33, s.CompletionPercentage)
	s.Add(TaskStatusDone)
	s.Add(TaskStatusDone)
	s.Add(TaskStatusPending)
	assert.Equal(t, 50, s.CompletionPercentage)

	var two TaskStats
	two.Add(TaskStatusDone)
	two.Add(TaskStatusDone)
	two.Add(TaskStatusPending)
	assert.Equal(t, 67, two.CompletionPercentage)
}

func TestNextID(t *testing.T) {
	c := NewPRDCollection()
	assert.Equal(t, "prd_001", c.NextID())

	c.PRDs = append(c.PRDs, &PRD{ID: "prd_002"}, &PRD{ID: "prd_010"}, &PRD{ID: "custom"})
	assert.Equal(t, "prd_011", c.NextID())

	c.PRDs = append(c.PRDs, &PRD{ID: "prd_999"})
	assert.Equal(t, "prd_1000", c.NextID())
}

func TestNextIDSkipsRemovedIDs(t *testing.T) {
	c := NewPRDCollection()
	c.PRDs = append(c.PRDs, &PRD{ID: "prd_006"}, &PRD{ID: "prd_007"})

	assert.True(t, c.Remove("prd_007"))
	assert.Equal(t, 7, c.Metadata.LastPRDNumber)
	assert.Equal(t, "prd_008", c.NextID())
	assert.Equal(t, 8, c.Metadata.LastPRDNumber)

	// An id that was allocated but never kept is not reused either.
	assert.Equal(t, "prd_009", c.NextID())

	assert.False(t, c.Remove("prd_042"))
	assert.Equal(t, 9, c.Metadata.LastPRDNumber)
}

func TestParsePRDNumber(t *testing.T) {
	n, ok := ParsePRDNumber("prd_042")
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	for _, id := range []string{"prd_42", "task_001", "prd_abc", ""} {
		_, ok := ParsePRDNumber(id)
		assert.False(t, ok, id)
	}
}

func TestLinkTaskIsIdempotent(t *testing.T) {
	p := &PRD{ID: "prd_001"}
	assert.True(t, p.LinkTask("1"))
	assert.False(t, p.LinkTask("1"))
	assert.True(t, p.HasLinkedTask("1"))
	assert.True(t, p.UnlinkTask("1"))
	assert.False(t, p.UnlinkTask("1"))
	assert.Empty(t, p.LinkedTaskIDs)
}

func TestCloneIsDeep(t *testing.T) {
	p := &PRD{
		ID:            "prd_001",
		Tags:          []string{"a"},
		LinkedTaskIDs: []string{"1"},
		VersionHistory: []VersionEntry{{
			Version:       "1.0.0",
			ChangeDetails: map[string]any{"k": "v"},
		}},
	}
	c := p.Clone()
	c.Tags[0] = "b"
	c.LinkedTaskIDs[0] = "2"
	c.VersionHistory[0].ChangeDetails["k"] = "w"

	assert.Equal(t, "a", p.Tags[0])
	assert.Equal(t, "1", p.LinkedTaskIDs[0])
	assert.Equal(t, "v", p.VersionHistory[0].ChangeDetails["k"])
}

func TestSortPRDs(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prds := []*PRD{
		{ID: "prd_003", Priority: PriorityLow, Title: "c", LastModified: base},
		{ID: "prd_001", Priority: PriorityHigh, Title: "a", LastModified: base.Add(2 * time.Hour)},
		{ID: "prd_002", Priority: PriorityHigh, Title: "B", LastModified: base.Add(time.Hour)},
	}

	SortPRDs(prds, nil)
	assert.Equal(t, []string{"prd_001", "prd_002", "prd_003"}, ids(prds))

	SortPRDs(prds, ParseSortOrder("updated-desc"))
	assert.Equal(t, []string{"prd_001", "prd_002", "prd_003"}, ids(prds))

	SortPRDs(prds, ParseSortOrder("title:desc"))
	assert.Equal(t, []string{"prd_003", "prd_002", "prd_001"}, ids(prds))
}

func TestParseSortOrder(t *testing.T) {
	got := ParseSortOrder(" priority-asc, bogus-desc, updated:descending, priority-desc, title-sideways ")
	assert.Equal(t, []SortOption{
		{Field: SortFieldPriority, Direction: SortAsc},
		{Field: SortFieldUpdated, Direction: SortDesc},
	}, got)
	assert.Equal(t, "priority-asc,updated-desc", EncodeSortOrder(got))
	assert.Nil(t, ParseSortOrder(""))
	assert.Equal(t, []SortOption{{Field: SortFieldID, Direction: SortAsc}}, ParseSortOrder("id"))
}

func TestFilter(t *testing.T) {
	prds := []*PRD{
		{ID: "prd_001", Status: StatusPending, Priority: PriorityHigh, Title: "Search", Tags: []string{"ux"}},
		{ID: "prd_002", Status: StatusDone, Priority: PriorityLow, Title: "Billing", Description: "invoice search"},
		{ID: "prd_003", Status: StatusInProgress, Priority: PriorityHigh, Title: "Auth"},
	}

	assert.Len(t, Filter{}.Apply(prds), 3)
	assert.Equal(t, []string{"prd_001", "prd_003"}, ids(Filter{Priority: []Priority{PriorityHigh}}.Apply(prds)))
	assert.Equal(t, []string{"prd_002"}, ids(Filter{Status: []Status{StatusDone}}.Apply(prds)))
	assert.Equal(t, []string{"prd_001"}, ids(Filter{Tag: "ux"}.Apply(prds)))
	assert.Equal(t, []string{"prd_001", "prd_002"}, ids(Filter{Search: "SEARCH"}.Apply(prds)))
}

func ids(prds []*PRD) []string {
	out := make([]string, len(prds))
	for i, p := range prds {
		out[i] = p.ID
	}
	return out
}
