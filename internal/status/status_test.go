package status_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/prdledger/internal/history"
	"github.com/steveyegge/prdledger/internal/status"
	"github.com/steveyegge/prdledger/internal/testutil/teststore"
	"github.com/steveyegge/prdledger/internal/types"
)

func stats(statuses ...types.TaskStatus) types.TaskStats {
	var s types.TaskStats
	for _, st := range statuses {
		s.Add(st)
	}
	return s
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name    string
		current types.Status
		counts  types.TaskStats
		want    types.Status
	}{
		{"no tasks", types.StatusInProgress, stats(), types.StatusPending},
		{"all done", types.StatusPending, stats(types.TaskStatusDone, types.TaskStatusDone), types.StatusDone},
		{"one in progress on done prd", types.StatusDone, stats(types.TaskStatusDone, types.TaskStatusInProgress), types.StatusInProgress},
		{"review counts as in progress", types.StatusPending, stats(types.TaskStatusReview), types.StatusInProgress},
		{"all pending", types.StatusInProgress, stats(types.TaskStatusPending, types.TaskStatusPending), types.StatusPending},
		{"mixed keeps current", types.StatusInProgress, stats(types.TaskStatusDone, types.TaskStatusPending), types.StatusInProgress},
		{"mixed keeps pending", types.StatusPending, stats(types.TaskStatusDone, types.TaskStatusBlocked), types.StatusPending},
		{"mixed degrades done", types.StatusDone, stats(types.TaskStatusDone, types.TaskStatusBlocked), types.StatusInProgress},
		{"archived untouched", types.StatusArchived, stats(types.TaskStatusPending), types.StatusArchived},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Recommend(tt.current, tt.counts))
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, status.CanTransition(types.StatusPending, types.StatusInProgress))
	assert.True(t, status.CanTransition(types.StatusInProgress, types.StatusDone))
	assert.True(t, status.CanTransition(types.StatusDone, types.StatusInProgress))
	assert.True(t, status.CanTransition(types.StatusInProgress, types.StatusPending))
	assert.True(t, status.CanTransition(types.StatusDone, types.StatusDone))
	assert.False(t, status.CanTransition(types.StatusPending, types.StatusDone))
	assert.False(t, status.CanTransition(types.StatusArchived, types.StatusPending))
}

func TestReconcileAppliesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	env := teststore.New(t)
	prd := env.AddPRD("prd_001", types.StatusPending)
	env.AddTask("1", types.TaskStatusDone, prd)
	env.AddTask("2", types.TaskStatusDone, prd)
	engine := status.New(env.Store)
	ctx := context.Background()

	res, err := engine.Reconcile(ctx, "prd_001", status.Options{Author: "bot"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Applied)
	assert.Equal(t, types.StatusDone, res.Recommended)

	p := env.PRD("prd_001")
	assert.Equal(t, types.StatusDone, p.Status)
	assert.Equal(t, 100, p.TaskStats.CompletionPercentage)
	latest := p.LatestVersion()
	assert.Equal(t, history.ChangeStatusChanged, latest.ChangeType)
	assert.Equal(t, "bot", latest.Author)

	before := env.ReadBytes(env.Layout.PRDFile)
	again, err := engine.Reconcile(ctx, "prd_001", status.Options{})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.False(t, again.Applied)
	assert.Equal(t, before, env.ReadBytes(env.Layout.PRDFile))
}

func TestReconcileRegressesDonePRD(t *testing.T) {
	t.Parallel()
	env := teststore.New(t)
	prd := env.AddPRD("prd_001", types.StatusDone)
	env.AddTask("1", types.TaskStatusDone, prd)
	env.AddTask("2", types.TaskStatusInProgress, prd)

	res, err := status.New(env.Store).Reconcile(context.Background(), "prd_001", status.Options{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, res.Recommended)
	assert.Equal(t, types.StatusInProgress, env.PRD("prd_001").Status)
}

func TestReconcileNoTasksIsPending(t *testing.T) {
	t.Parallel()
	env := teststore.New(t)
	env.AddPRD("prd_001", types.StatusInProgress)

	res, err := status.New(env.Store).Reconcile(context.Background(), "prd_001", status.Options{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, res.Recommended)
	assert.Equal(t, types.StatusPending, env.PRD("prd_001").Status)
}

func TestReconcileDryRunDoesNotWrite(t *testing.T) {
	t.Parallel()
	env := teststore.New(t)
	prd := env.AddPRD("prd_001", types.StatusPending)
	env.AddTask("1", types.TaskStatusDone, prd)
	before := env.ReadBytes(env.Layout.PRDFile)

	res, err := status.New(env.Store).Reconcile(context.Background(), "prd_001", status.Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.Applied)
	assert.Equal(t, types.StatusDone, res.Recommended)
	assert.Equal(t, before, env.ReadBytes(env.Layout.PRDFile))
}

func TestReconcileForceRecordsEntry(t *testing.T) {
	t.Parallel()
	env := teststore.New(t)
	env.AddPRD("prd_001", types.StatusPending)

	res, err := status.New(env.Store).Reconcile(context.Background(), "prd_001", status.Options{Force: true})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.True(t, res.Applied)
	assert.Equal(t, "1.0.1", env.PRD("prd_001").CurrentVersion)
}

func TestReconcileRespectsManualOverride(t *testing.T) {
	t.Parallel()
	env := teststore.New(t)
	prd := env.AddPRD("prd_001", types.StatusPending)
	prd.ManualStatusOverride = true
	env.AddTask("1", types.TaskStatusDone, prd)
	engine := status.New(env.Store)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, "prd_001", status.Options{})
	require.ErrorIs(t, err, status.ErrManualOverride)
	assert.Equal(t, types.StatusPending, env.PRD("prd_001").Status)

	res, err := engine.Reconcile(ctx, "prd_001", status.Options{OverrideManual: true})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, types.StatusDone, env.PRD("prd_001").Status)
}

func TestReconcileAll(t *testing.T) {
	t.Parallel()
	env := teststore.New(t)
	a := env.AddPRD("prd_001", types.StatusPending)
	env.AddTask("1", types.TaskStatusDone, a)
	b := env.AddPRD("prd_002", types.StatusPending)
	b.ManualStatusOverride = true
	env.AddTask("2", types.TaskStatusInProgress, b)
	env.AddPRD("prd_003", types.StatusArchived)
	env.AddPRD("prd_004", types.StatusPending)

	batch, err := status.New(env.Store).ReconcileAll(context.Background(), status.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"prd_002"}, batch.Skipped)
	assert.Empty(t, batch.Errors)
	assert.Len(t, batch.Results, 2)

	assert.Equal(t, types.StatusDone, env.PRD("prd_001").Status)
	assert.Equal(t, types.StatusPending, env.PRD("prd_002").Status)
	assert.Equal(t, types.StatusArchived, env.PRD("prd_003").Status)
	assert.Equal(t, types.StatusPending, env.PRD("prd_004").Status)
}

func TestOnTaskStatusChanged(t *testing.T) {
	t.Parallel()
	env := teststore.New(t)
	prd := env.AddPRD("prd_001", types.StatusPending)
	env.AddTask("1", types.TaskStatusPending, prd)
	engine := status.New(env.Store)

	env.SetTaskStatus("1", types.TaskStatusInProgress)
	results, err := engine.OnTaskStatusChanged(context.Background(), "1", "tasks")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.StatusInProgress, env.PRD("prd_001").Status)

	env.SetTaskStatus("1", types.TaskStatusDone)
	_, err = engine.OnTaskStatusChanged(context.Background(), "1", "tasks")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, env.PRD("prd_001").Status)
}

func TestSetStatus(t *testing.T) {
	t.Parallel()
	env := teststore.New(t)
	env.AddPRD("prd_001", types.StatusPending)
	engine := status.New(env.Store)
	ctx := context.Background()

	_, err := engine.SetStatus(ctx, "prd_001", types.StatusDone, status.SetOptions{})
	var terr *status.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.StatusPending, terr.From)

	_, err = engine.SetStatus(ctx, "prd_001", types.StatusArchived, status.SetOptions{})
	require.ErrorIs(t, err, status.ErrArchiveOnly)

	res, err := engine.SetStatus(ctx, "prd_001", types.StatusInProgress, status.SetOptions{Pin: true, Author: "pm"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	p := env.PRD("prd_001")
	assert.Equal(t, types.StatusInProgress, p.Status)
	assert.True(t, p.ManualStatusOverride)
	assert.Equal(t, "pm", p.LatestVersion().Author)

	// Pinned: reconciliation would reset to pending but must not.
	_, err = engine.Reconcile(ctx, "prd_001", status.Options{})
	require.ErrorIs(t, err, status.ErrManualOverride)

	require.NoError(t, engine.Unpin(ctx, "prd_001", "pm"))
	assert.False(t, env.PRD("prd_001").ManualStatusOverride)
}
