package prdledger_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/prdledger"
	"github.com/steveyegge/prdledger/internal/archive"
	"github.com/steveyegge/prdledger/internal/discovery"
	"github.com/steveyegge/prdledger/internal/status"
	"github.com/steveyegge/prdledger/internal/types"
)

func TestOpenLayout(t *testing.T) {
	root := t.TempDir()
	l, err := prdledger.Open(prdledger.Options{Root: root, Layout: prdledger.Layout{ArchiveDir: "old"}})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, filepath.Join(root, ".taskmaster", "prds", "prds.json"), l.Layout().PRDFile)
	assert.Equal(t, filepath.Join(root, "old"), l.Layout().ArchiveDir)
}

// TestLifecycle drives one PRD from registration to archive through the
// public API.
func TestLifecycle(t *testing.T) {
	root := t.TempDir()
	l, err := prdledger.Open(prdledger.Options{Root: root})
	require.NoError(t, err)
	defer l.Close()
	ctx := context.Background()

	src := filepath.Join(l.Layout().PRDDir, "search.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("# Search\n"), 0o644))

	prd, err := l.Registrar.Register(ctx, src, discovery.Options{Author: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "prd_001", prd.ID)

	tasks := types.NewTaskCollection()
	tasks.Tasks = append(tasks.Tasks,
		&types.Task{ID: "1", Title: "Index", Status: types.TaskStatusDone},
		&types.Task{ID: "2", Title: "Query", Status: types.TaskStatusInProgress},
	)
	require.NoError(t, l.Store.UpdateTasks(ctx, func(tc *types.TaskCollection) error {
		tc.Tasks = tasks.Tasks
		return nil
	}))

	for _, id := range []string{"1", "2"} {
		require.NoError(t, l.Links.Link(ctx, id, "prd_001", "alice"))
	}

	res, err := l.Status.Reconcile(ctx, "prd_001", status.Options{Author: "alice"})
	require.NoError(t, err)
	assert.Equal(t, prdledger.StatusInProgress, res.Recommended)

	_, err = l.Archiver.Archive(ctx, "prd_001", archive.Options{})
	var pe *archive.PreconditionError
	require.ErrorAs(t, err, &pe)

	require.NoError(t, l.Store.UpdateTasks(ctx, func(tc *types.TaskCollection) error {
		tc.Find("2").Status = types.TaskStatusDone
		return nil
	}))
	results, err := l.Status.OnTaskStatusChanged(ctx, "2", "alice")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, prdledger.StatusDone, results[0].Recommended)

	out, err := l.Archiver.Archive(ctx, "prd_001", archive.Options{Author: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.TaskCount)
	assert.FileExists(t, out.ArchivePath)

	prds, err := l.Store.LoadPRDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, prds.PRDs)
}
