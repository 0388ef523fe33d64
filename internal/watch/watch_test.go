package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/prdledger/internal/history"
	"github.com/steveyegge/prdledger/internal/testutil/teststore"
	"github.com/steveyegge/prdledger/internal/types"
)

type recorder struct {
	mu      sync.Mutex
	changes []history.FileChange
}

func (r *recorder) add(c history.FileChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) snapshot() []history.FileChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.FileChange(nil), r.changes...)
}

func start(t *testing.T, env *teststore.Env, rec *recorder) {
	t.Helper()
	w := New(env.Store, history.New(env.Store), Options{
		Debounce: 30 * time.Millisecond,
		Author:   "watch-test",
		OnChange: rec.add,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	select {
	case <-w.Ready():
	case err := <-done:
		t.Fatalf("watcher exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher not ready")
	}
}

func TestWatcherRecordsEdits(t *testing.T) {
	env := teststore.New(t)
	prd := env.AddPRD("prd_001", types.StatusPending)
	rec := &recorder{}
	start(t, env, rec)

	source := env.Layout.SourcePath(prd)
	for i := range 3 {
		content := []byte("# Edited\n\nrevision " + string(rune('a'+i)) + "\n")
		require.NoError(t, os.WriteFile(source, content, 0o644))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 5*time.Second, 20*time.Millisecond)

	got := env.PRDs().Find("prd_001")
	require.NotNil(t, got)
	assert.NotEmpty(t, got.FileHash)
	last := got.VersionHistory[len(got.VersionHistory)-1]
	assert.Equal(t, history.ChangeFileModified, last.ChangeType)
	assert.Equal(t, "watch-test", last.Author)
	assert.Equal(t, "prd_001", rec.snapshot()[0].PRDID)
}

func TestWatcherIgnoresUnregisteredFiles(t *testing.T) {
	env := teststore.New(t)
	env.AddPRD("prd_001", types.StatusPending)
	before := env.ReadBytes(env.Layout.PRDFile)
	rec := &recorder{}
	start(t, env, rec)

	require.NoError(t, os.WriteFile(filepath.Join(env.Layout.PRDDir, "draft.md"), []byte("# Draft\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.Layout.PRDDir, "notes.json"), []byte("{}"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, before, env.ReadBytes(env.Layout.PRDFile))
}

func TestIsSource(t *testing.T) {
	assert.True(t, isSource("a/b.md"))
	assert.True(t, isSource("a/b.TXT"))
	assert.False(t, isSource("a/b.json"))
	assert.False(t, isSource("a/b"))
}
