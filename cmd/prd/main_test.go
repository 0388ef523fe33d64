package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/prdledger/internal/archive"
	"github.com/steveyegge/prdledger/internal/config"
	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/types"
)

type response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

// resetFlags restores every flag to its default so commands can run
// repeatedly in one process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the CLI in-process and returns its exit code and output.
func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	resetFlags(rootCmd)
	config.ResetForTesting()

	var out, errOut bytes.Buffer
	oldOut, oldErr := stdout, stderr
	stdout, stderr = &out, &errOut
	defer func() { stdout, stderr = oldOut, oldErr }()

	code := run(args)
	return code, out.String(), errOut.String()
}

// executeJSON runs a --json command and decodes its envelope.
func executeJSON(t *testing.T, args ...string) (int, response) {
	t.Helper()
	code, out, _ := execute(t, append([]string{"--json"}, args...)...)
	var resp response
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return code, resp
}

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Chdir(root)
	t.Setenv("HOME", root)
	for _, k := range []string{"PRD_ACTOR", "PRD_JSON", "PRD_ROOT", "PRD_OTEL_ENABLED"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, storage.DefaultPRDDir), 0o755))
	return root
}

func writeDoc(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, storage.DefaultPRDDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	setupProject(t)
	code, out, _ := execute(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "prd version "+Version)
}

func TestCreateListShow(t *testing.T) {
	root := setupProject(t)
	doc := writeDoc(t, root, "search.md", "# Search Revamp\n\nBetter search.\n")

	code, resp := executeJSON(t, "--actor", "alice", "create", doc, "--priority", "high", "--tags", "search,ux")
	require.Equal(t, 0, code)
	require.True(t, resp.Success)
	var created types.PRD
	require.NoError(t, json.Unmarshal(resp.Details, &created))
	assert.Equal(t, "prd_001", created.ID)
	assert.Equal(t, "Search Revamp", created.Title)
	assert.Equal(t, types.Priority("high"), created.Priority)
	assert.Equal(t, []string{"search", "ux"}, created.Tags)
	assert.Equal(t, types.StatusPending, created.Status)
	require.Len(t, created.VersionHistory, 1)
	assert.Equal(t, "alice", created.VersionHistory[0].Author)

	code, resp = executeJSON(t, "list")
	require.Equal(t, 0, code)
	var listed []types.PRD
	require.NoError(t, json.Unmarshal(resp.Details, &listed))
	require.Len(t, listed, 1)

	code, resp = executeJSON(t, "list", "--status", "done")
	require.Equal(t, 0, code)
	require.NoError(t, json.Unmarshal(resp.Details, &listed))
	assert.Empty(t, listed)

	code, out, _ := execute(t, "show", "prd_001")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Search Revamp")
	assert.Contains(t, out, "search, ux")

	code, resp = executeJSON(t, "show", "1")
	require.Equal(t, 0, code)
	var shown types.PRD
	require.NoError(t, json.Unmarshal(resp.Details, &shown))
	assert.Equal(t, "prd_001", shown.ID)

	code, _ = executeJSON(t, "show", "not-an-id")
	assert.Equal(t, exitError, code)
}

func TestCreateTwiceConflicts(t *testing.T) {
	root := setupProject(t)
	doc := writeDoc(t, root, "a.md", "# A\n")

	code, _ := executeJSON(t, "create", doc)
	require.Equal(t, 0, code)

	code, resp := executeJSON(t, "create", doc)
	assert.Equal(t, exitConflict, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "conflict", resp.Code)
}

func TestStatusSetAndHistory(t *testing.T) {
	root := setupProject(t)
	doc := writeDoc(t, root, "a.md", "# A\n")
	code, _ := executeJSON(t, "create", doc)
	require.Equal(t, 0, code)

	code, resp := executeJSON(t, "status", "set", "prd_001", "done")
	assert.Equal(t, exitConflict, code)
	assert.Equal(t, "invalid_transition", resp.Code)

	code, resp = executeJSON(t, "status", "set", "prd_001", "archived")
	assert.Equal(t, exitConflict, code)
	assert.Equal(t, "conflict", resp.Code)

	code, _ = executeJSON(t, "status", "set", "prd_001", "in-progress", "--pin")
	require.Equal(t, 0, code)

	code, resp = executeJSON(t, "show", "prd_001")
	require.Equal(t, 0, code)
	var p types.PRD
	require.NoError(t, json.Unmarshal(resp.Details, &p))
	assert.Equal(t, types.StatusInProgress, p.Status)
	assert.True(t, p.ManualStatusOverride)

	code, resp = executeJSON(t, "history", "prd_001", "--type", "status_changed")
	require.Equal(t, 0, code)
	var entries []types.VersionEntry
	require.NoError(t, json.Unmarshal(resp.Details, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "1.0.1", entries[0].Version)

	code, resp = executeJSON(t, "diff", "prd_001", "1.0.0", "1.0.1")
	require.Equal(t, 0, code)
	var d struct {
		Status     bool `json:"status"`
		HasChanges bool `json:"hasChanges"`
	}
	require.NoError(t, json.Unmarshal(resp.Details, &d))
	assert.True(t, d.Status)
	assert.True(t, d.HasChanges)

	code, _ = executeJSON(t, "status", "unpin", "prd_001")
	require.Equal(t, 0, code)
}

func TestNotFound(t *testing.T) {
	setupProject(t)

	code, resp := executeJSON(t, "show", "prd_999")
	assert.Equal(t, exitNotFound, code)
	assert.Equal(t, "not_found", resp.Code)
	assert.NotEmpty(t, resp.Error)

	code, _, errOut := execute(t, "show", "prd_999")
	assert.Equal(t, exitNotFound, code)
	assert.Contains(t, errOut, "Error:")
}

func TestTrackDetectsEdits(t *testing.T) {
	root := setupProject(t)
	doc := writeDoc(t, root, "a.md", "# A\n")
	code, _ := executeJSON(t, "create", doc)
	require.Equal(t, 0, code)

	require.NoError(t, os.WriteFile(doc, []byte("# A\n\nMore detail.\n"), 0o644))
	code, resp := executeJSON(t, "track", "prd_001")
	require.Equal(t, 0, code)
	var changes []struct {
		Changed bool   `json:"changed"`
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal(resp.Details, &changes))
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Changed)
	assert.Equal(t, "1.0.1", changes[0].Version)
}

func TestArchiveRequiresDone(t *testing.T) {
	root := setupProject(t)
	doc := writeDoc(t, root, "a.md", "# A\n")
	code, _ := executeJSON(t, "create", doc)
	require.Equal(t, 0, code)

	code, resp := executeJSON(t, "archive", "prd_001")
	assert.Equal(t, exitConflict, code)
	assert.Equal(t, "precondition", resp.Code)

	code, resp = executeJSON(t, "archive", "prd_001", "--dry-run")
	require.Equal(t, 0, code)
	assert.True(t, resp.Success)
	assert.FileExists(t, doc)

	code, _ = executeJSON(t, "archive", "prd_001", "--force")
	require.Equal(t, 0, code)
	assert.NoFileExists(t, doc)

	code, resp = executeJSON(t, "archives", "list")
	require.Equal(t, 0, code)
	var listings []struct {
		Path     string `json:"path"`
		Metadata struct {
			PRDID string `json:"prdId"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(resp.Details, &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "prd_001", listings[0].Metadata.PRDID)

	dest := filepath.Join(root, "restored")
	code, _ = executeJSON(t, "archives", "extract", listings[0].Path, dest)
	require.Equal(t, 0, code)
	assert.FileExists(t, filepath.Join(dest, "a.md"))
	assert.FileExists(t, filepath.Join(dest, "metadata.json"))
}

func TestLinkUnknownTask(t *testing.T) {
	root := setupProject(t)
	doc := writeDoc(t, root, "a.md", "# A\n")
	code, _ := executeJSON(t, "create", doc)
	require.Equal(t, 0, code)

	code, resp := executeJSON(t, "link", "42", "prd_001")
	assert.Equal(t, exitNotFound, code)
	assert.Equal(t, "not_found", resp.Code)

	code, resp = executeJSON(t, "sync")
	require.Equal(t, 0, code)
	assert.True(t, resp.Success)
}

func TestConfigSetGet(t *testing.T) {
	root := setupProject(t)

	code, _, _ := execute(t, "config", "set", "lock.timeout", "5s")
	require.Equal(t, 0, code)
	data, err := os.ReadFile(filepath.Join(root, config.ConfigDir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "lock.timeout: 5s")

	code, out, _ := execute(t, "config", "get", "lock.timeout")
	require.Equal(t, 0, code)
	assert.Equal(t, "5s", strings.TrimSpace(out))

	code, _, errOut := execute(t, "config", "set", "lock.timout", "5s")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "unknown config key")
}

func TestQuietSuppressesSuccess(t *testing.T) {
	root := setupProject(t)
	doc := writeDoc(t, root, "a.md", "# A\n")

	code, out, _ := execute(t, "-q", "create", doc)
	require.Equal(t, 0, code)
	assert.Empty(t, out)
}

func TestHistoryAdd(t *testing.T) {
	root := setupProject(t)
	doc := writeDoc(t, root, "a.md", "# A\n")
	code, _ := executeJSON(t, "create", doc)
	require.Equal(t, 0, code)

	code, resp := executeJSON(t, "--actor", "kim", "history", "add", "prd_001", "--bump", "minor", "--note", "scope review")
	require.Equal(t, 0, code)
	var entry types.VersionEntry
	require.NoError(t, json.Unmarshal(resp.Details, &entry))
	assert.Equal(t, "1.1.0", entry.Version)
	assert.Equal(t, "kim", entry.Author)
	assert.Equal(t, "scope review", entry.ChangeDetails["note"])

	code, _ = executeJSON(t, "history", "add", "prd_001", "--bump", "huge")
	assert.Equal(t, exitError, code)
}

func TestLocksClean(t *testing.T) {
	setupProject(t)

	code, resp := executeJSON(t, "locks", "clean")
	require.Equal(t, 0, code)
	var got struct {
		Removed int `json:"removed"`
	}
	require.NoError(t, json.Unmarshal(resp.Details, &got))
	assert.Zero(t, got.Removed)
}

func TestRolledBackArchiveReportsRollback(t *testing.T) {
	err := fmt.Errorf("archive: %w", &archive.RolledBackError{
		PRDID: "prd_007",
		Step:  archive.StepRemoveTasks,
		Cause: errors.New("disk full"),
	})

	code, exit, details := classify(err)
	assert.Equal(t, "archive_failed", code)
	assert.Equal(t, exitError, exit)
	assert.Equal(t, map[string]any{
		"rolledBack": true, "prdId": "prd_007", "step": archive.StepRemoveTasks, "cause": "disk full",
	}, details)

	var errOut bytes.Buffer
	oldErr, oldJSON := stderr, jsonOutput
	stderr, jsonOutput = &errOut, false
	defer func() { stderr, jsonOutput = oldErr, oldJSON }()
	renderError(err)
	assert.Contains(t, errOut.String(), "rolled back")
	assert.Contains(t, errOut.String(), "Rolled back: the PRD, its tasks and their files are unchanged")
}
