package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/prdledger/internal/storage"
)

func writeProjectConfig(t *testing.T, dir, content string) {
	t.Helper()
	cfgDir := filepath.Join(dir, ConfigDir)
	if err := os.MkdirAll(cfgDir, 0o750); err != nil {
		t.Fatalf("failed to create %s: %v", cfgDir, err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

func TestInitialize(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if v == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"json", false, func(k string) interface{} { return GetBool(k) }},
		{"actor", "", func(k string) interface{} { return GetString(k) }},
		{"prd.metadata", storage.DefaultPRDFile, func(k string) interface{} { return GetString(k) }},
		{"tasks.file-pattern", "task_%03d.txt", func(k string) interface{} { return GetString(k) }},
		{"archive.dir", ".taskmaster/archives", func(k string) interface{} { return GetString(k) }},
		{"lock.timeout", 30 * time.Second, func(k string) interface{} { return GetDuration(k) }},
		{"lock.retry-interval", 100 * time.Millisecond, func(k string) interface{} { return GetDuration(k) }},
		{"lock.janitor-interval", time.Minute, func(k string) interface{} { return GetDuration(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := tt.getter(tt.key); got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar   string
		key      string
		value    string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"PRD_JSON", "json", "true", true, func(k string) interface{} { return GetBool(k) }},
		{"PRD_ACTOR", "actor", "testuser", "testuser", func(k string) interface{} { return GetString(k) }},
		{"PRD_LOCK_TIMEOUT", "lock.timeout", "5s", 5 * time.Second, func(k string) interface{} { return GetDuration(k) }},
		{"PRD_TASKS_FILE_PATTERN", "tasks.file-pattern", "t%d.md", "t%d.md", func(k string) interface{} { return GetString(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			t.Setenv(tt.envVar, tt.value)
			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() returned error: %v", err)
			}
			if got := tt.getter(tt.key); got != tt.expected {
				t.Errorf("GetXXX(%q) with %s=%s = %v, want %v", tt.key, tt.envVar, tt.value, got, tt.expected)
			}
		})
	}
}

func TestConfigFileFoundFromSubdirectory(t *testing.T) {
	tmpDir := t.TempDir()
	writeProjectConfig(t, tmpDir, `
json: true
actor: configuser
lock:
  timeout: 15s
archive:
  dir: old-prds
`)
	sub := filepath.Join(tmpDir, "docs", "deep")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	t.Chdir(sub)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetBool("json"); !got {
		t.Errorf("GetBool(json) = %v, want true", got)
	}
	if got := GetString("actor"); got != "configuser" {
		t.Errorf("GetString(actor) = %q, want \"configuser\"", got)
	}
	if got := GetDuration("lock.timeout"); got != 15*time.Second {
		t.Errorf("GetDuration(lock.timeout) = %v, want 15s", got)
	}
	if ConfigFileUsed() == "" {
		t.Error("ConfigFileUsed() is empty")
	}

	layout := Layout()
	root, _ := filepath.EvalSymlinks(tmpDir)
	gotRoot, _ := filepath.EvalSymlinks(layout.Root)
	if gotRoot != root {
		t.Errorf("Layout().Root = %q, want %q", layout.Root, tmpDir)
	}
	if filepath.Base(layout.ArchiveDir) != "old-prds" {
		t.Errorf("Layout().ArchiveDir = %q, want .../old-prds", layout.ArchiveDir)
	}
}

func TestConfigPrecedence(t *testing.T) {
	tmpDir := t.TempDir()
	writeProjectConfig(t, tmpDir, "json: false\n")
	t.Chdir(tmpDir)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetBool("json"); got {
		t.Errorf("GetBool(json) from config file = %v, want false", got)
	}

	t.Setenv("PRD_JSON", "true")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetBool("json"); !got {
		t.Errorf("GetBool(json) with env var = %v, want true (env should override config)", got)
	}
}

func TestInvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeProjectConfig(t, tmpDir, "json: [unclosed\n")
	t.Chdir(tmpDir)

	if err := Initialize(); err == nil {
		t.Fatal("Initialize() with broken yaml should fail")
	}
}

func TestSetAndGet(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	Set("test-key", "test-value")
	if got := GetString("test-key"); got != "test-value" {
		t.Errorf("GetString(test-key) = %q, want \"test-value\"", got)
	}
	Set("test-int", 42)
	if got := GetInt("test-int"); got != 42 {
		t.Errorf("GetInt(test-int) = %d, want 42", got)
	}
	if _, ok := AllSettings()["test-key"]; !ok {
		t.Error("AllSettings() missing test-key")
	}
}

func TestLayoutDefaultsToWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	layout := Layout()
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(layout.Root)
	if got != want {
		t.Errorf("Layout().Root = %q, want %q", layout.Root, dir)
	}
	if layout.PRDFile != filepath.Join(layout.Root, ".taskmaster", "prds", "prds.json") {
		t.Errorf("Layout().PRDFile = %q", layout.PRDFile)
	}
}

func TestActor(t *testing.T) {
	t.Setenv("USER", "fallback")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := Actor(); got != "fallback" {
		t.Errorf("Actor() = %q, want fallback", got)
	}
	Set("actor", "explicit")
	if got := Actor(); got != "explicit" {
		t.Errorf("Actor() = %q, want explicit", got)
	}
}
