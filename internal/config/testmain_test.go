package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// TestMain isolates tests from any .taskmaster/config.yaml above the
// repository and from the user's environment.
func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "prd-config-tests-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	oldWD, _ := os.Getwd()
	_ = os.Chdir(tmp)
	_ = os.Setenv("HOME", tmp)
	_ = os.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg-config"))
	for _, key := range []string{"PRD_ACTOR", "PRD_JSON", "PRD_ROOT", "PRD_LOCK_TIMEOUT"} {
		_ = os.Unsetenv(key)
	}
	ResetForTesting()

	code := m.Run()

	ResetForTesting()
	_ = os.Chdir(oldWD)
	_ = os.RemoveAll(tmp)
	os.Exit(code)
}
