// Package config holds prd's runtime settings: defaults, the project's
// .taskmaster/config.yaml and PRD_* environment variables, in increasing
// order of precedence. Command-line flags are bound on top by cmd/prd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/utils"
)

// ConfigDir is the project directory that holds config.yaml.
const ConfigDir = ".taskmaster"

var v *viper.Viper

// Initialize builds the viper instance. It is safe to call more than once;
// each call starts from scratch so tests can change env and CWD between calls.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PRD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	path, root := findConfig()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
		// A project root found via config.yaml wins over CWD unless set explicitly.
		v.SetDefault("root", root)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", "")
	v.SetDefault("prd.metadata", storage.DefaultPRDFile)
	v.SetDefault("prd.dir", storage.DefaultPRDDir)
	v.SetDefault("prd.events-log", storage.DefaultEventsLog)
	v.SetDefault("tasks.file", storage.DefaultTasksFile)
	v.SetDefault("tasks.dir", storage.DefaultTasksDir)
	v.SetDefault("tasks.file-pattern", storage.DefaultTaskFilePattern)
	v.SetDefault("archive.dir", storage.DefaultArchiveDir)
	v.SetDefault("lock.timeout", 30*time.Second)
	v.SetDefault("lock.retry-interval", 100*time.Millisecond)
	v.SetDefault("lock.janitor-interval", time.Minute)
	v.SetDefault("watch.debounce", 500*time.Millisecond)
	v.SetDefault("actor", "")
	v.SetDefault("json", false)
}

// findConfig walks up from CWD looking for .taskmaster/config.yaml and
// returns its path and the directory containing .taskmaster.
func findConfig() (path, root string) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", ""
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ConfigDir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, dir
		}
		if dir == filepath.Dir(dir) {
			return "", ""
		}
	}
}

// ConfigFileUsed returns the path of the loaded config.yaml, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// ResetForTesting drops the viper instance.
func ResetForTesting() { v = nil }

func ensure() *viper.Viper {
	if v == nil {
		_ = Initialize()
	}
	return v
}

// GetString returns a string setting.
func GetString(key string) string { return ensure().GetString(key) }

// GetBool returns a bool setting.
func GetBool(key string) bool { return ensure().GetBool(key) }

// GetInt returns an int setting.
func GetInt(key string) int { return ensure().GetInt(key) }

// GetDuration returns a duration setting.
func GetDuration(key string) time.Duration { return ensure().GetDuration(key) }

// GetStringSlice returns a string slice setting.
func GetStringSlice(key string) []string { return ensure().GetStringSlice(key) }

// Set overrides a value for this process.
func Set(key string, value interface{}) { ensure().Set(key, value) }

// AllSettings returns the merged settings.
func AllSettings() map[string]interface{} { return ensure().AllSettings() }

// Viper exposes the instance so cmd/prd can bind flags.
func Viper() *viper.Viper { return ensure() }

// Layout builds the storage layout from the current settings. Relative paths
// resolve against root, which defaults to CWD.
func Layout() storage.Layout {
	root := GetString("root")
	if root == "" {
		root, _ = os.Getwd()
	}
	return storage.NewLayout(storage.Layout{
		Root:            utils.CanonicalizePath(root),
		PRDFile:         GetString("prd.metadata"),
		PRDDir:          GetString("prd.dir"),
		TasksFile:       GetString("tasks.file"),
		TasksDir:        GetString("tasks.dir"),
		TaskFilePattern: GetString("tasks.file-pattern"),
		ArchiveDir:      GetString("archive.dir"),
		EventsLog:       GetString("prd.events-log"),
	})
}

// Actor returns who is making changes: the actor setting, then $USER.
func Actor() string {
	if a := GetString("actor"); a != "" {
		return a
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
