package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("PRD_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex

	eventsLog string

	level  = new(slog.LevelVar)
	logger *slog.Logger
)

func init() {
	syncLevel()
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func syncLevel() {
	if enabled || verboseMode {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelWarn)
	}
}

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
	syncLevel()
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// Logger returns the process-wide structured logger. Debug records are
// emitted only when PRD_DEBUG is set or verbose mode is on.
func Logger() *slog.Logger {
	return logger
}

// SetOutput redirects the structured logger, mainly for tests.
func SetOutput(w io.Writer) {
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetEventsLog sets the file LogEvent appends to. Empty disables event logging.
func SetEventsLog(path string) {
	logMutex.Lock()
	defer logMutex.Unlock()
	eventsLog = path
}

// LogEvent appends a line to the events log.
// Format: TIMESTAMP|EVENT_CODE|PRD_ID|ACTOR|DETAILS
func LogEvent(eventCode, prdID, details string) {
	LogEventAs(eventCode, prdID, "", details)
}

// LogEventAs is LogEvent with an explicit actor.
func LogEventAs(eventCode, prdID, actor, details string) {
	logMutex.Lock()
	defer logMutex.Unlock()

	if eventsLog == "" {
		return
	}

	if prdID == "" {
		prdID = "none"
	}
	if actor == "" {
		actor = os.Getenv("PRD_ACTOR")
		if actor == "" {
			actor = os.Getenv("USER")
			if actor == "" {
				actor = "unknown"
			}
		}
	}
	// Keep one event per line.
	details = strings.ReplaceAll(details, "\n", " ")

	timestamp := time.Now().UTC().Format(time.RFC3339)
	entry := fmt.Sprintf("%s|%s|%s|%s|%s\n", timestamp, eventCode, prdID, actor, details)

	_ = os.MkdirAll(filepath.Dir(eventsLog), 0755)

	file, err := os.OpenFile(eventsLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		// Silent fail - don't interrupt operations if logging fails
		return
	}
	defer file.Close()

	_, _ = file.WriteString(entry)
}
