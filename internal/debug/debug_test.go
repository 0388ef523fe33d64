package debug

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetVerbose(t *testing.T) {
	oldVerbose := verboseMode
	oldEnabled := enabled
	defer func() {
		verboseMode = oldVerbose
		enabled = oldEnabled
		syncLevel()
	}()

	enabled = false
	SetVerbose(false)

	if Enabled() {
		t.Error("Enabled() should be false initially")
	}

	SetVerbose(true)
	if !Enabled() {
		t.Error("Enabled() should be true after SetVerbose(true)")
	}

	SetVerbose(false)
	if Enabled() {
		t.Error("Enabled() should be false after SetVerbose(false)")
	}
}

func TestLoggerLevelFollowsVerbose(t *testing.T) {
	oldVerbose := verboseMode
	oldEnabled := enabled
	oldLogger := logger
	defer func() {
		verboseMode = oldVerbose
		enabled = oldEnabled
		logger = oldLogger
		syncLevel()
	}()

	var buf bytes.Buffer
	SetOutput(&buf)
	enabled = false

	SetVerbose(false)
	Logger().Debug("hidden")
	Logger().Warn("shown")

	SetVerbose(true)
	Logger().Debug("now visible", "prd", "prd_001")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record emitted while not verbose: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn record missing: %q", out)
	}
	if !strings.Contains(out, "now visible") || !strings.Contains(out, "prd=prd_001") {
		t.Errorf("debug record missing after SetVerbose(true): %q", out)
	}
}

func TestSetQuietAndIsQuiet(t *testing.T) {
	oldQuiet := quietMode
	defer func() { quietMode = oldQuiet }()

	quietMode = false

	if IsQuiet() {
		t.Error("IsQuiet() should be false initially")
	}

	SetQuiet(true)
	if !IsQuiet() {
		t.Error("IsQuiet() should be true after SetQuiet(true)")
	}

	SetQuiet(false)
	if IsQuiet() {
		t.Error("IsQuiet() should be false after SetQuiet(false)")
	}
}

func TestLogEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prds", "events.log")
	SetEventsLog(path)
	defer SetEventsLog("")

	LogEventAs("status_changed", "prd_003", "kim", "pending -> in-progress")
	LogEventAs("archived", "", "kim", "two\nlines")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read events log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), data)
	}

	fields := strings.Split(lines[0], "|")
	if len(fields) != 5 {
		t.Fatalf("got %d fields, want 5: %q", len(fields), lines[0])
	}
	if fields[1] != "status_changed" || fields[2] != "prd_003" || fields[3] != "kim" {
		t.Errorf("unexpected event fields: %q", fields)
	}
	if !strings.HasSuffix(lines[1], "|archived|none|kim|two lines") {
		t.Errorf("unexpected second event: %q", lines[1])
	}
}

func TestLogEventDisabled(t *testing.T) {
	SetEventsLog("")
	// Must not panic or create anything.
	LogEvent("noop", "prd_001", "")
}
