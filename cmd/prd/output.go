package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"

	"github.com/steveyegge/prdledger/internal/archive"
	"github.com/steveyegge/prdledger/internal/debug"
	"github.com/steveyegge/prdledger/internal/discovery"
	"github.com/steveyegge/prdledger/internal/history"
	"github.com/steveyegge/prdledger/internal/linksync"
	"github.com/steveyegge/prdledger/internal/lockfile"
	"github.com/steveyegge/prdledger/internal/status"
	"github.com/steveyegge/prdledger/internal/txn"
	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/validation"
)

// Exit codes
const (
	exitError        = 1
	exitNotFound     = 2
	exitInvalid      = 3
	exitConflict     = 4
	exitLocked       = 5
	exitInconsistent = 10
)

// envelope is the JSON shape of every --json response.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// outputJSON writes a successful response.
func outputJSON(details any) {
	writeJSON(envelope{Success: true, Details: details})
}

func writeJSON(v any) {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Error encoding JSON: %v\n", err)
	}
}

// classify maps an error to a stable code, exit status and structured details.
func classify(err error) (code string, exit int, details any) {
	var (
		verr  *validation.Error
		perr  *archive.PreconditionError
		cerr  *lockfile.ContentionError
		rerr  *txn.RollbackError
		rberr *archive.RolledBackError
		trerr *status.TransitionError
	)
	switch {
	case errors.As(err, &rerr):
		return "rollback_failed", exitInconsistent, map[string]any{
			"cause": rerr.Cause.Error(), "rollbackError": rerr.RollbackErr.Error(), "paths": rerr.Paths,
		}
	case errors.As(err, &rberr):
		code, exit, _ := classify(rberr.Cause)
		if code == "" {
			code = "archive_failed"
		}
		return code, exit, map[string]any{
			"rolledBack": true, "prdId": rberr.PRDID, "step": rberr.Step, "cause": rberr.Cause.Error(),
		}
	case errors.As(err, &verr):
		return "validation", exitInvalid, verr
	case errors.As(err, &perr):
		return "precondition", exitConflict, perr
	case errors.As(err, &trerr):
		return "invalid_transition", exitConflict, map[string]any{
			"prdId": trerr.PRDID, "from": trerr.From, "to": trerr.To,
		}
	case errors.As(err, &cerr):
		return "lock_unavailable", exitLocked, map[string]any{
			"path": cerr.Path, "waited": cerr.Waited.String(), "attempts": cerr.Attempts, "holder": cerr.Holder,
		}
	case errors.Is(err, lockfile.ErrLockUnavailable):
		return "lock_unavailable", exitLocked, nil
	case errors.Is(err, types.ErrPRDNotFound),
		errors.Is(err, types.ErrTaskNotFound),
		errors.Is(err, history.ErrVersionNotFound),
		errors.Is(err, history.ErrSourceMissing):
		return "not_found", exitNotFound, nil
	case errors.Is(err, status.ErrManualOverride),
		errors.Is(err, status.ErrArchivedPRD),
		errors.Is(err, status.ErrArchiveOnly),
		errors.Is(err, linksync.ErrAlreadyLinked),
		errors.Is(err, linksync.ErrNotLinked),
		errors.Is(err, discovery.ErrAlreadyRegistered):
		return "conflict", exitConflict, nil
	case errors.Is(err, archive.ErrUnsafePath):
		return "unsafe_archive", exitInvalid, nil
	}
	return "", exitError, nil
}

func exitCode(err error) int {
	_, exit, _ := classify(err)
	return exit
}

// renderError reports err as a JSON envelope or a colored message on stderr.
func renderError(err error) {
	code, exit, details := classify(err)
	if jsonOutput {
		writeJSON(envelope{Success: false, Error: err.Error(), Code: code, Details: details})
		return
	}
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	fmt.Fprintf(stderr, "%s %v\n", red("Error:"), err)
	if exit == exitInconsistent {
		fmt.Fprintln(stderr, "Hint: the next command that takes the document locks restores the backups listed above; check them first")
	}
	var rberr *archive.RolledBackError
	if errors.As(err, &rberr) {
		fmt.Fprintln(stderr, "Rolled back: the PRD, its tasks and their files are unchanged")
	}
	if exit == exitLocked {
		fmt.Fprintln(stderr, "Hint: another prd process holds the lock; run 'prd locks clean' if it crashed")
	}
}

// success prints a green check line unless --quiet.
func success(format string, args ...any) {
	if debug.IsQuiet() {
		return
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(stdout, "%s %s\n", green("✓"), fmt.Sprintf(format, args...))
}

// warn prints a yellow warning to stderr.
func warn(format string, args ...any) {
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(stderr, "%s %s\n", yellow("Warning:"), fmt.Sprintf(format, args...))
}

// printf writes normal output unless --quiet.
func printf(format string, args ...any) {
	if debug.IsQuiet() {
		return
	}
	fmt.Fprintf(stdout, format, args...)
}
