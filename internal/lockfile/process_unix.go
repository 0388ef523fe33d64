//go:build unix

package lockfile

import (
	"errors"

	"golang.org/x/sys/unix"
)

const canCheckProcesses = true

// isProcessRunning checks if a process with the given PID is running.
// EPERM means the process exists but belongs to another user.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false // Invalid PID (0 would signal our process group, not a specific process)
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
