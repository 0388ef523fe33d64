//go:build !unix

package lockfile

// Process liveness is not checked here, so only age-based staleness applies.
const canCheckProcesses = false

func isProcessRunning(pid int) bool {
	return pid > 0
}
