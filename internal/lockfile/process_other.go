//go:build !unix

package lockfile

import "os"

// isProcessRunning is a best-effort PID probe on platforms without
// kill(2) semantics. FindProcess succeeds for any PID on Windows only
// when the process exists.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p
	return true
}
