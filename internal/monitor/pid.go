package monitor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// WritePIDFile records the current process id.
func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// ReadPIDFile returns the recorded pid, or 0 when absent.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

// ProcessMatches verifies a pid is alive AND still runs the expected
// command. PIDs get reused; acting on a recycled pid would signal an
// innocent process.
func ProcessMatches(pid int, signature string) bool {
	if pid <= 0 {
		return false
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}
	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		// No /proc (non-Linux): liveness is the best we can do.
		return true
	}
	return strings.Contains(string(cmdline), signature)
}

// ClearStalePID removes a pid file whose process is gone or mismatched.
// Returns true when the file named a live matching process.
func ClearStalePID(path, signature string) (bool, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		// Malformed files are stale by definition.
		_ = os.Remove(path)
		return false, nil
	}
	if pid == 0 {
		return false, nil
	}
	if ProcessMatches(pid, signature) {
		return true, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return false, nil
}
