package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// lockFile is the advisory lock in a project's data directory. The
// first writer wins; a second hub process opening the same directory
// fails fast instead of corrupting the log.
const lockFileName = ".lock"

// acquireLock claims the project directory for this process. A lock
// left behind by a dead process is broken and re-claimed.
func acquireLock(dir string) (string, error) {
	path := filepath.Join(dir, lockFileName)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return "", fmt.Errorf("write lock file: %w", err)
			}
			return path, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("create lock file: %w", err)
		}
		pid, perr := readLockPid(path)
		if perr == nil && processAlive(pid) {
			return "", fmt.Errorf("project directory %s locked by pid %d", dir, pid)
		}
		// Stale lock from a crashed process.
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return "", fmt.Errorf("remove stale lock: %w", rerr)
		}
	}
	return "", fmt.Errorf("could not acquire lock in %s", dir)
}

func readLockPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// releaseLock removes the advisory lock file.
func releaseLock(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
