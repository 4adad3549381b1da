package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/docdex/docdex/pkg/types"
)

const lockFileName = "watcher.lock"

// lockFile is a PID-based advisory lock. A lock file naming a dead process
// is stale and may be taken over; one naming a live process blocks.
type lockFile struct {
	path string
}

func acquireLock(stateDir string) (*lockFile, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(stateDir, lockFileName)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr == nil && pid > 0 && processAlive(pid) {
			return nil, fmt.Errorf("%w: held by pid %d", types.ErrWatcherLocked, pid)
		}
		// Stale or unreadable lock; take it over.
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read lock file: %w", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &lockFile{path: path}, nil
}

func (l *lockFile) release() error {
	err := os.Remove(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// processAlive probes pid with signal 0. On this platform FindProcess
// always succeeds, so only the signal result matters.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
