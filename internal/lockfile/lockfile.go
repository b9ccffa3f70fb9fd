// Package lockfile guards a LeadPipe state directory against a second running instance.
// The SQLite application database and the whatsmeow session both live there and neither
// tolerates two writers. The flock is dropped by the kernel when the process dies.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is created inside the guarded directory.
const LockFileName = "leadpipe.lock"

// Lock is a held directory lock.
type Lock struct {
	file *os.File
	path string
}

// LockError reports a directory already held by another process.
type LockError struct {
	LockPath  string
	HolderPID int
	Running   bool
	Cause     error
}

func (e *LockError) Error() string {
	holder := "unknown process"
	if e.HolderPID > 0 {
		state := "not running, stale lock"
		if e.Running {
			state = "running"
		}
		holder = fmt.Sprintf("pid %d (%s)", e.HolderPID, state)
	}
	return fmt.Sprintf("state directory already in use by %s; lock file %s", holder, e.LockPath)
}

func (e *LockError) Unwrap() error { return e.Cause }

// Acquire takes an exclusive, non-blocking lock on dir, creating it when missing.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, LockFileName)
	// O_TRUNC would wipe the holder's pid before we know we own the lock.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lerr := &LockError{LockPath: path, Cause: err}
		lerr.HolderPID = readPID(path)
		lerr.Running = lerr.HolderPID > 0 && processRunning(lerr.HolderPID)
		slog.Error("Acquire lock failed", "lock_path", path, "holder_pid", lerr.HolderPID)
		return nil, lerr
	}

	if err := file.Truncate(0); err == nil {
		_, err = file.WriteAt([]byte("pid="+strconv.Itoa(os.Getpid())+"\n"), 0)
		if err != nil {
			slog.Warn("Acquire could not record pid", "error", err, "lock_path", path)
		}
	}
	slog.Info("Acquire lock succeeded", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Release unlocks and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	// Remove while still holding the lock so a waiting instance never sees our pid.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	l.file = nil
	slog.Debug("Release lock", "lock_path", l.path)
	return errors.Join(errs...)
}

// readPID returns the pid recorded in a lock file, or 0.
func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	_, after, ok := strings.Cut(string(data), "pid=")
	if !ok {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(after))
	if err != nil {
		return 0
	}
	return pid
}

// processRunning probes pid with signal 0.
func processRunning(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
