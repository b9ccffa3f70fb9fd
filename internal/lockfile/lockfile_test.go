package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	if want := fmt.Sprintf("pid=%d\n", os.Getpid()); string(content) != want {
		t.Errorf("lock file content = %q, want %q", content, want)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir)
	if err == nil {
		second.Release()
		t.Fatal("second Acquire succeeded while the directory was locked")
	}
	var lerr *LockError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LockError, got %T: %v", err, err)
	}
	if lerr.HolderPID != os.Getpid() || !lerr.Running {
		t.Errorf("holder = %d running=%v, want %d running", lerr.HolderPID, lerr.Running, os.Getpid())
	}
	if lerr.Unwrap() == nil {
		t.Error("LockError should wrap the flock error")
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("re-Acquire failed: %v", err)
	}
	again.Release()
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]int{
		"pid=4242\n": 4242,
		"":           0,
		"garbage":    0,
		"pid=abc":    0,
	}
	for content, want := range cases {
		path := filepath.Join(dir, "lock")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if got := readPID(path); got != want {
			t.Errorf("readPID(%q) = %d, want %d", content, got, want)
		}
	}
	if got := readPID(filepath.Join(dir, "missing")); got != 0 {
		t.Errorf("readPID(missing) = %d, want 0", got)
	}
}
