// Package lock implements the exclusive single-writer lock of spec.md
// §5: "On startup it acquires an exclusive lock at .sod/lock
// (create-exclusive); concurrent invocations fail with a lock error
// rather than corrupting state. The lock is released on all exit
// paths." There is no direct teacher analog — the teacher relies on
// BadgerDB's own process-level file lock rather than a single
// invocation-scoped lock file — so this package is new code grounded
// directly in the spec's explicit requirement.
package lock

import (
	"fmt"
	"os"

	"sod/internal/errs"
)

// Lock holds an acquired ".sod/lock" for the lifetime of one CLI
// invocation.
type Lock struct {
	path string
	f    *os.File
}

// Acquire creates path exclusively, failing with *errs.Error
// (KindLockContention) if another invocation already holds it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errs.LockContention(path)
		}
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &Lock{path: path, f: f}, nil
}

// Release closes and removes the lock file. Safe to call from a
// deferred cleanup on every exit path, including after a fatal error.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	closeErr := l.f.Close()
	removeErr := os.Remove(l.path)
	if closeErr != nil {
		return closeErr
	}
	return removeErr
}
