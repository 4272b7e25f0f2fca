// Package lockfile serializes access to a working directory across
// processes with an advisory flock. The overlay engine itself assumes a
// single caller; this is what makes two concurrent CLI invocations fail
// fast instead of corrupting backups.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked means another process currently holds the lock.
var ErrLocked = errors.New("already locked by another process")

// Lock is a held advisory lock. Release it when the mutating work is done;
// the kernel also drops it if the process dies.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive non-blocking lock on path, creating the file
// if needed.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. The file itself is left in place: removing it
// would race with another process acquiring on the same inode.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return l.file.Close()
}
