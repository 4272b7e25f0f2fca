package lockfile

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modulate.lock")

	l, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.Path())
	assert.FileExists(t, path)

	require.NoError(t, l.Release())

	// Reacquirable after release.
	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestAcquireCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "modulate.lock")
	l, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

// helperLock keeps the helper process's lock reachable so the *os.File
// finalizer cannot close (and thereby release) it.
var helperLock *Lock

// Flock contention is between processes, so this test re-runs the test
// binary with a helper flag that acquires and holds the lock.
func TestAcquireContended(t *testing.T) {
	if os.Getenv("LOCKFILE_HELPER") == "1" {
		path := os.Getenv("LOCKFILE_PATH")
		var err error
		helperLock, err = Acquire(path)
		if err != nil {
			os.Exit(2)
		}
		// Signal readiness, then hold until killed.
		if err := os.WriteFile(path+".ready", nil, 0o644); err != nil {
			os.Exit(2)
		}
		// A bare select{} would trip the runtime deadlock detector and
		// kill the helper, releasing the lock; sleep instead.
		for {
			time.Sleep(time.Hour)
		}
	}

	path := filepath.Join(t.TempDir(), "modulate.lock")
	cmd := exec.Command(os.Args[0], "-test.run", "TestAcquireContended")
	cmd.Env = append(os.Environ(), "LOCKFILE_HELPER=1", "LOCKFILE_PATH="+path)
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}()

	// Wait for the helper to hold the lock.
	ready := path + ".ready"
	for i := 0; i < 200; i++ {
		if _, err := os.Stat(ready); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.FileExists(t, ready, "helper process never acquired the lock")

	_, err := Acquire(path)
	assert.ErrorIs(t, err, ErrLocked)
}
