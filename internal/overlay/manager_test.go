package overlay

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modulate-dev/modulate/internal/registry"
)

type env struct {
	work  string
	bak   string
	state string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	base := t.TempDir()
	e := &env{
		work:  filepath.Join(base, "working"),
		bak:   filepath.Join(base, "bak"),
		state: filepath.Join(base, "state.json"),
	}
	require.NoError(t, os.MkdirAll(e.work, 0o755))
	return e
}

func (e *env) manager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Options{
		WorkDir:   e.work,
		BakDir:    e.bak,
		StatePath: e.state,
		Logger:    log.NewWithOptions(io.Discard, log.Options{}),
	})
	require.NoError(t, err)
	return m
}

func writeMod(t *testing.T, name string, files map[string]string) (string, uuid.UUID) {
	t.Helper()
	dir := t.TempDir()
	id := uuid.New()
	desc := fmt.Sprintf("name = %q\nversion = \"1.0.0\"\nuuid = %q\n", name, id)
	require.NoError(t, os.WriteFile(filepath.Join(dir, registry.DescriptorName), []byte(desc), 0o644))
	for p, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir, id
}

// snapshot reads every file under dir into a rel-path -> content map.
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestSyncScenario(t *testing.T) {
	e := newEnv(t)
	m := e.manager(t)

	dir1, id1 := writeMod(t, "mod1", map[string]string{"a.txt": "a", "common/x.txt": "x-from-mod1"})
	dir2, id2 := writeMod(t, "mod2", map[string]string{"b.txt": "b", "common/x.txt": "x-from-mod2"})

	for _, dir := range []string{dir1, dir2} {
		_, err := m.Add(dir)
		require.NoError(t, err)
	}
	require.NoError(t, m.Enable(id1))
	require.NoError(t, m.Enable(id2)) // mod2 higher priority
	require.NoError(t, m.Sync())

	assert.Equal(t, map[string]string{
		"a.txt":        "a",
		"b.txt":        "b",
		"common/x.txt": "x-from-mod2",
	}, snapshot(t, e.work))

	// x.txt must be a hard link into mod2, not a copy.
	src, err := os.Stat(filepath.Join(dir2, "common", "x.txt"))
	require.NoError(t, err)
	dst, err := os.Stat(filepath.Join(e.work, "common", "x.txt"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(src, dst))

	// Deactivating mod2 re-sources the shared file and drops b.txt.
	require.NoError(t, m.Disable(id2))
	require.NoError(t, m.Sync())

	assert.Equal(t, map[string]string{
		"a.txt":        "a",
		"common/x.txt": "x-from-mod1",
	}, snapshot(t, e.work))
}

func TestSyncIsIdempotent(t *testing.T) {
	e := newEnv(t)
	m := e.manager(t)

	dir, id := writeMod(t, "mod", map[string]string{"a.txt": "a"})
	_, err := m.Add(dir)
	require.NoError(t, err)
	require.NoError(t, m.Enable(id))
	require.NoError(t, m.Sync())

	before := snapshot(t, e.work)
	require.NoError(t, m.Sync())
	assert.Equal(t, before, snapshot(t, e.work))
}

func TestSyncConvergence(t *testing.T) {
	dir1, id1 := writeMod(t, "mod1", map[string]string{"a.txt": "a", "common/x.txt": "x1"})
	dir2, id2 := writeMod(t, "mod2", map[string]string{"b.txt": "b", "common/x.txt": "x2"})

	// Path A: empty -> mod1 -> mod1+mod2.
	eA := newEnv(t)
	mA := eA.manager(t)
	for _, dir := range []string{dir1, dir2} {
		_, err := mA.Add(dir)
		require.NoError(t, err)
	}
	require.NoError(t, mA.Enable(id1))
	require.NoError(t, mA.Sync())
	require.NoError(t, mA.Enable(id2))
	require.NoError(t, mA.Sync())

	// Path B: empty -> mod1+mod2 directly.
	eB := newEnv(t)
	mB := eB.manager(t)
	for _, dir := range []string{dir1, dir2} {
		_, err := mB.Add(dir)
		require.NoError(t, err)
	}
	require.NoError(t, mB.Enable(id1))
	require.NoError(t, mB.Enable(id2))
	require.NoError(t, mB.Sync())

	assert.Equal(t, snapshot(t, eB.work), snapshot(t, eA.work))
}

func TestBackupRoundTripThroughManager(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.work, "config.ini"), []byte("user settings"), 0o644))
	original, err := os.Stat(filepath.Join(e.work, "config.ini"))
	require.NoError(t, err)

	m := e.manager(t)
	dir, id := writeMod(t, "mod", map[string]string{"config.ini": "modded settings"})
	_, err = m.Add(dir)
	require.NoError(t, err)
	require.NoError(t, m.Enable(id))
	require.NoError(t, m.Sync())
	assert.Equal(t, map[string]string{"config.ini": "modded settings"}, snapshot(t, e.work))

	require.NoError(t, m.Disable(id))
	require.NoError(t, m.Sync())

	restored, err := os.Stat(filepath.Join(e.work, "config.ini"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(original, restored), "restore must bring back the original inode")
	assert.Empty(t, snapshot(t, e.bak), "no residual backup entries")
}

func TestStatePersistsAcrossInstances(t *testing.T) {
	e := newEnv(t)
	m := e.manager(t)

	dir, id := writeMod(t, "mod", map[string]string{"a.txt": "a", "d/b.txt": "b"})
	_, err := m.Add(dir)
	require.NoError(t, err)
	require.NoError(t, m.Enable(id))
	require.NoError(t, m.Sync())

	// Fresh process: same state file.
	m2 := e.manager(t)
	active := m2.Active()
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].UUID)

	// The reloaded deployed tree matches disk, so syncing changes nothing.
	before := snapshot(t, e.work)
	require.NoError(t, m2.Sync())
	assert.Equal(t, before, snapshot(t, e.work))

	// And a disable in the new process cleans up what the old one deployed.
	require.NoError(t, m2.Disable(id))
	require.NoError(t, m2.Sync())
	assert.Empty(t, snapshot(t, e.work))
}

func TestSyncFailureDoesNotAdvanceDeployedTree(t *testing.T) {
	e := newEnv(t)
	m := e.manager(t)

	dir, id := writeMod(t, "mod", map[string]string{"a.txt": "a", "z.txt": "z"})
	_, err := m.Add(dir)
	require.NoError(t, err)
	require.NoError(t, m.Enable(id))

	// Sabotage: one source file disappears after scanning, so its hard
	// link fails mid-apply.
	require.NoError(t, os.Remove(filepath.Join(dir, "z.txt")))
	err = m.Sync()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deploy aborted")

	// Restore the source; the retry works off the unchanged deployed tree
	// and completes the deployment.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "z.txt"), []byte("z"), 0o644))
	require.NoError(t, m.Sync())
	assert.Equal(t, map[string]string{"a.txt": "a", "z.txt": "z"}, snapshot(t, e.work))
}

func TestNewMissingWorkDir(t *testing.T) {
	base := t.TempDir()
	_, err := New(Options{
		WorkDir: filepath.Join(base, "missing"),
		BakDir:  filepath.Join(base, "bak"),
	})
	assert.ErrorIs(t, err, ErrWorkDirNotFound)
}

func TestRenderTree(t *testing.T) {
	e := newEnv(t)
	m := e.manager(t)

	dir, id := writeMod(t, "shiny", map[string]string{"common/x.txt": "x"})
	_, err := m.Add(dir)
	require.NoError(t, err)
	require.NoError(t, m.Enable(id))
	require.NoError(t, m.Sync())

	var sb strings.Builder
	m.RenderTree(&sb)
	out := sb.String()
	assert.Contains(t, out, "common/")
	assert.Contains(t, out, "x.txt  (shiny)")
}
