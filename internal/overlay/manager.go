// Package overlay is the controller that keeps a working directory
// synchronized with the currently active mod set. It owns the deployed tree
// (its belief about what is on disk) and re-runs merge, diff and deploy on
// every Sync call; registry mutations stay in-memory intent until then.
package overlay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/modulate-dev/modulate/internal/deploy"
	"github.com/modulate-dev/modulate/internal/registry"
	"github.com/modulate-dev/modulate/internal/tree"
)

var (
	// ErrWorkDirNotFound means the configured working directory is missing.
	ErrWorkDirNotFound = errors.New("working directory not found")
	// ErrBackupDirUnavailable means the backup root could not be created.
	// Deploying without it would mean overwriting user files with no way
	// back, so this is always fatal.
	ErrBackupDirUnavailable = errors.New("backup directory unavailable")
)

// Options configures a Manager.
type Options struct {
	WorkDir   string
	BakDir    string
	StatePath string // "" disables persistence
	Logger    *log.Logger
}

// Manager is the single entry point for overlay mutations. It is not safe
// for concurrent use: one caller at a time, one instance per working
// directory (the CLI enforces the latter with a lock file).
type Manager struct {
	opts     Options
	registry *registry.Registry
	deployed *tree.Sourced
	logger   *log.Logger
}

// New validates the directories, creates the backup root and reloads any
// persisted state. With a fresh state file the deployed tree starts empty.
func New(opts Options) (*Manager, error) {
	info, err := os.Stat(opts.WorkDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", opts.WorkDir, ErrWorkDirNotFound)
	}
	if err := os.MkdirAll(opts.BakDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupDirUnavailable, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	m := &Manager{
		opts:     opts,
		registry: registry.New(),
		deployed: tree.NewRoot(),
		logger:   logger,
	}
	if err := m.loadState(); err != nil {
		return nil, err
	}
	return m, nil
}

// Add registers the mod rooted at dir as inactive.
func (m *Manager) Add(dir string) (uuid.UUID, error) {
	id, err := m.registry.Add(dir)
	if err != nil {
		return uuid.Nil, err
	}
	m.logger.Info("added mod", "uuid", id, "dir", dir)
	return id, m.saveState()
}

// Remove unregisters an inactive mod.
func (m *Manager) Remove(id uuid.UUID) error {
	if err := m.registry.Remove(id); err != nil {
		return err
	}
	m.logger.Info("removed mod", "uuid", id)
	return m.saveState()
}

// Enable activates a mod with the highest priority.
func (m *Manager) Enable(id uuid.UUID) error {
	if err := m.registry.Activate(id); err != nil {
		return err
	}
	m.logger.Info("enabled mod", "uuid", id)
	return m.saveState()
}

// Disable deactivates a mod.
func (m *Manager) Disable(id uuid.UUID) error {
	if err := m.registry.Deactivate(id); err != nil {
		return err
	}
	m.logger.Info("disabled mod", "uuid", id)
	return m.saveState()
}

// Reorder replaces the active priority order, lowest first.
func (m *Manager) Reorder(ids []uuid.UUID) error {
	if err := m.registry.Reorder(ids); err != nil {
		return err
	}
	m.logger.Info("reordered active mods", "count", len(ids))
	return m.saveState()
}

// Active lists active mods, lowest priority first.
func (m *Manager) Active() []registry.Metadata {
	return m.registry.Active()
}

// Inactive lists inactive mods.
func (m *Manager) Inactive() []registry.Metadata {
	return m.registry.Inactive()
}

// Sync computes the merged tree of the active mods, diffs it against the
// deployed tree and applies the resulting operations. The deployed tree is
// only advanced when every operation succeeds, so after a partial failure
// the next Sync recomputes its diff from what is actually on disk minus the
// operations that completed — never from an assumed end state.
func (m *Manager) Sync() error {
	layers := m.registry.Layers()
	next, err := tree.Merge(layers)
	if err != nil {
		return fmt.Errorf("merge active mods: %w", err)
	}
	ops, err := tree.Diff(m.deployed, next)
	if err != nil {
		return fmt.Errorf("diff against deployed tree: %w", err)
	}
	m.logger.Info("synchronizing", "active", len(layers), "operations", len(ops))

	exec := deploy.New(m.opts.WorkDir, m.opts.BakDir, m.registry.RootDir, m.logger)
	applied, err := exec.Apply(ops)
	if err != nil {
		return fmt.Errorf("deploy aborted after %d of %d operations: %w", applied, len(ops), err)
	}

	m.deployed = next
	return m.saveState()
}

// RenderTree writes an indented listing of the deployed tree, with each
// file's owning mod next to it.
func (m *Manager) RenderTree(w io.Writer) {
	m.deployed.Walk(func(path string, node *tree.Sourced) {
		depth := strings.Count(path, "/")
		name := path[strings.LastIndex(path, "/")+1:]
		indent := strings.Repeat("  ", depth)
		if node.IsDir() {
			fmt.Fprintf(w, "%s%s/\n", indent, name)
			return
		}
		owner := "?"
		if id, ok := m.registry.UUIDOf(node.Source); ok {
			for _, meta := range m.registry.Active() {
				if meta.UUID == id {
					owner = meta.Name
					break
				}
			}
		}
		fmt.Fprintf(w, "%s%s  (%s)\n", indent, name, owner)
	})
}
