// Package deploy applies an operation list produced by the tree differ to a
// real working directory. Files are placed as hard links into the mod that
// provides them, and any file that existed at a path before the overlay
// first claimed it is preserved as a hard link in a shadow backup directory,
// to be restored when no mod claims the path anymore.
package deploy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/modulate-dev/modulate/internal/arena"
	"github.com/modulate-dev/modulate/internal/tree"
)

// SourceResolver maps a provenance key to the mod's root directory on disk.
// The second return is false for a key the registry no longer knows.
type SourceResolver func(key arena.Key) (string, bool)

// OpError reports a failed operation. Operations before Index were fully
// applied; the one at Index and everything after it were not. The caller
// decides whether to retry from the recorded position or fall back to the
// still-intact backups.
type OpError struct {
	Op    tree.Op
	Index int
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %q failed after %d applied operations: %v", e.Op.Kind, e.Op.Path, e.Index, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Executor applies operations to one working directory. It assumes exclusive
// ownership of both the working and the backup directory: no other writer
// may touch either while Apply runs.
type Executor struct {
	workDir string
	bakDir  string
	resolve SourceResolver
	logger  *log.Logger
}

// New returns an executor rooted at workDir with backups under bakDir. Both
// directories must already exist; the overlay manager creates them.
func New(workDir, bakDir string, resolve SourceResolver, logger *log.Logger) *Executor {
	return &Executor{
		workDir: workDir,
		bakDir:  bakDir,
		resolve: resolve,
		logger:  logger,
	}
}

// Apply runs ops strictly in order and returns how many completed. On the
// first failure it stops and returns a *OpError wrapping the cause; earlier
// operations stay applied, so the working directory is always in the defined
// state "ops[0:n] applied".
func (e *Executor) Apply(ops []tree.Op) (int, error) {
	for i, op := range ops {
		if err := e.apply(op); err != nil {
			return i, &OpError{Op: op, Index: i, Err: err}
		}
	}
	return len(ops), nil
}

func (e *Executor) apply(op tree.Op) error {
	working := filepath.Join(e.workDir, filepath.FromSlash(op.Path))
	backup := filepath.Join(e.bakDir, filepath.FromSlash(op.Path))

	switch op.Kind {
	case tree.OpCreateDir:
		e.logger.Info("creating dir", "path", op.Path)
		return os.MkdirAll(working, 0o755)

	case tree.OpRemoveDir:
		entries, err := os.ReadDir(working)
		if err != nil {
			return fmt.Errorf("read dir: %w", err)
		}
		if len(entries) > 0 {
			// Another layer (or the user) still has entries here.
			e.logger.Debug("leaving non-empty dir in place", "path", op.Path)
			return nil
		}
		e.logger.Info("removing dir", "path", op.Path)
		return os.Remove(working)

	case tree.OpCreateFile:
		source, err := e.sourceFile(op)
		if err != nil {
			return err
		}
		if exists(working) {
			if !exists(backup) {
				e.logger.Debug("backing up pre-overlay file", "path", op.Path)
				if err := linkInto(working, backup); err != nil {
					return fmt.Errorf("create backup: %w", err)
				}
			}
			if err := os.Remove(working); err != nil {
				return fmt.Errorf("remove existing file: %w", err)
			}
		}
		e.logger.Info("linking file", "path", op.Path, "from", source)
		if err := linkInto(source, working); err != nil {
			return fmt.Errorf("link source file: %w", err)
		}
		return nil

	case tree.OpRemoveFile:
		e.logger.Info("removing file", "path", op.Path)
		if err := os.Remove(working); err != nil {
			return fmt.Errorf("remove file: %w", err)
		}
		if exists(backup) {
			e.logger.Debug("restoring backup", "path", op.Path)
			if err := os.Link(backup, working); err != nil {
				return fmt.Errorf("restore backup: %w", err)
			}
			if err := os.Remove(backup); err != nil {
				return fmt.Errorf("drop backup entry: %w", err)
			}
		}
		return nil

	case tree.OpChangeSource:
		source, err := e.sourceFile(op)
		if err != nil {
			return err
		}
		e.logger.Info("changing source", "path", op.Path, "from", source)
		if exists(working) {
			if err := os.Remove(working); err != nil {
				return fmt.Errorf("remove current link: %w", err)
			}
		}
		// The path is overlay-owned: the backup, if any, stays untouched.
		if err := linkInto(source, working); err != nil {
			return fmt.Errorf("link new source: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown operation kind %v", op.Kind)
	}
}

// sourceFile resolves the on-disk file a CreateFile/ChangeSource op links to.
func (e *Executor) sourceFile(op tree.Op) (string, error) {
	root, ok := e.resolve(op.Source)
	if !ok {
		return "", fmt.Errorf("no mod registered for source of %q", op.Path)
	}
	return filepath.Join(root, filepath.FromSlash(op.Path)), nil
}

// linkInto hard-links src to dst, creating dst's parent directories first.
// A cross-device link error surfaces as-is: downgrading to a copy would
// silently break the shared-inode contract.
func linkInto(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Link(src, dst)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
