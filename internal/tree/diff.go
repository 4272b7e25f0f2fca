package tree

import (
	"fmt"
	"path"

	"github.com/modulate-dev/modulate/internal/arena"
)

// OpKind enumerates the filesystem operations the diff can emit.
type OpKind uint8

const (
	OpCreateDir OpKind = iota
	OpRemoveDir
	OpCreateFile
	OpRemoveFile
	OpChangeSource
)

func (k OpKind) String() string {
	switch k {
	case OpCreateDir:
		return "create-dir"
	case OpRemoveDir:
		return "remove-dir"
	case OpCreateFile:
		return "create-file"
	case OpRemoveFile:
		return "remove-file"
	case OpChangeSource:
		return "change-source"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Op is one step of a deployment: a kind plus the slash-separated path it
// applies to, relative to the overlay root. Source is set for OpCreateFile
// and OpChangeSource only.
type Op struct {
	Kind   OpKind
	Path   string
	Source arena.Key
}

// Diff compares two merged trees rooted at the same logical path and returns
// the ordered operations that turn old into new. The list is deterministic
// (children are visited in sorted name order) and dependency-respecting: a
// directory's creation precedes operations on its children, and children's
// removals precede their directory's removal. Identical file provenance
// emits nothing, so Diff(t, t) is empty.
//
// A name that is a file on one side and a directory on the other returns
// ErrPathTypeConflict; overlay updates do not change a path's type.
func Diff(old, new *Sourced) ([]Op, error) {
	var ops []Op
	if err := diffNodes(old, new, "", &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func diffNodes(old, new *Sourced, at string, ops *[]Op) error {
	switch {
	case old.IsDir() && new.IsDir():
		for _, name := range sortedNames(old.Children) {
			oldChild := old.Children[name]
			childPath := path.Join(at, name)
			if newChild, ok := new.Children[name]; ok {
				if err := diffNodes(oldChild, newChild, childPath, ops); err != nil {
					return err
				}
				continue
			}
			emitRemove(oldChild, childPath, ops)
		}
		for _, name := range sortedNames(new.Children) {
			if _, ok := old.Children[name]; !ok {
				emitCreate(new.Children[name], path.Join(at, name), ops)
			}
		}
		return nil
	case !old.IsDir() && !new.IsDir():
		if old.Source != new.Source {
			*ops = append(*ops, Op{Kind: OpChangeSource, Path: at, Source: new.Source})
		}
		return nil
	default:
		return fmt.Errorf("diff %q: %w", at, ErrPathTypeConflict)
	}
}

// emitCreate emits the creation of a whole subtree, directories before their
// children so the executor can apply the list in order.
func emitCreate(n *Sourced, at string, ops *[]Op) {
	if !n.IsDir() {
		*ops = append(*ops, Op{Kind: OpCreateFile, Path: at, Source: n.Source})
		return
	}
	*ops = append(*ops, Op{Kind: OpCreateDir, Path: at})
	for _, name := range sortedNames(n.Children) {
		emitCreate(n.Children[name], path.Join(at, name), ops)
	}
}

// emitRemove emits the removal of a whole subtree, children before their
// directory so directories are empty by the time they are removed.
func emitRemove(n *Sourced, at string, ops *[]Op) {
	if !n.IsDir() {
		*ops = append(*ops, Op{Kind: OpRemoveFile, Path: at})
		return
	}
	for _, name := range sortedNames(n.Children) {
		emitRemove(n.Children[name], path.Join(at, name), ops)
	}
	*ops = append(*ops, Op{Kind: OpRemoveDir, Path: at})
}
