package tree

import (
	"fmt"
	"path"

	"github.com/modulate-dev/modulate/internal/arena"
)

// Layer pairs a mod's raw tree with the arena key used to tag the files it
// contributes.
type Layer struct {
	Key  arena.Key
	Root *Node
}

// Merge folds layers into one provenance-annotated tree. Layers are applied
// in slice order, lowest priority first: a later layer's file replaces an
// earlier layer's file at the same path, and directories are merged by name.
// Every inserted subtree is a deep copy tagged with its layer's key, so the
// result shares no nodes with the inputs.
//
// A path that is a file in one layer and a directory in another has no
// defined merge and returns ErrPathTypeConflict.
func Merge(layers []Layer) (*Sourced, error) {
	root := NewRoot()
	for _, layer := range layers {
		if err := root.overwrite(layer.Root, layer.Key, ""); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// overwrite merges the raw subtree n into s. s is exclusively owned and
// mutated in place; n is read-only and never aliased into the result.
func (s *Sourced) overwrite(n *Node, source arena.Key, at string) error {
	if s.IsDir() != n.IsDir() {
		return fmt.Errorf("merge %q: %w", at, ErrPathTypeConflict)
	}
	if !n.IsDir() {
		// Same path, both files: last writer wins.
		s.Source = source
		return nil
	}
	for _, name := range sortedNames(n.Children) {
		incoming := n.Children[name]
		if existing, ok := s.Children[name]; ok {
			if err := existing.overwrite(incoming, source, path.Join(at, name)); err != nil {
				return err
			}
			continue
		}
		s.Children[name] = fromNode(incoming, source)
	}
	return nil
}
