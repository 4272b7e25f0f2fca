// Package tree implements the overlay composition core: scanning a mod
// directory into a raw tree, folding an ordered stack of raw trees into one
// provenance-annotated tree, and diffing two annotated trees into the
// minimal ordered operation list that turns one into the other.
package tree

import (
	"errors"
	"io/fs"
	"path"
	"sort"

	"github.com/modulate-dev/modulate/internal/arena"
)

// ErrPathTypeConflict is returned when the same logical path is a regular
// file in one tree and a directory in another. The overlay model has no
// merge for that shape, so it is rejected instead of resolved.
var ErrPathTypeConflict = errors.New("path is both a file and a directory")

// Node is one scanned filesystem entry owned by a single mod: a directory
// with named children, or a regular file. The Mode field only distinguishes
// the two — permissions and link targets are not modeled. Nodes are built
// once by Scan and never mutated.
type Node struct {
	Name     string
	Mode     fs.FileMode      // fs.ModeDir for directories, 0 for regular files
	Children map[string]*Node // directories only
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.Mode.IsDir()
}

// Sourced is a node in the merged overlay tree. File leaves record which mod
// currently owns the path. The tree owns all of its nodes: nothing is shared
// with the raw trees it was merged from.
type Sourced struct {
	Name     string
	Mode     fs.FileMode
	Source   arena.Key           // files only: the mod whose copy occupies the path
	Children map[string]*Sourced // directories only
}

// NewRoot returns an empty merged tree. The root directory is synthetic and
// is never materialized on disk.
func NewRoot() *Sourced {
	return &Sourced{
		Name:     "root",
		Mode:     fs.ModeDir,
		Children: map[string]*Sourced{},
	}
}

// IsDir reports whether the node is a directory.
func (s *Sourced) IsDir() bool {
	return s.Mode.IsDir()
}

// fromNode deep-copies a raw subtree, tagging every file leaf with source.
func fromNode(n *Node, source arena.Key) *Sourced {
	if !n.IsDir() {
		return &Sourced{Name: n.Name, Source: source}
	}
	children := make(map[string]*Sourced, len(n.Children))
	for name, child := range n.Children {
		children[name] = fromNode(child, source)
	}
	return &Sourced{Name: n.Name, Mode: fs.ModeDir, Children: children}
}

// Walk visits every node below s in depth-first, sorted-name order. The root
// itself is not visited. Paths are slash-separated and relative to the root.
func (s *Sourced) Walk(fn func(path string, node *Sourced)) {
	s.walk("", fn)
}

func (s *Sourced) walk(prefix string, fn func(string, *Sourced)) {
	for _, name := range sortedNames(s.Children) {
		child := s.Children[name]
		p := path.Join(prefix, name)
		fn(p, child)
		if child.IsDir() {
			child.walk(p, fn)
		}
	}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
