package tree

import (
	"errors"
	"fmt"
	"io/fs"

	billy "github.com/go-git/go-billy/v5"
)

// ErrNotDirectory is returned by Scan when the filesystem root is not a
// directory.
var ErrNotDirectory = errors.New("not a directory")

// Scan builds the raw tree of fsys, rooted at its top-level directory.
// Entries named skip are excluded at every level (the reserved mod
// descriptor file). The scan is a pure read: symlinks and special files are
// recorded like regular files, and no permissions are kept.
//
// Real mods are scanned through an osfs chroot; tests use memfs.
func Scan(fsys billy.Filesystem, skip string) (*Node, error) {
	if info, err := fsys.Stat("/"); err == nil && !info.IsDir() {
		return nil, ErrNotDirectory
	}
	return scanDir(fsys, "/", "root", skip)
}

func scanDir(fsys billy.Filesystem, dir, name, skip string) (*Node, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	children := make(map[string]*Node, len(entries))
	for _, entry := range entries {
		if entry.Name() == skip {
			continue
		}
		if entry.IsDir() {
			child, err := scanDir(fsys, fsys.Join(dir, entry.Name()), entry.Name(), skip)
			if err != nil {
				return nil, err
			}
			children[entry.Name()] = child
			continue
		}
		children[entry.Name()] = &Node{Name: entry.Name()}
	}
	return &Node{Name: name, Mode: fs.ModeDir, Children: children}, nil
}
