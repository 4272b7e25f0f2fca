// Package registry owns the set of known mods and their activation state.
// Mods live in a generation-checked arena; the keys it hands out are the
// provenance recorded inside merged overlay trees, so a removed mod's key
// can never point at a mod that later reused its slot.
package registry

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"github.com/modulate-dev/modulate/internal/arena"
	"github.com/modulate-dev/modulate/internal/tree"
)

var (
	// ErrDirNotFound means a mod root path does not exist or is not a directory.
	ErrDirNotFound = errors.New("mod directory not found")
	// ErrUnknownMod means no registered mod has the given uuid.
	ErrUnknownMod = errors.New("unknown mod")
	// ErrDuplicateMod means a mod with the same uuid is already registered.
	ErrDuplicateMod = errors.New("mod already registered")
	// ErrModActive means the operation requires the mod to be inactive.
	ErrModActive = errors.New("mod is active")
	// ErrModInactive means the operation requires the mod to be active.
	ErrModInactive = errors.New("mod is not active")
	// ErrInvalidOrder means a reorder request is not a permutation of the
	// currently active set.
	ErrInvalidOrder = errors.New("order is not a permutation of the active mods")
)

// Mod is one registered source tree: its descriptor, its root directory and
// the raw tree scanned from it.
type Mod struct {
	Meta Metadata
	Dir  string
	Root *tree.Node
}

// Load reads the descriptor and scans the tree of the mod rooted at dir.
func Load(dir string) (*Mod, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrDirNotFound)
	}
	meta, err := readMetadata(dir)
	if err != nil {
		return nil, err
	}
	root, err := tree.Scan(osfs.New(dir), DescriptorName)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return &Mod{Meta: meta, Dir: dir, Root: root}, nil
}

// Registry tracks registered mods and the priority order of the active ones.
// All mutations are in-memory intent: nothing touches the working directory
// until the overlay manager synchronizes.
type Registry struct {
	mods   arena.Arena[*Mod]
	byUUID map[uuid.UUID]arena.Key

	// active is ordered lowest priority first: during a merge, later
	// entries overwrite earlier ones. Activating a mod appends it, making
	// the most recently activated mod the highest priority.
	active   []arena.Key
	inactive []arena.Key
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byUUID: map[uuid.UUID]arena.Key{}}
}

// Add loads the mod rooted at dir and registers it as inactive. Returns the
// mod's uuid from its descriptor.
func (r *Registry) Add(dir string) (uuid.UUID, error) {
	mod, err := Load(dir)
	if err != nil {
		return uuid.Nil, err
	}
	if _, ok := r.byUUID[mod.Meta.UUID]; ok {
		return uuid.Nil, fmt.Errorf("%s: %w", mod.Meta.UUID, ErrDuplicateMod)
	}
	key := r.mods.Insert(mod)
	r.byUUID[mod.Meta.UUID] = key
	r.inactive = append(r.inactive, key)
	return mod.Meta.UUID, nil
}

// Remove unregisters an inactive mod.
func (r *Registry) Remove(id uuid.UUID) error {
	key, ok := r.byUUID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownMod)
	}
	if indexOf(r.active, key) >= 0 {
		return fmt.Errorf("%s: %w", id, ErrModActive)
	}
	r.inactive = without(r.inactive, key)
	r.mods.Remove(key)
	delete(r.byUUID, id)
	return nil
}

// Activate moves a mod to the end of the active list, making it the highest
// priority layer until another mod is activated after it.
func (r *Registry) Activate(id uuid.UUID) error {
	key, ok := r.byUUID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownMod)
	}
	if indexOf(r.active, key) >= 0 {
		return fmt.Errorf("%s: %w", id, ErrModActive)
	}
	r.inactive = without(r.inactive, key)
	r.active = append(r.active, key)
	return nil
}

// Deactivate moves an active mod back to the inactive set.
func (r *Registry) Deactivate(id uuid.UUID) error {
	key, ok := r.byUUID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownMod)
	}
	if indexOf(r.active, key) < 0 {
		return fmt.Errorf("%s: %w", id, ErrModInactive)
	}
	r.active = without(r.active, key)
	r.inactive = append(r.inactive, key)
	return nil
}

// Reorder replaces the active priority order. ids must list every active mod
// exactly once, lowest priority first. Ordering by uuid rather than position
// keeps a reorder valid regardless of how the active list shifted since the
// caller last looked at it.
func (r *Registry) Reorder(ids []uuid.UUID) error {
	if len(ids) != len(r.active) {
		return fmt.Errorf("%w: got %d ids, %d active", ErrInvalidOrder, len(ids), len(r.active))
	}
	seen := make(map[arena.Key]bool, len(ids))
	next := make([]arena.Key, 0, len(ids))
	for _, id := range ids {
		key, ok := r.byUUID[id]
		if !ok || indexOf(r.active, key) < 0 {
			return fmt.Errorf("%w: %s is not active", ErrInvalidOrder, id)
		}
		if seen[key] {
			return fmt.Errorf("%w: %s listed twice", ErrInvalidOrder, id)
		}
		seen[key] = true
		next = append(next, key)
	}
	r.active = next
	return nil
}

// Active returns metadata for the active mods, lowest priority first.
func (r *Registry) Active() []Metadata {
	return r.metadataOf(r.active)
}

// Inactive returns metadata for the inactive mods in registration order.
func (r *Registry) Inactive() []Metadata {
	return r.metadataOf(r.inactive)
}

func (r *Registry) metadataOf(keys []arena.Key) []Metadata {
	out := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		if mod, ok := r.mods.Get(key); ok {
			out = append(out, mod.Meta)
		}
	}
	return out
}

// Layers returns the active mods as merge layers, lowest priority first.
func (r *Registry) Layers() []tree.Layer {
	layers := make([]tree.Layer, 0, len(r.active))
	for _, key := range r.active {
		mod, ok := r.mods.Get(key)
		if !ok {
			continue
		}
		layers = append(layers, tree.Layer{Key: key, Root: mod.Root})
	}
	return layers
}

// RootDir resolves a provenance key to the mod's root directory. Used by the
// deployment executor to locate the file a hard link points at.
func (r *Registry) RootDir(key arena.Key) (string, bool) {
	mod, ok := r.mods.Get(key)
	if !ok {
		return "", false
	}
	return mod.Dir, true
}

// KeyOf returns the arena key for a registered mod.
func (r *Registry) KeyOf(id uuid.UUID) (arena.Key, bool) {
	key, ok := r.byUUID[id]
	return key, ok
}

// UUIDOf returns the uuid behind a provenance key.
func (r *Registry) UUIDOf(key arena.Key) (uuid.UUID, bool) {
	mod, ok := r.mods.Get(key)
	if !ok {
		return uuid.Nil, false
	}
	return mod.Meta.UUID, true
}

func indexOf(keys []arena.Key, key arena.Key) int {
	for i, k := range keys {
		if k == key {
			return i
		}
	}
	return -1
}

func without(keys []arena.Key, key arena.Key) []arena.Key {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
