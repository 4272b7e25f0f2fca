package overlay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/modulate-dev/modulate/internal/tree"
)

// ErrStateCorrupt means the persisted state references mods or provenance
// that can no longer be resolved.
var ErrStateCorrupt = errors.New("state file corrupt")

// The state file makes the one-shot CLI usable across invocations: it
// records which mods are registered, the active priority order and the
// deployed tree. Provenance is stored per mod uuid because arena keys are
// only stable within one process; on load, mods are re-added (and their
// trees re-scanned) and saved uuids are rebound to the fresh keys.
type stateFile struct {
	Mods     []stateMod  `json:"mods"`
	Active   []uuid.UUID `json:"active"`
	Deployed *stateNode  `json:"deployed,omitempty"`
}

type stateMod struct {
	Dir string `json:"dir"`
}

type stateNode struct {
	Dir      bool                  `json:"dir,omitempty"`
	Source   uuid.UUID             `json:"source,omitempty"`
	Children map[string]*stateNode `json:"children,omitempty"`
}

func (m *Manager) saveState() error {
	if m.opts.StatePath == "" {
		return nil
	}

	var state stateFile
	for _, meta := range append(m.registry.Inactive(), m.registry.Active()...) {
		key, ok := m.registry.KeyOf(meta.UUID)
		if !ok {
			continue
		}
		dir, ok := m.registry.RootDir(key)
		if !ok {
			continue
		}
		state.Mods = append(state.Mods, stateMod{Dir: dir})
	}
	for _, meta := range m.registry.Active() {
		state.Active = append(state.Active, meta.UUID)
	}
	var err error
	if state.Deployed, err = m.encodeNode(m.deployed); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Atomic replace: temp file in the same dir, then rename.
	dir := filepath.Dir(m.opts.StatePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".modulate-state-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpName, m.opts.StatePath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (m *Manager) loadState() error {
	if m.opts.StatePath == "" {
		return nil
	}
	data, err := os.ReadFile(m.opts.StatePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	for _, mod := range state.Mods {
		if _, err := m.registry.Add(mod.Dir); err != nil {
			return fmt.Errorf("reload mod %s: %w", mod.Dir, err)
		}
	}
	for _, id := range state.Active {
		if err := m.registry.Activate(id); err != nil {
			return fmt.Errorf("%w: %v", ErrStateCorrupt, err)
		}
	}
	if state.Deployed != nil {
		deployed, err := m.decodeNode("root", state.Deployed)
		if err != nil {
			return err
		}
		m.deployed = deployed
	}
	return nil
}

// encodeNode translates a deployed tree into its serialized form, swapping
// arena keys for mod uuids.
func (m *Manager) encodeNode(node *tree.Sourced) (*stateNode, error) {
	if !node.IsDir() {
		id, ok := m.registry.UUIDOf(node.Source)
		if !ok {
			return nil, fmt.Errorf("%w: deployed file %q has unknown provenance", ErrStateCorrupt, node.Name)
		}
		return &stateNode{Source: id}, nil
	}
	out := &stateNode{Dir: true}
	if len(node.Children) > 0 {
		out.Children = make(map[string]*stateNode, len(node.Children))
	}
	for name, child := range node.Children {
		enc, err := m.encodeNode(child)
		if err != nil {
			return nil, err
		}
		out.Children[name] = enc
	}
	return out, nil
}

// decodeNode rebuilds a deployed tree, rebinding saved uuids to the arena
// keys issued during this load.
func (m *Manager) decodeNode(name string, node *stateNode) (*tree.Sourced, error) {
	if !node.Dir {
		key, ok := m.registry.KeyOf(node.Source)
		if !ok {
			return nil, fmt.Errorf("%w: deployed file %q owned by unregistered mod %s", ErrStateCorrupt, name, node.Source)
		}
		return &tree.Sourced{Name: name, Source: key}, nil
	}
	out := &tree.Sourced{Name: name, Mode: fs.ModeDir, Children: make(map[string]*tree.Sourced, len(node.Children))}
	for childName, child := range node.Children {
		dec, err := m.decodeNode(childName, child)
		if err != nil {
			return nil, err
		}
		out.Children[childName] = dec
	}
	return out, nil
}
