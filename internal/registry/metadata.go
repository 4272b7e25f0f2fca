package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// DescriptorName is the reserved descriptor filename at a mod's root. It is
// excluded from tree scans so it never deploys into the working directory.
const DescriptorName = "mod.toml"

var (
	// ErrMetadataMissing means the mod directory has no descriptor file.
	ErrMetadataMissing = errors.New("mod descriptor missing")
	// ErrMetadataInvalid means the descriptor exists but cannot be used.
	ErrMetadataInvalid = errors.New("mod descriptor invalid")
)

// Metadata is the parsed contents of a mod.toml descriptor.
type Metadata struct {
	Name    string          `toml:"name"`
	Version *semver.Version `toml:"version"`
	UUID    uuid.UUID       `toml:"uuid"`
}

// readMetadata loads and validates the descriptor of the mod rooted at dir.
func readMetadata(dir string) (Metadata, error) {
	var meta Metadata

	raw, err := os.ReadFile(filepath.Join(dir, DescriptorName))
	if errors.Is(err, os.ErrNotExist) {
		return meta, fmt.Errorf("%s: %w", dir, ErrMetadataMissing)
	}
	if err != nil {
		return meta, fmt.Errorf("read descriptor: %w", err)
	}

	if err := toml.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("%w: %v", ErrMetadataInvalid, err)
	}
	if meta.Name == "" {
		return meta, fmt.Errorf("%w: name is required", ErrMetadataInvalid)
	}
	if meta.Version == nil {
		return meta, fmt.Errorf("%w: version is required", ErrMetadataInvalid)
	}
	if meta.UUID == uuid.Nil {
		return meta, fmt.Errorf("%w: uuid is required", ErrMetadataInvalid)
	}
	return meta, nil
}
