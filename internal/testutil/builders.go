package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
)

// ManifestBuilder builds plugin manifests for tests.
type ManifestBuilder struct {
	m manifest.Manifest
}

// NewManifestBuilder starts a valid Lua plugin manifest for id.
func NewManifestBuilder(id string) *ManifestBuilder {
	return &ManifestBuilder{
		m: manifest.Manifest{
			ID:           id,
			Name:         id,
			Version:      "1.0.0",
			Main:         "main.lua",
			LokusVersion: ">=1.0.0",
		},
	}
}

// WithVersion sets the plugin version.
func (b *ManifestBuilder) WithVersion(version string) *ManifestBuilder {
	b.m.Version = version
	return b
}

// WithMain sets the entry point.
func (b *ManifestBuilder) WithMain(main string) *ManifestBuilder {
	b.m.Main = main
	return b
}

// WithLokusVersion sets the required host range.
func (b *ManifestBuilder) WithLokusVersion(constraint string) *ManifestBuilder {
	b.m.LokusVersion = constraint
	return b
}

// WithDescription sets the description.
func (b *ManifestBuilder) WithDescription(desc string) *ManifestBuilder {
	b.m.Description = desc
	return b
}

// WithDependency adds a dependency on id satisfying constraint.
func (b *ManifestBuilder) WithDependency(id, constraint string) *ManifestBuilder {
	if b.m.Dependencies == nil {
		b.m.Dependencies = make(map[string]string)
	}
	b.m.Dependencies[id] = constraint
	return b
}

// WithPermissions appends permission tokens.
func (b *ManifestBuilder) WithPermissions(perms ...string) *ManifestBuilder {
	b.m.Permissions = append(b.m.Permissions, perms...)
	return b
}

// Build returns a copy of the manifest.
func (b *ManifestBuilder) Build() *manifest.Manifest {
	return b.m.Clone()
}

// Encode renders the manifest in the given format. Keys match the JSON
// field names in every format.
func (b *ManifestBuilder) Encode(format manifest.Format) ([]byte, error) {
	data, err := json.Marshal(b.m)
	if err != nil {
		return nil, err
	}
	if format == manifest.FormatJSON {
		return data, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	switch format {
	case manifest.FormatYAML:
		return yaml.Marshal(raw)
	case manifest.FormatTOML:
		return toml.Marshal(raw)
	default:
		return nil, fmt.Errorf("unsupported manifest format: %q", format)
	}
}

// FileName returns the manifest file name for format.
func FileName(format manifest.Format) string {
	switch format {
	case manifest.FormatYAML:
		return "plugin.yaml"
	case manifest.FormatTOML:
		return "plugin.toml"
	default:
		return "plugin.json"
	}
}
