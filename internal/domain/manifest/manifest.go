// Package manifest defines the plugin manifest schema, decodes it from the
// supported file formats and validates it.
package manifest

import (
	"sort"
	"strings"
)

// BuiltinScheme prefixes the main entry of plugins compiled into the host.
const BuiltinScheme = "builtin:"

// Manifest describes a plugin.
type Manifest struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Main         string            `json:"main"`
	LokusVersion string            `json:"lokusVersion"`
	Description  string            `json:"description,omitempty"`
	Author       string            `json:"author,omitempty"`
	License      string            `json:"license,omitempty"`
	Homepage     string            `json:"homepage,omitempty"`
	Repository   string            `json:"repository,omitempty"`
	Keywords     []string          `json:"keywords,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Permissions  []string          `json:"permissions,omitempty"`
	Engines      map[string]string `json:"engines,omitempty"`
	Contributes  map[string]any    `json:"contributes,omitempty"`
}

// IsBuiltin reports whether the plugin's code is compiled into the host.
func (m *Manifest) IsBuiltin() bool {
	return strings.HasPrefix(m.Main, BuiltinScheme)
}

// BuiltinName returns the catalog name of a builtin plugin.
func (m *Manifest) BuiltinName() string {
	return strings.TrimPrefix(m.Main, BuiltinScheme)
}

// DependencyIDs returns the ids of required plugins in sorted order.
func (m *Manifest) DependencyIDs() []string {
	ids := make([]string, 0, len(m.Dependencies))
	for id := range m.Dependencies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Equal reports whether two manifests declare the same plugin contents.
func (m *Manifest) Equal(other *Manifest) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.ID == other.ID &&
		m.Name == other.Name &&
		m.Version == other.Version &&
		m.Main == other.Main &&
		m.LokusVersion == other.LokusVersion &&
		equalStringMaps(m.Dependencies, other.Dependencies) &&
		equalStrings(m.Permissions, other.Permissions)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Keywords = cloneStrings(m.Keywords)
	clone.Permissions = cloneStrings(m.Permissions)
	clone.Dependencies = cloneStringMap(m.Dependencies)
	clone.Engines = cloneStringMap(m.Engines)
	if m.Contributes != nil {
		clone.Contributes = make(map[string]any, len(m.Contributes))
		for k, v := range m.Contributes {
			clone.Contributes[k] = v
		}
	}
	return &clone
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStringMaps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
