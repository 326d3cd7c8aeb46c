// Package testutil provides fixtures and assertions shared by lokus tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
)

// WriteTempFile writes content to a file in the specified directory.
func WriteTempFile(t *testing.T, dir, filename, content string) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err, "failed to write temp file: %s", filename)

	return path
}

// WriteTempDir creates a subdirectory in the temp directory.
func WriteTempDir(t *testing.T, dir, dirname string) string {
	t.Helper()

	path := filepath.Join(dir, dirname)
	err := os.MkdirAll(path, 0o755)
	require.NoError(t, err, "failed to create temp subdirectory: %s", dirname)

	return path
}

// PluginFixture describes a plugin directory written by WritePlugin.
type PluginFixture struct {
	Manifest *ManifestBuilder
	Format   manifest.Format
	// Files maps paths relative to the plugin directory to their content.
	Files map[string]string
}

// WritePlugin writes the fixture into root/<id> and returns the directory.
func WritePlugin(t *testing.T, root string, fx PluginFixture) string {
	t.Helper()

	m := fx.Manifest.Build()
	dir := WriteTempDir(t, root, m.ID)
	format := fx.Format
	if format == "" {
		format = manifest.FormatJSON
	}
	data, err := fx.Manifest.Encode(format)
	require.NoError(t, err, "failed to encode manifest for %s", m.ID)
	WriteTempFile(t, dir, FileName(format), string(data))

	for name, content := range fx.Files {
		WriteTempFile(t, dir, filepath.FromSlash(name), content)
	}
	return dir
}

// WriteLuaPlugin writes a single-file Lua plugin.
func WriteLuaPlugin(t *testing.T, root string, b *ManifestBuilder, script string) string {
	t.Helper()
	return WritePlugin(t, root, PluginFixture{
		Manifest: b,
		Files:    map[string]string{b.Build().Main: script},
	})
}
