package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonManifest = `{
  "id": "word-count",
  "name": "Word Count",
  "version": "1.0.0",
  "main": "main.lua",
  "lokusVersion": ">=1.0.0",
  "author": {"name": "Lokus Team", "email": "team@example.com"},
  "repository": {"type": "git", "url": "https://example.com/word-count.git"},
  "dependencies": {"core-utils": "^1.0.0"},
  "permissions": ["editor:read"],
  "contributes": {"commands": [{"id": "word-count.count"}]}
}`

const yamlManifest = `
id: outline
name: Outline
version: 0.3.1
main: outline.wasm
lokusVersion: "^1.0.0"
permissions:
  - editor:read
  - ui:panels
`

const tomlManifest = `
id = "daily-notes"
name = "Daily Notes"
version = "2.0.0"
main = "builtin:daily-notes"
lokusVersion = ">=1.0.0"
permissions = ["write_files"]

[dependencies]
templates = "~1.4.0"
`

func TestParse_JSON(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(jsonManifest), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, "word-count", m.ID)
	assert.Equal(t, "Lokus Team", m.Author)
	assert.Equal(t, "https://example.com/word-count.git", m.Repository)
	assert.Equal(t, map[string]string{"core-utils": "^1.0.0"}, m.Dependencies)
	assert.Contains(t, m.Contributes, "commands")
}

func TestParse_YAML(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(yamlManifest), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "outline", m.ID)
	assert.Equal(t, "^1.0.0", m.LokusVersion)
	assert.Equal(t, []string{"editor:read", "ui:panels"}, m.Permissions)
	assert.Empty(t, m.Dependencies)
}

func TestParse_TOML(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(tomlManifest), FormatTOML)
	require.NoError(t, err)

	assert.True(t, m.IsBuiltin())
	assert.Equal(t, "~1.4.0", m.Dependencies["templates"])
}

func TestParse_ShapeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "dependencies not an object",
			data: `{"id":"a","name":"A","version":"1.0.0","main":"m.lua","lokusVersion":"*","dependencies":["b"]}`,
			want: "dependencies must be an object",
		},
		{
			name: "numeric version",
			data: `{"id":"a","name":"A","version":1,"main":"m.lua","lokusVersion":"*"}`,
			want: "version must be a string",
		},
		{
			name: "permissions not a list",
			data: `{"id":"a","name":"A","version":"1.0.0","main":"m.lua","lokusVersion":"*","permissions":"all"}`,
			want: "permissions must be a list",
		},
		{
			name: "dependency range not a string",
			data: `{"id":"a","name":"A","version":"1.0.0","main":"m.lua","lokusVersion":"*","dependencies":{"b":1}}`,
			want: "dependencies.b must be a string",
		},
		{
			name: "missing required fields",
			data: `{"name":"A"}`,
			want: "id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.data), FormatJSON)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("{not json"), FormatJSON)
	assert.Error(t, err)
	assert.False(t, IsValidationError(err))

	_, err = Decode([]byte("null"), FormatJSON)
	assert.True(t, IsValidationError(err))

	_, err = Decode([]byte("x"), Format("ini"))
	assert.Error(t, err)
}

func TestFormatFor(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Format{
		"plugin.json":  FormatJSON,
		"package.json": FormatJSON,
		"plugin.yml":   FormatYAML,
		"plugin.yaml":  FormatYAML,
		"plugin.toml":  FormatTOML,
	} {
		got, err := FormatFor(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	_, err := FormatFor("plugin.ini")
	assert.Error(t, err)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoad_PriorityOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "plugin.yaml", yamlManifest)
	writeFile(t, dir, "plugin.json", jsonManifest)

	m, path, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "word-count", m.ID)
	assert.Equal(t, filepath.Join(dir, "plugin.json"), path)
}

func TestLoad_PackageDescriptor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{
		"id": "pkg",
		"name": "Pkg",
		"version": "1.0.0",
		"main": "index.lua",
		"engines": {"lokus": ">=1.0.0", "node": ">=18"},
		"scripts": {"build": "make"}
	}`)

	m, _, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ">=1.0.0", m.LokusVersion)
}

func TestLoad_NotFound(t *testing.T) {
	t.Parallel()

	_, _, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestLoadFile_TooLarge(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "plugin.json", `{"description":"`+strings.Repeat("x", maxManifestSize)+`"}`)

	_, err := LoadFile(filepath.Join(dir, "plugin.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")
}
