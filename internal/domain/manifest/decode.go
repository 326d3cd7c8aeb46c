package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a manifest file encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// maxManifestSize limits manifest reads to prevent memory exhaustion.
const maxManifestSize = 256 * 1024

// ErrManifestNotFound indicates a plugin directory has no manifest.
var ErrManifestNotFound = errors.New("plugin manifest not found")

// FileNames lists the manifest file names probed in a plugin directory, in
// priority order.
var FileNames = []string{
	"plugin.json",
	"manifest.json",
	"package.json",
	"plugin.yaml",
	"plugin.yml",
	"plugin.toml",
}

// FormatFor returns the format implied by a manifest file name.
func FormatFor(path string) (Format, error) {
	switch filepath.Ext(path) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported manifest format: %s", filepath.Base(path))
	}
}

// Find returns the manifest path in dir.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrManifestNotFound, dir)
}

// Load finds, reads, decodes and validates the manifest in dir. It returns
// the manifest and the file it was read from.
func Load(dir string) (*Manifest, string, error) {
	path, err := Find(dir)
	if err != nil {
		return nil, "", err
	}
	m, err := LoadFile(path)
	return m, path, err
}

// LoadFile reads, decodes and validates a manifest file.
func LoadFile(path string) (*Manifest, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if len(data) > maxManifestSize {
		return nil, fmt.Errorf("manifest exceeds maximum size of %d bytes", maxManifestSize)
	}

	return Parse(data, format)
}

// Parse decodes and validates manifest data.
func Parse(data []byte, format Format) (*Manifest, error) {
	raw, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	return ValidateRaw(raw)
}

// Decode parses manifest data into its untyped form.
func Decode(data []byte, format Format) (map[string]any, error) {
	var raw map[string]any
	var err error

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		err = dec.Decode(&raw)
	case FormatYAML:
		err = yaml.Unmarshal(data, &raw)
	case FormatTOML:
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("unsupported manifest format: %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s manifest: %w", format, err)
	}
	if raw == nil {
		return nil, &ValidationError{Errors: []string{"manifest is empty"}}
	}
	return raw, nil
}

// ValidateRaw checks the shape of an untyped manifest, converts it and
// validates the result.
func ValidateRaw(raw map[string]any) (*Manifest, error) {
	normalized, ve := normalizeRaw(raw)
	if ve.HasErrors() {
		return nil, ve
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, &ValidationError{Errors: []string{fmt.Sprintf("manifest cannot be converted: %v", err)}}
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ValidationError{Errors: []string{fmt.Sprintf("manifest cannot be converted: %v", err)}}
	}
	return Validate(&m)
}

var (
	stringFields = []string{"id", "name", "version", "main", "lokusVersion", "description", "license", "homepage"}
	listFields   = []string{"keywords", "permissions"}
	mapFields    = []string{"dependencies", "engines"}
)

// normalizeRaw keeps the known fields, checks their types and flattens the
// object forms of author and repository used by package descriptors.
func normalizeRaw(raw map[string]any) (map[string]any, *ValidationError) {
	ve := &ValidationError{}
	out := make(map[string]any, len(raw))

	for _, key := range stringFields {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			ve.Addf("%s must be a string, got %T", key, v)
			continue
		}
		out[key] = s
	}

	for _, key := range []string{"author", "repository"} {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			out[key] = val
		case map[string]any:
			field := "name"
			if key == "repository" {
				field = "url"
			}
			if s, ok := val[field].(string); ok {
				out[key] = s
			}
		default:
			ve.Addf("%s must be a string or an object, got %T", key, v)
		}
	}

	for _, key := range listFields {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			ve.Addf("%s must be a list of strings, got %T", key, v)
			continue
		}
		list := make([]string, 0, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				ve.Addf("%s[%d] must be a string, got %T", key, i, item)
				continue
			}
			list = append(list, s)
		}
		out[key] = list
	}

	for _, key := range mapFields {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		obj, ok := v.(map[string]any)
		if !ok {
			ve.Addf("%s must be an object, got %T", key, v)
			continue
		}
		m := make(map[string]string, len(obj))
		for k, item := range obj {
			s, ok := item.(string)
			if !ok {
				ve.Addf("%s.%s must be a string, got %T", key, k, item)
				continue
			}
			m[k] = s
		}
		out[key] = m
	}

	if v, ok := raw["contributes"]; ok && v != nil {
		obj, ok := v.(map[string]any)
		if !ok {
			ve.Addf("contributes must be an object, got %T", v)
		} else {
			out["contributes"] = obj
		}
	}

	return out, ve
}
