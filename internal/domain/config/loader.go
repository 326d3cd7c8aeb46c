package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/lokus/internal/ports"
)

// EnvConfig names the environment variable holding an explicit config path.
const EnvConfig = "LOKUS_CONFIG"

// FileNames are the config file names searched for, in order.
var FileNames = []string{"lokus.yaml", "lokus.yml", "lokus.toml"}

// Load reads, decodes and validates the file at path. Keys absent from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	path = ports.ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewConfigNotFoundError(path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

// Parse decodes data in the format implied by name's extension and
// validates the result.
func Parse(data []byte, name string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, NewYAMLParseError(name, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				row, col := derr.Position()
				return nil, NewTOMLParseError(fmt.Sprintf("%s (line %d, column %d)", name, row, col), err)
			}
			return nil, NewTOMLParseError(name, err)
		}
	default:
		return nil, NewConfigFormatError(name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find returns the first config file found in dirs.
func Find(dirs ...string) (string, bool) {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		dir = ports.ExpandPath(dir)
		for _, name := range FileNames {
			p := filepath.Join(dir, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, true
			}
		}
	}
	return "", false
}

// Resolve loads the configuration from explicit when set, then from
// $LOKUS_CONFIG, then from the first file found in searchDirs. Without any
// file it returns the defaults.
func Resolve(explicit string, searchDirs ...string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return Load(env)
	}
	if path, ok := Find(searchDirs...); ok {
		return Load(path)
	}
	return Default(), nil
}

// DefaultSearchDirs returns the working directory and ~/.lokus.
func DefaultSearchDirs() []string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".lokus"))
	}
	return dirs
}

// Marshal encodes cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
