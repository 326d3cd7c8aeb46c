// Package config loads the runtime configuration from lokus.yaml or
// lokus.toml.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/lokus/internal/domain/capability"
	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// Defaults.
const (
	DefaultPluginDir   = "~/.lokus/plugins"
	DefaultDataDir     = "~/.lokus/data"
	DefaultWorkspace   = "."
	DefaultHostVersion = "1.0.0"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultMaxParallel = 4
	DefaultCallTimeout = "5s"
	DefaultWatchDelay  = "200ms"
)

// Config is the runtime configuration.
type Config struct {
	PluginDirs     []string `yaml:"plugin_dirs" toml:"plugin_dirs"`
	DataDir        string   `yaml:"data_dir" toml:"data_dir"`
	Workspace      string   `yaml:"workspace" toml:"workspace"`
	HostVersion    string   `yaml:"host_version" toml:"host_version"`
	StrictVersions bool     `yaml:"strict_versions" toml:"strict_versions"`
	AutoActivate   bool     `yaml:"auto_activate" toml:"auto_activate"`
	MaxParallel    int      `yaml:"max_parallel" toml:"max_parallel"`

	// BlockedPermissions are capabilities no plugin receives, whatever its
	// manifest asks for.
	BlockedPermissions []string `yaml:"blocked_permissions" toml:"blocked_permissions"`

	Log      Log      `yaml:"log" toml:"log"`
	Runtimes Runtimes `yaml:"runtimes" toml:"runtimes"`
	Watch    Watch    `yaml:"watch" toml:"watch"`

	// Source is the file the configuration was read from, empty for
	// defaults.
	Source string `yaml:"-" toml:"-"`
}

// Log configures the console logger.
type Log struct {
	Level     string `yaml:"level" toml:"level"`
	Format    string `yaml:"format" toml:"format"`
	Timestamp bool   `yaml:"timestamp" toml:"timestamp"`
}

// Runtimes configures the script and WebAssembly loaders.
type Runtimes struct {
	CallTimeout   string `yaml:"call_timeout" toml:"call_timeout"`
	WasmMemoryMiB uint32 `yaml:"wasm_memory_mib" toml:"wasm_memory_mib"`
}

// Watch configures the development watcher.
type Watch struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Delay   string `yaml:"delay" toml:"delay"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		PluginDirs:   []string{DefaultPluginDir},
		DataDir:      DefaultDataDir,
		Workspace:    DefaultWorkspace,
		HostVersion:  DefaultHostVersion,
		AutoActivate: true,
		MaxParallel:  DefaultMaxParallel,
		Log: Log{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Runtimes: Runtimes{
			CallTimeout:   DefaultCallTimeout,
			WasmMemoryMiB: 16,
		},
		Watch: Watch{Delay: DefaultWatchDelay},
	}
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	errs := NewErrorList()

	if len(c.PluginDirs) == 0 {
		errs.AddValidation("plugin_dirs", "at least one plugin directory is required", "Add "+DefaultPluginDir+".")
	}
	for i, dir := range c.PluginDirs {
		if strings.TrimSpace(dir) == "" {
			errs.AddValidation(fmt.Sprintf("plugin_dirs[%d]", i), "must not be empty", "")
		}
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs.AddValidation("data_dir", "must not be empty", "Use "+DefaultDataDir+".")
	}
	if err := manifest.ValidateSemver(c.HostVersion); err != nil {
		errs.AddValidation("host_version", err.Error(), "Use a semantic version such as 1.2.0.")
	}
	if c.MaxParallel < 1 {
		errs.AddValidation("max_parallel", "must be at least 1", "Use 1 to load plugins one at a time.")
	}
	if _, err := capability.ParsePolicy(c.BlockedPermissions); err != nil {
		errs.AddValidation("blocked_permissions", err.Error(), "Use permission tokens such as network:* or write_files.")
	}
	if _, err := ports.ParseLevel(c.Log.Level); err != nil {
		errs.AddValidation("log.level", err.Error(), "Use debug, info, warn or error.")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs.AddValidation("log.format", fmt.Sprintf("unknown format %q", c.Log.Format), "Use text or json.")
	}
	if _, err := parsePositive(c.Runtimes.CallTimeout); err != nil {
		errs.AddValidation("runtimes.call_timeout", err.Error(), "Use a Go duration such as 5s.")
	}
	if c.Runtimes.WasmMemoryMiB == 0 {
		errs.AddValidation("runtimes.wasm_memory_mib", "must be at least 1", "")
	}
	if _, err := parsePositive(c.Watch.Delay); err != nil {
		errs.AddValidation("watch.delay", err.Error(), "Use a Go duration such as 200ms.")
	}

	return errs.AsError()
}

// CallTimeout returns the parsed loader call timeout.
func (c *Config) CallTimeout() time.Duration {
	d, err := parsePositive(c.Runtimes.CallTimeout)
	if err != nil {
		d, _ = time.ParseDuration(DefaultCallTimeout)
	}
	return d
}

// WatchDelay returns the parsed watcher debounce delay.
func (c *Config) WatchDelay() time.Duration {
	d, err := parsePositive(c.Watch.Delay)
	if err != nil {
		d, _ = time.ParseDuration(DefaultWatchDelay)
	}
	return d
}

// WasmMemoryPages converts the memory limit to 64 KiB pages.
func (c *Config) WasmMemoryPages() uint32 {
	return c.Runtimes.WasmMemoryMiB * 16
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() ports.Level {
	level, err := ports.ParseLevel(c.Log.Level)
	if err != nil {
		return ports.LevelInfo
	}
	return level
}

// Policy returns the host permission policy.
func (c *Config) Policy() *capability.Policy {
	p, err := capability.ParsePolicy(c.BlockedPermissions)
	if err != nil {
		return capability.NewPolicy()
	}
	return p
}

// ExpandedPluginDirs returns PluginDirs with ~ expanded.
func (c *Config) ExpandedPluginDirs() []string {
	out := make([]string, len(c.PluginDirs))
	for i, dir := range c.PluginDirs {
		out[i] = ports.ExpandPath(dir)
	}
	return out
}

func parsePositive(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}
