package plugin

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/lokus/internal/domain/sdk"
)

// ModuleLoader turns a registry entry into a plugin instance. Each loader
// handles one module format, selected by the entry's main.
type ModuleLoader interface {
	// Name identifies the loader in logs.
	Name() string
	// Supports reports whether the loader can load the entry.
	Supports(entry *Entry) bool
	// Load instantiates the plugin. It must not call Initialize.
	Load(ctx context.Context, entry *Entry) (sdk.Plugin, error)
}

// MainPath returns the path of the entry's main file inside its directory,
// or "" for builtin plugins.
func MainPath(entry *Entry) string {
	if entry.Manifest.IsBuiltin() {
		return ""
	}
	return filepath.Join(entry.Path, filepath.FromSlash(entry.Manifest.Main))
}

// HasExtension reports whether the entry's main ends with one of exts.
func HasExtension(entry *Entry, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(entry.Manifest.Main))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func selectLoader(loaders []ModuleLoader, entry *Entry) ModuleLoader {
	for _, l := range loaders {
		if l.Supports(entry) {
			return l
		}
	}
	return nil
}
