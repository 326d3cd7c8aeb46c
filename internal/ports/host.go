package ports

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// Selection describes the editor's current selection as rune offsets into
// the document. From == To means a collapsed cursor.
type Selection struct {
	From int    `json:"from"`
	To   int    `json:"to"`
	Text string `json:"text"`
}

// Empty reports whether the selection is a collapsed cursor.
func (s Selection) Empty() bool {
	return s.From == s.To
}

// FileBridge gives plugins access to workspace files. Paths are interpreted
// relative to the workspace root by implementations.
type FileBridge interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	FileExists(ctx context.Context, path string) (bool, error)
	ListDirectory(ctx context.Context, path string) ([]string, error)
	CreateDirectory(ctx context.Context, path string) error
}

// SettingsBridge persists per-plugin settings and storage. Each plugin owns
// one JSON document of each kind; an absent document is returned as nil.
type SettingsBridge interface {
	GetPluginSettings(ctx context.Context, pluginID string) ([]byte, error)
	SavePluginSettings(ctx context.Context, pluginID string, settings []byte) error
	GetPluginStorage(ctx context.Context, pluginID string) ([]byte, error)
	SavePluginStorage(ctx context.Context, pluginID string, data []byte) error
}

// EditorBridge exposes the active editor document.
type EditorBridge interface {
	// HasEditor reports whether an editor is currently open.
	HasEditor() bool
	GetContent(ctx context.Context) (string, error)
	SetContent(ctx context.Context, content string) error
	// InsertText inserts text at the cursor, replacing any selection.
	InsertText(ctx context.Context, text string) error
	GetSelection(ctx context.Context) (Selection, error)
	ReplaceSelection(ctx context.Context, text string) error
}

// HostBridge is everything the plugin API needs from the host application.
type HostBridge interface {
	FileBridge
	SettingsBridge
	EditorBridge
}

// PluginStateStore persists which plugins are enabled and which permissions
// the user granted beyond the manifest.
type PluginStateStore interface {
	// EnabledPlugins returns the persisted enablement map. Plugins absent from
	// the map are enabled.
	EnabledPlugins(ctx context.Context) (map[string]bool, error)
	SetPluginEnabled(ctx context.Context, pluginID string, enabled bool) error
	GrantedPermissions(ctx context.Context, pluginID string) ([]string, error)
	SaveGrantedPermissions(ctx context.Context, pluginID string, permissions []string) error
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
