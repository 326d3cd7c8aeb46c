// Package hostbridge implements the host side of the plugin API: workspace
// files, per-plugin settings and storage, and the editor buffer.
package hostbridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/felixgeelhaar/lokus/internal/ports"
)

// File names under the data directory.
const (
	SettingsFile = "plugin-settings.json"
	StateFile    = "plugin-state.json"
	StorageDir   = "storage"
)

// ErrOutsideWorkspace is returned for paths that resolve outside the
// workspace root.
var ErrOutsideWorkspace = errors.New("path resolves outside the workspace")

// Local is a HostBridge over a workspace directory. Settings, storage and
// plugin state live as JSON documents in a data directory.
type Local struct {
	*Editor

	root    string
	dataDir string
	mu      sync.Mutex
}

// NewLocal creates a bridge rooted at workspace that persists plugin data in
// dataDir. Both paths may start with ~.
func NewLocal(workspace, dataDir string) (*Local, error) {
	root, err := filepath.Abs(ports.ExpandPath(workspace))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	data, err := filepath.Abs(ports.ExpandPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	return &Local{Editor: NewEditor(), root: root, dataDir: data}, nil
}

// Root returns the absolute workspace root.
func (l *Local) Root() string {
	return l.root
}

// DataDir returns the absolute data directory.
func (l *Local) DataDir() string {
	return l.dataDir
}

// OpenDocument loads a workspace file into the editor buffer.
func (l *Local) OpenDocument(ctx context.Context, p string) error {
	data, err := l.ReadFile(ctx, p)
	if err != nil {
		return err
	}
	l.Open(p, string(data))
	return nil
}

// SaveDocument writes the editor buffer back to its file.
func (l *Local) SaveDocument(ctx context.Context) error {
	content, err := l.GetContent(ctx)
	if err != nil {
		return err
	}
	return l.WriteFile(ctx, l.Path(), []byte(content))
}

func (l *Local) resolve(p string) (string, error) {
	full := filepath.Join(l.root, filepath.FromSlash(p))
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	return full, nil
}

// ReadFile implements ports.FileBridge.
func (l *Local) ReadFile(_ context.Context, p string) ([]byte, error) {
	full, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// WriteFile implements ports.FileBridge. Parent directories are created.
func (l *Local) WriteFile(_ context.Context, p string, data []byte) error {
	full, err := l.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

// FileExists implements ports.FileBridge.
func (l *Local) FileExists(_ context.Context, p string) (bool, error) {
	full, err := l.resolve(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// ListDirectory implements ports.FileBridge.
func (l *Local) ListDirectory(_ context.Context, p string) ([]string, error) {
	full, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// CreateDirectory implements ports.FileBridge.
func (l *Local) CreateDirectory(_ context.Context, p string) error {
	full, err := l.resolve(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o755)
}

// GetPluginSettings implements ports.SettingsBridge.
func (l *Local) GetPluginSettings(_ context.Context, pluginID string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.readDoc(SettingsFile)
	if err != nil {
		return nil, err
	}
	res := gjson.GetBytes(doc, escapeID(pluginID))
	if !res.Exists() {
		return nil, nil
	}
	return []byte(res.Raw), nil
}

// SavePluginSettings implements ports.SettingsBridge.
func (l *Local) SavePluginSettings(_ context.Context, pluginID string, settings []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updateDoc(SettingsFile, func(doc []byte) ([]byte, error) {
		return sjson.SetRawBytes(doc, escapeID(pluginID), settings)
	})
}

// GetPluginStorage implements ports.SettingsBridge.
func (l *Local) GetPluginStorage(_ context.Context, pluginID string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := os.ReadFile(l.storagePath(pluginID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// SavePluginStorage implements ports.SettingsBridge.
func (l *Local) SavePluginStorage(_ context.Context, pluginID string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return writeAtomic(l.storagePath(pluginID), data)
}

func (l *Local) storagePath(pluginID string) string {
	return filepath.Join(l.dataDir, StorageDir, pluginID+".json")
}

// EnabledPlugins implements ports.PluginStateStore.
func (l *Local) EnabledPlugins(_ context.Context) (map[string]bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.readDoc(StateFile)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	gjson.GetBytes(doc, "enabled").ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.Bool()
		return true
	})
	return out, nil
}

// SetPluginEnabled implements ports.PluginStateStore.
func (l *Local) SetPluginEnabled(_ context.Context, pluginID string, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updateDoc(StateFile, func(doc []byte) ([]byte, error) {
		return sjson.SetBytes(doc, "enabled."+escapeID(pluginID), enabled)
	})
}

// GrantedPermissions implements ports.PluginStateStore.
func (l *Local) GrantedPermissions(_ context.Context, pluginID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.readDoc(StateFile)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, v := range gjson.GetBytes(doc, "permissions."+escapeID(pluginID)).Array() {
		out = append(out, v.String())
	}
	return out, nil
}

// SaveGrantedPermissions implements ports.PluginStateStore.
func (l *Local) SaveGrantedPermissions(_ context.Context, pluginID string, permissions []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if permissions == nil {
		permissions = []string{}
	}
	return l.updateDoc(StateFile, func(doc []byte) ([]byte, error) {
		return sjson.SetBytes(doc, "permissions."+escapeID(pluginID), permissions)
	})
}

func (l *Local) readDoc(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.dataDir, name))
	if errors.Is(err, os.ErrNotExist) || len(data) == 0 {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s is not valid JSON", name)
	}
	return data, nil
}

func (l *Local) updateDoc(name string, update func([]byte) ([]byte, error)) error {
	doc, err := l.readDoc(name)
	if err != nil {
		return err
	}
	doc, err = update(doc)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(l.dataDir, name), doc)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// escapeID makes a plugin id usable as a single gjson/sjson path segment.
func escapeID(id string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(id)
}

var (
	_ ports.HostBridge       = (*Local)(nil)
	_ ports.PluginStateStore = (*Local)(nil)
)
