package hostbridge

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/felixgeelhaar/lokus/internal/ports"
)

// Memory is a HostBridge and PluginStateStore held entirely in memory. It
// backs tests and hosts that embed the runtime without a workspace.
type Memory struct {
	*Editor

	mu       sync.RWMutex
	files    map[string][]byte
	dirs     map[string]bool
	settings map[string][]byte
	storage  map[string][]byte
	enabled  map[string]bool
	grants   map[string][]string
}

// NewMemory creates an empty in-memory bridge.
func NewMemory() *Memory {
	return &Memory{
		Editor:   NewEditor(),
		files:    make(map[string][]byte),
		dirs:     map[string]bool{".": true},
		settings: make(map[string][]byte),
		storage:  make(map[string][]byte),
		enabled:  make(map[string]bool),
		grants:   make(map[string][]string),
	}
}

func clean(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))[1:]
}

// AddFile seeds a file, creating its parent directories.
func (m *Memory) AddFile(p, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeLocked(clean(p), []byte(content))
}

func (m *Memory) writeLocked(p string, data []byte) {
	m.files[p] = append([]byte(nil), data...)
	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
}

// ReadFile implements ports.FileBridge.
func (m *Memory) ReadFile(_ context.Context, p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[clean(p)]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, os.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// WriteFile implements ports.FileBridge.
func (m *Memory) WriteFile(_ context.Context, p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeLocked(clean(p), data)
	return nil
}

// FileExists implements ports.FileBridge.
func (m *Memory) FileExists(_ context.Context, p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p = clean(p)
	_, file := m.files[p]
	return file || m.dirs[p], nil
}

// ListDirectory implements ports.FileBridge.
func (m *Memory) ListDirectory(_ context.Context, p string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dir := clean(p)
	if dir == "" {
		dir = "."
	}
	if !m.dirs[dir] {
		return nil, fmt.Errorf("list %s: %w", p, os.ErrNotExist)
	}

	seen := make(map[string]bool)
	collect := func(name string) {
		parent := path.Dir(name)
		if parent == dir {
			seen[path.Base(name)] = true
		}
	}
	for name := range m.files {
		collect(name)
	}
	for name := range m.dirs {
		if name != "." {
			collect(name)
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// CreateDirectory implements ports.FileBridge.
func (m *Memory) CreateDirectory(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for dir := clean(p); dir != "." && dir != ""; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
	return nil
}

// GetPluginSettings implements ports.SettingsBridge.
func (m *Memory) GetPluginSettings(_ context.Context, pluginID string) ([]byte, error) {
	return m.get(m.settings, pluginID), nil
}

// SavePluginSettings implements ports.SettingsBridge.
func (m *Memory) SavePluginSettings(_ context.Context, pluginID string, data []byte) error {
	m.put(m.settings, pluginID, data)
	return nil
}

// GetPluginStorage implements ports.SettingsBridge.
func (m *Memory) GetPluginStorage(_ context.Context, pluginID string) ([]byte, error) {
	return m.get(m.storage, pluginID), nil
}

// SavePluginStorage implements ports.SettingsBridge.
func (m *Memory) SavePluginStorage(_ context.Context, pluginID string, data []byte) error {
	m.put(m.storage, pluginID, data)
	return nil
}

func (m *Memory) get(docs map[string][]byte, id string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if data, ok := docs[id]; ok {
		return append([]byte(nil), data...)
	}
	return nil
}

func (m *Memory) put(docs map[string][]byte, id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs[id] = append([]byte(nil), data...)
}

// EnabledPlugins implements ports.PluginStateStore.
func (m *Memory) EnabledPlugins(_ context.Context) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.enabled))
	for id, on := range m.enabled {
		out[id] = on
	}
	return out, nil
}

// SetPluginEnabled implements ports.PluginStateStore.
func (m *Memory) SetPluginEnabled(_ context.Context, pluginID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[pluginID] = enabled
	return nil
}

// GrantedPermissions implements ports.PluginStateStore.
func (m *Memory) GrantedPermissions(_ context.Context, pluginID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.grants[pluginID]...), nil
}

// SaveGrantedPermissions implements ports.PluginStateStore.
func (m *Memory) SaveGrantedPermissions(_ context.Context, pluginID string, permissions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[pluginID] = append([]string(nil), permissions...)
	return nil
}

var (
	_ ports.HostBridge       = (*Memory)(nil)
	_ ports.PluginStateStore = (*Memory)(nil)
)
