// Package api implements the capability-scoped façade each plugin uses to
// affect the host, and the Factory that hands out one instance per plugin.
package api

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/lokus/internal/domain/capability"
	"github.com/felixgeelhaar/lokus/internal/domain/command"
	"github.com/felixgeelhaar/lokus/internal/domain/disposable"
	"github.com/felixgeelhaar/lokus/internal/domain/event"
	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// RegistrationKind groups the registrations an API instance tracks for
// cleanup.
type RegistrationKind string

// Registration kinds.
const (
	RegCommand       RegistrationKind = "command"
	RegExtension     RegistrationKind = "extension"
	RegSlashCommand  RegistrationKind = "slash-command"
	RegToolbarButton RegistrationKind = "toolbar-button"
	RegPanel         RegistrationKind = "panel"
	RegMenuItem      RegistrationKind = "menu-item"
	RegStatusBarItem RegistrationKind = "status-bar-item"
	RegOutputChannel RegistrationKind = "output-channel"
	RegListener      RegistrationKind = "listener"
)

// cleanupOrder releases listeners first so no callback observes a
// half-removed plugin.
var cleanupOrder = []RegistrationKind{
	RegListener, RegOutputChannel, RegStatusBarItem, RegMenuItem, RegPanel,
	RegToolbarButton, RegSlashCommand, RegExtension, RegCommand,
}

var contributionKinds = map[ContributionKind]RegistrationKind{
	ContributionExtension:     RegExtension,
	ContributionSlashCommand:  RegSlashCommand,
	ContributionToolbarButton: RegToolbarButton,
	ContributionPanel:         RegPanel,
	ContributionMenuItem:      RegMenuItem,
	ContributionStatusBarItem: RegStatusBarItem,
}

// Registration is the handle returned for anything a plugin registers.
// Disposing it reverses the registration.
type Registration struct {
	Kind RegistrationKind
	ID   string
	d    disposable.Disposable
}

// Dispose reverses the registration.
func (r *Registration) Dispose() error {
	return r.d.Dispose()
}

// PluginEvent is the payload of plugin_event events.
type PluginEvent struct {
	Name   string
	Data   any
	Source string
}

// SettingChange is the payload of setting_changed events.
type SettingChange struct {
	Key   string
	Value any
}

// PermissionChange is the payload of permission_changed events.
type PermissionChange struct {
	Permission string
	Granted    bool
}

// API is one plugin's view of the host. Every filesystem and editor call is
// checked against the plugin's permissions, and paths are validated before
// reaching the host bridge.
type API struct {
	manifest      *manifest.Manifest
	permissions   *capability.Set
	policy        *capability.Policy
	bridge        ports.HostBridge
	states        ports.PluginStateStore
	commands      *command.Registry
	contributions *Contributions
	bus           *event.Bus
	logger        ports.Logger
	newID         func() string

	mu            sync.Mutex
	registrations map[RegistrationKind]map[string]disposable.Disposable
	disposed      bool
}

func newAPI(m *manifest.Manifest, perms *capability.Set, deps Deps) *API {
	return &API{
		manifest:      m,
		permissions:   perms,
		policy:        deps.Policy,
		bridge:        deps.Bridge,
		states:        deps.States,
		commands:      deps.Commands,
		contributions: deps.Contributions,
		bus:           deps.Bus,
		logger:        deps.Logger.With(ports.F("plugin", m.ID)),
		newID:         func() string { return uuid.NewString() },
		registrations: make(map[RegistrationKind]map[string]disposable.Disposable),
	}
}

// ID returns the plugin id.
func (a *API) ID() string {
	return a.manifest.ID
}

// Manifest returns a copy of the plugin manifest.
func (a *API) Manifest() *manifest.Manifest {
	return a.manifest.Clone()
}

// Logger returns a logger scoped to the plugin.
func (a *API) Logger() ports.Logger {
	return a.logger
}

// IsDisposed reports whether Cleanup has run.
func (a *API) IsDisposed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disposed
}

func (a *API) checkOpen() error {
	if a.IsDisposed() {
		return ErrAPIDisposed
	}
	return nil
}

func (a *API) require(c capability.Capability) error {
	if a.permissions.Allows(c) {
		return nil
	}
	return &PermissionError{PluginID: a.ID(), Permission: c.String()}
}

// ValidatePath rejects empty paths and paths that could escape the workspace
// through parent traversal or home-directory expansion.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" ||
		strings.Contains(path, "..") ||
		strings.Contains(path, "~") ||
		strings.ContainsRune(path, 0) {
		return &InvalidPathError{Path: path}
	}
	return nil
}

// checkFile applies the permission and path checks shared by file calls.
func (a *API) checkFile(c capability.Capability, path string) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if err := a.require(c); err != nil {
		return err
	}
	if err := ValidatePath(path); err != nil {
		return err
	}
	if a.bridge == nil {
		return ErrNoHostBridge
	}
	return nil
}

// track records a registration for cleanup.
func (a *API) track(kind RegistrationKind, id string, release func() error) (*Registration, error) {
	reg := &Registration{Kind: kind, ID: id}
	reg.d = disposable.FromErrFunc(func() error {
		a.untrack(kind, id)
		return release()
	})

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		_ = release()
		return nil, ErrAPIDisposed
	}
	byID, ok := a.registrations[kind]
	if !ok {
		byID = make(map[string]disposable.Disposable)
		a.registrations[kind] = byID
	}
	byID[id] = reg.d
	a.mu.Unlock()
	return reg, nil
}

func (a *API) untrack(kind RegistrationKind, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.registrations[kind], id)
}

// Registrations returns how many live registrations of kind the plugin holds.
func (a *API) Registrations(kind RegistrationKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.registrations[kind])
}

// RegisterCommand adds a command owned by the plugin.
func (a *API) RegisterCommand(cmd command.Command) (*Registration, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if err := a.require(capability.CommandsRegister); err != nil {
		return nil, err
	}
	cmd.PluginID = a.ID()
	if err := a.commands.Register(cmd); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(cmd.ID)
	return a.track(RegCommand, id, func() error {
		a.commands.Unregister(id)
		return nil
	})
}

// UnregisterCommand removes one of the plugin's own commands. It reports
// whether the command was registered by this plugin.
func (a *API) UnregisterCommand(id string) bool {
	a.mu.Lock()
	d, ok := a.registrations[RegCommand][id]
	a.mu.Unlock()
	if !ok {
		return false
	}
	_ = d.Dispose()
	return true
}

// ExecuteCommand runs any registered command.
func (a *API) ExecuteCommand(ctx context.Context, id string, args ...any) (any, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	return a.commands.Execute(ctx, id, args...)
}

func (a *API) contribute(kind ContributionKind, c capability.Capability, id string, value any) (*Registration, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if err := a.require(c); err != nil {
		return nil, err
	}
	if id == "" {
		id = a.newID()
	}
	if err := a.contributions.Add(Contribution{Kind: kind, ID: id, PluginID: a.ID(), Value: value}); err != nil {
		return nil, err
	}
	return a.track(contributionKinds[kind], id, func() error {
		a.contributions.Remove(kind, id)
		return nil
	})
}

// AddExtension registers an editor extension.
func (a *API) AddExtension(ext Extension) (*Registration, error) {
	if ext.ID == "" {
		ext.ID = a.newID()
	}
	return a.contribute(ContributionExtension, capability.EditorWrite, ext.ID, ext)
}

// AddSlashCommand registers a slash menu entry.
func (a *API) AddSlashCommand(sc SlashCommand) (*Registration, error) {
	if strings.TrimSpace(sc.Title) == "" {
		return nil, errors.New("slash command title is required")
	}
	if sc.ID == "" {
		sc.ID = a.newID()
	}
	return a.contribute(ContributionSlashCommand, capability.CommandsRegister, sc.ID, sc)
}

// AddToolbarButton registers a toolbar button.
func (a *API) AddToolbarButton(btn ToolbarButton) (*Registration, error) {
	if btn.ID == "" {
		btn.ID = a.newID()
	}
	return a.contribute(ContributionToolbarButton, capability.UIToolbar, btn.ID, btn)
}

// RegisterPanel registers a panel.
func (a *API) RegisterPanel(p Panel) (*Registration, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, errors.New("panel title is required")
	}
	if p.ID == "" {
		p.ID = a.newID()
	}
	if p.Location == "" {
		p.Location = "sidebar"
	}
	return a.contribute(ContributionPanel, capability.UIPanels, p.ID, p)
}

// AddMenuItem registers a menu item.
func (a *API) AddMenuItem(item MenuItem) (*Registration, error) {
	if item.ID == "" {
		item.ID = a.newID()
	}
	return a.contribute(ContributionMenuItem, capability.UIMenus, item.ID, item)
}

// RegisterStatusBarItem registers a status bar item.
func (a *API) RegisterStatusBarItem(item StatusBarItem) (*Registration, error) {
	if item.ID == "" {
		item.ID = a.newID()
	}
	if item.Alignment == "" {
		item.Alignment = "left"
	}
	return a.contribute(ContributionStatusBarItem, capability.UIStatusBar, item.ID, item)
}

// UpdateStatusBarItem changes the text of one of the plugin's status bar
// items.
func (a *API) UpdateStatusBarItem(id, text string) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	contrib, ok := a.contributions.Get(ContributionStatusBarItem, id)
	if !ok || contrib.PluginID != a.ID() {
		return fmt.Errorf("%w: %s %s", ErrUnknownContrib, ContributionStatusBarItem, id)
	}
	item := contrib.Value.(StatusBarItem)
	item.Text = text
	return a.contributions.Update(ContributionStatusBarItem, id, item)
}

// CreateOutputChannel opens a named output channel.
func (a *API) CreateOutputChannel(name string) (*OutputChannel, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrMissingChannelID
	}

	id := a.newID()
	ch := newOutputChannel(name, a.logger, func() { a.untrack(RegOutputChannel, id) })
	if _, err := a.track(RegOutputChannel, id, ch.Dispose); err != nil {
		return nil, err
	}
	return ch, nil
}

// ReadFile reads a workspace file. Requires read_files.
func (a *API) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := a.checkFile(capability.ReadFiles, path); err != nil {
		return nil, err
	}
	return a.bridge.ReadFile(ctx, path)
}

// FileExists reports whether a workspace file exists. Requires read_files.
func (a *API) FileExists(ctx context.Context, path string) (bool, error) {
	if err := a.checkFile(capability.ReadFiles, path); err != nil {
		return false, err
	}
	return a.bridge.FileExists(ctx, path)
}

// ListDirectory lists a workspace directory. Requires read_files.
func (a *API) ListDirectory(ctx context.Context, path string) ([]string, error) {
	if err := a.checkFile(capability.ReadFiles, path); err != nil {
		return nil, err
	}
	return a.bridge.ListDirectory(ctx, path)
}

// WriteFile writes a workspace file. Requires write_files.
func (a *API) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := a.checkFile(capability.WriteFiles, path); err != nil {
		return err
	}
	return a.bridge.WriteFile(ctx, path, data)
}

// CreateDirectory creates a workspace directory. Requires write_files.
func (a *API) CreateDirectory(ctx context.Context, path string) error {
	if err := a.checkFile(capability.WriteFiles, path); err != nil {
		return err
	}
	return a.bridge.CreateDirectory(ctx, path)
}

func (a *API) checkEditor(c capability.Capability) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if err := a.require(c); err != nil {
		return err
	}
	if a.bridge == nil {
		return ErrNoHostBridge
	}
	if !a.bridge.HasEditor() {
		return ErrNoEditor
	}
	return nil
}

// GetEditorContent returns the active document. Requires editor:read.
func (a *API) GetEditorContent(ctx context.Context) (string, error) {
	if err := a.checkEditor(capability.EditorRead); err != nil {
		return "", err
	}
	return a.bridge.GetContent(ctx)
}

// GetSelection returns the editor selection. Requires editor:read.
func (a *API) GetSelection(ctx context.Context) (ports.Selection, error) {
	if err := a.checkEditor(capability.EditorRead); err != nil {
		return ports.Selection{}, err
	}
	return a.bridge.GetSelection(ctx)
}

// SetEditorContent replaces the active document. Requires editor:write.
func (a *API) SetEditorContent(ctx context.Context, content string) error {
	if err := a.checkEditor(capability.EditorWrite); err != nil {
		return err
	}
	return a.bridge.SetContent(ctx, content)
}

// InsertText inserts text at the cursor. Requires editor:write.
func (a *API) InsertText(ctx context.Context, text string) error {
	if err := a.checkEditor(capability.EditorWrite); err != nil {
		return err
	}
	return a.bridge.InsertText(ctx, text)
}

// ReplaceSelection replaces the selected text. Requires editor:write.
func (a *API) ReplaceSelection(ctx context.Context, text string) error {
	if err := a.checkEditor(capability.EditorWrite); err != nil {
		return err
	}
	return a.bridge.ReplaceSelection(ctx, text)
}

// On subscribes to a plugin-defined event emitted by any plugin.
func (a *API) On(name string, handler func(data any, source string)) (*Registration, error) {
	if name == "" || handler == nil {
		return nil, errors.New("event name and handler are required")
	}
	return a.subscribe(event.KindPluginEvent, func(e event.Event) {
		pe, ok := e.Payload.(PluginEvent)
		if ok && pe.Name == name {
			handler(pe.Data, pe.Source)
		}
	})
}

// OnHost subscribes to a host event kind.
func (a *API) OnHost(kind event.Kind, handler event.Handler) (*Registration, error) {
	return a.subscribe(kind, handler)
}

func (a *API) subscribe(kind event.Kind, handler event.Handler) (*Registration, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	sub, err := a.bus.Subscribe(kind, handler)
	if err != nil {
		return nil, err
	}
	return a.track(RegListener, a.newID(), sub.Dispose)
}

// Emit publishes a plugin-defined event.
func (a *API) Emit(name string, data any) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if name == "" {
		return errors.New("event name is required")
	}
	a.bus.Emit(event.KindPluginEvent, a.ID(), PluginEvent{Name: name, Data: data, Source: a.ID()})
	return nil
}

// HasPermission reports whether the plugin holds a capability.
func (a *API) HasPermission(permission string) bool {
	c, err := capability.Parse(permission)
	if err != nil {
		return false
	}
	return a.permissions.Allows(c)
}

// Permissions returns the granted capability tokens.
func (a *API) Permissions() []string {
	return a.permissions.Strings()
}

// GrantPermission adds a capability, persisting the grant when the host
// keeps a plugin state store.
func (a *API) GrantPermission(ctx context.Context, permission string) error {
	c, err := capability.Parse(permission)
	if err != nil {
		return err
	}
	if err := a.policy.Check(c); err != nil {
		return err
	}
	if !a.permissions.Add(c) {
		return nil
	}
	return a.permissionChanged(ctx, permission, true)
}

// RevokePermission removes a capability.
func (a *API) RevokePermission(ctx context.Context, permission string) error {
	c, err := capability.Parse(permission)
	if err != nil {
		return err
	}
	if !a.permissions.Remove(c) {
		return nil
	}
	return a.permissionChanged(ctx, permission, false)
}

func (a *API) permissionChanged(ctx context.Context, permission string, granted bool) error {
	a.bus.Emit(event.KindPermissionChanged, a.ID(), PermissionChange{Permission: permission, Granted: granted})
	if a.states == nil {
		return nil
	}
	return a.states.SaveGrantedPermissions(ctx, a.ID(), a.permissions.Strings())
}

// Cleanup reverses every registration the plugin made. Individual failures
// are logged and do not stop the rest. After Cleanup every registration
// call fails with ErrAPIDisposed.
func (a *API) Cleanup() error {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return nil
	}
	a.disposed = true
	var pending []disposable.Disposable
	for _, kind := range cleanupOrder {
		byID := a.registrations[kind]
		ids := make([]string, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			pending = append(pending, byID[id])
		}
	}
	a.mu.Unlock()

	store := disposable.NewStore(disposable.WithLogger(a.logger))
	for i := len(pending) - 1; i >= 0; i-- {
		store.Add(pending[i])
	}
	err := store.Dispose()

	if len(a.commands.ByPlugin(a.ID())) > 0 {
		a.commands.ClearPlugin(a.ID())
	}

	a.mu.Lock()
	a.registrations = make(map[RegistrationKind]map[string]disposable.Disposable)
	a.mu.Unlock()
	return err
}

var settingsKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

func validateKey(key string) error {
	if !settingsKeyRegex.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
