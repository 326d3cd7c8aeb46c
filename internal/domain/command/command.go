// Package command implements the host's command registry: id-keyed commands
// contributed by plugins, executed from the palette, slash menu or other
// plugins.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"github.com/felixgeelhaar/lokus/internal/domain/event"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// DefaultCategory is assigned to commands registered without a category.
const DefaultCategory = "Plugin"

// Sentinel errors.
var (
	ErrMissingID      = errors.New("command id is required")
	ErrMissingTitle   = errors.New("command title is required")
	ErrMissingHandler = errors.New("command handler is required")
	ErrEditorRequired = errors.New("command requires an active editor")
)

// Handler runs a command.
type Handler func(ctx context.Context, args ...any) (any, error)

// Command is a registered command.
type Command struct {
	ID          string
	Title       string
	Description string
	Category    string
	Icon        string
	Keybinding  string
	PluginID    string
	// HideFromPalette keeps the command out of the command palette.
	HideFromPalette bool
	RequiresEditor  bool
	Handler         Handler
	RegisteredAt    time.Time
}

// ShowInPalette reports whether the command is listed in the palette.
func (c Command) ShowInPalette() bool {
	return !c.HideFromPalette
}

// ExistsError indicates a command id is already registered.
type ExistsError struct {
	ID string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("Command %s is already registered", e.ID)
}

// NotFoundError indicates an unknown command id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Command %s not found", e.ID)
}

// IsNotFound returns true if err reports an unknown command.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsExists returns true if err reports a duplicate command.
func IsExists(err error) bool {
	var ex *ExistsError
	return errors.As(err, &ex)
}

// ErrorPayload is published with command-error events.
type ErrorPayload struct {
	CommandID string
	Error     error
}

// ChangePayload is published with command-registered and
// command-unregistered events.
type ChangePayload struct {
	CommandID string
	Title     string
	Category  string
}

// ClearedPayload is published with commands-cleared events.
type ClearedPayload struct {
	PluginID   string
	CommandIDs []string
}

// Registry stores commands keyed by id.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*entry
	seq      uint64
	bus      *event.Bus
	logger   ports.Logger
	editor   func() bool
	now      func() time.Time
}

type entry struct {
	cmd Command
	seq uint64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBus sets the bus that receives registry events.
func WithBus(bus *event.Bus) RegistryOption {
	return func(r *Registry) {
		r.bus = bus
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger ports.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithEditorCheck sets the function reporting whether an editor is open.
// Without it every command that requires an editor is allowed to run.
func WithEditorCheck(fn func() bool) RegistryOption {
	return func(r *Registry) {
		r.editor = fn
	}
}

// NewRegistry creates an empty command registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		commands: make(map[string]*entry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = ports.OrNop(r.logger)
	return r
}

// Register adds a command. ID, Title and Handler are required; Category
// defaults to "Plugin".
func (r *Registry) Register(cmd Command) error {
	cmd.ID = strings.TrimSpace(cmd.ID)
	switch {
	case cmd.ID == "":
		return ErrMissingID
	case strings.TrimSpace(cmd.Title) == "":
		return ErrMissingTitle
	case cmd.Handler == nil:
		return ErrMissingHandler
	}
	if cmd.Category == "" {
		cmd.Category = DefaultCategory
	}
	cmd.RegisteredAt = r.now()

	r.mu.Lock()
	if _, exists := r.commands[cmd.ID]; exists {
		r.mu.Unlock()
		return &ExistsError{ID: cmd.ID}
	}
	r.seq++
	r.commands[cmd.ID] = &entry{cmd: cmd, seq: r.seq}
	r.mu.Unlock()

	r.emit(event.KindCommandRegistered, cmd.PluginID, ChangePayload{
		CommandID: cmd.ID, Title: cmd.Title, Category: cmd.Category,
	})
	return nil
}

// Unregister removes a command. It reports whether the command existed.
func (r *Registry) Unregister(id string) bool {
	id = strings.TrimSpace(id)
	r.mu.Lock()
	e, ok := r.commands[id]
	if ok {
		delete(r.commands, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.emit(event.KindCommandUnregistered, e.cmd.PluginID, ChangePayload{
		CommandID: id, Title: e.cmd.Title, Category: e.cmd.Category,
	})
	return true
}

// Execute runs a command's handler. Handler failures, including panics, are
// published as command-error events and returned.
func (r *Registry) Execute(ctx context.Context, id string, args ...any) (any, error) {
	id = strings.TrimSpace(id)
	r.mu.RLock()
	e, ok := r.commands[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	cmd := e.cmd
	if cmd.RequiresEditor && r.editor != nil && !r.editor() {
		return nil, fmt.Errorf("%s: %w", id, ErrEditorRequired)
	}

	result, err := r.invoke(ctx, cmd, args)
	if err != nil {
		r.logger.Warn(ctx, "command failed", ports.F("command", id), ports.F("plugin", cmd.PluginID), ports.Err(err))
		r.emit(event.KindCommandError, cmd.PluginID, ErrorPayload{CommandID: id, Error: err})
		return nil, err
	}
	return result, nil
}

func (r *Registry) invoke(ctx context.Context, cmd Command, args []any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("command %s panicked: %v", cmd.ID, rec)
		}
	}()
	return cmd.Handler(ctx, args...)
}

// Get returns a command by id.
func (r *Registry) Get(id string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.commands[strings.TrimSpace(id)]
	if !ok {
		return Command{}, false
	}
	return e.cmd, true
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Count returns the number of registered commands.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// List returns all commands in registration order.
func (r *Registry) List() []Command {
	return r.filter(func(Command) bool { return true })
}

// PaletteCommands returns commands shown in the palette.
func (r *Registry) PaletteCommands() []Command {
	return r.filter(Command.ShowInPalette)
}

// ByPlugin returns the commands registered by a plugin.
func (r *Registry) ByPlugin(pluginID string) []Command {
	return r.filter(func(c Command) bool { return c.PluginID == pluginID })
}

// ByCategory returns the commands in a category.
func (r *Registry) ByCategory(category string) []Command {
	return r.filter(func(c Command) bool { return c.Category == category })
}

// Categories returns the distinct categories, sorted.
func (r *Registry) Categories() []string {
	seen := make(map[string]struct{})
	for _, c := range r.List() {
		seen[c.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Search returns palette commands whose title, description, category or id
// contains query, compared case-insensitively.
func (r *Registry) Search(query string) []Command {
	// Casers are stateful, so each search gets its own.
	folder := cases.Fold()
	q := folder.String(strings.TrimSpace(query))
	if q == "" {
		return r.PaletteCommands()
	}
	return r.filter(func(c Command) bool {
		if !c.ShowInPalette() {
			return false
		}
		for _, field := range []string{c.Title, c.Description, c.Category, c.ID} {
			if strings.Contains(folder.String(field), q) {
				return true
			}
		}
		return false
	})
}

// ClearPlugin removes every command registered by a plugin in one pass and
// returns how many were removed.
func (r *Registry) ClearPlugin(pluginID string) int {
	r.mu.Lock()
	var removed []string
	for id, e := range r.commands {
		if e.cmd.PluginID == pluginID {
			removed = append(removed, id)
			delete(r.commands, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(removed)
	r.emit(event.KindCommandsCleared, pluginID, ClearedPayload{PluginID: pluginID, CommandIDs: removed})
	return len(removed)
}

func (r *Registry) filter(keep func(Command) bool) []Command {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.commands))
	for _, e := range r.commands {
		if keep(e.cmd) {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Command, len(entries))
	for i, e := range entries {
		out[i] = e.cmd
	}
	return out
}

func (r *Registry) emit(kind event.Kind, pluginID string, payload any) {
	if r.bus != nil {
		r.bus.Emit(kind, pluginID, payload)
	}
}
