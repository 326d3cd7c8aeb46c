package api

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/felixgeelhaar/lokus/internal/domain/event"
)

// ContributionKind identifies a UI surface a plugin contributes to.
type ContributionKind string

// Contribution kinds.
const (
	ContributionExtension     ContributionKind = "extension"
	ContributionSlashCommand  ContributionKind = "slash-command"
	ContributionToolbarButton ContributionKind = "toolbar-button"
	ContributionPanel         ContributionKind = "panel"
	ContributionMenuItem      ContributionKind = "menu-item"
	ContributionStatusBarItem ContributionKind = "status-bar-item"
)

// Extension is an editor extension (node, mark or behavior).
type Extension struct {
	ID     string
	Name   string
	Type   string
	Config map[string]any
}

// SlashCommand is an entry in the editor's slash menu.
type SlashCommand struct {
	ID          string
	Title       string
	Description string
	Icon        string
	Keywords    []string
	Handler     func(ctx context.Context) error
}

// ToolbarButton is an editor toolbar button bound to a command.
type ToolbarButton struct {
	ID      string
	Title   string
	Icon    string
	Group   string
	Command string
}

// Panel is a view hosted in a sidebar or the bottom area.
type Panel struct {
	ID       string
	Title    string
	Icon     string
	Location string
}

// MenuItem is an entry in a host menu bound to a command.
type MenuItem struct {
	ID      string
	Label   string
	Menu    string
	Command string
}

// StatusBarItem is a status bar entry.
type StatusBarItem struct {
	ID        string
	Text      string
	Tooltip   string
	Command   string
	Alignment string
	Priority  int
}

// Contribution is a registered UI element.
type Contribution struct {
	Kind     ContributionKind
	ID       string
	PluginID string
	Value    any
	seq      uint64
}

// Contributions is the host-side registry of UI elements contributed by
// plugins. The UI renders from it; plugins write to it through their API.
type Contributions struct {
	mu    sync.RWMutex
	items map[ContributionKind]map[string]Contribution
	seq   uint64
	bus   *event.Bus
}

// NewContributions creates an empty registry. bus may be nil.
func NewContributions(bus *event.Bus) *Contributions {
	return &Contributions{
		items: make(map[ContributionKind]map[string]Contribution),
		bus:   bus,
	}
}

// Add registers a contribution. Ids are unique per kind.
func (c *Contributions) Add(contrib Contribution) error {
	c.mu.Lock()
	byID, ok := c.items[contrib.Kind]
	if !ok {
		byID = make(map[string]Contribution)
		c.items[contrib.Kind] = byID
	}
	if _, exists := byID[contrib.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s %s", ErrContributionID, contrib.Kind, contrib.ID)
	}
	c.seq++
	contrib.seq = c.seq
	byID[contrib.ID] = contrib
	c.mu.Unlock()

	c.emit(event.KindContributionAdded, contrib)
	return nil
}

// Update replaces the value of an existing contribution.
func (c *Contributions) Update(kind ContributionKind, id string, value any) error {
	c.mu.Lock()
	contrib, ok := c.items[kind][id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s %s", ErrUnknownContrib, kind, id)
	}
	contrib.Value = value
	c.items[kind][id] = contrib
	c.mu.Unlock()

	c.emit(event.KindContributionAdded, contrib)
	return nil
}

// Remove deletes a contribution. It reports whether it existed.
func (c *Contributions) Remove(kind ContributionKind, id string) bool {
	c.mu.Lock()
	contrib, ok := c.items[kind][id]
	if ok {
		delete(c.items[kind], id)
	}
	c.mu.Unlock()

	if ok {
		c.emit(event.KindContributionRemoved, contrib)
	}
	return ok
}

// Get returns a contribution.
func (c *Contributions) Get(kind ContributionKind, id string) (Contribution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	contrib, ok := c.items[kind][id]
	return contrib, ok
}

// List returns the contributions of a kind in registration order.
func (c *Contributions) List(kind ContributionKind) []Contribution {
	c.mu.RLock()
	out := make([]Contribution, 0, len(c.items[kind]))
	for _, contrib := range c.items[kind] {
		out = append(out, contrib)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// ByPlugin returns every contribution made by a plugin in registration order.
func (c *Contributions) ByPlugin(pluginID string) []Contribution {
	c.mu.RLock()
	var out []Contribution
	for _, byID := range c.items {
		for _, contrib := range byID {
			if contrib.PluginID == pluginID {
				out = append(out, contrib)
			}
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// RunSlashCommand invokes a slash command's handler.
func (c *Contributions) RunSlashCommand(ctx context.Context, id string) error {
	contrib, ok := c.Get(ContributionSlashCommand, id)
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrUnknownContrib, ContributionSlashCommand, id)
	}
	sc := contrib.Value.(SlashCommand)
	if sc.Handler == nil {
		return nil
	}
	return sc.Handler(ctx)
}

func (c *Contributions) emit(kind event.Kind, contrib Contribution) {
	if c.bus != nil {
		c.bus.Emit(kind, contrib.PluginID, contrib)
	}
}
