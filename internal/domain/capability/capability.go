// Package capability provides the permission tokens plugins declare in their
// manifests and the sets and policies the host checks them against.
package capability

import (
	"errors"
	"fmt"
	"strings"
)

// Capability errors.
var (
	ErrInvalidCapability = errors.New("invalid capability")
	ErrCapabilityBlocked = errors.New("capability blocked by policy")
)

// Category represents a capability category, the part before the colon.
type Category string

// Category constants.
const (
	CategoryFiles         Category = "files"
	CategoryEditor        Category = "editor"
	CategoryCommands      Category = "commands"
	CategoryUI            Category = "ui"
	CategoryStorage       Category = "storage"
	CategorySettings      Category = "settings"
	CategoryEvents        Category = "events"
	CategoryNetwork       Category = "network"
	CategoryClipboard     Category = "clipboard"
	CategoryWorkspace     Category = "workspace"
	CategoryNotifications Category = "notifications"
)

// All grants every capability.
const All = "all"

// Wildcard is the action that matches any action in a category.
const Wildcard = "*"

// Capability is a single permission token. Tokens are either "category:action"
// (e.g. "editor:read", "ui:*") or a bare legacy token such as "read_files".
type Capability struct {
	category Category
	action   string
	raw      string
}

// Legacy tokens and the category:action pair they stand for.
var aliases = map[string]string{
	"read_files":  "files:read",
	"write_files": "files:write",
}

// Well-known capabilities.
var (
	ReadFiles        = MustParse("read_files")
	WriteFiles       = MustParse("write_files")
	EditorRead       = MustParse("editor:read")
	EditorWrite      = MustParse("editor:write")
	CommandsRegister = MustParse("commands:register")
	UIPanels         = MustParse("ui:panels")
	UIToolbar        = MustParse("ui:toolbar")
	UIMenus          = MustParse("ui:menus")
	UIStatusBar      = MustParse("ui:statusbar")
	NetworkFetch     = MustParse("network:fetch")
	AllCapabilities  = MustParse(All)
)

// validPrefixes are the categories the host recognizes.
var validPrefixes = []string{
	"read:", "write:", "execute:", "network:", "ui:", "storage:", "clipboard:",
	"filesystem:", "files:", "workspace:", "editor:", "commands:", "events:",
	"notifications:", "settings:", "themes:", "sidebar:", "toolbar:", "statusbar:",
}

// Parse parses a capability token.
func Parse(s string) (Capability, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Capability{}, fmt.Errorf("%w: empty capability", ErrInvalidCapability)
	}
	if strings.ContainsAny(s, " \t\n") {
		return Capability{}, fmt.Errorf("%w: %q contains whitespace", ErrInvalidCapability, s)
	}

	canonical := s
	if alias, ok := aliases[s]; ok {
		canonical = alias
	}

	category, action, found := strings.Cut(canonical, ":")
	if found && (category == "" || action == "") {
		return Capability{}, fmt.Errorf("%w: %q must be category:action", ErrInvalidCapability, s)
	}

	return Capability{category: Category(category), action: action, raw: s}, nil
}

// MustParse parses a capability or panics.
func MustParse(s string) Capability {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Category returns the capability category. Bare tokens such as "all" have
// the token itself as category and no action.
func (c Capability) Category() Category {
	return c.category
}

// Action returns the capability action.
func (c Capability) Action() string {
	return c.action
}

// String returns the token as written.
func (c Capability) String() string {
	return c.raw
}

// key is the canonical form used for set membership.
func (c Capability) key() string {
	if c.action == "" {
		return string(c.category)
	}
	return string(c.category) + ":" + c.action
}

// IsZero returns true if the capability is empty.
func (c Capability) IsZero() bool {
	return c.raw == ""
}

// IsAll reports whether c is the "all" sentinel.
func (c Capability) IsAll() bool {
	return c.raw == All
}

// IsKnown reports whether the host recognizes the token: the "all" sentinel,
// a legacy alias, or a token with a recognized category prefix.
func (c Capability) IsKnown() bool {
	if c.IsAll() {
		return true
	}
	if _, ok := aliases[c.raw]; ok {
		return true
	}
	for _, p := range validPrefixes {
		if strings.HasPrefix(c.raw, p) {
			return true
		}
	}
	return false
}

// IsDangerous reports whether the capability lets a plugin modify files,
// reach the network or do anything at all.
func (c Capability) IsDangerous() bool {
	if c.IsAll() {
		return true
	}
	switch c.category {
	case CategoryFiles:
		return c.action == "write" || c.action == Wildcard
	case CategoryNetwork, "execute", "filesystem":
		return true
	}
	return false
}

// Grants reports whether holding c permits the requested capability.
func (c Capability) Grants(requested Capability) bool {
	if c.IsAll() {
		return true
	}
	if c.key() == requested.key() {
		return true
	}
	return c.action == Wildcard && c.category == requested.category
}

// Info provides metadata about a capability.
type Info struct {
	Capability  Capability
	Description string
	Dangerous   bool
}

// Describe returns descriptions of the capabilities the API checks.
func Describe() []Info {
	infos := []Info{
		{ReadFiles, "Read workspace files", false},
		{WriteFiles, "Create and modify workspace files", true},
		{EditorRead, "Read the active editor document", false},
		{EditorWrite, "Modify the active editor document and add editor extensions", false},
		{CommandsRegister, "Register commands and slash commands", false},
		{UIPanels, "Register panels", false},
		{UIToolbar, "Add toolbar buttons", false},
		{UIMenus, "Add menu items", false},
		{UIStatusBar, "Add status bar items", false},
		{AllCapabilities, "Every capability", true},
	}
	return infos
}
