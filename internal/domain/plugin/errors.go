package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic error handling.
var (
	// ErrPluginNotFound indicates an id that is not in the registry.
	ErrPluginNotFound = errors.New("Plugin not found") //nolint:staticcheck // user-facing message
	// ErrMainNotFound indicates the entry file named by main is missing.
	ErrMainNotFound = errors.New("Main file not found") //nolint:staticcheck // user-facing message
	// ErrNoLoader indicates no module loader supports the plugin's entry.
	ErrNoLoader = errors.New("no module loader supports this plugin")
	// ErrInvalidPluginShape indicates a module that does not provide a plugin.
	ErrInvalidPluginShape = errors.New("module does not provide a valid plugin")
	// ErrAlreadyLoaded indicates a second load of a loaded plugin.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")
	// ErrNotLoaded indicates an operation that needs a loaded instance.
	ErrNotLoaded = errors.New("plugin is not loaded")
	// ErrPluginDisabled indicates an operation on a disabled plugin.
	ErrPluginDisabled = errors.New("plugin is disabled")
)

// DiscoveryError represents an error loading a specific plugin directory.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("loading plugin at %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// DiscoveryResult captures both discovered entries and errors.
type DiscoveryResult struct {
	Entries []*Entry
	Errors  []DiscoveryError
}

// HasErrors returns true if there were errors during discovery.
func (r *DiscoveryResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// CircularDependencyError indicates a dependency cycle. Cycle starts and ends
// with the same id.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Cycle, " -> "))
}

// MissingDependencyError indicates a dependency absent from the registry.
type MissingDependencyError struct {
	ID         string
	RequiredBy string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin %q requires %q, which is not installed", e.RequiredBy, e.ID)
}

// VersionMismatchError indicates an installed dependency or host version
// outside the required range.
type VersionMismatchError struct {
	ID         string
	RequiredBy string
	Required   string
	Actual     string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("plugin %q requires %s %s, found %s", e.RequiredBy, e.ID, e.Required, e.Actual)
}

// DependencyFailedError indicates a plugin skipped because a dependency is
// not loaded or not active.
type DependencyFailedError struct {
	ID         string
	Dependency string
	Status     Status
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("plugin %q cannot start: dependency %q is %s", e.ID, e.Dependency, e.Status)
}

// LifecycleError wraps a failure raised by plugin code.
type LifecycleError struct {
	ID  string
	Op  string
	Err error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("plugin %q failed to %s: %v", e.ID, e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// TransitionError indicates an event that is invalid in the current state.
type TransitionError struct {
	ID    string
	From  Status
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("plugin %q cannot %s while %s", e.ID, strings.ToLower(e.Event), e.From)
}

// IsCircularDependency returns true if the error is a dependency cycle.
func IsCircularDependency(err error) bool {
	var cycleErr *CircularDependencyError
	return errors.As(err, &cycleErr)
}

// IsMissingDependency returns true if the error is a missing dependency.
func IsMissingDependency(err error) bool {
	var missingErr *MissingDependencyError
	return errors.As(err, &missingErr)
}

// IsVersionMismatch returns true if the error is a version mismatch.
func IsVersionMismatch(err error) bool {
	var mismatchErr *VersionMismatchError
	return errors.As(err, &mismatchErr)
}

// IsGraphError returns true for errors that abort a whole load pass.
func IsGraphError(err error) bool {
	return IsCircularDependency(err) || IsMissingDependency(err) || IsVersionMismatch(err)
}

// IsLifecycleError returns true if plugin code failed.
func IsLifecycleError(err error) bool {
	var lifecycleErr *LifecycleError
	return errors.As(err, &lifecycleErr)
}

// IsTransitionError returns true if the error is an invalid transition.
func IsTransitionError(err error) bool {
	var transitionErr *TransitionError
	return errors.As(err, &transitionErr)
}
