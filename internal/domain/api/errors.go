package api

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrAPIDisposed      = errors.New("plugin API has been cleaned up")
	ErrNoHostBridge     = errors.New("no host bridge configured")
	ErrNoEditor         = errors.New("no active editor")
	ErrNoDialogHandler  = errors.New("no dialog handler registered")
	ErrInvalidKey       = errors.New("invalid settings key")
	ErrContributionID   = errors.New("contribution id already registered")
	ErrUnknownContrib   = errors.New("contribution not found")
	ErrNilManifest      = errors.New("manifest is required")
	ErrMissingChannelID = errors.New("output channel name is required")
)

// PermissionError reports a call the plugin lacks the capability for.
type PermissionError struct {
	PluginID   string
	Permission string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("Plugin does not have %s permission", e.Permission)
}

// InvalidPathError reports a path rejected before reaching the host.
type InvalidPathError struct {
	Path string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("Invalid file path: %q", e.Path)
}

// IsPermissionError returns true if err is a permission failure.
func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsInvalidPath returns true if err is a rejected path.
func IsInvalidPath(err error) bool {
	var ip *InvalidPathError
	return errors.As(err, &ip)
}
