package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/lokus/internal/domain/capability"
)

// ValidationError collects multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0]
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

// Add adds an error message to the collection.
func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

// Addf adds a formatted error message to the collection.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are validation errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// IsValidationError returns true if the error is a validation error.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

const maxIDLength = 128

// Validate checks a manifest and returns a normalized copy: strings trimmed,
// permissions deduplicated, nil maps replaced by empty ones and lokusVersion
// taken from engines.lokus when absent.
func Validate(m *Manifest) (*Manifest, error) {
	if m == nil {
		return nil, &ValidationError{Errors: []string{"manifest is required"}}
	}
	n := normalize(m)
	ve := &ValidationError{}

	if n.ID == "" {
		ve.Add(`id is required. Example: "id": "word-count"`)
	} else if len(n.ID) > maxIDLength {
		ve.Addf("id %q is too long (maximum %d characters)", n.ID, maxIDLength)
	} else if !idRegex.MatchString(n.ID) {
		ve.Addf("id %q may only contain letters, numbers, dots, hyphens and underscores", n.ID)
	}

	if n.Name == "" {
		ve.Add(`name is required. Example: "name": "Word Count"`)
	}

	if n.Version == "" {
		ve.Add(`version is required. Example: "version": "1.0.0"`)
	} else if err := ValidateSemver(n.Version); err != nil {
		ve.Addf("version %q is not valid semantic versioning. Examples: 1.0.0, 1.2.3-beta.1", n.Version)
	}

	if n.Main == "" {
		ve.Add(`main is required. Example: "main": "main.lua"`)
	} else if n.IsBuiltin() && n.BuiltinName() == "" {
		ve.Addf("main %q names no builtin plugin", n.Main)
	}

	if n.LokusVersion == "" {
		ve.Add(`lokusVersion is required. Example: "lokusVersion": ">=1.0.0"`)
	} else if err := ValidateRange(n.LokusVersion); err != nil {
		ve.Addf("lokusVersion: %v", err)
	}

	for _, dep := range n.DependencyIDs() {
		if dep == n.ID {
			ve.Addf("plugin %q cannot depend on itself", n.ID)
			continue
		}
		if !idRegex.MatchString(dep) {
			ve.Addf("dependency id %q is invalid", dep)
		}
		if err := ValidateRange(n.Dependencies[dep]); err != nil {
			ve.Addf("dependency %q: %v", dep, err)
		}
	}

	for _, p := range n.Permissions {
		if _, err := capability.Parse(p); err != nil {
			ve.Addf("permission %q: %v", p, err)
		}
	}

	if ve.HasErrors() {
		return nil, ve
	}
	return n, nil
}

// Warnings returns non-fatal findings about a manifest.
func Warnings(m *Manifest) []string {
	var warnings []string
	if strings.TrimSpace(m.Description) == "" {
		warnings = append(warnings, "description is empty")
	}
	if strings.TrimSpace(m.Author) == "" {
		warnings = append(warnings, "author is empty")
	}
	for _, r := range m.Name {
		if !isNameRune(r) {
			warnings = append(warnings, fmt.Sprintf("name %q contains %q; use letters, numbers, spaces, hyphens or underscores", m.Name, r))
			break
		}
	}
	for _, p := range m.Permissions {
		c, err := capability.Parse(p)
		if err == nil && !c.IsKnown() {
			warnings = append(warnings, fmt.Sprintf("permission %q is not recognized by the host", p))
		}
	}
	return warnings
}

func isNameRune(r rune) bool {
	return r == ' ' || r == '-' || r == '_' || r == '.' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func normalize(m *Manifest) *Manifest {
	n := m.Clone()
	n.ID = strings.TrimSpace(n.ID)
	n.Name = strings.TrimSpace(n.Name)
	n.Version = strings.TrimSpace(n.Version)
	n.Main = strings.TrimSpace(n.Main)
	n.LokusVersion = strings.TrimSpace(n.LokusVersion)
	n.Description = strings.TrimSpace(n.Description)
	n.Author = strings.TrimSpace(n.Author)

	if n.Engines == nil {
		n.Engines = map[string]string{}
	}
	if n.LokusVersion == "" {
		n.LokusVersion = strings.TrimSpace(n.Engines["lokus"])
	}

	deps := make(map[string]string, len(n.Dependencies))
	for id, rng := range n.Dependencies {
		deps[strings.TrimSpace(id)] = strings.TrimSpace(rng)
	}
	n.Dependencies = deps

	seen := make(map[string]struct{}, len(n.Permissions))
	perms := make([]string, 0, len(n.Permissions))
	for _, p := range n.Permissions {
		p = strings.TrimSpace(p)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		perms = append(perms, p)
	}
	n.Permissions = perms

	if n.Contributes == nil {
		n.Contributes = map[string]any{}
	}
	return n
}
