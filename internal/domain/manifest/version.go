package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// semverRegex matches semantic version strings.
// Matches: 1.0.0, 1.0.0-alpha, 1.0.0-alpha.1, 1.0.0+build.123
var semverRegex = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
	`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?` +
	`(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// ValidateSemver checks if a version string is valid semantic versioning.
// A leading "v" is accepted.
func ValidateSemver(version string) error {
	if version == "" {
		return fmt.Errorf("version cannot be empty")
	}
	v := version
	if v[0] == 'v' || v[0] == 'V' {
		v = v[1:]
	}
	if !semverRegex.MatchString(v) {
		return fmt.Errorf("invalid semantic version: %s", version)
	}
	return nil
}

// canonical converts 1.2.3 to the v1.2.3 form x/mod/semver expects.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if v[0] == 'V' {
		v = "v" + v[1:]
	}
	if v[0] != 'v' {
		v = "v" + v
	}
	return v
}

// CompareVersions compares two semantic versions like semver.Compare.
func CompareVersions(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

// ValidateRange checks that a version range is well formed.
func ValidateRange(constraint string) error {
	for _, alt := range strings.Split(constraint, "||") {
		for _, term := range strings.Fields(alt) {
			if _, _, err := parseTerm(term); err != nil {
				return err
			}
		}
	}
	return nil
}

// Satisfies reports whether version is inside constraint. A constraint is a
// set of alternatives separated by "||"; each alternative is a
// space-separated list of terms that must all hold. Terms are an exact
// version, an operator (>=, <=, >, <, =, ^, ~) followed by a version, a
// wildcard ("*", "x") or a partial version such as "1.x" or "1.2".
// An empty constraint matches everything.
func Satisfies(version, constraint string) bool {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return true
	}
	v := canonical(version)
	if !semver.IsValid(v) {
		return false
	}

	for _, alt := range strings.Split(constraint, "||") {
		terms := strings.Fields(alt)
		if len(terms) == 0 {
			continue
		}
		ok := true
		for _, term := range terms {
			if !satisfiesTerm(v, term) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func satisfiesTerm(v, term string) bool {
	op, cv, err := parseTerm(term)
	if err != nil {
		return false
	}
	if op == "*" {
		return true
	}

	cmp := semver.Compare(v, cv)

	switch op {
	case "=":
		return cmp == 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "^":
		if semver.Major(cv) == "v0" {
			return cmp >= 0 && semver.MajorMinor(v) == semver.MajorMinor(cv)
		}
		return cmp >= 0 && semver.Major(v) == semver.Major(cv)
	case "~":
		return cmp >= 0 && semver.MajorMinor(v) == semver.MajorMinor(cv)
	case "major":
		return semver.Major(v) == semver.Major(cv)
	case "minor":
		return semver.MajorMinor(v) == semver.MajorMinor(cv)
	default:
		return false
	}
}

// parseTerm splits a constraint term into an operator and a canonical
// version. Partial versions become the "major" or "minor" pseudo-operators.
func parseTerm(term string) (string, string, error) {
	term = strings.TrimSpace(term)
	if term == "*" || term == "x" || term == "X" {
		return "*", "", nil
	}

	op := "="
	for _, candidate := range []string{">=", "<=", ">", "<", "=", "^", "~"} {
		if strings.HasPrefix(term, candidate) {
			op = candidate
			term = strings.TrimSpace(strings.TrimPrefix(term, candidate))
			break
		}
	}

	parts := strings.Split(strings.TrimPrefix(strings.TrimPrefix(term, "v"), "V"), ".")
	if op == "=" && (len(parts) < 3 || isWildcard(parts[len(parts)-1])) {
		for len(parts) > 0 && isWildcard(parts[len(parts)-1]) {
			parts = parts[:len(parts)-1]
		}
		switch len(parts) {
		case 0:
			return "*", "", nil
		case 1:
			v := canonical(parts[0])
			if !semver.IsValid(v) {
				return "", "", fmt.Errorf("invalid version range term %q", term)
			}
			return "major", v, nil
		case 2:
			v := canonical(parts[0] + "." + parts[1])
			if !semver.IsValid(v) {
				return "", "", fmt.Errorf("invalid version range term %q", term)
			}
			return "minor", v, nil
		}
	}

	v := canonical(term)
	if ValidateSemver(v) != nil && !semver.IsValid(v) {
		return "", "", fmt.Errorf("invalid version range term %q", term)
	}
	return op, v, nil
}

func isWildcard(s string) bool {
	return s == "x" || s == "X" || s == "*"
}
