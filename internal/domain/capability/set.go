package capability

import (
	"sort"
	"sync"
)

// Set is a concurrency-safe collection of capabilities.
type Set struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// NewSet creates a set holding caps.
func NewSet(caps ...Capability) *Set {
	s := &Set{capabilities: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		s.Add(c)
	}
	return s
}

// ParseSet parses a set from tokens. Invalid tokens are returned separately
// and left out of the set.
func ParseSet(tokens []string) (*Set, []error) {
	s := NewSet()
	var errs []error
	for _, tok := range tokens {
		c, err := Parse(tok)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.Add(c)
	}
	return s, errs
}

// Add adds a capability. It reports whether the set changed.
func (s *Set) Add(c Capability) bool {
	if c.IsZero() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.capabilities[c.key()]; ok {
		return false
	}
	s.capabilities[c.key()] = c
	return true
}

// Remove removes a capability. It reports whether the set changed.
func (s *Set) Remove(c Capability) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.capabilities[c.key()]; !ok {
		return false
	}
	delete(s.capabilities, c.key())
	return true
}

// Contains reports whether c itself is in the set, without wildcard or "all"
// expansion.
func (s *Set) Contains(c Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.capabilities[c.key()]
	return ok
}

// Allows reports whether any member grants c.
func (s *Set) Allows(c Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.capabilities[c.key()]; ok {
		return true
	}
	for _, held := range s.capabilities {
		if held.Grants(c) {
			return true
		}
	}
	return false
}

// List returns all capabilities sorted by token.
func (s *Set) List() []Capability {
	s.mu.RLock()
	result := make([]Capability, 0, len(s.capabilities))
	for _, c := range s.capabilities {
		result = append(result, c)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].String() < result[j].String()
	})
	return result
}

// Strings returns all tokens sorted.
func (s *Set) Strings() []string {
	caps := s.List()
	result := make([]string, len(caps))
	for i, c := range caps {
		result[i] = c.String()
	}
	return result
}

// Count returns the number of capabilities.
func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.capabilities)
}

// IsEmpty returns true if the set has no capabilities.
func (s *Set) IsEmpty() bool {
	return s.Count() == 0
}

// Dangerous returns the dangerous capabilities in the set.
func (s *Set) Dangerous() []Capability {
	var result []Capability
	for _, c := range s.List() {
		if c.IsDangerous() {
			result = append(result, c)
		}
	}
	return result
}

// Unknown returns members the host does not recognize.
func (s *Set) Unknown() []Capability {
	var result []Capability
	for _, c := range s.List() {
		if !c.IsKnown() {
			result = append(result, c)
		}
	}
	return result
}

// Clone creates a copy of the set.
func (s *Set) Clone() *Set {
	return NewSet(s.List()...)
}
