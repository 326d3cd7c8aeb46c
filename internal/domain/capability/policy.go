package capability

import "fmt"

// Policy holds host-side rules applied to the permissions a manifest
// requests before they are granted.
type Policy struct {
	blocked *Set
}

// NewPolicy creates a policy that blocks the given capabilities. Blocking a
// wildcard such as "network:*" blocks the whole category.
func NewPolicy(blocked ...Capability) *Policy {
	return &Policy{blocked: NewSet(blocked...)}
}

// ParsePolicy builds a policy from blocked tokens.
func ParsePolicy(blocked []string) (*Policy, error) {
	p := NewPolicy()
	for _, tok := range blocked {
		c, err := Parse(tok)
		if err != nil {
			return nil, err
		}
		p.blocked.Add(c)
	}
	return p, nil
}

// Check returns an error when c is blocked.
func (p *Policy) Check(c Capability) error {
	if p == nil {
		return nil
	}
	for _, b := range p.blocked.List() {
		// A requested wildcard or "all" would grant the blocked capability.
		if b.Grants(c) || c.Grants(b) {
			return fmt.Errorf("%w: %s", ErrCapabilityBlocked, c)
		}
	}
	return nil
}

// Filter splits requested tokens into the set that may be granted and the
// tokens that were denied. Unparsable tokens are denied.
func (p *Policy) Filter(requested []string) (*Set, []string) {
	granted := NewSet()
	var denied []string
	for _, tok := range requested {
		c, err := Parse(tok)
		if err != nil || p.Check(c) != nil {
			denied = append(denied, tok)
			continue
		}
		granted.Add(c)
	}
	return granted, denied
}

// Blocked returns the blocked tokens.
func (p *Policy) Blocked() []string {
	if p == nil {
		return nil
	}
	return p.blocked.Strings()
}
