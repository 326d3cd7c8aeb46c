package plugin

import (
	"fmt"
	"time"
)

// Info is a read-only view of one plugin.
type Info struct {
	ID           string
	Name         string
	Version      string
	Description  string
	Author       string
	Main         string
	Path         string
	Status       Status
	Error        string
	Disabled     bool
	Permissions  []string
	Dependencies map[string]string
	Dependents   []string
	LoadedAt     time.Time
	ActivatedAt  time.Time
}

// Stats counts plugins by status.
type Stats struct {
	Total      int
	Discovered int
	Loaded     int
	Active     int
	Errored    int
	Disabled   int
}

// GetPluginInfo returns the view of one plugin.
func (m *Manager) GetPluginInfo(id string) (*Info, error) {
	entry, ok := m.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return m.info(entry), nil
}

// ListPlugins returns every known plugin in discovery order.
func (m *Manager) ListPlugins() []*Info {
	entries := m.registry.List()
	infos := make([]*Info, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, m.info(e))
	}
	return infos
}

// GetStats counts plugins by status.
func (m *Manager) GetStats() Stats {
	var s Stats
	for _, e := range m.registry.List() {
		s.Total++
		if e.Disabled {
			s.Disabled++
		}
		switch m.statusOf(e) {
		case StatusDiscovered:
			s.Discovered++
		case StatusLoaded:
			s.Loaded++
		case StatusActive:
			s.Active++
		case StatusError:
			s.Errored++
		}
	}
	return s
}

func (m *Manager) info(e *Entry) *Info {
	mf := e.Manifest
	return &Info{
		ID:           e.ID,
		Name:         mf.Name,
		Version:      mf.Version,
		Description:  mf.Description,
		Author:       mf.Author,
		Main:         mf.Main,
		Path:         e.Path,
		Status:       m.statusOf(e),
		Error:        e.ErrorMessage(),
		Disabled:     e.Disabled,
		Permissions:  mf.Permissions,
		Dependencies: mf.Dependencies,
		Dependents:   m.BuildDependencyGraph().Dependents(e.ID),
		LoadedAt:     e.LoadedAt,
		ActivatedAt:  e.ActivatedAt,
	}
}

// statusOf prefers the lifecycle machine over the registry copy.
func (m *Manager) statusOf(e *Entry) Status {
	if st := m.status(e.ID); st != "" {
		return st
	}
	return e.Status
}
