package plugin

import (
	"sort"

	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
)

// Graph is the dependency graph of the registry at one version.
type Graph struct {
	order        []string
	seq          map[string]int
	versions     map[string]string
	ranges       map[string]map[string]string
	dependencies map[string]map[string]struct{}
	dependents   map[string]map[string]struct{}
}

// BuildGraph builds adjacency sets from the entries' manifest dependencies.
// Entries must be in discovery order.
func BuildGraph(entries []*Entry) *Graph {
	g := &Graph{
		seq:          make(map[string]int, len(entries)),
		versions:     make(map[string]string, len(entries)),
		ranges:       make(map[string]map[string]string, len(entries)),
		dependencies: make(map[string]map[string]struct{}, len(entries)),
		dependents:   make(map[string]map[string]struct{}, len(entries)),
	}
	for i, e := range entries {
		g.order = append(g.order, e.ID)
		g.seq[e.ID] = i
		g.versions[e.ID] = e.Manifest.Version
		g.dependencies[e.ID] = make(map[string]struct{})
		if _, ok := g.dependents[e.ID]; !ok {
			g.dependents[e.ID] = make(map[string]struct{})
		}
	}
	for _, e := range entries {
		g.ranges[e.ID] = e.Manifest.Dependencies
		for dep := range e.Manifest.Dependencies {
			g.dependencies[e.ID][dep] = struct{}{}
			if _, ok := g.dependents[dep]; !ok {
				g.dependents[dep] = make(map[string]struct{})
			}
			g.dependents[dep][e.ID] = struct{}{}
		}
	}
	return g
}

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.seq[id]
	return ok
}

// sorted returns set members in discovery order; unknown ids sort last by
// name.
func (g *Graph) sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		si, iok := g.seq[out[i]]
		sj, jok := g.seq[out[j]]
		switch {
		case iok && jok:
			return si < sj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id string) []string {
	return g.sorted(g.dependencies[id])
}

// Dependents returns the plugins that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return g.sorted(g.dependents[id])
}

// TransitiveDependents returns every plugin that depends on id directly or
// indirectly, in discovery order.
func (g *Graph) TransitiveDependents(id string) []string {
	seen := make(map[string]struct{})
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for dep := range g.dependents[cur] {
			if _, ok := seen[dep]; ok || dep == id {
				continue
			}
			seen[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}
	return g.sorted(seen)
}

// Validate reports the first dependency absent from the graph, scanning in
// discovery order.
func (g *Graph) Validate() error {
	for _, id := range g.order {
		for _, dep := range g.Dependencies(id) {
			if !g.Has(dep) {
				return &MissingDependencyError{ID: dep, RequiredBy: id}
			}
		}
	}
	return nil
}

// LoadOrder returns every plugin with dependencies before dependents. Roots
// and neighbors are visited in discovery order so the result is stable.
func (g *Graph) LoadOrder() ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(g.order))
	result := make([]string, 0, len(g.order))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			start := 0
			for i, n := range path {
				if n == id {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), id)
			return &CircularDependencyError{Cycle: cycle}
		case visited:
			return nil
		}

		state[id] = visiting
		path = append(path, id)
		for _, dep := range g.Dependencies(id) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[id] = visited
		result = append(result, id)
		return nil
	}

	for _, id := range g.order {
		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// Levels groups the load order into batches. Every plugin's dependencies are
// in earlier batches, so members of one batch never depend on each other.
func (g *Graph) Levels() ([][]string, error) {
	order, err := g.LoadOrder()
	if err != nil {
		return nil, err
	}
	level := make(map[string]int, len(order))
	var levels [][]string
	for _, id := range order {
		n := 0
		for dep := range g.dependencies[id] {
			if level[dep]+1 > n {
				n = level[dep] + 1
			}
		}
		level[id] = n
		if n == len(levels) {
			levels = append(levels, nil)
		}
		levels[n] = append(levels[n], id)
	}
	return levels, nil
}

// CheckVersions returns every dependency whose installed version falls
// outside the range its dependent requires.
func (g *Graph) CheckVersions() []*VersionMismatchError {
	var out []*VersionMismatchError
	for _, id := range g.order {
		for _, dep := range g.Dependencies(id) {
			actual, ok := g.versions[dep]
			if !ok {
				continue
			}
			required := g.ranges[id][dep]
			if !manifest.Satisfies(actual, required) {
				out = append(out, &VersionMismatchError{ID: dep, RequiredBy: id, Required: required, Actual: actual})
			}
		}
	}
	return out
}
