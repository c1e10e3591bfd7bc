// Package dag derives the column dependency graph: for every source column,
// the computed columns whose argument bindings read it.
// The graph is not required to be acyclic; cycles are reported, not rejected.
package dag

import (
	"sort"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// Graph maps source column ids to their direct dependents.
type Graph struct {
	columns map[string]*core.Column
	order   []string                  // column ids in registry order
	edges   map[string][]*core.Column // source -> dependents, in registry order
	parents map[string][]string       // computed -> sources
}

// Build derives the graph from an ordered column list.
//
// Every argument binding of a function column is resolved by columnName to
// the first matching column. The ID literal, empty entries and names that do
// not resolve produce no edge.
func Build(cols []*core.Column) *Graph {
	g := &Graph{
		columns: make(map[string]*core.Column, len(cols)),
		order:   make([]string, 0, len(cols)),
		edges:   make(map[string][]*core.Column),
		parents: make(map[string][]string),
	}

	byName := make(map[string]*core.Column, len(cols))
	for _, c := range cols {
		g.columns[c.ID] = c
		g.order = append(g.order, c.ID)
		if _, exists := byName[c.Name]; !exists {
			byName[c.Name] = c
		}
	}

	for _, c := range cols {
		if !c.IsComputed() {
			continue
		}
		for _, arg := range c.Arguments {
			for _, ref := range arg.References() {
				source, ok := byName[ref]
				if !ok {
					continue
				}
				g.addEdge(source.ID, c)
			}
		}
	}

	return g
}

func (g *Graph) addEdge(sourceID string, dependent *core.Column) {
	for _, existing := range g.edges[sourceID] {
		if existing.ID == dependent.ID {
			return
		}
	}
	g.edges[sourceID] = append(g.edges[sourceID], dependent)
	g.parents[dependent.ID] = append(g.parents[dependent.ID], sourceID)
}

// Dependents returns the computed columns that directly read the column.
// The returned slice must not be modified.
func (g *Graph) Dependents(id string) []*core.Column {
	return g.edges[id]
}

// DependentsOf returns the union of direct dependents of several columns,
// deduplicated and in registry order.
func (g *Graph) DependentsOf(ids []string) []*core.Column {
	seen := make(map[string]struct{})
	for _, id := range ids {
		for _, dep := range g.edges[id] {
			seen[dep.ID] = struct{}{}
		}
	}
	out := make([]*core.Column, 0, len(seen))
	for _, id := range g.order {
		if _, ok := seen[id]; ok {
			out = append(out, g.columns[id])
		}
	}
	return out
}

// Sources returns the ids of the columns a computed column reads.
func (g *Graph) Sources(id string) []string {
	return g.parents[id]
}

// Column returns a column by id.
func (g *Graph) Column(id string) (*core.Column, bool) {
	c, ok := g.columns[id]
	return c, ok
}

// Edge is one source -> dependent pair.
type Edge struct {
	Source    string `json:"source"`
	Dependent string `json:"dependent"`
}

// Edges returns all edges ordered by source, then dependent, in registry order.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, id := range g.order {
		for _, dep := range g.edges[id] {
			edges = append(edges, Edge{Source: id, Dependent: dep.ID})
		}
	}
	return edges
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// HasCycle returns true if the graph contains a cycle, along with the cycle path.
// A computed column reading its own output is a cycle of length one.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, child := range g.edges[id] {
			childID := child.ID
			if !visited[childID] {
				path[childID] = id
				if dfs(childID) {
					return true
				}
			} else if recStack[childID] {
				cyclePath = []string{childID}
				for curr := id; curr != childID; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{childID}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range g.order {
		if !visited[id] {
			if dfs(id) {
				return true, cyclePath
			}
		}
	}

	return false, nil
}

// Downstream returns every column transitively affected by the given columns,
// excluding the columns themselves unless they are reached through an edge.
func (g *Graph) Downstream(changedIDs []string) []string {
	affected := make(map[string]bool)

	var mark func(id string)
	mark = func(id string) {
		for _, child := range g.edges[id] {
			if affected[child.ID] {
				continue
			}
			affected[child.ID] = true
			mark(child.ID)
		}
	}

	for _, id := range changedIDs {
		mark(id)
	}

	result := make([]string, 0, len(affected))
	for id := range affected {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}
