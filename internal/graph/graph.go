// Package graph holds validated, immutable workflow graphs and the
// registry that stores them.
package graph

import (
	"sort"
	"time"

	"github.com/rendis/graphflow/internal/nodes"
)

// NodeDef binds a node name to the capability it runs.
type NodeDef struct {
	Name     string         `json:"name"`
	Function string         `json:"function"`
	Config   map[string]any `json:"config,omitempty"`
	Node     nodes.Node     `json:"-"`
}

// Graph is a validated workflow graph. It is never mutated after Build.
type Graph struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Nodes       map[string]*NodeDef `json:"nodes"`
	// Edges maps a node to its static successor; a missing or empty entry
	// marks a terminal node.
	Edges     map[string]string `json:"edges"`
	StartNode string            `json:"start_node"`
	CreatedAt time.Time         `json:"created_at"`

	order []string
}

// Next returns the static successor of name, or "" when name is terminal.
func (g *Graph) Next(name string) string {
	return g.Edges[name]
}

// Has reports whether name is a node of the graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.Nodes[name]
	return ok
}

// NodeNames returns node names in definition order.
func (g *Graph) NodeNames() []string {
	if len(g.order) == len(g.Nodes) {
		return append([]string(nil), g.order...)
	}
	names := make([]string, 0, len(g.Nodes))
	for n := range g.Nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DynamicTargets returns the statically known dynamic targets of name.
func (g *Graph) DynamicTargets(name string) []string {
	nd, ok := g.Nodes[name]
	if !ok || nd.Node == nil {
		return nil
	}
	return nodes.TargetsOf(nd.Node)
}

// Summary is the listing view of a graph.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	NodeCount   int       `json:"node_count"`
	StartNode   string    `json:"start_node"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary returns the listing view of g.
func (g *Graph) Summary() Summary {
	return Summary{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		NodeCount:   len(g.Nodes),
		StartNode:   g.StartNode,
		CreatedAt:   g.CreatedAt,
	}
}
