package graph

import (
	"sort"
	"sync"

	"github.com/rendis/graphflow/pkg/schema"
)

// Registry stores published graphs by id. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{graphs: make(map[string]*Graph)}
}

// Add publishes g. A second graph with the same id is a CONFLICT.
func (r *Registry) Add(g *Graph) error {
	if g == nil || g.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "graph has no id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.graphs[g.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "graph %q already exists", g.ID)
	}
	r.graphs[g.ID] = g
	return nil
}

// Get returns the graph with id, or UNKNOWN_GRAPH.
func (r *Registry) Get(id string) (*Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.graphs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownGraph, "graph %q not found", id).
			WithDetails(map[string]any{"graph_id": id})
	}
	return g, nil
}

// List returns summaries of every graph, oldest first.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.graphs))
	for _, g := range r.graphs {
		out = append(out, g.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of published graphs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.graphs)
}
