package graph

import (
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/rendis/graphflow/internal/nodes"
	"github.com/rendis/graphflow/internal/validation"
	"github.com/rendis/graphflow/pkg/schema"
)

const (
	idPrefix   = "g_"
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength   = 12
)

// NewID returns a fresh graph id.
func NewID() (string, error) {
	id, err := nanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return "", err
	}
	return idPrefix + id, nil
}

// Builder validates definitions and resolves their capabilities into Graphs.
type Builder struct {
	nodes     *nodes.Registry
	validator *validation.GraphValidator
	now       func() time.Time
}

// NewBuilder creates a Builder resolving capabilities from reg.
func NewBuilder(reg *nodes.Registry) (*Builder, error) {
	gv, err := validation.NewGraphValidator()
	if err != nil {
		return nil, err
	}
	return &Builder{nodes: reg, validator: gv, now: time.Now}, nil
}

// Build validates def and returns an immutable Graph. Each capability is
// resolved once here, so configurable nodes are instantiated per graph.
// The graph id is def.ID when set, otherwise a fresh one.
func (b *Builder) Build(def *schema.GraphDefinition) (*Graph, error) {
	resolved := make(map[string]nodes.Node)
	resolver := validation.ResolverFunc(func(spec schema.NodeSpec) ([]string, error) {
		n, err := b.nodes.Resolve(spec.Function, spec.Config)
		if err != nil {
			return nil, err
		}
		resolved[spec.Name] = n
		return nodes.TargetsOf(n), nil
	})

	if err := b.validator.ValidateDefinition(def, resolver); err != nil {
		return nil, err
	}

	id := def.ID
	if id == "" {
		var err error
		if id, err = NewID(); err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "generate graph id").WithCause(err)
		}
	}

	g := &Graph{
		ID:          id,
		Name:        def.Name,
		Description: def.Description,
		Nodes:       make(map[string]*NodeDef, len(def.Nodes)),
		Edges:       make(map[string]string, len(def.Edges)),
		StartNode:   def.StartNode,
		CreatedAt:   b.now().UTC(),
		order:       make([]string, 0, len(def.Nodes)),
	}
	for _, spec := range def.Nodes {
		g.Nodes[spec.Name] = &NodeDef{
			Name:     spec.Name,
			Function: spec.Function,
			Config:   spec.Config,
			Node:     resolved[spec.Name],
		}
		g.order = append(g.order, spec.Name)
	}
	for src, dst := range def.Edges {
		if dst != nil {
			g.Edges[src] = *dst
		}
	}
	return g, nil
}
