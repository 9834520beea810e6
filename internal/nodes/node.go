package nodes

import (
	"context"
	"encoding/json"

	"github.com/rendis/graphflow/internal/tools"
	"github.com/rendis/graphflow/pkg/schema"
)

// Node is the capability behind a graph node. Execute mutates state in place
// and may return the name of the next node; "" means follow the static edge.
type Node interface {
	Execute(ctx context.Context, state schema.State, tools tools.Set) (next string, err error)
}

// Func adapts a plain function into a Node.
type Func func(ctx context.Context, state schema.State, tools tools.Set) (string, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, state schema.State, tools tools.Set) (string, error) {
	return f(ctx, state, tools)
}

// Configurable capabilities are instantiated once per node spec, at graph
// creation, from the spec's config object.
type Configurable interface {
	Configure(cfg map[string]any) (Node, error)
}

// Router is implemented by nodes whose dynamic targets are known up front,
// so graph creation can reject routes to missing nodes.
type Router interface {
	Targets() []string
}

// TargetsOf returns the static dynamic targets of n, if it is a Router.
func TargetsOf(n Node) []string {
	if r, ok := n.(Router); ok {
		return r.Targets()
	}
	return nil
}

// decodeConfig maps a loosely typed config object onto a typed struct.
func decodeConfig(cfg map[string]any, out any) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "config is not JSON-serializable").WithCause(err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid config: %s", err.Error()).WithCause(err)
	}
	return nil
}

// ConfigureFunc adapts a plain function into a Configurable.
type ConfigureFunc func(cfg map[string]any) (Node, error)

// Configure calls f.
func (f ConfigureFunc) Configure(cfg map[string]any) (Node, error) {
	return f(cfg)
}
