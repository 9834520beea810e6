package nodes

import (
	"sort"
	"sync"

	"github.com/rendis/graphflow/pkg/schema"
)

// Info is a summary of a registered capability for listing.
type Info struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Configurable bool   `json:"configurable"`
}

type capability struct {
	info    Info
	node    Node
	factory Configurable
}

// Registry maps function names to node capabilities. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]capability
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]capability)}
}

// Register adds a ready-made node under name.
func (r *Registry) Register(name, description string, n Node) error {
	if n == nil {
		return schema.NewError(schema.ErrCodeValidation, "node is nil")
	}
	return r.add(name, capability{info: Info{Name: name, Description: description}, node: n})
}

// RegisterFunc is Register for a plain function.
func (r *Registry) RegisterFunc(name, description string, fn Func) error {
	if fn == nil {
		return schema.NewError(schema.ErrCodeValidation, "node function is nil")
	}
	return r.Register(name, description, fn)
}

// RegisterConfigurable adds a capability instantiated per node spec.
func (r *Registry) RegisterConfigurable(name, description string, c Configurable) error {
	if c == nil {
		return schema.NewError(schema.ErrCodeValidation, "configurable capability is nil")
	}
	return r.add(name, capability{
		info:    Info{Name: name, Description: description, Configurable: true},
		factory: c,
	})
}

func (r *Registry) add(name string, c capability) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "capability name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "capability %q already registered", name)
	}
	r.caps[name] = c
	return nil
}

// Resolve returns the node for function, configuring it with cfg when the
// capability is configurable. Plain nodes reject a non-empty config.
func (r *Registry) Resolve(function string, cfg map[string]any) (Node, error) {
	r.mu.RLock()
	c, ok := r.caps[function]
	r.mu.RUnlock()

	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownCapability, "capability %q not registered", function).
			WithDetails(map[string]any{"function": function})
	}

	if c.factory == nil {
		if len(cfg) > 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "capability %q does not accept config", function)
		}
		return c.node, nil
	}

	if cfg == nil {
		cfg = map[string]any{}
	}
	n, err := c.factory.Configure(cfg)
	if err != nil {
		if schema.CodeOf(err) != "" {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "configure %q: %s", function, err.Error()).WithCause(err)
	}
	return n, nil
}

// Has checks if a capability is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.caps[name]
	return ok
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

// List returns every registered capability, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.caps))
	for _, c := range r.caps {
		infos = append(infos, c.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
