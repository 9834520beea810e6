package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/graphflow/pkg/schema"
)

// Registry is the process-wide, thread-safe set of tools available to runs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. Returns error on duplicate name.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	name := tool.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownCapability, "tool %q not registered", name)
	}
	return tool, nil
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns info for all registered tools, sorted by name.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, ToolInfo{
			Name:        t.Name(),
			Description: t.Schema().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Bind resolves tool bindings for one run. An empty list binds every
// registered tool; any unknown name fails with UNKNOWN_CAPABILITY.
func (r *Registry) Bind(names []string) (Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		set := make(Set, len(r.tools))
		for name, t := range r.tools {
			set[name] = t
		}
		return set, nil
	}

	set := make(Set, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownCapability, "tool binding %q not registered", name).
				WithDetails(map[string]any{"tool": name})
		}
		set[name] = t
	}
	return set, nil
}

// Set is the immutable collection of tools bound to a single run.
type Set map[string]Tool

// Get returns the named tool if it is bound.
func (s Set) Get(name string) (Tool, bool) {
	t, ok := s[name]
	return t, ok
}

// Call invokes a bound tool by name.
func (s Set) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	t, ok := s[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownCapability, "tool %q is not bound to this run", name)
	}
	return t.Call(ctx, args)
}

// Names returns the bound tool names, sorted.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
