package schema

// GraphDefinition is the transport-agnostic input shape for creating a graph.
type GraphDefinition struct {
	// ID is optional; built-in catalogs pin it, API callers leave it empty.
	ID          string             `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []NodeSpec         `json:"nodes" yaml:"nodes"`
	Edges       map[string]*string `json:"edges" yaml:"edges"`
	StartNode   string             `json:"start_node" yaml:"start_node"`
}

// NodeSpec names a node inside a graph and the registered capability it runs.
type NodeSpec struct {
	Name     string         `json:"name" yaml:"name"`
	Function string         `json:"function" yaml:"function"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Edge returns a pointer to name, for building Edges literals.
func Edge(name string) *string {
	return &name
}
