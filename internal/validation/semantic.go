package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/graphflow/pkg/schema"
)

// validateSemantic performs the structural checks JSON Schema cannot express.
// Checks run in a fixed order so the first reported issue is deterministic:
// unique names, start node, edge sources, edge targets, capabilities, router targets.
func validateSemantic(def *schema.GraphDefinition, resolver Resolver) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	names := make(map[string]bool, len(def.Nodes))
	for i, n := range def.Nodes {
		if names[n.Name] {
			result.AddError(fmt.Sprintf("nodes[%d].name", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node name %q", n.Name))
			continue
		}
		names[n.Name] = true
	}

	if !names[def.StartNode] {
		result.AddError("start_node", schema.ErrCodeValidation,
			fmt.Sprintf("start node %q is not a node of the graph", def.StartNode))
	}

	sources := sortedEdgeSources(def.Edges)
	for _, src := range sources {
		if !names[src] {
			result.AddError("edges."+src, schema.ErrCodeValidation,
				fmt.Sprintf("edge source %q is not a node of the graph", src))
		}
	}
	for _, src := range sources {
		dst := def.Edges[src]
		if dst != nil && !names[*dst] {
			result.AddError("edges."+src, schema.ErrCodeValidation,
				fmt.Sprintf("edge target %q is not a node of the graph", *dst))
		}
	}

	if resolver == nil {
		return result
	}

	type routed struct {
		path    string
		targets []string
	}
	var routers []routed
	for i, n := range def.Nodes {
		path := fmt.Sprintf("nodes[%d].function", i)
		targets, err := resolver.Resolve(n)
		if err != nil {
			code := schema.CodeOf(err)
			if code == "" {
				code = schema.ErrCodeValidation
			}
			result.AddError(path, code, fmt.Sprintf("node %q: %s", n.Name, errMessage(err)))
			continue
		}
		if len(targets) > 0 {
			routers = append(routers, routed{path: fmt.Sprintf("nodes[%d].config", i), targets: targets})
		}
	}

	for _, r := range routers {
		for _, t := range r.targets {
			if t != "" && !names[t] {
				result.AddError(r.path, schema.ErrCodeValidation,
					fmt.Sprintf("router target %q is not a node of the graph", t))
			}
		}
	}

	return result
}

func sortedEdgeSources(edges map[string]*string) []string {
	out := make([]string, 0, len(edges))
	for k := range edges {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func errMessage(err error) string {
	if e, ok := err.(*schema.Error); ok {
		return e.Message
	}
	return err.Error()
}
