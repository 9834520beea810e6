package diagram

import (
	"fmt"

	"github.com/rendis/graphflow/internal/graph"
	"github.com/rendis/graphflow/pkg/schema"
)

// Build constructs a DiagramModel from a graph and an optional run whose trace
// is overlaid on it. Static edges are solid; declared router targets and
// overrides observed in the trace are dynamic.
func Build(g *graph.Graph, run *schema.RunResult) (*DiagramModel, error) {
	if g == nil {
		return nil, fmt.Errorf("diagram: graph is nil")
	}
	if run != nil && run.GraphID != g.ID {
		return nil, fmt.Errorf("diagram: run %s belongs to graph %s, not %s", run.RunID, run.GraphID, g.ID)
	}

	names := g.NodeNames()
	nodes := make([]*Node, 0, len(names)+2)
	nodes = append(nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	for _, name := range names {
		nodes = append(nodes, graphNode(g, name))
	}
	nodes = append(nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})

	edges := buildEdges(g, names)
	model := &DiagramModel{
		Title: titleFromGraph(g),
		Nodes: nodes,
		Edges: edges,
	}
	if run != nil {
		overlayRun(model, g, run)
	}
	model.Levels = buildLevels(model.Edges, names)
	return model, nil
}

func graphNode(g *graph.Graph, name string) *Node {
	nd := g.Nodes[name]
	kind := NodeKindNode
	if len(g.DynamicTargets(name)) > 0 {
		kind = NodeKindRouter
	}
	label := name
	if nd.Function != name {
		label = fmt.Sprintf("%s\n(%s)", name, nd.Function)
	}
	return &Node{ID: name, Label: label, Kind: kind}
}

// buildEdges emits start, static, dynamic and end edges in a stable order.
func buildEdges(g *graph.Graph, names []string) []Edge {
	edges := []Edge{{From: StartID, To: g.StartNode}}
	for _, name := range names {
		next := g.Next(name)
		if next != "" {
			edges = append(edges, Edge{From: name, To: next})
		}
		for _, target := range g.DynamicTargets(name) {
			if target == next || hasEdge(edges, name, target) {
				continue
			}
			edges = append(edges, Edge{From: name, To: target, Dynamic: true})
		}
		if next == "" {
			edges = append(edges, Edge{From: name, To: EndID})
		}
	}
	return edges
}

func hasEdge(edges []Edge, from, to string) bool {
	return edgeIndex(edges, from, to) >= 0
}

func edgeIndex(edges []Edge, from, to string) int {
	for i, e := range edges {
		if e.From == from && e.To == to {
			return i
		}
	}
	return -1
}

// overlayRun marks visited nodes and taken edges. Overrides to nodes the
// graph does not declare as targets become dynamic edges.
func overlayRun(model *DiagramModel, g *graph.Graph, run *schema.RunResult) {
	model.RunStatus = string(run.Status)
	byID := make(map[string]*Node, len(model.Nodes))
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}

	if len(run.Trace) > 0 {
		if i := edgeIndex(model.Edges, StartID, g.StartNode); i >= 0 {
			model.Edges[i].Taken = 1
		}
	}

	for _, rec := range run.Trace {
		n, ok := byID[rec.Node]
		if !ok {
			continue
		}
		if n.Status == nil {
			n.Status = &StatusOverlay{Status: "completed"}
		}
		n.Status.Visits++
		n.Status.DurationMs += rec.DurationMs
		if rec.Error != nil {
			n.Status.Status = "failed"
			n.Status.Error = rec.Error.Message
			continue
		}

		to := EndID
		if rec.NextNode != nil {
			to = *rec.NextNode
		}
		if _, known := byID[to]; !known {
			continue
		}
		i := edgeIndex(model.Edges, rec.Node, to)
		if i < 0 {
			model.Edges = append(model.Edges, Edge{From: rec.Node, To: to, Dynamic: true})
			i = len(model.Edges) - 1
		}
		model.Edges[i].Taken++
	}

	// Run-level failures not tied to a failing step (dangling target, step cap,
	// cancellation) land on the node that was about to run or just ran.
	if run.Error != nil && run.Error.Node != "" {
		if n, ok := byID[run.Error.Node]; ok && n.Status != nil && n.Status.Error == "" {
			n.Status.Error = run.Error.Message
			if run.Status == schema.RunStatusFailed {
				n.Status.Status = "failed"
			}
		}
	}
	if run.Status == schema.RunStatusRunning && run.CurrentNode != "" {
		if n, ok := byID[run.CurrentNode]; ok {
			if n.Status == nil {
				n.Status = &StatusOverlay{}
			}
			n.Status.Status = "running"
		}
	}
}

// buildLevels assigns every node to the breadth-first depth at which it is
// first reached from the start node. Unreachable nodes share a level placed
// before the end node.
func buildLevels(edges []Edge, names []string) [][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.To == EndID {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
	}

	seen := map[string]bool{StartID: true}
	levels := [][]string{{StartID}}
	frontier := []string{StartID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			for _, to := range adj[id] {
				if !seen[to] {
					seen[to] = true
					next = append(next, to)
				}
			}
		}
		if len(next) > 0 {
			levels = append(levels, next)
		}
		frontier = next
	}

	var orphans []string
	for _, name := range names {
		if !seen[name] {
			orphans = append(orphans, name)
		}
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return append(levels, []string{EndID})
}

// titleFromGraph generates a diagram title from graph metadata.
func titleFromGraph(g *graph.Graph) string {
	if g.Name != "" {
		return g.Name
	}
	return g.ID
}
