package review

import (
	"context"

	"github.com/rendis/graphflow/internal/nodes"
	"github.com/rendis/graphflow/internal/tools"
	"github.com/rendis/graphflow/pkg/schema"
)

// GraphID is the fixed id of the built-in code review graph.
const GraphID = "code_review"

// Defaults applied when the initial state leaves them out.
const (
	DefaultThreshold = 0.8
	DefaultMaxLoops  = 3
)

// Node capability names.
const (
	NodeExtract             = "extract"
	NodeCheckComplexity     = "check_complexity"
	NodeDetectIssues        = "detect_issues"
	NodeSuggestImprovements = "suggest_improvements"
	NodeEvaluateQuality     = "evaluate_quality"
)

// RegisterNodes adds the five review capabilities to reg.
func RegisterNodes(reg *nodes.Registry) error {
	all := []struct {
		name string
		desc string
		node nodes.Node
	}{
		{NodeExtract, "Extract functions from source code", nodes.Func(extract)},
		{NodeCheckComplexity, "Compute a toy complexity score", nodes.Func(checkComplexity)},
		{NodeDetectIssues, "Find basic code issues", nodes.Func(detectIssues)},
		{NodeSuggestImprovements, "Suggest improvements and compute a quality score", nodes.Func(suggestImprovements)},
		{NodeEvaluateQuality, "Decide whether to loop or stop based on quality score", evaluateQuality{}},
	}
	for _, n := range all {
		if err := reg.Register(n.name, n.desc, n.node); err != nil {
			return err
		}
	}
	return nil
}

// Register wires tools and nodes in one call.
func Register(tr *tools.Registry, nr *nodes.Registry) error {
	if err := RegisterTools(tr); err != nil {
		return err
	}
	return RegisterNodes(nr)
}

// Definition returns the built-in code review graph. evaluate_quality ends
// the run by default and loops back to suggest_improvements dynamically.
func Definition() schema.GraphDefinition {
	return schema.GraphDefinition{
		ID:          GraphID,
		Name:        "Code Review Mini-Agent",
		Description: "Extract functions, score complexity, detect issues, and refine suggestions until quality is acceptable",
		Nodes: []schema.NodeSpec{
			{Name: NodeExtract, Function: NodeExtract},
			{Name: NodeCheckComplexity, Function: NodeCheckComplexity},
			{Name: NodeDetectIssues, Function: NodeDetectIssues},
			{Name: NodeSuggestImprovements, Function: NodeSuggestImprovements},
			{Name: NodeEvaluateQuality, Function: NodeEvaluateQuality},
		},
		Edges: map[string]*string{
			NodeExtract:             schema.Edge(NodeCheckComplexity),
			NodeCheckComplexity:     schema.Edge(NodeDetectIssues),
			NodeDetectIssues:        schema.Edge(NodeSuggestImprovements),
			NodeSuggestImprovements: schema.Edge(NodeEvaluateQuality),
			NodeEvaluateQuality:     nil,
		},
		StartNode: NodeExtract,
	}
}

func extract(ctx context.Context, state schema.State, ts tools.Set) (string, error) {
	out, err := ts.Call(ctx, ToolExtractFunctions, map[string]any{"code": state["code"]})
	if err != nil {
		return "", err
	}
	state["functions"] = out["functions"]
	return "", nil
}

func checkComplexity(ctx context.Context, state schema.State, ts tools.Set) (string, error) {
	out, err := ts.Call(ctx, ToolCheckComplexity, map[string]any{"code": state["code"]})
	if err != nil {
		return "", err
	}
	state["complexity"] = out
	return "", nil
}

func detectIssues(ctx context.Context, state schema.State, ts tools.Set) (string, error) {
	out, err := ts.Call(ctx, ToolDetectIssues, map[string]any{"code": state["code"]})
	if err != nil {
		return "", err
	}
	state["issues"] = out["issues"]
	state["issue_count"] = out["issue_count"]
	return "", nil
}

func suggestImprovements(ctx context.Context, state schema.State, ts tools.Set) (string, error) {
	score := 0.0
	if c, ok := state["complexity"].(map[string]any); ok {
		score = toFloat(c["complexity_score"], 0)
	}

	out, err := ts.Call(ctx, ToolSuggestImprovements, map[string]any{
		"complexity_score": score,
		"issue_count":      toInt(state["issue_count"], 0),
	})
	if err != nil {
		return "", err
	}
	state["suggestions"] = out["suggestions"]
	state["quality_score"] = out["quality_score"]
	state["iterations"] = toInt(state["iterations"], 0) + 1
	return "", nil
}

type evaluateQuality struct{}

// Execute accepts once quality reaches threshold, gives up after max_loops
// iterations, and otherwise loops back to suggest_improvements.
func (evaluateQuality) Execute(_ context.Context, state schema.State, _ tools.Set) (string, error) {
	threshold := toFloat(state["threshold"], DefaultThreshold)
	quality := toFloat(state["quality_score"], 0)
	iterations := toInt(state["iterations"], 0)
	maxLoops := toInt(state["max_loops"], DefaultMaxLoops)

	if quality >= threshold {
		state["status"] = "accepted"
		state["done"] = true
		return "", nil
	}
	if iterations >= maxLoops {
		state["status"] = "stopped_max_loops"
		state["done"] = true
		return "", nil
	}
	return NodeSuggestImprovements, nil
}

// Targets exposes the loop-back edge for validation and diagrams.
func (evaluateQuality) Targets() []string {
	return []string{NodeSuggestImprovements}
}
