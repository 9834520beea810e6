// Package review implements the code-review mini agent: four analysis tools,
// the nodes that drive them, and the built-in graph that loops on quality.
package review

import (
	"context"
	"math"
	"strings"

	"github.com/rendis/graphflow/internal/tools"
	"github.com/rendis/graphflow/pkg/schema"
)

// Tool names.
const (
	ToolExtractFunctions    = "extract_functions"
	ToolCheckComplexity     = "check_complexity"
	ToolDetectIssues        = "detect_issues"
	ToolSuggestImprovements = "suggest_improvements"
)

var controlKeywords = []string{" if ", " for ", " while ", " elif ", " case "}

// ExtractFunctions lists names of lines starting with "def ".
func ExtractFunctions(code string) []string {
	functions := []string{}
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(trimmed, "def ")
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, "(")
		if name = strings.TrimSpace(name); name != "" {
			functions = append(functions, name)
		}
	}
	return functions
}

// Complexity is the result of CheckComplexity.
type Complexity struct {
	Lines            int
	ControlFlowCount int
	Score            float64
}

// CheckComplexity scores code in [0,1] from its line count and control-flow keywords.
func CheckComplexity(code string) Complexity {
	lines := countLines(code)
	control := 0
	for _, kw := range controlKeywords {
		control += strings.Count(code, kw)
	}
	return Complexity{
		Lines:            lines,
		ControlFlowCount: control,
		Score:            math.Min(1.0, float64(lines)/100.0+float64(control)/50.0),
	}
}

// DetectIssues applies a fixed set of textual rules.
func DetectIssues(code string) []string {
	issues := []string{}
	if strings.Contains(code, "TODO") {
		issues = append(issues, "Found TODO comments in the code.")
	}
	if strings.Contains(code, "print(") {
		issues = append(issues, "Debug 'print' statements present.")
	}
	if len(code) > 2000 {
		issues = append(issues, "File is quite long; consider splitting it.")
	}
	if strings.Contains(code, "import *") {
		issues = append(issues, "Wildcard imports detected; prefer explicit imports.")
	}
	return issues
}

// SuggestImprovements returns suggestions and a quality score in [0,1].
func SuggestImprovements(complexityScore float64, issueCount int) ([]string, float64) {
	suggestions := []string{}
	if complexityScore > 0.7 {
		suggestions = append(suggestions, "Refactor large or complex functions into smaller units.")
	}
	if issueCount > 0 {
		suggestions = append(suggestions, "Address the detected issues before merging.")
	}
	if complexityScore <= 0.3 && issueCount == 0 {
		suggestions = append(suggestions, "Code looks clean and simple. Good job!")
	}
	quality := math.Max(0.0, 1.0-0.5*complexityScore-0.1*float64(issueCount))
	return suggestions, quality
}

// countLines matches splitlines semantics: a trailing newline adds no line.
func countLines(code string) int {
	if code == "" {
		return 0
	}
	return len(strings.Split(strings.TrimSuffix(code, "\n"), "\n"))
}

// RegisterTools adds the four analysis tools to reg.
func RegisterTools(reg *tools.Registry) error {
	all := []tools.Tool{
		tools.NewFunc(ToolExtractFunctions, "Extract function names from source code", extractFunctionsTool),
		tools.NewFunc(ToolCheckComplexity, "Compute a toy complexity score", checkComplexityTool),
		tools.NewFunc(ToolDetectIssues, "Find basic code issues", detectIssuesTool),
		tools.NewFunc(ToolSuggestImprovements, "Suggest improvements and compute a quality score", suggestImprovementsTool),
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func extractFunctionsTool(_ context.Context, args map[string]any) (map[string]any, error) {
	code, err := codeArg(args)
	if err != nil {
		return nil, err
	}
	return map[string]any{"functions": toAnySlice(ExtractFunctions(code))}, nil
}

func checkComplexityTool(_ context.Context, args map[string]any) (map[string]any, error) {
	code, err := codeArg(args)
	if err != nil {
		return nil, err
	}
	c := CheckComplexity(code)
	return map[string]any{
		"lines":              c.Lines,
		"control_flow_count": c.ControlFlowCount,
		"complexity_score":   c.Score,
	}, nil
}

func detectIssuesTool(_ context.Context, args map[string]any) (map[string]any, error) {
	code, err := codeArg(args)
	if err != nil {
		return nil, err
	}
	issues := DetectIssues(code)
	return map[string]any{"issues": toAnySlice(issues), "issue_count": len(issues)}, nil
}

func suggestImprovementsTool(_ context.Context, args map[string]any) (map[string]any, error) {
	suggestions, quality := SuggestImprovements(
		toFloat(args["complexity_score"], 0),
		toInt(args["issue_count"], 0),
	)
	return map[string]any{"suggestions": toAnySlice(suggestions), "quality_score": quality}, nil
}

func codeArg(args map[string]any) (string, error) {
	v, ok := args["code"]
	if !ok || v == nil {
		return "", nil
	}
	code, ok := v.(string)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "'code' must be a string, got %T", v)
	}
	return code, nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func toFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	default:
		return def
	}
}

func toInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case int32:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return def
	}
}
