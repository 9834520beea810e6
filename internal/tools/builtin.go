package tools

import (
	"context"

	"github.com/rendis/graphflow/internal/expressions"
	"github.com/rendis/graphflow/pkg/schema"
)

// RegisterBuiltins registers the expression and crypto tools every
// deployment carries.
func RegisterBuiltins(reg *Registry) error {
	all := []Tool{
		&exprEvalTool{engine: expressions.NewExprEngine()},
		&jqTool{engine: expressions.NewGoJQEngine()},
	}
	all = append(all, CryptoTools()...)
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// --- expr.eval ---

type exprEvalTool struct {
	engine *expressions.ExprEngine
}

func (t *exprEvalTool) Name() string { return "expr.eval" }

func (t *exprEvalTool) Schema() ToolSchema {
	return ToolSchema{Description: "Evaluate an Expr expression against the 'data' argument"}
}

func (t *exprEvalTool) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	expression, _ := args["expression"].(string)
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expr.eval requires non-empty 'expression' string argument")
	}
	data, _ := args["data"].(map[string]any)

	result, err := t.engine.Evaluate(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

// --- jq ---

type jqTool struct {
	engine *expressions.GoJQEngine
}

func (t *jqTool) Name() string { return "jq" }

func (t *jqTool) Schema() ToolSchema {
	return ToolSchema{Description: "Run a jq query over the 'data' argument"}
}

func (t *jqTool) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq requires non-empty 'query' string argument")
	}
	data, _ := args["data"].(map[string]any)

	result, err := t.engine.Evaluate(ctx, query, data)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}
