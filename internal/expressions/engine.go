package expressions

import "context"

// Engine evaluates expressions against a run's state.
// Three implementations: CEL (routing predicates), Expr (assignments), GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Compiler is implemented by engines that can check an expression ahead of
// evaluation, so graph creation rejects broken expressions instead of runs.
type Compiler interface {
	Compile(expression string) error
}
