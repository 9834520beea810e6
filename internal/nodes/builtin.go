package nodes

import (
	"context"
	"fmt"
	"sort"

	"github.com/rendis/graphflow/internal/expressions"
	"github.com/rendis/graphflow/internal/tools"
	"github.com/rendis/graphflow/internal/validation"
	"github.com/rendis/graphflow/pkg/schema"
)

// RegisterBuiltins registers the declarative node capabilities:
// cel.route, expr.set, jq.transform, schema.validate and tool.call.
func RegisterBuiltins(reg *Registry) error {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}
	jsv, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}

	builtins := []struct {
		name string
		desc string
		cap  Configurable
	}{
		{"cel.route", "Route to the first node whose CEL predicate over state holds", &celRouteFactory{engine: celEngine}},
		{"expr.set", "Assign state keys from Expr expressions, optionally choosing the next node", &exprSetFactory{engine: expressions.NewExprEngine()}},
		{"jq.transform", "Run a jq query over state and store or merge the result", &jqTransformFactory{engine: expressions.NewGoJQEngine()}},
		{"schema.validate", "Validate state against a JSON Schema", &schemaValidateFactory{validator: jsv}},
		{"tool.call", "Call a bound tool with arguments computed from state", &toolCallFactory{engine: expressions.NewExprEngine()}},
	}
	for _, b := range builtins {
		if err := reg.RegisterConfigurable(b.name, b.desc, b.cap); err != nil {
			return err
		}
	}
	return nil
}

// --- cel.route ---

type celRoute struct {
	When string `json:"when"`
	To   string `json:"to"`
}

type celRouteConfig struct {
	Routes  []celRoute `json:"routes"`
	Default string     `json:"default"`
}

type celRouteFactory struct {
	engine *expressions.CELEngine
}

func (f *celRouteFactory) Configure(cfg map[string]any) (Node, error) {
	var c celRouteConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if len(c.Routes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "cel.route requires at least one route")
	}
	for i, r := range c.Routes {
		if r.To == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "cel.route routes[%d] has no target", i)
		}
		if err := f.engine.Compile(r.When); err != nil {
			return nil, err
		}
	}
	return &celRouteNode{engine: f.engine, cfg: c}, nil
}

type celRouteNode struct {
	engine *expressions.CELEngine
	cfg    celRouteConfig
}

// Execute picks the first matching route. With no match it returns the
// default, which may be empty to fall through to the static edge.
func (n *celRouteNode) Execute(ctx context.Context, state schema.State, _ tools.Set) (string, error) {
	data := map[string]any{"state": state}
	for _, r := range n.cfg.Routes {
		ok, err := n.engine.EvaluateBool(ctx, r.When, data)
		if err != nil {
			return "", err
		}
		if ok {
			return r.To, nil
		}
	}
	return n.cfg.Default, nil
}

func (n *celRouteNode) Targets() []string {
	out := make([]string, 0, len(n.cfg.Routes)+1)
	for _, r := range n.cfg.Routes {
		out = append(out, r.To)
	}
	if n.cfg.Default != "" {
		out = append(out, n.cfg.Default)
	}
	return out
}

// --- expr.set ---

type exprSetConfig struct {
	Assign map[string]string `json:"assign"`
	Next   string            `json:"next"`
}

type exprSetFactory struct {
	engine *expressions.ExprEngine
}

func (f *exprSetFactory) Configure(cfg map[string]any) (Node, error) {
	var c exprSetConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if len(c.Assign) == 0 && c.Next == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expr.set requires 'assign' or 'next'")
	}

	keys := make([]string, 0, len(c.Assign))
	for k, expression := range c.Assign {
		if err := f.engine.Compile(expression); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if c.Next != "" {
		if err := f.engine.Compile(c.Next); err != nil {
			return nil, err
		}
	}
	return &exprSetNode{engine: f.engine, cfg: c, keys: keys}, nil
}

type exprSetNode struct {
	engine *expressions.ExprEngine
	cfg    exprSetConfig
	keys   []string
}

// Execute applies assignments in key order, each seeing the ones before it,
// then evaluates the optional next expression.
func (n *exprSetNode) Execute(ctx context.Context, state schema.State, _ tools.Set) (string, error) {
	for _, k := range n.keys {
		v, err := n.engine.Evaluate(ctx, n.cfg.Assign[k], state)
		if err != nil {
			return "", err
		}
		state[k] = v
	}

	if n.cfg.Next == "" {
		return "", nil
	}
	out, err := n.engine.Evaluate(ctx, n.cfg.Next, state)
	if err != nil {
		return "", err
	}
	switch next := out.(type) {
	case nil:
		return "", nil
	case string:
		return next, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeExecution,
			"expr.set next expression returned %T, want string", out)
	}
}

// --- jq.transform ---

type jqTransformConfig struct {
	Query  string `json:"query"`
	Target string `json:"target"`
}

type jqTransformFactory struct {
	engine *expressions.GoJQEngine
}

func (f *jqTransformFactory) Configure(cfg map[string]any) (Node, error) {
	var c jqTransformConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if err := f.engine.Compile(c.Query); err != nil {
		return nil, err
	}
	return &jqTransformNode{engine: f.engine, cfg: c}, nil
}

type jqTransformNode struct {
	engine *expressions.GoJQEngine
	cfg    jqTransformConfig
}

// Execute stores the query result under target, or merges it into state
// when no target is set and the result is an object.
func (n *jqTransformNode) Execute(ctx context.Context, state schema.State, _ tools.Set) (string, error) {
	out, err := n.engine.Evaluate(ctx, n.cfg.Query, state)
	if err != nil {
		return "", err
	}
	if n.cfg.Target != "" {
		state[n.cfg.Target] = out
		return "", nil
	}
	obj, ok := out.(map[string]any)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeExecution,
			"jq.transform without target needs an object result, got %T", out)
	}
	for k, v := range obj {
		state[k] = v
	}
	return "", nil
}

// --- schema.validate ---

type schemaValidateConfig struct {
	Schema    map[string]any `json:"schema"`
	OnInvalid string         `json:"on_invalid"`
	ErrorsKey string         `json:"errors_key"`
}

type schemaValidateFactory struct {
	validator *validation.JSONSchemaValidator
}

func (f *schemaValidateFactory) Configure(cfg map[string]any) (Node, error) {
	var c schemaValidateConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if len(c.Schema) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "schema.validate requires a 'schema' object")
	}
	if _, err := f.validator.CompileSchema(c.Schema); err != nil {
		return nil, err
	}
	if c.ErrorsKey == "" {
		c.ErrorsKey = "validation_errors"
	}
	return &schemaValidateNode{validator: f.validator, cfg: c}, nil
}

type schemaValidateNode struct {
	validator *validation.JSONSchemaValidator
	cfg       schemaValidateConfig
}

// Execute fails the node on invalid state unless on_invalid names a node to
// route to, in which case the violations are written to state first.
func (n *schemaValidateNode) Execute(_ context.Context, state schema.State, _ tools.Set) (string, error) {
	err := n.validator.ValidateDocument(state, n.cfg.Schema)
	if err == nil {
		return "", nil
	}
	if n.cfg.OnInvalid == "" {
		return "", err
	}

	var violations []any
	if gfErr, ok := err.(*schema.Error); ok {
		if vs, ok := gfErr.Details["violations"].([]validation.Violation); ok {
			for _, v := range vs {
				violations = append(violations, v.String())
			}
		}
	}
	if len(violations) == 0 {
		violations = []any{fmt.Sprint(err)}
	}
	state[n.cfg.ErrorsKey] = violations
	return n.cfg.OnInvalid, nil
}

func (n *schemaValidateNode) Targets() []string {
	if n.cfg.OnInvalid == "" {
		return nil
	}
	return []string{n.cfg.OnInvalid}
}

// --- tool.call ---

type toolCallConfig struct {
	Tool string `json:"tool"`
	// Args maps argument names to Expr expressions over state.
	Args   map[string]string `json:"args"`
	Target string            `json:"target"`
}

type toolCallFactory struct {
	engine *expressions.ExprEngine
}

func (f *toolCallFactory) Configure(cfg map[string]any) (Node, error) {
	var c toolCallConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.Tool == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "tool.call requires 'tool'")
	}
	for _, expression := range c.Args {
		if err := f.engine.Compile(expression); err != nil {
			return nil, err
		}
	}
	return &toolCallNode{engine: f.engine, cfg: c}, nil
}

type toolCallNode struct {
	engine *expressions.ExprEngine
	cfg    toolCallConfig
}

// Execute stores the tool output under target, or merges it into state when
// no target is set. A tool missing from the run's bindings fails the node.
func (n *toolCallNode) Execute(ctx context.Context, state schema.State, ts tools.Set) (string, error) {
	args := make(map[string]any, len(n.cfg.Args))
	for name, expression := range n.cfg.Args {
		v, err := n.engine.Evaluate(ctx, expression, state)
		if err != nil {
			return "", err
		}
		args[name] = v
	}

	out, err := ts.Call(ctx, n.cfg.Tool, args)
	if err != nil {
		return "", err
	}
	if n.cfg.Target != "" {
		state[n.cfg.Target] = out
		return "", nil
	}
	for k, v := range out {
		state[k] = v
	}
	return "", nil
}
