package tools

import (
	"context"
	"encoding/json"
)

// Tool is a named helper that nodes call through the Set bound to their run.
type Tool interface {
	Name() string
	Schema() ToolSchema
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ToolSchema describes the input/output contract of a tool.
type ToolSchema struct {
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// ToolInfo is a summary of a registered tool for listing.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CallFunc is the signature wrapped by Func.
type CallFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Func adapts a plain function into a Tool.
type Func struct {
	name string
	desc string
	fn   CallFunc
}

// NewFunc returns a Tool that delegates to fn.
func NewFunc(name, description string, fn CallFunc) *Func {
	return &Func{name: name, desc: description, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Schema() ToolSchema { return ToolSchema{Description: f.desc} }

func (f *Func) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	return f.fn(ctx, args)
}
