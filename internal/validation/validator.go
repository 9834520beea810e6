package validation

import "github.com/rendis/graphflow/pkg/schema"

// Resolver resolves a node's capability during validation. It returns the
// dynamic targets the capability can name, when they are known statically.
type Resolver interface {
	Resolve(spec schema.NodeSpec) (targets []string, err error)
}

// ResolverFunc adapts a function into a Resolver.
type ResolverFunc func(spec schema.NodeSpec) ([]string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(spec schema.NodeSpec) ([]string, error) {
	return f(spec)
}

// GraphValidator runs the two-stage validation pipeline for graph definitions:
// 1. Structural (JSON Schema)
// 2. Semantic (names, start node, edges, capabilities, router targets)
type GraphValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewGraphValidator creates a GraphValidator.
func NewGraphValidator() (*GraphValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the semantic stage. resolver may be nil
// to skip capability checks.
func (gv *GraphValidator) Validate(def *schema.GraphDefinition, resolver Resolver) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "graph definition is nil")
		return r
	}

	result := validateStructural(gv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, resolver))
	return result
}

// ValidateDefinition is Validate folded into a single error.
func (gv *GraphValidator) ValidateDefinition(def *schema.GraphDefinition, resolver Resolver) error {
	return gv.Validate(def, resolver).ToError()
}

// validateStructural converts JSON Schema violations into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.GraphDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	gfErr, ok := err.(*schema.Error)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if gfErr.Details != nil {
		if violations, ok := gfErr.Details["violations"].([]Violation); ok {
			for _, v := range violations {
				result.AddError(v.Path, schema.ErrCodeValidation, v.Message)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, gfErr.Message)
	return result
}
