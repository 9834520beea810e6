package validation

import (
	"testing"

	"github.com/rendis/graphflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphValidator_Valid(t *testing.T) {
	gv, err := NewGraphValidator()
	require.NoError(t, err)

	assert.NoError(t, gv.ValidateDefinition(linearDef(), newMockResolver("inc")))
}

func TestGraphValidator_StructuralShortCircuits(t *testing.T) {
	gv, err := NewGraphValidator()
	require.NoError(t, err)

	r := newMockResolver("inc")
	def := linearDef()
	def.Name = ""

	result := gv.Validate(def, r)
	assert.False(t, result.Valid())
	assert.Zero(t, r.calls, "semantic stage must not run after a shape failure")
}

func TestGraphValidator_NilDefinition(t *testing.T) {
	gv, err := NewGraphValidator()
	require.NoError(t, err)

	result := gv.Validate(nil, nil)
	require.Len(t, result.Errors, 1)
}

func TestGraphValidator_ErrorFieldAndCode(t *testing.T) {
	gv, err := NewGraphValidator()
	require.NoError(t, err)

	def := linearDef()
	def.Edges["b"] = schema.Edge("nowhere")

	err = gv.ValidateDefinition(def, newMockResolver("inc"))
	require.Error(t, err)
	gfErr := err.(*schema.Error)
	assert.Equal(t, schema.ErrCodeValidation, gfErr.Code)
	assert.Equal(t, "edges.b", gfErr.Details["field"])
}

func TestGraphValidator_UnknownCapabilityCode(t *testing.T) {
	gv, err := NewGraphValidator()
	require.NoError(t, err)

	err = gv.ValidateDefinition(linearDef(), newMockResolver())
	assert.Equal(t, schema.ErrCodeUnknownCapability, schema.CodeOf(err))
}

func TestResolverFunc(t *testing.T) {
	var seen string
	r := ResolverFunc(func(spec schema.NodeSpec) ([]string, error) {
		seen = spec.Function
		return []string{"x"}, nil
	})
	targets, err := r.Resolve(schema.NodeSpec{Function: "f"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, targets)
	assert.Equal(t, "f", seen)
}
