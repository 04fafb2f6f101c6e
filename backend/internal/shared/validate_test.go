package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleInput struct {
	Name    string `json:"name" validate:"notblank,max=10"`
	Kind    string `json:"kind" validate:"required,oneof=a b"`
	Quarter int    `json:"quarter" validate:"min=1,max=4"`
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var e *Error
	require.True(t, errors.As(err, &e))
	out := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		out[f.Field] = f.Message
	}
	return out
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(sampleInput{Name: "Quiz", Kind: "a", Quarter: 2}))

	err := ValidateStruct(sampleInput{Name: "   ", Quarter: 5})
	require.True(t, errors.Is(err, ErrValidation))

	fields := fieldsOf(t, err)
	assert.Len(t, fields, 3)
	assert.Equal(t, "this field cannot be blank", fields["name"])
	assert.Equal(t, "this field is required", fields["kind"])
	assert.Contains(t, fields, "quarter")
}

func TestValidateStruct_UsesJSONNames(t *testing.T) {
	err := ValidateStruct(sampleInput{Name: "a very long name", Kind: "c", Quarter: 1})
	fields := fieldsOf(t, err)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "kind")
	assert.NotContains(t, fields, "Name")
}
