package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count" validate:"gte=0"`
	Skip  string `json:"-"`
}

func TestValidateOk(t *testing.T) {
	v := New()
	fieldErrors, ok := v.Validate(sample{Name: "x", Count: 3})
	assert.True(t, ok)
	assert.Empty(t, fieldErrors)
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	v := New()
	fieldErrors, ok := v.Validate(sample{Count: -1})
	require.False(t, ok)
	require.Len(t, fieldErrors, 2)

	assert.Equal(t, "name", fieldErrors[0].Field)
	assert.Equal(t, "REQUIRED", fieldErrors[0].Code)
	assert.Equal(t, "name is required", fieldErrors[0].Message)

	assert.Equal(t, "count", fieldErrors[1].Field)
	assert.Equal(t, "count must be at least 0", fieldErrors[1].Message)
}

func TestValidatePointer(t *testing.T) {
	v := New()
	_, ok := v.Validate(&sample{Name: "x"})
	assert.True(t, ok)
}
