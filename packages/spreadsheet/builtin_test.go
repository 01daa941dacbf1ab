package spreadsheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltInFunctionsEvaluate(t *testing.T) {
	bf := NewDefaultBuiltInFunctions()
	ctx := &FunctionContext{Clock: &WallClock{}, Random: &DefaultRandomGenerator{}}

	tests := []struct {
		name string
		fn   string
		args []Value
		want Primitive
	}{
		{"sum of numbers", "SUM", []Value{1.0, 2.0, 3.5}, 6.5},
		{"lower-case name", "sum", []Value{4.0}, 4.0},
		{"no arguments", "SUM", nil, 0.0},
		{"concatenate", "CONCATENATE", []Value{"a", "b"}, "ab"},
		{"not", "NOT", []Value{false}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bf.Evaluate(tt.fn, tt.args, ctx))
		})
	}

	unknown := bf.Evaluate("NOPE", []Value{1.0}, ctx)
	require.IsType(t, &SpreadsheetError{}, unknown)
	assert.Equal(t, ErrorCodeName, unknown.(*SpreadsheetError).ErrorCode)

	// an error argument propagates
	div := NewSpreadsheetError(ErrorCodeDiv0, "")
	assert.Equal(t, div, bf.Evaluate("SUM", []Value{1.0, div}, ctx))
}

func TestBuiltInFunctionsCall(t *testing.T) {
	bf := NewDefaultBuiltInFunctions()

	result, err := bf.Call("SUM", 1.0, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, result)

	_, err = bf.Call("NOPE")
	var spreadsheetErr *SpreadsheetError
	require.True(t, errors.As(err, &spreadsheetErr))
	assert.Equal(t, ErrorCodeName, spreadsheetErr.ErrorCode)

	assert.True(t, bf.Has("median"))
	assert.False(t, bf.Has("NOPE"))
}
