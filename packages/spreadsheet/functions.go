package spreadsheet

import (
	"math/rand/v2"
	"time"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// CriterionEvaluator computes conditional aggregates, going through the
// criterion cache
type CriterionEvaluator interface {
	Compute(op AggregateOp, values RangeAddress, conditions []Condition) (Primitive, CacheOutcome)
}

// FunctionContext is what a function sees of the engine while it runs
type FunctionContext struct {
	Address   Address // the formula being evaluated
	Clock     Clock
	Random    RandomGenerator
	Criterion CriterionEvaluator
}

// FunctionLibrary evaluates spreadsheet functions. arguments are resolved
// before the call: each is a Primitive or a Range. errors are returned as
// *SpreadsheetError values.
type FunctionLibrary interface {
	Evaluate(name string, args []Value, ctx *FunctionContext) Primitive
	IsVolatile(name string) bool
	Has(name string) bool
}
