package spreadsheet

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCriterion(t *testing.T) {
	na := NewSpreadsheetError(ErrorCodeNA, "")
	tests := []struct {
		criterion Primitive
		value     Primitive
		want      bool
	}{
		{5.0, 5.0, true},
		{5.0, 6.0, false},
		{5.0, "abc", false},
		{">3", 4.0, true},
		{">3", 3.0, false},
		{">3", "x", false},
		{">=2.5", 2.5, true},
		{"<10", -1.0, true},
		{"<>3", "x", true},
		{"<>3", 3.0, false},
		{"apple", "APPLE", true},
		{"apple", "apples", false},
		{"a*", "avocado", true},
		{"a?c", "abc", true},
		{"a?c", "abbc", false},
		{"*an*", "banana", true},
		{"~*", "*", true},
		{"~*", "x", false},
		{"<>apple", "pear", true},
		{"<>apple", "Apple", false},
		{"=", nil, true},
		{"=", "", true},
		{"=", "a", false},
		{"<>", "a", true},
		{"<>", nil, false},
		{"TRUE", true, true},
		{"TRUE", "TRUE", false},
		{true, true, true},
		{false, true, false},
		{"#N/A", na, true},
		{"<>#N/A", na, false},
		{na, na, true},
		{">b", "C", true},
		{">b", "a", false},
		{nil, nil, true},
		{nil, 0.0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/%v", tt.criterion, tt.value), func(t *testing.T) {
			assert.Equal(t, tt.want, parseCriterion(tt.criterion)(tt.value))
		})
	}
}

// criterionFixture is a small sheet: A1:A4 holds numbers, B1:B4 labels
type criterionFixture struct {
	graph  *DependencyGraph
	values map[Address]Primitive
	stats  *Statistics
	cache  *CriterionCache
}

func newCriterionFixture() *criterionFixture {
	f := &criterionFixture{
		graph:  NewDependencyGraph(),
		values: make(map[Address]Primitive),
		stats:  NewStatistics(),
	}
	labels := []string{"x", "y", "x", "x"}
	for row := range uint32(4) {
		f.values[NewAddress(1, row, 0)] = float64(row + 1)
		f.values[NewAddress(1, row, 1)] = labels[row]
	}
	f.cache = NewCriterionCache(f.graph, func(addr Address) Primitive { return f.values[addr] }, f.stats)
	return f
}

func column(col, fromRow, toRow uint32) RangeAddress {
	return NewRangeAddress(NewAddress(1, fromRow, col), NewAddress(1, toRow, col))
}

func (f *criterionFixture) sumX(values, labels RangeAddress) (Primitive, CacheOutcome) {
	return f.cache.Compute(AggregateSum, values, []Condition{{Range: labels, Criterion: "x"}})
}

func TestCriterionCacheOutcomes(t *testing.T) {
	f := newCriterionFixture()
	short, shortLabels := column(0, 0, 2), column(1, 0, 2)
	long, longLabels := column(0, 0, 3), column(1, 0, 3)
	for _, r := range []RangeAddress{short, shortLabels, long, longLabels} {
		f.graph.getOrCreateRange(r)
	}

	result, outcome := f.sumX(short, shortLabels)
	assert.Equal(t, 4.0, result)
	assert.Equal(t, CacheMiss, outcome)

	result, outcome = f.sumX(short, shortLabels)
	assert.Equal(t, 4.0, result)
	assert.Equal(t, CacheFull, outcome)

	// one row longer reuses the shorter entry
	result, outcome = f.sumX(long, longLabels)
	assert.Equal(t, 8.0, result)
	assert.Equal(t, CachePartial, outcome)

	result, outcome = f.sumX(long, longLabels)
	assert.Equal(t, 8.0, result)
	assert.Equal(t, CacheFull, outcome)

	// a different criterion is a different entry
	result, outcome = f.cache.Compute(AggregateSum, short, []Condition{{Range: shortLabels, Criterion: "y"}})
	assert.Equal(t, 2.0, result)
	assert.Equal(t, CacheMiss, outcome)

	snapshot := f.stats.Snapshot()
	assert.Equal(t, 2.0, snapshot[StatCriterionFullCacheUsed])
	assert.Equal(t, 1.0, snapshot[StatCriterionPartialCacheUsed])
	assert.Equal(t, 2.0, snapshot[StatCriterionCacheMiss])
	assert.Equal(t, 3, f.cache.EntryCount())
}

func TestCriterionCacheNonAssociative(t *testing.T) {
	f := newCriterionFixture()
	short, shortLabels := column(0, 0, 2), column(1, 0, 2)
	long, longLabels := column(0, 0, 3), column(1, 0, 3)
	for _, r := range []RangeAddress{short, shortLabels, long, longLabels} {
		f.graph.getOrCreateRange(r)
	}
	average := func(values, labels RangeAddress) (Primitive, CacheOutcome) {
		return f.cache.Compute(AggregateAverage, values, []Condition{{Range: labels, Criterion: "x"}})
	}

	_, outcome := average(short, shortLabels)
	require.Equal(t, CacheMiss, outcome)

	result, outcome := average(long, longLabels)
	assert.Equal(t, CacheMiss, outcome)
	assert.InDelta(t, 8.0/3.0, result, 1e-12)

	result, outcome = f.cache.Compute(AggregateAverage, short, []Condition{{Range: shortLabels, Criterion: "none"}})
	assert.Equal(t, CacheMiss, outcome)
	assert.Equal(t, ErrorCodeDiv0, result.(*SpreadsheetError).ErrorCode)
}

func TestCriterionCacheInvalidation(t *testing.T) {
	f := newCriterionFixture()
	values, labels := column(0, 0, 3), column(1, 0, 3)
	f.graph.getOrCreateRange(values)
	f.graph.getOrCreateRange(labels)

	result, _ := f.sumX(values, labels)
	require.Equal(t, 8.0, result)

	// a write to a condition cell drops the entry
	f.values[NewAddress(1, 1, 1)] = "x"
	f.cache.InvalidateAddress(NewAddress(1, 1, 1))
	result, outcome := f.sumX(values, labels)
	assert.Equal(t, CacheMiss, outcome)
	assert.Equal(t, 10.0, result)

	// and so does a write to a value cell
	f.values[NewAddress(1, 0, 0)] = 11.0
	f.cache.InvalidateAddress(NewAddress(1, 0, 0))
	result, outcome = f.sumX(values, labels)
	assert.Equal(t, CacheMiss, outcome)
	assert.Equal(t, 20.0, result)

	// writes elsewhere keep it
	f.cache.InvalidateAddress(NewAddress(1, 7, 7))
	_, outcome = f.sumX(values, labels)
	assert.Equal(t, CacheFull, outcome)

	f.cache.Clear()
	assert.Zero(t, f.cache.EntryCount())
	_, outcome = f.sumX(values, labels)
	assert.Equal(t, CacheMiss, outcome)
}

func TestCriterionWithoutRangeVertex(t *testing.T) {
	f := newCriterionFixture()
	values, labels := column(0, 0, 3), column(1, 0, 3)

	for range 2 {
		result, outcome := f.sumX(values, labels)
		assert.Equal(t, 8.0, result)
		assert.Equal(t, CacheMiss, outcome)
	}
	assert.Zero(t, f.cache.EntryCount())
}

func TestCriterionAggregates(t *testing.T) {
	f := newCriterionFixture()
	values, labels := column(0, 0, 3), column(1, 0, 3)
	conditions := []Condition{{Range: labels, Criterion: "x"}}

	tests := []struct {
		op   AggregateOp
		want float64
	}{
		{AggregateSum, 8},
		{AggregateCount, 3},
		{AggregateMin, 1},
		{AggregateMax, 4},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			result, _ := f.cache.Compute(tt.op, values, conditions)
			assert.Equal(t, tt.want, result)
		})
	}

	// errors in summed cells propagate, counting ignores them
	f.values[NewAddress(1, 2, 0)] = NewSpreadsheetError(ErrorCodeDiv0, "")
	result, _ := f.cache.Compute(AggregateSum, values, conditions)
	assert.Equal(t, ErrorCodeDiv0, result.(*SpreadsheetError).ErrorCode)
	result, _ = f.cache.Compute(AggregateCount, values, conditions)
	assert.Equal(t, 3.0, result)

	// no match yields zero for min and max
	result, _ = f.cache.Compute(AggregateMax, values, []Condition{{Range: labels, Criterion: "none"}})
	assert.Equal(t, 0.0, result)
}
