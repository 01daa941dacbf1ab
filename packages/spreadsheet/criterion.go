package spreadsheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// AggregateOp is the reduction a criterion function applies to the values
// whose conditions all match
type AggregateOp uint8

const (
	AggregateSum AggregateOp = iota
	AggregateCount
	AggregateMin
	AggregateMax
	AggregateAverage
)

func (op AggregateOp) String() string {
	switch op {
	case AggregateSum:
		return "sum"
	case AggregateCount:
		return "count"
	case AggregateMin:
		return "min"
	case AggregateMax:
		return "max"
	case AggregateAverage:
		return "average"
	default:
		return fmt.Sprintf("AggregateOp(%d)", uint8(op))
	}
}

// Associative reports whether a cached sub-range result can be folded with
// the remaining rows
func (op AggregateOp) Associative() bool {
	switch op {
	case AggregateSum, AggregateCount, AggregateMin, AggregateMax:
		return true
	default:
		return false
	}
}

// CacheOutcome tells how a criterion query was answered
type CacheOutcome uint8

const (
	CacheMiss CacheOutcome = iota
	CacheFull
	CachePartial
)

func (o CacheOutcome) String() string {
	switch o {
	case CacheFull:
		return "full"
	case CachePartial:
		return "partial"
	default:
		return "miss"
	}
}

// Condition pairs a range with the criterion its cells must match
type Condition struct {
	Range     RangeAddress
	Criterion Primitive
}

// accumulator is the foldable state of an aggregate. min and max start at
// +Inf and -Inf.
type accumulator struct {
	sum   float64
	count float64
	min   float64
	max   float64
	err   *SpreadsheetError
}

func newAccumulator() accumulator {
	return accumulator{min: math.Inf(1), max: math.Inf(-1)}
}

func (a *accumulator) add(value Primitive) {
	if a.err != nil {
		return
	}
	if err, ok := value.(*SpreadsheetError); ok {
		a.err = err
		return
	}
	a.count++
	if num, ok := value.(float64); ok {
		a.sum += num
		a.min = math.Min(a.min, num)
		a.max = math.Max(a.max, num)
	}
}

// addMatch counts a matching row regardless of the value type
func (a *accumulator) addMatch() {
	a.count++
}

func (a accumulator) merge(b accumulator) accumulator {
	if a.err != nil {
		return a
	}
	if b.err != nil {
		a.err = b.err
		return a
	}
	a.sum += b.sum
	a.count += b.count
	a.min = math.Min(a.min, b.min)
	a.max = math.Max(a.max, b.max)
	return a
}

func (a accumulator) result(op AggregateOp) Primitive {
	if a.err != nil && op != AggregateCount {
		return a.err
	}
	switch op {
	case AggregateSum:
		return a.sum
	case AggregateCount:
		return a.count
	case AggregateMin:
		if math.IsInf(a.min, 1) {
			return 0.0
		}
		return a.min
	case AggregateMax:
		if math.IsInf(a.max, -1) {
			return 0.0
		}
		return a.max
	case AggregateAverage:
		if a.count == 0 {
			return NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
		}
		return a.sum / a.count
	default:
		return NewSpreadsheetError(ErrorCodeValue, "unknown aggregate")
	}
}

// criterionEntry is a cached aggregate stored on the values range vertex
type criterionEntry struct {
	acc        accumulator
	conditions []RangeAddress
}

// criterionKey identifies a query relative to its values range, so the
// same key finds the sub-range entry used by a partial hit
func criterionKey(op AggregateOp, values RangeAddress, conditions []Condition) string {
	var sb strings.Builder
	sb.WriteString(op.String())
	for _, c := range conditions {
		fmt.Fprintf(&sb, "|%d:%d:%d:%s",
			c.Range.Sheet,
			int64(c.Range.StartRow)-int64(values.StartRow),
			int64(c.Range.StartCol)-int64(values.StartCol),
			criterionSignature(c.Criterion))
	}
	return sb.String()
}

func criterionSignature(criterion Primitive) string {
	switch v := criterion.(type) {
	case float64:
		return "n" + strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return "b" + strconv.FormatBool(v)
	case string:
		return "s" + strings.ToLower(v)
	case nil:
		return "e"
	default:
		return fmt.Sprintf("x%v", v)
	}
}

// CriterionCache memoizes criterion aggregates on range vertices. entries
// are dropped per address on writes and flushed on structural edits.
type CriterionCache struct {
	mu    sync.Mutex
	group singleflight.Group
	graph *DependencyGraph
	value func(Address) Primitive
	stats *Statistics
}

var _ CriterionEvaluator = (*CriterionCache)(nil)

// NewCriterionCache creates a cache reading cell values through value
func NewCriterionCache(graph *DependencyGraph, value func(Address) Primitive, stats *Statistics) *CriterionCache {
	return &CriterionCache{graph: graph, value: value, stats: stats}
}

// Compute returns the aggregate of op over values where every condition
// matches. queries over ranges without a vertex are computed uncached.
func (cc *CriterionCache) Compute(op AggregateOp, values RangeAddress, conditions []Condition) (Primitive, CacheOutcome) {
	matchers := make([]criterionMatcher, len(conditions))
	for i, c := range conditions {
		matchers[i] = parseCriterion(c.Criterion)
	}

	valuesID, ok := cc.graph.RangeVertex(values)
	if !ok {
		cc.record(CacheMiss)
		return cc.aggregate(op, values, conditions, matchers).result(op), CacheMiss
	}
	key := criterionKey(op, values, conditions)

	cc.mu.Lock()
	valuesVertex := cc.graph.Vertex(valuesID)
	if entry, ok := valuesVertex.criterionEntries[key]; ok {
		cc.mu.Unlock()
		cc.record(CacheFull)
		return entry.acc.result(op), CacheFull
	}
	if sub, ok := values.WithoutLastRow(); ok && op.Associative() {
		if subID, ok := cc.graph.RangeVertex(sub); ok {
			if entry, ok := cc.graph.Vertex(subID).criterionEntries[key]; ok {
				cached := entry.acc
				cc.mu.Unlock()
				acc := cached.merge(cc.aggregateRows(op, values, conditions, matchers, values.EndRow, values.EndRow))
				cc.store(valuesID, key, acc, conditions)
				cc.record(CachePartial)
				return acc.result(op), CachePartial
			}
		}
	}
	cc.mu.Unlock()

	flightKey := strconv.FormatUint(uint64(valuesID), 10) + "#" + key
	result, _, _ := cc.group.Do(flightKey, func() (any, error) {
		acc := cc.aggregate(op, values, conditions, matchers)
		cc.store(valuesID, key, acc, conditions)
		return acc, nil
	})
	cc.record(CacheMiss)
	return result.(accumulator).result(op), CacheMiss
}

func (cc *CriterionCache) store(valuesID VertexID, key string, acc accumulator, conditions []Condition) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	valuesVertex := cc.graph.Vertex(valuesID)
	if valuesVertex == nil {
		return
	}
	if valuesVertex.criterionEntries == nil {
		valuesVertex.criterionEntries = make(map[string]*criterionEntry)
	}
	entry := &criterionEntry{acc: acc, conditions: make([]RangeAddress, len(conditions))}
	for i, c := range conditions {
		entry.conditions[i] = c.Range
		if condID, ok := cc.graph.RangeVertex(c.Range); ok && condID != valuesID {
			condVertex := cc.graph.Vertex(condID)
			if condVertex.dependentCacheRanges == nil {
				condVertex.dependentCacheRanges = make(map[VertexID]struct{})
			}
			condVertex.dependentCacheRanges[valuesID] = struct{}{}
		}
	}
	valuesVertex.criterionEntries[key] = entry
}

func (cc *CriterionCache) record(outcome CacheOutcome) {
	if cc.stats == nil {
		return
	}
	switch outcome {
	case CacheFull:
		cc.stats.Increment(StatCriterionFullCacheUsed)
	case CachePartial:
		cc.stats.Increment(StatCriterionPartialCacheUsed)
	default:
		cc.stats.Increment(StatCriterionCacheMiss)
	}
}

// bounds clips open-ended ranges to the largest used extent of the sheets
// involved, so all conditions iterate the same shape
func (cc *CriterionCache) bounds(values RangeAddress, conditions []Condition) (RangeAddress, bool) {
	if values.Kind == RangeCells {
		return values, true
	}
	dims := cc.graph.Dimensions(values.Sheet)
	for _, c := range conditions {
		d := cc.graph.Dimensions(c.Range.Sheet)
		dims.Rows = max(dims.Rows, d.Rows)
		dims.Columns = max(dims.Columns, d.Columns)
	}
	if (values.Kind == RangeColumns && dims.Rows == 0) || (values.Kind == RangeRows && dims.Columns == 0) {
		return values, false
	}
	return values.Bounded(dims.Rows, dims.Columns), true
}

func (cc *CriterionCache) aggregate(op AggregateOp, values RangeAddress, conditions []Condition, matchers []criterionMatcher) accumulator {
	bounded, ok := cc.bounds(values, conditions)
	if !ok {
		return newAccumulator()
	}
	return cc.aggregateRows(op, bounded, conditions, matchers, bounded.StartRow, bounded.EndRow)
}

// aggregateRows folds rows [fromRow, toRow] of the values range
func (cc *CriterionCache) aggregateRows(op AggregateOp, values RangeAddress, conditions []Condition, matchers []criterionMatcher, fromRow, toRow uint32) accumulator {
	acc := newAccumulator()
	for row := fromRow; row <= toRow; row++ {
		dRow := row - values.StartRow
		for col := values.StartCol; col <= values.EndCol; col++ {
			dCol := col - values.StartCol
			matched := true
			for i, c := range conditions {
				addr := Address{Sheet: c.Range.Sheet, Row: c.Range.StartRow + dRow, Col: c.Range.StartCol + dCol}
				if !matchers[i](cc.value(addr)) {
					matched = false
					break
				}
			}
			if !matched {
				continue
			}
			if op == AggregateCount {
				acc.addMatch()
				continue
			}
			value := cc.value(Address{Sheet: values.Sheet, Row: row, Col: col})
			if _, isNum := value.(float64); isNum {
				acc.add(value)
			} else if err := checkForError(value); err != nil {
				acc.add(err)
			}
		}
	}
	return acc
}

// InvalidateAddress drops the entries whose values range or condition
// ranges contain addr
func (cc *CriterionCache) InvalidateAddress(addr Address) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for rangeID := range cc.graph.sheetRanges[addr.Sheet] {
		v := cc.graph.vertices[rangeID]
		if !v.Range.Contains(addr) {
			continue
		}
		v.criterionEntries = nil
		for valuesID := range v.dependentCacheRanges {
			valuesVertex := cc.graph.Vertex(valuesID)
			if valuesVertex == nil {
				continue
			}
			for key, entry := range valuesVertex.criterionEntries {
				for _, cond := range entry.conditions {
					if cond.Contains(addr) {
						delete(valuesVertex.criterionEntries, key)
						break
					}
				}
			}
		}
	}
}

// Clear drops every entry
func (cc *CriterionCache) Clear() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for _, v := range cc.graph.vertices {
		if v != nil && v.Kind == VertexRange {
			v.criterionEntries = nil
			v.dependentCacheRanges = nil
		}
	}
}

// EntryCount returns the number of cached aggregates
func (cc *CriterionCache) EntryCount() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	n := 0
	for _, v := range cc.graph.vertices {
		if v != nil {
			n += len(v.criterionEntries)
		}
	}
	return n
}

// criterionMatcher reports whether a cell value satisfies a criterion
type criterionMatcher func(Primitive) bool

// parseCriterion turns a criterion such as 5, ">3", "<>apple" or "a*" into
// a matcher. text comparisons ignore case; = and <> support the * and ?
// wildcards with ~ as escape.
func parseCriterion(criterion Primitive) criterionMatcher {
	switch c := criterion.(type) {
	case float64:
		return func(v Primitive) bool {
			return numericValue(v) == c && isNumeric(v)
		}
	case bool:
		return func(v Primitive) bool {
			b, ok := v.(bool)
			return ok && b == c
		}
	case nil:
		return func(v Primitive) bool { return v == nil }
	case *SpreadsheetError:
		return func(v Primitive) bool {
			e, ok := v.(*SpreadsheetError)
			return ok && e.ErrorCode == c.ErrorCode
		}
	}

	text := toString(criterion)
	op, operand := splitCriterionOperator(text)

	if num, err := strconv.ParseFloat(strings.TrimSpace(operand), 64); err == nil && operand != "" {
		return numericMatcher(op, num)
	}
	if op == "=" || op == "<>" {
		if operand == "" {
			if op == "=" {
				return func(v Primitive) bool { return v == nil || v == "" }
			}
			return func(v Primitive) bool { return v != nil && v != "" }
		}
		if strings.EqualFold(operand, "TRUE") || strings.EqualFold(operand, "FALSE") {
			want := strings.EqualFold(operand, "TRUE")
			return func(v Primitive) bool {
				b, ok := v.(bool)
				return (ok && b == want) == (op == "=")
			}
		}
		if lit, ok := errorLiterals[strings.ToUpper(operand)]; ok {
			return func(v Primitive) bool {
				e, isErr := v.(*SpreadsheetError)
				return (isErr && e.ErrorCode == lit) == (op == "=")
			}
		}
		pattern := compileWildcard(operand)
		return func(v Primitive) bool {
			s, ok := v.(string)
			return (ok && pattern(s)) == (op == "=")
		}
	}
	// ordering comparisons on text
	needle := foldString(operand)
	return func(v Primitive) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		return compareOrdering(op, strings.Compare(foldString(s), needle))
	}
}

func splitCriterionOperator(text string) (string, string) {
	for _, op := range []string{">=", "<=", "<>", ">", "<", "="} {
		if strings.HasPrefix(text, op) {
			return op, text[len(op):]
		}
	}
	return "=", text
}

func numericMatcher(op string, num float64) criterionMatcher {
	return func(v Primitive) bool {
		if !isNumeric(v) {
			return op == "<>"
		}
		n := numericValue(v)
		switch op {
		case "=":
			return n == num
		case "<>":
			return n != num
		default:
			cmp := 0
			if n < num {
				cmp = -1
			} else if n > num {
				cmp = 1
			}
			return compareOrdering(op, cmp)
		}
	}
}

func compareOrdering(op string, cmp int) bool {
	switch op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	default:
		return false
	}
}

// isNumeric reports whether a cell value takes part in numeric criteria.
// numeric text counts, as it does in the spreadsheet programs.
func isNumeric(v Primitive) bool {
	switch x := v.(type) {
	case float64:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return err == nil && strings.TrimSpace(x) != ""
	default:
		return false
	}
}

func numericValue(v Primitive) float64 {
	num, _ := toNumber(v)
	return num
}

// compileWildcard builds a case-insensitive matcher for * and ? patterns.
// ~ escapes the next character.
func compileWildcard(pattern string) func(string) bool {
	type token struct {
		r       rune
		literal bool
	}
	var tokens []token
	runes := []rune(strings.ToLower(pattern))
	for i := 0; i < len(runes); i++ {
		if runes[i] == '~' && i+1 < len(runes) {
			tokens = append(tokens, token{r: runes[i+1], literal: true})
			i++
			continue
		}
		tokens = append(tokens, token{r: runes[i]})
	}

	return func(s string) bool {
		text := []rune(strings.ToLower(s))
		// iterative matcher with backtracking on the last *
		ti, pi := 0, 0
		star, mark := -1, 0
		for ti < len(text) {
			switch {
			case pi < len(tokens) && !tokens[pi].literal && tokens[pi].r == '*':
				star, mark = pi, ti
				pi++
			case pi < len(tokens) && ((!tokens[pi].literal && tokens[pi].r == '?') || tokens[pi].r == text[ti]):
				pi++
				ti++
			case star >= 0:
				pi = star + 1
				mark++
				ti = mark
			default:
				return false
			}
		}
		for pi < len(tokens) && !tokens[pi].literal && tokens[pi].r == '*' {
			pi++
		}
		return pi == len(tokens)
	}
}

// directCriterion evaluates criterion queries straight from range
// arguments, used when no engine cache is available
type directCriterion struct {
	values map[Address]Primitive
	dims   map[uint32]SheetDimensions
}

func newDirectCriterion(ranges ...Range) *directCriterion {
	dc := &directCriterion{values: make(map[Address]Primitive), dims: make(map[uint32]SheetDimensions)}
	for _, r := range ranges {
		for addr, value := range r.Iterate() {
			if value == nil {
				continue
			}
			dc.values[addr] = value
			d := dc.dims[addr.Sheet]
			d.Rows = max(d.Rows, addr.Row+1)
			d.Columns = max(d.Columns, addr.Col+1)
			dc.dims[addr.Sheet] = d
		}
	}
	return dc
}

func (dc *directCriterion) Compute(op AggregateOp, values RangeAddress, conditions []Condition) (Primitive, CacheOutcome) {
	graph := NewDependencyGraph()
	graph.dimensions = dc.dims
	cc := &CriterionCache{graph: graph, value: func(addr Address) Primitive { return dc.values[addr] }}
	matchers := make([]criterionMatcher, len(conditions))
	for i, c := range conditions {
		matchers[i] = parseCriterion(c.Criterion)
	}
	return cc.aggregate(op, values, conditions, matchers).result(op), CacheMiss
}

// criterionArgs validates the range/criterion pairs of a criterion function
func criterionArgs(name string, pairs []any) ([]Condition, []Range, error) {
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return nil, nil, NewSpreadsheetError(ErrorCodeNA, fmt.Sprintf("%s requires range and criterion pairs", name))
	}
	conditions := make([]Condition, 0, len(pairs)/2)
	ranges := make([]Range, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		r, ok := pairs[i].(Range)
		if !ok {
			if err := checkForError(pairs[i]); err != nil {
				return nil, nil, err
			}
			return nil, nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s requires a range argument", name))
		}
		criterion := pairs[i+1]
		if _, isRange := criterion.(Range); isRange {
			return nil, nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s criterion must be a single value", name))
		}
		conditions = append(conditions, Condition{Range: r.Address(), Criterion: criterion})
		ranges = append(ranges, r)
	}
	return conditions, ranges, nil
}

// runCriterion checks shapes and dispatches the query to the context's
// evaluator
func runCriterion(ctx *FunctionContext, op AggregateOp, values Range, conditions []Condition, ranges []Range) (Primitive, error) {
	for _, c := range conditions {
		if c.Range.Kind != values.Address().Kind || !c.Range.SameDimensions(values.Address()) {
			return nil, NewSpreadsheetError(ErrorCodeValue, "criterion ranges must have the same shape")
		}
	}
	var evaluator CriterionEvaluator
	if ctx != nil && ctx.Criterion != nil {
		evaluator = ctx.Criterion
	} else {
		evaluator = newDirectCriterion(append(ranges, values)...)
	}
	result, _ := evaluator.Compute(op, values.Address(), conditions)
	if err := checkForError(result); err != nil {
		return nil, err
	}
	return result, nil
}

func (bf *BuiltInFunctions) ifFunction(ctx *FunctionContext, name string, op AggregateOp, args ...any) (Primitive, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, NewSpreadsheetError(ErrorCodeNA, fmt.Sprintf("%s requires 2 or 3 arguments", name))
	}
	conditions, ranges, err := criterionArgs(name, args[:2])
	if err != nil {
		return nil, err
	}
	values := ranges[0]
	if len(args) == 3 {
		r, ok := args[2].(Range)
		if !ok {
			return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s requires a range argument", name))
		}
		values = r
	}
	return runCriterion(ctx, op, values, conditions, ranges)
}

func (bf *BuiltInFunctions) ifsFunction(ctx *FunctionContext, name string, op AggregateOp, args ...any) (Primitive, error) {
	if len(args) < 3 {
		return nil, NewSpreadsheetError(ErrorCodeNA, fmt.Sprintf("%s requires a values range and criterion pairs", name))
	}
	values, ok := args[0].(Range)
	if !ok {
		if err := checkForError(args[0]); err != nil {
			return nil, err
		}
		return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s requires a range argument", name))
	}
	conditions, ranges, err := criterionArgs(name, args[1:])
	if err != nil {
		return nil, err
	}
	return runCriterion(ctx, op, values, conditions, ranges)
}

func (bf *BuiltInFunctions) SUMIF(ctx *FunctionContext, args ...any) (Primitive, error) {
	return bf.ifFunction(ctx, "SUMIF", AggregateSum, args...)
}

func (bf *BuiltInFunctions) AVERAGEIF(ctx *FunctionContext, args ...any) (Primitive, error) {
	return bf.ifFunction(ctx, "AVERAGEIF", AggregateAverage, args...)
}

func (bf *BuiltInFunctions) COUNTIF(ctx *FunctionContext, args ...any) (Primitive, error) {
	if len(args) != 2 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "COUNTIF requires exactly 2 arguments")
	}
	return bf.ifFunction(ctx, "COUNTIF", AggregateCount, args...)
}

func (bf *BuiltInFunctions) SUMIFS(ctx *FunctionContext, args ...any) (Primitive, error) {
	return bf.ifsFunction(ctx, "SUMIFS", AggregateSum, args...)
}

func (bf *BuiltInFunctions) MINIFS(ctx *FunctionContext, args ...any) (Primitive, error) {
	return bf.ifsFunction(ctx, "MINIFS", AggregateMin, args...)
}

func (bf *BuiltInFunctions) MAXIFS(ctx *FunctionContext, args ...any) (Primitive, error) {
	return bf.ifsFunction(ctx, "MAXIFS", AggregateMax, args...)
}

func (bf *BuiltInFunctions) COUNTIFS(ctx *FunctionContext, args ...any) (Primitive, error) {
	conditions, ranges, err := criterionArgs("COUNTIFS", args)
	if err != nil {
		return nil, err
	}
	return runCriterion(ctx, AggregateCount, ranges[0], conditions, ranges)
}
