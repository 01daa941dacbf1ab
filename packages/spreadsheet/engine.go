package spreadsheet

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Spreadsheet is the calculation engine: it owns the dependency graph, the
// sheet and name tables, the caches and the undo history, and keeps every
// cell value consistent with its formula across edits. public methods are
// serialized by one mutex.
type Spreadsheet struct {
	mu sync.Mutex

	config    Config
	logger    *slog.Logger
	tracer    trace.Tracer
	functions FunctionLibrary

	graph       *DependencyGraph
	sheets      *SheetMapping
	names       *NamedExpressionTable
	parserCache *ParserCache
	criterion   *CriterionCache
	stats       *Statistics
	undoRedo    *UndoRedo

	changesMu sync.Mutex
	changes   map[Address]Primitive // value changes not yet reported

	batch *batchState
}

// batchState collects the undo entries recorded while evaluation is
// suspended
type batchState struct {
	entries      []UndoEntry
	irreversible *Irreversible
}

// NewSpreadsheet creates an empty spreadsheet
func NewSpreadsheet(opts ...Option) (*Spreadsheet, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stats := NewEmptyStatistics()
	if cfg.UseStatistics {
		stats = NewStatistics()
	}
	s := &Spreadsheet{
		config:    cfg,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		functions: cfg.Functions,
		stats:     stats,
		undoRedo:  NewUndoRedo(cfg.UndoLimit),
	}
	s.reset()
	return s, nil
}

// reset replaces all workbook state with an empty workbook
func (s *Spreadsheet) reset() {
	s.graph = NewDependencyGraph()
	s.graph.onRemove = s.forgetVertex
	s.sheets = NewSheetMapping()
	s.names = NewNamedExpressionTable()
	s.parserCache = NewParserCache()
	s.criterion = NewCriterionCache(s.graph, s.cellValue, s.stats)
	s.changes = make(map[Address]Primitive)
}

// forgetVertex drops the side tables pointing at a vertex leaving the graph
func (s *Spreadsheet) forgetVertex(v *Vertex) {
	if v.templateHash != 0 {
		s.parserCache.Release(v.templateHash)
		v.templateHash = 0
	}
	s.sheets.StopAwaiting(v.ID)
	if v.Kind == VertexNamedExpression {
		s.names.remove(v.ID)
	}
}

// isFormula reports whether raw content is formula text
func isFormula(raw Primitive) bool {
	text, ok := raw.(string)
	return ok && strings.HasPrefix(text, "=")
}

// normalizeRaw converts caller-supplied content into the stored form:
// numbers become float64 and the empty string means an empty cell
func normalizeRaw(raw Primitive) (Primitive, error) {
	switch v := raw.(type) {
	case nil, float64, bool, *SpreadsheetError:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	default:
		return nil, ErrInvalidArgument("unsupported cell content of type %T", raw)
	}
}

func (s *Spreadsheet) sheetName(id uint32) string {
	if name, ok := s.sheets.Name(id); ok {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

func (s *Spreadsheet) checkAddress(addr Address) error {
	if !s.sheets.Contains(addr.Sheet) {
		return ErrSheetNotFound(addr.Sheet)
	}
	if addr.Row >= s.config.MaxRows || addr.Col >= s.config.MaxColumns {
		return ErrOutOfRange("%s is outside the sheet limits", addr.A1())
	}
	return nil
}

// scopeOf returns the sheet whose named expressions a vertex sees
func scopeOf(v *Vertex) uint32 {
	if v.Kind == VertexNamedExpression {
		return v.Scope
	}
	return v.Address.Sheet
}

// rawContent returns what a cell was set to: a literal, formula text
// regenerated from the current AST, or nil
func (s *Spreadsheet) rawContent(v *Vertex) Primitive {
	switch v.Kind {
	case VertexFormulaCell:
		return s.formulaText(v, v.Address.Sheet)
	case VertexValueCell:
		return v.Raw
	default:
		return nil
	}
}

// formulaText renders a formula or named expression. formulas that never
// parsed keep their original text.
func (s *Spreadsheet) formulaText(v *Vertex, formulaSheet uint32) string {
	if v.AST == nil {
		text, _ := v.Raw.(string)
		return text
	}
	return "=" + Unparse(v.AST, s.sheetName, formulaSheet)
}

// recordChange remembers a value change to report at the end of the
// operation
func (s *Spreadsheet) recordChange(addr Address, before, after Primitive) {
	if equalPrimitives(before, after) {
		return
	}
	s.changesMu.Lock()
	s.changes[addr] = after
	s.changesMu.Unlock()
}

// drainChanges returns the recorded changes in address order
func (s *Spreadsheet) drainChanges() []CellChange {
	s.changesMu.Lock()
	defer s.changesMu.Unlock()
	if len(s.changes) == 0 {
		return nil
	}
	result := make([]CellChange, 0, len(s.changes))
	for _, addr := range slices.SortedFunc(maps.Keys(s.changes), compareAddresses) {
		result = append(result, CellChange{Address: addr, Value: s.changes[addr]})
	}
	clear(s.changes)
	return result
}

func compareAddresses(a, b Address) int {
	return cmp.Or(cmp.Compare(a.Sheet, b.Sheet), cmp.Compare(a.Row, b.Row), cmp.Compare(a.Col, b.Col))
}

// writeCell replaces the content of one cell without recalculating. raw is
// already normalized.
func (s *Spreadsheet) writeCell(addr Address, raw Primitive) {
	id, exists := s.graph.CellVertex(addr)
	var v *Vertex
	var before Primitive
	var garbage []VertexID
	if exists {
		v = s.graph.Vertex(id)
		before = v.Value
		garbage = s.detachFormula(v)
	}

	switch {
	case raw == nil:
		if !exists {
			return
		}
		v.Kind = VertexEmptyCell
		v.Raw, v.Value, v.State = nil, nil, VertexClean
		s.graph.invalidateDimensions(addr.Sheet)
		s.markDependentsDirty(v)
		s.recordChange(addr, before, nil)
		s.criterion.InvalidateAddress(addr)
		garbage = append(garbage, v.ID)
	case isFormula(raw):
		if !exists {
			v = s.graph.getOrCreateCell(addr)
		}
		v.Kind = VertexFormulaCell
		v.Raw = raw
		s.graph.invalidateDimensions(addr.Sheet)
		s.bindFormula(v)
		s.graph.MarkDirty(v.ID)
	default:
		if !exists {
			v = s.graph.getOrCreateCell(addr)
		}
		v.Kind = VertexValueCell
		v.Raw, v.Value, v.State = raw, raw, VertexClean
		s.graph.invalidateDimensions(addr.Sheet)
		s.markDependentsDirty(v)
		s.recordChange(addr, before, raw)
		s.criterion.InvalidateAddress(addr)
	}
	s.graph.collectGarbage(garbage)
}

// restoreContents writes back recorded cell contents
func (s *Spreadsheet) restoreContents(contents []cellContent) error {
	for _, c := range contents {
		if !s.sheets.Contains(c.Address.Sheet) {
			return ErrSheetNotFound(c.Address.Sheet)
		}
		s.writeCell(c.Address, c.Raw)
	}
	return nil
}

func (s *Spreadsheet) markDependentsDirty(v *Vertex) {
	for dep := range v.dependents {
		s.graph.MarkDirty(dep)
	}
}

// detachFormula forgets the parsed form of a formula or named expression
// and returns its former dependencies as garbage candidates
func (s *Spreadsheet) detachFormula(v *Vertex) []VertexID {
	if v.templateHash != 0 {
		s.parserCache.Release(v.templateHash)
		v.templateHash = 0
	}
	s.sheets.StopAwaiting(v.ID)
	s.graph.SetVolatile(v.ID, false)
	v.AST, v.ParseErr = nil, nil
	return s.graph.clearDependencies(v.ID)
}

// parseFormula parses text located at base, through the parser cache when
// enabled
func (s *Spreadsheet) parseFormula(text string, base Address) (ASTNode, uint64, error) {
	var (
		ast  ASTNode
		hash uint64
		hit  bool
		err  error
	)
	s.stats.Measure(StatParser, func() {
		if s.config.UseParserCache {
			ast, hash, hit, err = s.parserCache.Parse(text, base, s.sheets.ID)
		} else {
			ast, err = Parse(text, base, s.sheets.ID)
		}
	})
	if hit {
		s.stats.Increment(StatParserCacheHit)
	}
	return ast, hash, err
}

// bindFormula parses the vertex's formula text and connects it to what it
// reads. parse failures are kept on the vertex and evaluate to an error.
func (s *Spreadsheet) bindFormula(v *Vertex) {
	text, _ := v.Raw.(string)
	ast, hash, err := s.parseFormula(text, v.Address)
	if err != nil {
		var perr *ParseError
		if !errors.As(err, &perr) {
			perr = newSyntaxError(err.Error(), 0)
		}
		v.ParseErr = perr
		if perr.Kind == ParseErrorUnknownSheet {
			s.sheets.Await(perr.Sheet, v.ID)
		}
		return
	}
	v.AST = ast
	v.templateHash = hash
	s.bindDependencies(v)
}

// bindDependencies adds an edge from every cell, range and name the AST
// reads
func (s *Spreadsheet) bindDependencies(v *Vertex) {
	for _, dep := range CollectDependencies(v.AST) {
		var from *Vertex
		switch dep.Kind {
		case DependencyCell:
			from = s.graph.getOrCreateCell(dep.Address)
		case DependencyRange:
			from = s.graph.getOrCreateRange(dep.Range)
		case DependencyNamedExpression:
			from = s.namedVertexFor(dep.Name, scopeOf(v))
		}
		s.graph.AddEdge(from.ID, v.ID)
	}
	s.graph.SetVolatile(v.ID, usesVolatileFunction(v.AST, s.functions))
}

// rebind recomputes the edges of a parsed formula after what its names
// resolve to has changed
func (s *Spreadsheet) rebind(v *Vertex) {
	garbage := s.graph.clearDependencies(v.ID)
	if v.AST != nil {
		s.bindDependencies(v)
	}
	s.graph.MarkDirty(v.ID)
	s.graph.collectGarbage(garbage)
}

// namedVertexFor returns the vertex a formula in scope reads for name,
// creating an undefined global placeholder when nothing is defined
func (s *Spreadsheet) namedVertexFor(name string, scope uint32) *Vertex {
	if id, ok := s.names.Resolve(name, scope); ok {
		return s.graph.Vertex(id)
	}
	v := s.graph.newVertex(VertexNamedExpression)
	v.Name = nameKey(name)
	v.Scope = GlobalScope
	v.Value = undefinedName(name)
	v.State = VertexCleanWithError
	s.names.setGlobal(name, v.ID)
	return v
}

func undefinedName(name string) *SpreadsheetError {
	return NewSpreadsheetError(ErrorCodeName, fmt.Sprintf("Unknown name: %s", name))
}

// resolveAwaiting re-parses the formulas waiting for a sheet name that now
// exists and returns how many there were
func (s *Spreadsheet) resolveAwaiting(name string) int {
	waiting := s.sheets.Awaiting(name)
	for _, id := range waiting {
		v := s.graph.Vertex(id)
		s.sheets.StopAwaiting(id)
		v.ParseErr = nil
		s.bindFormula(v)
		s.graph.MarkDirty(id)
	}
	return len(waiting)
}

// cellValue returns the current value at addr, nil when empty
func (s *Spreadsheet) cellValue(addr Address) Primitive {
	id, ok := s.graph.CellVertex(addr)
	if !ok {
		return nil
	}
	return s.graph.vertices[id].Value
}

// evalContext resolves references for the vertex being evaluated
type evalContext struct {
	s       *Spreadsheet
	address Address
	scope   uint32
}

var _ EvalContext = (*evalContext)(nil)

func (c *evalContext) FormulaAddress() Address {
	return c.address
}

func (c *evalContext) CellValue(addr Address) Primitive {
	return c.s.cellValue(addr)
}

func (c *evalContext) RangeValue(r RangeAddress) Range {
	return newCellRange(r, c.s.graph.Dimensions(r.Sheet), c.s.cellValue)
}

func (c *evalContext) NamedValue(name string) Primitive {
	id, ok := c.s.names.Resolve(name, c.scope)
	if !ok {
		return undefinedName(name)
	}
	return c.s.graph.Vertex(id).Value
}

func (c *evalContext) CallFunction(name string, args []Value) Primitive {
	return c.s.functions.Evaluate(name, args, &FunctionContext{
		Address:   c.address,
		Clock:     c.s.config.Clock,
		Random:    c.s.config.Random,
		Criterion: c.s.criterion,
	})
}

// evaluate computes the value of a single vertex from its inputs
func (s *Spreadsheet) evaluate(v *Vertex) Primitive {
	switch v.Kind {
	case VertexFormulaCell:
		value := s.evaluateFormula(v)
		switch value.(type) {
		case Range:
			return NewSpreadsheetError(ErrorCodeValue, "A formula cannot evaluate to a range")
		case nil:
			return 0.0
		}
		return value
	case VertexNamedExpression:
		if !v.Defined {
			return undefinedName(v.Name)
		}
		if isFormula(v.Raw) {
			return s.evaluateFormula(v)
		}
		return v.Raw
	case VertexValueCell:
		return v.Raw
	case VertexEmptyCell, VertexRange:
		return nil
	default:
		return nil
	}
}

func (s *Spreadsheet) evaluateFormula(v *Vertex) Primitive {
	if v.ParseErr != nil {
		return NewSpreadsheetError(v.ParseErr.ErrorCode(), v.ParseErr.Message)
	}
	if v.AST == nil {
		return NewSpreadsheetError(ErrorCodeOther, "")
	}
	ctx := &evalContext{s: s, address: v.Address, scope: scopeOf(v)}
	return evalOperand(v.AST, ctx)
}

// setValue stores an evaluation result and reports cell value changes
func (s *Spreadsheet) setValue(v *Vertex, value Primitive) {
	before := v.Value
	v.Value = value
	if checkForError(value) != nil {
		v.State = VertexCleanWithError
	} else {
		v.State = VertexClean
	}
	if v.Kind.IsCell() && !equalPrimitives(before, value) {
		s.recordChange(v.Address, before, value)
		s.criterion.InvalidateAddress(v.Address)
	}
}

// evaluateComponent evaluates one strongly connected component. every
// member of a cycle gets #CYCLE!, and dependents see that error.
func (s *Spreadsheet) evaluateComponent(c Component) {
	for _, id := range c.Vertices {
		v := s.graph.vertices[id]
		v.State = VertexEvaluating
		if c.Cyclic && (v.Kind == VertexFormulaCell || v.Kind == VertexNamedExpression) {
			s.setValue(v, NewSpreadsheetError(ErrorCodeCycle, "Circular reference"))
			continue
		}
		s.setValue(v, s.evaluate(v))
	}
}

// recalculate evaluates every dirty and volatile vertex and everything
// depending on them, in dependency order, and returns the value changes of
// the current operation
func (s *Spreadsheet) recalculate(ctx context.Context) []CellChange {
	ctx, span := s.tracer.Start(ctx, "spreadsheet.Recalculate")
	defer span.End()
	began := time.Now()

	start := append(s.graph.DirtyVertices(), s.graph.VolatileVertices()...)
	var order TopSortResult
	if len(start) > 0 {
		s.stats.Measure(StatTopSort, func() {
			order = s.graph.TopologicalOrder(start)
		})
	}

	// extents are read concurrently during evaluation, so compute them first
	for _, sheet := range s.sheets.Sheets() {
		s.graph.Dimensions(sheet)
	}

	evaluated := 0
	s.stats.Measure(StatEvaluation, func() {
		if s.config.ParallelEvaluation {
			evaluated = s.evaluateLevels(ctx, order)
			return
		}
		for _, c := range order.Components {
			s.evaluateComponent(c)
			evaluated += len(c.Vertices)
		}
	})
	s.graph.ClearAllDirty()

	cycles := len(order.Cycles())
	span.SetAttributes(
		attribute.Int("calc.dirty", len(start)),
		attribute.Int("calc.evaluated", evaluated),
		attribute.Int("calc.cycles", cycles),
	)
	if len(start) > 0 {
		s.logger.Debug("recalculated",
			slog.Int("dirty", len(start)),
			slog.Int("evaluated", evaluated),
			slog.Int("cycles", cycles),
			slog.Duration("duration", time.Since(began)),
		)
	}
	return s.drainChanges()
}

// evaluateLevels groups components into levels whose members only depend
// on earlier levels and evaluates each level concurrently. a level must be
// complete before the next one starts.
func (s *Spreadsheet) evaluateLevels(ctx context.Context, order TopSortResult) int {
	componentOf := make(map[VertexID]int, len(order.Components))
	for i, c := range order.Components {
		for _, id := range c.Vertices {
			componentOf[id] = i
		}
	}
	depth := make([]int, len(order.Components))
	var levels [][]Component
	for i, c := range order.Components {
		for _, id := range c.Vertices {
			for dep := range s.graph.vertices[id].dependencies {
				if j, ok := componentOf[dep]; ok && j != i {
					depth[i] = max(depth[i], depth[j]+1)
				}
			}
		}
		for len(levels) <= depth[i] {
			levels = append(levels, nil)
		}
		levels[depth[i]] = append(levels[depth[i]], c)
	}

	evaluated := 0
	for _, level := range levels {
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(s.config.EvaluationWorkers)
		for _, c := range level {
			g.Go(func() error {
				s.evaluateComponent(c)
				return nil
			})
			evaluated += len(c.Vertices)
		}
		_ = g.Wait()
	}
	return evaluated
}
