package spreadsheet

import (
	"fmt"
	"slices"
)

// editResult describes what a structural edit did to the workbook
type editResult struct {
	// clipped is set when a reference lost cells or turned into #REF!
	clipped bool
	// removed holds the content of cells deleted or overwritten by the edit
	removed []cellContent
}

// rangeMove is a range vertex whose rectangle changes
type rangeMove struct {
	v  *Vertex
	to RangeAddress
}

// validateEdit rejects edits that cannot be applied, before anything is
// mutated
func (s *Spreadsheet) validateEdit(edit StructuralEdit) error {
	checkSheet := func(sheet uint32) error {
		if !s.sheets.Contains(sheet) {
			return ErrSheetNotFound(sheet)
		}
		return nil
	}
	checkCount := func(count uint32) error {
		if count == 0 {
			return ErrInvalidArgument("count must be positive")
		}
		return nil
	}

	switch e := edit.(type) {
	case InsertRows:
		if err := cmpErr(checkSheet(e.Sheet), checkCount(e.Count)); err != nil {
			return err
		}
		if e.Row >= s.config.MaxRows {
			return ErrOutOfRange("row %d is outside the sheet limits", e.Row+1)
		}
		if uint64(s.graph.Dimensions(e.Sheet).Rows)+uint64(e.Count) > uint64(s.config.MaxRows) {
			return ErrOutOfRange("inserting %d rows exceeds the limit of %d rows", e.Count, s.config.MaxRows)
		}
	case RemoveRows:
		if err := cmpErr(checkSheet(e.Sheet), checkCount(e.Count)); err != nil {
			return err
		}
		if uint64(e.Row)+uint64(e.Count) > uint64(s.config.MaxRows) {
			return ErrOutOfRange("rows %d-%d are outside the sheet limits", e.Row+1, uint64(e.Row)+uint64(e.Count))
		}
	case InsertColumns:
		if err := cmpErr(checkSheet(e.Sheet), checkCount(e.Count)); err != nil {
			return err
		}
		if e.Column >= s.config.MaxColumns {
			return ErrOutOfRange("column %s is outside the sheet limits", ColumnLetters(e.Column))
		}
		if uint64(s.graph.Dimensions(e.Sheet).Columns)+uint64(e.Count) > uint64(s.config.MaxColumns) {
			return ErrOutOfRange("inserting %d columns exceeds the limit of %d columns", e.Count, s.config.MaxColumns)
		}
	case RemoveColumns:
		if err := cmpErr(checkSheet(e.Sheet), checkCount(e.Count)); err != nil {
			return err
		}
		if uint64(e.Column)+uint64(e.Count) > uint64(s.config.MaxColumns) {
			return ErrOutOfRange("columns starting at %s are outside the sheet limits", ColumnLetters(e.Column))
		}
	case MoveRange:
		if err := cmpErr(checkSheet(e.Source.Sheet), checkSheet(e.Target.Sheet)); err != nil {
			return err
		}
		if e.Source.Kind != RangeCells {
			return ErrInvalidArgument("only cell ranges can be moved")
		}
		end := e.targetRange().End()
		if uint64(e.Target.Row)+uint64(e.Source.Height()) > uint64(s.config.MaxRows) ||
			uint64(e.Target.Col)+uint64(e.Source.Width()) > uint64(s.config.MaxColumns) {
			return ErrOutOfRange("moving to %s exceeds the sheet limits", end.A1())
		}
	case RemoveSheet:
		return checkSheet(e.Sheet)
	case RenameSheet:
		return checkSheet(e.Sheet)
	}
	return nil
}

// cmpErr returns the first non-nil error
func cmpErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// touchedSheets lists the sheets whose cells a grid edit can move
func touchedSheets(edit StructuralEdit) []uint32 {
	switch e := edit.(type) {
	case InsertRows:
		return []uint32{e.Sheet}
	case RemoveRows:
		return []uint32{e.Sheet}
	case InsertColumns:
		return []uint32{e.Sheet}
	case RemoveColumns:
		return []uint32{e.Sheet}
	case MoveRange:
		if e.Source.Sheet == e.Target.Sheet {
			return []uint32{e.Source.Sheet}
		}
		return []uint32{e.Source.Sheet, e.Target.Sheet}
	case RemoveSheet:
		return []uint32{e.Sheet}
	default:
		return nil
	}
}

// applyStructuralEdit validates and applies a row, column or move edit to
// the graph: cells are relocated or removed, range vertices follow, every
// formula is rewritten, and the affected vertices are marked dirty. it
// does not recalculate.
func (s *Spreadsheet) applyStructuralEdit(edit StructuralEdit) (editResult, error) {
	if err := s.validateEdit(edit); err != nil {
		return editResult{}, err
	}
	var result editResult
	s.stats.Measure(StatTransform, func() {
		result = s.transformGraph(edit)
	})
	return result, nil
}

func (s *Spreadsheet) transformGraph(edit StructuralEdit) editResult {
	var result editResult
	var garbage []VertexID
	sheets := touchedSheets(edit)
	_, isMove := edit.(MoveRange)

	// capture and remove the cells that do not survive, then relocate the
	// rest
	type relocation struct {
		id VertexID
		to Address
	}
	var removed []VertexID
	var relocations []relocation
	for _, sheet := range sheets {
		for _, id := range s.graph.CellsInSheet(sheet) {
			v := s.graph.vertices[id]
			to, ok := transformAddress(v.Address, edit)
			if !ok {
				if raw := s.rawContent(v); raw != nil {
					result.removed = append(result.removed, cellContent{Address: v.Address, Raw: raw})
				}
				removed = append(removed, id)
				continue
			}
			if to != v.Address {
				relocations = append(relocations, relocation{id: id, to: to})
			}
		}
	}
	slices.SortFunc(result.removed, func(a, b cellContent) int { return compareAddresses(a.Address, b.Address) })

	for _, id := range removed {
		v := s.graph.vertices[id]
		s.markDependentsDirty(v)
		s.recordChange(v.Address, v.Value, nil)
		garbage = append(garbage, s.graph.Dependencies(id)...)
		s.graph.removeVertex(id)
	}
	for _, r := range relocations {
		v := s.graph.vertices[r.id]
		if isMove {
			s.recordChange(v.Address, v.Value, nil)
		}
		s.graph.relocateCell(r.id, r.to)
	}
	if isMove {
		for _, r := range relocations {
			s.changesMu.Lock()
			s.changes[r.to] = s.graph.vertices[r.id].Value
			s.changesMu.Unlock()
		}
	}

	// transform range vertices, merging those that end up on the same
	// rectangle
	var moves []rangeMove
	var relink []VertexID
	for _, sheet := range sheets {
		for _, id := range s.graph.RangesInSheet(sheet) {
			v := s.graph.vertices[id]
			to, _, gone := transformRange(v.Range, edit)
			if gone {
				s.markDependentsDirty(v)
				garbage = append(garbage, s.graph.Dependencies(id)...)
				s.graph.removeVertex(id)
				continue
			}
			if to != v.Range {
				moves = append(moves, rangeMove{v: v, to: to})
			}
			if isMove {
				relink = append(relink, id)
			}
		}
	}
	relink = append(relink, s.moveRanges(moves)...)

	// rewrite every parsed formula and named expression
	for _, v := range s.graph.vertices {
		if v == nil || v.AST == nil {
			continue
		}
		ast, tr := TransformAST(v.AST, v.Address, edit)
		if !tr.Changed && !tr.Clipped {
			continue
		}
		v.AST = ast
		if v.templateHash != 0 {
			s.parserCache.Release(v.templateHash)
			v.templateHash = 0
		}
		if tr.Clipped {
			result.clipped = true
			garbage = append(garbage, s.graph.clearDependencies(v.ID)...)
			s.bindDependencies(v)
		}
		s.graph.MarkDirty(v.ID)
	}

	for _, id := range relink {
		v := s.graph.Vertex(id)
		if v == nil || v.Kind != VertexRange {
			continue
		}
		s.graph.relinkRangeCells(v)
		s.graph.MarkDirty(id)
	}
	s.graph.collectGarbage(garbage)
	s.criterion.Clear()
	for _, sheet := range sheets {
		s.graph.invalidateDimensions(sheet)
	}
	return result
}

// moveRanges re-registers range vertices under their new rectangles. when
// two vertices land on the same rectangle the lower id is kept and takes
// over the dependents of the other; kept vertices are returned for
// relinking.
func (s *Spreadsheet) moveRanges(moves []rangeMove) []VertexID {
	for _, m := range moves {
		s.graph.unregisterRange(m.v)
		m.v.Range = m.to
	}
	var merged []VertexID
	for _, m := range moves {
		existing, taken := s.graph.ranges[m.to]
		if !taken {
			s.graph.registerRange(m.v)
			continue
		}
		keep, drop := s.graph.vertices[min(existing, m.v.ID)], s.graph.vertices[max(existing, m.v.ID)]
		for dep := range drop.dependents {
			s.graph.AddEdge(keep.ID, dep)
		}
		s.graph.removeVertex(drop.ID)
		s.graph.registerRange(keep)
		merged = append(merged, keep.ID)
	}
	return merged
}

// moveIsReversible reports whether moving back restores the workbook: the
// overwritten area must hold no content and nothing may reference it
func (s *Spreadsheet) moveIsReversible(e MoveRange) bool {
	target := e.targetRange()
	for _, id := range s.graph.CellsInSheet(e.Target.Sheet) {
		if e.overwrites(s.graph.vertices[id].Address) {
			return false
		}
	}
	for _, id := range s.graph.RangesInSheet(e.Target.Sheet) {
		r := s.graph.vertices[id].Range
		if !r.Intersects(target) {
			continue
		}
		inSource := r.Kind == RangeCells && e.Source.Contains(r.Start()) && e.Source.Contains(r.End())
		if !inSource {
			return false
		}
	}
	return true
}

// inverseEdit returns the edit undoing a grid edit
func inverseEdit(edit StructuralEdit) StructuralEdit {
	switch e := edit.(type) {
	case InsertRows:
		return RemoveRows(e)
	case RemoveRows:
		return InsertRows(e)
	case InsertColumns:
		return RemoveColumns(e)
	case RemoveColumns:
		return InsertColumns(e)
	case MoveRange:
		return MoveRange{Source: e.targetRange(), Target: e.Source.Start()}
	default:
		return nil
	}
}

// sheetRemoval is what removeSheet deleted, enough to put it back
type sheetRemoval struct {
	editResult
	name     string
	position int
	names    []NamedExpression
}

// removeSheet deletes a sheet with its cells, ranges and local names.
// references to it from other sheets become #REF!.
func (s *Spreadsheet) removeSheet(sheet uint32) (sheetRemoval, error) {
	edit := RemoveSheet{Sheet: sheet}
	if err := s.validateEdit(edit); err != nil {
		return sheetRemoval{}, err
	}
	var removal sheetRemoval
	s.stats.Measure(StatTransform, func() {
		removal.name = s.sheetName(sheet)
		removal.names = s.listNamedExpressions(sheet)

		var garbage []VertexID
		for _, id := range s.graph.CellsInSheet(sheet) {
			v := s.graph.vertices[id]
			if raw := s.rawContent(v); raw != nil {
				removal.removed = append(removal.removed, cellContent{Address: v.Address, Raw: raw})
			}
		}
		slices.SortFunc(removal.removed, func(a, b cellContent) int { return compareAddresses(a.Address, b.Address) })

		for _, id := range s.names.LocalVertices(sheet) {
			garbage = append(garbage, s.graph.Dependencies(id)...)
			s.graph.removeVertex(id)
		}
		for _, id := range s.graph.CellsInSheet(sheet) {
			v := s.graph.vertices[id]
			s.markDependentsDirty(v)
			s.recordChange(v.Address, v.Value, nil)
			garbage = append(garbage, s.graph.Dependencies(id)...)
			s.graph.removeVertex(id)
		}
		for _, id := range s.graph.RangesInSheet(sheet) {
			s.markDependentsDirty(s.graph.vertices[id])
			s.graph.removeVertex(id)
		}

		for _, v := range s.graph.vertices {
			if v == nil || v.AST == nil {
				continue
			}
			ast, tr := TransformAST(v.AST, v.Address, edit)
			if !tr.Changed {
				continue
			}
			v.AST = ast
			if v.templateHash != 0 {
				s.parserCache.Release(v.templateHash)
				v.templateHash = 0
			}
			if tr.Clipped {
				removal.clipped = true
				garbage = append(garbage, s.graph.clearDependencies(v.ID)...)
				s.bindDependencies(v)
			}
			s.graph.MarkDirty(v.ID)
		}

		removal.position, _ = s.sheets.RemoveSheet(sheet)
		s.parserCache.Clear()
		s.criterion.Clear()
		s.graph.collectGarbage(garbage)
		s.graph.invalidateDimensions(sheet)
	})
	return removal, nil
}

// restoreSheet brings back a removed sheet under its old id and position
func (s *Spreadsheet) restoreSheet(sheet uint32, name string, position int) error {
	if err := s.sheets.restoreSheet(sheet, name, position); err != nil {
		return err
	}
	s.parserCache.Clear()
	s.resolveAwaiting(name)
	return nil
}

// renameSheet renames a sheet and resolves formulas waiting for the new
// name. it returns the old name and how many formulas were resolved.
func (s *Spreadsheet) renameSheet(sheet uint32, newName string) (string, int, error) {
	if err := s.validateEdit(RenameSheet{Sheet: sheet, NewName: newName}); err != nil {
		return "", 0, err
	}
	oldName, err := s.sheets.RenameSheet(sheet, newName)
	if err != nil {
		return "", 0, err
	}
	s.parserCache.Clear()
	resolved := 0
	if sheetKey(oldName) != sheetKey(newName) {
		resolved = s.resolveAwaiting(newName)
	}
	return oldName, resolved, nil
}

// namedExpressionText renders a named expression so it can be re-defined
// later: formulas are regenerated with every reference sheet-qualified
func (s *Spreadsheet) namedExpressionText(v *Vertex) Primitive {
	if isFormula(v.Raw) {
		return s.formulaText(v, GlobalScope)
	}
	return v.Raw
}

// listNamedExpressions returns the defined names of exactly one scope,
// ordered by name
func (s *Spreadsheet) listNamedExpressions(scope uint32) []NamedExpression {
	var ids []VertexID
	if scope == GlobalScope {
		ids = s.names.GlobalVertices()
	} else {
		ids = s.names.LocalVertices(scope)
	}
	var result []NamedExpression
	for _, id := range ids {
		v := s.graph.Vertex(id)
		if v == nil || !v.Defined {
			continue
		}
		name, _ := s.names.DisplayName(id)
		result = append(result, NamedExpression{Name: name, Scope: scope, Expression: s.namedExpressionText(v)})
	}
	return result
}

// namedBase is the address unqualified references in a named expression
// resolve against
func (s *Spreadsheet) namedBase(scope uint32) Address {
	if scope != GlobalScope {
		return Address{Sheet: scope}
	}
	first, _ := s.sheets.First()
	return Address{Sheet: first}
}

// defineNamedExpression adds a name that is not defined in scope yet
func (s *Spreadsheet) defineNamedExpression(name string, expression Primitive, scope uint32) error {
	if !IsValidNamedExpressionName(name) {
		return ErrNamedExpressionNameIsInvalid(name)
	}
	if scope != GlobalScope && !s.sheets.Contains(scope) {
		return ErrSheetNotFound(scope)
	}
	expression, err := normalizeRaw(expression)
	if err != nil {
		return err
	}
	if id, ok := s.names.Get(name, scope); ok && s.graph.Vertex(id).Defined {
		return ErrNamedExpressionAlreadyExists(name)
	}

	var v *Vertex
	if id, ok := s.names.Get(name, scope); ok {
		// the global placeholder becomes the definition
		v = s.graph.Vertex(id)
	} else {
		v = s.graph.newVertex(VertexNamedExpression)
		if scope == GlobalScope {
			s.names.setGlobal(name, v.ID)
		} else {
			s.names.setLocal(scope, name, v.ID)
		}
	}
	v.Name = nameKey(name)
	v.Scope = scope
	v.Defined = true
	v.Address = s.namedBase(scope)
	s.names.setDisplayName(v.ID, name)
	s.setNamedContent(v, expression)

	if scope != GlobalScope {
		// formulas on the sheet that read the global name now read this one
		if globalID, ok := s.names.Global(name); ok {
			for _, dep := range s.graph.Dependents(globalID) {
				if d := s.graph.Vertex(dep); d != nil && scopeOf(d) == scope {
					s.rebind(d)
				}
			}
			s.graph.collectGarbage([]VertexID{globalID})
		}
	}
	return nil
}

// setNamedContent replaces the expression of a defined name
func (s *Spreadsheet) setNamedContent(v *Vertex, expression Primitive) {
	garbage := s.detachFormula(v)
	v.Raw = expression
	if isFormula(expression) {
		s.bindFormula(v)
	} else {
		v.Value = expression
	}
	s.graph.MarkDirty(v.ID)
	s.graph.collectGarbage(garbage)
}

// changeNamedExpression replaces the expression of a defined name
func (s *Spreadsheet) changeNamedExpression(name string, expression Primitive, scope uint32) error {
	v, err := s.definedName(name, scope)
	if err != nil {
		return err
	}
	expression, err = normalizeRaw(expression)
	if err != nil {
		return err
	}
	s.setNamedContent(v, expression)
	return nil
}

// removeNamedExpression undefines a name. a global name still read by
// formulas turns back into a #NAME? placeholder; formulas reading a
// removed local name fall back to the global one.
func (s *Spreadsheet) removeNamedExpression(name string, scope uint32) error {
	v, err := s.definedName(name, scope)
	if err != nil {
		return err
	}
	dependents := s.graph.Dependents(v.ID)
	garbage := s.detachFormula(v)
	if scope == GlobalScope {
		if len(dependents) > 0 {
			v.Defined = false
			v.Raw = nil
			v.Value = undefinedName(name)
			delete(s.names.names, v.ID)
			s.graph.MarkDirty(v.ID)
		} else {
			s.graph.removeVertex(v.ID)
		}
	} else {
		s.graph.removeVertex(v.ID)
		for _, dep := range dependents {
			if d := s.graph.Vertex(dep); d != nil {
				s.rebind(d)
			}
		}
	}
	s.graph.collectGarbage(garbage)
	return nil
}

func (s *Spreadsheet) definedName(name string, scope uint32) (*Vertex, error) {
	if scope != GlobalScope && !s.sheets.Contains(scope) {
		return nil, ErrSheetNotFound(scope)
	}
	id, ok := s.names.Get(name, scope)
	if !ok || !s.graph.Vertex(id).Defined {
		return nil, ErrNamedExpressionDoesNotExist(name)
	}
	return s.graph.Vertex(id), nil
}

// setNamedExpressionState makes a name defined with expression, or
// undefined, whatever its current state
func (s *Spreadsheet) setNamedExpressionState(name string, scope uint32, defined bool, expression Primitive) error {
	_, err := s.definedName(name, scope)
	current := err == nil
	switch {
	case defined && current:
		return s.changeNamedExpression(name, expression, scope)
	case defined:
		return s.defineNamedExpression(name, expression, scope)
	case current:
		return s.removeNamedExpression(name, scope)
	default:
		return nil
	}
}

// namedExpressionValue returns the current value of a defined name
func (s *Spreadsheet) namedExpressionValue(name string, scope uint32) (Primitive, error) {
	v, err := s.definedName(name, scope)
	if err != nil {
		return nil, err
	}
	if r, ok := v.Value.(Range); ok {
		return nil, ErrInvalidArgument("named expression %s evaluates to the range %s", name, r.Address())
	}
	return v.Value, nil
}

// editDescription renders an edit for logs
func editDescription(edit StructuralEdit) string {
	if stringer, ok := edit.(fmt.Stringer); ok {
		return stringer.String()
	}
	return edit.Name()
}
