package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type SpreadsheetInterface interface {
	// cell methods

	Get(address string) (Primitive, error)
	Set(address string, value Primitive) error
	Remove(address string) error
	SetCellContents(addr Address, raw Primitive) ([]CellChange, error)
	GetCellValue(addr Address) (Primitive, error)
	GetCellFormula(addr Address) (string, error)

	// structural methods

	Apply(edit StructuralEdit) (EditOutcome, error)
	InsertRows(sheet, row, count uint32) ([]CellChange, error)
	RemoveRows(sheet, row, count uint32) ([]CellChange, error)
	InsertColumns(sheet, column, count uint32) ([]CellChange, error)
	RemoveColumns(sheet, column, count uint32) ([]CellChange, error)
	MoveRange(source RangeAddress, target Address) ([]CellChange, error)

	// sheet methods

	AddSheet(name string) (uint32, []CellChange, error)
	RemoveSheet(sheet uint32) ([]CellChange, error)
	RenameSheet(sheet uint32, newName string) ([]CellChange, error)
	SheetID(name string) (uint32, bool)
	SheetName(sheet uint32) (string, bool)
	ListSheets() []string

	// named expression methods

	AddNamedExpression(name string, expression Primitive, scope uint32) ([]CellChange, error)
	ChangeNamedExpression(name string, expression Primitive, scope uint32) ([]CellChange, error)
	RemoveNamedExpression(name string, scope uint32) ([]CellChange, error)
	ListNamedExpressions(scope uint32) []NamedExpression

	// history methods

	Undo() ([]CellChange, error)
	Redo() ([]CellChange, error)
	ClearUndoStack()
	IsThereSomethingToUndo() bool
	IsThereSomethingToRedo() bool

	// common methods

	Batch(fn func(s *Spreadsheet) error) ([]CellChange, error)
	Rebuild() ([]CellChange, error)
	Statistics() *Statistics
}

var _ SpreadsheetInterface = (*Spreadsheet)(nil)

// errInBatch is returned by operations that cannot run while a batch is open
func errInBatch(op string) *AppError {
	return ErrFailedPrecondition("%s is not allowed inside a batch", op)
}

// commit runs a mutation and records its outcome. inside a batch the undo
// entry is collected and recalculation is deferred to the end of the batch.
func (s *Spreadsheet) commit(ctx context.Context, mutate func() (Reversibility, error)) (EditOutcome, error) {
	reversible, err := mutate()
	if err != nil {
		return EditOutcome{}, err
	}
	outcome := newEditOutcome(reversible)
	if s.batch != nil {
		switch r := reversible.(type) {
		case Inverse:
			s.batch.entries = append(s.batch.entries, r.Entry)
		case Irreversible:
			if s.batch.irreversible == nil {
				s.batch.irreversible = &r
			}
		}
		return outcome, nil
	}
	s.pushOutcome(outcome)
	outcome.Changes = s.recalculate(ctx)
	return outcome, nil
}

// pushOutcome adds an outcome to the history
func (s *Spreadsheet) pushOutcome(outcome EditOutcome) {
	if r, ok := outcome.Reversible.(Irreversible); ok && (s.undoRedo.IsThereSomethingToUndo() || s.undoRedo.IsThereSomethingToRedo()) {
		s.logger.Warn("irreversible edit cleared undo history",
			slog.String("id", outcome.ID.String()),
			slog.String("reason", r.Reason),
		)
	}
	s.undoRedo.Push(outcome)
}

// matchText matches a whole reference such as "B2", "Sheet2!A1:C3" or
// "A:B" and resolves its sheet. unqualified references belong to the first
// sheet.
func (s *Spreadsheet) matchText(text string) (ReferenceMatch, uint32, error) {
	m, ok := MatchReference(text, 0)
	if !ok || m.IsNamedExpression || m.Span.End != len([]rune(text)) {
		return m, 0, ErrInvalidArgument("invalid reference %q", text)
	}
	if m.Sheet != "" {
		id, exists := s.sheets.ID(m.Sheet)
		if !exists {
			return m, 0, ErrSheetNotFound(m.Sheet)
		}
		return m, id, nil
	}
	first, exists := s.sheets.First()
	if !exists {
		return m, 0, ErrFailedPrecondition("the workbook has no sheets")
	}
	return m, first, nil
}

func (s *Spreadsheet) parseAddress(text string) (Address, error) {
	m, sheet, err := s.matchText(text)
	if err != nil {
		return Address{}, err
	}
	if m.Kind != RefMatchCell {
		return Address{}, ErrInvalidArgument("%q is not a cell address", text)
	}
	addr := NewAddress(sheet, uint32(m.Start.Row), uint32(m.Start.Col))
	return addr, s.checkAddress(addr)
}

func (s *Spreadsheet) parseRange(text string) (RangeAddress, error) {
	m, sheet, err := s.matchText(text)
	if err != nil {
		return RangeAddress{}, err
	}
	switch m.Kind {
	case RefMatchCell, RefMatchCellRange:
		start := NewAddress(sheet, uint32(m.Start.Row), uint32(m.Start.Col))
		end := NewAddress(sheet, uint32(m.End.Row), uint32(m.End.Col))
		return NewRangeAddress(start, end), nil
	case RefMatchColumnRange:
		return NewColumnRange(sheet, uint32(m.Start.Col), uint32(m.End.Col)), nil
	case RefMatchRowRange:
		return NewRowRange(sheet, uint32(m.Start.Row), uint32(m.End.Row)), nil
	default:
		return RangeAddress{}, ErrInvalidArgument("%q is not a range", text)
	}
}

// ParseAddress resolves an A1 address such as "B2" or "Sheet2!B2"
func (s *Spreadsheet) ParseAddress(text string) (Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parseAddress(text)
}

// ParseRange resolves a range such as "A1:C3", "Sheet2!A:B" or "2:5". a
// single cell is a one-cell range.
func (s *Spreadsheet) ParseRange(text string) (RangeAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parseRange(text)
}

// Get retrieves the value of a cell
func (s *Spreadsheet) Get(address string) (Primitive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, err := s.parseAddress(address)
	if err != nil {
		return nil, err
	}
	return s.cellValue(addr), nil
}

// Set sets the content of a cell: a number, string, boolean, or formula
// text starting with "="
func (s *Spreadsheet) Set(address string, value Primitive) error {
	s.mu.Lock()
	addr, err := s.parseAddress(address)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = s.SetCellContents(addr, value)
	return err
}

// Remove empties a cell
func (s *Spreadsheet) Remove(address string) error {
	return s.Set(address, nil)
}

// SetCellContents replaces the content of a cell and returns the values
// that changed as a result
func (s *Spreadsheet) SetCellContents(addr Address, raw Primitive) ([]CellChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, err := s.commit(context.Background(), func() (Reversibility, error) {
		if err := s.checkAddress(addr); err != nil {
			return nil, err
		}
		raw, err := normalizeRaw(raw)
		if err != nil {
			return nil, err
		}
		var before Primitive
		if id, ok := s.graph.CellVertex(addr); ok {
			before = s.rawContent(s.graph.Vertex(id))
		}
		s.writeCell(addr, raw)
		return Inverse{Entry: &setContentsEntry{
			before: []cellContent{{Address: addr, Raw: before}},
			after:  []cellContent{{Address: addr, Raw: raw}},
		}}, nil
	})
	return outcome.Changes, err
}

// GetCellValue returns the computed value of a cell, nil when empty
func (s *Spreadsheet) GetCellValue(addr Address) (Primitive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAddress(addr); err != nil {
		return nil, err
	}
	return s.cellValue(addr), nil
}

// GetCellFormula returns the formula of a cell as it reads after every
// structural edit so far, or "" when the cell holds no formula
func (s *Spreadsheet) GetCellFormula(addr Address) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAddress(addr); err != nil {
		return "", err
	}
	id, ok := s.graph.CellVertex(addr)
	if !ok {
		return "", nil
	}
	v := s.graph.Vertex(id)
	if v.Kind != VertexFormulaCell {
		return "", nil
	}
	return s.formulaText(v, addr.Sheet), nil
}

// Apply performs a structural edit. the outcome tells whether it can be
// undone.
func (s *Spreadsheet) Apply(edit StructuralEdit) (EditOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(context.Background(), edit)
}

func (s *Spreadsheet) apply(ctx context.Context, edit StructuralEdit) (EditOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "spreadsheet.Transform", trace.WithAttributes(
		attribute.String("calc.edit", edit.Name()),
	))
	defer span.End()

	outcome, err := s.commit(ctx, func() (Reversibility, error) {
		switch e := edit.(type) {
		case RemoveSheet:
			return s.applyRemoveSheet(e)
		case RenameSheet:
			return s.applyRenameSheet(e)
		default:
			return s.applyGridEdit(edit)
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, err
	}

	_, irreversible := outcome.Reversible.(Irreversible)
	span.SetAttributes(attribute.Bool("calc.reversible", !irreversible))
	if sheets := touchedSheets(edit); len(sheets) > 0 {
		span.SetAttributes(attribute.Int("calc.sheet", int(sheets[0])))
	}
	s.logger.Debug("structural edit",
		slog.String("id", outcome.ID.String()),
		slog.String("op", edit.Name()),
		slog.String("edit", editDescription(edit)),
		slog.Bool("reversible", !irreversible),
		slog.Int("changes", len(outcome.Changes)),
	)
	return outcome, nil
}

// applyGridEdit applies a row, column or move edit
func (s *Spreadsheet) applyGridEdit(edit StructuralEdit) (Reversibility, error) {
	movable := true
	if move, ok := edit.(MoveRange); ok {
		if err := s.validateEdit(edit); err != nil {
			return nil, err
		}
		movable = s.moveIsReversible(move)
	}
	result, err := s.applyStructuralEdit(edit)
	if err != nil {
		return nil, err
	}
	switch {
	case result.clipped:
		return Irreversible{Reason: fmt.Sprintf("%s turned references into #REF!", editDescription(edit))}, nil
	case !movable:
		return Irreversible{Reason: fmt.Sprintf("%s overwrote referenced or non-empty cells", editDescription(edit))}, nil
	}
	return Inverse{Entry: &structuralEntry{
		edit:     edit,
		inverse:  inverseEdit(edit),
		restored: result.removed,
	}}, nil
}

func (s *Spreadsheet) applyRemoveSheet(e RemoveSheet) (Reversibility, error) {
	removal, err := s.removeSheet(e.Sheet)
	if err != nil {
		return nil, err
	}
	if removal.clipped {
		return Irreversible{Reason: fmt.Sprintf("removing sheet %s turned references into #REF!", removal.name)}, nil
	}
	return Inverse{Entry: &removeSheetEntry{
		sheet:    e.Sheet,
		name:     removal.name,
		position: removal.position,
		contents: removal.removed,
		names:    removal.names,
	}}, nil
}

func (s *Spreadsheet) applyRenameSheet(e RenameSheet) (Reversibility, error) {
	oldName, resolved, err := s.renameSheet(e.Sheet, e.NewName)
	if err != nil {
		return nil, err
	}
	if resolved > 0 {
		return Irreversible{Reason: fmt.Sprintf("renaming sheet %s to %s resolved %d waiting formulas", oldName, e.NewName, resolved)}, nil
	}
	return Inverse{Entry: &renameSheetEntry{sheet: e.Sheet, oldName: oldName, newName: e.NewName}}, nil
}

// InsertRows inserts count empty rows before row
func (s *Spreadsheet) InsertRows(sheet, row, count uint32) ([]CellChange, error) {
	outcome, err := s.Apply(InsertRows{Sheet: sheet, Row: row, Count: count})
	return outcome.Changes, err
}

// RemoveRows removes count rows starting at row
func (s *Spreadsheet) RemoveRows(sheet, row, count uint32) ([]CellChange, error) {
	outcome, err := s.Apply(RemoveRows{Sheet: sheet, Row: row, Count: count})
	return outcome.Changes, err
}

// InsertColumns inserts count empty columns before column
func (s *Spreadsheet) InsertColumns(sheet, column, count uint32) ([]CellChange, error) {
	outcome, err := s.Apply(InsertColumns{Sheet: sheet, Column: column, Count: count})
	return outcome.Changes, err
}

// RemoveColumns removes count columns starting at column
func (s *Spreadsheet) RemoveColumns(sheet, column, count uint32) ([]CellChange, error) {
	outcome, err := s.Apply(RemoveColumns{Sheet: sheet, Column: column, Count: count})
	return outcome.Changes, err
}

// MoveRange moves the cells of source so its top-left corner lands on
// target. formulas anywhere that read the moved cells follow them.
func (s *Spreadsheet) MoveRange(source RangeAddress, target Address) ([]CellChange, error) {
	outcome, err := s.Apply(MoveRange{Source: source, Target: target})
	return outcome.Changes, err
}

// AddSheet adds an empty sheet at the end and returns its ID. formulas that
// were waiting for a sheet with this name are resolved.
func (s *Spreadsheet) AddSheet(name string) (uint32, []CellChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id uint32
	outcome, err := s.commit(context.Background(), func() (Reversibility, error) {
		var err error
		id, err = s.sheets.AddSheet(name)
		if err != nil {
			return nil, err
		}
		if resolved := s.resolveAwaiting(name); resolved > 0 {
			return Irreversible{Reason: fmt.Sprintf("adding sheet %s resolved %d waiting formulas", name, resolved)}, nil
		}
		return Inverse{Entry: &addSheetEntry{sheet: id, name: name, position: s.sheets.Count() - 1}}, nil
	})
	if err != nil {
		return 0, nil, err
	}
	s.logger.Debug("sheet added", slog.String("name", name), slog.Int("sheet", int(id)))
	return id, outcome.Changes, nil
}

// RemoveSheet removes a sheet with all its cells and local names.
// references to it from elsewhere become #REF!.
func (s *Spreadsheet) RemoveSheet(sheet uint32) ([]CellChange, error) {
	outcome, err := s.Apply(RemoveSheet{Sheet: sheet})
	return outcome.Changes, err
}

// RenameSheet renames a sheet. formulas keep pointing at it and read the
// new name.
func (s *Spreadsheet) RenameSheet(sheet uint32, newName string) ([]CellChange, error) {
	outcome, err := s.Apply(RenameSheet{Sheet: sheet, NewName: newName})
	return outcome.Changes, err
}

// SheetID returns the ID of a sheet, compared case-insensitively
func (s *Spreadsheet) SheetID(name string) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheets.ID(name)
}

// SheetName returns the name of a sheet as it was given
func (s *Spreadsheet) SheetName(sheet uint32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheets.Name(sheet)
}

// ListSheets returns sheet names in tab order
func (s *Spreadsheet) ListSheets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheets.Names()
}

// AddNamedExpression defines a name in scope, GlobalScope or a sheet ID.
// the expression is a constant or formula text starting with "=".
func (s *Spreadsheet) AddNamedExpression(name string, expression Primitive, scope uint32) ([]CellChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, err := s.commit(context.Background(), func() (Reversibility, error) {
		if err := s.defineNamedExpression(name, expression, scope); err != nil {
			return nil, err
		}
		after, _ := normalizeRaw(expression)
		return Inverse{Entry: &namedExpressionEntry{
			name: name, scope: scope,
			after: after, isDefined: true,
		}}, nil
	})
	return outcome.Changes, err
}

// ChangeNamedExpression replaces the expression of a defined name
func (s *Spreadsheet) ChangeNamedExpression(name string, expression Primitive, scope uint32) ([]CellChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, err := s.commit(context.Background(), func() (Reversibility, error) {
		v, err := s.definedName(name, scope)
		if err != nil {
			return nil, err
		}
		before := s.namedExpressionText(v)
		if err := s.changeNamedExpression(name, expression, scope); err != nil {
			return nil, err
		}
		after, _ := normalizeRaw(expression)
		return Inverse{Entry: &namedExpressionEntry{
			name: name, scope: scope,
			before: before, wasDefined: true,
			after: after, isDefined: true,
		}}, nil
	})
	return outcome.Changes, err
}

// RemoveNamedExpression undefines a name. formulas reading a removed
// global name evaluate to #NAME?; formulas reading a removed local name
// fall back to the global one.
func (s *Spreadsheet) RemoveNamedExpression(name string, scope uint32) ([]CellChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, err := s.commit(context.Background(), func() (Reversibility, error) {
		v, err := s.definedName(name, scope)
		if err != nil {
			return nil, err
		}
		before := s.namedExpressionText(v)
		if err := s.removeNamedExpression(name, scope); err != nil {
			return nil, err
		}
		return Inverse{Entry: &namedExpressionEntry{
			name: name, scope: scope,
			before: before, wasDefined: true,
		}}, nil
	})
	return outcome.Changes, err
}

// ListNamedExpressions returns the names defined in exactly one scope
func (s *Spreadsheet) ListNamedExpressions(scope uint32) []NamedExpression {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listNamedExpressions(scope)
}

// NamedExpressionValue returns the current value of a defined name
func (s *Spreadsheet) NamedExpressionValue(name string, scope uint32) (Primitive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namedExpressionValue(name, scope)
}

// Undo reverts the most recent reversible edit. with nothing to undo it
// does nothing and returns no changes.
func (s *Spreadsheet) Undo() ([]CellChange, error) {
	return s.history("undo", s.undoRedo.Undo)
}

// Redo re-applies the most recently undone edit
func (s *Spreadsheet) Redo() ([]CellChange, error) {
	return s.history("redo", s.undoRedo.Redo)
}

func (s *Spreadsheet) history(op string, step func(*Spreadsheet) (bool, error)) ([]CellChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch != nil {
		return nil, errInBatch(op)
	}
	var (
		done bool
		err  error
	)
	s.stats.Measure(StatUndoRedo, func() {
		done, err = step(s)
	})
	if !done {
		return nil, nil
	}
	changes := s.recalculate(context.Background())
	if err != nil {
		return changes, fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug(op, slog.Int("changes", len(changes)))
	return changes, nil
}

// ClearUndoStack forgets the undo and redo histories
func (s *Spreadsheet) ClearUndoStack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undoRedo.Clear()
}

func (s *Spreadsheet) IsThereSomethingToUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undoRedo.IsThereSomethingToUndo()
}

func (s *Spreadsheet) IsThereSomethingToRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undoRedo.IsThereSomethingToRedo()
}

// Batch runs fn with evaluation suspended: the edits fn makes are
// recalculated once at the end and undone as a single step. values read
// inside fn may be stale. when fn fails, its edits are rolled back if all
// of them can be undone.
func (s *Spreadsheet) Batch(fn func(s *Spreadsheet) error) ([]CellChange, error) {
	s.mu.Lock()
	if s.batch != nil {
		s.mu.Unlock()
		return nil, errInBatch("batch")
	}
	s.batch = &batchState{}
	s.mu.Unlock()

	fnErr := fn(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.batch
	s.batch = nil
	ctx := context.Background()

	if fnErr != nil && batch.irreversible == nil {
		var rollbackErr error
		for _, entry := range slices.Backward(batch.entries) {
			if err := entry.undo(s); err != nil {
				rollbackErr = err
				break
			}
		}
		s.recalculate(ctx)
		s.logger.Debug("batch rolled back", slog.Int("entries", len(batch.entries)))
		return nil, errors.Join(fnErr, rollbackErr)
	}

	switch {
	case batch.irreversible != nil:
		s.pushOutcome(newEditOutcome(*batch.irreversible))
	case len(batch.entries) > 0:
		s.pushOutcome(newEditOutcome(Inverse{Entry: &batchEntry{entries: batch.entries}}))
	}
	return s.recalculate(ctx), fnErr
}

// Rebuild discards the graph and every cache and builds the workbook again
// from its serialized contents: sheets, named expressions and cell
// contents. sheet IDs are kept and the undo history is cleared.
func (s *Spreadsheet) Rebuild() ([]CellChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch != nil {
		return nil, errInBatch("rebuild")
	}
	ctx, span := s.tracer.Start(context.Background(), "spreadsheet.Build")
	defer span.End()

	type sheetInfo struct {
		id       uint32
		name     string
		contents []cellContent
		names    []NamedExpression
	}
	var sheets []sheetInfo
	for _, id := range s.sheets.Sheets() {
		info := sheetInfo{id: id, name: s.sheetName(id), names: s.listNamedExpressions(id)}
		for _, cell := range s.graph.CellsInSheet(id) {
			v := s.graph.Vertex(cell)
			if raw := s.rawContent(v); raw != nil {
				info.contents = append(info.contents, cellContent{Address: v.Address, Raw: raw})
			}
		}
		slices.SortFunc(info.contents, func(a, b cellContent) int { return compareAddresses(a.Address, b.Address) })
		sheets = append(sheets, info)
	}
	globals := s.listNamedExpressions(GlobalScope)
	nextID := s.sheets.nextID

	var (
		changes []CellChange
		err     error
	)
	s.stats.Measure(StatBuildEngine, func() {
		s.reset()
		for i, sh := range sheets {
			if err = s.sheets.restoreSheet(sh.id, sh.name, i); err != nil {
				return
			}
		}
		s.sheets.nextID = max(s.sheets.nextID, nextID)
		for _, ne := range globals {
			if err = s.defineNamedExpression(ne.Name, ne.Expression, ne.Scope); err != nil {
				return
			}
		}
		for _, sh := range sheets {
			for _, ne := range sh.names {
				if err = s.defineNamedExpression(ne.Name, ne.Expression, ne.Scope); err != nil {
					return
				}
			}
		}
		for _, sh := range sheets {
			if err = s.restoreContents(sh.contents); err != nil {
				return
			}
		}
		changes = s.recalculate(ctx)
	})
	s.undoRedo.Clear()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	span.SetAttributes(attribute.Int("calc.sheets", len(sheets)), attribute.Int("calc.vertices", s.graph.VertexCount()))
	return changes, nil
}

// Statistics returns the statistics collector of this spreadsheet
func (s *Spreadsheet) Statistics() *Statistics {
	return s.stats
}

// GetSheetDimensions returns the used extent of a sheet
func (s *Spreadsheet) GetSheetDimensions(sheet uint32) (SheetDimensions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sheets.Contains(sheet) {
		return SheetDimensions{}, ErrSheetNotFound(sheet)
	}
	return s.graph.Dimensions(sheet), nil
}

// GetSheetValues returns the computed values of a sheet's used extent,
// indexed by row then column
func (s *Spreadsheet) GetSheetValues(sheet uint32) ([][]Primitive, error) {
	return s.sheetGrid(sheet, func(v *Vertex) Primitive { return v.Value })
}

// GetSheetContents returns what every cell of a sheet's used extent was
// set to: literals and formula text
func (s *Spreadsheet) GetSheetContents(sheet uint32) ([][]Primitive, error) {
	return s.sheetGrid(sheet, s.rawContent)
}

func (s *Spreadsheet) sheetGrid(sheet uint32, cell func(v *Vertex) Primitive) ([][]Primitive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sheets.Contains(sheet) {
		return nil, ErrSheetNotFound(sheet)
	}
	dims := s.graph.Dimensions(sheet)
	grid := make([][]Primitive, dims.Rows)
	for row := range grid {
		grid[row] = make([]Primitive, dims.Columns)
	}
	for _, id := range s.graph.CellsInSheet(sheet) {
		v := s.graph.Vertex(id)
		if v.Kind == VertexEmptyCell {
			continue
		}
		grid[v.Address.Row][v.Address.Col] = cell(v)
	}
	return grid, nil
}

// Snapshot returns an id-independent view of the dependency graph, used to
// compare workbook states
func (s *Spreadsheet) Snapshot() GraphSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Snapshot()
}
