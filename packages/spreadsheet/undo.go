package spreadsheet

import (
	"slices"

	"github.com/google/uuid"
)

// UndoEntry knows how to revert and re-apply one recorded operation
type UndoEntry interface {
	undo(s *Spreadsheet) error
	redo(s *Spreadsheet) error
}

// Reversibility tells whether an edit can be undone. it is either Inverse
// or Irreversible.
type Reversibility interface {
	isReversibility()
}

// Inverse carries the entry that reverts an edit
type Inverse struct {
	Entry UndoEntry
}

// Irreversible marks an edit that discarded information, e.g. clipped a
// reference to #REF!
type Irreversible struct {
	Reason string
}

func (Inverse) isReversibility()      {}
func (Irreversible) isReversibility() {}

// EditOutcome is the result of a mutating operation
type EditOutcome struct {
	ID         uuid.UUID
	Changes    []CellChange
	Reversible Reversibility
}

func newEditOutcome(reversible Reversibility) EditOutcome {
	return EditOutcome{ID: uuid.New(), Reversible: reversible}
}

// UndoRedo holds the undo and redo histories. the undo stack keeps at most
// limit entries, dropping the oldest.
type UndoRedo struct {
	undoStack []UndoEntry
	redoStack []UndoEntry
	limit     int
}

// NewUndoRedo creates empty histories bounded by limit
func NewUndoRedo(limit int) *UndoRedo {
	return &UndoRedo{limit: limit}
}

// Push records an outcome. a new edit invalidates the redo history, and an
// irreversible one clears the undo history as well, so the state after it
// becomes the oldest reachable state.
func (ur *UndoRedo) Push(outcome EditOutcome) {
	ur.redoStack = nil
	switch r := outcome.Reversible.(type) {
	case Inverse:
		if ur.limit == 0 {
			return
		}
		ur.undoStack = append(ur.undoStack, r.Entry)
		if len(ur.undoStack) > ur.limit {
			ur.undoStack = slices.Delete(ur.undoStack, 0, len(ur.undoStack)-ur.limit)
		}
	case Irreversible:
		ur.undoStack = nil
	}
}

// Undo reverts the newest entry and moves it to the redo history. it
// returns false, without error, when there is nothing to undo.
func (ur *UndoRedo) Undo(s *Spreadsheet) (bool, error) {
	n := len(ur.undoStack)
	if n == 0 {
		return false, nil
	}
	entry := ur.undoStack[n-1]
	ur.undoStack = ur.undoStack[:n-1]
	if err := entry.undo(s); err != nil {
		return true, err
	}
	ur.redoStack = append(ur.redoStack, entry)
	return true, nil
}

// Redo re-applies the newest undone entry
func (ur *UndoRedo) Redo(s *Spreadsheet) (bool, error) {
	n := len(ur.redoStack)
	if n == 0 {
		return false, nil
	}
	entry := ur.redoStack[n-1]
	ur.redoStack = ur.redoStack[:n-1]
	if err := entry.redo(s); err != nil {
		return true, err
	}
	ur.undoStack = append(ur.undoStack, entry)
	return true, nil
}

// Clear empties both histories
func (ur *UndoRedo) Clear() {
	ur.undoStack = nil
	ur.redoStack = nil
}

func (ur *UndoRedo) IsThereSomethingToUndo() bool {
	return len(ur.undoStack) > 0
}

func (ur *UndoRedo) IsThereSomethingToRedo() bool {
	return len(ur.redoStack) > 0
}

// cellContent is the raw content of one cell: a literal, formula text or
// nil for empty
type cellContent struct {
	Address Address
	Raw     Primitive
}

// setContentsEntry reverts cell writes
type setContentsEntry struct {
	before []cellContent
	after  []cellContent
}

func (e *setContentsEntry) undo(s *Spreadsheet) error {
	return s.restoreContents(e.before)
}

func (e *setContentsEntry) redo(s *Spreadsheet) error {
	return s.restoreContents(e.after)
}

// structuralEntry reverts a row, column or move edit by applying the
// inverse edit and writing back the cells the edit removed
type structuralEntry struct {
	edit     StructuralEdit
	inverse  StructuralEdit
	restored []cellContent
}

func (e *structuralEntry) undo(s *Spreadsheet) error {
	if _, err := s.applyStructuralEdit(e.inverse); err != nil {
		return err
	}
	return s.restoreContents(e.restored)
}

func (e *structuralEntry) redo(s *Spreadsheet) error {
	_, err := s.applyStructuralEdit(e.edit)
	return err
}

// addSheetEntry reverts AddSheet
type addSheetEntry struct {
	sheet    uint32
	name     string
	position int
}

func (e *addSheetEntry) undo(s *Spreadsheet) error {
	_, err := s.removeSheet(e.sheet)
	return err
}

func (e *addSheetEntry) redo(s *Spreadsheet) error {
	return s.restoreSheet(e.sheet, e.name, e.position)
}

// removeSheetEntry reverts RemoveSheet: the sheet comes back under the
// same id and position with its cells and local names
type removeSheetEntry struct {
	sheet    uint32
	name     string
	position int
	contents []cellContent
	names    []NamedExpression
}

func (e *removeSheetEntry) undo(s *Spreadsheet) error {
	if err := s.restoreSheet(e.sheet, e.name, e.position); err != nil {
		return err
	}
	for _, ne := range e.names {
		if err := s.defineNamedExpression(ne.Name, ne.Expression, ne.Scope); err != nil {
			return err
		}
	}
	return s.restoreContents(e.contents)
}

func (e *removeSheetEntry) redo(s *Spreadsheet) error {
	_, err := s.removeSheet(e.sheet)
	return err
}

// renameSheetEntry reverts RenameSheet
type renameSheetEntry struct {
	sheet   uint32
	oldName string
	newName string
}

func (e *renameSheetEntry) undo(s *Spreadsheet) error {
	_, _, err := s.renameSheet(e.sheet, e.oldName)
	return err
}

func (e *renameSheetEntry) redo(s *Spreadsheet) error {
	_, _, err := s.renameSheet(e.sheet, e.newName)
	return err
}

// namedExpressionEntry reverts adding, changing or removing a named
// expression. a nil expression means the name was not defined.
type namedExpressionEntry struct {
	name   string
	scope  uint32
	before Primitive
	after  Primitive
	// defined before and after the edit
	wasDefined bool
	isDefined  bool
}

func (e *namedExpressionEntry) undo(s *Spreadsheet) error {
	return s.setNamedExpressionState(e.name, e.scope, e.wasDefined, e.before)
}

func (e *namedExpressionEntry) redo(s *Spreadsheet) error {
	return s.setNamedExpressionState(e.name, e.scope, e.isDefined, e.after)
}

// batchEntry groups the entries recorded inside Batch
type batchEntry struct {
	entries []UndoEntry
}

func (e *batchEntry) undo(s *Spreadsheet) error {
	for _, entry := range slices.Backward(e.entries) {
		if err := entry.undo(s); err != nil {
			return err
		}
	}
	return nil
}

func (e *batchEntry) redo(s *Spreadsheet) error {
	for _, entry := range e.entries {
		if err := entry.redo(s); err != nil {
			return err
		}
	}
	return nil
}
