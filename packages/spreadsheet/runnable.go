package spreadsheet

import (
	"fmt"
	"maps"
	"slices"
)

// RunnableSpreadsheet provides a chainable interface for
// spreadsheet operations. wraps the standard Spreadsheet and tracks
// errors internally
type RunnableSpreadsheet struct {
	spreadsheet *Spreadsheet
	err         error
	printLn     func(string)
	changes     []CellChange
}

// NewRunnableSpreadsheet creates a new RunnableSpreadsheet. printLn is
// required and will be used for all logging operations (Log, CheckError)
func NewRunnableSpreadsheet(printLn func(string), opts ...Option) *RunnableSpreadsheet {
	s, err := NewSpreadsheet(opts...)
	return &RunnableSpreadsheet{
		spreadsheet: s,
		err:         err,
		printLn:     printLn,
	}
}

// WrapSpreadsheet creates a RunnableSpreadsheet around an existing
// spreadsheet
func WrapSpreadsheet(s *Spreadsheet, printLn func(string)) *RunnableSpreadsheet {
	return &RunnableSpreadsheet{spreadsheet: s, printLn: printLn}
}

// do runs op unless the chain already failed and keeps the changes it
// reported
func (r *RunnableSpreadsheet) do(op func(s *Spreadsheet) ([]CellChange, error)) *RunnableSpreadsheet {
	if r.err != nil {
		return r // no-op if there's already an error
	}
	r.changes, r.err = op(r.spreadsheet)
	return r
}

// sheetID resolves a sheet name, failing the chain when it is unknown
func (r *RunnableSpreadsheet) sheetID(name string) (uint32, error) {
	id, ok := r.spreadsheet.SheetID(name)
	if !ok {
		return 0, ErrSheetNotFound(name)
	}
	return id, nil
}

// scopeID resolves a named expression scope: "" is global, anything else
// is a sheet name
func (r *RunnableSpreadsheet) scopeID(scope string) (uint32, error) {
	if scope == "" {
		return GlobalScope, nil
	}
	return r.sheetID(scope)
}

// Set sets a cell value (chainable)
func (r *RunnableSpreadsheet) Set(address string, value Primitive) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) ([]CellChange, error) {
		addr, err := s.ParseAddress(address)
		if err != nil {
			return nil, err
		}
		return s.SetCellContents(addr, value)
	})
}

// Get retrieves a cell value (chainable)
func (r *RunnableSpreadsheet) Get(address string) (*RunnableSpreadsheet, Primitive) {
	if r.err != nil {
		return r, nil // no-op if there's already an error
	}
	val, err := r.spreadsheet.Get(address)
	if err != nil {
		r.err = err
	}
	return r, val
}

// Remove empties a cell (chainable)
func (r *RunnableSpreadsheet) Remove(address string) *RunnableSpreadsheet {
	return r.Set(address, nil)
}

// AddSheet adds a new sheet (chainable)
func (r *RunnableSpreadsheet) AddSheet(name string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) ([]CellChange, error) {
		_, changes, err := s.AddSheet(name)
		return changes, err
	})
}

// RemoveSheet removes a sheet (chainable)
func (r *RunnableSpreadsheet) RemoveSheet(name string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) ([]CellChange, error) {
		id, err := r.sheetID(name)
		if err != nil {
			return nil, err
		}
		return s.RemoveSheet(id)
	})
}

// RenameSheet renames a sheet (chainable)
func (r *RunnableSpreadsheet) RenameSheet(oldName, newName string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) ([]CellChange, error) {
		id, err := r.sheetID(oldName)
		if err != nil {
			return nil, err
		}
		return s.RenameSheet(id, newName)
	})
}

// InsertRows inserts count rows before the 0-based row (chainable)
func (r *RunnableSpreadsheet) InsertRows(sheet string, row, count uint32) *RunnableSpreadsheet {
	return r.edit(sheet, func(id uint32) StructuralEdit { return InsertRows{Sheet: id, Row: row, Count: count} })
}

// RemoveRows removes count rows starting at the 0-based row (chainable)
func (r *RunnableSpreadsheet) RemoveRows(sheet string, row, count uint32) *RunnableSpreadsheet {
	return r.edit(sheet, func(id uint32) StructuralEdit { return RemoveRows{Sheet: id, Row: row, Count: count} })
}

// InsertColumns inserts count columns before the 0-based column (chainable)
func (r *RunnableSpreadsheet) InsertColumns(sheet string, column, count uint32) *RunnableSpreadsheet {
	return r.edit(sheet, func(id uint32) StructuralEdit { return InsertColumns{Sheet: id, Column: column, Count: count} })
}

// RemoveColumns removes count columns starting at the 0-based column
// (chainable)
func (r *RunnableSpreadsheet) RemoveColumns(sheet string, column, count uint32) *RunnableSpreadsheet {
	return r.edit(sheet, func(id uint32) StructuralEdit { return RemoveColumns{Sheet: id, Column: column, Count: count} })
}

func (r *RunnableSpreadsheet) edit(sheet string, build func(id uint32) StructuralEdit) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) ([]CellChange, error) {
		id, err := r.sheetID(sheet)
		if err != nil {
			return nil, err
		}
		outcome, err := s.Apply(build(id))
		return outcome.Changes, err
	})
}

// MoveRange moves source, e.g. "Sheet1!A1:B2", so its top-left corner
// lands on target, e.g. "C5" (chainable)
func (r *RunnableSpreadsheet) MoveRange(source, target string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) ([]CellChange, error) {
		from, err := s.ParseRange(source)
		if err != nil {
			return nil, err
		}
		to, err := s.ParseAddress(target)
		if err != nil {
			return nil, err
		}
		return s.MoveRange(from, to)
	})
}

// AddNamedExpression defines a name. scope is a sheet name, or "" for a
// global name (chainable)
func (r *RunnableSpreadsheet) AddNamedExpression(name string, expression Primitive, scope string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) ([]CellChange, error) {
		id, err := r.scopeID(scope)
		if err != nil {
			return nil, err
		}
		return s.AddNamedExpression(name, expression, id)
	})
}

// ChangeNamedExpression replaces the expression of a name (chainable)
func (r *RunnableSpreadsheet) ChangeNamedExpression(name string, expression Primitive, scope string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) ([]CellChange, error) {
		id, err := r.scopeID(scope)
		if err != nil {
			return nil, err
		}
		return s.ChangeNamedExpression(name, expression, id)
	})
}

// RemoveNamedExpression undefines a name (chainable)
func (r *RunnableSpreadsheet) RemoveNamedExpression(name string, scope string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) ([]CellChange, error) {
		id, err := r.scopeID(scope)
		if err != nil {
			return nil, err
		}
		return s.RemoveNamedExpression(name, id)
	})
}

// Undo reverts the last edit (chainable)
func (r *RunnableSpreadsheet) Undo() *RunnableSpreadsheet {
	return r.do((*Spreadsheet).Undo)
}

// Redo re-applies the last undone edit (chainable)
func (r *RunnableSpreadsheet) Redo() *RunnableSpreadsheet {
	return r.do((*Spreadsheet).Redo)
}

// Batch runs fn with evaluation suspended and recalculates once at the
// end. an error inside fn fails the chain (chainable)
func (r *RunnableSpreadsheet) Batch(fn func(*RunnableSpreadsheet) *RunnableSpreadsheet) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) ([]CellChange, error) {
		return s.Batch(func(*Spreadsheet) error {
			return fn(r).err
		})
	})
}

// Rebuild rebuilds the spreadsheet from its contents (chainable)
func (r *RunnableSpreadsheet) Rebuild() *RunnableSpreadsheet {
	return r.do((*Spreadsheet).Rebuild)
}

// Changes returns the cell changes reported by the last operation
func (r *RunnableSpreadsheet) Changes() []CellChange {
	return r.changes
}

// Run returns the spreadsheet and any error. typically the last method in
// the chain
func (r *RunnableSpreadsheet) Run() (*Spreadsheet, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.spreadsheet, nil
}

// RunOrPanic returns the spreadsheet and panics if there's an
// error. useful for examples and tests where you want to fail fast
func (r *RunnableSpreadsheet) RunOrPanic() *Spreadsheet {
	spreadsheet, err := r.Run()
	if err != nil {
		panic(err)
	}
	return spreadsheet
}

// Error returns the current error state
func (r *RunnableSpreadsheet) Error() error {
	return r.err
}

// CheckError logs the current error using the PrintLn function (chainable)
func (r *RunnableSpreadsheet) CheckError() *RunnableSpreadsheet {
	if r.err != nil {
		r.printLn(fmt.Sprintf("ERROR: %v", r.err))
	} else {
		r.printLn("No errors")
	}
	return r
}

// Fail puts the chain into the error state unless it already failed
// (chainable)
func (r *RunnableSpreadsheet) Fail(err error) *RunnableSpreadsheet {
	if r.err == nil {
		r.err = err
	}
	return r
}

// Spreadsheet returns the underlying spreadsheet. use with caution as it
// bypasses error tracking.
func (r *RunnableSpreadsheet) Spreadsheet() *Spreadsheet {
	return r.spreadsheet
}

// Reset clears the error state (chainable)
func (r *RunnableSpreadsheet) Reset() *RunnableSpreadsheet {
	r.err = nil
	return r
}

// Then allows conditional execution based on current error state
func (r *RunnableSpreadsheet) Then(fn func(*RunnableSpreadsheet) *RunnableSpreadsheet) *RunnableSpreadsheet {
	if r.err != nil {
		return r // skip if there's an error
	}
	return fn(r)
}

// OnError allows error handling in the chain
func (r *RunnableSpreadsheet) OnError(fn func(error) error) *RunnableSpreadsheet {
	if r.err != nil {
		r.err = fn(r.err)
	}
	return r
}

// Must panics if there's an error (chainable). useful for ensuring
// critical operations succeed
func (r *RunnableSpreadsheet) Must() *RunnableSpreadsheet {
	if r.err != nil {
		panic(r.err)
	}
	return r
}

// SetBatch sets multiple cells in one batch, in address order (chainable)
func (r *RunnableSpreadsheet) SetBatch(cells map[string]Primitive) *RunnableSpreadsheet {
	return r.Batch(func(r *RunnableSpreadsheet) *RunnableSpreadsheet {
		for _, address := range slices.Sorted(maps.Keys(cells)) {
			if r.Set(address, cells[address]).err != nil {
				break
			}
		}
		return r
	})
}

// GetBatch retrieves multiple cell values
func (r *RunnableSpreadsheet) GetBatch(addresses ...string) (*RunnableSpreadsheet, map[string]Primitive) {
	if r.err != nil {
		return r, nil // no-op if there's already an error
	}

	results := make(map[string]Primitive)
	for _, address := range addresses {
		val, err := r.spreadsheet.Get(address)
		if err != nil {
			r.err = err
			return r, nil
		}
		results[address] = val
	}
	return r, results
}

// WithSheet ensures a sheet exists before continuing (chainable)
func (r *RunnableSpreadsheet) WithSheet(name string) *RunnableSpreadsheet {
	if r.err != nil {
		return r // no-op if there's already an error
	}
	if _, exists := r.spreadsheet.SheetID(name); !exists {
		return r.AddSheet(name)
	}
	return r
}

// If allows conditional operations in the chain
func (r *RunnableSpreadsheet) If(condition bool, fn func(*RunnableSpreadsheet) *RunnableSpreadsheet) *RunnableSpreadsheet {
	if r.err != nil || !condition {
		return r // skip if there's an error or condition is false
	}
	return fn(r)
}

// ForEach applies a function to a range of cells (chainable)
func (r *RunnableSpreadsheet) ForEach(startRow, endRow int, startCol, endCol int, fn func(row, col int, r *RunnableSpreadsheet)) *RunnableSpreadsheet {
	if r.err != nil {
		return r // no-op if there's already an error
	}

	for row := startRow; row <= endRow; row++ {
		for col := startCol; col <= endCol; col++ {
			fn(row, col, r)
			if r.err != nil {
				return r // stop on first error
			}
		}
	}
	return r
}

// Value is a helper to get a single value from the chain.
// example: val := NewRunnableSpreadsheet(log).AddSheet("S").Set("A1", 10).Set("A2", "=A1*2").Value("A2")
func (r *RunnableSpreadsheet) Value(address string) Primitive {
	if r.err != nil {
		return nil
	}

	val, err := r.spreadsheet.Get(address)
	if err != nil {
		r.err = err
		return nil
	}
	return val
}

// Values is a helper to get multiple values from the chain
func (r *RunnableSpreadsheet) Values(addresses ...string) []Primitive {
	if r.err != nil {
		return nil
	}

	values := make([]Primitive, len(addresses))
	for i, address := range addresses {
		val, err := r.spreadsheet.Get(address)
		if err != nil {
			r.err = err
			return nil
		}
		values[i] = val
	}
	return values
}

// Log logs the value of a cell using the provided PrintLn function (chainable)
func (r *RunnableSpreadsheet) Log(address string) *RunnableSpreadsheet {
	if r.err != nil {
		return r // no-op if there's already an error
	}

	val, err := r.spreadsheet.Get(address)
	if err != nil {
		r.err = err
		return r
	}

	// fmt the output
	var output string
	if val == nil {
		output = fmt.Sprintf("%s: <empty>", address)
	} else {
		output = fmt.Sprintf("%s: %v", address, val)
	}

	r.printLn(output)
	return r
}
