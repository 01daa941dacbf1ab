package spreadsheet

import "fmt"

// StructuralEdit is a change to the shape of the grid
type StructuralEdit interface {
	// Name identifies the edit kind in logs and traces
	Name() string
	isStructuralEdit()
}

// InsertRows inserts Count empty rows before Row
type InsertRows struct {
	Sheet uint32
	Row   uint32
	Count uint32
}

// RemoveRows removes Count rows starting at Row
type RemoveRows struct {
	Sheet uint32
	Row   uint32
	Count uint32
}

// InsertColumns inserts Count empty columns before Column
type InsertColumns struct {
	Sheet  uint32
	Column uint32
	Count  uint32
}

// RemoveColumns removes Count columns starting at Column
type RemoveColumns struct {
	Sheet  uint32
	Column uint32
	Count  uint32
}

// MoveRange moves the cells of Source so its top-left corner lands on
// Target, overwriting whatever was there
type MoveRange struct {
	Source RangeAddress
	Target Address
}

// RemoveSheet deletes a sheet and everything on it
type RemoveSheet struct {
	Sheet uint32
}

// RenameSheet gives a sheet a new name
type RenameSheet struct {
	Sheet   uint32
	NewName string
}

func (InsertRows) Name() string    { return "insert_rows" }
func (RemoveRows) Name() string    { return "remove_rows" }
func (InsertColumns) Name() string { return "insert_columns" }
func (RemoveColumns) Name() string { return "remove_columns" }
func (MoveRange) Name() string     { return "move_range" }
func (RemoveSheet) Name() string   { return "remove_sheet" }
func (RenameSheet) Name() string   { return "rename_sheet" }

func (InsertRows) isStructuralEdit()    {}
func (RemoveRows) isStructuralEdit()    {}
func (InsertColumns) isStructuralEdit() {}
func (RemoveColumns) isStructuralEdit() {}
func (MoveRange) isStructuralEdit()     {}
func (RemoveSheet) isStructuralEdit()   {}
func (RenameSheet) isStructuralEdit()   {}

func (e InsertRows) String() string {
	return fmt.Sprintf("insert %d rows at #%d!%d", e.Count, e.Sheet, e.Row+1)
}

func (e RemoveRows) String() string {
	return fmt.Sprintf("remove %d rows at #%d!%d", e.Count, e.Sheet, e.Row+1)
}

func (e InsertColumns) String() string {
	return fmt.Sprintf("insert %d columns at #%d!%s", e.Count, e.Sheet, ColumnLetters(e.Column))
}

func (e RemoveColumns) String() string {
	return fmt.Sprintf("remove %d columns at #%d!%s", e.Count, e.Sheet, ColumnLetters(e.Column))
}

func (e MoveRange) String() string {
	return fmt.Sprintf("move %s to %s", e.Source, e.Target)
}

// targetRange returns the rectangle the source lands on
func (e MoveRange) targetRange() RangeAddress {
	return RangeAddress{
		Sheet:    e.Target.Sheet,
		Kind:     RangeCells,
		StartRow: e.Target.Row,
		StartCol: e.Target.Col,
		EndRow:   e.Target.Row + e.Source.Height() - 1,
		EndCol:   e.Target.Col + e.Source.Width() - 1,
	}
}

// moved returns where an address inside the source ends up
func (e MoveRange) moved(addr Address) Address {
	return Address{
		Sheet: e.Target.Sheet,
		Row:   addr.Row - e.Source.StartRow + e.Target.Row,
		Col:   addr.Col - e.Source.StartCol + e.Target.Col,
	}
}

// overwrites reports whether the move overwrites addr, i.e. addr is in the
// target but not in the source
func (e MoveRange) overwrites(addr Address) bool {
	return e.targetRange().Contains(addr) && !e.Source.Contains(addr)
}

// TransformResult reports what TransformAST did. Clipped is set when a
// reference lost cells or vanished, which cannot be undone by the inverse
// edit.
type TransformResult struct {
	Changed bool
	Clipped bool
}

// transformAddress applies the edit to a cell address. ok is false when the
// cell is removed or overwritten.
func transformAddress(addr Address, edit StructuralEdit) (Address, bool) {
	switch e := edit.(type) {
	case InsertRows:
		if addr.Sheet == e.Sheet && addr.Row >= e.Row {
			addr.Row += e.Count
		}
	case RemoveRows:
		if addr.Sheet == e.Sheet && addr.Row >= e.Row {
			if addr.Row < e.Row+e.Count {
				return addr, false
			}
			addr.Row -= e.Count
		}
	case InsertColumns:
		if addr.Sheet == e.Sheet && addr.Col >= e.Column {
			addr.Col += e.Count
		}
	case RemoveColumns:
		if addr.Sheet == e.Sheet && addr.Col >= e.Column {
			if addr.Col < e.Column+e.Count {
				return addr, false
			}
			addr.Col -= e.Count
		}
	case MoveRange:
		if e.Source.Contains(addr) {
			return e.moved(addr), true
		}
		if e.overwrites(addr) {
			return addr, false
		}
	case RemoveSheet:
		if addr.Sheet == e.Sheet {
			return addr, false
		}
	case RenameSheet:
	}
	return addr, true
}

// transformRange applies the edit to a range. removed is set when nothing
// is left of it, clipped when it lost cells.
func transformRange(r RangeAddress, edit StructuralEdit) (result RangeAddress, clipped bool, removed bool) {
	switch e := edit.(type) {
	case InsertRows:
		if r.Sheet != e.Sheet || r.Kind == RangeColumns {
			return r, false, false
		}
		if e.Row <= r.StartRow {
			r.StartRow += e.Count
			r.EndRow += e.Count
		} else if e.Row <= r.EndRow {
			r.EndRow += e.Count
		}
		return r, false, false
	case RemoveRows:
		if r.Sheet != e.Sheet || r.Kind == RangeColumns {
			return r, false, false
		}
		start, end, clipped, removed := clipSpan(r.StartRow, r.EndRow, e.Row, e.Count)
		r.StartRow, r.EndRow = start, end
		return r, clipped, removed
	case InsertColumns:
		if r.Sheet != e.Sheet || r.Kind == RangeRows {
			return r, false, false
		}
		if e.Column <= r.StartCol {
			r.StartCol += e.Count
			r.EndCol += e.Count
		} else if e.Column <= r.EndCol {
			r.EndCol += e.Count
		}
		return r, false, false
	case RemoveColumns:
		if r.Sheet != e.Sheet || r.Kind == RangeRows {
			return r, false, false
		}
		start, end, clipped, removed := clipSpan(r.StartCol, r.EndCol, e.Column, e.Count)
		r.StartCol, r.EndCol = start, end
		return r, clipped, removed
	case MoveRange:
		// ranges follow a move only when they lie entirely inside the source
		if r.Kind == RangeCells && e.Source.Contains(r.Start()) && e.Source.Contains(r.End()) {
			start, end := e.moved(r.Start()), e.moved(r.End())
			return NewRangeAddress(start, end), false, false
		}
		return r, false, false
	case RemoveSheet:
		return r, r.Sheet == e.Sheet, r.Sheet == e.Sheet
	default:
		return r, false, false
	}
}

// clipSpan removes [at, at+count) from the inclusive span [start, end]
func clipSpan(start, end, at, count uint32) (newStart, newEnd uint32, clipped, removed bool) {
	last := at + count - 1
	if end < at {
		return start, end, false, false
	}
	if start > last {
		return start - count, end - count, false, false
	}
	if start >= at && end <= last {
		return start, end, true, true
	}
	if start < at {
		newStart = start
	} else {
		newStart = at
	}
	if end > last {
		newEnd = end - count
	} else {
		newEnd = at - 1
	}
	return newStart, newEnd, true, false
}

// TransformAST rewrites the references of a formula located at
// formulaAddress (after the edit) so they keep pointing at the same cells.
// references to cells that no longer exist become #REF!
func TransformAST(ast ASTNode, formulaAddress Address, edit StructuralEdit) (ASTNode, TransformResult) {
	var result TransformResult
	if _, isRename := edit.(RenameSheet); isRename {
		return ast, result
	}

	transformed := mapAST(ast, func(node ASTNode) ASTNode {
		switch n := node.(type) {
		case *CellRefNode:
			addr, ok := transformAddress(n.Ref.Address, edit)
			if !ok {
				result.Changed, result.Clipped = true, true
				return &ErrorNode{Code: ErrorCodeRef, Position: n.Position}
			}
			ref := n.Ref
			ref.Address = addr
			if addr.Sheet != formulaAddress.Sheet {
				ref.ExplicitSheet = true
			}
			if ref == n.Ref {
				return n
			}
			result.Changed = true
			return &CellRefNode{Ref: ref, Position: n.Position}
		case *RangeRefNode:
			r, clipped, removed := transformRange(n.Range.Range, edit)
			if removed {
				result.Changed, result.Clipped = true, true
				return &ErrorNode{Code: ErrorCodeRef, Position: n.Position}
			}
			ref := n.Range
			ref.Range = r
			if r.Sheet != formulaAddress.Sheet {
				ref.ExplicitSheet = true
			}
			if clipped {
				result.Clipped = true
			}
			if ref == n.Range {
				return n
			}
			result.Changed = true
			return &RangeRefNode{Range: ref, Position: n.Position}
		default:
			return node
		}
	})
	return transformed, result
}
