package spreadsheet

import "iter"

// Range represents a lazy range type for memory-efficient formula evaluation
type Range interface {
	// Address returns the range as written, which may be open-ended
	Address() RangeAddress
	// GetBounds returns the range clipped to the sheet's used extent
	GetBounds() RangeAddress
	Iterate() iter.Seq2[Address, Primitive]
	IterateValues() iter.Seq[Primitive]
}

// CellRange implements Range for lazy cell iteration
type CellRange struct {
	address RangeAddress
	bounds  RangeAddress
	empty   bool
	value   func(Address) Primitive
}

// newCellRange creates a lazy view over r. open-ended ranges are bounded by
// dims, and a range lying entirely outside the used extent of an open axis
// iterates nothing.
func newCellRange(r RangeAddress, dims SheetDimensions, value func(Address) Primitive) *CellRange {
	cr := &CellRange{address: r, bounds: r.Bounded(dims.Rows, dims.Columns), value: value}
	switch r.Kind {
	case RangeColumns:
		cr.empty = dims.Rows == 0
	case RangeRows:
		cr.empty = dims.Columns == 0
	}
	return cr
}

// Address returns the range as written
func (r *CellRange) Address() RangeAddress {
	return r.address
}

// GetBounds returns the range boundaries
func (r *CellRange) GetBounds() RangeAddress {
	return r.bounds
}

// Iterate returns an iterator over all cells in the range in row-major
// order. empty cells yield nil.
func (r *CellRange) Iterate() iter.Seq2[Address, Primitive] {
	return func(yield func(Address, Primitive) bool) {
		if r.empty {
			return
		}
		for row := r.bounds.StartRow; row <= r.bounds.EndRow; row++ {
			for col := r.bounds.StartCol; col <= r.bounds.EndCol; col++ {
				addr := Address{Sheet: r.bounds.Sheet, Row: row, Col: col}
				if !yield(addr, r.value(addr)) {
					return
				}
			}
		}
	}
}

// IterateValues returns an iterator over cell values in the range
func (r *CellRange) IterateValues() iter.Seq[Primitive] {
	return func(yield func(Primitive) bool) {
		for _, value := range r.Iterate() {
			if !yield(value) {
				return
			}
		}
	}
}
