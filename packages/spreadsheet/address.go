package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
)

// Address identifies a single cell. rows and columns are zero-based.
type Address struct {
	Sheet uint32
	Row   uint32
	Col   uint32
}

// NewAddress creates an address from sheet, row and column
func NewAddress(sheet, row, col uint32) Address {
	return Address{Sheet: sheet, Row: row, Col: col}
}

// A1 returns the address without a sheet prefix, e.g. B3
func (a Address) A1() string {
	return ColumnLetters(a.Col) + strconv.FormatUint(uint64(a.Row)+1, 10)
}

func (a Address) String() string {
	return fmt.Sprintf("#%d!%s", a.Sheet, a.A1())
}

// RangeKind tells whether a range is bounded in both directions or spans
// whole rows or columns
type RangeKind uint8

const (
	RangeCells   RangeKind = iota // A1:B5
	RangeColumns                  // A:B, rows are unbounded
	RangeRows                     // 1:5, columns are unbounded
)

// openEnd is the upper bound used for the unbounded axis of column and
// row ranges
const openEnd = uint32(1<<31 - 1)

// RangeAddress represents a rectangular range of cells within a single sheet
type RangeAddress struct {
	Sheet    uint32
	Kind     RangeKind
	StartRow uint32
	StartCol uint32
	EndRow   uint32
	EndCol   uint32
}

// NewRangeAddress creates a normalized cell range from two corners
func NewRangeAddress(start, end Address) RangeAddress {
	return RangeAddress{
		Sheet:    start.Sheet,
		Kind:     RangeCells,
		StartRow: min(start.Row, end.Row),
		StartCol: min(start.Col, end.Col),
		EndRow:   max(start.Row, end.Row),
		EndCol:   max(start.Col, end.Col),
	}
}

// NewColumnRange creates a range spanning whole columns
func NewColumnRange(sheet, startCol, endCol uint32) RangeAddress {
	return RangeAddress{
		Sheet:    sheet,
		Kind:     RangeColumns,
		StartRow: 0,
		EndRow:   openEnd,
		StartCol: min(startCol, endCol),
		EndCol:   max(startCol, endCol),
	}
}

// NewRowRange creates a range spanning whole rows
func NewRowRange(sheet, startRow, endRow uint32) RangeAddress {
	return RangeAddress{
		Sheet:    sheet,
		Kind:     RangeRows,
		StartRow: min(startRow, endRow),
		EndRow:   max(startRow, endRow),
		StartCol: 0,
		EndCol:   openEnd,
	}
}

// Start returns the top-left corner
func (r RangeAddress) Start() Address {
	return Address{Sheet: r.Sheet, Row: r.StartRow, Col: r.StartCol}
}

// End returns the bottom-right corner
func (r RangeAddress) End() Address {
	return Address{Sheet: r.Sheet, Row: r.EndRow, Col: r.EndCol}
}

// Contains reports whether the address lies inside the range
func (r RangeAddress) Contains(addr Address) bool {
	return addr.Sheet == r.Sheet &&
		addr.Row >= r.StartRow && addr.Row <= r.EndRow &&
		addr.Col >= r.StartCol && addr.Col <= r.EndCol
}

// Intersects reports whether two ranges share at least one cell
func (r RangeAddress) Intersects(other RangeAddress) bool {
	return r.Sheet == other.Sheet &&
		r.StartRow <= other.EndRow && other.StartRow <= r.EndRow &&
		r.StartCol <= other.EndCol && other.StartCol <= r.EndCol
}

// Height returns the number of rows spanned
func (r RangeAddress) Height() uint32 {
	return r.EndRow - r.StartRow + 1
}

// Width returns the number of columns spanned
func (r RangeAddress) Width() uint32 {
	return r.EndCol - r.StartCol + 1
}

// SameDimensions reports whether both ranges have the same shape
func (r RangeAddress) SameDimensions(other RangeAddress) bool {
	return r.Height() == other.Height() && r.Width() == other.Width()
}

// Bounded clips the unbounded axis of column/row ranges to the given
// extent. cell ranges are returned unchanged.
func (r RangeAddress) Bounded(rows, cols uint32) RangeAddress {
	switch r.Kind {
	case RangeColumns:
		if rows == 0 {
			r.EndRow = 0
		} else {
			r.EndRow = rows - 1
		}
	case RangeRows:
		if cols == 0 {
			r.EndCol = 0
		} else {
			r.EndCol = cols - 1
		}
	}
	return r
}

// WithoutLastRow returns the range minus its bottom row. ok is false for
// single-row and open-ended ranges.
func (r RangeAddress) WithoutLastRow() (RangeAddress, bool) {
	if r.Kind != RangeCells || r.EndRow == r.StartRow {
		return r, false
	}
	r.EndRow--
	return r, true
}

func (r RangeAddress) String() string {
	switch r.Kind {
	case RangeColumns:
		return fmt.Sprintf("#%d!%s:%s", r.Sheet, ColumnLetters(r.StartCol), ColumnLetters(r.EndCol))
	case RangeRows:
		return fmt.Sprintf("#%d!%d:%d", r.Sheet, r.StartRow+1, r.EndRow+1)
	default:
		return fmt.Sprintf("#%d!%s:%s", r.Sheet, r.Start().A1(), r.End().A1())
	}
}

// ColumnLetters converts a zero-based column index into letters
// (0 -> A, 25 -> Z, 26 -> AA)
func ColumnLetters(col uint32) string {
	n := int(col) + 1
	result := ""
	for n > 0 {
		n--
		result = string(rune('A'+n%26)) + result
		n /= 26
	}
	return result
}

// columnIndex converts column letters into a zero-based index. letters are
// case-insensitive.
func columnIndex(letters string) (uint32, bool) {
	if letters == "" || len(letters) > 7 {
		return 0, false
	}
	col := 0
	for _, ch := range strings.ToUpper(letters) {
		if ch < 'A' || ch > 'Z' {
			return 0, false
		}
		col = col*26 + int(ch-'A') + 1
	}
	return uint32(col - 1), true
}

// isSimpleSheetName reports whether a sheet name can be written without
// quotes in a formula
func isSimpleSheetName(name string) bool {
	if name == "" {
		return false
	}
	for _, ch := range name {
		if !isSheetNameRune(ch) {
			return false
		}
	}
	return true
}

func isSheetNameRune(ch rune) bool {
	return ch == '_' || (ch >= '0' && ch <= '9') || (ch >= 'A' && ch <= 'Z') ||
		(ch >= 'a' && ch <= 'z') || (ch >= 0x00C0 && ch <= 0x02AF)
}

// QuoteSheetName returns the sheet name as it must appear in a formula,
// quoting and doubling embedded apostrophes when needed
func QuoteSheetName(name string) string {
	if isSimpleSheetName(name) {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// ParseA1 parses a bare A1 address (no sheet, optional $ markers)
func ParseA1(sheet uint32, text string) (Address, error) {
	m, ok := MatchReference(text, 0)
	if !ok || m.Span.End != len([]rune(text)) || m.Kind != RefMatchCell || m.Sheet != "" {
		return Address{}, ErrInvalidArgument("invalid cell address %q", text)
	}
	return Address{Sheet: sheet, Row: uint32(m.Start.Row), Col: uint32(m.Start.Col)}, nil
}
