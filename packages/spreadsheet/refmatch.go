package spreadsheet

import "strings"

// RefMatchKind classifies a matched reference token
type RefMatchKind uint8

const (
	RefMatchCell RefMatchKind = iota
	RefMatchCellRange
	RefMatchColumnRange
	RefMatchRowRange
	RefMatchNamedExpression
)

// default sheet limits used to decide whether a token can be a cell
const (
	DefaultMaxRows    = 1048576
	DefaultMaxColumns = 16384
)

// Span is a half-open rune interval [Start, End) inside the scanned text
type Span struct {
	Start int
	End   int
}

// RefComponent is one corner of a matched reference. Row is -1 for column
// ranges and Col is -1 for row ranges.
type RefComponent struct {
	Col    int
	Row    int
	AbsCol bool
	AbsRow bool
}

// ReferenceMatch describes the reference token found by MatchReference
type ReferenceMatch struct {
	Span              Span
	Kind              RefMatchKind
	IsNamedExpression bool
	Sheet             string // unquoted sheet name, empty when absent
	SheetQuoted       bool
	EndSheet          string // sheet written on the second corner, if any
	Start             RefComponent
	End               RefComponent
	Name              string // set for named expressions
}

// MatchReference finds the longest cell, range or named expression token
// that begins exactly at rune offset start. a candidate is rejected when
// the rune right after it could continue a reference or identifier, so
// partial matches inside longer identifiers never succeed.
func MatchReference(text string, start int) (ReferenceMatch, bool) {
	return matchReferenceRunes([]rune(text), start)
}

func matchReferenceRunes(runes []rune, start int) (ReferenceMatch, bool) {
	if start < 0 || start >= len(runes) {
		return ReferenceMatch{}, false
	}

	m := refMatcher{runes: runes}
	pos := start
	sheet, quoted, afterSheet, hasSheet := m.sheetPrefix(pos)
	if hasSheet {
		pos = afterSheet
	}

	var best ReferenceMatch
	found := false
	consider := func(candidate ReferenceMatch, end int) {
		if m.continues(end) {
			return
		}
		if !found || end > best.Span.End {
			candidate.Span = Span{Start: start, End: end}
			candidate.Sheet = sheet
			candidate.SheetQuoted = quoted
			best = candidate
			found = true
		}
	}

	// cell and cell range
	if first, end, ok := m.cell(pos); ok {
		consider(ReferenceMatch{Kind: RefMatchCell, Start: first, End: first}, end)
		if end < len(runes) && runes[end] == ':' {
			secondPos := end + 1
			endSheet, _, afterEndSheet, hasEndSheet := m.sheetPrefix(secondPos)
			if hasEndSheet {
				secondPos = afterEndSheet
			}
			if second, rangeEnd, ok := m.cell(secondPos); ok && (!hasEndSheet || strings.EqualFold(endSheet, sheet)) {
				consider(ReferenceMatch{Kind: RefMatchCellRange, Start: first, End: second, EndSheet: endSheet}, rangeEnd)
			}
		}
	}

	// column range
	if first, end, ok := m.column(pos); ok && end < len(runes) && runes[end] == ':' {
		if second, rangeEnd, ok := m.column(end + 1); ok {
			consider(ReferenceMatch{Kind: RefMatchColumnRange, Start: first, End: second}, rangeEnd)
		}
	}

	// row range
	if first, end, ok := m.row(pos); ok && end < len(runes) && runes[end] == ':' {
		if second, rangeEnd, ok := m.row(end + 1); ok {
			consider(ReferenceMatch{Kind: RefMatchRowRange, Start: first, End: second}, rangeEnd)
		}
	}

	// named expressions never carry a sheet prefix
	if !hasSheet {
		if end, ok := m.identifier(pos); ok {
			name := string(runes[pos:end])
			if IsValidNamedExpressionName(name) && (!found || end > best.Span.End) && !m.continues(end) {
				best = ReferenceMatch{
					Span:              Span{Start: start, End: end},
					Kind:              RefMatchNamedExpression,
					IsNamedExpression: true,
					Name:              name,
				}
				found = true
			}
		}
	}

	return best, found
}

type refMatcher struct {
	runes []rune
}

func (m refMatcher) at(pos int) rune {
	if pos < 0 || pos >= len(m.runes) {
		return 0
	}
	return m.runes[pos]
}

// continues reports whether the rune at pos would extend the token before
// it into something longer than a reference
func (m refMatcher) continues(pos int) bool {
	ch := m.at(pos)
	return isNameRune(ch) || ch == '$' || ch == '(' || ch == '!' || ch == '\''
}

// sheetPrefix matches an unquoted or quoted sheet name followed by !.
// quotes inside a quoted name are doubled.
func (m refMatcher) sheetPrefix(pos int) (name string, quoted bool, end int, ok bool) {
	if m.at(pos) == '\'' {
		var sb strings.Builder
		i := pos + 1
		for i < len(m.runes) {
			ch := m.runes[i]
			if ch == '\'' {
				if m.at(i+1) == '\'' {
					sb.WriteRune('\'')
					i += 2
					continue
				}
				break
			}
			sb.WriteRune(ch)
			i++
		}
		if i >= len(m.runes) || m.at(i+1) != '!' || sb.Len() == 0 {
			return "", false, pos, false
		}
		return sb.String(), true, i + 2, true
	}

	i := pos
	for i < len(m.runes) && isSheetNameRune(m.runes[i]) {
		i++
	}
	if i == pos || m.at(i) != '!' {
		return "", false, pos, false
	}
	return string(m.runes[pos:i]), false, i + 1, true
}

// cell matches $?letters$?digits
func (m refMatcher) cell(pos int) (RefComponent, int, bool) {
	col, afterCol, ok := m.column(pos)
	if !ok {
		return RefComponent{}, pos, false
	}
	row, end, ok := m.row(afterCol)
	if !ok {
		return RefComponent{}, pos, false
	}
	return RefComponent{Col: col.Col, Row: row.Row, AbsCol: col.AbsCol, AbsRow: row.AbsRow}, end, true
}

// column matches $?letters
func (m refMatcher) column(pos int) (RefComponent, int, bool) {
	i := pos
	abs := false
	if m.at(i) == '$' {
		abs = true
		i++
	}
	startLetters := i
	for isASCIILetter(m.at(i)) {
		i++
	}
	if i == startLetters {
		return RefComponent{}, pos, false
	}
	col, ok := columnIndex(string(m.runes[startLetters:i]))
	if !ok || col >= DefaultMaxColumns {
		return RefComponent{}, pos, false
	}
	return RefComponent{Col: int(col), Row: -1, AbsCol: abs}, i, true
}

// row matches $?digits with a one-based row number
func (m refMatcher) row(pos int) (RefComponent, int, bool) {
	i := pos
	abs := false
	if m.at(i) == '$' {
		abs = true
		i++
	}
	startDigits := i
	n := 0
	for isASCIIDigit(m.at(i)) {
		n = n*10 + int(m.at(i)-'0')
		if n > DefaultMaxRows {
			return RefComponent{}, pos, false
		}
		i++
	}
	if i == startDigits || n == 0 {
		return RefComponent{}, pos, false
	}
	return RefComponent{Col: -1, Row: n - 1, AbsRow: abs}, i, true
}

// identifier matches a named expression candidate
func (m refMatcher) identifier(pos int) (int, bool) {
	ch := m.at(pos)
	if !(isASCIILetter(ch) || ch == '_' || (ch >= 0x00C0 && ch <= 0x02AF)) {
		return pos, false
	}
	i := pos + 1
	for isNameRune(m.at(i)) {
		i++
	}
	return i, true
}

func isASCIILetter(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isASCIIDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isNameRune(ch rune) bool {
	return isASCIILetter(ch) || isASCIIDigit(ch) || ch == '_' || ch == '.' || (ch >= 0x00C0 && ch <= 0x02AF)
}

// IsValidNamedExpressionName reports whether name may be used for a named
// expression. names that read as A1 or R1C1 cell references, and the
// boolean literals, are rejected.
func IsValidNamedExpressionName(name string) bool {
	runes := []rune(name)
	if len(runes) == 0 {
		return false
	}
	m := refMatcher{runes: runes}
	end, ok := m.identifier(0)
	if !ok || end != len(runes) {
		return false
	}
	upper := strings.ToUpper(name)
	if upper == "TRUE" || upper == "FALSE" {
		return false
	}
	// a cell token may not be continued with a dot either, so A1.5 is a
	// malformed number rather than a name
	if _, cellEnd, ok := m.cell(0); ok && (cellEnd == len(runes) || runes[cellEnd] == '.') {
		return false
	}
	return !looksLikeR1C1(upper)
}

// looksLikeR1C1 matches R, C, RC, R1, C1, R1C, RC1 and R1C1 shapes
func looksLikeR1C1(upper string) bool {
	i := 0
	sawR, sawC := false, false
	if i < len(upper) && upper[i] == 'R' {
		sawR = true
		i++
		for i < len(upper) && isASCIIDigit(rune(upper[i])) {
			i++
		}
	}
	if i < len(upper) && upper[i] == 'C' {
		sawC = true
		i++
		for i < len(upper) && isASCIIDigit(rune(upper[i])) {
			i++
		}
	}
	return (sawR || sawC) && i == len(upper)
}
