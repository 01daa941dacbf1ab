// Package xlsx moves workbooks between .xlsx files and the formula engine.
package xlsx

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
	"github.com/xuri/efp"
	"github.com/xuri/excelize/v2"
)

// function prefixes newer Excel versions write into stored formulas
var functionPrefixes = []string{"_xlfn._xlws.", "_xlfn.", "_xlws.", "_xludf."}

// builtInNamePrefix marks names Excel reserves for print areas and filters
const builtInNamePrefix = "_xlnm."

// Load opens an .xlsx file and builds a spreadsheet from its sheets, cell
// contents and defined names
func Load(path string, opts ...spreadsheet.Option) (*spreadsheet.Spreadsheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, opts...)
}

// Read builds a spreadsheet from an open workbook. the result has an empty
// undo history.
func Read(f *excelize.File, opts ...spreadsheet.Option) (*spreadsheet.Spreadsheet, error) {
	s, err := spreadsheet.NewSpreadsheet(opts...)
	if err != nil {
		return nil, err
	}
	sheets := f.GetSheetList()
	for _, name := range sheets {
		if _, _, err := s.AddSheet(name); err != nil {
			return nil, fmt.Errorf("adding sheet %s: %w", name, err)
		}
	}

	_, err = s.Batch(func(s *spreadsheet.Spreadsheet) error {
		for _, name := range sheets {
			id, _ := s.SheetID(name)
			if err := readSheet(f, s, name, id); err != nil {
				return fmt.Errorf("reading sheet %s: %w", name, err)
			}
		}
		return readDefinedNames(f, s)
	})
	if err != nil {
		return nil, err
	}
	s.ClearUndoStack()
	return s, nil
}

func readSheet(f *excelize.File, s *spreadsheet.Spreadsheet, name string, id uint32) error {
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return err
	}
	maxRows, maxCols := len(rows), 0
	for _, row := range rows {
		maxCols = max(maxCols, len(row))
	}
	// formula cells without a cached value are trimmed from the rows, the
	// stored dimension still covers them
	if dimension, err := f.GetSheetDimension(name); err == nil && dimension != "" {
		parts := strings.Split(dimension, ":")
		if col, row, err := excelize.CellNameToCoordinates(parts[len(parts)-1]); err == nil {
			maxRows, maxCols = max(maxRows, row), max(maxCols, col)
		}
	}

	for r := 0; r < maxRows; r++ {
		for c := 0; c < maxCols; c++ {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			var raw string
			if r < len(rows) && c < len(rows[r]) {
				raw = rows[r][c]
			}
			content, err := cellContent(f, name, cell, raw)
			if err != nil {
				return err
			}
			if content == nil {
				continue
			}
			if _, err := s.SetCellContents(spreadsheet.NewAddress(id, uint32(r), uint32(c)), content); err != nil {
				return fmt.Errorf("%s: %w", cell, err)
			}
		}
	}
	return nil
}

// cellContent turns a stored cell into engine content: formula text with a
// leading =, a number, a boolean, an error or a string
func cellContent(f *excelize.File, sheet, cell, raw string) (spreadsheet.Primitive, error) {
	formula, err := f.GetCellFormula(sheet, cell)
	if err != nil {
		return nil, err
	}
	if formula != "" {
		if code, ok := spreadsheet.ParseErrorLiteral(formula); ok {
			return spreadsheet.NewSpreadsheetError(code, ""), nil
		}
		return "=" + NormalizeFormula(formula), nil
	}
	if raw == "" {
		return nil, nil
	}
	cellType, err := f.GetCellType(sheet, cell)
	if err != nil {
		return nil, err
	}
	switch cellType {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "TRUE"), nil
	case excelize.CellTypeError:
		if code, ok := spreadsheet.ParseErrorLiteral(raw); ok {
			return spreadsheet.NewSpreadsheetError(code, ""), nil
		}
		return raw, nil
	case excelize.CellTypeNumber, excelize.CellTypeDate, excelize.CellTypeUnset:
		if num, err := strconv.ParseFloat(raw, 64); err == nil {
			return num, nil
		}
		return raw, nil
	default:
		return raw, nil
	}
}

func readDefinedNames(f *excelize.File, s *spreadsheet.Spreadsheet) error {
	var errs []error
	for _, dn := range f.GetDefinedName() {
		if strings.HasPrefix(dn.Name, builtInNamePrefix) || !spreadsheet.IsValidNamedExpressionName(dn.Name) {
			continue
		}
		scope := spreadsheet.GlobalScope
		if dn.Scope != "" && dn.Scope != "Workbook" {
			id, ok := s.SheetID(dn.Scope)
			if !ok {
				continue
			}
			scope = id
		}
		expression := "=" + NormalizeFormula(strings.TrimPrefix(dn.RefersTo, "="))
		if _, err := s.AddNamedExpression(dn.Name, expression, scope); err != nil {
			errs = append(errs, fmt.Errorf("defined name %s: %w", dn.Name, err))
		}
	}
	return errors.Join(errs...)
}

// NormalizeFormula rewrites stored formula text into the dialect the
// engine parses: function prefixes such as _xlfn. are dropped and the
// tokens are re-joined without whitespace
func NormalizeFormula(formula string) string {
	formula = strings.TrimPrefix(formula, "=")
	ps := efp.ExcelParser()
	tokens := ps.Parse(formula)
	if len(tokens) == 0 {
		return formula
	}
	var sb strings.Builder
	for _, t := range tokens {
		switch {
		case t.TType == efp.TokenTypeFunction && t.TSubType == efp.TokenSubTypeStart:
			sb.WriteString(stripFunctionPrefix(t.TValue))
			sb.WriteByte('(')
		case t.TSubType == efp.TokenSubTypeStop:
			sb.WriteByte(')')
		case t.TType == efp.TokenTypeSubexpression && t.TSubType == efp.TokenSubTypeStart:
			sb.WriteByte('(')
		case t.TType == efp.TokenTypeOperand && t.TSubType == efp.TokenSubTypeText:
			sb.WriteByte('"')
			sb.WriteString(strings.ReplaceAll(t.TValue, `"`, `""`))
			sb.WriteByte('"')
		case t.TType == efp.TokenTypeOperatorInfix && t.TSubType == efp.TokenSubTypeIntersection:
			sb.WriteByte(' ')
		case t.TType == efp.TokenTypeOperand && t.TSubType == efp.TokenSubTypeRange:
			sb.WriteString(requoteSheet(t.TValue))
		default:
			sb.WriteString(t.TValue)
		}
	}
	return sb.String()
}

// requoteSheet restores the quotes efp strips from a sheet-qualified
// reference, e.g. Data Sheet!A1 becomes 'Data Sheet'!A1
func requoteSheet(ref string) string {
	parts := strings.Split(ref, ":")
	for n, part := range parts {
		if i := strings.LastIndexByte(part, '!'); i > 0 {
			parts[n] = spreadsheet.QuoteSheetName(part[:i]) + part[i:]
		}
	}
	return strings.Join(parts, ":")
}

func stripFunctionPrefix(name string) string {
	for _, prefix := range functionPrefixes {
		if len(name) >= len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
			return name[len(prefix):]
		}
	}
	return name
}

// Save writes the sheets, cell contents and named expressions of s to an
// .xlsx file. formula cells carry their current value as the cached result.
func Save(s *spreadsheet.Spreadsheet, path string) error {
	f, err := Write(s)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

// Write renders s into a new in-memory workbook
func Write(s *spreadsheet.Spreadsheet) (*excelize.File, error) {
	f := excelize.NewFile()
	names := s.ListSheets()
	for i, name := range names {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				return nil, err
			}
			continue
		}
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	for _, name := range names {
		id, _ := s.SheetID(name)
		if err := writeSheet(f, s, name, id); err != nil {
			return nil, fmt.Errorf("writing sheet %s: %w", name, err)
		}
	}

	scopes := []uint32{spreadsheet.GlobalScope}
	for _, name := range names {
		id, _ := s.SheetID(name)
		scopes = append(scopes, id)
	}
	for _, scope := range scopes {
		scopeName := ""
		if scope != spreadsheet.GlobalScope {
			scopeName, _ = s.SheetName(scope)
		}
		for _, ne := range s.ListNamedExpressions(scope) {
			err := f.SetDefinedName(&excelize.DefinedName{
				Name:     ne.Name,
				RefersTo: storedExpression(ne.Expression),
				Scope:    scopeName,
			})
			if err != nil {
				return nil, fmt.Errorf("defined name %s: %w", ne.Name, err)
			}
		}
	}
	return f, nil
}

func writeSheet(f *excelize.File, s *spreadsheet.Spreadsheet, name string, id uint32) error {
	contents, err := s.GetSheetContents(id)
	if err != nil {
		return err
	}
	values, err := s.GetSheetValues(id)
	if err != nil {
		return err
	}
	for r, row := range contents {
		for c, content := range row {
			if content == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if err := writeCell(f, name, cell, content, values[r][c]); err != nil {
				return fmt.Errorf("%s: %w", cell, err)
			}
		}
	}
	return nil
}

func writeCell(f *excelize.File, sheet, cell string, content, value spreadsheet.Primitive) error {
	if text, ok := content.(string); ok && strings.HasPrefix(text, "=") {
		// the value goes first: setting a value drops the formula
		if _, isErr := value.(*spreadsheet.SpreadsheetError); !isErr && value != nil {
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
		return f.SetCellFormula(sheet, cell, strings.TrimPrefix(text, "="))
	}
	if e, ok := content.(*spreadsheet.SpreadsheetError); ok {
		return f.SetCellFormula(sheet, cell, e.String())
	}
	return f.SetCellValue(sheet, cell, content)
}

// storedExpression renders a named expression the way defined names are
// stored: formulas without the leading =, text quoted
func storedExpression(expression spreadsheet.Primitive) string {
	switch v := expression.(type) {
	case string:
		if strings.HasPrefix(v, "=") {
			return strings.TrimPrefix(v, "=")
		}
		return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strings.ToUpper(strconv.FormatBool(v))
	case *spreadsheet.SpreadsheetError:
		return v.String()
	default:
		return `""`
	}
}
