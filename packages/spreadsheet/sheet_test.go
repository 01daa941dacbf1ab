package spreadsheet

import (
	"errors"
	"math"
	"testing"
)

type SpreadsheetTestCase struct {
	t       *testing.T
	name    string
	runner  *RunnableSpreadsheet
	err     error
	skipped bool
}

func NewSpreadsheetTestCase(t *testing.T, name string, opts ...Option) *SpreadsheetTestCase {
	tc := &SpreadsheetTestCase{
		t:      t,
		name:   name,
		runner: NewRunnableSpreadsheet(func(line string) { t.Log(line) }, opts...),
	}
	tc.err = tc.runner.Error()
	tc.AddSheet("Sheet1")
	// the setup sheet is not part of the history under test
	if tc.err == nil {
		tc.spreadsheet().ClearUndoStack()
	}
	return tc
}

func (tc *SpreadsheetTestCase) spreadsheet() *Spreadsheet {
	return tc.runner.Spreadsheet()
}

// step runs one chain operation and keeps its error for ExpectAppError or
// the next assertion
func (tc *SpreadsheetTestCase) step(op func(r *RunnableSpreadsheet) *RunnableSpreadsheet) *SpreadsheetTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.err = op(tc.runner).Error()
	tc.runner.Reset()
	return tc
}

// ready reports whether assertions should run, failing on an unexpected
// error left by a previous step
func (tc *SpreadsheetTestCase) ready() bool {
	if tc.skipped {
		return false
	}
	if tc.err != nil {
		tc.t.Errorf("%s: unexpected error: %v", tc.name, tc.err)
		tc.err = nil
		return false
	}
	return true
}

func (tc *SpreadsheetTestCase) Skip(reason string) *SpreadsheetTestCase {
	if !tc.skipped {
		tc.t.Skipf("%s: %s", tc.name, reason)
		tc.skipped = true
	}
	return tc
}

func (tc *SpreadsheetTestCase) Set(address string, value Primitive) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.Set(address, value) })
}

func (tc *SpreadsheetTestCase) Remove(address string) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.Remove(address) })
}

func (tc *SpreadsheetTestCase) AddSheet(name string) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.AddSheet(name) })
}

func (tc *SpreadsheetTestCase) RemoveSheet(name string) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.RemoveSheet(name) })
}

func (tc *SpreadsheetTestCase) RenameSheet(oldName, newName string) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.RenameSheet(oldName, newName) })
}

func (tc *SpreadsheetTestCase) InsertRows(sheet string, row, count uint32) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.InsertRows(sheet, row, count) })
}

func (tc *SpreadsheetTestCase) RemoveRows(sheet string, row, count uint32) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.RemoveRows(sheet, row, count) })
}

func (tc *SpreadsheetTestCase) InsertColumns(sheet string, column, count uint32) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.InsertColumns(sheet, column, count) })
}

func (tc *SpreadsheetTestCase) RemoveColumns(sheet string, column, count uint32) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.RemoveColumns(sheet, column, count) })
}

func (tc *SpreadsheetTestCase) MoveRange(source, target string) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.MoveRange(source, target) })
}

func (tc *SpreadsheetTestCase) AddNamedExpression(name string, expression Primitive, scope string) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet {
		return r.AddNamedExpression(name, expression, scope)
	})
}

func (tc *SpreadsheetTestCase) ChangeNamedExpression(name string, expression Primitive, scope string) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet {
		return r.ChangeNamedExpression(name, expression, scope)
	})
}

func (tc *SpreadsheetTestCase) RemoveNamedExpression(name string, scope string) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.RemoveNamedExpression(name, scope) })
}

func (tc *SpreadsheetTestCase) Undo() *SpreadsheetTestCase {
	return tc.step((*RunnableSpreadsheet).Undo)
}

func (tc *SpreadsheetTestCase) Redo() *SpreadsheetTestCase {
	return tc.step((*RunnableSpreadsheet).Redo)
}

func (tc *SpreadsheetTestCase) Rebuild() *SpreadsheetTestCase {
	return tc.step((*RunnableSpreadsheet).Rebuild)
}

func (tc *SpreadsheetTestCase) Batch(fn func(r *RunnableSpreadsheet) *RunnableSpreadsheet) *SpreadsheetTestCase {
	return tc.step(func(r *RunnableSpreadsheet) *RunnableSpreadsheet { return r.Batch(fn) })
}

// Capture stores the current graph snapshot into snap
func (tc *SpreadsheetTestCase) Capture(snap *GraphSnapshot) *SpreadsheetTestCase {
	if !tc.ready() {
		return tc
	}
	*snap = tc.spreadsheet().Snapshot()
	return tc
}

func (tc *SpreadsheetTestCase) AssertSnapshotEq(expected *GraphSnapshot) *SpreadsheetTestCase {
	if !tc.ready() {
		return tc
	}
	actual := tc.spreadsheet().Snapshot()
	for key, want := range expected.Vertices {
		got, ok := actual.Vertices[key]
		if !ok {
			tc.t.Errorf("%s: vertex %s missing", tc.name, key)
			continue
		}
		if !equalPrimitives(got, want) {
			tc.t.Errorf("%s: vertex %s = %v, want %v", tc.name, key, got, want)
		}
	}
	for key := range actual.Vertices {
		if _, ok := expected.Vertices[key]; !ok {
			tc.t.Errorf("%s: unexpected vertex %s", tc.name, key)
		}
	}
	for edge := range expected.Edges {
		if _, ok := actual.Edges[edge]; !ok {
			tc.t.Errorf("%s: edge %s -> %s missing", tc.name, edge[0], edge[1])
		}
	}
	for edge := range actual.Edges {
		if _, ok := expected.Edges[edge]; !ok {
			tc.t.Errorf("%s: unexpected edge %s -> %s", tc.name, edge[0], edge[1])
		}
	}
	return tc
}

func (tc *SpreadsheetTestCase) AssertCellEq(address string, expected Primitive) *SpreadsheetTestCase {
	if !tc.ready() {
		return tc
	}
	actual, err := tc.spreadsheet().Get(address)
	if err != nil {
		tc.t.Errorf("%s: Get(%s) failed: %v", tc.name, address, err)
		return tc
	}

	switch exp := expected.(type) {
	case float64:
		if act, ok := actual.(float64); ok {
			if math.Abs(act-exp) > 1e-10 {
				tc.t.Errorf("%s: Cell %s = %v, want %v", tc.name, address, actual, expected)
			}
		} else {
			tc.t.Errorf("%s: Cell %s = %v (%T), want %v (float64)", tc.name, address, actual, actual, expected)
		}
	case int:
		// Convert int to float64 for comparison
		if act, ok := actual.(float64); ok {
			if math.Abs(act-float64(exp)) > 1e-10 {
				tc.t.Errorf("%s: Cell %s = %v, want %v", tc.name, address, actual, expected)
			}
		} else {
			tc.t.Errorf("%s: Cell %s = %v (%T), want %v (int)", tc.name, address, actual, actual, expected)
		}
	case nil:
		if actual != nil {
			tc.t.Errorf("%s: Cell %s = %v, want nil", tc.name, address, actual)
		}
	case ErrorCode:
		if spreadsheetErr, ok := actual.(*SpreadsheetError); ok {
			if spreadsheetErr.ErrorCode != exp {
				tc.t.Errorf("%s: Cell %s has error %v, want %v", tc.name, address, spreadsheetErr.ErrorCode, exp)
			}
		} else {
			tc.t.Errorf("%s: Cell %s = %v, want error %v", tc.name, address, actual, exp)
		}
	default:
		if actual != expected {
			tc.t.Errorf("%s: Cell %s = %v, want %v", tc.name, address, actual, expected)
		}
	}
	return tc
}

func (tc *SpreadsheetTestCase) AssertCellEmpty(address string) *SpreadsheetTestCase {
	return tc.AssertCellEq(address, nil)
}

func (tc *SpreadsheetTestCase) AssertCellErr(address string, errorCode ErrorCode) *SpreadsheetTestCase {
	return tc.AssertCellEq(address, errorCode)
}

func (tc *SpreadsheetTestCase) AssertCellFn(address string, fn func(value Primitive, t *testing.T)) *SpreadsheetTestCase {
	if !tc.ready() {
		return tc
	}
	actual, err := tc.spreadsheet().Get(address)
	if err != nil {
		tc.t.Errorf("%s: Get(%s) failed: %v", tc.name, address, err)
		return tc
	}
	fn(actual, tc.t)
	return tc
}

// AssertFormula checks the formula text of a cell as regenerated after
// structural edits
func (tc *SpreadsheetTestCase) AssertFormula(address string, expected string) *SpreadsheetTestCase {
	if !tc.ready() {
		return tc
	}
	addr, err := tc.spreadsheet().ParseAddress(address)
	if err != nil {
		tc.t.Errorf("%s: ParseAddress(%s) failed: %v", tc.name, address, err)
		return tc
	}
	formula, err := tc.spreadsheet().GetCellFormula(addr)
	if err != nil {
		tc.t.Errorf("%s: GetCellFormula(%s) failed: %v", tc.name, address, err)
		return tc
	}
	if formula != expected {
		tc.t.Errorf("%s: Formula %s = %q, want %q", tc.name, address, formula, expected)
	}
	return tc
}

func (tc *SpreadsheetTestCase) AssertSheetExists(name string, shouldExist bool) *SpreadsheetTestCase {
	if !tc.ready() {
		return tc
	}
	_, exists := tc.spreadsheet().SheetID(name)
	if exists != shouldExist {
		tc.t.Errorf("%s: Sheet %s exists=%v, want %v", tc.name, name, exists, shouldExist)
	}
	return tc
}

func (tc *SpreadsheetTestCase) AssertNamedExpressionValue(name string, scope string, expected Primitive) *SpreadsheetTestCase {
	if !tc.ready() {
		return tc
	}
	id := GlobalScope
	if scope != "" {
		id, _ = tc.spreadsheet().SheetID(scope)
	}
	actual, err := tc.spreadsheet().NamedExpressionValue(name, id)
	if err != nil {
		tc.t.Errorf("%s: NamedExpressionValue(%s) failed: %v", tc.name, name, err)
		return tc
	}
	if !equalPrimitives(actual, expected) {
		tc.t.Errorf("%s: Named expression %s = %v, want %v", tc.name, name, actual, expected)
	}
	return tc
}

func (tc *SpreadsheetTestCase) AssertCanUndo(expected bool) *SpreadsheetTestCase {
	if !tc.ready() {
		return tc
	}
	if actual := tc.spreadsheet().IsThereSomethingToUndo(); actual != expected {
		tc.t.Errorf("%s: IsThereSomethingToUndo() = %v, want %v", tc.name, actual, expected)
	}
	return tc
}

func (tc *SpreadsheetTestCase) AssertCanRedo(expected bool) *SpreadsheetTestCase {
	if !tc.ready() {
		return tc
	}
	if actual := tc.spreadsheet().IsThereSomethingToRedo(); actual != expected {
		tc.t.Errorf("%s: IsThereSomethingToRedo() = %v, want %v", tc.name, actual, expected)
	}
	return tc
}

// AssertChanged checks that the last step reported a change of address
// to expected
func (tc *SpreadsheetTestCase) AssertChanged(address string, expected Primitive) *SpreadsheetTestCase {
	if !tc.ready() {
		return tc
	}
	addr, err := tc.spreadsheet().ParseAddress(address)
	if err != nil {
		tc.t.Errorf("%s: ParseAddress(%s) failed: %v", tc.name, address, err)
		return tc
	}
	for _, change := range tc.runner.Changes() {
		if change.Address == addr {
			if !equalPrimitives(change.Value, expected) {
				tc.t.Errorf("%s: change of %s = %v, want %v", tc.name, address, change.Value, expected)
			}
			return tc
		}
	}
	tc.t.Errorf("%s: no change reported for %s in %v", tc.name, address, tc.runner.Changes())
	return tc
}

func (tc *SpreadsheetTestCase) ExpectAppError(expectedCode AppErrorCode) *SpreadsheetTestCase {
	if tc.skipped {
		return tc
	}
	if tc.err == nil {
		tc.t.Errorf("%s: Expected error with code %v, but got no error", tc.name, expectedCode)
		return tc
	}
	var appErr *AppError
	if errors.As(tc.err, &appErr) {
		if appErr.Code != expectedCode {
			tc.t.Errorf("%s: Got error code %v, want %v", tc.name, appErr.Code, expectedCode)
		}
	} else {
		tc.t.Errorf("%s: Got error %v, want AppError with code %v", tc.name, tc.err, expectedCode)
	}
	tc.err = nil
	return tc
}

func (tc *SpreadsheetTestCase) End() {
	if tc.skipped || tc.err == nil {
		return
	}
	tc.t.Errorf("%s: unexpected error: %v", tc.name, tc.err)
}

func TestLexingAndParsing(t *testing.T) {
	t.Run("ValidFormulas", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Basic arithmetic").
			Set("Sheet1!A1", "=1+2").
			AssertCellEq("Sheet1!A1", 3.0).
			End()

		NewSpreadsheetTestCase(t, "Cell reference").
			Set("Sheet1!A1", 10.0).
			Set("Sheet1!A2", "=A1").
			AssertCellEq("Sheet1!A2", 10.0).
			End()

		NewSpreadsheetTestCase(t, "Function call").
			Set("Sheet1!A1", 5.0).
			Set("Sheet1!A2", 10.0).
			Set("Sheet1!A3", "=SUM(A1:A2)").
			AssertCellEq("Sheet1!A3", 15.0).
			End()

		NewSpreadsheetTestCase(t, "String literal").
			Set("Sheet1!A1", `="hello"`).
			AssertCellEq("Sheet1!A1", "hello").
			End()

		NewSpreadsheetTestCase(t, "Boolean literal").
			Set("Sheet1!A1", "=TRUE").
			Set("Sheet1!A2", "=FALSE").
			AssertCellEq("Sheet1!A1", true).
			AssertCellEq("Sheet1!A2", false).
			End()

		NewSpreadsheetTestCase(t, "Sheet reference").
			AddSheet("Sheet2").
			Set("Sheet2!A1", 42.0).
			Set("Sheet1!A1", "=Sheet2!A1").
			AssertCellEq("Sheet1!A1", 42.0).
			End()

		NewSpreadsheetTestCase(t, "Quoted sheet reference").
			AddSheet("My Sheet").
			Set("'My Sheet'!B2", 7.0).
			Set("Sheet1!A1", "='My Sheet'!B2*2").
			AssertCellEq("Sheet1!A1", 14.0).
			End()

		NewSpreadsheetTestCase(t, "Multiple unary plus operator").
			Set("Sheet1!A1", "=1++2").
			Set("Sheet1!A2", "=1++++++3").
			Set("Sheet1!A3", "=++++1++++++4").
			AssertCellEq("Sheet1!A1", 3).
			AssertCellEq("Sheet1!A2", 4).
			AssertCellEq("Sheet1!A3", 5).
			End()

		NewSpreadsheetTestCase(t, "Error literal").
			Set("Sheet1!A1", "=#REF!+1").
			AssertCellErr("Sheet1!A1", ErrorCodeRef).
			End()
	})

	t.Run("InvalidFormulas", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Empty formula").
			Set("Sheet1!A1", "=").
			AssertCellErr("Sheet1!A1", ErrorCodeOther).
			End()

		NewSpreadsheetTestCase(t, "Unclosed function").
			Set("Sheet1!A1", "=SUM(").
			AssertCellErr("Sheet1!A1", ErrorCodeOther).
			End()

		NewSpreadsheetTestCase(t, "Incomplete range").
			Set("Sheet1!A1", "=A1:").
			AssertCellErr("Sheet1!A1", ErrorCodeOther).
			End()

		NewSpreadsheetTestCase(t, "Unterminated string").
			Set("Sheet1!A1", `="hello`).
			AssertCellErr("Sheet1!A1", ErrorCodeOther).
			End()

		NewSpreadsheetTestCase(t, "Unparsable formula keeps its text").
			Set("Sheet1!A1", "=SUM(").
			AssertFormula("Sheet1!A1", "=SUM(").
			End()
	})
}

func TestBasicTypes(t *testing.T) {
	t.Run("Numbers", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Integer").
			Set("Sheet1!A1", 42).
			AssertCellEq("Sheet1!A1", 42.0).
			End()

		NewSpreadsheetTestCase(t, "Float").
			Set("Sheet1!A1", 3.14159).
			AssertCellEq("Sheet1!A1", 3.14159).
			End()

		NewSpreadsheetTestCase(t, "Negative").
			Set("Sheet1!A1", -123.45).
			AssertCellEq("Sheet1!A1", -123.45).
			End()

		NewSpreadsheetTestCase(t, "Scientific notation").
			Set("Sheet1!A1", "=1.23E5").
			AssertCellEq("Sheet1!A1", 123000.0).
			End()
	})

	t.Run("Booleans", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "True value").
			Set("Sheet1!A1", true).
			AssertCellEq("Sheet1!A1", true).
			End()

		NewSpreadsheetTestCase(t, "False value").
			Set("Sheet1!A1", false).
			AssertCellEq("Sheet1!A1", false).
			End()
	})

	t.Run("Strings", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Simple string").
			Set("Sheet1!A1", "Hello World").
			AssertCellEq("Sheet1!A1", "Hello World").
			End()

		NewSpreadsheetTestCase(t, "Empty string empties the cell").
			Set("Sheet1!A1", 1.0).
			Set("Sheet1!A1", "").
			AssertCellEmpty("Sheet1!A1").
			End()
	})

	t.Run("Nil", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Empty cell").
			AssertCellEmpty("Sheet1!A1").
			End()

		NewSpreadsheetTestCase(t, "Removed cell").
			Set("Sheet1!A1", 10.0).
			Remove("Sheet1!A1").
			AssertCellEmpty("Sheet1!A1").
			End()

		NewSpreadsheetTestCase(t, "Reference to empty cell is zero").
			Set("Sheet1!A2", "=A1").
			AssertCellEq("Sheet1!A2", 0.0).
			End()
	})

	t.Run("Unsupported", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Struct content").
			Set("Sheet1!A1", struct{}{}).
			ExpectAppError(InvalidArgument).
			AssertCellEmpty("Sheet1!A1").
			End()
	})
}

func TestBinaryOperators(t *testing.T) {
	t.Run("Arithmetic", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Operators").
			Set("Sheet1!A1", "=2+3").
			Set("Sheet1!A2", "=10-4").
			Set("Sheet1!A3", "=3*4").
			Set("Sheet1!A4", "=15/3").
			Set("Sheet1!A5", "=2^3").
			Set("Sheet1!A6", "=2+3*4").
			Set("Sheet1!A7", "=(2+3)*4").
			AssertCellEq("Sheet1!A1", 5.0).
			AssertCellEq("Sheet1!A2", 6.0).
			AssertCellEq("Sheet1!A3", 12.0).
			AssertCellEq("Sheet1!A4", 5.0).
			AssertCellEq("Sheet1!A5", 8.0).
			AssertCellEq("Sheet1!A6", 14.0).
			AssertCellEq("Sheet1!A7", 20.0).
			End()

		NewSpreadsheetTestCase(t, "Division by zero").
			Set("Sheet1!A1", "=1/0").
			AssertCellErr("Sheet1!A1", ErrorCodeDiv0).
			End()

		NewSpreadsheetTestCase(t, "Text operand").
			Set("Sheet1!A1", "abc").
			Set("Sheet1!A2", "=A1+1").
			AssertCellErr("Sheet1!A2", ErrorCodeValue).
			End()
	})

	t.Run("Comparison", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Comparisons").
			Set("Sheet1!A1", "=5=5").
			Set("Sheet1!A2", "=5<>3").
			Set("Sheet1!A3", "=3<5").
			Set("Sheet1!A4", "=5<=5").
			Set("Sheet1!A5", "=7>5").
			Set("Sheet1!A6", "=5>=6").
			Set("Sheet1!A7", `="abc"="ABC"`).
			AssertCellEq("Sheet1!A1", true).
			AssertCellEq("Sheet1!A2", true).
			AssertCellEq("Sheet1!A3", true).
			AssertCellEq("Sheet1!A4", true).
			AssertCellEq("Sheet1!A5", true).
			AssertCellEq("Sheet1!A6", false).
			AssertCellEq("Sheet1!A7", true).
			End()
	})

	t.Run("StringConcatenation", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Concat strings").
			Set("Sheet1!A1", `="Hello"&" "&"World"`).
			Set("Sheet1!A2", `="Value: "&123`).
			AssertCellEq("Sheet1!A1", "Hello World").
			AssertCellEq("Sheet1!A2", "Value: 123").
			End()
	})
}

func TestUnaryOperators(t *testing.T) {
	NewSpreadsheetTestCase(t, "Unary operators").
		Set("Sheet1!A1", "=+5").
		Set("Sheet1!A2", "=-5").
		Set("Sheet1!A3", "=50%").
		Set("Sheet1!A4", "=-A1").
		AssertCellEq("Sheet1!A1", 5.0).
		AssertCellEq("Sheet1!A2", -5.0).
		AssertCellEq("Sheet1!A3", 0.5).
		AssertCellEq("Sheet1!A4", -5.0).
		End()
}

func TestAggregationFunctions(t *testing.T) {
	t.Run("SUM", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Sum numbers").
			Set("Sheet1!A1", 10.0).
			Set("Sheet1!A2", 20.0).
			Set("Sheet1!A3", 30.0).
			Set("Sheet1!B1", "=SUM(A1:A3)").
			Set("Sheet1!B2", "=SUM(A1,A2,5)").
			AssertCellEq("Sheet1!B1", 60.0).
			AssertCellEq("Sheet1!B2", 35.0).
			End()

		NewSpreadsheetTestCase(t, "Sum skips text in ranges").
			Set("Sheet1!A1", 1.0).
			Set("Sheet1!A2", "two").
			Set("Sheet1!A3", 3.0).
			Set("Sheet1!B1", "=SUM(A1:A3)").
			AssertCellEq("Sheet1!B1", 4.0).
			End()

		NewSpreadsheetTestCase(t, "Sum propagates errors").
			Set("Sheet1!A1", "=1/0").
			Set("Sheet1!A2", 3.0).
			Set("Sheet1!B1", "=SUM(A1:A2)").
			AssertCellErr("Sheet1!B1", ErrorCodeDiv0).
			End()

		NewSpreadsheetTestCase(t, "Sum over whole column").
			Set("Sheet1!A1", 1.0).
			Set("Sheet1!A5", 4.0).
			Set("Sheet1!B1", "=SUM(A:A)").
			AssertCellEq("Sheet1!B1", 5.0).
			Set("Sheet1!A9", 5.0).
			AssertCellEq("Sheet1!B1", 10.0).
			End()

		NewSpreadsheetTestCase(t, "Sum over whole row").
			Set("Sheet1!A1", 2.0).
			Set("Sheet1!C1", 3.0).
			Set("Sheet1!A2", "=SUM(1:1)").
			AssertCellEq("Sheet1!A2", 5.0).
			End()
	})

	t.Run("AVERAGE", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Average").
			Set("Sheet1!A1", 10.0).
			Set("Sheet1!A2", 20.0).
			Set("Sheet1!B1", "=AVERAGE(A1:A2)").
			Set("Sheet1!B2", "=AVERAGE(C1:C2)").
			AssertCellEq("Sheet1!B1", 15.0).
			AssertCellErr("Sheet1!B2", ErrorCodeDiv0).
			End()
	})

	t.Run("COUNT", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Count and counta").
			Set("Sheet1!A1", 1.0).
			Set("Sheet1!A2", "x").
			Set("Sheet1!A3", true).
			Set("Sheet1!B1", "=COUNT(A1:A4)").
			Set("Sheet1!B2", "=COUNTA(A1:A4)").
			AssertCellEq("Sheet1!B1", 1.0).
			AssertCellEq("Sheet1!B2", 3.0).
			End()
	})

	t.Run("MINMAX", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Min and max").
			Set("Sheet1!A1", 4.0).
			Set("Sheet1!A2", -2.0).
			Set("Sheet1!A3", 9.0).
			Set("Sheet1!B1", "=MIN(A1:A3)").
			Set("Sheet1!B2", "=MAX(A1:A3)").
			Set("Sheet1!B3", "=MAX(C1:C3)").
			AssertCellEq("Sheet1!B1", -2.0).
			AssertCellEq("Sheet1!B2", 9.0).
			AssertCellEq("Sheet1!B3", 0.0).
			End()
	})

	t.Run("MEDIAN", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Median").
			Set("Sheet1!A1", 1.0).
			Set("Sheet1!A2", 3.0).
			Set("Sheet1!A3", 2.0).
			Set("Sheet1!A4", 10.0).
			Set("Sheet1!B1", "=MEDIAN(A1:A3)").
			Set("Sheet1!B2", "=MEDIAN(A1:A4)").
			AssertCellEq("Sheet1!B1", 2.0).
			AssertCellEq("Sheet1!B2", 2.5).
			End()
	})

	t.Run("PRODUCT", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Product").
			Set("Sheet1!A1", 2.0).
			Set("Sheet1!A2", 3.0).
			Set("Sheet1!B1", "=PRODUCT(A1:A2,4)").
			AssertCellEq("Sheet1!B1", 24.0).
			End()
	})
}

func TestCriterionFunctions(t *testing.T) {
	fill := func(tc *SpreadsheetTestCase) *SpreadsheetTestCase {
		return tc.
			Set("Sheet1!A1", "apple").Set("Sheet1!B1", 10.0).
			Set("Sheet1!A2", "banana").Set("Sheet1!B2", 20.0).
			Set("Sheet1!A3", "apple").Set("Sheet1!B3", 30.0).
			Set("Sheet1!A4", "cherry").Set("Sheet1!B4", 40.0)
	}

	t.Run("SUMIF", func(t *testing.T) {
		fill(NewSpreadsheetTestCase(t, "Sum matching text")).
			Set("Sheet1!C1", `=SUMIF(A1:A4,"apple",B1:B4)`).
			Set("Sheet1!C2", `=SUMIF(B1:B4,">15")`).
			Set("Sheet1!C3", `=SUMIF(A1:A4,"<>apple",B1:B4)`).
			Set("Sheet1!C4", `=SUMIF(A1:A4,"b*",B1:B4)`).
			AssertCellEq("Sheet1!C1", 40.0).
			AssertCellEq("Sheet1!C2", 90.0).
			AssertCellEq("Sheet1!C3", 60.0).
			AssertCellEq("Sheet1!C4", 20.0).
			End()

		fill(NewSpreadsheetTestCase(t, "Updates when a value changes")).
			Set("Sheet1!C1", `=SUMIF(A1:A4,"apple",B1:B4)`).
			AssertCellEq("Sheet1!C1", 40.0).
			Set("Sheet1!B3", 5.0).
			AssertCellEq("Sheet1!C1", 15.0).
			Set("Sheet1!A2", "APPLE").
			AssertCellEq("Sheet1!C1", 35.0).
			End()

		fill(NewSpreadsheetTestCase(t, "Shape mismatch")).
			Set("Sheet1!C1", `=SUMIF(A1:A4,"apple",B1:B3)`).
			AssertCellErr("Sheet1!C1", ErrorCodeValue).
			End()
	})

	t.Run("COUNTIF", func(t *testing.T) {
		fill(NewSpreadsheetTestCase(t, "Count matches")).
			Set("Sheet1!C1", `=COUNTIF(A1:A4,"apple")`).
			Set("Sheet1!C2", `=COUNTIF(B1:B4,">=20")`).
			Set("Sheet1!C3", `=COUNTIF(A1:A4,"?????")`).
			AssertCellEq("Sheet1!C1", 2.0).
			AssertCellEq("Sheet1!C2", 3.0).
			AssertCellEq("Sheet1!C3", 2.0).
			End()
	})

	t.Run("AVERAGEIF", func(t *testing.T) {
		fill(NewSpreadsheetTestCase(t, "Average matches")).
			Set("Sheet1!C1", `=AVERAGEIF(A1:A4,"apple",B1:B4)`).
			Set("Sheet1!C2", `=AVERAGEIF(A1:A4,"kiwi",B1:B4)`).
			AssertCellEq("Sheet1!C1", 20.0).
			AssertCellErr("Sheet1!C2", ErrorCodeDiv0).
			End()
	})

	t.Run("IFS", func(t *testing.T) {
		fill(NewSpreadsheetTestCase(t, "Multiple conditions")).
			Set("Sheet1!C1", `=SUMIFS(B1:B4,A1:A4,"apple",B1:B4,">15")`).
			Set("Sheet1!C2", `=COUNTIFS(A1:A4,"apple",B1:B4,"<100")`).
			Set("Sheet1!C3", `=MINIFS(B1:B4,A1:A4,"apple")`).
			Set("Sheet1!C4", `=MAXIFS(B1:B4,A1:A4,"<>apple")`).
			AssertCellEq("Sheet1!C1", 30.0).
			AssertCellEq("Sheet1!C2", 2.0).
			AssertCellEq("Sheet1!C3", 10.0).
			AssertCellEq("Sheet1!C4", 40.0).
			End()
	})
}

func TestLogicalFunctions(t *testing.T) {
	NewSpreadsheetTestCase(t, "Logical").
		Set("Sheet1!A1", 5.0).
		Set("Sheet1!B1", `=IF(A1>3,"big","small")`).
		Set("Sheet1!B2", `=IF(A1>10,"big")`).
		Set("Sheet1!B3", "=AND(A1>1,A1<10)").
		Set("Sheet1!B4", "=OR(A1>10,A1<0)").
		Set("Sheet1!B5", "=NOT(A1=5)").
		Set("Sheet1!B6", `=IFERROR(1/0,"fallback")`).
		Set("Sheet1!B7", "=ISERROR(1/0)").
		Set("Sheet1!B8", "=ISBLANK(Z99)").
		Set("Sheet1!B9", "=NA()").
		AssertCellEq("Sheet1!B1", "big").
		AssertCellEq("Sheet1!B2", false).
		AssertCellEq("Sheet1!B3", true).
		AssertCellEq("Sheet1!B4", false).
		AssertCellEq("Sheet1!B5", false).
		AssertCellEq("Sheet1!B6", "fallback").
		AssertCellEq("Sheet1!B7", true).
		AssertCellEq("Sheet1!B8", true).
		AssertCellErr("Sheet1!B9", ErrorCodeNA).
		End()
}

func TestTextFunctions(t *testing.T) {
	NewSpreadsheetTestCase(t, "Text").
		Set("Sheet1!A1", "  Hello  ").
		Set("Sheet1!B1", "=TRIM(A1)").
		Set("Sheet1!B2", "=UPPER(B1)").
		Set("Sheet1!B3", "=LOWER(B1)").
		Set("Sheet1!B4", "=LEN(B1)").
		Set("Sheet1!B5", `=CONCATENATE(B1,", ",2,"!")`).
		AssertCellEq("Sheet1!B1", "Hello").
		AssertCellEq("Sheet1!B2", "HELLO").
		AssertCellEq("Sheet1!B3", "hello").
		AssertCellEq("Sheet1!B4", 5.0).
		AssertCellEq("Sheet1!B5", "Hello, 2!").
		End()
}

func TestMathFunctions(t *testing.T) {
	NewSpreadsheetTestCase(t, "Math").
		Set("Sheet1!A1", "=ABS(-3)").
		Set("Sheet1!A2", "=ROUND(3.14159,2)").
		Set("Sheet1!A3", "=FLOOR(2.7)").
		Set("Sheet1!A4", "=CEILING(2.1)").
		Set("Sheet1!A5", "=SQRT(16)").
		Set("Sheet1!A6", "=SQRT(-1)").
		Set("Sheet1!A7", "=POWER(2,10)").
		Set("Sheet1!A8", "=MOD(10,3)").
		Set("Sheet1!A9", "=MOD(1,0)").
		Set("Sheet1!A10", "=PI()").
		AssertCellEq("Sheet1!A1", 3.0).
		AssertCellEq("Sheet1!A2", 3.14).
		AssertCellEq("Sheet1!A3", 2.0).
		AssertCellEq("Sheet1!A4", 3.0).
		AssertCellEq("Sheet1!A5", 4.0).
		AssertCellErr("Sheet1!A6", ErrorCodeNum).
		AssertCellEq("Sheet1!A7", 1024.0).
		AssertCellEq("Sheet1!A8", 1.0).
		AssertCellErr("Sheet1!A9", ErrorCodeDiv0).
		AssertCellEq("Sheet1!A10", math.Pi).
		End()

	NewSpreadsheetTestCase(t, "Unknown function").
		Set("Sheet1!A1", "=NOPE(1)").
		AssertCellErr("Sheet1!A1", ErrorCodeName).
		End()
}

func TestVolatileFunctions(t *testing.T) {
	random := &sequenceRandom{values: []float64{0.25, 0.5, 0.75}}
	NewSpreadsheetTestCase(t, "RAND is re-evaluated by every edit", WithRandom(random)).
		Set("Sheet1!A1", "=RAND()").
		AssertCellEq("Sheet1!A1", 0.25).
		Set("Sheet1!B1", 1.0).
		AssertCellEq("Sheet1!A1", 0.5).
		End()
}

// sequenceRandom returns its values in order, repeating the last one
type sequenceRandom struct {
	values []float64
	next   int
}

func (r *sequenceRandom) Float64() float64 {
	v := r.values[min(r.next, len(r.values)-1)]
	r.next++
	return v
}

func TestCellReferences(t *testing.T) {
	NewSpreadsheetTestCase(t, "Chained references update").
		Set("Sheet1!A1", 1.0).
		Set("Sheet1!A2", "=A1*2").
		Set("Sheet1!A3", "=A2+A1").
		AssertCellEq("Sheet1!A3", 3.0).
		Set("Sheet1!A1", 10.0).
		AssertChanged("Sheet1!A3", 30.0).
		AssertCellEq("Sheet1!A2", 20.0).
		AssertCellEq("Sheet1!A3", 30.0).
		End()

	NewSpreadsheetTestCase(t, "Replacing a formula with a value").
		Set("Sheet1!A1", 1.0).
		Set("Sheet1!A2", "=A1+1").
		Set("Sheet1!A3", "=A2*10").
		Set("Sheet1!A2", 5.0).
		AssertCellEq("Sheet1!A3", 50.0).
		Set("Sheet1!A1", 100.0).
		AssertCellEq("Sheet1!A3", 50.0).
		End()

	NewSpreadsheetTestCase(t, "Formula evaluating to a range").
		Set("Sheet1!A1", "=B1:B2").
		AssertCellErr("Sheet1!A1", ErrorCodeValue).
		End()
}

func TestCircularReferences(t *testing.T) {
	NewSpreadsheetTestCase(t, "Self reference").
		Set("Sheet1!A1", "=A1+1").
		AssertCellErr("Sheet1!A1", ErrorCodeCycle).
		End()

	NewSpreadsheetTestCase(t, "Cycle and its dependents").
		Set("Sheet1!A1", "=B1").
		Set("Sheet1!B1", "=C1").
		Set("Sheet1!C1", "=A1").
		Set("Sheet1!D1", "=A1+1").
		AssertCellErr("Sheet1!A1", ErrorCodeCycle).
		AssertCellErr("Sheet1!B1", ErrorCodeCycle).
		AssertCellErr("Sheet1!C1", ErrorCodeCycle).
		AssertCellErr("Sheet1!D1", ErrorCodeCycle).
		Set("Sheet1!C1", 4.0).
		AssertCellEq("Sheet1!A1", 4.0).
		AssertCellEq("Sheet1!B1", 4.0).
		AssertCellEq("Sheet1!D1", 5.0).
		End()

	NewSpreadsheetTestCase(t, "Cycle through a range").
		Set("Sheet1!A1", 1.0).
		Set("Sheet1!A2", "=SUM(A1:A3)").
		AssertCellErr("Sheet1!A2", ErrorCodeCycle).
		End()
}

func TestCrossSheetReferences(t *testing.T) {
	NewSpreadsheetTestCase(t, "Sheet names are case-insensitive").
		AddSheet("Data").
		Set("Data!A1", 3.0).
		Set("Sheet1!A1", "=data!A1+DATA!A1").
		AssertCellEq("Sheet1!A1", 6.0).
		AssertFormula("Sheet1!A1", "=Data!A1+Data!A1").
		End()

	NewSpreadsheetTestCase(t, "Formula waits for a missing sheet").
		Set("Sheet1!A1", "=Later!B2*2").
		AssertCellErr("Sheet1!A1", ErrorCodeRef).
		AddSheet("Later").
		Set("Later!B2", 21.0).
		AssertCellEq("Sheet1!A1", 42.0).
		End()

	NewSpreadsheetTestCase(t, "Removing a referenced sheet").
		AddSheet("Data").
		Set("Data!A1", 3.0).
		Set("Sheet1!A1", "=Data!A1").
		Set("Sheet1!A2", "=SUM(Data!A1:A5)").
		RemoveSheet("Data").
		AssertCellErr("Sheet1!A1", ErrorCodeRef).
		AssertCellErr("Sheet1!A2", ErrorCodeRef).
		AssertFormula("Sheet1!A1", "=#REF!").
		AssertSheetExists("Data", false).
		AssertCanUndo(false).
		End()

	NewSpreadsheetTestCase(t, "Renaming a referenced sheet").
		AddSheet("Data").
		Set("Data!A1", 3.0).
		Set("Sheet1!A1", "=Data!A1").
		RenameSheet("Data", "Input").
		AssertCellEq("Sheet1!A1", 3.0).
		AssertFormula("Sheet1!A1", "=Input!A1").
		AssertSheetExists("Data", false).
		AssertSheetExists("input", true).
		Undo().
		AssertFormula("Sheet1!A1", "=Data!A1").
		End()
}

func TestSheetOperations(t *testing.T) {
	NewSpreadsheetTestCase(t, "Duplicate sheet name").
		AddSheet("sheet1").
		ExpectAppError(AlreadyExists).
		End()

	NewSpreadsheetTestCase(t, "Unknown sheet").
		RemoveSheet("Nope").
		ExpectAppError(NotFound).
		Set("Nope!A1", 1.0).
		ExpectAppError(NotFound).
		End()

	NewSpreadsheetTestCase(t, "Invalid sheet name").
		AddSheet("a:b").
		ExpectAppError(InvalidArgument).
		End()

	NewSpreadsheetTestCase(t, "Invalid address").
		Set("Sheet1!1A", 1.0).
		ExpectAppError(InvalidArgument).
		End()

	NewSpreadsheetTestCase(t, "Remove and undo restores contents").
		AddSheet("Data").
		Set("Data!A1", 2.0).
		Set("Data!A2", "=A1*3").
		RemoveSheet("Data").
		AssertSheetExists("Data", false).
		Undo().
		AssertSheetExists("Data", true).
		AssertCellEq("Data!A2", 6.0).
		Set("Data!A1", 3.0).
		AssertCellEq("Data!A2", 9.0).
		End()
}

func TestErrorPropagation(t *testing.T) {
	NewSpreadsheetTestCase(t, "Errors flow through formulas").
		Set("Sheet1!A1", "=1/0").
		Set("Sheet1!A2", "=A1+1").
		Set("Sheet1!A3", `=A2&"x"`).
		Set("Sheet1!A4", "=-A1").
		AssertCellErr("Sheet1!A2", ErrorCodeDiv0).
		AssertCellErr("Sheet1!A3", ErrorCodeDiv0).
		AssertCellErr("Sheet1!A4", ErrorCodeDiv0).
		Set("Sheet1!A1", 1.0).
		AssertCellEq("Sheet1!A2", 2.0).
		AssertCellEq("Sheet1!A3", "2x").
		End()
}

func TestComplexRealWorldScenarios(t *testing.T) {
	NewSpreadsheetTestCase(t, "Invoice").
		Set("Sheet1!A1", 2.0).Set("Sheet1!B1", 9.5).Set("Sheet1!C1", "=A1*B1").
		Set("Sheet1!A2", 1.0).Set("Sheet1!B2", 20.0).Set("Sheet1!C2", "=A2*B2").
		Set("Sheet1!A3", 4.0).Set("Sheet1!B3", 2.5).Set("Sheet1!C3", "=A3*B3").
		Set("Sheet1!C4", "=SUM(C1:C3)").
		AddNamedExpression("TaxRate", 0.25, "").
		Set("Sheet1!C5", "=ROUND(C4*TaxRate,2)").
		Set("Sheet1!C6", "=C4+C5").
		AssertCellEq("Sheet1!C4", 49.0).
		AssertCellEq("Sheet1!C5", 12.25).
		AssertCellEq("Sheet1!C6", 61.25).
		InsertRows("Sheet1", 2, 1).
		AssertFormula("Sheet1!C4", "=A4*B4").
		AssertFormula("Sheet1!C5", "=SUM(C1:C4)").
		Set("Sheet1!A3", 10.0).Set("Sheet1!B3", 1.0).Set("Sheet1!C3", "=A3*B3").
		AssertCellEq("Sheet1!C5", 59.0).
		AssertCellEq("Sheet1!C7", 73.75).
		ChangeNamedExpression("TaxRate", 0.1, "").
		AssertCellEq("Sheet1!C6", 5.9).
		End()
}
