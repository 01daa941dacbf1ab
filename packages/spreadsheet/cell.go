package spreadsheet

import "strings"

// Primitive represents basic spreadsheet value types.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty/null cells
//   - *SpreadsheetError: error values (#DIV/0!, #VALUE!, etc.)
type Primitive any

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull  ErrorCode = 1 // #NULL! - no cells in common between ranges
	ErrorCodeDiv0  ErrorCode = 2 // #DIV/0! - division by zero
	ErrorCodeValue ErrorCode = 3 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef   ErrorCode = 4 // #REF! - invalid, dangling or clipped reference
	ErrorCodeName  ErrorCode = 5 // #NAME? - unrecognized function or named expression
	ErrorCodeNum   ErrorCode = 6 // #NUM! - number too large or small to be represented
	ErrorCodeNA    ErrorCode = 7 // #N/A - value not available
	ErrorCodeOther ErrorCode = 8 // #ERROR! - formula could not be parsed
	ErrorCodeCycle ErrorCode = 9 // #CYCLE! - circular reference
)

// ErrorMapper maps error code numbers to their string representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:  "#NULL!",
	ErrorCodeDiv0:  "#DIV/0!",
	ErrorCodeValue: "#VALUE!",
	ErrorCodeRef:   "#REF!",
	ErrorCodeName:  "#NAME?",
	ErrorCodeNum:   "#NUM!",
	ErrorCodeNA:    "#N/A",
	ErrorCodeOther: "#ERROR!",
	ErrorCodeCycle: "#CYCLE!",
}

// errorLiterals is the reverse of ErrorMapper, used when error literals
// appear in formula text
var errorLiterals = func() map[string]ErrorCode {
	m := make(map[string]ErrorCode, len(ErrorMapper))
	for code, literal := range ErrorMapper {
		m[literal] = code
	}
	return m
}()

// ParseErrorLiteral returns the code of an error literal such as #REF!
func ParseErrorLiteral(text string) (ErrorCode, bool) {
	code, ok := errorLiterals[strings.ToUpper(strings.TrimSpace(text))]
	return code, ok
}

// SpreadsheetError preserves error code for display in cells
type SpreadsheetError struct {
	ErrorCode ErrorCode
	Message   string
}

func (e *SpreadsheetError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.ErrorCode]
}

// String returns the literal form of the error, e.g. #REF!
func (e *SpreadsheetError) String() string {
	return ErrorMapper[e.ErrorCode]
}

func NewSpreadsheetError(code ErrorCode, message string) *SpreadsheetError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &SpreadsheetError{
		ErrorCode: code,
		Message:   message,
	}
}

// CellType represents numeric constants for cell value
// types (external API)
type CellType uint8

const (
	CellValueTypeEmpty   CellType = 0
	CellValueTypeNumber  CellType = 1
	CellValueTypeString  CellType = 2
	CellValueTypeBoolean CellType = 4
	CellValueTypeError   CellType = 5
)

// TypeOf classifies a primitive value
func TypeOf(value Primitive) CellType {
	switch value.(type) {
	case float64:
		return CellValueTypeNumber
	case string:
		return CellValueTypeString
	case bool:
		return CellValueTypeBoolean
	case *SpreadsheetError:
		return CellValueTypeError
	default:
		return CellValueTypeEmpty
	}
}

// CellValue represents a calculated cell value with type information
type CellValue struct {
	Type    CellType
	Value   Primitive
	Formula string
}

// CellChange reports a cell whose value changed during an operation
type CellChange struct {
	Address Address
	Value   Primitive
}

// equalPrimitives compares two cell values for change detection. errors
// compare by code.
func equalPrimitives(a, b Primitive) bool {
	ae, aIsErr := a.(*SpreadsheetError)
	be, bIsErr := b.(*SpreadsheetError)
	if aIsErr || bIsErr {
		return aIsErr && bIsErr && ae.ErrorCode == be.ErrorCode
	}
	return a == b
}
