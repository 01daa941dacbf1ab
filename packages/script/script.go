// Package script replays YAML edit scripts against a spreadsheet.
//
// A script names the sheets it needs and lists steps. Each step is a
// mapping with a single operation key:
//
//	name: totals
//	sheets: [Sheet1]
//	steps:
//	  - set: {A1: 1, A2: 2, A3: "=SUM(A1:A2)"}
//	  - insert_rows: {row: 1, count: 2}
//	  - expect: {A5: 3}
//	  - undo: 1
//
// Rows are 1-based and columns are letters, the way they are written in
// formulas.
package script

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// Script is a parsed edit script
type Script struct {
	Name   string   `yaml:"name"`
	Sheets []string `yaml:"sheets"`
	Steps  []Step   `yaml:"steps"`
}

// Step is one operation of a script
type Step struct {
	Op     string
	Line   int
	action action
}

type action interface {
	run(r *spreadsheet.RunnableSpreadsheet) []Failure
}

// operations maps step keys to the payload each one decodes into
var operations = map[string]func() action{
	"set":            func() action { return &setStep{} },
	"insert_rows":    func() action { return &rowStep{} },
	"remove_rows":    func() action { return &rowStep{remove: true} },
	"insert_columns": func() action { return &columnStep{} },
	"remove_columns": func() action { return &columnStep{remove: true} },
	"move":           func() action { return &moveStep{} },
	"add_sheet":      func() action { return &sheetStep{} },
	"remove_sheet":   func() action { return &sheetStep{remove: true} },
	"rename_sheet":   func() action { return &renameStep{} },
	"define_name":    func() action { return &nameStep{} },
	"remove_name":    func() action { return &nameStep{remove: true} },
	"undo":           func() action { return &historyStep{} },
	"redo":           func() action { return &historyStep{redo: true} },
	"expect":         func() action { return &expectStep{} },
}

func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("line %d: a step must be a mapping with exactly one operation", value.Line)
	}
	s.Op = value.Content[0].Value
	s.Line = value.Line
	newAction, ok := operations[s.Op]
	if !ok {
		return fmt.Errorf("line %d: unknown operation %q", value.Line, s.Op)
	}
	s.action = newAction()
	payload := value.Content[1]
	// a bare "- undo:" decodes as null
	if payload.Tag == "!!null" {
		return nil
	}
	if err := payload.Decode(s.action); err != nil {
		return fmt.Errorf("line %d: %s: %w", value.Line, s.Op, err)
	}
	return nil
}

// Parse reads a script
func Parse(r io.Reader) (*Script, error) {
	var script Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&script); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty script")
		}
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	return &script, nil
}

// Apply runs every step in order. an operation that fails stops the
// script; failed expectations are collected and returned together as an
// *ExpectationError once all steps ran.
func (s *Script) Apply(r *spreadsheet.RunnableSpreadsheet) error {
	sheets := s.Sheets
	if len(sheets) == 0 && len(r.Spreadsheet().ListSheets()) == 0 {
		sheets = []string{"Sheet1"}
	}
	for _, name := range sheets {
		r.WithSheet(name)
	}
	if err := r.Error(); err != nil {
		return fmt.Errorf("failed to create sheets: %w", err)
	}

	var failures []Failure
	for i, step := range s.Steps {
		if step.action == nil {
			return fmt.Errorf("step %d is empty", i+1)
		}
		for _, f := range step.action.run(r) {
			f.Step, f.Line = i+1, step.Line
			failures = append(failures, f)
		}
		if err := r.Error(); err != nil {
			return fmt.Errorf("step %d (line %d, %s): %w", i+1, step.Line, step.Op, err)
		}
	}
	if len(failures) > 0 {
		return &ExpectationError{Failures: failures}
	}
	return nil
}

// Failure is one expected cell value that did not match
type Failure struct {
	Step    int
	Line    int
	Address string
	Want    spreadsheet.Primitive
	Got     spreadsheet.Primitive
}

func (f Failure) String() string {
	return fmt.Sprintf("line %d: %s: want %s, got %s", f.Line, f.Address, display(f.Want), display(f.Got))
}

// ExpectationError lists every failed expectation of a script
type ExpectationError struct {
	Failures []Failure
}

func (e *ExpectationError) Error() string {
	lines := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		lines[i] = f.String()
	}
	return fmt.Sprintf("%d expectation(s) failed:\n%s", len(e.Failures), strings.Join(lines, "\n"))
}

// Value is a cell value written in YAML: numbers, booleans, null and text
type Value struct {
	spreadsheet.Primitive
}

func (v *Value) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: cell values must be scalars", value.Line)
	}
	switch value.Tag {
	case "!!null":
		v.Primitive = nil
	case "!!int", "!!float":
		var f float64
		if err := value.Decode(&f); err != nil {
			return err
		}
		v.Primitive = f
	case "!!bool":
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		v.Primitive = b
	default:
		v.Primitive = value.Value
	}
	return nil
}

type setStep map[string]Value

func (s *setStep) run(r *spreadsheet.RunnableSpreadsheet) []Failure {
	cells := make(map[string]spreadsheet.Primitive, len(*s))
	for address, v := range *s {
		cells[address] = v.Primitive
	}
	r.SetBatch(cells)
	return nil
}

type rowStep struct {
	Sheet  string `yaml:"sheet"`
	Row    uint32 `yaml:"row"`
	Count  uint32 `yaml:"count"`
	remove bool
}

func (s *rowStep) run(r *spreadsheet.RunnableSpreadsheet) []Failure {
	if s.Row == 0 {
		r.Fail(spreadsheet.ErrInvalidArgument("rows start at 1"))
		return nil
	}
	sheet := sheetOrFirst(r, s.Sheet)
	if s.remove {
		r.RemoveRows(sheet, s.Row-1, countOrOne(s.Count))
	} else {
		r.InsertRows(sheet, s.Row-1, countOrOne(s.Count))
	}
	return nil
}

type columnStep struct {
	Sheet  string `yaml:"sheet"`
	Column string `yaml:"column"`
	Count  uint32 `yaml:"count"`
	remove bool
}

func (s *columnStep) run(r *spreadsheet.RunnableSpreadsheet) []Failure {
	column, err := excelize.ColumnNameToNumber(s.Column)
	if err != nil {
		r.Fail(spreadsheet.ErrInvalidArgument("invalid column %q", s.Column))
		return nil
	}
	sheet := sheetOrFirst(r, s.Sheet)
	if s.remove {
		r.RemoveColumns(sheet, uint32(column-1), countOrOne(s.Count))
	} else {
		r.InsertColumns(sheet, uint32(column-1), countOrOne(s.Count))
	}
	return nil
}

type moveStep struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

func (s *moveStep) run(r *spreadsheet.RunnableSpreadsheet) []Failure {
	r.MoveRange(s.From, s.To)
	return nil
}

type sheetStep struct {
	Name   string
	remove bool
}

func (s *sheetStep) UnmarshalYAML(value *yaml.Node) error {
	return value.Decode(&s.Name)
}

func (s *sheetStep) run(r *spreadsheet.RunnableSpreadsheet) []Failure {
	if s.remove {
		r.RemoveSheet(s.Name)
	} else {
		r.AddSheet(s.Name)
	}
	return nil
}

type renameStep struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

func (s *renameStep) run(r *spreadsheet.RunnableSpreadsheet) []Failure {
	r.RenameSheet(s.From, s.To)
	return nil
}

// nameStep defines, redefines or removes a named expression. scope is a
// sheet name; an empty scope is the workbook
type nameStep struct {
	Name       string `yaml:"name"`
	Expression Value  `yaml:"expression"`
	Scope      string `yaml:"scope"`
	remove     bool
}

func (s *nameStep) run(r *spreadsheet.RunnableSpreadsheet) []Failure {
	if s.remove {
		r.RemoveNamedExpression(s.Name, s.Scope)
		return nil
	}
	if exists(r, s.Name, s.Scope) {
		r.ChangeNamedExpression(s.Name, s.Expression.Primitive, s.Scope)
	} else {
		r.AddNamedExpression(s.Name, s.Expression.Primitive, s.Scope)
	}
	return nil
}

func exists(r *spreadsheet.RunnableSpreadsheet, name, scope string) bool {
	id := spreadsheet.GlobalScope
	if scope != "" {
		sheet, ok := r.Spreadsheet().SheetID(scope)
		if !ok {
			return false
		}
		id = sheet
	}
	for _, named := range r.Spreadsheet().ListNamedExpressions(id) {
		if strings.EqualFold(named.Name, name) {
			return true
		}
	}
	return false
}

type historyStep struct {
	Times int
	redo  bool
}

func (s *historyStep) UnmarshalYAML(value *yaml.Node) error {
	return value.Decode(&s.Times)
}

func (s *historyStep) run(r *spreadsheet.RunnableSpreadsheet) []Failure {
	for range max(s.Times, 1) {
		if s.redo {
			r.Redo()
		} else {
			r.Undo()
		}
	}
	return nil
}

type expectStep map[string]Value

func (s *expectStep) run(r *spreadsheet.RunnableSpreadsheet) []Failure {
	var failures []Failure
	for _, address := range slices.Sorted(maps.Keys(*s)) {
		want := (*s)[address].Primitive
		got := r.Value(address)
		if r.Error() != nil {
			return failures
		}
		if !matches(want, got) {
			failures = append(failures, Failure{Address: address, Want: want, Got: got})
		}
	}
	return failures
}

// matches compares an expected value with a computed one. numbers match
// within a small tolerance and error literals match by code
func matches(want, got spreadsheet.Primitive) bool {
	switch w := want.(type) {
	case nil:
		return got == nil
	case float64:
		g, ok := got.(float64)
		return ok && math.Abs(w-g) <= 1e-9*math.Max(1, math.Abs(w))
	case string:
		if code, ok := spreadsheet.ParseErrorLiteral(w); ok {
			if g, isErr := got.(*spreadsheet.SpreadsheetError); isErr {
				return g.ErrorCode == code
			}
		}
		g, ok := got.(string)
		return ok && g == w
	default:
		return want == got
	}
}

func display(v spreadsheet.Primitive) string {
	switch v := v.(type) {
	case nil:
		return "<empty>"
	case string:
		return fmt.Sprintf("%q", v)
	case *spreadsheet.SpreadsheetError:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func sheetOrFirst(r *spreadsheet.RunnableSpreadsheet, sheet string) string {
	if sheet != "" {
		return sheet
	}
	if sheets := r.Spreadsheet().ListSheets(); len(sheets) > 0 {
		return sheets[0]
	}
	return sheet
}

func countOrOne(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	return n
}
