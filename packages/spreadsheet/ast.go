package spreadsheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type NodePosition struct {
	Start int
	End   int
}

// ASTNode is a parsed formula. references inside the tree are stored as
// resolved addresses, so evaluation never needs the formula's own position
// and structural edits rewrite the tree in place of the text.
type ASTNode interface {
	Eval(ctx EvalContext) (Primitive, error)
	GetPosition() NodePosition
	ToString() string
}

// EvalContext supplies cell, range and named expression values to an AST
// during evaluation
type EvalContext interface {
	FormulaAddress() Address
	CellValue(addr Address) Primitive
	RangeValue(r RangeAddress) Range
	NamedValue(name string) Primitive
	CallFunction(name string, args []Value) Primitive
}

// Value is an evaluated function argument: a Primitive or a Range
type Value = any

// CellRef is a resolved cell reference. the Abs flags remember which axes
// were written with a $ marker.
type CellRef struct {
	Address       Address
	AbsRow        bool
	AbsCol        bool
	ExplicitSheet bool
}

// RangeRef is a resolved range reference with per-corner $ markers
type RangeRef struct {
	Range         RangeAddress
	AbsStartRow   bool
	AbsStartCol   bool
	AbsEndRow     bool
	AbsEndCol     bool
	ExplicitSheet bool
}

// StringNode represents a string literal
type StringNode struct {
	Value    string
	Position NodePosition
}

func (n *StringNode) Eval(ctx EvalContext) (Primitive, error) {
	return n.Value, nil
}

func (n *StringNode) GetPosition() NodePosition {
	return n.Position
}

func (n *StringNode) ToString() string {
	return quoteString(n.Value)
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value    float64
	Position NodePosition
}

func (n *NumberNode) Eval(ctx EvalContext) (Primitive, error) {
	return n.Value, nil
}

func (n *NumberNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NumberNode) ToString() string {
	return formatNumber(n.Value)
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value    bool
	Position NodePosition
}

func (n *BooleanNode) Eval(ctx EvalContext) (Primitive, error) {
	return n.Value, nil
}

func (n *BooleanNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BooleanNode) ToString() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// ErrorNode is an error literal. references clipped away by structural
// edits are replaced by an ErrorNode carrying #REF!
type ErrorNode struct {
	Code     ErrorCode
	Position NodePosition
}

func (n *ErrorNode) Eval(ctx EvalContext) (Primitive, error) {
	return nil, NewSpreadsheetError(n.Code, "")
}

func (n *ErrorNode) GetPosition() NodePosition {
	return n.Position
}

func (n *ErrorNode) ToString() string {
	return ErrorMapper[n.Code]
}

// CellRefNode represents a reference to a single cell
type CellRefNode struct {
	Ref      CellRef
	Position NodePosition
}

func (n *CellRefNode) Eval(ctx EvalContext) (Primitive, error) {
	return ctx.CellValue(n.Ref.Address), nil
}

func (n *CellRefNode) GetPosition() NodePosition {
	return n.Position
}

func (n *CellRefNode) ToString() string {
	return fmt.Sprintf("REF(%s)", n.Ref.Address)
}

// RangeRefNode represents a cell, column or row range
type RangeRefNode struct {
	Range    RangeRef
	Position NodePosition
}

func (n *RangeRefNode) Eval(ctx EvalContext) (Primitive, error) {
	return ctx.RangeValue(n.Range.Range), nil
}

func (n *RangeRefNode) GetPosition() NodePosition {
	return n.Position
}

func (n *RangeRefNode) ToString() string {
	return fmt.Sprintf("RANGE(%s)", n.Range.Range)
}

// NamedExprNode references a named expression. scope is resolved at
// evaluation time against the formula's sheet.
type NamedExprNode struct {
	Name     string
	Position NodePosition
}

func (n *NamedExprNode) Eval(ctx EvalContext) (Primitive, error) {
	return ctx.NamedValue(n.Name), nil
}

func (n *NamedExprNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NamedExprNode) ToString() string {
	return n.Name
}

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op       BinaryOp
	Left     ASTNode
	Right    ASTNode
	Position NodePosition
}

func (n *BinaryOpNode) Eval(ctx EvalContext) (Primitive, error) {
	// errors from evaluation are converted to error values
	leftVal := evalOperand(n.Left, ctx)
	rightVal := evalOperand(n.Right, ctx)

	// propagate errors
	if err, ok := leftVal.(*SpreadsheetError); ok {
		return err, nil
	}
	if err, ok := rightVal.(*SpreadsheetError); ok {
		return err, nil
	}

	switch n.Op {
	case BinOpAdd:
		leftNum, rightNum, err := numericOperands(leftVal, rightVal, "Addition")
		if err != nil {
			return nil, err
		}
		return leftNum + rightNum, nil

	case BinOpSubtract:
		leftNum, rightNum, err := numericOperands(leftVal, rightVal, "Subtraction")
		if err != nil {
			return nil, err
		}
		return leftNum - rightNum, nil

	case BinOpMultiply:
		leftNum, rightNum, err := numericOperands(leftVal, rightVal, "Multiplication")
		if err != nil {
			return nil, err
		}
		return leftNum * rightNum, nil

	case BinOpDivide:
		leftNum, rightNum, err := numericOperands(leftVal, rightVal, "Division")
		if err != nil {
			return nil, err
		}
		if rightNum == 0 {
			return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
		}
		return leftNum / rightNum, nil

	case BinOpPower:
		leftNum, rightNum, err := numericOperands(leftVal, rightVal, "Power")
		if err != nil {
			return nil, err
		}
		result := math.Pow(leftNum, rightNum)
		if math.IsNaN(result) || math.IsInf(result, 0) {
			return nil, NewSpreadsheetError(ErrorCodeNum, "Power result is not a finite number")
		}
		return result, nil

	case BinOpConcat:
		if isRange(leftVal) || isRange(rightVal) {
			return nil, NewSpreadsheetError(ErrorCodeValue, "Cannot concatenate a range")
		}
		return toString(leftVal) + toString(rightVal), nil
	}

	if isRange(leftVal) || isRange(rightVal) {
		return nil, NewSpreadsheetError(ErrorCodeValue, "Cannot compare a range")
	}
	cmp := comparePrimitives(leftVal, rightVal)
	switch n.Op {
	case BinOpEqual:
		return cmp == 0, nil
	case BinOpNotEqual:
		return cmp != 0, nil
	case BinOpLess:
		return cmp < 0, nil
	case BinOpLessEqual:
		return cmp <= 0, nil
	case BinOpGreater:
		return cmp > 0, nil
	case BinOpGreaterEqual:
		return cmp >= 0, nil
	default:
		return nil, NewSpreadsheetError(ErrorCodeValue, "Unknown operator")
	}
}

func (n *BinaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BinaryOpNode) ToString() string {
	return fmt.Sprintf("(%s%s%s)", n.Left.ToString(), binaryOpSymbols[n.Op], n.Right.ToString())
}

var binaryOpSymbols = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

// binaryPrecedence mirrors the parser's descent order
func binaryPrecedence(op BinaryOp) int {
	switch op {
	case BinOpEqual, BinOpNotEqual, BinOpLess, BinOpLessEqual, BinOpGreater, BinOpGreaterEqual:
		return 1
	case BinOpConcat:
		return 2
	case BinOpAdd, BinOpSubtract:
		return 3
	case BinOpMultiply, BinOpDivide:
		return 4
	default:
		return 5
	}
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op       UnaryOp
	Operand  ASTNode
	Position NodePosition
}

func (n *UnaryOpNode) Eval(ctx EvalContext) (Primitive, error) {
	val := evalOperand(n.Operand, ctx)

	// check for error in value and propagate it
	if err, ok := val.(*SpreadsheetError); ok {
		return err, nil
	}

	num, ok := toNumber(val)
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeValue, "Unary operator requires a numeric value")
	}

	switch n.Op {
	case UnaryOpPlus:
		return num, nil
	case UnaryOpMinus:
		return -num, nil
	case UnaryOpPercent:
		return num / 100.0, nil
	default:
		return nil, NewSpreadsheetError(ErrorCodeValue, "Unknown unary operator")
	}
}

func (n *UnaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *UnaryOpNode) ToString() string {
	switch n.Op {
	case UnaryOpPercent:
		return fmt.Sprintf("(%s%%)", n.Operand.ToString())
	case UnaryOpMinus:
		return "-" + n.Operand.ToString()
	default:
		return "+" + n.Operand.ToString()
	}
}

// FunctionCallNode represents a function call
type FunctionCallNode struct {
	Name     string
	Args     []ASTNode
	Position NodePosition
}

func (n *FunctionCallNode) Eval(ctx EvalContext) (Primitive, error) {
	// error values are passed to the function, which decides how to
	// handle them
	args := make([]Value, len(n.Args))
	for i, argNode := range n.Args {
		args[i] = evalOperand(argNode, ctx)
	}
	return ctx.CallFunction(n.Name, args), nil
}

func (n *FunctionCallNode) GetPosition() NodePosition {
	return n.Position
}

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return fmt.Sprintf("%s(%s)", n.Name, strings.Join(args, ","))
}

// evalOperand evaluates a node and folds a returned error into an error
// value
func evalOperand(node ASTNode, ctx EvalContext) Primitive {
	val, err := node.Eval(ctx)
	if err != nil {
		if spreadsheetErr, ok := err.(*SpreadsheetError); ok {
			return spreadsheetErr
		}
		return NewSpreadsheetError(ErrorCodeValue, err.Error())
	}
	return val
}

func numericOperands(left, right Primitive, what string) (float64, float64, error) {
	leftNum, leftOk := toNumber(left)
	rightNum, rightOk := toNumber(right)
	if !leftOk || !rightOk {
		return 0, 0, NewSpreadsheetError(ErrorCodeValue, what+" requires numeric values")
	}
	return leftNum, rightNum, nil
}

func isRange(value Primitive) bool {
	_, ok := value.(Range)
	return ok
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
}

// formatNumber prints numbers without unnecessary decimals
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// walkAST visits every node depth-first. returning false from fn skips the
// node's children.
func walkAST(node ASTNode, fn func(ASTNode) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case *BinaryOpNode:
		walkAST(n.Left, fn)
		walkAST(n.Right, fn)
	case *UnaryOpNode:
		walkAST(n.Operand, fn)
	case *FunctionCallNode:
		for _, arg := range n.Args {
			walkAST(arg, fn)
		}
	}
}

// mapAST rebuilds the tree bottom-up, replacing leaves through fn. nodes
// whose children are unchanged are returned as is.
func mapAST(node ASTNode, fn func(ASTNode) ASTNode) ASTNode {
	switch n := node.(type) {
	case *BinaryOpNode:
		left, right := mapAST(n.Left, fn), mapAST(n.Right, fn)
		if left == n.Left && right == n.Right {
			return n
		}
		return &BinaryOpNode{Op: n.Op, Left: left, Right: right, Position: n.Position}
	case *UnaryOpNode:
		operand := mapAST(n.Operand, fn)
		if operand == n.Operand {
			return n
		}
		return &UnaryOpNode{Op: n.Op, Operand: operand, Position: n.Position}
	case *FunctionCallNode:
		var args []ASTNode
		for i, arg := range n.Args {
			mapped := mapAST(arg, fn)
			if mapped != arg && args == nil {
				args = make([]ASTNode, len(n.Args))
				copy(args, n.Args[:i])
			}
			if args != nil {
				args[i] = mapped
			}
		}
		if args == nil {
			return n
		}
		return &FunctionCallNode{Name: n.Name, Args: args, Position: n.Position}
	default:
		return fn(node)
	}
}

// DependencyKind tells what a formula reads
type DependencyKind uint8

const (
	DependencyCell DependencyKind = iota
	DependencyRange
	DependencyNamedExpression
)

// Dependency is one entry of a formula's reference set
type Dependency struct {
	Kind    DependencyKind
	Address Address
	Range   RangeAddress
	Name    string
}

// CollectDependencies walks the AST and returns every distinct cell, range
// and named expression it reads, in order of appearance
func CollectDependencies(ast ASTNode) []Dependency {
	var result []Dependency
	seen := make(map[Dependency]struct{})
	add := func(d Dependency) {
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		result = append(result, d)
	}
	walkAST(ast, func(node ASTNode) bool {
		switch n := node.(type) {
		case *CellRefNode:
			add(Dependency{Kind: DependencyCell, Address: n.Ref.Address})
		case *RangeRefNode:
			add(Dependency{Kind: DependencyRange, Range: n.Range.Range})
		case *NamedExprNode:
			add(Dependency{Kind: DependencyNamedExpression, Name: strings.ToUpper(n.Name)})
		}
		return true
	})
	return result
}

// usesVolatileFunction reports whether any function call in the tree is
// volatile for the given library
func usesVolatileFunction(ast ASTNode, functions FunctionLibrary) bool {
	volatile := false
	walkAST(ast, func(node ASTNode) bool {
		if call, ok := node.(*FunctionCallNode); ok && functions.IsVolatile(call.Name) {
			volatile = true
		}
		return !volatile
	})
	return volatile
}

// Unparse renders the AST as formula text, without the leading =.
// references on a sheet other than formulaSheet, or written with an
// explicit sheet, are prefixed with the sheet name.
func Unparse(ast ASTNode, sheetName func(uint32) string, formulaSheet uint32) string {
	var sb strings.Builder
	p := printer{
		sb: &sb,
		ref: func(sb *strings.Builder, node ASTNode) {
			switch n := node.(type) {
			case *CellRefNode:
				if n.Ref.ExplicitSheet || n.Ref.Address.Sheet != formulaSheet {
					sb.WriteString(QuoteSheetName(sheetName(n.Ref.Address.Sheet)))
					sb.WriteByte('!')
				}
				writeA1Component(sb, n.Ref.Address.Col, n.Ref.AbsCol, n.Ref.Address.Row, n.Ref.AbsRow)
			case *RangeRefNode:
				r := n.Range
				if r.ExplicitSheet || r.Range.Sheet != formulaSheet {
					sb.WriteString(QuoteSheetName(sheetName(r.Range.Sheet)))
					sb.WriteByte('!')
				}
				writeA1Range(sb, r)
			}
		},
	}
	p.print(ast, 0)
	return sb.String()
}

// RelativeForm renders the AST with references in R1C1 notation relative
// to base: R[-1]C[0] for relative components, R1C1 for absolute ones.
// formulas that are copies of each other by a relative shift share the
// same relative form.
func RelativeForm(ast ASTNode, base Address) string {
	var sb strings.Builder
	p := printer{
		sb: &sb,
		ref: func(sb *strings.Builder, node ASTNode) {
			switch n := node.(type) {
			case *CellRefNode:
				if n.Ref.ExplicitSheet || n.Ref.Address.Sheet != base.Sheet {
					fmt.Fprintf(sb, "#%d!", n.Ref.Address.Sheet)
				}
				writeR1C1Component(sb, n.Ref.Address.Row, n.Ref.AbsRow, base.Row, n.Ref.Address.Col, n.Ref.AbsCol, base.Col)
			case *RangeRefNode:
				r := n.Range
				if r.ExplicitSheet || r.Range.Sheet != base.Sheet {
					fmt.Fprintf(sb, "#%d!", r.Range.Sheet)
				}
				switch r.Range.Kind {
				case RangeColumns:
					writeR1C1Axis(sb, 'C', r.Range.StartCol, r.AbsStartCol, base.Col)
					sb.WriteByte(':')
					writeR1C1Axis(sb, 'C', r.Range.EndCol, r.AbsEndCol, base.Col)
				case RangeRows:
					writeR1C1Axis(sb, 'R', r.Range.StartRow, r.AbsStartRow, base.Row)
					sb.WriteByte(':')
					writeR1C1Axis(sb, 'R', r.Range.EndRow, r.AbsEndRow, base.Row)
				default:
					writeR1C1Component(sb, r.Range.StartRow, r.AbsStartRow, base.Row, r.Range.StartCol, r.AbsStartCol, base.Col)
					sb.WriteByte(':')
					writeR1C1Component(sb, r.Range.EndRow, r.AbsEndRow, base.Row, r.Range.EndCol, r.AbsEndCol, base.Col)
				}
			}
		},
	}
	p.print(ast, 0)
	return sb.String()
}

// printer renders operators with the minimal parentheses needed to parse
// back into the same tree
type printer struct {
	sb  *strings.Builder
	ref func(sb *strings.Builder, node ASTNode)
}

func (p printer) print(node ASTNode, parentPrec int) {
	switch n := node.(type) {
	case *NumberNode, *StringNode, *BooleanNode, *ErrorNode, *NamedExprNode:
		p.sb.WriteString(n.ToString())
	case *CellRefNode, *RangeRefNode:
		p.ref(p.sb, n)
	case *UnaryOpNode:
		if n.Op == UnaryOpPercent {
			p.printOperand(n.Operand)
			p.sb.WriteByte('%')
			return
		}
		if n.Op == UnaryOpMinus {
			p.sb.WriteByte('-')
		} else {
			p.sb.WriteByte('+')
		}
		p.printOperand(n.Operand)
	case *BinaryOpNode:
		prec := binaryPrecedence(n.Op)
		wrap := prec < parentPrec
		if wrap {
			p.sb.WriteByte('(')
		}
		leftPrec, rightPrec := prec, prec+1
		if n.Op == BinOpPower {
			// right-associative
			leftPrec, rightPrec = prec+1, prec
		}
		p.print(n.Left, leftPrec)
		p.sb.WriteString(binaryOpSymbols[n.Op])
		p.print(n.Right, rightPrec)
		if wrap {
			p.sb.WriteByte(')')
		}
	case *FunctionCallNode:
		p.sb.WriteString(n.Name)
		p.sb.WriteByte('(')
		for i, arg := range n.Args {
			if i > 0 {
				p.sb.WriteByte(',')
			}
			p.print(arg, 0)
		}
		p.sb.WriteByte(')')
	}
}

// printOperand prints the operand of a unary operator, wrapping binary
// operations
func (p printer) printOperand(node ASTNode) {
	if _, ok := node.(*BinaryOpNode); ok {
		p.sb.WriteByte('(')
		p.print(node, 0)
		p.sb.WriteByte(')')
		return
	}
	p.print(node, 6)
}

func writeA1Component(sb *strings.Builder, col uint32, absCol bool, row uint32, absRow bool) {
	if absCol {
		sb.WriteByte('$')
	}
	sb.WriteString(ColumnLetters(col))
	if absRow {
		sb.WriteByte('$')
	}
	sb.WriteString(strconv.FormatUint(uint64(row)+1, 10))
}

func writeA1Range(sb *strings.Builder, r RangeRef) {
	switch r.Range.Kind {
	case RangeColumns:
		if r.AbsStartCol {
			sb.WriteByte('$')
		}
		sb.WriteString(ColumnLetters(r.Range.StartCol))
		sb.WriteByte(':')
		if r.AbsEndCol {
			sb.WriteByte('$')
		}
		sb.WriteString(ColumnLetters(r.Range.EndCol))
	case RangeRows:
		if r.AbsStartRow {
			sb.WriteByte('$')
		}
		sb.WriteString(strconv.FormatUint(uint64(r.Range.StartRow)+1, 10))
		sb.WriteByte(':')
		if r.AbsEndRow {
			sb.WriteByte('$')
		}
		sb.WriteString(strconv.FormatUint(uint64(r.Range.EndRow)+1, 10))
	default:
		writeA1Component(sb, r.Range.StartCol, r.AbsStartCol, r.Range.StartRow, r.AbsStartRow)
		sb.WriteByte(':')
		writeA1Component(sb, r.Range.EndCol, r.AbsEndCol, r.Range.EndRow, r.AbsEndRow)
	}
}

func writeR1C1Component(sb *strings.Builder, row uint32, absRow bool, baseRow uint32, col uint32, absCol bool, baseCol uint32) {
	writeR1C1Axis(sb, 'R', row, absRow, baseRow)
	writeR1C1Axis(sb, 'C', col, absCol, baseCol)
}

func writeR1C1Axis(sb *strings.Builder, axis byte, value uint32, abs bool, base uint32) {
	sb.WriteByte(axis)
	if abs {
		sb.WriteString(strconv.FormatUint(uint64(value)+1, 10))
		return
	}
	fmt.Fprintf(sb, "[%d]", int64(value)-int64(base))
}
