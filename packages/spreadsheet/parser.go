package spreadsheet

import (
	"fmt"
	"strconv"
)

// ParseErrorKind separates malformed formulas from formulas naming a sheet
// that does not exist (yet)
type ParseErrorKind uint8

const (
	ParseErrorSyntax ParseErrorKind = iota
	ParseErrorUnknownSheet
)

// ParseError is returned by Parse. syntax errors surface as #ERROR! in the
// cell, unknown sheets as #REF!
type ParseError struct {
	Kind     ParseErrorKind
	Message  string
	Position int
	Sheet    string // set for ParseErrorUnknownSheet
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Message, e.Position)
}

// ErrorCode returns the cell error a formula with this parse error shows
func (e *ParseError) ErrorCode() ErrorCode {
	if e.Kind == ParseErrorUnknownSheet {
		return ErrorCodeRef
	}
	return ErrorCodeOther
}

func newSyntaxError(message string, position int) *ParseError {
	return &ParseError{Kind: ParseErrorSyntax, Message: message, Position: position}
}

// SheetResolver maps a sheet name written in a formula to its id
type SheetResolver func(name string) (uint32, bool)

// Parser builds an AST from formula tokens, resolving references against
// the address of the formula being parsed
type Parser struct {
	tokens       []Token
	pos          int
	base         Address
	resolveSheet SheetResolver
}

// NewParser creates a new parser for the given tokens
func NewParser(tokens []Token, base Address, resolveSheet SheetResolver) *Parser {
	return &Parser{
		tokens:       tokens,
		pos:          0,
		base:         base,
		resolveSheet: resolveSheet,
	}
}

// Parse lexes and parses formula text (with its leading =) located at base.
// the returned error, if any, is a *ParseError.
func Parse(text string, base Address, resolveSheet SheetResolver) (ASTNode, error) {
	tokens, perr := NewLexer(text).Tokenize()
	if perr != nil {
		return nil, perr
	}
	ast, perr := NewParser(tokens, base, resolveSheet).Parse()
	if perr != nil {
		return nil, perr
	}
	return ast, nil
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (ASTNode, *ParseError) {
	if len(p.tokens) == 0 {
		return nil, newSyntaxError("no tokens to parse", 0)
	}

	// expect and skip the equals prefix
	if p.tokens[p.pos].Type != TokenEquals {
		return nil, newSyntaxError("formula must start with '='", 0)
	}
	p.pos++

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	// ensure we've consumed all tokens except EOF
	if p.pos < len(p.tokens) && p.tokens[p.pos].Type != TokenEOF {
		return nil, newSyntaxError(fmt.Sprintf("unexpected token after expression: %s", p.tokens[p.pos].Value), p.tokens[p.pos].Pos)
	}

	return node, nil
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (ASTNode, *ParseError) {
	left, err := p.parseConcatenation()
	if err != nil {
		return nil, err
	}

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Type != TokenBinaryOp {
			break
		}

		var op BinaryOp
		switch tok.Value {
		case "=":
			op = BinOpEqual
		case "<>":
			op = BinOpNotEqual
		case "<":
			op = BinOpLess
		case "<=":
			op = BinOpLessEqual
		case ">":
			op = BinOpGreater
		case ">=":
			op = BinOpGreaterEqual
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseConcatenation()
		if err != nil {
			return nil, err
		}
		left = newBinaryOpNode(op, left, right)
	}

	return left, nil
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (ASTNode, *ParseError) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Type != TokenBinaryOp || tok.Value != "&" {
			break
		}

		p.pos++
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		left = newBinaryOpNode(BinOpConcat, left, right)
	}

	return left, nil
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (ASTNode, *ParseError) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Type != TokenBinaryOp {
			break
		}

		var op BinaryOp
		switch tok.Value {
		case "+":
			op = BinOpAdd
		case "-":
			op = BinOpSubtract
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		left = newBinaryOpNode(op, left, right)
	}

	return left, nil
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (ASTNode, *ParseError) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Type != TokenBinaryOp {
			break
		}

		var op BinaryOp
		switch tok.Value {
		case "*":
			op = BinOpMultiply
		case "/":
			op = BinOpDivide
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = newBinaryOpNode(op, left, right)
	}

	return left, nil
}

// parsePower handles exponentiation
func (p *Parser) parsePower() (ASTNode, *ParseError) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	// right-associative
	if p.pos < len(p.tokens) && p.tokens[p.pos].Type == TokenBinaryOp && p.tokens[p.pos].Value == "^" {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return newBinaryOpNode(BinOpPower, left, right), nil
	}

	return left, nil
}

// parseUnary handles unary operators
func (p *Parser) parseUnary() (ASTNode, *ParseError) {
	if p.pos >= len(p.tokens) {
		return nil, newSyntaxError("unexpected end of expression", p.endPos())
	}

	tok := p.tokens[p.pos]
	if tok.Type == TokenUnaryPrefixOp {
		op := UnaryOpPlus
		if tok.Value == "-" {
			op = UnaryOpMinus
		}

		p.pos++
		operand, err := p.parseUnary() // recurse for chained unary operators
		if err != nil {
			return nil, err
		}

		return &UnaryOpNode{
			Op:       op,
			Operand:  operand,
			Position: NodePosition{Start: tok.Pos, End: operand.GetPosition().End},
		}, nil
	}

	return p.parsePostfix()
}

// parsePostfix handles postfix operators (percent)
func (p *Parser) parsePostfix() (ASTNode, *ParseError) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for p.pos < len(p.tokens) && p.tokens[p.pos].Type == TokenUnaryPostfixOp {
		endPos := p.tokens[p.pos].End
		p.pos++
		node = &UnaryOpNode{
			Op:       UnaryOpPercent,
			Operand:  node,
			Position: NodePosition{Start: node.GetPosition().Start, End: endPos},
		}
	}

	return node, nil
}

// parsePrimary handles primary expressions (literals, references,
// functions, parentheses)
func (p *Parser) parsePrimary() (ASTNode, *ParseError) {
	if p.pos >= len(p.tokens) {
		return nil, newSyntaxError("unexpected end of expression", p.endPos())
	}

	tok := p.tokens[p.pos]
	position := NodePosition{Start: tok.Pos, End: tok.End}

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, newSyntaxError(fmt.Sprintf("invalid number: %s", tok.Value), tok.Pos)
		}
		return &NumberNode{Value: val, Position: position}, nil

	case TokenString:
		p.pos++
		return &StringNode{Value: tok.Value, Position: position}, nil

	case TokenBoolean:
		p.pos++
		return &BooleanNode{Value: tok.Value == "TRUE", Position: position}, nil

	case TokenErrorLiteral:
		p.pos++
		return &ErrorNode{Code: errorLiterals[tok.Value], Position: position}, nil

	case TokenCell:
		p.pos++
		return p.parseCellReference(tok)

	case TokenRange:
		p.pos++
		return p.parseRange(tok)

	case TokenIdentifier:
		p.pos++
		return &NamedExprNode{Name: tok.Ref.Name, Position: position}, nil

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		if p.pos >= len(p.tokens) || p.tokens[p.pos].Type != TokenRightParen {
			return nil, newSyntaxError("expected closing parenthesis", p.endPos())
		}
		p.pos++
		return node, nil

	default:
		return nil, newSyntaxError(fmt.Sprintf("unexpected token: %s", tok.Value), tok.Pos)
	}
}

// parseFunctionCall parses a function call
func (p *Parser) parseFunctionCall() (ASTNode, *ParseError) {
	funcTok := p.tokens[p.pos]
	p.pos++

	// expect opening parenthesis
	if p.pos >= len(p.tokens) || p.tokens[p.pos].Type != TokenLeftParen {
		return nil, newSyntaxError("expected '(' after function name", funcTok.End)
	}
	p.pos++

	args := []ASTNode{}

	// check for empty argument list
	if p.pos < len(p.tokens) && p.tokens[p.pos].Type == TokenRightParen {
		p.pos++
		return &FunctionCallNode{
			Name:     funcTok.Value,
			Args:     args,
			Position: NodePosition{Start: funcTok.Pos, End: p.tokens[p.pos-1].End},
		}, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		if p.pos >= len(p.tokens) {
			return nil, newSyntaxError("unexpected end in function arguments", p.endPos())
		}

		if p.tokens[p.pos].Type == TokenRightParen {
			p.pos++
			break
		}

		if p.tokens[p.pos].Type != TokenComma {
			return nil, newSyntaxError("expected ',' or ')' in function arguments", p.tokens[p.pos].Pos)
		}
		p.pos++
	}

	return &FunctionCallNode{
		Name:     funcTok.Value,
		Args:     args,
		Position: NodePosition{Start: funcTok.Pos, End: p.tokens[p.pos-1].End},
	}, nil
}

// sheetOf resolves the sheet written on a reference, or the formula's own
// sheet when none is written
func (p *Parser) sheetOf(tok Token) (uint32, bool, *ParseError) {
	if tok.Ref.Sheet == "" {
		return p.base.Sheet, false, nil
	}
	if p.resolveSheet != nil {
		if id, ok := p.resolveSheet(tok.Ref.Sheet); ok {
			return id, true, nil
		}
	}
	return 0, false, &ParseError{
		Kind:     ParseErrorUnknownSheet,
		Message:  fmt.Sprintf("unknown sheet %q", tok.Ref.Sheet),
		Position: tok.Pos,
		Sheet:    tok.Ref.Sheet,
	}
}

// parseCellReference turns a cell token into a resolved reference
func (p *Parser) parseCellReference(tok Token) (ASTNode, *ParseError) {
	sheet, explicit, err := p.sheetOf(tok)
	if err != nil {
		return nil, err
	}
	m := tok.Ref
	return &CellRefNode{
		Ref: CellRef{
			Address:       Address{Sheet: sheet, Row: uint32(m.Start.Row), Col: uint32(m.Start.Col)},
			AbsRow:        m.Start.AbsRow,
			AbsCol:        m.Start.AbsCol,
			ExplicitSheet: explicit,
		},
		Position: NodePosition{Start: tok.Pos, End: tok.End},
	}, nil
}

// parseRange turns a range token into a resolved, normalized range. the $
// markers follow their coordinate when corners are swapped.
func (p *Parser) parseRange(tok Token) (ASTNode, *ParseError) {
	sheet, explicit, err := p.sheetOf(tok)
	if err != nil {
		return nil, err
	}
	m := tok.Ref
	ref := RangeRef{ExplicitSheet: explicit}

	startCol, endCol := m.Start.Col, m.End.Col
	ref.AbsStartCol, ref.AbsEndCol = m.Start.AbsCol, m.End.AbsCol
	if startCol > endCol {
		startCol, endCol = endCol, startCol
		ref.AbsStartCol, ref.AbsEndCol = ref.AbsEndCol, ref.AbsStartCol
	}
	startRow, endRow := m.Start.Row, m.End.Row
	ref.AbsStartRow, ref.AbsEndRow = m.Start.AbsRow, m.End.AbsRow
	if startRow > endRow {
		startRow, endRow = endRow, startRow
		ref.AbsStartRow, ref.AbsEndRow = ref.AbsEndRow, ref.AbsStartRow
	}

	switch m.Kind {
	case RefMatchColumnRange:
		ref.Range = NewColumnRange(sheet, uint32(startCol), uint32(endCol))
	case RefMatchRowRange:
		ref.Range = NewRowRange(sheet, uint32(startRow), uint32(endRow))
	default:
		ref.Range = RangeAddress{
			Sheet:    sheet,
			Kind:     RangeCells,
			StartRow: uint32(startRow),
			StartCol: uint32(startCol),
			EndRow:   uint32(endRow),
			EndCol:   uint32(endCol),
		}
	}

	return &RangeRefNode{Range: ref, Position: NodePosition{Start: tok.Pos, End: tok.End}}, nil
}

func (p *Parser) endPos() int {
	if len(p.tokens) == 0 {
		return 0
	}
	return p.tokens[len(p.tokens)-1].Pos
}

func newBinaryOpNode(op BinaryOp, left, right ASTNode) *BinaryOpNode {
	return &BinaryOpNode{
		Op:       op,
		Left:     left,
		Right:    right,
		Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
	}
}

// comparePrimitives compares two primitive values. returns -1 if left < right,
// 0 if equal, 1 if left > right
func comparePrimitives(left, right Primitive) int {
	// handle nil values
	if left == nil && right == nil {
		return 0
	}
	if left == nil {
		return compareWithEmpty(right, true)
	}
	if right == nil {
		return compareWithEmpty(left, false)
	}

	// numbers sort before text, text before booleans
	lr, rr := typeRank(left), typeRank(right)
	if lr != rr {
		if lr < rr {
			return -1
		}
		return 1
	}

	switch l := left.(type) {
	case float64:
		r := right.(float64)
		if l < r {
			return -1
		} else if l > r {
			return 1
		}
		return 0
	case bool:
		r := right.(bool)
		if l == r {
			return 0
		} else if !l && r {
			return -1
		}
		return 1
	}

	// case-insensitive string comparison
	leftStr := foldString(toString(left))
	rightStr := foldString(toString(right))
	if leftStr < rightStr {
		return -1
	} else if leftStr > rightStr {
		return 1
	}
	return 0
}

// compareWithEmpty compares a value with an empty cell, which behaves as
// 0, "" or FALSE depending on the other side
func compareWithEmpty(value Primitive, emptyOnLeft bool) int {
	var empty Primitive
	switch value.(type) {
	case float64:
		empty = 0.0
	case bool:
		empty = false
	default:
		empty = ""
	}
	if emptyOnLeft {
		return comparePrimitives(empty, value)
	}
	return comparePrimitives(value, empty)
}

func typeRank(value Primitive) int {
	switch value.(type) {
	case float64:
		return 0
	case string:
		return 1
	case bool:
		return 2
	default:
		return 3
	}
}
