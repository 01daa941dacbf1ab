package spreadsheet

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenEquals
	TokenNumber
	TokenString
	TokenBoolean
	TokenErrorLiteral
	TokenCell
	TokenRange
	TokenFunction
	TokenUnaryPrefixOp
	TokenUnaryPostfixOp
	TokenBinaryOp
	TokenComma
	TokenLeftParen
	TokenRightParen
	TokenIdentifier
	TokenWhitespace
	TokenError
)

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charApostrophe = '\''
	charPercent    = '%'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charDollar     = '$'
	charHash       = '#'
)

// valueTokens can start an operand
var valueTokens = map[TokenType]bool{
	TokenNumber:       true,
	TokenString:       true,
	TokenBoolean:      true,
	TokenErrorLiteral: true,
	TokenCell:         true,
	TokenRange:        true,
	TokenFunction:     true,
	TokenIdentifier:   true,
	TokenLeftParen:    true,
}

// tokenTransitions maps the current state to valid next token types
var tokenTransitions = map[TokenState]map[TokenType]bool{
	StateStart: {
		TokenEquals: true, // formula prefix
	},
	StateAfterValue: { // after number, string, cell, range
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true, // for %
		TokenRightParen:     true,
		TokenComma:          true, // only if in function
		TokenEOF:            true,
		// whitespace is significant - no consecutive values
	},
	StateAfterOperator:  withUnary(valueTokens),
	StateAfterLeftParen: withUnary(valueTokens, TokenRightParen), // empty parens for arg-less functions like PI()
	StateAfterComma:     withUnary(valueTokens),
	StateAfterEquals:    withUnary(valueTokens),
	StateAfterRightParen: {
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true, // for %
		TokenRightParen:     true, // if nested
		TokenComma:          true, // if in function
		TokenEOF:            true,
	},
	StateAfterFunction: {
		TokenLeftParen: true,
	},
}

func withUnary(base map[TokenType]bool, extra ...TokenType) map[TokenType]bool {
	result := make(map[TokenType]bool, len(base)+len(extra)+1)
	for k, v := range base {
		result[k] = v
	}
	for _, t := range extra {
		result[t] = true
	}
	result[TokenUnaryPrefixOp] = true
	return result
}

// Token represents a lexical token with position information
type Token struct {
	Type  TokenType
	Value string
	Pos   int // rune position in input
	End   int
	Ref   ReferenceMatch // set for TokenCell, TokenRange and TokenIdentifier
}

// TokenState represents the lexer state for validation
type TokenState int

const (
	StateStart TokenState = iota
	StateAfterEquals
	StateAfterValue
	StateAfterOperator
	StateAfterLeftParen
	StateAfterRightParen
	StateAfterComma
	StateAfterFunction
)

// Lexer tokenizes spreadsheet formula expressions
type Lexer struct {
	input      string
	runes      []rune // UTF-8 aware representation
	pos        int
	state      TokenState
	parenDepth int
	tokens     []Token
}

// NewLexer creates a new lexer for the given formula input
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		runes:  []rune(input), // runes for UTF-8 support. could do without but a real pain
		pos:    0,
		state:  StateStart,
		tokens: []Token{},
	}
}

// Tokenize tokenizes the entire input and returns tokens and any error
func (l *Lexer) Tokenize() ([]Token, *ParseError) {
	// full formula lexer - must start with = and we tokenize it
	if len(l.runes) == 0 || l.runes[0] != charEqual {
		return nil, newSyntaxError("formula must start with '='", 0)
	}

	for l.pos < len(l.runes) {
		tok := l.nextToken()
		if tok.Type == TokenError {
			return nil, newSyntaxError(tok.Value, tok.Pos)
		}
		if tok.Type == TokenWhitespace || tok.Type == TokenEOF {
			continue
		}
		// validate state transition
		if !l.validateTransition(tok.Type) {
			return nil, newSyntaxError("unexpected token: "+tok.Value, tok.Pos)
		}
		l.tokens = append(l.tokens, tok)
		l.updateState(tok.Type)
	}

	if !l.validateTransition(TokenEOF) {
		return nil, newSyntaxError("unexpected end of formula", l.pos)
	}

	// check for unbalanced parentheses
	if l.parenDepth > 0 {
		return nil, newSyntaxError("unbalanced parentheses: missing closing parenthesis", l.pos)
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Pos: l.pos, End: l.pos})
	return l.tokens, nil
}

// validateTransition checks if the token type is valid in current state
func (l *Lexer) validateTransition(tokenType TokenType) bool {
	validTokens, exists := tokenTransitions[l.state]
	if !exists {
		return false
	}
	return validTokens[tokenType]
}

// updateState updates the lexer state based on the token type
func (l *Lexer) updateState(tokenType TokenType) {
	switch tokenType {
	case TokenEquals:
		l.state = StateAfterEquals
	case TokenNumber, TokenString, TokenBoolean, TokenErrorLiteral, TokenCell, TokenRange, TokenIdentifier:
		l.state = StateAfterValue
	case TokenUnaryPrefixOp, TokenBinaryOp:
		l.state = StateAfterOperator
	case TokenUnaryPostfixOp:
		// postfix operators don't change state
	case TokenLeftParen:
		l.state = StateAfterLeftParen
	case TokenRightParen:
		l.state = StateAfterRightParen
	case TokenComma:
		l.state = StateAfterComma
	case TokenFunction:
		l.state = StateAfterFunction
	}
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() Token {
	if l.skipWhitespace() {
		return Token{Type: TokenWhitespace, Pos: l.pos}
	}

	if l.pos >= len(l.runes) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	startPos := l.pos
	ch := l.current()

	if ch == charQuote {
		return l.scanString()
	}

	if ch == charHash {
		return l.scanErrorLiteral()
	}

	// references may start with a letter, a digit (row ranges), a $ marker,
	// a quoted sheet name or an underscore (named expressions)
	if l.isAlpha(ch) || l.isDigit(ch) || ch == charDollar || ch == charApostrophe || ch == charUnderscore || ch >= 0x00C0 {
		if tok, ok := l.scanReference(); ok {
			return tok
		}
	}

	if l.isDigit(ch) || (ch == charPeriod && l.isDigit(l.peek(1))) {
		return l.scanNumber()
	}

	switch ch {
	case charLParen:
		l.pos++
		l.parenDepth++
		return l.token(TokenLeftParen, "(", startPos)
	case charRParen:
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return Token{Type: TokenError, Value: "unexpected closing parenthesis", Pos: startPos}
		}
		return l.token(TokenRightParen, ")", startPos)
	case charComma:
		l.pos++
		return l.token(TokenComma, ",", startPos)
	case charPlus, charMinus:
		return l.scanUnaryPrefixOrBinaryOp()
	case charAsterisk, charSlash, charCaret, charAmpersand, charLess, charGreater:
		return l.scanBinaryOp()
	case charPercent:
		l.pos++
		return l.token(TokenUnaryPostfixOp, "%", startPos)
	case charEqual:
		l.pos++
		// distinguish between formula prefix = and comparison operator =
		if startPos == 0 {
			return l.token(TokenEquals, "=", startPos)
		}
		return l.token(TokenBinaryOp, "=", startPos)
	}

	if l.isAlpha(ch) || ch == charUnderscore {
		return l.scanIdentifier()
	}

	l.pos++
	return Token{Type: TokenError, Value: "unexpected character: " + string(ch), Pos: startPos}
}

func (l *Lexer) token(t TokenType, value string, start int) Token {
	return Token{Type: t, Value: value, Pos: start, End: l.pos}
}

// helper methods for character navigation and classification

// substring returns a substring of the original input based on rune positions
func (l *Lexer) substring(start, end int) string {
	if start < 0 || end > len(l.runes) || start > end {
		return ""
	}
	return string(l.runes[start:end])
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return charNull
	}
	return l.runes[l.pos]
}

func (l *Lexer) peek(offset int) rune {
	pos := l.pos + offset
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() bool {
	skipped := false
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == charSpace || ch == charTab || ch == charNewline || ch == charReturn {
			l.pos++
			skipped = true
		} else {
			break
		}
	}
	return skipped
}

func (l *Lexer) isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func (l *Lexer) isAlpha(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func (l *Lexer) isAlphaNumeric(ch rune) bool {
	return l.isAlpha(ch) || l.isDigit(ch)
}

// scanReference runs the reference matcher at the current position
func (l *Lexer) scanReference() (Token, bool) {
	m, ok := matchReferenceRunes(l.runes, l.pos)
	if !ok {
		return Token{}, false
	}
	startPos := l.pos
	l.pos = m.Span.End
	value := l.substring(startPos, l.pos)

	switch m.Kind {
	case RefMatchCell:
		return Token{Type: TokenCell, Value: value, Pos: startPos, End: l.pos, Ref: m}, true
	case RefMatchNamedExpression:
		return Token{Type: TokenIdentifier, Value: value, Pos: startPos, End: l.pos, Ref: m}, true
	default:
		return Token{Type: TokenRange, Value: value, Pos: startPos, End: l.pos, Ref: m}, true
	}
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	startPos := l.pos

	// scan integer part
	for l.pos < len(l.runes) && l.isDigit(l.current()) {
		l.pos++
	}

	// check for decimal part
	if l.current() == charPeriod {
		l.pos++ // consume '.'
		for l.pos < len(l.runes) && l.isDigit(l.current()) {
			l.pos++
		}
	}

	// check for scientific notation (e or E)
	if l.current() == 'e' || l.current() == 'E' {
		savedPos := l.pos
		l.pos++ // consume 'e' or 'E'

		// optional + or - sign
		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}

		// must have at least one digit after e/E
		if !l.isDigit(l.current()) {
			// not scientific notation, restore position
			l.pos = savedPos
		} else {
			for l.pos < len(l.runes) && l.isDigit(l.current()) {
				l.pos++
			}
		}
	}

	if l.isAlpha(l.current()) || l.current() == charUnderscore {
		return Token{Type: TokenError, Value: "invalid number: " + l.substring(startPos, l.pos+1), Pos: startPos}
	}

	return l.token(TokenNumber, l.substring(startPos, l.pos), startPos)
}

// scanString scans a string literal with support for double-quote escapes
func (l *Lexer) scanString() Token {
	startPos := l.pos
	l.pos++ // consume opening quote

	var result []rune

	for l.pos < len(l.runes) {
		ch := l.current()

		if ch == charQuote {
			// check if it's an escape sequence (double quote)
			if l.peek(1) == charQuote {
				result = append(result, charQuote)
				l.pos += 2 // consume both quotes
			} else {
				l.pos++ // consume closing quote
				return l.token(TokenString, string(result), startPos)
			}
		} else {
			result = append(result, ch)
			l.pos++
		}
	}

	return Token{Type: TokenError, Value: "unclosed string literal", Pos: startPos}
}

// scanErrorLiteral scans error literals such as #REF! or #N/A
func (l *Lexer) scanErrorLiteral() Token {
	startPos := l.pos
	for literal := range errorLiterals {
		n := len([]rune(literal))
		if l.pos+n > len(l.runes) {
			continue
		}
		if equalFoldASCII(l.substring(l.pos, l.pos+n), literal) {
			l.pos += n
			return l.token(TokenErrorLiteral, literal, startPos)
		}
	}
	l.pos++
	return Token{Type: TokenError, Value: "unknown error literal", Pos: startPos}
}

// scanIdentifier scans function names and boolean literals
func (l *Lexer) scanIdentifier() Token {
	startPos := l.pos

	for l.pos < len(l.runes) && (l.isAlphaNumeric(l.current()) || l.current() == charUnderscore || l.current() == charPeriod) {
		l.pos++
	}

	value := l.substring(startPos, l.pos)
	upperValue := l.toUpper(value)

	// check if it's a function (followed by open paren)
	if l.current() == charLParen {
		return l.token(TokenFunction, upperValue, startPos)
	}

	if upperValue == "TRUE" || upperValue == "FALSE" {
		return l.token(TokenBoolean, upperValue, startPos)
	}

	return Token{Type: TokenError, Value: "unexpected identifier: " + value, Pos: startPos}
}

// toUpper converts ASCII letters to uppercase
func (l *Lexer) toUpper(s string) string {
	result := []rune(s)
	for i, ch := range result {
		if ch >= 'a' && ch <= 'z' {
			result[i] = ch - 32
		}
	}
	return string(result)
}

// scanUnaryPrefixOrBinaryOp scans + and - which can be either unary
// prefix or binary
func (l *Lexer) scanUnaryPrefixOrBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	if l.isUnaryContext() {
		return l.token(TokenUnaryPrefixOp, string(ch), startPos)
	}
	return l.token(TokenBinaryOp, string(ch), startPos)
}

// scanBinaryOp scans binary operators
func (l *Lexer) scanBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	// check for two-character operators first
	switch ch {
	case charLess:
		if l.current() == charEqual {
			l.pos++
			return l.token(TokenBinaryOp, "<=", startPos)
		} else if l.current() == charGreater {
			l.pos++
			return l.token(TokenBinaryOp, "<>", startPos)
		}
		return l.token(TokenBinaryOp, "<", startPos)
	case charGreater:
		if l.current() == charEqual {
			l.pos++
			return l.token(TokenBinaryOp, ">=", startPos)
		}
		return l.token(TokenBinaryOp, ">", startPos)
	case charAsterisk, charSlash, charCaret, charAmpersand:
		return l.token(TokenBinaryOp, string(ch), startPos)
	}

	return Token{Type: TokenError, Value: "unknown operator", Pos: startPos}
}

// isUnaryContext checks if the current context allows for unary operators
func (l *Lexer) isUnaryContext() bool {
	// unary operators are allowed after:
	// - after equals (=)
	// - after another operator
	// - after left paren
	// - after comma
	switch l.state {
	case StateAfterEquals, StateAfterOperator, StateAfterLeftParen, StateAfterComma:
		return true
	default:
		return false
	}
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 32
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 32
		}
		if ca != cb {
			return false
		}
	}
	return true
}
