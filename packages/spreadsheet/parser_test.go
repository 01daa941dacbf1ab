package spreadsheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(name string) (uint32, bool) {
	switch name {
	case "Sheet1", "sheet1":
		return 1, true
	case "Sheet2":
		return 2, true
	case "My Sheet":
		return 3, true
	default:
		return 0, false
	}
}

func testSheetName(id uint32) string {
	switch id {
	case 1:
		return "Sheet1"
	case 2:
		return "Sheet2"
	case 3:
		return "My Sheet"
	default:
		return "#REF"
	}
}

func parseFormula(formula string) (ASTNode, error) {
	return Parse(formula, NewAddress(1, 0, 0), testResolver)
}

func TestParserBasicFormulas(t *testing.T) {
	validFormulas := []string{
		"=1+2",
		"=A1",
		"=SUM(A1:A10)",
		"=Sheet2!A1",
		"=Sheet2!A1:B2",
		"=SUM(Sheet2!A1:A10)",
		"=Sheet2!A1 + Sheet2!B1",
		"=SUM(B2:A1)",
		"=SUM(A1:A1)",
		"=SUM(A1:Z1000)",
		"=SUM(A:C)",
		"=SUM(2:4)",
		"='My Sheet'!A1",
		"=$A$1+A$2+$A3",
		"=Rate*2",
		"=-(1+2)%",
		"=#N/A",
		`="Hello 世界"`,
		`="Test 😀 emoji"`,
		`=CONCATENATE("Hello ", "世界")`,
		`="say ""hi"""`,
	}

	for _, formula := range validFormulas {
		t.Run(formula, func(t *testing.T) {
			_, err := parseFormula(formula)
			assert.NoError(t, err)
		})
	}
}

func TestParserInvalidFormulas(t *testing.T) {
	invalidFormulas := []string{
		"=",
		"=SUM(",
		"=A1:",
		`="hello`,
		"=1+",
		"=(1",
		"=1)",
		"A1+1",
		"=1 2",
		"=A1.5",
		"=SUM($B$2.1)",
	}

	for _, formula := range invalidFormulas {
		t.Run(formula, func(t *testing.T) {
			_, err := parseFormula(formula)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "expected a parse error, got %v", err)
			assert.Equal(t, ParseErrorSyntax, perr.Kind)
			assert.Equal(t, ErrorCodeOther, perr.ErrorCode())
		})
	}
}

func TestParserUnknownSheet(t *testing.T) {
	_, err := parseFormula("=Missing!A1+1")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ParseErrorUnknownSheet, perr.Kind)
	assert.Equal(t, "Missing", perr.Sheet)
	assert.Equal(t, ErrorCodeRef, perr.ErrorCode())
}

func TestParserResolvesReferences(t *testing.T) {
	ast, err := Parse("=Sheet2!$B3+C$4", NewAddress(1, 5, 5), testResolver)
	require.NoError(t, err)

	deps := CollectDependencies(ast)
	require.Len(t, deps, 2)
	assert.Equal(t, Dependency{Kind: DependencyCell, Address: NewAddress(2, 2, 1)}, deps[0])
	assert.Equal(t, Dependency{Kind: DependencyCell, Address: NewAddress(1, 3, 2)}, deps[1])

	ast, err = parseFormula("=SUM(B2:A1)+SUM(A1:B2)+Rate+rate")
	require.NoError(t, err)
	deps = CollectDependencies(ast)
	require.Len(t, deps, 2, "the swapped range and the repeated name are deduplicated")
	assert.Equal(t, NewRangeAddress(NewAddress(1, 0, 0), NewAddress(1, 1, 1)), deps[0].Range)
	assert.Equal(t, "RATE", deps[1].Name)
}

func TestUnparse(t *testing.T) {
	tests := []struct {
		formula string
		sheet   uint32
		want    string
	}{
		{"=1 + 2 * 3", 1, "1+2*3"},
		{"=(1+2)*3", 1, "(1+2)*3"},
		{"=2^3^2", 1, "2^3^2"},
		{"=(2^3)^2", 1, "(2^3)^2"},
		{"=1-(2-3)", 1, "1-(2-3)"},
		{"=sum( A1:A3 )", 1, "SUM(A1:A3)"},
		{"=$A$1+B$2", 1, "$A$1+B$2"},
		{"=Sheet2!A1", 1, "Sheet2!A1"},
		{"=Sheet1!A1", 2, "Sheet1!A1"},
		{"=A1", 2, "A1"},
		{"=sheet1!A1", 1, "Sheet1!A1"},
		{"='My Sheet'!A1:B2", 1, "'My Sheet'!A1:B2"},
		{"=SUM(C:A)", 1, "SUM(A:C)"},
		{"=SUM($2:3)", 1, "SUM($2:3)"},
		{`="a""b"&TRUE`, 1, `"a""b"&TRUE`},
		{"=-A1%", 1, "-A1%"},
		{"=#REF!", 1, "#REF!"},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			ast, err := Parse(tt.formula, NewAddress(tt.sheet, 0, 0), testResolver)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Unparse(ast, testSheetName, tt.sheet))

			// the rendered text parses back into the same formula
			again, err := Parse("="+tt.want, NewAddress(tt.sheet, 0, 0), testResolver)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Unparse(again, testSheetName, tt.sheet))
		})
	}
}

func TestRelativeForm(t *testing.T) {
	at := func(formula string, row, col uint32) string {
		t.Helper()
		base := NewAddress(1, row, col)
		ast, err := Parse(formula, base, testResolver)
		require.NoError(t, err)
		return RelativeForm(ast, base)
	}

	assert.Equal(t, "R[-1]C[0]+1", at("=B1+1", 1, 1))
	assert.Equal(t, at("=A1*$C$1", 0, 1), at("=A5*$C$1", 4, 1))
	assert.NotEqual(t, at("=A1*$C$1", 0, 1), at("=A5*$C$2", 4, 1))
	assert.Equal(t, "SUM(R1C[-1]:R[0]C[-1])", at("=SUM(A$1:A3)", 2, 1))
	assert.Equal(t, "#2!R[0]C[0]", at("=Sheet2!A1", 0, 0))
}

func TestMatchReference(t *testing.T) {
	tests := []struct {
		text  string
		start int
		ok    bool
		kind  RefMatchKind
		end   int
		sheet string
	}{
		{text: "A1", ok: true, kind: RefMatchCell, end: 2},
		{text: "$B$12+1", ok: true, kind: RefMatchCell, end: 5},
		{text: "A1:B2", ok: true, kind: RefMatchCellRange, end: 5},
		{text: "Sheet2!A1:Sheet2!B2", ok: true, kind: RefMatchCellRange, end: 19, sheet: "Sheet2"},
		{text: "'My Sheet'!C3", ok: true, kind: RefMatchCell, end: 13, sheet: "My Sheet"},
		{text: "'it''s'!A1", ok: true, kind: RefMatchCell, end: 10, sheet: "it's"},
		{text: "A:C", ok: true, kind: RefMatchColumnRange, end: 3},
		{text: "$1:3", ok: true, kind: RefMatchRowRange, end: 4},
		{text: "SUM(A1)", start: 4, ok: true, kind: RefMatchCell, end: 6},
		{text: "Rate", ok: true, kind: RefMatchNamedExpression, end: 4},
		{text: "tax_2024", ok: true, kind: RefMatchNamedExpression, end: 8},
		{text: "A1B", ok: true, kind: RefMatchNamedExpression, end: 3},
		{text: "XFE1", ok: true, kind: RefMatchNamedExpression, end: 4},
		{text: "R1C1", ok: false},
		{text: "TRUE", ok: false},
		{text: "1A", ok: false},
		{text: "A1.5", ok: false},
		{text: "B2.total", ok: false},
		{text: "A1", start: 5, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			m, ok := MatchReference(tt.text, tt.start)
			require.Equal(t, tt.ok, ok, "match %q at %d", tt.text, tt.start)
			if !ok {
				return
			}
			assert.Equal(t, tt.kind, m.Kind)
			assert.Equal(t, Span{Start: tt.start, End: tt.end}, m.Span)
			assert.Equal(t, tt.sheet, m.Sheet)
		})
	}
}

func TestMatchReferenceComponents(t *testing.T) {
	m, ok := MatchReference("$C5:D$10", 0)
	require.True(t, ok)
	assert.Equal(t, RefComponent{Col: 2, Row: 4, AbsCol: true}, m.Start)
	assert.Equal(t, RefComponent{Col: 3, Row: 9, AbsRow: true}, m.End)

	m, ok = MatchReference("B:$D", 0)
	require.True(t, ok)
	assert.Equal(t, RefComponent{Col: 1, Row: -1}, m.Start)
	assert.Equal(t, RefComponent{Col: 3, Row: -1, AbsCol: true}, m.End)
}

func TestIsValidNamedExpressionName(t *testing.T) {
	for _, name := range []string{"Rate", "_total", "tax.rate", "Größe", "A1B2C"} {
		assert.True(t, IsValidNamedExpressionName(name), name)
	}
	for _, name := range []string{"", "A1", "$A$1", "R1C1", "RC", "true", "1abc", "has space", "a-b", "A1.5", "B2.x"} {
		assert.False(t, IsValidNamedExpressionName(name), name)
	}
}

func TestLexer(t *testing.T) {
	types := func(formula string) []TokenType {
		t.Helper()
		tokens, err := NewLexer(formula).Tokenize()
		require.Nil(t, err)
		result := make([]TokenType, 0, len(tokens))
		for _, tok := range tokens {
			if tok.Type != TokenEquals && tok.Type != TokenEOF {
				result = append(result, tok.Type)
			}
		}
		return result
	}

	assert.Equal(t, []TokenType{TokenCell, TokenBinaryOp, TokenNumber}, types("=A1 + 1.5e3"))
	assert.Equal(t, []TokenType{TokenFunction, TokenLeftParen, TokenRange, TokenComma, TokenString, TokenRightParen}, types(`=SUM(A1:B2, "x")`))
	assert.Equal(t, []TokenType{TokenUnaryPrefixOp, TokenNumber, TokenUnaryPostfixOp}, types("=-5%"))
	assert.Equal(t, []TokenType{TokenBoolean, TokenBinaryOp, TokenErrorLiteral}, types("=true<>#DIV/0!"))
	assert.Equal(t, []TokenType{TokenIdentifier, TokenBinaryOp, TokenCell}, types("=Rate*'My Sheet'!B2"))

	_, perr := NewLexer("=1 $ 2").Tokenize()
	require.NotNil(t, perr)
	assert.Equal(t, ParseErrorSyntax, perr.Kind)
}

func TestParserCache(t *testing.T) {
	pc := NewParserCache()

	first, hash, hit, err := pc.Parse("=A1+1", NewAddress(1, 0, 1), testResolver)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotZero(t, hash)

	second, hash2, hit, err := pc.Parse("=A2+1", NewAddress(1, 1, 1), testResolver)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, hash, hash2)
	assert.Equal(t, 1, pc.Count())

	assert.Equal(t, "A1+1", Unparse(first, testSheetName, 1))
	assert.Equal(t, "A2+1", Unparse(second, testSheetName, 1))

	// same text at another position is a different template
	_, hash3, hit, err := pc.Parse("=A1+1", NewAddress(1, 5, 1), testResolver)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotEqual(t, hash, hash3)

	// absolute references are not shifted
	_, _, _, err = pc.Parse("=$A$1*B1", NewAddress(1, 0, 2), testResolver)
	require.NoError(t, err)
	bound, _, hit, err := pc.Parse("=$A$1*B7", NewAddress(1, 6, 2), testResolver)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "$A$1*B7", Unparse(bound, testSheetName, 1))

	assert.Equal(t, 2, pc.Hits())
	assert.Equal(t, 3, pc.Misses())

	pc.Release(hash)
	assert.Equal(t, 3, pc.Count(), "still referenced by the second formula")
	pc.Release(hash)
	assert.Equal(t, 2, pc.Count())

	_, _, _, err = pc.Parse("=Nowhere!A1", NewAddress(1, 0, 0), testResolver)
	require.Error(t, err)
	assert.Equal(t, 2, pc.Count(), "failures are not cached")

	pc.Clear()
	assert.Zero(t, pc.Count())
}
