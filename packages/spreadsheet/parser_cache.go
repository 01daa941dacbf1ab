package spreadsheet

import (
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// cachedFormula is a parsed template. its references are resolved against
// base; binding to another address shifts every relative component by the
// distance between the two.
type cachedFormula struct {
	key       string
	ast       ASTNode
	base      Address
	refCounts int
}

// ParserCache stores parsed formulas keyed by their relative token form, so
// formulas that are relative copies of each other (=A1+1 in B1, =A2+1 in
// B2) are parsed once.
type ParserCache struct {
	templates map[uint64]*cachedFormula
	hits      int
	misses    int
}

// NewParserCache creates an empty parser cache
func NewParserCache() *ParserCache {
	return &ParserCache{
		templates: make(map[uint64]*cachedFormula),
	}
}

// Parse returns the AST for text at base, reusing a cached template when
// one exists. the returned hash identifies the template for Release; it is
// zero when nothing was cached. hit reports whether parsing was skipped.
func (pc *ParserCache) Parse(text string, base Address, resolveSheet SheetResolver) (ast ASTNode, hash uint64, hit bool, err error) {
	tokens, perr := NewLexer(text).Tokenize()
	if perr != nil {
		return nil, 0, false, perr
	}

	key := relativeTokenKey(tokens, base)
	hash = xxh3.HashString(key)
	if cached, ok := pc.templates[hash]; ok && cached.key == key {
		pc.hits++
		cached.refCounts++
		return bindTemplate(cached.ast, cached.base, base), hash, true, nil
	}

	pc.misses++
	parsed, perr := NewParser(tokens, base, resolveSheet).Parse()
	if perr != nil {
		// unknown sheets may appear later, so failures are never cached
		return nil, 0, false, perr
	}
	if _, taken := pc.templates[hash]; taken {
		// hash collision with a different key: serve uncached
		return parsed, 0, false, nil
	}
	pc.templates[hash] = &cachedFormula{key: key, ast: parsed, base: base, refCounts: 1}
	return parsed, hash, false, nil
}

// Release drops one reference to a template, removing it when unused
func (pc *ParserCache) Release(hash uint64) {
	cached, ok := pc.templates[hash]
	if !ok {
		return
	}
	cached.refCounts--
	if cached.refCounts <= 0 {
		delete(pc.templates, hash)
	}
}

// Clear removes every template. sheet names are part of the key, so the
// cache is cleared whenever sheets are added, removed or renamed.
func (pc *ParserCache) Clear() {
	pc.templates = make(map[uint64]*cachedFormula)
}

// Count returns the number of cached templates
func (pc *ParserCache) Count() int {
	return len(pc.templates)
}

// Hits returns how many parses were served from the cache
func (pc *ParserCache) Hits() int {
	return pc.hits
}

// Misses returns how many parses went through the parser
func (pc *ParserCache) Misses() int {
	return pc.misses
}

// relativeTokenKey renders tokens with relative reference components as
// offsets from base and absolute ones as values
func relativeTokenKey(tokens []Token, base Address) string {
	var sb strings.Builder
	for _, tok := range tokens {
		sb.WriteString(strconv.Itoa(int(tok.Type)))
		sb.WriteByte(':')
		switch tok.Type {
		case TokenCell, TokenRange:
			m := tok.Ref
			if m.Sheet != "" {
				sb.WriteString(strings.ToLower(m.Sheet))
				sb.WriteByte('!')
			}
			sb.WriteString(strconv.Itoa(int(m.Kind)))
			writeComponentKey(&sb, m.Start, base)
			if tok.Type == TokenRange {
				sb.WriteByte(':')
				writeComponentKey(&sb, m.End, base)
			}
		case TokenIdentifier:
			sb.WriteString(strings.ToUpper(tok.Value))
		default:
			sb.WriteString(tok.Value)
		}
		sb.WriteByte(0)
	}
	return sb.String()
}

func writeComponentKey(sb *strings.Builder, c RefComponent, base Address) {
	if c.Row >= 0 {
		if c.AbsRow {
			sb.WriteString("R" + strconv.Itoa(c.Row))
		} else {
			sb.WriteString("R[" + strconv.Itoa(c.Row-int(base.Row)) + "]")
		}
	}
	if c.Col >= 0 {
		if c.AbsCol {
			sb.WriteString("C" + strconv.Itoa(c.Col))
		} else {
			sb.WriteString("C[" + strconv.Itoa(c.Col-int(base.Col)) + "]")
		}
	}
}

// bindTemplate shifts the relative components of a template parsed at from
// so it reads as if parsed at to. references without an explicit sheet move
// to the target sheet.
func bindTemplate(ast ASTNode, from, to Address) ASTNode {
	if from == to {
		return ast
	}
	dRow := int64(to.Row) - int64(from.Row)
	dCol := int64(to.Col) - int64(from.Col)
	shift := func(v uint32, abs bool, delta int64) uint32 {
		if abs {
			return v
		}
		return uint32(int64(v) + delta)
	}

	return mapAST(ast, func(node ASTNode) ASTNode {
		switch n := node.(type) {
		case *CellRefNode:
			ref := n.Ref
			if !ref.ExplicitSheet {
				ref.Address.Sheet = to.Sheet
			}
			ref.Address.Row = shift(ref.Address.Row, ref.AbsRow, dRow)
			ref.Address.Col = shift(ref.Address.Col, ref.AbsCol, dCol)
			return &CellRefNode{Ref: ref, Position: n.Position}
		case *RangeRefNode:
			ref := n.Range
			if !ref.ExplicitSheet {
				ref.Range.Sheet = to.Sheet
			}
			if ref.Range.Kind != RangeColumns {
				ref.Range.StartRow = shift(ref.Range.StartRow, ref.AbsStartRow, dRow)
				ref.Range.EndRow = shift(ref.Range.EndRow, ref.AbsEndRow, dRow)
			}
			if ref.Range.Kind != RangeRows {
				ref.Range.StartCol = shift(ref.Range.StartCol, ref.AbsStartCol, dCol)
				ref.Range.EndCol = shift(ref.Range.EndCol, ref.AbsEndCol, dCol)
			}
			return &RangeRefNode{Range: ref, Position: n.Position}
		default:
			return node
		}
	})
}
