package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-async/wat/internal/ast"
	"github.com/wippyai/wasm-async/wat/internal/token"
)

type Parser struct {
	mod     *ast.Module
	typeMap map[string]uint32
	funcMap map[string]uint32
	memMap  map[string]uint32
	tokens  []token.Token
	pos     int
}

func New(tokens []token.Token) *Parser {
	return &Parser{
		tokens:  tokens,
		typeMap: make(map[string]uint32),
		funcMap: make(map[string]uint32),
		memMap:  make(map[string]uint32),
	}
}

func (p *Parser) Parse() (*ast.Module, error) {
	return p.parseModule()
}

func (p *Parser) peek() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *Parser) next() *token.Token {
	t := p.peek()
	if t != nil {
		p.pos++
	}
	return t
}

func (p *Parser) expect(typ token.Type) (*token.Token, error) {
	t := p.next()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of input")
	}
	if t.Type != typ {
		return nil, fmt.Errorf("line %d: expected %v, got %q", t.Line, typ, t.Value)
	}
	return t, nil
}

// peekClause reports the keyword of the upcoming "(keyword ..." without
// consuming anything.
func (p *Parser) peekClause() string {
	if p.pos+1 >= len(p.tokens) || p.tokens[p.pos].Type != token.LParen {
		return ""
	}
	if t := p.tokens[p.pos+1]; t.Type == token.Ident {
		return t.Value
	}
	return ""
}

// optName consumes a $name if one is next.
func (p *Parser) optName() string {
	if t := p.peek(); t != nil && t.Type == token.Ident && strings.HasPrefix(t.Value, "$") {
		p.next()
		return t.Value
	}
	return ""
}

// skip consumes tokens up to and including the ")" closing the current form.
func (p *Parser) skip() {
	depth := 1
	for depth > 0 {
		t := p.next()
		if t == nil {
			return
		}
		switch t.Type {
		case token.LParen:
			depth++
		case token.RParen:
			depth--
		}
	}
}

func (p *Parser) parseValType() (ast.ValType, error) {
	t, err := p.expect(token.Ident)
	if err != nil {
		return 0, err
	}
	switch t.Value {
	case "i32":
		return ast.ValTypeI32, nil
	case "i64":
		return ast.ValTypeI64, nil
	case "f32":
		return ast.ValTypeF32, nil
	case "f64":
		return ast.ValTypeF64, nil
	}
	return 0, fmt.Errorf("line %d: unknown value type: %s", t.Line, t.Value)
}

func (p *Parser) parseU32() (uint32, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(t.Value, "_", ""), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid number: %s", t.Line, t.Value)
	}
	return uint32(v), nil
}

// parseIdx reads a numeric index or a $name resolved through names.
func (p *Parser) parseIdx(names map[string]uint32) (uint32, error) {
	t := p.peek()
	if t == nil {
		return 0, fmt.Errorf("expected index")
	}
	if t.Type == token.Ident && strings.HasPrefix(t.Value, "$") {
		p.next()
		if idx, ok := names[t.Value]; ok {
			return idx, nil
		}
		return 0, fmt.Errorf("line %d: unknown identifier: %s", t.Line, t.Value)
	}
	return p.parseU32()
}

func (p *Parser) findOrAddType(ft ast.FuncType) uint32 {
	for i, t := range p.mod.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	p.mod.Types = append(p.mod.Types, ft)
	return uint32(len(p.mod.Types) - 1)
}

// decodeString expands the escapes of a string literal: \n \t \r \\ \" \'
// and two-digit hex bytes.
func decodeString(s string) []byte {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			out = append(out, c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'r':
			out = append(out, '\r')
		case '\\', '"', '\'':
			out = append(out, s[i])
		default:
			if i+1 < len(s) {
				if v, err := strconv.ParseUint(s[i:i+2], 16, 8); err == nil {
					out = append(out, byte(v))
					i++
					continue
				}
			}
			out = append(out, '\\', s[i])
		}
	}
	return out
}
