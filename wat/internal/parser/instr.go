package parser

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-async/wat/internal/ast"
	"github.com/wippyai/wasm-async/wat/internal/token"
)

// parseInstrs reads flat and folded instructions up to the enclosing ")".
func (p *Parser) parseInstrs(locals map[string]uint32) ([]ast.Instr, error) {
	var code []ast.Instr
	for {
		t := p.peek()
		if t == nil {
			return nil, fmt.Errorf("unexpected end of input")
		}
		switch t.Type {
		case token.RParen:
			return code, nil
		case token.LParen:
			p.next()
			folded, err := p.parseFolded(locals)
			if err != nil {
				return nil, err
			}
			code = append(code, folded...)
		default:
			p.next()
			ins, err := p.parseInstr(t, locals)
			if err != nil {
				return nil, err
			}
			code = append(code, ins)
		}
	}
}

// parseFolded reads "op imm* operand* )" after its "(" and emits the
// operands ahead of op.
func (p *Parser) parseFolded(locals map[string]uint32) ([]ast.Instr, error) {
	t := p.next()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of input")
	}
	ins, err := p.parseInstr(t, locals)
	if err != nil {
		return nil, err
	}
	operands, err := p.parseInstrs(locals)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	return append(operands, ins), nil
}

func (p *Parser) parseInstr(t *token.Token, locals map[string]uint32) (ast.Instr, error) {
	if t.Type != token.Ident {
		return ast.Instr{}, fmt.Errorf("line %d: expected instruction, got %q", t.Line, t.Value)
	}
	info, ok := ops[t.Value]
	if !ok {
		return ast.Instr{}, fmt.Errorf("line %d: unknown instruction: %s", t.Line, t.Value)
	}

	ins := ast.Instr{Opcode: info.opcode}
	var err error
	switch info.imm {
	case immLocal:
		ins.Imm, err = p.parseIdx(locals)
	case immFunc:
		ins.Imm, err = p.parseIdx(p.funcMap)
	case immI32:
		var v int64
		v, err = p.parseInt(32)
		ins.Imm = int32(v)
	case immI64:
		ins.Imm, err = p.parseInt(64)
	case immMemarg:
		ins.Imm, err = p.parseMemarg(info.align)
	case immMemIdx:
		ins.Imm = uint32(0)
	}
	return ins, err
}

// parseInt reads a signed or unsigned literal that fits in size bits and
// returns its two's complement value.
func (p *Parser) parseInt(size int) (int64, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	s := strings.ReplaceAll(t.Value, "_", "")
	if v, err := strconv.ParseInt(s, 0, size); err == nil {
		return v, nil
	}
	u, err := strconv.ParseUint(strings.TrimPrefix(s, "+"), 0, size)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid i%d: %s", t.Line, size, t.Value)
	}
	if size == 32 {
		return int64(int32(uint32(u))), nil
	}
	return int64(u), nil
}

func (p *Parser) parseMemarg(natural uint32) (ast.Memarg, error) {
	ma := ast.Memarg{Align: natural}
	for {
		t := p.peek()
		if t == nil || t.Type != token.Ident {
			return ma, nil
		}
		key, val, ok := strings.Cut(t.Value, "=")
		if !ok || (key != "offset" && key != "align") {
			return ma, nil
		}
		p.next()
		v, err := strconv.ParseUint(strings.ReplaceAll(val, "_", ""), 0, 32)
		if err != nil {
			return ma, fmt.Errorf("line %d: invalid %s: %s", t.Line, key, val)
		}
		if key == "offset" {
			ma.Offset = uint32(v)
			continue
		}
		if v == 0 || v&(v-1) != 0 {
			return ma, fmt.Errorf("line %d: alignment must be a power of two: %d", t.Line, v)
		}
		ma.Align = uint32(bits.TrailingZeros64(v))
	}
}
