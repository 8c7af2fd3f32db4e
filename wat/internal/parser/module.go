package parser

import (
	"fmt"

	"github.com/wippyai/wasm-async/wat/internal/ast"
	"github.com/wippyai/wasm-async/wat/internal/token"
)

func (p *Parser) parseModule() (*ast.Module, error) {
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	t, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if t.Value != "module" {
		return nil, fmt.Errorf("expected 'module', got %q", t.Value)
	}
	p.optName()

	p.mod = &ast.Module{}
	p.prescanNames()

	for {
		t := p.next()
		if t == nil {
			return nil, fmt.Errorf("unexpected end of module")
		}
		if t.Type == token.RParen {
			return p.mod, nil
		}
		if t.Type != token.LParen {
			return nil, fmt.Errorf("line %d: unexpected %q in module", t.Line, t.Value)
		}
		field, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}

		switch field.Value {
		case "type":
			err = p.parseType()
		case "import":
			err = p.parseImport()
		case "func":
			err = p.parseFunc()
		case "memory":
			err = p.parseMemory()
		case "export":
			err = p.parseExport()
		case "data":
			err = p.parseData()
		default:
			err = fmt.Errorf("line %d: unknown module field: %s", field.Line, field.Value)
		}
		if err != nil {
			return nil, err
		}
	}
}

// prescanNames binds function and memory names ahead of the main pass so
// calls can refer to functions defined further down.
func (p *Parser) prescanNames() {
	saved := p.pos
	defer func() { p.pos = saved }()

	var funcs, mems uint32
	declare := func(kind, name string) {
		switch kind {
		case "func":
			if name != "" {
				p.funcMap[name] = funcs
			}
			funcs++
		case "memory":
			if name != "" {
				p.memMap[name] = mems
			}
			mems++
		}
	}

	for {
		t := p.next()
		if t == nil || t.Type == token.RParen {
			return
		}
		if t.Type != token.LParen {
			continue
		}
		kw := p.next()
		if kw == nil {
			return
		}
		switch kw.Value {
		case "import":
			p.pos += 2
			if kind := p.peekClause(); kind != "" {
				p.pos += 2
				declare(kind, p.optName())
				p.skip()
			}
		case "func", "memory":
			declare(kw.Value, p.optName())
		}
		p.skip()
	}
}

func (p *Parser) parseType() error {
	name := p.optName()
	if p.peekClause() != "func" {
		return fmt.Errorf("expected 'func' in type definition")
	}
	p.pos += 2

	var ft ast.FuncType
	if err := p.parseSig(&ft, nil); err != nil {
		return err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	if name != "" {
		p.typeMap[name] = uint32(len(p.mod.Types))
	}
	p.mod.Types = append(p.mod.Types, ft)
	return nil
}

// parseValTypes reads value types up to the closing ")". A $name binds the
// type that follows it to base plus its position.
func (p *Parser) parseValTypes(names map[string]uint32, base uint32) ([]ast.ValType, error) {
	var types []ast.ValType
	for {
		t := p.peek()
		if t == nil {
			return nil, fmt.Errorf("unexpected end of input")
		}
		if t.Type == token.RParen {
			p.next()
			return types, nil
		}
		if name := p.optName(); name != "" && names != nil {
			names[name] = base + uint32(len(types))
		}
		vt, err := p.parseValType()
		if err != nil {
			return nil, err
		}
		types = append(types, vt)
	}
}

func (p *Parser) parseSig(ft *ast.FuncType, locals map[string]uint32) error {
	for {
		clause := p.peekClause()
		if clause != "param" && clause != "result" {
			return nil
		}
		p.pos += 2
		if clause == "param" {
			params, err := p.parseValTypes(locals, uint32(len(ft.Params)))
			if err != nil {
				return err
			}
			ft.Params = append(ft.Params, params...)
			continue
		}
		results, err := p.parseValTypes(nil, 0)
		if err != nil {
			return err
		}
		ft.Results = append(ft.Results, results...)
	}
}

// parseTypeUse reads an optional (type idx) followed by an inline
// signature. The inline signature wins when both are present.
func (p *Parser) parseTypeUse(locals map[string]uint32) (ast.FuncType, error) {
	var ref *ast.FuncType
	if p.peekClause() == "type" {
		p.pos += 2
		idx, err := p.parseIdx(p.typeMap)
		if err != nil {
			return ast.FuncType{}, err
		}
		if int(idx) >= len(p.mod.Types) {
			return ast.FuncType{}, fmt.Errorf("type index %d out of range", idx)
		}
		if _, err := p.expect(token.RParen); err != nil {
			return ast.FuncType{}, err
		}
		ref = &p.mod.Types[idx]
	}

	var ft ast.FuncType
	if err := p.parseSig(&ft, locals); err != nil {
		return ast.FuncType{}, err
	}
	if ref != nil && len(ft.Params) == 0 && len(ft.Results) == 0 {
		return *ref, nil
	}
	return ft, nil
}

func (p *Parser) parseLimits() (ast.Limits, error) {
	var lim ast.Limits
	v, err := p.parseU32()
	if err != nil {
		return lim, err
	}
	lim.Min = v
	if t := p.peek(); t != nil && t.Type == token.Number {
		m, err := p.parseU32()
		if err != nil {
			return lim, err
		}
		lim.Max = &m
	}
	return lim, nil
}

func (p *Parser) countImports(kind byte) uint32 {
	var n uint32
	for _, imp := range p.mod.Imports {
		if imp.Kind == kind {
			n++
		}
	}
	return n
}

func (p *Parser) parseImport() error {
	mod, err := p.expect(token.String)
	if err != nil {
		return err
	}
	name, err := p.expect(token.String)
	if err != nil {
		return err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return err
	}
	kind, err := p.expect(token.Ident)
	if err != nil {
		return err
	}
	p.optName()

	imp := ast.Import{Module: mod.Value, Name: name.Value}
	switch kind.Value {
	case "func":
		if len(p.mod.Funcs) > 0 {
			return fmt.Errorf("line %d: function imports must precede definitions", kind.Line)
		}
		ft, err := p.parseTypeUse(nil)
		if err != nil {
			return err
		}
		imp.Kind = ast.KindFunc
		imp.TypeIdx = p.findOrAddType(ft)
	case "memory":
		if len(p.mod.Memories) > 0 {
			return fmt.Errorf("line %d: memory imports must precede definitions", kind.Line)
		}
		lim, err := p.parseLimits()
		if err != nil {
			return err
		}
		imp.Kind = ast.KindMemory
		imp.Mem = &lim
	default:
		return fmt.Errorf("line %d: unsupported import kind: %s", kind.Line, kind.Value)
	}

	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	p.mod.Imports = append(p.mod.Imports, imp)
	return nil
}

// parseInlineExports reads (export "name") clauses for the item at idx.
func (p *Parser) parseInlineExports(kind byte, idx uint32) error {
	for p.peekClause() == "export" {
		p.pos += 2
		name, err := p.expect(token.String)
		if err != nil {
			return err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return err
		}
		p.mod.Exports = append(p.mod.Exports, ast.Export{Name: name.Value, Kind: kind, Idx: idx})
	}
	return nil
}

func (p *Parser) parseFunc() error {
	p.optName()
	idx := p.countImports(ast.KindFunc) + uint32(len(p.mod.Funcs))
	if err := p.parseInlineExports(ast.KindFunc, idx); err != nil {
		return err
	}

	locals := make(map[string]uint32)
	ft, err := p.parseTypeUse(locals)
	if err != nil {
		return err
	}

	var body ast.FuncBody
	for p.peekClause() == "local" {
		p.pos += 2
		vts, err := p.parseValTypes(locals, uint32(len(ft.Params)+len(body.Locals)))
		if err != nil {
			return err
		}
		body.Locals = append(body.Locals, vts...)
	}

	code, err := p.parseInstrs(locals)
	if err != nil {
		return err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	body.Code = append(code, ast.Instr{Opcode: ast.OpEnd})

	p.mod.Funcs = append(p.mod.Funcs, p.findOrAddType(ft))
	p.mod.Code = append(p.mod.Code, body)
	return nil
}

func (p *Parser) parseMemory() error {
	p.optName()
	idx := p.countImports(ast.KindMemory) + uint32(len(p.mod.Memories))
	if err := p.parseInlineExports(ast.KindMemory, idx); err != nil {
		return err
	}
	lim, err := p.parseLimits()
	if err != nil {
		return err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	p.mod.Memories = append(p.mod.Memories, lim)
	return nil
}

func (p *Parser) parseExport() error {
	name, err := p.expect(token.String)
	if err != nil {
		return err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return err
	}
	kind, err := p.expect(token.Ident)
	if err != nil {
		return err
	}

	exp := ast.Export{Name: name.Value}
	switch kind.Value {
	case "func":
		exp.Kind = ast.KindFunc
		exp.Idx, err = p.parseIdx(p.funcMap)
	case "memory":
		exp.Kind = ast.KindMemory
		exp.Idx, err = p.parseIdx(p.memMap)
	default:
		return fmt.Errorf("line %d: unknown export kind: %s", kind.Line, kind.Value)
	}
	if err != nil {
		return err
	}

	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	p.mod.Exports = append(p.mod.Exports, exp)
	return nil
}

// parseData reads an active segment for memory 0. The offset is either
// (offset instr*) or a single folded instruction.
func (p *Parser) parseData() error {
	p.optName()
	if p.peekClause() == "memory" {
		p.pos += 2
		idx, err := p.parseIdx(p.memMap)
		if err != nil {
			return err
		}
		if idx != 0 {
			return fmt.Errorf("data for memory %d is not supported", idx)
		}
		if _, err := p.expect(token.RParen); err != nil {
			return err
		}
	}

	var offset []ast.Instr
	var err error
	switch p.peekClause() {
	case "":
		return fmt.Errorf("passive data segments are not supported")
	case "offset":
		p.pos += 2
		if offset, err = p.parseInstrs(nil); err != nil {
			return err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return err
		}
	default:
		p.next()
		if offset, err = p.parseFolded(nil); err != nil {
			return err
		}
	}

	var init []byte
	for {
		t := p.peek()
		if t == nil || t.Type != token.String {
			break
		}
		p.next()
		init = append(init, decodeString(t.Value)...)
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}

	p.mod.Data = append(p.mod.Data, ast.DataSegment{
		Offset: append(offset, ast.Instr{Opcode: ast.OpEnd}),
		Init:   init,
	})
	return nil
}
