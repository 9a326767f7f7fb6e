// Package progtext parses the small textual form of an ir.Program used by
// the dump tool and test fixtures.
//
// The format is line-oriented:
//
//	var v0 int            ; categories: int ref byref float double vector
//	var v1 vector wide
//	var v2 int const
//	block 0 weight 10
//	  param v0
//	  mov v2 = v0
//	  add v2 = v2 v1 rmw
//	  call f v0 = v2
//	  branch 1 2
//	block 1
//	  ...
//
// Operand constraints: a use or def written as v3@AX pins that operand to
// the named register of the target; a use written as v3? is regOptional.
// Each bare "tmp" token asks for one scratch register during the operation.
package progtext

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/a235689741023/lsra/ir"
	"github.com/a235689741023/lsra/machine"
)

// Parse reads a program in the textual form. The target description is
// needed to resolve register names in operand pins.
func Parse(src string, desc *machine.Description) (*ir.Program, error) {
	p := &parser{desc: desc, prog: ir.NewProgram(0), blocks: map[int]*ir.Block{}}
	sc := bufio.NewScanner(strings.NewReader(src))
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, ';'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if err := p.parseLine(fields); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := p.linkEdges(); err != nil {
		return nil, err
	}
	return p.prog, nil
}

type pendingEdge struct {
	from *ir.Block
	to   int
}

type parser struct {
	desc   *machine.Description
	prog   *ir.Program
	blocks map[int]*ir.Block
	cur    *ir.Block
	edges  []pendingEdge
}

func (p *parser) parseLine(fields []string) error {
	switch fields[0] {
	case "var":
		return p.parseVar(fields[1:])
	case "block":
		return p.parseBlock(fields[1:])
	case "branch":
		if p.cur == nil {
			return fmt.Errorf("branch outside a block")
		}
		op := ir.NewOp(ir.OpBranch, "", nil, nil)
		p.cur.Ops = append(p.cur.Ops, op)
		for _, f := range fields[1:] {
			n, err := strconv.Atoi(f)
			if err != nil {
				return fmt.Errorf("bad branch target %q", f)
			}
			p.edges = append(p.edges, pendingEdge{p.cur, n})
		}
		return nil
	default:
		return p.parseOp(fields)
	}
}

func (p *parser) parseVar(fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("var wants a name and a category")
	}
	idx, err := varIndex(fields[0])
	if err != nil {
		return err
	}
	for p.prog.NumVars() <= int(idx) {
		p.prog.Vars = append(p.prog.Vars, ir.Var{})
	}
	vd := &p.prog.Vars[idx]
	switch fields[1] {
	case "int":
		vd.Category = ir.TypeInt
	case "ref":
		vd.Category = ir.TypeRef
	case "byref":
		vd.Category = ir.TypeByref
	case "float":
		vd.Category = ir.TypeFloat
	case "double":
		vd.Category = ir.TypeDouble
	case "vector":
		vd.Category = ir.TypeVector
	default:
		return fmt.Errorf("unknown category %q", fields[1])
	}
	for _, f := range fields[2:] {
		switch f {
		case "wide":
			vd.Wide = true
		case "const":
			vd.IsConstant = true
		default:
			return fmt.Errorf("unknown var attribute %q", f)
		}
	}
	return nil
}

func (p *parser) parseBlock(fields []string) error {
	if len(fields) < 1 {
		return fmt.Errorf("block wants a number")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("bad block number %q", fields[0])
	}
	if _, dup := p.blocks[n]; dup {
		return fmt.Errorf("duplicate block %d", n)
	}
	b := p.prog.AddBlock()
	b.Weight = 1
	if len(fields) >= 3 && fields[1] == "weight" {
		w, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return fmt.Errorf("bad weight %q", fields[2])
		}
		b.Weight = w
	}
	p.blocks[n] = b
	p.cur = b
	return nil
}

// parseOp handles "name [vN[@REG] =] operands...", where each operand is
// vN, vN@REG or vN?, mixed with bare "rmw" and "tmp" tokens.
func (p *parser) parseOp(fields []string) error {
	if p.cur == nil {
		return fmt.Errorf("operation outside a block")
	}
	name := fields[0]
	kind := ir.OpNormal
	switch name {
	case "param":
		kind = ir.OpParam
	case "call":
		kind = ir.OpCall
		if len(fields) < 2 {
			return fmt.Errorf("call wants a callee name")
		}
		name = fields[1]
		fields = fields[1:]
	}
	rest := fields[1:]

	op := ir.NewOp(kind, name, nil, nil)
	eq := -1
	for i, f := range rest {
		if f == "=" {
			eq = i
			break
		}
	}
	defs, uses := []string(nil), rest
	if eq >= 0 {
		defs, uses = rest[:eq], rest[eq+1:]
	} else if kind == ir.OpParam {
		defs, uses = rest, nil
	}

	for _, d := range defs {
		v, pin, opt, err := p.operand(d)
		if err != nil {
			return err
		}
		if opt {
			return fmt.Errorf("def %q cannot be regOptional", d)
		}
		op.Defs = append(op.Defs, v)
		op.FixedDef = pin
	}
	if len(op.Defs) > 1 {
		return fmt.Errorf("at most one def per operation")
	}
	for _, u := range uses {
		if u == "rmw" {
			op.RMW = true
			continue
		}
		if u == "tmp" {
			op.Temps++
			continue
		}
		v, pin, opt, err := p.operand(u)
		if err != nil {
			return err
		}
		op.Uses = append(op.Uses, v)
		op.FixedUses = append(op.FixedUses, pin)
		op.OptionalUses = append(op.OptionalUses, opt)
	}
	p.cur.Ops = append(p.cur.Ops, op)
	return nil
}

func (p *parser) operand(s string) (v ir.VarIndex, pin ir.Loc, optional bool, err error) {
	pin = ir.LocNone
	if strings.HasSuffix(s, "?") {
		optional = true
		s = strings.TrimSuffix(s, "?")
	}
	if i := strings.IndexByte(s, '@'); i >= 0 {
		reg := s[i+1:]
		s = s[:i]
		r := -1
		for j := 0; j < p.desc.NumRegs(); j++ {
			if p.desc.RegName(j) == reg {
				r = j
				break
			}
		}
		if r < 0 {
			err = fmt.Errorf("unknown register %q", reg)
			return
		}
		pin = ir.Loc(r)
	}
	v, err = varIndex(s)
	if err != nil {
		return
	}
	for p.prog.NumVars() <= int(v) {
		p.prog.Vars = append(p.prog.Vars, ir.Var{})
	}
	return
}

func varIndex(s string) (ir.VarIndex, error) {
	if !strings.HasPrefix(s, "v") {
		return 0, fmt.Errorf("bad variable %q", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad variable %q", s)
	}
	return ir.VarIndex(n), nil
}

func (p *parser) linkEdges() error {
	for _, e := range p.edges {
		to, ok := p.blocks[e.to]
		if !ok {
			return fmt.Errorf("branch to undefined block %d", e.to)
		}
		p.prog.AddEdge(e.from, to)
	}
	return nil
}
