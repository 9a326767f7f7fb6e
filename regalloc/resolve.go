package regalloc

import (
	"fmt"

	"github.com/a235689741023/lsra/buildoptions"
	"github.com/a235689741023/lsra/ir"
	"github.com/a235689741023/lsra/machine"
)

// resolveMove is one variable's required relocation across an edge.
type resolveMove struct {
	v        ir.VarIndex
	from, to ir.Loc
}

// resolvedEdge keeps what was inserted where, for the debug audit.
type resolvedEdge struct {
	pred, succ ir.BlockID
	ops        []*ir.Op
}

// resolveEdges reconciles register contents across every CFG edge. Three
// edge shapes get three strategies: a successor with a unique predecessor
// takes the moves at its top, a predecessor with a unique successor takes
// them at its bottom, and a critical edge gets a synthesized block - unless
// one shared placement at the predecessor's bottom satisfies every
// out-edge at once.
func (c *Context) resolveEdges() {
	var audits []resolvedEdge
	// Snapshot: splitting appends blocks, which must not be revisited.
	seq := append([]ir.BlockID{}, c.BlockSeq...)

	for _, id := range seq {
		b := c.block(id)
		out := c.OutMaps[id]
		if out == nil || len(b.Succs) == 0 {
			continue
		}

		type edgeWork struct {
			succ     *ir.Block
			moves    []resolveMove
			critical bool
		}
		var work []edgeWork
		anyCritical := false
		for _, sid := range b.Succs {
			succ := c.block(sid)
			moves := c.edgeMoves(out, succ)
			crit := len(succ.Preds) > 1 && len(b.Succs) > 1
			if len(moves) > 0 {
				work = append(work, edgeWork{succ, moves, crit})
			}
			if crit {
				anyCritical = true
			}
		}
		if len(work) == 0 {
			continue
		}

		if anyCritical && c.sharedResolutionWorks(b, out) {
			// Every out-edge wants the same placement: resolve once at the
			// bottom of b instead of splitting each critical edge. The busy
			// set and the audit must cover every successor, moves or not: a
			// scratch register free on one edge can hold a value live into
			// another.
			ops := c.orderMoves(work[0].moves, c.sharedBusyRegs(b, out))
			b.InsertOpsBottom(ops)
			for _, sid := range b.Succs {
				audits = append(audits, resolvedEdge{b.ID, sid, ops})
			}
			continue
		}

		for _, w := range work {
			busy := c.edgeBusyRegs(out, w.succ)
			ops := c.orderMoves(w.moves, busy)
			switch {
			case len(w.succ.Preds) == 1:
				w.succ.InsertOpsFront(ops)
				audits = append(audits, resolvedEdge{b.ID, w.succ.ID, ops})
			case len(b.Succs) == 1:
				b.InsertOpsBottom(ops)
				audits = append(audits, resolvedEdge{b.ID, w.succ.ID, ops})
			default:
				nb := c.Prog.SplitEdge(b, w.succ)
				c.blocks[nb.ID] = nb
				nb.Ops = ops
				c.InMaps[nb.ID] = out.Clone()
				c.OutMaps[nb.ID] = c.InMaps[w.succ.ID].Clone()
				c.BlockSeq = append(c.BlockSeq, nb.ID)
				audits = append(audits, resolvedEdge{b.ID, w.succ.ID, ops})
				c.tracef("split edge", logFields{"pred": b.ID, "succ": w.succ.ID, "block": nb.ID})
			}
		}
	}

	if buildoptions.IsDebugMode {
		c.auditResolution(audits)
	}
}

// edgeMoves lists the variables whose location differs across pred->succ.
func (c *Context) edgeMoves(out VarToRegMap, succ *ir.Block) []resolveMove {
	in := c.InMaps[succ.ID]
	if in == nil {
		return nil
	}
	var moves []resolveMove
	succ.LiveIn.ForEach(func(v ir.VarIndex) {
		from, to := out[v], in[v]
		if from != to {
			moves = append(moves, resolveMove{v, from, to})
		}
	})
	return moves
}

// sharedResolutionWorks reports whether applying the first mismatching
// out-edge's moves at the bottom of b leaves every successor's incoming
// contract satisfied.
func (c *Context) sharedResolutionWorks(b *ir.Block, out VarToRegMap) bool {
	var shared []resolveMove
	for _, sid := range b.Succs {
		if ms := c.edgeMoves(out, c.block(sid)); len(ms) > 0 {
			shared = ms
			break
		}
	}
	after := out.Clone()
	for _, m := range shared {
		after[m.v] = m.to
	}
	for _, sid := range b.Succs {
		succ := c.block(sid)
		in := c.InMaps[succ.ID]
		if in == nil {
			return false
		}
		ok := true
		succ.LiveIn.ForEach(func(v ir.VarIndex) {
			if after[v] != in[v] {
				ok = false
			}
		})
		if !ok {
			return false
		}
	}
	return true
}

// edgeBusyRegs is the set of registers holding a live value on either side
// of the edge; anything allocatable outside it can serve as a scratch.
func (c *Context) edgeBusyRegs(out VarToRegMap, succ *ir.Block) machine.RegMask {
	var busy machine.RegMask
	in := c.InMaps[succ.ID]
	succ.LiveIn.ForEach(func(v ir.VarIndex) {
		if out[v].OnRegister() {
			busy |= bit(int(out[v]))
		}
		if in != nil && in[v].OnRegister() {
			busy |= bit(int(in[v]))
		}
	})
	return busy
}

// sharedBusyRegs unions the busy sets of every out-edge of b, for a move
// sequence placed once at the bottom of b.
func (c *Context) sharedBusyRegs(b *ir.Block, out VarToRegMap) machine.RegMask {
	var busy machine.RegMask
	for _, sid := range b.Succs {
		busy |= c.edgeBusyRegs(out, c.block(sid))
	}
	return busy
}

// orderMoves sequences one edge's moves so that no value is overwritten
// before it has been relocated: register-to-stack stores first, then
// register-to-register copies in dependency order - breaking cycles with a
// swap, a scratch register, or as a last resort one stack temporary - and
// stack-to-register loads last.
func (c *Context) orderMoves(moves []resolveMove, busy machine.RegMask) []*ir.Op {
	var ops []*ir.Op
	var loads, pending []resolveMove

	for _, m := range moves {
		switch {
		case !m.from.OnRegister():
			loads = append(loads, m)
		case !m.to.OnRegister():
			ops = append(ops, &ir.Op{Kind: ir.OpSpillStore, From: m.from, To: ir.LocStack, MoveVar: m.v})
		default:
			pending = append(pending, m)
		}
	}

	isSource := func(r ir.Loc) int {
		for i, m := range pending {
			if m.from == r {
				return i
			}
		}
		return -1
	}

	for len(pending) > 0 {
		progress := false
		for i := 0; i < len(pending); i++ {
			m := pending[i]
			if j := isSource(m.to); j >= 0 && pending[j] != m {
				continue
			}
			ops = append(ops, &ir.Op{Kind: ir.OpCopy, From: m.from, To: m.to, MoveVar: m.v})
			pending = append(pending[:i], pending[i+1:]...)
			progress = true
			i--
		}
		if progress || len(pending) == 0 {
			continue
		}

		// Everything left is cyclic: each move's target is another's source.
		m := pending[0]
		switch {
		case c.Desc.CanSwap:
			ops = append(ops, &ir.Op{Kind: ir.OpSwap, From: m.from, To: m.to})
			// Rewriting sources can satisfy a move outright (the two-cycle
			// case); a satisfied move must not linger as a self-copy.
			rest := pending[1:]
			pending = nil
			for _, p := range rest {
				if p.from == m.to {
					p.from = m.from
				}
				if p.from != p.to {
					pending = append(pending, p)
				}
			}
		default:
			class := c.Desc.ClassOf(int(m.from))
			free := c.Desc.Allocatable(class) &^ busy
			j := isSource(m.to)
			blocked := pending[j]
			if free != 0 {
				scratch := ir.Loc(free.Pick())
				ops = append(ops, &ir.Op{Kind: ir.OpCopy, From: blocked.from, To: scratch, MoveVar: blocked.v})
				pending[j].from = scratch
				busy |= bit(int(scratch))
			} else {
				// No scratch anywhere: evict one value through its home
				// stack slot and finish it with the trailing loads.
				ops = append(ops, &ir.Op{Kind: ir.OpSpillStore, From: blocked.from, To: ir.LocStack, MoveVar: blocked.v})
				loads = append(loads, resolveMove{blocked.v, ir.LocStack, blocked.to})
				pending = append(pending[:j], pending[j+1:]...)
			}
		}
	}

	for _, m := range loads {
		ops = append(ops, &ir.Op{Kind: ir.OpReload, From: ir.LocStack, To: m.to, MoveVar: m.v})
	}
	return ops
}

// auditResolution replays every resolved edge and fails hard on any
// variable that does not end up where the successor expects it.
func (c *Context) auditResolution(audits []resolvedEdge) {
	for _, a := range audits {
		out := c.OutMaps[a.pred]
		succ := c.block(a.succ)
		in := c.InMaps[a.succ]
		if out == nil || in == nil {
			continue
		}

		// A register the replay never wrote must not read as v0: misses
		// come back as NoVar.
		content := map[ir.Loc]ir.VarIndex{}
		get := func(l ir.Loc) ir.VarIndex {
			if v, ok := content[l]; ok {
				return v
			}
			return ir.NoVar
		}
		onStack := map[ir.VarIndex]bool{}
		succ.LiveIn.ForEach(func(v ir.VarIndex) {
			if out[v].OnRegister() {
				content[out[v]] = v
			} else {
				onStack[v] = true
			}
		})
		for _, op := range a.ops {
			switch op.Kind {
			case ir.OpCopy:
				content[op.To] = get(op.From)
			case ir.OpSwap:
				content[op.From], content[op.To] = get(op.To), get(op.From)
			case ir.OpSpillStore:
				onStack[op.MoveVar] = true
			case ir.OpReload:
				content[op.To] = op.MoveVar
			}
		}
		succ.LiveIn.ForEach(func(v ir.VarIndex) {
			want := in[v]
			if want.OnRegister() {
				if get(want) != v {
					panic(fmt.Sprintf("regalloc: edge bb%d->bb%d leaves v%d misplaced: %s holds v%d", a.pred, a.succ, v, want, get(want)))
				}
			} else if !onStack[v] {
				panic(fmt.Sprintf("regalloc: edge bb%d->bb%d expects v%d on stack but it was never stored", a.pred, a.succ, v))
			}
		})
	}
}
