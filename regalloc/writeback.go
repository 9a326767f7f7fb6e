package regalloc

import (
	"fmt"
	"sort"

	"github.com/a235689741023/lsra/buildoptions"
	"github.com/a235689741023/lsra/ir"
)

// insertion is a pseudo-op to splice into a block around an existing index.
type insertion struct {
	index int
	after bool
	op    *ir.Op
}

// writeBack is the second walk over the now-decided stream: it stamps the
// chosen locations onto the program, materializes copy and spill-store
// pseudo-ops, and tracks the per-category maximum concurrent spill count.
func (c *Context) writeBack() {
	inserts := map[ir.BlockID][]insertion{}
	var curSpill [ir.NumTypeCategories]int

	for i := range c.RefPositions {
		rp := &c.RefPositions[i]
		if !rp.Type.IsDef() && !rp.Type.IsUse() {
			continue
		}
		ivl := c.interval(rp.Interval)
		c.accountSpill(rp, ivl, &curSpill)
		switch ivl.Kind {
		case IntervalUpperHalf:
			c.insertUpperHalfOps(inserts, rp, ivl)
			continue
		case IntervalInternal:
			c.stampTemp(rp)
			continue
		}
		if !rp.HasNode {
			continue
		}
		op := c.opAt(rp.Node)
		ensureAnnotations(op)

		if rp.Type.IsDef() {
			op.DefLoc = rp.Assignment
			if rp.SpillAfter && rp.Assignment.OnRegister() {
				op.SpillDef = true
			}
			continue
		}

		// Use reference.
		slot := rp.Slot
		if buildoptions.IsDebugMode && (slot < 0 || slot >= len(op.Uses)) {
			panic(fmt.Sprintf("regalloc: use reference %s has bad operand slot %d on %s", rp, slot, op))
		}
		if rp.RegOptional && rp.Assignment == ir.LocStack {
			op.MemOperand[slot] = true
			op.UseLocs[slot] = ir.LocStack
			continue
		}
		op.UseLocs[slot] = rp.Assignment
		if rp.Reload {
			op.ReloadUses[slot] = true
		}
		if rp.CopyReg || rp.MoveReg {
			inserts[rp.Node.Block] = append(inserts[rp.Node.Block], insertion{
				index: int(rp.Node.Index),
				op: &ir.Op{
					Kind:    ir.OpCopy,
					From:    rp.CopyFrom,
					To:      rp.Assignment,
					MoveVar: ivl.Var,
				},
			})
		}
		if rp.SpillAfter && rp.Assignment.OnRegister() {
			inserts[rp.Node.Block] = append(inserts[rp.Node.Block], insertion{
				index: int(rp.Node.Index),
				after: true,
				op: &ir.Op{
					Kind:    ir.OpSpillStore,
					From:    rp.Assignment,
					To:      ir.LocStack,
					MoveVar: ivl.Var,
				},
			})
		}
	}

	c.applyInserts(inserts)
}

// accountSpill maintains the running count of spilled-and-not-yet-reloaded
// values per normalized category. The stream is walked in location order,
// so the running maximum is the true maximum over all program points.
func (c *Context) accountSpill(rp *RefPosition, ivl *Interval, cur *[ir.NumTypeCategories]int) {
	cat := ivl.Category
	if rp.Reload && ivl.spillCounted {
		ivl.spillCounted = false
		cur[cat]--
	}
	if rp.SpillAfter && !ivl.spillCounted {
		ivl.spillCounted = true
		cur[cat]++
		if cur[cat] > c.maxSpill[cat] {
			c.maxSpill[cat] = cur[cat]
		}
	}
}

// insertUpperHalfOps materializes the save and restore of a wide value's
// upper half around the call it crosses. CopyFrom names the wide register
// holding the canonical half at that point; when the canonical half is in
// memory too, its own reload carries the whole value and no op is needed.
func (c *Context) insertUpperHalfOps(inserts map[ir.BlockID][]insertion, rp *RefPosition, ivl *Interval) {
	if !rp.HasNode || !rp.CopyFrom.OnRegister() {
		return
	}
	v := ir.NoVar
	if ivl.Related != NoInterval {
		v = c.interval(ivl.Related).Var
	}
	ins := insertion{index: int(rp.Node.Index)}
	switch {
	case rp.SpillAfter:
		ins.op = &ir.Op{Kind: ir.OpSpillStore, From: rp.CopyFrom, To: ir.LocStack, MoveVar: v}
	case rp.Reload:
		ins.after = true
		ins.op = &ir.Op{Kind: ir.OpReload, From: ir.LocStack, To: rp.CopyFrom, MoveVar: v}
	default:
		return
	}
	inserts[rp.Node.Block] = append(inserts[rp.Node.Block], ins)
}

// stampTemp records an internal temporary's register on its operation.
func (c *Context) stampTemp(rp *RefPosition) {
	if !rp.Type.IsDef() || !rp.HasNode {
		return
	}
	op := c.opAt(rp.Node)
	if op.TempLocs == nil {
		op.TempLocs = make([]ir.Loc, op.Temps)
		for i := range op.TempLocs {
			op.TempLocs[i] = ir.LocNone
		}
	}
	op.TempLocs[rp.Slot] = rp.Assignment
}

func (c *Context) opAt(n ir.NodeID) *ir.Op {
	return c.block(n.Block).Ops[n.Index]
}

func ensureAnnotations(op *ir.Op) {
	if op.UseLocs == nil && len(op.Uses) > 0 {
		op.UseLocs = make([]ir.Loc, len(op.Uses))
		for i := range op.UseLocs {
			op.UseLocs[i] = ir.LocNone
		}
		op.ReloadUses = make([]bool, len(op.Uses))
		op.MemOperand = make([]bool, len(op.Uses))
	}
}

// applyInserts splices pseudo-ops into their blocks, back to front so that
// indices stay valid.
func (c *Context) applyInserts(inserts map[ir.BlockID][]insertion) {
	for id, ins := range inserts {
		b := c.block(id)
		sort.SliceStable(ins, func(i, j int) bool {
			pi, pj := ins[i].index*2, ins[j].index*2
			if ins[i].after {
				pi++
			}
			if ins[j].after {
				pj++
			}
			return pi > pj
		})
		for _, in := range ins {
			at := in.index
			if in.after {
				at++
			}
			ops := make([]*ir.Op, 0, len(b.Ops)+1)
			ops = append(ops, b.Ops[:at]...)
			ops = append(ops, in.op)
			ops = append(ops, b.Ops[at:]...)
			b.Ops = ops
		}
	}
}
