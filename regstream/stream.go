// Package regstream is the reference producer of the refposition stream the
// allocator consumes: it computes block liveness and walks the program in
// block-sequence order, emitting one time-ordered requirement per relevant
// program point. The allocator itself depends only on the stream contract,
// never on this package.
package regstream

import (
	"github.com/a235689741023/lsra/ir"
	"github.com/a235689741023/lsra/machine"
	"github.com/a235689741023/lsra/regalloc"
)

// Build computes liveness for prog, creates an allocation context for it on
// desc, and fills the context's interval and refposition arenas.
func Build(prog *ir.Program, desc *machine.Description) *regalloc.Context {
	ComputeLiveness(prog)
	c := regalloc.NewContext(prog, desc)
	b := &builder{c: c, prog: prog, desc: desc, upperHalf: map[ir.VarIndex]regalloc.IntervalID{}}
	b.createIntervals()
	b.emit()
	b.setCalleeSavePreferences()
	return c
}

type builder struct {
	c    *regalloc.Context
	prog *ir.Program
	desc *machine.Description

	loc regalloc.Location
	// callLocs collects kill locations for the callee-save preference pass.
	callLocs []regalloc.Location
	// upperHalf maps each wide variable to the interval tracking the
	// independently saved upper half of its register.
	upperHalf map[ir.VarIndex]regalloc.IntervalID
}

func classOf(cat ir.TypeCategory) machine.ClassKind {
	switch cat {
	case ir.TypeFloat, ir.TypeDouble, ir.TypeVector:
		return machine.ClassFloat
	}
	return machine.ClassInt
}

func (b *builder) createIntervals() {
	for v := range b.prog.Vars {
		vd := &b.prog.Vars[v]
		class := classOf(vd.Category)
		id := b.c.NewInterval(regalloc.IntervalVariable, ir.VarIndex(v), class, vd.Category)
		b.c.Intervals[id].IsConstant = vd.IsConstant
		if !vd.Wide {
			continue
		}
		switch b.desc.Classes[class].Shape {
		case machine.ShapeWideUpperSave:
			// The register is wide enough but only its canonical half
			// survives calls; the upper half gets its own interval.
			up := b.c.NewInterval(regalloc.IntervalUpperHalf, ir.NoVar, machine.ClassFloat, ir.TypeVector)
			b.c.SetRelated(up, id)
			b.upperHalf[ir.VarIndex(v)] = up
		case machine.ShapePair:
			// The value needs an aligned even/odd register pair.
			b.c.Intervals[id].IsPair = true
		}
	}
}

func (b *builder) interval(v ir.VarIndex) regalloc.IntervalID {
	return b.c.IntervalForVar(v)
}

// emit walks blocks in the traversal order the allocator will use, laying
// out two locations per operation: reads at the even one, kills and writes
// at the odd one.
func (b *builder) emit() {
	seq := b.c.SequenceBlocks()
	for seqIdx, id := range seq {
		blk := b.prog.Block(id)
		b.c.AddRefPosition(regalloc.RefPosition{
			Location: b.loc,
			Type:     regalloc.RefTypeBB,
			Block:    id,
			Register: -1,
		})
		b.loc += 2

		if seqIdx == 0 {
			b.emitEntryDefs(blk)
		} else if _, seeded := b.c.SeqPred[id]; !seeded {
			b.emitDummyDefs(blk)
		}

		lastUses, liveAcross := analyzeBlock(blk)
		for i, op := range blk.Ops {
			b.emitOp(blk, i, op, lastUses[i], liveAcross[i])
			b.loc += 2
		}

		// Exposed uses pin live-out values to the block end.
		blk.LiveOut.ForEach(func(v ir.VarIndex) {
			b.c.AddRefPosition(regalloc.RefPosition{
				Location: b.loc,
				Type:     regalloc.RefTypeExposedUse,
				Interval: b.interval(v),
				Register: -1,
				Slot:     -1,
				Weight:   blk.Weight,
			})
		})
		b.loc += 2
	}
}

// emitEntryDefs defines everything live into the entry block: parameters
// are defined by their OpParam ops; anything else gets a zero-init,
// register-optional since an untouched value can as well start on the
// stack.
func (b *builder) emitEntryDefs(blk *ir.Block) {
	params := ir.NewVarSet(b.prog.NumVars())
	for _, op := range blk.Ops {
		if op.Kind == ir.OpParam {
			for _, d := range op.Defs {
				params.Set(d)
			}
		}
	}
	blk.LiveIn.ForEach(func(v ir.VarIndex) {
		if params.Has(v) {
			return
		}
		b.c.AddRefPosition(regalloc.RefPosition{
			Location:    b.loc,
			Type:        regalloc.RefTypeZeroInit,
			Interval:    b.interval(v),
			Register:    -1,
			Slot:        -1,
			RegOptional: true,
			Weight:      blk.Weight,
		})
	})
}

// emitDummyDefs placeholds values that are live into a block sequenced
// before any of its predecessors; they have no incoming location yet.
func (b *builder) emitDummyDefs(blk *ir.Block) {
	blk.LiveIn.ForEach(func(v ir.VarIndex) {
		b.c.AddRefPosition(regalloc.RefPosition{
			Location:    b.loc,
			Type:        regalloc.RefTypeDummyDef,
			Interval:    b.interval(v),
			Register:    -1,
			Slot:        -1,
			RegOptional: true,
			Weight:      blk.Weight,
		})
	})
}

func (b *builder) emitOp(blk *ir.Block, idx int, op *ir.Op, lastUse []bool, liveAcross ir.VarSet) {
	node := ir.NodeID{Block: blk.ID, Index: int32(idx)}
	readLoc, writeLoc := b.loc, b.loc+1

	for slot, v := range op.Uses {
		rp := regalloc.RefPosition{
			Location:     readLoc,
			Type:         regalloc.RefTypeUse,
			Interval:     b.interval(v),
			Register:     -1,
			Node:         node,
			HasNode:      true,
			Slot:         slot,
			Weight:       blk.Weight,
			LastUse:      lastUse[slot],
			DelayRegFree: op.RMW,
		}
		if slot < len(op.OptionalUses) && op.OptionalUses[slot] {
			rp.RegOptional = true
		}
		if slot < len(op.FixedUses) && op.FixedUses[slot].OnRegister() {
			r := int(op.FixedUses[slot])
			b.c.AddRefPosition(regalloc.RefPosition{
				Location:     readLoc,
				Type:         regalloc.RefTypeFixedReg,
				Register:     r,
				PinUntilKill: op.Kind == ir.OpCall,
			})
			rp.Candidates = machine.Bit(r)
			rp.IsFixedRegRef = true
		}
		b.c.AddRefPosition(rp)
	}

	// Internal temporaries are born after the reads and die at the write
	// location, overlapping neither the uses nor the defs.
	var temps []regalloc.IntervalID
	for ti := 0; ti < op.Temps; ti++ {
		tmp := b.c.NewInterval(regalloc.IntervalInternal, ir.NoVar, machine.ClassInt, ir.TypeInt)
		temps = append(temps, tmp)
		b.c.AddRefPosition(regalloc.RefPosition{
			Location: readLoc,
			Type:     regalloc.RefTypeDef,
			Interval: tmp,
			Register: -1,
			Node:     node,
			HasNode:  true,
			Slot:     ti,
			Weight:   blk.Weight,
		})
	}

	if op.Kind == ir.OpCall {
		b.emitCall(blk, node, writeLoc, liveAcross)
	}

	for ti, tmp := range temps {
		b.c.AddRefPosition(regalloc.RefPosition{
			Location: writeLoc,
			Type:     regalloc.RefTypeUse,
			Interval: tmp,
			Register: -1,
			Node:     node,
			HasNode:  true,
			Slot:     ti,
			Weight:   blk.Weight,
			LastUse:  true,
		})
	}

	for _, v := range op.Defs {
		refType := regalloc.RefTypeDef
		if op.Kind == ir.OpParam {
			refType = regalloc.RefTypeParamDef
		}
		rp := regalloc.RefPosition{
			Location: writeLoc,
			Type:     refType,
			Interval: b.interval(v),
			Register: -1,
			Node:     node,
			HasNode:  true,
			Slot:     -1,
			Weight:   blk.Weight,
		}
		if op.FixedDef.OnRegister() {
			r := int(op.FixedDef)
			b.c.AddRefPosition(regalloc.RefPosition{
				Location: writeLoc,
				Type:     regalloc.RefTypeFixedReg,
				Register: r,
			})
			rp.Candidates = machine.Bit(r)
			rp.IsFixedRegRef = true
		}
		b.c.AddRefPosition(rp)
	}

	// Restores of upper halves follow the kill and the defs.
	if op.Kind == ir.OpCall {
		liveAcross.ForEach(func(v ir.VarIndex) {
			if up, ok := b.upperHalf[v]; ok {
				b.c.AddRefPosition(regalloc.RefPosition{
					Location:    writeLoc,
					Type:        regalloc.RefTypeUse,
					Interval:    up,
					Register:    -1,
					Node:        node,
					HasNode:     true,
					Slot:        -1,
					RegOptional: true,
					Reload:      true,
					Weight:      blk.Weight,
				})
			}
		})
	}
}

// emitCall emits the caller-save kill and the upper-half saves of wide
// values live across the call. The saves land with the reads, before the
// kill; the restores are appended after the defs by emitOp.
func (b *builder) emitCall(blk *ir.Block, node ir.NodeID, writeLoc regalloc.Location, liveAcross ir.VarSet) {
	liveAcross.ForEach(func(v ir.VarIndex) {
		if up, ok := b.upperHalf[v]; ok {
			b.c.AddRefPosition(regalloc.RefPosition{
				Location:    writeLoc - 1,
				Type:        regalloc.RefTypeUse,
				Interval:    up,
				Register:    -1,
				Node:        node,
				HasNode:     true,
				Slot:        -1,
				RegOptional: true,
				SpillAfter:  true,
				Weight:      blk.Weight,
			})
		}
	})
	b.callLocs = append(b.callLocs, writeLoc)
	b.c.AddRefPosition(regalloc.RefPosition{
		Location: writeLoc,
		Type:     regalloc.RefTypeKill,
		Register: -1,
		KillMask: b.desc.CallerSaved(),
	})
}

// analyzeBlock runs one backward scan computing, per op, which use slots
// are the final in-block read of their variable, and which variables are
// live across the op (live both before and after it, not defined by it).
func analyzeBlock(blk *ir.Block) (lastUses [][]bool, liveAcross []ir.VarSet) {
	n := len(blk.Ops)
	lastUses = make([][]bool, n)
	liveAcross = make([]ir.VarSet, n)
	live := blk.LiveOut.Clone()
	for i := n - 1; i >= 0; i-- {
		op := blk.Ops[i]
		after := live.Clone()
		lastUses[i] = make([]bool, len(op.Uses))
		for slot, v := range op.Uses {
			if !live.Has(v) {
				lastUses[i][slot] = true
			}
		}
		for _, v := range op.Defs {
			live.Clear(v)
		}
		for _, v := range op.Uses {
			live.Set(v)
		}
		// Live across: in both the before and after pictures, and not
		// (re)defined here.
		across := after.Clone()
		for _, v := range op.Defs {
			across.Clear(v)
		}
		keep := ir.NewVarSet(0)
		across.ForEach(func(v ir.VarIndex) {
			if live.Has(v) {
				keep.Set(v)
			}
		})
		liveAcross[i] = keep
	}
	return lastUses, liveAcross
}

// setCalleeSavePreferences biases intervals that span a call toward
// callee-saved registers, avoiding a forced spill at every crossing.
func (b *builder) setCalleeSavePreferences() {
	for i := range b.c.Intervals {
		ivl := &b.c.Intervals[i]
		if ivl.First == regalloc.NoRefPosition || ivl.Kind != regalloc.IntervalVariable {
			continue
		}
		first := b.c.RefPositions[ivl.First].Location
		last := b.c.RefPositions[ivl.Last].Location
		for _, cl := range b.callLocs {
			if cl > first && cl < last {
				ivl.PreferCalleeSave = true
				break
			}
		}
	}
}
