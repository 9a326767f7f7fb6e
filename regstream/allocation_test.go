package regstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/a235689741023/lsra/ir"
	"github.com/a235689741023/lsra/machine"
	"github.com/a235689741023/lsra/regalloc"
)

// tinyDesc is a two-register integer machine, the cheapest way to force
// register pressure.
func tinyDesc(t *testing.T, nInt int, canSwap bool) *machine.Description {
	t.Helper()
	var regs []machine.Register
	for i := 0; i < nInt; i++ {
		regs = append(regs, machine.Register{Name: string(rune('A' + i)), Kind: machine.ClassInt})
	}
	d, err := machine.New("tiny", regs, 0, 0, canSwap, machine.ShapeSingle)
	require.NoError(t, err)
	return d
}

func opByPayload(t *testing.T, prog *ir.Program, payload string) *ir.Op {
	t.Helper()
	for _, b := range prog.Blocks {
		for _, op := range b.Ops {
			if op.Payload == payload {
				return op
			}
		}
	}
	t.Fatalf("no op with payload %q", payload)
	return nil
}

func TestAllocate_NoPressure(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		var v2 int
		block 0
		  param v0
		  param v1
		  add v2 = v0 v1
		  ret v2
	`)
	res := Build(prog, desc).Allocate()

	require.Equal(t, [ir.NumTypeCategories]int{}, res.MaxSpill)
	require.Equal(t, []ir.BlockID{0}, res.BlockSeq)

	add := opByPayload(t, prog, "add")
	require.True(t, add.DefLoc.OnRegister())
	require.True(t, add.UseLocs[0].OnRegister())
	require.True(t, add.UseLocs[1].OnRegister())
	require.False(t, add.SpillDef)

	// Two live values, distinct registers.
	require.NotEqual(t, add.UseLocs[0], add.UseLocs[1])
}

func TestAllocate_SpillAndReload(t *testing.T) {
	desc := tinyDesc(t, 2, false)
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		var v2 int
		block 0
		  a v0 =
		  b v1 =
		  c v2 = v0 v1
		  d v1 = v1 v2
		  e v0 = v0 v1
		  ret v0
	`)
	res := Build(prog, desc).Allocate()

	// Three values cannot share two registers: exactly one spill slot.
	require.Equal(t, 1, res.MaxSpill[ir.TypeInt])
	require.Zero(t, res.MaxSpill[ir.TypeFloat])

	// The spilled value comes back through a reload at its next use.
	e := opByPayload(t, prog, "e")
	require.True(t, e.ReloadUses[0], "v0 should reload at e")
	require.True(t, e.UseLocs[0].OnRegister())

	// The spill itself materialized as a store pseudo-op.
	stores := 0
	for _, op := range prog.Blocks[0].Ops {
		if op.Kind == ir.OpSpillStore {
			stores++
			require.Equal(t, ir.VarIndex(0), op.MoveVar)
		}
	}
	require.Equal(t, 1, stores)
}

func TestAllocate_FixedUsePinned(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		var v2 int
		block 0
		  param v0
		  param v1
		  div v2 = v0@AX v1
		  ret v2
	`)
	Build(prog, desc).Allocate()

	div := opByPayload(t, prog, "div")
	require.Equal(t, ir.Loc(0), div.UseLocs[0]) // AX
}

func TestAllocate_ValueSurvivesCall(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		block 0
		  param v0
		  call f v1 =
		  add v1 = v1 v0
		  ret v1
	`)
	Build(prog, desc).Allocate()

	add := opByPayload(t, prog, "add")
	v0loc := add.UseLocs[1]
	require.True(t, v0loc.OnRegister())
	if !add.ReloadUses[1] {
		// Not reloaded: the value must have crossed the call in a register
		// the call does not clobber.
		require.True(t, desc.CalleeSaved.Has(int(v0loc)),
			"v0 crossed a call in caller-saved %s without a reload", desc.RegName(int(v0loc)))
	}
}

func TestAllocate_RegOptionalStaysInMemory(t *testing.T) {
	desc := tinyDesc(t, 2, false)
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		var v2 int
		block 0
		  a v0 =
		  b v1 =
		  c v2 = v1
		  e v1 = v2 v1 v0?
	`)
	Build(prog, desc).Allocate()

	// v0 is the cheapest occupant and gets evicted at c; with both
	// registers busy at e, its optional use is folded into memory.
	a := opByPayload(t, prog, "a")
	require.True(t, a.SpillDef, "evicted value should spill at its def")
	e := opByPayload(t, prog, "e")
	require.True(t, e.MemOperand[2])
	require.Equal(t, ir.LocStack, e.UseLocs[2])
	require.False(t, e.ReloadUses[2])
}

func TestAllocate_BlockBoundaryRotationResolved(t *testing.T) {
	// Rotating every register choice at block entry forces location
	// mismatches on the edge; resolution must repair them (the debug-mode
	// audit panics if it does not).
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		block 0
		  param v0
		  param v1
		  branch 1
		block 1
		  add v0 = v0 v1
		  ret v0
	`)
	c := Build(prog, desc)
	c.Stress = regalloc.StressConfig{RotateBlockBoundary: 1}
	c.Allocate()

	moves := 0
	for _, b := range prog.Blocks {
		for _, op := range b.Ops {
			switch op.Kind {
			case ir.OpCopy, ir.OpSwap, ir.OpSpillStore, ir.OpReload:
				moves++
			}
		}
	}
	require.NotZero(t, moves, "rotation should force resolution moves")
}

func TestAllocate_LimitRegsStress(t *testing.T) {
	// Confining allocation to AX and CX on a three-way live range forces
	// the same spill the tiny target does.
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		var v2 int
		block 0
		  a v0 =
		  b v1 =
		  c v2 = v0 v1
		  d v1 = v1 v2
		  e v0 = v0 v1
		  ret v0
	`)
	c := Build(prog, desc)
	c.Stress = regalloc.StressConfig{LimitRegs: machine.Bit(0) | machine.Bit(1)}
	res := c.Allocate()
	require.Equal(t, 1, res.MaxSpill[ir.TypeInt])
}

func TestAllocate_Deterministic(t *testing.T) {
	src := `
		var v0 int
		var v1 int
		var v2 int
		block 0 weight 1
		  param v0
		  param v1
		  branch 1
		block 1 weight 8
		  add v2 = v0 v1
		  call f v1 = v2
		  branch 1 2
		block 2 weight 1
		  ret v1
	`
	desc := machine.AMD64()
	run := func() []ir.Loc {
		prog := parse(t, desc, src)
		c := Build(prog, desc)
		c.Allocate()
		var locs []ir.Loc
		for i := range c.RefPositions {
			locs = append(locs, c.RefPositions[i].Assignment)
		}
		return locs
	}
	require.Equal(t, run(), run())
}

func TestAllocate_TwicePanics(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		block 0
		  param v0
		  ret v0
	`)
	c := Build(prog, desc)
	c.Allocate()
	require.Panics(t, func() { c.Allocate() })
}

func TestAllocate_LoopCarriedValue(t *testing.T) {
	// A value defined before a loop and accumulated inside it must hold a
	// consistent location around the back edge.
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		block 0
		  param v0
		  param v1
		  branch 1
		block 1 weight 16
		  add v0 = v0 v1
		  branch 1 2
		block 2
		  ret v0
	`)
	res := Build(prog, desc).Allocate()
	require.Equal(t, [ir.NumTypeCategories]int{}, res.MaxSpill)

	add := opByPayload(t, prog, "add")
	require.True(t, add.DefLoc.OnRegister())
	require.Equal(t, add.UseLocs[0], add.DefLoc)
}

func TestAllocate_WideValueSavedAcrossCall(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 vector wide
		var v1 int
		block 0
		  param v0
		  param v1
		  call f v1 = v1
		  use v0 v1
	`)
	res := Build(prog, desc).Allocate()

	// No float register survives a SysV call: the canonical half of v0 is
	// spilled by the kill, and the upper half stores to its own slot before
	// the call. Both slots are occupied at once.
	require.Equal(t, 2, res.MaxSpill[ir.TypeVector])
}

// floatDesc is a six-register file with four floats, shaped as requested;
// calleeSaved picks from the float half to let wide values survive calls.
func floatDesc(t *testing.T, shape machine.Shape, calleeSaved machine.RegMask) *machine.Description {
	t.Helper()
	regs := []machine.Register{
		{Name: "A", Kind: machine.ClassInt},
		{Name: "B", Kind: machine.ClassInt},
		{Name: "F0", Kind: machine.ClassFloat},
		{Name: "F1", Kind: machine.ClassFloat},
		{Name: "F2", Kind: machine.ClassFloat},
		{Name: "F3", Kind: machine.ClassFloat},
	}
	d, err := machine.New("floaty", regs, calleeSaved, 0, false, shape)
	require.NoError(t, err)
	return d
}

func TestAllocate_UpperHalfSaveRestoreOps(t *testing.T) {
	// With callee-saved floats the canonical half of v0 sits out the call in
	// place; only the upper half travels through memory, as a store before
	// the call and a reload after it, both against the wide register.
	desc := floatDesc(t, machine.ShapeWideUpperSave, machine.Bit(4)|machine.Bit(5))
	prog := parse(t, desc, `
		var v0 vector wide
		var v1 int
		block 0
		  param v0
		  param v1
		  call f v1 = v1
		  use v0 v1
	`)
	Build(prog, desc).Allocate()

	callIdx, storeIdx, reloadIdx := -1, -1, -1
	var store, reload *ir.Op
	for i, op := range prog.Blocks[0].Ops {
		switch {
		case op.Kind == ir.OpCall:
			callIdx = i
		case op.Kind == ir.OpSpillStore && op.MoveVar == 0:
			storeIdx, store = i, op
		case op.Kind == ir.OpReload && op.MoveVar == 0:
			reloadIdx, reload = i, op
		}
	}
	require.NotNil(t, store, "upper half never stored")
	require.NotNil(t, reload, "upper half never reloaded")
	require.Less(t, storeIdx, callIdx)
	require.Greater(t, reloadIdx, callIdx)

	require.True(t, store.From.OnRegister())
	require.Equal(t, store.From, reload.To)
	require.Equal(t, ir.LocStack, store.To)
	require.True(t, desc.CalleeSaved.Has(int(store.From)))
}

func TestAllocate_PairRegisters(t *testing.T) {
	// The wide value claims an aligned even/odd pair; concurrent narrow
	// floats stay clear of both halves.
	desc := floatDesc(t, machine.ShapePair, 0)
	prog := parse(t, desc, `
		var v0 vector wide
		var v1 float
		var v2 float
		block 0
		  param v0
		  param v1
		  param v2
		  use v0 v1 v2
	`)
	res := Build(prog, desc).Allocate()
	require.Equal(t, [ir.NumTypeCategories]int{}, res.MaxSpill)

	use := opByPayload(t, prog, "use")
	lo := use.UseLocs[0]
	require.True(t, desc.PairAllocatable(machine.ClassFloat).Has(int(lo)))
	for _, other := range use.UseLocs[1:] {
		require.True(t, other.OnRegister())
		require.NotEqual(t, lo, other)
		require.NotEqual(t, lo+1, other, "narrow value landed on the pair's upper half")
	}
}

func TestAllocate_PairEvictsAndFreesBothHalves(t *testing.T) {
	// Only one float pair exists: the narrow occupant of its low half must
	// vacate for the wide def, and once the wide value dies both halves
	// come back for the reload.
	regs := []machine.Register{
		{Name: "A", Kind: machine.ClassInt},
		{Name: "B", Kind: machine.ClassInt},
		{Name: "F0", Kind: machine.ClassFloat},
		{Name: "F1", Kind: machine.ClassFloat},
	}
	desc, err := machine.New("onepair", regs, 0, 0, false, machine.ShapePair)
	require.NoError(t, err)
	prog := parse(t, desc, `
		var v0 vector wide
		var v1 float
		block 0
		  a v1 =
		  b v0 =
		  c v0
		  d v1
	`)
	res := Build(prog, desc).Allocate()
	require.Equal(t, 1, res.MaxSpill[ir.TypeFloat])

	a := opByPayload(t, prog, "a")
	require.True(t, a.SpillDef, "evicted narrow value should spill at its def")
	b := opByPayload(t, prog, "b")
	require.True(t, desc.PairAllocatable(machine.ClassFloat).Has(int(b.DefLoc)))
	c := opByPayload(t, prog, "c")
	require.Equal(t, b.DefLoc, c.UseLocs[0])
	d := opByPayload(t, prog, "d")
	require.True(t, d.ReloadUses[0], "v1 should reload once the pair is gone")
	require.True(t, d.UseLocs[0].OnRegister())
}

func TestAllocate_InternalTempScratch(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		var v2 int
		block 0
		  param v0
		  param v1
		  mul v2 = v0 v1 tmp
		  ret v2
	`)
	Build(prog, desc).Allocate()

	mul := opByPayload(t, prog, "mul")
	require.Len(t, mul.TempLocs, 1)
	tr := mul.TempLocs[0]
	require.True(t, tr.OnRegister())
	// The scratch overlaps neither the operands nor the result.
	require.NotEqual(t, tr, mul.UseLocs[0])
	require.NotEqual(t, tr, mul.UseLocs[1])
	require.NotEqual(t, tr, mul.DefLoc)
}

func TestAllocate_CallArgumentPin(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		block 0
		  param v0
		  call f v1 = v0@DI
		  ret v1
	`)
	Build(prog, desc).Allocate()

	call := opByPayload(t, prog, "f")
	require.Equal(t, ir.Loc(5), call.UseLocs[0]) // DI

	// The argument moves into place with a transient copy; the pinned
	// register was held for it despite being otherwise unoccupied.
	copies := 0
	for _, op := range prog.Blocks[0].Ops {
		if op.Kind == ir.OpCopy && op.To == ir.Loc(5) {
			copies++
		}
	}
	require.Equal(t, 1, copies)
}
