package regstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/a235689741023/lsra/ir"
	"github.com/a235689741023/lsra/machine"
	"github.com/a235689741023/lsra/progtext"
	"github.com/a235689741023/lsra/regalloc"
)

func parse(t *testing.T, desc *machine.Description, src string) *ir.Program {
	t.Helper()
	p, err := progtext.Parse(src, desc)
	require.NoError(t, err)
	return p
}

func TestBuild_StreamShape(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		block 0
		  param v0
		  add v1 = v0
		  ret v1
	`)
	c := Build(prog, desc)

	require.NotEmpty(t, c.RefPositions)
	require.Equal(t, regalloc.RefTypeBB, c.RefPositions[0].Type)

	// Locations are monotone; uses land on even locations, defs on odd.
	prev := regalloc.Location(0)
	for i := range c.RefPositions {
		rp := &c.RefPositions[i]
		require.GreaterOrEqual(t, rp.Location, prev, "refposition %d", i)
		prev = rp.Location
		switch rp.Type {
		case regalloc.RefTypeUse:
			require.Zero(t, rp.Location%2, "use at odd location: %s", rp)
		case regalloc.RefTypeDef, regalloc.RefTypeParamDef:
			require.Equal(t, regalloc.Location(1), rp.Location%2, "def at even location: %s", rp)
		}
	}

	// One interval per variable, chained first to last.
	require.Len(t, c.Intervals, 2)
	for i := range c.Intervals {
		ivl := &c.Intervals[i]
		require.NotEqual(t, regalloc.NoRefPosition, ivl.First)
		require.Equal(t, regalloc.NoRefPosition, c.RefPositions[ivl.Last].Next)
	}

	// The param materializes as a ParamDef, not a ZeroInit.
	types := refTypes(c)
	require.Contains(t, types, regalloc.RefTypeParamDef)
	require.NotContains(t, types, regalloc.RefTypeZeroInit)
}

func refTypes(c *regalloc.Context) []regalloc.RefType {
	var ts []regalloc.RefType
	for i := range c.RefPositions {
		ts = append(ts, c.RefPositions[i].Type)
	}
	return ts
}

func TestBuild_CallKillsCallerSaved(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		block 0
		  param v0
		  call f v1 = v0
		  ret v1
	`)
	c := Build(prog, desc)

	var kills []*regalloc.RefPosition
	for i := range c.RefPositions {
		if c.RefPositions[i].Type == regalloc.RefTypeKill {
			kills = append(kills, &c.RefPositions[i])
		}
	}
	require.Len(t, kills, 1)
	require.Equal(t, desc.CallerSaved(), kills[0].KillMask)
	// The kill sits at the call's write location, after its reads.
	require.Equal(t, regalloc.Location(1), kills[0].Location%2)
}

func TestBuild_FixedUseEmitsPin(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		block 0
		  param v0
		  div v1 = v0@AX
		  ret v1
	`)
	c := Build(prog, desc)

	var pin, use *regalloc.RefPosition
	for i := range c.RefPositions {
		rp := &c.RefPositions[i]
		switch {
		case rp.Type == regalloc.RefTypeFixedReg:
			pin = rp
		case rp.Type == regalloc.RefTypeUse && rp.IsFixedRegRef:
			use = rp
		}
	}
	require.NotNil(t, pin)
	require.NotNil(t, use)
	require.Equal(t, 0, pin.Register) // AX
	require.Equal(t, pin.Location, use.Location)
	require.Equal(t, machine.Bit(0), use.Candidates)
}

func TestBuild_ExposedUsesAtBlockEnd(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		block 0
		  param v0
		  branch 1
		block 1
		  ret v0
	`)
	c := Build(prog, desc)

	found := false
	for i := range c.RefPositions {
		rp := &c.RefPositions[i]
		if rp.Type == regalloc.RefTypeExposedUse {
			found = true
			require.Equal(t, c.IntervalForVar(0), rp.Interval)
		}
	}
	require.True(t, found, "live-out value had no exposed use")
}

func TestBuild_WideVarGetsUpperHalfInterval(t *testing.T) {
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
	c := Build(prog, desc)

	var upper *regalloc.Interval
	for i := range c.Intervals {
		if c.Intervals[i].Kind == regalloc.IntervalUpperHalf {
			upper = &c.Intervals[i]
		}
	}
	require.NotNil(t, upper)
	require.Equal(t, machine.ClassFloat, upper.Class)
	require.Equal(t, c.IntervalForVar(0), upper.Related)

	// v0 is live across the call: the upper half gets a save reference
	// before the kill and a restore after it.
	var save, restore *regalloc.RefPosition
	for i := range c.RefPositions {
		rp := &c.RefPositions[i]
		if rp.Interval != upper.ID {
			continue
		}
		if rp.SpillAfter {
			save = rp
		} else if rp.Reload {
			restore = rp
		}
	}
	require.NotNil(t, save)
	require.NotNil(t, restore)
	require.True(t, save.RegOptional)
	require.Less(t, save.Location, restore.Location)
}

func TestBuild_WideShapeDispatch(t *testing.T) {
	regs := []machine.Register{
		{Name: "A", Kind: machine.ClassInt},
		{Name: "B", Kind: machine.ClassInt},
		{Name: "F0", Kind: machine.ClassFloat},
		{Name: "F1", Kind: machine.ClassFloat},
		{Name: "F2", Kind: machine.ClassFloat},
		{Name: "F3", Kind: machine.ClassFloat},
	}
	src := `
		var v0 vector wide
		block 0
		  param v0
		  ret v0
	`
	build := func(shape machine.Shape) *regalloc.Context {
		d, err := machine.New("shaped", regs, 0, 0, false, shape)
		require.NoError(t, err)
		return Build(parse(t, d, src), d)
	}
	upperHalves := func(c *regalloc.Context) int {
		n := 0
		for i := range c.Intervals {
			if c.Intervals[i].Kind == regalloc.IntervalUpperHalf {
				n++
			}
		}
		return n
	}

	// A paired target wants an aligned even/odd pair, no extra interval.
	c := build(machine.ShapePair)
	require.True(t, c.Intervals[c.IntervalForVar(0)].IsPair)
	require.Zero(t, upperHalves(c))

	// A single-register target has nothing to split or pair.
	c = build(machine.ShapeSingle)
	require.False(t, c.Intervals[c.IntervalForVar(0)].IsPair)
	require.Zero(t, upperHalves(c))

	// Wide registers whose upper half dies at calls track that half apart.
	c = build(machine.ShapeWideUpperSave)
	require.False(t, c.Intervals[c.IntervalForVar(0)].IsPair)
	require.Equal(t, 1, upperHalves(c))
}

func TestBuild_InternalTempRefs(t *testing.T) {
	desc := machine.AMD64()
	prog := parse(t, desc, `
		var v0 int
		var v1 int
		block 0
		  param v0
		  mul v1 = v0 tmp tmp
		  ret v1
	`)
	c := Build(prog, desc)

	operandIdx := -1
	var defIdx, useIdx []int
	for i := range c.RefPositions {
		rp := &c.RefPositions[i]
		if rp.Type != regalloc.RefTypeDef && rp.Type != regalloc.RefTypeUse {
			continue
		}
		if c.Intervals[rp.Interval].Kind != regalloc.IntervalInternal {
			if rp.Type == regalloc.RefTypeUse && rp.Interval == c.IntervalForVar(0) {
				operandIdx = i
			}
			continue
		}
		if rp.Type == regalloc.RefTypeDef {
			defIdx = append(defIdx, i)
		} else {
			useIdx = append(useIdx, i)
		}
	}
	require.Len(t, defIdx, 2)
	require.Len(t, useIdx, 2)

	// Temps are born with the reads, after the operands, and die at the
	// write location before the result is placed.
	readLoc := c.RefPositions[defIdx[0]].Location
	require.Zero(t, readLoc%2)
	require.Greater(t, defIdx[0], operandIdx)
	for i, idx := range defIdx {
		rp := &c.RefPositions[idx]
		require.Equal(t, readLoc, rp.Location)
		require.Equal(t, i, rp.Slot)
		require.True(t, rp.HasNode)
	}
	for i, idx := range useIdx {
		rp := &c.RefPositions[idx]
		require.Equal(t, readLoc+1, rp.Location)
		require.Equal(t, i, rp.Slot)
		require.True(t, rp.LastUse)
	}
}

func TestBuild_CalleeSavePreference(t *testing.T) {
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
	c := Build(prog, desc)

	// v0 spans the call, v1 is born after it.
	require.True(t, c.Intervals[c.IntervalForVar(0)].PreferCalleeSave)
	require.False(t, c.Intervals[c.IntervalForVar(1)].PreferCalleeSave)
}
