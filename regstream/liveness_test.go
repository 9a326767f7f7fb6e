package regstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/a235689741023/lsra/ir"
)

func TestComputeLiveness_StraightLine(t *testing.T) {
	p := ir.NewProgram(2)
	b := p.AddBlock()
	b.Ops = []*ir.Op{
		ir.NewOp(ir.OpNormal, "a", []ir.VarIndex{0}, nil),
		ir.NewOp(ir.OpNormal, "b", []ir.VarIndex{1}, []ir.VarIndex{0}),
	}
	ComputeLiveness(p)
	require.Equal(t, 0, b.LiveIn.Count())
	require.Equal(t, 0, b.LiveOut.Count())
}

func TestComputeLiveness_AcrossBlocks(t *testing.T) {
	p := ir.NewProgram(2)
	b0, b1 := p.AddBlock(), p.AddBlock()
	p.AddEdge(b0, b1)
	b0.Ops = []*ir.Op{ir.NewOp(ir.OpNormal, "a", []ir.VarIndex{0}, nil)}
	b1.Ops = []*ir.Op{ir.NewOp(ir.OpNormal, "b", []ir.VarIndex{1}, []ir.VarIndex{0})}

	ComputeLiveness(p)
	require.True(t, b0.LiveOut.Has(0))
	require.True(t, b1.LiveIn.Has(0))
	require.False(t, b1.LiveOut.Has(1))
}

func TestComputeLiveness_LoopCarried(t *testing.T) {
	// v0 defined before the loop, used and redefined inside it: live around
	// the back edge. v1 defined and used only inside one iteration.
	p := ir.NewProgram(2)
	b0, b1, b2 := p.AddBlock(), p.AddBlock(), p.AddBlock()
	p.AddEdge(b0, b1)
	p.AddEdge(b1, b1)
	p.AddEdge(b1, b2)
	b0.Ops = []*ir.Op{ir.NewOp(ir.OpNormal, "init", []ir.VarIndex{0}, nil)}
	b1.Ops = []*ir.Op{
		ir.NewOp(ir.OpNormal, "tmp", []ir.VarIndex{1}, []ir.VarIndex{0}),
		ir.NewOp(ir.OpNormal, "step", []ir.VarIndex{0}, []ir.VarIndex{1}),
	}
	b2.Ops = []*ir.Op{ir.NewOp(ir.OpNormal, "use", nil, []ir.VarIndex{0})}

	ComputeLiveness(p)
	require.True(t, b1.LiveIn.Has(0))
	require.True(t, b1.LiveOut.Has(0))
	require.False(t, b1.LiveIn.Has(1))
	require.False(t, b1.LiveOut.Has(1))
	require.True(t, b2.LiveIn.Has(0))
}

func TestComputeLiveness_UseBeforeDefInBlock(t *testing.T) {
	// A use preceding a redefinition of the same variable keeps it live-in.
	p := ir.NewProgram(1)
	b0, b1 := p.AddBlock(), p.AddBlock()
	p.AddEdge(b0, b1)
	b0.Ops = []*ir.Op{ir.NewOp(ir.OpNormal, "a", []ir.VarIndex{0}, nil)}
	b1.Ops = []*ir.Op{ir.NewOp(ir.OpNormal, "b", []ir.VarIndex{0}, []ir.VarIndex{0})}
	ComputeLiveness(p)
	require.True(t, b1.LiveIn.Has(0))
}

func TestAnalyzeBlock(t *testing.T) {
	p := ir.NewProgram(3)
	b := p.AddBlock()
	b.Ops = []*ir.Op{
		ir.NewOp(ir.OpNormal, "a", []ir.VarIndex{1}, []ir.VarIndex{0}), // v0 used again below
		ir.NewOp(ir.OpCall, "f", []ir.VarIndex{2}, []ir.VarIndex{1}),
		ir.NewOp(ir.OpNormal, "c", nil, []ir.VarIndex{0, 2}),
	}
	ComputeLiveness(p)
	lastUses, liveAcross := analyzeBlock(b)

	require.Equal(t, []bool{false}, lastUses[0]) // v0 read again at op 2
	require.Equal(t, []bool{true}, lastUses[1])  // final read of v1
	require.Equal(t, []bool{true, true}, lastUses[2])

	// v0 is live across the call; v1 dies at it and v2 is defined by it.
	require.True(t, liveAcross[1].Has(0))
	require.False(t, liveAcross[1].Has(1))
	require.False(t, liveAcross[1].Has(2))
}
