package regstream

import "github.com/a235689741023/lsra/ir"

// ComputeLiveness fills every block's LiveIn/LiveOut by iterative backward
// dataflow: liveIn = use ∪ (liveOut − def), liveOut = ∪ liveIn(succ).
// The iteration runs blocks in reverse layout order, which converges in a
// handful of passes on reducible control flow.
func ComputeLiveness(prog *ir.Program) {
	n := len(prog.Blocks)
	use := make([]ir.VarSet, n)
	def := make([]ir.VarSet, n)
	for i, b := range prog.Blocks {
		use[i] = ir.NewVarSet(prog.NumVars())
		def[i] = ir.NewVarSet(prog.NumVars())
		for _, op := range b.Ops {
			for _, v := range op.Uses {
				if !def[i].Has(v) {
					use[i].Set(v)
				}
			}
			for _, v := range op.Defs {
				def[i].Set(v)
			}
		}
		b.LiveIn = ir.NewVarSet(prog.NumVars())
		b.LiveOut = ir.NewVarSet(prog.NumVars())
	}

	for changed := true; changed; {
		changed = false
		for i := n - 1; i >= 0; i-- {
			b := prog.Blocks[i]
			out := ir.NewVarSet(prog.NumVars())
			for _, s := range b.Succs {
				out.UnionWith(prog.Block(s).LiveIn)
			}
			in := out.Clone()
			in.DifferenceWith(def[i])
			in.UnionWith(use[i])
			if b.LiveOut.UnionWith(out) {
				changed = true
			}
			if b.LiveIn.UnionWith(in) {
				changed = true
			}
		}
	}
}
