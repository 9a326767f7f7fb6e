package regalloc

import (
	"sort"

	"github.com/a235689741023/lsra/ir"
)

// sequenceBlocks fixes the allocation traversal order. Blocks are visited
// predecessor-first whenever the CFG allows it, so that a block's incoming
// register picture usually matches the out-map it is seeded from. Among
// ready blocks, ones with every predecessor already sequenced come first,
// then heavier blocks, then lower block numbers. Blocks never reached
// through successor links (retained-unreachable blocks, handlers) are swept
// in layout order at the end.
func (c *Context) sequenceBlocks() {
	if len(c.Prog.Blocks) == 0 {
		return
	}
	sequenced := map[ir.BlockID]bool{}
	inReady := map[ir.BlockID]bool{}
	var ready []*ir.Block

	push := func(b *ir.Block) {
		if sequenced[b.ID] || inReady[b.ID] {
			return
		}
		inReady[b.ID] = true
		ready = append(ready, b)
	}

	allPredsSequenced := func(b *ir.Block) bool {
		for _, p := range b.Preds {
			if !sequenced[p] {
				return false
			}
		}
		return true
	}

	take := func() *ir.Block {
		best := -1
		for i, b := range ready {
			if best < 0 {
				best = i
				continue
			}
			bb, cur := b, ready[best]
			bp, cp := allPredsSequenced(bb), allPredsSequenced(cur)
			switch {
			case bp != cp:
				if bp {
					best = i
				}
			case bb.Weight != cur.Weight:
				if bb.Weight > cur.Weight {
					best = i
				}
			case bb.ID < cur.ID:
				best = i
			}
		}
		b := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		delete(inReady, b.ID)
		return b
	}

	sequence := func(b *ir.Block) {
		sequenced[b.ID] = true
		c.BlockSeq = append(c.BlockSeq, b.ID)
		// The sequenced predecessor with the highest weight donates its
		// out-map at allocation time.
		bestPred := ir.BlockID(-1)
		var bestW float64
		for _, p := range b.Preds {
			if !sequenced[p] || p == b.ID {
				continue
			}
			pb := c.block(p)
			if bestPred < 0 || pb.Weight > bestW || (pb.Weight == bestW && p < bestPred) {
				bestPred, bestW = p, pb.Weight
			}
		}
		if bestPred >= 0 {
			c.SeqPred[b.ID] = bestPred
		}
		for _, s := range b.Succs {
			push(c.block(s))
		}
	}

	push(c.Prog.Blocks[0])
	for len(ready) > 0 {
		sequence(take())
	}

	// Sweep anything unreached, in layout order.
	var rest []*ir.Block
	for _, b := range c.Prog.Blocks {
		if !sequenced[b.ID] {
			rest = append(rest, b)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].ID < rest[j].ID })
	for len(rest) > 0 {
		b := rest[0]
		rest = rest[1:]
		if sequenced[b.ID] {
			continue
		}
		sequence(b)
		for len(ready) > 0 {
			sequence(take())
		}
	}
}
