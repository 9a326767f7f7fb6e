package regalloc

import (
	"fmt"

	"github.com/a235689741023/lsra/buildoptions"
	"github.com/a235689741023/lsra/ir"
	"github.com/a235689741023/lsra/machine"
)

// Free-register scoring. Bits are summed per candidate; a higher total wins.
// Order of significance follows the payoff: a constant still sitting in the
// register costs nothing to adopt, coverage means the register stays ours
// for the interval's whole remaining range, preference membership avoids a
// move, callee-saved fit avoids cross-call spills, and an unassigned
// register disturbs nobody's history.
const (
	scoreConstAvailable  = 1 << 6
	scoreOwnCoverage     = 1 << 5
	scoreOwnPreference   = 1 << 4
	scoreRelatedCoverage = 1 << 3
	scoreRelatedPref     = 1 << 2
	scoreCalleeSaveFit   = 1 << 1
	scoreUnassigned      = 1 << 0
)

// allocateRegisters is the single in-order pass over the refposition
// stream. It only ever writes Assignment and the decision flags; the
// stream itself is never reordered.
func (c *Context) allocateRegisters() {
	c.resetRegisters()
	for i := range c.Intervals {
		ivl := &c.Intervals[i]
		ivl.PhysReg = noReg
		ivl.AssignedReg = noReg
		ivl.IsActive = false
		ivl.IsSpilled = false
		ivl.IsSplit = false
		ivl.Recent = NoRefPosition
	}

	currentLoc := Location(0)
	c.curBlock = -1
	var regsToFree, delayedRegsToFree machine.RegMask

	for id := range c.RefPositions {
		rp := &c.RefPositions[id]
		if rp.Location > currentLoc {
			c.freeRegisterMask(regsToFree)
			regsToFree, delayedRegsToFree = delayedRegsToFree, 0
			if rp.Location > currentLoc+1 {
				c.freeRegisterMask(regsToFree)
				regsToFree = 0
			}
			currentLoc = rp.Location
		}

		switch rp.Type {
		case RefTypeBB:
			c.freeRegisterMask(regsToFree | delayedRegsToFree)
			regsToFree, delayedRegsToFree = 0, 0
			c.processBlockBoundary(rp)
		case RefTypeKill:
			c.processKill(rp)
		case RefTypeFixedReg:
			c.processFixedReg(RefPositionID(id), rp)
		default:
			freed, delayed := c.allocateIntervalRef(RefPositionID(id), rp)
			regsToFree |= freed
			delayedRegsToFree |= delayed
		}
	}

	c.freeRegisterMask(regsToFree | delayedRegsToFree)
	if c.curBlock >= 0 {
		c.snapshotOutMap(c.curBlock)
	}
}

func (c *Context) freeRegisterMask(m machine.RegMask) {
	m.ForEach(func(r int) { c.freeReg(r) })
}

// processBlockBoundary finalizes the block the scan is leaving and seeds
// the entered block's incoming picture from its sequenced predecessor.
func (c *Context) processBlockBoundary(rp *RefPosition) {
	if c.curBlock >= 0 {
		c.snapshotOutMap(c.curBlock)
	}
	c.curBlock = rp.Block
	b := c.block(rp.Block)

	in := newVarToRegMap(c.Prog.NumVars())
	predOut, havePred := VarToRegMap(nil), false
	if pred, ok := c.SeqPred[b.ID]; ok {
		predOut, havePred = c.OutMaps[pred], true
		if buildoptions.IsDebugMode && predOut == nil {
			panic(fmt.Sprintf("regalloc: bb%d sequenced before its chosen predecessor bb%d", b.ID, pred))
		}
	}
	b.LiveIn.ForEach(func(v ir.VarIndex) {
		loc := ir.LocStack
		if havePred {
			loc = predOut[v]
		}
		if loc.OnRegister() {
			loc = ir.Loc(c.Stress.rotateReg(c.Desc, int(loc)))
			if iid := c.IntervalForVar(v); iid != NoInterval {
				if ivl := c.interval(iid); ivl.IsPair && !c.Desc.PairAllocatable(ivl.Class).Has(int(loc)) {
					// Rotation broke the pair alignment; fall back to the
					// stack and let the next use reload.
					loc = ir.LocStack
				}
			}
		}
		in[v] = loc
	})
	c.InMaps[b.ID] = in
	c.tracef("block start", logFields{"block": b.ID, "in": in})

	// Rebuild register state from the incoming map.
	for r := range c.Records {
		c.freeReg(r)
		c.Records[r].IsBusyUntilNextKill = false
	}
	b.LiveIn.ForEach(func(v ir.VarIndex) {
		id := c.IntervalForVar(v)
		if id == NoInterval {
			return
		}
		ivl := c.interval(id)
		if loc := in[v]; loc.OnRegister() {
			c.assignReg(ivl, int(loc))
			ivl.IsSpilled = false
		} else {
			ivl.PhysReg = noReg
			ivl.AssignedReg = noReg
			ivl.IsActive = false
			ivl.IsSpilled = true
		}
	})
}

// snapshotOutMap freezes the outgoing contract of a finished block.
func (c *Context) snapshotOutMap(id ir.BlockID) {
	b := c.block(id)
	out := newVarToRegMap(c.Prog.NumVars())
	b.LiveOut.ForEach(func(v ir.VarIndex) {
		out[v] = ir.LocStack
		if iid := c.IntervalForVar(v); iid != NoInterval {
			if ivl := c.interval(iid); ivl.IsActive && ivl.PhysReg != noReg {
				out[v] = ir.Loc(ivl.PhysReg)
			}
		}
	})
	c.OutMaps[id] = out
	c.tracef("block end", logFields{"block": id, "out": out})
}

// processKill clobbers the kill set: occupants are spilled, calling
// convention pins end here.
func (c *Context) processKill(rp *RefPosition) {
	rp.KillMask.ForEach(func(r int) {
		rec := &c.Records[r]
		rec.IsBusyUntilNextKill = false
		if rec.Assigned != NoInterval {
			c.unassignReg(r, true)
		}
		c.consumeFixedRef(r, rp.Location)
	})
}

// processFixedReg applies a literal-register pin: any occupant whose next
// reference is not this very location gets spilled out of the way.
func (c *Context) processFixedReg(id RefPositionID, rp *RefPosition) {
	rec := &c.Records[rp.Register]
	rec.Recent = id
	if rec.Assigned != NoInterval {
		occ := c.interval(rec.Assigned)
		if c.nextRefLocation(occ) != rp.Location {
			c.unassignReg(rp.Register, true)
		}
	}
	if rp.PinUntilKill {
		rec.IsBusyUntilNextKill = true
	}
	c.consumeFixedRef(rp.Register, rp.Location)
}

// allocateIntervalRef decides one def or use. It returns the registers to
// free once the scan leaves this location, and those freed one location
// later (delayRegFree).
func (c *Context) allocateIntervalRef(id RefPositionID, rp *RefPosition) (freed, delayed machine.RegMask) {
	ivl := c.interval(rp.Interval)
	defer func() { ivl.Recent = id }()

	candidates := rp.Candidates
	if candidates == 0 {
		if ivl.IsPair {
			candidates = c.Desc.PairAllocatable(ivl.Class)
		} else {
			candidates = c.Desc.Allocatable(ivl.Class)
		}
	}
	candidates = c.Stress.limitCandidates(candidates, rp.IsFixedRegRef)

	var assigned int
	switch {
	case rp.Type.IsUse():
		assigned = c.allocateUse(rp, ivl, candidates)
	default:
		assigned = c.allocateDef(rp, ivl, candidates)
	}

	if assigned == noReg {
		rp.Assignment = ir.LocStack
		c.tracef("no register", logFields{"ref": rp.String(), "interval": ivl.ID})
		return 0, 0
	}
	rp.Assignment = ir.Loc(assigned)
	c.tracef("assign", logFields{"ref": rp.String(), "interval": ivl.ID, "reg": c.Desc.RegName(assigned)})

	if rp.CopyReg && assigned != ivl.PhysReg {
		// Transient copy target: give it back when the operation is done.
		if rp.DelayRegFree {
			delayed |= bit(assigned)
		} else {
			freed |= bit(assigned)
		}
	}
	if rp.LastUse {
		if r := ivl.AssignedReg; r != noReg {
			if rp.DelayRegFree {
				delayed |= bit(r)
			} else {
				freed |= bit(r)
			}
		}
	}
	return freed, delayed
}

// allocateUse places a read. The value may already be in a register (keep
// it, or copy/move if the consumer needs a different one), or on the stack
// (reload, unless the reference is regOptional and no register is worth
// taking).
func (c *Context) allocateUse(rp *RefPosition, ivl *Interval, candidates machine.RegMask) int {
	if ivl.Kind == IntervalUpperHalf && ivl.Related != NoInterval {
		// Record the wide register holding the canonical half; write-back
		// addresses the save and restore against it.
		if main := c.interval(ivl.Related); main.PhysReg != noReg {
			rp.CopyFrom = ir.Loc(main.PhysReg)
		}
	}

	cur := ivl.PhysReg
	inReg := cur != noReg && ivl.AssignedReg == cur && c.Records[cur].Assigned == ivl.ID

	if inReg && candidates.Has(cur) && !c.fixedConflict(rp, ivl, cur) {
		return cur
	}

	if inReg {
		// Wrong register for this consumer, or a pin is about to clobber
		// the current one. Pick a new home from the candidate set.
		target := c.tryAllocateFreeReg(rp, ivl, candidates)
		if target == noReg {
			target = c.allocateBusyReg(rp, ivl, candidates)
		}
		if target == noReg {
			if rp.RegOptional {
				return noReg
			}
			c.fatalExhausted(rp, ivl, candidates)
		}
		rp.CopyFrom = ir.Loc(cur)
		if rp.LastUse && !c.fixedConflict(rp, ivl, cur) {
			// The interval dies here anyway; a transient copy is enough.
			rp.CopyReg = true
		} else {
			rp.MoveReg = true
			ivl.IsSplit = true
			c.assignReg(ivl, target)
		}
		return target
	}

	// Value is on the stack.
	if !ivl.IsSpilled && ivl.Kind == IntervalVariable {
		// Live-in on a path with no reaching definition; treat as stack.
		ivl.IsSpilled = true
	}
	if rp.RegOptional {
		if rp.SpillAfter {
			// Save-only reference (upper-half store): the value goes to
			// memory here, no register wanted.
			return noReg
		}
		if ivl.Kind == IntervalUpperHalf {
			// Restores rejoin the wide register rather than claiming one.
			return noReg
		}
		// Only lift the value into a register if one is free anyway.
		if r := c.tryAllocateFreeReg(rp, ivl, candidates); r != noReg {
			rp.Reload = true
			c.assignReg(ivl, r)
			return r
		}
		return noReg
	}
	r := c.tryAllocateFreeReg(rp, ivl, candidates)
	if r == noReg {
		r = c.allocateBusyReg(rp, ivl, candidates)
	}
	if r == noReg {
		c.fatalExhausted(rp, ivl, candidates)
	}
	rp.Reload = true
	c.assignReg(ivl, r)
	return r
}

// allocateDef places a write: free register first, eviction second, and
// for regOptional defs the stack as the graceful fallback.
func (c *Context) allocateDef(rp *RefPosition, ivl *Interval, candidates machine.RegMask) int {
	if cur := ivl.PhysReg; cur != noReg && c.Records[cur].Assigned == ivl.ID &&
		candidates.Has(cur) && !c.fixedConflict(rp, ivl, cur) {
		// Redefinition in place.
		return cur
	}
	r := c.tryAllocateFreeReg(rp, ivl, candidates)
	if r == noReg {
		r = c.allocateBusyReg(rp, ivl, candidates)
	}
	if r == noReg {
		if rp.RegOptional {
			ivl.IsSpilled = true
			ivl.PhysReg = noReg
			return noReg
		}
		c.fatalExhausted(rp, ivl, candidates)
	}
	c.assignReg(ivl, r)
	return r
}

// fixedConflict reports whether register r is pinned by a fixed reference
// before ivl's next reference after rp, i.e. keeping the value there would
// see it clobbered before it is read again. A still-pending pin at rp's own
// location (another operand of the same operation) always conflicts.
func (c *Context) fixedConflict(rp *RefPosition, ivl *Interval, r int) bool {
	pin := c.nextFixedRefLocation(r, rp.Location)
	if ivl.IsPair {
		if p := c.nextFixedRefLocation(r+1, rp.Location); p < pin {
			pin = p
		}
	}
	if pin == rp.Location {
		return true
	}
	next := c.refAfter(rp, ivl)
	if next == MaxLocation {
		return false
	}
	return pin < next
}

// refAfter returns the location of ivl's reference following rp.
func (c *Context) refAfter(rp *RefPosition, ivl *Interval) Location {
	if rp.Next == NoRefPosition {
		return MaxLocation
	}
	return c.refPosition(rp.Next).Location
}

// tryAllocateFreeReg scores every free candidate and returns the best, or
// noReg when nothing is free.
func (c *Context) tryAllocateFreeReg(rp *RefPosition, ivl *Interval, candidates machine.RegMask) int {
	candidates &= c.Desc.Allocatable(ivl.Class)
	if ivl.IsPair {
		candidates &= c.Desc.PairAllocatable(ivl.Class)
	}
	if candidates == 0 {
		return noReg
	}

	ownPrefs := candidates & ivl.Preferences
	var relPrefs machine.RegMask
	if ivl.Related != NoInterval {
		relPrefs = candidates & c.interval(ivl.Related).Preferences
	}
	lastLoc := c.lastRefLocation(ivl)

	best, bestScore := noReg, -1
	var bestFixed Location
	consider := func(r int) {
		if !c.isRegFree(r) {
			// A busy-until-kill register with no occupant is still usable
			// by the fixed reference it is being held for.
			if !(rp.IsFixedRegRef && c.Records[r].Assigned == NoInterval) {
				return
			}
		}
		if ivl.IsPair {
			if !c.isRegFree(r + 1) {
				return
			}
			if c.nextFixedRefLocation(r+1, rp.Location) <= rp.Location {
				return
			}
		}
		nextFixed := c.nextFixedRefLocation(r, rp.Location)
		if nextFixed <= rp.Location {
			// Pinned at this very location for a not-yet-processed
			// reference of somebody else.
			return
		}
		covered := nextFixed > lastLoc
		rec := &c.Records[r]
		score := 0
		if ivl.IsConstant && rec.Previous == ivl.ID {
			score |= scoreConstAvailable
		}
		if ownPrefs.Has(r) {
			score |= scoreOwnPreference
			if covered {
				score |= scoreOwnCoverage
			}
		}
		if relPrefs.Has(r) {
			score |= scoreRelatedPref
			if covered {
				score |= scoreRelatedCoverage
			}
		}
		if c.Desc.CalleeSaved.Has(r) == ivl.PreferCalleeSave {
			score |= scoreCalleeSaveFit
		}
		if rec.Previous == NoInterval {
			score |= scoreUnassigned
		}
		// Ties: the most-available register (farthest next pin) wins, then
		// sticking with a previous physical home avoids a move.
		better := score > bestScore
		if score == bestScore {
			if nextFixed != bestFixed {
				better = nextFixed > bestFixed
			} else {
				better = r == ivl.PhysReg || rec.Previous == ivl.ID
			}
		}
		if better {
			best, bestScore, bestFixed = r, score, nextFixed
		}
	}

	if c.Stress.ReverseScoring {
		var regs []int
		candidates.ForEach(func(r int) { regs = append(regs, r) })
		for i := len(regs) - 1; i >= 0; i-- {
			consider(regs[i])
		}
	} else {
		candidates.ForEach(consider)
	}
	return best
}

// allocateBusyReg picks an eviction victim: the occupied candidate whose
// occupant has the lowest frequency-weighted reference count and, among
// equals, the farthest next use. For regOptional references a victim that
// would cost at least as much as this reference is worth is not taken.
func (c *Context) allocateBusyReg(rp *RefPosition, ivl *Interval, candidates machine.RegMask) int {
	if ivl.IsPair {
		return c.allocateBusyPair(rp, ivl, candidates)
	}
	candidates &= c.Desc.Allocatable(ivl.Class)
	best := noReg
	var bestWeight float64
	var bestNextUse Location
	candidates.ForEach(func(r int) {
		rec := &c.Records[r]
		if rec.Assigned == NoInterval || rec.IsBusyUntilNextKill {
			return
		}
		occ := c.interval(rec.Assigned)
		if occ.ID == ivl.ID {
			return
		}
		nextUse := c.nextRefLocation(occ)
		if nextUse <= rp.Location {
			// Needed at this very location; not evictable.
			return
		}
		if c.nextFixedRefLocation(r, rp.Location) <= rp.Location {
			return
		}
		if best == noReg || occ.Weight < bestWeight ||
			(occ.Weight == bestWeight && nextUse > bestNextUse) {
			best, bestWeight, bestNextUse = r, occ.Weight, nextUse
		}
	})
	if best == noReg {
		return noReg
	}
	if rp.RegOptional && bestWeight >= rp.Weight {
		// Not profitable: the victim is worth at least as much as we are.
		return noReg
	}
	c.tracef("spill", logFields{"victim": c.Intervals[c.Records[best].Assigned].String(), "reg": c.Desc.RegName(best)})
	c.unassignReg(best, true)
	return best
}

// allocateBusyPair evicts an even/odd register pair for a pair-shaped
// value: the candidate pair whose occupants weigh least in total.
func (c *Context) allocateBusyPair(rp *RefPosition, ivl *Interval, candidates machine.RegMask) int {
	candidates &= c.Desc.PairAllocatable(ivl.Class)
	best := noReg
	var bestWeight float64
	candidates.ForEach(func(r int) {
		weight := 0.0
		for q := r; q <= r+1; q++ {
			rec := &c.Records[q]
			if rec.IsBusyUntilNextKill || c.nextFixedRefLocation(q, rp.Location) <= rp.Location {
				return
			}
			if rec.Assigned == NoInterval || rec.Assigned == ivl.ID {
				continue
			}
			occ := c.interval(rec.Assigned)
			if c.nextRefLocation(occ) <= rp.Location {
				// Needed at this very location; not evictable.
				return
			}
			weight += occ.Weight
		}
		if best == noReg || weight < bestWeight {
			best, bestWeight = r, weight
		}
	})
	if best == noReg {
		return noReg
	}
	if rp.RegOptional && bestWeight >= rp.Weight {
		return noReg
	}
	for q := best; q <= best+1; q++ {
		if occ := c.Records[q].Assigned; occ != NoInterval && occ != ivl.ID {
			c.unassignReg(q, true)
		}
	}
	return best
}

func (c *Context) fatalExhausted(rp *RefPosition, ivl *Interval, candidates machine.RegMask) {
	panic(fmt.Sprintf("regalloc: no register available for mandatory reference %s of %s (candidates %s); inconsistent input stream", rp, ivl, candidates))
}
