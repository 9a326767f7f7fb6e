package regalloc

import (
	"fmt"

	"github.com/a235689741023/lsra/buildoptions"
)

// RegisterRecord is the per-physical-register side of the allocation state.
// Assigned and an interval's AssignedReg are kept in lock-step; the only
// call sites allowed to touch both are assignReg, unassignReg and freeReg.
type RegisterRecord struct {
	Num int
	// Assigned is the current occupant.
	Assigned IntervalID
	// Previous remembers the last occupant after the register is freed, so
	// a value that was never overwritten can be re-adopted cheaply.
	Previous IntervalID
	// Recent is the most recently processed fixed reference on this record.
	Recent RefPositionID
	// IsBusyUntilNextKill pins the register past its nominal range, e.g.
	// for a calling-convention carve-out, until a kill covers it.
	IsBusyUntilNextKill bool

	// fixedRefs is the precomputed, sorted schedule of locations at which
	// this register is pinned or killed; fixedIdx advances with the scan.
	fixedRefs []Location
	fixedIdx  int
}

// nextFixedRefLocation returns the first pinned/killed location of r at or
// after loc, advancing the record's schedule cursor.
func (c *Context) nextFixedRefLocation(r int, loc Location) Location {
	rec := &c.Records[r]
	for rec.fixedIdx < len(rec.fixedRefs) && rec.fixedRefs[rec.fixedIdx] < loc {
		rec.fixedIdx++
	}
	if rec.fixedIdx >= len(rec.fixedRefs) {
		return MaxLocation
	}
	return rec.fixedRefs[rec.fixedIdx]
}

// consumeFixedRef advances r's schedule past a pin or kill at loc once it
// has been processed. References later in the stream at the same location
// (the pin's own interval reference, defs following a call kill) then see
// only future pins; occupancy protects the register in the meantime.
func (c *Context) consumeFixedRef(r int, loc Location) {
	rec := &c.Records[r]
	for rec.fixedIdx < len(rec.fixedRefs) && rec.fixedRefs[rec.fixedIdx] <= loc {
		rec.fixedIdx++
	}
}

// isRegFree reports whether r currently has no occupant and no pin.
func (c *Context) isRegFree(r int) bool {
	rec := &c.Records[r]
	return rec.Assigned == NoInterval && !rec.IsBusyUntilNextKill
}

// assignReg makes r the register of ivl, evicting (and spilling) any other
// occupant. Both sides of the pairing are updated here and nowhere else.
// A pair interval claims r and its odd partner together.
func (c *Context) assignReg(ivl *Interval, r int) {
	rec := &c.Records[r]
	if rec.Assigned == ivl.ID {
		ivl.PhysReg = r
		ivl.IsActive = true
		return
	}
	if rec.Assigned != NoInterval {
		c.unassignReg(r, true)
	}
	if ivl.IsPair {
		if high := &c.Records[r+1]; high.Assigned != NoInterval && high.Assigned != ivl.ID {
			c.unassignReg(r+1, true)
		}
	}
	if ivl.AssignedReg != noReg && ivl.AssignedReg != r {
		// The interval moves: release its old record(s) without spilling.
		c.releaseRecords(ivl, ivl.AssignedReg)
	}
	rec.Assigned = ivl.ID
	if ivl.IsPair {
		c.Records[r+1].Assigned = ivl.ID
	}
	ivl.AssignedReg = r
	ivl.PhysReg = r
	ivl.IsActive = true
	ivl.IsSpilled = false
	ivl.Preferences |= bit(r)
}

// releaseRecords detaches ivl from the record(s) it holds at low, without
// touching the interval side.
func (c *Context) releaseRecords(ivl *Interval, low int) {
	n := 1
	if ivl.IsPair {
		n = 2
	}
	for q := low; q < low+n; q++ {
		old := &c.Records[q]
		if buildoptions.IsDebugMode && old.Assigned != ivl.ID {
			panic(fmt.Sprintf("regalloc: interval %s claims r%d but record holds i%d", ivl, q, old.Assigned))
		}
		old.Previous = old.Assigned
		old.Assigned = NoInterval
	}
}

// unassignReg removes the occupant of r. With spill set, the occupant is
// marked spilled: its most recent reference gets SpillAfter and its next
// use gets Reload. Unassigning either half of a pair releases both.
func (c *Context) unassignReg(r int, spill bool) {
	rec := &c.Records[r]
	if rec.Assigned == NoInterval {
		return
	}
	occ := c.interval(rec.Assigned)
	if occ.IsPair && occ.AssignedReg != noReg {
		c.releaseRecords(occ, occ.AssignedReg)
	} else {
		rec.Previous = rec.Assigned
		rec.Assigned = NoInterval
	}
	occ.AssignedReg = noReg
	occ.PhysReg = noReg
	occ.IsActive = false
	if !spill {
		return
	}
	occ.IsSpilled = true
	if occ.Recent != NoRefPosition {
		recent := c.refPosition(occ.Recent)
		if recent.Type.IsDef() || recent.Type.IsUse() {
			recent.SpillAfter = true
		}
	}
	if next := c.nextRef(occ); next != nil && next.Type.IsUse() {
		next.Reload = true
	}
}

// freeReg releases r at a lifetime end: the occupant is done, no spill.
func (c *Context) freeReg(r int) {
	rec := &c.Records[r]
	if rec.Assigned == NoInterval {
		return
	}
	occ := c.interval(rec.Assigned)
	if occ.IsPair && occ.AssignedReg != noReg {
		c.releaseRecords(occ, occ.AssignedReg)
	} else {
		rec.Previous = rec.Assigned
		rec.Assigned = NoInterval
	}
	occ.AssignedReg = noReg
	occ.IsActive = false
}

// resetRegisters clears all occupancy, keeping the fixed schedules.
func (c *Context) resetRegisters() {
	for i := range c.Records {
		rec := &c.Records[i]
		rec.Assigned = NoInterval
		rec.Previous = NoInterval
		rec.Recent = NoRefPosition
		rec.IsBusyUntilNextKill = false
		rec.fixedIdx = 0
	}
}
