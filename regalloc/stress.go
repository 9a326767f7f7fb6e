package regalloc

import "github.com/a235689741023/lsra/machine"

// StressConfig deliberately degrades allocation decisions to exercise the
// recovery paths: spill handling, copy insertion and edge resolution.
// The zero value is a no-op. Stress never changes correctness contracts,
// only which legal choice gets made.
type StressConfig struct {
	// LimitRegs, when nonzero, intersects every candidate set with this
	// mask (keeping mandatory fixed registers), forcing spills.
	LimitRegs machine.RegMask
	// RotateBlockBoundary rotates each incoming block map's register
	// choices forward by this many allocatable registers within their
	// class, guaranteeing resolution work on every edge.
	RotateBlockBoundary int
	// ReverseScoring makes free-register scoring walk candidates in
	// descending order, flipping every tie the other way.
	ReverseScoring bool
}

func (s *StressConfig) enabled() bool {
	return s.LimitRegs != 0 || s.RotateBlockBoundary != 0 || s.ReverseScoring
}

// limitCandidates applies LimitRegs unless that would leave a mandatory
// reference with nothing.
func (s *StressConfig) limitCandidates(candidates machine.RegMask, fixed bool) machine.RegMask {
	if s.LimitRegs == 0 || fixed {
		return candidates
	}
	if limited := candidates & s.LimitRegs; limited != 0 {
		return limited
	}
	return candidates
}

// rotateReg maps r to the register RotateBlockBoundary places after it in
// its class's allocatable set.
func (s *StressConfig) rotateReg(d *machine.Description, r int) int {
	if s.RotateBlockBoundary == 0 {
		return r
	}
	var members []int
	d.Allocatable(d.ClassOf(r)).ForEach(func(m int) { members = append(members, m) })
	for i, m := range members {
		if m == r {
			return members[(i+s.RotateBlockBoundary)%len(members)]
		}
	}
	return r
}
