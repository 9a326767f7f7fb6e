package regalloc

import (
	"fmt"

	"github.com/a235689741023/lsra/ir"
	"github.com/a235689741023/lsra/machine"
)

// IntervalID indexes the interval arena of one Context.
type IntervalID int32

// NoInterval is the nil IntervalID.
const NoInterval IntervalID = -1

// IntervalKind says what an interval stands for.
type IntervalKind uint8

const (
	// IntervalVariable tracks a source-level variable.
	IntervalVariable IntervalKind = iota
	// IntervalInternal tracks a compiler temporary with no variable.
	IntervalInternal
	// IntervalUpperHalf tracks the non-canonical half of a wide value,
	// saved and restored independently of the main interval.
	IntervalUpperHalf
)

func (k IntervalKind) String() string {
	switch k {
	case IntervalVariable:
		return "var"
	case IntervalInternal:
		return "internal"
	case IntervalUpperHalf:
		return "upperHalf"
	}
	return "invalid"
}

// noReg marks an interval currently without a physical register.
const noReg = -1

// Interval is the aggregate live range of one value. At any single program
// location at most one register is associated with it; once IsSplit, the
// location-to-register mapping is recoverable only from the RefPosition
// chain.
type Interval struct {
	ID   IntervalID
	Kind IntervalKind
	// Var is the tracked variable for IntervalVariable; ir.NoVar otherwise.
	Var      ir.VarIndex
	Class    machine.ClassKind
	Category ir.TypeCategory
	// IsConstant values keep a weak claim on a vacated register: if the
	// register was not reassigned in between, re-using it is free.
	IsConstant bool
	// IsPair values occupy an even/odd register pair; PhysReg and
	// AssignedReg name the even member, the odd partner is held alongside.
	IsPair bool

	// PhysReg is the register currently holding the value, or noReg when it
	// lives on the stack. AssignedReg is the register record reserved for
	// the interval; the two differ transiently during boundary processing.
	PhysReg     int
	AssignedReg int

	IsActive  bool
	IsSpilled bool
	IsSplit   bool

	// Preferences biases free-register scoring toward registers that avoid
	// future moves. Related is an affinity hint: an interval whose final
	// register this one would like to share.
	Preferences      machine.RegMask
	PreferCalleeSave bool
	Related          IntervalID

	// First/Last delimit the RefPosition chain; Recent caches the most
	// recently processed one during allocation.
	First, Last, Recent RefPositionID

	// Weight is the frequency-weighted reference count, the spill cost.
	Weight float64

	// spillCounted tracks whether the spill accounting pass has an open
	// spill for this interval.
	spillCounted bool
}

func (ivl *Interval) String() string {
	reg := "stack"
	if ivl.PhysReg != noReg {
		reg = fmt.Sprintf("r%d", ivl.PhysReg)
	}
	return fmt.Sprintf("i%d(%s v%d %s %s)", ivl.ID, ivl.Kind, ivl.Var, ivl.Class, reg)
}

// NewInterval appends a fresh interval to the arena and returns its ID.
func (c *Context) NewInterval(kind IntervalKind, v ir.VarIndex, class machine.ClassKind, cat ir.TypeCategory) IntervalID {
	id := IntervalID(len(c.Intervals))
	c.Intervals = append(c.Intervals, Interval{
		ID:          id,
		Kind:        kind,
		Var:         v,
		Class:       class,
		Category:    cat,
		PhysReg:     noReg,
		AssignedReg: noReg,
		Related:     NoInterval,
		First:       NoRefPosition,
		Last:        NoRefPosition,
		Recent:      NoRefPosition,
	})
	if kind == IntervalVariable {
		for int(v) >= len(c.varInterval) {
			c.varInterval = append(c.varInterval, NoInterval)
		}
		c.varInterval[v] = id
	}
	return id
}

// interval returns the arena entry for id.
func (c *Context) interval(id IntervalID) *Interval {
	return &c.Intervals[id]
}

// IntervalForVar returns the interval tracking v, or NoInterval.
func (c *Context) IntervalForVar(v ir.VarIndex) IntervalID {
	if int(v) >= len(c.varInterval) {
		return NoInterval
	}
	return c.varInterval[v]
}

// refPosition returns the arena entry for id.
func (c *Context) refPosition(id RefPositionID) *RefPosition {
	return &c.RefPositions[id]
}

// nextRefLocation returns the location of the reference after ivl.Recent,
// or MaxLocation when the interval has no further references.
func (c *Context) nextRefLocation(ivl *Interval) Location {
	if ivl.Recent == NoRefPosition {
		if ivl.First == NoRefPosition {
			return MaxLocation
		}
		return c.refPosition(ivl.First).Location
	}
	next := c.refPosition(ivl.Recent).Next
	if next == NoRefPosition {
		return MaxLocation
	}
	return c.refPosition(next).Location
}

// nextRef returns the reference after ivl.Recent, or nil.
func (c *Context) nextRef(ivl *Interval) *RefPosition {
	if ivl.Recent == NoRefPosition {
		if ivl.First == NoRefPosition {
			return nil
		}
		return c.refPosition(ivl.First)
	}
	next := c.refPosition(ivl.Recent).Next
	if next == NoRefPosition {
		return nil
	}
	return c.refPosition(next)
}

// lastRefLocation returns the location of the interval's final reference.
func (c *Context) lastRefLocation(ivl *Interval) Location {
	if ivl.Last == NoRefPosition {
		return 0
	}
	return c.refPosition(ivl.Last).Location
}
