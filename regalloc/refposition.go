// Package regalloc implements linear-scan register allocation over the ir
// program model: a single in-order allocation pass over a prebuilt
// RefPosition stream, a write-back pass that stamps decisions onto the
// program, and an edge-resolution pass that reconciles register contents
// across control-flow edges.
package regalloc

import (
	"fmt"

	"github.com/a235689741023/lsra/ir"
	"github.com/a235689741023/lsra/machine"
)

// Location is a program position. Every operation occupies two consecutive
// locations: reads and internal temporaries happen at the even one, kills
// and writes at the following odd one. This gives same-step lifetimes a
// total order without fractional positions.
type Location uint32

// MaxLocation sorts after every real location.
const MaxLocation Location = ^Location(0)

// RefPositionID indexes the refposition arena of one Context.
type RefPositionID int32

// NoRefPosition is the nil RefPositionID.
const NoRefPosition RefPositionID = -1

// RefType says what a RefPosition demands at its location.
type RefType uint8

const (
	RefTypeInvalid RefType = iota
	// RefTypeDef writes an interval; wants a register for the result.
	RefTypeDef
	// RefTypeUse reads an interval; wants the value in a register.
	RefTypeUse
	// RefTypeParamDef defines an incoming parameter at function entry.
	RefTypeParamDef
	// RefTypeZeroInit defines a must-init variable at function entry.
	RefTypeZeroInit
	// RefTypeExposedUse keeps an interval live to a block end without a
	// consuming operation (the value is live-out).
	RefTypeExposedUse
	// RefTypeDummyDef is a block-entry placeholder for a value that is
	// live-in without a reaching definition on this path.
	RefTypeDummyDef
	// RefTypeFixedReg pins one physical register at one location.
	RefTypeFixedReg
	// RefTypeKill clobbers a set of registers (calls).
	RefTypeKill
	// RefTypeBB marks a block boundary.
	RefTypeBB
)

func (t RefType) String() string {
	switch t {
	case RefTypeDef:
		return "def"
	case RefTypeUse:
		return "use"
	case RefTypeParamDef:
		return "param"
	case RefTypeZeroInit:
		return "zeroInit"
	case RefTypeExposedUse:
		return "exposedUse"
	case RefTypeDummyDef:
		return "dummyDef"
	case RefTypeFixedReg:
		return "fixedReg"
	case RefTypeKill:
		return "kill"
	case RefTypeBB:
		return "bb"
	}
	return "invalid"
}

// IsDef reports whether t defines its interval.
func (t RefType) IsDef() bool {
	switch t {
	case RefTypeDef, RefTypeParamDef, RefTypeZeroInit, RefTypeDummyDef:
		return true
	}
	return false
}

// IsUse reports whether t reads its interval.
func (t RefType) IsUse() bool {
	return t == RefTypeUse || t == RefTypeExposedUse
}

// RefPosition is one point-in-time register requirement. The stream is
// built once, before allocation, and never reordered; allocation writes
// only Assignment and the decision flags.
type RefPosition struct {
	Location Location
	Type     RefType

	// Interval is the referent for interval references; NoInterval for
	// fixed, kill and boundary references.
	Interval IntervalID
	// Register is the pinned register for RefTypeFixedReg, else -1.
	Register int
	// KillMask is the clobber set for RefTypeKill.
	KillMask machine.RegMask
	// Block is the entered block for RefTypeBB.
	Block ir.BlockID

	// Node and Slot locate the referencing operation and, for uses, the
	// operand position within it. Slot is -1 for defs and for references
	// with no operation (exposed uses, boundaries).
	Node    ir.NodeID
	HasNode bool
	Slot    int

	// Candidates is the initial candidate mask from instruction shape and
	// ABI constraints.
	Candidates machine.RegMask
	// Weight is the execution frequency of the containing block, the cost
	// unit for regOptional profitability.
	Weight float64

	// Assignment is the resolved location: a register, ir.LocStack for a
	// value deliberately left in memory, or ir.LocNone until decided.
	Assignment ir.Loc

	LastUse       bool
	DelayRegFree  bool
	RegOptional   bool
	IsFixedRegRef bool
	// PinUntilKill keeps the register busy past this reference, until the
	// next kill that covers it.
	PinUntilKill bool

	// Decision flags written by the allocation pass.

	// Reload means the value must be loaded from its stack slot before use.
	Reload bool
	// SpillAfter means the value is stored to its stack slot after this
	// reference.
	SpillAfter bool
	// CopyReg moves the value to Assignment for this reference only; the
	// interval stays where it was.
	CopyReg bool
	// MoveReg relocates the interval to Assignment permanently.
	MoveReg bool
	// CopyFrom is the source register for CopyReg/MoveReg.
	CopyFrom ir.Loc

	// Next links the RefPositions of one interval in location order.
	Next RefPositionID
}

func (rp *RefPosition) String() string {
	switch rp.Type {
	case RefTypeBB:
		return fmt.Sprintf("<%d bb%d>", rp.Location, rp.Block)
	case RefTypeKill:
		return fmt.Sprintf("<%d kill %s>", rp.Location, rp.KillMask)
	case RefTypeFixedReg:
		return fmt.Sprintf("<%d fixed r%d>", rp.Location, rp.Register)
	}
	return fmt.Sprintf("<%d %s i%d %s>", rp.Location, rp.Type, rp.Interval, rp.Assignment)
}
