// Package machine describes the target register file to the allocator:
// how many registers exist, how they partition into classes, which are
// callee-saved, and which are withheld from allocation entirely.
// Registers are referred to by dense indices into a Description; the
// external assembler code for each register is carried only for naming.
package machine

import (
	"fmt"
	"math/bits"
	"strings"
)

// RegMask is a bitmask over the registers of one Description.
// A Description never holds more than 64 allocatable registers.
type RegMask uint64

// Bit returns the mask with only register r set.
func Bit(r int) RegMask { return RegMask(1) << uint(r) }

// Has reports whether register r is in the mask.
func (m RegMask) Has(r int) bool { return m&Bit(r) != 0 }

// Count returns the number of registers in the mask.
func (m RegMask) Count() int { return bits.OnesCount64(uint64(m)) }

// Pick returns the lowest-numbered register in the mask; m must be nonzero.
func (m RegMask) Pick() int {
	if m == 0 {
		panic("Pick on empty RegMask")
	}
	return bits.TrailingZeros64(uint64(m))
}

// ForEach calls f for each register in ascending order.
func (m RegMask) ForEach(f func(r int)) {
	for m != 0 {
		r := bits.TrailingZeros64(uint64(m))
		f(r)
		m &^= Bit(r)
	}
}

func (m RegMask) String() string {
	var rs []string
	m.ForEach(func(r int) { rs = append(rs, fmt.Sprintf("r%d", r)) })
	return "[" + strings.Join(rs, " ") + "]"
}

// ClassKind partitions registers by the values they can hold.
type ClassKind uint8

const (
	ClassInt ClassKind = iota
	ClassFloat
	NumClasses
)

func (c ClassKind) String() string {
	if c == ClassInt {
		return "int"
	}
	return "float"
}

// Shape is how one register class stores a value: in a single register, in
// an even/odd register pair (32-bit float ABIs), or in a wide register whose
// upper half is saved and restored independently of the canonical half.
type Shape uint8

const (
	ShapeSingle Shape = iota
	ShapePair
	ShapeWideUpperSave
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapePair:
		return "pair"
	case ShapeWideUpperSave:
		return "wide"
	}
	return "invalid"
}

// Class is one register class of a Description.
type Class struct {
	Kind ClassKind
	// Registers is the mask of members, including reserved ones.
	Registers RegMask
	Shape     Shape
}

// Register is one physical register.
type Register struct {
	// Name is the assembler-level name, e.g. "AX" or "X3".
	Name string
	// Code is the external assembler encoding (golang-asm obj constant for
	// the builtin targets); opaque to the allocator.
	Code int16
	Kind ClassKind
}

// Description is one target machine. Construct with New, or use a builtin
// (AMD64, ARM64), or load one from YAML with LoadFile.
type Description struct {
	Name      string
	Registers []Register
	Classes   [NumClasses]Class

	// CalleeSaved registers survive calls; everything allocatable outside
	// this mask is clobbered by OpCall.
	CalleeSaved RegMask
	// Reserved registers are never handed out (frame pointer, platform
	// scratch and similar carve-outs).
	Reserved RegMask
	// CanSwap reports whether the target has an atomic two-register
	// exchange, used to break resolution cycles without a scratch.
	CanSwap bool
}

// New validates and finishes a Description: class member masks are derived
// from the register list and the shape of each class is fixed once here.
func New(name string, regs []Register, calleeSaved, reserved RegMask, canSwap bool, floatShape Shape) (*Description, error) {
	if len(regs) == 0 {
		return nil, fmt.Errorf("target %q: no registers", name)
	}
	if len(regs) > 64 {
		return nil, fmt.Errorf("target %q: %d registers exceed the 64-register mask width", name, len(regs))
	}
	d := &Description{Name: name, Registers: regs, CalleeSaved: calleeSaved, Reserved: reserved, CanSwap: canSwap}
	d.Classes[ClassInt] = Class{Kind: ClassInt, Shape: ShapeSingle}
	d.Classes[ClassFloat] = Class{Kind: ClassFloat, Shape: floatShape}
	for i, r := range regs {
		d.Classes[r.Kind].Registers |= Bit(i)
	}
	return d, nil
}

// NumRegs returns the total register count.
func (d *Description) NumRegs() int { return len(d.Registers) }

// Allocatable returns the class members minus reserved registers.
func (d *Description) Allocatable(k ClassKind) RegMask {
	return d.Classes[k].Registers &^ d.Reserved
}

// PairAllocatable returns the low members of the allocatable even/odd
// register pairs of a class. A value with ShapePair occupies such a low
// register and its odd partner together.
func (d *Description) PairAllocatable(k ClassKind) RegMask {
	alloc := d.Allocatable(k)
	var pairs RegMask
	alloc.ForEach(func(r int) {
		if r%2 == 0 && alloc.Has(r+1) {
			pairs |= Bit(r)
		}
	})
	return pairs
}

// CallerSaved returns the allocatable registers clobbered by a call.
func (d *Description) CallerSaved() RegMask {
	all := d.Allocatable(ClassInt) | d.Allocatable(ClassFloat)
	return all &^ d.CalleeSaved
}

// ClassOf returns the class of register r.
func (d *Description) ClassOf(r int) ClassKind { return d.Registers[r].Kind }

// RegName returns the assembler name of register r.
func (d *Description) RegName(r int) string {
	if r < 0 || r >= len(d.Registers) {
		return fmt.Sprintf("r%d?", r)
	}
	return d.Registers[r].Name
}
