// Package ir holds the linear program representation consumed and annotated
// by the register allocator. A Program is an ordered list of basic blocks,
// each holding a linear run of operations over numbered variables.
// The allocator never interprets operation payloads; it only reads the
// use/def variable lists and writes the location annotations back.
package ir

import (
	"fmt"
	"strings"
)

// BlockID identifies a basic block within one Program.
type BlockID int32

// NodeID identifies an operation as (block, index within block).
type NodeID struct {
	Block BlockID
	Index int32
}

func (n NodeID) String() string {
	return fmt.Sprintf("bb%d:%d", n.Block, n.Index)
}

// VarIndex numbers a program variable. Variables are dense, starting at zero.
type VarIndex int32

// NoVar marks an operand slot that does not reference a variable.
const NoVar VarIndex = -1

// TypeCategory is the normalized storage category of a variable, used for
// spill-slot accounting. Distinct categories never share spill storage.
type TypeCategory uint8

const (
	TypeInt TypeCategory = iota
	TypeRef
	TypeByref
	TypeFloat
	TypeDouble
	TypeVector
	NumTypeCategories
)

func (t TypeCategory) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeRef:
		return "ref"
	case TypeByref:
		return "byref"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeVector:
		return "vector"
	}
	return "unknown"
}

// OpKind classifies an operation. The allocator only gives special meaning
// to the pseudo kinds it inserts itself (OpCopy and friends) and to OpCall,
// which clobbers the caller-saved register set.
type OpKind uint8

const (
	// OpNormal is any computation: reads Uses, writes Defs.
	OpNormal OpKind = iota
	// OpParam materializes an incoming parameter into a variable.
	OpParam
	// OpCall reads Uses, writes Defs, and kills all caller-saved registers.
	OpCall
	// OpBranch ends a block; reads Uses.
	OpBranch

	// Pseudo operations inserted by the allocator.

	// OpCopy moves a value between two registers.
	OpCopy
	// OpSwap exchanges two registers atomically.
	OpSwap
	// OpSpillStore stores a register to a stack slot.
	OpSpillStore
	// OpReload loads a stack slot into a register.
	OpReload
)

func (k OpKind) String() string {
	switch k {
	case OpNormal:
		return "op"
	case OpParam:
		return "param"
	case OpCall:
		return "call"
	case OpBranch:
		return "branch"
	case OpCopy:
		return "copy"
	case OpSwap:
		return "swap"
	case OpSpillStore:
		return "spill"
	case OpReload:
		return "reload"
	}
	return "invalid"
}

// Loc is a storage location annotation: a register index within the target
// description, or LocStack / LocNone sentinels.
type Loc int16

const (
	// LocNone means no location has been assigned.
	LocNone Loc = -1
	// LocStack means the value lives in its home stack slot.
	LocStack Loc = -2
)

func (l Loc) String() string {
	switch l {
	case LocNone:
		return "none"
	case LocStack:
		return "stack"
	default:
		return fmt.Sprintf("r%d", int(l))
	}
}

// OnRegister is true when l names a physical register.
func (l Loc) OnRegister() bool { return l >= 0 }

// Op is one operation in a block. Uses and Defs list the variables read and
// written; UseLocs and DefLoc are filled in by the allocator. For the
// pseudo kinds, From/To describe the data movement instead.
type Op struct {
	Kind OpKind
	// Payload is opaque to the allocator (an opcode, a constant, anything).
	Payload string

	Uses []VarIndex
	Defs []VarIndex

	// Constraints carried from instruction shape and ABI, consumed by the
	// refposition stream builder.

	// FixedUses parallels Uses: a register each operand must occupy, or
	// LocNone. FixedDef likewise constrains the def (LocNone if free).
	FixedUses []Loc
	FixedDef  Loc
	// RMW marks non-commutative read-modify-write shapes whose source
	// registers must survive one location past their read.
	RMW bool
	// OptionalUses parallels Uses: operands the instruction can consume
	// directly from memory, making a register merely desirable.
	OptionalUses []bool
	// Temps is the number of scratch registers the instruction needs while
	// executing. They are born after the reads and die before the writes,
	// so they overlap neither the operands nor the results.
	Temps int

	// Annotations written during write-back and resolution.

	// UseLocs parallels Uses.
	UseLocs []Loc
	// DefLoc is the location of Defs[0] (at most one def per op).
	DefLoc Loc
	// ReloadUses flags uses (by index) whose value must first be loaded from
	// the stack into UseLocs[i].
	ReloadUses []bool
	// SpillDef means the defined value is written to both DefLoc and its
	// home stack slot.
	SpillDef bool
	// MemOperand flags uses (by index) consumed directly from memory because
	// a register was not profitable.
	MemOperand []bool
	// TempLocs parallels the Temps count with the scratch registers chosen.
	TempLocs []Loc

	// Movement description for pseudo kinds: From/To are registers or stack.
	// For OpSwap both sides are registers.
	From, To Loc
	// MoveVar is the variable being moved by a pseudo op, for diagnostics.
	MoveVar VarIndex
}

// NewOp builds an operation with unconstrained operands. Construct ops with
// NewOp (or set FixedDef to LocNone by hand): the Loc zero value names
// register 0, not "unconstrained".
func NewOp(kind OpKind, payload string, defs, uses []VarIndex) *Op {
	return &Op{Kind: kind, Payload: payload, Defs: defs, Uses: uses, FixedDef: LocNone, DefLoc: LocNone}
}

func (o *Op) String() string {
	switch o.Kind {
	case OpCopy, OpSpillStore, OpReload:
		return fmt.Sprintf("%s v%d %s -> %s", o.Kind, o.MoveVar, o.From, o.To)
	case OpSwap:
		return fmt.Sprintf("swap %s <-> %s", o.From, o.To)
	}
	var parts []string
	for i, d := range o.Defs {
		_ = i
		parts = append(parts, fmt.Sprintf("v%d=%s", d, o.DefLoc))
	}
	for i, u := range o.Uses {
		loc := LocNone
		if i < len(o.UseLocs) {
			loc = o.UseLocs[i]
		}
		parts = append(parts, fmt.Sprintf("v%d@%s", u, loc))
	}
	return fmt.Sprintf("%s(%s) %s", o.Kind, o.Payload, strings.Join(parts, " "))
}

// Block is one basic block.
type Block struct {
	ID  BlockID
	Ops []*Op

	Preds []BlockID
	Succs []BlockID

	// Weight is the relative execution frequency, used both by the block
	// sequencer and as the spill-cost multiplier for references made here.
	Weight float64

	// LiveIn and LiveOut are computed by the upstream liveness pass.
	LiveIn, LiveOut VarSet
}

// Var describes one program variable.
type Var struct {
	Category TypeCategory
	// IsConstant marks variables whose value is a rematerializable constant;
	// such values keep a weak claim on a register they recently occupied.
	IsConstant bool
	// Wide marks values occupying a double-width register resource
	// (the upper half is tracked by a separate interval during allocation).
	Wide bool
}

// Program is one compilation unit.
type Program struct {
	Blocks []*Block
	Vars   []Var

	// nextBlockID is the ID handed to the next synthesized block.
	nextBlockID BlockID
}

// NewProgram returns an empty program with nvars variables, all TypeInt.
func NewProgram(nvars int) *Program {
	return &Program{Vars: make([]Var, nvars)}
}

// NumVars returns the number of variables.
func (p *Program) NumVars() int { return len(p.Vars) }

// AddBlock appends a new empty block and returns it.
func (p *Program) AddBlock() *Block {
	b := &Block{ID: p.nextBlockID}
	p.nextBlockID++
	p.Blocks = append(p.Blocks, b)
	return b
}

// Block returns the block with the given ID, or nil.
// IDs are not guaranteed to equal slice positions once edges were split.
func (p *Program) Block(id BlockID) *Block {
	for _, b := range p.Blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// AddEdge links pred -> succ.
func (p *Program) AddEdge(pred, succ *Block) {
	pred.Succs = append(pred.Succs, succ.ID)
	succ.Preds = append(succ.Preds, pred.ID)
}

// SplitEdge synthesizes a new block on the edge pred -> succ and returns it.
// The new block carries only the moves later placed into it; it inherits the
// minimum of the two weights and the live set crossing the edge. The caller
// must ensure the edge exists.
func (p *Program) SplitEdge(pred, succ *Block) *Block {
	nb := p.AddBlock()
	nb.Weight = pred.Weight
	if succ.Weight < nb.Weight {
		nb.Weight = succ.Weight
	}
	nb.LiveIn = succ.LiveIn.Clone()
	nb.LiveOut = succ.LiveIn.Clone()
	replaceID(pred.Succs, succ.ID, nb.ID)
	replaceID(succ.Preds, pred.ID, nb.ID)
	nb.Preds = []BlockID{pred.ID}
	nb.Succs = []BlockID{succ.ID}
	return nb
}

func replaceID(s []BlockID, old, new BlockID) {
	for i, id := range s {
		if id == old {
			s[i] = new
			return
		}
	}
	panic(fmt.Sprintf("edge rewire: block %d not found", old))
}

// InsertOpsFront places ops at the beginning of b.
func (b *Block) InsertOpsFront(ops []*Op) {
	b.Ops = append(ops, b.Ops...)
}

// InsertOpsBottom places ops at the end of b, before a trailing branch
// if one is present.
func (b *Block) InsertOpsBottom(ops []*Op) {
	n := len(b.Ops)
	if n > 0 && b.Ops[n-1].Kind == OpBranch {
		rest := append([]*Op{}, b.Ops[n-1:]...)
		b.Ops = append(append(b.Ops[:n-1], ops...), rest...)
		return
	}
	b.Ops = append(b.Ops, ops...)
}

func (p *Program) String() string {
	var sb strings.Builder
	for _, b := range p.Blocks {
		fmt.Fprintf(&sb, "bb%d (w=%g) preds=%v succs=%v\n", b.ID, b.Weight, b.Preds, b.Succs)
		for _, op := range b.Ops {
			fmt.Fprintf(&sb, "  %s\n", op)
		}
	}
	return sb.String()
}
