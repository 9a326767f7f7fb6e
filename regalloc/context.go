package regalloc

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/a235689741023/lsra/buildoptions"
	"github.com/a235689741023/lsra/ir"
	"github.com/a235689741023/lsra/machine"
)

// VarToRegMap records, per variable, the register holding it at a block
// boundary, or ir.LocStack. It is the contract resolution reconciles
// across edges.
type VarToRegMap []ir.Loc

func newVarToRegMap(nvars int) VarToRegMap {
	m := make(VarToRegMap, nvars)
	for i := range m {
		m[i] = ir.LocStack
	}
	return m
}

// Clone returns an independent copy.
func (m VarToRegMap) Clone() VarToRegMap {
	n := make(VarToRegMap, len(m))
	copy(n, m)
	return n
}

// Context owns all allocation state for one compiled unit: the interval and
// refposition arenas, the register records, the block sequence and the
// boundary maps. One Context per unit; nothing is shared.
type Context struct {
	Prog *ir.Program
	Desc *machine.Description

	Intervals    []Interval
	RefPositions []RefPosition
	Records      []RegisterRecord

	// BlockSeq is the allocation traversal order; SeqPred maps each block
	// to the sequenced predecessor whose out-map seeds its in-map.
	BlockSeq []ir.BlockID
	SeqPred  map[ir.BlockID]ir.BlockID

	// InMaps/OutMaps are the per-block boundary contracts.
	InMaps, OutMaps map[ir.BlockID]VarToRegMap

	Stress StressConfig
	Log    *logrus.Logger

	varInterval []IntervalID
	blocks      map[ir.BlockID]*ir.Block
	curBlock    ir.BlockID
	allocated   bool

	maxSpill [ir.NumTypeCategories]int
}

// NewContext returns an empty allocation context for prog on desc.
// The caller populates the interval and refposition arenas (normally via
// regstream.Build) before calling Allocate.
func NewContext(prog *ir.Program, desc *machine.Description) *Context {
	c := &Context{
		Prog:    prog,
		Desc:    desc,
		SeqPred: map[ir.BlockID]ir.BlockID{},
		InMaps:  map[ir.BlockID]VarToRegMap{},
		OutMaps: map[ir.BlockID]VarToRegMap{},
		blocks:  map[ir.BlockID]*ir.Block{},
	}
	c.Records = make([]RegisterRecord, desc.NumRegs())
	for i := range c.Records {
		c.Records[i] = RegisterRecord{Num: i, Assigned: NoInterval, Previous: NoInterval, Recent: NoRefPosition}
	}
	for _, b := range prog.Blocks {
		c.blocks[b.ID] = b
	}
	return c
}

func bit(r int) machine.RegMask { return machine.Bit(r) }

func (c *Context) block(id ir.BlockID) *ir.Block {
	b, ok := c.blocks[id]
	if !ok {
		b = c.Prog.Block(id)
		c.blocks[id] = b
	}
	return b
}

// AddRefPosition appends rp to the stream, linking it into its interval's
// chain and, for fixed references, into the register's pinned schedule.
// The stream must be appended in non-decreasing location order.
func (c *Context) AddRefPosition(rp RefPosition) RefPositionID {
	id := RefPositionID(len(c.RefPositions))
	if buildoptions.IsDebugMode && id > 0 {
		if prev := c.RefPositions[id-1].Location; rp.Location < prev {
			panic(fmt.Sprintf("regalloc: refposition %s appended out of order (previous location %d)", &rp, prev))
		}
	}
	rp.Next = NoRefPosition
	rp.Assignment = ir.LocNone
	rp.CopyFrom = ir.LocNone
	if rp.Type.IsDef() || rp.Type.IsUse() {
		ivl := c.interval(rp.Interval)
		if ivl.Last != NoRefPosition {
			last := c.refPosition(ivl.Last)
			if buildoptions.IsDebugMode && last.Location > rp.Location {
				panic(fmt.Sprintf("regalloc: interval %s chain not monotonic", ivl))
			}
			last.Next = id
		} else {
			ivl.First = id
		}
		ivl.Last = id
		ivl.Weight += rp.Weight
	}
	switch rp.Type {
	case RefTypeFixedReg:
		c.Records[rp.Register].fixedRefs = append(c.Records[rp.Register].fixedRefs, rp.Location)
	case RefTypeKill:
		rp.KillMask.ForEach(func(r int) {
			c.Records[r].fixedRefs = append(c.Records[r].fixedRefs, rp.Location)
		})
	}
	c.RefPositions = append(c.RefPositions, rp)
	return id
}

// Result is what the caller needs beyond the annotated program itself.
type Result struct {
	// MaxSpill is, per normalized type category, the maximum number of
	// values simultaneously spilled, for stack-frame sizing.
	MaxSpill [ir.NumTypeCategories]int
	// BlockSeq is the order blocks were allocated in.
	BlockSeq []ir.BlockID
}

// Allocate runs the full pipeline: block sequencing, the in-order
// allocation pass, write-back, and edge resolution. The program is
// annotated in place. Allocate panics on internal inconsistency; the
// caller treats that as failed compilation of this unit.
func (c *Context) Allocate() Result {
	if c.allocated {
		panic("regalloc: Allocate called twice on one Context; use a fresh Context per unit")
	}
	c.allocated = true
	c.sortFixedSchedules()
	if len(c.BlockSeq) == 0 {
		c.sequenceBlocks()
	}
	c.allocateRegisters()
	c.writeBack()
	c.resolveEdges()
	return Result{MaxSpill: c.maxSpill, BlockSeq: c.BlockSeq}
}

// SequenceBlocks computes the traversal order up front, so a stream builder
// can emit refpositions in the same order the allocation pass consumes
// blocks. Idempotent; Allocate computes the order itself if nobody did.
func (c *Context) SequenceBlocks() []ir.BlockID {
	if len(c.BlockSeq) == 0 {
		c.sequenceBlocks()
	}
	return c.BlockSeq
}

// SetRelated records an affinity hint: a would like to end up in the same
// register as b.
func (c *Context) SetRelated(a, b IntervalID) {
	c.interval(a).Related = b
}

func (c *Context) sortFixedSchedules() {
	for i := range c.Records {
		refs := c.Records[i].fixedRefs
		sort.Slice(refs, func(a, b int) bool { return refs[a] < refs[b] })
	}
}
