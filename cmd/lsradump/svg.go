package main

import (
	"fmt"
	"os"

	svg "github.com/ajstarks/svgo"

	"github.com/a235689741023/lsra/ir"
	"github.com/a235689741023/lsra/machine"
	"github.com/a235689741023/lsra/regalloc"
)

const (
	svgRowH  = 18
	svgColW  = 60
	svgTextW = 160
	svgTop   = 60
)

// writeLiveRangeSVG draws one column per interval and one row per program
// location that carries at least one reference. Defs are hollow circles,
// uses filled ones; a vertical bar spans each interval's live range.
func writeLiveRangeSVG(fn string, desc *machine.Description, c *regalloc.Context) error {
	fp, err := os.OpenFile(fn, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer fp.Close()

	// Collapse the location axis to rows that have interval references.
	rowOf := make(map[regalloc.Location]int)
	var rows []regalloc.Location
	for i := range c.RefPositions {
		rp := &c.RefPositions[i]
		if rp.Interval == regalloc.NoInterval && rp.Type != regalloc.RefTypeBB {
			continue
		}
		if _, ok := rowOf[rp.Location]; !ok {
			rowOf[rp.Location] = len(rows)
			rows = append(rows, rp.Location)
		}
	}

	p := svg.New(fp)
	p.Start(svgTextW+len(c.Intervals)*svgColW+50, svgTop+len(rows)*svgRowH+50)
	p.Rect(0, 0, svgTextW+len(c.Intervals)*svgColW+50, svgTop+len(rows)*svgRowH+50, "fill:white")

	for i := range c.RefPositions {
		rp := &c.RefPositions[i]
		if rp.Type != regalloc.RefTypeBB {
			continue
		}
		y := svgTop + rowOf[rp.Location]*svgRowH
		p.Text(8, y+4, fmt.Sprintf("bb%d", rp.Block), "fill:gray;font-size:12px;font-family:monospace")
		p.Line(4, y-svgRowH/2, svgTextW+len(c.Intervals)*svgColW, y-svgRowH/2, "stroke:lightgray")
	}
	for r, loc := range rows {
		y := svgTop + r*svgRowH
		p.Text(svgTextW-8, y+4, fmt.Sprintf("%d", loc), "fill:black;font-size:12px;font-family:monospace;text-anchor:end")
	}

	for id := range c.Intervals {
		ivl := &c.Intervals[id]
		if ivl.First == regalloc.NoRefPosition {
			continue
		}
		x := svgTextW + id*svgColW + svgColW/2
		label := fmt.Sprintf("i%d", id)
		if ivl.Var != ir.NoVar {
			label = fmt.Sprintf("v%d", ivl.Var)
		}
		p.Text(x, svgTop-24, label, "fill:black;font-size:12px;font-family:monospace;text-anchor:middle")

		first := &c.RefPositions[ivl.First]
		last := &c.RefPositions[ivl.Last]
		p.Line(x, svgTop+rowOf[first.Location]*svgRowH, x, svgTop+rowOf[last.Location]*svgRowH, "stroke:black;stroke-width:2")
		for rid := ivl.First; rid != regalloc.NoRefPosition; {
			rp := &c.RefPositions[rid]
			y := svgTop + rowOf[rp.Location]*svgRowH
			if rp.Type.IsDef() {
				p.Circle(x, y, 4, "fill:white;stroke:black;stroke-width:2")
			} else {
				p.Circle(x, y, 4, "fill:black;stroke:black;stroke-width:2")
			}
			if rp.Assignment.OnRegister() {
				p.Text(x+8, y+4, desc.RegName(int(rp.Assignment)), "fill:darkblue;font-size:10px;font-family:monospace")
			}
			rid = rp.Next
		}
	}

	p.End()
	return nil
}
