// Command lsradump runs the register allocator over a textual program and
// prints the allocation decision table. The input is a txtar archive with a
// "program.lsra" file (progtext format) and, optionally, a "target.yaml"
// overriding the builtin target.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"
	"golang.org/x/tools/txtar"

	"github.com/a235689741023/lsra/ir"
	"github.com/a235689741023/lsra/machine"
	"github.com/a235689741023/lsra/progtext"
	"github.com/a235689741023/lsra/regalloc"
	"github.com/a235689741023/lsra/regstream"
)

var (
	flagTarget string
	flagSVG    string
	flagTrace  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lsradump <archive.txtar>",
		Short: "run linear-scan register allocation and dump the decisions",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	root.Flags().StringVar(&flagTarget, "target", "amd64", "target: amd64, arm64, or a YAML description inside the archive")
	root.Flags().StringVar(&flagSVG, "svg", "", "write a live-range chart to this file")
	root.Flags().BoolVar(&flagTrace, "trace", false, "log every allocation decision")
	return root
}

func run(cmd *cobra.Command, args []string) error {
	ar, err := txtar.ParseFile(args[0])
	if err != nil {
		return err
	}
	var progSrc, targetSrc []byte
	for _, f := range ar.Files {
		switch f.Name {
		case "program.lsra":
			progSrc = f.Data
		case "target.yaml":
			targetSrc = f.Data
		}
	}
	if progSrc == nil {
		return fmt.Errorf("%s: no program.lsra in archive", args[0])
	}

	desc, err := pickTarget(targetSrc)
	if err != nil {
		return err
	}
	prog, err := progtext.Parse(string(progSrc), desc)
	if err != nil {
		return err
	}

	c := regstream.Build(prog, desc)
	c.Stress = stressFromEnv()
	if flagTrace {
		log := logrus.New()
		log.SetLevel(logrus.DebugLevel)
		log.SetOutput(cmd.ErrOrStderr())
		c.Log = log
	}

	if flagSVG != "" {
		// Snapshot the stream before allocation mutates the flags.
		if err := writeLiveRangeSVG(flagSVG, desc, c); err != nil {
			return err
		}
	}

	res := c.Allocate()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "target: %s   blocks: %v\n", desc.Name, res.BlockSeq)
	fmt.Fprint(out, prog)
	fmt.Fprintln(out, "max concurrent spills:")
	for cat := ir.TypeCategory(0); cat < ir.NumTypeCategories; cat++ {
		if n := res.MaxSpill[cat]; n > 0 {
			fmt.Fprintf(out, "  %-7s %d\n", cat, n)
		}
	}
	dumpDecisions(out, desc, c)
	return nil
}

func pickTarget(yamlSrc []byte) (*machine.Description, error) {
	switch flagTarget {
	case "amd64":
		if yamlSrc != nil {
			return machine.Load(yamlSrc)
		}
		return machine.AMD64(), nil
	case "arm64":
		return machine.ARM64(), nil
	default:
		return machine.LoadFile(flagTarget)
	}
}

// stressFromEnv reads the stress knobs: LSRA_STRESS_ROTATE (int),
// LSRA_STRESS_LIMIT (register mask, decimal or 0x hex), and
// LSRA_STRESS_REVERSE (bool).
func stressFromEnv() regalloc.StressConfig {
	cfg := regalloc.StressConfig{
		RotateBlockBoundary: env.Int("LSRA_STRESS_ROTATE", 0),
		ReverseScoring:      env.Bool("LSRA_STRESS_REVERSE"),
	}
	if s := env.Str("LSRA_STRESS_LIMIT"); s != "" {
		mask, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			logrus.Fatalf("LSRA_STRESS_LIMIT: %v", err)
		}
		cfg.LimitRegs = machine.RegMask(mask)
	}
	return cfg
}

func dumpDecisions(out io.Writer, desc *machine.Description, c *regalloc.Context) {
	cfg := spew.Config
	cfg.Indent = "  "
	cfg.DisablePointerAddresses = true
	cfg.DisableCapacities = true
	fmt.Fprintln(out, "refpositions:")
	for i := range c.RefPositions {
		rp := &c.RefPositions[i]
		fmt.Fprintf(out, "  %s", rp)
		if rp.Assignment.OnRegister() {
			fmt.Fprintf(out, " -> %s", desc.RegName(int(rp.Assignment)))
		}
		var flags []byte
		if rp.Reload {
			flags = append(flags, 'R')
		}
		if rp.SpillAfter {
			flags = append(flags, 'S')
		}
		if rp.CopyReg {
			flags = append(flags, 'C')
		}
		if rp.MoveReg {
			flags = append(flags, 'M')
		}
		if len(flags) > 0 {
			fmt.Fprintf(out, " [%s]", flags)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, "intervals:")
	cfg.Fdump(out, c.Intervals)
}
