package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"gopher32/kernel/mm/mmap"
)

// configFlag is shared by every command that needs a machine config.
type configFlag struct {
	path string
}

func (c *configFlag) register(f *flag.FlagSet) {
	f.StringVar(&c.path, "config", "", "path to a TOML machine config; defaults to the reference layout")
}

func (c *configFlag) load() (*config, subcommands.ExitStatus) {
	cfg, err := loadConfig(c.path)
	if err != nil {
		logrus.WithError(err).Error("invalid configuration")
		return nil, subcommands.ExitUsageError
	}
	return cfg, subcommands.ExitSuccess
}

// layoutCmd implements subcommands.Command for the "layout" command.
type layoutCmd struct {
	configFlag
	out io.Writer
}

// Name implements subcommands.Command.Name.
func (*layoutCmd) Name() string { return "layout" }

// Synopsis implements subcommands.Command.Synopsis.
func (*layoutCmd) Synopsis() string { return "print the physical memory map of the machine" }

// Usage implements subcommands.Command.Usage.
func (*layoutCmd) Usage() string {
	return `layout [-config file] - print the physical memory map of the machine.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *layoutCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

// Execute implements subcommands.Command.Execute.
func (c *layoutCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, status := c.load()
	if status != subcommands.ExitSuccess {
		return status
	}

	sim := newSimulator(cfg.Machine, logrus.StandardLogger())
	if err := sim.buildMap(); err != nil {
		logrus.WithError(err).Error("building memory map failed")
		return subcommands.ExitFailure
	}

	writeLayout(outputOrStdout(c.out), &sim.memMap)
	return subcommands.ExitSuccess
}

func writeLayout(out io.Writer, memMap *mmap.Map) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "START\tEND\tSIZE\tTYPE")
	memMap.Visit(func(s *mmap.Section) bool {
		fmt.Fprintf(w, "0x%08x\t0x%08x\t%d\t%s\n", s.Start, s.End, uint64(s.Size()), s.Type)
		return true
	})
	w.Flush()
}

// bootCmd implements subcommands.Command for the "boot" command.
type bootCmd struct {
	configFlag
	out io.Writer
}

// Name implements subcommands.Command.Name.
func (*bootCmd) Name() string { return "boot" }

// Synopsis implements subcommands.Command.Synopsis.
func (*bootCmd) Synopsis() string { return "run the memory management boot sequence" }

// Usage implements subcommands.Command.Usage.
func (*bootCmd) Usage() string {
	return `boot [-config file] - run the memory management boot sequence and report the resulting state.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *bootCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

// Execute implements subcommands.Command.Execute.
func (c *bootCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, status := c.load()
	if status != subcommands.ExitSuccess {
		return status
	}

	sim := newSimulator(cfg.Machine, logrus.StandardLogger())
	if err := sim.boot(); err != nil {
		logrus.WithError(err).Error("boot failed")
		return subcommands.ExitFailure
	}

	writeReport(outputOrStdout(c.out), sim.report())
	return subcommands.ExitSuccess
}

func writeReport(out io.Writer, r bootReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "frames\t%d total, %d reserved, %d free\n", r.TotalFrames, r.ReservedFrames, r.FreeFrames)
	fmt.Fprintf(w, "page directory\t0x%08x\n", r.PDTAddr)
	fmt.Fprintf(w, "page tables\t%d\n", r.PageTables)
	fmt.Fprintf(w, "paging enabled\t%t\n", r.PagingEnabled)
	fmt.Fprintf(w, "tlb flushes\t%d\n", r.TLBFlushes)
	fmt.Fprintf(w, "frames touched\t%d\n", r.FramesTouched)
	w.Flush()
}

// runCmd implements subcommands.Command for the "run" command.
type runCmd struct {
	configFlag
}

// Name implements subcommands.Command.Name.
func (*runCmd) Name() string { return "run" }

// Synopsis implements subcommands.Command.Synopsis.
func (*runCmd) Synopsis() string { return "boot and execute a script of memory operations" }

// Usage implements subcommands.Command.Usage.
func (*runCmd) Usage() string {
	return `run [-config file] <script.toml> - boot and execute the [[op]] entries of a script.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *runCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

// Execute implements subcommands.Command.Execute.
func (c *runCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg, status := c.load()
	if status != subcommands.ExitSuccess {
		return status
	}

	sc, err := loadScript(f.Arg(0))
	if err != nil {
		logrus.WithError(err).Error("invalid script")
		return subcommands.ExitUsageError
	}

	sim := newSimulator(cfg.Machine, logrus.StandardLogger())
	if err := sim.boot(); err != nil {
		logrus.WithError(err).Error("boot failed")
		return subcommands.ExitFailure
	}

	failures, err := sim.run(sc)
	if err != nil {
		logrus.WithError(err).Error("script aborted")
		return subcommands.ExitFailure
	}

	if failures > 0 {
		logrus.WithField("failures", failures).Error("script did not behave as expected")
		return subcommands.ExitFailure
	}

	logrus.WithField("ops", len(sc.Ops)).Info("script completed")
	return subcommands.ExitSuccess
}

func outputOrStdout(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
