package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// rootFlag is shared by every command that scans the kernel sources.
type rootFlag struct {
	root string
}

func (r *rootFlag) register(f *flag.FlagSet) {
	f.StringVar(&r.root, "root", ".", "path to the module root containing go.mod and kernel/")
}

// scan collects the redirects declared below the kernel folder.
func (r *rootFlag) scan() ([]*redirect, error) {
	if info, err := os.Stat(filepath.Join(r.root, "kernel")); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: no kernel folder; this tool must be run from the module root", r.root)
	}

	modPath, err := modulePath(r.root)
	if err != nil {
		return nil, err
	}

	goFiles, err := collectGoFiles(r.root, "kernel")
	if err != nil {
		return nil, err
	}

	redirects, err := findRedirects(r.root, modPath, goFiles)
	if err != nil {
		return nil, err
	}

	for _, rd := range redirects {
		logrus.WithFields(logrus.Fields{"src": rd.src, "dst": rd.dst}).Debug("found redirect")
	}
	return redirects, nil
}

// countCmd implements subcommands.Command for the "count" command.
type countCmd struct {
	rootFlag
	out io.Writer
}

// Name implements subcommands.Command.Name.
func (*countCmd) Name() string { return "count" }

// Synopsis implements subcommands.Command.Synopsis.
func (*countCmd) Synopsis() string { return "print the number of redirects in the kernel sources" }

// Usage implements subcommands.Command.Usage.
func (*countCmd) Usage() string {
	return `count [-root dir] - print the number of go:redirect-from annotations.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *countCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

// Execute implements subcommands.Command.Execute.
func (c *countCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	redirects, err := c.scan()
	if err != nil {
		logrus.WithError(err).Error("scanning kernel sources failed")
		return subcommands.ExitFailure
	}

	fmt.Fprintf(outputOrStdout(c.out), "%d", len(redirects))
	return subcommands.ExitSuccess
}

// populateCmd implements subcommands.Command for the "populate-table" command.
type populateCmd struct {
	rootFlag
}

// Name implements subcommands.Command.Name.
func (*populateCmd) Name() string { return "populate-table" }

// Synopsis implements subcommands.Command.Synopsis.
func (*populateCmd) Synopsis() string {
	return "write the resolved redirect addresses into a kernel image"
}

// Usage implements subcommands.Command.Usage.
func (*populateCmd) Usage() string {
	return `populate-table [-root dir] <image> - resolve every redirect in the kernel
image and write the address pairs into its ` + redirectTableSection + ` section.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *populateCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

// Execute implements subcommands.Command.Execute.
func (c *populateCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	imgFile := f.Arg(0)
	log := logrus.WithField("image", imgFile)

	redirects, err := c.scan()
	if err != nil {
		log.WithError(err).Error("scanning kernel sources failed")
		return subcommands.ExitFailure
	}

	if err = elfResolveRedirectSymbols(redirects, imgFile); err != nil {
		log.WithError(err).Error("resolving redirect symbols failed")
		return subcommands.ExitFailure
	}

	if err = elfWriteRedirectTable(redirects, imgFile); err != nil {
		log.WithError(err).Error("writing redirect table failed")
		return subcommands.ExitFailure
	}

	log.WithField("redirects", len(redirects)).Info("redirect table populated")
	return subcommands.ExitSuccess
}

func outputOrStdout(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
