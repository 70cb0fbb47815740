package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/unfreeze"
	"github.com/meigma/unfreeze/internal/config"
)

type extractFlags struct {
	output       string
	report       string
	workers      int
	overwrite    bool
	moduleDirs   bool
	searchWindow string
	byteOrder    string
	memoryBudget string
}

func (a *app) extractCommand() *cobra.Command {
	var f extractFlags
	cmd := &cobra.Command{
		Use:   "extract <binary>",
		Short: "Extract every bundled file from a frozen executable",
		Long: `Extract writes every entry of the embedded container to the output
directory (default: <binary>_extracted). Entries that fail are reported and
skipped; the command only fails when the container itself cannot be read.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, &a.cfg.Extract)
			if err := config.Validate(a.cfg); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}
			return a.runExtract(cmd, args[0], &f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", "", "output directory (default: <binary>_extracted)")
	flags.StringVar(&f.report, "report", "", "write a YAML report of every entry to this file")
	flags.IntVarP(&f.workers, "workers", "w", 0, "concurrent entries (0 = number of CPUs)")
	flags.BoolVar(&f.overwrite, "overwrite", false, "replace files that already exist")
	flags.BoolVar(&f.moduleDirs, "module-dirs", false, "unpack module archives into <name>_extracted/")
	flags.StringVar(&f.searchWindow, "search-window", "", "trailing bytes searched for the container magic (0 = whole file)")
	flags.StringVar(&f.byteOrder, "byte-order", "", "preferred footer byte order: little or big")
	flags.StringVar(&f.memoryBudget, "memory-budget", "", "bytes held by in-flight entries (0 = unlimited)")
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (f *extractFlags) apply(cmd *cobra.Command, cfg *config.ExtractConfig) {
	changed := cmd.Flags().Changed
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("overwrite") {
		cfg.Overwrite = f.overwrite
	}
	if changed("module-dirs") {
		cfg.ModuleDirs = f.moduleDirs
	}
	if changed("search-window") {
		cfg.SearchWindow = f.searchWindow
	}
	if changed("byte-order") {
		cfg.ByteOrder = f.byteOrder
	}
	if changed("memory-budget") {
		cfg.MemoryBudget = f.memoryBudget
	}
}

func (a *app) runExtract(cmd *cobra.Command, input string, f *extractFlags) error {
	var extra []unfreeze.Option
	if !a.quiet {
		extra = append(extra, unfreeze.WithProgress(newProgressReporter(a.stderr).Handle))
	}

	x, err := a.open(input, extra...)
	if err != nil {
		return err
	}
	defer x.Close() //nolint:errcheck // read-only source

	out := f.output
	if out == "" {
		out = input + "_extracted"
	}

	report, err := x.Extract(cmd.Context(), out)
	if report != nil {
		a.printSummary(a.stdout, input, report)
		if f.report != "" {
			if werr := writeReportFile(f.report, input, report); werr != nil && err == nil {
				err = werr
			}
		}
	}
	return err
}

// printSummary prints totals and one line per failed entry. Failures are
// printed even in quiet mode.
func (a *app) printSummary(w io.Writer, input string, r *unfreeze.Report) {
	if !a.quiet {
		fmt.Fprintf(w, "Extracted %s (Python %s) to %s\n", input, r.PyVersion, r.OutputDir)
		fmt.Fprintf(w, "  %d written (%s), %d skipped, %d failed\n",
			r.Succeeded, humanize.IBytes(r.BytesWritten), r.Skipped, r.Failed)
	}
	for _, res := range r.Failures() {
		fmt.Fprintf(w, "  failed: %s: %v\n", res.Name, res.Err)
	}
}
