package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/unfreeze"
)

func (a *app) infoCommand() *cobra.Command {
	var entries bool
	cmd := &cobra.Command{
		Use:   "info <binary>",
		Short: "Show the container footer and table of contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			x, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer x.Close() //nolint:errcheck // read-only source

			printInfo(a.stdout, x, entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&entries, "entries", true, "list table of contents entries")
	return cmd
}

func printInfo(w io.Writer, x *unfreeze.Extractor, withEntries bool) {
	h := x.Header()
	order := "little-endian"
	if h.Order == binary.BigEndian {
		order = "big-endian"
	}

	fmt.Fprintf(w, "Python version:  %s\n", x.PyVersion())
	if h.LibName != "" {
		fmt.Fprintf(w, "Library:         %s\n", h.LibName)
	}
	fmt.Fprintf(w, "Footer layout:   %s (%s)\n", h.Layout.Name, order)
	fmt.Fprintf(w, "Magic offset:    %d\n", h.MagicOffset)
	fmt.Fprintf(w, "Container start: %d\n", h.Start)
	fmt.Fprintf(w, "Container size:  %s\n", humanize.IBytes(uint64(h.PackageLength)))
	fmt.Fprintf(w, "TOC:             offset %d, %d bytes\n", h.TOCOffset, h.TOCLength)

	list := x.Entries()
	fmt.Fprintf(w, "Entries:         %d\n", len(list))
	if !withEntries || len(list) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSIZE\tSTORED\tNAME")
	for _, e := range list {
		stored := humanize.IBytes(uint64(e.CompressedLength))
		if !e.Compressed() {
			stored = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.Type.String(),
			humanize.IBytes(uint64(e.UncompressedLength)),
			stored,
			e.Name)
	}
	_ = tw.Flush() //nolint:errcheck // best-effort output
}
