// Package unfreeze recovers the files bundled inside a frozen Python
// executable.
//
// A frozen executable is a native launcher followed by a container: the
// bundled files, a table of contents, and a fixed-size footer that starts
// with an 8-byte magic. The package finds the footer, decodes the table of
// contents, and writes every entry beneath an output directory. Scripts and
// modules become compiled-module (.pyc) files; nested module archives are
// unpacked into one file per module.
//
// # Quick Start
//
// Extract everything next to the executable:
//
//	x, err := unfreeze.Open("dist/app.exe")
//	if err != nil {
//	    return err
//	}
//	defer x.Close()
//	report, err := x.Extract(ctx, "dist/app.exe_extracted")
//	if err != nil {
//	    return err
//	}
//	for _, r := range report.Failures() {
//	    log.Printf("%s: %v", r.Name, r.Err)
//	}
//
// # Errors
//
// Open and New fail with [ErrMagicNotFound], [ErrHeaderCorrupt] or
// [ErrTocCorrupt] when the input is not a usable container. Extract fails
// only when the output directory cannot be written or the context is
// canceled; problems with individual entries are reported per entry in the
// [Report] and never stop the remaining entries.
package unfreeze
