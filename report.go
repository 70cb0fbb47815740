package unfreeze

import "github.com/meigma/unfreeze/internal/batch"

// Report summarizes an extraction run.
//
// Counts include the modules of nested module archives.
type Report struct {
	// OutputDir is the directory entries were written to.
	OutputDir string

	// PyVersion is the interpreter version recorded in the container.
	PyVersion string

	// Results holds one result per table of contents entry, in stored order.
	Results []Result

	// Succeeded is the number of files written.
	Succeeded int

	// Failed is the number of entries and modules that failed.
	Failed int

	// Skipped is the number of entries that produced no file.
	Skipped int

	// BytesWritten is the number of bytes written.
	BytesWritten uint64
}

func newReport(outDir, version string, results []Result) *Report {
	stats := batch.Tally(results)
	return &Report{
		OutputDir:    outDir,
		PyVersion:    version,
		Results:      results,
		Succeeded:    stats.Succeeded,
		Failed:       stats.Failed,
		Skipped:      stats.Skipped,
		BytesWritten: stats.TotalBytes,
	}
}

// Failures returns every failed result, including failed modules of nested
// module archives, in stored order.
func (r *Report) Failures() []Result {
	var out []Result
	var walk func(results []Result)
	walk = func(results []Result) {
		for _, res := range results {
			if res.Outcome == OutcomeFailed {
				out = append(out, res)
			}
			walk(res.Children)
		}
	}
	walk(r.Results)
	return out
}

// OK reports whether every entry and module was extracted or skipped.
func (r *Report) OK() bool {
	return r.Failed == 0
}
