package batch

import "github.com/meigma/unfreeze/internal/archtype"

// ProcessStats contains statistics from a batch processing operation.
//
// Records of nested module archives are counted alongside top-level entries.
type ProcessStats struct {
	// Succeeded is the number of files written.
	Succeeded int

	// Failed is the number of entries or records that failed.
	Failed int

	// Skipped is the number of entries that produced no file.
	Skipped int

	// TotalBytes is the number of bytes written.
	TotalBytes uint64
}

// Tally computes statistics over results and their children.
func Tally(results []archtype.Result) ProcessStats {
	var s ProcessStats
	for i := range results {
		s.add(&results[i])
	}
	return s
}

// add accumulates r and its children into s.
func (s *ProcessStats) add(r *archtype.Result) {
	if len(r.Children) > 0 {
		for i := range r.Children {
			s.add(&r.Children[i])
		}
		if r.Outcome != archtype.OutcomeFailed {
			return
		}
	}
	switch r.Outcome {
	case archtype.OutcomeSucceeded:
		s.Succeeded++
		s.TotalBytes += r.Size
	case archtype.OutcomeFailed:
		s.Failed++
	case archtype.OutcomeSkipped:
		s.Skipped++
	}
}
