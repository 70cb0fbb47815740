package archtype

import digest "github.com/opencontainers/go-digest"

// Outcome is the final state of one extracted entry.
type Outcome uint8

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result records what happened to one entry.
//
// Top-level results correspond to table of contents entries. Results for
// records of a nested module archive are attached as Children.
type Result struct {
	// Name is the entry name as stored in the container.
	Name string

	// Type is the entry type code.
	Type byte

	// Path is the destination relative to the output root, slash-separated.
	// Empty when the entry produced no file.
	Path string

	// Outcome is the final state of the entry.
	Outcome Outcome

	// Err holds the failure reason when Outcome is OutcomeFailed, or the
	// skip reason when Outcome is OutcomeSkipped.
	Err error

	// Size is the number of bytes written.
	Size uint64

	// Digest is the digest of the bytes written.
	Digest digest.Digest

	// Children holds per-record results for nested module archives.
	Children []Result
}

// Failed reports whether this result or any of its children failed.
func (r *Result) Failed() bool {
	if r.Outcome == OutcomeFailed {
		return true
	}
	for i := range r.Children {
		if r.Children[i].Failed() {
			return true
		}
	}
	return false
}
