package archtype

// ProgressEvent represents a progress update during an extraction run.
type ProgressEvent struct {
	// Stage identifies the current phase of the run.
	Stage ProgressStage

	// Path is the entry currently being processed, if applicable.
	Path string

	// BytesDone is the number of uncompressed bytes written so far.
	BytesDone uint64

	// EntriesDone is the number of top-level entries finished.
	EntriesDone int

	// EntriesTotal is the number of top-level entries in the table of contents.
	// Zero indicates the total is not known yet.
	EntriesTotal int
}

// ProgressStage identifies the current phase of a run.
type ProgressStage uint8

// Progress stages for an extraction run.
const (
	// StageLocating indicates the container magic is being searched for.
	StageLocating ProgressStage = iota

	// StageReadingTOC indicates the table of contents is being decoded.
	StageReadingTOC

	// StageExtracting indicates entries are being extracted.
	StageExtracting

	// StageDone indicates all entries have been processed.
	StageDone
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageLocating:
		return "locating"
	case StageReadingTOC:
		return "reading toc"
	case StageExtracting:
		return "extracting"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during a run.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
