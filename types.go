package unfreeze

import (
	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/carchive"
	"github.com/meigma/unfreeze/internal/source"
)

// Re-export types from internal packages for the public API.
type (
	// ByteSource provides random access to the executable's bytes.
	ByteSource = source.ByteSource

	// Header describes a decoded container footer and its placement.
	Header = carchive.Header

	// Footer holds the raw fields of the container footer.
	Footer = carchive.Footer

	// Entry is one table of contents record.
	Entry = carchive.Entry

	// TypeCode identifies what an entry contains.
	TypeCode = carchive.TypeCode

	// Result records what happened to one entry.
	Result = archtype.Result

	// Outcome is the final state of one extracted entry.
	Outcome = archtype.Outcome

	// ProgressEvent represents a progress update during an extraction run.
	ProgressEvent = archtype.ProgressEvent

	// ProgressStage identifies the current phase of a run.
	ProgressStage = archtype.ProgressStage

	// ProgressFunc receives progress updates during a run.
	// Implementations must be safe for concurrent calls.
	ProgressFunc = archtype.ProgressFunc
)

// Re-export outcome constants.
const (
	OutcomeSucceeded = archtype.OutcomeSucceeded
	OutcomeFailed    = archtype.OutcomeFailed
	OutcomeSkipped   = archtype.OutcomeSkipped
)

// Re-export progress stage constants.
const (
	StageLocating   = archtype.StageLocating
	StageReadingTOC = archtype.StageReadingTOC
	StageExtracting = archtype.StageExtracting
	StageDone       = archtype.StageDone
)

// Re-export entry type codes.
const (
	TypeSource        = carchive.TypeSource
	TypeModule        = carchive.TypeModule
	TypePackage       = carchive.TypePackage
	TypeModuleArchive = carchive.TypeModuleArchive
	TypeZipArchive    = carchive.TypeZipArchive
	TypeExtension     = carchive.TypeExtension
	TypeData          = carchive.TypeData
	TypeSubArchive    = carchive.TypeSubArchive
	TypeOption        = carchive.TypeOption
	TypeDependency    = carchive.TypeDependency
	TypeSplash        = carchive.TypeSplash
)
