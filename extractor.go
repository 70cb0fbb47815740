package unfreeze

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/batch"
	"github.com/meigma/unfreeze/internal/carchive"
	"github.com/meigma/unfreeze/internal/cookie"
	"github.com/meigma/unfreeze/internal/extract"
	"github.com/meigma/unfreeze/internal/inflate"
	"github.com/meigma/unfreeze/internal/pyz"
	"github.com/meigma/unfreeze/internal/source"
)

// Extractor holds a decoded container and extracts its entries.
//
// The container footer and the whole table of contents are decoded when the
// Extractor is created, before anything is written. An Extractor is safe for
// concurrent use.
type Extractor struct {
	src     source.ByteSource
	closer  io.Closer
	header  *carchive.Header
	entries []carchive.Entry
	pool    *inflate.Pool

	workers       int
	window        int64
	order         binary.ByteOrder
	overwrite     bool
	moduleDirs    bool
	memoryBudget  uint64
	maxModuleSize uint64
	logger        *slog.Logger
	progress      ProgressFunc
}

// log returns the logger, falling back to a discard logger if nil.
func (x *Extractor) log() *slog.Logger {
	if x.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return x.logger
}

func (x *Extractor) emit(ev ProgressEvent) {
	if x.progress != nil {
		x.progress(ev)
	}
}

// Open opens the executable at path and decodes its container.
// The returned Extractor must be closed.
func Open(path string, opts ...Option) (*Extractor, error) {
	f, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	x, err := New(f, opts...)
	if err != nil {
		_ = f.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	x.closer = f
	return x, nil
}

// New decodes the container in src.
//
// It returns ErrMagicNotFound, ErrHeaderCorrupt or ErrTocCorrupt when src is
// not a usable container.
func New(src ByteSource, opts ...Option) (*Extractor, error) {
	x := &Extractor{
		src:           src,
		window:        cookie.DefaultWindow,
		maxModuleSize: pyz.DefaultMaxModuleSize,
		pool:          inflate.NewPool(),
	}
	for _, opt := range opts {
		opt(x)
	}

	x.emit(ProgressEvent{Stage: StageLocating})
	magicOffset, err := cookie.Locate(src, x.window)
	if err != nil {
		return nil, err
	}
	header, err := carchive.DecodeHeader(src, uint64(magicOffset), x.byteOrders()...) //nolint:gosec // Locate never returns a negative offset
	if err != nil {
		return nil, err
	}
	x.header = header
	x.log().Debug("located container",
		"magic_offset", magicOffset,
		"start", header.Start,
		"layout", header.Layout.Name,
		"byte_order", header.Order.String(),
		"python", x.PyVersion())

	x.emit(ProgressEvent{Stage: StageReadingTOC})
	entries, err := carchive.ReadAll(src, header)
	if err != nil {
		return nil, err
	}
	x.entries = entries
	x.log().Debug("read table of contents", "entries", len(entries))
	return x, nil
}

// byteOrders returns the footer byte orders to try, preferred first.
func (x *Extractor) byteOrders() []binary.ByteOrder {
	if x.order == nil {
		return carchive.ByteOrders
	}
	orders := []binary.ByteOrder{x.order}
	for _, o := range carchive.ByteOrders {
		if o != x.order {
			orders = append(orders, o)
		}
	}
	return orders
}

// Close releases the input file when the Extractor was created by Open.
func (x *Extractor) Close() error {
	if x.closer == nil {
		return nil
	}
	return x.closer.Close()
}

// Header returns the decoded container header.
func (x *Extractor) Header() Header {
	return *x.header
}

// Entries returns the table of contents in stored order.
func (x *Extractor) Entries() []Entry {
	return slices.Clone(x.entries)
}

// PyVersion returns the interpreter version recorded in the footer as
// "major.minor".
func (x *Extractor) PyVersion() string {
	major, minor := x.header.PyMajorMinor()
	return fmt.Sprintf("%d.%d", major, minor)
}

// Extract writes every entry beneath outDir, creating it if needed.
//
// It returns an error wrapping ErrIO when outDir cannot be written, before
// any entry is processed, and the context error when ctx is canceled. All
// other problems are reported per entry in the Report.
func (x *Extractor) Extract(ctx context.Context, outDir string) (*Report, error) {
	sink, err := batch.OpenFileSink(outDir, batch.WithOverwrite(x.overwrite))
	if err != nil {
		return nil, err
	}
	defer sink.Close() //nolint:errcheck // nothing left to flush

	ex := extract.New(x.src, x.header, sink,
		extract.WithPool(x.pool),
		extract.WithModuleArchiveDirs(x.moduleDirs),
		extract.WithMaxModuleSize(x.maxModuleSize),
		extract.WithWorkers(x.workers),
		extract.WithLogger(x.logger),
	)
	ex.AdoptArchiveMagic(x.entries)

	jobs := make([]batch.Job, len(x.entries))
	for i, entry := range x.entries {
		jobs[i] = batch.Job{
			Name: entry.Name,
			Type: byte(entry.Type),
			Cost: uint64(entry.CompressedLength) + uint64(entry.UncompressedLength),
			Run: func(ctx context.Context) archtype.Result {
				return ex.Extract(ctx, entry)
			},
		}
	}

	total := len(jobs)
	var done atomic.Int64
	var written atomic.Uint64
	x.emit(ProgressEvent{Stage: StageExtracting, EntriesTotal: total})
	proc := batch.NewProcessor(
		batch.WithWorkers(x.workers),
		batch.WithMemoryBudget(x.memoryBudget),
		batch.WithProcessorLogger(x.logger),
		batch.WithResultHook(func(r archtype.Result) {
			x.logFailures(&r)
			n := written.Add(batch.Tally([]archtype.Result{r}).TotalBytes)
			x.emit(ProgressEvent{
				Stage:        StageExtracting,
				Path:         r.Name,
				BytesDone:    n,
				EntriesDone:  int(done.Add(1)),
				EntriesTotal: total,
			})
		}),
	)
	results, err := proc.Process(ctx, jobs)
	report := newReport(outDir, x.PyVersion(), results)
	if err != nil {
		return report, err
	}
	x.emit(ProgressEvent{Stage: StageDone, BytesDone: report.BytesWritten, EntriesDone: total, EntriesTotal: total})
	x.log().Debug("extraction finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"bytes", report.BytesWritten)
	return report, nil
}

func (x *Extractor) logFailures(r *archtype.Result) {
	if r.Outcome == archtype.OutcomeFailed {
		x.log().Warn("entry failed", "entry", r.Name, "type", carchive.TypeCode(r.Type).String(), "error", r.Err)
	}
	for i := range r.Children {
		x.logFailures(&r.Children[i])
	}
}
