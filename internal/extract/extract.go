// Package extract turns table of contents entries into files.
//
// An Extractor reads an entry's byte range, inflates it, and writes one
// file per entry. Scripts are written as stored, module entries become
// compiled-module files with a header, and nested module archives are
// unpacked into one file per record.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"runtime"

	digest "github.com/opencontainers/go-digest"
	"github.com/remeh/sizedwaitgroup"

	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/batch"
	"github.com/meigma/unfreeze/internal/carchive"
	"github.com/meigma/unfreeze/internal/inflate"
	"github.com/meigma/unfreeze/internal/pathutil"
	"github.com/meigma/unfreeze/internal/pyc"
	"github.com/meigma/unfreeze/internal/pyz"
	"github.com/meigma/unfreeze/internal/sizing"
	"github.com/meigma/unfreeze/internal/source"
)

// moduleDirSuffix is appended to a module archive's name when its records
// are placed in their own directory.
const moduleDirSuffix = "_extracted"

// Extractor extracts entries of one container. It is safe for concurrent use.
type Extractor struct {
	src    source.ByteSource
	header *carchive.Header
	sink   batch.Sink

	pool          *inflate.Pool
	moduleDirs    bool
	maxModuleSize uint64
	workers       int
	logger        *slog.Logger

	version pyc.Version
	magic   pyc.Magic
	known   bool
}

// log returns the logger, falling back to a discard logger if nil.
func (e *Extractor) log() *slog.Logger {
	if e.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPool sets the decoder pool. Defaults to a new pool.
func WithPool(pool *inflate.Pool) Option {
	return func(e *Extractor) {
		e.pool = pool
	}
}

// WithModuleArchiveDirs places the records of each nested module archive
// under "<entry name>_extracted/" instead of the output root.
func WithModuleArchiveDirs(enabled bool) Option {
	return func(e *Extractor) {
		e.moduleDirs = enabled
	}
}

// WithMaxModuleSize limits the decompressed size of each module record.
func WithMaxModuleSize(limit uint64) Option {
	return func(e *Extractor) {
		e.maxModuleSize = limit
	}
}

// WithWorkers sets how many module records of one archive are unpacked
// concurrently. Values <= 0 use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		e.workers = n
	}
}

// WithLogger sets the logger. If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// New creates an Extractor for the container described by h, writing
// through sink.
func New(src source.ByteSource, h *carchive.Header, sink batch.Sink, opts ...Option) *Extractor {
	e := &Extractor{
		src:           src,
		header:        h,
		sink:          sink,
		maxModuleSize: pyz.DefaultMaxModuleSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pool == nil {
		e.pool = inflate.NewPool()
	}
	major, minor := h.PyMajorMinor()
	e.version = pyc.Version{Major: major, Minor: minor}
	e.magic, e.known = pyc.MagicFor(e.version)
	return e
}

// Extract extracts one entry and reports the outcome. Failures are confined
// to the returned Result.
func (e *Extractor) Extract(ctx context.Context, entry carchive.Entry) archtype.Result {
	res := archtype.Result{Name: entry.Name, Type: byte(entry.Type)}
	switch entry.Type {
	case carchive.TypeOption, carchive.TypeDependency:
		res.Outcome = archtype.OutcomeSkipped
		res.Err = archtype.ErrNoContent
		return res
	}

	name, err := pathutil.Clean(entry.Name)
	if err != nil {
		return fail(res, err)
	}
	if err := ctx.Err(); err != nil {
		return fail(res, err)
	}
	data, err := e.Payload(entry)
	if err != nil {
		return fail(res, err)
	}

	switch entry.Type {
	case carchive.TypeModuleArchive:
		return e.unpackModules(ctx, res, name, data)
	case carchive.TypeZipArchive:
		if !pyz.HasMagic(data) {
			return e.write(res, name, data)
		}
		return e.unpackModules(ctx, res, name, data)
	case carchive.TypeSource:
		return e.write(res, scriptPath(name), data)
	case carchive.TypeModule, carchive.TypePackage:
		p, content := e.compiledModule(name, data)
		return e.write(res, p, content)
	default:
		return e.write(res, name, data)
	}
}

// AdoptArchiveMagic takes the compiled-module magic from the first usable
// module archive among entries when the container's interpreter version is
// missing from the magic table. It must be called before Extract.
func (e *Extractor) AdoptArchiveMagic(entries []carchive.Entry) {
	if e.known {
		return
	}
	for _, entry := range entries {
		if entry.Type != carchive.TypeModuleArchive && entry.Type != carchive.TypeZipArchive {
			continue
		}
		data, err := e.Payload(entry)
		if err != nil || !pyz.HasMagic(data) {
			continue
		}
		a, err := pyz.Open(data, e.header.Order, pyz.WithPool(e.pool), pyz.WithMaxModuleSize(e.maxModuleSize))
		if err != nil {
			continue
		}
		v, m, err := a.ResolveVersion(e.version)
		if err != nil {
			continue
		}
		e.log().Debug("using module archive magic for compiled modules",
			"entry", entry.Name, "container_version", e.version.String(), "magic", fmt.Sprintf("%x", m[:]))
		e.version, e.magic, e.known = v, m, true
		return
	}
}

// scriptPath appends ".pyc" to script names without an extension.
func scriptPath(name string) string {
	if pathutil.HasExt(name) {
		return name
	}
	return name + ".pyc"
}

// Payload returns the uncompressed bytes of entry.
//
// The stored range must lie inside the container. A stored entry must
// declare equal compressed and uncompressed lengths; a compressed entry must
// inflate to exactly its declared length.
func (e *Extractor) Payload(entry carchive.Entry) ([]byte, error) {
	off, n := uint64(entry.DataOffset), uint64(entry.CompressedLength)
	if !sizing.InBounds(off, n, uint64(e.header.PackageLength)) {
		return nil, fmt.Errorf("%w: data range [%d, +%d) outside container of %d bytes",
			archtype.ErrOutOfBounds, off, n, e.header.PackageLength)
	}
	raw, err := source.Slice(e.src, e.header.Start+off, n)
	if err != nil {
		return nil, err
	}

	switch entry.Flag {
	case carchive.FlagStored:
		if entry.CompressedLength != entry.UncompressedLength {
			return nil, fmt.Errorf("%w: stored entry declares %d bytes but holds %d",
				archtype.ErrDecompression, entry.UncompressedLength, entry.CompressedLength)
		}
		return raw, nil
	case carchive.FlagCompressed:
		return e.pool.Decompress(raw, uint64(entry.UncompressedLength))
	default:
		return nil, fmt.Errorf("%w: unknown compression flag %d", archtype.ErrDecompression, entry.Flag)
	}
}

// compiledModule plans the file for a module entry. Names that already
// carry an extension are written verbatim.
func (e *Extractor) compiledModule(name string, data []byte) (string, []byte) {
	if pathutil.HasExt(name) {
		return name, data
	}
	p := scriptPath(name)
	if pyc.HasHeader(data) {
		return p, data
	}
	if !e.known {
		e.log().Warn("no compiled-module magic for interpreter version, writing without header",
			"entry", name, "version", e.version.String())
		return p, data
	}
	header := pyc.Header(e.version, e.magic)
	out := make([]byte, 0, len(header)+len(data))
	out = append(out, header...)
	out = append(out, data...)
	return p, out
}

// unpackModules writes every record of a nested module archive. Records are
// unpacked concurrently and reported as children of res.
func (e *Extractor) unpackModules(ctx context.Context, res archtype.Result, name string, data []byte) archtype.Result {
	a, err := pyz.Open(data, e.header.Order, pyz.WithPool(e.pool), pyz.WithMaxModuleSize(e.maxModuleSize))
	if err != nil {
		return fail(res, fmt.Errorf("%s: %w", name, err))
	}
	v, m, err := a.ResolveVersion(e.version)
	if err != nil {
		return fail(res, fmt.Errorf("%s: %w", name, err))
	}

	var base string
	if e.moduleDirs {
		base = name + moduleDirSuffix
		res.Path = base
	}
	e.log().Debug("unpacking module archive", "entry", name, "records", len(a.Records), "version", v.String())

	children := make([]archtype.Result, len(a.Records))
	swg := sizedwaitgroup.New(e.workerCount(len(a.Records)))
	for i, rec := range a.Records {
		if err := ctx.Err(); err != nil {
			children[i] = fail(archtype.Result{Name: rec.Name, Type: moduleType(rec)}, err)
			continue
		}
		swg.Add()
		go func() {
			defer swg.Done()
			children[i] = e.module(a, rec, v, m, base)
		}()
	}
	swg.Wait()

	res.Outcome = archtype.OutcomeSucceeded
	res.Children = children
	return res
}

func (e *Extractor) module(a *pyz.Archive, rec pyz.Record, v pyc.Version, m pyc.Magic, base string) archtype.Result {
	res := archtype.Result{Name: rec.Name, Type: moduleType(rec)}
	mod, err := a.Module(rec, v, m)
	if err != nil {
		return fail(res, err)
	}
	p := mod.Path
	if base != "" {
		p = path.Join(base, p)
	}
	return e.write(res, p, mod.Data)
}

func (e *Extractor) write(res archtype.Result, p string, content []byte) archtype.Result {
	res.Path = p
	wrote, err := batch.Put(e.sink, p, content)
	if err != nil {
		return fail(res, err)
	}
	if !wrote {
		res.Outcome = archtype.OutcomeSkipped
		res.Err = archtype.ErrExists
		return res
	}
	res.Outcome = archtype.OutcomeSucceeded
	res.Size = uint64(len(content))
	res.Digest = digest.FromBytes(content)
	e.log().Debug("extracted", "path", p, "size", res.Size)
	return res
}

func (e *Extractor) workerCount(n int) int {
	workers := e.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return max(min(workers, n), 1)
}

func moduleType(rec pyz.Record) byte {
	if rec.IsPackage {
		return byte(carchive.TypePackage)
	}
	return byte(carchive.TypeModule)
}

func fail(res archtype.Result, err error) archtype.Result {
	res.Outcome = archtype.OutcomeFailed
	res.Err = err
	return res
}
