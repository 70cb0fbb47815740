// Command profiler runs unfreeze workloads in a loop under the Go profilers.
//
// It extracts a real frozen executable (-input) or a synthetic one generated
// from the flags, and can write CPU, heap, trace and wall-clock profiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/felixge/fgprof"

	"github.com/meigma/unfreeze"
	"github.com/meigma/unfreeze/internal/carchive"
	"github.com/meigma/unfreeze/internal/cookie"
	"github.com/meigma/unfreeze/internal/extract"
	"github.com/meigma/unfreeze/internal/inflate"
	"github.com/meigma/unfreeze/internal/source"
	"github.com/meigma/unfreeze/internal/testutil"
)

type config struct {
	mode         string
	input        string
	entries      int
	entrySize    int
	modules      int
	compression  string
	pattern      string
	workers      int
	memoryBudget uint64
	fgProfile    string
	duration     time.Duration
	iterations   int
	pprofAddr    string
	cpuProfile   string
	memProfile   string
	traceFile    string
	tempDir      string
	keepTemp     bool
	randomSeed   int64
}

//nolint:unused // sink variables prevent compiler optimizations in profiling
var (
	sinkBytes   []byte
	sinkEntries []unfreeze.Entry
)

func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	data, err := loadInput(cfg)
	if err != nil {
		log.Fatal(err)
	}

	dir, cleanup, err := setupTempDir(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cleanup != nil {
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
	}

	if cfg.fgProfile != "" {
		fgFile, fgErr := os.Create(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
		}
		stopFG := fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stopFG(); err != nil {
				log.Printf("fgprof stop error: %v", err)
			}
			_ = fgFile.Close()
		}()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(cfg, data, dir)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s input=%s ops=%d bytes=%s elapsed=%s throughput=%s/s\n",
		cfg.mode,
		humanize.IBytes(uint64(len(data))),
		stats.ops,
		humanize.IBytes(stats.bytes),
		stats.elapsed,
		humanize.IBytes(uint64(float64(stats.bytes)/stats.elapsed.Seconds())),
	)
}

type profileStats struct {
	ops     int
	bytes   uint64
	elapsed time.Duration
}

//nolint:gocritic // hugeParam acceptable for profiler
func runProfile(cfg config, data []byte, dir string) (profileStats, error) {
	start := time.Now()
	ops := 0
	var byteCount uint64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	src := source.Bytes(data)
	switch cfg.mode {
	case "toc":
		for shouldContinue() {
			x, err := unfreeze.New(src)
			if err != nil {
				return profileStats{}, err
			}
			sinkEntries = x.Entries()
			byteCount += uint64(x.Header().TOCLength)
			ops++
		}

	case "payload":
		off, err := cookie.Locate(src, cookie.DefaultWindow)
		if err != nil {
			return profileStats{}, err
		}
		h, err := carchive.DecodeHeader(src, uint64(off), carchive.ByteOrders...) //nolint:gosec // offset is non-negative
		if err != nil {
			return profileStats{}, err
		}
		entries, err := carchive.ReadAll(src, h)
		if err != nil {
			return profileStats{}, err
		}
		ex := extract.New(src, h, nil, extract.WithPool(inflate.NewPool()))
		for shouldContinue() {
			for _, e := range entries {
				payload, err := ex.Payload(e)
				if err != nil {
					continue
				}
				sinkBytes = payload
				byteCount += uint64(len(payload))
			}
			ops++
		}

	case "extract":
		x, err := unfreeze.New(src,
			unfreeze.WithWorkers(cfg.workers),
			unfreeze.WithMemoryBudget(cfg.memoryBudget),
		)
		if err != nil {
			return profileStats{}, err
		}
		for shouldContinue() {
			out := filepath.Join(dir, fmt.Sprintf("run%04d", ops))
			report, err := x.Extract(context.Background(), out)
			if err != nil {
				return profileStats{}, err
			}
			if report.Failed > 0 {
				log.Printf("run %d: %d entries failed", ops, report.Failed)
			}
			byteCount += report.BytesWritten
			if !cfg.keepTemp {
				if err := os.RemoveAll(out); err != nil {
					return profileStats{}, err
				}
			}
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func parseFlags() config {
	var cfg config
	var budget string
	flag.StringVar(&cfg.mode, "mode", "extract", "mode: extract, toc, payload")
	flag.StringVar(&cfg.input, "input", "", "frozen executable to profile (default: synthetic)")
	flag.IntVar(&cfg.entries, "entries", 512, "number of synthetic data entries")
	flag.IntVar(&cfg.entrySize, "entry-size", 16<<10, "synthetic entry size in bytes")
	flag.IntVar(&cfg.modules, "modules", 256, "number of modules in the synthetic module archive")
	flag.StringVar(&cfg.compression, "compression", "zlib", "compression: none, deflate or zlib")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.IntVar(&cfg.workers, "workers", 0, "extraction workers (0 = GOMAXPROCS)")
	flag.StringVar(&budget, "memory-budget", "0", "bytes held by in-flight entries (0 = unlimited)")
	flag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof (wall clock) profile to file")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory for extraction output")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep extraction output after run")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()

	n, err := humanize.ParseBytes(budget)
	if err != nil {
		log.Fatalf("memory-budget: %v", err)
	}
	cfg.memoryBudget = n
	return cfg
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func setupTempDir(cfg config) (string, func() error, error) {
	if cfg.tempDir != "" {
		return cfg.tempDir, nil, os.MkdirAll(cfg.tempDir, 0o755) //nolint:gosec // 0o755 is intentional for profiler temp dirs
	}
	dir, err := os.MkdirTemp("", "unfreeze-profiler-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() error {
		if cfg.keepTemp {
			return nil
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func loadInput(cfg config) ([]byte, error) {
	if cfg.input != "" {
		return os.ReadFile(cfg.input)
	}
	return makeContainer(cfg)
}

// makeContainer builds a frozen executable with a script, cfg.entries data
// files and a module archive of cfg.modules modules.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func makeContainer(cfg config) ([]byte, error) {
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // deterministic test data

	compression, err := parseCompression(cfg.compression)
	if err != nil {
		return nil, err
	}

	modules := make([]testutil.TestModule, cfg.modules)
	for i := range modules {
		modules[i] = testutil.TestModule{
			Name: fmt.Sprintf("pkg%02d.mod%04d", i%16, i),
			Code: makeContent(rng, cfg.entrySize/4, cfg.pattern),
		}
	}
	archive, err := testutil.EncodeModuleArchive(testutil.TestModuleArchive{
		Version: [4]byte{0xa7, 0x0d, '\r', '\n'},
		Modules: modules,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]testutil.TestEntry, 0, cfg.entries+2)
	entries = append(entries,
		testutil.TestEntry{Name: "main", Type: 's', Data: []byte("import pkg00\n"), Compression: compression},
		testutil.TestEntry{Name: "PYZ-00.pyz", Type: 'z', Data: archive},
	)
	for i := range cfg.entries {
		entries = append(entries, testutil.TestEntry{
			Name:        fmt.Sprintf("data/dir%02d/file%05d.bin", i%16, i),
			Type:        'x',
			Data:        makeContent(rng, cfg.entrySize, cfg.pattern),
			Compression: compression,
		})
	}
	return testutil.EncodeContainer(testutil.TestContainer{
		LibName: "libpython3.11.so.1.0",
		Entries: entries,
	})
}

func parseCompression(name string) (testutil.Compression, error) {
	switch name {
	case "none":
		return testutil.Stored, nil
	case "deflate":
		return testutil.RawDeflate, nil
	case "zlib":
		return testutil.Zlib, nil
	default:
		return 0, fmt.Errorf("unknown compression: %s", name)
	}
}

func makeContent(rng *rand.Rand, size int, pattern string) []byte {
	data := make([]byte, size)
	if pattern == "random" {
		_, _ = rng.Read(data)
		return data
	}
	for i := range data {
		data[i] = byte('a' + (i/64+rng.Intn(2))%26)
	}
	return data
}
