// Package batch runs extraction work on a bounded worker pool and writes the
// results through a Sink.
package batch

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/sizing"
)

// Job is one independent unit of extraction work.
type Job struct {
	// Name identifies the job in results of jobs that never ran.
	Name string

	// Type is copied into results of jobs that never ran.
	Type byte

	// Cost is the number of bytes the job holds in memory while it runs.
	// It is charged against the memory budget.
	Cost uint64

	// Run performs the work. Failures are reported in the Result, never
	// by panicking or blocking on siblings.
	Run func(ctx context.Context) archtype.Result
}

// Processor runs jobs concurrently.
//
// A failed job never stops its siblings. Results are returned in job order
// regardless of completion order.
type Processor struct {
	workers      int // <= 0 = GOMAXPROCS
	memoryBudget uint64
	onResult     func(archtype.Result)
	logger       *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of concurrent jobs.
// Values <= 0 use GOMAXPROCS.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithMemoryBudget caps the summed Cost of running jobs.
// A job whose cost exceeds the budget runs alone. A value of 0 disables
// the budget.
func WithMemoryBudget(limit uint64) ProcessorOption {
	return func(p *Processor) {
		p.memoryBudget = limit
	}
}

// WithResultHook sets a function called with each result as its job
// finishes. It may be called concurrently.
func WithResultHook(fn func(archtype.Result)) ProcessorOption {
	return func(p *Processor) {
		p.onResult = fn
	}
}

// WithProcessorLogger sets the logger for batch processing operations.
// If not set, logging is disabled.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a new batch processor.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs every job and returns one result per job, in job order.
//
// The returned error is non-nil only when ctx is canceled; jobs that did not
// run are then reported as failed with the context error.
func (p *Processor) Process(ctx context.Context, jobs []Job) ([]archtype.Result, error) {
	results := make([]archtype.Result, len(jobs))
	if len(jobs) == 0 {
		return results, nil
	}

	var budget *semaphore.Weighted
	var limit int64
	if p.memoryBudget > 0 {
		var err error
		limit, err = sizing.ToInt64(p.memoryBudget, archtype.ErrOutOfBounds)
		if err == nil {
			budget = semaphore.NewWeighted(limit)
		}
	}

	workers := p.workerCount(len(jobs))
	p.log().Debug("processing jobs", "jobs", len(jobs), "workers", workers, "memory_budget", p.memoryBudget)

	ran := make([]bool, len(jobs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, job := range jobs {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			if budget != nil {
				weight := int64(min(job.Cost, uint64(limit))) //nolint:gosec // bounded by limit
				if err := budget.Acquire(egCtx, weight); err != nil {
					return err
				}
				defer budget.Release(weight)
			}
			r := job.Run(egCtx)
			results[i] = r
			ran[i] = true
			if p.onResult != nil {
				p.onResult(r)
			}
			return nil
		})
	}
	err := eg.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		for i, job := range jobs {
			if !ran[i] {
				results[i] = archtype.Result{Name: job.Name, Type: job.Type, Outcome: archtype.OutcomeFailed, Err: err}
			}
		}
		return results, err
	}
	return results, nil
}

// workerCount determines the number of workers to use for n jobs.
func (p *Processor) workerCount(n int) int {
	workers := p.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return max(min(workers, n), 1)
}
