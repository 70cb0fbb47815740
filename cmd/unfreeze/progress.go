package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/meigma/unfreeze"
)

// progressReporter renders extraction progress as a terminal bar.
type progressReporter struct {
	w   io.Writer
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newProgressReporter(w io.Writer) *progressReporter {
	return &progressReporter{w: w}
}

// Handle consumes one progress event. Safe for concurrent use.
func (p *progressReporter) Handle(ev unfreeze.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Stage {
	case unfreeze.StageExtracting:
		if p.bar == nil {
			p.start(ev.EntriesTotal)
		}
		if ev.EntriesDone > 0 {
			_ = p.bar.Set(ev.EntriesDone) //nolint:errcheck // rendering only
		}
	case unfreeze.StageDone:
		if p.bar != nil {
			_ = p.bar.Finish() //nolint:errcheck // rendering only
		}
	}
}

func (p *progressReporter) start(total int) {
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription("Extracting entries"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("entries/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(p.w)
		}),
	)
}
