// Command unfreeze recovers the files bundled inside a frozen Python
// executable.
//
// Build-time variables (version, commit, date) are injected via ldflags.
package main

import (
	"context"
	"os"
	"os/signal"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
