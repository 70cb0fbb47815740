package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/meigma/unfreeze"
	"github.com/meigma/unfreeze/internal/config"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
)

// app holds state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configFile string
	logLevel   string
	logFormat  string
	quiet      bool

	cfg    *config.Config
	logger *slog.Logger
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	cmd := a.rootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		printError(stderr, err)
		return exitError
	}
	return exitOK
}

// printError writes a single error line to w.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
}

func (a *app) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unfreeze",
		Short: "Recover files bundled inside frozen Python executables",
		Long: `unfreeze locates the container appended to a frozen Python executable,
decodes its table of contents, and writes every bundled script, module,
library and data file to an output directory. Nested module archives are
unpacked into loadable .pyc files.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRunE: a.setup,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: .unfreeze.yaml in the working or home directory)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "suppress the progress bar and summary")

	cmd.AddCommand(a.extractCommand())
	cmd.AddCommand(a.infoCommand())
	return cmd
}

// setup loads configuration and builds the logger. Explicit flags override
// the loaded configuration.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewLoader(a.configFile).Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	a.cfg = cfg
	a.logger = newLogger(a.stderr, cfg.Log)
	return nil
}

// open decodes the container at path with options from the configuration.
func (a *app) open(path string, extra ...unfreeze.Option) (*unfreeze.Extractor, error) {
	opts, err := a.options()
	if err != nil {
		return nil, err
	}
	x, err := unfreeze.Open(path, append(opts, extra...)...)
	if err != nil {
		if errors.Is(err, unfreeze.ErrMagicNotFound) {
			return nil, fmt.Errorf("%s is not a frozen executable: %w", path, err)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return x, nil
}

func (a *app) options() ([]unfreeze.Option, error) {
	ec := a.cfg.Extract
	window, err := ec.SearchWindowBytes()
	if err != nil {
		return nil, err
	}
	budget, err := ec.MemoryBudgetBytes()
	if err != nil {
		return nil, err
	}
	maxModule, err := ec.MaxModuleSizeBytes()
	if err != nil {
		return nil, err
	}
	return []unfreeze.Option{
		unfreeze.WithLogger(a.logger),
		unfreeze.WithWorkers(ec.Workers),
		unfreeze.WithSearchWindow(window),
		unfreeze.WithByteOrder(ec.Order()),
		unfreeze.WithOverwrite(ec.Overwrite),
		unfreeze.WithModuleArchiveDirs(ec.ModuleDirs),
		unfreeze.WithMemoryBudget(budget),
		unfreeze.WithMaxModuleSize(maxModule),
	}, nil
}
