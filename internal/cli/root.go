package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/config"
	"github.com/roach88/docstore/internal/pool"
	"github.com/roach88/docstore/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose     bool
	Format      string // "json" | "text"
	ConfigPath  string
	Driver      string // overrides the config file and environment
	DSN         string // overrides the config file and environment
	MetricsAddr string // serve /metrics here while the command runs
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the docstore CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

// Execute runs the CLI with args and returns the process exit code. Errors
// are reported on stderr in the selected output format.
func Execute(args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	f := &OutputFormatter{Format: opts.Format, Writer: stderr, Verbose: opts.Verbose}
	if !isValidFormat(f.Format) {
		f.Format = "text"
	}
	f.Error(ErrorCode(err), err.Error(), nil)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		// Flag, argument and required-flag errors from cobra itself.
		return ExitCommandError
	}
	return exitErr.Code
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docstore",
		Short: "docstore - versioned document storage",
		Long: `Operate a docstore database: the snapshot and op log store behind
collaborative document editing.

Every commit must target exactly the next version of its document; stale
writers are rejected and must rebase and retry.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.configureLogging(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	flags.StringVar(&opts.Driver, "driver", "", "database driver (postgres|sqlite3)")
	flags.StringVar(&opts.DSN, "dsn", "", "database data source name")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCommitCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewOpsCommand(opts))
	cmd.AddCommand(NewStressCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// Config loads the config file and environment, then applies flag
// overrides.
func (o *RootOptions) Config() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Driver != "" {
		cfg.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.DSN = o.DSN
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

func (o *RootOptions) configureLogging(cmd *cobra.Command) error {
	log.SetOutput(cmd.ErrOrStderr())
	if o.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if o.Verbose {
		log.SetLevel(log.DebugLevel)
		return nil
	}

	cfg, err := o.Config()
	if err != nil {
		// Commands that need the config report the error themselves.
		return nil
	}
	lvl, _ := cfg.Level()
	log.SetLevel(lvl)
	return nil
}

// openPool opens the configured database without touching the schema.
func (o *RootOptions) openPool() (*pool.Pool, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}
	p, err := pool.Open(cfg.PoolConfig())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	o.serveMetrics(p)
	return p, nil
}

// openStore opens the configured database and applies the schema.
func (o *RootOptions) openStore() (*store.Store, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}
	s, err := store.Open(cfg.PoolConfig())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	o.serveMetrics(s.Pool())
	return s, nil
}

// serveMetrics exposes the default registry and the pool's statistics on
// MetricsAddr, if set.
func (o *RootOptions) serveMetrics(p *pool.Pool) {
	if o.MetricsAddr == "" {
		return
	}
	if err := prometheus.Register(p.Collector("docstore")); err != nil {
		log.WithField("err", err).Warn("failed to register pool collector")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(o.MetricsAddr, mux); err != nil {
			log.WithFields(log.Fields{"addr": o.MetricsAddr, "err": err}).Warn("metrics server stopped")
		}
	}()
	log.WithField("addr", o.MetricsAddr).Info("serving metrics")
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
