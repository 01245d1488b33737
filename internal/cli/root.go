// Package cli implements the cassmig command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/root-talis/cassmig"
	"github.com/root-talis/cassmig/config"
	"github.com/root-talis/cassmig/driver"
	"github.com/root-talis/cassmig/driver/cassandra"
	"github.com/root-talis/cassmig/metrics"
	"github.com/root-talis/cassmig/source"
	"github.com/root-talis/cassmig/source/files"
)

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath  string
	EnvFile     string
	Verbose     bool
	LogFormat   string
	OutOfOrder  bool
	Locations   []string
	MetricsFile string
}

var logFormats = []string{"text", "json"} // nolint:gochecknoglobals

// Option customizes the command tree, mostly for programs that embed it.
type Option func(*app)

// WithSources adds sources, such as a registry of code migrations, to the
// locations from the configuration.
func WithSources(sources ...source.Source) Option {
	return func(a *app) { a.sources = append(a.sources, sources...) }
}

// WithConnector replaces the Cassandra connector built from the configuration.
func WithConnector(connect func(cassandra.Config) driver.Connector) Option {
	return func(a *app) { a.connect = connect }
}

// WithEnviron replaces os.Environ as the source of CASSMIG_* variables.
func WithEnviron(environ []string) Option {
	return func(a *app) { a.environ = environ }
}

type app struct {
	opts    RootOptions
	sources []source.Source
	connect func(cassandra.Config) driver.Connector
	environ []string
}

func NewRootCommand(options ...Option) *cobra.Command {
	a := &app{
		connect: func(cfg cassandra.Config) driver.Connector { return cassandra.Connector{Config: cfg} },
		environ: os.Environ(),
	}
	for _, opt := range options {
		opt(a)
	}

	cmd := &cobra.Command{
		Use:   "cassmig",
		Short: "Versioned schema migrations for Cassandra",
		Long: `cassmig applies versioned CQL scripts to a Cassandra keyspace and records
them in a history table of the same keyspace.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(logFormats, a.opts.LogFormat) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid log format %q: must be one of %v", a.opts.LogFormat, logFormats))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.opts.ConfigPath, "config", "c", "", "path to cassmig.toml")
	flags.StringVar(&a.opts.EnvFile, "env-file", "", "dotenv file with CASSMIG_* variables")
	flags.BoolVarP(&a.opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&a.opts.LogFormat, "log-format", "text", "log format (text|json)")
	flags.BoolVar(&a.opts.OutOfOrder, "out-of-order", false, "apply migrations below the current version")
	flags.StringSliceVar(&a.opts.Locations, "locations", nil, "migration locations, overrides the configuration")
	flags.StringVar(&a.opts.MetricsFile, "metrics-file", "", "write prometheus metrics to this file on exit")

	cmd.AddCommand(a.newMigrateCommand())
	cmd.AddCommand(a.newBaselineCommand())
	cmd.AddCommand(a.newValidateCommand())
	cmd.AddCommand(a.newInfoCommand())

	return cmd
}

// ---

func (a *app) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if a.opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if a.opts.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(a.opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	env, err := config.Environment(a.opts.EnvFile, a.environ)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load environment", err)
	}
	if err := cfg.Apply(env); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load environment", err)
	}

	if cmd.Flags().Changed("locations") {
		cfg.Locations = a.opts.Locations
	}
	if cmd.Flags().Changed("out-of-order") {
		cfg.AllowOutOfOrder = a.opts.OutOfOrder
	}

	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// session is everything a command needs to run the migrator.
type session struct {
	migrator *cassmig.Migrator
	registry *prometheus.Registry
	logger   *slog.Logger
	keyspace string
}

func (a *app) newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := a.logger(cmd.ErrOrStderr())

	sources := make([]source.Source, 0, len(cfg.Locations)+len(a.sources))
	for _, location := range cfg.Locations {
		src, err := files.Open(location, files.WithLogger(logger))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("bad location %q", location), err)
		}
		sources = append(sources, src)
	}
	sources = append(sources, a.sources...)

	cassCfg, err := cfg.Cassandra()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	cassCfg.Logger = logger

	registry := prometheus.NewRegistry()

	opts := []cassmig.Option{
		cassmig.WithSources(sources...),
		cassmig.WithOutOfOrder(cfg.AllowOutOfOrder),
		cassmig.WithIgnoreFuture(cfg.IgnoreFuture),
		cassmig.WithBaseline(cfg.Baseline.Version, cfg.Baseline.Description),
		cassmig.WithLockTTL(cfg.Lock.TTL.Duration),
		cassmig.WithLockWait(cfg.Lock.Wait.Duration),
		cassmig.WithLogger(logger),
		cassmig.WithMetrics(metrics.New(registry)),
	}
	if cfg.InstalledBy != "" {
		opts = append(opts, cassmig.WithInstalledBy(cfg.InstalledBy))
	}

	migrator, err := cassmig.New(a.connect(cassCfg), opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	return &session{
		migrator: migrator,
		registry: registry,
		logger:   logger,
		keyspace: strings.ToLower(cfg.Keyspace.Name),
	}, nil
}

// run executes fn and writes the metrics file, if one was requested.
func (a *app) run(cmd *cobra.Command, fn func(context.Context, *session) error) error {
	s, err := a.newSession(cmd)
	if err != nil {
		return err
	}

	err = fn(cmd.Context(), s)

	if a.opts.MetricsFile != "" {
		if werr := prometheus.WriteToTextfile(a.opts.MetricsFile, s.registry); werr != nil {
			s.logger.Warn("failed to write metrics file", "path", a.opts.MetricsFile, "error", werr)
		}
	}
	return err
}
