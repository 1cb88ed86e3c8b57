// Package cli holds the syndrodm command line: migration commands run
// against a database configured through flags, SYNDRODM_ environment
// variables or a config file.
package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"syndrodm/src/driver"
	"syndrodm/src/encoder"
	"syndrodm/src/helpers"
	"syndrodm/src/logging"
	"syndrodm/src/metrics"
	"syndrodm/src/migrations"
	"syndrodm/src/odm"
	"syndrodm/src/settings"
)

// Connector opens the database the commands run against. The returned
// func releases it.
type Connector func(ctx context.Context, args *settings.Arguments, codecs *encoder.Table, logger *zap.SugaredLogger) (driver.Database, func(context.Context) error, error)

var (
	// connect is swapped out by tests.
	connect Connector = connectMongo

	// modules returns the migrations known to the binary.
	modules = migrations.Modules
)

var rootCmd = &cobra.Command{
	Use:               "syndrodm",
	Short:             "Document mapper migration tool",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	defaults := settings.Defaults()
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a config file (yaml, json or toml)")
	flags.String("uri", defaults.URI, "Connection string of the database server")
	flags.String("database", defaults.Database, "Database to run against")
	flags.String("collection", defaults.MigrationsCollection, "Collection holding the migration log")
	flags.Duration("timeout", defaults.Timeout, "Timeout of the whole command, 0 disables it")
	flags.Bool("debug", false, "Development logging")
	flags.Bool("verbose", false, "Debug level logging")
	flags.String("metrics-file", "", "Write prometheus metrics to this file when the command finishes")
}

// Execute runs the root command. Cancelling ctx aborts the running
// migration node, which is then rolled back.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadSettings(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	bindings := map[string]string{
		"config":                "config",
		"uri":                   "uri",
		"database":              "database",
		"migrations_collection": "collection",
		"timeout":               "timeout",
		"debug":                 "debug",
		"verbose":               "verbose",
		"metrics_file":          "metrics-file",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	args, err := settings.Load(v)
	if err != nil {
		return err
	}
	args.URI = helpers.Unquote(args.URI)
	args.Database = helpers.Unquote(args.Database)
	args.MigrationsCollection = helpers.Unquote(args.MigrationsCollection)
	if err := args.Validate(); err != nil {
		return err
	}
	settings.Apply(args)
	return nil
}

func connectMongo(ctx context.Context, args *settings.Arguments, codecs *encoder.Table, logger *zap.SugaredLogger) (driver.Database, func(context.Context) error, error) {
	db, err := driver.Connect(ctx, args.URI, args.Database, codecs.Registry(), logger)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Disconnect, nil
}

// withChain connects, builds the migration chain and hands it to fn.
func withChain(cmd *cobra.Command, fn func(ctx context.Context, chain *migrations.Chain) error) error {
	args := settings.GetSettings()

	logger, err := logging.New(args.Debug, args.Verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if args.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, args.Timeout)
		defer cancel()
	}

	codecs := encoder.New()
	db, release, err := connect(ctx, args, codecs, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(ctx); err != nil {
			logger.Warnf("Failed to release database %s: %v", args.Database, err)
		}
	}()

	gatherer := prometheus.NewRegistry()
	collector, err := metrics.NewPrometheus(gatherer)
	if err != nil {
		return err
	}
	if args.MetricsFile != "" {
		defer func() {
			if err := metrics.WriteTextfile(args.MetricsFile, gatherer); err != nil {
				logger.Warnf("%v", err)
			}
		}()
	}

	reg := odm.NewRegistry(db, odm.WithLogger(logger), odm.WithCodecs(codecs), odm.WithMetrics(collector))
	chain, err := migrations.Build(ctx, reg, modules(), migrations.WithCollection(args.MigrationsCollection))
	if err != nil {
		return err
	}
	return fn(ctx, chain)
}
