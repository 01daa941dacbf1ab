package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// fileConfig is the layout of the config file. every key can also be set
// from the environment, e.g. CALC_ENGINE_UNDO_LIMIT=50
type fileConfig struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Engine  spreadsheet.Config `mapstructure:"engine"`
	Trace   bool               `mapstructure:"trace"`
	Metrics bool               `mapstructure:"metrics"`
}

// app is the state shared by every subcommand
type app struct {
	v        *viper.Viper
	cfgFile  string
	config   fileConfig
	logger   *slog.Logger
	provider *sdktrace.TracerProvider
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "calc evaluates spreadsheet workbooks and edit scripts",
		Long: `calc runs the formula engine from the command line.

  calc eval book.xlsx              Recalculate a workbook and print its values
  calc eval book.xlsx --out o.xlsx Recalculate and save the result
  calc run edits.yaml              Replay an edit script and check expectations

Settings are read from $HOME/.calc.yaml (or --config) and from CALC_*
environment variables:

  log:
    level: info
  engine:
    undo_limit: 50
    parallel_evaluation: true
    evaluation_workers: 4`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.calc.yaml)")
	flags.String("log-level", "warn", `log level: "debug", "info", "warn" or "error"`)
	flags.Bool("trace", false, "write evaluation spans to stderr")
	flags.Bool("metrics", false, "print engine statistics when the command finishes")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("trace", flags.Lookup("trace"))
	_ = a.v.BindPFlag("metrics", flags.Lookup("metrics"))

	cmd.AddCommand(newEvalCommand(a), newRunCommand(a), newVersionCommand())
	return cmd
}

// init reads the config file and environment, then sets up logging and
// tracing
func (a *app) init(cmd *cobra.Command) error {
	v := a.v
	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".calc")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix("calc")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "warn")
	defaults := spreadsheet.DefaultConfig()
	v.SetDefault("engine.max_rows", defaults.MaxRows)
	v.SetDefault("engine.max_columns", defaults.MaxColumns)
	v.SetDefault("engine.use_statistics", defaults.UseStatistics)
	v.SetDefault("engine.parallel_evaluation", defaults.ParallelEvaluation)
	v.SetDefault("engine.evaluation_workers", defaults.EvaluationWorkers)
	v.SetDefault("engine.undo_limit", defaults.UndoLimit)
	v.SetDefault("engine.use_parser_cache", defaults.UseParserCache)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	a.config = fileConfig{Engine: defaults}
	if err := v.Unmarshal(&a.config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(a.config.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level %q", a.config.Log.Level)
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	if used := v.ConfigFileUsed(); used != "" {
		a.logger.Debug("using config file", slog.String("path", used))
	}

	if a.config.Trace {
		provider, err := newTracerProvider(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		a.provider = provider
	}
	return nil
}

func newTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	res := resource.NewWithAttributes("", attribute.String("service.name", "calc"))
	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

// options turns the loaded settings into engine options
func (a *app) options() []spreadsheet.Option {
	opts := []spreadsheet.Option{
		spreadsheet.WithConfig(a.config.Engine),
		spreadsheet.WithLogger(a.logger),
	}
	if a.provider != nil {
		opts = append(opts, spreadsheet.WithTracer(a.provider.Tracer("calc")))
	}
	if a.config.Metrics {
		opts = append(opts, spreadsheet.WithStatistics(true))
	}
	return opts
}

// run wraps a subcommand so the tracer is flushed however it ends
func (a *app) run(fn func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		err := fn(ctx, cmd, args)
		if a.provider != nil {
			if shutdownErr := a.provider.Shutdown(ctx); shutdownErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to flush traces: %w", shutdownErr))
			}
		}
		return err
	}
}

// report prints the engine statistics gathered from the prometheus
// registry, one metric per line
func (a *app) report(w io.Writer, s *spreadsheet.Spreadsheet) error {
	if !a.config.Metrics {
		return nil
	}
	families, err := s.Statistics().Registry().Gather()
	if err != nil {
		return fmt.Errorf("failed to gather statistics: %w", err)
	}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			value := m.GetGauge().GetValue()
			if c := m.GetCounter(); c != nil {
				value = c.GetValue()
			}
			fmt.Fprintf(w, "%s{%s}\t%g\n", family.GetName(), strings.Join(labels, ","), value)
		}
	}
	return nil
}
