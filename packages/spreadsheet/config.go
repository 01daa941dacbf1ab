package spreadsheet

import (
	"log/slog"
	"runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vogtb/go-spreadsheet"

// Config holds the engine settings. the tagged fields can be decoded from a
// config file; the rest are set through options.
type Config struct {
	MaxRows            uint32 `mapstructure:"max_rows"`
	MaxColumns         uint32 `mapstructure:"max_columns"`
	UseStatistics      bool   `mapstructure:"use_statistics"`
	ParallelEvaluation bool   `mapstructure:"parallel_evaluation"`
	EvaluationWorkers  int    `mapstructure:"evaluation_workers"`
	UndoLimit          int    `mapstructure:"undo_limit"`
	UseParserCache     bool   `mapstructure:"use_parser_cache"`

	Logger    *slog.Logger    `mapstructure:"-"`
	Tracer    trace.Tracer    `mapstructure:"-"`
	Functions FunctionLibrary `mapstructure:"-"`
	Clock     Clock           `mapstructure:"-"`
	Random    RandomGenerator `mapstructure:"-"`
}

// DefaultConfig returns the settings used when no option is given
func DefaultConfig() Config {
	return Config{
		MaxRows:           DefaultMaxRows,
		MaxColumns:        DefaultMaxColumns,
		EvaluationWorkers: runtime.GOMAXPROCS(0),
		UndoLimit:         20,
		UseParserCache:    true,
	}
}

// Validate checks the limits and fills in missing runtime collaborators
func (c *Config) Validate() error {
	if c.MaxRows == 0 || c.MaxRows > DefaultMaxRows {
		return ErrInvalidArgument("max rows must be between 1 and %d, got %d", DefaultMaxRows, c.MaxRows)
	}
	if c.MaxColumns == 0 || c.MaxColumns > DefaultMaxColumns {
		return ErrInvalidArgument("max columns must be between 1 and %d, got %d", DefaultMaxColumns, c.MaxColumns)
	}
	if c.UndoLimit < 0 {
		return ErrInvalidArgument("undo limit must not be negative, got %d", c.UndoLimit)
	}
	if c.ParallelEvaluation && c.EvaluationWorkers <= 0 {
		return ErrInvalidArgument("evaluation workers must be positive, got %d", c.EvaluationWorkers)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}
	if c.Functions == nil {
		c.Functions = NewDefaultBuiltInFunctions()
	}
	if c.Clock == nil {
		c.Clock = &WallClock{}
	}
	if c.Random == nil {
		c.Random = &DefaultRandomGenerator{}
	}
	return nil
}

// Option customizes a Config
type Option func(*Config)

// WithConfig replaces the whole configuration, typically one decoded from
// a file
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Config) {
		c.Tracer = tracer
	}
}

func WithFunctions(functions FunctionLibrary) Option {
	return func(c *Config) {
		c.Functions = functions
	}
}

func WithStatistics(enabled bool) Option {
	return func(c *Config) {
		c.UseStatistics = enabled
	}
}

// WithParallelEvaluation evaluates independent formulas on up to workers
// goroutines
func WithParallelEvaluation(workers int) Option {
	return func(c *Config) {
		c.ParallelEvaluation = true
		c.EvaluationWorkers = workers
	}
}

func WithUndoLimit(limit int) Option {
	return func(c *Config) {
		c.UndoLimit = limit
	}
}

func WithParserCache(enabled bool) Option {
	return func(c *Config) {
		c.UseParserCache = enabled
	}
}

func WithLimits(maxRows, maxColumns uint32) Option {
	return func(c *Config) {
		c.MaxRows = maxRows
		c.MaxColumns = maxColumns
	}
}

func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

func WithRandom(random RandomGenerator) Option {
	return func(c *Config) {
		c.Random = random
	}
}
