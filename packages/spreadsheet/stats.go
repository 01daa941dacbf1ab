package spreadsheet

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StatType names one measured quantity
type StatType uint8

const (
	StatBuildEngine StatType = iota
	StatParser
	StatParserCacheHit
	StatTopSort
	StatEvaluation
	StatTransform
	StatCriterionFullCacheUsed
	StatCriterionPartialCacheUsed
	StatCriterionCacheMiss
	StatUndoRedo
)

var statNames = map[StatType]string{
	StatBuildEngine:               "build_engine",
	StatParser:                    "parser",
	StatParserCacheHit:            "parser_cache_hit",
	StatTopSort:                   "top_sort",
	StatEvaluation:                "evaluation",
	StatTransform:                 "transform",
	StatCriterionFullCacheUsed:    "criterion_full_cache_used",
	StatCriterionPartialCacheUsed: "criterion_partial_cache_used",
	StatCriterionCacheMiss:        "criterion_cache_miss",
	StatUndoRedo:                  "undo_redo",
}

func (t StatType) String() string {
	if name, ok := statNames[t]; ok {
		return name
	}
	return fmt.Sprintf("StatType(%d)", uint8(t))
}

var (
	ErrStatisticAlreadyStarted = errors.New("statistic already started")
	ErrStatisticNotStarted     = errors.New("statistic not started")
)

// Statistics collects timings and counters for one spreadsheet. timers are
// strictly paired: starting a running timer or ending one that never
// started is an error.
type Statistics struct {
	mu      sync.Mutex
	enabled bool
	started map[StatType]time.Time
	values  map[StatType]float64
	now     func() time.Time

	registry *prometheus.Registry
	totals   *prometheus.CounterVec
	seconds  *prometheus.GaugeVec
}

// NewStatistics creates a collector that records into its own registry
func NewStatistics() *Statistics {
	return newStatistics(true)
}

// NewEmptyStatistics creates a collector that enforces timer pairing but
// records nothing
func NewEmptyStatistics() *Statistics {
	return newStatistics(false)
}

func newStatistics(enabled bool) *Statistics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Statistics{
		enabled: enabled,
		started: make(map[StatType]time.Time),
		values:  make(map[StatType]float64),
		now:     time.Now,

		registry: reg,
		totals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "calc_statistic_total",
			Help: "Number of times each engine statistic was recorded",
		}, []string{"stat"}),
		seconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "calc_statistic_seconds",
			Help: "Accumulated seconds spent per timed engine statistic",
		}, []string{"stat"}),
	}
}

// Enabled reports whether values are recorded
func (s *Statistics) Enabled() bool {
	return s.enabled
}

// Start begins timing t
func (s *Statistics) Start(t StatType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.started[t]; running {
		return fmt.Errorf("%w: %s", ErrStatisticAlreadyStarted, t)
	}
	s.started[t] = s.now()
	return nil
}

// End stops timing t and adds the elapsed time
func (s *Statistics) End(t StatType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	began, running := s.started[t]
	if !running {
		return fmt.Errorf("%w: %s", ErrStatisticNotStarted, t)
	}
	delete(s.started, t)
	if !s.enabled {
		return nil
	}
	elapsed := s.now().Sub(began).Seconds()
	s.values[t] += elapsed
	s.seconds.WithLabelValues(t.String()).Add(elapsed)
	s.totals.WithLabelValues(t.String()).Inc()
	return nil
}

// Measure times fn under t. it panics when the timer pairing is violated.
func (s *Statistics) Measure(t StatType, fn func()) {
	if err := s.Start(t); err != nil {
		panic(err)
	}
	fn()
	if err := s.End(t); err != nil {
		panic(err)
	}
}

// Increment adds one to the counter t
func (s *Statistics) Increment(t StatType) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[t]++
	s.totals.WithLabelValues(t.String()).Inc()
}

// Snapshot returns the current values. timed statistics are in seconds.
func (s *Statistics) Snapshot() map[StatType]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

// Reset clears all values and running timers
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
	clear(s.started)
	s.totals.Reset()
	s.seconds.Reset()
}

// Registry exposes the prometheus registry the statistics are mirrored to
func (s *Statistics) Registry() *prometheus.Registry {
	return s.registry
}
