package treemem

import (
	"log/slog"
	"math/rand"

	"github.com/hupe1980/treemem/internal/descent"
)

// Selector picks one child per batch element during train-mode descent.
type Selector = descent.Selector

// NewCategoricalSampler returns a Selector sampling children in proportion to
// their policy probability.
func NewCategoricalSampler(rng *rand.Rand) Selector {
	return descent.NewCategoricalSampler(rng)
}

// Scorer selects the branch score used for inference-time descent.
type Scorer = descent.Scorer

const (
	// ScorerPolicy descends greedily on the attention policy.
	ScorerPolicy = descent.ScorePolicy
	// ScorerEstimator descends greedily on the learned estimator.
	ScorerEstimator = descent.ScoreEstimator
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	sampler          Selector
	scorer           Scorer
	rng              *rand.Rand
}

// Option configures a memory.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &treemem.BasicMetricsCollector{}
//	m, _ := treemem.New(treemem.DefaultConfig(), treemem.WithMetricsCollector(metrics))
//	// ... use m ...
//	stats := metrics.GetStats()
//	fmt.Printf("Retrievals: %d, Avg latency: %dns\n", stats.RetrieveCount, stats.RetrieveAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithSampler replaces the train-mode branch selector.
func WithSampler(s Selector) Option {
	return func(o *options) {
		o.sampler = s
	}
}

// WithInferenceScorer chooses the score that drives inference-time descent.
// The default is ScorerEstimator.
func WithInferenceScorer(s Scorer) Option {
	return func(o *options) {
		o.scorer = s
	}
}

// WithRand sets the random source used for dropout and the default sampler.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) {
		o.rng = rng
	}
}

func applyOptions(seed int64, optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		scorer:           ScorerEstimator,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(seed))
	}
	if o.sampler == nil {
		o.sampler = descent.NewCategoricalSampler(o.rng)
	}
	return o
}
