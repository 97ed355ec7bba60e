package treemem

import (
	"github.com/hupe1980/treemem/aggregator"
	"github.com/hupe1980/treemem/nn"
)

// Placement selects where layer normalization sits around each sublayer.
type Placement = nn.Placement

const (
	// PreNorm normalizes sublayer inputs.
	PreNorm = nn.PreNorm
	// PostNorm normalizes residual sums.
	PostNorm = nn.PostNorm
)

// AggregatorTransformer is the transformer set aggregator.
const AggregatorTransformer = aggregator.KindTransformer

// Config holds the model hyperparameters of a memory.
type Config struct {
	// Dim is the embedding size D.
	Dim int
	// Heads is the number of attention heads; Dim must be divisible by it.
	Heads int
	// FeedForward is the hidden size of the feed-forward blocks.
	FeedForward int
	// Dropout is applied in train mode, in [0, 1).
	Dropout float32
	// Placement is the normalization placement.
	Placement Placement

	// Branch is the tree branching factor b (tree memory only).
	Branch int
	// AggregatorLayers is the number of encoder layers of the aggregator.
	AggregatorLayers int
	// AggregatorWindow bounds how many children the aggregator reads before
	// its summary is detached.
	AggregatorWindow int
	// Aggregator names the aggregator variant.
	Aggregator string
	// EstimatorDepth is the deepest tree the estimator supports.
	EstimatorDepth int

	// Seed initializes parameters and the default sampler.
	Seed int64
}

// DefaultConfig returns a small working configuration.
func DefaultConfig() Config {
	return Config{
		Dim:              64,
		Heads:            4,
		FeedForward:      256,
		Dropout:          0.1,
		Placement:        PreNorm,
		Branch:           2,
		AggregatorLayers: 1,
		AggregatorWindow: 64,
		Aggregator:       AggregatorTransformer,
		EstimatorDepth:   6,
		Seed:             1,
	}
}

// Validate checks the attention and feed-forward settings shared by both
// memories.
func (c Config) Validate() error {
	switch {
	case c.Dim <= 0:
		return configErr("Dim", "must be positive, got %d", c.Dim)
	case c.Heads <= 0:
		return configErr("Heads", "must be positive, got %d", c.Heads)
	case c.Dim%c.Heads != 0:
		return configErr("Heads", "Dim %d not divisible by %d heads", c.Dim, c.Heads)
	case c.FeedForward <= 0:
		return configErr("FeedForward", "must be positive, got %d", c.FeedForward)
	case c.Dropout < 0 || c.Dropout >= 1:
		return configErr("Dropout", "must be in [0, 1), got %g", c.Dropout)
	case c.Placement != PreNorm && c.Placement != PostNorm:
		return configErr("Placement", "unknown placement %v", c.Placement)
	}
	return nil
}

// validateTree adds the tree-specific checks.
func (c Config) validateTree() error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch {
	case c.Branch < 2:
		return configErr("Branch", "must be at least 2, got %d", c.Branch)
	case c.AggregatorLayers < 1:
		return configErr("AggregatorLayers", "must be positive, got %d", c.AggregatorLayers)
	case c.AggregatorWindow < 1:
		return configErr("AggregatorWindow", "must be positive, got %d", c.AggregatorWindow)
	case c.Aggregator != AggregatorTransformer:
		return configErr("Aggregator", "unsupported variant %q", c.Aggregator)
	case c.EstimatorDepth < 1:
		return configErr("EstimatorDepth", "must be positive, got %d", c.EstimatorDepth)
	}
	return nil
}

func (c Config) aggregatorConfig() aggregator.Config {
	return aggregator.Config{
		Kind:      c.Aggregator,
		Dim:       c.Dim,
		Heads:     c.Heads,
		Hidden:    c.FeedForward,
		Dropout:   c.Dropout,
		Layers:    c.AggregatorLayers,
		Window:    c.AggregatorWindow,
		Placement: c.Placement,
	}
}
