// Package aggregator reduces a masked group of embeddings to one embedding.
package aggregator

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/hupe1980/treemem/nn"
	"github.com/hupe1980/treemem/tensor"
)

// ErrUnknownKind is returned for unsupported aggregator variants.
var ErrUnknownKind = errors.New("aggregator: unknown kind")

// KindTransformer is the only supported variant.
const KindTransformer = "transformer"

// Aggregator is the set-to-one capability used by the tree builder.
type Aggregator interface {
	// Aggregate summarizes groups [G, n, D] under mask (G*n values, 1 valid)
	// and returns [G, D].
	Aggregate(groups *tensor.Tensor, mask []float32, pass nn.Pass) *tensor.Tensor
	// Collect registers the parameters.
	Collect(prefix string, p nn.Params)
}

// Config describes an aggregator.
type Config struct {
	Kind      string
	Dim       int
	Heads     int
	Hidden    int
	Dropout   float32
	Layers    int
	Window    int
	Placement nn.Placement
}

// New builds the aggregator named by cfg.Kind.
func New(rng *rand.Rand, cfg Config) (Aggregator, error) {
	switch cfg.Kind {
	case KindTransformer:
		return NewTransformer(rng, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
