package treemem

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/hupe1980/treemem/internal/descent"
	"github.com/hupe1980/treemem/nn"
	"github.com/hupe1980/treemem/tensor"
)

// Mode selects training or inference behavior of a call.
type Mode int

const (
	// ModeInference descends greedily and returns only the embedding.
	ModeInference Mode = iota
	// ModeTrain samples branches, trains the estimator and returns the
	// auxiliary terms.
	ModeTrain
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeInference:
		return "inference"
	case ModeTrain:
		return "train"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// LossStat is the running mean of one level's estimator loss.
type LossStat = descent.Stat

// Result is the output of Retrieve.
type Result struct {
	// Embedding is the retrieved embedding, [B, M, D].
	Embedding *tensor.Tensor

	// The remaining fields are set by TreeMemory in train mode only.

	// Leaf is the embedding read from all raw leaves, [B, M, D].
	Leaf *tensor.Tensor
	// Entropy is the mean attention entropy over levels (scalar).
	Entropy *tensor.Tensor
	// LogProb is the path log-probability averaged over the batch (scalar).
	LogProb *tensor.Tensor
	// PathLogProb is the per-element path log-probability, [B].
	PathLogProb *tensor.Tensor
	// Losses holds the estimator loss statistics per level.
	Losses []LossStat
	// Path holds the selected child per level and batch element.
	Path [][]int
}

// Memory is the common surface of TreeMemory and FlatMemory.
type Memory interface {
	Setup(ctx context.Context, items *tensor.Tensor, mode Mode) error
	Retrieve(ctx context.Context, query *tensor.Tensor, mode Mode) (*Result, error)
	Reset()
	NamedParameters() map[string]*tensor.Tensor
}

var (
	_ Memory = (*TreeMemory)(nil)
	_ Memory = (*FlatMemory)(nil)
)

// readout is the cross-attention and feed-forward pair shared by both
// memories.
type readout struct {
	attn     *nn.Attention
	attnNorm nn.Norm
	ff       *nn.FeedForward
	ffNorm   nn.Norm
}

func newReadout(rng *rand.Rand, cfg Config, attnDropout float32) (*readout, error) {
	attn, err := nn.NewAttention(rng, cfg.Dim, cfg.Heads, attnDropout)
	if err != nil {
		return nil, configErr("Heads", "%v", err)
	}
	attnNorm, err := nn.NewNorm(cfg.Placement, cfg.Dim)
	if err != nil {
		return nil, configErr("Placement", "%v", err)
	}
	ffNorm, _ := nn.NewNorm(cfg.Placement, cfg.Dim)
	return &readout{
		attn:     attn,
		attnNorm: attnNorm,
		ff:       nn.NewFeedForward(rng, cfg.Dim, cfg.FeedForward, cfg.Dropout),
		ffNorm:   ffNorm,
	}, nil
}

// feedForward applies the residual feed-forward block.
func (r *readout) feedForward(x *tensor.Tensor, pass nn.Pass) *tensor.Tensor {
	return r.ffNorm.Residual(x, func(h *tensor.Tensor) *tensor.Tensor {
		return r.ff.Forward(h, pass)
	})
}

func (r *readout) collect(p nn.Params) {
	r.attn.Collect("attn", p)
	r.attnNorm.Collect("attn_norm", p)
	r.ff.Collect("ff", p)
	r.ffNorm.Collect("ff_norm", p)
}

func passFor(mode Mode, rng *rand.Rand) nn.Pass {
	return nn.Pass{Train: mode == ModeTrain, Rand: rng}
}

func checkQuery(query *tensor.Tensor, batch, dim int) error {
	if query == nil || query.Rank() != 3 {
		return shapeErr("query", "must be [B, M, D]")
	}
	if query.Dim(0) != batch {
		return shapeErr("query", "batch %d, memory holds %d", query.Dim(0), batch)
	}
	if query.Dim(1) < 1 {
		return shapeErr("query", "needs at least one query")
	}
	if query.Dim(2) != dim {
		return shapeErr("query", "dimension %d, expected %d", query.Dim(2), dim)
	}
	return nil
}

func checkItems(items *tensor.Tensor, dim int) error {
	if items == nil || items.Rank() != 3 {
		return shapeErr("items", "must be [B, N, D]")
	}
	if items.Dim(0) < 1 {
		return shapeErr("items", "needs at least one batch element")
	}
	if items.Dim(1) < 1 {
		return shapeErr("items", "needs at least one item")
	}
	if items.Dim(2) != dim {
		return shapeErr("items", "dimension %d, expected %d", items.Dim(2), dim)
	}
	return nil
}

func sortedParameters(p nn.Params) []*tensor.Tensor {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*tensor.Tensor, len(names))
	for i, name := range names {
		out[i] = p[name]
	}
	return out
}

func zeroGrad(p nn.Params) {
	for _, t := range p {
		t.ZeroGrad()
	}
}
