package treemem

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/hupe1980/treemem/aggregator"
	"github.com/hupe1980/treemem/codec"
	"github.com/hupe1980/treemem/internal/descent"
	"github.com/hupe1980/treemem/internal/tree"
	"github.com/hupe1980/treemem/nn"
	"github.com/hupe1980/treemem/tensor"
)

// TreeMemory stores items as an aggregated b-ary tree and retrieves by
// descending it.
//
// A TreeMemory is not safe for concurrent use.
type TreeMemory struct {
	cfg  Config
	opts options

	agg       aggregator.Aggregator
	read      *readout
	estimator *descent.Estimator
	tracker   *descent.LossTracker
	desc      *descent.Descender

	table *tree.Table
}

// New creates a tree memory.
func New(cfg Config, optFns ...Option) (*TreeMemory, error) {
	if err := cfg.validateTree(); err != nil {
		return nil, err
	}
	o := applyOptions(cfg.Seed, optFns)
	prng := rand.New(rand.NewSource(cfg.Seed))

	agg, err := aggregator.New(prng, cfg.aggregatorConfig())
	if err != nil {
		return nil, translateError(err)
	}
	// The branch policy attends without dropout.
	read, err := newReadout(prng, cfg, 0)
	if err != nil {
		return nil, err
	}

	m := &TreeMemory{
		cfg:       cfg,
		opts:      o,
		agg:       agg,
		read:      read,
		estimator: descent.NewEstimator(prng, cfg.Dim, cfg.EstimatorDepth),
		tracker:   descent.NewLossTracker(cfg.EstimatorDepth),
	}
	m.desc = &descent.Descender{
		Attention: read.attn,
		Norm:      read.attnNorm,
		Estimator: m.estimator,
		Tracker:   m.tracker,
		Sampler:   o.sampler,
		Greedy:    descent.ArgMax{},
		Scorer:    o.scorer,
		OnEstimatorLoss: func(level int, loss float64) {
			o.metricsCollector.RecordEstimatorLoss(level, loss)
		},
	}
	return m, nil
}

// Config returns the configuration the memory was built with.
func (m *TreeMemory) Config() Config { return m.cfg }

// Setup builds the tree over items [B, N, D], replacing any previous tree.
// In train mode the aggregator applies dropout.
func (m *TreeMemory) Setup(ctx context.Context, items *tensor.Tensor, mode Mode) (err error) {
	start := time.Now()
	n, depth := 0, 0
	defer func() {
		m.opts.metricsCollector.RecordSetup(n, depth, time.Since(start), err)
		m.opts.logger.LogSetup(ctx, n, depth, err)
	}()
	defer recoverShape(&err)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkItems(items, m.cfg.Dim); err != nil {
		return err
	}
	n = items.Dim(1)

	shape, err := tree.ResolveShape(n, m.cfg.Branch)
	if err != nil {
		return translateError(err)
	}
	if shape.Depth > m.estimator.Depth() {
		return translateError(fmt.Errorf("%w: %d items need depth %d, estimator covers %d",
			descent.ErrTooDeep, n, shape.Depth, m.estimator.Depth()))
	}

	padded, err := tree.Pad(items, shape)
	if err != nil {
		return translateError(err)
	}
	table, err := tree.Build(padded, m.agg, passFor(mode, m.opts.rng))
	if err != nil {
		return translateError(err)
	}
	m.table = table
	depth = shape.Depth
	return nil
}

// Retrieve reads the tree for query [B, M, D].
//
// In inference mode only Result.Embedding is set. In train mode the result
// also carries the leaf-level embedding, the entropy and log-probability
// terms and the estimator loss statistics.
func (m *TreeMemory) Retrieve(ctx context.Context, query *tensor.Tensor, mode Mode) (res *Result, err error) {
	start := time.Now()
	queries := 0
	defer func() {
		m.opts.metricsCollector.RecordRetrieve(mode, time.Since(start), err)
		m.opts.logger.LogRetrieve(ctx, mode, queries, err)
	}()
	defer recoverShape(&err)

	if m.table == nil {
		return nil, ErrNotSetup
	}
	if err := checkQuery(query, m.table.Batch(), m.cfg.Dim); err != nil {
		return nil, err
	}
	queries = query.Dim(1)

	pass := passFor(mode, m.opts.rng)
	out, err := m.desc.Run(ctx, m.table, query, pass)
	if err != nil {
		return nil, translateError(err)
	}

	res = &Result{
		Embedding: m.finish(out.Embedding, query, pass),
		Path:      out.Selected,
	}
	if mode != ModeTrain {
		return res, nil
	}

	leaves, mask := m.table.AllLeaves()
	leaf := m.read.attnNorm.Attend(query, func(h *tensor.Tensor) *tensor.Tensor {
		o, _ := m.read.attn.Forward(h, leaves, mask, pass)
		return o
	})
	res.Leaf = m.finish(leaf, query, pass)
	res.Entropy = out.Entropy
	res.PathLogProb = out.LogProb
	res.LogProb = tensor.Mean(out.LogProb)
	res.Losses = m.tracker.Snapshot()
	return res, nil
}

// finish applies the feed-forward block to a cross-attention read. Pre-norm
// adds the query back first since its attention block has no residual.
func (m *TreeMemory) finish(read, query *tensor.Tensor, pass nn.Pass) *tensor.Tensor {
	if m.cfg.Placement == PreNorm {
		read = tensor.Add(read, query)
	}
	return m.read.feedForward(read, pass)
}

// Reset drops the stored tree.
func (m *TreeMemory) Reset() { m.table = nil }

// ResetStats zeroes the estimator loss statistics.
func (m *TreeMemory) ResetStats() { m.tracker.Reset() }

// LossStats returns the estimator loss statistics per level.
func (m *TreeMemory) LossStats() []LossStat { return m.tracker.Snapshot() }

// Depth returns the depth of the stored tree, or -1 before Setup.
func (m *TreeMemory) Depth() int {
	if m.table == nil {
		return -1
	}
	return m.table.Depth()
}

// NamedParameters returns every trainable tensor by qualified name.
func (m *TreeMemory) NamedParameters() map[string]*tensor.Tensor {
	p := nn.Params{}
	m.agg.Collect("aggregator", p)
	m.read.collect(p)
	m.estimator.Collect("estimator", p)
	return p
}

// Parameters returns every trainable tensor in name order.
func (m *TreeMemory) Parameters() []*tensor.Tensor {
	return sortedParameters(m.NamedParameters())
}

// ZeroGrad clears the gradients of all parameters.
func (m *TreeMemory) ZeroGrad() { zeroGrad(m.NamedParameters()) }

// MarshalState encodes the estimator loss statistics.
func (m *TreeMemory) MarshalState() ([]byte, error) {
	return codec.Default.Marshal(m.tracker.Snapshot())
}

// UnmarshalState restores statistics written by MarshalState.
func (m *TreeMemory) UnmarshalState(data []byte) error {
	stats, err := codec.Decode[[]LossStat](codec.Default, data)
	if err != nil {
		return err
	}
	m.tracker.Restore(stats)
	return nil
}
