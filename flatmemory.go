package treemem

import (
	"context"
	"math/rand"
	"time"

	"github.com/hupe1980/treemem/nn"
	"github.com/hupe1980/treemem/tensor"
)

// FlatMemory attends over every stored item. It is the baseline for
// TreeMemory and has no tree, no sampling and no auxiliary terms.
//
// A FlatMemory is not safe for concurrent use.
type FlatMemory struct {
	cfg  Config
	opts options
	read *readout

	items *tensor.Tensor
}

// NewFlat creates a flat memory. Tree-only fields of cfg are ignored.
func NewFlat(cfg Config, optFns ...Option) (*FlatMemory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	read, err := newReadout(rand.New(rand.NewSource(cfg.Seed)), cfg, cfg.Dropout)
	if err != nil {
		return nil, err
	}
	return &FlatMemory{
		cfg:  cfg,
		opts: applyOptions(cfg.Seed, optFns),
		read: read,
	}, nil
}

// Setup stores items [B, N, D], replacing previous ones. mode is accepted
// for symmetry with TreeMemory.
func (m *FlatMemory) Setup(ctx context.Context, items *tensor.Tensor, _ Mode) (err error) {
	start := time.Now()
	n := 0
	defer func() {
		m.opts.metricsCollector.RecordSetup(n, 0, time.Since(start), err)
		m.opts.logger.LogSetup(ctx, n, 0, err)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkItems(items, m.cfg.Dim); err != nil {
		return err
	}
	n = items.Dim(1)
	m.items = items
	return nil
}

// Retrieve reads the stored items for query [B, M, D] with residual
// cross-attention followed by the residual feed-forward block.
func (m *FlatMemory) Retrieve(ctx context.Context, query *tensor.Tensor, mode Mode) (res *Result, err error) {
	start := time.Now()
	queries := 0
	defer func() {
		m.opts.metricsCollector.RecordRetrieve(mode, time.Since(start), err)
		m.opts.logger.LogRetrieve(ctx, mode, queries, err)
	}()
	defer recoverShape(&err)

	if m.items == nil {
		return nil, ErrNotSetup
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkQuery(query, m.items.Dim(0), m.cfg.Dim); err != nil {
		return nil, err
	}
	queries = query.Dim(1)

	pass := passFor(mode, m.opts.rng)
	x := m.read.attnNorm.Residual(query, func(h *tensor.Tensor) *tensor.Tensor {
		out, _ := m.read.attn.Forward(h, m.items, nil, pass)
		return out
	})
	return &Result{Embedding: m.read.feedForward(x, pass)}, nil
}

// Reset drops the stored items.
func (m *FlatMemory) Reset() { m.items = nil }

// NamedParameters returns every trainable tensor by qualified name.
func (m *FlatMemory) NamedParameters() map[string]*tensor.Tensor {
	p := nn.Params{}
	m.read.collect(p)
	return p
}

// Parameters returns every trainable tensor in name order.
func (m *FlatMemory) Parameters() []*tensor.Tensor {
	return sortedParameters(m.NamedParameters())
}

// ZeroGrad clears the gradients of all parameters.
func (m *FlatMemory) ZeroGrad() { zeroGrad(m.NamedParameters()) }
