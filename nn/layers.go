package nn

import (
	"math"
	"math/rand"

	"github.com/hupe1980/treemem/tensor"
)

// Pass carries the execution mode of one forward call.
type Pass struct {
	// Train enables dropout and the training-only terms of the callers.
	Train bool
	// Rand drives dropout. Nil disables dropout even when training.
	Rand *rand.Rand
}

// Inference is the deterministic pass.
var Inference = Pass{}

func (p Pass) dropout(x *tensor.Tensor, rate float32) *tensor.Tensor {
	if !p.Train {
		return x
	}
	return tensor.Dropout(x, rate, p.Rand)
}

// Params maps qualified parameter names to tensors.
type Params map[string]*tensor.Tensor

// Add registers t under prefix + "." + name.
func (p Params) Add(prefix, name string, t *tensor.Tensor) {
	if t == nil {
		return
	}
	if prefix != "" {
		name = prefix + "." + name
	}
	p[name] = t
}

// Linear is a fully connected layer y = x·Wᵀ + b.
type Linear struct {
	W *tensor.Tensor // [out, in]
	B *tensor.Tensor // [out], nil without bias
}

// NewLinear creates a linear layer with Xavier/Glorot uniform weights.
func NewLinear(rng *rand.Rand, in, out int, bias bool) *Linear {
	limit := float32(math.Sqrt(6.0 / float64(in+out)))
	l := &Linear{W: tensor.Uniform(rng, limit, out, in).RequireGrad()}
	if bias {
		l.B = tensor.Zeros(out).RequireGrad()
	}
	return l
}

// Forward applies the layer over the last dimension of x.
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Linear(x, l.W, l.B)
}

// Collect registers the layer parameters.
func (l *Linear) Collect(prefix string, p Params) {
	p.Add(prefix, "weight", l.W)
	p.Add(prefix, "bias", l.B)
}

// LayerNorm normalizes over the last dimension.
type LayerNorm struct {
	Gamma *tensor.Tensor
	Beta  *tensor.Tensor
	Eps   float32
}

// NewLayerNorm creates a layer norm with unit gain and zero shift.
func NewLayerNorm(dim int) *LayerNorm {
	return &LayerNorm{
		Gamma: tensor.Full(1, dim).RequireGrad(),
		Beta:  tensor.Zeros(dim).RequireGrad(),
		Eps:   1e-5,
	}
}

// Forward normalizes x.
func (n *LayerNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.LayerNorm(x, n.Gamma, n.Beta, n.Eps)
}

// Collect registers the norm parameters.
func (n *LayerNorm) Collect(prefix string, p Params) {
	p.Add(prefix, "gamma", n.Gamma)
	p.Add(prefix, "beta", n.Beta)
}

// FeedForward is the position-wise two-layer MLP with GELU.
type FeedForward struct {
	in      *Linear
	out     *Linear
	dropout float32
}

// NewFeedForward creates a dim → hidden → dim block.
func NewFeedForward(rng *rand.Rand, dim, hidden int, dropout float32) *FeedForward {
	return &FeedForward{
		in:      NewLinear(rng, dim, hidden, true),
		out:     NewLinear(rng, hidden, dim, true),
		dropout: dropout,
	}
}

// Forward applies the block.
func (f *FeedForward) Forward(x *tensor.Tensor, pass Pass) *tensor.Tensor {
	h := pass.dropout(tensor.GELU(f.in.Forward(x)), f.dropout)
	return pass.dropout(f.out.Forward(h), f.dropout)
}

// Collect registers the block parameters.
func (f *FeedForward) Collect(prefix string, p Params) {
	f.in.Collect(prefix+".in", p)
	f.out.Collect(prefix+".out", p)
}
