package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/hupe1980/treemem/tensor"
)

// AttentionInfo exposes the normalized attention weights of one call.
type AttentionInfo struct {
	// Weights is [B*H, n, m].
	Weights *tensor.Tensor
	// Scores is the weight distribution averaged over heads and queries, [B, m].
	Scores *tensor.Tensor
}

// Attention is multi-head scaled dot-product cross-attention.
type Attention struct {
	heads   int
	dim     int
	dropout float32

	q, k, v, o *Linear
}

// NewAttention creates an attention block. dim must be divisible by heads.
func NewAttention(rng *rand.Rand, dim, heads int, dropout float32) (*Attention, error) {
	if heads <= 0 || dim <= 0 || dim%heads != 0 {
		return nil, fmt.Errorf("attention: dim %d not divisible by %d heads", dim, heads)
	}
	return &Attention{
		heads:   heads,
		dim:     dim,
		dropout: dropout,
		q:       NewLinear(rng, dim, dim, true),
		k:       NewLinear(rng, dim, dim, true),
		v:       NewLinear(rng, dim, dim, true),
		o:       NewLinear(rng, dim, dim, true),
	}, nil
}

// Heads returns the number of heads.
func (a *Attention) Heads() int { return a.heads }

// Forward attends from query [B, n, D] to context [B, m, D].
//
// keyMask holds B*m values (nil means all keys are valid). Queries whose keys
// are all masked receive only the output projection bias.
func (a *Attention) Forward(query, context *tensor.Tensor, keyMask []float32, pass Pass) (*tensor.Tensor, *AttentionInfo) {
	b, n, m := query.Dim(0), query.Dim(1), context.Dim(1)
	if context.Dim(0) != b || query.Dim(2) != a.dim || context.Dim(2) != a.dim {
		panic(fmt.Errorf("%w: attention %v over %v", tensor.ErrShape, query.Shape(), context.Shape()))
	}
	dh := a.dim / a.heads

	qh := a.split(a.q.Forward(query), b, n)
	kh := a.split(a.k.Forward(context), b, m)
	vh := a.split(a.v.Forward(context), b, m)

	scores := tensor.Scale(tensor.MatMulT(qh, kh), float32(1/math.Sqrt(float64(dh))))
	weights := tensor.MaskedSoftmax(scores, a.repeatMask(keyMask, b, m))

	ctx := tensor.MatMul(pass.dropout(weights, a.dropout), vh)
	out := a.o.Forward(a.merge(ctx, b, n))

	info := &AttentionInfo{
		Weights: weights,
		Scores:  tensor.MeanAxis(tensor.Reshape(weights, b, a.heads*n, m), 1),
	}
	return out, info
}

// Collect registers the projection parameters.
func (a *Attention) Collect(prefix string, p Params) {
	a.q.Collect(prefix+".query", p)
	a.k.Collect(prefix+".key", p)
	a.v.Collect(prefix+".value", p)
	a.o.Collect(prefix+".out", p)
}

// split maps [B, n, D] to [B*H, n, D/H].
func (a *Attention) split(x *tensor.Tensor, b, n int) *tensor.Tensor {
	dh := a.dim / a.heads
	x = tensor.SwapAxes12(tensor.Reshape(x, b, n, a.heads, dh))
	return tensor.Reshape(x, b*a.heads, n, dh)
}

// merge maps [B*H, n, D/H] back to [B, n, D].
func (a *Attention) merge(x *tensor.Tensor, b, n int) *tensor.Tensor {
	dh := a.dim / a.heads
	x = tensor.SwapAxes12(tensor.Reshape(x, b, a.heads, n, dh))
	return tensor.Reshape(x, b, n, a.dim)
}

func (a *Attention) repeatMask(mask []float32, b, m int) []float32 {
	if mask == nil {
		return nil
	}
	if len(mask) != b*m {
		panic(fmt.Errorf("%w: attention key mask of %d for [%d, %d]", tensor.ErrShape, len(mask), b, m))
	}
	out := make([]float32, 0, b*a.heads*m)
	for bi := 0; bi < b; bi++ {
		row := mask[bi*m : (bi+1)*m]
		for h := 0; h < a.heads; h++ {
			out = append(out, row...)
		}
	}
	return out
}
