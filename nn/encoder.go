package nn

import (
	"math/rand"

	"github.com/hupe1980/treemem/tensor"
)

// EncoderLayer is a self-attention block followed by a feed-forward block.
type EncoderLayer struct {
	attn     *Attention
	ff       *FeedForward
	attnNorm Norm
	ffNorm   Norm
}

// NewEncoderLayer creates an encoder layer with the given norm placement.
func NewEncoderLayer(rng *rand.Rand, dim, heads, hidden int, dropout float32, placement Placement) (*EncoderLayer, error) {
	attn, err := NewAttention(rng, dim, heads, dropout)
	if err != nil {
		return nil, err
	}
	attnNorm, err := NewNorm(placement, dim)
	if err != nil {
		return nil, err
	}
	ffNorm, _ := NewNorm(placement, dim)
	return &EncoderLayer{
		attn:     attn,
		ff:       NewFeedForward(rng, dim, hidden, dropout),
		attnNorm: attnNorm,
		ffNorm:   ffNorm,
	}, nil
}

// Forward encodes x [B, n, D]. mask holds B*n values or is nil.
func (l *EncoderLayer) Forward(x *tensor.Tensor, mask []float32, pass Pass) *tensor.Tensor {
	x = l.attnNorm.Residual(x, func(h *tensor.Tensor) *tensor.Tensor {
		out, _ := l.attn.Forward(h, h, mask, pass)
		return out
	})
	return l.ffNorm.Residual(x, func(h *tensor.Tensor) *tensor.Tensor {
		return l.ff.Forward(h, pass)
	})
}

// Collect registers the layer parameters.
func (l *EncoderLayer) Collect(prefix string, p Params) {
	l.attn.Collect(prefix+".attn", p)
	l.ff.Collect(prefix+".ff", p)
	l.attnNorm.Collect(prefix+".attn_norm", p)
	l.ffNorm.Collect(prefix+".ff_norm", p)
}
