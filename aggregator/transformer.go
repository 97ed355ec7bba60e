package aggregator

import (
	"fmt"
	"math/rand"

	"github.com/hupe1980/treemem/nn"
	"github.com/hupe1980/treemem/tensor"
)

// Transformer prepends a learned summary token to each group, runs a stack
// of encoder layers and reads the output at the token position.
//
// Groups longer than the window are consumed window by window. The summary of
// one window seeds the token of the next and is detached, so gradients do not
// flow across windows.
type Transformer struct {
	dim    int
	window int
	token  *tensor.Tensor // [1, 1, D]
	layers []*nn.EncoderLayer
}

// NewTransformer creates a transformer aggregator.
func NewTransformer(rng *rand.Rand, cfg Config) (*Transformer, error) {
	if cfg.Layers < 1 {
		return nil, fmt.Errorf("aggregator: %d layers", cfg.Layers)
	}
	if cfg.Window < 1 {
		return nil, fmt.Errorf("aggregator: window %d", cfg.Window)
	}

	t := &Transformer{
		dim:    cfg.Dim,
		window: cfg.Window,
		token:  tensor.Randn(rng, 0.02, 1, 1, cfg.Dim).RequireGrad(),
	}
	for i := 0; i < cfg.Layers; i++ {
		l, err := nn.NewEncoderLayer(rng, cfg.Dim, cfg.Heads, cfg.Hidden, cfg.Dropout, cfg.Placement)
		if err != nil {
			return nil, err
		}
		t.layers = append(t.layers, l)
	}
	return t, nil
}

// Aggregate implements Aggregator.
func (t *Transformer) Aggregate(groups *tensor.Tensor, mask []float32, pass nn.Pass) *tensor.Tensor {
	g, n := groups.Dim(0), groups.Dim(1)
	if mask != nil && len(mask) != g*n {
		panic(fmt.Errorf("%w: aggregator mask of %d for [%d, %d]", tensor.ErrShape, len(mask), g, n))
	}

	summary := tensor.Repeat(t.token, g)
	for start := 0; start < n; start += t.window {
		if start > 0 {
			summary = tensor.Detach(summary)
		}
		w := min(t.window, n-start)

		x := tensor.Concat(1, summary, tensor.Narrow(groups, 1, start, w))
		xmask := windowMask(mask, g, n, start, w)
		for _, l := range t.layers {
			x = l.Forward(x, xmask, pass)
		}
		summary = tensor.Narrow(x, 1, 0, 1)
	}
	return tensor.Reshape(summary, g, t.dim)
}

// Collect implements Aggregator.
func (t *Transformer) Collect(prefix string, p nn.Params) {
	p.Add(prefix, "token", t.token)
	for i, l := range t.layers {
		l.Collect(fmt.Sprintf("%s.layer%d", prefix, i), p)
	}
}

// windowMask builds the [G, 1+w] mask of one window; the summary token is
// always valid.
func windowMask(mask []float32, g, n, start, w int) []float32 {
	out := make([]float32, 0, g*(w+1))
	for gi := 0; gi < g; gi++ {
		out = append(out, 1)
		if mask == nil {
			for i := 0; i < w; i++ {
				out = append(out, 1)
			}
			continue
		}
		out = append(out, mask[gi*n+start:gi*n+start+w]...)
	}
	return out
}
