package nn

import (
	"fmt"

	"github.com/hupe1980/treemem/tensor"
)

// Placement selects where layer normalization sits relative to a sublayer.
type Placement int

const (
	// PreNorm normalizes the sublayer input.
	PreNorm Placement = iota
	// PostNorm normalizes the residual sum.
	PostNorm
)

// String implements fmt.Stringer.
func (p Placement) String() string {
	switch p {
	case PreNorm:
		return "pre"
	case PostNorm:
		return "post"
	default:
		return fmt.Sprintf("Placement(%d)", int(p))
	}
}

// ParsePlacement parses "pre" or "post".
func ParsePlacement(s string) (Placement, error) {
	switch s {
	case "pre":
		return PreNorm, nil
	case "post":
		return PostNorm, nil
	default:
		return 0, fmt.Errorf("unknown norm placement %q", s)
	}
}

// Sublayer is the function wrapped by a Norm.
type Sublayer func(x *tensor.Tensor) *tensor.Tensor

// Norm wraps sublayers with a layer norm at a fixed placement.
type Norm interface {
	// Residual is x + f(LN(x)) for pre-norm and LN(x + f(x)) for post-norm.
	Residual(x *tensor.Tensor, f Sublayer) *tensor.Tensor
	// Attend wraps a cross-attention read. Pre-norm returns f(LN(x)) without a
	// residual; post-norm returns LN(x + f(x)).
	Attend(x *tensor.Tensor, f Sublayer) *tensor.Tensor
	// Placement reports the chosen placement.
	Placement() Placement
	// Collect registers the norm parameters.
	Collect(prefix string, p Params)
}

// NewNorm returns the Norm for placement p over vectors of size dim.
func NewNorm(p Placement, dim int) (Norm, error) {
	switch p {
	case PreNorm:
		return &preNorm{ln: NewLayerNorm(dim)}, nil
	case PostNorm:
		return &postNorm{ln: NewLayerNorm(dim)}, nil
	default:
		return nil, fmt.Errorf("unknown norm placement %v", p)
	}
}

type preNorm struct{ ln *LayerNorm }

func (n *preNorm) Residual(x *tensor.Tensor, f Sublayer) *tensor.Tensor {
	return tensor.Add(x, f(n.ln.Forward(x)))
}

func (n *preNorm) Attend(x *tensor.Tensor, f Sublayer) *tensor.Tensor {
	return f(n.ln.Forward(x))
}

func (n *preNorm) Placement() Placement { return PreNorm }

func (n *preNorm) Collect(prefix string, p Params) { n.ln.Collect(prefix, p) }

type postNorm struct{ ln *LayerNorm }

func (n *postNorm) Residual(x *tensor.Tensor, f Sublayer) *tensor.Tensor {
	return n.ln.Forward(tensor.Add(x, f(x)))
}

func (n *postNorm) Attend(x *tensor.Tensor, f Sublayer) *tensor.Tensor {
	return n.Residual(x, f)
}

func (n *postNorm) Placement() Placement { return PostNorm }

func (n *postNorm) Collect(prefix string, p Params) { n.ln.Collect(prefix, p) }
