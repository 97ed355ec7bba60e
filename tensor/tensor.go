package tensor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
)

// ErrShape is wrapped by every shape-related panic raised in this package.
var ErrShape = errors.New("tensor: shape mismatch")

// Tensor is a dense row-major float32 tensor that can take part in an
// autograd graph.
type Tensor struct {
	// Data holds the values in row-major order. It must not be mutated once the
	// tensor has been used as an operation input.
	Data []float32
	// Grad holds accumulated gradients. It is nil until Backward reaches the
	// tensor.
	Grad []float32

	shape        []int
	requiresGrad bool
	parents      []*Tensor
	backward     func()
}

// FromData wraps data in a tensor of the given shape.
func FromData(data []float32, shape ...int) *Tensor {
	if numel(shape) != len(data) {
		panic(fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape))
	}
	return &Tensor{Data: data, shape: slices.Clone(shape)}
}

// Zeros returns a zero-filled tensor.
func Zeros(shape ...int) *Tensor {
	return &Tensor{Data: make([]float32, numel(shape)), shape: slices.Clone(shape)}
}

// Full returns a tensor filled with v.
func Full(v float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Scalar returns a 0-d tensor.
func Scalar(v float32) *Tensor {
	return &Tensor{Data: []float32{v}, shape: []int{}}
}

// Randn returns a tensor with values drawn from N(0, std²).
func Randn(rng *rand.Rand, std float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64()) * std
	}
	return t
}

// Uniform returns a tensor with values drawn from U(-limit, limit).
func Uniform(rng *rand.Rand, limit float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = (rng.Float32()*2 - 1) * limit
	}
	return t
}

// RequireGrad marks t as a leaf that accumulates gradients and returns it.
func (t *Tensor) RequireGrad() *Tensor {
	t.requiresGrad = true
	return t
}

// RequiresGrad reports whether gradients flow into t.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Dim returns the size of dimension i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int { return len(t.Data) }

// Item returns the single value of a one-element tensor.
func (t *Tensor) Item() float32 {
	if len(t.Data) != 1 {
		panic(fmt.Errorf("%w: Item on shape %v", ErrShape, t.shape))
	}
	return t.Data[0]
}

// ZeroGrad clears accumulated gradients.
func (t *Tensor) ZeroGrad() {
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// IsFinite reports whether every value is neither NaN nor Inf.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

// Detach returns a tensor sharing t's data that is cut off from the graph.
func Detach(t *Tensor) *Tensor {
	return &Tensor{Data: t.Data, shape: slices.Clone(t.shape)}
}

// Clone returns a deep copy of t cut off from the graph.
func Clone(t *Tensor) *Tensor {
	return &Tensor{Data: slices.Clone(t.Data), shape: slices.Clone(t.shape)}
}

func (t *Tensor) grad() []float32 {
	if t.Grad == nil {
		t.Grad = make([]float32, len(t.Data))
	}
	return t.Grad
}

// result builds an operation output. The backward closure is only attached
// when one of the parents requires gradients.
func result(data []float32, shape []int, parents ...*Tensor) *Tensor {
	out := &Tensor{Data: data, shape: shape}
	for _, p := range parents {
		if p.requiresGrad {
			out.requiresGrad = true
			out.parents = parents
			break
		}
	}
	return out
}

// Backward runs reverse-mode differentiation from root, seeding its gradient
// with ones. Gradients accumulate; call ZeroGrad on parameters between steps.
func Backward(root *Tensor) {
	if !root.requiresGrad {
		return
	}

	var topo []*Tensor
	visited := make(map[*Tensor]bool)

	var build func(n *Tensor)
	build = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, p := range n.parents {
			if p.requiresGrad {
				build(p)
			}
		}
		topo = append(topo, n)
	}
	build(root)

	// Interior nodes may be shared by several graphs, so their gradients are
	// recomputed per call. Only leaves accumulate.
	for _, n := range topo {
		if n.backward != nil {
			n.Grad = nil
		}
	}

	g := root.grad()
	for i := range g {
		g[i] = 1
	}

	for i := len(topo) - 1; i >= 0; i-- {
		if topo[i].backward != nil && topo[i].Grad != nil {
			topo[i].backward()
		}
	}
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b *Tensor) bool {
	return slices.Equal(a.shape, b.shape)
}

func mustSameShape(op string, a, b *Tensor) {
	if !sameShape(a, b) {
		panic(fmt.Errorf("%w: %s %v vs %v", ErrShape, op, a.shape, b.shape))
	}
}

func mustRank(op string, t *Tensor, rank int) {
	if len(t.shape) != rank {
		panic(fmt.Errorf("%w: %s wants rank %d, got %v", ErrShape, op, rank, t.shape))
	}
}
