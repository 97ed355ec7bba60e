package descent

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/hupe1980/treemem/nn"
	"github.com/hupe1980/treemem/tensor"
)

// Estimator is a cheap per-level branch scorer trained to imitate the
// attention policy:
//
//	score_j = softmax_mask(mean_m (Wq q_m)·(Wc c_j) / √D)
type Estimator struct {
	dim   int
	query []*nn.Linear
	child []*nn.Linear
}

// NewEstimator allocates one scorer per level for trees up to depth levels.
func NewEstimator(rng *rand.Rand, dim, depth int) *Estimator {
	e := &Estimator{dim: dim}
	for i := 0; i < depth; i++ {
		e.query = append(e.query, nn.NewLinear(rng, dim, dim, false))
		e.child = append(e.child, nn.NewLinear(rng, dim, dim, false))
	}
	return e
}

// Depth returns the number of levels the estimator covers.
func (e *Estimator) Depth() int { return len(e.query) }

// Score returns the [B, b] distribution over children [B, b, D] for queries
// [B, M, D]. mask holds B*b values.
func (e *Estimator) Score(level int, query, children *tensor.Tensor, mask []float32) *tensor.Tensor {
	if level < 0 || level >= len(e.query) {
		panic(fmt.Errorf("%w: estimator level %d of %d", tensor.ErrShape, level, len(e.query)))
	}
	b, br := children.Dim(0), children.Dim(1)

	q := e.query[level].Forward(query)
	c := e.child[level].Forward(children)
	s := tensor.Scale(tensor.MatMulT(q, c), float32(1/math.Sqrt(float64(e.dim)))) // [B, M, b]
	s = tensor.Reshape(tensor.MeanAxis(s, 1), b, 1, br)
	return tensor.Reshape(tensor.MaskedSoftmax(s, mask), b, br)
}

// Collect registers the estimator parameters.
func (e *Estimator) Collect(prefix string, p nn.Params) {
	for i := range e.query {
		e.query[i].Collect(fmt.Sprintf("%s.level%d.query", prefix, i), p)
		e.child[i].Collect(fmt.Sprintf("%s.level%d.child", prefix, i), p)
	}
}
