// Package descent walks an aggregated tree from the root to one leaf group
// per batch element and reads the visited path with cross-attention.
package descent

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/treemem/internal/tree"
	"github.com/hupe1980/treemem/nn"
	"github.com/hupe1980/treemem/tensor"
)

// ErrTooDeep is returned when the tree has more levels than the estimator.
var ErrTooDeep = errors.New("descent: tree deeper than estimator")

// logEps keeps log-probabilities and entropies finite.
const logEps = 1e-9

// State is the position of a walk.
type State int

const (
	AtRoot State = iota
	Descending
	AtFinalGroup
	Done
)

func (s State) String() string {
	switch s {
	case AtRoot:
		return "at-root"
	case Descending:
		return "descending"
	case AtFinalGroup:
		return "at-final-group"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Scorer chooses which branch score drives inference-time selection.
type Scorer int

const (
	// ScorePolicy uses the attention policy.
	ScorePolicy Scorer = iota
	// ScoreEstimator uses the learned per-level estimator.
	ScoreEstimator
)

// Descender runs top-down retrieval.
type Descender struct {
	Attention *nn.Attention
	Norm      nn.Norm
	Estimator *Estimator
	Tracker   *LossTracker
	Sampler   Selector
	Greedy    Selector
	Scorer    Scorer

	// OnEstimatorLoss is called after every estimator update.
	OnEstimatorLoss func(level int, loss float64)
}

// Outcome is the result of one walk.
type Outcome struct {
	// Embedding is the cross-attention read of the path, [B, M, D].
	Embedding *tensor.Tensor
	// Selected holds the chosen child per level and batch element.
	Selected [][]int
	// Entropy is the mean attention entropy over levels (scalar). Train only.
	Entropy *tensor.Tensor
	// LogProb is the per-element sum of selected-branch log-probabilities,
	// [B]. Train only.
	LogProb *tensor.Tensor
	// State is the final walk state.
	State State
}

type walk struct {
	d     *Descender
	table *tree.Table
	query *tensor.Tensor
	pass  nn.Pass

	state  State
	level  int
	active []int

	path     []*tensor.Tensor
	pathMask [][]float32
	entropy  []*tensor.Tensor
	logProb  []*tensor.Tensor
	selected [][]int
}

// Run walks table for query [B, M, D].
func (d *Descender) Run(ctx context.Context, table *tree.Table, query *tensor.Tensor, pass nn.Pass) (*Outcome, error) {
	if table.Depth() > d.Estimator.Depth() {
		return nil, fmt.Errorf("%w: depth %d, estimator covers %d", ErrTooDeep, table.Depth(), d.Estimator.Depth())
	}

	w := &walk{
		d:      d,
		table:  table,
		query:  query,
		pass:   pass,
		state:  AtRoot,
		active: make([]int, table.Batch()),
	}
	for w.state != Done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w.step()
	}
	return w.outcome(), nil
}

func (w *walk) step() {
	switch w.state {
	case AtRoot:
		w.level = 1
		if w.table.Depth() == 0 {
			w.state = AtFinalGroup
			return
		}
		w.state = Descending
	case Descending:
		w.descend()
		if w.level == w.table.Depth() {
			w.state = AtFinalGroup
			return
		}
		w.level++
	case AtFinalGroup:
		grp, mask := w.table.Group(w.active)
		w.path = append(w.path, grp)
		w.pathMask = append(w.pathMask, mask)
		w.state = Done
	}
}

// descend scores the children of the active nodes at w.level, selects one per
// batch element and records the rejected siblings on the path. All b children
// are kept with mask valid*(1-onehot(selected)), so each rejected sibling
// stands in for the subtree the walk prunes.
func (w *walk) descend() {
	br := w.table.Shape().Branch
	children, mask := w.table.Children(w.level-1, w.active)

	var policy *tensor.Tensor
	var weights *tensor.Tensor
	if w.pass.Train || w.d.Scorer == ScorePolicy {
		policy, weights = w.policy(children, mask)
	}

	var sel []int
	switch {
	case w.pass.Train:
		w.trainEstimator(children, mask, policy)
		sel = w.d.Sampler.Select(policy.Data, mask, br)
		w.entropy = append(w.entropy, tensor.Mean(tensor.Entropy(weights, logEps)))
		w.logProb = append(w.logProb, tensor.Log(tensor.Pick(policy, sel), logEps))
	case w.d.Scorer == ScoreEstimator:
		est := w.d.Estimator.Score(w.level-1, w.query, children, mask)
		sel = w.d.Greedy.Select(est.Data, mask, br)
	default:
		sel = w.d.Greedy.Select(policy.Data, mask, br)
	}

	rejected := make([]float32, len(mask))
	for bi, c := range sel {
		for j := 0; j < br; j++ {
			if j != c {
				rejected[bi*br+j] = mask[bi*br+j]
			}
		}
		w.active[bi] = w.active[bi]*br + c
	}
	w.path = append(w.path, children)
	w.pathMask = append(w.pathMask, rejected)
	w.selected = append(w.selected, sel)
}

// policy attends from the queries to the children and returns the [B, b]
// weight distribution averaged over heads and queries plus the raw weights.
func (w *walk) policy(children *tensor.Tensor, mask []float32) (*tensor.Tensor, *tensor.Tensor) {
	var info *nn.AttentionInfo
	w.d.Norm.Attend(w.query, func(h *tensor.Tensor) *tensor.Tensor {
		var out *tensor.Tensor
		out, info = w.d.Attention.Forward(h, children, mask, w.pass)
		return out
	})
	return info.Scores, info.Weights
}

func (w *walk) trainEstimator(children *tensor.Tensor, mask []float32, policy *tensor.Tensor) {
	est := w.d.Estimator.Score(w.level-1, tensor.Detach(w.query), tensor.Detach(children), mask)
	loss := tensor.MSE(est, tensor.Detach(policy))
	tensor.Backward(loss)

	v := float64(loss.Item())
	if w.d.Tracker != nil {
		w.d.Tracker.Update(w.level-1, v)
	}
	if w.d.OnEstimatorLoss != nil {
		w.d.OnEstimatorLoss(w.level-1, v)
	}
}

func (w *walk) outcome() *Outcome {
	b := w.table.Batch()
	path := tensor.Concat(1, w.path...)
	n := path.Dim(1)

	mask := make([]float32, 0, b*n)
	for bi := 0; bi < b; bi++ {
		for _, m := range w.pathMask {
			width := len(m) / b
			mask = append(mask, m[bi*width:(bi+1)*width]...)
		}
	}

	emb := w.d.Norm.Attend(w.query, func(h *tensor.Tensor) *tensor.Tensor {
		out, _ := w.d.Attention.Forward(h, path, mask, w.pass)
		return out
	})

	o := &Outcome{Embedding: emb, Selected: w.selected, State: w.state}
	if w.pass.Train {
		o.Entropy = tensor.Scalar(0)
		o.LogProb = tensor.Zeros(b)
		if len(w.entropy) > 0 {
			o.Entropy = tensor.Mean(tensor.Concat(0, reshapeAll(w.entropy, 1)...))
			o.LogProb = tensor.SumAxis(tensor.Concat(1, reshapeAll(w.logProb, b, 1)...), 1)
		}
	}
	return o
}

func reshapeAll(ts []*tensor.Tensor, shape ...int) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(ts))
	for i, t := range ts {
		out[i] = tensor.Reshape(t, shape...)
	}
	return out
}
