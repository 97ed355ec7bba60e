package descent

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treemem/aggregator"
	"github.com/hupe1980/treemem/internal/tree"
	"github.com/hupe1980/treemem/nn"
	"github.com/hupe1980/treemem/tensor"
)

const dim = 8

type fixture struct {
	table *tree.Table
	desc  *Descender
	query *tensor.Tensor
}

func newFixture(t *testing.T, seed int64, n, branch, estimatorDepth int, placement nn.Placement) *fixture {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	agg, err := aggregator.New(rng, aggregator.Config{
		Kind: aggregator.KindTransformer, Dim: dim, Heads: 2, Hidden: 16,
		Layers: 1, Window: 16, Placement: placement,
	})
	require.NoError(t, err)

	s, err := tree.ResolveShape(n, branch)
	require.NoError(t, err)
	p, err := tree.Pad(tensor.Randn(rng, 1, 2, n, dim), s)
	require.NoError(t, err)
	table, err := tree.Build(p, agg, nn.Inference)
	require.NoError(t, err)

	attn, err := nn.NewAttention(rng, dim, 2, 0)
	require.NoError(t, err)
	norm, err := nn.NewNorm(placement, dim)
	require.NoError(t, err)

	return &fixture{
		table: table,
		query: tensor.Randn(rng, 1, 2, 3, dim),
		desc: &Descender{
			Attention: attn,
			Norm:      norm,
			Estimator: NewEstimator(rng, dim, estimatorDepth),
			Tracker:   NewLossTracker(estimatorDepth),
			Sampler:   NewCategoricalSampler(rand.New(rand.NewSource(seed + 100))),
			Greedy:    ArgMax{},
		},
	}
}

func TestArgMax(t *testing.T) {
	probs := []float32{0.2, 0.5, 0.3, 0.6, 0.4, 0}
	mask := []float32{1, 0, 1, 0, 1, 1}
	assert.Equal(t, []int{2, 1}, ArgMax{}.Select(probs, mask, 3))
}

func TestCategoricalSamplerRespectsMask(t *testing.T) {
	s := NewCategoricalSampler(rand.New(rand.NewSource(1)))
	probs := []float32{0.5, 0.5, 0, 0, 0.25, 0.75}
	mask := []float32{1, 1, 0, 0, 1, 1}

	counts := make([]int, 3)
	for i := 0; i < 2000; i++ {
		sel := s.Select(probs, mask, 3)
		require.NotEqual(t, 2, sel[0])
		require.NotEqual(t, 0, sel[1])
		counts[sel[1]]++
	}
	assert.InDelta(t, 0.25, float64(counts[1])/2000, 0.05)
	assert.InDelta(t, 0.75, float64(counts[2])/2000, 0.05)
}

func TestCategoricalSamplerSeeded(t *testing.T) {
	probs := []float32{0.1, 0.2, 0.3, 0.4}
	mask := []float32{1, 1, 1, 1}
	a := NewCategoricalSampler(rand.New(rand.NewSource(7)))
	b := NewCategoricalSampler(rand.New(rand.NewSource(7)))
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Select(probs, mask, 4), b.Select(probs, mask, 4))
	}
}

func TestLossTrackerRunningMean(t *testing.T) {
	tr := NewLossTracker(2)
	losses := []float64{0.5, 1.5, 0.25, 3}
	var sum float64
	for i, l := range losses {
		sum += l
		count, mean := tr.Update(1, l)
		assert.Equal(t, i+1, count)
		assert.InDelta(t, sum/float64(i+1), mean, 1e-12)
	}

	snap := tr.Snapshot()
	assert.Equal(t, Stat{}, snap[0])
	assert.Equal(t, 4, snap[1].Count)

	tr.Reset()
	assert.Equal(t, []Stat{{}, {}}, tr.Snapshot())

	tr.Restore(snap)
	assert.Equal(t, snap, tr.Snapshot())
}

func TestInferenceDeterministic(t *testing.T) {
	for _, placement := range []nn.Placement{nn.PreNorm, nn.PostNorm} {
		t.Run(placement.String(), func(t *testing.T) {
			f := newFixture(t, 1, 9, 2, 6, placement)

			a, err := f.desc.Run(context.Background(), f.table, f.query, nn.Inference)
			require.NoError(t, err)
			b, err := f.desc.Run(context.Background(), f.table, f.query, nn.Inference)
			require.NoError(t, err)

			assert.Equal(t, Done, a.State)
			assert.Equal(t, []int{2, 3, dim}, a.Embedding.Shape())
			assert.Equal(t, a.Embedding.Data, b.Embedding.Data)
			assert.Equal(t, a.Selected, b.Selected)
			assert.Len(t, a.Selected, f.table.Depth())
			assert.Nil(t, a.Entropy)
			assert.Nil(t, a.LogProb)
		})
	}
}

func TestInferenceWithEstimator(t *testing.T) {
	f := newFixture(t, 2, 9, 3, 6, nn.PreNorm)
	f.desc.Scorer = ScoreEstimator

	out, err := f.desc.Run(context.Background(), f.table, f.query, nn.Inference)
	require.NoError(t, err)
	assert.True(t, out.Embedding.IsFinite())
	assert.Equal(t, []Stat{{}, {}, {}, {}, {}, {}}, f.desc.Tracker.Snapshot())
}

func TestTrainTerms(t *testing.T) {
	f := newFixture(t, 3, 9, 2, 6, nn.PostNorm)
	var seen []int
	f.desc.OnEstimatorLoss = func(level int, loss float64) {
		seen = append(seen, level)
		assert.GreaterOrEqual(t, loss, 0.0)
	}

	out, err := f.desc.Run(context.Background(), f.table, f.query, nn.Pass{Train: true})
	require.NoError(t, err)

	depth := f.table.Depth()
	require.Equal(t, 3, depth)
	assert.Equal(t, []int{0, 1, 2}, seen)

	assert.GreaterOrEqual(t, out.Entropy.Item(), float32(0))
	require.Equal(t, []int{2}, out.LogProb.Shape())
	for _, lp := range out.LogProb.Data {
		assert.LessOrEqual(t, lp, float32(1e-6))
	}

	stats := f.desc.Tracker.Snapshot()
	for l := 0; l < depth; l++ {
		assert.Equal(t, 1, stats[l].Count)
	}

	params := nn.Params{}
	f.desc.Estimator.Collect("est", params)
	assert.NotNil(t, params["est.level0.query.weight"].Grad)
}

func TestSelectedNodesAreValid(t *testing.T) {
	f := newFixture(t, 4, 5, 2, 6, nn.PreNorm)

	for i := 0; i < 20; i++ {
		out, err := f.desc.Run(context.Background(), f.table, f.query, nn.Pass{Train: true})
		require.NoError(t, err)

		for bi := 0; bi < f.table.Batch(); bi++ {
			node := 0
			for d, sel := range out.Selected {
				node = node*2 + sel[bi]
				assert.True(t, f.table.Level(d+1).Mask.Valid(bi, node))
			}
		}
	}
}

func TestSeededTrainingReproducible(t *testing.T) {
	run := func() *Outcome {
		f := newFixture(t, 5, 9, 2, 6, nn.PreNorm)
		out, err := f.desc.Run(context.Background(), f.table, f.query, nn.Pass{Train: true})
		require.NoError(t, err)
		return out
	}
	a, b := run(), run()
	assert.Equal(t, a.Selected, b.Selected)
	assert.Equal(t, a.Embedding.Data, b.Embedding.Data)
	assert.Equal(t, a.LogProb.Data, b.LogProb.Data)
}

func TestSingleItemTree(t *testing.T) {
	f := newFixture(t, 6, 1, 2, 6, nn.PreNorm)

	out, err := f.desc.Run(context.Background(), f.table, f.query, nn.Pass{Train: true})
	require.NoError(t, err)
	assert.Empty(t, out.Selected)
	assert.Equal(t, float32(0), out.Entropy.Item())
	assert.Equal(t, []float32{0, 0}, out.LogProb.Data)
	assert.True(t, out.Embedding.IsFinite())
}

func TestTooDeep(t *testing.T) {
	f := newFixture(t, 7, 9, 2, 2, nn.PreNorm)
	_, err := f.desc.Run(context.Background(), f.table, f.query, nn.Inference)
	assert.ErrorIs(t, err, ErrTooDeep)
}

func TestCanceledContext(t *testing.T) {
	f := newFixture(t, 8, 9, 2, 6, nn.PreNorm)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.desc.Run(ctx, f.table, f.query, nn.Inference)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPathKeepsRejectedSiblings(t *testing.T) {
	f := newFixture(t, 9, 13, 3, 6, nn.PreNorm)
	br := f.table.Shape().Branch

	w := &walk{
		d:      f.desc,
		table:  f.table,
		query:  f.query,
		pass:   nn.Inference,
		state:  AtRoot,
		active: make([]int, f.table.Batch()),
	}
	for w.state != Done {
		w.step()
	}

	require.Len(t, w.path, f.table.Depth()+1)
	for bi := 0; bi < f.table.Batch(); bi++ {
		parent := 0
		for d, sel := range w.selected {
			assert.Equal(t, []int{f.table.Batch(), br, dim}, w.path[d].Shape())
			for j := 0; j < br; j++ {
				got := w.pathMask[d][bi*br+j]
				switch {
				case j == sel[bi]:
					assert.Zero(t, got, "selected child is masked out")
				case f.table.Level(d + 1).Mask.Valid(bi, parent*br+j):
					assert.Equal(t, float32(1), got)
				default:
					assert.Zero(t, got, "invalid sibling stays masked")
				}
			}
			parent = parent*br + sel[bi]
		}
	}
}
