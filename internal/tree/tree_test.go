package tree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treemem/aggregator"
	"github.com/hupe1980/treemem/nn"
	"github.com/hupe1980/treemem/tensor"
)

func TestResolveShape(t *testing.T) {
	tests := []struct {
		n, b       int
		depth, grp int
		padded     int
	}{
		{n: 1, b: 2, depth: 0, grp: 1, padded: 1},
		{n: 2, b: 2, depth: 0, grp: 2, padded: 2},
		{n: 5, b: 2, depth: 2, grp: 2, padded: 8},
		{n: 9, b: 3, depth: 1, grp: 3, padded: 9},
		{n: 10, b: 3, depth: 2, grp: 2, padded: 18},
		{n: 17, b: 4, depth: 2, grp: 2, padded: 32},
	}
	for _, tt := range tests {
		s, err := ResolveShape(tt.n, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.depth, s.Depth, s.String())
		assert.Equal(t, tt.grp, s.Group, s.String())
		assert.Equal(t, tt.padded, s.Padded(), s.String())
		assert.GreaterOrEqual(t, s.Padded(), tt.n)
	}
}

func TestResolveShapeErrors(t *testing.T) {
	_, err := ResolveShape(0, 2)
	assert.ErrorIs(t, err, ErrEmptyItems)

	_, err = ResolveShape(4, 1)
	assert.ErrorIs(t, err, ErrBranch)
}

func TestPad(t *testing.T) {
	s, err := ResolveShape(5, 2)
	require.NoError(t, err)

	items := tensor.FromData([]float32{1, 2, 3, 4, 5}, 1, 5, 1)
	p, err := Pad(items, s)
	require.NoError(t, err)

	require.Equal(t, []int{1, 8, 1}, p.Data.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5}, p.Data.Data[:5])
	assert.InDeltaSlice(t, []float32{1 + PadOffset, 2 + PadOffset, 3 + PadOffset}, p.Data.Data[5:], 1e-6)
	assert.Equal(t, 5, p.Mask.Total())
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 0, 0, 0}, p.Mask.Floats())
}

func TestPadSingleItem(t *testing.T) {
	s, err := ResolveShape(1, 2)
	require.NoError(t, err)

	p, err := Pad(tensor.FromData([]float32{7, 8}, 1, 1, 2), s)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2}, p.Data.Shape())
	assert.Equal(t, 1, p.Mask.Total())
}

func TestPadRejectsWrongCount(t *testing.T) {
	s, err := ResolveShape(5, 2)
	require.NoError(t, err)

	_, err = Pad(tensor.Zeros(1, 4, 2), s)
	assert.ErrorIs(t, err, tensor.ErrShape)
}

func TestMaskParent(t *testing.T) {
	m := NewMask(2, 6)
	m.Set(0, 1)
	m.Set(0, 5)
	m.Set(1, 2)

	p := m.Parent(2)
	assert.Equal(t, 3, p.Width())
	assert.Equal(t, []float32{1, 0, 1, 0, 1, 0}, p.Floats())
	assert.Equal(t, []float32{0, 1, 0, 0}, m.Gather([]int{0, 1}, 2))
}

func newAggregator(t *testing.T, rng *rand.Rand, dim int) aggregator.Aggregator {
	t.Helper()
	agg, err := aggregator.New(rng, aggregator.Config{
		Kind:      aggregator.KindTransformer,
		Dim:       dim,
		Heads:     2,
		Hidden:    2 * dim,
		Layers:    1,
		Window:    8,
		Placement: nn.PreNorm,
	})
	require.NoError(t, err)
	return agg
}

func TestBuildScenario(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s, err := ResolveShape(5, 2)
	require.NoError(t, err)

	items := tensor.Randn(rng, 1, 1, 5, 4)
	p, err := Pad(items, s)
	require.NoError(t, err)

	table, err := Build(p, newAggregator(t, rng, 4), nn.Inference)
	require.NoError(t, err)

	require.Equal(t, 2, table.Depth())
	for d := 0; d <= table.Depth(); d++ {
		lvl := table.Level(d)
		assert.Equal(t, []int{1, s.Nodes(d), 4}, lvl.Embeddings.Shape())
		assert.True(t, lvl.Embeddings.IsFinite())
	}

	// Leaf groups {0,1} {2,3} {4,pad} {pad,pad}.
	assert.Equal(t, []float32{1, 1, 1, 0}, table.Level(2).Mask.Floats())
	assert.Equal(t, []float32{1, 1}, table.Level(1).Mask.Floats())
	assert.Equal(t, []float32{1}, table.Level(0).Mask.Floats())

	leaves, _ := table.Leaves()
	assert.Equal(t, []int{4, 2, 4}, leaves.Shape())
	all, mask := table.AllLeaves()
	assert.Equal(t, p.Data.Data, all.Data)
	assert.Equal(t, p.Mask.Floats(), mask)
}

func TestBuildOrInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	s, err := ResolveShape(27, 3)
	require.NoError(t, err)
	require.Equal(t, 2, s.Depth)

	items := tensor.Randn(rng, 1, 2, 27, 4)
	p, err := Pad(items, s)
	require.NoError(t, err)

	p.Mask = NewMask(2, s.Padded())
	for b := 0; b < 2; b++ {
		for i := 0; i < s.Padded(); i++ {
			if rng.Intn(4) == 0 {
				p.Mask.Set(b, i)
			}
		}
	}

	table, err := Build(p, newAggregator(t, rng, 4), nn.Inference)
	require.NoError(t, err)

	for d := 0; d < table.Depth(); d++ {
		parent, child := table.Level(d).Mask, table.Level(d+1).Mask
		for b := 0; b < 2; b++ {
			for j := 0; j < s.Nodes(d); j++ {
				valid := false
				for c := 0; c < s.Branch; c++ {
					valid = valid || child.Valid(b, j*s.Branch+c)
				}
				assert.Equal(t, valid, parent.Valid(b, j), "depth %d batch %d node %d", d, b, j)
			}
		}
	}
	for b := 0; b < 2; b++ {
		for j := 0; j < s.Groups(); j++ {
			valid := false
			for i := 0; i < s.Group; i++ {
				valid = valid || p.Mask.Valid(b, j*s.Group+i)
			}
			assert.Equal(t, valid, table.Level(s.Depth).Mask.Valid(b, j))
		}
	}
}

func TestChildrenAndGroup(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s, err := ResolveShape(5, 2)
	require.NoError(t, err)

	items := tensor.Randn(rng, 1, 2, 5, 4)
	p, err := Pad(items, s)
	require.NoError(t, err)
	table, err := Build(p, newAggregator(t, rng, 4), nn.Inference)
	require.NoError(t, err)

	emb, mask := table.Children(1, []int{1, 0})
	require.Equal(t, []int{2, 2, 4}, emb.Shape())
	lvl := table.Level(2)
	// batch 0, children 2 and 3 of depth 2
	assert.Equal(t, lvl.Embeddings.Data[2*4:4*4], emb.Data[:8])
	// batch 1, children 0 and 1
	assert.Equal(t, lvl.Embeddings.Data[4*4:6*4], emb.Data[8:])
	assert.Equal(t, []float32{1, 0, 1, 1}, mask)

	grp, gmask := table.Group([]int{2, 3})
	require.Equal(t, []int{2, 2, 4}, grp.Shape())
	assert.Equal(t, p.Data.Data[4*4:6*4], grp.Data[:8])
	assert.Equal(t, []float32{1, 0, 0, 0}, gmask)
}

func TestBuildSingleItem(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	s, err := ResolveShape(1, 2)
	require.NoError(t, err)

	p, err := Pad(tensor.Randn(rng, 1, 3, 1, 4), s)
	require.NoError(t, err)
	table, err := Build(p, newAggregator(t, rng, 4), nn.Inference)
	require.NoError(t, err)

	assert.Equal(t, 0, table.Depth())
	assert.Equal(t, []int{3, 1, 4}, table.Level(0).Embeddings.Shape())
	assert.Equal(t, []float32{1, 1, 1}, table.Level(0).Mask.Floats())
}

func TestPadMaskCountsRealItems(t *testing.T) {
	const batch, d = 2, 3
	for b := 2; b <= 5; b++ {
		for n := 2; n <= 40; n++ {
			s, err := ResolveShape(n, b)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, s.Padded(), n, "n=%d b=%d", n, b)

			p, err := Pad(tensor.Zeros(batch, n, d), s)
			require.NoError(t, err)
			assert.Equal(t, []int{batch, s.Padded(), d}, p.Data.Shape(), "n=%d b=%d", n, b)
			assert.Equal(t, batch*n, p.Mask.Total(), "n=%d b=%d", n, b)
			for bi := 0; bi < batch; bi++ {
				assert.Equal(t, n, p.Mask.Count(bi), "n=%d b=%d", n, b)
			}
		}
	}
}
