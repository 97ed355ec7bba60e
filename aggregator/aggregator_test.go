package aggregator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treemem/nn"
	"github.com/hupe1980/treemem/tensor"
)

func testConfig(window int) Config {
	return Config{
		Kind:      KindTransformer,
		Dim:       8,
		Heads:     2,
		Hidden:    16,
		Layers:    1,
		Window:    window,
		Placement: nn.PreNorm,
	}
}

func TestNewUnknownKind(t *testing.T) {
	cfg := testConfig(4)
	cfg.Kind = "mean"
	_, err := New(rand.New(rand.NewSource(1)), cfg)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestTransformerShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	agg, err := New(rng, testConfig(4))
	require.NoError(t, err)

	groups := tensor.Randn(rng, 1, 3, 5, 8)
	out := agg.Aggregate(groups, nil, nn.Inference)
	assert.Equal(t, []int{3, 8}, out.Shape())
	assert.True(t, out.IsFinite())
}

func TestTransformerIgnoresMaskedItems(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	agg, err := New(rng, testConfig(8))
	require.NoError(t, err)

	groups := tensor.Randn(rng, 1, 1, 3, 8)
	mask := []float32{1, 1, 0}
	a := agg.Aggregate(groups, mask, nn.Inference)

	changed := tensor.Clone(groups)
	for i := 16; i < 24; i++ {
		changed.Data[i] += 5
	}
	b := agg.Aggregate(changed, mask, nn.Inference)

	assert.InDeltaSlice(t, a.Data, b.Data, 1e-5)
}

func TestTransformerWindowDetachesCarry(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	agg, err := NewTransformer(rng, testConfig(2))
	require.NoError(t, err)

	groups := tensor.Randn(rng, 1, 1, 4, 8).RequireGrad()
	out := agg.Aggregate(groups, nil, nn.Inference)
	tensor.Backward(tensor.Sum(out))

	// Only the last window reaches the output through the graph.
	require.NotNil(t, groups.Grad)
	for i := 0; i < 16; i++ {
		assert.Equal(t, float32(0), groups.Grad[i])
	}
	nonZero := false
	for i := 16; i < 32; i++ {
		if groups.Grad[i] != 0 {
			nonZero = true
		}
	}
	assert.True(t, nonZero)
}

func TestTransformerCollect(t *testing.T) {
	agg, err := NewTransformer(rand.New(rand.NewSource(4)), testConfig(4))
	require.NoError(t, err)

	params := nn.Params{}
	agg.Collect("agg", params)
	assert.Contains(t, params, "agg.token")
	assert.Contains(t, params, "agg.layer0.attn.key.weight")
}
