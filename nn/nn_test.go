package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treemem/tensor"
)

func TestNewAttentionRejectsIndivisibleHeads(t *testing.T) {
	_, err := NewAttention(rand.New(rand.NewSource(1)), 10, 3, 0)
	require.Error(t, err)
}

func TestAttentionMaskedKeys(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	attn, err := NewAttention(rng, 8, 2, 0)
	require.NoError(t, err)

	q := tensor.Randn(rng, 1, 2, 3, 8)
	kv := tensor.Randn(rng, 1, 2, 4, 8)
	mask := []float32{
		1, 1, 0, 1,
		0, 1, 0, 0,
	}

	out, info := attn.Forward(q, kv, mask, Inference)
	assert.Equal(t, []int{2, 3, 8}, out.Shape())
	assert.True(t, out.IsFinite())

	require.Equal(t, []int{4, 3, 4}, info.Weights.Shape())
	for g := 0; g < 4; g++ {
		b := g / 2
		for i := 0; i < 3; i++ {
			row := info.Weights.Data[(g*3+i)*4 : (g*3+i+1)*4]
			var sum float32
			for j, w := range row {
				if mask[b*4+j] == 0 {
					assert.Equal(t, float32(0), w)
				}
				sum += w
			}
			assert.InDelta(t, 1, sum, 1e-5)
		}
	}

	require.Equal(t, []int{2, 4}, info.Scores.Shape())
	assert.InDelta(t, 1, info.Scores.Data[5], 1e-5)
}

func TestAttentionGradReachesParameters(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	attn, err := NewAttention(rng, 4, 2, 0)
	require.NoError(t, err)

	q := tensor.Randn(rng, 1, 1, 2, 4)
	kv := tensor.Randn(rng, 1, 1, 3, 4)
	out, _ := attn.Forward(q, kv, nil, Inference)
	tensor.Backward(tensor.Sum(tensor.Mul(out, out)))

	params := Params{}
	attn.Collect("attn", params)
	require.Len(t, params, 8)
	for name, p := range params {
		assert.NotNil(t, p.Grad, name)
	}
}

func TestNormPlacement(t *testing.T) {
	x := tensor.FromData([]float32{1, 2, 3, 4}, 1, 1, 4)
	double := func(h *tensor.Tensor) *tensor.Tensor { return tensor.Scale(h, 2) }

	pre, err := NewNorm(PreNorm, 4)
	require.NoError(t, err)
	post, err := NewNorm(PostNorm, 4)
	require.NoError(t, err)

	ln := NewLayerNorm(4).Forward(x)

	// Pre-norm attention has no residual.
	assert.InDeltaSlice(t, tensor.Scale(ln, 2).Data, pre.Attend(x, double).Data, 1e-5)
	assert.InDeltaSlice(t, tensor.Add(x, tensor.Scale(ln, 2)).Data, pre.Residual(x, double).Data, 1e-5)

	// Post-norm normalizes the residual sum; 3x normalizes like x.
	assert.InDeltaSlice(t, ln.Data, post.Residual(x, double).Data, 1e-4)
	assert.InDeltaSlice(t, ln.Data, post.Attend(x, double).Data, 1e-4)

	assert.Equal(t, PreNorm, pre.Placement())
	assert.Equal(t, PostNorm, post.Placement())
}

func TestParsePlacement(t *testing.T) {
	tests := []struct {
		in      string
		want    Placement
		wantErr bool
	}{
		{"pre", PreNorm, false},
		{"post", PostNorm, false},
		{"sandwich", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlacement(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestEncoderLayer(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, placement := range []Placement{PreNorm, PostNorm} {
		t.Run(placement.String(), func(t *testing.T) {
			layer, err := NewEncoderLayer(rng, 8, 2, 16, 0.1, placement)
			require.NoError(t, err)

			x := tensor.Randn(rng, 1, 2, 5, 8)
			y := layer.Forward(x, nil, Pass{Train: true, Rand: rng})
			assert.Equal(t, x.Shape(), y.Shape())
			assert.True(t, y.IsFinite())

			params := Params{}
			layer.Collect("enc", params)
			assert.Contains(t, params, "enc.attn.query.weight")
			assert.Contains(t, params, "enc.ff.in.bias")
			assert.Contains(t, params, "enc.ff_norm.gamma")
		})
	}
}
