package math32

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Positive values", []float32{1, 2, 3}, []float32{4, 5, 6}, 32.0},
		{"Negative values", []float32{-1, -2, -3}, []float32{-4, -5, -6}, 32.0},
		{"More than 4", []float32{1, 2, 3, 1, 2, 3}, []float32{4, 5, 6, 4, 5, 6}, 64.0},
		{"Mixed values", []float32{1, -2, 3}, []float32{-4, 5, -6}, -32.0},
		{"Zero values", []float32{0, 0, 0}, []float32{0, 0, 0}, 0.0},
		{"Empty", []float32{}, []float32{}, 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := Dot(tc.a, tc.b)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestAxpy(t *testing.T) {
	y := []float32{1, 1, 1, 1, 1}
	Axpy(2, []float32{1, 2, 3, 4, 5}, y)
	assert.Equal(t, []float32{3, 5, 7, 9, 11}, y)
}

func TestMax(t *testing.T) {
	v, i := Max([]float32{0.1, 0.7, 0.2})
	assert.Equal(t, float32(0.7), v)
	assert.Equal(t, 1, i)

	_, i = Max(nil)
	assert.Equal(t, -1, i)
}

func BenchmarkDot(b *testing.B) {
	const size = 4096
	va := make([]float32, size)
	vb := make([]float32, size)

	for i := range va {
		va[i] = rand.Float32() // nolint gosec
		vb[i] = rand.Float32() // nolint gosec
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Dot(va, vb)
	}
}
