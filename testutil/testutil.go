package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/treemem/tensor"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Source returns a new *rand.Rand seeded from this RNG, for components that
// take their own random source.
func (r *RNG) Source() *rand.Rand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rand.New(rand.NewSource(r.rand.Int63()))
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uniform returns a tensor of the given shape with values in [-1, 1).
func (r *RNG) Uniform(shape ...int) *tensor.Tensor {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := tensor.Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = r.rand.Float32()*2 - 1
	}
	return t
}

// Gaussian returns a tensor of the given shape with standard normal values.
func (r *RNG) Gaussian(shape ...int) *tensor.Tensor {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := tensor.Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = float32(r.rand.NormFloat64())
	}
	return t
}

// Clustered returns items [batch, n, dim] drawn around clusters random
// centers with unit-variance centers and 0.1 noise.
func (r *RNG) Clustered(batch, n, dim, clusters int) *tensor.Tensor {
	r.mu.Lock()
	defer r.mu.Unlock()

	centers := make([]float32, clusters*dim)
	for i := range centers {
		centers[i] = float32(r.rand.NormFloat64())
	}

	t := tensor.Zeros(batch, n, dim)
	for row := 0; row < batch*n; row++ {
		c := r.rand.Intn(clusters)
		for j := 0; j < dim; j++ {
			t.Data[row*dim+j] = centers[c*dim+j] + 0.1*float32(r.rand.NormFloat64())
		}
	}
	return t
}
