package descent

import (
	"math/rand"
	"sync"
)

// Selector picks one child per batch row.
//
// probs and mask are row-major [B, b]. Masked children carry zero
// probability and must never be selected while a valid child exists.
type Selector interface {
	Select(probs, mask []float32, branch int) []int
}

// CategoricalSampler samples children proportionally to their probability.
type CategoricalSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCategoricalSampler creates a sampler drawing from rng.
func NewCategoricalSampler(rng *rand.Rand) *CategoricalSampler {
	return &CategoricalSampler{rng: rng}
}

// Select implements Selector.
func (s *CategoricalSampler) Select(probs, mask []float32, branch int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := len(probs) / branch
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		p := probs[r*branch : (r+1)*branch]
		m := mask[r*branch : (r+1)*branch]

		var total float64
		for j, v := range p {
			if m[j] > 0 {
				total += float64(v)
			}
		}
		if total <= 0 {
			out[r] = firstValid(m)
			continue
		}

		u := s.rng.Float64() * total
		pick := -1
		for j, v := range p {
			if m[j] == 0 {
				continue
			}
			pick = j
			u -= float64(v)
			if u < 0 {
				break
			}
		}
		out[r] = pick
	}
	return out
}

// ArgMax picks the valid child with the highest probability; ties go to the
// lowest index.
type ArgMax struct{}

// Select implements Selector.
func (ArgMax) Select(probs, mask []float32, branch int) []int {
	rows := len(probs) / branch
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		p := probs[r*branch : (r+1)*branch]
		m := mask[r*branch : (r+1)*branch]
		best := -1
		for j, v := range p {
			if m[j] == 0 {
				continue
			}
			if best < 0 || v > p[best] {
				best = j
			}
		}
		if best < 0 {
			best = 0
		}
		out[r] = best
	}
	return out
}

func firstValid(mask []float32) int {
	for j, v := range mask {
		if v > 0 {
			return j
		}
	}
	return 0
}
