package tensor

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
)

// MaskedSoftmax applies softmax over the last dimension of x ([G, n, m]).
//
// keyMask, when non-nil, holds G*m values; key j of group g takes part only if
// keyMask[g*m+j] > 0. Rows without any valid key produce zeros.
func MaskedSoftmax(x *Tensor, keyMask []float32) *Tensor {
	mustRank("MaskedSoftmax", x, 3)
	g, n, m := x.shape[0], x.shape[1], x.shape[2]
	if keyMask != nil && len(keyMask) != g*m {
		panic(fmt.Errorf("%w: MaskedSoftmax %v with %d mask values", ErrShape, x.shape, len(keyMask)))
	}

	valid := func(gi, j int) bool {
		return keyMask == nil || keyMask[gi*m+j] > 0
	}

	d := make([]float32, len(x.Data))
	for gi := 0; gi < g; gi++ {
		for i := 0; i < n; i++ {
			row := x.Data[(gi*n+i)*m : (gi*n+i+1)*m]
			dst := d[(gi*n+i)*m : (gi*n+i+1)*m]

			maxVal := float32(math.Inf(-1))
			for j, v := range row {
				if valid(gi, j) && v > maxVal {
					maxVal = v
				}
			}
			if math.IsInf(float64(maxVal), -1) {
				continue
			}

			var sum float64
			for j, v := range row {
				if !valid(gi, j) {
					continue
				}
				e := math.Exp(float64(v - maxVal))
				dst[j] = float32(e)
				sum += e
			}
			inv := float32(1 / sum)
			for j := range dst {
				dst[j] *= inv
			}
		}
	}

	out := result(d, slices.Clone(x.shape), x)
	if out.requiresGrad {
		out.backward = func() {
			gx := x.grad()
			for r := 0; r < g*n; r++ {
				y := out.Data[r*m : (r+1)*m]
				gy := out.Grad[r*m : (r+1)*m]
				var dot float32
				for j := range y {
					dot += y[j] * gy[j]
				}
				for j := range y {
					gx[r*m+j] += y[j] * (gy[j] - dot)
				}
			}
		}
	}
	return out
}

// LayerNorm normalizes x over its last dimension and applies the affine
// transform gamma·x̂ + beta.
func LayerNorm(x, gamma, beta *Tensor, eps float32) *Tensor {
	n := x.Dim(-1)
	if gamma.Numel() != n || beta.Numel() != n {
		panic(fmt.Errorf("%w: LayerNorm %v with gamma %v beta %v", ErrShape, x.shape, gamma.shape, beta.shape))
	}

	rows := len(x.Data) / n
	d := make([]float32, len(x.Data))
	xhat := make([]float32, len(x.Data))
	rstd := make([]float32, rows)

	for r := 0; r < rows; r++ {
		row := x.Data[r*n : (r+1)*n]
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(n)
		var variance float64
		for _, v := range row {
			dv := float64(v) - mean
			variance += dv * dv
		}
		variance /= float64(n)
		rs := 1 / math.Sqrt(variance+float64(eps))
		rstd[r] = float32(rs)
		for j, v := range row {
			h := float32((float64(v) - mean) * rs)
			xhat[r*n+j] = h
			d[r*n+j] = h*gamma.Data[j] + beta.Data[j]
		}
	}

	out := result(d, slices.Clone(x.shape), x, gamma, beta)
	if out.requiresGrad {
		out.backward = func() {
			for r := 0; r < rows; r++ {
				gy := out.Grad[r*n : (r+1)*n]
				h := xhat[r*n : (r+1)*n]
				if gamma.requiresGrad {
					gg := gamma.grad()
					for j := range gy {
						gg[j] += gy[j] * h[j]
					}
				}
				if beta.requiresGrad {
					gb := beta.grad()
					for j := range gy {
						gb[j] += gy[j]
					}
				}
				if x.requiresGrad {
					var meanD, meanDH float32
					for j := range gy {
						dh := gy[j] * gamma.Data[j]
						meanD += dh
						meanDH += dh * h[j]
					}
					meanD /= float32(n)
					meanDH /= float32(n)
					gx := x.grad()
					for j := range gy {
						dh := gy[j] * gamma.Data[j]
						gx[r*n+j] += rstd[r] * (dh - meanD - h[j]*meanDH)
					}
				}
			}
		}
	}
	return out
}

// Dropout zeroes elements with probability p and rescales the survivors by
// 1/(1-p). A nil rng or p == 0 returns x unchanged.
func Dropout(x *Tensor, p float32, rng *rand.Rand) *Tensor {
	if rng == nil || p <= 0 {
		return x
	}
	keep := make([]float32, len(x.Data))
	scale := 1 / (1 - p)
	for i := range keep {
		if rng.Float32() >= p {
			keep[i] = scale
		}
	}
	return MulMask(x, keep)
}
