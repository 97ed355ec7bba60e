package tensor

import (
	"slices"
)

// Sum returns the sum of all elements as a scalar.
func Sum(t *Tensor) *Tensor {
	var s float32
	for _, v := range t.Data {
		s += v
	}
	out := result([]float32{s}, []int{}, t)
	if out.requiresGrad {
		out.backward = func() {
			gt := t.grad()
			g := out.Grad[0]
			for i := range gt {
				gt[i] += g
			}
		}
	}
	return out
}

// Mean returns the mean of all elements as a scalar.
func Mean(t *Tensor) *Tensor {
	if len(t.Data) == 0 {
		return Scalar(0)
	}
	return Scale(Sum(t), 1/float32(len(t.Data)))
}

// SumAxis sums t over axis, removing that dimension.
func SumAxis(t *Tensor, axis int) *Tensor {
	return reduceAxis(t, axis, 1)
}

// MeanAxis averages t over axis, removing that dimension.
func MeanAxis(t *Tensor, axis int) *Tensor {
	if axis < 0 {
		axis += t.Rank()
	}
	n := t.shape[axis]
	if n == 0 {
		return reduceAxis(t, axis, 0)
	}
	return reduceAxis(t, axis, 1/float32(n))
}

func reduceAxis(t *Tensor, axis int, scale float32) *Tensor {
	if axis < 0 {
		axis += t.Rank()
	}
	outer := numel(t.shape[:axis])
	n := t.shape[axis]
	inner := numel(t.shape[axis+1:])

	d := make([]float32, outer*inner)
	for o := 0; o < outer; o++ {
		for a := 0; a < n; a++ {
			src := t.Data[(o*n+a)*inner : (o*n+a+1)*inner]
			dst := d[o*inner : (o+1)*inner]
			for i, v := range src {
				dst[i] += v * scale
			}
		}
	}

	shape := append(slices.Clone(t.shape[:axis]), t.shape[axis+1:]...)
	out := result(d, shape, t)
	if out.requiresGrad {
		out.backward = func() {
			gt := t.grad()
			for o := 0; o < outer; o++ {
				g := out.Grad[o*inner : (o+1)*inner]
				for a := 0; a < n; a++ {
					dst := gt[(o*n+a)*inner : (o*n+a+1)*inner]
					for i, v := range g {
						dst[i] += v * scale
					}
				}
			}
		}
	}
	return out
}

// MSE returns mean((a-b)²) as a scalar.
func MSE(a, b *Tensor) *Tensor {
	diff := Sub(a, b)
	return Mean(Mul(diff, diff))
}

// Entropy returns -Σ p·log(p+eps) over the last dimension of p.
func Entropy(p *Tensor, eps float32) *Tensor {
	return Neg(SumAxis(Mul(p, Log(p, eps)), -1))
}
