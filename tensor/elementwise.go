package tensor

import (
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/treemem/internal/math32"
)

// Add returns a + b element-wise.
func Add(a, b *Tensor) *Tensor {
	mustSameShape("Add", a, b)
	d := make([]float32, len(a.Data))
	for i := range d {
		d[i] = a.Data[i] + b.Data[i]
	}
	out := result(d, slices.Clone(a.shape), a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				math32.AddInPlace(a.grad(), out.Grad)
			}
			if b.requiresGrad {
				math32.AddInPlace(b.grad(), out.Grad)
			}
		}
	}
	return out
}

// Sub returns a - b element-wise.
func Sub(a, b *Tensor) *Tensor {
	mustSameShape("Sub", a, b)
	d := make([]float32, len(a.Data))
	for i := range d {
		d[i] = a.Data[i] - b.Data[i]
	}
	out := result(d, slices.Clone(a.shape), a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				math32.AddInPlace(a.grad(), out.Grad)
			}
			if b.requiresGrad {
				math32.Axpy(-1, out.Grad, b.grad())
			}
		}
	}
	return out
}

// Mul returns a * b element-wise.
func Mul(a, b *Tensor) *Tensor {
	mustSameShape("Mul", a, b)
	d := make([]float32, len(a.Data))
	for i := range d {
		d[i] = a.Data[i] * b.Data[i]
	}
	out := result(d, slices.Clone(a.shape), a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				ga := a.grad()
				for i, g := range out.Grad {
					ga[i] += g * b.Data[i]
				}
			}
			if b.requiresGrad {
				gb := b.grad()
				for i, g := range out.Grad {
					gb[i] += g * a.Data[i]
				}
			}
		}
	}
	return out
}

// Scale returns a * s.
func Scale(a *Tensor, s float32) *Tensor {
	d := make([]float32, len(a.Data))
	for i, v := range a.Data {
		d[i] = v * s
	}
	out := result(d, slices.Clone(a.shape), a)
	if out.requiresGrad {
		out.backward = func() {
			math32.Axpy(s, out.Grad, a.grad())
		}
	}
	return out
}

// AddScalar returns a + s.
func AddScalar(a *Tensor, s float32) *Tensor {
	d := make([]float32, len(a.Data))
	for i, v := range a.Data {
		d[i] = v + s
	}
	out := result(d, slices.Clone(a.shape), a)
	if out.requiresGrad {
		out.backward = func() {
			math32.AddInPlace(a.grad(), out.Grad)
		}
	}
	return out
}

// AddBias adds a bias vector over the last dimension of x.
func AddBias(x, bias *Tensor) *Tensor {
	n := x.Dim(-1)
	if bias.Numel() != n {
		panic(fmt.Errorf("%w: AddBias %v + %v", ErrShape, x.shape, bias.shape))
	}
	d := make([]float32, len(x.Data))
	for r := 0; r < len(d); r += n {
		for j := 0; j < n; j++ {
			d[r+j] = x.Data[r+j] + bias.Data[j]
		}
	}
	out := result(d, slices.Clone(x.shape), x, bias)
	if out.requiresGrad {
		out.backward = func() {
			if x.requiresGrad {
				math32.AddInPlace(x.grad(), out.Grad)
			}
			if bias.requiresGrad {
				gb := bias.grad()
				for r := 0; r < len(out.Grad); r += n {
					math32.AddInPlace(gb, out.Grad[r:r+n])
				}
			}
		}
	}
	return out
}

// MulMask multiplies x by a constant mask of the same size. The mask takes no
// part in the graph.
func MulMask(x *Tensor, mask []float32) *Tensor {
	if len(mask) != len(x.Data) {
		panic(fmt.Errorf("%w: MulMask %v with %d mask values", ErrShape, x.shape, len(mask)))
	}
	d := make([]float32, len(x.Data))
	for i, v := range x.Data {
		d[i] = v * mask[i]
	}
	out := result(d, slices.Clone(x.shape), x)
	if out.requiresGrad {
		out.backward = func() {
			gx := x.grad()
			for i, g := range out.Grad {
				gx[i] += g * mask[i]
			}
		}
	}
	return out
}

// Log returns log(a + eps) element-wise.
func Log(a *Tensor, eps float32) *Tensor {
	d := make([]float32, len(a.Data))
	for i, v := range a.Data {
		d[i] = float32(math.Log(float64(v + eps)))
	}
	out := result(d, slices.Clone(a.shape), a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			for i, g := range out.Grad {
				ga[i] += g / (a.Data[i] + eps)
			}
		}
	}
	return out
}

// Neg returns -a.
func Neg(a *Tensor) *Tensor {
	return Scale(a, -1)
}

// GELU applies the tanh approximation of the Gaussian error linear unit.
func GELU(a *Tensor) *Tensor {
	const c = 0.7978845608028654 // sqrt(2/pi)
	const k = 0.044715

	d := make([]float32, len(a.Data))
	th := make([]float32, len(a.Data))
	for i, v := range a.Data {
		x := float64(v)
		t := math.Tanh(c * (x + k*x*x*x))
		th[i] = float32(t)
		d[i] = float32(0.5 * x * (1 + t))
	}
	out := result(d, slices.Clone(a.shape), a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			for i, g := range out.Grad {
				x := float64(a.Data[i])
				t := float64(th[i])
				dx := 0.5*(1+t) + 0.5*x*(1-t*t)*c*(1+3*k*x*x)
				ga[i] += g * float32(dx)
			}
		}
	}
	return out
}
