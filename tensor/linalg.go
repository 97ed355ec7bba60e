package tensor

import (
	"fmt"
	"slices"

	"github.com/hupe1980/treemem/internal/math32"
)

// Linear computes x·wᵀ + b over the last dimension of x.
// x is [..., in], w is [out, in] and b is [out] or nil.
func Linear(x, w, b *Tensor) *Tensor {
	mustRank("Linear weight", w, 2)
	in, outDim := w.shape[1], w.shape[0]
	if x.Dim(-1) != in {
		panic(fmt.Errorf("%w: Linear %v · %vᵀ", ErrShape, x.shape, w.shape))
	}
	if b != nil && b.Numel() != outDim {
		panic(fmt.Errorf("%w: Linear bias %v for %d outputs", ErrShape, b.shape, outDim))
	}

	rows := len(x.Data) / in
	d := make([]float32, rows*outDim)
	for r := 0; r < rows; r++ {
		xr := x.Data[r*in : (r+1)*in]
		for o := 0; o < outDim; o++ {
			v := math32.Dot(xr, w.Data[o*in:(o+1)*in])
			if b != nil {
				v += b.Data[o]
			}
			d[r*outDim+o] = v
		}
	}

	shape := slices.Clone(x.shape)
	shape[len(shape)-1] = outDim

	parents := []*Tensor{x, w}
	if b != nil {
		parents = append(parents, b)
	}
	out := result(d, shape, parents...)
	if out.requiresGrad {
		out.backward = func() {
			var gx, gw, gb []float32
			if x.requiresGrad {
				gx = x.grad()
			}
			if w.requiresGrad {
				gw = w.grad()
			}
			if b != nil && b.requiresGrad {
				gb = b.grad()
			}
			for r := 0; r < rows; r++ {
				xr := x.Data[r*in : (r+1)*in]
				for o := 0; o < outDim; o++ {
					g := out.Grad[r*outDim+o]
					if g == 0 {
						continue
					}
					if gx != nil {
						math32.Axpy(g, w.Data[o*in:(o+1)*in], gx[r*in:(r+1)*in])
					}
					if gw != nil {
						math32.Axpy(g, xr, gw[o*in:(o+1)*in])
					}
					if gb != nil {
						gb[o] += g
					}
				}
			}
		}
	}
	return out
}

// MatMulT computes the batched product a·bᵀ.
// a is [G, n, k], b is [G, m, k]; the result is [G, n, m].
func MatMulT(a, b *Tensor) *Tensor {
	mustRank("MatMulT", a, 3)
	mustRank("MatMulT", b, 3)
	g, n, k := a.shape[0], a.shape[1], a.shape[2]
	m := b.shape[1]
	if b.shape[0] != g || b.shape[2] != k {
		panic(fmt.Errorf("%w: MatMulT %v · %vᵀ", ErrShape, a.shape, b.shape))
	}

	d := make([]float32, g*n*m)
	for gi := 0; gi < g; gi++ {
		for i := 0; i < n; i++ {
			ar := a.Data[(gi*n+i)*k : (gi*n+i+1)*k]
			for j := 0; j < m; j++ {
				d[(gi*n+i)*m+j] = math32.Dot(ar, b.Data[(gi*m+j)*k:(gi*m+j+1)*k])
			}
		}
	}

	out := result(d, []int{g, n, m}, a, b)
	if out.requiresGrad {
		out.backward = func() {
			for gi := 0; gi < g; gi++ {
				for i := 0; i < n; i++ {
					ao := (gi*n + i) * k
					for j := 0; j < m; j++ {
						gr := out.Grad[(gi*n+i)*m+j]
						if gr == 0 {
							continue
						}
						bo := (gi*m + j) * k
						if a.requiresGrad {
							math32.Axpy(gr, b.Data[bo:bo+k], a.grad()[ao:ao+k])
						}
						if b.requiresGrad {
							math32.Axpy(gr, a.Data[ao:ao+k], b.grad()[bo:bo+k])
						}
					}
				}
			}
		}
	}
	return out
}

// MatMul computes the batched product a·b.
// a is [G, n, m], b is [G, m, k]; the result is [G, n, k].
func MatMul(a, b *Tensor) *Tensor {
	mustRank("MatMul", a, 3)
	mustRank("MatMul", b, 3)
	g, n, m := a.shape[0], a.shape[1], a.shape[2]
	k := b.shape[2]
	if b.shape[0] != g || b.shape[1] != m {
		panic(fmt.Errorf("%w: MatMul %v · %v", ErrShape, a.shape, b.shape))
	}

	d := make([]float32, g*n*k)
	for gi := 0; gi < g; gi++ {
		for i := 0; i < n; i++ {
			dst := d[(gi*n+i)*k : (gi*n+i+1)*k]
			for j := 0; j < m; j++ {
				w := a.Data[(gi*n+i)*m+j]
				if w == 0 {
					continue
				}
				math32.Axpy(w, b.Data[(gi*m+j)*k:(gi*m+j+1)*k], dst)
			}
		}
	}

	out := result(d, []int{g, n, k}, a, b)
	if out.requiresGrad {
		out.backward = func() {
			for gi := 0; gi < g; gi++ {
				for i := 0; i < n; i++ {
					gr := out.Grad[(gi*n+i)*k : (gi*n+i+1)*k]
					for j := 0; j < m; j++ {
						bo := (gi*m + j) * k
						if a.requiresGrad {
							a.grad()[(gi*n+i)*m+j] += math32.Dot(gr, b.Data[bo:bo+k])
						}
						if b.requiresGrad {
							w := a.Data[(gi*n+i)*m+j]
							if w != 0 {
								math32.Axpy(w, gr, b.grad()[bo:bo+k])
							}
						}
					}
				}
			}
		}
	}
	return out
}
