package tensor

import (
	"fmt"
	"slices"

	"github.com/hupe1980/treemem/internal/math32"
)

// Reshape returns a view of t with a new shape. One dimension may be -1.
func Reshape(t *Tensor, shape ...int) *Tensor {
	shape = slices.Clone(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				panic(fmt.Errorf("%w: Reshape %v with two inferred dims", ErrShape, shape))
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || len(t.Data)%known != 0 {
			panic(fmt.Errorf("%w: Reshape %v to %v", ErrShape, t.shape, shape))
		}
		shape[infer] = len(t.Data) / known
	}
	if numel(shape) != len(t.Data) {
		panic(fmt.Errorf("%w: Reshape %v to %v", ErrShape, t.shape, shape))
	}

	out := result(t.Data, shape, t)
	if out.requiresGrad {
		out.backward = func() {
			math32.AddInPlace(t.grad(), out.Grad)
		}
	}
	return out
}

// Concat joins tensors along axis. All other dimensions must agree.
func Concat(axis int, ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic(fmt.Errorf("%w: Concat of nothing", ErrShape))
	}
	if len(ts) == 1 {
		return ts[0]
	}
	first := ts[0]
	if axis < 0 {
		axis += first.Rank()
	}

	outer := numel(first.shape[:axis])
	inner := numel(first.shape[axis+1:])
	total := 0
	for _, t := range ts {
		if t.Rank() != first.Rank() ||
			!slices.Equal(t.shape[:axis], first.shape[:axis]) ||
			!slices.Equal(t.shape[axis+1:], first.shape[axis+1:]) {
			panic(fmt.Errorf("%w: Concat %v with %v on axis %d", ErrShape, first.shape, t.shape, axis))
		}
		total += t.shape[axis]
	}

	shape := slices.Clone(first.shape)
	shape[axis] = total
	d := make([]float32, outer*total*inner)

	offsets := make([]int, len(ts))
	off := 0
	for i, t := range ts {
		offsets[i] = off
		off += t.shape[axis] * inner
	}
	row := total * inner
	for o := 0; o < outer; o++ {
		for i, t := range ts {
			span := t.shape[axis] * inner
			copy(d[o*row+offsets[i]:o*row+offsets[i]+span], t.Data[o*span:(o+1)*span])
		}
	}

	out := result(d, shape, ts...)
	if out.requiresGrad {
		out.backward = func() {
			for i, t := range ts {
				if !t.requiresGrad {
					continue
				}
				span := t.shape[axis] * inner
				gt := t.grad()
				for o := 0; o < outer; o++ {
					math32.AddInPlace(gt[o*span:(o+1)*span], out.Grad[o*row+offsets[i]:o*row+offsets[i]+span])
				}
			}
		}
	}
	return out
}

// Narrow returns the slice [start, start+length) of t along axis.
func Narrow(t *Tensor, axis, start, length int) *Tensor {
	if axis < 0 {
		axis += t.Rank()
	}
	if start < 0 || length < 0 || start+length > t.shape[axis] {
		panic(fmt.Errorf("%w: Narrow %v axis %d [%d:%d]", ErrShape, t.shape, axis, start, start+length))
	}

	outer := numel(t.shape[:axis])
	inner := numel(t.shape[axis+1:])
	srcRow := t.shape[axis] * inner
	dstRow := length * inner

	shape := slices.Clone(t.shape)
	shape[axis] = length
	d := make([]float32, outer*dstRow)
	for o := 0; o < outer; o++ {
		copy(d[o*dstRow:(o+1)*dstRow], t.Data[o*srcRow+start*inner:o*srcRow+start*inner+dstRow])
	}

	out := result(d, shape, t)
	if out.requiresGrad {
		out.backward = func() {
			gt := t.grad()
			for o := 0; o < outer; o++ {
				math32.AddInPlace(gt[o*srcRow+start*inner:o*srcRow+start*inner+dstRow], out.Grad[o*dstRow:(o+1)*dstRow])
			}
		}
	}
	return out
}

// SwapAxes12 exchanges dimensions 1 and 2 of a rank-4 tensor:
// [A, X, Y, Z] becomes [A, Y, X, Z].
func SwapAxes12(t *Tensor) *Tensor {
	mustRank("SwapAxes12", t, 4)
	a, x, y, z := t.shape[0], t.shape[1], t.shape[2], t.shape[3]

	d := make([]float32, len(t.Data))
	for ai := 0; ai < a; ai++ {
		for xi := 0; xi < x; xi++ {
			for yi := 0; yi < y; yi++ {
				src := ((ai*x+xi)*y + yi) * z
				dst := ((ai*y+yi)*x + xi) * z
				copy(d[dst:dst+z], t.Data[src:src+z])
			}
		}
	}

	out := result(d, []int{a, y, x, z}, t)
	if out.requiresGrad {
		out.backward = func() {
			gt := t.grad()
			for ai := 0; ai < a; ai++ {
				for xi := 0; xi < x; xi++ {
					for yi := 0; yi < y; yi++ {
						src := ((ai*x+xi)*y + yi) * z
						dst := ((ai*y+yi)*x + xi) * z
						math32.AddInPlace(gt[src:src+z], out.Grad[dst:dst+z])
					}
				}
			}
		}
	}
	return out
}

// IndexSelect picks entries of t along axis 0. The result has shape
// [len(idx), t.shape[1:]...]. Indices may repeat.
func IndexSelect(t *Tensor, idx []int) *Tensor {
	if t.Rank() == 0 {
		panic(fmt.Errorf("%w: IndexSelect on a scalar", ErrShape))
	}
	inner := numel(t.shape[1:])
	d := make([]float32, len(idx)*inner)
	for i, src := range idx {
		if src < 0 || src >= t.shape[0] {
			panic(fmt.Errorf("%w: IndexSelect index %d out of %d", ErrShape, src, t.shape[0]))
		}
		copy(d[i*inner:(i+1)*inner], t.Data[src*inner:(src+1)*inner])
	}

	shape := append([]int{len(idx)}, t.shape[1:]...)
	out := result(d, shape, t)
	if out.requiresGrad {
		idx = slices.Clone(idx)
		out.backward = func() {
			gt := t.grad()
			for i, src := range idx {
				math32.AddInPlace(gt[src*inner:(src+1)*inner], out.Grad[i*inner:(i+1)*inner])
			}
		}
	}
	return out
}

// Repeat tiles a tensor with leading dimension 1 to leading dimension n.
func Repeat(t *Tensor, n int) *Tensor {
	if t.Rank() == 0 || t.shape[0] != 1 {
		panic(fmt.Errorf("%w: Repeat wants leading dim 1, got %v", ErrShape, t.shape))
	}
	idx := make([]int, n)
	return IndexSelect(t, idx)
}

// Pick returns t[g, idx[g]] for a rank-2 tensor [G, m]; the result is [G].
func Pick(t *Tensor, idx []int) *Tensor {
	mustRank("Pick", t, 2)
	g, m := t.shape[0], t.shape[1]
	if len(idx) != g {
		panic(fmt.Errorf("%w: Pick %v with %d indices", ErrShape, t.shape, len(idx)))
	}
	d := make([]float32, g)
	for i, j := range idx {
		d[i] = t.Data[i*m+j]
	}
	out := result(d, []int{g}, t)
	if out.requiresGrad {
		idx = slices.Clone(idx)
		out.backward = func() {
			gt := t.grad()
			for i, j := range idx {
				gt[i*m+j] += out.Grad[i]
			}
		}
	}
	return out
}
