// Package tree lays stored items out as an implicit complete b-ary tree and
// aggregates it bottom-up into per-level summary embeddings.
//
// The tree is never materialized as a pointer graph. Level d is a dense
// [B, b^d, D] array and child c of node j at depth d is node j*b+c at depth
// d+1. Leaf groups hold P raw items each.
package tree

import (
	"errors"
	"fmt"

	"github.com/hupe1980/treemem/tensor"
)

var (
	// ErrEmptyItems is returned when fewer than one item is stored.
	ErrEmptyItems = errors.New("tree: need at least one item")
	// ErrBranch is returned for a branching factor below two.
	ErrBranch = errors.New("tree: branching factor must be at least 2")
)

// PadOffset is added to duplicated items that fill the last leaf group.
const PadOffset = 1e-5

// Shape is the resolved geometry of a tree over N items.
type Shape struct {
	Items  int // N
	Branch int // b
	Depth  int // k
	Group  int // P, items per leaf group
}

// ResolveShape picks the depth k as the largest k with b^k <= n-1 (0 for a
// single item) and the group size P = ceil(n / b^k).
func ResolveShape(n, b int) (Shape, error) {
	if b < 2 {
		return Shape{}, fmt.Errorf("%w: got %d", ErrBranch, b)
	}
	if n < 1 {
		return Shape{}, fmt.Errorf("%w: got %d", ErrEmptyItems, n)
	}

	k, leaves := 0, 1
	for leaves*b <= n-1 {
		leaves *= b
		k++
	}
	return Shape{
		Items:  n,
		Branch: b,
		Depth:  k,
		Group:  (n + leaves - 1) / leaves,
	}, nil
}

// Nodes returns b^d, the node count at depth d.
func (s Shape) Nodes(d int) int {
	n := 1
	for i := 0; i < d; i++ {
		n *= s.Branch
	}
	return n
}

// Groups returns the number of leaf groups, b^k.
func (s Shape) Groups() int { return s.Nodes(s.Depth) }

// Padded returns the padded item count P*b^k.
func (s Shape) Padded() int { return s.Group * s.Groups() }

// String implements fmt.Stringer.
func (s Shape) String() string {
	return fmt.Sprintf("tree(n=%d b=%d k=%d P=%d)", s.Items, s.Branch, s.Depth, s.Group)
}

// Padded holds items padded to fill every leaf group.
type Padded struct {
	Shape Shape
	Data  *tensor.Tensor // [B, P*b^k, D]
	Mask  *Mask          // [B, P*b^k]
}

// Pad extends items [B, N, D] to P*b^k positions. The extra positions repeat
// the first items shifted by PadOffset and are marked invalid.
func Pad(items *tensor.Tensor, s Shape) (*Padded, error) {
	if items.Rank() != 3 {
		return nil, fmt.Errorf("%w: items must be [B, N, D], got %v", tensor.ErrShape, items.Shape())
	}
	if items.Dim(1) != s.Items {
		return nil, fmt.Errorf("%w: %d items for %v", tensor.ErrShape, items.Dim(1), s)
	}

	data := items
	if pad := s.Padded() - s.Items; pad > 0 {
		fill := tensor.AddScalar(tensor.Narrow(items, 1, 0, pad), PadOffset)
		data = tensor.Concat(1, items, fill)
	}
	return &Padded{
		Shape: s,
		Data:  data,
		Mask:  NewFullMask(items.Dim(0), s.Padded(), s.Items),
	}, nil
}
