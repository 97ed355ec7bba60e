package tree

import (
	"fmt"

	"github.com/hupe1980/treemem/aggregator"
	"github.com/hupe1980/treemem/nn"
	"github.com/hupe1980/treemem/tensor"
)

// Level is one depth of the aggregated tree.
type Level struct {
	Embeddings *tensor.Tensor // [B, b^d, D]
	Mask       *Mask          // [B, b^d]
}

// Table is the level-ordered view of an aggregated tree, root first.
type Table struct {
	shape  Shape
	batch  int
	dim    int
	levels []Level
	leaves *tensor.Tensor // [B*b^k, P, D]
	mask   *Mask          // [B, P*b^k]
}

// Build aggregates padded items bottom-up. Every leaf group of P items is
// summarized into a depth-k node, then every b siblings into their parent,
// until the root. The aggregator runs once per level over all nodes of that
// level.
func Build(p *Padded, agg aggregator.Aggregator, pass nn.Pass) (*Table, error) {
	s := p.Shape
	if p.Data.Rank() != 3 || p.Data.Dim(1) != s.Padded() {
		return nil, fmt.Errorf("%w: padded data %v for %v", tensor.ErrShape, p.Data.Shape(), s)
	}
	b, d := p.Data.Dim(0), p.Data.Dim(2)
	if p.Mask.Batch() != b || p.Mask.Width() != s.Padded() {
		return nil, fmt.Errorf("%w: mask [%d, %d] for %v", tensor.ErrShape, p.Mask.Batch(), p.Mask.Width(), s)
	}

	t := &Table{
		shape:  s,
		batch:  b,
		dim:    d,
		levels: make([]Level, s.Depth+1),
		leaves: tensor.Reshape(p.Data, b*s.Groups(), s.Group, d),
		mask:   p.Mask,
	}

	emb := agg.Aggregate(t.leaves, p.Mask.Floats(), pass)
	mask := p.Mask.Parent(s.Group)
	t.levels[s.Depth] = Level{Embeddings: tensor.Reshape(emb, b, s.Groups(), d), Mask: mask}

	for depth := s.Depth - 1; depth >= 0; depth-- {
		n := s.Nodes(depth)
		groups := tensor.Reshape(t.levels[depth+1].Embeddings, b*n, s.Branch, d)
		emb = agg.Aggregate(groups, mask.Floats(), pass)
		mask = mask.Parent(s.Branch)
		t.levels[depth] = Level{Embeddings: tensor.Reshape(emb, b, n, d), Mask: mask}
	}
	return t, nil
}

// Shape returns the tree geometry.
func (t *Table) Shape() Shape { return t.shape }

// Depth returns k; the table holds k+1 levels.
func (t *Table) Depth() int { return t.shape.Depth }

// Batch returns B.
func (t *Table) Batch() int { return t.batch }

// Dim returns D.
func (t *Table) Dim() int { return t.dim }

// Level returns depth d, 0 being the root.
func (t *Table) Level(d int) Level { return t.levels[d] }

// Leaves returns the raw padded items as [B*b^k, P, D] and their mask.
func (t *Table) Leaves() (*tensor.Tensor, *Mask) { return t.leaves, t.mask }

// AllLeaves returns every raw padded item as [B, P*b^k, D] with its float mask.
func (t *Table) AllLeaves() (*tensor.Tensor, []float32) {
	return tensor.Reshape(t.leaves, t.batch, t.shape.Padded(), t.dim), t.mask.Floats()
}

// Children returns the b children at depth d+1 of node active[i] at depth d,
// for every batch element: [B, b, D] and a B*b float mask.
func (t *Table) Children(d int, active []int) (*tensor.Tensor, []float32) {
	br := t.shape.Branch
	next := t.levels[d+1]
	width := t.shape.Nodes(d + 1)

	idx := make([]int, 0, t.batch*br)
	start := make([]int, t.batch)
	for bi, j := range active {
		start[bi] = j * br
		for c := 0; c < br; c++ {
			idx = append(idx, bi*width+j*br+c)
		}
	}
	flat := tensor.Reshape(next.Embeddings, t.batch*width, t.dim)
	emb := tensor.Reshape(tensor.IndexSelect(flat, idx), t.batch, br, t.dim)
	return emb, next.Mask.Gather(start, br)
}

// Group returns the raw items of leaf group active[i] for every batch
// element: [B, P, D] and a B*P float mask.
func (t *Table) Group(active []int) (*tensor.Tensor, []float32) {
	groups := t.shape.Groups()
	idx := make([]int, t.batch)
	start := make([]int, t.batch)
	for bi, j := range active {
		idx[bi] = bi*groups + j
		start[bi] = j * t.shape.Group
	}
	return tensor.IndexSelect(t.leaves, idx), t.mask.Gather(start, t.shape.Group)
}
