package tree

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Mask records which positions of a [B, width] layout hold real data.
// Each batch row is a roaring bitmap of valid positions. Masks are structural
// and never take part in differentiation.
type Mask struct {
	width int
	rows  []*roaring.Bitmap
}

// NewMask creates an all-invalid mask.
func NewMask(batch, width int) *Mask {
	m := &Mask{width: width, rows: make([]*roaring.Bitmap, batch)}
	for i := range m.rows {
		m.rows[i] = roaring.New()
	}
	return m
}

// NewFullMask creates a mask with the first valid positions of every row set.
func NewFullMask(batch, width, valid int) *Mask {
	m := NewMask(batch, width)
	for _, rb := range m.rows {
		rb.AddRange(0, uint64(valid))
	}
	return m
}

// Batch returns the number of rows.
func (m *Mask) Batch() int { return len(m.rows) }

// Width returns the number of positions per row.
func (m *Mask) Width() int { return m.width }

// Set marks position i of row b valid.
func (m *Mask) Set(b, i int) { m.rows[b].Add(uint32(i)) }

// Valid reports whether position i of row b is valid.
func (m *Mask) Valid(b, i int) bool { return m.rows[b].Contains(uint32(i)) }

// Count returns the number of valid positions of row b.
func (m *Mask) Count(b int) int { return int(m.rows[b].GetCardinality()) }

// Total returns the number of valid positions over all rows.
func (m *Mask) Total() int {
	n := 0
	for b := range m.rows {
		n += m.Count(b)
	}
	return n
}

// Floats returns the row-major B*width view with 1 for valid positions.
func (m *Mask) Floats() []float32 {
	out := make([]float32, len(m.rows)*m.width)
	for b, rb := range m.rows {
		base := b * m.width
		it := rb.Iterator()
		for it.HasNext() {
			out[base+int(it.Next())] = 1
		}
	}
	return out
}

// Parent collapses consecutive runs of group positions: parent position p
// is valid iff any of positions p*group .. p*group+group-1 is valid.
func (m *Mask) Parent(group int) *Mask {
	out := NewMask(len(m.rows), (m.width+group-1)/group)
	for b, rb := range m.rows {
		it := rb.Iterator()
		for it.HasNext() {
			out.rows[b].Add(it.Next() / uint32(group))
		}
	}
	return out
}

// Gather returns for every row b the positions start[b]..start[b]+n-1 as a
// B*n float view.
func (m *Mask) Gather(start []int, n int) []float32 {
	out := make([]float32, len(m.rows)*n)
	for b, rb := range m.rows {
		for i := 0; i < n; i++ {
			if rb.Contains(uint32(start[b] + i)) {
				out[b*n+i] = 1
			}
		}
	}
	return out
}
