package scoring

import "container/heap"

// Cell is one candidate PSM.
type Cell struct {
	Hyperscore float64
	IdxOffset  int
	PSID       int
	SharedIons int
	TotalIons  int
	PMass      float64
	RTime      float64
	PChg       int
	FileIndex  int
}

// TopK keeps the K highest-hyperscore cells seen so far. Ties are broken in
// favour of the earlier insertion.
type TopK struct {
	cells cellHeap
	k     int
}

// NewTopK creates a TopK bounded at k cells.
func NewTopK(k int) *TopK {
	if k < 1 {
		k = 1
	}
	return &TopK{cells: make(cellHeap, 0, k), k: k}
}

// Insert adds a cell, evicting the current minimum if the heap is full and
// the new cell scores strictly higher.
func (t *TopK) Insert(c Cell) {
	if t.cells.Len() < t.k {
		heap.Push(&t.cells, c)
		return
	}
	if c.Hyperscore > t.cells[0].Hyperscore {
		t.cells[0] = c
		heap.Fix(&t.cells, 0)
	}
}

// Len returns the number of cells held.
func (t *TopK) Len() int { return t.cells.Len() }

// GetMax returns the highest-scoring cell.
func (t *TopK) GetMax() Cell {
	best := t.cells[0]
	for _, c := range t.cells[1:] {
		if c.Hyperscore > best.Hyperscore {
			best = c
		}
	}
	return best
}

// Cells returns the held cells in descending hyperscore order.
func (t *TopK) Cells() []Cell {
	tmp := make(cellHeap, t.cells.Len())
	copy(tmp, t.cells)
	out := make([]Cell, 0, len(tmp))
	for tmp.Len() > 0 {
		out = append(out, heap.Pop(&tmp).(Cell))
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Reset empties the heap without releasing storage.
func (t *TopK) Reset() {
	t.cells = t.cells[:0]
}

type cellHeap []Cell

func (h cellHeap) Len() int            { return len(h) }
func (h cellHeap) Less(i, j int) bool  { return h[i].Hyperscore < h[j].Hyperscore }
func (h cellHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cellHeap) Push(x interface{}) { *h = append(*h, x.(Cell)) }
func (h *cellHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
