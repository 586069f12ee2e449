package scoring

import (
	"math"
	"testing"
)

func TestTopKKeepsLargest(t *testing.T) {
	tk := NewTopK(2)
	for i, h := range []float64{0.5, 1.2, 2.7, 3.9} {
		tk.Insert(Cell{Hyperscore: h, PSID: i})
	}

	if tk.Len() != 2 {
		t.Fatalf("heap size = %d, want 2", tk.Len())
	}
	cells := tk.Cells()
	if cells[0].Hyperscore != 3.9 || cells[1].Hyperscore != 2.7 {
		t.Fatalf("top cells = %v, want [3.9, 2.7]", []float64{cells[0].Hyperscore, cells[1].Hyperscore})
	}
	if got := tk.GetMax(); got.Hyperscore != 3.9 {
		t.Fatalf("GetMax = %v, want 3.9", got.Hyperscore)
	}
}

func TestTopKTieKeepsFirstInserted(t *testing.T) {
	tk := NewTopK(1)
	tk.Insert(Cell{Hyperscore: 1.5, PSID: 10})
	tk.Insert(Cell{Hyperscore: 1.5, PSID: 20})

	if got := tk.GetMax(); got.PSID != 10 {
		t.Fatalf("tie broke to PSID %d, want first-inserted 10", got.PSID)
	}
}

func TestTopKReset(t *testing.T) {
	tk := NewTopK(3)
	tk.Insert(Cell{Hyperscore: 1})
	tk.Reset()
	if tk.Len() != 0 {
		t.Fatalf("heap size after reset = %d, want 0", tk.Len())
	}
}

func TestHypBucket(t *testing.T) {
	tests := []struct {
		hyperscore float64
		want       int
	}{
		{0.5, 5},
		{1.2, 12},
		{2.7, 27},
		{3.9, 39},
		{-1.0, 0},
		{float64(MaxHyperscore) * 2, HistogramSize - 1},
	}
	for _, tt := range tests {
		if got := HypBucket(tt.hyperscore); got != tt.want {
			t.Errorf("HypBucket(%v) = %d, want %d", tt.hyperscore, got, tt.want)
		}
	}
}

func TestFact(t *testing.T) {
	if Fact(0) != 1 || Fact(1) != 1 || Fact(5) != 120 {
		t.Fatal("small factorials wrong")
	}
	if math.IsInf(Fact(400), 1) {
		t.Fatal("Fact must saturate, not overflow to +Inf")
	}
}
