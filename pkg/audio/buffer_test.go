package audio

import "testing"

func TestBufferAppendAndLatest(t *testing.T) {
	b := NewBuffer(4)
	b.Append([]float32{1, 2, 3})
	if got := b.Latest(3); !equalFloat32(got, []float32{1, 2, 3}) {
		t.Fatalf("Latest(3) = %v", got)
	}
	b.Append([]float32{4, 5})
	// capacity 4: oldest (1) dropped, resident should be 2,3,4,5
	if got := b.Latest(4); !equalFloat32(got, []float32{2, 3, 4, 5}) {
		t.Fatalf("Latest(4) = %v", got)
	}
	if b.OverflowCount() != 1 {
		t.Fatalf("OverflowCount() = %d, want 1", b.OverflowCount())
	}
	if b.TotalSamples() != 5 {
		t.Fatalf("TotalSamples() = %d, want 5", b.TotalSamples())
	}
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	b := NewBuffer(8)
	for i := 0; i < 100; i++ {
		b.Append([]float32{float32(i)})
		if b.Len() > 8 {
			t.Fatalf("Len() = %d exceeds capacity 8", b.Len())
		}
	}
}

func TestBufferDrainWindow(t *testing.T) {
	b := NewBuffer(16)
	b.Append([]float32{1, 2, 3, 4, 5, 6, 7})
	w, ok := b.DrainWindow(4)
	if !ok || !equalFloat32(w, []float32{1, 2, 3, 4}) {
		t.Fatalf("DrainWindow(4) = %v, %v", w, ok)
	}
	if _, ok := b.DrainWindow(4); ok {
		t.Fatalf("DrainWindow(4) should not be ready with only 3 undrained samples")
	}
	b.Append([]float32{8})
	w, ok = b.DrainWindow(4)
	if !ok || !equalFloat32(w, []float32{5, 6, 7, 8}) {
		t.Fatalf("DrainWindow(4) = %v, %v", w, ok)
	}
}

func TestBufferDrainWindowAfterOverflowShiftsCursor(t *testing.T) {
	b := NewBuffer(4)
	b.Append([]float32{1, 2, 3, 4})
	w, ok := b.DrainWindow(2)
	if !ok || !equalFloat32(w, []float32{1, 2}) {
		t.Fatalf("DrainWindow(2) = %v, %v", w, ok)
	}
	// Overflow: resident becomes [2,3,4,5], oldest (1, already drained) dropped.
	b.Append([]float32{5})
	w, ok = b.DrainWindow(1)
	if !ok || !equalFloat32(w, []float32{3}) {
		t.Fatalf("DrainWindow(1) after overflow = %v, %v, want [3]", w, ok)
	}
	w, ok = b.DrainWindow(2)
	if !ok || !equalFloat32(w, []float32{4, 5}) {
		t.Fatalf("DrainWindow(2) after overflow = %v, %v, want [4 5]", w, ok)
	}
}

func TestBufferClearPreservesStats(t *testing.T) {
	b := NewBuffer(4)
	b.Append([]float32{1, 2, 3, 4, 5})
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", b.Len())
	}
	if b.TotalSamples() != 5 || b.OverflowCount() != 1 {
		t.Fatalf("stats not preserved across Clear: total=%d overflow=%d", b.TotalSamples(), b.OverflowCount())
	}
}

func TestBufferReset(t *testing.T) {
	b := NewBuffer(4)
	b.Append([]float32{1, 2, 3, 4, 5})
	b.Reset()
	if b.TotalSamples() != 0 || b.OverflowCount() != 0 || b.Len() != 0 {
		t.Fatalf("Reset did not zero state")
	}
}

func equalFloat32(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
