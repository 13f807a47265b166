package vad

import "testing"

func TestMLSessionProcessReturnsValidRange(t *testing.T) {
	m, err := NewMLSession()
	if err != nil {
		t.Fatalf("NewMLSession: %v", err)
	}
	defer m.Close()

	p := m.Process(make([]float32, 100), 16000)
	if p == FailureSentinel {
		t.Fatalf("stub backend should not fail")
	}
	if p < 0 || p > 1 {
		t.Fatalf("Process() = %v, want [0,1]", p)
	}
}

func TestMLSessionResetClearsToggleState(t *testing.T) {
	m, _ := NewMLSession()
	defer m.Close()

	for i := 0; i < stubToggleInterval+5; i++ {
		m.Process(make([]float32, MLWindowSize), 16000)
	}
	m.Reset()
	stub := m.backend.(*stubMLBackend)
	if stub.chunkCount != 0 || stub.speaking {
		t.Fatalf("Reset did not clear stub state: %+v", stub)
	}
}

func TestFitWindowPadsAndTruncates(t *testing.T) {
	short := fitWindow([]float32{1, 2}, 4)
	if len(short) != 4 || short[0] != 1 || short[1] != 2 || short[2] != 0 {
		t.Fatalf("fitWindow pad = %v", short)
	}
	exact := fitWindow([]float32{1, 2, 3, 4}, 4)
	if len(exact) != 4 {
		t.Fatalf("fitWindow exact len = %d", len(exact))
	}
	long := fitWindow([]float32{1, 2, 3, 4, 5, 6}, 4)
	if len(long) != 4 || long[0] != 1 || long[3] != 4 {
		t.Fatalf("fitWindow truncate = %v", long)
	}
}
