package vad

// MLWindowSize is the fixed window size (in samples) the ML VAD model
// requires, matching Silero-style models at 16kHz.
const MLWindowSize = 512

// MLSession wraps a small pre-trained VAD model: component C. Its backend
// is the stub in ml_stub.go (builds without the onnxvad tag) or the real
// ONNX Runtime backend in ml_onnx.go (-tags onnxvad). Not safe for concurrent use;
// each Engine owns exactly one MLSession.
type MLSession struct {
	backend mlBackend
}

// mlBackend is implemented once by the stub (ml_stub.go) and once by the
// real ONNX Runtime session (ml_onnx.go, -tags onnxvad).
type mlBackend interface {
	infer(window []float32, sampleRate int) (float64, error)
	reset()
	close() error
}

// NewMLSession constructs an MLSession using whichever backend this build
// was compiled with.
func NewMLSession() (*MLSession, error) {
	b, err := newMLBackend()
	if err != nil {
		return nil, err
	}
	return &MLSession{backend: b}, nil
}

// Process prepares window (padding/truncating to MLWindowSize) and runs
// inference, returning FailureSentinel on error.
func (m *MLSession) Process(window []float32, sampleRate int) float64 {
	prepared := fitWindow(window, MLWindowSize)
	p, err := m.backend.infer(prepared, sampleRate)
	if err != nil {
		return FailureSentinel
	}
	return clamp01(p)
}

// Reset clears carried-forward model state (e.g. recurrent hidden state).
func (m *MLSession) Reset() {
	m.backend.reset()
}

// Close releases any native resources held by the backend.
func (m *MLSession) Close() error {
	return m.backend.close()
}

// fitWindow pads with zeros or truncates samples to exactly n elements, as
// required before handing a window to the ML backend.
func fitWindow(samples []float32, n int) []float32 {
	if len(samples) == n {
		return samples
	}
	out := make([]float32, n)
	copy(out, samples)
	return out
}
