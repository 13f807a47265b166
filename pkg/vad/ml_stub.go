//go:build !onnxvad

package vad

// Stub ML backend, compiled whenever the onnxvad build tag is absent so the
// repository always builds without a native ONNX Runtime install. Grounded
// on nupi-ai-plugin-vad-local-silero/internal/engine/stub.go's deterministic
// toggle pattern.

const (
	stubToggleInterval = 50
	stubConfidence     = 0.42
)

type stubMLBackend struct {
	chunkCount int
	speaking   bool
}

func newMLBackend() (mlBackend, error) {
	return &stubMLBackend{}, nil
}

func (s *stubMLBackend) infer(window []float32, sampleRate int) (float64, error) {
	s.chunkCount++
	if s.chunkCount%stubToggleInterval == 0 {
		s.speaking = !s.speaking
	}
	if s.speaking {
		return stubConfidence + 0.4, nil
	}
	return stubConfidence - 0.3, nil
}

func (s *stubMLBackend) reset() {
	s.chunkCount = 0
	s.speaking = false
}

func (s *stubMLBackend) close() error { return nil }
