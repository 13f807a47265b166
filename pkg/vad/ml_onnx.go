//go:build onnxvad

package vad

// Real ML VAD backend, built with -tags onnxvad. Grounded on
// nupi-ai-plugin-vad-local-silero/internal/engine/silero.go: fixed
// 512-sample window, a carried-forward recurrent state tensor reset by
// Reset, one ort.AdvancedSession per MLSession since the hidden state is
// per-conversation (see DESIGN.md Open Question 5).
//
// Building with this tag requires an ONNX Runtime shared library reachable
// via ORT_LIB_PATH (or adjacent to the executable) and a model file
// pointed to via VOXCORE_VAD_MODEL_PATH.

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInitOnce sync.Once
var ortInitErr error

const (
	onnxSampleRate = 16000
	onnxStateSize  = 128
)

type onnxMLBackend struct {
	session    *ort.AdvancedSession
	input      *ort.Tensor[float32]
	srTensor   *ort.Tensor[int64]
	state      *ort.Tensor[float32]
	output     *ort.Tensor[float32]
	stateOut   *ort.Tensor[float32]
}

func newMLBackend() (mlBackend, error) {
	ortInitOnce.Do(func() {
		if libPath := os.Getenv("ORT_LIB_PATH"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("vad: onnxruntime init: %w", ortInitErr)
	}

	modelPath := os.Getenv("VOXCORE_VAD_MODEL_PATH")
	if modelPath == "" {
		return nil, fmt.Errorf("vad: VOXCORE_VAD_MODEL_PATH must be set for the onnxvad build")
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, MLWindowSize))
	if err != nil {
		return nil, err
	}
	sr, err := ort.NewTensor(ort.NewShape(1), []int64{onnxSampleRate})
	if err != nil {
		return nil, err
	}
	state, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, onnxStateSize))
	if err != nil {
		return nil, err
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return nil, err
	}
	stateOut, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, onnxStateSize))
	if err != nil {
		return nil, err
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input", "sr", "state"},
		[]string{"output", "stateN"},
		[]ort.ArbitraryTensor{input, sr, state},
		[]ort.ArbitraryTensor{output, stateOut},
		nil)
	if err != nil {
		return nil, err
	}

	return &onnxMLBackend{
		session:  session,
		input:    input,
		srTensor: sr,
		state:    state,
		output:   output,
		stateOut: stateOut,
	}, nil
}

func (b *onnxMLBackend) infer(window []float32, sampleRate int) (float64, error) {
	copy(b.input.GetData(), window)
	if err := b.session.Run(); err != nil {
		return 0, err
	}
	copy(b.state.GetData(), b.stateOut.GetData())
	out := b.output.GetData()
	if len(out) == 0 {
		return 0, fmt.Errorf("vad: onnx model returned no output")
	}
	return float64(out[0]), nil
}

func (b *onnxMLBackend) reset() {
	data := b.state.GetData()
	clearFloat32Slice(data)
}

func (b *onnxMLBackend) close() error {
	if b.session != nil {
		b.session.Destroy()
	}
	b.input.Destroy()
	b.srTensor.Destroy()
	b.state.Destroy()
	b.output.Destroy()
	b.stateOut.Destroy()
	return nil
}

func clearFloat32Slice(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
