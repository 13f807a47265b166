//go:build !whispercpp

package transcription

import (
	"context"
	"fmt"
)

// StubModel is the default, always-built Model: it never requires a
// native dependency. Grounded on nupi-ai-plugin-vad-local-silero's
// stub/native split convention, applied here to the STT model instead of
// the VAD model.
type StubModel struct {
	calls int
}

// NewModel constructs the Model this build was compiled with.
func NewModel(modelPath string) (Model, error) {
	return &StubModel{}, nil
}

func (m *StubModel) Transcribe(ctx context.Context, audio []float32, sampleRate int, isLive bool, cfg ModelConfig) ([]Result, error) {
	m.calls++
	durationMs := float64(len(audio)) * 1000.0 / float64(sampleRate)
	text := fmt.Sprintf("stub transcript %d (%.0fms audio)", m.calls, durationMs)
	lang := cfg.Language
	if lang == "" || lang == "auto" {
		lang = "en"
	}
	return []Result{{
		Text:               text,
		Confidence:         0.75,
		IsPartial:          isLive,
		StartMs:            0,
		EndMs:              durationMs,
		DetectedLanguage:   lang,
		LanguageConfidence: 0.9,
	}}, nil
}

func (m *StubModel) Close() error { return nil }
