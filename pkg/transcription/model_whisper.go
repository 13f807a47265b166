//go:build whispercpp

package transcription

// Real STT model, built with -tags whispercpp. Grounded on
// MrWong99-glyphoxa/pkg/provider/stt/whisper/native.go's CGO-based
// NativeProvider: the model is loaded once and inference converts
// PCM-derived float32 samples directly (no HTTP hop), iterating segments
// until io.EOF.

import (
	"context"
	"fmt"
	"io"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperModel wraps a whisper.cpp context loaded from a local model file.
type WhisperModel struct {
	model whisperlib.Model
}

// NewModel constructs the Model this build was compiled with.
func NewModel(modelPath string) (Model, error) {
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("transcription: loading whisper model: %w", err)
	}
	return &WhisperModel{model: model}, nil
}

func (m *WhisperModel) Transcribe(ctx context.Context, audio []float32, sampleRate int, isLive bool, cfg ModelConfig) ([]Result, error) {
	wctx, err := m.model.NewContext()
	if err != nil {
		return nil, err
	}
	if cfg.Language != "" && cfg.Language != "auto" {
		_ = wctx.SetLanguage(cfg.Language)
	}
	wctx.SetTranslate(cfg.TranslateToEnglish)
	wctx.SetTemperature(float32(cfg.Temperature))

	if err := wctx.Process(audio, nil, nil); err != nil {
		return nil, fmt.Errorf("transcription: whisper inference: %w", err)
	}

	var results []Result
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		results = append(results, Result{
			Text:             seg.Text,
			Confidence:       1.0,
			IsPartial:        false,
			StartMs:          float64(seg.Start.Milliseconds()),
			EndMs:            float64(seg.End.Milliseconds()),
			DetectedLanguage: wctx.DetectedLanguage(),
		})
	}
	if len(results) == 0 {
		return []Result{{IsPartial: isLive}}, nil
	}
	if isLive {
		// A live request re-transcribes the accumulated-so-far audio; none
		// of its segments are the utterance's final result.
		for i := range results {
			results[i].IsPartial = true
		}
		return results, nil
	}
	// Only the last segment carries is_partial=false; earlier segments in
	// the same final batch are not "partial" in the streaming sense but
	// exactly one non-partial result is expected per request.
	for i := range results[:len(results)-1] {
		results[i].IsPartial = true
	}
	return results, nil
}

func (m *WhisperModel) Close() error {
	return m.model.Close()
}
