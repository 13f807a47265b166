// Package audio implements PCM ingestion and buffering: sample frame
// conversion, the fixed-capacity Audio Buffer, and WAV container encoding.
package audio

import "fmt"

// Format describes the layout of a raw PCM stream.
type Format struct {
	SampleRate int // samples per second, e.g. 16000
	Channels   int // channel count; only mono (1) is supported end to end
	BitDepth   int // bits per sample; only 16 is supported
}

// DefaultFormat is the format every component in this repository assumes
// unless a caller overrides it: 16kHz mono 16-bit PCM.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// Validate reports whether f describes a supported stream.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels != 1 {
		return fmt.Errorf("audio: only mono input is supported, got %d channels", f.Channels)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("audio: only 16-bit PCM is supported, got %d bits", f.BitDepth)
	}
	return nil
}

// BytesPerSample returns the byte width of one sample in this format.
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// SamplesToMillis converts a sample count to a duration in milliseconds.
func (f Format) SamplesToMillis(samples int) float64 {
	if f.SampleRate == 0 {
		return 0
	}
	return float64(samples) * 1000.0 / float64(f.SampleRate)
}

// MillisToSamples converts a duration in milliseconds to a sample count.
func (f Format) MillisToSamples(ms float64) int {
	return int(ms * float64(f.SampleRate) / 1000.0)
}
