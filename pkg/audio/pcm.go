package audio

import "math"

// PCM16ToFloat32 converts a little-endian 16-bit PCM byte slice into
// normalized float32 samples in [-1, 1]. Grounded on the teacher's
// calculateRMS sample-walking convention and the Silero engine's
// pcmToFloat32 helper: both divide by 32768 rather than the signed max,
// matching what the ML model and RMS calculation in this package expect.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(pcm[2*i]) | (int16(pcm[2*i+1]) << 8)
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// Float32ToPCM16 is the inverse of PCM16ToFloat32, clamping out-of-range
// values rather than wrapping.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		scaled := math.Round(float64(s) * 32768.0)
		if scaled > 32767 {
			scaled = 32767
		}
		v := int16(scaled)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// RMS computes the root-mean-square energy of a little-endian 16-bit PCM
// chunk, normalized to [0, 1]. Grounded on
// team-hashing-lokutor-orchestrator/pkg/orchestrator/vad.go's calculateRMS.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(pcm[2*i]) | (int16(pcm[2*i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}
