package vad

import (
	"math"
	"sort"

	"github.com/voxcore/voxcore/internal/syncx"
)

// EnergyVADConfig tunes EnergyVAD's adaptive threshold and scoring.
type EnergyVADConfig struct {
	HistorySize     int     // H: number of recent energies retained, typically 50
	AdaptationRate  float64 // rate used as alpha = 1 - AdaptationRate
	ThresholdFloor  float64 // configured floor used until history >= 10
	UseSpectral     bool    // include zero-crossing-rate score
	EnergyWeight    float64 // weight applied to the energy term when UseSpectral
	SpectralWeight  float64 // weight applied to the spectral term when UseSpectral
}

// DefaultEnergyVADConfig mirrors the teacher's RMSVAD defaults, adapted to
// the adaptive-percentile scheme.
func DefaultEnergyVADConfig() EnergyVADConfig {
	return EnergyVADConfig{
		HistorySize:    50,
		AdaptationRate: 0.1,
		ThresholdFloor: 0.02,
		UseSpectral:    true,
		EnergyWeight:   0.7,
		SpectralWeight: 0.3,
	}
}

// EnergyVAD is the energy + zero-crossing-rate detector: component B.
// Grounded on team-hashing-lokutor-orchestrator/pkg/orchestrator/vad.go's
// RMSVAD, generalized from a fixed threshold to the adaptive rolling
// percentile scheme this spec requires.
type EnergyVAD struct {
	cfg EnergyVADConfig
	g   *syncx.Guard[energyState]
}

type energyState struct {
	history   []float64
	threshold float64
}

// NewEnergyVAD constructs an EnergyVAD with the given config.
func NewEnergyVAD(cfg EnergyVADConfig) *EnergyVAD {
	return &EnergyVAD{
		cfg: cfg,
		g: syncx.New(energyState{
			threshold: cfg.ThresholdFloor,
		}),
	}
}

// Process computes RMS energy and an optional zero-crossing spectral score
// for window, updates the adaptive threshold history, and returns a
// probability in [0, 1]. EnergyVAD never fails; it does not return
// FailureSentinel.
func (e *EnergyVAD) Process(window []float32, sampleRate int) float64 {
	energy := rmsFloat32(window)

	var spectral float64
	if e.cfg.UseSpectral {
		spectral = zeroCrossingScore(window, sampleRate)
	}

	var threshold float64
	e.g.Write(func(s *energyState) {
		s.history = append(s.history, energy)
		if len(s.history) > e.cfg.HistorySize {
			s.history = s.history[len(s.history)-e.cfg.HistorySize:]
		}
		if len(s.history) >= 10 {
			alpha := 1 - e.cfg.AdaptationRate
			p25 := percentile(s.history, 0.25)
			s.threshold = alpha*s.threshold + (1-alpha)*(2*p25)
		} else {
			s.threshold = e.cfg.ThresholdFloor
		}
		threshold = s.threshold
	})
	if threshold <= 0 {
		threshold = e.cfg.ThresholdFloor
	}

	energyScore := clamp01(energy / threshold)
	if !e.cfg.UseSpectral {
		return clamp01(energyScore)
	}
	return clamp01(e.cfg.EnergyWeight*energyScore + e.cfg.SpectralWeight*clamp01(spectral))
}

// Reset clears the energy history and returns the threshold to its
// configured floor.
func (e *EnergyVAD) Reset() {
	e.g.Write(func(s *energyState) {
		s.history = nil
		s.threshold = e.cfg.ThresholdFloor
	})
}

// Threshold returns the current adaptive threshold, for diagnostics.
func (e *EnergyVAD) Threshold() float64 {
	var t float64
	e.g.Read(func(s energyState) { t = s.threshold })
	return t
}

func rmsFloat32(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// zeroCrossingScore estimates a speech-like spectral score from the
// zero-crossing rate: rates below 2% of samples scale from 0 up to 0.3,
// rates from 2% to 35% map linearly from 0.3 up to 1, and rates above 35%
// fall off from 1 toward 0.
func zeroCrossingScore(samples []float32, sampleRate int) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	rate := float64(crossings) / float64(len(samples)-1)
	// Speech-like ZCR sits roughly in [0.02, 0.35] of samples for 16kHz
	// windows; the score rises across that band and peaks at its upper edge.
	const lo, hi = 0.02, 0.35
	if rate <= lo {
		return rate / lo * 0.3
	}
	if rate >= hi {
		return clamp01(1 - (rate-hi)*2)
	}
	return 0.3 + 0.7*(rate-lo)/(hi-lo)
}

// percentile returns the p-th percentile (0 <= p <= 1) of data using
// linear interpolation between the two closest ranks of a sorted copy.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
