package vad

import (
	"time"

	"github.com/voxcore/voxcore/internal/syncx"
)

// EngineConfig selects the Engine's mode and sample rate.
type EngineConfig struct {
	Mode       Mode
	SampleRate int
}

// EngineStats are the thread-safe, read-any-time statistics required by
// the VAD Engine: total chunks processed, ML successes, energy fallbacks,
// and EMAs of processing time and probability.
type EngineStats struct {
	TotalChunks        uint64
	MLSuccessCount     uint64
	EnergyFallbackCount uint64
	AvgProcessingTimeMs float64
	AvgProbability      float64
}

// emaAlpha is the smoothing factor for the Engine's exponential moving
// averages; low enough that a single outlier window doesn't dominate the
// reported statistic.
const emaAlpha = 0.1

// Engine dispatches to an ML and/or Energy detector according to Mode:
// component D. It never returns an invalid probability; callers always
// get a value in [0, 1].
type Engine struct {
	cfg    EngineConfig
	ml     *MLSession
	energy *EnergyVAD
	stats  *syncx.Guard[EngineStats]
	record StatsRecorder
}

// StatsRecorder receives a side-channel copy of processing telemetry;
// implementations forward it to OTel instruments. A nil recorder is valid
// and simply means no external telemetry sink.
type StatsRecorder interface {
	RecordVADProcessing(mode Mode, tookMs float64, probability float64, mlSuccess, fellBack bool)
}

// NewEngine constructs an Engine. ml may be nil only when cfg.Mode is
// ModeEnergy; energy may be nil only when cfg.Mode is ModeML.
func NewEngine(cfg EngineConfig, ml *MLSession, energy *EnergyVAD, record StatsRecorder) *Engine {
	return &Engine{
		cfg:    cfg,
		ml:     ml,
		energy: energy,
		stats:  syncx.New(EngineStats{}),
		record: record,
	}
}

// Process computes a probability for window, always returning a value in
// [0, 1] and updating statistics.
func (e *Engine) Process(window []float32) float64 {
	start := time.Now()

	var prob float64
	var mlSuccess, fellBack bool

	switch e.cfg.Mode {
	case ModeEnergy:
		prob = e.energy.Process(window, e.cfg.SampleRate)
	case ModeML:
		p := e.ml.Process(window, e.cfg.SampleRate)
		if p == FailureSentinel {
			prob = 0
		} else {
			prob = p
			mlSuccess = true
		}
	default: // ModeHybrid
		p := e.ml.Process(window, e.cfg.SampleRate)
		if p == FailureSentinel {
			fellBack = true
			prob = e.energy.Process(window, e.cfg.SampleRate)
		} else {
			prob = p
			mlSuccess = true
		}
	}

	prob = clamp01(prob)
	tookMs := float64(time.Since(start)) / float64(time.Millisecond)

	e.stats.Write(func(s *EngineStats) {
		s.TotalChunks++
		if mlSuccess {
			s.MLSuccessCount++
		}
		if fellBack {
			s.EnergyFallbackCount++
		}
		if s.TotalChunks == 1 {
			s.AvgProcessingTimeMs = tookMs
			s.AvgProbability = prob
		} else {
			s.AvgProcessingTimeMs = emaAlpha*tookMs + (1-emaAlpha)*s.AvgProcessingTimeMs
			s.AvgProbability = emaAlpha*prob + (1-emaAlpha)*s.AvgProbability
		}
	})

	if e.record != nil {
		e.record.RecordVADProcessing(e.cfg.Mode, tookMs, prob, mlSuccess, fellBack)
	}

	return prob
}

// Stats returns a snapshot of the Engine's statistics.
func (e *Engine) Stats() EngineStats {
	return e.stats.Get()
}

// Reconfigure reinitializes the underlying ML session when the sample rate
// changes, per spec: configuration changes reinitialize the ML session.
func (e *Engine) Reconfigure(cfg EngineConfig) error {
	if cfg.SampleRate != e.cfg.SampleRate && e.ml != nil {
		e.ml.Reset()
	}
	e.cfg = cfg
	return nil
}

// Reset clears both detectors' internal history.
func (e *Engine) Reset() {
	if e.ml != nil {
		e.ml.Reset()
	}
	if e.energy != nil {
		e.energy.Reset()
	}
}
