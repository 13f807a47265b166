package vad

import (
	"sync"
	"time"
)

// State is one of the four utterance-segmentation states.
type State int

const (
	Idle State = iota
	SpeechDetected
	Speaking
	PauseDetected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SpeechDetected:
		return "speech_detected"
	case Speaking:
		return "speaking"
	case PauseDetected:
		return "pause_detected"
	default:
		return "unknown"
	}
}

// StateMachineConfig carries the thresholds and timing guards from §4.E.
// SpeechThreshold must be strictly greater than SilenceThreshold; this is
// enforced by the owning configuration loader, not here.
type StateMachineConfig struct {
	SpeechThreshold         float64
	SilenceThreshold        float64
	MinSpeechDuration       time.Duration
	MinSilenceDuration      time.Duration
	MaxUtteranceDuration    time.Duration
	JitterTolerance         time.Duration
}

// Transition describes a single accepted state change.
type Transition struct {
	Prev          State
	Curr          State
	Confidence    float64
	UtteranceID   uint64
}

// TransitionFunc is invoked for every accepted transition.
type TransitionFunc func(Transition)

// UtteranceCompleteFunc is invoked once an utterance's accumulated audio
// is finalized (delivered atomically, then the accumulator is cleared).
type UtteranceCompleteFunc func(utteranceID uint64, audio []float32)

// StateMachine implements component E: four-state utterance segmentation
// with hysteresis and timing guards. Not safe for concurrent Process
// calls from more than one goroutine — per §5, exactly one ingress
// goroutine drives a given session's state machine.
type StateMachine struct {
	cfg        StateMachineConfig
	pendingCfg *StateMachineConfig

	mu             sync.Mutex
	state          State
	stateEnteredAt time.Time
	utteranceID    uint64
	utteranceStart time.Time
	nextID         uint64
	accumulator    []float32

	onTransition TransitionFunc
	onComplete   UtteranceCompleteFunc
}

// NewStateMachine constructs a StateMachine in the Idle state.
func NewStateMachine(cfg StateMachineConfig, onTransition TransitionFunc, onComplete UtteranceCompleteFunc) *StateMachine {
	return &StateMachine{
		cfg:            cfg,
		state:          Idle,
		stateEnteredAt: time.Now(),
		onTransition:   onTransition,
		onComplete:     onComplete,
	}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// UtteranceID returns the currently active utterance id, or 0 if none.
func (m *StateMachine) UtteranceID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.utteranceID
}

// UpdateConfig stages cfg to take effect at the next utterance boundary
// (when no utterance is currently in flight), never retroactively
// altering the thresholds an in-progress utterance was started under.
func (m *StateMachine) UpdateConfig(cfg StateMachineConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.utteranceID == 0 {
		m.cfg = cfg
		m.pendingCfg = nil
		return
	}
	m.pendingCfg = &cfg
}

// UtteranceAudioSnapshot returns a copy of the audio accumulated so far
// for the active utterance, for callers that need to submit an
// incremental transcription request mid-utterance.
func (m *StateMachine) UtteranceAudioSnapshot() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float32, len(m.accumulator))
	copy(out, m.accumulator)
	return out
}

// Process advances the state machine with a freshly computed probability
// and the audio chunk that produced it. now should be a monotonic-clock
// reading (time.Now()); chunk is appended to the utterance accumulator
// whenever the resulting state is one of {SpeechDetected, Speaking,
// PauseDetected}.
func (m *StateMachine) Process(prob float64, chunk []float32, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	var forceFinalize bool

	switch m.state {
	case Idle:
		if prob > m.cfg.SpeechThreshold {
			m.state = SpeechDetected
			m.stateEnteredAt = now
		}
	case SpeechDetected:
		if prob > m.cfg.SpeechThreshold && now.Sub(m.stateEnteredAt) >= m.cfg.MinSpeechDuration-m.cfg.JitterTolerance {
			if m.utteranceID == 0 {
				m.nextID++
				m.utteranceID = m.nextID
				m.utteranceStart = now
			}
			m.state = Speaking
			m.stateEnteredAt = now
		} else if prob < m.cfg.SilenceThreshold {
			m.state = Idle
			m.stateEnteredAt = now
			m.accumulator = nil
		}
	case Speaking:
		if now.Sub(m.utteranceStart) > m.cfg.MaxUtteranceDuration {
			forceFinalize = true
		} else if prob < m.cfg.SilenceThreshold {
			m.state = PauseDetected
			m.stateEnteredAt = now
		}
	case PauseDetected:
		if now.Sub(m.utteranceStart) > m.cfg.MaxUtteranceDuration {
			forceFinalize = true
		} else if prob > m.cfg.SpeechThreshold {
			m.state = Speaking
			m.stateEnteredAt = now
		} else if now.Sub(m.stateEnteredAt) >= m.cfg.MinSilenceDuration-m.cfg.JitterTolerance {
			m.finalizeLocked(now)
		}
	}

	if forceFinalize {
		m.finalizeLocked(now)
	}

	if m.state == SpeechDetected || m.state == Speaking || m.state == PauseDetected {
		m.accumulator = append(m.accumulator, chunk...)
	}

	if m.state != prev {
		t := Transition{Prev: prev, Curr: m.state, Confidence: prob, UtteranceID: m.utteranceID}
		if m.onTransition != nil {
			m.onTransition(t)
		}
	}
}

// finalizeLocked transitions to Idle, delivers the accumulator atomically
// to onComplete, then clears it. Caller must hold mu.
func (m *StateMachine) finalizeLocked(now time.Time) {
	id := m.utteranceID
	audio := m.accumulator
	m.state = Idle
	m.stateEnteredAt = now
	m.utteranceID = 0
	m.accumulator = nil
	if m.pendingCfg != nil {
		m.cfg = *m.pendingCfg
		m.pendingCfg = nil
	}
	if id != 0 && m.onComplete != nil {
		m.onComplete(id, audio)
	}
}

// Reset transitions to Idle, finalizing any active utterance first.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.utteranceID != 0 {
		m.finalizeLocked(time.Now())
	}
	m.state = Idle
	m.stateEnteredAt = time.Now()
}

// ForceEnd finalizes the active utterance only if the state is Speaking or
// PauseDetected; otherwise it is a no-op.
func (m *StateMachine) ForceEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Speaking || m.state == PauseDetected {
		m.finalizeLocked(time.Now())
	}
}
