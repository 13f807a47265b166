package vad

import (
	"testing"
	"time"
)

func testConfig() StateMachineConfig {
	return StateMachineConfig{
		SpeechThreshold:      0.5,
		SilenceThreshold:     0.3,
		MinSpeechDuration:    100 * time.Millisecond,
		MinSilenceDuration:   500 * time.Millisecond,
		MaxUtteranceDuration: 30 * time.Second,
		JitterTolerance:      10 * time.Millisecond,
	}
}

// feed drives the machine with a constant probability for dur, in 10ms
// steps starting at t0, returning the final clock value.
func feed(m *StateMachine, prob float64, t0 time.Time, dur time.Duration) time.Time {
	const step = 10 * time.Millisecond
	t := t0
	for elapsed := time.Duration(0); elapsed < dur; elapsed += step {
		m.Process(prob, []float32{0}, t)
		t = t.Add(step)
	}
	return t
}

func TestStateMachineSingleShortUtterance(t *testing.T) {
	var transitions []Transition
	var completed [][]float32
	m := NewStateMachine(testConfig(),
		func(tr Transition) { transitions = append(transitions, tr) },
		func(id uint64, audio []float32) { completed = append(completed, audio) },
	)

	now := time.Now()
	now = feed(m, 0.1, now, 200*time.Millisecond)   // leading silence
	now = feed(m, 0.9, now, 500*time.Millisecond)   // speech
	_ = feed(m, 0.1, now, 800*time.Millisecond)     // trailing silence

	if m.State() != Idle {
		t.Fatalf("final state = %v, want Idle", m.State())
	}
	if len(completed) != 1 {
		t.Fatalf("completed utterances = %d, want 1", len(completed))
	}
	if len(completed[0]) == 0 {
		t.Fatalf("utterance audio is empty")
	}

	seen := map[State]bool{}
	for _, tr := range transitions {
		seen[tr.Curr] = true
	}
	for _, want := range []State{SpeechDetected, Speaking, PauseDetected, Idle} {
		if !seen[want] {
			t.Fatalf("expected to see state %v in transition sequence", want)
		}
	}
}

func TestStateMachineSubThresholdBlip(t *testing.T) {
	var completed int
	m := NewStateMachine(testConfig(), nil, func(id uint64, audio []float32) { completed++ })

	now := time.Now()
	now = feed(m, 0.1, now, 200*time.Millisecond)
	now = feed(m, 0.6, now, 50*time.Millisecond) // too short to reach Speaking
	_ = feed(m, 0.1, now, 200*time.Millisecond)

	if m.State() != Idle {
		t.Fatalf("final state = %v, want Idle", m.State())
	}
	if completed != 0 {
		t.Fatalf("completed = %d, want 0", completed)
	}
}

func TestStateMachineMaxDurationForcesFinish(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUtteranceDuration = 1 * time.Second
	var completedAudio []float32
	stateAtFinalize := State(-1)
	var m *StateMachine
	// onComplete runs inside Process with m.mu held, so the state is read
	// directly rather than through State().
	m = NewStateMachine(cfg, nil, func(id uint64, audio []float32) {
		completedAudio = audio
		stateAtFinalize = m.state
	})

	now := time.Now()
	_ = feed(m, 0.9, now, 1500*time.Millisecond)

	// Continued speech after the forced finalization starts a new
	// utterance, so the state is checked at the moment of finalization.
	if stateAtFinalize != Idle {
		t.Fatalf("state at force-finalization = %v, want Idle", stateAtFinalize)
	}
	if len(completedAudio) == 0 {
		t.Fatalf("expected force-finalized audio")
	}
}

func TestStateMachineNoConsecutiveDuplicateStates(t *testing.T) {
	var transitions []Transition
	m := NewStateMachine(testConfig(), func(tr Transition) { transitions = append(transitions, tr) }, nil)

	now := time.Now()
	now = feed(m, 0.1, now, 100*time.Millisecond)
	now = feed(m, 0.9, now, 300*time.Millisecond)
	_ = feed(m, 0.1, now, 700*time.Millisecond)

	for i := 1; i < len(transitions); i++ {
		if transitions[i].Curr == transitions[i-1].Curr {
			t.Fatalf("consecutive identical states at %d: %v", i, transitions[i].Curr)
		}
	}
}

func TestStateMachineIdleImpliesZeroUtterance(t *testing.T) {
	m := NewStateMachine(testConfig(), nil, nil)
	if m.UtteranceID() != 0 {
		t.Fatalf("UtteranceID() at Idle = %d, want 0", m.UtteranceID())
	}
}

func TestStateMachineUpdateConfigAppliesImmediatelyWhenIdle(t *testing.T) {
	m := NewStateMachine(testConfig(), nil, nil)
	cfg := testConfig()
	cfg.SpeechThreshold = 0.99
	m.UpdateConfig(cfg)

	now := time.Now()
	// 0.6 would have crossed the original 0.5 threshold but not the new 0.99 one.
	_ = feed(m, 0.6, now, 200*time.Millisecond)
	if m.State() != Idle {
		t.Fatalf("state = %v, want Idle (updated threshold should already be active)", m.State())
	}
}

func TestStateMachineUpdateConfigDeferredUntilUtteranceFinalized(t *testing.T) {
	var completed int
	m := NewStateMachine(testConfig(), nil, func(id uint64, audio []float32) { completed++ })

	now := time.Now()
	now = feed(m, 0.9, now, 500*time.Millisecond) // enters Speaking
	if m.UtteranceID() == 0 {
		t.Fatalf("expected an in-flight utterance")
	}

	cfg := testConfig()
	cfg.MaxUtteranceDuration = 1 * time.Nanosecond
	m.UpdateConfig(cfg)

	// The in-flight utterance must not be force-finalized by the staged
	// config; it should still require actual silence to end.
	now = feed(m, 0.9, now, 200*time.Millisecond)
	if completed != 0 {
		t.Fatalf("staged config applied retroactively to an utterance in flight")
	}

	_ = feed(m, 0.1, now, 700*time.Millisecond)
	if completed != 1 {
		t.Fatalf("completed = %d, want 1 after utterance finalized", completed)
	}

	// The staged config now applies to the next utterance: with
	// MaxUtteranceDuration effectively 0, continuous speech force-finalizes
	// almost immediately instead of only after the original 30s.
	before := completed
	now2 := time.Now()
	_ = feed(m, 0.9, now2, 200*time.Millisecond)
	if completed <= before {
		t.Fatalf("expected the staged MaxUtteranceDuration to force-finalize the next utterance, completed stayed at %d", completed)
	}
}
