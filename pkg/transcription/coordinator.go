package transcription

import (
	"sync"
	"time"
)

// CoordinatorConfig tunes the de-duplication, rate-limiting and
// normalization rules applied by the Coordinator's update policy.
type CoordinatorConfig struct {
	MinUpdateInterval         time.Duration
	MinTextLength             int
	SimilarityThreshold       float64
	IncrementalUpdatesEnabled bool
	MaxUpdatesPerSecond       int
	Normalize                 NormalizeConfig
}

// UpdateSink receives outbound transcription updates. pkg/session adapts
// this to the wire protocol's transcription_update message.
type UpdateSink interface {
	EmitTranscriptionUpdate(utteranceID uint64, result Result, languageChanged bool)
	EmitTranscriptionError(utteranceID uint64, err error)
}

// streamingState is held per live utterance (spec §3's "Streaming state").
type streamingState struct {
	currentText    string
	lastSentText   string
	lastLanguage   string
	lastUpdateTime time.Time
	updateCount    int
	isActive       bool
	isFinalized    bool
	generation     uint64

	// recentUpdateTimes backs the max-updates-per-second rule: a rolling
	// window of emission timestamps, trimmed to the last second.
	recentUpdateTimes []time.Time
}

// Coordinator implements component G: per-utterance de-duplication, rate
// limiting and ordering over a shared Worker. Grounded on
// original_source/backend/include/stt/streaming_transcriber.hpp's
// TranscriptionState/shouldSendUpdate, and on
// team-hashing-lokutor-orchestrator/pkg/orchestrator/managed_stream.go's
// sttGeneration stale-callback rejection pattern.
type Coordinator struct {
	cfg        CoordinatorConfig
	pendingCfg *CoordinatorConfig
	worker     *Worker
	sink       UpdateSink

	mu     sync.Mutex
	states map[uint64]*streamingState
}

// NewCoordinator constructs a Coordinator backed by worker, emitting
// outbound updates via sink.
func NewCoordinator(cfg CoordinatorConfig, worker *Worker, sink UpdateSink) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		worker: worker,
		sink:   sink,
		states: make(map[uint64]*streamingState),
	}
}

// Start creates streaming state for utteranceID and submits an initial
// transcription request with initialAudio (which may be empty).
func (c *Coordinator) Start(utteranceID uint64, initialAudio []float32, sampleRate int, modelCfg ModelConfig, isLive bool) {
	c.mu.Lock()
	st := &streamingState{isActive: true, generation: 1}
	c.states[utteranceID] = st
	gen := st.generation
	c.mu.Unlock()

	c.submit(utteranceID, initialAudio, sampleRate, modelCfg, isLive, gen)
}

// AddAudio submits an incremental request for utteranceID if the
// coordinator's state is still active and incremental updates are
// enabled. audio should be the full accumulated audio for this utterance
// (the underlying model re-transcribes from scratch on each increment, as
// is typical for local Whisper-style models).
func (c *Coordinator) AddAudio(utteranceID uint64, audio []float32, sampleRate int, modelCfg ModelConfig) {
	if !c.cfg.IncrementalUpdatesEnabled {
		return
	}
	c.mu.Lock()
	st, ok := c.states[utteranceID]
	if !ok || !st.isActive || st.isFinalized {
		c.mu.Unlock()
		return
	}
	gen := st.generation
	c.mu.Unlock()

	c.submit(utteranceID, audio, sampleRate, modelCfg, true, gen)
}

// Finalize marks the utterance's state finalized and submits one final
// request. After the final's callback is processed the state is released.
func (c *Coordinator) Finalize(utteranceID uint64, audio []float32, sampleRate int, modelCfg ModelConfig) {
	c.mu.Lock()
	st, ok := c.states[utteranceID]
	if !ok {
		st = &streamingState{isActive: true, generation: 1}
		c.states[utteranceID] = st
	}
	st.isFinalized = true
	gen := st.generation
	c.mu.Unlock()

	c.submit(utteranceID, audio, sampleRate, modelCfg, false, gen)
}

// UpdateConfig applies cfg immediately if no utterance is currently
// tracked, or stages it to apply once the last tracked utterance's state
// is released, so an utterance already in flight keeps the tuning it
// started under.
func (c *Coordinator) UpdateConfig(cfg CoordinatorConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.states) == 0 {
		c.cfg = cfg
		c.pendingCfg = nil
		return
	}
	c.pendingCfg = &cfg
}

// Config returns the coordinator's currently active tuning configuration.
func (c *Coordinator) Config() CoordinatorConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Cancel marks the state inactive; subsequent callbacks for this id are
// dropped. Calling Cancel bumps the generation so already-enqueued
// requests' callbacks observe staleness.
func (c *Coordinator) Cancel(utteranceID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[utteranceID]; ok {
		st.isActive = false
		st.generation++
	}
}

func (c *Coordinator) submit(utteranceID uint64, audio []float32, sampleRate int, modelCfg ModelConfig, isLive bool, generation uint64) {
	req := Request{
		UtteranceID: utteranceID,
		Audio:       audio,
		SampleRate:  sampleRate,
		IsLive:      isLive,
		Config:      modelCfg,
		Generation:  generation,
		Callback: func(r Result) {
			c.onResult(utteranceID, generation, r)
		},
	}
	if err := c.worker.Submit(req); err != nil {
		// Backpressure: per §7, prefer dropping partials; a final that
		// cannot be enqueued is a hard error surfaced to the client.
		if !isLive {
			if c.sink != nil {
				c.sink.EmitTranscriptionError(utteranceID, err)
			}
			c.release(utteranceID)
		}
	}
}

// onResult is the Worker's callback entry point, applying the update
// policy of spec §4.G.
func (c *Coordinator) onResult(utteranceID uint64, generation uint64, result Result) {
	c.mu.Lock()
	st, ok := c.states[utteranceID]
	if !ok || !st.isActive || st.generation != generation {
		c.mu.Unlock()
		return
	}

	if !result.IsPartial {
		normalized := Normalize(result.Text, c.cfg.Normalize)
		languageChanged := st.lastLanguage != "" && st.lastLanguage != result.DetectedLanguage
		st.currentText = normalized
		st.lastSentText = normalized
		st.lastLanguage = result.DetectedLanguage
		st.isFinalized = true
		st.isActive = false
		delete(c.states, utteranceID)
		c.applyPendingConfigLocked()
		c.mu.Unlock()

		result.Text = normalized
		if c.sink != nil {
			c.sink.EmitTranscriptionUpdate(utteranceID, result, languageChanged)
		}
		return
	}

	// Step 2: normalize.
	normalized := Normalize(result.Text, c.cfg.Normalize)

	// Step 3: similarity suppression for partials.
	if c.cfg.SimilarityThreshold > 0 && Similarity(normalized, st.lastSentText) >= c.cfg.SimilarityThreshold {
		c.mu.Unlock()
		return
	}

	n := now()

	// Step 4: minimum update interval.
	if !st.lastUpdateTime.IsZero() && n.Sub(st.lastUpdateTime) < c.cfg.MinUpdateInterval {
		c.mu.Unlock()
		return
	}

	// Step 5: max updates per second (rolling window).
	cutoff := n.Add(-time.Second)
	trimmed := st.recentUpdateTimes[:0]
	for _, t := range st.recentUpdateTimes {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	st.recentUpdateTimes = trimmed
	if c.cfg.MaxUpdatesPerSecond > 0 && len(st.recentUpdateTimes) >= c.cfg.MaxUpdatesPerSecond {
		c.mu.Unlock()
		return
	}

	// Step 6: minimum text length for partials.
	if len(normalized) < c.cfg.MinTextLength {
		c.mu.Unlock()
		return
	}

	// Step 7: emit.
	languageChanged := st.lastLanguage != "" && st.lastLanguage != result.DetectedLanguage
	st.currentText = normalized
	st.lastSentText = normalized
	st.lastLanguage = result.DetectedLanguage
	st.lastUpdateTime = n
	st.recentUpdateTimes = append(st.recentUpdateTimes, n)
	st.updateCount++
	c.mu.Unlock()

	result.Text = normalized
	if c.sink != nil {
		c.sink.EmitTranscriptionUpdate(utteranceID, result, languageChanged)
	}
}

func (c *Coordinator) release(utteranceID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, utteranceID)
	c.applyPendingConfigLocked()
}

// applyPendingConfigLocked swaps in a staged config once the last tracked
// utterance is released. Caller must hold mu.
func (c *Coordinator) applyPendingConfigLocked() {
	if len(c.states) == 0 && c.pendingCfg != nil {
		c.cfg = *c.pendingCfg
		c.pendingCfg = nil
	}
}

// Active reports whether utteranceID currently has live streaming state.
func (c *Coordinator) Active(utteranceID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[utteranceID]
	return ok && st.isActive
}

// CancelAll marks every currently-tracked utterance inactive; used by
// Session shutdown.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.states {
		st.isActive = false
		st.generation++
	}
}
