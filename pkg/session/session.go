package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/voxcore/voxcore/internal/syncx"
	"github.com/voxcore/voxcore/pkg/audio"
	"github.com/voxcore/voxcore/pkg/transcription"
	"github.com/voxcore/voxcore/pkg/vad"
)

// Transport is the minimal outbound capability a Session needs from its
// transport binding; cmd/server implements it over coder/websocket.
type Transport interface {
	Send(ctx context.Context, data []byte) error
}

// conversationConfig is the snapshot taken by Configure, applied at the
// next utterance boundary rather than retroactively.
type conversationConfig struct {
	SourceLang string
	TargetLang string
	Voice      string
}

// Session implements component H: it owns an Audio Buffer, VAD Engine,
// State Machine, and its own Streaming Coordinator, and holds a
// non-owning handle to the process-wide Transcription Worker. Grounded on
// team-hashing-lokutor-orchestrator/pkg/orchestrator/managed_stream.go's
// ManagedStream — lock discipline around shared mutable fields, a
// closeOnce guard, and event dispatch — generalized from
// VAD+STT+LLM+TTS orchestration to VAD+transcription only.
type Session struct {
	id xid.ID

	buffer *audio.Buffer
	engine *vad.Engine
	sm     *vad.StateMachine
	coord  *transcription.Coordinator
	worker *transcription.Worker

	cfg        *syncx.Guard[Config]
	convoCfg   *syncx.Guard[conversationConfig]
	modelCfgFn func() transcription.ModelConfig

	windowSamples int

	transport Transport
	outbound  chan []byte
	logger    *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	eg        *errgroup.Group
	closeOnce sync.Once

	playbackSpeaking *syncx.Guard[bool]

	debugDumpDir string

	watcher *Watcher
}

// stateMachineConfigFrom derives vad.StateMachineConfig from the VAD
// section of cfg.
func stateMachineConfigFrom(cfg Config) vad.StateMachineConfig {
	return vad.StateMachineConfig{
		SpeechThreshold:      cfg.VAD.SpeechThreshold,
		SilenceThreshold:     cfg.VAD.SilenceThreshold,
		MinSpeechDuration:    time.Duration(cfg.VAD.MinSpeechDurationMs) * time.Millisecond,
		MinSilenceDuration:   time.Duration(cfg.VAD.MinSilenceDurationMs) * time.Millisecond,
		MaxUtteranceDuration: time.Duration(cfg.VAD.MaxUtteranceDurationMs) * time.Millisecond,
		JitterTolerance:      time.Duration(cfg.VAD.JitterToleranceMs) * time.Millisecond,
	}
}

// coordinatorConfigFrom derives transcription.CoordinatorConfig from the
// coordinator section of cfg.
func coordinatorConfigFrom(cfg Config) transcription.CoordinatorConfig {
	return transcription.CoordinatorConfig{
		MinUpdateInterval:         time.Duration(cfg.Coordinator.MinUpdateIntervalMs) * time.Millisecond,
		MinTextLength:             cfg.Coordinator.MinTextLength,
		SimilarityThreshold:       cfg.Coordinator.SimilarityThreshold,
		IncrementalUpdatesEnabled: cfg.Coordinator.IncrementalUpdatesEnabled,
		MaxUpdatesPerSecond:       cfg.Coordinator.MaxUpdatesPerSecond,
		Normalize: transcription.NormalizeConfig{
			Trim:             cfg.Coordinator.NormalizeTrim,
			Lowercase:        cfg.Coordinator.NormalizeLowercase,
			StripPunctuation: cfg.Coordinator.NormalizeStripPunctuation,
		},
	}
}

// New constructs a Session wired from cfg, sharing worker across sessions
// per spec §3's ownership summary, and sending outbound wire messages via
// transport. vadStats may be nil; when non-nil it receives a side-channel
// copy of every VAD Engine probability computation (see pkg/telemetry).
// watcher may be nil; when non-nil, IngestBinary re-checks it on every
// call and pushes any changed VAD/coordinator tuning into the running
// StateMachine/Coordinator, taking effect at the next utterance boundary
// rather than retroactively (sample rate, window size and VAD mode are
// structural and are never hot-reloaded — they are fixed at Session
// construction from the initial cfg snapshot).
func New(ctx context.Context, cfg Config, worker *transcription.Worker, transport Transport, logger *slog.Logger, vadStats vad.StatsRecorder, watcher *Watcher) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mode := vad.ParseMode(cfg.VAD.Mode)

	var ml *vad.MLSession
	var energy *vad.EnergyVAD
	if mode == vad.ModeML || mode == vad.ModeHybrid {
		m, err := vad.NewMLSession()
		if err != nil {
			return nil, Wrap(err, CodeVADModelError, "constructing ML VAD session")
		}
		ml = m
	}
	if mode == vad.ModeEnergy || mode == vad.ModeHybrid {
		energy = vad.NewEnergyVAD(vad.DefaultEnergyVADConfig())
	}

	engine := vad.NewEngine(vad.EngineConfig{Mode: mode, SampleRate: cfg.VAD.SampleRate}, ml, energy, vadStats)

	sctx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(sctx)

	s := &Session{
		id:               xid.New(),
		buffer:           audio.NewBuffer(int(cfg.Audio.CapacitySeconds) * cfg.VAD.SampleRate),
		engine:           engine,
		cfg:              syncx.New(cfg),
		convoCfg:         syncx.New(conversationConfig{}),
		transport:        transport,
		outbound:         make(chan []byte, 64),
		logger:           logger,
		ctx:              egCtx,
		cancel:           cancel,
		eg:               eg,
		windowSamples:    cfg.VAD.SampleRate * cfg.VAD.WindowSizeMs / 1000,
		playbackSpeaking: syncx.New(false),
		debugDumpDir:     cfg.Debug.DumpAudioDir,
		watcher:          watcher,
	}
	s.worker = worker
	s.modelCfgFn = func() transcription.ModelConfig {
		tc := s.cfg.Get().Transcription
		return transcription.ModelConfig{
			Language:           tc.Language,
			TranslateToEnglish: tc.TranslateToEnglish,
			Temperature:        tc.Temperature,
			MaxTokens:          tc.MaxTokens,
		}
	}

	s.sm = vad.NewStateMachine(stateMachineConfigFrom(cfg), s.onTransition, s.onUtteranceComplete)

	s.coord = transcription.NewCoordinator(coordinatorConfigFrom(cfg), worker, s)

	eg.Go(func() error {
		return s.pump(egCtx)
	})

	return s, nil
}

// ID returns the session's opaque connection identifier.
func (s *Session) ID() xid.ID { return s.id }

// pump drains outbound and writes each message via transport, until ctx
// is cancelled.
func (s *Session) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.outbound:
			if s.transport == nil {
				continue
			}
			if err := s.transport.Send(ctx, msg); err != nil {
				s.logger.Warn("session transport send failed", "session_id", s.id.String(), "error", err)
			}
		}
	}
}

func (s *Session) send(msgType string, data any) {
	raw, err := encodeOutbound(msgType, data)
	if err != nil {
		s.logger.Error("failed to encode outbound message", "type", msgType, "error", err)
		return
	}
	select {
	case s.outbound <- raw:
	default:
		s.logger.Warn("outbound queue full, dropping message", "type", msgType, "session_id", s.id.String())
	}
}

// Configure updates the snapshotted source/target language and voice used
// at the next utterance start. Calling it twice with identical values is
// a no-op: no message is emitted either way, so repeated calls with the
// same arguments have no observable effect.
func (s *Session) Configure(sourceLang, targetLang, voice string) {
	s.convoCfg.Set(conversationConfig{SourceLang: sourceLang, TargetLang: targetLang, Voice: voice})
}

// IngestBinary converts a little-endian 16-bit PCM frame to float samples,
// appends it to the Audio Buffer, and drives the VAD pipeline. Zero-length
// or odd-byte-count frames are dropped silently per §7.
func (s *Session) IngestBinary(pcm []byte) {
	s.syncConfigFromWatcher()
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return
	}
	samples := audio.PCM16ToFloat32(pcm)
	s.buffer.Append(samples)

	for {
		window, ok := s.buffer.DrainWindow(s.windowSamples)
		if !ok {
			break
		}
		prob := s.engine.Process(window)
		s.sm.Process(prob, window, time.Now())

		if s.sm.State() == vad.Speaking {
			id := s.sm.UtteranceID()
			if id != 0 {
				s.coord.AddAudio(id, s.sm.UtteranceAudioSnapshot(), s.cfg.Get().VAD.SampleRate, s.modelCfgFn())
			}
		}
	}
}

// syncConfigFromWatcher checks the shared config watcher (if any) for a
// reloaded value and, if VAD or coordinator tuning changed, stages it on
// the StateMachine/Coordinator: both apply it at the next utterance
// boundary rather than to one already in flight. Sample rate, window size
// and VAD mode are structural to this Session (they size buffers and
// select the VAD backend at construction) and are intentionally left
// untouched by reload.
func (s *Session) syncConfigFromWatcher() {
	if s.watcher == nil {
		return
	}
	latest := s.watcher.Current()
	current := s.cfg.Get()

	next := current
	next.VAD.SpeechThreshold = latest.VAD.SpeechThreshold
	next.VAD.SilenceThreshold = latest.VAD.SilenceThreshold
	next.VAD.MinSpeechDurationMs = latest.VAD.MinSpeechDurationMs
	next.VAD.MinSilenceDurationMs = latest.VAD.MinSilenceDurationMs
	next.VAD.MaxUtteranceDurationMs = latest.VAD.MaxUtteranceDurationMs
	next.VAD.JitterToleranceMs = latest.VAD.JitterToleranceMs
	next.Coordinator = latest.Coordinator
	next.Transcription = latest.Transcription
	next.Debug = latest.Debug

	if next == current {
		return
	}
	s.cfg.Set(next)
	s.debugDumpDir = next.Debug.DumpAudioDir
	s.sm.UpdateConfig(stateMachineConfigFrom(next))
	s.coord.UpdateConfig(coordinatorConfigFrom(next))
}

// IngestJSON dispatches an inbound protocol message (config / end_session
// / ping).
func (s *Session) IngestJSON(raw []byte) {
	msgType, cfg, err := DecodeInbound(raw)
	if err != nil {
		if serr, ok := err.(*Error); ok {
			s.send(TypeError, ErrorData{Message: serr.Message, Code: string(serr.Code)})
		}
		return
	}
	switch msgType {
	case TypeConfig:
		if cfg != nil {
			s.Configure(cfg.SourceLang, cfg.TargetLang, cfg.Voice)
		}
	case TypeEndSession:
		go s.Shutdown(context.Background())
	case TypePing:
		s.send(TypePong, struct{}{})
	}
}

// NotifyPlaybackState lets an out-of-scope downstream component (TTS
// playback) report that it is speaking, so status_update can emit the
// "speaking" state without the core needing to know about TTS (see
// SPEC_FULL.md §6's supplemented feature).
func (s *Session) NotifyPlaybackState(speaking bool) {
	s.playbackSpeaking.Set(speaking)
	if speaking {
		s.send(TypeStatusUpdate, StatusUpdateData{State: StatusSpeaking})
	}
}

func (s *Session) onTransition(t vad.Transition) {
	if s.playbackSpeaking.Get() {
		return
	}
	var state string
	switch t.Curr {
	case vad.Idle:
		state = StatusIdle
	case vad.SpeechDetected, vad.Speaking:
		state = StatusListening
	case vad.PauseDetected:
		state = StatusThinking
	}
	var uid *uint64
	if t.UtteranceID != 0 {
		id := t.UtteranceID
		uid = &id
	}
	s.send(TypeStatusUpdate, StatusUpdateData{State: state, UtteranceID: uid})

	if t.Prev == vad.SpeechDetected && t.Curr == vad.Speaking {
		s.coord.Start(t.UtteranceID, nil, s.cfg.Get().VAD.SampleRate, s.modelCfgFn(), true)
		s.send(TypeAudioStart, AudioStartData{UtteranceID: t.UtteranceID, Duration: 0})
	}
}

func (s *Session) onUtteranceComplete(utteranceID uint64, audioSamples []float32) {
	sampleRate := s.cfg.Get().VAD.SampleRate
	if s.debugDumpDir != "" {
		s.dumpUtteranceAudio(utteranceID, audioSamples, sampleRate)
	}
	s.coord.Finalize(utteranceID, audioSamples, sampleRate, s.modelCfgFn())
}

// dumpUtteranceAudio writes audio as a WAV file under s.debugDumpDir for
// offline inspection; failures are logged, never fatal to the pipeline.
func (s *Session) dumpUtteranceAudio(utteranceID uint64, audioSamples []float32, sampleRate int) {
	path := filepath.Join(s.debugDumpDir, fmt.Sprintf("utterance_%s_%d.wav", s.id.String(), utteranceID))
	wav := audio.NewWavBuffer(audio.Float32ToPCM16(audioSamples), sampleRate)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		s.logger.Warn("failed to dump utterance audio", "path", path, "error", err)
	}
}

// EmitTranscriptionUpdate implements transcription.UpdateSink.
func (s *Session) EmitTranscriptionUpdate(utteranceID uint64, result transcription.Result, languageChanged bool) {
	s.send(TypeTranscriptionUpdate, TranscriptionUpdateData{
		Text:               result.Text,
		UtteranceID:        utteranceID,
		Confidence:         result.Confidence,
		IsPartial:          result.IsPartial,
		StartTimeMs:        result.StartMs,
		EndTimeMs:          result.EndMs,
		DetectedLanguage:   result.DetectedLanguage,
		LanguageConfidence: result.LanguageConfidence,
		LanguageChanged:    languageChanged,
	})
	if languageChanged {
		uid := utteranceID
		s.send(TypeLanguageChange, LanguageChangeData{
			NewLanguage: result.DetectedLanguage,
			Confidence:  result.LanguageConfidence,
			UtteranceID: &uid,
		})
	}
}

// EmitTranscriptionError implements transcription.UpdateSink.
func (s *Session) EmitTranscriptionError(utteranceID uint64, err error) {
	uid := utteranceID
	s.send(TypeError, ErrorData{
		Message:     "transcription failed",
		Code:        string(CodeTranscriptionError),
		UtteranceID: &uid,
	})
}

// Shutdown cancels all pending utterances, stops ingest, and disconnects.
// It is idempotent.
func (s *Session) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.coord.CancelAll()
		s.sm.Reset()
		s.buffer.Clear()
		s.cancel()
		done := make(chan error, 1)
		go func() { done <- s.eg.Wait() }()
		select {
		case e := <-done:
			err = e
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}
