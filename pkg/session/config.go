package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// VADConfig mirrors spec §6's VAD configuration fields.
type VADConfig struct {
	SpeechThreshold        float64       `yaml:"speech_threshold"`
	SilenceThreshold       float64       `yaml:"silence_threshold"`
	MinSpeechDurationMs    int           `yaml:"min_speech_duration_ms"`
	MinSilenceDurationMs   int           `yaml:"min_silence_duration_ms"`
	MaxUtteranceDurationMs int           `yaml:"max_utterance_duration_ms"`
	WindowSizeMs           int           `yaml:"window_size_ms"`
	SampleRate             int           `yaml:"sample_rate"`
	Mode                   string        `yaml:"mode"`
	JitterToleranceMs      int           `yaml:"jitter_tolerance_ms"`
}

// CoordinatorConfig mirrors spec §6's streaming coordinator fields.
type CoordinatorConfig struct {
	MinUpdateIntervalMs       int     `yaml:"min_update_interval_ms"`
	MinTextLength             int     `yaml:"min_text_length"`
	SimilarityThreshold       float64 `yaml:"similarity_threshold"`
	IncrementalUpdatesEnabled bool    `yaml:"incremental_updates_enabled"`
	MaxUpdatesPerSecond       int     `yaml:"max_updates_per_second"`
	NormalizeTrim             bool    `yaml:"normalize_trim"`
	NormalizeLowercase        bool    `yaml:"normalize_lowercase"`
	NormalizeStripPunctuation bool    `yaml:"normalize_strip_punctuation"`
}

// TranscriptionConfig mirrors spec §6's transcription fields.
type TranscriptionConfig struct {
	ModelPath          string  `yaml:"model_path"`
	Language           string  `yaml:"language"`
	TranslateToEnglish bool    `yaml:"translate_to_english"`
	Temperature        float64 `yaml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens"`
	QueueCapacity      int     `yaml:"queue_capacity"`
}

// AudioConfig mirrors spec §6's audio buffer fields.
type AudioConfig struct {
	CapacitySeconds float64 `yaml:"capacity_seconds"`
}

// DebugConfig holds operational, non-semantic knobs useful while
// diagnosing a misbehaving session; all default to off.
type DebugConfig struct {
	// DumpAudioDir, if non-empty, writes every finalized utterance's audio
	// as a WAV file under this directory (named
	// "utterance_<session id>_<utterance id>.wav"), for
	// offline inspection. Grounded on the teacher's
	// pkg/orchestrator/echo_suppression_test.go use of audio.NewWavBuffer
	// to dump captured audio to disk for manual review.
	DumpAudioDir string `yaml:"dump_audio_dir"`
}

// Config is the complete static process configuration, loaded once per
// process unless reloaded. Grounded on
// MrWong99-glyphoxa/internal/config/loader.go's yaml.v3 Load/Validate
// pattern, merged with GriffinCanCode-good-listener's env-override
// helpers.
type Config struct {
	VAD            VADConfig            `yaml:"vad"`
	Coordinator    CoordinatorConfig    `yaml:"coordinator"`
	Transcription  TranscriptionConfig  `yaml:"transcription"`
	Audio          AudioConfig          `yaml:"audio"`
	Debug          DebugConfig          `yaml:"debug"`
}

// DefaultConfig returns the configuration with every default named in
// spec §6.
func DefaultConfig() Config {
	return Config{
		VAD: VADConfig{
			SpeechThreshold:        0.5,
			SilenceThreshold:       0.3,
			MinSpeechDurationMs:    100,
			MinSilenceDurationMs:   500,
			MaxUtteranceDurationMs: 30000,
			WindowSizeMs:           64,
			SampleRate:             16000,
			Mode:                   "hybrid",
			JitterToleranceMs:      20,
		},
		Coordinator: CoordinatorConfig{
			MinUpdateIntervalMs:       250,
			MinTextLength:             3,
			SimilarityThreshold:       0.9,
			IncrementalUpdatesEnabled: true,
			MaxUpdatesPerSecond:       4,
			NormalizeTrim:             true,
			NormalizeLowercase:        false,
			NormalizeStripPunctuation: false,
		},
		Transcription: TranscriptionConfig{
			Language:      "auto",
			Temperature:   0.0,
			MaxTokens:     0,
			QueueCapacity: 32,
		},
		Audio: AudioConfig{
			CapacitySeconds: 60,
		},
	}
}

// Load reads YAML from path, applies VOXCORE_*-prefixed environment
// overrides, validates, and returns the result. Config errors are fatal
// at load (returned as *session.Error with CodeConfigInvalid).
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, Wrap(err, CodeConfigInvalid, "reading config file")
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, Wrap(err, CodeConfigInvalid, "parsing config file")
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the config invariants spec.md requires, most
// importantly speech_threshold > silence_threshold.
func (c Config) Validate() error {
	if c.VAD.SpeechThreshold <= c.VAD.SilenceThreshold {
		return New(CodeConfigInvalid, fmt.Sprintf(
			"vad.speech_threshold (%v) must be greater than vad.silence_threshold (%v)",
			c.VAD.SpeechThreshold, c.VAD.SilenceThreshold))
	}
	if c.VAD.SampleRate != 16000 {
		return New(CodeConfigInvalid, "vad.sample_rate: only 16000 is supported in v1")
	}
	if c.Coordinator.SimilarityThreshold < 0 || c.Coordinator.SimilarityThreshold > 1 {
		return New(CodeConfigInvalid, "coordinator.similarity_threshold must be in [0,1]")
	}
	if c.Audio.CapacitySeconds <= 0 {
		return New(CodeConfigInvalid, "audio.capacity_seconds must be positive")
	}
	if c.Transcription.QueueCapacity <= 0 {
		return New(CodeConfigInvalid, "transcription.queue_capacity must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	getEnvFloat(&cfg.VAD.SpeechThreshold, "VOXCORE_VAD_SPEECH_THRESHOLD")
	getEnvFloat(&cfg.VAD.SilenceThreshold, "VOXCORE_VAD_SILENCE_THRESHOLD")
	getEnvInt(&cfg.VAD.MinSpeechDurationMs, "VOXCORE_VAD_MIN_SPEECH_DURATION_MS")
	getEnvInt(&cfg.VAD.MinSilenceDurationMs, "VOXCORE_VAD_MIN_SILENCE_DURATION_MS")
	getEnvInt(&cfg.VAD.MaxUtteranceDurationMs, "VOXCORE_VAD_MAX_UTTERANCE_DURATION_MS")
	getEnvString(&cfg.VAD.Mode, "VOXCORE_VAD_MODE")
	getEnvString(&cfg.Transcription.ModelPath, "VOXCORE_TRANSCRIPTION_MODEL_PATH")
	getEnvString(&cfg.Transcription.Language, "VOXCORE_TRANSCRIPTION_LANGUAGE")
	getEnvFloat(&cfg.Coordinator.SimilarityThreshold, "VOXCORE_COORDINATOR_SIMILARITY_THRESHOLD")
	getEnvInt(&cfg.Coordinator.MaxUpdatesPerSecond, "VOXCORE_COORDINATOR_MAX_UPDATES_PER_SECOND")
}

func getEnvString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func getEnvInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func getEnvFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Watcher reloads a Config from disk whenever the underlying file changes
// and publishes the latest value atomically. New values apply only to the
// next utterance, never retroactively (see SPEC_FULL.md's ambient stack
// section).
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	logger  *slog.Logger
}

// NewWatcher constructs a Watcher seeded with initial and begins watching
// path for changes; ctx cancellation stops the watch goroutine.
func NewWatcher(ctx context.Context, path string, initial Config, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{path: path, logger: logger}
	w.current.Store(&initial)

	if path == "" {
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				w.reload()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watcher error", "error", err)
			}
		}
	}()
	return w, nil
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected, retaining previous config", "error", err)
		return
	}
	w.current.Store(&cfg)
	w.logger.Info("config reloaded", "path", w.path)
}

// Current returns the most recently accepted configuration.
func (w *Watcher) Current() Config {
	return *w.current.Load()
}
