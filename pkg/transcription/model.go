package transcription

import "context"

// Model is the underlying STT engine invoked serially by one Worker. Not
// safe for concurrent calls — the Worker enforces serialization.
type Model interface {
	// Transcribe runs inference over audio and returns one or more
	// results via the returned slice: for isLive requests, only partial
	// results (a live request never carries the utterance's final); for
	// non-live requests, exactly one final, as the last result.
	Transcribe(ctx context.Context, audio []float32, sampleRate int, isLive bool, cfg ModelConfig) ([]Result, error)
	// Close releases any resources held by the model.
	Close() error
}
