package session

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voxcore/voxcore/pkg/audio"
	"github.com/voxcore/voxcore/pkg/transcription"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages []envelope
}

func (f *fakeTransport) Send(ctx context.Context, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	f.mu.Lock()
	f.messages = append(f.messages, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ofType(t string) []envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []envelope
	for _, m := range f.messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func sineSamples(n int, amplitude, freq, sampleRate float64) []float32 {
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return out
}

func testSessionConfig() Config {
	cfg := DefaultConfig()
	cfg.VAD.Mode = "energy"
	cfg.VAD.MinSpeechDurationMs = 0
	cfg.VAD.MinSilenceDurationMs = 0
	cfg.VAD.JitterToleranceMs = 0
	cfg.VAD.WindowSizeMs = 64
	cfg.Coordinator.IncrementalUpdatesEnabled = false
	cfg.Coordinator.MinTextLength = 0
	return cfg
}

func waitForMessages(t *testing.T, transport *fakeTransport, msgType string, count int) []envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := transport.ofType(msgType); len(msgs) >= count {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q messages", count, msgType)
	return nil
}

// waitForFinalTranscript polls until a non-partial transcription_update
// arrives (the utterance's Start call also produces a live partial, so the
// first transcription_update is not necessarily the final one).
func waitForFinalTranscript(t *testing.T, transport *fakeTransport) TranscriptionUpdateData {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, env := range transport.ofType(TypeTranscriptionUpdate) {
			var data TranscriptionUpdateData
			if err := json.Unmarshal(env.Data, &data); err == nil && !data.IsPartial {
				return data
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a final transcription_update")
	return TranscriptionUpdateData{}
}

func TestSessionSingleShortUtterance(t *testing.T) {
	model, _ := transcription.NewModel("")
	worker := transcription.NewWorker(model, 8, nil, nil)
	worker.Start()
	defer worker.Stop()

	transport := &fakeTransport{}
	sess, err := New(context.Background(), testSessionConfig(), worker, transport, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sess.Shutdown(context.Background())

	windowN := sess.windowSamples
	var samples []float32
	samples = append(samples, sineSamples(windowN, 0.5, 440, 16000)...)
	samples = append(samples, sineSamples(windowN, 0.5, 440, 16000)...)
	samples = append(samples, make([]float32, windowN)...)
	samples = append(samples, make([]float32, windowN)...)

	pcm := audio.Float32ToPCM16(samples)
	sess.IngestBinary(pcm)

	data := waitForFinalTranscript(t, transport)
	if data.Text == "" {
		t.Fatalf("expected non-empty transcript text")
	}
	if data.Confidence <= 0 {
		t.Fatalf("expected confidence > 0, got %v", data.Confidence)
	}
}

func TestSessionDumpsUtteranceAudioWhenConfigured(t *testing.T) {
	model, _ := transcription.NewModel("")
	worker := transcription.NewWorker(model, 8, nil, nil)
	worker.Start()
	defer worker.Stop()

	dir := t.TempDir()
	cfg := testSessionConfig()
	cfg.Debug.DumpAudioDir = dir

	transport := &fakeTransport{}
	sess, err := New(context.Background(), cfg, worker, transport, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sess.Shutdown(context.Background())

	windowN := sess.windowSamples
	var samples []float32
	samples = append(samples, sineSamples(windowN, 0.5, 440, 16000)...)
	samples = append(samples, sineSamples(windowN, 0.5, 440, 16000)...)
	samples = append(samples, make([]float32, windowN)...)
	samples = append(samples, make([]float32, windowN)...)

	sess.IngestBinary(audio.Float32ToPCM16(samples))
	waitForFinalTranscript(t, transport)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one dumped WAV file, got %d", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".wav" {
		t.Fatalf("expected a .wav file, got %q", entries[0].Name())
	}
}

func TestSessionPicksUpCoordinatorReloadBetweenUtterances(t *testing.T) {
	model, _ := transcription.NewModel("")
	worker := transcription.NewWorker(model, 8, nil, nil)
	worker.Start()
	defer worker.Stop()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	initial := `
vad:
  speech_threshold: 0.5
  silence_threshold: 0.3
  sample_rate: 16000
coordinator:
  min_text_length: 0
transcription:
  queue_capacity: 16
audio:
  capacity_seconds: 30
`
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := testSessionConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher, err := NewWatcher(ctx, path, cfg, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	transport := &fakeTransport{}
	sess, err := New(context.Background(), cfg, worker, transport, nil, nil, watcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sess.Shutdown(context.Background())

	updated := `
vad:
  speech_threshold: 0.5
  silence_threshold: 0.3
  sample_rate: 16000
coordinator:
  min_text_length: 999
transcription:
  queue_capacity: 16
audio:
  capacity_seconds: 30
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("WriteFile (update): %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && watcher.Current().Coordinator.MinTextLength != 999 {
		time.Sleep(10 * time.Millisecond)
	}
	if watcher.Current().Coordinator.MinTextLength != 999 {
		t.Fatal("watcher never observed the reloaded config")
	}

	// Poke the session so it re-checks the watcher, then give the reload a
	// moment to land (no utterance is in flight, so it applies immediately).
	sess.IngestBinary(nil)
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.coord.Config().MinTextLength == 999 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Session never picked up the reloaded coordinator.min_text_length")
}

func TestSessionIngestBinaryDropsMalformedFrames(t *testing.T) {
	model, _ := transcription.NewModel("")
	worker := transcription.NewWorker(model, 8, nil, nil)
	worker.Start()
	defer worker.Stop()

	sess, err := New(context.Background(), testSessionConfig(), worker, &fakeTransport{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sess.Shutdown(context.Background())

	sess.IngestBinary(nil)
	sess.IngestBinary([]byte{0x01}) // odd byte count
	if sess.buffer.TotalSamples() != 0 {
		t.Fatalf("malformed frames should be dropped, TotalSamples() = %d", sess.buffer.TotalSamples())
	}
}

func TestSessionConfigureIsIdempotent(t *testing.T) {
	model, _ := transcription.NewModel("")
	worker := transcription.NewWorker(model, 8, nil, nil)
	worker.Start()
	defer worker.Stop()

	transport := &fakeTransport{}
	sess, err := New(context.Background(), testSessionConfig(), worker, transport, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sess.Shutdown(context.Background())

	sess.Configure("en", "es", "default")
	sess.Configure("en", "es", "default")

	if len(transport.messages) != 0 {
		t.Fatalf("Configure should not emit any message, got %d", len(transport.messages))
	}
}

func TestSessionPingPong(t *testing.T) {
	model, _ := transcription.NewModel("")
	worker := transcription.NewWorker(model, 8, nil, nil)
	worker.Start()
	defer worker.Stop()

	transport := &fakeTransport{}
	sess, err := New(context.Background(), testSessionConfig(), worker, transport, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sess.Shutdown(context.Background())

	sess.IngestJSON([]byte(`{"type":"ping"}`))
	waitForMessages(t, transport, TypePong, 1)
}
