package transcription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/voxcore/voxcore/internal/syncx"
)

// ErrQueueFull is returned by Submit when the bounded queue is saturated.
var ErrQueueFull = errors.New("transcription: worker queue full")

// WorkerStats are read-any-time statistics for the worker.
type WorkerStats struct {
	Processed int64
	Dropped   int64
	Errors    int64
}

// QueueRecorder receives side-channel telemetry about queue occupancy and
// result latency; see pkg/telemetry.
type QueueRecorder interface {
	QueueDepthDelta(delta int64)
	RecordResult(latencyMs float64)
	RecordBreakerTrip()
}

// Worker is a process-wide, bounded single-consumer queue driving one
// Model instance: component F. Grounded on
// MrWong99-glyphoxa/pkg/provider/stt/whisper/whisper.go's session
// (audioCh + processLoop goroutine), generalized from an HTTP session to
// a request/result queue, and wrapped with a gobreaker circuit breaker so
// repeated model failures fail fast instead of wedging the single
// goroutine.
type Worker struct {
	model   Model
	queue   chan Request
	done    chan struct{}
	breaker *gobreaker.CircuitBreaker[[]Result]
	logger  *slog.Logger
	record  QueueRecorder

	stats *syncx.Guard[WorkerStats]
}

// NewWorker constructs a Worker with the given queue capacity. Call Start
// to begin processing and Stop to end it.
func NewWorker(model Model, queueCapacity int, logger *slog.Logger, record QueueRecorder) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "transcription-model",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	w := &Worker{
		model:  model,
		queue:  make(chan Request, queueCapacity),
		done:   make(chan struct{}),
		logger: logger,
		record: record,
		stats:  syncx.New(WorkerStats{}),
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		w.logger.Warn("transcription breaker state change", "name", name, "from", from.String(), "to", to.String())
		if to == gobreaker.StateOpen && w.record != nil {
			w.record.RecordBreakerTrip()
		}
	}
	w.breaker = gobreaker.NewCircuitBreaker[[]Result](settings)
	return w
}

// Start launches the single consumer goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop signals the consumer goroutine to exit and returns at once: it does
// not wait for the goroutine to finish. A request already being processed
// runs to completion; requests still queued may be left unprocessed, and
// their callbacks are then never invoked.
func (w *Worker) Stop() {
	close(w.done)
}

// Submit enqueues req and returns immediately. It never blocks beyond a
// short channel-send attempt: if the queue is full it returns
// ErrQueueFull rather than blocking the caller.
func (w *Worker) Submit(req Request) error {
	select {
	case w.queue <- req:
		if w.record != nil {
			w.record.QueueDepthDelta(1)
		}
		return nil
	default:
		w.stats.Write(func(s *WorkerStats) { s.Dropped++ })
		return ErrQueueFull
	}
}

// Stats returns a snapshot of the worker's processed/dropped/error counts.
func (w *Worker) Stats() WorkerStats {
	return w.stats.Get()
}

func (w *Worker) run() {
	for {
		select {
		case <-w.done:
			return
		case req := <-w.queue:
			if w.record != nil {
				w.record.QueueDepthDelta(-1)
			}
			w.process(req)
		}
	}
}

func (w *Worker) process(req Request) {
	start := time.Now()
	results, err := w.breaker.Execute(func() ([]Result, error) {
		return w.model.Transcribe(context.Background(), req.Audio, req.SampleRate, req.IsLive, req.Config)
	})
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		w.logger.Error("transcription failed", "utterance_id", req.UtteranceID, "error", err)
		w.stats.Write(func(s *WorkerStats) { s.Errors++ })
		if req.Callback != nil {
			req.Callback(Result{IsPartial: false, Text: ""})
		}
		return
	}

	w.stats.Write(func(s *WorkerStats) { s.Processed++ })
	for _, r := range results {
		if w.record != nil {
			w.record.RecordResult(latencyMs)
		}
		if req.Callback != nil {
			req.Callback(r)
		}
	}
}
