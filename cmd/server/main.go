// Command server is the reference transport binding: it accepts one
// coder/websocket connection per client and binds each to its own
// pkg/session.Session, sharing a single pkg/transcription.Worker across all
// connections. Grounded on
// team-hashing-lokutor-orchestrator/cmd/agent/main.go's env/.env loading and
// signal handling, and on GriffinCanCode-good-listener's
// internal/server/server.go websocket-accept-loop shape.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxcore/voxcore/pkg/session"
	"github.com/voxcore/voxcore/pkg/telemetry"
	"github.com/voxcore/voxcore/pkg/transcription"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configPath := flag.String("config", os.Getenv("VOXCORE_CONFIG_PATH"), "path to YAML config (optional)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using process environment")
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	if err := run(*addr, *configPath, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(addr, configPath string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := session.Load(configPath)
	if err != nil {
		return err
	}
	watcher, err := session.NewWatcher(ctx, configPath, cfg, logger)
	if err != nil {
		return err
	}

	meterProvider, shutdownTelemetry, err := telemetry.InitProvider()
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	metrics, err := telemetry.NewMetrics(meterProvider)
	if err != nil {
		return err
	}

	model, err := transcription.NewModel(cfg.Transcription.ModelPath)
	if err != nil {
		return err
	}
	defer model.Close()

	worker := transcription.NewWorker(model, cfg.Transcription.QueueCapacity, logger, metrics)
	worker.Start()
	defer worker.Stop()

	srv := &wsServer{watcher: watcher, worker: worker, logger: logger, metrics: metrics}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", srv.handleWebSocket)

	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// wsServer accepts websocket connections and binds each to a fresh Session.
type wsServer struct {
	watcher *session.Watcher
	worker  *transcription.Worker
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

func (s *wsServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx := r.Context()
	transport := &wsTransport{conn: conn}

	sess, err := session.New(ctx, s.watcher.Current(), s.worker, transport, s.logger, s.metrics, s.watcher)
	if err != nil {
		s.logger.Error("session construction failed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "session init failed")
		return
	}
	defer sess.Shutdown(context.Background())

	s.logger.Info("session connected", "session_id", sess.ID().String(), "remote", r.RemoteAddr)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			s.logger.Debug("session disconnected", "session_id", sess.ID().String(), "error", err)
			return
		}
		switch msgType {
		case websocket.MessageBinary:
			sess.IngestBinary(data)
		case websocket.MessageText:
			sess.IngestJSON(data)
		}
	}
}

// wsTransport adapts a coder/websocket connection to session.Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}
