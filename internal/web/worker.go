package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtzanidakis/realtymesh/internal/agent"
	"github.com/mtzanidakis/realtymesh/internal/swarm"
)

// WorkerServer exposes one Adapter over HTTP.
type WorkerServer struct {
	adapter     *agent.Adapter
	port        int
	idleTimeout time.Duration
	gatherer    prometheus.Gatherer
	logger      *slog.Logger
}

type WorkerOption func(*WorkerServer)

// WithSessionIdleTimeout sets how long an unused session is kept.
func WithSessionIdleTimeout(d time.Duration) WorkerOption {
	return func(ws *WorkerServer) { ws.idleTimeout = d }
}

func WithWorkerGatherer(g prometheus.Gatherer) WorkerOption {
	return func(ws *WorkerServer) { ws.gatherer = g }
}

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(ws *WorkerServer) { ws.logger = l }
}

func NewWorkerServer(a *agent.Adapter, port int, opts ...WorkerOption) *WorkerServer {
	ws := &WorkerServer{
		adapter:     a,
		port:        port,
		idleTimeout: 30 * time.Minute,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(ws)
	}
	return ws
}

func (ws *WorkerServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", ws.handleRun)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]string{"message": "Hello from the agent server"})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]any{
			"status":   "ok",
			"role":     ws.adapter.Role().Name,
			"sessions": ws.adapter.Sessions().Len(),
		})
	})
	if ws.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(ws.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// handleRun executes one request. The coordinator's correlation id scopes
// the session, so all turns of one aggregation share history.
func (ws *WorkerServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var req swarm.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get(swarm.CorrelationHeader)
	res := ws.adapter.Execute(r.Context(), req, sessionID)
	jsonResponse(w, res)
}

func (ws *WorkerServer) Start(ctx context.Context) error {
	go ws.reapSessions(ctx)

	addr := fmt.Sprintf(":%d", ws.port)
	server := &http.Server{Addr: addr, Handler: ws.Handler()}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	ws.logger.Info("worker listening", "addr", addr, "role", ws.adapter.Role().Name)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (ws *WorkerServer) reapSessions(ctx context.Context) {
	if ws.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(ws.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := ws.adapter.Sessions().Reap(ws.idleTimeout); n > 0 {
				ws.logger.Debug("reaped idle sessions", "count", n)
			}
		}
	}
}
