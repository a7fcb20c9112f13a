package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	jeeveserrors "github.com/jeevesbot/jeeves/internal/errors"
	"github.com/jeevesbot/jeeves/internal/events"
	"github.com/jeevesbot/jeeves/internal/issue"
	"github.com/jeevesbot/jeeves/internal/metrics"
	"github.com/jeevesbot/jeeves/internal/orchestrator"
	"github.com/jeevesbot/jeeves/internal/workflow"
)

// Server is the observation and control plane.
type Server struct {
	orch      *orchestrator.Orchestrator
	store     *issue.Store
	catalog   *workflow.Catalog
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// allowRemote permits mutating requests from non-loopback clients.
	allowRemote bool

	// Poll cadences for the event stream, tunable in tests.
	logPoll       time.Duration
	statePoll     time.Duration
	heartbeatEach time.Duration

	mux *http.ServeMux
}

// Config wires a Server.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Store        *issue.Store
	Catalog      *workflow.Catalog
	Publisher    events.Publisher
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	AllowRemote  bool
}

// NewServer creates the observation server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NewMemoryPublisher()
	}
	s := &Server{
		orch:          cfg.Orchestrator,
		store:         cfg.Store,
		catalog:       cfg.Catalog,
		publisher:     publisher,
		metrics:       cfg.Metrics,
		logger:        logger,
		allowRemote:   cfg.AllowRemote,
		logPoll:       100 * time.Millisecond,
		statePoll:     500 * time.Millisecond,
		heartbeatEach: 15 * time.Second,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/logs", s.handleLogs)
	s.mux.HandleFunc("GET /api/sdk-output", s.handleSDKOutput)
	s.mux.HandleFunc("GET /api/sdk-output/messages", s.handleSDKMessages)
	s.mux.HandleFunc("GET /api/sdk-output/tool-calls", s.handleSDKToolCalls)

	s.mux.HandleFunc("GET /api/run", s.handleRunStatus)
	s.mux.HandleFunc("GET /api/run/logs", s.handleRunLogs)
	s.mux.HandleFunc("POST /api/run", s.localOnly(s.handleRunStart))
	s.mux.HandleFunc("POST /api/run/stop", s.localOnly(s.handleRunStop))

	s.mux.HandleFunc("GET /api/issues", s.handleIssueList)
	s.mux.HandleFunc("POST /api/issues/select", s.localOnly(s.handleIssueSelect))
	s.mux.HandleFunc("POST /api/issue/status", s.localOnly(s.handleIssueStatus))

	s.mux.HandleFunc("GET /api/workflows", s.handleWorkflowList)
	s.mux.HandleFunc("GET /api/workflow/{name}/full", s.handleWorkflowFull)
	s.mux.HandleFunc("POST /api/workflow/{name}", s.localOnly(s.handleWorkflowSave))
	s.mux.HandleFunc("POST /api/workflow/{name}/validate", s.handleWorkflowValidate)
	s.mux.HandleFunc("POST /api/workflow/{name}/duplicate", s.localOnly(s.handleWorkflowDuplicate))
	s.mux.HandleFunc("DELETE /api/workflow/{name}", s.localOnly(s.handleWorkflowDelete))

	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns the root handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("observation server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// localOnly rejects mutating requests from remote clients unless explicitly
// allowed by configuration.
func (s *Server) localOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allowRemote && !isLoopback(r.RemoteAddr) {
			HandleError(w, &jeeveserrors.JeevesError{
				Code: jeeveserrors.CodeRemoteOrigin,
				What: "mutating requests are restricted to loopback clients",
				Fix:  "set allow_remote_origin: true to permit remote control",
			})
			return
		}
		next(w, r)
	}
}

// isLoopback reports whether the remote address is a loopback client.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
