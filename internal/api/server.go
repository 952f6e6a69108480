package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MJE43/keyscan/internal/checkpoint"
	"github.com/MJE43/keyscan/internal/runner"
	"github.com/MJE43/keyscan/internal/store"
)

// Engine is the scan control surface the server drives. *runner.Runner
// implements it.
type Engine interface {
	Start(ctx context.Context, req runner.StartRequest) (string, error)
	Pause() error
	Resume() error
	Stop() error
	Status() runner.Status
	ClearLog() error
	Checkpoint(ctx context.Context) (*checkpoint.Record, error)
	ResetCheckpoint(ctx context.Context) error
}

var _ Engine = (*runner.Runner)(nil)

// Server handles HTTP requests
type Server struct {
	engine       Engine
	history      store.DB
	errorHandler *ErrorHandler
	logger       *zap.Logger
	startTime    time.Time

	allowedOrigins []string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAllowedOrigins lists the browser origins allowed to call the API
// cross-site. "*" allows any origin.
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(s *Server) { s.allowedOrigins = append(s.allowedOrigins, origins...) }
}

// NewServer creates a server for engine. history may be nil, in which case
// the /runs endpoints answer 503.
func NewServer(engine Engine, history store.DB, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	s := &Server{
		engine:       engine,
		history:      history,
		errorHandler: NewErrorHandler(logger),
		logger:       logger,
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes sets up the HTTP routes with middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.cors)

	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/version", s.handleVersion)

	r.Post("/start", s.handleStart)
	r.Post("/pause", s.handlePause)
	r.Post("/resume", s.handleResume)
	r.Post("/stop", s.handleStop)
	r.Get("/progress", s.handleProgress)
	r.Get("/clear_log", s.handleClearLog)
	r.Post("/clear_log", s.handleClearLog)

	r.Get("/checkpoint", s.handleGetCheckpoint)
	r.Delete("/checkpoint", s.handleResetCheckpoint)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Get("/{id}/matches", s.handleGetMatches)
	})

	return r
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", GetVersionInfo().EngineVersion)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

// writeError writes a structured error response for the request.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, errType, message string, cause error) {
	eb := NewError(errType, message).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithCause(cause)
	s.errorHandler.HandleError(w, r, status, eb.Build())
}
