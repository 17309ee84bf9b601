// Package server provides the HTTP server that wires all services together.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/asesorlab/advisor/internal/bus"
	"github.com/asesorlab/advisor/internal/cache"
	"github.com/asesorlab/advisor/internal/config"
	"github.com/asesorlab/advisor/internal/conversation"
	"github.com/asesorlab/advisor/internal/guard"
	"github.com/asesorlab/advisor/internal/llm"
	"github.com/asesorlab/advisor/internal/pipeline"
	"github.com/asesorlab/advisor/internal/pkg/logger"
	"github.com/asesorlab/advisor/internal/pkg/middleware"
	"github.com/asesorlab/advisor/internal/pkg/security"
	"github.com/asesorlab/advisor/internal/qdrant"
	"github.com/asesorlab/advisor/internal/retrieval"
	"github.com/asesorlab/advisor/internal/router"
	"github.com/asesorlab/advisor/internal/trace"
)

// Server is the main HTTP server that wires all services together.
type Server struct {
	cfg        Config
	appCfg     config.Config
	log        *logger.Logger
	httpServer *http.Server

	// Services
	bus      bus.Bus
	llm      *llm.Client
	qdrant   *qdrant.Client
	pipeline *pipeline.Service
	conv     conversation.Store
	recorder *trace.Recorder
	series   *trace.TimeSeries
	history  *trace.RedisStorage

	// Handlers
	askHandler    *AskHandler
	healthHandler *HealthHandler
	traceHandler  *trace.Handler

	mu      sync.RWMutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// New creates a new server with all dependencies.
func New(cfg Config, appCfg config.Config, log *logger.Logger) (*Server, error) {
	if cfg.Port == 0 {
		cfg = DefaultConfig()
	}

	s := &Server{
		cfg:    cfg,
		appCfg: appCfg,
		log:    log,
	}

	// Event bus with the audit trail attached
	eventBus, err := bus.NewBus(appCfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	if err := bus.SubscribeAudit(context.Background(), eventBus, log); err != nil {
		return nil, fmt.Errorf("failed to subscribe audit log: %w", err)
	}
	s.bus = eventBus

	// Qdrant client
	qdrantCfg := qdrant.DefaultClientConfig()
	if appCfg.Qdrant.URL != "" {
		host, port, err := qdrant.ParseURL(appCfg.Qdrant.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid Qdrant URL: %w", err)
		}
		qdrantCfg.Host = host
		qdrantCfg.Port = port
	}
	qdrantCfg.APIKey = appCfg.Qdrant.APIKey

	qc, err := qdrant.NewClient(qdrantCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	s.qdrant = qc

	// Gemini client
	llmClient, err := llm.NewClient(context.Background(), appCfg.Gemini, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	s.llm = llmClient

	// Trace recorder and time series
	s.recorder = trace.NewRecorder(appCfg.Trace.Capacity)
	if appCfg.Trace.RedisURL != "" {
		storage, err := trace.NewRedisStorage(appCfg.Trace.RedisURL)
		if err != nil {
			log.Warn("Trace history Redis unavailable, using in-memory history", "error", err)
		} else {
			s.history = storage
		}
	}
	s.series = trace.NewTimeSeriesWithRedis(s.history)

	// Conversation store
	s.conv = newConversationStore(appCfg.Conversation, log)

	// Pipeline stages
	retrievalCache := cache.New[retrieval.Result](
		time.Duration(appCfg.Cache.RetrievalTTLMs)*time.Millisecond,
		appCfg.Cache.RetrievalMaxEntries,
	)
	retriever := retrieval.New(llmClient, qc, retrievalCache, retrieval.Config{
		Collection:     appCfg.Qdrant.Collection,
		MatchCount:     appCfg.Retrieval.MatchCount,
		MatchThreshold: appCfg.Retrieval.MatchThreshold,
	}, log)

	queryRouter := router.New(llmClient.GeneratorWithTimeout(appCfg.Gemini.RouterTimeout()), appCfg.Gemini.RouterModel, log)
	invoker := llm.NewInvoker(llmClient, appCfg.Gemini.PrimaryModel, appCfg.Gemini.FallbackModel, log)
	verifier := guard.New(llmClient.GeneratorWithTimeout(appCfg.Gemini.GuardTimeout()), appCfg.Gemini.GuardModel, appCfg.Guard.FailClosed, log)

	s.pipeline = pipeline.New(pipeline.Deps{
		Router:       queryRouter,
		Retriever:    retriever,
		Invoker:      invoker,
		Guard:        verifier,
		GuardEnabled: appCfg.Guard.Enabled,
		ResponseCache: pipeline.NewResponseCache(
			time.Duration(appCfg.Cache.ResponseTTLMs)*time.Millisecond,
			appCfg.Cache.ResponseMaxEntries,
		),
		Conversations: s.conv,
		Recorder:      s.recorder,
		Series:        s.series,
		Bus:           s.bus,
		Log:           log,
	})

	// Handlers
	s.askHandler = NewAskHandler(s.pipeline, s.conv, log)
	s.healthHandler = NewHealthHandler(NewHealthChecker(qc, appCfg), cfg.Version)
	s.traceHandler = trace.NewHandler(s.recorder, s.series)

	return s, nil
}

// newConversationStore connects to Redis, falling back to the
// in-memory store when Redis is not reachable.
func newConversationStore(cfg config.ConversationConfig, log *logger.Logger) conversation.Store {
	if cfg.RedisURL == "" {
		return conversation.NewMemoryStore()
	}

	store, err := conversation.NewRedisStore(cfg.RedisURL, time.Duration(cfg.TTLHours)*time.Hour)
	if err != nil {
		log.Warn("Conversation Redis unavailable, using in-memory store", "error", err)
		return conversation.NewMemoryStore()
	}
	return store
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	// Prepare the knowledge collection before accepting traffic.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.qdrant.EnsureCollection(ctx, qdrant.CollectionConfig{
		Name:       s.appCfg.Qdrant.Collection,
		VectorSize: uint64(s.appCfg.Qdrant.VectorSize),
	}); err != nil {
		s.log.Warn("Could not ensure knowledge collection, retrieval may degrade", "error", err)
	}

	handler := s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info("Starting HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
	}

	if s.qdrant != nil {
		s.qdrant.Close()
	}
	if s.conv != nil {
		s.conv.Close()
	}
	if s.history != nil {
		s.history.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}

	s.started = false
	s.log.Info("Server stopped")

	return nil
}

// setupRoutes configures all HTTP routes and middleware.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Answer endpoints
	s.askHandler.RegisterRoutes(mux)

	// Health endpoints
	s.healthHandler.RegisterRoutes(mux)

	// Observability endpoints behind the admin key
	traceMux := http.NewServeMux()
	s.traceHandler.Register(traceMux)
	mux.Handle("/v1/rag/", middleware.APIKeyAuth(s.appCfg.Security.AdminAPIKey, traceMux))

	var handler http.Handler = mux

	if s.appCfg.Security.RateLimit > 0 {
		rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: float64(s.appCfg.Security.RateLimit),
			Burst:             s.appCfg.Security.RateLimit * 2,
			CleanupInterval:   time.Minute,
		})
		handler = rl.Middleware(handler)
	}

	handler = middleware.CORS(s.appCfg.Security.CORSOrigins, handler)

	return wrapWithLogging(handler, s.log)
}

// wrapWithLogging logs each request with method, path, status and duration.
func wrapWithLogging(handler http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		handler.ServeHTTP(wrapped, r)

		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
			"headers", security.MaskSensitiveHeaders(r.Header),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Health returns the server health status.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
