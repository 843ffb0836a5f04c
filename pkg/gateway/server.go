package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rakha/ingat/internal/metrics"
	"github.com/rakha/ingat/pkg/cache"
	"github.com/rs/zerolog"
)

// Server is the management gateway: the turn-handling endpoints used by the
// translation layer plus inspection, cleanup, metrics, and the event stream.
type Server struct {
	host         string
	port         int
	sharedSecret string
	manager      *cache.Manager
	retention    int
	logger       zerolog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	limiterMu sync.Mutex
	limiters  map[string]*RateLimiter

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	Manager      *cache.Manager

	// RetentionDays is the default for cleanup requests that do not carry
	// their own.
	RetentionDays int

	Logger zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("cache manager is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	s := &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		manager:      cfg.Manager,
		retention:    cfg.RetentionDays,
		logger:       cfg.Logger,
		limiters:     make(map[string]*RateLimiter),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Bearer auth has already run; origin adds nothing here.
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	authed := http.NewServeMux()
	authed.HandleFunc("POST /v1/turn", s.handleTurn)
	authed.HandleFunc("POST /v1/reply", s.handleReply)
	authed.HandleFunc("GET /v1/sessions", s.handleListSessions)
	authed.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	authed.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	authed.HandleFunc("GET /v1/sessions/{id}/export", s.handleExportSession)
	authed.HandleFunc("POST /v1/sessions/{id}/archive", s.handleForceArchive)
	authed.HandleFunc("GET /v1/archives/{id}", s.handleGetArchive)
	authed.HandleFunc("GET /v1/stats", s.handleStats)
	authed.HandleFunc("POST /v1/cleanup", s.handleCleanup)
	authed.HandleFunc("GET /v1/events", s.handleEvents)
	authed.Handle("GET /metrics", metrics.Handler())

	mux.Handle("/", s.authMiddleware(s.trackRequest(authed)))

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().
		Str("host", s.host).
		Int("port", s.port).
		Msg("Gateway listening")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timed out waiting for in-flight requests")
	}

	return s.server.Shutdown(ctx)
}

// trackRequest counts in-flight requests and rejects new ones during
// shutdown.
func (s *Server) trackRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		shuttingDown := s.isShuttingDown
		s.shutdownMu.RUnlock()
		if shuttingDown {
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()
		next.ServeHTTP(w, r)
	})
}

// limiter returns the rate limiter for a remote address.
func (s *Server) limiter(remote string) *RateLimiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	l, ok := s.limiters[remote]
	if !ok {
		l = NewRateLimiter(240, 16)
		s.limiters[remote] = l
	}
	return l
}
