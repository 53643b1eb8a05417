package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/xuecangming/transfer-queue/internal/api/handlers"
	"github.com/xuecangming/transfer-queue/internal/api/middleware"
	"github.com/xuecangming/transfer-queue/internal/common/types"
	"github.com/xuecangming/transfer-queue/internal/service/transfer"
)

// Server represents the HTTP server
type Server struct {
	config           *types.Config
	router           *mux.Router
	operationHandler *handlers.OperationHandler
	queueHandler     *handlers.QueueHandler
	eventHandler     *handlers.EventHandler
	healthHandler    *handlers.HealthHandler
	metricsHandler   http.Handler
}

// NewServer creates a new HTTP server. db and metricsHandler may be nil.
func NewServer(config *types.Config, service *transfer.Service, db *sql.DB, metricsHandler http.Handler) *Server {
	server := &Server{
		config:           config,
		router:           mux.NewRouter(),
		operationHandler: handlers.NewOperationHandler(service),
		queueHandler:     handlers.NewQueueHandler(service),
		eventHandler:     handlers.NewEventHandler(service.Notifier()),
		healthHandler:    handlers.NewHealthHandler(service, db),
		metricsHandler:   metricsHandler,
	}

	server.setupRoutes()

	return server
}

// Router returns the HTTP router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes sets up the HTTP routes
func (s *Server) setupRoutes() {
	// Apply global middleware
	s.router.Use(middleware.CORSMiddleware)
	s.router.Use(middleware.LoggingMiddleware)
	s.router.Use(middleware.RecoveryMiddleware)

	if s.metricsHandler != nil && s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metricsHandler).Methods("GET")
	}

	// API v1 routes
	api := s.router.PathPrefix(s.config.Server.APIPrefix).Subrouter()
	if s.config.Server.RateLimit > 0 {
		api.Use(middleware.RateLimitMiddlewareWithConfig(middleware.RateLimitConfig{
			Requests:   s.config.Server.RateLimit,
			Per:        time.Second,
			TrustProxy: s.config.Server.TrustProxy,
		}))
	}

	// Health check and readiness endpoints
	api.HandleFunc("/health", s.healthHandler.Health).Methods("GET", "OPTIONS")
	api.HandleFunc("/info", s.healthHandler.Info).Methods("GET", "OPTIONS")
	api.HandleFunc("/ready", s.healthHandler.Ready).Methods("GET", "OPTIONS")
	api.HandleFunc("/live", s.healthHandler.Live).Methods("GET", "OPTIONS")

	// Operation routes (_clear-completed must be before {id} routes)
	api.HandleFunc("/operations", s.operationHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/operations", s.operationHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/operations/_clear-completed", s.operationHandler.ClearCompleted).Methods("POST", "OPTIONS")
	api.HandleFunc("/operations/{id}", s.operationHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/operations/{id}", s.operationHandler.Delete).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/operations/{id}/priority", s.operationHandler.SetPriority).Methods("PUT", "OPTIONS")
	api.HandleFunc("/operations/{id}/{action}", s.operationHandler.Action).Methods("POST", "OPTIONS")

	// Queue routes
	api.HandleFunc("/queue/settings", s.queueHandler.GetSettings).Methods("GET", "OPTIONS")
	api.HandleFunc("/queue/settings", s.queueHandler.UpdateSettings).Methods("PUT", "OPTIONS")
	api.HandleFunc("/queue/statistics", s.queueHandler.Statistics).Methods("GET", "OPTIONS")
	api.HandleFunc("/queue/{action}", s.queueHandler.Action).Methods("POST", "OPTIONS")

	// Event stream
	api.HandleFunc("/events", s.eventHandler.Stream).Methods("GET")

	// Root endpoint - API info
	s.router.HandleFunc("/", s.healthHandler.Info).Methods("GET", "OPTIONS")
}
