package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-sync/internal/models"
	"github.com/benmeehan/iot-sync/pkg/logstore"
)

// ConnectionReader exposes the broker session state.
type ConnectionReader interface {
	State() models.ConnectionState
}

// ScheduleReader exposes the projected schedules.
type ScheduleReader interface {
	List() []models.Schedule
	Get(id string) (models.Schedule, bool)
}

// DeviceReader exposes the projected devices.
type DeviceReader interface {
	List() []models.Device
	Get(id string) (models.Device, bool)
}

// DeviceWriter accepts provisioned devices from REST responses.
type DeviceWriter interface {
	Load(devices []models.Device) int
}

// ScheduleWriter accepts authoritative schedules from REST responses.
type ScheduleWriter interface {
	Put(s models.Schedule) models.Schedule
}

// BlockReader exposes block modes.
type BlockReader interface {
	Modes() map[string]string
}

// LogReader exposes recent device-update log entries, newest first.
type LogReader interface {
	Recent(n int) []logstore.Entry
}

// Sources groups what the API reads from and, when intake is enabled, writes
// to. Logs, Metrics and both intakes are optional.
type Sources struct {
	Connection     ConnectionReader
	Schedules      ScheduleReader
	Devices        DeviceReader
	Blocks         BlockReader
	Logs           LogReader
	Metrics        http.Handler
	DeviceIntake   DeviceWriter
	ScheduleIntake ScheduleWriter
}

// RESTServer serves the synchronized state and takes in REST responses for
// devices and schedules.
type RESTServer struct {
	addr    string
	sources Sources
	router  chi.Router
	server  *http.Server
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewRESTServer creates a new REST API server
func NewRESTServer(addr string, sources Sources, logger zerolog.Logger) *RESTServer {
	s := &RESTServer{
		addr:    addr,
		sources: sources,
		router:  chi.NewRouter(),
		logger:  logger,
		now:     time.Now,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler.
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// setupRoutes configures middleware and mounts the routes.
func (s *RESTServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", s.HandleHealth)
	if s.sources.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.sources.Metrics)
	}
	s.router.Route("/api/v1", s.setupAPIRoutes)
}

// Start binds the listen address and serves in the background.
func (s *RESTServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("api server is already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server stopped unexpectedly")
		}
	}(s.done)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *RESTServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *RESTServer) Stop() error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return nil
	}
	done := s.done
	s.listener = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	<-done
	return err
}

func (s *RESTServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
