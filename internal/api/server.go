package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.io/infrasutra/mockinvoice/internal/auth"
	"github.io/infrasutra/mockinvoice/internal/config"
	"github.io/infrasutra/mockinvoice/internal/invoice"
	"github.io/infrasutra/mockinvoice/internal/mailer"
	"github.io/infrasutra/mockinvoice/internal/pagination"
	"github.io/infrasutra/mockinvoice/internal/service"
	"github.io/infrasutra/mockinvoice/internal/sse"
	"github.io/infrasutra/mockinvoice/internal/store"
)

type Server struct {
	cfg     config.Config
	svc     *service.Service
	tokens  *auth.Manager
	users   *auth.Users
	hub     *sse.Hub
	logger  *slog.Logger
	limiter *RateLimiter
	router  chi.Router
	now     func() time.Time
}

func NewServer(cfg config.Config, svc *service.Service, tokens *auth.Manager, users *auth.Users, hub *sse.Hub, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		tokens: tokens,
		users:  users,
		hub:    hub,
		logger: logger,
		now:    time.Now,
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/token", s.handleToken)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate(true))
			r.Get("/me", s.handleMe)
			r.Get("/verify", s.handleVerify)
			r.With(requireRole(store.RoleAdmin)).Post("/register", s.handleRegister)
			r.With(requireRole(store.RoleAdmin)).Get("/users", s.handleUsers)
		})
	})

	r.Route("/invoices", func(r chi.Router) {
		r.Use(s.authenticate(false))
		r.Get("/", s.handleGenerate)
		r.Get("/stored", s.handleStored)
		r.With(requireRole(store.RoleAdmin)).Delete("/stored", s.handleClear)
		r.Get("/stats", s.handleStats)
		r.Post("/seed", s.handleSeed)
		r.Post("/deliver", s.handleDeliver)
		r.Get("/stream", s.handleStream)
	})

	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"app_name":      s.cfg.App.Name,
		"version":       s.cfg.App.Version,
		"database_type": s.svc.StorageKind(),
		"timestamp":     s.timestamp(),
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// respondServiceError maps core errors onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, invoice.ErrInvalidCount), errors.Is(err, pagination.ErrInvalidParams), errors.Is(err, errBadRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pagination.ErrOutOfRange):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		s.logger.Error("storage unavailable", "error", err, "path", r.URL.Path)
		respondError(w, http.StatusServiceUnavailable, "Storage unavailable")
	case errors.Is(err, mailer.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, "Mail relay not configured")
	case errors.Is(err, store.ErrCorrupt):
		s.logger.Error("corrupt persisted state", "error", err, "path", r.URL.Path)
		respondError(w, http.StatusInternalServerError, "Stored data is corrupt")
	default:
		s.logger.Error("request failed", "error", err, "path", r.URL.Path)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
