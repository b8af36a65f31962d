// Package web is the JSON API in front of the booking services.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/booking"
	"github.com/example/teetime-scheduler/internal/catalog"
	"github.com/example/teetime-scheduler/internal/vault"
	"github.com/go-chi/chi/v5"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Auth     *auth.Service
	Courses  *catalog.Catalog
	Vault    *vault.Vault
	Bookings *booking.Service

	// Store answers /healthz.
	Store Pinger
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// LoginLimiter throttles POST /api/auth/login per client address.
	LoginLimiter *RateLimiter

	Log *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(s.logger()))
	r.Use(requestID)
	r.Use(requestLogger(s.logger()))

	r.Get("/healthz", s.handleHealth)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeAPIError(w, http.StatusNotFound, errNotFound)
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			writeAPIError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		})

		// Reachable while a password change is pending.
		r.Route("/auth", func(r chi.Router) {
			login := http.Handler(http.HandlerFunc(s.handleLogin))
			if s.LoginLimiter != nil {
				login = s.LoginLimiter.Middleware(clientAddr)(login)
			}
			r.Method(http.MethodPost, "/login", login)
			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
			r.Post("/password", s.handleChangePassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/courses", s.handleListCourses)

			r.Get("/credentials", s.handleListCredentials)
			r.Put("/credentials/{courseID}", s.handleUpsertCredential)

			r.Route("/requests", func(r chi.Router) {
				r.Get("/", s.handleListRequests)
				r.Post("/", s.handleCreateRequest)
				r.Get("/{id}", s.handleGetRequest)
				r.Post("/{id}/cancel", s.handleCancelRequest)
			})

			r.Get("/dashboard", s.handleDashboard)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Store.Ping(ctx); err != nil {
			s.logger().Error("health check failed", slog.Any("error", err))
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Start serves h on addr until ctx is cancelled, then drains in-flight
// requests for up to five seconds.
func Start(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
