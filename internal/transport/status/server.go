// Package status exposes a local diagnostics endpoint: liveness, cache
// health, session state and Prometheus metrics. It binds to localhost only;
// nothing here is meant to face the venue network.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"companion/internal/bootstrap/logging"
	"companion/internal/errs"
	cachesvc "companion/internal/usecase/cache"
	"companion/internal/usecase/session"
)

// CacheHealth is the slice of the cache service the status page needs.
type CacheHealth interface {
	Health() cachesvc.HealthStatus
}

// SessionState reports the in-memory auth snapshot.
type SessionState interface {
	Current() session.AuthState
}

// SyncState reports whether a sync pass is running.
type SyncState interface {
	Syncing() bool
}

type statusResponse struct {
	Cache   cachesvc.HealthStatus `json:"cache"`
	Session sessionStatus         `json:"session"`
	Syncing bool                  `json:"syncing"`
}

type sessionStatus struct {
	Authenticated bool   `json:"authenticated"`
	AttendeeID    string `json:"attendeeId,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	Role          string `json:"role,omitempty"`
}

// Server serves the diagnostics routes.
type Server struct {
	addr    string
	cache   CacheHealth
	session SessionState
	sync    SyncState

	srv *http.Server
}

func NewServer(addr string, cache CacheHealth, sessionState SessionState, syncState SyncState) *Server {
	s := &Server{
		addr:    addr,
		cache:   cache,
		session: sessionState,
		sync:    syncState,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", s.handleHealthz)
	router.Get("/status", s.handleStatus)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "status.server"))

	errCh := make(chan error, 1)
	go func() {
		logging.Info(logCtx, "status server started", slog.String("addr", s.addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return errs.Wrap(err, "shut down status server")
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(logCtx, "status server failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "serve status")
		}
		return nil
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{}
	if s.cache != nil {
		resp.Cache = s.cache.Health()
	}
	if s.session != nil {
		current := s.session.Current()
		resp.Session = sessionStatus{
			Authenticated: current.Authenticated,
			AttendeeID:    current.AttendeeID,
			DisplayName:   current.DisplayName,
			Role:          current.Role,
		}
	}
	if s.sync != nil {
		resp.Syncing = s.sync.Syncing()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
