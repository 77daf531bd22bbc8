// Package admin is the HTTP control surface of the bot: provider
// switching, model testing and operational stats. It binds on localhost
// and is meant to sit behind the salon's reverse proxy.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/annaparis/salonbot/internal/ai"
	"github.com/annaparis/salonbot/internal/config"
	"github.com/annaparis/salonbot/internal/store"
)

type Server struct {
	registry *ai.Registry
	db       *store.DB
	salon    *config.Salon
	keys     []string
	log      *zap.Logger
	srv      *http.Server
}

func NewServer(port int, keys []string, registry *ai.Registry, db *store.DB, salon *config.Salon, log *zap.Logger) *Server {
	s := &Server{
		registry: registry,
		db:       db,
		salon:    salon,
		keys:     keys,
		log:      log.Named("admin"),
	}
	mux := http.NewServeMux()
	s.setRoutes(mux)
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	return s
}

type handlerFunc func(w http.ResponseWriter, r *http.Request)

func (s *Server) withKey(final handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requestHasValidKey(r) {
			s.sendError(w, http.StatusUnauthorized, "permission denied")
			return
		}
		final(w, r)
	})
}

// requestHasValidKey accepts the key as a header or query parameter. With
// no keys configured the API is open, matching a localhost-only bind.
func (s *Server) requestHasValidKey(r *http.Request) bool {
	if len(s.keys) == 0 {
		return true
	}
	got := r.Header.Get("X-Api-Key")
	if got == "" {
		got = r.URL.Query().Get("key")
	}
	for _, k := range s.keys {
		if got == k {
			return true
		}
	}
	return false
}

func (s *Server) setRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.healthzHandler)
	mux.Handle("GET /stats", s.withKey(s.statsHandler))

	mux.Handle("GET /admin/ai/current-model", s.withKey(s.currentModelHandler))
	mux.Handle("POST /admin/ai/switch-model", s.withKey(s.switchModelHandler))
	mux.Handle("GET /admin/ai/model-history", s.withKey(s.modelHistoryHandler))
	mux.Handle("POST /admin/ai/reset-history", s.withKey(s.resetHistoryHandler))
	mux.Handle("GET /admin/ai/quick-switch/{provider}", s.withKey(s.quickSwitchHandler))

	mux.Handle("POST /api/ai/test", s.withKey(s.testHandler))
	mux.Handle("POST /api/ai/compare", s.withKey(s.compareHandler))
	mux.Handle("GET /api/ai/status", s.withKey(s.statusHandler))
	mux.Handle("POST /api/ai/quick-test", s.withKey(s.quickTestHandler))
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.db.BookingStats(r.Context(), s.salon.ProjectID)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"bookings": map[string]any{
			"total_bookings":     bookings.Total,
			"active_bookings":    bookings.Active,
			"cancelled_bookings": bookings.Cancelled,
			"specialists":        s.salon.Specialists,
			"services":           s.salon.Services,
		},
		"ai": s.registry.Stats(),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("response encode failed", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, detail string) {
	s.sendJSON(w, code, map[string]any{"success": false, "detail": detail})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
