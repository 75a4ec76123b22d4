package api

import (
	"context"
	"net/http"

	"github.com/rubiojr/pulse/pkg/auth"
	"github.com/rubiojr/pulse/pkg/bus"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/counters"
	"github.com/rubiojr/pulse/pkg/log"
	"github.com/rubiojr/pulse/pkg/metrics"
	"github.com/rubiojr/pulse/pkg/shared"
	"github.com/rubiojr/pulse/pkg/storage"
)

const DefaultMaxBatch = 100

// Config wires a Server. Metrics may be nil.
type Config struct {
	Store    *storage.Store
	Counters counters.Store
	Bus      *bus.Bus
	Verifier auth.Verifier
	Metrics  *metrics.Metrics
	MaxBatch int
}

type Server struct {
	store    *storage.Store
	counters counters.Store
	bus      *bus.Bus
	verifier auth.Verifier
	metrics  *metrics.Metrics
	maxBatch int
	logger   *log.Logger
}

func NewServer(cfg Config) *Server {
	s := &Server{
		store:    cfg.Store,
		counters: cfg.Counters,
		bus:      cfg.Bus,
		verifier: cfg.Verifier,
		metrics:  cfg.Metrics,
		maxBatch: cfg.MaxBatch,
		logger:   log.ForService("api"),
	}
	if s.maxBatch <= 0 {
		s.maxBatch = DefaultMaxBatch
	}
	return s
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	shared.WriteJSON(w, status, data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	shared.WriteError(w, status, code, message)
}

// requireAuth verifies the caller, provisions its user row on first sight and
// stores the identity in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := auth.Authenticate(r.Context(), s.verifier, r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		if err := s.store.EnsureUser(r.Context(), id.UserID, id.Name); err != nil {
			s.logger.Errorf("Provisioning user %s: %v", id.UserID, err)
			s.writeError(w, http.StatusInternalServerError, "internal_error", "failed to provision user")
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	}
}

func viewer(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// snapshot overlays the live counter values on post before it is returned or
// published.
func (s *Server) snapshot(ctx context.Context, post core.Post) core.Post {
	posts := []core.Post{post}
	if err := counters.OverlayImpressions(ctx, s.counters, posts); err != nil {
		s.logger.Warnf("Reading impressions for post %s: %v", post.ID, err)
	}
	return posts[0]
}

// publish emits the event for a successful write. It never blocks.
func (s *Server) publish(t core.EventType, post core.Post) {
	seq := s.bus.Publish(core.NewPostEvent(t, post))
	s.logger.Debugf("Published %s for post %s (seq %d)", t, post.ID, seq)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
