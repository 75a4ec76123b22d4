package api

import (
	"net/http"
	"time"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/version"
)

func (s *Server) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !core.ValidID(id) {
		s.writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "loading user", err)
		return
	}

	if n, err := s.counters.ProfileViews(r.Context(), id); err != nil {
		s.logger.Warnf("Reading profile views for %s: %v", id, err)
	} else {
		user.ProfileViewsTotal = n
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   version.APIVersion(),
	}
	status := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warnf("Health check: %v", err)
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, response)
}
