package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/counters"
)

// rawBatchFactor bounds the undecoded postIds list relative to max_batch.
const rawBatchFactor = 4

// HandlePostImpressions increments the impression counter of every valid id
// in the batch. Malformed ids are dropped without failing the batch, and ids
// of unknown or deleted posts are left out of the response. The max_batch
// bound applies to the distinct valid ids.
func (s *Server) HandlePostImpressions(w http.ResponseWriter, r *http.Request) {
	var req PostImpressionsRequest
	if !s.decode(w, r, &req) {
		return
	}
	// Raw entries are bounded loosely so junk cannot crowd out valid ids.
	if len(req.PostIDs) > rawBatchFactor*s.maxBatch {
		s.writeError(w, http.StatusBadRequest, "batch_too_large",
			fmt.Sprintf("at most %d entries per batch", rawBatchFactor*s.maxBatch))
		return
	}

	ids, rejected := core.FilterValidIDs(req.PostIDs)
	if rejected > 0 {
		s.logger.Debugf("Dropped %d malformed ids from impression batch", rejected)
	}
	if len(ids) > s.maxBatch {
		s.writeError(w, http.StatusBadRequest, "batch_too_large",
			fmt.Sprintf("at most %d post ids per batch", s.maxBatch))
		return
	}
	if len(ids) == 0 {
		s.metrics.IngestBatch(0, rejected)
		s.writeJSON(w, http.StatusOK, PostImpressionsResponse{Impressions: []core.PostImpression{}})
		return
	}

	updated, err := s.counters.IncrementPostImpressions(r.Context(), ids)
	if err != nil {
		s.logger.Errorf("Incrementing impressions for %d posts: %v", len(ids), err)
		s.writeError(w, http.StatusInternalServerError, "internal_error", "failed to record impressions")
		return
	}

	s.metrics.IngestBatch(len(updated), rejected)
	s.writeJSON(w, http.StatusOK, PostImpressionsResponse{Impressions: updated})
}

// HandleProfileView counts one view of another user's profile. Self-views are
// answered with an explicit skipped outcome and never counted.
func (s *Server) HandleProfileView(w http.ResponseWriter, r *http.Request) {
	var req ProfileViewRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !core.ValidID(req.ProfileUserID) {
		s.writeError(w, http.StatusBadRequest, "invalid_profile", "profileUserId is not a valid id")
		return
	}

	if req.ProfileUserID == viewer(r).UserID {
		s.metrics.ProfileView("skipped")
		s.writeJSON(w, http.StatusOK, ProfileViewResponse{Skipped: true, Reason: "self-view"})
		return
	}

	total, err := s.counters.IncrementProfileViews(r.Context(), req.ProfileUserID)
	if errors.Is(err, counters.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "not_found", "profile not found")
		return
	}
	if err != nil {
		s.logger.Errorf("Incrementing profile views for %s: %v", req.ProfileUserID, err)
		s.writeError(w, http.StatusInternalServerError, "internal_error", "failed to record profile view")
		return
	}

	s.metrics.ProfileView("recorded")
	s.writeJSON(w, http.StatusOK, ProfileViewResponse{
		ProfileUserID:     req.ProfileUserID,
		ProfileViewsTotal: &total,
	})
}
