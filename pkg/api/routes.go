package api

import (
	"net/http"
)

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.HandleHealth)

	// Reads
	mux.HandleFunc("GET /posts", s.HandleListPosts)
	mux.HandleFunc("GET /posts/{id}", s.HandleGetPost)
	mux.HandleFunc("GET /users/{id}", s.HandleGetUser)

	// Mutations publish to the event bus after a successful write
	mux.HandleFunc("POST /posts", s.requireAuth(s.HandleCreatePost))
	mux.HandleFunc("DELETE /posts/{id}", s.requireAuth(s.HandleDeletePost))
	mux.HandleFunc("POST /posts/{id}/like", s.requireAuth(s.HandleToggleLike))
	mux.HandleFunc("POST /posts/{id}/comments", s.requireAuth(s.HandleAddComment))
	mux.HandleFunc("PATCH /posts/{id}/comments/{commentId}", s.requireAuth(s.HandleEditComment))
	mux.HandleFunc("DELETE /posts/{id}/comments/{commentId}", s.requireAuth(s.HandleDeleteComment))

	// Engagement counters
	mux.HandleFunc("POST /analytics/post-impressions", s.requireAuth(s.HandlePostImpressions))
	mux.HandleFunc("POST /analytics/profile-view", s.requireAuth(s.HandleProfileView))
}
