package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/counters"
	"github.com/rubiojr/pulse/pkg/storage"
)

const (
	maxContentLength = 5000
	maxCommentLength = 2000
)

func (s *Server) HandleListPosts(w http.ResponseWriter, r *http.Request) {
	limit := storage.DefaultFeedLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	posts, err := s.store.ListPosts(r.Context(), limit)
	if err != nil {
		s.logger.Errorf("Listing posts: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal_error", "failed to list posts")
		return
	}
	if err := counters.OverlayImpressions(r.Context(), s.counters, posts); err != nil {
		s.logger.Warnf("Reading feed impressions: %v", err)
	}

	s.writeJSON(w, http.StatusOK, ListPostsResponse{Posts: posts, Count: len(posts)})
}

func (s *Server) HandleGetPost(w http.ResponseWriter, r *http.Request) {
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.snapshot(r.Context(), post))
}

func (s *Server) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req CreatePostRequest
	if !s.decode(w, r, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" || utf8.RuneCountInString(content) > maxContentLength {
		s.writeError(w, http.StatusBadRequest, "invalid_content", "content must be between 1 and 5000 characters")
		return
	}

	post, err := s.store.CreatePost(r.Context(), viewer(r).UserID, content)
	if err != nil {
		s.logger.Errorf("Creating post: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal_error", "failed to create post")
		return
	}

	s.publish(core.EventPostCreated, post)
	s.writeJSON(w, http.StatusCreated, post)
}

// HandleDeletePost soft-deletes a post. No event is published: consumers drop
// the post on their next authoritative read.
func (s *Server) HandleDeletePost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !core.ValidID(id) {
		s.writeError(w, http.StatusNotFound, "not_found", "post not found")
		return
	}
	if err := s.store.DeletePost(r.Context(), id, viewer(r).UserID); err != nil {
		s.writeStoreError(w, "deleting post", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleToggleLike(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !core.ValidID(id) {
		s.writeError(w, http.StatusNotFound, "not_found", "post not found")
		return
	}
	post, err := s.store.ToggleLike(r.Context(), id, viewer(r).UserID)
	if err != nil {
		s.writeStoreError(w, "toggling like", err)
		return
	}

	post = s.snapshot(r.Context(), post)
	s.publish(core.EventPostLiked, post)
	s.writeJSON(w, http.StatusOK, post)
}

func (s *Server) HandleAddComment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !core.ValidID(id) {
		s.writeError(w, http.StatusNotFound, "not_found", "post not found")
		return
	}
	text, ok := s.commentText(w, r)
	if !ok {
		return
	}

	post, comment, err := s.store.AddComment(r.Context(), id, viewer(r).UserID, text)
	if err != nil {
		s.writeStoreError(w, "adding comment", err)
		return
	}

	post = s.snapshot(r.Context(), post)
	s.publish(core.EventCommentAdded, post)
	s.writeJSON(w, http.StatusCreated, CommentResponse{Post: post, Comment: comment})
}

func (s *Server) HandleEditComment(w http.ResponseWriter, r *http.Request) {
	postID, commentID := r.PathValue("id"), r.PathValue("commentId")
	if !core.ValidID(postID) || !core.ValidID(commentID) {
		s.writeError(w, http.StatusNotFound, "not_found", "comment not found")
		return
	}
	text, ok := s.commentText(w, r)
	if !ok {
		return
	}

	post, err := s.store.EditComment(r.Context(), postID, commentID, viewer(r).UserID, text)
	if err != nil {
		s.writeStoreError(w, "editing comment", err)
		return
	}

	post = s.snapshot(r.Context(), post)
	s.publish(core.EventCommentEdited, post)
	s.writeJSON(w, http.StatusOK, post)
}

func (s *Server) HandleDeleteComment(w http.ResponseWriter, r *http.Request) {
	postID, commentID := r.PathValue("id"), r.PathValue("commentId")
	if !core.ValidID(postID) || !core.ValidID(commentID) {
		s.writeError(w, http.StatusNotFound, "not_found", "comment not found")
		return
	}

	post, err := s.store.DeleteComment(r.Context(), postID, commentID, viewer(r).UserID)
	if err != nil {
		s.writeStoreError(w, "deleting comment", err)
		return
	}

	post = s.snapshot(r.Context(), post)
	s.publish(core.EventCommentDeleted, post)
	s.writeJSON(w, http.StatusOK, post)
}

func (s *Server) loadPost(w http.ResponseWriter, r *http.Request) (core.Post, bool) {
	id := r.PathValue("id")
	if !core.ValidID(id) {
		s.writeError(w, http.StatusNotFound, "not_found", "post not found")
		return core.Post{}, false
	}
	post, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "loading post", err)
		return core.Post{}, false
	}
	return post, true
}

func (s *Server) commentText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req CommentRequest
	if !s.decode(w, r, &req) {
		return "", false
	}
	text := strings.TrimSpace(req.Text)
	if text == "" || utf8.RuneCountInString(text) > maxCommentLength {
		s.writeError(w, http.StatusBadRequest, "invalid_text", "comment must be between 1 and 2000 characters")
		return "", false
	}
	return text, true
}

// decode reads a JSON body into v, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, storage.ErrForbidden):
		s.writeError(w, http.StatusForbidden, "forbidden", "only the author can do that")
	default:
		s.logger.Errorf("%s: %v", op, err)
		s.writeError(w, http.StatusInternalServerError, "internal_error", "failed "+op)
	}
}
