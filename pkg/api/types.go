package api

import (
	"time"

	"github.com/rubiojr/pulse/pkg/core"
)

type ListPostsResponse struct {
	Posts []core.Post `json:"posts"`
	Count int         `json:"count"`
}

type CreatePostRequest struct {
	Content string `json:"content"`
}

type CommentRequest struct {
	Text string `json:"text"`
}

type CommentResponse struct {
	Post    core.Post    `json:"post"`
	Comment core.Comment `json:"comment"`
}

type PostImpressionsRequest struct {
	PostIDs []string `json:"postIds"`
}

type PostImpressionsResponse struct {
	Impressions []core.PostImpression `json:"impressions"`
}

type ProfileViewRequest struct {
	ProfileUserID string `json:"profileUserId"`
}

// ProfileViewResponse is either a recorded view or a skipped one.
type ProfileViewResponse struct {
	ProfileUserID     string `json:"profileUserId,omitempty"`
	ProfileViewsTotal *int64 `json:"profileViewsTotal,omitempty"`
	Skipped           bool   `json:"skipped,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}
