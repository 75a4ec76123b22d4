package core

import "time"

// Post is the full snapshot carried by feed responses and bus events.
//
// Snapshots are values: consumers replace their local copy wholesale instead of
// applying deltas, so every field needed to render a post must be present.
type Post struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"authorId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
	LikedBy     []string  `json:"likedBy"`
	LikeCount   int       `json:"likeCount"`
	Comments    []Comment `json:"comments"`
	Impressions int64     `json:"impressions"`
}

// Comment belongs to exactly one post.
type Comment struct {
	ID        string     `json:"id"`
	PostID    string     `json:"postId"`
	AuthorID  string     `json:"authorId"`
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
}

// User is the public profile of an account.
type User struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"displayName"`
	CreatedAt         time.Time `json:"createdAt"`
	ProfileViewsTotal int64     `json:"profileViewsTotal"`
}

// PostImpression is the current impression count of a single post.
type PostImpression struct {
	PostID      string `json:"postId"`
	Impressions int64  `json:"impressions"`
}

// Clone returns a deep copy so callers can hand snapshots across goroutines.
func (p Post) Clone() Post {
	c := p
	if p.LikedBy != nil {
		c.LikedBy = append([]string(nil), p.LikedBy...)
	}
	if p.Comments != nil {
		c.Comments = make([]Comment, len(p.Comments))
		for i, cm := range p.Comments {
			c.Comments[i] = cm
			if cm.EditedAt != nil {
				t := *cm.EditedAt
				c.Comments[i].EditedAt = &t
			}
		}
	}
	return c
}

// LikedByUser reports whether userID appears in the post's likers.
func (p Post) LikedByUser(userID string) bool {
	for _, id := range p.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}
