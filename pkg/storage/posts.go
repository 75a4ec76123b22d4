package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rubiojr/pulse/pkg/core"
)

const (
	DefaultFeedLimit = 50
	MaxFeedLimit     = 200
)

// CreatePost inserts a new post with zero counters and returns its snapshot.
func (s *Store) CreatePost(ctx context.Context, authorID, content string) (core.Post, error) {
	post := core.Post{
		ID:        core.NewID(),
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		LikedBy:   []string{},
		Comments:  []core.Comment{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, content, created_at) VALUES (?, ?, ?, ?)`,
		post.ID, post.AuthorID, post.Content, post.CreatedAt)
	if err != nil {
		return core.Post{}, fmt.Errorf("inserting post: %w", err)
	}
	return post, nil
}

// GetPost loads the full snapshot of a live post.
func (s *Store) GetPost(ctx context.Context, id string) (core.Post, error) {
	var p core.Post
	err := s.db.QueryRowContext(ctx,
		`SELECT id, author_id, content, created_at, impressions
		 FROM posts WHERE id = ? AND deleted_at IS NULL`, id).
		Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt, &p.Impressions)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Post{}, ErrNotFound
	}
	if err != nil {
		return core.Post{}, fmt.Errorf("loading post %s: %w", id, err)
	}

	posts := []core.Post{p}
	if err := s.attachRelations(ctx, posts); err != nil {
		return core.Post{}, err
	}
	return posts[0], nil
}

// ListPosts returns the newest live posts. Insertion order is creation order.
func (s *Store) ListPosts(ctx context.Context, limit int) ([]core.Post, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	if limit > MaxFeedLimit {
		limit = MaxFeedLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, author_id, content, created_at, impressions
		 FROM posts WHERE deleted_at IS NULL
		 ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	posts := []core.Post{}
	for rows.Next() {
		var p core.Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt, &p.Impressions); err != nil {
			return nil, fmt.Errorf("scanning post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachRelations(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// ExistingPostIDs returns the subset of ids that refer to live posts.
func (s *Store) ExistingPostIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM posts WHERE deleted_at IS NULL AND id IN (`+Placeholders(len(ids))+`)`,
		StringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("querying post ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var existing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing = append(existing, id)
	}
	return existing, rows.Err()
}

// DeletePost soft-deletes a post owned by authorID.
func (s *Store) DeletePost(ctx context.Context, postID, authorID string) error {
	owner, err := s.postAuthor(ctx, postID)
	if err != nil {
		return err
	}
	if owner != authorID {
		return ErrForbidden
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE posts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now().UTC(), postID)
	if err != nil {
		return fmt.Errorf("deleting post %s: %w", postID, err)
	}
	return nil
}

// ToggleLike likes the post for userID, or removes the like if present, and
// returns the updated snapshot.
func (s *Store) ToggleLike(ctx context.Context, postID, userID string) (core.Post, error) {
	if _, err := s.postAuthor(ctx, postID); err != nil {
		return core.Post{}, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM post_likes WHERE post_id = ? AND user_id = ?`, postID, userID)
	if err != nil {
		return core.Post{}, fmt.Errorf("removing like: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO post_likes (post_id, user_id, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(post_id, user_id) DO NOTHING`,
			postID, userID, time.Now().UTC())
		if err != nil {
			return core.Post{}, fmt.Errorf("adding like: %w", err)
		}
	}
	return s.GetPost(ctx, postID)
}

// AddComment appends a comment to a live post.
func (s *Store) AddComment(ctx context.Context, postID, authorID, text string) (core.Post, core.Comment, error) {
	if _, err := s.postAuthor(ctx, postID); err != nil {
		return core.Post{}, core.Comment{}, err
	}
	c := core.Comment{
		ID:        core.NewID(),
		PostID:    postID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, author_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.PostID, c.AuthorID, c.Text, c.CreatedAt)
	if err != nil {
		return core.Post{}, core.Comment{}, fmt.Errorf("inserting comment: %w", err)
	}
	post, err := s.GetPost(ctx, postID)
	return post, c, err
}

// EditComment replaces the text of a comment written by authorID.
func (s *Store) EditComment(ctx context.Context, postID, commentID, authorID, text string) (core.Post, error) {
	if err := s.checkCommentAuthor(ctx, postID, commentID, authorID); err != nil {
		return core.Post{}, err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE comments SET text = ?, edited_at = ? WHERE id = ? AND post_id = ?`,
		text, time.Now().UTC(), commentID, postID)
	if err != nil {
		return core.Post{}, fmt.Errorf("editing comment %s: %w", commentID, err)
	}
	return s.GetPost(ctx, postID)
}

// DeleteComment removes a comment written by authorID.
func (s *Store) DeleteComment(ctx context.Context, postID, commentID, authorID string) (core.Post, error) {
	if err := s.checkCommentAuthor(ctx, postID, commentID, authorID); err != nil {
		return core.Post{}, err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM comments WHERE id = ? AND post_id = ?`, commentID, postID)
	if err != nil {
		return core.Post{}, fmt.Errorf("deleting comment %s: %w", commentID, err)
	}
	return s.GetPost(ctx, postID)
}

func (s *Store) postAuthor(ctx context.Context, postID string) (string, error) {
	var author string
	err := s.db.QueryRowContext(ctx,
		`SELECT author_id FROM posts WHERE id = ? AND deleted_at IS NULL`, postID).Scan(&author)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading post %s: %w", postID, err)
	}
	return author, nil
}

func (s *Store) checkCommentAuthor(ctx context.Context, postID, commentID, authorID string) error {
	if _, err := s.postAuthor(ctx, postID); err != nil {
		return err
	}
	var author string
	err := s.db.QueryRowContext(ctx,
		`SELECT author_id FROM comments WHERE id = ? AND post_id = ?`, commentID, postID).Scan(&author)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading comment %s: %w", commentID, err)
	}
	if author != authorID {
		return ErrForbidden
	}
	return nil
}

// attachRelations fills likes and comments for posts in two bulk queries.
func (s *Store) attachRelations(ctx context.Context, posts []core.Post) error {
	if len(posts) == 0 {
		return nil
	}
	index := make(map[string]int, len(posts))
	ids := make([]string, len(posts))
	for i := range posts {
		posts[i].LikedBy = []string{}
		posts[i].Comments = []core.Comment{}
		index[posts[i].ID] = i
		ids[i] = posts[i].ID
	}
	in := Placeholders(len(ids))
	args := StringArgs(ids)

	likeRows, err := s.db.QueryContext(ctx,
		`SELECT post_id, user_id FROM post_likes WHERE post_id IN (`+in+`) ORDER BY rowid`, args...)
	if err != nil {
		return fmt.Errorf("querying likes: %w", err)
	}
	for likeRows.Next() {
		var postID, userID string
		if err := likeRows.Scan(&postID, &userID); err != nil {
			_ = likeRows.Close()
			return fmt.Errorf("scanning like: %w", err)
		}
		i := index[postID]
		posts[i].LikedBy = append(posts[i].LikedBy, userID)
	}
	if err := likeRows.Close(); err != nil {
		return err
	}

	commentRows, err := s.db.QueryContext(ctx,
		`SELECT id, post_id, author_id, text, created_at, edited_at
		 FROM comments WHERE post_id IN (`+in+`) ORDER BY rowid`, args...)
	if err != nil {
		return fmt.Errorf("querying comments: %w", err)
	}
	defer func() { _ = commentRows.Close() }()
	for commentRows.Next() {
		var c core.Comment
		var edited sql.NullTime
		if err := commentRows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Text, &c.CreatedAt, &edited); err != nil {
			return fmt.Errorf("scanning comment: %w", err)
		}
		if edited.Valid {
			t := edited.Time
			c.EditedAt = &t
		}
		i := index[c.PostID]
		posts[i].Comments = append(posts[i].Comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return err
	}

	for i := range posts {
		posts[i].LikeCount = len(posts[i].LikedBy)
	}
	return nil
}
