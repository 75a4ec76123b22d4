package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rubiojr/pulse/pkg/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pulse.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func mustUser(t *testing.T, s *Store) string {
	t.Helper()
	id := core.NewID()
	if err := s.EnsureUser(context.Background(), id, "user"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	return id
}

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, ""},
		{1, "?"},
		{3, "?, ?, ?"},
	}
	for _, tt := range tests {
		if got := Placeholders(tt.n); got != tt.want {
			t.Errorf("Placeholders(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestEnsureUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := core.NewID()

	if ok, _ := s.UserExists(ctx, id); ok {
		t.Fatal("user should not exist yet")
	}
	if err := s.EnsureUser(ctx, id, "ana"); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureUser(ctx, id, "other"); err != nil {
		t.Fatalf("second EnsureUser: %v", err)
	}

	u, err := s.GetUser(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if u.DisplayName != "ana" || u.ProfileViewsTotal != 0 {
		t.Errorf("unexpected user %+v", u)
	}

	if _, err := s.GetUser(ctx, core.NewID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCreateAndListPosts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := mustUser(t, s)

	first, err := s.CreatePost(ctx, author, "first")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.CreatePost(ctx, author, "second")
	if err != nil {
		t.Fatal(err)
	}
	if !core.ValidID(first.ID) || first.Impressions != 0 {
		t.Errorf("unexpected new post %+v", first)
	}

	posts, err := s.ListPosts(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[0].ID != second.ID || posts[1].ID != first.ID {
		t.Errorf("feed not newest first: %s, %s", posts[0].ID, posts[1].ID)
	}
	if posts[0].LikedBy == nil || posts[0].Comments == nil {
		t.Error("relations should be empty slices, not nil")
	}

	limited, err := s.ListPosts(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored, got %d posts", len(limited))
	}
}

func TestToggleLike(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := mustUser(t, s)
	liker := core.NewID()
	post, _ := s.CreatePost(ctx, author, "hello")

	liked, err := s.ToggleLike(ctx, post.ID, liker)
	if err != nil {
		t.Fatal(err)
	}
	if liked.LikeCount != 1 || !liked.LikedByUser(liker) {
		t.Errorf("after like: %+v", liked)
	}

	unliked, err := s.ToggleLike(ctx, post.ID, liker)
	if err != nil {
		t.Fatal(err)
	}
	if unliked.LikeCount != 0 || unliked.LikedByUser(liker) {
		t.Errorf("after unlike: %+v", unliked)
	}

	if _, err := s.ToggleLike(ctx, core.NewID(), liker); !errors.Is(err, ErrNotFound) {
		t.Errorf("ToggleLike(missing) error = %v, want ErrNotFound", err)
	}
}

func TestComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := mustUser(t, s)
	commenter := core.NewID()
	stranger := core.NewID()
	post, _ := s.CreatePost(ctx, author, "hello")

	withComment, c, err := s.AddComment(ctx, post.ID, commenter, "nice")
	if err != nil {
		t.Fatal(err)
	}
	if len(withComment.Comments) != 1 || withComment.Comments[0].ID != c.ID {
		t.Fatalf("comment not in snapshot: %+v", withComment.Comments)
	}

	if _, err := s.EditComment(ctx, post.ID, c.ID, stranger, "hijack"); !errors.Is(err, ErrForbidden) {
		t.Errorf("EditComment by stranger error = %v, want ErrForbidden", err)
	}

	edited, err := s.EditComment(ctx, post.ID, c.ID, commenter, "very nice")
	if err != nil {
		t.Fatal(err)
	}
	if got := edited.Comments[0]; got.Text != "very nice" || got.EditedAt == nil {
		t.Errorf("unexpected edited comment %+v", got)
	}

	if _, err := s.DeleteComment(ctx, post.ID, core.NewID(), commenter); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteComment(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.DeleteComment(ctx, post.ID, c.ID, stranger); !errors.Is(err, ErrForbidden) {
		t.Errorf("DeleteComment by stranger error = %v, want ErrForbidden", err)
	}
	deleted, err := s.DeleteComment(ctx, post.ID, c.ID, commenter)
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted.Comments) != 0 {
		t.Errorf("comment still present: %+v", deleted.Comments)
	}
}

func TestDeletePostHidesIt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := mustUser(t, s)
	keep, _ := s.CreatePost(ctx, author, "keep")
	gone, _ := s.CreatePost(ctx, author, "gone")

	if err := s.DeletePost(ctx, gone.ID, core.NewID()); !errors.Is(err, ErrForbidden) {
		t.Errorf("DeletePost by stranger error = %v, want ErrForbidden", err)
	}
	if err := s.DeletePost(ctx, gone.ID, author); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetPost(ctx, gone.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPost(deleted) error = %v, want ErrNotFound", err)
	}

	ids, err := s.ExistingPostIDs(ctx, []string{keep.ID, gone.ID, core.NewID()})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != keep.ID {
		t.Errorf("ExistingPostIDs = %v, want [%s]", ids, keep.ID)
	}
}
