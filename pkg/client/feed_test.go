package client

import (
	"testing"

	"github.com/rubiojr/pulse/pkg/core"
)

func ids(posts []core.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func TestFeedStateHandleFrame(t *testing.T) {
	changes := 0
	f := NewFeedState(func() { changes++ })
	f.Replace([]core.Post{{ID: "b"}, {ID: "a"}})

	f.HandleFrame(core.Frame{Type: core.WirePostNew, PostID: "c", Post: &core.Post{ID: "c"}})
	if got := ids(f.Posts()); len(got) != 3 || got[0] != "c" {
		t.Fatalf("feed after post:new = %v", got)
	}

	// Duplicate post:new is ignored.
	f.HandleFrame(core.Frame{Type: core.WirePostNew, PostID: "c", Post: &core.Post{ID: "c", Content: "again"}})
	if got := ids(f.Posts()); len(got) != 3 {
		t.Fatalf("duplicate prepended: %v", got)
	}

	liked := core.Post{ID: "a", LikedBy: []string{"u1"}, LikeCount: 1}
	f.HandleFrame(core.Frame{Type: core.WirePostLike, PostID: "a", Post: &liked})
	if p, _ := f.Post("a"); p.LikeCount != 1 || !p.LikedByUser("u1") {
		t.Errorf("post a not replaced: %+v", p)
	}

	commented := core.Post{ID: "b", Comments: []core.Comment{{ID: "c1", PostID: "b", Text: "hi"}}}
	for _, typ := range []string{core.WireCommentAdd, core.WireCommentEdit, core.WireCommentDelete} {
		f.HandleFrame(core.Frame{Type: typ, PostID: "b", Post: &commented})
	}
	if p, _ := f.Post("b"); len(p.Comments) != 1 {
		t.Errorf("comments not applied: %+v", p)
	}

	// Posts not in the local feed are not inserted by non-create frames.
	f.HandleFrame(core.Frame{Type: core.WirePostLike, PostID: "zz", Post: &core.Post{ID: "zz"}})
	if _, ok := f.Post("zz"); ok {
		t.Error("like frame inserted an unknown post")
	}

	before := changes
	f.HandleFrame(core.Frame{Type: "post:boost", Post: &core.Post{ID: "a"}})
	f.HandleFrame(core.Frame{Type: core.WirePostNew})
	f.HandleFrame(core.PingFrame)
	if changes != before {
		t.Error("ignored frames changed the feed")
	}
}

func TestFeedStateCopiesSnapshots(t *testing.T) {
	f := NewFeedState(nil)
	p := core.Post{ID: "a", LikedBy: []string{"u1"}}
	f.Replace([]core.Post{p})
	p.LikedBy[0] = "mutated"

	got, _ := f.Post("a")
	if got.LikedBy[0] != "u1" {
		t.Error("feed shares memory with caller")
	}
	got.LikedBy[0] = "mutated"
	again, _ := f.Post("a")
	if again.LikedBy[0] != "u1" {
		t.Error("Post returned shared memory")
	}
}

func TestFeedStateIncrementImpressions(t *testing.T) {
	f := NewFeedState(nil)
	f.Replace([]core.Post{{ID: "a", Impressions: 4}})
	f.IncrementImpressions("a")
	f.IncrementImpressions("missing")
	if p, _ := f.Post("a"); p.Impressions != 5 {
		t.Errorf("impressions = %d, want 5", p.Impressions)
	}
}
