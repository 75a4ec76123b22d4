package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rubiojr/pulse/pkg/auth"
	"github.com/rubiojr/pulse/pkg/bus"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/stream"
)

type liveServer struct {
	bus    *bus.Bus
	server *httptest.Server
	token  string
}

func newLiveServer(t *testing.T) *liveServer {
	t.Helper()
	b := bus.New()
	v := auth.NewJWTVerifier("test-secret", "")
	tok, err := v.Issue(core.NewID(), "viewer", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	m := stream.NewManager(b, v, stream.Options{Heartbeat: -1})
	mux := http.NewServeMux()
	m.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		m.Close()
		ts.Close()
		b.Close()
	})
	return &liveServer{bus: b, server: ts, token: tok}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startConsumer runs c in the background and returns a function waiting for
// Run to return.
func startConsumer(t *testing.T, c *Consumer) func() error {
	t.Helper()
	done := make(chan struct{})
	var runErr error
	go func() {
		runErr = c.Run(context.Background())
		close(done)
	}()
	wait := func() error {
		select {
		case <-done:
			return runErr
		case <-time.After(3 * time.Second):
			t.Fatal("Run did not return")
			return nil
		}
	}
	t.Cleanup(func() {
		c.Stop()
		_ = wait()
	})
	return wait
}

func TestConsumerAppliesFrames(t *testing.T) {
	ls := newLiveServer(t)
	feed := NewFeedState(nil)
	feed.Replace([]core.Post{{ID: "old"}})
	c := NewConsumer(ls.server.URL, StaticToken(ls.token), feed)
	startConsumer(t, c)

	eventually(t, "subscription", func() bool { return ls.bus.Size() == 1 })
	eventually(t, "live status", func() bool { return c.Status() == Live })

	fresh := core.Post{ID: "new", Content: "hello"}
	ls.bus.Publish(core.NewPostEvent(core.EventPostCreated, fresh))
	ls.bus.Publish(core.NewPostEvent(core.EventPostCreated, fresh))
	liked := core.Post{ID: "old", LikedBy: []string{"u1"}, LikeCount: 1}
	ls.bus.Publish(core.NewPostEvent(core.EventPostLiked, liked))

	eventually(t, "like applied", func() bool {
		p, _ := feed.Post("old")
		return p.LikeCount == 1
	})
	got := ids(feed.Posts())
	if len(got) != 2 || got[0] != "new" || got[1] != "old" {
		t.Errorf("feed = %v", got)
	}
}

func TestConsumerRequiresToken(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	c := NewConsumer(ts.URL, StaticToken(""), NewFeedState(nil))
	if err := c.Run(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
	if hits.Load() != 0 {
		t.Error("connection attempted without a token")
	}
}

func TestConsumerRejectedTokenNotRetried(t *testing.T) {
	ls := newLiveServer(t)
	c := NewConsumer(ls.server.URL, StaticToken("bogus"), NewFeedState(nil),
		WithReconnect(time.Millisecond, time.Millisecond))
	if err := c.Run(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
	if c.Status() != Disconnected {
		t.Errorf("status = %s", c.Status())
	}
}

func TestConsumerSingleStream(t *testing.T) {
	ls := newLiveServer(t)
	c := NewConsumer(ls.server.URL, StaticToken(ls.token), NewFeedState(nil))
	startConsumer(t, c)
	eventually(t, "subscription", func() bool { return ls.bus.Size() == 1 })

	if err := c.Run(context.Background()); !errors.Is(err, ErrAlreadyStreaming) {
		t.Errorf("second Run err = %v", err)
	}
	if ls.bus.Size() != 1 {
		t.Errorf("subscribers = %d, want 1", ls.bus.Size())
	}
}

func TestConsumerStopReleasesSubscription(t *testing.T) {
	ls := newLiveServer(t)
	c := NewConsumer(ls.server.URL, StaticToken(ls.token), NewFeedState(nil))
	wait := startConsumer(t, c)
	eventually(t, "subscription", func() bool { return ls.bus.Size() == 1 })

	c.Stop()
	if err := wait(); err != nil {
		t.Errorf("Run after Stop = %v", err)
	}
	if c.Status() != Disconnected {
		t.Errorf("status = %s", c.Status())
	}
	eventually(t, "unsubscribe", func() bool { return ls.bus.Size() == 0 })
}

func TestConsumerPausesWhenStreamEnds(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"ping\"}\n\n")
	}))
	defer ts.Close()

	var mu sync.Mutex
	var seen []Status
	c := NewConsumer(ts.URL, StaticToken("tok"), NewFeedState(nil), OnStatus(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}))
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected an error when the server closes the stream")
	}
	if c.Status() != Paused {
		t.Errorf("status = %s, want paused", c.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	want := []Status{Connecting, Live, Paused}
	if len(seen) != len(want) {
		t.Fatalf("statuses = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("status %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestConsumerReconnects(t *testing.T) {
	var conns atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"type\":\"post:new\",\"postId\":\"p%d\",\"post\":{\"id\":\"p%d\"}}\n\n", n, n)
		if n < 3 {
			return
		}
		// The last connection stays open, so the frame must go out now.
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	// Registered before startConsumer so the consumer stops before Close.
	t.Cleanup(ts.Close)

	feed := NewFeedState(nil)
	c := NewConsumer(ts.URL, StaticToken("tok"), feed, WithReconnect(time.Millisecond, 5*time.Millisecond))
	startConsumer(t, c)

	eventually(t, "three posts", func() bool { return len(feed.Posts()) == 3 })
	got := ids(feed.Posts())
	if got[0] != "p3" || got[2] != "p1" {
		t.Errorf("feed = %v", got)
	}
	c.Stop()
}

func TestConsumerIgnoresMalformedFrames(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, ": comment\n\n")
		fmt.Fprint(w, "data: {\"type\":\"post:boost\",\"post\":{\"id\":\"x\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"post:new\",\"postId\":\"ok\",\"post\":{\"id\":\"ok\"}}\n\n")
	}))
	defer ts.Close()

	feed := NewFeedState(nil)
	c := NewConsumer(ts.URL, StaticToken("tok"), feed)
	_ = c.Run(context.Background())

	got := ids(feed.Posts())
	if len(got) != 1 || got[0] != "ok" {
		t.Errorf("feed = %v", got)
	}
}
