package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rubiojr/pulse/pkg/auth"
	"github.com/rubiojr/pulse/pkg/bus"
	"github.com/rubiojr/pulse/pkg/core"
)

type harness struct {
	bus     *bus.Bus
	manager *Manager
	server  *httptest.Server
	token   string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	b := bus.New()
	v := auth.NewJWTVerifier("test-secret", "")
	tok, err := v.Issue(core.NewID(), "viewer", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Heartbeat == 0 {
		opts.Heartbeat = -1
	}
	m := NewManager(b, v, opts)
	mux := http.NewServeMux()
	m.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		m.Close()
		ts.Close()
		b.Close()
	})
	return &harness{bus: b, manager: m, server: ts, token: tok}
}

type sseClient struct {
	resp   *http.Response
	reader *bufio.Reader
	cancel context.CancelFunc
}

func (h *harness) openSSE(t *testing.T) *sseClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", h.server.URL+"/events", nil)
	req.Header.Set("Authorization", "Bearer "+h.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("connect: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("status = %d", resp.StatusCode)
	}
	c := &sseClient{resp: resp, reader: bufio.NewReader(resp.Body), cancel: cancel}
	t.Cleanup(c.close)
	return c
}

func (c *sseClient) close() {
	c.cancel()
	_ = c.resp.Body.Close()
}

func (c *sseClient) next(t *testing.T) core.Frame {
	t.Helper()
	type result struct {
		frame core.Frame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			line, err := c.reader.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			payload, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
			if !ok {
				continue
			}
			var f core.Frame
			err = json.Unmarshal([]byte(payload), &f)
			ch <- result{frame: f, err: err}
			return
		}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("reading frame: %v", r.err)
		}
		return r.frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return core.Frame{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testPost() core.Post {
	return core.Post{ID: core.NewID(), AuthorID: core.NewID(), Content: "hi", LikedBy: []string{}}
}

func TestSSERequiresToken(t *testing.T) {
	h := newHarness(t, Options{})

	for _, target := range []string{"/events", "/events?token=bogus"} {
		resp, err := http.Get(h.server.URL + target)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", target, resp.StatusCode)
		}
	}
	if h.bus.Size() != 0 {
		t.Errorf("rejected connection left %d subscriptions", h.bus.Size())
	}
}

func TestSSEPingThenEvents(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.openSSE(t)

	if f := c.next(t); f.Type != core.WirePing {
		t.Fatalf("first frame = %q, want ping", f.Type)
	}
	if got := c.resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}

	post := testPost()
	h.bus.Publish(core.NewPostEvent(core.EventPostCreated, post))
	post.LikedBy = []string{"someone"}
	h.bus.Publish(core.NewPostEvent(core.EventPostLiked, post))

	first := c.next(t)
	if first.Type != core.WirePostNew || first.PostID != post.ID || first.Post == nil {
		t.Fatalf("unexpected frame %+v", first)
	}
	second := c.next(t)
	if second.Type != core.WirePostLike || len(second.Post.LikedBy) != 1 {
		t.Fatalf("unexpected frame %+v", second)
	}
}

func TestSSEQueryToken(t *testing.T) {
	h := newHarness(t, Options{})
	resp, err := http.Get(h.server.URL + "/events?token=" + url.QueryEscape(h.token))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSSEDisconnectReleasesSubscription(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.openSSE(t)
	c.next(t)
	if h.bus.Size() != 1 {
		t.Fatalf("bus size = %d, want 1", h.bus.Size())
	}

	c.close()
	waitFor(t, "unsubscribe", func() bool { return h.bus.Size() == 0 && h.manager.Active() == 0 })
}

func TestSSEConnectionCap(t *testing.T) {
	h := newHarness(t, Options{MaxConnections: 1})
	c := h.openSSE(t)
	c.next(t)

	req, _ := http.NewRequest("GET", h.server.URL+"/events", nil)
	req.Header.Set("Authorization", "Bearer "+h.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	c.close()
	waitFor(t, "slot release", func() bool { return h.manager.Active() == 0 })
	again := h.openSSE(t)
	again.next(t)
}

func TestSSEClosedBusIsUnavailable(t *testing.T) {
	h := newHarness(t, Options{})
	h.bus.Close()

	req, _ := http.NewRequest("GET", h.server.URL+"/events", nil)
	req.Header.Set("Authorization", "Bearer "+h.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}
	if n := h.manager.Active(); n != 0 {
		t.Errorf("active = %d, want 0", n)
	}
}

func TestSSEHeartbeat(t *testing.T) {
	h := newHarness(t, Options{Heartbeat: 20 * time.Millisecond})
	c := h.openSSE(t)
	for i := 0; i < 3; i++ {
		if f := c.next(t); f.Type != core.WirePing {
			t.Fatalf("frame %d = %q, want ping", i, f.Type)
		}
	}
}

func TestManagerCloseEndsStreams(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.openSSE(t)
	c.next(t)

	h.manager.Close()
	waitFor(t, "stream shutdown", func() bool { return h.bus.Size() == 0 })

	resp, err := http.Get(h.server.URL + "/events?token=" + url.QueryEscape(h.token))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after Close = %d, want 503", resp.StatusCode)
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	h := newHarness(t, Options{})
	sub, err := h.bus.Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	m := h.manager

	// A writer that never completes stands in for a stalled client.
	stuck := make(chan struct{})
	defer close(stuck)
	fw := frameWriterFunc(func([]byte) error { <-stuck; return nil })

	go func() { _ = m.pump(context.Background(), sub, fw) }()

	for i := 0; i < bus.DefaultBufferSize+1; i++ {
		h.bus.Publish(core.NewPostEvent(core.EventPostCreated, testPost()))
	}
	if h.bus.Size() != 0 {
		t.Fatalf("slow subscriber still registered")
	}
	if !errors.Is(sub.Err(), bus.ErrSlowSubscriber) {
		t.Errorf("subscription error = %v", sub.Err())
	}
}

type frameWriterFunc func([]byte) error

func (f frameWriterFunc) WriteFrame(data []byte) error { return f(data) }

func TestWebSocketStream(t *testing.T) {
	h := newHarness(t, Options{})

	u, _ := url.Parse(h.server.URL)
	u.Scheme = "ws"
	u.Path = "/events/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(u.String(), nil); err == nil {
		t.Fatal("dial without token should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected rejection: %v", err)
	}

	u.RawQuery = "token=" + url.QueryEscape(h.token)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	readFrame := func() core.Frame {
		t.Helper()
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var f core.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return f
	}

	if f := readFrame(); f.Type != core.WirePing {
		t.Fatalf("first frame = %q, want ping", f.Type)
	}
	post := testPost()
	h.bus.Publish(core.NewPostEvent(core.EventCommentAdded, post))
	if f := readFrame(); f.Type != core.WireCommentAdd || f.PostID != post.ID {
		t.Fatalf("unexpected frame %+v", f)
	}

	_ = conn.Close()
	waitFor(t, "unsubscribe", func() bool { return h.bus.Size() == 0 })
}
