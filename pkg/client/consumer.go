package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/log"
)

// Status is the consumer's connection state.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Live
	// Paused means live updates stopped after a transport error.
	Paused
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Paused:
		return "paused"
	default:
		return "disconnected"
	}
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithReconnect enables reconnecting with exponential backoff between initial
// and max after transport errors. Authentication failures are never retried.
func WithReconnect(initial, max time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.reconnect = true
		if initial > 0 {
			c.initialBackoff = initial
		}
		if max >= c.initialBackoff {
			c.maxBackoff = max
		}
	}
}

// WithHTTPClient sets the client used for the stream. It must not have a
// request timeout.
func WithHTTPClient(hc *http.Client) ConsumerOption {
	return func(c *Consumer) { c.http = hc }
}

// WithConsumerClock replaces the clock used for backoff.
func WithConsumerClock(clk Clock) ConsumerOption {
	return func(c *Consumer) { c.clock = clk }
}

// OnStatus registers a hook called on every status change.
func OnStatus(f func(Status)) ConsumerOption {
	return func(c *Consumer) { c.onStatus = f }
}

// Consumer holds the single push stream of a session and hands every frame
// to a FrameHandler.
type Consumer struct {
	url     string
	token   TokenSource
	handler FrameHandler
	http    *http.Client
	clock   Clock

	reconnect      bool
	initialBackoff time.Duration
	maxBackoff     time.Duration
	onStatus       func(Status)

	mu      sync.Mutex
	running bool
	status  Status
	cancel  context.CancelFunc

	logger *log.Logger
}

// NewConsumer returns a consumer for the SSE endpoint at baseURL + "/events".
func NewConsumer(baseURL string, token TokenSource, handler FrameHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		url:            strings.TrimRight(baseURL, "/") + "/events",
		token:          token,
		handler:        handler,
		http:           &http.Client{},
		clock:          SystemClock{},
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
		logger:         log.ForService("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current connection state.
func (c *Consumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Consumer) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed && c.onStatus != nil {
		c.onStatus(s)
	}
}

// Run opens the stream and blocks until ctx is done, Stop is called or the
// stream fails. Without a token no connection is attempted.
func (c *Consumer) Run(ctx context.Context) error {
	if c.token == nil || c.token() == "" {
		return ErrUnauthenticated
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyStreaming
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	backoff := c.initialBackoff
	for {
		connected, err := c.stream(ctx)
		if ctx.Err() != nil {
			c.setStatus(Disconnected)
			return nil
		}
		if errors.Is(err, ErrUnauthenticated) {
			c.setStatus(Disconnected)
			return err
		}
		if err == nil {
			err = errors.New("stream closed by server")
		}

		c.setStatus(Paused)
		if !c.reconnect {
			c.logger.Infof("Live updates paused: %v", err)
			return err
		}

		if connected {
			backoff = c.initialBackoff
		}
		c.logger.Infof("Stream error (%v), reconnecting in %s", err, backoff)
		if err := sleep(ctx, c.clock, backoff); err != nil {
			c.setStatus(Disconnected)
			return nil
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// Stop closes the stream opened by Run.
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// stream runs one connection. connected reports whether the server accepted
// it, which resets the reconnect backoff.
func (c *Consumer) stream(ctx context.Context) (connected bool, err error) {
	tok := c.token()
	if tok == "" {
		return false, ErrUnauthenticated
	}

	c.setStatus(Connecting)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return false, ErrUnauthenticated
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	c.setStatus(Live)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				c.dispatch(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return true, fmt.Errorf("reading stream: %w", err)
	}
	return true, nil
}

func (c *Consumer) dispatch(payload string) {
	var f core.Frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		c.logger.Debugf("Ignoring malformed frame: %v", err)
		return
	}
	if f.Type == core.WirePing {
		return
	}
	c.handler.HandleFrame(f)
}
