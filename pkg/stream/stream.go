// Package stream binds authenticated push connections to bus subscriptions.
//
// Two transports are served: Server-Sent Events on GET /events and WebSocket
// on GET /events/ws. Both send a ping frame right after subscribing, then one
// JSON frame per bus event plus periodic pings while idle. Every exit path
// (client gone, write failure, bus disconnect, manager shutdown) releases the
// subscription.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rubiojr/pulse/pkg/auth"
	"github.com/rubiojr/pulse/pkg/bus"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/log"
	"github.com/rubiojr/pulse/pkg/metrics"
	"github.com/rubiojr/pulse/pkg/shared"
)

const (
	DefaultHeartbeat    = 25 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

var errShutdown = errors.New("stream manager shutting down")

// frameWriter is one transport's way of putting a JSON frame on the wire.
type frameWriter interface {
	WriteFrame(data []byte) error
}

// Options configures a Manager. Zero values select the defaults; a negative
// Heartbeat disables keep-alive pings after the initial one.
type Options struct {
	Heartbeat      time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
	Metrics        *metrics.Metrics
}

// Manager serves push connections.
type Manager struct {
	bus      *bus.Bus
	verifier auth.Verifier
	metrics  *metrics.Metrics

	heartbeat    time.Duration
	writeTimeout time.Duration
	maxConns     int64
	active       atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	logger    *log.Logger
}

func NewManager(b *bus.Bus, v auth.Verifier, opts Options) *Manager {
	m := &Manager{
		bus:          b,
		verifier:     v,
		metrics:      opts.Metrics,
		heartbeat:    opts.Heartbeat,
		writeTimeout: opts.WriteTimeout,
		maxConns:     int64(opts.MaxConnections),
		done:         make(chan struct{}),
		logger:       log.ForService("stream"),
	}
	if m.heartbeat == 0 {
		m.heartbeat = DefaultHeartbeat
	}
	if m.writeTimeout <= 0 {
		m.writeTimeout = DefaultWriteTimeout
	}
	return m
}

// RegisterRoutes mounts the push endpoints on mux.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /events", m.ServeSSE)
	mux.HandleFunc("GET /events/ws", m.ServeWS)
}

// Active returns the number of open push connections.
func (m *Manager) Active() int {
	return int(m.active.Load())
}

// Close ends every open stream. New connections are refused afterwards.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.logger.Infof("Closing push streams (%d open)", m.Active())
	})
}

func (m *Manager) closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// admit authenticates r, reserves a connection slot and subscribes to the
// bus before any response is written. On failure it writes the error response
// and returns ok=false. Callers must call release with sub when ok.
func (m *Manager) admit(w http.ResponseWriter, r *http.Request) (id auth.Identity, sub *bus.Subscription, ok bool) {
	if m.closed() {
		shared.WriteError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
		return auth.Identity{}, nil, false
	}

	id, err := auth.Authenticate(r.Context(), m.verifier, r)
	if err != nil {
		m.metrics.StreamRejected("auth")
		m.logger.Debugf("Rejected stream from %s: %v", r.RemoteAddr, err)
		shared.WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return auth.Identity{}, nil, false
	}

	if n := m.active.Add(1); m.maxConns > 0 && n > m.maxConns {
		m.active.Add(-1)
		m.metrics.StreamRejected("capacity")
		m.logger.Warnf("Rejected stream for %s: %d connections open", id.UserID, n-1)
		shared.WriteError(w, http.StatusServiceUnavailable, "too_many_connections", "connection limit reached")
		return auth.Identity{}, nil, false
	}

	sub, err = m.bus.Subscribe()
	if err != nil {
		m.active.Add(-1)
		m.logger.Warnf("Subscribe failed for %s: %v", id.UserID, err)
		shared.WriteError(w, http.StatusServiceUnavailable, "shutting_down", "event bus is closed")
		return auth.Identity{}, nil, false
	}
	return id, sub, true
}

func (m *Manager) release(sub *bus.Subscription) {
	m.bus.Unsubscribe(sub)
	m.active.Add(-1)
}

// pump writes the initial ping and then every event from sub until ctx ends,
// the subscription closes, the manager shuts down or a write fails.
func (m *Manager) pump(ctx context.Context, sub *bus.Subscription, fw frameWriter) error {
	ping, err := json.Marshal(core.PingFrame)
	if err != nil {
		return err
	}
	if err := fw.WriteFrame(ping); err != nil {
		return err
	}

	var heartbeat <-chan time.Time
	if m.heartbeat > 0 {
		t := time.NewTicker(m.heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.done:
			return errShutdown
		case ev, ok := <-sub.C():
			if !ok {
				return sub.Err()
			}
			data, err := ev.MarshalFrame()
			if err != nil {
				m.logger.Warnf("Skipping event %d: %v", ev.Seq, err)
				continue
			}
			if err := fw.WriteFrame(data); err != nil {
				return err
			}
		case <-heartbeat:
			if err := fw.WriteFrame(ping); err != nil {
				return err
			}
		}
	}
}

// run pumps sub into fw until the stream ends.
func (m *Manager) run(ctx context.Context, transport string, id auth.Identity, sub *bus.Subscription, fw frameWriter) {
	m.metrics.StreamOpened(transport)
	defer m.metrics.StreamClosed(transport)
	m.logger.Debugf("%s stream %s opened for user %s", transport, sub.ID(), id.UserID)

	err := m.pump(ctx, sub, fw)
	switch {
	case err == nil:
		m.logger.Debugf("%s stream %s closed by client", transport, sub.ID())
	case errors.Is(err, errShutdown), errors.Is(err, bus.ErrClosed):
		m.logger.Debugf("%s stream %s closed on shutdown", transport, sub.ID())
	default:
		m.logger.Infof("%s stream %s for user %s ended: %v", transport, sub.ID(), id.UserID, err)
	}
}
