package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsWriter) WriteFrame(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// ServeWS streams bus events as WebSocket text messages. Authentication
// happens before the upgrade so failures are plain JSON responses.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, sub, ok := m.admit(w, r)
	if !ok {
		return
	}
	defer m.release(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debugf("WebSocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Hijacked connections outlive r.Context(); the read loop is the only
	// way to notice the peer going away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.SetReadLimit(512)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	m.run(ctx, "ws", id, sub, &wsWriter{conn: conn, timeout: m.writeTimeout})

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
