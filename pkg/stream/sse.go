package stream

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func (s *sseWriter) WriteFrame(data []byte) error {
	if err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.rc.Flush()
}

// ServeSSE streams bus events as text/event-stream.
func (m *Manager) ServeSSE(w http.ResponseWriter, r *http.Request) {
	id, sub, ok := m.admit(w, r)
	if !ok {
		return
	}
	defer m.release(sub)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	m.run(r.Context(), "sse", id, sub, &sseWriter{
		w:       w,
		rc:      http.NewResponseController(w),
		timeout: m.writeTimeout,
	})
}
