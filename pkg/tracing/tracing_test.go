package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "pulse", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestHandlerPassesThrough(t *testing.T) {
	h := Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), "test", "/events")

	for _, path := range []string{"/posts", "/events"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusTeapot {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
}
