package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	s := NewServer("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyEndpointTracksState(t *testing.T) {
	s := NewServer("127.0.0.1", 0)

	get := func() int {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rec := httptest.NewRecorder()
		s.srv.Handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := get(); code != http.StatusServiceUnavailable {
		t.Errorf("before SetReady: status = %d, want %d", code, http.StatusServiceUnavailable)
	}

	s.SetReady(true)
	if code := get(); code != http.StatusOK {
		t.Errorf("after SetReady(true): status = %d, want %d", code, http.StatusOK)
	}

	s.SetReady(false)
	if code := get(); code != http.StatusServiceUnavailable {
		t.Errorf("after SetReady(false): status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}
