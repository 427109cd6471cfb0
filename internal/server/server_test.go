package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMuxEndpoints(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "particle_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	mux := NewMux(registry, func() any { return map[string]string{"state": "online"} })
	server := httptest.NewServer(mux)
	defer server.Close()

	cases := map[string]string{
		"/health":  "ok",
		"/metrics": "particle_test_total 1",
		"/status":  `{"state":"online"}`,
	}
	for path, want := range cases {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
		if !strings.Contains(string(body), want) {
			t.Fatalf("GET %s: expected %q in %s", path, want, body)
		}
	}
}

func TestMuxWithoutStatus(t *testing.T) {
	server := httptest.NewServer(NewMux(prometheus.NewRegistry(), nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
