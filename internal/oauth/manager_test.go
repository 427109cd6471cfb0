package oauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type memoryBlobStore struct {
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, provider string) ([]byte, error) {
	if data, ok := m.data[provider]; ok {
		return data, nil
	}
	return nil, ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, provider string, data []byte) error {
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[provider] = data
	return nil
}

func newTokenServer(t *testing.T, requests *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		*requests++
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "refresh_token=seed-refresh") {
			t.Fatalf("expected seed refresh token, got %s", string(body))
		}
		if user, _, ok := r.BasicAuth(); !ok || user != DefaultClientID {
			t.Fatalf("expected basic auth for %q, got %q", DefaultClientID, user)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"fresh-token","refresh_token":"rotated-refresh","expires_in":3600,"token_type":"bearer"}`)
	}))
}

func TestManagerRefreshesAndPersists(t *testing.T) {
	var requests int
	server := newTokenServer(t, &requests)
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "state", "particle.json")
	blobs := &memoryBlobStore{}
	decl := Declaration{
		Provider:  "particle",
		TokenURL:  server.URL + "/oauth/token",
		StatePath: statePath,
	}

	manager, err := NewManagerFromBootstrap(decl, Bootstrap{RefreshToken: "seed-refresh"}, blobs, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		token, err := manager.AccessToken(ctx)
		if err != nil {
			t.Fatalf("AccessToken: %v", err)
		}
		if token != "fresh-token" {
			t.Fatalf("unexpected token %q", token)
		}
	}
	if requests != 1 {
		t.Fatalf("expected 1 token request, got %d", requests)
	}

	expiry := testutil.ToFloat64(tokenExpiry.WithLabelValues("particle"))
	if lower := float64(time.Now().Add(59 * time.Minute).Unix()); expiry < lower {
		t.Fatalf("unexpected expiry gauge %v, want >= %v", expiry, lower)
	}
	if n := testutil.CollectAndCount(refreshDuration, "particle_oauth_refresh_duration_seconds"); n == 0 {
		t.Fatalf("expected refresh latency to be observed")
	}

	info, err := os.Stat(statePath)
	if err != nil {
		t.Fatalf("stat state: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected state mode %v", info.Mode().Perm())
	}
	state, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.RefreshToken != "rotated-refresh" || state.AccessToken != "fresh-token" {
		t.Fatalf("unexpected persisted state: %+v", state)
	}

	var mirrored State
	if err := json.Unmarshal(blobs.data["particle"], &mirrored); err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	if mirrored.RefreshToken != "rotated-refresh" {
		t.Fatalf("unexpected mirrored refresh token %q", mirrored.RefreshToken)
	}
	if mirrored.AccessToken != "" {
		t.Fatalf("access token must not be mirrored")
	}
}

func TestManagerPrefersLocalState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "particle.json")
	if err := WriteState(statePath, State{
		ClientID:     DefaultClientID,
		RefreshToken: "local-refresh",
	}); err != nil {
		t.Fatalf("write state: %v", err)
	}

	decl := Declaration{Provider: "particle", StatePath: statePath}
	manager, err := NewManagerFromBootstrap(decl, Bootstrap{RefreshToken: "seed-refresh"}, nil, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if manager.state.RefreshToken != "local-refresh" {
		t.Fatalf("expected local refresh token, got %q", manager.state.RefreshToken)
	}
}

func TestManagerRejectsOpenStateFile(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "particle.json")
	if err := WriteState(statePath, State{ClientID: DefaultClientID, RefreshToken: "r"}); err != nil {
		t.Fatalf("write state: %v", err)
	}
	if err := os.Chmod(statePath, 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	decl := Declaration{Provider: "particle", StatePath: statePath}
	if _, err := NewManagerFromBootstrap(decl, Bootstrap{RefreshToken: "seed"}, nil, nil); err == nil {
		t.Fatalf("expected permission error")
	}
}

func TestManagerRequiresAbsoluteStatePath(t *testing.T) {
	decl := Declaration{Provider: "particle", StatePath: "relative.json"}
	if _, err := NewManagerFromBootstrap(decl, Bootstrap{RefreshToken: "seed"}, nil, nil); err == nil {
		t.Fatalf("expected error for relative state path")
	}
}

func TestBootstrapRequiresRefreshToken(t *testing.T) {
	if err := (Bootstrap{}).Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("http://minio.local:9000")
	if err != nil || host != "minio.local:9000" || secure {
		t.Fatalf("unexpected parse: %s %v %v", host, secure, err)
	}
	host, secure, err = parseEndpoint("s3.amazonaws.com")
	if err != nil || host != "s3.amazonaws.com" || !secure {
		t.Fatalf("unexpected parse: %s %v %v", host, secure, err)
	}
}

func TestNewBlobStoreDisabled(t *testing.T) {
	store, err := NewBlobStore(BlobConfig{})
	if err != nil {
		t.Fatalf("NewBlobStore: %v", err)
	}
	if _, err := store.Load(context.Background(), "particle"); err != ErrBlobNotFound {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}
