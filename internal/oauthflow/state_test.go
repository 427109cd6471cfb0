package oauthflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/particle/internal/oauth"
)

type memoryBlobStore struct {
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, provider string) ([]byte, error) {
	if data, ok := m.data[provider]; ok {
		return data, nil
	}
	return nil, oauth.ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, provider string, data []byte) error {
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[provider] = data
	return nil
}

func TestPasswordLoginAndPersist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "me@example.com", r.PostForm.Get("username"))
		assert.Equal(t, "hunter2", r.PostForm.Get("password"))
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, oauth.DefaultClientID, user)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"a1","refresh_token":"r1","expires_in":7776000,"token_type":"bearer"}`)
	}))
	defer server.Close()

	dir := t.TempDir()
	decl := oauth.Declaration{
		Provider:  "particle",
		TokenURL:  server.URL + "/oauth/token",
		StatePath: filepath.Join(dir, "state.json"),
	}

	ctx := context.Background()
	state, err := PasswordLogin(ctx, decl, "me@example.com", "hunter2", server.Client())
	require.NoError(t, err)
	assert.Equal(t, "r1", state.RefreshToken)
	assert.Equal(t, "a1", state.AccessToken)

	blobs := &memoryBlobStore{}
	bootstrapPath := filepath.Join(dir, "bootstrap.json")
	result, err := PersistState(ctx, decl, state, blobs, PersistOptions{BootstrapPath: bootstrapPath})
	require.NoError(t, err)
	assert.True(t, result.BlobSaved)
	assert.Equal(t, bootstrapPath, result.BootstrapPath)

	loaded, err := oauth.LoadState(decl.StatePath)
	require.NoError(t, err)
	assert.Equal(t, "a1", loaded.AccessToken)

	bootstrap, err := oauth.LoadBootstrap(bootstrapPath)
	require.NoError(t, err)
	assert.Equal(t, "r1", bootstrap.RefreshToken)

	var mirrored oauth.State
	require.NoError(t, json.Unmarshal(blobs.data["particle"], &mirrored))
	assert.Empty(t, mirrored.AccessToken)
	assert.Equal(t, "r1", mirrored.RefreshToken)
}

func TestPasswordLoginRequiresCredentials(t *testing.T) {
	_, err := PasswordLogin(context.Background(), oauth.Declaration{}, " ", "", nil)
	assert.Error(t, err)
}

func TestPersistStateRequiresPath(t *testing.T) {
	_, err := PersistState(context.Background(), oauth.Declaration{}, oauth.State{}, nil, PersistOptions{})
	assert.Error(t, err)
}
