package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/joshp123/particle/internal/oauth"
)

// PersistResult reports persistence outcomes.
type PersistResult struct {
	StatePath     string
	BootstrapPath string
	BlobSaved     bool
}

// PersistOptions controls persistence behavior.
type PersistOptions struct {
	StatePathOverride string
	BootstrapPath     string
	SkipBlob          bool
}

// PasswordLogin exchanges account credentials for a token with the password
// grant and returns the state to persist.
func PasswordLogin(ctx context.Context, decl oauth.Declaration, username, password string, httpClient *http.Client) (oauth.State, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return oauth.State{}, fmt.Errorf("username and password are required")
	}
	tokenURL := decl.TokenURL
	if tokenURL == "" {
		tokenURL = oauth.DefaultTokenURL
	}
	cfg := &oauth2.Config{
		ClientID:     oauth.DefaultClientID,
		ClientSecret: oauth.DefaultClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	if decl.Scope != "" {
		cfg.Scopes = strings.Fields(decl.Scope)
	}
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	token, err := cfg.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return oauth.State{}, fmt.Errorf("password login: %w", err)
	}
	if token.RefreshToken == "" {
		return oauth.State{}, fmt.Errorf("password login: token response has no refresh_token")
	}
	return oauth.State{
		SchemaVersion: oauth.SchemaVersion,
		ClientID:      oauth.DefaultClientID,
		ClientSecret:  oauth.DefaultClientSecret,
		RefreshToken:  token.RefreshToken,
		Scope:         decl.Scope,
		AccessToken:   token.AccessToken,
		ExpiresAt:     token.Expiry,
	}, nil
}

// PersistState writes state to disk, seeds the bootstrap file and optionally
// mirrors the refresh state to blob storage.
func PersistState(ctx context.Context, decl oauth.Declaration, state oauth.State, blob oauth.BlobStore, opts PersistOptions) (PersistResult, error) {
	statePath := decl.StatePath
	if opts.StatePathOverride != "" {
		statePath = opts.StatePathOverride
	}
	if statePath == "" {
		return PersistResult{}, fmt.Errorf("state path missing")
	}
	if err := oauth.WriteState(statePath, state); err != nil {
		return PersistResult{}, err
	}
	result := PersistResult{StatePath: statePath}

	if opts.BootstrapPath != "" {
		if err := writeBootstrap(opts.BootstrapPath, state); err != nil {
			return result, err
		}
		result.BootstrapPath = opts.BootstrapPath
	}

	if _, nop := blob.(oauth.NopStore); opts.SkipBlob || blob == nil || nop {
		return result, nil
	}
	mirrored := state
	mirrored.AccessToken = ""
	mirrored.ExpiresAt = time.Time{}
	payload, err := json.MarshalIndent(mirrored, "", "  ")
	if err != nil {
		return result, err
	}
	if err := blob.Save(ctx, decl.Provider, payload); err != nil {
		return result, err
	}
	result.BlobSaved = true
	return result, nil
}

func writeBootstrap(path string, state oauth.State) error {
	bootstrap := oauth.Bootstrap{
		SchemaVersion: oauth.SchemaVersion,
		ClientID:      state.ClientID,
		ClientSecret:  state.ClientSecret,
		RefreshToken:  state.RefreshToken,
		Scope:         state.Scope,
	}
	data, err := json.MarshalIndent(bootstrap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bootstrap: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir bootstrap dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write bootstrap: %w", err)
	}
	return nil
}
