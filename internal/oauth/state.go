package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const SchemaVersion = 1

var ErrStateNotFound = errors.New("oauth state not found")

// State is the persisted refresh state. The last access token is kept so
// short-lived CLI invocations do not refresh on every run.
type State struct {
	SchemaVersion int       `json:"schema_version"`
	ClientID      string    `json:"client_id"`
	ClientSecret  string    `json:"client_secret"`
	RefreshToken  string    `json:"refresh_token"`
	Scope         string    `json:"scope,omitempty"`
	AccessToken   string    `json:"access_token,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

// Bootstrap holds the credentials an operator seeds the state with.
type Bootstrap struct {
	SchemaVersion int    `json:"schema_version,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
	ClientSecret  string `json:"client_secret,omitempty"`
	RefreshToken  string `json:"refresh_token"`
	Scope         string `json:"scope,omitempty"`
}

func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	return DecodeState(data)
}

func LoadBootstrap(path string) (Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("read bootstrap: %w", err)
	}
	var b Bootstrap
	if err := json.Unmarshal(data, &b); err != nil {
		return Bootstrap{}, fmt.Errorf("decode bootstrap: %w", err)
	}
	b = b.withDefaults()
	if err := b.Validate(); err != nil {
		return Bootstrap{}, err
	}
	return b, nil
}

func DecodeState(data []byte) (State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s State) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %d", s.SchemaVersion)
	}
	if s.ClientID == "" {
		return fmt.Errorf("state missing client_id")
	}
	if s.RefreshToken == "" {
		return fmt.Errorf("state missing refresh_token")
	}
	return nil
}

func (b Bootstrap) withDefaults() Bootstrap {
	if b.ClientID == "" {
		b.ClientID = DefaultClientID
		if b.ClientSecret == "" {
			b.ClientSecret = DefaultClientSecret
		}
	}
	return b
}

func (b Bootstrap) Validate() error {
	if b.SchemaVersion != 0 && b.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported bootstrap schema_version: %d", b.SchemaVersion)
	}
	if b.RefreshToken == "" {
		return fmt.Errorf("bootstrap missing refresh_token")
	}
	return nil
}

func (b Bootstrap) state() State {
	return State{
		SchemaVersion: SchemaVersion,
		ClientID:      b.ClientID,
		ClientSecret:  b.ClientSecret,
		RefreshToken:  b.RefreshToken,
		Scope:         b.Scope,
	}
}

func WriteState(path string, state State) error {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, path)
}
