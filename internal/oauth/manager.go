package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultRefreshInterval = 10 * time.Minute

	// expiryMargin is how long before expiry a cached access token stops being handed out.
	expiryMargin = 30 * time.Second
)

var ErrScopeMismatch = errors.New("oauth scope mismatch")

// Manager hands out access tokens, refreshing them with the stored refresh
// token and persisting rotated state locally and to the blob store.
type Manager struct {
	decl       Declaration
	blobStore  BlobStore
	httpClient *http.Client
	logger     *slog.Logger
	config     *oauth2.Config

	mu    sync.Mutex
	state State
	// refreshMu serializes token endpoint calls
	refreshMu       sync.Mutex
	refreshInFlight bool
}

func NewManager(decl Declaration, bootstrapPath string, blobStore BlobStore, logger *slog.Logger) (*Manager, error) {
	if bootstrapPath == "" {
		return nil, fmt.Errorf("bootstrap path is required")
	}
	bootstrap, err := LoadBootstrap(bootstrapPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return NewManagerFromBootstrap(decl, bootstrap, blobStore, logger)
}

// NewManagerFromBootstrap creates a Manager from an in-memory Bootstrap.
func NewManagerFromBootstrap(decl Declaration, bootstrap Bootstrap, blobStore BlobStore, logger *slog.Logger) (*Manager, error) {
	if decl.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if decl.TokenURL == "" {
		decl.TokenURL = DefaultTokenURL
	}
	if decl.StatePath == "" {
		return nil, fmt.Errorf("statePath is required")
	}
	if !filepath.IsAbs(decl.StatePath) {
		return nil, fmt.Errorf("statePath must be absolute")
	}
	if blobStore == nil {
		blobStore = NopStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	bootstrap = bootstrap.withDefaults()
	if err := bootstrap.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	m := &Manager{
		decl:       decl,
		blobStore:  blobStore,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With("component", "oauth", "provider", decl.Provider),
		config: &oauth2.Config{
			ClientID:     bootstrap.ClientID,
			ClientSecret: bootstrap.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  decl.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			Scopes: strings.Fields(decl.Scope),
		},
	}

	state, err := m.loadInitialState(context.Background(), bootstrap)
	if err != nil {
		return nil, err
	}
	m.state = state
	recordExpiry(decl.Provider, state.ExpiresAt)
	return m, nil
}

// Start refreshes in the background until ctx is done. A non-positive
// interval disables background refresh.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	threshold := max(interval, expiryMargin)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if m.needsRefresh(threshold) {
				if _, err := m.refresh(ctx); err != nil {
					m.logger.Warn("background refresh failed", "error", err)
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// AccessToken returns a valid access token, refreshing synchronously when the
// cached one is missing or about to expire.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if token := m.state.AccessToken; token != "" && time.Until(m.state.ExpiresAt) > expiryMargin {
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	tokenValid.WithLabelValues(m.decl.Provider).Set(0)
	return m.refresh(ctx)
}

// TriggerRefresh drops the cached access token and refreshes in the background.
func (m *Manager) TriggerRefresh(ctx context.Context) {
	m.mu.Lock()
	m.state.AccessToken = ""
	if m.refreshInFlight {
		m.mu.Unlock()
		return
	}
	m.refreshInFlight = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.refreshInFlight = false
			m.mu.Unlock()
		}()
		if _, err := m.refresh(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("triggered refresh failed", "error", err)
		}
	}()
}

func (m *Manager) needsRefresh(threshold time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AccessToken == "" || time.Until(m.state.ExpiresAt) <= threshold
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	if token := m.state.AccessToken; token != "" && time.Until(m.state.ExpiresAt) > expiryMargin {
		m.mu.Unlock()
		return token, nil
	}
	refreshToken := m.state.RefreshToken
	m.mu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	start := time.Now()
	token, err := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	observeRefresh(m.decl.Provider, start, err)
	if err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			body := strings.TrimSpace(string(retrieveErr.Body))
			return "", fmt.Errorf("token refresh failed %d: %s", retrieveErr.Response.StatusCode, body)
		}
		return "", fmt.Errorf("token refresh: %w", err)
	}

	m.mu.Lock()
	m.state.AccessToken = token.AccessToken
	m.state.ExpiresAt = token.Expiry
	if token.RefreshToken != "" {
		m.state.RefreshToken = token.RefreshToken
	}
	state := m.state
	m.mu.Unlock()

	if err := WriteState(m.decl.StatePath, state); err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		return "", fmt.Errorf("persist state: %w", err)
	}
	m.mirror(ctx, state)

	refreshSuccess.WithLabelValues(m.decl.Provider).Inc()
	tokenValid.WithLabelValues(m.decl.Provider).Set(1)
	recordExpiry(m.decl.Provider, state.ExpiresAt)
	m.logger.Debug("access token refreshed", "expires_at", state.ExpiresAt)
	return state.AccessToken, nil
}

// loadInitialState prefers the local state file, then the blob mirror, then
// the bootstrap refresh token.
func (m *Manager) loadInitialState(ctx context.Context, bootstrap Bootstrap) (State, error) {
	local, localErr := LoadState(m.decl.StatePath)
	if localErr == nil {
		if err := checkStateFile(m.decl.StatePath); err != nil {
			return State{}, err
		}
		return m.adopt(ctx, local, bootstrap, false)
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		return State{}, localErr
	}

	data, blobErr := m.blobStore.Load(ctx, m.decl.Provider)
	if blobErr == nil {
		blob, err := DecodeState(data)
		if err != nil {
			return State{}, fmt.Errorf("blob state: %w", err)
		}
		return m.adopt(ctx, blob, bootstrap, true)
	}
	if !errors.Is(blobErr, ErrBlobNotFound) {
		return State{}, blobErr
	}

	return m.adopt(ctx, bootstrap.state(), bootstrap, true)
}

func (m *Manager) adopt(ctx context.Context, state State, bootstrap Bootstrap, writeLocal bool) (State, error) {
	if state.Scope == "" {
		state.Scope = m.decl.Scope
	}
	if state.Scope != m.decl.Scope {
		scopeMismatch.WithLabelValues(m.decl.Provider).Inc()
		return State{}, ErrScopeMismatch
	}
	state.ClientID = bootstrap.ClientID
	state.ClientSecret = bootstrap.ClientSecret

	if writeLocal {
		if err := WriteState(m.decl.StatePath, state); err != nil {
			return State{}, err
		}
	}
	m.mirror(ctx, state)
	return state, nil
}

// mirror saves state to the blob store. Failures only flip the health gauge.
func (m *Manager) mirror(ctx context.Context, state State) {
	remote := state
	remote.AccessToken = ""
	remote.ExpiresAt = time.Time{}
	data, err := json.MarshalIndent(remote, "", "  ")
	if err == nil {
		err = m.blobStore.Save(ctx, m.decl.Provider, data)
	}
	if err != nil {
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(0)
		m.logger.Warn("mirror oauth state", "error", err)
		return
	}
	remotePersistOK.WithLabelValues(m.decl.Provider).Set(1)
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("state file %s must not be readable by group or others", path)
	}
	return nil
}
