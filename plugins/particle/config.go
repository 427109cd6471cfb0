package particle

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joshp123/particle/internal/config"
	"github.com/joshp123/particle/internal/oauth"
	"github.com/joshp123/particle/internal/rate"
)

const (
	defaultBaseURL    = "https://api.particle.io"
	defaultTimeout    = 15 * time.Second
	binariesPath      = "/v1/binaries"
	keyUploadFilename = "particle-go"
	oauthProvider     = "particle"
)

// Config defines runtime configuration for the Particle client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

// RateLimits declares the client-side budget for the Particle API.
func RateLimits(cfg config.RateConfig) rate.Declaration {
	decl := rate.API(oauthProvider).
		ReadHeaders(rate.ParticleHeaders()).
		BudgetFloor(cfg.BudgetFloor).
		CacheFor(time.Duration(cfg.CacheSeconds) * time.Second)
	if cfg.RequestsPerMinute > 0 {
		decl = decl.MaxRequestsPer(rate.Minute, cfg.RequestsPerMinute)
	}
	return decl
}

// ConfigFromFile maps the loaded file config to a client Config with a
// rate-limited HTTP client.
func ConfigFromFile(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("particle config is required")
	}
	base := &http.Client{Timeout: time.Duration(cfg.Cloud.TimeoutSeconds) * time.Second}
	return Config{
		BaseURL:    cfg.Cloud.BaseURL,
		HTTPClient: rate.WrapHTTP(RateLimits(cfg.Rate), base),
	}, nil
}

// TokensFromConfig returns a static token source when an access token is
// configured and an OAuth manager when only a bootstrap file is.
func TokensFromConfig(cfg *config.Config, logger *slog.Logger) (TokenSource, error) {
	token, err := cfg.Cloud.ResolveAccessToken()
	if err != nil {
		return nil, err
	}
	if token != "" {
		return StaticToken(token), nil
	}

	blobStore, err := BlobStoreFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	manager, err := oauth.NewManager(OAuthDeclaration(cfg), cfg.Cloud.BootstrapFile, blobStore, logger)
	if err != nil {
		return nil, err
	}
	return manager, nil
}

// OAuthDeclaration describes the Particle token endpoint and local state.
func OAuthDeclaration(cfg *config.Config) oauth.Declaration {
	tokenURL := cfg.OAuth.TokenURL
	if tokenURL == "" {
		tokenURL = cfg.Cloud.BaseURL + "/oauth/token"
	}
	return oauth.Declaration{
		Provider:  oauthProvider,
		TokenURL:  tokenURL,
		StatePath: cfg.Cloud.StatePath,
	}
}

func BlobStoreFromConfig(cfg *config.Config) (oauth.BlobStore, error) {
	return oauth.NewBlobStore(oauth.BlobConfig{
		Endpoint:      cfg.OAuth.BlobEndpoint,
		Bucket:        cfg.OAuth.BlobBucket,
		Prefix:        cfg.OAuth.BlobPrefix,
		AccessKeyFile: cfg.OAuth.BlobAccessKeyFile,
		SecretKeyFile: cfg.OAuth.BlobSecretKeyFile,
		Region:        cfg.OAuth.BlobRegion,
	})
}

// NewClientFromConfig wires token source, rate limiting and HTTP client from
// the loaded config.
func NewClientFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, TokenSource, error) {
	clientCfg, err := ConfigFromFile(cfg)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := TokensFromConfig(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return NewClient(clientCfg, tokens, logger), tokens, nil
}
