package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion               = 1
	DefaultPath                 = "/etc/particle/config.yaml"
	DefaultBaseURL              = "https://api.particle.io"
	DefaultTimeoutSeconds       = 15
	DefaultRequestsPerMinute    = 600
	DefaultCacheSeconds         = 10
	DefaultOAuthPrefix          = "particle/oauth"
	DefaultRefreshSeconds       = 600
	DefaultMQTTPort             = 1883
	DefaultMQTTTopicPrefix      = "particle"
	DefaultBridgeHTTPAddr       = "0.0.0.0:9464"
	DefaultBridgePollSeconds    = 60
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultLogOutput            = "stderr"
	envConfigPath               = "PARTICLE_CONFIG"
	envAccessToken              = "PARTICLE_ACCESS_TOKEN"
	envBaseURL                  = "PARTICLE_BASE_URL"
	defaultStateFileName        = "oauth-state.json"
	defaultUserConfigDirName    = "particle"
	defaultUserConfigFileName   = "config.yaml"
	defaultSystemStateDirectory = "/var/lib/particle"
)

// Config is the root configuration for the CLI and the bridge.
type Config struct {
	SchemaVersion int           `yaml:"schema_version"`
	Cloud         CloudConfig   `yaml:"cloud"`
	OAuth         OAuthConfig   `yaml:"oauth"`
	Rate          RateConfig    `yaml:"rate"`
	MQTT          MQTTConfig    `yaml:"mqtt"`
	Bridge        BridgeConfig  `yaml:"bridge"`
	Logging       LoggingConfig `yaml:"logging"`
}

// CloudConfig locates the API and the credentials used against it. Either
// AccessToken/AccessTokenFile or BootstrapFile must be set.
type CloudConfig struct {
	BaseURL         string `yaml:"base_url"`
	AccessToken     string `yaml:"access_token"`
	AccessTokenFile string `yaml:"access_token_file"`
	BootstrapFile   string `yaml:"bootstrap_file"`
	StatePath       string `yaml:"state_path"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// OAuthConfig controls token refresh and the state mirror bucket.
type OAuthConfig struct {
	TokenURL               string `yaml:"token_url"`
	BlobEndpoint           string `yaml:"blob_endpoint"`
	BlobBucket             string `yaml:"blob_bucket"`
	BlobPrefix             string `yaml:"blob_prefix"`
	BlobAccessKeyFile      string `yaml:"blob_access_key_file"`
	BlobSecretKeyFile      string `yaml:"blob_secret_key_file"`
	BlobRegion             string `yaml:"blob_region"`
	RefreshEnabled         *bool  `yaml:"refresh_enabled"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
}

type RateConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	BudgetFloor       int `yaml:"budget_floor"`
	CacheSeconds      int `yaml:"cache_seconds"`
}

// MQTTConfig configures the bridge's broker connection.
type MQTTConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	TLS          bool   `yaml:"tls"`
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`
	ClientID     string `yaml:"client_id"`
	TopicPrefix  string `yaml:"topic_prefix"`
	QoS          int    `yaml:"qos"`
	Retain       *bool  `yaml:"retain"`
}

type BridgeConfig struct {
	HTTPAddr            string `yaml:"http_addr"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load parses the YAML config file, applies defaults and env overrides, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the first config found on the search path. With no
// config file, a token from the environment is enough to run the CLI.
func LoadDefault() (*Config, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{SchemaVersion: SchemaVersion}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("no config file found (%s) and %s: %w", strings.Join(SearchPaths(), ", "), envAccessToken, err)
	}
	return cfg, nil
}

// SearchPaths lists config locations in lookup order.
func SearchPaths() []string {
	if path := os.Getenv(envConfigPath); path != "" {
		return []string{path}
	}
	paths := []string{DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", defaultUserConfigDirName, defaultUserConfigFileName))
	}
	return paths
}

func applyEnv(cfg *Config) {
	if token := os.Getenv(envAccessToken); token != "" {
		cfg.Cloud.AccessToken = token
	}
	if baseURL := os.Getenv(envBaseURL); baseURL != "" {
		cfg.Cloud.BaseURL = baseURL
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Cloud.BaseURL == "" {
		cfg.Cloud.BaseURL = DefaultBaseURL
	}
	cfg.Cloud.BaseURL = strings.TrimRight(cfg.Cloud.BaseURL, "/")
	if cfg.Cloud.TimeoutSeconds == 0 {
		cfg.Cloud.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.Cloud.BootstrapFile != "" && cfg.Cloud.StatePath == "" {
		cfg.Cloud.StatePath = filepath.Join(defaultSystemStateDirectory, defaultStateFileName)
	}

	if cfg.OAuth.BlobPrefix == "" {
		cfg.OAuth.BlobPrefix = DefaultOAuthPrefix
	}
	if cfg.OAuth.RefreshEnabled == nil {
		enabled := true
		cfg.OAuth.RefreshEnabled = &enabled
	}
	if cfg.OAuth.RefreshIntervalSeconds == 0 {
		cfg.OAuth.RefreshIntervalSeconds = DefaultRefreshSeconds
	}

	if cfg.Rate.RequestsPerMinute == 0 {
		cfg.Rate.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Rate.CacheSeconds == 0 {
		cfg.Rate.CacheSeconds = DefaultCacheSeconds
	}

	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = DefaultMQTTPort
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
	cfg.MQTT.TopicPrefix = strings.Trim(cfg.MQTT.TopicPrefix, "/")
	if cfg.MQTT.Retain == nil {
		retain := true
		cfg.MQTT.Retain = &retain
	}

	if cfg.Bridge.HTTPAddr == "" {
		cfg.Bridge.HTTPAddr = DefaultBridgeHTTPAddr
	}
	if cfg.Bridge.PollIntervalSeconds == 0 {
		cfg.Bridge.PollIntervalSeconds = DefaultBridgePollSeconds
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}
}

// Validate enforces invariants the YAML types cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	hasToken := cfg.Cloud.AccessToken != "" || cfg.Cloud.AccessTokenFile != ""
	if !hasToken && cfg.Cloud.BootstrapFile == "" {
		return fmt.Errorf("cloud.access_token, cloud.access_token_file or cloud.bootstrap_file is required")
	}
	if cfg.Cloud.BootstrapFile != "" && !filepath.IsAbs(cfg.Cloud.StatePath) {
		return fmt.Errorf("cloud.state_path must be absolute")
	}
	if cfg.Cloud.TimeoutSeconds < 0 {
		return fmt.Errorf("cloud.timeout_seconds must not be negative")
	}

	blobSet := cfg.OAuth.BlobEndpoint != "" || cfg.OAuth.BlobBucket != ""
	if blobSet {
		if cfg.OAuth.BlobEndpoint == "" {
			return fmt.Errorf("oauth.blob_endpoint is required")
		}
		if cfg.OAuth.BlobBucket == "" {
			return fmt.Errorf("oauth.blob_bucket is required")
		}
		if cfg.OAuth.BlobAccessKeyFile == "" {
			return fmt.Errorf("oauth.blob_access_key_file is required")
		}
		if cfg.OAuth.BlobSecretKeyFile == "" {
			return fmt.Errorf("oauth.blob_secret_key_file is required")
		}
	}

	if cfg.Rate.RequestsPerMinute < 0 {
		return fmt.Errorf("rate.requests_per_minute must not be negative")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.Bridge.PollIntervalSeconds < 0 {
		return fmt.Errorf("bridge.poll_interval_seconds must not be negative")
	}
	return nil
}

// ResolveAccessToken returns the static token from config or its file.
func (c CloudConfig) ResolveAccessToken() (string, error) {
	if c.AccessToken != "" {
		return c.AccessToken, nil
	}
	if c.AccessTokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.AccessTokenFile)
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// MQTTEnabled reports whether the bridge should publish to a broker.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Host != ""
}
