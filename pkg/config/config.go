package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultConfigFileName = "copilot-relay.toml"

	AccountTypeIndividual = "individual"
	AccountTypeBusiness   = "business"
	AccountTypeEnterprise = "enterprise"
)

type OAuthConfig struct {
	ClientID       string `toml:"client_id"`
	Scopes         string `toml:"scopes"`
	DeviceCodeURL  string `toml:"device_code_url"`
	AccessTokenURL string `toml:"access_token_url"`
}

type APIConfig struct {
	Individual string `toml:"individual"`
	Business   string `toml:"business"`
	Enterprise string `toml:"enterprise"`
}

type HeadersConfig struct {
	EditorVersion       string `toml:"editor_version"`
	EditorPluginVersion string `toml:"editor_plugin_version"`
	IntegrationID       string `toml:"integration_id"`
	UserAgent           string `toml:"user_agent"`
	OpenAIIntent        string `toml:"openai_intent"`
}

type TLSConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
	Domain     string `toml:"domain"`
	Email      string `toml:"email"`
	CacheDir   string `toml:"cache_dir"`
}

type Config struct {
	ListenAddr                string        `toml:"listen_addr"`
	AccountType               string        `toml:"account_type"`
	DefaultModel              string        `toml:"default_model"`
	DefaultEmbeddingModel     string        `toml:"default_embedding_model"`
	TokenExchangeURL          string        `toml:"token_exchange_url"`
	TokenRefreshBufferSeconds int           `toml:"token_refresh_buffer_seconds"`
	UpstreamTimeoutSeconds    int           `toml:"upstream_timeout_seconds"`
	TokenDir                  string        `toml:"token_dir"`
	LogLevel                  string        `toml:"loglevel"`
	OAuth                     OAuthConfig   `toml:"oauth"`
	API                       APIConfig     `toml:"api"`
	Headers                   HeadersConfig `toml:"headers"`
	TLS                       TLSConfig     `toml:"tls"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "copilot-relay", defaultConfigFileName)
}

func DefaultTokenDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tokens"
	}
	return filepath.Join(home, ".config", "copilot-relay")
}

func DefaultTLSCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tls-autocert"
	}
	return filepath.Join(home, ".cache", "copilot-relay", "tls-autocert")
}

func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:                "127.0.0.1:8080",
		AccountType:               AccountTypeIndividual,
		DefaultModel:              "gpt-4o",
		DefaultEmbeddingModel:     "text-embedding-ada-002",
		TokenExchangeURL:          "https://api.github.com/copilot_internal/v2/token",
		TokenRefreshBufferSeconds: 300,
		UpstreamTimeoutSeconds:    300,
		TokenDir:                  DefaultTokenDir(),
		LogLevel:                  "info",
		OAuth: OAuthConfig{
			ClientID:       "Iv1.b507a08c87ecfe98",
			Scopes:         "read:user",
			DeviceCodeURL:  "https://github.com/login/device/code",
			AccessTokenURL: "https://github.com/login/oauth/access_token",
		},
		API: APIConfig{
			Individual: "https://api.githubcopilot.com",
			Business:   "https://api.business.githubcopilot.com",
			Enterprise: "https://api.enterprise.githubcopilot.com",
		},
		Headers: HeadersConfig{
			EditorVersion:       "vscode/1.99.2",
			EditorPluginVersion: "copilot-chat/0.26.3",
			IntegrationID:       "vscode-chat",
			UserAgent:           "GitHubCopilotChat/0.26.3",
			OpenAIIntent:        "conversation-panel",
		},
		TLS: TLSConfig{
			Enabled:    false,
			ListenAddr: ":443",
			CacheDir:   DefaultTLSCacheDir(),
		},
	}
}

// APIBaseURL returns the upstream API base for the configured account type.
func (c *Config) APIBaseURL() string {
	switch strings.ToLower(strings.TrimSpace(c.AccountType)) {
	case AccountTypeEnterprise:
		return c.API.Enterprise
	case AccountTypeBusiness:
		return c.API.Business
	default:
		return c.API.Individual
	}
}

func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadOrCreate(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeAtomic(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	} else {
		if err != nil {
			return nil, fmt.Errorf("stat config: %w", err)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return writeAtomic(path, cfg)
}

func writeAtomic(path string, v any) error {
	b, err := marshalTOML(v)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func marshalTOML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentSymbol("  ")
	enc.SetIndentTables(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}

func (c *Config) Normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8080"
	}
	c.AccountType = strings.ToLower(strings.TrimSpace(c.AccountType))
	switch c.AccountType {
	case AccountTypeIndividual, AccountTypeBusiness, AccountTypeEnterprise:
	default:
		c.AccountType = AccountTypeIndividual
	}
	c.DefaultModel = strings.TrimSpace(c.DefaultModel)
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o"
	}
	c.DefaultEmbeddingModel = strings.TrimSpace(c.DefaultEmbeddingModel)
	if c.DefaultEmbeddingModel == "" {
		c.DefaultEmbeddingModel = "text-embedding-ada-002"
	}
	if c.TokenRefreshBufferSeconds <= 0 {
		c.TokenRefreshBufferSeconds = 300
	}
	if c.UpstreamTimeoutSeconds <= 0 {
		c.UpstreamTimeoutSeconds = 300
	}
	c.TokenDir = strings.TrimSpace(c.TokenDir)
	if c.TokenDir == "" {
		c.TokenDir = DefaultTokenDir()
	}
	c.LogLevel = strings.TrimSpace(c.LogLevel)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.TLS.ListenAddr = strings.TrimSpace(c.TLS.ListenAddr)
	if c.TLS.ListenAddr == "" {
		c.TLS.ListenAddr = ":443"
	}
	c.TLS.Domain = strings.TrimSpace(c.TLS.Domain)
	c.TLS.Email = strings.TrimSpace(c.TLS.Email)
	c.TLS.CacheDir = strings.TrimSpace(c.TLS.CacheDir)
	if c.TLS.CacheDir == "" {
		c.TLS.CacheDir = DefaultTLSCacheDir()
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.OAuth.ClientID) == "" {
		return errors.New("oauth.client_id must not be empty")
	}
	if strings.TrimSpace(c.OAuth.DeviceCodeURL) == "" {
		return errors.New("oauth.device_code_url must not be empty")
	}
	if strings.TrimSpace(c.OAuth.AccessTokenURL) == "" {
		return errors.New("oauth.access_token_url must not be empty")
	}
	if strings.TrimSpace(c.TokenExchangeURL) == "" {
		return errors.New("token_exchange_url must not be empty")
	}
	if strings.TrimSpace(c.APIBaseURL()) == "" {
		return fmt.Errorf("no api base url configured for account type %q", c.AccountType)
	}
	if c.TLS.Enabled && c.TLS.Domain == "" {
		return errors.New("tls.domain is required when tls is enabled")
	}
	return nil
}
