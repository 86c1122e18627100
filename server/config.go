package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded defaults
const (
	DefaultStateTTLSeconds   = 600
	DefaultProviderTimeout   = 10
	DefaultSessionTTLSeconds = 12 * 60 * 60

	GoogleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	GoogleTokenURL = "https://oauth2.googleapis.com/token"
	GoogleIssuer   = "https://accounts.google.com"
)

var (
	DefaultCORSAllowedHeaders = []string{"Authorization", "Content-Type"}
	DefaultCORSAllowedMethods = []string{"GET", "POST", "OPTIONS"}
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Google   GoogleConfig  `yaml:"google"`
	Auth     AuthConfig    `yaml:"auth"`
	Sessions SessionConfig `yaml:"sessions"`
	Chat     ChatConfig    `yaml:"chat"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string     `yaml:"public_url"`
	DevListenAddr   string     `yaml:"dev_listen_addr"`
	HTTPListenAddr  string     `yaml:"http_listen_addr"`
	HTTPSListenAddr string     `yaml:"https_listen_addr"`
	DevMode         bool       `yaml:"dev_mode"`
	CookieDomain    string     `yaml:"cookie_domain"`
	SecretsPath     string     `yaml:"secrets_path"`
	TLS             TLSConfig  `yaml:"tls"`
	CORS            CORSConfig `yaml:"cors"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains []string `yaml:"domains"`
	Email   string   `yaml:"email"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	ClientOriginURLs []string `yaml:"client_origin_urls"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
}

// GoogleConfig identifies this app to Google's OAuth endpoints. AuthURL and
// TokenURL default to Google's; the dev stub provider and tests override
// them. An empty Issuer disables id_token verification.
type GoogleConfig struct {
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	RedirectURI    string `yaml:"redirect_uri"`
	AuthURL        string `yaml:"auth_url"`
	TokenURL       string `yaml:"token_url"`
	Issuer         string `yaml:"issuer"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AuthConfig tunes the authorization flow core.
type AuthConfig struct {
	StateTTLSeconds int `yaml:"state_ttl_seconds"`
}

// SessionConfig tunes cookie-backed sessions.
type SessionConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// ChatConfig points the chat agent at its external chat-completion API.
type ChatConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	ExternalUserID string `yaml:"external_user_id"`
	EndpointID     string `yaml:"endpoint_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SecretsPath:     ".secrets",
			CORS: CORSConfig{
				AllowedMethods: DefaultCORSAllowedMethods,
				AllowedHeaders: DefaultCORSAllowedHeaders,
			},
		},
		Google: GoogleConfig{
			AuthURL:        GoogleAuthURL,
			TokenURL:       GoogleTokenURL,
			Issuer:         GoogleIssuer,
			TimeoutSeconds: DefaultProviderTimeout,
		},
		Auth: AuthConfig{
			StateTTLSeconds: DefaultStateTTLSeconds,
		},
		Sessions: SessionConfig{
			TTLSeconds: DefaultSessionTTLSeconds,
		},
		Chat: ChatConfig{
			BaseURL:        "https://api.on-demand.io/chat/v1",
			EndpointID:     "predefined-openai-gpt4.1",
			TimeoutSeconds: 30,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"GSUITED_SERVER_PUBLIC_URL":      func(v string) { cfg.Server.PublicURL = v },
		"GSUITED_SERVER_DEV_LISTEN_ADDR": func(v string) { cfg.Server.DevListenAddr = v },
		"GSUITED_SERVER_DEV_MODE":        func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"GSUITED_SERVER_SECRETS_PATH":    func(v string) { cfg.Server.SecretsPath = v },
		"GSUITED_SERVER_COOKIE_DOMAIN":   func(v string) { cfg.Server.CookieDomain = v },
		"GSUITED_SERVER_TLS_DOMAINS":     func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"GSUITED_SERVER_TLS_EMAIL":       func(v string) { cfg.Server.TLS.Email = v },
		"GOOGLE_CLIENT_ID":               func(v string) { cfg.Google.ClientID = v },
		"GOOGLE_CLIENT_SECRET":           func(v string) { cfg.Google.ClientSecret = v },
		"GSUITED_GOOGLE_REDIRECT_URI":    func(v string) { cfg.Google.RedirectURI = v },
		"GSUITED_AUTH_STATE_TTL":         func(v string) { cfg.Auth.StateTTLSeconds = parseInt(v, cfg.Auth.StateTTLSeconds) },
		"GSUITED_CHAT_API_KEY":           func(v string) { cfg.Chat.APIKey = v },
		"GSUITED_CHAT_EXTERNAL_USER_ID":  func(v string) { cfg.Chat.ExternalUserID = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(val string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return n
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// StateTTL returns the lifetime of an authorization state token.
func (c Config) StateTTL() time.Duration {
	return time.Duration(c.Auth.StateTTLSeconds) * time.Second
}

// ProviderTimeout bounds token-endpoint calls (exchange and refresh).
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Google.TimeoutSeconds) * time.Second
}

// SessionTTL returns the browser session lifetime.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLSeconds) * time.Second
}

// Timeout bounds a single upstream chat call.
func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CallbackURL is where the provider redirects after consent.
func (c Config) CallbackURL() string {
	if c.Google.RedirectURI != "" {
		return c.Google.RedirectURI
	}
	return strings.TrimSuffix(c.Server.PublicURL, "/") + "/auth/callback"
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if _, err := url.ParseRequestURI(c.Server.PublicURL); err != nil ||
		(!strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://")) {
		return fmt.Errorf("server.public_url must be an http(s) URL, got: %s", c.Server.PublicURL)
	}

	if c.Auth.StateTTLSeconds <= 0 {
		return errors.New("auth.state_ttl_seconds must be positive")
	}
	if c.Google.TimeoutSeconds <= 0 {
		return errors.New("google.timeout_seconds must be positive")
	}
	if c.Sessions.TTLSeconds <= 0 {
		return errors.New("sessions.ttl_seconds must be positive")
	}

	if c.Google.RedirectURI != "" {
		if !strings.HasPrefix(c.Google.RedirectURI, "http://") && !strings.HasPrefix(c.Google.RedirectURI, "https://") {
			return fmt.Errorf("google.redirect_uri must be an http(s) URL, got: %s", c.Google.RedirectURI)
		}
	}

	if !c.Server.DevMode {
		if c.Google.ClientID == "" {
			return errors.New("google.client_id is required in production mode")
		}
		if c.Google.ClientSecret == "" {
			return errors.New("google.client_secret is required in production mode")
		}
		if len(c.Server.TLS.Domains) == 0 {
			return errors.New("server.tls.domains must be provided in production")
		}
	} else if c.Google.ClientSecret == "" {
		slog.Warn("google.client_secret is not set; using the built-in dev provider")
	}

	return nil
}

// InferCORSOrigins falls back to the public URL origin when no client
// origins are configured.
func (c Config) InferCORSOrigins() []string {
	if len(c.Server.CORS.ClientOriginURLs) > 0 {
		return c.Server.CORS.ClientOriginURLs
	}
	u, err := url.Parse(c.Server.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}
	return []string{u.Scheme + "://" + u.Host}
}
