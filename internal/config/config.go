// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	BackendURL       string
	DBPath           string
	HTTPTimeout      time.Duration
	ConversationWait time.Duration
	SessionTTL       time.Duration
	Port             string
	FrontendURL      string
	LogLevel         slog.Level
	MetricsEnabled   bool
}

// Environment keys. Flags registered with BindFlags use the lower-kebab form.
const (
	KeyBackendURL       = "BACKEND_URL"
	KeyDBPath           = "DB_PATH"
	KeyHTTPTimeout      = "HTTP_TIMEOUT"
	KeyConversationWait = "CONVERSATION_WAIT"
	KeySessionTTL       = "SESSION_TTL"
	KeyPort             = "PORT"
	KeyFrontendURL      = "FRONTEND_URL"
	KeyLogLevel         = "LOG_LEVEL"
	KeyMetricsEnabled   = "METRICS_ENABLED"
)

// New returns a viper instance reading the environment with defaults applied.
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault(KeyBackendURL, "https://govoyr.com")
	v.SetDefault(KeyDBPath, "./data/togethr.db")
	v.SetDefault(KeyHTTPTimeout, 30*time.Second)
	v.SetDefault(KeyConversationWait, 500*time.Millisecond)
	v.SetDefault(KeySessionTTL, 12*time.Hour)
	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyFrontendURL, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyMetricsEnabled, true)
	return v
}

// BindFlags lets command-line flags override environment values.
// Only flags that exist on the set are bound.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, key := range []string{
		KeyBackendURL, KeyDBPath, KeyHTTPTimeout, KeyConversationWait,
		KeySessionTTL, KeyPort, KeyFrontendURL, KeyLogLevel, KeyMetricsEnabled,
	} {
		name := flagName(key)
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func flagName(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "-")
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		BackendURL:       strings.TrimRight(strings.TrimSpace(v.GetString(KeyBackendURL)), "/"),
		DBPath:           v.GetString(KeyDBPath),
		HTTPTimeout:      v.GetDuration(KeyHTTPTimeout),
		ConversationWait: v.GetDuration(KeyConversationWait),
		SessionTTL:       v.GetDuration(KeySessionTTL),
		Port:             v.GetString(KeyPort),
		FrontendURL:      v.GetString(KeyFrontendURL),
		LogLevel:         parseLevel(v.GetString(KeyLogLevel)),
		MetricsEnabled:   v.GetBool(KeyMetricsEnabled),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL cannot be empty")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute http(s) URL")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be > 0")
	}
	if c.ConversationWait <= 0 {
		return fmt.Errorf("CONVERSATION_WAIT must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the local shell.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
