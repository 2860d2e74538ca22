package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "https://govoyr.com", cfg.BackendURL)
	assert.Equal(t, 500*time.Millisecond, cfg.ConversationWait)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(KeyBackendURL, "http://localhost:9000/")
	t.Setenv(KeyConversationWait, "250ms")
	t.Setenv(KeyLogLevel, "debug")
	t.Setenv(KeyFrontendURL, "https://shop.example.com")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000", cfg.BackendURL)
	assert.Equal(t, 250*time.Millisecond, cfg.ConversationWait)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"https://shop.example.com"}, cfg.AllowedOrigins())
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv(KeyPort, "7000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("port", "8080", "")
	require.NoError(t, flags.Parse([]string{"--port", "9090"}))

	v := New()
	require.NoError(t, BindFlags(v, flags))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			BackendURL:       "https://govoyr.com",
			DBPath:           "db",
			HTTPTimeout:      time.Second,
			ConversationWait: time.Millisecond,
			SessionTTL:       time.Hour,
			Port:             "8080",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative backend", func(c *Config) { c.BackendURL = "govoyr.com" }},
		{"empty backend", func(c *Config) { c.BackendURL = "" }},
		{"empty db", func(c *Config) { c.DBPath = "" }},
		{"zero timeout", func(c *Config) { c.HTTPTimeout = 0 }},
		{"zero wait", func(c *Config) { c.ConversationWait = 0 }},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"empty port", func(c *Config) { c.Port = "" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
