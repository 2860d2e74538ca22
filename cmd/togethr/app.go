package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/togethr/internal/agent"
	"github.com/ashureev/togethr/internal/config"
	"github.com/ashureev/togethr/internal/identity"
	"github.com/ashureev/togethr/internal/metrics"
	"github.com/ashureev/togethr/internal/store"
)

// app holds the dependencies shared by the chat and serve commands.
type app struct {
	cfg      *config.Config
	repo     *store.SQLiteStore
	sessions *store.MemorySessionStore
	backend  *agent.HTTPClient
	metrics  *metrics.Metrics
	resolver *identity.Resolver
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	slog.Debug("Database connected", "path", cfg.DBPath)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	backend := agent.NewHTTPClient(agent.HTTPClientConfig{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.HTTPTimeout,
		Metrics: m,
	}, slog.Default())

	return &app{
		cfg:      cfg,
		repo:     repo,
		sessions: store.NewMemorySessionStore(cfg.SessionTTL),
		backend:  backend,
		metrics:  m,
		resolver: identity.NewResolver(repo, backend, m, slog.Default()),
	}, nil
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		slog.Error("Failed to close repository", "error", err)
	}
}
