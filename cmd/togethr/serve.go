package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/togethr/internal/api"
	"github.com/ashureev/togethr/internal/chat"
	"github.com/ashureev/togethr/internal/feed"
	"github.com/ashureev/togethr/internal/identity"
	"github.com/ashureev/togethr/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local chat shell over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.String("port", "", "listen port (env PORT)")
	flags.String("frontend-url", "", "allowed browser origin (env FRONTEND_URL)")
	flags.Duration("session-ttl", 0, "idle tab session lifetime (env SESSION_TTL)")
	flags.Bool("metrics-enabled", true, "expose /metrics (env METRICS_ENABLED)")
	return cmd
}

func newRouter(a *app, registry *chat.Registry, viewers *feed.ViewerManager) http.Handler {
	cfg := a.cfg

	baseHandler := api.NewHandler(a.repo, registry, a.resolver)
	chatHandler := api.NewChatHandler(baseHandler)
	healthHandler := api.NewHealthHandler(a.repo, registry.Len, viewers.Count)
	feedHandler := feed.NewHandler(registry, viewers, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(a.resolver))

		healthHandler.RegisterHealth(r)
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/transcript", feedHandler.ServeHTTP)
	})

	return r
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend", cfg.BackendURL)

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return err
	}
	defer a.Close()

	registry := chat.NewRegistry(chat.RegistryConfig{
		TTL:              cfg.SessionTTL,
		ConversationWait: cfg.ConversationWait,
	}, a.sessions, a.backend, a.metrics, slog.Default())
	defer registry.Close()

	// This is the one automatic signup; after a failure only GET /api/identity retries.
	if _, err := a.resolver.GetOrCreate(ctx); err != nil {
		slog.Warn("Guest signup failed, retry via GET /api/identity", "error", err)
	}

	viewers := feed.NewViewerManager()

	// Note: the transcript feed holds WebSocket connections open, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(a, registry, viewers),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	srv.RegisterOnShutdown(viewers.CloseAll)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server failed", "error", err)
			return err
		}
	case <-ctx.Done():
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server stopped successfully")
	return nil
}
