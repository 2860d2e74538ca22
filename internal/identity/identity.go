// Package identity provides the persistent guest identity and per-tab session primitives.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/togethr/internal/agent"
	"github.com/ashureev/togethr/internal/domain"
	"github.com/ashureev/togethr/internal/metrics"
	"github.com/ashureev/togethr/internal/store"
	"golang.org/x/sync/singleflight"
)

const (
	SessionHeaderName     = "X-Togethr-Session-ID"
	DefaultSessionIDValue = "default"
)

type contextKey int

const (
	identityKey contextKey = iota
	sessionIDKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the guest identity from the context.
func FromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(domain.Identity)
	return id, ok && id.IsComplete()
}

// WithSessionID returns a context carrying the tab session id.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, SanitizeSessionID(sessionID))
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// SanitizeSessionID maps empty or malformed tab ids to the default session.
func SanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return SanitizeSessionID(sid)
}

// Resolver returns the profile's guest identity, signing up once when none is stored.
type Resolver struct {
	repo    store.Repository
	backend agent.Backend
	metrics *metrics.Metrics
	logger  *slog.Logger
	group   singleflight.Group
}

// NewResolver creates a Resolver.
func NewResolver(repo store.Repository, backend agent.Backend, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, backend: backend, metrics: m, logger: logger}
}

// GetOrCreate returns the stored identity, or signs up and persists a new one.
// Concurrent callers share a single signup request. Failures are not retried.
func (r *Resolver) GetOrCreate(ctx context.Context) (domain.Identity, error) {
	v, err, _ := r.group.Do("identity", func() (any, error) {
		return r.getOrCreate(ctx)
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return v.(domain.Identity), nil
}

// Lookup returns the stored identity without ever signing up.
func (r *Resolver) Lookup(ctx context.Context) (domain.Identity, bool, error) {
	id, ok, err := r.repo.GetIdentity(ctx)
	if err != nil {
		return domain.Identity{}, false, fmt.Errorf("read stored identity: %w", err)
	}
	return id, ok, nil
}

func (r *Resolver) getOrCreate(ctx context.Context) (domain.Identity, error) {
	id, ok, err := r.repo.GetIdentity(ctx)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("read stored identity: %w", err)
	}
	if ok {
		return id, nil
	}

	r.logger.Info("No stored guest identity, signing up")
	id, err = r.backend.Signup(ctx)
	if err != nil {
		r.metrics.Signup(agent.Classify(err))
		return domain.Identity{}, fmt.Errorf("guest signup: %w", err)
	}

	if err := r.repo.SaveIdentity(ctx, id); err != nil {
		r.metrics.Signup("persist")
		return domain.Identity{}, fmt.Errorf("persist guest identity: %w", err)
	}

	r.metrics.Signup("ok")
	r.logger.Info("Guest identity created", "user_id", id.UserID)
	return id, nil
}

// Middleware injects the per-request tab session ID and, when one is stored, the
// profile's guest identity. It never signs up; requests without an identity
// proceed unauthenticated.
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithSessionID(r.Context(), sessionIDFromRequest(r))

			if resolver != nil {
				id, ok, err := resolver.Lookup(ctx)
				switch {
				case err != nil:
					slog.Warn("Proceeding without guest identity", "error", err)
				case ok:
					ctx = WithIdentity(ctx, id)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
