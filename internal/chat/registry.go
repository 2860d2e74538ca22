package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/togethr/internal/agent"
	"github.com/ashureev/togethr/internal/conversation"
	"github.com/ashureev/togethr/internal/domain"
	"github.com/ashureev/togethr/internal/metrics"
	"github.com/ashureev/togethr/internal/store"
	"github.com/patrickmn/go-cache"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// TTL is how long an idle tab session is kept.
	TTL time.Duration
	// ConversationWait bounds the wait for a conversation id on send.
	ConversationWait time.Duration
	// CleanupInterval is how often expired sessions are swept. Defaults to TTL/2.
	CleanupInterval time.Duration
}

// Registry keeps one Session per tab. Idle sessions expire and are closed.
type Registry struct {
	cfg      RegistryConfig
	sessions store.SessionStore
	backend  agent.Backend
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu    sync.Mutex
	cache *cache.Cache
}

// NewRegistry creates a registry. Conversation ids are kept in sessions.
func NewRegistry(cfg RegistryConfig, sessions store.SessionStore, backend agent.Backend, m *metrics.Metrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		cfg:      cfg,
		sessions: sessions,
		backend:  backend,
		metrics:  m,
		logger:   logger,
		cache:    cache.New(cfg.TTL, cleanupInterval(cfg)),
	}
	r.cache.OnEvicted(func(sessionID string, v any) {
		if s, ok := v.(*Session); ok {
			r.logger.Info("Closing chat session", "session_id", sessionID)
			s.Close()
		}
	})
	return r
}

// Get returns the session for sessionID, creating and starting it on first
// use. Each access extends the session's lifetime.
func (r *Registry) Get(ctx context.Context, sessionID string, identity domain.Identity) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, found := r.cache.Get(sessionID); found {
		s := v.(*Session)
		s.AdoptIdentity(identity)
		r.cache.Set(sessionID, s, cache.DefaultExpiration)
		return s
	}

	// An expired entry the janitor has not swept yet would be overwritten
	// without eviction; sweep first so its session is closed.
	r.cache.DeleteExpired()

	conv := conversation.NewManager(sessionID, r.sessions, r.backend, r.cfg.ConversationWait, r.logger)
	s := NewSession(identity, conv, r.backend, r.metrics, r.logger)
	r.cache.Set(sessionID, s, cache.DefaultExpiration)
	if identity.IsComplete() {
		s.Start(ctx)
	}
	r.logger.Info("Chat session created", "session_id", sessionID)
	return s
}

// Lookup returns the session for sessionID without creating one.
func (r *Registry) Lookup(sessionID string) (*Session, bool) {
	v, found := r.cache.Get(sessionID)
	if !found {
		return nil, false
	}
	return v.(*Session), true
}

// Remove closes and forgets the session for sessionID.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Delete(sessionID)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

// Close closes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.cache.Items() {
		r.cache.Delete(id)
	}
}

func cleanupInterval(cfg RegistryConfig) time.Duration {
	switch {
	case cfg.CleanupInterval > 0:
		return cfg.CleanupInterval
	case cfg.TTL <= 0:
		return time.Minute
	default:
		return cfg.TTL / 2
	}
}
