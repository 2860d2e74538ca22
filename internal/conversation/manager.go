// Package conversation issues and caches the per-tab conversation id.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/togethr/internal/agent"
	"github.com/ashureev/togethr/internal/domain"
	"github.com/ashureev/togethr/internal/store"
)

// ErrMissingConversationID is returned when no conversation id became
// available within the bounded wait.
var ErrMissingConversationID = errors.New("conversation id unavailable")

// ErrClosed is returned once the session has been torn down.
var ErrClosed = errors.New("conversation session closed")

// State is the resolution state of a tab's conversation id.
type State int

const (
	Unresolved State = iota
	Resolving
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolving:
		return "resolving"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Manager owns the conversation id of one tab session. Session-scoped
// storage is the source of truth; the manager tracks in-flight issuance so
// at most one request is outstanding at a time.
type Manager struct {
	sessionID string
	sessions  store.SessionStore
	backend   agent.Backend
	wait      time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	id      string
	lastErr error
	done    chan struct{}
	closed  bool
}

// NewManager creates a manager for sessionID. wait bounds Await.
func NewManager(sessionID string, sessions store.SessionStore, backend agent.Backend, wait time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessionID: sessionID,
		sessions:  sessions,
		backend:   backend,
		wait:      wait,
		logger:    logger.With("session_id", sessionID),
	}
}

// SessionID returns the tab session this manager serves.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// State reports the current resolution state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncFromStoreLocked()
	return m.state
}

// Start begins issuance in the background if no id is cached. It does not block.
func (m *Manager) Start(ctx context.Context, identity domain.Identity) {
	m.begin(ctx, identity)
}

// GetOrCreate returns the cached id or issues a new one, blocking until the
// issuance finishes or ctx is done.
func (m *Manager) GetOrCreate(ctx context.Context, identity domain.Identity) (string, error) {
	done, err := m.begin(ctx, identity)
	if err != nil {
		return "", err
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.result()
}

// Await waits at most the configured delay for an id, starting a fresh
// issuance when none is in flight. It never waits more than once.
func (m *Manager) Await(ctx context.Context, identity domain.Identity) (string, error) {
	done, err := m.begin(ctx, identity)
	if err != nil {
		return "", err
	}
	if done != nil {
		timer := time.NewTimer(m.wait)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			m.logger.Warn("Conversation id still pending after wait", "wait", m.wait)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.result()
}

// Close ends the session and forgets its conversation id.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.state = Unresolved
	m.id = ""
	m.sessions.DeleteConversationID(m.sessionID)
}

// begin returns nil when an id is already available, otherwise the channel
// closed when the in-flight issuance completes.
func (m *Manager) begin(ctx context.Context, identity domain.Identity) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	m.syncFromStoreLocked()
	switch m.state {
	case Ready:
		return nil, nil
	case Resolving:
		return m.done, nil
	}

	// Unresolved or Failed: issue a new id.
	m.state = Resolving
	m.lastErr = nil
	done := make(chan struct{})
	m.done = done

	// Issuance outlives the caller's request; the HTTP client enforces its own timeout.
	go m.resolve(context.WithoutCancel(ctx), identity, done)
	return done, nil
}

func (m *Manager) resolve(ctx context.Context, identity domain.Identity, done chan struct{}) {
	m.logger.Debug("Issuing conversation id")
	id, err := m.backend.IssueConversationID(ctx, identity.Token)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(done)

	if m.closed {
		return
	}
	if err != nil {
		m.state = Failed
		m.lastErr = err
		m.logger.Error("Failed to fetch conversation ID", "error", err)
		return
	}

	m.sessions.SetConversationID(m.sessionID, id)
	m.state = Ready
	m.id = id
	m.logger.Info("Conversation id issued", "conversation_id", id)
}

// syncFromStoreLocked adopts a cached id and notices when it has expired.
func (m *Manager) syncFromStoreLocked() {
	if id, ok := m.sessions.GetConversationID(m.sessionID); ok {
		m.state = Ready
		m.id = id
		return
	}
	if m.state == Ready {
		m.state = Unresolved
		m.id = ""
	}
}

func (m *Manager) result() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}
	m.syncFromStoreLocked()
	if m.state == Ready {
		return m.id, nil
	}
	if m.lastErr != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingConversationID, m.lastErr)
	}
	return "", ErrMissingConversationID
}
