// Package store provides client-side persistence: a durable profile store for
// the guest identity and a session-scoped store for conversation ids.
package store

import (
	"context"

	"github.com/ashureev/togethr/internal/domain"
)

// Profile storage keys, kept compatible with the web client's localStorage.
const (
	KeyUserID = "UserID"
	KeyToken  = "token"
)

// Repository defines durable, profile-scoped storage.
type Repository interface {
	// GetIdentity returns the stored identity. ok is false unless both
	// the user id and the token are present.
	GetIdentity(ctx context.Context) (identity domain.Identity, ok bool, err error)

	// SaveIdentity writes the user id and token together; either both land or neither does.
	SaveIdentity(ctx context.Context, identity domain.Identity) error

	// ClearIdentity removes any stored identity.
	ClearIdentity(ctx context.Context) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// SessionStore holds tab-scoped values that vanish when the session ends.
type SessionStore interface {
	GetConversationID(sessionID string) (string, bool)
	SetConversationID(sessionID, conversationID string)
	DeleteConversationID(sessionID string)
}
