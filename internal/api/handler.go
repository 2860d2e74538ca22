// Package api provides HTTP handlers for the local chat shell.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/togethr/internal/chat"
	"github.com/ashureev/togethr/internal/identity"
	"github.com/ashureev/togethr/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	registry *chat.Registry
	resolver *identity.Resolver
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, registry *chat.Registry, resolver *identity.Resolver) *Handler {
	return &Handler{
		repo:     repo,
		registry: registry,
		resolver: resolver,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// session returns the chat session of the request's tab, creating it when needed.
func (h *Handler) session(r *http.Request) *chat.Session {
	id, _ := identity.FromContext(r.Context())
	return h.registry.Get(r.Context(), identity.SessionIDFromContext(r.Context()), id)
}

// existingSession returns the tab's chat session without creating one.
func (h *Handler) existingSession(r *http.Request) (*chat.Session, bool) {
	return h.registry.Lookup(identity.SessionIDFromContext(r.Context()))
}
