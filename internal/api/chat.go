package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/togethr/internal/agent"
	"github.com/ashureev/togethr/internal/chat"
	"github.com/ashureev/togethr/internal/conversation"
	"github.com/ashureev/togethr/internal/domain"
	"github.com/ashureev/togethr/internal/identity"
	"github.com/ashureev/togethr/internal/render"
	"github.com/go-chi/chi/v5"
)

const searchPrefix = "/api/search/"

// ChatHandler handles the chat endpoints.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/suggestions", h.GetSuggestions)
		r.Get("/identity", h.GetIdentity)
		r.Delete("/identity", h.ResetIdentity)
		r.Get("/transcript", h.GetTranscript)
		r.Post("/messages", h.PostMessage)
		r.Get("/search", h.Search)
		r.Get("/search/*", h.Search)
	})
}

type transcriptResponse struct {
	SessionID string              `json:"session_id"`
	Messages  []render.DocMessage `json:"messages"`
	Loading   bool                `json:"loading"`
}

func transcriptOf(s *chat.Session) transcriptResponse {
	return transcriptResponse{
		SessionID: s.ID(),
		Messages:  render.Document(s.Messages()),
		Loading:   s.Loading(),
	}
}

// GetSuggestions returns the preset prompts shown on the landing view.
func (h *ChatHandler) GetSuggestions(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": domain.Suggestions,
	})
}

// GetIdentity returns the guest user id. The token is never echoed.
func (h *ChatHandler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok && h.resolver != nil {
		var err error
		id, err = h.resolver.GetOrCreate(r.Context())
		if err != nil {
			slog.Error("Failed to resolve guest identity", "error", err)
			Error(w, http.StatusServiceUnavailable, "identity_unavailable")
			return
		}
	} else if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    id.UserID,
		"session_id": identity.SessionIDFromContext(r.Context()),
	})
}

// ResetIdentity forgets the stored guest identity and ends the tab session.
// The next request signs up again.
func (h *ChatHandler) ResetIdentity(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.ClearIdentity(r.Context()); err != nil {
		slog.Error("Failed to clear guest identity", "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear identity")
		return
	}
	h.registry.Remove(identity.SessionIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// readTranscript renders the tab's transcript, or an empty one when the tab
// has no session yet.
func (h *ChatHandler) readTranscript(r *http.Request) transcriptResponse {
	if s, ok := h.existingSession(r); ok {
		return transcriptOf(s)
	}
	return transcriptResponse{
		SessionID: identity.SessionIDFromContext(r.Context()),
		Messages:  render.Document(nil),
	}
}

// GetTranscript returns the tab's rendered transcript.
func (h *ChatHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.readTranscript(r))
}

type messageRequest struct {
	Message string `json:"message"`
}

// PostMessage sends a chat message. By default it waits for the exchange to
// finish; with ?async=true it returns 202 once the message is accepted and the
// reply arrives on the transcript feed.
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s := h.session(r)
	done, err := s.SendAsync(context.WithoutCancel(r.Context()), req.Message)
	if err != nil {
		Error(w, statusFor(err), errorCode(err))
		return
	}

	if r.URL.Query().Get("async") == "true" {
		JSON(w, http.StatusAccepted, transcriptOf(s))
		return
	}

	select {
	case err = <-done:
	case <-r.Context().Done():
		return
	}
	if err != nil {
		Error(w, statusFor(err), errorCode(err))
		return
	}
	JSON(w, http.StatusOK, transcriptOf(s))
}

// Search serves the deep-link route /api/search/{userId}/{query}. The query is
// sent once per tab session; the reply arrives on the transcript feed.
func (h *ChatHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, query := searchSlug(r.URL.EscapedPath())
	if query == "" {
		JSON(w, http.StatusAccepted, map[string]interface{}{
			"user_id":    userID,
			"transcript": h.readTranscript(r),
		})
		return
	}

	s := h.session(r)
	go func() {
		if err := s.AutoSend(context.WithoutCancel(r.Context()), query); err != nil {
			slog.Warn("Auto-send failed", "error", err, "session_id", s.ID())
		}
	}()

	JSON(w, http.StatusAccepted, map[string]interface{}{
		"user_id":    userID,
		"transcript": transcriptOf(s),
	})
}

// searchSlug splits the escaped path into its user id and still-encoded query.
func searchSlug(escapedPath string) (userID, query string) {
	rest := strings.TrimPrefix(escapedPath, strings.TrimSuffix(searchPrefix, "/"))
	rest = strings.TrimPrefix(rest, "/")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) > 0 {
		userID = parts[0]
	}
	if len(parts) > 1 {
		query = parts[1]
	}
	return userID, query
}

func statusFor(err error) int {
	var (
		netErr     *agent.NetworkError
		statusErr  *agent.StatusError
		payloadErr *agent.PayloadError
	)
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrMissingConversationID):
		return http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrClosed):
		return http.StatusGone
	case errors.As(err, &netErr), errors.As(err, &statusErr), errors.As(err, &payloadErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, chat.ErrBusy):
		return "send_in_progress"
	case errors.Is(err, conversation.ErrMissingConversationID):
		return "missing_conversation_id"
	case errors.Is(err, chat.ErrClosed):
		return "session_closed"
	default:
		return "backend_" + agent.Classify(err)
	}
}
