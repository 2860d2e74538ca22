package agent

import (
	"context"
	"encoding/json"

	"github.com/ashureev/togethr/internal/domain"
)

// Backend defines the remote shopping assistant API.
// This interface is implemented by the HTTP client.
type Backend interface {
	// Signup mints a new guest identity. It is the only unauthenticated call.
	Signup(ctx context.Context) (domain.Identity, error)

	// IssueConversationID asks for a new conversation handle for the web platform.
	IssueConversationID(ctx context.Context, token string) (string, error)

	// SendMessage posts a user utterance into a conversation.
	SendMessage(ctx context.Context, token string, req MessageRequest) (*MessageReply, error)

	// FetchProducts loads the curated products attached to a message.
	FetchProducts(ctx context.Context, token string, messageID json.RawMessage) ([]domain.Product, error)
}

// Ensure HTTPClient implements Backend.
var _ Backend = (*HTTPClient)(nil)
