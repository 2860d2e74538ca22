// Package agent implements the HTTP client for the shopping assistant backend.
package agent

import (
	"encoding/json"
	"strings"

	"github.com/ashureev/togethr/internal/domain"
)

// Endpoint paths relative to the backend base URL.
const (
	PathSignup         = "/api/guest-auth/signup"
	PathConversationID = "/api/WebChatbot/conversationId"
	PathMessage        = "/api/WebChatbot/message"
	PathProduct        = "/api/WebChatbot/product"
)

// PlatformWeb is the platform tag sent when issuing conversation ids.
const PlatformWeb = "web"

// signupResponse is the guest signup payload.
type signupResponse struct {
	User struct {
		UserID string `json:"UserId" validate:"required"`
	} `json:"User"`
	Token string `json:"token" validate:"required"`
}

// ConversationRequest is the body of a conversation id request.
type ConversationRequest struct {
	Platform string `json:"platform"`
}

type conversationResponse struct {
	ConversationID string `json:"ConversationId" validate:"required"`
}

// MessageRequest is the body of a send-message request.
type MessageRequest struct {
	UserMessage string `json:"userMessage"`
	ID          string `json:"id"`
}

// ProductRequest is the body of a product fetch.
type ProductRequest struct {
	MessageID json.RawMessage `json:"MessageId"`
}

// messageResponse mirrors the raw send-message payload. AI_Response may be a
// string or an object; products may be absent, null or a list.
type messageResponse struct {
	AIResponse  json.RawMessage `json:"AI_Response"`
	Curation    bool            `json:"curration"`
	ProductFlag bool            `json:"productFlag"`
	MessageID   json.RawMessage `json:"MessageId"`
	Products    json.RawMessage `json:"products"`
}

// structuredReply is the object form of AI_Response.
type structuredReply struct {
	Text     string          `json:"text"`
	Message  string          `json:"message"`
	Response string          `json:"response"`
	Products json.RawMessage `json:"products"`
}

// RawProduct is a product record as sent by the backend. Links are kept
// as sent; CDNs often use protocol-relative forms such as //cdn.host/x.jpg.
type RawProduct struct {
	Title  string    `json:"title" validate:"required"`
	Rating *float64  `json:"rating" validate:"omitempty,gte=0,lte=5"`
	Prices []float64 `json:"prices" validate:"dive,gte=0"`
	Media  []struct {
		Link string `json:"link"`
	} `json:"media"`
	SellersResults struct {
		OnlineSellers []struct {
			Link string `json:"link"`
		} `json:"online_sellers"`
	} `json:"sellers_results"`
}

// ToDomain maps the wire record into the renderer's Product shape.
func (r RawProduct) ToDomain() domain.Product {
	p := domain.Product{
		Title:  r.Title,
		Prices: append([]float64(nil), r.Prices...),
	}
	if r.Rating != nil {
		p.Rating = *r.Rating
	}
	for _, m := range r.Media {
		p.Media = append(p.Media, domain.Media{Link: m.Link})
	}
	for _, s := range r.SellersResults.OnlineSellers {
		p.SellersResults.OnlineSellers = append(p.SellersResults.OnlineSellers, domain.Seller{Link: s.Link})
	}
	return p
}

// MessageReply is the validated result of a send-message call.
type MessageReply struct {
	// Text is the assistant's textual reply; empty when none was sent.
	Text string
	// CurationRequired signals that a product collection follows this exchange.
	CurationRequired bool
	// ProductFlag signals that the reply already embeds its products.
	ProductFlag bool
	// MessageID keys the follow-up product fetch. Kept raw so it is echoed back unchanged.
	MessageID json.RawMessage
	// InlineProducts holds products supplied with the reply.
	InlineProducts []domain.Product
	// HasInlineProducts distinguishes an absent list from an empty one.
	HasInlineProducts bool
}

// NeedsProductFetch reports whether a second call is required to get the products.
func (r *MessageReply) NeedsProductFetch() bool {
	return r.CurationRequired && !r.HasInlineProducts && !r.ProductFlag
}

// hasMessageID reports whether raw is a usable message id.
func hasMessageID(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != `""`
}

func isJSONNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
