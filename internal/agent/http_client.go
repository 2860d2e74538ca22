package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/togethr/internal/domain"
	"github.com/ashureev/togethr/internal/metrics"
	"github.com/go-playground/validator/v10"
)

// maxErrorBodySize caps how much of a failed response body is kept for logs.
const maxErrorBodySize = 512

var errMissingMessageID = errors.New("MessageId is required")

// HTTPClient talks to the shopping assistant backend over HTTP/JSON.
type HTTPClient struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// HTTPClientConfig holds configuration for the HTTP client.
type HTTPClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// Transport overrides the default transport, mainly for tests.
	Transport http.RoundTripper
	Metrics   *metrics.Metrics
}

// DefaultHTTPClientConfig returns default configuration.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL: "https://govoyr.com",
		Timeout: 30 * time.Second,
	}
}

// NewHTTPClient creates a backend client.
func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultHTTPClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Signup mints a guest identity.
func (c *HTTPClient) Signup(ctx context.Context) (domain.Identity, error) {
	var out signupResponse
	if err := c.do(ctx, "signup", http.MethodGet, PathSignup, "", nil, &out); err != nil {
		return domain.Identity{}, err
	}
	if err := c.validate.Struct(&out); err != nil {
		return domain.Identity{}, &PayloadError{Op: "signup", Err: err}
	}
	return domain.Identity{UserID: out.User.UserID, Token: out.Token}, nil
}

// IssueConversationID requests a new conversation id.
func (c *HTTPClient) IssueConversationID(ctx context.Context, token string) (string, error) {
	var out conversationResponse
	body := ConversationRequest{Platform: PlatformWeb}
	if err := c.do(ctx, "conversation_id", http.MethodPost, PathConversationID, token, body, &out); err != nil {
		return "", err
	}
	if err := c.validate.Struct(&out); err != nil {
		return "", &PayloadError{Op: "conversation_id", Err: err}
	}
	return out.ConversationID, nil
}

// SendMessage posts a user message and decodes the assistant reply.
func (c *HTTPClient) SendMessage(ctx context.Context, token string, req MessageRequest) (*MessageReply, error) {
	var out messageResponse
	if err := c.do(ctx, "send_message", http.MethodPost, PathMessage, token, req, &out); err != nil {
		return nil, err
	}

	reply, err := c.decodeReply(&out)
	if err != nil {
		return nil, &PayloadError{Op: "send_message", Err: err}
	}
	return reply, nil
}

// FetchProducts loads the product list for a message.
func (c *HTTPClient) FetchProducts(ctx context.Context, token string, messageID json.RawMessage) ([]domain.Product, error) {
	if !hasMessageID(messageID) {
		return nil, &PayloadError{Op: "fetch_products", Err: errMissingMessageID}
	}

	var raw []RawProduct
	if err := c.do(ctx, "fetch_products", http.MethodPost, PathProduct, token, ProductRequest{MessageID: messageID}, &raw); err != nil {
		return nil, err
	}

	return c.mapProducts("fetch_products", raw), nil
}

func (c *HTTPClient) decodeReply(out *messageResponse) (*MessageReply, error) {
	reply := &MessageReply{
		CurationRequired: out.Curation,
		ProductFlag:      out.ProductFlag,
		MessageID:        out.MessageID,
	}

	var nested json.RawMessage
	if !isJSONNull(out.AIResponse) {
		var text string
		if err := json.Unmarshal(out.AIResponse, &text); err == nil {
			reply.Text = text
		} else {
			var obj structuredReply
			if err := json.Unmarshal(out.AIResponse, &obj); err != nil {
				return nil, fmt.Errorf("AI_Response is neither text nor object: %w", err)
			}
			reply.Text = firstNonEmpty(obj.Text, obj.Message, obj.Response)
			nested = obj.Products
		}
	}

	// Top-level products win over products nested in the reply object.
	list := out.Products
	if isJSONNull(list) {
		list = nested
	}
	// A broken product list never costs the reply its text.
	if !isJSONNull(list) {
		var raw []RawProduct
		if err := json.Unmarshal(list, &raw); err != nil {
			c.logger.Warn("Ignoring undecodable inline products", "error", err)
		} else {
			reply.InlineProducts = c.mapProducts("send_message", raw)
			reply.HasInlineProducts = true
		}
	}

	return reply, nil
}

// mapProducts converts the records that pass validation and logs the rest.
func (c *HTTPClient) mapProducts(op string, raw []RawProduct) []domain.Product {
	products := make([]domain.Product, 0, len(raw))
	for i := range raw {
		if err := c.validate.Struct(&raw[i]); err != nil {
			c.logger.Warn("Skipping invalid product", "op", op, "index", i, "error", err)
			continue
		}
		products = append(products, raw[i].ToDomain())
	}
	return products
}

// do performs one JSON round trip. token is sent as a bearer credential when non-empty.
func (c *HTTPClient) do(ctx context.Context, op, method, path, token string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveBackend(op, Classify(err), time.Since(start))
		if err != nil {
			c.logger.Warn("Backend request failed", "op", op, "path", path, "error", err)
		}
	}()

	var reader io.Reader
	if body != nil {
		data, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("%s: encode request: %w", op, marshalErr)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "op", op, "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &PayloadError{Op: op, Err: err}
	}

	c.logger.Debug("Backend request completed", "op", op, "status", resp.StatusCode, "duration", time.Since(start))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
