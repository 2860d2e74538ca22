// Package chat runs the message exchange for one tab session: it owns the
// transcript, the input buffer and the single in-flight send.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ashureev/togethr/internal/agent"
	"github.com/ashureev/togethr/internal/conversation"
	"github.com/ashureev/togethr/internal/domain"
	"github.com/ashureev/togethr/internal/metrics"
)

var (
	// ErrEmptyInput is returned when the message is empty or whitespace.
	ErrEmptyInput = errors.New("message is empty")
	// ErrBusy is returned while another send is in flight.
	ErrBusy = errors.New("a message is already being sent")
	// ErrClosed is returned after the session has been torn down.
	ErrClosed = conversation.ErrClosed
)

// UpdateKind identifies what changed in a session.
type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateLoading UpdateKind = "loading"
)

// Update is pushed to subscribers whenever the transcript grows or the
// loading flag flips.
type Update struct {
	Kind    UpdateKind
	Seq     int
	Message domain.Message
	Loading bool
}

const subscriberBuffer = 32

// Session is the explicit context of one chat tab.
type Session struct {
	conv    *conversation.Manager
	backend agent.Backend
	metrics *metrics.Metrics
	logger  *slog.Logger

	busy     atomic.Bool
	autoSent atomic.Bool

	mu       sync.RWMutex
	identity domain.Identity
	messages []domain.Message
	input    string
	closed   bool
	subs     map[int]chan Update
	nextSub  int
}

// NewSession creates a session for identity. The conversation manager decides
// the tab session id.
func NewSession(identity domain.Identity, conv *conversation.Manager, backend agent.Backend, m *metrics.Metrics, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		identity: identity,
		conv:     conv,
		backend:  backend,
		metrics:  m,
		logger:   logger.With("session_id", conv.SessionID()),
		subs:     make(map[int]chan Update),
	}
}

// ID returns the tab session id.
func (s *Session) ID() string {
	return s.conv.SessionID()
}

// Identity returns the identity the session sends with.
func (s *Session) Identity() domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// AdoptIdentity sets the identity if the session has none yet.
func (s *Session) AdoptIdentity(id domain.Identity) {
	if !id.IsComplete() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.identity.IsComplete() {
		s.identity = id
	}
}

// Start begins conversation id issuance in the background.
func (s *Session) Start(ctx context.Context) {
	s.conv.Start(ctx, s.Identity())
}

// SetInput replaces the input buffer.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
}

// Input returns the input buffer.
func (s *Session) Input() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.input
}

// Loading reports whether a send is in flight.
func (s *Session) Loading() bool {
	return s.busy.Load()
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Submit sends the current input buffer.
func (s *Session) Submit(ctx context.Context) error {
	return s.Send(ctx, s.Input())
}

// AutoSend decodes a URL-encoded query and sends it. Only the first call with a
// non-empty query has any effect for the lifetime of the session.
func (s *Session) AutoSend(ctx context.Context, encodedQuery string) error {
	if strings.TrimSpace(encodedQuery) == "" {
		return nil
	}
	if !s.autoSent.CompareAndSwap(false, true) {
		return nil
	}

	query, err := url.PathUnescape(encodedQuery)
	if err != nil {
		s.logger.Warn("Query is not URL-encoded, sending as-is", "error", err)
		query = encodedQuery
	}
	return s.Send(ctx, query)
}

// Send appends the user's message, sends it to the assistant and appends the
// reply and any product collection. Only one send runs at a time.
func (s *Session) Send(ctx context.Context, text string) error {
	done, err := s.SendAsync(ctx, text)
	if err != nil {
		return err
	}
	return <-done
}

// SendAsync validates text and claims the in-flight slot, then runs the
// exchange in the background. The returned channel yields its result once.
func (s *Session) SendAsync(ctx context.Context, text string) (<-chan error, error) {
	if strings.TrimSpace(text) == "" {
		s.metrics.SendRejected("empty")
		return nil, ErrEmptyInput
	}
	if s.isClosed() {
		return nil, ErrClosed
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.metrics.SendRejected("busy")
		return nil, ErrBusy
	}
	s.metrics.SendStarted()
	s.publish(Update{Kind: UpdateLoading, Loading: true})

	s.append(domain.UserText(text))
	s.SetInput("")

	done := make(chan error, 1)
	go func() {
		err := s.exchange(ctx, text)
		outcome := "ok"
		if err != nil {
			outcome = classify(err)
			s.logger.Error("Error sending message", "error", err, "outcome", outcome)
		}
		s.busy.Store(false)
		s.metrics.SendFinished(outcome)
		s.publish(Update{Kind: UpdateLoading, Loading: false})
		done <- err
	}()
	return done, nil
}

func (s *Session) exchange(ctx context.Context, text string) error {
	identity := s.Identity()

	convID, err := s.conv.Await(ctx, identity)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	reply, err := s.backend.SendMessage(ctx, identity.Token, agent.MessageRequest{
		UserMessage: text,
		ID:          convID,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	if reply.Text != "" {
		s.append(domain.AIText(reply.Text))
	}

	if !reply.CurationRequired {
		return nil
	}

	if !reply.NeedsProductFetch() {
		s.append(domain.AIProducts(reply.InlineProducts))
		s.metrics.ProductSet("inline")
		return nil
	}

	products, err := s.backend.FetchProducts(ctx, identity.Token, reply.MessageID)
	if err != nil {
		return fmt.Errorf("fetch products: %w", err)
	}
	s.append(domain.AIProducts(products))
	s.metrics.ProductSet("fetched")
	return nil
}

// Subscribe registers for updates. The returned cancel func must be called to
// release the subscription. Slow subscribers miss updates rather than block sends.
func (s *Session) Subscribe() (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Update, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close tears the session down. Later appends are discarded and subscribers
// are released.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.conv.Close()
	s.logger.Info("Chat session closed")
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) append(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.messages = append(s.messages, msg)
	s.broadcastLocked(Update{Kind: UpdateMessage, Seq: len(s.messages) - 1, Message: msg})
}

func (s *Session) publish(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.broadcastLocked(u)
}

func (s *Session) broadcastLocked(u Update) {
	for id, ch := range s.subs {
		select {
		case ch <- u:
		default:
			s.logger.Warn("Dropping update for slow subscriber", "subscriber", id, "kind", u.Kind)
		}
	}
}

// classify maps a send error to a metrics outcome label.
func classify(err error) string {
	switch {
	case errors.Is(err, conversation.ErrMissingConversationID):
		return "missing_conversation"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return agent.Classify(err)
	}
}
