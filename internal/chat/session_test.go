package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/togethr/internal/agent"
	"github.com/ashureev/togethr/internal/conversation"
	"github.com/ashureev/togethr/internal/domain"
	"github.com/ashureev/togethr/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	convID   string
	convErr  error
	convGate chan struct{}

	reply    *agent.MessageReply
	replyErr error
	sendGate chan struct{}

	products    []domain.Product
	productsErr error

	convCalls    atomic.Int32
	sendCalls    atomic.Int32
	productCalls atomic.Int32

	mu          sync.Mutex
	lastRequest agent.MessageRequest
	lastToken   string
	lastMsgID   json.RawMessage
}

func (f *fakeBackend) Signup(_ context.Context) (domain.Identity, error) {
	return domain.Identity{}, errors.New("not used")
}

func (f *fakeBackend) IssueConversationID(_ context.Context, _ string) (string, error) {
	f.convCalls.Add(1)
	if f.convGate != nil {
		<-f.convGate
	}
	if f.convErr != nil {
		return "", f.convErr
	}
	return f.convID, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, token string, req agent.MessageRequest) (*agent.MessageReply, error) {
	f.sendCalls.Add(1)
	f.mu.Lock()
	f.lastRequest = req
	f.lastToken = token
	f.mu.Unlock()
	if f.sendGate != nil {
		<-f.sendGate
	}
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	return f.reply, nil
}

func (f *fakeBackend) FetchProducts(_ context.Context, _ string, messageID json.RawMessage) ([]domain.Product, error) {
	f.productCalls.Add(1)
	f.mu.Lock()
	f.lastMsgID = messageID
	f.mu.Unlock()
	if f.productsErr != nil {
		return nil, f.productsErr
	}
	return f.products, nil
}

var guest = domain.Identity{UserID: "guest", Token: "tok"}

func newSession(t *testing.T, backend *fakeBackend) *Session {
	t.Helper()
	conv := conversation.NewManager("tab", store.NewMemorySessionStore(time.Hour), backend, 50*time.Millisecond, nil)
	s := NewSession(guest, conv, backend, nil, nil)
	t.Cleanup(s.Close)
	return s
}

func TestSend_TextOnly(t *testing.T) {
	backend := &fakeBackend{convID: "conv-1", reply: &agent.MessageReply{Text: "Hi **there**"}}
	s := newSession(t, backend)
	s.SetInput("hello")

	require.NoError(t, s.Submit(context.Background()))

	assert.Equal(t, []domain.Message{
		domain.UserText("hello"),
		domain.AIText("Hi **there**"),
	}, s.Messages())
	assert.Equal(t, "", s.Input(), "input cleared")
	assert.False(t, s.Loading())
	assert.Equal(t, agent.MessageRequest{UserMessage: "hello", ID: "conv-1"}, backend.lastRequest)
	assert.Equal(t, "tok", backend.lastToken)
	assert.Equal(t, int32(0), backend.productCalls.Load())
}

func TestSend_FetchesProductsWhenCurationRequired(t *testing.T) {
	backend := &fakeBackend{
		convID: "conv-1",
		reply: &agent.MessageReply{
			Text:             "Here are some picks",
			CurationRequired: true,
			MessageID:        json.RawMessage(`"m-42"`),
		},
		products: []domain.Product{{Title: "Buds"}},
	}
	s := newSession(t, backend)

	require.NoError(t, s.Send(context.Background(), "earbuds"))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.UserText("earbuds"), msgs[0])
	assert.Equal(t, domain.AIText("Here are some picks"), msgs[1])
	assert.Equal(t, domain.AIProducts([]domain.Product{{Title: "Buds"}}), msgs[2])
	assert.Equal(t, int32(1), backend.productCalls.Load())
	assert.JSONEq(t, `"m-42"`, string(backend.lastMsgID))
}

func TestSend_InlineProducts(t *testing.T) {
	tests := []struct {
		name  string
		reply agent.MessageReply
		want  []domain.Product
	}{
		{
			name: "inline list",
			reply: agent.MessageReply{
				CurationRequired:  true,
				InlineProducts:    []domain.Product{{Title: "Chair"}},
				HasInlineProducts: true,
			},
			want: []domain.Product{{Title: "Chair"}},
		},
		{
			name:  "product flag without list",
			reply: agent.MessageReply{CurationRequired: true, ProductFlag: true},
			want:  []domain.Product{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := tt.reply
			backend := &fakeBackend{convID: "conv", reply: &reply}
			s := newSession(t, backend)

			require.NoError(t, s.Send(context.Background(), "desk chair"))

			msgs := s.Messages()
			require.Len(t, msgs, 2, "empty text adds no AI text entry")
			assert.Equal(t, domain.AIProducts(tt.want), msgs[1])
			assert.Equal(t, int32(0), backend.productCalls.Load())
		})
	}
}

func TestSend_EmptyInput(t *testing.T) {
	backend := &fakeBackend{convID: "conv"}
	s := newSession(t, backend)

	for _, in := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, s.Send(context.Background(), in), ErrEmptyInput)
	}
	assert.Empty(t, s.Messages())
	assert.Equal(t, int32(0), backend.sendCalls.Load())
}

func TestSend_MissingConversationID(t *testing.T) {
	backend := &fakeBackend{convGate: make(chan struct{})}
	defer close(backend.convGate)
	s := newSession(t, backend)

	err := s.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, conversation.ErrMissingConversationID)
	assert.Equal(t, []domain.Message{domain.UserText("hello")}, s.Messages())
	assert.Equal(t, int32(0), backend.sendCalls.Load(), "backend not contacted")
	assert.False(t, s.Loading())
}

func TestSend_BackendFailureKeepsTranscript(t *testing.T) {
	statusErr := &agent.StatusError{Op: "send_message", StatusCode: 500, Status: "500 Internal Server Error"}
	backend := &fakeBackend{convID: "conv", replyErr: statusErr}
	s := newSession(t, backend)

	err := s.Send(context.Background(), "hello")
	var got *agent.StatusError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 500, got.StatusCode)
	assert.Equal(t, []domain.Message{domain.UserText("hello")}, s.Messages())
	assert.False(t, s.Loading(), "loading cleared so the user may retry")

	backend.replyErr = nil
	backend.reply = &agent.MessageReply{Text: "ok"}
	require.NoError(t, s.Send(context.Background(), "again"))
	assert.Len(t, s.Messages(), 3)
}

func TestSend_ProductFetchFailure(t *testing.T) {
	backend := &fakeBackend{
		convID: "conv",
		reply: &agent.MessageReply{
			Text:             "looking",
			CurationRequired: true,
			MessageID:        json.RawMessage(`7`),
		},
		productsErr: &agent.NetworkError{Op: "fetch_products", Err: errors.New("connection reset")},
	}
	s := newSession(t, backend)

	err := s.Send(context.Background(), "lamps")
	var netErr *agent.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, []domain.Message{domain.UserText("lamps"), domain.AIText("looking")}, s.Messages())
}

func TestSend_MalformedInlineProductKeepsText(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(agent.PathConversationID, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ConversationId":"conv-1"}`)
	})
	mux.HandleFunc(agent.PathMessage, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"AI_Response":"Here are **picks**","curration":true,"productFlag":true,"MessageId":"m1",
			"products":[{"title":"Lamp","media":[{"link":"//cdn.example/x.jpg"}]},{"rating":42}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	backend := agent.NewHTTPClient(agent.HTTPClientConfig{BaseURL: srv.URL}, nil)
	conv := conversation.NewManager("tab", store.NewMemorySessionStore(time.Hour), backend, time.Second, nil)
	s := NewSession(guest, conv, backend, nil, nil)
	defer s.Close()
	s.Start(context.Background())

	require.NoError(t, s.Send(context.Background(), "hi"))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.AIText("Here are **picks**"), msgs[1])
	assert.Equal(t, domain.AIProducts([]domain.Product{{
		Title: "Lamp",
		Media: []domain.Media{{Link: "//cdn.example/x.jpg"}},
	}}), msgs[2])
}

func TestSend_SecondSendWhileBusy(t *testing.T) {
	backend := &fakeBackend{convID: "conv", reply: &agent.MessageReply{Text: "done"}, sendGate: make(chan struct{})}
	s := newSession(t, backend)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(context.Background(), "first") }()

	require.Eventually(t, func() bool { return backend.sendCalls.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, s.Loading())
	assert.ErrorIs(t, s.Send(context.Background(), "second"), ErrBusy)

	close(backend.sendGate)
	require.NoError(t, <-errCh)

	assert.Equal(t, []domain.Message{domain.UserText("first"), domain.AIText("done")}, s.Messages())
	assert.Equal(t, int32(1), backend.sendCalls.Load())
}

func TestAutoSend_OncePerSession(t *testing.T) {
	backend := &fakeBackend{convID: "conv", reply: &agent.MessageReply{Text: "sure"}}
	s := newSession(t, backend)

	require.NoError(t, s.AutoSend(context.Background(), "wireless%20earbuds%20under%20%2450"))
	require.NoError(t, s.AutoSend(context.Background(), "wireless%20earbuds%20under%20%2450"))

	assert.Equal(t, int32(1), backend.sendCalls.Load())
	assert.Equal(t, "wireless earbuds under $50", backend.lastRequest.UserMessage)
}

func TestAutoSend_EmptyQueryIsIgnored(t *testing.T) {
	backend := &fakeBackend{convID: "conv", reply: &agent.MessageReply{Text: "sure"}}
	s := newSession(t, backend)

	require.NoError(t, s.AutoSend(context.Background(), ""))
	require.NoError(t, s.AutoSend(context.Background(), "desk"))
	assert.Equal(t, int32(1), backend.sendCalls.Load())
}

func TestSubscribe_ReceivesUpdatesInOrder(t *testing.T) {
	backend := &fakeBackend{
		convID: "conv",
		reply: &agent.MessageReply{
			Text:              "picks",
			CurationRequired:  true,
			InlineProducts:    []domain.Product{{Title: "A"}},
			HasInlineProducts: true,
		},
	}
	s := newSession(t, backend)
	updates, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.Send(context.Background(), "hi"))

	var got []Update
	for len(got) < 5 {
		select {
		case u := <-updates:
			got = append(got, u)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d updates", len(got))
		}
	}

	assert.Equal(t, Update{Kind: UpdateLoading, Loading: true}, got[0])
	assert.Equal(t, Update{Kind: UpdateMessage, Seq: 0, Message: domain.UserText("hi")}, got[1])
	assert.Equal(t, Update{Kind: UpdateMessage, Seq: 1, Message: domain.AIText("picks")}, got[2])
	assert.Equal(t, UpdateMessage, got[3].Kind)
	assert.Equal(t, 2, got[3].Seq)
	assert.True(t, got[3].Message.IsProducts())
	assert.Equal(t, Update{Kind: UpdateLoading, Loading: false}, got[4])
}

func TestClose_DiscardsLateReplies(t *testing.T) {
	backend := &fakeBackend{convID: "conv", reply: &agent.MessageReply{Text: "late"}, sendGate: make(chan struct{})}
	s := newSession(t, backend)
	updates, _ := s.Subscribe()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(context.Background(), "hello") }()
	require.Eventually(t, func() bool { return backend.sendCalls.Load() == 1 }, time.Second, time.Millisecond)

	s.Close()
	close(backend.sendGate)
	require.NoError(t, <-errCh)

	assert.Equal(t, []domain.Message{domain.UserText("hello")}, s.Messages())
	assert.ErrorIs(t, s.Send(context.Background(), "again"), ErrClosed)

	for u := range updates {
		assert.NotEqual(t, domain.AIText("late"), u.Message, "late reply must not be published")
	}
}
