package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/togethr/internal/agent"
	"github.com/ashureev/togethr/internal/chat"
	"github.com/ashureev/togethr/internal/domain"
	"github.com/ashureev/togethr/internal/identity"
	"github.com/ashureev/togethr/internal/store"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct{}

func (fakeBackend) Signup(_ context.Context) (domain.Identity, error) {
	return domain.Identity{}, errors.New("not used")
}

func (fakeBackend) IssueConversationID(_ context.Context, _ string) (string, error) {
	return "conv-1", nil
}

func (fakeBackend) SendMessage(_ context.Context, _ string, req agent.MessageRequest) (*agent.MessageReply, error) {
	return &agent.MessageReply{Text: "echo **" + req.UserMessage + "**"}, nil
}

func (fakeBackend) FetchProducts(_ context.Context, _ string, _ json.RawMessage) ([]domain.Product, error) {
	return nil, errors.New("not used")
}

var guest = domain.Identity{UserID: "guest", Token: "tok"}

func TestViewerManager_RegisterUnregister(t *testing.T) {
	vm := NewViewerManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	vm.Register("tab-1", conn1)
	vm.Register("tab-1", conn2)
	assert.Equal(t, 2, vm.Count())

	vm.Unregister("tab-1", conn1)
	assert.Equal(t, 1, vm.Count())

	vm.Unregister("tab-2", conn2)
	assert.Equal(t, 1, vm.Count(), "unknown tab is a no-op")

	vm.Unregister("tab-1", conn2)
	assert.Equal(t, 0, vm.Count())
}

func TestViewerManager_ConcurrentAccess(t *testing.T) {
	vm := NewViewerManager()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			vm.Register("tab-"+strconv.Itoa(i%10), &websocket.Conn{})
		}
	}()
	for i := 0; i < 1000; i++ {
		vm.Count()
	}
	<-done
}

func newFeedServer(t *testing.T) (*httptest.Server, *chat.Registry, *ViewerManager) {
	t.Helper()
	registry := chat.NewRegistry(chat.RegistryConfig{TTL: time.Hour, ConversationWait: time.Second},
		store.NewMemorySessionStore(time.Hour), fakeBackend{}, nil, nil)
	t.Cleanup(registry.Close)

	viewers := NewViewerManager()
	h := NewHandler(registry, viewers, "*", true)
	withGuest := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), guest)))
	})
	srv := httptest.NewServer(identity.Middleware(nil)(withGuest))
	t.Cleanup(srv.Close)
	return srv, registry, viewers
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcript?session_id=" + sessionID
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, data))
}

func TestFeed_SnapshotAndLiveUpdates(t *testing.T) {
	srv, registry, _ := newFeedServer(t)

	session := registry.Get(context.Background(), "tab-1", guest)
	require.NoError(t, session.Send(context.Background(), "first"))

	conn := dial(t, srv, "tab-1")
	snap := readFrame(t, conn)
	assert.Equal(t, FrameSnapshot, snap.Type)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, domain.SenderUser, snap.Messages[0].Sender)
	assert.Equal(t, "first", snap.Messages[1].Lines[0][1].Text)
	assert.True(t, snap.Messages[1].Lines[0][1].Bold)

	writeJSON(t, conn, clientMessage{Type: "send", Content: "second"})

	var frames []Frame
	for len(frames) < 4 {
		frames = append(frames, readFrame(t, conn))
	}
	assert.Equal(t, Frame{Type: FrameLoading, Loading: true}, frames[0])
	assert.Equal(t, FrameMessage, frames[1].Type)
	assert.Equal(t, 2, frames[1].Seq)
	assert.Equal(t, domain.SenderUser, frames[1].Message.Sender)
	assert.Equal(t, 3, frames[2].Seq)
	assert.Equal(t, domain.SenderAI, frames[2].Message.Sender)
	assert.Equal(t, Frame{Type: FrameLoading, Loading: false}, frames[3])
}

func TestFeed_PingAndSendErrors(t *testing.T) {
	srv, _, viewers := newFeedServer(t)
	conn := dial(t, srv, "tab-2")
	assert.Equal(t, FrameSnapshot, readFrame(t, conn).Type)
	assert.Equal(t, 1, viewers.Count())

	writeJSON(t, conn, clientMessage{Type: "ping"})
	assert.Equal(t, FramePong, readFrame(t, conn).Type)

	writeJSON(t, conn, clientMessage{Type: "send", Content: "   "})
	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, chat.ErrEmptyInput.Error(), f.Error)
}

func TestFeed_ClosedSessionEndsFeed(t *testing.T) {
	srv, registry, viewers := newFeedServer(t)
	conn := dial(t, srv, "tab-3")
	assert.Equal(t, FrameSnapshot, readFrame(t, conn).Type)

	registry.Remove("tab-3")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	require.Eventually(t, func() bool { return viewers.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestViewerManager_CloseAll(t *testing.T) {
	srv, _, viewers := newFeedServer(t)
	conn := dial(t, srv, "tab-4")
	assert.Equal(t, FrameSnapshot, readFrame(t, conn).Type)
	require.Equal(t, 1, viewers.Count())

	viewers.CloseAll()
	assert.Equal(t, 0, viewers.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
