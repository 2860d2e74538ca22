package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/togethr/internal/chat"
	"github.com/ashureev/togethr/internal/identity"
	"github.com/ashureev/togethr/internal/render"
	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Frame types.
const (
	FrameSnapshot = "snapshot"
	FrameMessage  = "message"
	FrameLoading  = "loading"
	FrameError    = "error"
	FramePong     = "pong"
)

// Frame is a server-to-viewer message.
type Frame struct {
	Type     string              `json:"type"`
	Seq      int                 `json:"seq"`
	Message  *render.DocMessage  `json:"message,omitempty"`
	Messages []render.DocMessage `json:"messages,omitempty"`
	Loading  bool                `json:"loading"`
	Error    string              `json:"error,omitempty"`
}

// clientMessage is a viewer-to-server message.
type clientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Handler serves the live transcript feed for a tab session.
type Handler struct {
	registry      *chat.Registry
	viewers       *ViewerManager
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new feed handler.
func NewHandler(registry *chat.Registry, viewers *ViewerManager, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		registry:      registry,
		viewers:       viewers,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	id, _ := identity.FromContext(r.Context())
	slog.Info("Transcript feed request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.viewers.Register(sessionID, ws)
	defer h.viewers.Unregister(sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := h.registry.Get(ctx, sessionID, id)
	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()

	if err := writeFrame(ctx, ws, Frame{
		Type:     FrameSnapshot,
		Messages: render.Document(session.Messages()),
		Loading:  session.Loading(),
	}); err != nil {
		slog.Debug("Failed to send snapshot", "error", err, "session_id", sessionID)
		return
	}

	go func() {
		defer cancel()
		h.inputLoop(ctx, ws, session)
	}()

	h.outputLoop(ctx, ws, updates, sessionID)
	slog.Info("Transcript feed ended", "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// inputLoop handles viewer messages: pings and chat sends.
func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, session *chat.Session) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by viewer", "session_id", session.ID())
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("WebSocket read error", "error", err, "session_id", session.ID())
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed viewer message", "error", err)
			continue
		}

		switch msg.Type {
		case "ping":
			if err := writeFrame(ctx, ws, Frame{Type: FramePong}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "send":
			// Results reach the viewer through the subscription; only failures are echoed.
			go func(text string) {
				if err := session.Send(context.WithoutCancel(ctx), text); err != nil {
					if werr := writeFrame(ctx, ws, Frame{Type: FrameError, Error: err.Error()}); werr != nil {
						slog.Debug("Failed to send error frame", "error", werr)
					}
				}
			}(msg.Content)
		}
	}
}

func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, updates <-chan chat.Update, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				_ = ws.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := writeFrame(ctx, ws, frameFor(u)); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
				}
				return
			}
		}
	}
}

func frameFor(u chat.Update) Frame {
	if u.Kind == chat.UpdateLoading {
		return Frame{Type: FrameLoading, Loading: u.Loading}
	}
	doc := render.DocumentMessage(u.Message)
	return Frame{Type: FrameMessage, Seq: u.Seq, Message: &doc}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}
