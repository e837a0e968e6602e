package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/santosobot/santoso/internal/bus"
)

const (
	wsReadLimit    = 1024 * 1024
	wsWriteTimeout = 10 * time.Second
)

// Frame types exchanged with WebSocket clients.
const (
	FrameReady   = "ready"   // server: connection accepted, carries chat_id
	FrameMessage = "message" // client: user text; server: final answer
	FramePartial = "partial" // server: streaming partial answer
	FrameError   = "error"   // server: bad frame
)

// Frame is the JSON unit of the WebSocket chat protocol.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// WebSocket is a chat channel served over the gateway. Each connection
// is its own chat with a random id.
type WebSocket struct {
	bus      *bus.MessageBus
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	ctx   context.Context
	conns map[string]*wsConn
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla allows one concurrent writer
}

func (c *wsConn) write(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(f)
}

// NewWebSocket creates the channel. Mount it as an http.Handler.
func NewWebSocket(b *bus.MessageBus, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		bus:    b,
		logger: logger.With("channel", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		ctx:   context.Background(),
		conns: make(map[string]*wsConn),
	}
}

// Name implements Channel.
func (w *WebSocket) Name() string { return "websocket" }

// SupportsStreaming implements Streamer.
func (w *WebSocket) SupportsStreaming() bool { return true }

// Connections returns the number of open chats.
func (w *WebSocket) Connections() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.conns)
}

// Start records ctx for inbound publishing and closes every connection
// when it ends. Connections arrive through ServeHTTP.
func (w *WebSocket) Start(ctx context.Context) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	<-ctx.Done()

	w.mu.Lock()
	for id, c := range w.conns {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
		delete(w.conns, id)
	}
	w.mu.Unlock()
	return nil
}

// ServeHTTP upgrades the request and runs the connection's read loop.
func (w *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		w.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	chatID := uuid.NewString()
	c := &wsConn{conn: conn}

	w.mu.Lock()
	ctx := w.ctx
	w.conns[chatID] = c
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.conns, chatID)
		w.mu.Unlock()
		conn.Close()
		w.logger.Debug("websocket chat closed", "chat_id", chatID)
	}()

	w.logger.Info("websocket chat opened", "chat_id", chatID, "remote", r.RemoteAddr)
	if err := c.write(Frame{Type: FrameReady, ChatID: chatID}); err != nil {
		return
	}

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Debug("websocket read ended", "chat_id", chatID, "error", err)
			}
			return
		}
		if f.Type != "" && f.Type != FrameMessage {
			c.write(Frame{Type: FrameError, Content: fmt.Sprintf("unsupported frame type %q", f.Type)})
			continue
		}
		if f.Content == "" {
			continue
		}
		err := w.bus.PublishInbound(ctx, bus.InboundMessage{
			Channel:  w.Name(),
			SenderID: chatID,
			ChatID:   chatID,
			Content:  f.Content,
			Metadata: map[string]string{"remote": r.RemoteAddr},
		})
		if err != nil {
			return
		}
	}
}

// ErrNoConnection is returned by Send when the chat has disconnected.
var ErrNoConnection = errors.New("websocket chat not connected")

// Send implements Channel.
func (w *WebSocket) Send(_ context.Context, msg bus.OutboundMessage) error {
	w.mu.RLock()
	c := w.conns[msg.ChatID]
	w.mu.RUnlock()
	if c == nil {
		return ErrNoConnection
	}
	typ := FrameMessage
	if msg.Streaming {
		typ = FramePartial
	}
	return c.write(Frame{Type: typ, Content: msg.Content, ChatID: msg.ChatID})
}
