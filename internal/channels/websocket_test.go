package channels

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/santosobot/santoso/internal/bus"
)

func dialTestWS(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ready Frame
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatalf("read ready frame: %v", err)
	}
	if ready.Type != FrameReady || ready.ChatID == "" {
		t.Fatalf("first frame = %+v, want ready with chat id", ready)
	}
	return conn, ready.ChatID
}

func TestWebSocket_RoundTrip(t *testing.T) {
	b := bus.New(10)
	ws := NewWebSocket(b, discardLogger())
	srv := httptest.NewServer(ws)
	defer srv.Close()

	conn, chatID := dialTestWS(t, srv)

	if err := conn.WriteJSON(Frame{Type: FrameMessage, Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-b.Inbound():
		if msg.Channel != "websocket" || msg.ChatID != chatID || msg.Content != "hello" {
			t.Errorf("inbound = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}

	ctx := t.Context()
	if err := ws.Send(ctx, bus.OutboundMessage{ChatID: chatID, Content: "thinking", Streaming: true}); err != nil {
		t.Fatal(err)
	}
	if err := ws.Send(ctx, bus.OutboundMessage{ChatID: chatID, Content: "answer"}); err != nil {
		t.Fatal(err)
	}

	for _, want := range []Frame{{Type: FramePartial, Content: "thinking"}, {Type: FrameMessage, Content: "answer"}} {
		var got Frame
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatal(err)
		}
		if got.Type != want.Type || got.Content != want.Content {
			t.Errorf("frame = %+v, want %+v", got, want)
		}
	}
}

func TestWebSocket_RejectsUnknownFrames(t *testing.T) {
	b := bus.New(10)
	ws := NewWebSocket(b, discardLogger())
	srv := httptest.NewServer(ws)
	defer srv.Close()

	conn, _ := dialTestWS(t, srv)
	conn.WriteJSON(Frame{Type: "subscribe", Content: "x"})

	var got Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Type != FrameError {
		t.Errorf("frame type = %q, want error", got.Type)
	}
	if len(b.Inbound()) != 0 {
		t.Error("unknown frame should not be published")
	}
}

func TestWebSocket_SendAfterDisconnect(t *testing.T) {
	ws := NewWebSocket(bus.New(1), discardLogger())
	srv := httptest.NewServer(ws)
	defer srv.Close()

	conn, chatID := dialTestWS(t, srv)
	if ws.Connections() != 1 {
		t.Fatalf("Connections() = %d, want 1", ws.Connections())
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, "connection removal", func() bool { return ws.Connections() == 0 })

	err := ws.Send(t.Context(), bus.OutboundMessage{ChatID: chatID, Content: "late"})
	if !errors.Is(err, ErrNoConnection) {
		t.Errorf("Send() = %v, want ErrNoConnection", err)
	}
}

func TestWebSocket_StartClosesOnShutdown(t *testing.T) {
	ws := NewWebSocket(bus.New(1), discardLogger())
	srv := httptest.NewServer(ws)
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- ws.Start(ctx) }()

	conn, _ := dialTestWS(t, srv)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after shutdown = %v, want going-away close", err)
	}
}
