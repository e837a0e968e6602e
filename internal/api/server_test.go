package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/santosobot/santoso/internal/connwatch"
	"github.com/santosobot/santoso/internal/events"
)

type fakeAgent struct {
	mu    sync.Mutex
	keys  []string
	reply string
	err   error
}

func (f *fakeAgent) ProcessDirect(_ context.Context, content, sessionKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, sessionKey)
	if f.err != nil {
		return "", f.err
	}
	return f.reply + content, nil
}

type staticNames []string

func (s staticNames) Names() []string { return s }

type staticKeys []string

func (s staticKeys) Keys() []string { return s }

type staticStatuses []connwatch.Status

func (s staticStatuses) Statuses() []connwatch.Status { return s }

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	srv := httptest.NewServer(NewServer("", 0, deps).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, srv *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestHealthAndVersion(t *testing.T) {
	srv := newTestServer(t, Deps{})

	for _, path := range []string{"/health", "/v1/version", "/"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("GET %s content type = %q", path, ct)
		}
	}

	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", resp.StatusCode)
	}
}

func TestChat(t *testing.T) {
	agent := &fakeAgent{reply: "echo: "}
	srv := newTestServer(t, Deps{Agent: agent, Model: "gpt-test"})

	resp, data := postChat(t, srv, `{"message":"hi","session_id":"abc"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}
	var got ChatResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Response != "echo: hi" || got.SessionID != "abc" || got.Model != "gpt-test" {
		t.Errorf("response = %+v", got)
	}

	_, data = postChat(t, srv, `{"message":"again"}`)
	var fresh ChatResponse
	json.Unmarshal(data, &fresh)
	if fresh.SessionID == "" || fresh.SessionID == "abc" {
		t.Errorf("expected a generated session id, got %q", fresh.SessionID)
	}

	agent.mu.Lock()
	defer agent.mu.Unlock()
	if agent.keys[0] != "api:abc" {
		t.Errorf("session key = %q, want api:abc", agent.keys[0])
	}
	if agent.keys[1] != "api:"+fresh.SessionID {
		t.Errorf("session key = %q", agent.keys[1])
	}
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name   string
		deps   Deps
		body   string
		status int
	}{
		{"no agent", Deps{}, `{"message":"hi"}`, http.StatusServiceUnavailable},
		{"bad json", Deps{Agent: &fakeAgent{}}, `{`, http.StatusBadRequest},
		{"empty message", Deps{Agent: &fakeAgent{}}, `{"message":""}`, http.StatusBadRequest},
		{"agent failure", Deps{Agent: &fakeAgent{err: errors.New("provider down")}}, `{"message":"hi"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.deps)
			resp, data := postChat(t, srv, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var body struct {
				Error struct {
					Message string `json:"message"`
					Code    int    `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(data, &body); err != nil || body.Error.Code != tt.status {
				t.Errorf("error body = %s", data)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, Deps{
		Sessions: staticKeys{"cli:local", "telegram:42"},
		Tools:    staticNames{"read_file", "exec"},
		Channels: staticNames{"cli"},
		Watch:    staticStatuses{{Name: "provider", Ready: true}},
		Model:    "gpt-test",
	})

	resp, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Services) != 1 || !got.Services[0].Ready || got.Services[0].Name != "provider" {
		t.Errorf("services = %+v", got.Services)
	}
	if len(got.Sessions) != 2 || len(got.Tools) != 2 || len(got.Channels) != 1 {
		t.Errorf("status = %+v", got)
	}
	if got.Model != "gpt-test" || got.Version == "" {
		t.Errorf("model/version = %q/%q", got.Model, got.Version)
	}
}

func TestStatus_EmptyListsAreArrays(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	for _, field := range []string{`"services":[]`, `"sessions":[]`, `"tools":[]`, `"channels":[]`} {
		if !bytes.Contains(data, []byte(field)) {
			t.Errorf("status body missing %s: %s", field, data)
		}
	}
}

func TestEvents_StreamsFilteredEvents(t *testing.T) {
	bus := events.New()
	srv := newTestServer(t, Deps{Events: bus})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?source=agent"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Emit(events.SourceMemory, events.KindConsolidated, map[string]any{"session": "cli:local"})
	bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{"tool": "exec"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Source != events.SourceAgent || got.Kind != events.KindToolCall || got.Data["tool"] != "exec" {
		t.Errorf("event = %+v", got)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after client left")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvents_NoBus(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, err := http.Get(srv.URL + "/v1/events")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestChatSocketMounted(t *testing.T) {
	srv := newTestServer(t, Deps{Chat: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "chat socket")
	})})
	resp, err := http.Get(srv.URL + "/v1/ws")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "chat socket" {
		t.Errorf("GET /v1/ws body = %q", data)
	}
}

func TestSplitFilter(t *testing.T) {
	got := splitFilter(" agent, ,memory ")
	if len(got) != 2 || got[0] != "agent" || got[1] != "memory" {
		t.Errorf("splitFilter = %q", got)
	}
	if splitFilter("") != nil {
		t.Error("empty filter should be nil")
	}
	if !matches(nil, "anything") || matches([]string{"agent"}, "memory") {
		t.Error("matches() wrong")
	}
}
