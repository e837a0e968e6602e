package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// clearUmask sets the process umask to 0 so file permission assertions
// are deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

// fakeProvider is an OpenAI-compatible endpoint that answers every
// chat request with reply, streamed or not as the request asks.
type fakeProvider struct {
	reply string

	mu       sync.Mutex
	requests []map[string]any
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/models"):
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[]}`)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/chat/completions"):
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.requests = append(f.requests, body)
		f.mu.Unlock()

		if stream, _ := body["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			chunk, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": f.reply}}},
			})
			fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", chunk)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeProvider) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type testConfig struct {
	providerURL string
	stream      bool
	port        int
}

// writeTestConfig writes a config file rooted in a temp directory and
// returns its path and the workspace.
func writeTestConfig(t *testing.T, tc testConfig) (string, string) {
	t.Helper()
	dir := t.TempDir()
	workspace := filepath.Join(dir, "workspace")
	if tc.port == 0 {
		tc.port = 18790
	}
	cfg := fmt.Sprintf(`agent:
  model: test-model
  workspace: %s
  stream: %t
provider:
  api_key: test-key
  api_base: %s
data_dir: %s
log_level: error
gateway:
  address: 127.0.0.1
  port: %d
channels:
  websocket:
    enabled: true
`, workspace, tc.stream, tc.providerURL, filepath.Join(dir, "data"), tc.port)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, workspace
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(t.Context(), &out, io.Discard, []string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "Santoso ") || !strings.Contains(out.String(), "go_version:") {
		t.Errorf("version output = %q", out.String())
	}

	out.Reset()
	if err := run(t.Context(), &out, io.Discard, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("json version output: %v", err)
	}
	if info["version"] == "" || info["os"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRun_ArgumentErrors(t *testing.T) {
	tests := []struct {
		args    []string
		wantErr string
	}{
		{[]string{"bogus"}, "unknown command"},
		{[]string{"--bogus", "version"}, "unknown flag"},
		{[]string{"-o", "yaml", "version"}, "unknown output format"},
		{[]string{"agent", "--nope"}, "usage: santoso agent"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			err := run(t.Context(), io.Discard, io.Discard, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("run(%v) = %v, want error containing %q", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(t.Context(), &out, io.Discard, args); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), "Usage: santoso") {
			t.Errorf("help for %v = %q", args, out.String())
		}
	}
}

func TestParseAgentArgs(t *testing.T) {
	opts, err := parseAgentArgs([]string{"-m", "hello there", "-s", "api:x"})
	if err != nil {
		t.Fatal(err)
	}
	if opts.message != "hello there" || opts.session != "api:x" {
		t.Errorf("opts = %+v", opts)
	}

	opts, err = parseAgentArgs([]string{"--message=hi"})
	if err != nil || opts.message != "hi" || opts.session != "cli:local" {
		t.Errorf("opts = %+v, err = %v", opts, err)
	}
}

func TestRunOnboard(t *testing.T) {
	clearUmask(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	var out bytes.Buffer
	if err := run(t.Context(), &out, io.Discard, []string{"onboard"}); err != nil {
		t.Fatalf("onboard: %v", err)
	}

	cfgPath := filepath.Join(home, ".santoso", "config.yaml")
	info, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("config permissions = %o, want 0600", got)
	}

	workspace := filepath.Join(home, ".santoso", "workspace")
	for _, name := range []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"} {
		if _, err := os.Stat(filepath.Join(workspace, name)); err != nil {
			t.Errorf("bootstrap file %s: %v", name, err)
		}
	}
	if fi, err := os.Stat(filepath.Join(workspace, "memory")); err != nil || !fi.IsDir() {
		t.Errorf("memory dir not created: %v", err)
	}

	// A second run keeps user edits.
	custom := []byte("# my agents file\n")
	if err := os.WriteFile(filepath.Join(workspace, "AGENTS.md"), custom, 0o644); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := run(t.Context(), &out, io.Discard, []string{"onboard"}); err != nil {
		t.Fatalf("second onboard: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(workspace, "AGENTS.md"))
	if !bytes.Equal(got, custom) {
		t.Error("onboard overwrote an existing bootstrap file")
	}
	if !strings.Contains(out.String(), "left unchanged") {
		t.Errorf("second run output = %q", out.String())
	}
}

func TestRunStatus_ProviderReachable(t *testing.T) {
	provider := httptest.NewServer(&fakeProvider{})
	defer provider.Close()
	cfgPath, workspace := writeTestConfig(t, testConfig{providerURL: provider.URL})

	var out bytes.Buffer
	if err := run(t.Context(), &out, io.Discard, []string{"-config", cfgPath, "-o", "json", "status"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	var r statusReport
	if err := json.Unmarshal(out.Bytes(), &r); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out.String())
	}
	if !r.ConfigFound || r.ConfigPath != cfgPath || r.Workspace != workspace {
		t.Errorf("report = %+v", r)
	}
	if !r.OpenAIKey || r.AnthropicKey || r.Model != "test-model" {
		t.Errorf("report = %+v", r)
	}
	if r.Provider == nil || !r.Provider.Ready {
		t.Errorf("provider = %+v, want reachable", r.Provider)
	}
}

func TestRunStatus_ProviderDown(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer provider.Close()
	cfgPath, _ := writeTestConfig(t, testConfig{providerURL: provider.URL})

	var out bytes.Buffer
	if err := run(t.Context(), &out, io.Discard, []string{"-config", cfgPath, "status"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "unreachable") || !strings.Contains(out.String(), "key set") {
		t.Errorf("status output = %q", out.String())
	}
}

func TestRunAgent_OneShot(t *testing.T) {
	fp := &fakeProvider{reply: "Hello from the provider."}
	provider := httptest.NewServer(fp)
	defer provider.Close()
	cfgPath, workspace := writeTestConfig(t, testConfig{providerURL: provider.URL, stream: false})

	var out bytes.Buffer
	err := run(t.Context(), &out, io.Discard, []string{"-config", cfgPath, "agent", "-m", "hi"})
	if err != nil {
		t.Fatalf("agent -m: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "Hello from the provider." {
		t.Errorf("reply = %q", got)
	}
	if fp.requestCount() != 1 {
		t.Errorf("provider requests = %d, want 1", fp.requestCount())
	}
	if _, err := os.Stat(filepath.Join(workspace, "memory")); err != nil {
		t.Errorf("workspace memory dir not created: %v", err)
	}
}

func TestRunAgent_Interactive(t *testing.T) {
	provider := httptest.NewServer(&fakeProvider{reply: "Hi there."})
	defer provider.Close()
	cfgPath, _ := writeTestConfig(t, testConfig{providerURL: provider.URL, stream: true})

	opts, _ := parseAgentArgs(nil)
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- runAgent(t.Context(), strings.NewReader("hello\nexit\n"), &out, io.Discard, cfgPath, opts)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runAgent: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("interactive agent did not exit")
	}
	if got := out.String(); got != "Hi there.\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRunAgent_NoAPIKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("agent:\n  workspace: "+filepath.Join(dir, "ws")+"\n"), 0o600)

	err := run(t.Context(), io.Discard, io.Discard, []string{"-config", path, "agent", "-m", "hi"})
	if err == nil || !strings.Contains(err.Error(), "no API key") {
		t.Errorf("err = %v, want no API key error", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunGateway_ServesAndStops(t *testing.T) {
	provider := httptest.NewServer(&fakeProvider{reply: "gateway reply"})
	defer provider.Close()
	port := freePort(t)
	cfgPath, _ := writeTestConfig(t, testConfig{providerURL: provider.URL, port: port})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- run(ctx, io.Discard, io.Discard, []string{"-config", cfgPath, "gateway"}) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("gateway never became healthy: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Post(base+"/v1/chat", "application/json", strings.NewReader(`{"message":"hi","session_id":"t1"}`))
	if err != nil {
		t.Fatal(err)
	}
	var chat struct {
		Response  string `json:"response"`
		SessionID string `json:"session_id"`
	}
	json.NewDecoder(resp.Body).Decode(&chat)
	resp.Body.Close()
	if chat.Response != "gateway reply" || chat.SessionID != "t1" {
		t.Errorf("chat = %+v", chat)
	}

	resp, err = http.Get(base + "/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	var status struct {
		Channels []string `json:"channels"`
		Sessions []string `json:"sessions"`
	}
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if len(status.Channels) != 1 || status.Channels[0] != "websocket" {
		t.Errorf("channels = %v", status.Channels)
	}
	if len(status.Sessions) != 1 || status.Sessions[0] != "api:t1" {
		t.Errorf("sessions = %v", status.Sessions)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("gateway returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("gateway did not stop")
	}
}
