package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MultiClient routes requests to a provider by model name. Explicit
// routes win; otherwise a model whose name starts with a registered
// prefix goes to that provider; everything else goes to the fallback.
type MultiClient struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	prefixes map[string]string // model prefix → provider name
	fallback Client
}

// NewMultiClient creates a router with the given fallback client.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		prefixes: make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client under a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[name] = client
}

// AddModel maps a model name to a provider.
func (m *MultiClient) AddModel(model, provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[model] = provider
}

// AddPrefix maps every model starting with prefix to a provider.
func (m *MultiClient) AddPrefix(prefix, provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefixes[prefix] = provider
}

func (m *MultiClient) clientFor(model string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if provider, ok := m.models[model]; ok {
		if c, ok := m.clients[provider]; ok {
			return c, nil
		}
		return nil, fmt.Errorf("%w: provider %q for model %q", ErrNoProvider, provider, model)
	}
	longest := ""
	for prefix := range m.prefixes {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(longest) {
			longest = prefix
		}
	}
	if longest != "" {
		if c, ok := m.clients[m.prefixes[longest]]; ok {
			return c, nil
		}
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("%w for model %q", ErrNoProvider, model)
	}
	return m.fallback, nil
}

// Chat routes a non-streaming request.
func (m *MultiClient) Chat(ctx context.Context, req Request) (*ChatResponse, error) {
	c, err := m.clientFor(req.Model)
	if err != nil {
		return nil, err
	}
	return c.Chat(ctx, req)
}

// ChatStream routes a streaming request.
func (m *MultiClient) ChatStream(ctx context.Context, req Request) (*Stream, error) {
	c, err := m.clientFor(req.Model)
	if err != nil {
		return nil, err
	}
	return c.ChatStream(ctx, req)
}

// Ping checks the fallback provider.
func (m *MultiClient) Ping(ctx context.Context) error {
	if m.fallback == nil {
		return ErrNoProvider
	}
	return m.fallback.Ping(ctx)
}
