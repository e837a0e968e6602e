// Package channels connects chat transports (terminal, Telegram,
// WebSocket, MQTT) to the message bus. Each [Channel] publishes what
// its users say to the inbound queue; the [Manager] routes replies from
// the outbound queue back to the channel they belong to.
package channels

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santosobot/santoso/internal/bus"
	"github.com/santosobot/santoso/internal/events"
)

// sendTimeout bounds a single outbound delivery.
const sendTimeout = 30 * time.Second

// Channel is one chat transport.
type Channel interface {
	Name() string
	// Start receives messages until ctx is cancelled. It returns nil on
	// a clean shutdown.
	Start(ctx context.Context) error
	// Send delivers one outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Streamer is implemented by channels that can show a partial answer
// and later replace it. Channels without it never see streaming frames.
type Streamer interface {
	SupportsStreaming() bool
}

// Manager starts channels and dispatches outbound messages to them.
type Manager struct {
	bus    *bus.MessageBus
	events *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager creates a manager reading replies from b.
func NewManager(b *bus.MessageBus, ev *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bus:      b,
		events:   ev,
		logger:   logger.With("component", "channels"),
		channels: make(map[string]Channel),
	}
}

// Register adds ch, replacing any channel with the same name.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns the named channel, or nil.
func (m *Manager) Get(name string) Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

// Names returns the registered channel names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts every registered channel and dispatches outbound messages
// until ctx is cancelled. A channel that fails is logged and does not
// stop the others.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	chans := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.logger.Info("channel starting", "channel", ch.Name())
			m.events.Emit(events.SourceChannel, events.KindChannelStarted, map[string]any{
				"channel": ch.Name(),
			})
			if err := ch.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("channel stopped with error", "channel", ch.Name(), "error", err)
				return
			}
			m.logger.Info("channel stopped", "channel", ch.Name())
		}()
	}

	m.Dispatch(ctx)
	wg.Wait()
	return ctx.Err()
}

// Dispatch routes outbound messages until ctx is cancelled.
func (m *Manager) Dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.bus.Outbound():
			m.deliver(ctx, msg)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, msg bus.OutboundMessage) {
	ch := m.Get(msg.Channel)
	if ch == nil {
		m.logger.Warn("outbound message for unknown channel dropped",
			"channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}
	if msg.Streaming {
		s, ok := ch.(Streamer)
		if !ok || !s.SupportsStreaming() {
			return
		}
	}

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := ch.Send(sctx, msg); err != nil {
		m.logger.Warn("outbound delivery failed",
			"channel", msg.Channel, "chat_id", msg.ChatID, "streaming", msg.Streaming, "error", err)
	}
}
