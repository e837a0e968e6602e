// Package bus carries chat messages between channel adapters and the
// agent loop over bounded queues.
package bus

import (
	"context"
	"errors"
	"time"
)

// DefaultCapacity is the buffer size of each direction's queue.
const DefaultCapacity = 100

// ErrFull is returned by TryPublishOutbound when the outbound queue has
// no room.
var ErrFull = errors.New("outbound queue full")

// InboundMessage is a message received from a chat channel.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Media     []string
	Metadata  map[string]string
	Timestamp time.Time
}

// SessionKey identifies the conversation: "channel:chat_id".
func (m InboundMessage) SessionKey() string {
	return SessionKey(m.Channel, m.ChatID)
}

// SessionKey joins a channel and chat id into a session key.
func SessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// OutboundMessage is a message to deliver to a chat channel.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	Metadata map[string]string
	// MessageID, when set, targets an existing message for editing.
	MessageID *int64
	// Streaming marks a partial answer that a later message supersedes.
	Streaming bool
}

// MessageBus holds the inbound and outbound queues.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// New creates a bus with the given per-direction capacity. Zero uses
// DefaultCapacity.
func New(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, capacity),
		outbound: make(chan OutboundMessage, capacity),
	}
}

// PublishInbound enqueues a received message, blocking while the queue
// is full or until ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishOutbound enqueues a reply, blocking while the queue is full or
// until ctx is done.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublishOutbound enqueues a reply without blocking. It returns
// ErrFull when the queue has no room; callers use it for progress
// frames that may be dropped.
func (b *MessageBus) TryPublishOutbound(msg OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Inbound returns the receive side of the inbound queue.
func (b *MessageBus) Inbound() <-chan InboundMessage { return b.inbound }

// Outbound returns the receive side of the outbound queue.
func (b *MessageBus) Outbound() <-chan OutboundMessage { return b.outbound }
