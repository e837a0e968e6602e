package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "telegram", ChatID: "42"}
	if got := msg.SessionKey(); got != "telegram:42" {
		t.Errorf("SessionKey() = %q", got)
	}
}

func TestPublishInbound_StampsTime(t *testing.T) {
	b := New(1)
	if err := b.PublishInbound(t.Context(), InboundMessage{Channel: "cli", Content: "hi"}); err != nil {
		t.Fatalf("PublishInbound: %v", err)
	}
	msg := <-b.Inbound()
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestPublishOutbound_RespectsContext(t *testing.T) {
	b := New(1)
	if err := b.PublishOutbound(t.Context(), OutboundMessage{Content: "1"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	if err := b.PublishOutbound(ctx, OutboundMessage{Content: "2"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("blocked publish error = %v, want deadline exceeded", err)
	}
}

func TestTryPublishOutbound_DropsWhenFull(t *testing.T) {
	b := New(1)
	if err := b.TryPublishOutbound(OutboundMessage{Content: "1"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := b.TryPublishOutbound(OutboundMessage{Content: "2"}); !errors.Is(err, ErrFull) {
		t.Errorf("error = %v, want ErrFull", err)
	}
	if got := (<-b.Outbound()).Content; got != "1" {
		t.Errorf("queued content = %q", got)
	}
}

func TestNew_DefaultCapacity(t *testing.T) {
	b := New(0)
	if cap(b.inbound) != DefaultCapacity || cap(b.outbound) != DefaultCapacity {
		t.Errorf("capacity = %d/%d", cap(b.inbound), cap(b.outbound))
	}
}
