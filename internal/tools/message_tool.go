package tools

import (
	"context"
	"fmt"

	"github.com/santosobot/santoso/internal/bus"
)

// OutboundPublisher delivers a message to a chat channel.
type OutboundPublisher interface {
	PublishOutbound(ctx context.Context, msg bus.OutboundMessage) error
}

type messageArgs struct {
	Content string `json:"content" jsonschema_description:"Message text to send."`
	Channel string `json:"channel,omitempty" jsonschema_description:"Target channel. Defaults to the current conversation's channel."`
	ChatID  string `json:"chat_id,omitempty" jsonschema_description:"Target chat id. Defaults to the current conversation."`
}

// NewMessageTool returns the message tool, which sends text to a chat
// without ending the turn. Channel and chat default to the route on
// the context.
func NewMessageTool(pub OutboundPublisher) Tool {
	return Typed("message", "Send a message to the user on a chat channel. Use this to share progress or reach a different chat.",
		func(ctx context.Context, a messageArgs) (string, error) {
			if a.Content == "" {
				return "", fmt.Errorf("content is required")
			}
			route, _ := RouteFromContext(ctx)
			if a.Channel == "" {
				a.Channel = route.Channel
			}
			if a.ChatID == "" {
				a.ChatID = route.ChatID
			}
			if a.Channel == "" || a.ChatID == "" {
				return "", &ErrToolUnavailable{ToolName: "message", Reason: "no target channel or chat"}
			}
			err := pub.PublishOutbound(ctx, bus.OutboundMessage{
				Channel: a.Channel,
				ChatID:  a.ChatID,
				Content: a.Content,
			})
			if err != nil {
				return "", fmt.Errorf("send message: %w", err)
			}
			return fmt.Sprintf("Message sent to %s:%s", a.Channel, a.ChatID), nil
		})
}
