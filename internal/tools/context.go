package tools

import "context"

type contextKey string

const routeKey contextKey = "route"

// Route identifies the conversation a tool call belongs to.
type Route struct {
	Channel string
	ChatID  string
}

// WithRoute records the current channel and chat on the context so
// tools can reply to the conversation that invoked them.
func WithRoute(ctx context.Context, channel, chatID string) context.Context {
	return context.WithValue(ctx, routeKey, Route{Channel: channel, ChatID: chatID})
}

// RouteFromContext returns the route set by WithRoute. ok is false when
// none was set.
func RouteFromContext(ctx context.Context) (Route, bool) {
	r, ok := ctx.Value(routeKey).(Route)
	return r, ok && r.Channel != ""
}
