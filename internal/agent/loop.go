// Package agent implements the core agent loop: it turns one inbound
// message into a final answer by alternating model calls and tool
// executions until the model stops asking for tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/santosobot/santoso/internal/bus"
	"github.com/santosobot/santoso/internal/events"
	"github.com/santosobot/santoso/internal/llm"
	"github.com/santosobot/santoso/internal/memory"
	"github.com/santosobot/santoso/internal/tools"
)

const (
	// SteeringPrompt follows every tool result.
	SteeringPrompt = "Reflect on the results and decide next steps."
	// NoResponse is the answer when the loop ends with nothing to say.
	NoResponse = "I've completed processing but have no response to give."

	defaultProgressEvery = 10
	defaultMaxIterations = 20
	defaultIdleTimeout   = 10 * time.Minute
)

// Outcome describes how a turn ended.
type Outcome string

const (
	OutcomeAnswered    Outcome = "answered"
	OutcomeToolResults Outcome = "tool_results"
	OutcomeNoResponse  Outcome = "no_response"
)

// ContextBuilder produces the message list for the first iteration.
// The first message is the system prompt.
type ContextBuilder interface {
	BuildMessages(history []memory.Entry, userContent, channel, chatID string, catalogue []map[string]any) []llm.Message
}

// Config holds the model parameters and loop bounds.
type Config struct {
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	// Stream selects ChatStream over Chat.
	Stream bool
	// ProgressEvery is the number of streamed chunks between partial
	// updates pushed to the channel.
	ProgressEvery int
}

// Deps are the collaborators of a [Loop]. Bus and Events may be nil.
type Deps struct {
	Client   llm.Client
	Builder  ContextBuilder
	Tools    *tools.Registry
	Sessions *memory.Sessions
	Bus      *bus.MessageBus
	Events   *events.Bus
	Logger   *slog.Logger
}

// Result is the outcome of one processed turn.
type Result struct {
	RequestID  string
	Content    string
	Outcome    Outcome
	Iterations int
	ToolsUsed  []string
}

// Loop runs turns. It is safe for concurrent use. Turns for the same
// session never overlap, whether they arrive on the bus or through
// [Loop.ProcessDirect].
type Loop struct {
	cfg      Config
	client   llm.Client
	builder  ContextBuilder
	tools    *tools.Registry
	sessions *memory.Sessions
	bus      *bus.MessageBus
	events   *events.Bus
	logger   *slog.Logger

	idleTimeout time.Duration

	mu      sync.Mutex
	workers map[string]*worker
	turns   map[string]*turnLock
	wg      sync.WaitGroup
}

// worker drains one session's queue. The queue is unbounded so a
// flooded chat never blocks dispatch for the others.
type worker struct {
	queue []bus.InboundMessage // guarded by Loop.mu
	wake  chan struct{}
}

// turnLock serializes turns of one session. refs counts holders and
// waiters so the entry can be dropped once nobody uses it.
type turnLock struct {
	held chan struct{}
	refs int // guarded by Loop.mu
}

// NewLoop creates a loop. A nil registry means no tools.
func NewLoop(cfg Config, deps Deps) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	if deps.Tools == nil {
		deps.Tools = tools.NewRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:         cfg,
		client:      deps.Client,
		builder:     deps.Builder,
		tools:       deps.Tools,
		sessions:    deps.Sessions,
		bus:         deps.Bus,
		events:      deps.Events,
		logger:      logger.With("component", "agent"),
		idleTimeout: defaultIdleTimeout,
		workers:     make(map[string]*worker),
		turns:       make(map[string]*turnLock),
	}
}

// turn is one message to process.
type turn struct {
	content  string
	channel  string
	chatID   string
	session  string
	progress bool // push streaming partials to the channel
}

// Run consumes the inbound queue until ctx is cancelled. Each session
// gets its own worker, so one slow conversation does not hold up the
// others while turns within a session stay ordered.
func (l *Loop) Run(ctx context.Context) error {
	if l.bus == nil {
		return errors.New("agent loop has no message bus")
	}
	l.logger.Info("agent loop started", "model", l.cfg.Model, "tools", l.tools.Len())
	defer l.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return ctx.Err()
		case msg := <-l.bus.Inbound():
			l.dispatch(ctx, msg)
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()

	l.mu.Lock()
	w, ok := l.workers[key]
	if !ok {
		w = &worker{wake: make(chan struct{}, 1)}
		l.workers[key] = w
		l.wg.Add(1)
		go l.runWorker(ctx, key, w)
	}
	w.queue = append(w.queue, msg)
	l.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// runWorker processes one session's queue in order and exits after
// sitting idle with nothing queued.
func (l *Loop) runWorker(ctx context.Context, key string, w *worker) {
	defer l.wg.Done()

	idle := time.NewTimer(l.idleTimeout)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		l.mu.Lock()
		if len(w.queue) > 0 {
			msg := w.queue[0]
			w.queue[0] = bus.InboundMessage{}
			w.queue = w.queue[1:]
			l.mu.Unlock()

			l.handleInbound(ctx, msg)
			idle.Reset(l.idleTimeout)
			continue
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-idle.C:
			l.mu.Lock()
			if len(w.queue) == 0 {
				delete(l.workers, key)
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			idle.Reset(l.idleTimeout)
		}
	}
}

// lockSession waits until no other turn of session is running. The
// returned func releases the session.
func (l *Loop) lockSession(ctx context.Context, session string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.turns[session]
	if !ok {
		tl = &turnLock{held: make(chan struct{}, 1)}
		l.turns[session] = tl
	}
	tl.refs++
	l.mu.Unlock()

	drop := func() {
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.turns, session)
		}
		l.mu.Unlock()
	}

	select {
	case tl.held <- struct{}{}:
		return func() {
			<-tl.held
			drop()
		}, nil
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}
}

// handleInbound processes a bus message and publishes the reply. A
// failed turn still answers the channel.
func (l *Loop) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	res, err := l.process(ctx, turn{
		content:  msg.Content,
		channel:  msg.Channel,
		chatID:   msg.ChatID,
		session:  msg.SessionKey(),
		progress: true,
	})

	content := ""
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		content = "Sorry, I encountered an error: " + err.Error()
	} else {
		content = res.Content
	}

	out := bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: content}
	if err := l.bus.PublishOutbound(ctx, out); err != nil {
		l.logger.Warn("failed to publish reply", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
	}
}

// Process runs one turn for msg synchronously and returns the result
// without publishing it.
func (l *Loop) Process(ctx context.Context, msg bus.InboundMessage) (*Result, error) {
	return l.process(ctx, turn{
		content: msg.Content,
		channel: msg.Channel,
		chatID:  msg.ChatID,
		session: msg.SessionKey(),
	})
}

// ProcessDirect runs one turn outside the bus, for one-shot CLI use and
// the HTTP API. sessionKey has the form channel:chat_id; a key without
// a colon is treated as a chat id on the "direct" channel.
func (l *Loop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	channel, chatID, ok := strings.Cut(sessionKey, ":")
	if !ok {
		channel, chatID = "direct", sessionKey
	}
	res, err := l.process(ctx, turn{
		content: content,
		channel: channel,
		chatID:  chatID,
		session: bus.SessionKey(channel, chatID),
	})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

func (l *Loop) process(ctx context.Context, t turn) (*Result, error) {
	unlock, err := l.lockSession(ctx, t.session)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	res := &Result{RequestID: uuid.NewString()}
	log := l.logger.With("request_id", res.RequestID, "session", t.session)

	log.Info("request started", "channel", t.channel, "chat_id", t.chatID, "chars", len(t.content))
	l.events.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id": res.RequestID,
		"session":    t.session,
		"channel":    t.channel,
	})

	var hist *memory.History
	var history []memory.Entry
	if l.sessions != nil {
		hist = l.sessions.Get(t.session)
		history = hist.Recent(l.sessions.Window())
	}

	// The catalogue is rendered into the system prompt; the provider
	// call itself carries no native tool definitions.
	msgs := l.builder.BuildMessages(history, t.content, t.channel, t.chatID, l.tools.Definitions())
	ctx = tools.WithRoute(ctx, t.channel, t.chatID)

	var results []string
	for iter := 1; iter <= l.cfg.MaxIterations; iter++ {
		res.Iterations = iter

		l.events.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
			"request_id": res.RequestID,
			"iter":       iter,
			"model":      l.cfg.Model,
			"stream":     l.cfg.Stream,
		})

		var progress func(string)
		if t.progress && l.bus != nil {
			progress = func(partial string) {
				err := l.bus.TryPublishOutbound(bus.OutboundMessage{
					Channel:   t.channel,
					ChatID:    t.chatID,
					Content:   partial,
					Streaming: true,
				})
				if err != nil {
					log.Debug("progress frame dropped", "error", err)
				}
			}
		}

		text, err := l.complete(ctx, msgs, progress)
		if err != nil {
			log.Error("llm call failed", "iter", iter, "error", err)
			l.events.Emit(events.SourceAgent, events.KindRequestFailed, map[string]any{
				"request_id": res.RequestID,
				"error":      err.Error(),
			})
			return nil, fmt.Errorf("llm call: %w", err)
		}

		inv, ok := ParseToolCall(text, l.tools.Has)
		if !ok {
			if strings.TrimSpace(text) != "" {
				res.Content = text
				res.Outcome = OutcomeAnswered
			}
			break
		}

		result := l.executeTool(ctx, log, res.RequestID, iter, inv)
		results = append(results, result)
		res.ToolsUsed = append(res.ToolsUsed, inv.Name)

		msgs = append(msgs,
			llm.Message{
				Role:    llm.RoleAssistant,
				Content: text,
				ToolCalls: []llm.ToolCall{{
					ID:   inv.ID,
					Type: "function",
					Function: llm.FunctionCall{
						Name:      inv.Name,
						Arguments: string(inv.Arguments),
					},
				}},
			},
			llm.ToolResult(result, inv.ID),
			llm.User(SteeringPrompt),
		)
	}

	if res.Outcome == "" {
		if len(results) > 0 {
			res.Content = strings.Join(results, "\n")
			res.Outcome = OutcomeToolResults
		} else {
			res.Content = NoResponse
			res.Outcome = OutcomeNoResponse
		}
	}

	if hist != nil {
		hist.AppendTurn(t.content, res.Content, res.ToolsUsed)
		l.sessions.MaybeConsolidate(t.session)
	}

	elapsed := time.Since(start)
	log.Info("request completed",
		"iterations", res.Iterations,
		"outcome", res.Outcome,
		"tools", len(res.ToolsUsed),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	l.events.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id": res.RequestID,
		"iterations": res.Iterations,
		"outcome":    string(res.Outcome),
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return res, nil
}

// complete runs one provider call and returns the full text. With
// streaming on, progress receives the accumulated text every
// ProgressEvery chunks.
func (l *Loop) complete(ctx context.Context, msgs []llm.Message, progress func(string)) (string, error) {
	req := llm.Request{
		Model:       l.cfg.Model,
		Messages:    msgs,
		Temperature: l.cfg.Temperature,
		MaxTokens:   l.cfg.MaxTokens,
	}

	if !l.cfg.Stream {
		resp, err := l.client.Chat(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	}

	stream, err := l.client.ChatStream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var buf strings.Builder
	chunks := 0
	for stream.Next() {
		buf.WriteString(stream.Current())
		chunks++
		if progress != nil && chunks%l.cfg.ProgressEvery == 0 {
			progress(buf.String())
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return buf.String(), nil
}

// executeTool runs inv and renders failures as text for the model.
func (l *Loop) executeTool(ctx context.Context, log *slog.Logger, requestID string, iter int, inv *Invocation) string {
	log.Info("tool call", "iter", iter, "tool", inv.Name)
	l.events.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"request_id": requestID,
		"iter":       iter,
		"tool":       inv.Name,
	})

	start := time.Now()
	result, err := l.tools.Execute(ctx, inv.Name, inv.Arguments)
	ok := err == nil
	if err != nil {
		log.Warn("tool failed", "tool", inv.Name, "error", err)
		result = "Error: " + err.Error()
	}

	l.events.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"request_id":  requestID,
		"tool":        inv.Name,
		"ok":          ok,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result
}
