package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santosobot/santoso/internal/bus"
	"github.com/santosobot/santoso/internal/httpkit"
	"github.com/santosobot/santoso/internal/opstate"
)

const (
	// DefaultTelegramURL is the Bot API endpoint.
	DefaultTelegramURL = "https://api.telegram.org"
	// TelegramMaxMessage is the Bot API limit on message text length.
	TelegramMaxMessage = 4096

	telegramPollTimeout  = 30
	telegramRetryDelay   = 5 * time.Second
	telegramEditInterval = time.Second
	telegramPlaceholder  = "⏳ Generating response..."

	offsetNamespace = "telegram"
	offsetKey       = "update_offset"
)

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Token string
	// AllowFrom lists user ids or usernames. Empty allows everyone.
	AllowFrom []string
	// BaseURL overrides the Bot API endpoint.
	BaseURL string
	// State persists the update offset across restarts. Optional.
	State  *opstate.Store
	Bus    *bus.MessageBus
	Logger *slog.Logger
}

// Telegram is a Bot API channel using long polling.
type Telegram struct {
	token     string
	baseURL   string
	allowFrom []string
	state     *opstate.Store
	bus       *bus.MessageBus
	logger    *slog.Logger

	poll *http.Client // long-poll requests outlive the usual timeout
	api  *http.Client

	editInterval time.Duration
	retryDelay   time.Duration

	mu      sync.Mutex
	streams map[int64]*streamState // keyed by chat id
}

// streamState tracks the placeholder message being edited while an
// answer streams in.
type streamState struct {
	messageID int64
	lastEdit  time.Time
	lastText  string
}

// NewTelegram creates the channel. It does not contact the API.
func NewTelegram(cfg TelegramConfig) *Telegram {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultTelegramURL
	}
	return &Telegram{
		token:        cfg.Token,
		baseURL:      base,
		allowFrom:    cfg.AllowFrom,
		state:        cfg.State,
		bus:          cfg.Bus,
		logger:       logger.With("channel", "telegram"),
		poll:         httpkit.NewClient(httpkit.WithTimeout((telegramPollTimeout + 15) * time.Second)),
		api:          httpkit.NewClient(httpkit.WithTimeout(30*time.Second), httpkit.WithRetry(2, time.Second)),
		editInterval: telegramEditInterval,
		retryDelay:   telegramRetryDelay,
		streams:      make(map[int64]*streamState),
	}
}

// Name implements Channel.
func (t *Telegram) Name() string { return "telegram" }

// SupportsStreaming implements Streamer.
func (t *Telegram) SupportsStreaming() bool { return true }

// --- Bot API types ---

type tgUser struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type tgMessage struct {
	MessageID int64   `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
	Text      string  `json:"text"`
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// call invokes a Bot API method with a JSON body and decodes result
// into out when non-nil.
func (t *Telegram) call(ctx context.Context, client *http.Client, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	url := t.baseURL + "/bot" + t.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of logs.
		return fmt.Errorf("telegram %s: %w", method, redact(err, t.token))
	}
	defer resp.Body.Close()

	var r tgResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("telegram %s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if !r.OK {
		return &httpkit.StatusError{Service: "telegram " + method, Code: r.ErrorCode, Body: r.Description}
	}
	if out != nil {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<token>"))
}

// --- Receiving ---

// Start long-polls getUpdates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	offset, err := t.initialOffset(ctx)
	if err != nil {
		return err
	}
	t.logger.Info("telegram polling started", "offset", offset)

	for {
		if ctx.Err() != nil {
			return nil
		}

		var updates []tgUpdate
		err := t.call(ctx, t.poll, "getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         telegramPollTimeout,
			"allowed_updates": []string{"message"},
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Warn("getUpdates failed", "error", err, "retry_in", t.retryDelay)
			if !sleepCtx(ctx, t.retryDelay) {
				return nil
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			t.handleUpdate(ctx, u)
		}
		if len(updates) > 0 {
			t.saveOffset(ctx, offset)
		}
	}
}

// initialOffset returns the persisted offset. Without one, it skips
// the backlog by asking for only the newest pending update.
func (t *Telegram) initialOffset(ctx context.Context) (int64, error) {
	if t.state != nil {
		off, err := t.state.GetInt64(ctx, offsetNamespace, offsetKey)
		if err != nil {
			return 0, fmt.Errorf("load telegram offset: %w", err)
		}
		if off > 0 {
			return off, nil
		}
	}

	var latest []tgUpdate
	if err := t.call(ctx, t.api, "getUpdates", map[string]any{"offset": -1, "limit": 1}, &latest); err != nil {
		t.logger.Warn("could not read latest update, starting from zero", "error", err)
		return 0, nil
	}
	if len(latest) == 0 {
		return 0, nil
	}
	return latest[len(latest)-1].UpdateID + 1, nil
}

func (t *Telegram) saveOffset(ctx context.Context, offset int64) {
	if t.state == nil {
		return
	}
	if err := t.state.SetInt64(ctx, offsetNamespace, offsetKey, offset); err != nil {
		t.logger.Warn("failed to persist telegram offset", "error", err)
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, u tgUpdate) {
	m := u.Message
	if m == nil || m.From == nil || m.Text == "" {
		return
	}
	if m.From.IsBot {
		return
	}
	if !t.allowed(m.From) {
		t.logger.Debug("sender not in allow list", "sender_id", m.From.ID, "username", m.From.Username)
		return
	}

	senderID := strconv.FormatInt(m.From.ID, 10)
	if m.From.Username != "" {
		senderID += "|" + m.From.Username
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)

	t.logger.Info("message received", "chat_id", chatID, "sender_id", m.From.ID, "chars", len(m.Text))
	t.sendTyping(ctx, m.Chat.ID)

	err := t.bus.PublishInbound(ctx, bus.InboundMessage{
		Channel:  t.Name(),
		SenderID: senderID,
		ChatID:   chatID,
		Content:  m.Text,
		Metadata: map[string]string{
			"message_id": strconv.FormatInt(m.MessageID, 10),
			"username":   m.From.Username,
			"chat_type":  m.Chat.Type,
		},
	})
	if err != nil {
		t.logger.Warn("failed to publish inbound message", "error", err)
	}
}

// allowed matches the sender's numeric id or username (with or without
// a leading @) against the allow list.
func (t *Telegram) allowed(u *tgUser) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	id := strconv.FormatInt(u.ID, 10)
	return slices.ContainsFunc(t.allowFrom, func(a string) bool {
		a = strings.TrimPrefix(strings.TrimSpace(a), "@")
		return a == id || (u.Username != "" && strings.EqualFold(a, u.Username))
	})
}

// --- Sending ---

func (t *Telegram) sendTyping(ctx context.Context, chatID int64) {
	err := t.call(ctx, t.api, "sendChatAction", map[string]any{"chat_id": chatID, "action": "typing"}, nil)
	if err != nil {
		t.logger.Debug("sendChatAction failed", "error", err)
	}
}

func (t *Telegram) sendText(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error) {
	params := map[string]any{"chat_id": chatID, "text": text}
	if replyTo != 0 {
		params["reply_to_message_id"] = replyTo
	}
	var sent tgMessage
	if err := t.call(ctx, t.api, "sendMessage", params, &sent); err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *Telegram) editText(ctx context.Context, chatID, messageID int64, text string) error {
	return t.call(ctx, t.api, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, nil)
}

// Send implements Channel. Streaming frames create or edit a
// placeholder; the final message replaces it and sends any overflow
// chunks as replies.
func (t *Telegram) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q", msg.ChatID)
	}
	if msg.Streaming {
		return t.sendPartial(ctx, chatID, msg.Content)
	}

	t.mu.Lock()
	st := t.streams[chatID]
	delete(t.streams, chatID)
	t.mu.Unlock()

	chunks := SplitMessage(msg.Content, TelegramMaxMessage)
	if len(chunks) == 0 {
		chunks = []string{"(empty response)"}
	}

	var anchor int64
	if st != nil {
		if chunks[0] != st.lastText {
			if err := t.editText(ctx, chatID, st.messageID, chunks[0]); err != nil {
				return err
			}
		}
		anchor = st.messageID
	} else {
		t.sendTyping(ctx, chatID)
		anchor, err = t.sendText(ctx, chatID, chunks[0], 0)
		if err != nil {
			return err
		}
	}
	for _, c := range chunks[1:] {
		if _, err := t.sendText(ctx, chatID, c, anchor); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) sendPartial(ctx context.Context, chatID int64, content string) error {
	text := content
	if chunks := SplitMessage(content, TelegramMaxMessage); len(chunks) > 0 {
		text = chunks[0]
	}

	t.mu.Lock()
	st := t.streams[chatID]
	t.mu.Unlock()

	if st == nil {
		id, err := t.sendText(ctx, chatID, telegramPlaceholder, 0)
		if err != nil {
			return err
		}
		st = &streamState{messageID: id, lastText: telegramPlaceholder}
		t.mu.Lock()
		t.streams[chatID] = st
		t.mu.Unlock()
	}

	if text == "" || text == st.lastText || time.Since(st.lastEdit) < t.editInterval {
		return nil
	}
	if err := t.editText(ctx, chatID, st.messageID, text); err != nil {
		return err
	}
	t.mu.Lock()
	st.lastEdit = time.Now()
	st.lastText = text
	t.mu.Unlock()
	return nil
}

// SplitMessage breaks content into chunks of at most limit runes,
// preferring line breaks, then spaces, then a hard cut.
func SplitMessage(content string, limit int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	var chunks []string
	for {
		runes := []rune(content)
		if len(runes) <= limit {
			return append(chunks, content)
		}
		head := string(runes[:limit])
		cut := strings.LastIndex(head, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(head, " ")
		}
		if cut <= 0 {
			cut = len(head)
		}
		chunks = append(chunks, strings.TrimRight(content[:cut], " \n"))
		content = strings.TrimLeft(content[cut:], " \n")
		if content == "" {
			return chunks
		}
	}
}

// sleepCtx waits for d or until ctx is done. It reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
