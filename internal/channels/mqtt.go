package channels

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/santosobot/santoso/internal/bus"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttRateLimit      = 60 // inbound messages per mqttRateInterval
	mqttRateInterval   = time.Minute
)

// MQTTConfig configures the MQTT chat channel.
type MQTTConfig struct {
	Broker      string // mqtt://, mqtts:// or ssl:// URL
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	Bus         *bus.MessageBus
	Logger      *slog.Logger
}

// MQTTInbound is the payload accepted on <prefix>/in.
type MQTTInbound struct {
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id,omitempty"`
	Content  string `json:"content"`
}

// MQTTOutbound is the payload published on <prefix>/out/<chat_id>.
type MQTTOutbound struct {
	Content   string `json:"content"`
	Streaming bool   `json:"streaming,omitempty"`
}

// MQTT is a chat channel that talks through a broker. Clients publish
// requests to <prefix>/in and subscribe to <prefix>/out/<chat_id>.
type MQTT struct {
	cfg     MQTTConfig
	bus     *bus.MessageBus
	logger  *slog.Logger
	limiter *messageRateLimiter

	mu sync.RWMutex
	cm *autopaho.ConnectionManager
}

// NewMQTT creates the channel. Nothing connects until Start.
func NewMQTT(cfg MQTTConfig) *MQTT {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("channel", "mqtt")
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "santoso"
	}
	cfg.TopicPrefix = strings.TrimRight(cfg.TopicPrefix, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "santoso"
	}
	return &MQTT{
		cfg:     cfg,
		bus:     cfg.Bus,
		logger:  logger,
		limiter: newMessageRateLimiter(mqttRateLimit, mqttRateInterval, logger),
	}
}

// Name implements Channel.
func (m *MQTT) Name() string { return "mqtt" }

// SupportsStreaming implements Streamer.
func (m *MQTT) SupportsStreaming() bool { return true }

func (m *MQTT) inTopic() string           { return m.cfg.TopicPrefix + "/in" }
func (m *MQTT) availabilityTopic() string { return m.cfg.TopicPrefix + "/availability" }

func (m *MQTT) outTopic(chatID string) string {
	return m.cfg.TopicPrefix + "/out/" + chatID
}

// Start connects to the broker and handles requests until ctx is
// cancelled. On every (re-)connect it subscribes to the request topic
// and publishes an online availability message.
func (m *MQTT) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := m.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("mqtt connected to broker", "broker", m.cfg.Broker)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: m.inTopic(), QoS: 1}},
			}); err != nil {
				m.logger.Warn("mqtt subscribe failed", "topic", m.inTopic(), "error", err)
			}
			m.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					m.handlePublish(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.mu.Lock()
	m.cm = cm
	m.mu.Unlock()

	go m.limiter.start(ctx)

	connCtx, connCancel := context.WithTimeout(ctx, mqttConnectTimeout)
	if err := cm.AwaitConnection(connCtx); err != nil {
		m.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	connCancel()

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.publishAvailability(stopCtx, cm, "offline")
	if err := cm.Disconnect(stopCtx); err != nil {
		m.logger.Debug("mqtt disconnect", "error", err)
	}
	return nil
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires. It serves as a connwatch probe.
func (m *MQTT) AwaitConnection(ctx context.Context) error {
	m.mu.RLock()
	cm := m.cm
	m.mu.RUnlock()
	if cm == nil {
		return fmt.Errorf("mqtt channel not started")
	}
	return cm.AwaitConnection(ctx)
}

func (m *MQTT) handlePublish(ctx context.Context, topic string, payload []byte) {
	if topic != m.inTopic() {
		return
	}
	if !m.limiter.allow() {
		return
	}
	msg, err := ParseMQTTInbound(payload)
	if err != nil {
		m.logger.Debug("mqtt request ignored", "error", err, "payload_size", len(payload))
		return
	}
	if err := m.bus.PublishInbound(ctx, msg); err != nil {
		m.logger.Debug("mqtt inbound not queued", "error", err)
	}
}

// ParseMQTTInbound decodes a request payload into an inbound message.
// A missing sender defaults to the chat id.
func ParseMQTTInbound(payload []byte) (bus.InboundMessage, error) {
	var in MQTTInbound
	if err := json.Unmarshal(payload, &in); err != nil {
		return bus.InboundMessage{}, fmt.Errorf("decode request: %w", err)
	}
	in.ChatID = strings.TrimSpace(in.ChatID)
	if in.ChatID == "" {
		return bus.InboundMessage{}, fmt.Errorf("request has no chat_id")
	}
	if strings.ContainsAny(in.ChatID, "/+#") {
		return bus.InboundMessage{}, fmt.Errorf("chat_id %q contains topic characters", in.ChatID)
	}
	if strings.TrimSpace(in.Content) == "" {
		return bus.InboundMessage{}, fmt.Errorf("request has no content")
	}
	if in.SenderID == "" {
		in.SenderID = in.ChatID
	}
	return bus.InboundMessage{
		Channel:  "mqtt",
		SenderID: in.SenderID,
		ChatID:   in.ChatID,
		Content:  in.Content,
	}, nil
}

// Send implements Channel. Partial answers are published at QoS 0 and
// final answers at QoS 1.
func (m *MQTT) Send(ctx context.Context, msg bus.OutboundMessage) error {
	m.mu.RLock()
	cm := m.cm
	m.mu.RUnlock()
	if cm == nil {
		return fmt.Errorf("mqtt channel not started")
	}
	payload, err := json.Marshal(MQTTOutbound{Content: msg.Content, Streaming: msg.Streaming})
	if err != nil {
		return err
	}
	var qos byte = 1
	if msg.Streaming {
		qos = 0
	}
	_, err = cm.Publish(ctx, &paho.Publish{
		Topic:   m.outTopic(msg.ChatID),
		Payload: payload,
		QoS:     qos,
	})
	if err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (m *MQTT) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, state string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.availabilityTopic(),
		Payload: []byte(state),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		m.logger.Debug("mqtt availability publish failed", "state", state, "error", err)
	}
}

// messageRateLimiter drops inbound requests beyond limit per interval.
// The counters are atomic so the receive path never blocks.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start resets the counters every interval until ctx is cancelled.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reset()
		}
	}
}

func (r *messageRateLimiter) reset() {
	count := r.count.Swap(0)
	dropped := r.dropped.Swap(0)
	if dropped > 0 {
		r.logger.Warn("mqtt requests dropped due to rate limit",
			"received", count,
			"dropped", dropped,
			"interval", r.interval.String(),
			"limit", r.limit,
		)
	}
}

func (r *messageRateLimiter) allow() bool {
	n := r.count.Add(1)
	if n > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
