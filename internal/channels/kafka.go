package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/replydesk/replydesk/internal/bus"
	"github.com/replydesk/replydesk/internal/config"
)

// KafkaChannel consumes conversation events from a Kafka topic. It is an
// inbound-only feed for platforms that are bridged externally (web chat,
// email gateways); replies to those conversations go back through whatever
// channel owns the scoped conversation ID in the event.
type KafkaChannel struct {
	BaseChannel
	cfg    config.KafkaConfig
	reader *kafka.Reader
	cancel context.CancelFunc
}

// kafkaEvent is the expected JSON payload on the topic.
type kafkaEvent struct {
	ConversationID       string `json:"conversation_id"`
	SenderID             string `json:"sender_id"`
	Title                string `json:"title,omitempty"`
	Text                 string `json:"text"`
	UnreadableAttachment bool   `json:"unreadable_attachment,omitempty"`
	Timestamp            int64  `json:"timestamp,omitempty"`
}

// NewKafkaChannel creates a Kafka inbound channel.
func NewKafkaChannel(cfg config.KafkaConfig, messageBus *bus.MessageBus) *KafkaChannel {
	return &KafkaChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		cfg:         cfg,
	}
}

func (c *KafkaChannel) Name() string { return "kafka" }

// Start begins consuming conversation events.
func (c *KafkaChannel) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if c.cfg.Brokers == "" || c.cfg.Topic == "" {
		return fmt.Errorf("kafka brokers and topic required")
	}

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(c.cfg.Brokers, ","),
		Topic:    c.cfg.Topic,
		GroupID:  c.cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.consume(runCtx)
	slog.Info("Kafka channel started", "topic", c.cfg.Topic, "group", c.cfg.ConsumerGroup)
	return nil
}

// Stop closes the reader.
func (c *KafkaChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}

// Send is unsupported: the Kafka feed is inbound only.
func (c *KafkaChannel) Send(ctx context.Context, conversationID, text string) error {
	return fmt.Errorf("kafka channel is inbound only")
}

func (c *KafkaChannel) consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Kafka read error", "topic", c.cfg.Topic, "error", err)
			continue
		}
		c.handleEvent(msg.Value)
	}
}

func (c *KafkaChannel) handleEvent(value []byte) {
	var ev kafkaEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		slog.Warn("Kafka event decode failed", "error", err)
		return
	}
	if ev.ConversationID == "" || (ev.Text == "" && !ev.UnreadableAttachment) {
		return
	}

	convID := ev.ConversationID
	if !strings.Contains(convID, ":") {
		convID = ScopeID(c.Name(), convID)
	}
	ts := time.Now()
	if ev.Timestamp > 0 {
		ts = time.Unix(ev.Timestamp, 0)
	}

	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:              c.Name(),
		SenderID:             ev.SenderID,
		ConversationID:       convID,
		Title:                ev.Title,
		Content:              ev.Text,
		UnreadableAttachment: ev.UnreadableAttachment,
		Timestamp:            ts,
	})
}
