// Package bus provides the async message bus between channels and the engine.
package bus

import (
	"context"
	"sync"
	"time"
)

// InboundMessage represents a message from a channel to the engine.
type InboundMessage struct {
	Channel              string    `json:"channel"`
	SenderID             string    `json:"sender_id"`
	ConversationID       string    `json:"conversation_id"`
	Title                string    `json:"title,omitempty"`
	Content              string    `json:"content"`
	UnreadableAttachment bool      `json:"unreadable_attachment,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// OutboundMessage represents a message from the engine to a channel.
type OutboundMessage struct {
	Channel        string `json:"channel"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// ActionIntent enumerates the review actions a reviewer can take on a draft.
type ActionIntent string

const (
	ActionApprove     ActionIntent = "approve"
	ActionEditRequest ActionIntent = "edit_request"
	ActionConfirmEdit ActionIntent = "confirm_edit"
	ActionSkip        ActionIntent = "skip"
)

// ReviewAction is a typed reviewer action on a specific draft.
// Channels construct these from their native button payloads; the
// engine never parses channel-specific callback strings.
type ReviewAction struct {
	Channel    string       `json:"channel"`
	ReviewerID string       `json:"reviewer_id"`
	DraftID    string       `json:"draft_id"`
	Intent     ActionIntent `json:"intent"`
	Timestamp  time.Time    `json:"timestamp"`
}

// MessageBus decouples channels from the engine core.
type MessageBus struct {
	inbound  chan *InboundMessage
	actions  chan *ReviewAction
	outbound chan *OutboundMessage
	subs     map[string][]func(*OutboundMessage)
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *InboundMessage, 100),
		actions:  make(chan *ReviewAction, 100),
		outbound: make(chan *OutboundMessage, 100),
		subs:     make(map[string][]func(*OutboundMessage)),
	}
}

// PublishInbound sends a message from a channel to the engine.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishAction sends a reviewer action from a channel to the engine.
func (b *MessageBus) PublishAction(act *ReviewAction) {
	if act.Timestamp.IsZero() {
		act.Timestamp = time.Now()
	}
	b.actions <- act
}

// ConsumeAction blocks until a reviewer action is available or context is cancelled.
func (b *MessageBus) ConsumeAction(ctx context.Context) (*ReviewAction, error) {
	select {
	case act := <-b.actions:
		return act, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound sends a message from the engine to channels.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound <- msg
}

// Subscribe registers a callback for outbound messages to a specific channel.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound message dispatcher until the context
// is cancelled. This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// ActionSize returns the number of pending reviewer actions.
func (b *MessageBus) ActionSize() int {
	return len(b.actions)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
