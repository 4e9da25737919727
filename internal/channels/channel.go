// Package channels implements the chat platform integrations. Channels
// publish inbound messages and reviewer actions onto the bus and deliver
// outbound text; conversation IDs are scoped as "<channel>:<native id>".
package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/replydesk/replydesk/internal/bus"
)

// Channel defines the interface for chat platforms (Telegram, WhatsApp, etc).
type Channel interface {
	// Name returns the channel name (e.g. "telegram").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send delivers text to a scoped conversation ID owned by this channel.
	Send(ctx context.Context, conversationID, text string) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}

// ScopeID builds a scoped conversation ID.
func ScopeID(channel, nativeID string) string {
	return channel + ":" + nativeID
}

// SplitID splits a scoped conversation ID into channel and native ID.
func SplitID(conversationID string) (channel, nativeID string, err error) {
	channel, nativeID, ok := strings.Cut(conversationID, ":")
	if !ok || channel == "" || nativeID == "" {
		return "", "", fmt.Errorf("malformed conversation id %q", conversationID)
	}
	return channel, nativeID, nil
}

// Mux routes outbound sends to the channel that owns the conversation.
// It satisfies the delivery gateway's Sender contract.
type Mux struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewMux creates an empty channel mux.
func NewMux() *Mux {
	return &Mux{channels: make(map[string]Channel)}
}

// Register adds a channel to the mux.
func (m *Mux) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Send routes text to the owning channel based on the ID's scope prefix.
func (m *Mux) Send(ctx context.Context, conversationID, text string) error {
	name, _, err := SplitID(conversationID)
	if err != nil {
		return err
	}

	m.mu.RLock()
	ch, ok := m.channels[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no channel registered for %q", name)
	}
	return ch.Send(ctx, conversationID, text)
}

// Channels returns the registered channels.
func (m *Mux) Channels() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}
