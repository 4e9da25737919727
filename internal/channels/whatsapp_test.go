package channels

import (
	"context"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/replydesk/replydesk/internal/bus"
	"github.com/replydesk/replydesk/internal/config"
)

func newTestWhatsApp(reviewerID string) (*WhatsAppChannel, *bus.MessageBus) {
	b := bus.NewMessageBus()
	c := NewWhatsAppChannel(
		config.WhatsAppConfig{Enabled: true},
		config.OwnerConfig{ReviewerID: reviewerID, Channel: "telegram"},
		b,
	)
	return c, b
}

func waMessage(chat, sender string, fromMe bool, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     types.NewJID(chat, types.DefaultUserServer),
				Sender:   types.NewJID(sender, types.DefaultUserServer),
				IsFromMe: fromMe,
			},
			PushName:  "Client",
			Timestamp: time.Now(),
		},
		Message: msg,
	}
}

func TestWhatsAppClientMessagePublished(t *testing.T) {
	c, b := newTestWhatsApp("9000")

	c.handleMessage(waMessage("79995556677", "79995556677", false,
		&waE2E.Message{Conversation: proto.String("how much is a haircut")}))

	msg, err := b.ConsumeInbound(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if msg.ConversationID != "whatsapp:79995556677@s.whatsapp.net" {
		t.Errorf("conversation id = %q, want scoped JID", msg.ConversationID)
	}
	if msg.SenderID != "79995556677" {
		t.Errorf("sender id = %q, want client phone user", msg.SenderID)
	}
	if msg.Content != "how much is a haircut" {
		t.Errorf("content = %q", msg.Content)
	}
}

// A message sent from the owner's own phone must carry the configured
// reviewer id, not the phone number, or the owner-already-replied check
// never matches it.
func TestWhatsAppOwnMessageCarriesReviewerID(t *testing.T) {
	c, b := newTestWhatsApp("9000")

	c.handleMessage(waMessage("79995556677", "79990001122", true,
		&waE2E.Message{Conversation: proto.String("I'll get back to you shortly")}))

	msg, err := b.ConsumeInbound(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if msg.SenderID != "9000" {
		t.Errorf("sender id = %q, want reviewer id 9000", msg.SenderID)
	}
	if msg.ConversationID != "whatsapp:79995556677@s.whatsapp.net" {
		t.Errorf("conversation id = %q, must stay the client chat", msg.ConversationID)
	}
}

func TestWhatsAppOwnMessageWithoutReviewerKeepsSender(t *testing.T) {
	c, b := newTestWhatsApp("")

	c.handleMessage(waMessage("79995556677", "79990001122", true,
		&waE2E.Message{Conversation: proto.String("noted")}))

	msg, err := b.ConsumeInbound(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if msg.SenderID != "79990001122" {
		t.Errorf("sender id = %q, want raw phone user", msg.SenderID)
	}
}

func TestWhatsAppAttachmentMessageFlagged(t *testing.T) {
	c, b := newTestWhatsApp("9000")

	c.handleMessage(waMessage("79995556677", "79995556677", false,
		&waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("invoice attached")}}))

	msg, err := b.ConsumeInbound(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !msg.UnreadableAttachment {
		t.Error("document message must set the attachment flag")
	}
	if msg.Content != "invoice attached" {
		t.Errorf("caption lost, content = %q", msg.Content)
	}
}
