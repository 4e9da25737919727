package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/skip2/go-qrcode"

	_ "modernc.org/sqlite"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/replydesk/replydesk/internal/bus"
	"github.com/replydesk/replydesk/internal/config"
)

// WhatsAppChannel is a native WhatsApp client conversation source and sink.
type WhatsAppChannel struct {
	BaseChannel
	cfg       config.WhatsAppConfig
	owner     config.OwnerConfig
	client    *whatsmeow.Client
	container *sqlstore.Container
}

// NewWhatsAppChannel creates a WhatsApp channel.
func NewWhatsAppChannel(cfg config.WhatsAppConfig, owner config.OwnerConfig, messageBus *bus.MessageBus) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		cfg:         cfg,
		owner:       owner,
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

// Start connects the client, pairing via QR code on first run.
func (c *WhatsAppChannel) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "INFO", true)

	dbPath := c.cfg.DBPath
	if dbPath == "" {
		home, _ := os.UserHomeDir()
		dbPath = filepath.Join(home, ".replydesk", "whatsapp.db")
	}
	os.MkdirAll(filepath.Dir(dbPath), 0755)

	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return fmt.Errorf("failed to init whatsapp db: %w", err)
	}
	c.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device: %w", err)
	}

	c.client = whatsmeow.NewClient(deviceStore, clientLog)
	c.client.AddEventHandler(c.eventHandler)

	if c.client.Store.ID == nil {
		// No session yet, pair via QR.
		qrChan, _ := c.client.GetQRChannel(context.Background())
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		go c.awaitPairing(qrChan)
	} else {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		slog.Info("WhatsApp connected")
	}

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Send(sendCtx, msg.ConversationID, msg.Content); err != nil {
			slog.Error("WhatsApp outbound failed", "conversation_id", msg.ConversationID, "error", err)
		}
	})
	return nil
}

func (c *WhatsAppChannel) awaitPairing(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event == "code" {
			qrPath := c.cfg.QRPath
			if qrPath == "" {
				home, _ := os.UserHomeDir()
				qrPath = filepath.Join(home, ".replydesk", "whatsapp-qr.png")
			}
			if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, qrPath); err == nil {
				slog.Info("WhatsApp login QR code written, scan it with your phone", "path", qrPath)
			} else {
				slog.Error("Failed to write QR code", "error", err)
			}
		} else {
			slog.Info("WhatsApp login event", "event", evt.Event)
		}
	}
}

// Stop disconnects the client.
func (c *WhatsAppChannel) Stop() error {
	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		c.container.Close()
	}
	return nil
}

// Send delivers text to a whatsapp-scoped conversation.
func (c *WhatsAppChannel) Send(ctx context.Context, conversationID, text string) error {
	if c.client == nil {
		return fmt.Errorf("client not initialized")
	}
	name, rawJID, err := SplitID(conversationID)
	if err != nil {
		return err
	}
	if name != c.Name() {
		return fmt.Errorf("conversation %q does not belong to whatsapp", conversationID)
	}

	jid, err := types.ParseJID(rawJID)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}

	waMsg := &waE2E.Message{
		Conversation: proto.String(text),
	}
	_, err = c.client.SendMessage(ctx, jid, waMsg)
	return err
}

func (c *WhatsAppChannel) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.Connected:
		slog.Info("WhatsApp session established")
	case *events.LoggedOut:
		slog.Warn("WhatsApp session logged out, re-pair required")
	}
}

// handleMessage publishes a message onto the bus. Messages sent from the
// owner's own phone are published too, under the configured reviewer id, so
// the owner-already-replied check sees them in client conversations.
func (c *WhatsAppChannel) handleMessage(v *events.Message) {
	content := ""
	unreadable := false
	switch {
	case v.Message.GetConversation() != "":
		content = v.Message.GetConversation()
	case v.Message.GetExtendedTextMessage().GetText() != "":
		content = v.Message.GetExtendedTextMessage().GetText()
	case v.Message.GetImageMessage() != nil:
		content = v.Message.GetImageMessage().GetCaption()
		unreadable = true
	case v.Message.GetDocumentMessage() != nil:
		doc := v.Message.GetDocumentMessage()
		content = doc.GetCaption()
		unreadable = true
	case v.Message.GetAudioMessage() != nil:
		unreadable = true
	default:
		return
	}

	senderID := v.Info.Sender.User
	if v.Info.IsFromMe && c.owner.ReviewerID != "" {
		senderID = c.owner.ReviewerID
	}

	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:              c.Name(),
		SenderID:             senderID,
		ConversationID:       ScopeID(c.Name(), v.Info.Chat.String()),
		Title:                v.Info.PushName,
		Content:              content,
		UnreadableAttachment: unreadable,
		Timestamp:            v.Info.Timestamp,
	})
}
