package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/replydesk/replydesk/internal/bus"
	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/draft"
)

// TelegramChannel is the primary client-facing channel and the default
// reviewer surface. It long-polls the Bot API for messages and button
// callbacks, and posts review requests with inline keyboards.
type TelegramChannel struct {
	BaseChannel
	cfg        config.TelegramConfig
	owner      config.OwnerConfig
	apiBase    string
	httpClient *http.Client
	cancel     context.CancelFunc
	offset     int64
}

// NewTelegramChannel creates a Telegram channel.
func NewTelegramChannel(cfg config.TelegramConfig, owner config.OwnerConfig, messageBus *bus.MessageBus) *TelegramChannel {
	apiBase := strings.TrimSuffix(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 50
	}
	return &TelegramChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		cfg:         cfg,
		owner:       owner,
		apiBase:     apiBase,
		httpClient: &http.Client{
			// Must outlive the long-poll timeout.
			Timeout: time.Duration(pollTimeout+10) * time.Second,
		},
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

// Start begins the long-poll loop and subscribes to outbound messages.
func (c *TelegramChannel) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if c.cfg.Token == "" {
		return fmt.Errorf("telegram token not configured")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		sendCtx, sendCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer sendCancel()
		if err := c.Send(sendCtx, msg.ConversationID, msg.Content); err != nil {
			slog.Error("Telegram outbound failed", "conversation_id", msg.ConversationID, "error", err)
		}
	})

	go c.pollLoop(pollCtx)
	slog.Info("Telegram channel started")
	return nil
}

// Stop halts the poll loop.
func (c *TelegramChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers text to a telegram-scoped conversation.
func (c *TelegramChannel) Send(ctx context.Context, conversationID, text string) error {
	name, chatID, err := SplitID(conversationID)
	if err != nil {
		return err
	}
	if name != c.Name() {
		return fmt.Errorf("conversation %q does not belong to telegram", conversationID)
	}
	_, err = c.sendMessage(ctx, chatID, text, nil)
	return err
}

// ---------------------------------------------------------------------------
// Reviewer surface (review.Notifier)
// ---------------------------------------------------------------------------

// NotifyDraft posts the review request with Send/Edit/Skip buttons.
// The returned ref is "<chat_id>:<message_id>" for later edits.
func (c *TelegramChannel) NotifyDraft(ctx context.Context, d *draft.Draft) (string, error) {
	chatID, err := c.ownerChatID()
	if err != nil {
		return "", err
	}
	keyboard := [][]tgInlineButton{{
		{Text: "✅ Send", CallbackData: callbackData(d.ID, bus.ActionApprove)},
		{Text: "✏️ Edit", CallbackData: callbackData(d.ID, bus.ActionEditRequest)},
		{Text: "⏭ Skip", CallbackData: callbackData(d.ID, bus.ActionSkip)},
	}}
	msgID, err := c.sendMessage(ctx, chatID, formatDraftReview(d), keyboard)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", chatID, msgID), nil
}

// NotifyEditConfirmation shows the replacement text with a confirm button.
func (c *TelegramChannel) NotifyEditConfirmation(ctx context.Context, d *draft.Draft, newText string) (string, error) {
	chatID, err := c.ownerChatID()
	if err != nil {
		return "", err
	}
	text := fmt.Sprintf("Replacement for %s:\n\n%s\n\nSend it?", conversationLabel(d), newText)
	keyboard := [][]tgInlineButton{{
		{Text: "✅ Confirm", CallbackData: callbackData(d.ID, bus.ActionConfirmEdit)},
		{Text: "⏭ Skip", CallbackData: callbackData(d.ID, bus.ActionSkip)},
	}}
	msgID, err := c.sendMessage(ctx, chatID, text, keyboard)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", chatID, msgID), nil
}

// UpdateReview rewrites a posted review message; editing without a
// keyboard also clears the buttons.
func (c *TelegramChannel) UpdateReview(ctx context.Context, ref, text string) error {
	chatID, msgID, ok := strings.Cut(ref, ":")
	if !ok {
		return fmt.Errorf("malformed review ref %q", ref)
	}
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": jsonNumber(msgID),
		"text":       text,
	}
	return c.call(ctx, "editMessageText", payload, nil)
}

// NotifyOwner sends a plain message to the owner's review conversation.
func (c *TelegramChannel) NotifyOwner(ctx context.Context, text string) error {
	chatID, err := c.ownerChatID()
	if err != nil {
		return err
	}
	_, err = c.sendMessage(ctx, chatID, text, nil)
	return err
}

func (c *TelegramChannel) ownerChatID() (string, error) {
	if c.owner.ConversationID == "" {
		return "", fmt.Errorf("owner conversation not configured")
	}
	_, chatID, err := SplitID(c.owner.ConversationID)
	return chatID, err
}

// ---------------------------------------------------------------------------
// Bot API plumbing
// ---------------------------------------------------------------------------

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type tgChat struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type tgMessage struct {
	MessageID int64   `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
	Date      int64   `json:"date"`
	Text      string  `json:"text"`
	Caption   string  `json:"caption"`
	Document  *struct {
		FileName string `json:"file_name"`
	} `json:"document"`
	Photo []struct {
		FileID string `json:"file_id"`
	} `json:"photo"`
	Voice *struct {
		FileID string `json:"file_id"`
	} `json:"voice"`
}

type tgCallbackQuery struct {
	ID      string     `json:"id"`
	From    tgUser     `json:"from"`
	Message *tgMessage `json:"message"`
	Data    string     `json:"data"`
}

type tgUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *tgMessage       `json:"message"`
	CallbackQuery *tgCallbackQuery `json:"callback_query"`
}

type tgInlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

func (c *TelegramChannel) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := c.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Telegram poll failed", "error", err)
			time.Sleep(3 * time.Second)
			continue
		}
		for _, upd := range updates {
			if upd.UpdateID >= c.offset {
				c.offset = upd.UpdateID + 1
			}
			c.handleUpdate(ctx, upd)
		}
	}
}

func (c *TelegramChannel) getUpdates(ctx context.Context) ([]tgUpdate, error) {
	payload := map[string]any{
		"timeout":         c.cfg.PollTimeout,
		"offset":          c.offset,
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []tgUpdate
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, upd tgUpdate) {
	switch {
	case upd.CallbackQuery != nil:
		c.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		c.handleMessage(upd.Message)
	}
}

func (c *TelegramChannel) handleMessage(msg *tgMessage) {
	if msg.From == nil {
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	hasAttachment := msg.Document != nil || len(msg.Photo) > 0 || msg.Voice != nil
	if text == "" && !hasAttachment {
		return
	}

	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:        c.Name(),
		SenderID:       fmt.Sprintf("%d", msg.From.ID),
		ConversationID: ScopeID(c.Name(), fmt.Sprintf("%d", msg.Chat.ID)),
		Title:          chatTitle(msg.Chat, msg.From),
		Content:        text,
		// Attached files are never parsed, so any attachment is
		// unreadable from the router's point of view.
		UnreadableAttachment: hasAttachment,
		Timestamp:            time.Unix(msg.Date, 0),
	})
}

func (c *TelegramChannel) handleCallback(ctx context.Context, cb *tgCallbackQuery) {
	// Ack first so the button stops spinning even if the action fails.
	_ = c.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": cb.ID}, nil)

	draftID, intent, err := parseCallbackData(cb.Data)
	if err != nil {
		slog.Warn("Telegram callback ignored", "error", err)
		return
	}
	c.Bus.PublishAction(&bus.ReviewAction{
		Channel:    c.Name(),
		ReviewerID: fmt.Sprintf("%d", cb.From.ID),
		DraftID:    draftID,
		Intent:     intent,
	})
}

func (c *TelegramChannel) sendMessage(ctx context.Context, chatID, text string, keyboard [][]tgInlineButton) (int64, error) {
	payload := map[string]any{
		"chat_id": jsonNumber(chatID),
		"text":    text,
	}
	if keyboard != nil {
		payload["reply_markup"] = map[string]any{"inline_keyboard": keyboard}
	}
	var msg tgMessage
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (c *TelegramChannel) call(ctx context.Context, method string, payload any, out any) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.cfg.Token, method)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram API error: %s", envelope.Description)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("parse result: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type callbackPayload struct {
	D string `json:"d"`
	A string `json:"a"`
}

// callbackData packs a typed action into Telegram's 64-byte callback slot.
func callbackData(draftID string, intent bus.ActionIntent) string {
	short := map[bus.ActionIntent]string{
		bus.ActionApprove:     "ap",
		bus.ActionEditRequest: "ed",
		bus.ActionConfirmEdit: "ce",
		bus.ActionSkip:        "sk",
	}[intent]
	data, _ := json.Marshal(callbackPayload{D: draftID, A: short})
	return string(data)
}

func parseCallbackData(data string) (draftID string, intent bus.ActionIntent, err error) {
	var payload callbackPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return "", "", fmt.Errorf("malformed callback data: %w", err)
	}
	intents := map[string]bus.ActionIntent{
		"ap": bus.ActionApprove,
		"ed": bus.ActionEditRequest,
		"ce": bus.ActionConfirmEdit,
		"sk": bus.ActionSkip,
	}
	intent, ok := intents[payload.A]
	if !ok || payload.D == "" {
		return "", "", fmt.Errorf("unknown callback action %q", payload.A)
	}
	return payload.D, intent, nil
}

func formatDraftReview(d *draft.Draft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📝 Draft for %s\n", conversationLabel(d))
	fmt.Fprintf(&b, "Confidence: %d%%\n", d.Confidence)
	if d.Rationale != "" {
		fmt.Fprintf(&b, "Why held: %s\n", d.Rationale)
	}
	if d.Question != "" {
		fmt.Fprintf(&b, "\nThey wrote:\n%s\n", d.Question)
	}
	fmt.Fprintf(&b, "\nProposed reply:\n%s", d.ProposedText)
	return b.String()
}

func conversationLabel(d *draft.Draft) string {
	if d.Title != "" {
		return d.Title
	}
	return d.ConversationID
}

func chatTitle(chat tgChat, from *tgUser) string {
	if chat.Title != "" {
		return chat.Title
	}
	name := strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	if name != "" {
		return name
	}
	if from.Username != "" {
		return from.Username
	}
	return ""
}

// jsonNumber keeps numeric chat ids numeric in the wire payload while
// tolerating "@channelname" style ids.
func jsonNumber(id string) any {
	var n int64
	if _, err := fmt.Sscanf(id, "%d", &n); err == nil && fmt.Sprintf("%d", n) == id {
		return n
	}
	return id
}
