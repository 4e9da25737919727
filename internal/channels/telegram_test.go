package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/replydesk/replydesk/internal/bus"
	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/draft"
)

func newTestTelegram(t *testing.T, handler http.HandlerFunc) (*TelegramChannel, *bus.MessageBus, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b := bus.NewMessageBus()
	c := NewTelegramChannel(config.TelegramConfig{
		Enabled: true,
		Token:   "test-token",
		APIBase: srv.URL,
	}, config.OwnerConfig{
		ReviewerID:     "9000",
		Channel:        "telegram",
		ConversationID: "telegram:9000",
	}, b)
	return c, b, srv
}

func TestCallbackDataRoundTrip(t *testing.T) {
	intents := []bus.ActionIntent{
		bus.ActionApprove, bus.ActionEditRequest, bus.ActionConfirmEdit, bus.ActionSkip,
	}
	draftID := "2f1c4a9e-7b3d-4e8f-9a1b-6c5d4e3f2a1b"
	for _, intent := range intents {
		data := callbackData(draftID, intent)
		// Telegram rejects callback_data over 64 bytes.
		if len(data) > 64 {
			t.Errorf("callback data for %s is %d bytes", intent, len(data))
		}
		gotID, gotIntent, err := parseCallbackData(data)
		if err != nil {
			t.Fatalf("parse %q: %v", data, err)
		}
		if gotID != draftID || gotIntent != intent {
			t.Errorf("round trip = %q/%q, want %q/%q", gotID, gotIntent, draftID, intent)
		}
	}
}

func TestParseCallbackDataRejectsUnknown(t *testing.T) {
	cases := []string{
		`{"d":"abc","a":"xx"}`,
		`{"d":"","a":"ap"}`,
		`send_123`,
		``,
	}
	for _, data := range cases {
		if _, _, err := parseCallbackData(data); err == nil {
			t.Errorf("parseCallbackData(%q) should fail", data)
		}
	}
}

func TestFormatDraftReview(t *testing.T) {
	d := &draft.Draft{
		ConversationID: "telegram:100",
		Title:          "Anna",
		Question:       "Do you ship abroad?",
		ProposedText:   "Yes, we ship worldwide.",
		Confidence:     72,
		Rationale:      "confidence 72 below threshold 90",
	}
	text := formatDraftReview(d)
	for _, want := range []string{"Anna", "72%", "Do you ship abroad?", "Yes, we ship worldwide.", "confidence 72 below threshold 90"} {
		if !strings.Contains(text, want) {
			t.Errorf("review text missing %q:\n%s", want, text)
		}
	}

	d.Title = ""
	if !strings.Contains(formatDraftReview(d), "telegram:100") {
		t.Error("untitled draft should fall back to the conversation id")
	}
}

func TestTelegramNotifyDraftPostsKeyboard(t *testing.T) {
	var captured map[string]any
	c, _, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("unexpected method path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		w.Write([]byte(`{"ok":true,"result":{"message_id":77}}`))
	})

	d := &draft.Draft{ID: "d-1", ConversationID: "telegram:100", Title: "Anna", ProposedText: "Sure!", Confidence: 60}
	ref, err := c.NotifyDraft(context.Background(), d)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if ref != "9000:77" {
		t.Errorf("ref = %q, want 9000:77", ref)
	}

	markup, ok := captured["reply_markup"].(map[string]any)
	if !ok {
		t.Fatal("no inline keyboard sent")
	}
	rows := markup["inline_keyboard"].([]any)
	buttons := rows[0].([]any)
	if len(buttons) != 3 {
		t.Fatalf("expected 3 buttons, got %d", len(buttons))
	}
	first := buttons[0].(map[string]any)
	gotID, intent, err := parseCallbackData(first["callback_data"].(string))
	if err != nil || gotID != "d-1" || intent != bus.ActionApprove {
		t.Errorf("first button = %q/%q (%v)", gotID, intent, err)
	}
}

func TestTelegramUpdateReviewClearsButtons(t *testing.T) {
	var captured map[string]any
	c, _, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/editMessageText") {
			t.Errorf("unexpected method path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		w.Write([]byte(`{"ok":true,"result":true}`))
	})

	if err := c.UpdateReview(context.Background(), "9000:77", "Reply sent (1 attempt(s))"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, has := captured["reply_markup"]; has {
		t.Error("update must omit reply_markup so the buttons disappear")
	}
	if captured["text"] != "Reply sent (1 attempt(s))" {
		t.Errorf("text = %v", captured["text"])
	}
}

func TestTelegramSendRejectsForeignScope(t *testing.T) {
	c, _, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})
	if err := c.Send(context.Background(), "whatsapp:123", "x"); err == nil {
		t.Error("foreign scope must be rejected")
	}
}

func TestTelegramHandleMessageAttachmentFlag(t *testing.T) {
	b := bus.NewMessageBus()
	c := NewTelegramChannel(config.TelegramConfig{Enabled: true, Token: "t"}, config.OwnerConfig{}, b)

	raw := `{
		"message_id": 5,
		"from": {"id": 42, "first_name": "Anna"},
		"chat": {"id": 100, "first_name": "Anna"},
		"date": 1700000000,
		"caption": "price list attached",
		"document": {"file_name": "prices.pdf"}
	}`
	var msg tgMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	c.handleMessage(&msg)

	in, err := b.ConsumeInbound(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !in.UnreadableAttachment {
		t.Error("document message must set the unreadable attachment flag")
	}
	if in.Content != "price list attached" {
		t.Errorf("content = %q", in.Content)
	}
	if in.ConversationID != "telegram:100" || in.SenderID != "42" {
		t.Errorf("identity = %s/%s", in.ConversationID, in.SenderID)
	}
}

func TestTelegramCallbackPublishesAction(t *testing.T) {
	acked := false
	c, b, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/answerCallbackQuery") {
			acked = true
		}
		w.Write([]byte(`{"ok":true,"result":true}`))
	})

	c.handleCallback(context.Background(), &tgCallbackQuery{
		ID:   "cb-1",
		From: tgUser{ID: 9000},
		Data: callbackData("d-7", bus.ActionSkip),
	})

	act, err := b.ConsumeAction(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if act.DraftID != "d-7" || act.Intent != bus.ActionSkip || act.ReviewerID != "9000" {
		t.Errorf("unexpected action %+v", act)
	}
	if !acked {
		t.Error("callback query must be acknowledged")
	}
}
