package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/replydesk/replydesk/internal/bus"
	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/draft"
)

// Block action IDs for the review buttons.
const (
	slackActionApprove = "draft_approve"
	slackActionEdit    = "draft_edit"
	slackActionConfirm = "draft_confirm_edit"
	slackActionSkip    = "draft_skip"
)

// SlackChannel is an alternative reviewer surface: review requests land in
// a Slack channel as Block Kit messages and button clicks come back over
// Socket Mode.
type SlackChannel struct {
	BaseChannel
	cfg    config.SlackConfig
	owner  config.OwnerConfig
	api    *slack.Client
	socket *socketmode.Client
	cancel context.CancelFunc
}

// NewSlackChannel creates a Slack reviewer channel.
func NewSlackChannel(cfg config.SlackConfig, owner config.OwnerConfig, messageBus *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		cfg:         cfg,
		owner:       owner,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

// Start connects Socket Mode and begins consuming events.
func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if c.cfg.BotToken == "" || c.cfg.AppToken == "" {
		return fmt.Errorf("slack bot and app tokens required")
	}

	c.api = slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	c.socket = socketmode.New(c.api)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(context.Background(), msg.ConversationID, msg.Content); err != nil {
			slog.Error("Slack outbound failed", "conversation_id", msg.ConversationID, "error", err)
		}
	})

	go c.consumeEvents(runCtx)
	go func() {
		if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("Slack socket mode stopped", "error", err)
		}
	}()
	slog.Info("Slack channel started", "review_channel", c.cfg.ReviewChannel)
	return nil
}

// Stop disconnects Socket Mode.
func (c *SlackChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send posts text to a slack-scoped conversation.
func (c *SlackChannel) Send(ctx context.Context, conversationID, text string) error {
	name, channelID, err := SplitID(conversationID)
	if err != nil {
		return err
	}
	if name != c.Name() {
		return fmt.Errorf("conversation %q does not belong to slack", conversationID)
	}
	_, _, err = c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	return err
}

func (c *SlackChannel) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			c.handleEvent(evt)
		}
	}
}

func (c *SlackChannel) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || ev.Type != slackevents.CallbackEvent {
			return
		}
		if in, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent); ok && in != nil {
			c.handleMessage(in)
		}
	case socketmode.EventTypeInteractive:
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		if cb, ok := evt.Data.(slack.InteractionCallback); ok {
			c.handleInteraction(cb)
		}
	}
}

func (c *SlackChannel) handleMessage(in *slackevents.MessageEvent) {
	// Bot echoes and edits carry a subtype; only fresh user text matters.
	if in.SubType != "" || in.BotID != "" || in.Text == "" {
		return
	}
	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:        c.Name(),
		SenderID:       in.User,
		ConversationID: ScopeID(c.Name(), in.Channel),
		Content:        in.Text,
	})
}

func (c *SlackChannel) handleInteraction(cb slack.InteractionCallback) {
	if len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	action := cb.ActionCallback.BlockActions[0]
	intent, ok := slackIntent(strings.TrimSpace(action.ActionID))
	if !ok {
		return
	}
	c.Bus.PublishAction(&bus.ReviewAction{
		Channel:    c.Name(),
		ReviewerID: cb.User.ID,
		DraftID:    strings.TrimSpace(action.Value),
		Intent:     intent,
	})
}

func slackIntent(actionID string) (bus.ActionIntent, bool) {
	switch actionID {
	case slackActionApprove:
		return bus.ActionApprove, true
	case slackActionEdit:
		return bus.ActionEditRequest, true
	case slackActionConfirm:
		return bus.ActionConfirmEdit, true
	case slackActionSkip:
		return bus.ActionSkip, true
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Reviewer surface (review.Notifier)
// ---------------------------------------------------------------------------

// NotifyDraft posts the review request as a Block Kit message.
// The returned ref is "<channel>:<ts>" for later in-place updates.
func (c *SlackChannel) NotifyDraft(ctx context.Context, d *draft.Draft) (string, error) {
	if c.cfg.ReviewChannel == "" {
		return "", fmt.Errorf("slack review channel not configured")
	}
	blocks := reviewBlocks(formatDraftReview(d), []slack.BlockElement{
		button(slackActionApprove, d.ID, "✅ Send", slack.StylePrimary),
		button(slackActionEdit, d.ID, "✏️ Edit", slack.StyleDefault),
		button(slackActionSkip, d.ID, "⏭ Skip", slack.StyleDanger),
	})
	chID, ts, err := c.api.PostMessageContext(ctx, c.cfg.ReviewChannel,
		slack.MsgOptionText(formatDraftReview(d), false),
		slack.MsgOptionBlocks(blocks...))
	if err != nil {
		return "", err
	}
	return chID + ":" + ts, nil
}

// NotifyEditConfirmation shows the replacement text with a confirm button.
func (c *SlackChannel) NotifyEditConfirmation(ctx context.Context, d *draft.Draft, newText string) (string, error) {
	text := fmt.Sprintf("Replacement for %s:\n\n%s\n\nSend it?", conversationLabel(d), newText)
	blocks := reviewBlocks(text, []slack.BlockElement{
		button(slackActionConfirm, d.ID, "✅ Confirm", slack.StylePrimary),
		button(slackActionSkip, d.ID, "⏭ Skip", slack.StyleDanger),
	})
	chID, ts, err := c.api.PostMessageContext(ctx, c.cfg.ReviewChannel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...))
	if err != nil {
		return "", err
	}
	return chID + ":" + ts, nil
}

// UpdateReview rewrites a posted review message and drops its buttons.
func (c *SlackChannel) UpdateReview(ctx context.Context, ref, text string) error {
	channelID, ts, ok := strings.Cut(ref, ":")
	if !ok {
		return fmt.Errorf("malformed review ref %q", ref)
	}
	_, _, _, err := c.api.UpdateMessageContext(ctx, channelID, ts,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.PlainTextType, text, true, false), nil, nil),
		))
	return err
}

// NotifyOwner posts a plain message to the review channel.
func (c *SlackChannel) NotifyOwner(ctx context.Context, text string) error {
	if c.cfg.ReviewChannel == "" {
		return fmt.Errorf("slack review channel not configured")
	}
	_, _, err := c.api.PostMessageContext(ctx, c.cfg.ReviewChannel, slack.MsgOptionText(text, false))
	return err
}

func reviewBlocks(text string, buttons []slack.BlockElement) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.PlainTextType, text, true, false), nil, nil),
		slack.NewActionBlock("draft_review_actions", buttons...),
	}
}

func button(actionID, value, label string, style slack.Style) *slack.ButtonBlockElement {
	btn := slack.NewButtonBlockElement(actionID, value,
		slack.NewTextBlockObject(slack.PlainTextType, label, true, false))
	if style != slack.StyleDefault {
		btn = btn.WithStyle(style)
	}
	return btn
}
