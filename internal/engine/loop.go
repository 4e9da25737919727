// Package engine runs the long-lived messaging loop: it consumes inbound
// messages and reviewer actions from the bus, drains the accumulator on a
// ticker, routes sealed units, and dispatches the outcomes.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/replydesk/replydesk/internal/accumulator"
	"github.com/replydesk/replydesk/internal/bus"
	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/delivery"
	"github.com/replydesk/replydesk/internal/draft"
	"github.com/replydesk/replydesk/internal/journal"
	"github.com/replydesk/replydesk/internal/registry"
	"github.com/replydesk/replydesk/internal/review"
	"github.com/replydesk/replydesk/internal/router"
)

const recentMessageCap = 100

// RecentMessage is a dashboard view of one inbound message.
type RecentMessage struct {
	Channel        string    `json:"channel"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// Options wires the loop's collaborators.
type Options struct {
	Bus           *bus.MessageBus
	Accumulator   *accumulator.Accumulator
	Store         *draft.Store
	Router        *router.Router
	Gateway       *delivery.Gateway
	Reviewer      *review.Handler
	Notifier      review.Notifier
	Bridge        *registry.Bridge
	Journal       *journal.Service
	Owner         config.OwnerConfig
	DrainInterval time.Duration
}

// Loop is the engine's execution context. One Run goroutine owns the drain
// ticker; sealed units are processed in their own goroutines so one
// conversation's provider I/O never stalls another's ingest.
type Loop struct {
	bus           *bus.MessageBus
	acc           *accumulator.Accumulator
	store         *draft.Store
	router        *router.Router
	gateway       *delivery.Gateway
	reviewer      *review.Handler
	notifier      review.Notifier
	bridge        *registry.Bridge
	journal       *journal.Service
	owner         config.OwnerConfig
	drainInterval time.Duration

	checkRunning atomic.Bool
	inflight     sync.WaitGroup

	mu     sync.Mutex
	recent []RecentMessage
}

// NewLoop creates the engine loop.
func NewLoop(opts Options) *Loop {
	interval := opts.DrainInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Loop{
		bus:           opts.Bus,
		acc:           opts.Accumulator,
		store:         opts.Store,
		router:        opts.Router,
		gateway:       opts.Gateway,
		reviewer:      opts.Reviewer,
		notifier:      opts.Notifier,
		bridge:        opts.Bridge,
		journal:       opts.Journal,
		owner:         opts.Owner,
		drainInterval: interval,
	}
}

// Run starts the loop and blocks until ctx is cancelled. In-flight unit
// processing and deliveries are allowed to finish before Run returns, so
// shutdown never leaves a draft mid-transition.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("Engine loop started", "drain_interval", l.drainInterval)

	if l.bridge != nil {
		l.bridge.Publish(l)
		defer l.bridge.Unpublish()
	}

	if l.owner.NotifyOnStartup && l.notifier != nil {
		if err := l.notifier.NotifyOwner(ctx, "ReplyDesk is online and watching conversations."); err != nil {
			slog.Warn("Startup notification failed", "error", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		l.consumeInbound(ctx)
	}()
	go func() {
		defer wg.Done()
		l.consumeActions(ctx)
	}()
	go func() {
		defer wg.Done()
		l.runDrainTicker(ctx)
	}()

	if l.bridge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.consumeBridgeTasks(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	l.inflight.Wait()
	slog.Info("Engine loop stopped")
	return ctx.Err()
}

func (l *Loop) consumeInbound(ctx context.Context) {
	for {
		msg, err := l.bus.ConsumeInbound(ctx)
		if err != nil {
			return
		}
		l.handleInbound(ctx, msg)
	}
}

func (l *Loop) consumeActions(ctx context.Context) {
	for {
		act, err := l.bus.ConsumeAction(ctx)
		if err != nil {
			return
		}
		if err := l.reviewer.HandleAction(ctx, act); err != nil {
			slog.Warn("Review action rejected",
				"draft_id", act.DraftID, "intent", act.Intent, "error", err)
		}
	}
}

func (l *Loop) consumeBridgeTasks(ctx context.Context) {
	for {
		select {
		case task := <-l.bridge.Tasks():
			task.Execute(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) runDrainTicker(ctx context.Context) {
	ticker := time.NewTicker(l.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, conversationID := range l.acc.Due(now) {
				unit, ok := l.acc.Drain(conversationID)
				if !ok {
					continue
				}
				l.inflight.Add(1)
				go func(u *accumulator.ConversationUnit) {
					defer l.inflight.Done()
					l.process(ctx, u)
				}(unit)
			}
		}
	}
}

func (l *Loop) handleInbound(ctx context.Context, msg *bus.InboundMessage) {
	l.rememberMessage(msg)

	if l.isOwnerControlMessage(msg) {
		l.handleOwnerMessage(ctx, msg)
		return
	}

	l.acc.Ingest(msg.ConversationID, msg.Channel, msg.Title, accumulator.Fragment{
		SenderID:             msg.SenderID,
		Text:                 msg.Content,
		UnreadableAttachment: msg.UnreadableAttachment,
		At:                   msg.Timestamp,
	})
}

// isOwnerControlMessage reports whether the message is the owner talking
// to the assistant (commands, edit text) rather than a client
// conversation. Owner messages inside client conversations still flow
// into the accumulator so the owner-already-replied gate can see them.
func (l *Loop) isOwnerControlMessage(msg *bus.InboundMessage) bool {
	if msg.SenderID == "" || msg.SenderID != l.owner.ReviewerID {
		return false
	}
	if l.owner.ConversationID != "" {
		return msg.ConversationID == l.owner.ConversationID
	}
	return msg.Channel == l.owner.Channel
}

func (l *Loop) handleOwnerMessage(ctx context.Context, msg *bus.InboundMessage) {
	text := strings.TrimSpace(msg.Content)

	if strings.HasPrefix(text, "/check") {
		n, err := l.CheckNow(ctx)
		if err != nil {
			l.notifyOwner(ctx, err.Error())
			return
		}
		l.notifyOwner(ctx, fmt.Sprintf("Check complete: %d conversation(s) evaluated.", n))
		return
	}

	handled, err := l.reviewer.HandleOwnerText(ctx, msg.SenderID, msg.Content)
	if err != nil {
		slog.Error("Owner edit text failed", "error", err)
		return
	}
	if !handled {
		slog.Debug("Owner message ignored", "content_len", len(msg.Content))
	}
}

func (l *Loop) process(ctx context.Context, unit *accumulator.ConversationUnit) {
	decision, err := l.router.Route(ctx, unit)
	if err != nil {
		slog.Error("Routing failed", "unit_id", unit.ID, "error", err)
		return
	}

	l.recordDecision(unit, decision)

	switch decision.Path {
	case router.PathAutoReply:
		res := l.gateway.Send(ctx, unit.ConversationID, decision.Reply)
		if !res.Delivered {
			slog.Error("Auto-reply delivery failed",
				"conversation_id", unit.ConversationID, "attempts", res.Attempts, "error", res.Err)
			l.notifyOwner(ctx, fmt.Sprintf(
				"Auto-reply to %s failed after %d attempts: %v", unit.ConversationID, res.Attempts, res.Err))
		}
	case router.PathDraft:
		l.createDraft(ctx, unit, decision)
	case router.PathSuppress:
		// Decision already journaled; nothing to deliver.
	}
}

func (l *Loop) createDraft(ctx context.Context, unit *accumulator.ConversationUnit, decision *router.Decision) {
	d, superseded := l.reviewer.StageDraft(&draft.Draft{
		UnitID:         unit.ID,
		ConversationID: unit.ConversationID,
		Channel:        unit.Channel,
		Title:          unit.Title,
		Question:       unit.Text(),
		ProposedText:   decision.Reply,
		Confidence:     decision.Confidence,
		Rationale:      decision.Rationale,
	})

	if superseded != nil {
		l.recordDraftEvent(superseded, "superseded by a newer unit")
		if l.notifier != nil && superseded.ReviewRef != "" {
			_ = l.notifier.UpdateReview(ctx, superseded.ReviewRef, "Superseded by a newer message from this conversation.")
		}
	}

	l.recordDraftEvent(d, "")

	if l.notifier == nil {
		return
	}
	ref, err := l.notifier.NotifyDraft(ctx, d)
	if err != nil {
		slog.Error("Draft review notification failed", "draft_id", d.ID, "error", err)
		return
	}
	if ref != "" {
		_ = l.store.SetReviewRef(d.ID, ref)
	}
}

// CheckNow drains every open unit immediately and routes them
// synchronously. Concurrent invocations are rejected; stale awaiting-edit
// state is cleared so the pass starts clean.
func (l *Loop) CheckNow(ctx context.Context) (int, error) {
	if !l.checkRunning.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("check already in progress")
	}
	defer l.checkRunning.Store(false)

	l.reviewer.ClearPendingEdits()

	units := l.acc.DrainAll()
	for _, unit := range units {
		l.process(ctx, unit)
	}
	slog.Info("Manual check complete", "units", len(units))
	return len(units), nil
}

// Drafts returns snapshots of all drafts for the control surface.
func (l *Loop) Drafts() []*draft.Draft {
	return l.store.List()
}

// RecentMessages returns the dashboard ring buffer, newest last.
func (l *Loop) RecentMessages() []RecentMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RecentMessage, len(l.recent))
	copy(out, l.recent)
	return out
}

func (l *Loop) rememberMessage(msg *bus.InboundMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recent = append(l.recent, RecentMessage{
		Channel:        msg.Channel,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Timestamp:      msg.Timestamp,
	})
	if len(l.recent) > recentMessageCap {
		l.recent = l.recent[len(l.recent)-recentMessageCap:]
	}
}

func (l *Loop) recordDecision(unit *accumulator.ConversationUnit, decision *router.Decision) {
	if l.journal == nil {
		return
	}
	signals := ""
	if len(decision.Signals) > 0 {
		if data, err := json.Marshal(decision.Signals); err == nil {
			signals = string(data)
		}
	}
	err := l.journal.RecordDecision(&journal.DecisionRecord{
		UnitID:         unit.ID,
		ConversationID: unit.ConversationID,
		Channel:        unit.Channel,
		Path:           string(decision.Path),
		Confidence:     decision.Confidence,
		Signals:        signals,
		Rationale:      decision.Rationale,
	})
	if err != nil {
		slog.Error("Failed to journal decision", "unit_id", unit.ID, "error", err)
	}
}

func (l *Loop) recordDraftEvent(d *draft.Draft, note string) {
	if l.journal == nil {
		return
	}
	from := ""
	to := string(d.State)
	if d.Superseded {
		from = string(draft.StatePending)
	}
	err := l.journal.RecordDraftEvent(&journal.DraftEventRecord{
		DraftID:        d.ID,
		ConversationID: d.ConversationID,
		FromState:      from,
		ToState:        to,
		Note:           note,
	})
	if err != nil {
		slog.Error("Failed to journal draft event", "draft_id", d.ID, "error", err)
	}
}

func (l *Loop) notifyOwner(ctx context.Context, text string) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.NotifyOwner(ctx, text); err != nil {
		slog.Error("Owner notification failed", "error", err)
	}
}
