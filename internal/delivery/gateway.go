// Package delivery sends finalized reply text to the client conversation.
// "Delivered" means accepted by the channel transport, not confirmed read
// by the recipient.
package delivery

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/replydesk/replydesk/internal/journal"
)

// Sender is the channel-facing send contract.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) error
}

// Recorder persists delivery attempts. Satisfied by *journal.Service.
type Recorder interface {
	RecordDeliveryAttempt(rec *journal.DeliveryAttemptRecord) error
}

// Result reports the outcome of a Send call. Err is set only when all
// attempts failed; Attempts counts every try including the successful one.
type Result struct {
	Delivered bool
	Attempts  int
	Err       error
}

// Gateway wraps a Sender with a single-retry policy and attempt auditing.
type Gateway struct {
	sender   Sender
	recorder Recorder
	backoff  time.Duration
	maxTries int
	sleep    func(ctx context.Context, d time.Duration) bool
}

// NewGateway creates a gateway with the default one-retry policy.
// recorder may be nil; attempts are then only logged.
func NewGateway(sender Sender, recorder Recorder) *Gateway {
	return &Gateway{
		sender:   sender,
		recorder: recorder,
		backoff:  time.Second,
		maxTries: 2,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Send attempts delivery with at most one retry after a fixed backoff.
// It never panics past the contract; every attempt is logged and recorded.
func (g *Gateway) Send(ctx context.Context, conversationID, text string) Result {
	var lastErr error
	for attempt := 1; attempt <= g.maxTries; attempt++ {
		err := g.send(ctx, conversationID, text, attempt)
		g.record(conversationID, attempt, err)

		if err == nil {
			if attempt > 1 {
				slog.Info("Delivery succeeded after retry",
					"conversation_id", conversationID, "attempt", attempt)
			}
			return Result{Delivered: true, Attempts: attempt}
		}
		lastErr = err
		slog.Warn("Delivery attempt failed",
			"conversation_id", conversationID,
			"attempt", attempt,
			"error_class", classifySendError(err),
			"error", err)

		if attempt < g.maxTries {
			if !g.sleep(ctx, g.backoff) {
				return Result{Delivered: false, Attempts: attempt, Err: ctx.Err()}
			}
		}
	}
	return Result{Delivered: false, Attempts: g.maxTries, Err: lastErr}
}

func (g *Gateway) send(ctx context.Context, conversationID, text string, attempt int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
			slog.Error("Channel send panicked",
				"conversation_id", conversationID, "attempt", attempt, "panic", r)
		}
	}()
	return g.sender.Send(ctx, conversationID, text)
}

func (g *Gateway) record(conversationID string, attempt int, err error) {
	if g.recorder == nil {
		return
	}
	rec := &journal.DeliveryAttemptRecord{
		ConversationID: conversationID,
		Attempt:        attempt,
		Delivered:      err == nil,
	}
	if err != nil {
		rec.ErrorText = err.Error()
	}
	if recErr := g.recorder.RecordDeliveryAttempt(rec); recErr != nil {
		slog.Error("Failed to record delivery attempt", "error", recErr)
	}
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "channel send panic"
}

// classifySendError buckets transport errors for logging. The class is
// observability metadata only; the retry policy treats all failures alike.
func classifySendError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "panic"):
		return "panic"
	case strings.Contains(msg, "not found") || strings.Contains(msg, "unknown chat") || strings.Contains(msg, "unresolvable"):
		return "recipient"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") || strings.Contains(msg, "unreachable") || strings.Contains(msg, "temporar"):
		return "connectivity"
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return "auth"
	default:
		return "other"
	}
}
