// Package review consumes typed reviewer actions on drafts and drives the
// draft lifecycle: approve, request an edit, confirm the edit, or skip.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/replydesk/replydesk/internal/bus"
	"github.com/replydesk/replydesk/internal/delivery"
	"github.com/replydesk/replydesk/internal/draft"
	"github.com/replydesk/replydesk/internal/journal"
)

var (
	// ErrUnauthorized is returned for actions from anyone but the owner.
	ErrUnauthorized = errors.New("reviewer not authorized")
	// ErrNoStagedEdit is returned when a confirm arrives with no staged
	// replacement text.
	ErrNoStagedEdit = errors.New("no staged edit for draft")
)

// Notifier is the reviewer-facing surface: it posts review requests and
// updates them in place as the draft moves through its lifecycle.
type Notifier interface {
	// NotifyDraft posts a review request with action buttons and returns
	// a channel-native reference for later in-place updates.
	NotifyDraft(ctx context.Context, d *draft.Draft) (ref string, err error)
	// NotifyEditConfirmation shows the replacement text with a confirm
	// button before anything is sent.
	NotifyEditConfirmation(ctx context.Context, d *draft.Draft, newText string) (ref string, err error)
	// UpdateReview rewrites a previously posted review message.
	UpdateReview(ctx context.Context, ref, text string) error
	// NotifyOwner sends a plain informational message to the owner.
	NotifyOwner(ctx context.Context, text string) error
}

// Handler processes reviewer actions. Actions are serialized: the engine
// feeds them from a single consumer goroutine and the handler holds its
// lock across each action, so a double-tap on Approve resolves to one send
// and one "already finalized".
type Handler struct {
	store    *draft.Store
	gateway  *delivery.Gateway
	notifier Notifier
	journal  *journal.Service
	ownerID  string

	mu           sync.Mutex
	awaitingEdit map[string]string // reviewerID -> draftID
	stagedEdits  map[string]string // draftID -> replacement text
}

// NewHandler creates a review handler. journal may be nil in tests.
func NewHandler(store *draft.Store, gateway *delivery.Gateway, notifier Notifier, j *journal.Service, ownerID string) *Handler {
	return &Handler{
		store:        store,
		gateway:      gateway,
		notifier:     notifier,
		journal:      j,
		ownerID:      ownerID,
		awaitingEdit: make(map[string]string),
		stagedEdits:  make(map[string]string),
	}
}

// StageDraft creates a PENDING draft, superseding the conversation's
// previous PENDING draft if one exists. It takes the action lock, so a
// draft whose approve is mid-delivery is finalized before a newer unit
// can mark it superseded.
func (h *Handler) StageDraft(d *draft.Draft) (created, superseded *draft.Draft) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Create(d)
}

// HandleAction processes one typed reviewer action.
func (h *Handler) HandleAction(ctx context.Context, act *bus.ReviewAction) error {
	if act.ReviewerID != h.ownerID {
		slog.Warn("Review action from unauthorized sender",
			"reviewer_id", act.ReviewerID, "draft_id", act.DraftID, "intent", act.Intent)
		return ErrUnauthorized
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	d, err := h.store.Get(act.DraftID)
	if err != nil {
		return err
	}
	if d.State.Terminal() {
		h.updateReview(ctx, d.ReviewRef, fmt.Sprintf("Draft already finalized (%s).", d.State))
		return fmt.Errorf("%w: %s", draft.ErrInvalidTransition, d.ID)
	}

	switch act.Intent {
	case bus.ActionApprove:
		return h.approve(ctx, d, d.ProposedText, false)
	case bus.ActionEditRequest:
		h.awaitingEdit[act.ReviewerID] = d.ID
		h.updateReview(ctx, d.ReviewRef, "Send the replacement text as your next message.")
		return nil
	case bus.ActionConfirmEdit:
		text, ok := h.stagedEdits[d.ID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoStagedEdit, d.ID)
		}
		delete(h.stagedEdits, d.ID)
		return h.approve(ctx, d, text, true)
	case bus.ActionSkip:
		if _, err := h.store.Transition(d.ID, draft.StateSkipped, ""); err != nil {
			return err
		}
		delete(h.stagedEdits, d.ID)
		h.recordEvent(d, draft.StateSkipped, act.ReviewerID, "")
		h.updateReview(ctx, d.ReviewRef, "Draft skipped.")
		return nil
	default:
		return fmt.Errorf("unknown review intent %q", act.Intent)
	}
}

// approve delivers text and finalizes the draft. An acted-on approve never
// leaves the draft PENDING: success finalizes to SENT/EDITED_AND_SENT,
// failure finalizes to FAILED with the error surfaced to the reviewer.
func (h *Handler) approve(ctx context.Context, d *draft.Draft, text string, edited bool) error {
	res := h.gateway.Send(ctx, d.ConversationID, text)
	if !res.Delivered {
		if _, err := h.store.Transition(d.ID, draft.StateFailed, ""); err != nil {
			return err
		}
		h.recordEvent(d, draft.StateFailed, h.ownerID, fmt.Sprintf("delivery failed after %d attempts: %v", res.Attempts, res.Err))
		h.updateReview(ctx, d.ReviewRef,
			fmt.Sprintf("Delivery failed after %d attempts: %v", res.Attempts, res.Err))
		return res.Err
	}

	to := draft.StateSent
	if edited {
		to = draft.StateEditedAndSent
	}
	if _, err := h.store.Transition(d.ID, to, text); err != nil {
		return err
	}
	h.recordEvent(d, to, h.ownerID, "")
	h.captureApprovedReply(d.Question, text, edited)
	h.updateReview(ctx, d.ReviewRef, fmt.Sprintf("Reply sent (%d attempt(s)).", res.Attempts))
	return nil
}

// HandleOwnerText routes a free-text message from the owner. If the owner
// is in awaiting-edit state the text becomes the staged replacement and a
// confirmation is requested; returns whether the text was consumed.
func (h *Handler) HandleOwnerText(ctx context.Context, reviewerID, text string) (bool, error) {
	if reviewerID != h.ownerID {
		return false, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	draftID, ok := h.awaitingEdit[reviewerID]
	if !ok {
		return false, nil
	}
	delete(h.awaitingEdit, reviewerID)

	d, err := h.store.Get(draftID)
	if err != nil {
		return true, err
	}
	if d.State.Terminal() {
		h.notifyOwner(ctx, fmt.Sprintf("Draft already finalized (%s); edit discarded.", d.State))
		return true, nil
	}

	h.stagedEdits[draftID] = text
	if h.notifier != nil {
		if ref, err := h.notifier.NotifyEditConfirmation(ctx, d, text); err != nil {
			slog.Error("Failed to request edit confirmation", "draft_id", draftID, "error", err)
		} else if ref != "" {
			_ = h.store.SetReviewRef(draftID, ref)
		}
	}
	return true, nil
}

// AwaitingEdit reports whether the reviewer has an edit in flight.
func (h *Handler) AwaitingEdit(reviewerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.awaitingEdit[reviewerID]
	return ok
}

// ClearPendingEdits drops all awaiting-edit and staged-edit state. The
// manual check pass calls this so a stale edit never captures the next
// unrelated owner message.
func (h *Handler) ClearPendingEdits() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.awaitingEdit = make(map[string]string)
	h.stagedEdits = make(map[string]string)
}

func (h *Handler) recordEvent(d *draft.Draft, to draft.State, actorID, note string) {
	if h.journal == nil {
		return
	}
	err := h.journal.RecordDraftEvent(&journal.DraftEventRecord{
		DraftID:        d.ID,
		ConversationID: d.ConversationID,
		FromState:      string(draft.StatePending),
		ToState:        string(to),
		ActorID:        actorID,
		Note:           note,
	})
	if err != nil {
		slog.Error("Failed to record draft event", "draft_id", d.ID, "error", err)
	}
}

func (h *Handler) captureApprovedReply(question, answer string, edited bool) {
	if h.journal == nil {
		return
	}
	if err := h.journal.AddApprovedReply(question, answer, edited); err != nil {
		slog.Error("Failed to capture approved reply", "error", err)
	}
}

func (h *Handler) updateReview(ctx context.Context, ref, text string) {
	if h.notifier == nil || ref == "" {
		return
	}
	if err := h.notifier.UpdateReview(ctx, ref, text); err != nil {
		slog.Error("Failed to update review message", "ref", ref, "error", err)
	}
}

func (h *Handler) notifyOwner(ctx context.Context, text string) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.NotifyOwner(ctx, text); err != nil {
		slog.Error("Failed to notify owner", "error", err)
	}
}
