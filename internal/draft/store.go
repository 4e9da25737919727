// Package draft holds proposed replies awaiting human review and enforces
// their lifecycle: PENDING is the only state that accepts transitions, and
// every terminal state is final.
package draft

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a draft.
type State string

const (
	StatePending       State = "PENDING"
	StateSent          State = "SENT"
	StateEditedAndSent State = "EDITED_AND_SENT"
	StateSkipped       State = "SKIPPED"
	StateFailed        State = "FAILED"
)

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	return s != StatePending
}

var (
	// ErrNotFound is returned for unknown draft ids.
	ErrNotFound = errors.New("draft not found")
	// ErrInvalidTransition is returned when a transition is attempted on a
	// draft that is already in a terminal state.
	ErrInvalidTransition = errors.New("draft already finalized")
)

// Draft is a proposed reply held for review.
type Draft struct {
	ID             string
	UnitID         string
	ConversationID string
	Channel        string
	Title          string
	Question       string
	ProposedText   string
	FinalText      string // text actually delivered (set on SENT / EDITED_AND_SENT)
	Confidence     int
	Rationale      string
	State          State
	Superseded     bool
	ReviewRef      string // channel-native reference to the review notification
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store is an in-memory draft store. Draft state is process-lifetime by
// design; the journal keeps the durable audit trail.
type Store struct {
	mu     sync.Mutex
	byID   map[string]*Draft
	byConv map[string]string // conversation -> pending draft id
}

// NewStore creates an empty draft store.
func NewStore() *Store {
	return &Store{
		byID:   make(map[string]*Draft),
		byConv: make(map[string]string),
	}
}

// Create adds a new PENDING draft. If the conversation already has a
// PENDING draft it is superseded: moved to SKIPPED with the superseded flag
// set, and returned so the caller can notify the reviewer. At most one
// PENDING draft per conversation ever exists.
func (s *Store) Create(d *Draft) (created *Draft, superseded *Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID, ok := s.byConv[d.ConversationID]; ok {
		old := s.byID[oldID]
		old.State = StateSkipped
		old.Superseded = true
		old.UpdatedAt = time.Now()
		superseded = s.snapshotLocked(old)
		delete(s.byConv, d.ConversationID)
	}

	cp := *d
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.State = StatePending
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now

	s.byID[cp.ID] = &cp
	s.byConv[cp.ConversationID] = cp.ID
	return s.snapshotLocked(&cp), superseded
}

// Get returns a snapshot of the draft with the given id.
func (s *Store) Get(id string) (*Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.snapshotLocked(d), nil
}

// GetPendingByConversation returns the conversation's PENDING draft, if any.
func (s *Store) GetPendingByConversation(conversationID string) (*Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byConv[conversationID]
	if !ok {
		return nil, false
	}
	return s.snapshotLocked(s.byID[id]), true
}

// Transition moves a PENDING draft to a terminal state. finalText is stored
// for SENT and EDITED_AND_SENT. Terminal drafts reject the transition with
// ErrInvalidTransition.
func (s *Store) Transition(id string, to State, finalText string) (*Draft, error) {
	if to == StatePending {
		return nil, fmt.Errorf("cannot transition to %s", to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.State.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, d.State)
	}

	d.State = to
	d.UpdatedAt = time.Now()
	if to == StateSent || to == StateEditedAndSent {
		d.FinalText = finalText
	}
	if s.byConv[d.ConversationID] == id {
		delete(s.byConv, d.ConversationID)
	}
	return s.snapshotLocked(d), nil
}

// SetReviewRef records the channel-native reference to the review
// notification (message id, timestamp) for later in-place updates.
func (s *Store) SetReviewRef(id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	d.ReviewRef = ref
	return nil
}

// List returns snapshots of all drafts, newest first.
func (s *Store) List() []*Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Draft, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, s.snapshotLocked(d))
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// PendingCount returns the number of PENDING drafts.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byConv)
}

func (s *Store) snapshotLocked(d *Draft) *Draft {
	cp := *d
	return &cp
}
