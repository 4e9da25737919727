// Package accumulator batches rapid message fragments into conversation units.
//
// People type in bursts. Replying to each fragment separately produces
// context-free answers, so the accumulator holds fragments per conversation
// for a fixed window and seals them into a single ConversationUnit. The
// window is anchored at the FIRST fragment; later fragments join the unit
// but never extend the deadline.
package accumulator

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultWindow is the batching window used when none is configured.
const DefaultWindow = 7 * time.Second

// Fragment is a single inbound message before accumulation.
type Fragment struct {
	SenderID             string
	Text                 string
	UnreadableAttachment bool
	At                   time.Time
}

// ConversationUnit is a sealed batch of fragments for one conversation.
type ConversationUnit struct {
	ID                      string
	ConversationID          string
	Channel                 string
	Title                   string
	Fragments               []Fragment
	LastSenderID            string
	HasUnreadableAttachment bool
	WindowStart             time.Time
	SealedAt                time.Time
}

// Text joins the fragment texts with newlines, preserving arrival order.
func (u *ConversationUnit) Text() string {
	parts := make([]string, 0, len(u.Fragments))
	for _, f := range u.Fragments {
		if f.Text != "" {
			parts = append(parts, f.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type openUnit struct {
	channel   string
	title     string
	fragments []Fragment
	start     time.Time
	deadline  time.Time
}

// Accumulator holds at most one open unit per conversation.
// All methods are safe for concurrent use.
type Accumulator struct {
	mu     sync.Mutex
	window time.Duration
	open   map[string]*openUnit
	now    func() time.Time
}

// New creates an accumulator with the given window.
// A non-positive window falls back to DefaultWindow.
func New(window time.Duration) *Accumulator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Accumulator{
		window: window,
		open:   make(map[string]*openUnit),
		now:    time.Now,
	}
}

// Ingest appends a fragment to the conversation's open unit, opening a new
// unit if none exists. A fragment arriving after the previous unit was
// drained opens a fresh unit with a fresh window; fragments are never
// dropped.
func (a *Accumulator) Ingest(conversationID, channel, title string, frag Fragment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if frag.At.IsZero() {
		frag.At = a.now()
	}

	u, ok := a.open[conversationID]
	if !ok {
		u = &openUnit{
			channel:  channel,
			title:    title,
			start:    frag.At,
			deadline: frag.At.Add(a.window),
		}
		a.open[conversationID] = u
	}
	if title != "" {
		u.title = title
	}
	u.fragments = append(u.fragments, frag)
}

// Due returns the conversations whose window has elapsed at the given time.
func (a *Accumulator) Due(now time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var due []string
	for id, u := range a.open {
		if !now.Before(u.deadline) {
			due = append(due, id)
		}
	}
	return due
}

// Drain seals and removes the conversation's open unit. Returns false if
// there is no open unit (already drained, or never opened). A unit is
// returned exactly once; concurrent drains cannot observe the same unit.
func (a *Accumulator) Drain(conversationID string) (*ConversationUnit, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainLocked(conversationID)
}

// DrainAll seals and removes every open unit regardless of deadline.
// Used by the manual check pass.
func (a *Accumulator) DrainAll() []*ConversationUnit {
	a.mu.Lock()
	defer a.mu.Unlock()

	units := make([]*ConversationUnit, 0, len(a.open))
	for id := range a.open {
		if u, ok := a.drainLocked(id); ok {
			units = append(units, u)
		}
	}
	return units
}

func (a *Accumulator) drainLocked(conversationID string) (*ConversationUnit, bool) {
	u, ok := a.open[conversationID]
	if !ok || len(u.fragments) == 0 {
		return nil, false
	}
	delete(a.open, conversationID)

	unit := &ConversationUnit{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Channel:        u.channel,
		Title:          u.title,
		Fragments:      u.fragments,
		LastSenderID:   u.fragments[len(u.fragments)-1].SenderID,
		WindowStart:    u.start,
		SealedAt:       a.now(),
	}
	for _, f := range u.fragments {
		if f.UnreadableAttachment {
			unit.HasUnreadableAttachment = true
			break
		}
	}
	return unit, true
}

// OpenCount returns the number of conversations with an open unit.
func (a *Accumulator) OpenCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}
