package draft

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestCreateAndTransition(t *testing.T) {
	s := NewStore()

	d, superseded := s.Create(&Draft{
		ConversationID: "telegram:100",
		ProposedText:   "We are open until 18:00.",
		Confidence:     72,
	})
	if superseded != nil {
		t.Fatalf("unexpected superseded draft: %+v", superseded)
	}
	if d.ID == "" || d.State != StatePending {
		t.Fatalf("bad created draft: %+v", d)
	}

	sent, err := s.Transition(d.ID, StateSent, d.ProposedText)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if sent.State != StateSent || sent.FinalText != d.ProposedText {
		t.Errorf("unexpected draft after send: %+v", sent)
	}
}

func TestTerminalDraftRejectsFurtherActions(t *testing.T) {
	s := NewStore()
	d, _ := s.Create(&Draft{ConversationID: "c1", ProposedText: "x"})

	if _, err := s.Transition(d.ID, StateSkipped, ""); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	for _, to := range []State{StateSent, StateEditedAndSent, StateSkipped, StateFailed} {
		_, err := s.Transition(d.ID, to, "y")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("transition to %s after SKIPPED: want ErrInvalidTransition, got %v", to, err)
		}
	}

	// State unchanged by the rejected attempts.
	got, err := s.Get(d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateSkipped {
		t.Errorf("state corrupted by rejected transitions: %s", got.State)
	}
}

func TestSupersedePendingDraft(t *testing.T) {
	s := NewStore()

	first, _ := s.Create(&Draft{ConversationID: "c1", ProposedText: "old"})
	second, superseded := s.Create(&Draft{ConversationID: "c1", ProposedText: "new"})

	if superseded == nil || superseded.ID != first.ID {
		t.Fatalf("expected first draft superseded, got %+v", superseded)
	}
	if superseded.State != StateSkipped || !superseded.Superseded {
		t.Errorf("superseded draft in wrong state: %+v", superseded)
	}

	pending, ok := s.GetPendingByConversation("c1")
	if !ok || pending.ID != second.ID {
		t.Fatalf("expected second draft pending, got %+v", pending)
	}
}

func TestAtMostOnePendingPerConversation(t *testing.T) {
	s := NewStore()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Create(&Draft{ConversationID: "c1", ProposedText: fmt.Sprintf("v%d", i)})
		}(i)
	}
	wg.Wait()

	if got := s.PendingCount(); got != 1 {
		t.Errorf("expected exactly 1 pending draft, got %d", got)
	}
	pendingSeen := 0
	for _, d := range s.List() {
		if d.State == StatePending {
			pendingSeen++
		}
	}
	if pendingSeen != 1 {
		t.Errorf("expected 1 PENDING in list, got %d", pendingSeen)
	}
}

func TestGetUnknownDraft(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
	if _, err := s.Transition("nope", StateSent, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s := NewStore()
	d, _ := s.Create(&Draft{ConversationID: "c1", ProposedText: "original"})

	d.ProposedText = "mutated"
	got, _ := s.Get(d.ID)
	if got.ProposedText != "original" {
		t.Error("store exposed internal draft to caller mutation")
	}
}
