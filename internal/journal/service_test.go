package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestJournal(t *testing.T) *Service {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	svc, err := NewService(dbPath)
	if err != nil {
		t.Fatalf("failed to create journal service: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.Close()
	})
	return svc
}

func TestDecisionRoundTrip(t *testing.T) {
	svc := newTestJournal(t)

	err := svc.RecordDecision(&DecisionRecord{
		UnitID:         "unit-1",
		ConversationID: "telegram:100",
		Channel:        "telegram",
		Path:           "AUTO_REPLY",
		Confidence:     93,
		Rationale:      "composed above threshold",
	})
	if err != nil {
		t.Fatalf("record decision: %v", err)
	}

	decisions, err := svc.ListDecisions(10)
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.Path != "AUTO_REPLY" || d.Confidence != 93 {
		t.Errorf("unexpected decision row: %+v", d)
	}
}

func TestDraftEventHistory(t *testing.T) {
	svc := newTestJournal(t)

	events := []DraftEventRecord{
		{DraftID: "d1", ConversationID: "telegram:100", FromState: "", ToState: "PENDING"},
		{DraftID: "d1", ConversationID: "telegram:100", FromState: "PENDING", ToState: "SENT", ActorID: "owner"},
	}
	for i := range events {
		if err := svc.RecordDraftEvent(&events[i]); err != nil {
			t.Fatalf("record event %d: %v", i, err)
		}
	}

	got, err := svc.ListDraftEvents("d1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[1].ToState != "SENT" || got[1].ActorID != "owner" {
		t.Errorf("unexpected final event: %+v", got[1])
	}
}

func TestApprovedReplySearch(t *testing.T) {
	svc := newTestJournal(t)

	if err := svc.AddApprovedReply("How much is a haircut?", "A haircut is 1500.", false); err != nil {
		t.Fatalf("add reply: %v", err)
	}
	if err := svc.AddApprovedReply("Do you work on Sundays?", "Yes, until 15:00.", true); err != nil {
		t.Fatalf("add reply: %v", err)
	}
	// Blank pairs are ignored, not an error.
	if err := svc.AddApprovedReply("  ", "answer", false); err != nil {
		t.Fatalf("blank question should be a no-op: %v", err)
	}

	hits, err := svc.SearchApprovedReplies([]string{"haircut"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Answer != "A haircut is 1500." {
		t.Errorf("unexpected search result: %+v", hits)
	}

	n, err := svc.CountApprovedReplies()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 stored replies, got %d", n)
	}
}

func TestPruneDecisions(t *testing.T) {
	svc := newTestJournal(t)

	if err := svc.RecordDecision(&DecisionRecord{
		UnitID:         "unit-old",
		ConversationID: "telegram:100",
		Path:           "SUPPRESS",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Backdate the row past the retention window.
	old := time.Now().UTC().Add(-48 * time.Hour).Format("2006-01-02 15:04:05")
	if _, err := svc.DB().Exec(`UPDATE decisions SET created_at = ? WHERE unit_id = 'unit-old'`, old); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := svc.RecordDecision(&DecisionRecord{
		UnitID:         "unit-new",
		ConversationID: "telegram:100",
		Path:           "AUTO_REPLY",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	pruned, err := svc.PruneDecisions(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	left, err := svc.ListDecisions(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 || left[0].UnitID != "unit-new" {
		t.Errorf("unexpected survivors: %+v", left)
	}
}

func TestSettings(t *testing.T) {
	svc := newTestJournal(t)

	if v, err := svc.GetSetting("missing"); err != nil || v != "" {
		t.Fatalf("expected empty for unset key, got %q err=%v", v, err)
	}
	if err := svc.SetSetting("startup_notified", "1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := svc.SetSetting("startup_notified", "2"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	v, err := svc.GetSetting("startup_notified")
	if err != nil || v != "2" {
		t.Fatalf("expected 2, got %q err=%v", v, err)
	}
}
