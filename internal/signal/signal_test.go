package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/replydesk/replydesk/internal/accumulator"
	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/journal"
)

func unitWithText(text string) *accumulator.ConversationUnit {
	a := accumulator.New(1)
	a.Ingest("c1", "telegram", "Anna", accumulator.Fragment{SenderID: "u1", Text: text})
	u, _ := a.Drain("c1")
	return u
}

func TestParseCandidate(t *testing.T) {
	cases := []struct {
		name       string
		content    string
		wantReply  string
		wantConf   int
	}{
		{
			name:      "clean json",
			content:   `{"reply": "We open at 9.", "confidence": 92, "reasoning": "hours in data"}`,
			wantReply: "We open at 9.",
			wantConf:  92,
		},
		{
			name:      "json wrapped in prose",
			content:   "Sure! Here you go:\n```json\n{\"reply\": \"Yes\", \"confidence\": 80}\n```",
			wantReply: "Yes",
			wantConf:  80,
		},
		{
			name:     "no json degrades to zero",
			content:  "I think the answer is yes.",
			wantConf: 0,
		},
		{
			name:     "broken json degrades to zero",
			content:  `{"reply": "Yes", "confidence": }`,
			wantConf: 0,
		},
		{
			name:     "confidence clamped",
			content:  `{"reply": "x", "confidence": 250}`,
			wantReply: "x",
			wantConf:  100,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := parseCandidate(tc.content)
			if c.Reply != tc.wantReply {
				t.Errorf("reply = %q, want %q", c.Reply, tc.wantReply)
			}
			if c.Confidence != tc.wantConf {
				t.Errorf("confidence = %d, want %d", c.Confidence, tc.wantConf)
			}
		})
	}
}

func TestGenerationProviderRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"reply\":\"Open 9-18\",\"confidence\":91,\"reasoning\":\"hours\"}"}}]}`))
	}))
	defer srv.Close()

	p := NewGenerationProvider(config.GenerationConfig{APIBase: srv.URL, Model: "test"})
	c, err := p.Generate(context.Background(), unitWithText("When are you open?"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if c.Reply != "Open 9-18" || c.Confidence != 91 {
		t.Errorf("unexpected candidate: %+v", c)
	}
}

func TestCalendarScores(t *testing.T) {
	cases := []struct {
		name   string
		events string
		want   int
	}{
		{"free day", `{"events":[]}`, calendarAvailableScore},
		{"busy day", `{"events":[{"start":"2025-01-01T10:00:00Z","end":"2025-01-01T11:00:00Z"},{"start":"2025-01-01T12:00:00Z","end":"2025-01-01T13:00:00Z"},{"start":"2025-01-01T14:00:00Z","end":"2025-01-01T15:00:00Z"}]}`, calendarBusyScore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.events))
			}))
			defer srv.Close()

			p := NewCalendarProvider(config.CalendarConfig{FreeBusyURL: srv.URL, BusyEventLimit: 3})
			score, err := p.Evaluate(context.Background(), unitWithText("can I come today?"))
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if score.Unavailable || score.Value != tc.want {
				t.Errorf("score = %+v, want %d", score, tc.want)
			}
		})
	}
}

func TestCalendarErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewCalendarProvider(config.CalendarConfig{FreeBusyURL: srv.URL})
	score, err := p.Evaluate(context.Background(), unitWithText("hello"))
	if err == nil {
		t.Error("expected error from 500 response")
	}
	if !score.Unavailable {
		t.Error("expected unavailable score on error")
	}
}

func TestKanbanScoring(t *testing.T) {
	cards := `[
		{"name": "Website redesign for Anna", "desc": "", "closed": false, "labels": [{"name": "High Priority"}]},
		{"name": "Anna invoice follow-up", "desc": "", "closed": false, "labels": []},
		{"name": "Closed Anna task", "desc": "", "closed": true, "labels": []},
		{"name": "Unrelated card", "desc": "", "closed": false, "labels": []}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(cards))
	}))
	defer srv.Close()

	p := NewKanbanProvider(config.KanbanConfig{APIBase: srv.URL, APIKey: "k", Token: "t", BoardID: "b"})
	score, err := p.Evaluate(context.Background(), unitWithText("Anna here, any update?"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// Two open matching cards (closed one excluded): 50 + 2*5 = 60,
	// plus one high-priority: +5 = 65.
	if score.Value != 65 {
		t.Errorf("score = %d, want 65", score.Value)
	}
}

func TestKanbanUnconfigured(t *testing.T) {
	p := NewKanbanProvider(config.KanbanConfig{})
	score, err := p.Evaluate(context.Background(), unitWithText("hi"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !score.Unavailable {
		t.Error("unconfigured kanban should be unavailable")
	}
}

func TestKnowledgeScores(t *testing.T) {
	svc, err := journal.NewService(filepath.Join(t.TempDir(), "j.db"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	defer svc.Close()

	if err := svc.AddApprovedReply("how much is a haircut today", "1500 rub", false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := NewKnowledgeProvider(svc)

	exact, err := p.Evaluate(context.Background(), unitWithText("how much is a haircut today"))
	if err != nil {
		t.Fatalf("evaluate exact: %v", err)
	}
	if exact.Value != knowledgeExactScore {
		t.Errorf("exact match score = %d, want %d", exact.Value, knowledgeExactScore)
	}

	partial, err := p.Evaluate(context.Background(), unitWithText("do you do a haircut for kids"))
	if err != nil {
		t.Fatalf("evaluate partial: %v", err)
	}
	if partial.Value != knowledgePartialScore {
		t.Errorf("partial match score = %d, want %d", partial.Value, knowledgePartialScore)
	}

	none, err := p.Evaluate(context.Background(), unitWithText("completely unrelated question"))
	if err != nil {
		t.Fatalf("evaluate none: %v", err)
	}
	if none.Value != Neutral {
		t.Errorf("no match score = %d, want %d", none.Value, Neutral)
	}
}

func TestExtractKeywords(t *testing.T) {
	kws := extractKeywords("How much is a haircut? haircut HAIRCUT")
	if len(kws) != 2 {
		t.Fatalf("expected [much haircut], got %v", kws)
	}
	if kws[0] != "much" || kws[1] != "haircut" {
		t.Errorf("unexpected keywords: %v", kws)
	}
}
