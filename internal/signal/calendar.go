package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/replydesk/replydesk/internal/accumulator"
	"github.com/replydesk/replydesk/internal/config"
)

// Calendar provider scores.
const (
	calendarAvailableScore = 70
	calendarBusyScore      = 30
)

// CalendarProvider checks upcoming free/busy state over an HTTP calendar
// service. A mostly free day raises confidence that a "come in today"
// style reply is safe; a packed day lowers it. Errors make the source
// unavailable rather than failing the routing pass.
type CalendarProvider struct {
	freeBusyURL    string
	apiKey         string
	lookahead      time.Duration
	busyEventLimit int
	httpClient     *http.Client
	now            func() time.Time
}

// NewCalendarProvider creates a calendar provider from config.
func NewCalendarProvider(cfg config.CalendarConfig) *CalendarProvider {
	lookahead := time.Duration(cfg.LookaheadHours) * time.Hour
	if lookahead <= 0 {
		lookahead = 24 * time.Hour
	}
	limit := cfg.BusyEventLimit
	if limit <= 0 {
		limit = 3
	}
	return &CalendarProvider{
		freeBusyURL:    strings.TrimSuffix(cfg.FreeBusyURL, "/"),
		apiKey:         cfg.APIKey,
		lookahead:      lookahead,
		busyEventLimit: limit,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

// Name identifies the source in decision breakdowns.
func (p *CalendarProvider) Name() string { return "calendar" }

// Evaluate fetches the upcoming events and scores availability.
func (p *CalendarProvider) Evaluate(ctx context.Context, unit *accumulator.ConversationUnit) (Score, error) {
	if p.freeBusyURL == "" {
		return Unavailable(), nil
	}

	from := p.now()
	to := from.Add(p.lookahead)

	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, "GET", p.freeBusyURL+"?"+q.Encode(), nil)
	if err != nil {
		return Unavailable(), fmt.Errorf("create request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Unavailable(), fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Unavailable(), fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Unavailable(), fmt.Errorf("calendar API error (status %d)", resp.StatusCode)
	}

	var payload struct {
		Events []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Unavailable(), fmt.Errorf("parse response: %w", err)
	}

	if len(payload.Events) < p.busyEventLimit {
		return Score{Value: calendarAvailableScore}, nil
	}
	return Score{Value: calendarBusyScore}, nil
}
