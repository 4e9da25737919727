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

// Kanban provider scoring constants.
const (
	kanbanBaseScore     = 50
	kanbanPerCard       = 5
	kanbanCardCap       = 70
	kanbanPerHighCard   = 5
	kanbanHighCap       = 85
	kanbanMaxCardsFetch = 200
)

// KanbanProvider scans a Trello board for cards tied to the conversation.
// Open tasks for the client mean an active engagement, which raises
// confidence slightly; high-priority cards raise it further.
type KanbanProvider struct {
	apiBase    string
	apiKey     string
	token      string
	boardID    string
	httpClient *http.Client
}

// NewKanbanProvider creates a Trello-backed kanban provider from config.
func NewKanbanProvider(cfg config.KanbanConfig) *KanbanProvider {
	apiBase := strings.TrimSuffix(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = "https://api.trello.com"
	}
	return &KanbanProvider{
		apiBase: apiBase,
		apiKey:  cfg.APIKey,
		token:   cfg.Token,
		boardID: cfg.BoardID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name identifies the source in decision breakdowns.
func (p *KanbanProvider) Name() string { return "kanban" }

type trelloCard struct {
	Name   string `json:"name"`
	Desc   string `json:"desc"`
	Closed bool   `json:"closed"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// Evaluate fetches the board's open cards and scores engagement.
func (p *KanbanProvider) Evaluate(ctx context.Context, unit *accumulator.ConversationUnit) (Score, error) {
	if p.boardID == "" || p.apiKey == "" {
		return Unavailable(), nil
	}

	cards, err := p.fetchCards(ctx)
	if err != nil {
		return Unavailable(), err
	}

	keywords := extractKeywords(unit.Title + " " + unit.Text())
	if len(keywords) == 0 {
		return Score{Value: kanbanBaseScore}, nil
	}

	matched, highPriority := 0, 0
	for _, card := range cards {
		if card.Closed {
			continue
		}
		text := strings.ToLower(card.Name + " " + card.Desc)
		if !containsAny(text, keywords) {
			continue
		}
		matched++
		if cardIsHighPriority(card) {
			highPriority++
		}
	}

	if matched == 0 {
		return Score{Value: kanbanBaseScore}, nil
	}

	score := kanbanBaseScore + matched*kanbanPerCard
	if score > kanbanCardCap {
		score = kanbanCardCap
	}
	score += highPriority * kanbanPerHighCard
	if score > kanbanHighCap {
		score = kanbanHighCap
	}
	return Score{Value: clampScore(score)}, nil
}

func (p *KanbanProvider) fetchCards(ctx context.Context) ([]trelloCard, error) {
	q := url.Values{}
	q.Set("key", p.apiKey)
	q.Set("token", p.token)
	q.Set("fields", "name,desc,closed,labels")
	q.Set("limit", fmt.Sprintf("%d", kanbanMaxCardsFetch))

	endpoint := fmt.Sprintf("%s/1/boards/%s/cards?%s", p.apiBase, url.PathEscape(p.boardID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trello API error (status %d)", resp.StatusCode)
	}

	var cards []trelloCard
	if err := json.Unmarshal(body, &cards); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return cards, nil
}

func cardIsHighPriority(card trelloCard) bool {
	for _, label := range card.Labels {
		name := strings.ToLower(label.Name)
		if strings.Contains(name, "high") || strings.Contains(name, "urgent") || strings.Contains(name, "priority") {
			return true
		}
	}
	return false
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
