package signal

import (
	"context"
	"strings"
	"unicode"

	"github.com/replydesk/replydesk/internal/accumulator"
	"github.com/replydesk/replydesk/internal/journal"
)

// Knowledge provider scores.
const (
	knowledgeExactScore   = 85
	knowledgePartialScore = 60
)

// KnowledgeProvider matches the unit against previously approved replies.
// A question the owner has already answered once is a question the
// generated reply can be trusted on.
type KnowledgeProvider struct {
	journal *journal.Service
}

// NewKnowledgeProvider creates a knowledge provider backed by the journal.
func NewKnowledgeProvider(j *journal.Service) *KnowledgeProvider {
	return &KnowledgeProvider{journal: j}
}

// Name identifies the source in decision breakdowns.
func (p *KnowledgeProvider) Name() string { return "knowledge" }

// Evaluate searches the approved-reply store for the unit's keywords.
// Exact phrase match scores high, keyword overlap scores medium, and no
// match is neutral. Storage errors make the source unavailable.
func (p *KnowledgeProvider) Evaluate(ctx context.Context, unit *accumulator.ConversationUnit) (Score, error) {
	text := strings.TrimSpace(strings.ToLower(unit.Text()))
	keywords := extractKeywords(text)
	if len(keywords) == 0 {
		return Score{Value: Neutral}, nil
	}

	hits, err := p.journal.SearchApprovedReplies(keywords, 20)
	if err != nil {
		return Unavailable(), err
	}
	if len(hits) == 0 {
		return Score{Value: Neutral}, nil
	}

	for _, hit := range hits {
		q := strings.ToLower(strings.TrimSpace(hit.Question))
		if q == "" {
			continue
		}
		if strings.Contains(q, text) || strings.Contains(text, q) {
			return Score{Value: knowledgeExactScore}, nil
		}
	}
	return Score{Value: knowledgePartialScore}, nil
}

// extractKeywords lowercases the text and keeps words longer than three
// runes, which drops articles and fillers in most languages we see.
func extractKeywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if len([]rune(f)) <= 3 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
