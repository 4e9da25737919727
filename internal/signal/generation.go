package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/replydesk/replydesk/internal/accumulator"
	"github.com/replydesk/replydesk/internal/config"
)

// GenerationProvider produces reply candidates via an OpenAI-compatible
// chat completions API. The prompt instructs the model to answer with a
// JSON object {reply, confidence, reasoning}; anything unparseable
// degrades to confidence 0 so the reply is held for review instead of
// auto-sent.
type GenerationProvider struct {
	apiKey       string
	apiBase      string
	model        string
	businessData string
	instructions string
	httpClient   *http.Client
}

// NewGenerationProvider creates a generation provider from config.
// Business data and instruction files are read once at startup; a missing
// file is not fatal, the prompt just omits the section.
func NewGenerationProvider(cfg config.GenerationConfig) *GenerationProvider {
	apiBase := strings.TrimSuffix(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	p := &GenerationProvider{
		apiKey:  cfg.APIKey,
		apiBase: apiBase,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	if cfg.BusinessDataPath != "" {
		if data, err := os.ReadFile(cfg.BusinessDataPath); err == nil {
			p.businessData = strings.TrimSpace(string(data))
		}
	}
	if cfg.InstructionsPath != "" {
		if data, err := os.ReadFile(cfg.InstructionsPath); err == nil {
			p.instructions = strings.TrimSpace(string(data))
		}
	}
	return p
}

// Name identifies the source in decision breakdowns.
func (p *GenerationProvider) Name() string { return "generation" }

var jsonBlockPattern = regexp.MustCompile(`(?s)\{.*\}`)

type candidatePayload struct {
	Reply      string `json:"reply"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// Generate asks the model for a reply candidate. A transport error is
// returned as-is; a malformed model answer yields a zero-confidence
// candidate so the router drafts instead of auto-replying.
func (p *GenerationProvider) Generate(ctx context.Context, unit *accumulator.ConversationUnit) (*Candidate, error) {
	body := map[string]any{
		"model": p.model,
		"messages": []map[string]any{
			{"role": "system", "content": p.systemPrompt()},
			{"role": "user", "content": p.userPrompt(unit)},
		},
		"temperature": 0.3,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	return parseCandidate(apiResp.Choices[0].Message.Content), nil
}

// parseCandidate extracts the JSON block from the model answer. Models
// wrap JSON in prose or code fences often enough that we search for the
// outermost braces instead of unmarshaling the whole content.
func parseCandidate(content string) *Candidate {
	block := jsonBlockPattern.FindString(content)
	if block == "" {
		return &Candidate{Confidence: 0, Reasoning: "model answer contained no JSON"}
	}
	var payload candidatePayload
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return &Candidate{Confidence: 0, Reasoning: "model answer JSON invalid"}
	}
	return &Candidate{
		Reply:      strings.TrimSpace(payload.Reply),
		Confidence: clampScore(payload.Confidence),
		Reasoning:  payload.Reasoning,
	}
}

func (p *GenerationProvider) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You reply to customer messages on behalf of a small business.\n")
	b.WriteString("Answer ONLY with a JSON object: {\"reply\": string, \"confidence\": integer 0-100, \"reasoning\": string}.\n")
	b.WriteString("confidence reflects how certain you are the reply is correct and complete.\n")
	if p.instructions != "" {
		b.WriteString("\nInstructions:\n")
		b.WriteString(p.instructions)
		b.WriteString("\n")
	}
	if p.businessData != "" {
		b.WriteString("\nBusiness data:\n")
		b.WriteString(p.businessData)
		b.WriteString("\n")
	}
	return b.String()
}

func (p *GenerationProvider) userPrompt(unit *accumulator.ConversationUnit) string {
	var b strings.Builder
	if unit.Title != "" {
		b.WriteString("Conversation with: ")
		b.WriteString(unit.Title)
		b.WriteString("\n")
	}
	b.WriteString("Customer wrote:\n")
	b.WriteString(unit.Text())
	return b.String()
}
