// Package signal defines the confidence signal sources the router composes.
// Each provider scores a sealed conversation unit on a 0-100 scale; a
// provider that cannot reach its backing service reports Unavailable
// instead of failing the routing pass.
package signal

import (
	"context"

	"github.com/replydesk/replydesk/internal/accumulator"
)

// Score is one provider's confidence contribution.
type Score struct {
	Value       int
	Unavailable bool
}

// Neutral is the score a provider returns when it has nothing to say
// either way.
const Neutral = 50

// Unavailable marks a provider as unreachable for this unit. The router
// drops the source from the weighting rather than counting it as zero.
func Unavailable() Score {
	return Score{Unavailable: true}
}

// Provider scores a conversation unit. Evaluate must be safe to call
// concurrently and must respect ctx cancellation.
type Provider interface {
	Name() string
	Evaluate(ctx context.Context, unit *accumulator.ConversationUnit) (Score, error)
}

// Candidate is a generated reply proposal with the model's own confidence.
type Candidate struct {
	Reply      string
	Confidence int
	Reasoning  string
}

// Generator produces the candidate reply text and the base confidence the
// supplementary providers adjust.
type Generator interface {
	Generate(ctx context.Context, unit *accumulator.ConversationUnit) (*Candidate, error)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
