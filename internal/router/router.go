// Package router decides the outcome for each sealed conversation unit:
// reply automatically, hold a draft for human review, or stay silent.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/replydesk/replydesk/internal/accumulator"
	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/signal"
)

// Path is the routing outcome for a unit.
type Path string

const (
	PathAutoReply Path = "AUTO_REPLY"
	PathDraft     Path = "DRAFT_FOR_REVIEW"
	PathSuppress  Path = "SUPPRESS"
)

// UnreadableAttachmentReply is the fixed draft text proposed when the unit
// contains an attachment the system cannot read.
const UnreadableAttachmentReply = "Thanks for the file! I will take a look and get back to you shortly."

// Decision is the routing verdict for one unit.
type Decision struct {
	UnitID         string         `json:"unit_id"`
	ConversationID string         `json:"conversation_id"`
	Path           Path           `json:"path"`
	Confidence     int            `json:"confidence"`
	Signals        map[string]int `json:"signals,omitempty"`
	Unavailable    []string       `json:"unavailable,omitempty"`
	Reply          string         `json:"reply,omitempty"`
	Rationale      string         `json:"rationale"`
	WouldAutoReply bool           `json:"would_auto_reply,omitempty"`
	DecidedAt      time.Time      `json:"decided_at"`
}

// WorkingHours is a daily [Start, End) hour gate in a fixed location.
type WorkingHours struct {
	Start int
	End   int
	Loc   *time.Location
}

// Within reports whether t falls inside working hours.
func (w WorkingHours) Within(t time.Time) bool {
	h := t.In(w.Loc).Hour()
	return h >= w.Start && h < w.End
}

// Router composes provider signals into a routing decision.
// Route is idempotent per unit ID: provider side effects fire at most once
// per sealed unit, retries get the cached decision.
type Router struct {
	generator signal.Generator
	providers []signal.Provider
	weights   map[string]float64
	genWeight float64
	blacklist map[string]struct{}
	ownerID   string
	threshold int
	hours     WorkingHours

	mu   sync.Mutex
	seen map[string]*Decision
	now  func() time.Time
}

// New creates a router from routing config and the signal sources.
// The timezone is resolved once; an invalid zone falls back to UTC with a
// logged warning rather than failing startup.
func New(cfg config.RoutingConfig, generator signal.Generator, providers []signal.Provider, ownerID string) *Router {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Warn("Invalid routing timezone, falling back to UTC", "timezone", cfg.Timezone, "error", err)
		loc = time.UTC
	}

	blacklist := make(map[string]struct{}, len(cfg.Blacklist))
	for _, id := range cfg.Blacklist {
		blacklist[id] = struct{}{}
	}

	weights := map[string]float64{
		"calendar":  cfg.Weights.Calendar,
		"kanban":    cfg.Weights.Kanban,
		"knowledge": cfg.Weights.Knowledge,
	}
	genWeight := cfg.Weights.Generation
	if genWeight <= 0 {
		genWeight = 0.60
	}

	threshold := cfg.AutoReplyThreshold
	if threshold <= 0 || threshold > 100 {
		threshold = 90
	}

	return &Router{
		generator: generator,
		providers: providers,
		weights:   weights,
		genWeight: genWeight,
		blacklist: blacklist,
		ownerID:   ownerID,
		threshold: threshold,
		hours: WorkingHours{
			Start: cfg.WorkingHoursStart,
			End:   cfg.WorkingHoursEnd,
			Loc:   loc,
		},
		seen: make(map[string]*Decision),
		now:  time.Now,
	}
}

// Route evaluates one sealed unit. Gates run in order; the first match
// wins and skips all provider calls below it.
func (r *Router) Route(ctx context.Context, unit *accumulator.ConversationUnit) (*Decision, error) {
	r.mu.Lock()
	if cached, ok := r.seen[unit.ID]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	decision := r.evaluate(ctx, unit)

	r.mu.Lock()
	// A concurrent Route for the same unit may have finished first; the
	// earlier decision wins so callers always see a single verdict.
	if cached, ok := r.seen[unit.ID]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.seen[unit.ID] = decision
	r.mu.Unlock()

	slog.Info("Unit routed",
		"unit_id", unit.ID,
		"conversation_id", unit.ConversationID,
		"path", decision.Path,
		"confidence", decision.Confidence,
		"rationale", decision.Rationale)
	return decision, nil
}

func (r *Router) evaluate(ctx context.Context, unit *accumulator.ConversationUnit) *Decision {
	d := &Decision{
		UnitID:         unit.ID,
		ConversationID: unit.ConversationID,
		DecidedAt:      r.now(),
	}

	if _, blocked := r.blacklist[unit.ConversationID]; blocked {
		d.Path = PathSuppress
		d.Rationale = "blocked"
		return d
	}

	if r.ownerID != "" && unit.LastSenderID == r.ownerID {
		d.Path = PathSuppress
		d.Confidence = 0
		d.Rationale = "owner already replied"
		return d
	}

	if unit.HasUnreadableAttachment {
		d.Path = PathDraft
		d.Confidence = 0
		d.Reply = UnreadableAttachmentReply
		d.Rationale = "attachment could not be read"
		return d
	}

	candidate, err := r.generator.Generate(ctx, unit)
	if err != nil {
		slog.Warn("Generation failed, drafting without candidate",
			"unit_id", unit.ID, "error", err)
		d.Path = PathDraft
		d.Confidence = 0
		d.Rationale = fmt.Sprintf("generation failed: %v", err)
		return d
	}
	d.Reply = candidate.Reply

	d.Signals = map[string]int{"generation": candidate.Confidence}
	sum := r.genWeight * float64(candidate.Confidence)
	weightSum := r.genWeight

	for _, p := range r.providers {
		score, err := p.Evaluate(ctx, unit)
		if err != nil {
			slog.Warn("Signal provider error", "provider", p.Name(), "unit_id", unit.ID, "error", err)
		}
		if score.Unavailable {
			d.Unavailable = append(d.Unavailable, p.Name())
			continue
		}
		w := r.weights[p.Name()]
		if w <= 0 {
			continue
		}
		d.Signals[p.Name()] = score.Value
		sum += w * float64(score.Value)
		weightSum += w
	}

	d.Confidence = int(math.Round(sum / weightSum))

	if d.Confidence < r.threshold {
		d.Path = PathDraft
		d.Rationale = fmt.Sprintf("confidence %d below threshold %d", d.Confidence, r.threshold)
		return d
	}

	if !r.hours.Within(r.now()) {
		d.Path = PathDraft
		d.WouldAutoReply = true
		d.Rationale = fmt.Sprintf("confidence %d would auto-reply, but outside working hours", d.Confidence)
		return d
	}

	d.Path = PathAutoReply
	d.Rationale = fmt.Sprintf("confidence %d at or above threshold %d within working hours", d.Confidence, r.threshold)
	return d
}

// Forget drops the cached decision for a unit. Only tests and manual
// re-evaluation flows use this.
func (r *Router) Forget(unitID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, unitID)
}
