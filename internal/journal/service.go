// Package journal persists the audit trail: routing decisions, draft
// transitions, delivery attempts, and the approved-reply knowledge base.
package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Service struct {
	db *sql.DB
}

func NewService(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal db: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migration for existing dbs (no-op if column exists).
	_, _ = db.Exec(`ALTER TABLE decisions ADD COLUMN channel TEXT`)
	_, _ = db.Exec(`ALTER TABLE approved_replies ADD COLUMN edited BOOLEAN NOT NULL DEFAULT 0`)

	return &Service{db: db}, nil
}

func (s *Service) DB() *sql.DB { return s.db }

func (s *Service) Close() error {
	return s.db.Close()
}

// RecordDecision appends a routing decision to the audit trail.
func (s *Service) RecordDecision(rec *DecisionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO decisions (unit_id, conversation_id, channel, path, confidence, signals, rationale)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.UnitID, rec.ConversationID, rec.Channel, rec.Path, rec.Confidence, rec.Signals, rec.Rationale,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

// ListDecisions returns the most recent decisions, newest first.
func (s *Service) ListDecisions(limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, unit_id, conversation_id, COALESCE(channel, ''), path, confidence, signals, rationale, created_at
		FROM decisions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		if err := rows.Scan(&r.ID, &r.UnitID, &r.ConversationID, &r.Channel, &r.Path, &r.Confidence, &r.Signals, &r.Rationale, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordDraftEvent appends a draft state transition to the audit trail.
func (s *Service) RecordDraftEvent(rec *DraftEventRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO draft_events (draft_id, conversation_id, from_state, to_state, actor_id, note)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.DraftID, rec.ConversationID, rec.FromState, rec.ToState, rec.ActorID, rec.Note,
	)
	if err != nil {
		return fmt.Errorf("failed to record draft event: %w", err)
	}
	return nil
}

// ListDraftEvents returns the transition history for one draft, oldest first.
func (s *Service) ListDraftEvents(draftID string) ([]DraftEventRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, draft_id, conversation_id, from_state, to_state, actor_id, note, created_at
		FROM draft_events WHERE draft_id = ? ORDER BY id ASC`, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DraftEventRecord
	for rows.Next() {
		var r DraftEventRecord
		if err := rows.Scan(&r.ID, &r.DraftID, &r.ConversationID, &r.FromState, &r.ToState, &r.ActorID, &r.Note, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordDeliveryAttempt appends one send attempt to the audit trail.
func (s *Service) RecordDeliveryAttempt(rec *DeliveryAttemptRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO delivery_attempts (conversation_id, attempt, delivered, error_text)
		VALUES (?, ?, ?, ?)`,
		rec.ConversationID, rec.Attempt, rec.Delivered, rec.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}
	return nil
}

// AddApprovedReply stores a question/answer pair from an approved draft.
func (s *Service) AddApprovedReply(question, answer string, edited bool) error {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO approved_replies (question, answer, edited) VALUES (?, ?, ?)`,
		question, answer, edited)
	if err != nil {
		return fmt.Errorf("failed to add approved reply: %w", err)
	}
	return nil
}

// SearchApprovedReplies returns replies whose question contains any of the
// given keywords, newest first.
func (s *Service) SearchApprovedReplies(keywords []string, limit int) ([]ApprovedReply, error) {
	if limit <= 0 {
		limit = 20
	}
	if len(keywords) == 0 {
		return nil, nil
	}

	conds := make([]string, 0, len(keywords))
	args := make([]any, 0, len(keywords)+1)
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw == "" {
			continue
		}
		conds = append(conds, "lower(question) LIKE ?")
		args = append(args, "%"+kw+"%")
	}
	if len(conds) == 0 {
		return nil, nil
	}
	args = append(args, limit)

	rows, err := s.db.Query(`
		SELECT id, question, answer, edited, created_at
		FROM approved_replies WHERE `+strings.Join(conds, " OR ")+`
		ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApprovedReply
	for rows.Next() {
		var r ApprovedReply
		if err := rows.Scan(&r.ID, &r.Question, &r.Answer, &r.Edited, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountApprovedReplies returns the size of the knowledge base.
func (s *Service) CountApprovedReplies() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM approved_replies`).Scan(&n)
	return n, err
}

// GetSetting returns a persisted setting value, or "" if unset.
func (s *Service) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSetting persists a setting value.
func (s *Service) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// PruneDecisions deletes decisions older than the retention window. The
// cutoff is formatted to match CURRENT_TIMESTAMP so the comparison stays a
// plain string compare.
func (s *Service) PruneDecisions(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	res, err := s.db.Exec(`DELETE FROM decisions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
