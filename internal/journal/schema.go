package journal

import "time"

// DecisionRecord is the persisted audit row for a routing decision.
type DecisionRecord struct {
	ID             int64     `json:"id"`
	UnitID         string    `json:"unit_id"`
	ConversationID string    `json:"conversation_id"`
	Channel        string    `json:"channel"`
	Path           string    `json:"path"`
	Confidence     int       `json:"confidence"`
	Signals        string    `json:"signals,omitempty"` // JSON blob of per-source scores
	Rationale      string    `json:"rationale"`
	CreatedAt      time.Time `json:"created_at"`
}

// DraftEventRecord is the persisted audit row for a draft state transition.
type DraftEventRecord struct {
	ID             int64     `json:"id"`
	DraftID        string    `json:"draft_id"`
	ConversationID string    `json:"conversation_id"`
	FromState      string    `json:"from_state"`
	ToState        string    `json:"to_state"`
	ActorID        string    `json:"actor_id,omitempty"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeliveryAttemptRecord is the persisted audit row for one send attempt.
type DeliveryAttemptRecord struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Attempt        int       `json:"attempt"`
	Delivered      bool      `json:"delivered"`
	ErrorText      string    `json:"error_text,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ApprovedReply is a question/answer pair captured from approved drafts.
// It feeds the knowledge signal provider.
type ApprovedReply struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Edited    bool      `json:"edited"`
	CreatedAt time.Time `json:"created_at"`
}

// Schema is the SQLite schema applied on open.
const Schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	channel TEXT,
	path TEXT NOT NULL,
	confidence INTEGER NOT NULL DEFAULT 0,
	signals TEXT DEFAULT '',
	rationale TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_decisions_conversation ON decisions(conversation_id);
CREATE INDEX IF NOT EXISTS idx_decisions_unit ON decisions(unit_id);

CREATE TABLE IF NOT EXISTS draft_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	draft_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	actor_id TEXT DEFAULT '',
	note TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_draft_events_draft ON draft_events(draft_id);

CREATE TABLE IF NOT EXISTS delivery_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	delivered BOOLEAN NOT NULL,
	error_text TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_delivery_conversation ON delivery_attempts(conversation_id);

CREATE TABLE IF NOT EXISTS approved_replies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	edited BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
