package store

import "time"

// --- Durable session record (session/record.json) ---

type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// SessionRecord is the persisted form of an authenticated session.
// The companion opaque token lives under the "session_token" key.
type SessionRecord struct {
	ID          string    `json:"id"` // ULID
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Plan        PlanTier  `json:"plan"`
	CreatedAt   time.Time `json:"created_at"`
}

// --- Event journal (journal/events.jsonl) ---

type JournalEntry struct {
	ID        string    `json:"id"` // ULID
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"` // "user", "system", "activity"
	Content   string    `json:"content"`
	Seq       uint64    `json:"seq"`
}
