package store

import "time"

// Message roles accepted by Append.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is a single conversation turn. Immutable once appended.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds a conversation's active window and its archive history.
// Mutated only by Append and ReplaceWindow; removed only by Delete.
type Session struct {
	ID           string    `json:"session_id"`
	Messages     []Message `json:"messages"`
	LastSeq      int       `json:"last_seq"`
	ActiveTokens int       `json:"active_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	ArchiveIDs   []string  `json:"archive_ids"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// ContentHash covers the message sequence and guards reads.
	ContentHash string `json:"content_hash"`
}

// Archive is a retired contiguous prefix of a session plus its summary and
// keyword set. Immutable once created.
type Archive struct {
	ID             string    `json:"archive_id"`
	SessionID      string    `json:"session_id"`
	Messages       []Message `json:"messages"`
	Summary        string    `json:"summary"`
	SummaryTokens  int       `json:"summary_tokens"`
	OriginalTokens int       `json:"original_tokens"`
	Keywords       []string  `json:"keywords"`
	CreatedAt      time.Time `json:"created_at"`
	ContentHash    string    `json:"content_hash"`
}

// SessionSummary is the per-session index row used for listing.
type SessionSummary struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	ActiveTokens int       `json:"active_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	ArchiveCount int       `json:"archive_count"`
}

// ArchiveInfo is the per-archive index row. Keywords are kept in the index
// so retrieval can score archives without loading their bodies.
type ArchiveInfo struct {
	ID             string    `json:"archive_id"`
	SessionID      string    `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	MessageCount   int       `json:"message_count"`
	OriginalTokens int       `json:"original_tokens"`
	SummaryTokens  int       `json:"summary_tokens"`
	Summary        string    `json:"summary"`
	Keywords       []string  `json:"keywords"`
}

// Stats aggregates cache-wide counters from the index.
type Stats struct {
	SessionCount   int   `json:"session_count"`
	MessageCount   int   `json:"message_count"`
	ArchiveCount   int   `json:"archive_count"`
	ActiveTokens   int   `json:"active_tokens_total"`
	ArchivedTokens int   `json:"archived_tokens_total"`
	StorageBytes   int64 `json:"storage_bytes"`
}

// ExportRecord is a self-contained snapshot of a session, optionally with
// its archives inlined.
type ExportRecord struct {
	Session  *Session  `json:"session"`
	Archives []Archive `json:"archives,omitempty"`
}
