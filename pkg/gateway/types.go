package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rakha/ingat/pkg/store"
	"github.com/rakha/ingat/pkg/window"
)

// TurnRequest is the body of POST /v1/turn.
type TurnRequest struct {
	// SessionID may be empty when session auto-creation is enabled.
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

// TurnResponse is the effective context for a turn.
type TurnResponse struct {
	SessionID    string         `json:"session_id"`
	Created      bool           `json:"created,omitempty"`
	Blocks       []window.Block `json:"blocks"`
	ActiveTokens int            `json:"active_tokens"`
	TotalTokens  int            `json:"total_tokens"`
	Injected     int            `json:"injected,omitempty"`
}

// ReplyRequest is the body of POST /v1/reply.
type ReplyRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// SessionEntry is one row of the session listing, with health attached.
type SessionEntry struct {
	store.SessionSummary
	Health string `json:"health"`
}

// SessionDetail is the full view of one session.
type SessionDetail struct {
	Session  *store.Session      `json:"session"`
	Archives []store.ArchiveInfo `json:"archives,omitempty"`
	Health   string              `json:"health"`
}

// ArchiveResponse wraps a forced archival result.
type ArchiveResponse struct {
	ArchiveID string `json:"archive_id"`
}

// CleanupRequest is the body of POST /v1/cleanup.
type CleanupRequest struct {
	// RetentionDays overrides the configured retention when >= 0.
	RetentionDays *int `json:"retention_days,omitempty"`
}

// CleanupResponse reports a cleanup run.
type CleanupResponse struct {
	Deleted int `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
