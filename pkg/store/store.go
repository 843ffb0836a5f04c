package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store persists sessions and archives as JSON records and keeps a SQLite
// index of their metadata for listing, statistics, and retrieval scoring.
type Store struct {
	dir         string
	sessionsDir string
	archivesDir string
	db          *sql.DB
	logger      zerolog.Logger
}

// New opens (or initializes) a store rooted at dir.
func New(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".ingat", "cache")
	}

	s := &Store{
		dir:         dir,
		sessionsDir: filepath.Join(dir, "sessions"),
		archivesDir: filepath.Join(dir, "archives"),
		logger:      logger,
	}

	for _, d := range []string{dir, s.sessionsDir, s.archivesDir} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// WAL mode for concurrent readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s.db = db
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	logger.Info().Str("dir", dir).Msg("Store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			active_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			archive_count INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

		CREATE TABLE IF NOT EXISTS archives (
			archive_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			original_tokens INTEGER NOT NULL,
			summary_tokens INTEGER NOT NULL,
			summary TEXT NOT NULL,
			keywords TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_archives_session ON archives(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the index database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// validateID rejects ids that could escape the record directories.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("id cannot contain null bytes")
	}
	return nil
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.sessionsDir, id+".json")
}

func (s *Store) archivePath(id string) string {
	return filepath.Join(s.archivesDir, id+".json")
}

// writeRecord writes a record atomically: temp file in the same directory,
// fsync, then rename over the final path.
func writeRecord(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish record: %w", err)
	}
	return nil
}

func hashPayload(v any) string {
	data, _ := json.Marshal(v)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sessionHash(sess *Session) string {
	return hashPayload(struct {
		Messages     []Message `json:"messages"`
		LastSeq      int       `json:"last_seq"`
		ActiveTokens int       `json:"active_tokens"`
		TotalTokens  int       `json:"total_tokens"`
		ArchiveIDs   []string  `json:"archive_ids"`
	}{sess.Messages, sess.LastSeq, sess.ActiveTokens, sess.TotalTokens, sess.ArchiveIDs})
}

func archiveHash(a *Archive) string {
	return hashPayload(struct {
		Messages []Message `json:"messages"`
		Summary  string    `json:"summary"`
	}{a.Messages, a.Summary})
}

// Create creates an empty session with the given id.
func (s *Store) Create(id string) (*Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE session_id = ?", id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("session %s: %w", id, ErrIDConflict)
	}
	if _, err := os.Stat(s.sessionPath(id)); err == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrIDConflict)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        id,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	sess.ContentHash = sessionHash(sess)

	if err := writeRecord(s.sessionPath(id), sess); err != nil {
		return nil, err
	}

	_, err = s.db.Exec(
		"INSERT INTO sessions (session_id, created_at, updated_at) VALUES (?, ?, ?)",
		id, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to index session: %w", err)
	}

	s.logger.Info().Str("session_id", id).Msg("Session created")
	return sess, nil
}

// Get loads a session record and verifies its integrity.
func (s *Store) Get(id string) (*Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	valid, err := validateRecord(sessionSchemaLoader, raw)
	if err != nil || !valid {
		s.logger.Warn().Str("session_id", id).Msg("Session record failed schema check")
		return nil, fmt.Errorf("session %s: %w", id, ErrCorrupt)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrCorrupt)
	}
	if sessionHash(&sess) != sess.ContentHash {
		s.logger.Warn().Str("session_id", id).Msg("Session record failed hash check")
		return nil, fmt.Errorf("session %s: %w", id, ErrCorrupt)
	}

	return &sess, nil
}

// Append assigns the next sequence number to msg and persists the extended
// session atomically: a reader never observes the message list and token
// counts out of step.
func (s *Store) Append(id string, msg Message) (*Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	switch msg.Role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
	default:
		return nil, fmt.Errorf("invalid message role %q", msg.Role)
	}
	if msg.Content == "" {
		return nil, fmt.Errorf("message content cannot be empty")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	msg.Seq = sess.LastSeq + 1
	sess.LastSeq = msg.Seq
	sess.Messages = append(sess.Messages, msg)
	sess.ActiveTokens += msg.Tokens
	sess.TotalTokens += msg.Tokens
	sess.UpdatedAt = time.Now().UTC()
	sess.ContentHash = sessionHash(sess)

	if err := writeRecord(s.sessionPath(id), sess); err != nil {
		return nil, err
	}
	if err := s.updateSessionIndex(sess); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("session_id", id).
		Str("role", msg.Role).
		Int("seq", msg.Seq).
		Int("tokens", msg.Tokens).
		Msg("Message appended")

	return sess, nil
}

func (s *Store) updateSessionIndex(sess *Session) error {
	_, err := s.db.Exec(`
		UPDATE sessions
		SET updated_at = ?, message_count = ?, active_tokens = ?,
		    total_tokens = ?, archive_count = ?
		WHERE session_id = ?`,
		sess.UpdatedAt.UnixMilli(), len(sess.Messages), sess.ActiveTokens,
		sess.TotalTokens, len(sess.ArchiveIDs), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session index: %w", err)
	}
	return nil
}

// CreateArchive persists an immutable archive record and its index row.
// The session record is not touched here; ReplaceWindow commits the
// corresponding window mutation.
func (s *Store) CreateArchive(a *Archive) error {
	if err := validateID(a.ID); err != nil {
		return err
	}
	if len(a.Messages) == 0 {
		return fmt.Errorf("archive must contain at least one message")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.ContentHash = archiveHash(a)

	if err := writeRecord(s.archivePath(a.ID), a); err != nil {
		return err
	}

	keywords, err := json.Marshal(a.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO archives (archive_id, session_id, created_at, message_count,
			original_tokens, summary_tokens, summary, keywords)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.CreatedAt.UnixMilli(), len(a.Messages),
		a.OriginalTokens, a.SummaryTokens, a.Summary, string(keywords),
	)
	if err != nil {
		return fmt.Errorf("failed to index archive: %w", err)
	}

	s.logger.Info().
		Str("archive_id", a.ID).
		Str("session_id", a.SessionID).
		Int("messages", len(a.Messages)).
		Int("original_tokens", a.OriginalTokens).
		Int("summary_tokens", a.SummaryTokens).
		Msg("Archive created")

	return nil
}

// GetArchive loads an archive record and verifies its integrity.
func (s *Store) GetArchive(id string) (*Archive, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.archivePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read archive record: %w", err)
	}

	valid, err := validateRecord(archiveSchemaLoader, raw)
	if err != nil || !valid {
		s.logger.Warn().Str("archive_id", id).Msg("Archive record failed schema check")
		return nil, fmt.Errorf("archive %s: %w", id, ErrCorrupt)
	}

	var a Archive
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("archive %s: %w", id, ErrCorrupt)
	}
	if archiveHash(&a) != a.ContentHash {
		s.logger.Warn().Str("archive_id", id).Msg("Archive record failed hash check")
		return nil, fmt.Errorf("archive %s: %w", id, ErrCorrupt)
	}

	return &a, nil
}

// ReplaceWindow commits an archival against the session record: the retired
// prefix is dropped from the active window, the archive id is appended, and
// the active token count is decremented by exactly the removed sum.
func (s *Store) ReplaceWindow(sessionID, archiveID string, prefixLen, removedTokens int) (*Session, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if prefixLen <= 0 || prefixLen > len(sess.Messages) {
		return nil, fmt.Errorf("invalid archive prefix length %d (session has %d active messages)", prefixLen, len(sess.Messages))
	}

	sess.Messages = sess.Messages[prefixLen:]
	sess.ActiveTokens -= removedTokens
	if sess.ActiveTokens < 0 {
		sess.ActiveTokens = 0
	}
	sess.ArchiveIDs = append(sess.ArchiveIDs, archiveID)
	sess.UpdatedAt = time.Now().UTC()
	sess.ContentHash = sessionHash(sess)

	if err := writeRecord(s.sessionPath(sessionID), sess); err != nil {
		return nil, err
	}
	if err := s.updateSessionIndex(sess); err != nil {
		return nil, err
	}

	return sess, nil
}

// List returns session summaries ordered most-recently-updated first.
func (s *Store) List(limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT session_id, created_at, updated_at, message_count,
		       active_tokens, total_tokens, archive_count
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var created, updated int64
		if err := rows.Scan(&sum.ID, &created, &updated, &sum.MessageCount,
			&sum.ActiveTokens, &sum.TotalTokens, &sum.ArchiveCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sum.CreatedAt = time.UnixMilli(created).UTC()
		sum.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SessionArchives returns index metadata for a session's archives, newest
// first. Bodies are not loaded.
func (s *Store) SessionArchives(sessionID string) ([]ArchiveInfo, error) {
	rows, err := s.db.Query(`
		SELECT archive_id, session_id, created_at, message_count,
		       original_tokens, summary_tokens, summary, keywords
		FROM archives
		WHERE session_id = ?
		ORDER BY created_at DESC, archive_id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query archives: %w", err)
	}
	defer rows.Close()

	var out []ArchiveInfo
	for rows.Next() {
		var info ArchiveInfo
		var created int64
		var keywords string
		if err := rows.Scan(&info.ID, &info.SessionID, &created, &info.MessageCount,
			&info.OriginalTokens, &info.SummaryTokens, &info.Summary, &keywords); err != nil {
			return nil, fmt.Errorf("failed to scan archive row: %w", err)
		}
		info.CreatedAt = time.UnixMilli(created).UTC()
		if err := json.Unmarshal([]byte(keywords), &info.Keywords); err != nil {
			s.logger.Warn().Str("archive_id", info.ID).Msg("Archive keywords failed to parse, skipping")
			continue
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes a session's archives, then its record, then the index
// entries. A crash mid-delete can leave the session pointing at missing
// archives, but never an archive pointing at a missing session.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	if _, err := os.Stat(s.sessionPath(id)); os.IsNotExist(err) {
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE session_id = ?", id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to query index: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
	}

	archives, err := s.SessionArchives(id)
	if err != nil {
		return err
	}
	for _, a := range archives {
		if err := os.Remove(s.archivePath(a.ID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete archive record: %w", err)
		}
	}

	if err := os.Remove(s.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session record: %w", err)
	}

	if _, err := s.db.Exec("DELETE FROM archives WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete archive index entries: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM sessions WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session index entry: %w", err)
	}

	s.logger.Info().Str("session_id", id).Int("archives", len(archives)).Msg("Session deleted")
	return nil
}

// StaleSessions returns ids of sessions whose updated_at is older than
// cutoff, as of scan time.
func (s *Store) StaleSessions(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT session_id FROM sessions WHERE updated_at < ?", cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdatedAt returns the indexed update timestamp for a session.
func (s *Store) UpdatedAt(id string) (time.Time, error) {
	var updated int64
	err := s.db.QueryRow("SELECT updated_at FROM sessions WHERE session_id = ?", id).Scan(&updated)
	if err == sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query session: %w", err)
	}
	return time.UnixMilli(updated).UTC(), nil
}

// Stats aggregates cache-wide counters from the index and the on-disk size
// of the cache directory.
func (s *Store) Stats() (*Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(message_count), 0),
		       COALESCE(SUM(active_tokens), 0)
		FROM sessions`).Scan(&st.SessionCount, &st.MessageCount, &st.ActiveTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to query session stats: %w", err)
	}

	var archivedMessages int
	err = s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(message_count), 0),
		       COALESCE(SUM(original_tokens), 0)
		FROM archives`).Scan(&st.ArchiveCount, &archivedMessages, &st.ArchivedTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive stats: %w", err)
	}
	st.MessageCount += archivedMessages

	size := int64(0)
	err = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to measure cache size: %w", err)
	}
	st.StorageBytes = size

	return &st, nil
}

// Export builds a self-contained record of a session, optionally inlining
// its archives. Corrupt archives are skipped and reported.
func (s *Store) Export(id string, includeArchives bool) (*ExportRecord, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	rec := &ExportRecord{Session: sess}
	if !includeArchives {
		return rec, nil
	}

	for _, archiveID := range sess.ArchiveIDs {
		a, err := s.GetArchive(archiveID)
		if err != nil {
			s.logger.Warn().
				Str("session_id", id).
				Str("archive_id", archiveID).
				Err(err).
				Msg("Skipping archive during export")
			continue
		}
		rec.Archives = append(rec.Archives, *a)
	}
	return rec, nil
}
