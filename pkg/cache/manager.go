package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rakha/ingat/internal/metrics"
	"github.com/rakha/ingat/pkg/retrieval"
	"github.com/rakha/ingat/pkg/store"
	"github.com/rakha/ingat/pkg/window"
	"github.com/rs/zerolog"
)

// DefaultSummaryRatio is the target summary-to-original token ratio.
const DefaultSummaryRatio = 0.3

// ErrNoArchivable reports a forced archival against a window with nothing
// outside the preserved tail.
var ErrNoArchivable = errors.New("nothing to archive")

const sessionIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Summarizer condenses retired messages to approximately targetTokens.
type Summarizer interface {
	Summarize(ctx context.Context, messages []store.Message, targetTokens int) (string, error)
}

// Config holds manager configuration.
type Config struct {
	Store   *store.Store
	Planner *window.Planner

	// Summarizer may be nil; archival then always uses the truncation
	// fallback.
	Summarizer Summarizer

	// Retrieval may be nil; reference-looking turns then get no injections.
	Retrieval *retrieval.Engine

	// SummaryRatio defaults to DefaultSummaryRatio.
	SummaryRatio float64

	// MaxTotalTokens is an advisory lifetime budget; 0 disables the warning.
	MaxTotalTokens int

	// AutoCreate makes HandleTurn create unknown sessions on first use.
	AutoCreate bool

	// Events may be nil.
	Events *EventBus

	Logger zerolog.Logger
}

// Manager is the turn-handling facade over the store, the window planner,
// the summarizer, and the retrieval engine.
type Manager struct {
	store          *store.Store
	planner        *window.Planner
	summarizer     Summarizer
	retrieval      *retrieval.Engine
	summaryRatio   float64
	maxTotalTokens int
	autoCreate     bool
	events         *EventBus
	logger         zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	wg sync.WaitGroup
}

// NewManager builds a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Planner == nil {
		return nil, fmt.Errorf("window planner is required")
	}
	if cfg.SummaryRatio <= 0 || cfg.SummaryRatio >= 1 {
		cfg.SummaryRatio = DefaultSummaryRatio
	}
	if cfg.Events == nil {
		cfg.Events = NewEventBus()
	}

	return &Manager{
		store:          cfg.Store,
		planner:        cfg.Planner,
		summarizer:     cfg.Summarizer,
		retrieval:      cfg.Retrieval,
		summaryRatio:   cfg.SummaryRatio,
		maxTotalTokens: cfg.MaxTotalTokens,
		autoCreate:     cfg.AutoCreate,
		events:         cfg.Events,
		logger:         cfg.Logger,
	}, nil
}

// Events returns the manager's event bus.
func (m *Manager) Events() *EventBus {
	return m.events
}

// NewSessionID generates a fresh session id.
func NewSessionID() string {
	return "sess_" + gonanoid.MustGenerate(sessionIDAlphabet, 16)
}

// sessionLock returns the mutex serializing mutations of one session.
func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if m.locks == nil {
		m.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// TurnResult is what HandleTurn hands back to the translation layer.
type TurnResult struct {
	SessionID string         `json:"session_id"`
	Created   bool           `json:"created,omitempty"`
	Blocks    []window.Block `json:"blocks"`

	ActiveTokens int `json:"active_tokens"`
	TotalTokens  int `json:"total_tokens"`

	// Injected is the number of retrieved archives appended to Blocks.
	Injected int `json:"injected,omitempty"`
}

// HandleTurn records a user message and assembles the effective context for
// the turn. An empty sessionID allocates a new session when auto-create is
// on. Archival, if triggered, runs asynchronously after the result is built;
// retrieval and summary-listing failures degrade the context instead of
// failing the turn.
func (m *Manager) HandleTurn(ctx context.Context, sessionID, content string) (*TurnResult, error) {
	start := time.Now()
	res, err := m.handleTurn(ctx, sessionID, content)
	if err != nil {
		metrics.RecordTurn("error", time.Since(start))
		return nil, err
	}
	metrics.RecordTurn("ok", time.Since(start))
	return res, nil
}

func (m *Manager) handleTurn(ctx context.Context, sessionID, content string) (*TurnResult, error) {
	if content == "" {
		return nil, fmt.Errorf("turn content cannot be empty")
	}

	created := false
	if sessionID == "" {
		if !m.autoCreate {
			return nil, fmt.Errorf("session id is required when auto-create is disabled")
		}
		sessionID = NewSessionID()
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Get(sessionID)
	if errors.Is(err, store.ErrNotFound) {
		if !m.autoCreate {
			return nil, err
		}
		sess, err = m.store.Create(sessionID)
		if err != nil {
			return nil, err
		}
		created = true
		metrics.RecordSessionCreated()
	} else if err != nil {
		return nil, err
	}

	msg := store.Message{
		Role:    store.RoleUser,
		Content: content,
		Tokens:  window.EstimateMessageTokens(store.Message{Role: store.RoleUser, Content: content}),
	}
	sess, err = m.store.Append(sessionID, msg)
	if err != nil {
		return nil, err
	}

	var injections []window.Block
	if m.retrieval != nil && m.retrieval.LooksLikeReference(content) {
		matches, serr := m.retrieval.Search(sessionID, content)
		if serr != nil {
			m.logger.Warn().Str("session_id", sessionID).Err(serr).
				Msg("Retrieval search failed, continuing without injections")
		} else {
			injections = m.retrieval.Inject(matches, false)
		}
		metrics.RecordRetrieval(len(injections))
	}

	summaries, err := m.store.SessionArchives(sessionID)
	if err != nil {
		m.logger.Warn().Str("session_id", sessionID).Err(err).
			Msg("Failed to list archives, continuing without summaries")
		summaries = nil
	}

	blocks := window.BuildEffectiveContext(sess, summaries, injections)

	if m.maxTotalTokens > 0 && sess.TotalTokens > m.maxTotalTokens {
		m.logger.Warn().
			Str("session_id", sessionID).
			Int("total_tokens", sess.TotalTokens).
			Int("budget", m.maxTotalTokens).
			Msg("Session exceeded its lifetime token budget")
	}

	m.maybeArchive(sessionID)

	return &TurnResult{
		SessionID:    sessionID,
		Created:      created,
		Blocks:       blocks,
		ActiveTokens: sess.ActiveTokens,
		TotalTokens:  sess.TotalTokens,
		Injected:     len(injections),
	}, nil
}

// RecordReply records the assistant's reply for a turn.
func (m *Manager) RecordReply(ctx context.Context, sessionID, content string) error {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	msg := store.Message{
		Role:    store.RoleAssistant,
		Content: content,
		Tokens:  window.EstimateMessageTokens(store.Message{Role: store.RoleAssistant, Content: content}),
	}
	if _, err := m.store.Append(sessionID, msg); err != nil {
		return err
	}

	m.maybeArchive(sessionID)
	return nil
}

// Get loads a session.
func (m *Manager) Get(sessionID string) (*store.Session, error) {
	return m.store.Get(sessionID)
}

// List returns session summaries, most recently updated first.
func (m *Manager) List(limit int) ([]store.SessionSummary, error) {
	return m.store.List(limit)
}

// Archives returns a session's archive metadata, newest first.
func (m *Manager) Archives(sessionID string) ([]store.ArchiveInfo, error) {
	return m.store.SessionArchives(sessionID)
}

// GetArchive loads one archive record.
func (m *Manager) GetArchive(id string) (*store.Archive, error) {
	return m.store.GetArchive(id)
}

// Delete removes a session and everything it owns.
func (m *Manager) Delete(sessionID string) error {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.Delete(sessionID); err != nil {
		return err
	}
	metrics.RecordSessionDeleted()
	m.events.Publish(Event{Type: EventSessionDeleted, SessionID: sessionID})
	return nil
}

// Export builds a self-contained snapshot of a session.
func (m *Manager) Export(sessionID string, includeArchives bool) (*store.ExportRecord, error) {
	return m.store.Export(sessionID, includeArchives)
}

// Stats aggregates cache-wide counters.
func (m *Manager) Stats() (*store.Stats, error) {
	st, err := m.store.Stats()
	if err != nil {
		return nil, err
	}
	metrics.SetActiveSessions(st.SessionCount)
	return st, nil
}

// Health grades a session against the active ceiling and the lifetime
// budget: ok, warning above 70% of either, critical above 90%.
func (m *Manager) Health(sum store.SessionSummary) string {
	worst := float64(sum.ActiveTokens) / float64(m.planner.MaxActiveTokens())
	if m.maxTotalTokens > 0 {
		if pct := float64(sum.TotalTokens) / float64(m.maxTotalTokens); pct > worst {
			worst = pct
		}
	}

	switch {
	case worst > 0.9:
		return "critical"
	case worst > 0.7:
		return "warning"
	default:
		return "ok"
	}
}

// Close waits for in-flight archival work to finish.
func (m *Manager) Close() error {
	m.wg.Wait()
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "..."
}
