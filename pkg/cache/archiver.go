package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rakha/ingat/internal/metrics"
	"github.com/rakha/ingat/pkg/retrieval"
	"github.com/rakha/ingat/pkg/store"
	"github.com/rakha/ingat/pkg/window"
)

// fallbackMessageChars caps each message's contribution to a fallback
// summary.
const fallbackMessageChars = 200

// maybeArchive evaluates the session's window off the request path. The
// spawned goroutine takes the session lock, so the evaluation sees the
// post-append state and any archival completes before the session's next
// mutation or evaluation.
func (m *Manager) maybeArchive(sessionID string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		lock := m.sessionLock(sessionID)
		lock.Lock()
		defer lock.Unlock()

		sess, err := m.store.Get(sessionID)
		if err != nil {
			// Deleted or corrupted since the turn; nothing to do here.
			m.logger.Debug().Str("session_id", sessionID).Err(err).
				Msg("Skipping archival evaluation")
			return
		}

		plan := m.planner.Evaluate(sess)
		if !plan.Archive {
			return
		}
		m.archive(sess, plan)
	}()
}

// ForceArchive retires everything outside the preserved tail regardless of
// the token ceiling. Returns the new archive's id, or ErrNoArchivable when
// the window has nothing to retire.
func (m *Manager) ForceArchive(sessionID string) (string, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Get(sessionID)
	if err != nil {
		return "", err
	}

	plan := m.planner.ForcePlan(sess)
	if !plan.Archive {
		return "", fmt.Errorf("session %s: %w", sessionID, ErrNoArchivable)
	}
	return m.archive(sess, plan)
}

// archive retires the planned prefix: summarize (with fallback), persist the
// archive record, then commit the window replacement. Caller holds the
// session lock.
func (m *Manager) archive(sess *store.Session, plan window.Plan) (string, error) {
	start := time.Now()

	prefix := make([]store.Message, plan.PrefixLen)
	copy(prefix, sess.Messages[:plan.PrefixLen])

	target := window.SummaryTarget(plan.PrefixTokens, m.summaryRatio)
	summary, fallback := m.summarize(prefix, target)

	summaryTokens := window.EstimateTokens(summary)
	if summaryTokens == 0 {
		summaryTokens = 1
	}

	var text strings.Builder
	for _, msg := range prefix {
		text.WriteString(msg.Content)
		text.WriteByte('\n')
	}

	archive := &store.Archive{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		Messages:       prefix,
		Summary:        summary,
		SummaryTokens:  summaryTokens,
		OriginalTokens: plan.PrefixTokens,
		Keywords:       retrieval.Keywords(text.String()),
	}

	if err := m.store.CreateArchive(archive); err != nil {
		// Window untouched; the next evaluation retries the archival.
		m.logger.Error().Str("session_id", sess.ID).Err(err).
			Msg("Failed to persist archive")
		return "", err
	}
	if _, err := m.store.ReplaceWindow(sess.ID, archive.ID, plan.PrefixLen, plan.PrefixTokens); err != nil {
		m.logger.Error().
			Str("session_id", sess.ID).
			Str("archive_id", archive.ID).
			Err(err).
			Msg("Failed to commit window replacement")
		return "", err
	}

	metrics.RecordArchive(plan.PrefixTokens, time.Since(start), fallback)
	m.events.Publish(Event{
		Type:      EventArchiveCreated,
		SessionID: sess.ID,
		ArchiveID: archive.ID,
		Fallback:  fallback,
	})

	m.logger.Info().
		Str("session_id", sess.ID).
		Str("archive_id", archive.ID).
		Int("messages", plan.PrefixLen).
		Int("original_tokens", plan.PrefixTokens).
		Bool("fallback", fallback).
		Dur("elapsed", time.Since(start)).
		Msg("Window archived")

	return archive.ID, nil
}

// summarize calls the summarizer and degrades to a truncated transcript when
// it fails or is absent. The second return reports the fallback.
func (m *Manager) summarize(prefix []store.Message, target int) (string, bool) {
	if m.summarizer != nil {
		summary, err := m.summarizer.Summarize(context.Background(), prefix, target)
		if err == nil {
			return summary, false
		}
		m.logger.Warn().Err(err).
			Msg("Summarization failed, falling back to truncated transcript")
	}
	return fallbackSummary(prefix, target), true
}

// fallbackSummary builds a degraded summary from the messages themselves:
// one truncated line per message, capped near the target token budget.
func fallbackSummary(prefix []store.Message, target int) string {
	var sb strings.Builder
	sb.WriteString("[Summary unavailable - truncated transcript]\n")
	for _, msg := range prefix {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", msg.Role, truncate(msg.Content, fallbackMessageChars)))
	}
	// ~4 chars per token keeps the fallback near the requested size.
	return truncate(strings.TrimSpace(sb.String()), target*4)
}
