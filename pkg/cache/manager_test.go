package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rakha/ingat/pkg/retrieval"
	"github.com/rakha/ingat/pkg/store"
	"github.com/rakha/ingat/pkg/window"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// summarizeFunc adapts a function to the Summarizer interface.
type summarizeFunc func(ctx context.Context, messages []store.Message, targetTokens int) (string, error)

func (f summarizeFunc) Summarize(ctx context.Context, messages []store.Message, targetTokens int) (string, error) {
	return f(ctx, messages, targetTokens)
}

var failingSummarizer = summarizeFunc(func(context.Context, []store.Message, int) (string, error) {
	return "", errors.New("collaborator unavailable")
})

func fixedSummarizer(summary string) Summarizer {
	return summarizeFunc(func(context.Context, []store.Message, int) (string, error) {
		return summary, nil
	})
}

type managerOptions struct {
	maxActiveTokens int
	keepRecent      int
	summarizer      Summarizer
	withRetrieval   bool
	maxTotalTokens  int
}

func newTestManager(t *testing.T, opts managerOptions) (*Manager, *store.Store) {
	t.Helper()

	if opts.maxActiveTokens <= 0 {
		opts.maxActiveTokens = 10000
	}
	if opts.keepRecent <= 0 {
		opts.keepRecent = 1
	}

	st, err := store.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	planner, err := window.NewPlanner(opts.maxActiveTokens, opts.keepRecent, zerolog.Nop())
	require.NoError(t, err)

	var engine *retrieval.Engine
	if opts.withRetrieval {
		engine, err = retrieval.NewEngine(retrieval.Config{
			Index:     st,
			Threshold: 0.6,
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)
	}

	m, err := NewManager(Config{
		Store:          st,
		Planner:        planner,
		Summarizer:     opts.summarizer,
		Retrieval:      engine,
		MaxTotalTokens: opts.maxTotalTokens,
		AutoCreate:     true,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return m, st
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{})
	assert.Error(t, err)
}

func TestHandleTurn_AutoCreates(t *testing.T) {
	m, _ := newTestManager(t, managerOptions{})

	res, err := m.HandleTurn(context.Background(), "", "hello there")
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.True(t, strings.HasPrefix(res.SessionID, "sess_"), "got %q", res.SessionID)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, store.RoleUser, res.Blocks[0].Role)
	assert.Equal(t, "active", res.Blocks[0].Source)
	assert.Positive(t, res.ActiveTokens)

	// Second turn reuses the session.
	res2, err := m.HandleTurn(context.Background(), res.SessionID, "and again")
	require.NoError(t, err)
	assert.False(t, res2.Created)
	assert.Len(t, res2.Blocks, 2)
}

func TestHandleTurn_EmptyContent(t *testing.T) {
	m, _ := newTestManager(t, managerOptions{})

	_, err := m.HandleTurn(context.Background(), "", "")
	assert.Error(t, err)
}

func TestRecordReply(t *testing.T) {
	m, st := newTestManager(t, managerOptions{})

	res, err := m.HandleTurn(context.Background(), "", "question")
	require.NoError(t, err)
	require.NoError(t, m.RecordReply(context.Background(), res.SessionID, "answer"))

	sess, err := st.Get(res.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, store.RoleAssistant, sess.Messages[1].Role)
	assert.Equal(t, 2, sess.LastSeq)
}

func TestDelete_Lifecycle(t *testing.T) {
	m, _ := newTestManager(t, managerOptions{})

	res, err := m.HandleTurn(context.Background(), "", "short lived")
	require.NoError(t, err)

	require.NoError(t, m.Delete(res.SessionID))

	_, err = m.Get(res.SessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = m.Delete(res.SessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// longContent builds a message worth roughly n tokens.
func longContent(n int) string {
	return strings.Repeat("word", n)
}

func TestArchival_Triggered(t *testing.T) {
	m, st := newTestManager(t, managerOptions{
		maxActiveTokens: 100,
		keepRecent:      1,
		summarizer:      fixedSummarizer("discussed project setup and fixed the build"),
	})

	res, err := m.HandleTurn(context.Background(), "", longContent(45))
	require.NoError(t, err)
	id := res.SessionID
	require.NoError(t, m.RecordReply(context.Background(), id, longContent(45)))

	// Third message pushes the window over the ceiling.
	_, err = m.HandleTurn(context.Background(), id, longContent(30))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	sess, err := st.Get(id)
	require.NoError(t, err)
	require.Len(t, sess.ArchiveIDs, 1)
	assert.LessOrEqual(t, sess.ActiveTokens, 100)

	archives, err := m.Archives(id)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, "discussed project setup and fixed the build", archives[0].Summary)
	assert.Positive(t, archives[0].SummaryTokens)

	// The next turn renders the summary ahead of the active window.
	res, err = m.HandleTurn(context.Background(), id, "ok")
	require.NoError(t, err)
	require.NotEmpty(t, res.Blocks)
	assert.Equal(t, "summary", res.Blocks[0].Source)
	assert.Contains(t, res.Blocks[0].Content, archives[0].ID)
}

func TestArchival_RoundTripPartition(t *testing.T) {
	m, st := newTestManager(t, managerOptions{
		maxActiveTokens: 100,
		keepRecent:      1,
		summarizer:      fixedSummarizer("summary"),
	})

	id := NewSessionID()
	total := 8
	for i := 0; i < total; i++ {
		_, err := m.HandleTurn(context.Background(), id, fmt.Sprintf("%02d %s", i, longContent(40)))
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	sess, err := st.Get(id)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ArchiveIDs)

	// Archived prefixes plus the active window reconstruct the full
	// sequence with no gaps and no duplicates.
	var seqs []int
	for _, archiveID := range sess.ArchiveIDs {
		a, err := st.GetArchive(archiveID)
		require.NoError(t, err)
		for _, msg := range a.Messages {
			seqs = append(seqs, msg.Seq)
		}
	}
	for _, msg := range sess.Messages {
		seqs = append(seqs, msg.Seq)
	}

	require.Len(t, seqs, total)
	for i, seq := range seqs {
		assert.Equal(t, i+1, seq)
	}
}

func TestArchival_FallbackOnSummarizerFailure(t *testing.T) {
	m, st := newTestManager(t, managerOptions{
		maxActiveTokens: 500,
		keepRecent:      1,
		summarizer:      failingSummarizer,
	})

	id := NewSessionID()
	// Two ~500-token messages put the window at ~1000 tokens.
	_, err := m.HandleTurn(context.Background(), id, "the database kept crashing "+longContent(490))
	require.NoError(t, err)
	require.NoError(t, m.RecordReply(context.Background(), id, "restarting fixed it "+longContent(490)))
	require.NoError(t, m.Close())

	archives, err := m.Archives(id)
	require.NoError(t, err)
	require.Len(t, archives, 1)

	// Archival succeeded with a degraded summary.
	assert.Contains(t, archives[0].Summary, "Summary unavailable")
	assert.Contains(t, archives[0].Summary, "database kept crashing")
	assert.Positive(t, archives[0].SummaryTokens)
	assert.Positive(t, archives[0].OriginalTokens)

	sess, err := st.Get(id)
	require.NoError(t, err)
	assert.LessOrEqual(t, sess.ActiveTokens, 500)
}

func TestForceArchive(t *testing.T) {
	m, _ := newTestManager(t, managerOptions{
		maxActiveTokens: 10000,
		keepRecent:      2,
		summarizer:      fixedSummarizer("forced"),
	})

	id := NewSessionID()
	for i := 0; i < 4; i++ {
		_, err := m.HandleTurn(context.Background(), id, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	archiveID, err := m.ForceArchive(id)
	require.NoError(t, err)

	a, err := m.GetArchive(archiveID)
	require.NoError(t, err)
	assert.Len(t, a.Messages, 2)

	sess, err := m.Get(id)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)

	// Only the preserved tail remains.
	_, err = m.ForceArchive(id)
	assert.ErrorIs(t, err, ErrNoArchivable)
}

func TestRetrieval_InjectsOnReference(t *testing.T) {
	m, _ := newTestManager(t, managerOptions{
		maxActiveTokens: 100,
		keepRecent:      1,
		summarizer:      fixedSummarizer("fixed a bug in session initialization"),
		withRetrieval:   true,
	})

	id := NewSessionID()
	_, err := m.HandleTurn(context.Background(), id,
		"there is a bug in session initialization "+longContent(40))
	require.NoError(t, err)
	require.NoError(t, m.RecordReply(context.Background(), id,
		"the bug was in session initialization ordering "+longContent(60)))
	require.NoError(t, m.Close())

	archives, err := m.Archives(id)
	require.NoError(t, err)
	require.NotEmpty(t, archives)

	res, err := m.HandleTurn(context.Background(), id,
		"remember that bug in session initialization")
	require.NoError(t, err)

	require.Positive(t, res.Injected)
	last := res.Blocks[len(res.Blocks)-1]
	assert.Equal(t, "retrieved", last.Source)
	assert.Contains(t, last.Content, "RETRIEVED ARCHIVED CONTEXT")

	// A plain turn injects nothing.
	res, err = m.HandleTurn(context.Background(), id, "thanks for the help")
	require.NoError(t, err)
	assert.Zero(t, res.Injected)
}

func TestCleanup(t *testing.T) {
	m, _ := newTestManager(t, managerOptions{})

	res1, err := m.HandleTurn(context.Background(), "", "first")
	require.NoError(t, err)
	res2, err := m.HandleTurn(context.Background(), "", "second")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	time.Sleep(5 * time.Millisecond)

	// Retention zero makes every idle session stale.
	deleted, err := m.Cleanup(0)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = m.Get(res1.SessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = m.Get(res2.SessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Idempotent: a second run finds nothing.
	deleted, err = m.Cleanup(0)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	_, err = m.Cleanup(-1)
	assert.Error(t, err)
}

func TestCleanup_SparesFreshSessions(t *testing.T) {
	m, _ := newTestManager(t, managerOptions{})

	res, err := m.HandleTurn(context.Background(), "", "still in use")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	deleted, err := m.Cleanup(30)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	_, err = m.Get(res.SessionID)
	assert.NoError(t, err)
}

func TestEvents_ArchiveAndDelete(t *testing.T) {
	m, _ := newTestManager(t, managerOptions{
		maxActiveTokens: 100,
		keepRecent:      1,
		summarizer:      failingSummarizer,
	})

	events, cancel := m.Events().Subscribe()
	defer cancel()

	id := NewSessionID()
	_, err := m.HandleTurn(context.Background(), id, longContent(60))
	require.NoError(t, err)
	require.NoError(t, m.RecordReply(context.Background(), id, longContent(60)))
	require.NoError(t, m.Close())

	select {
	case e := <-events:
		assert.Equal(t, EventArchiveCreated, e.Type)
		assert.Equal(t, id, e.SessionID)
		assert.NotEmpty(t, e.ArchiveID)
		assert.True(t, e.Fallback)
	case <-time.After(time.Second):
		t.Fatal("expected an archive event")
	}

	require.NoError(t, m.Delete(id))
	select {
	case e := <-events:
		assert.Equal(t, EventSessionDeleted, e.Type)
		assert.Equal(t, id, e.SessionID)
	case <-time.After(time.Second):
		t.Fatal("expected a delete event")
	}
}

func TestHealth(t *testing.T) {
	m, _ := newTestManager(t, managerOptions{
		maxActiveTokens: 1000,
		maxTotalTokens:  10000,
	})

	assert.Equal(t, "ok", m.Health(store.SessionSummary{ActiveTokens: 100, TotalTokens: 500}))
	assert.Equal(t, "warning", m.Health(store.SessionSummary{ActiveTokens: 800, TotalTokens: 500}))
	assert.Equal(t, "critical", m.Health(store.SessionSummary{ActiveTokens: 100, TotalTokens: 9500}))
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t, managerOptions{})

	_, err := m.HandleTurn(context.Background(), "", "alpha")
	require.NoError(t, err)
	_, err = m.HandleTurn(context.Background(), "", "beta")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	st, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.SessionCount)
	assert.Equal(t, 2, st.MessageCount)
	assert.Positive(t, st.StorageBytes)
}
