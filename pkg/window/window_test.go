package window

import (
	"testing"

	"github.com/rakha/ingat/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(tokens ...int) *store.Session {
	sess := &store.Session{ID: "s1"}
	for i, n := range tokens {
		sess.Messages = append(sess.Messages, store.Message{
			Role: store.RoleUser, Content: "m", Tokens: n, Seq: i + 1,
		})
		sess.ActiveTokens += n
	}
	sess.LastSeq = len(tokens)
	return sess
}

func TestNewPlanner_Validation(t *testing.T) {
	_, err := NewPlanner(0, 5, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewPlanner(-10, 5, zerolog.Nop())
	assert.Error(t, err)

	p, err := NewPlanner(100, 0, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultKeepRecent, p.keepRecent)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, 3, EstimateTokens("hello worlds"))

	msg := store.Message{Role: store.RoleUser, Content: "hello worlds"}
	assert.Equal(t, 4, EstimateMessageTokens(msg))
}

func TestEvaluate_NoActionBelowCeiling(t *testing.T) {
	p, err := NewPlanner(100, 1, zerolog.Nop())
	require.NoError(t, err)

	plan := p.Evaluate(testSession(40, 45))
	assert.False(t, plan.Archive)

	// Exactly at the ceiling does not trigger.
	plan = p.Evaluate(testSession(50, 50))
	assert.False(t, plan.Archive)
}

func TestEvaluate_ArchivalScenario(t *testing.T) {
	// MAX_ACTIVE_TOKENS=100, K=1; messages of 40, 45, 30 tokens.
	p, err := NewPlanner(100, 1, zerolog.Nop())
	require.NoError(t, err)

	sess := testSession(40, 45, 30)
	require.Equal(t, 115, sess.ActiveTokens)

	plan := p.Evaluate(sess)
	require.True(t, plan.Archive)
	assert.GreaterOrEqual(t, plan.PrefixLen, 1)
	assert.Less(t, plan.PrefixLen, len(sess.Messages), "most recent message stays active")
	assert.Less(t, sess.ActiveTokens-plan.PrefixTokens, 100)
}

func TestEvaluate_KeepRecentBoundsPrefix(t *testing.T) {
	p, err := NewPlanner(10, 3, zerolog.Nop())
	require.NoError(t, err)

	plan := p.Evaluate(testSession(5, 5, 5, 5, 5))
	require.True(t, plan.Archive)
	assert.LessOrEqual(t, plan.PrefixLen, 2)
	assert.GreaterOrEqual(t, plan.PrefixLen, 1)
}

func TestEvaluate_ProgressWhenOldestExceedsCeiling(t *testing.T) {
	p, err := NewPlanner(100, 1, zerolog.Nop())
	require.NoError(t, err)

	// Single oversized message: keepRecent would preserve it, but the
	// planner must still make progress.
	plan := p.Evaluate(testSession(500))
	require.True(t, plan.Archive)
	assert.Equal(t, 1, plan.PrefixLen)
	assert.Equal(t, 500, plan.PrefixTokens)
}

func TestEvaluate_EmptySession(t *testing.T) {
	p, err := NewPlanner(100, 1, zerolog.Nop())
	require.NoError(t, err)

	sess := &store.Session{ID: "s1", ActiveTokens: 200}
	plan := p.Evaluate(sess)
	assert.False(t, plan.Archive)
}

func TestForcePlan(t *testing.T) {
	p, err := NewPlanner(1000, 2, zerolog.Nop())
	require.NoError(t, err)

	// Retires everything outside the preserved tail even below the ceiling.
	plan := p.ForcePlan(testSession(10, 10, 10, 10, 10))
	require.True(t, plan.Archive)
	assert.Equal(t, 3, plan.PrefixLen)
	assert.Equal(t, 30, plan.PrefixTokens)

	// Nothing outside the tail: no action.
	plan = p.ForcePlan(testSession(10, 10))
	assert.False(t, plan.Archive)
}

func TestSummaryTarget(t *testing.T) {
	tests := []struct {
		name     string
		original int
		ratio    float64
		want     int
	}{
		{"clamped to minimum", 100, 0.2, 100},
		{"proportional", 1000, 0.2, 200},
		{"clamped to maximum", 100000, 0.2, 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SummaryTarget(tt.original, tt.ratio))
		})
	}
}

func TestBuildEffectiveContext(t *testing.T) {
	sess := testSession(10, 10)

	// SessionArchives order: newest first.
	summaries := []store.ArchiveInfo{
		{ID: "arc-new", Summary: "newer summary"},
		{ID: "arc-old", Summary: "older summary"},
	}
	injections := []Block{
		{Role: store.RoleSystem, Content: "retrieved", Source: "retrieved", ArchiveID: "arc-old"},
	}

	blocks := BuildEffectiveContext(sess, summaries, injections)
	require.Len(t, blocks, 5)

	// Summaries oldest-first, then active, then injections.
	assert.Equal(t, "arc-old", blocks[0].ArchiveID)
	assert.Equal(t, "arc-new", blocks[1].ArchiveID)
	assert.Equal(t, "active", blocks[2].Source)
	assert.Equal(t, "active", blocks[3].Source)
	assert.Equal(t, "retrieved", blocks[4].Source)
	assert.Contains(t, blocks[0].Content, "older summary")
}

func TestBuildEffectiveContext_NoArchives(t *testing.T) {
	sess := testSession(10)
	blocks := BuildEffectiveContext(sess, nil, nil)
	require.Len(t, blocks, 1)
	assert.Equal(t, "active", blocks[0].Source)
}
