package window

import (
	"fmt"

	"github.com/rakha/ingat/pkg/store"
	"github.com/rs/zerolog"
)

const (
	// DefaultKeepRecent is the number of trailing messages preserved in the
	// active window for conversational continuity.
	DefaultKeepRecent = 5

	// DefaultLowWaterRatio is the fraction of the active ceiling the window
	// is reduced to when archival triggers.
	DefaultLowWaterRatio = 0.5
)

// Planner applies the archival trigger policy over a session's active window.
type Planner struct {
	maxActiveTokens int
	lowWaterTokens  int
	keepRecent      int
	logger          zerolog.Logger
}

// Plan is the outcome of an evaluation. A zero Plan means no action.
type Plan struct {
	Archive   bool
	PrefixLen int
	// PrefixTokens is the token sum of the prefix to retire.
	PrefixTokens int
}

// NewPlanner builds a planner. maxActiveTokens must be positive; keepRecent
// falls back to DefaultKeepRecent when non-positive.
func NewPlanner(maxActiveTokens, keepRecent int, logger zerolog.Logger) (*Planner, error) {
	if maxActiveTokens <= 0 {
		return nil, fmt.Errorf("max active tokens must be positive, got %d", maxActiveTokens)
	}
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}

	return &Planner{
		maxActiveTokens: maxActiveTokens,
		lowWaterTokens:  int(float64(maxActiveTokens) * DefaultLowWaterRatio),
		keepRecent:      keepRecent,
		logger:          logger,
	}, nil
}

// MaxActiveTokens returns the configured ceiling.
func (p *Planner) MaxActiveTokens() int {
	return p.maxActiveTokens
}

// EstimateTokens estimates the token cost of content (~4 characters per
// token, minimum 1 for non-empty content).
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	n := len(content) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateMessageTokens estimates content tokens plus per-message role
// overhead.
func EstimateMessageTokens(msg store.Message) int {
	return EstimateTokens(msg.Content) + 1
}

// Evaluate decides whether the session's active window must be partially
// retired, and how long the retired prefix should be. Walks oldest-first,
// stopping once the remaining active tokens would fall to or below the
// low-water target, while keeping the most recent keepRecent messages
// active. Always makes progress: a triggered plan retires at least one
// message even when the oldest message alone exceeds the ceiling.
func (p *Planner) Evaluate(sess *store.Session) Plan {
	if sess.ActiveTokens <= p.maxActiveTokens || len(sess.Messages) == 0 {
		return Plan{}
	}

	archivable := len(sess.Messages) - p.keepRecent
	if archivable <= 0 {
		// Nothing outside the preserved tail; retire the oldest message
		// anyway so the window cannot grow without bound.
		archivable = 1
	}

	remaining := sess.ActiveTokens
	prefixLen := 0
	prefixTokens := 0
	for i := 0; i < archivable; i++ {
		tokens := sess.Messages[i].Tokens
		remaining -= tokens
		prefixTokens += tokens
		prefixLen++
		if remaining <= p.lowWaterTokens {
			break
		}
	}

	p.logger.Info().
		Str("session_id", sess.ID).
		Int("active_tokens", sess.ActiveTokens).
		Int("ceiling", p.maxActiveTokens).
		Int("prefix_len", prefixLen).
		Int("prefix_tokens", prefixTokens).
		Msg("Archival triggered")

	return Plan{Archive: true, PrefixLen: prefixLen, PrefixTokens: prefixTokens}
}

// ForcePlan retires the whole window except the preserved tail regardless of
// the token ceiling. Used by operator-initiated archival. Returns a no-action
// plan when nothing lies outside the preserved tail.
func (p *Planner) ForcePlan(sess *store.Session) Plan {
	archivable := len(sess.Messages) - p.keepRecent
	if archivable <= 0 {
		return Plan{}
	}

	prefixTokens := 0
	for i := 0; i < archivable; i++ {
		prefixTokens += sess.Messages[i].Tokens
	}
	return Plan{Archive: true, PrefixLen: archivable, PrefixTokens: prefixTokens}
}

// SummaryTarget computes the summary length hint for an archive, clamped to
// a sane range.
func SummaryTarget(originalTokens int, ratio float64) int {
	const (
		minSummaryTokens = 100
		maxSummaryTokens = 2000
	)

	target := int(float64(originalTokens) * ratio)
	if target < minSummaryTokens {
		return minSummaryTokens
	}
	if target > maxSummaryTokens {
		return maxSummaryTokens
	}
	return target
}

// Block is one entry of the model-facing payload.
type Block struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Source tags where the block came from: "summary", "active", or
	// "retrieved". Retrieved blocks are transient and never persisted.
	Source string `json:"source,omitempty"`

	// ArchiveID is set for summary and retrieved blocks.
	ArchiveID string `json:"archive_id,omitempty"`
}

// BuildEffectiveContext assembles the payload handed to the translation
// layer: archive summaries oldest-first, then the live active window, then
// any retrieval injections.
func BuildEffectiveContext(sess *store.Session, summaries []store.ArchiveInfo, injections []Block) []Block {
	blocks := make([]Block, 0, len(summaries)+len(sess.Messages)+len(injections))

	// SessionArchives returns newest-first; render oldest-first so earlier
	// context precedes later context.
	for i := len(summaries) - 1; i >= 0; i-- {
		info := summaries[i]
		blocks = append(blocks, Block{
			Role:      store.RoleSystem,
			Content:   fmt.Sprintf("[ARCHIVED CONTEXT - %s]\n\n%s", info.ID, info.Summary),
			Source:    "summary",
			ArchiveID: info.ID,
		})
	}

	for _, msg := range sess.Messages {
		blocks = append(blocks, Block{Role: msg.Role, Content: msg.Content, Source: "active"})
	}

	blocks = append(blocks, injections...)
	return blocks
}
