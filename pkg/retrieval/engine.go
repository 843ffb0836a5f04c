package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rakha/ingat/pkg/store"
	"github.com/rakha/ingat/pkg/window"
	"github.com/rs/zerolog"
)

// DefaultReferencePhrases trigger retrieval when present in a message.
var DefaultReferencePhrases = []string{
	"remember", "earlier", "before", "previously", "ago",
	"past", "last time", "we discussed", "we talked about",
}

// DefaultMaxInjected bounds how many archives are surfaced per turn.
const DefaultMaxInjected = 3

// ArchiveIndex is the read-only slice of the store the engine needs.
type ArchiveIndex interface {
	SessionArchives(sessionID string) ([]store.ArchiveInfo, error)
	GetArchive(id string) (*store.Archive, error)
}

// Match pairs an archive with its relevance score.
type Match struct {
	Archive store.ArchiveInfo
	Score   float64
}

// Engine surfaces archived context relevant to the current turn.
type Engine struct {
	index       ArchiveIndex
	scorer      Scorer
	threshold   float64
	phrases     []string
	maxInjected int
	logger      zerolog.Logger
}

// Config holds engine configuration.
type Config struct {
	Index     ArchiveIndex
	Threshold float64
	// Scorer defaults to OverlapScorer.
	Scorer Scorer
	// Phrases defaults to DefaultReferencePhrases.
	Phrases     []string
	MaxInjected int
	Logger      zerolog.Logger
}

// NewEngine builds a retrieval engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("archive index is required")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("retrieval threshold must be in [0, 1], got %v", cfg.Threshold)
	}
	if cfg.Scorer == nil {
		cfg.Scorer = OverlapScorer{}
	}
	if len(cfg.Phrases) == 0 {
		cfg.Phrases = DefaultReferencePhrases
	}
	if cfg.MaxInjected <= 0 {
		cfg.MaxInjected = DefaultMaxInjected
	}

	return &Engine{
		index:       cfg.Index,
		scorer:      cfg.Scorer,
		threshold:   cfg.Threshold,
		phrases:     cfg.Phrases,
		maxInjected: cfg.MaxInjected,
		logger:      cfg.Logger,
	}, nil
}

// LooksLikeReference reports whether text appears to reference earlier
// conversation. Purely heuristic.
func (e *Engine) LooksLikeReference(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range e.phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Search scores every archive of the session against the query text and
// returns matches at or above the threshold, ordered score descending with
// ties broken by archive recency. Read-only.
func (e *Engine) Search(sessionID, query string) ([]Match, error) {
	queryKeywords := QueryKeywords(query)
	if len(queryKeywords) == 0 {
		return nil, nil
	}

	archives, err := e.index.SessionArchives(sessionID)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, info := range archives {
		score := e.scorer.Score(queryKeywords, info.Keywords)
		if score >= e.threshold {
			matches = append(matches, Match{Archive: info, Score: score})
		}
	}

	// SessionArchives is newest-first, so a stable sort by score keeps
	// recency as the tiebreaker.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > 0 {
		e.logger.Info().
			Str("session_id", sessionID).
			Int("matches", len(matches)).
			Float64("top_score", matches[0].Score).
			Msg("Relevant archives found")
	}

	return matches, nil
}

// Inject renders matches as transient context blocks: archive summaries by
// default, or the full retired content when full is set. At most
// maxInjected archives are surfaced.
func (e *Engine) Inject(matches []Match, full bool) []window.Block {
	if len(matches) > e.maxInjected {
		matches = matches[:e.maxInjected]
	}

	var blocks []window.Block
	for _, m := range matches {
		content := m.Archive.Summary
		if full {
			archive, err := e.index.GetArchive(m.Archive.ID)
			if err != nil {
				e.logger.Warn().
					Str("archive_id", m.Archive.ID).
					Err(err).
					Msg("Failed to load archive for full injection, using summary")
			} else {
				var sb strings.Builder
				for _, msg := range archive.Messages {
					sb.WriteString(fmt.Sprintf("[%s] %s\n", msg.Role, msg.Content))
				}
				content = sb.String()
			}
		}

		blocks = append(blocks, window.Block{
			Role:      store.RoleSystem,
			Content:   fmt.Sprintf("[RETRIEVED ARCHIVED CONTEXT - %s]\n\n%s", m.Archive.ID, content),
			Source:    "retrieved",
			ArchiveID: m.Archive.ID,
		})
	}
	return blocks
}
