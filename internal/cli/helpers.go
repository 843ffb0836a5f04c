package cli

import (
	"fmt"
	"time"

	"github.com/rakha/ingat/internal/config"
	"github.com/rakha/ingat/pkg/cache"
	"github.com/rakha/ingat/pkg/retrieval"
	"github.com/rakha/ingat/pkg/store"
	"github.com/rakha/ingat/pkg/summarizer"
	"github.com/rakha/ingat/pkg/window"
	"github.com/rs/zerolog"
)

// loadConfig loads and validates the configuration, applying the global
// log-level override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openManager builds a cache manager over the configured store for one-shot
// commands. The caller must Close both returns.
func openManager(cfg *config.Config, logger zerolog.Logger) (*cache.Manager, *store.Store, error) {
	st, err := store.New(cfg.Cache.Dir, logger)
	if err != nil {
		return nil, nil, err
	}

	planner, err := window.NewPlanner(cfg.Cache.MaxActiveTokens, cfg.Cache.PreserveRecent, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	var sum cache.Summarizer
	if cfg.Summarizer.Endpoint != "" {
		s, err := summarizer.New(summarizer.Config{
			Endpoint:    cfg.Summarizer.Endpoint,
			Model:       cfg.Summarizer.Model,
			Timeout:     time.Duration(cfg.Summarizer.TimeoutSeconds) * time.Second,
			Concurrency: cfg.Summarizer.Concurrency,
			Logger:      logger,
		})
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		sum = s
	}

	var engine *retrieval.Engine
	if cfg.Retrieval.Enabled {
		engine, err = retrieval.NewEngine(retrieval.Config{
			Index:       st,
			Threshold:   cfg.Retrieval.Threshold,
			MaxInjected: cfg.Retrieval.MaxInjected,
			Logger:      logger,
		})
		if err != nil {
			st.Close()
			return nil, nil, err
		}
	}

	manager, err := cache.NewManager(cache.Config{
		Store:          st,
		Planner:        planner,
		Summarizer:     sum,
		Retrieval:      engine,
		SummaryRatio:   cfg.Cache.SummaryRatio,
		MaxTotalTokens: cfg.Cache.MaxTotalTokens,
		AutoCreate:     cfg.Cache.AutoCreateSessions,
		Logger:         logger,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	return manager, st, nil
}

// summaryOf builds the index-row view of a loaded session, for health
// grading.
func summaryOf(sess *store.Session) store.SessionSummary {
	return store.SessionSummary{
		ID:           sess.ID,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
		MessageCount: len(sess.Messages),
		ActiveTokens: sess.ActiveTokens,
		TotalTokens:  sess.TotalTokens,
		ArchiveCount: len(sess.ArchiveIDs),
	}
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
