package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = []string{"trace", "debug", "info", "warn", "error"}

// Validate checks if the configuration is valid. Called once at startup;
// any error is fatal.
func (c *Config) Validate() error {
	if c.Cache.MaxActiveTokens <= 0 {
		return fmt.Errorf("cache.max_active_tokens must be positive, got %d", c.Cache.MaxActiveTokens)
	}
	if c.Cache.MaxTotalTokens != 0 && c.Cache.MaxTotalTokens < c.Cache.MaxActiveTokens {
		return fmt.Errorf("cache.max_total_tokens (%d) must be at least cache.max_active_tokens (%d)",
			c.Cache.MaxTotalTokens, c.Cache.MaxActiveTokens)
	}
	if c.Cache.SummaryRatio <= 0 || c.Cache.SummaryRatio >= 1 {
		return fmt.Errorf("cache.summary_ratio must be in (0, 1), got %v", c.Cache.SummaryRatio)
	}
	if c.Cache.PreserveRecent <= 0 {
		return fmt.Errorf("cache.preserve_recent must be positive, got %d", c.Cache.PreserveRecent)
	}
	if c.Cache.RetentionDays < 0 {
		return fmt.Errorf("cache.retention_days must be >= 0, got %d", c.Cache.RetentionDays)
	}

	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be in [0, 1], got %v", c.Retrieval.Threshold)
	}
	if c.Retrieval.MaxInjected <= 0 {
		return fmt.Errorf("retrieval.max_injected must be positive, got %d", c.Retrieval.MaxInjected)
	}

	if c.Summarizer.Endpoint != "" {
		u, err := url.Parse(c.Summarizer.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("summarizer.endpoint must be an http(s) URL, got %q", c.Summarizer.Endpoint)
		}
		if c.Summarizer.Model == "" {
			return fmt.Errorf("summarizer.model is required when summarizer.endpoint is set")
		}
	}
	if c.Summarizer.TimeoutSeconds < 0 {
		return fmt.Errorf("summarizer.timeout_seconds must be >= 0, got %d", c.Summarizer.TimeoutSeconds)
	}
	if c.Summarizer.Concurrency < 0 {
		return fmt.Errorf("summarizer.concurrency must be >= 0, got %d", c.Summarizer.Concurrency)
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be in (0, 65535], got %d", c.Gateway.Port)
	}

	levelOK := false
	for _, level := range validLogLevels {
		if c.Logging.Level == level {
			levelOK = true
			break
		}
	}
	if !levelOK {
		return fmt.Errorf("invalid logging.level %q (must be one of: %s)",
			c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	return nil
}
