package retrieval

import (
	"regexp"
	"strings"
)

// stopwords are filtered out of keyword sets.
var stopwords = map[string]struct{}{
	"the": {}, "is": {}, "at": {}, "which": {}, "on": {}, "and": {},
	"or": {}, "but": {}, "in": {}, "with": {}, "to": {}, "for": {},
	"of": {}, "as": {}, "by": {}, "from": {}, "that": {}, "this": {},
	"it": {}, "we": {}, "you": {}, "can": {}, "could": {}, "would": {},
	"should": {}, "will": {}, "what": {}, "where": {}, "when": {},
	"why": {}, "how": {}, "please": {}, "thanks": {},
}

var wordPattern = regexp.MustCompile(`[a-z_][a-z0-9_]+`)

const (
	minKeywordLength = 3
	// maxQueryKeywords bounds the keyword set extracted from a single
	// query message.
	maxQueryKeywords = 10
)

// Keywords extracts a stopword-filtered, lowercase, order-preserving keyword
// set from text. Words shorter than three characters are dropped.
func Keywords(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	seen := make(map[string]struct{}, len(words))
	var out []string
	for _, w := range words {
		if len(w) < minKeywordLength {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// QueryKeywords is Keywords capped at maxQueryKeywords entries.
func QueryKeywords(text string) []string {
	kws := Keywords(text)
	if len(kws) > maxQueryKeywords {
		kws = kws[:maxQueryKeywords]
	}
	return kws
}
