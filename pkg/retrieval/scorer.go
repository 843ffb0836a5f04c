package retrieval

// Scorer rates how relevant an archive's keyword set is to a query keyword
// set. Implementations return a score in [0, 1]. The strategy is pluggable
// so a semantic scorer can replace the lexical default without changing the
// engine's contract.
type Scorer interface {
	Score(queryKeywords, archiveKeywords []string) float64
}

// OverlapScorer scores by the overlap coefficient
// |query ∩ archive| / |query|, 0 when the query set is empty.
type OverlapScorer struct{}

// Score implements Scorer.
func (OverlapScorer) Score(queryKeywords, archiveKeywords []string) float64 {
	if len(queryKeywords) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(archiveKeywords))
	for _, kw := range archiveKeywords {
		set[kw] = struct{}{}
	}

	matched := 0
	for _, kw := range queryKeywords {
		if _, ok := set[kw]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryKeywords))
}
