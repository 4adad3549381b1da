package searcher

import "github.com/docdex/docdex/pkg/types"

// confidence summarizes result-set quality as a value in [0,1] from the
// average score and the (capped) result count. The formula can rank many
// mediocre results above one excellent result; its constants live in
// configuration so that quirk is at least visible and tunable, never
// silently changed.
func confidence(scores []float64, total int, cfg types.RetrievalConfig) float64 {
	if len(scores) == 0 || total == 0 {
		return 0
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	avg := sum / float64(len(scores))

	countTerm := float64(total) / cfg.ConfidenceCountCap
	if countTerm > 1 {
		countTerm = 1
	}

	c := cfg.ConfidenceScoreWeight*avg + cfg.ConfidenceCountWeight*countTerm
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
