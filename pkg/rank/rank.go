// Package rank scores candidate memories against a query vector and selects
// a bounded, mutually-diverse subset via Maximal Marginal Relevance (MMR).
//
// Scoring is tolerant by design: a stored memory with a missing or
// mismatched embedding is skipped and logged, never surfaced as an error,
// so a single malformed record cannot abort a whole retrieval.
package rank

import (
	"sort"

	"github.com/charmbracelet/log"
	"github.com/recallhq/recall-go/pkg/storage"
	"github.com/recallhq/recall-go/pkg/vectormath"
)

// Default operating parameters. The constants come from the tuning of the
// system this engine serves; they are starting points, not invariants, and
// every one of them is overridable through Params.
const (
	// DefaultRelevanceFloor is the minimum query similarity a candidate
	// needs to enter the rerank pool.
	DefaultRelevanceFloor = 0.25

	// DefaultPoolSize caps the candidate pool before MMR runs, to bound
	// the pairwise-similarity cost.
	DefaultPoolSize = 24

	// DefaultK is the MMR output size.
	DefaultK = 10

	// DefaultLambda is the MMR relevance/diversity trade-off. 0.7 favors
	// relevance but still penalizes redundancy.
	DefaultLambda = 0.7
)

// Params contains the tunable retrieval parameters.
type Params struct {
	// RelevanceFloor is the minimum query similarity for a candidate to
	// be considered at all.
	RelevanceFloor float64

	// PoolSize caps the candidate pool handed to the MMR stage.
	PoolSize int

	// K is the maximum number of memories the reranker returns.
	K int

	// Lambda weighs relevance against diversity in the MMR score,
	// 0 <= Lambda <= 1. 1 is pure relevance, 0 is pure diversity.
	Lambda float64
}

// DefaultParams returns the default retrieval parameters.
func DefaultParams() Params {
	return Params{
		RelevanceFloor: DefaultRelevanceFloor,
		PoolSize:       DefaultPoolSize,
		K:              DefaultK,
		Lambda:         DefaultLambda,
	}
}

// Scored pairs a memory with its query similarity.
type Scored struct {
	// Memory is the scored candidate.
	Memory *storage.Memory

	// Similarity is the cosine similarity against the query vector.
	Similarity float64
}

// Ranker scores and reranks candidate memories.
type Ranker struct {
	params Params
	logger *log.Logger
}

// NewRanker creates a Ranker with the given parameters.
//
// A nil logger falls back to log.Default(). Zero-value params fields are
// replaced with the package defaults.
func NewRanker(params Params, logger *log.Logger) *Ranker {
	if params.RelevanceFloor == 0 {
		params.RelevanceFloor = DefaultRelevanceFloor
	}
	if params.PoolSize <= 0 {
		params.PoolSize = DefaultPoolSize
	}
	if params.K <= 0 {
		params.K = DefaultK
	}
	if params.Lambda <= 0 || params.Lambda > 1 {
		params.Lambda = DefaultLambda
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Ranker{
		params: params,
		logger: logger,
	}
}

// Params returns the ranker's effective parameters.
func (r *Ranker) Params() Params {
	return r.params
}

// Score computes the query similarity for each candidate.
//
// Candidates with a missing embedding or one whose dimension does not match
// the query vector are skipped silently (logged at debug); they cannot be
// compared and must not abort the retrieval. No output order is guaranteed.
func (r *Ranker) Score(candidates []*storage.Memory, queryVector []float64) []Scored {
	scored := make([]Scored, 0, len(candidates))

	for _, candidate := range candidates {
		if len(candidate.Embedding) == 0 {
			r.logger.Debug("skipping candidate without embedding", "id", candidate.ID)
			continue
		}

		similarity, err := vectormath.CosineSimilarity(queryVector, candidate.Embedding)
		if err != nil {
			r.logger.Debug("skipping malformed candidate", "id", candidate.ID, "err", err)
			continue
		}

		scored = append(scored, Scored{Memory: candidate, Similarity: similarity})
	}

	return scored
}

// FilterFloor drops candidates below the relevance floor.
func (r *Ranker) FilterFloor(scored []Scored) []Scored {
	kept := make([]Scored, 0, len(scored))
	for _, s := range scored {
		if s.Similarity >= r.params.RelevanceFloor {
			kept = append(kept, s)
		}
	}
	return kept
}

// TakeTop sorts candidates by similarity descending and truncates to the
// ranker's pool size. It caps the cost of the pairwise comparisons the MMR
// stage performs.
func (r *Ranker) TakeTop(scored []Scored) []Scored {
	sorted := make([]Scored, len(scored))
	copy(sorted, scored)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Similarity > sorted[j].Similarity
	})

	if len(sorted) > r.params.PoolSize {
		sorted = sorted[:r.params.PoolSize]
	}

	return sorted
}

// Rerank selects up to K mutually-diverse candidates via Maximal Marginal
// Relevance.
//
// Each round picks the remaining candidate maximizing
//
//	mmr = lambda * sim(c, query) - (1 - lambda) * max_{s in selected} sim(c, s)
//
// with the diversity term 0 while nothing is selected yet. Ties break on
// higher raw query similarity, then on most-recently-updated. The result is
// in selection order: most relevant/diverse first. An empty pool returns an
// empty selection.
func (r *Ranker) Rerank(pool []Scored) []Scored {
	if len(pool) == 0 {
		return nil
	}

	remaining := make([]Scored, len(pool))
	copy(remaining, pool)

	selected := make([]Scored, 0, r.params.K)

	for len(selected) < r.params.K && len(remaining) > 0 {
		bestIdx := -1
		var bestScore float64

		for i, candidate := range remaining {
			score := r.params.Lambda*candidate.Similarity -
				(1-r.params.Lambda)*maxSimilarityTo(candidate.Memory, selected)

			if bestIdx == -1 || better(score, candidate, bestScore, remaining[bestIdx]) {
				bestIdx = i
				bestScore = score
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

// maxSimilarityTo returns the highest cosine similarity between the
// candidate and any already-selected memory. The result may be negative: a
// candidate anti-similar to everything selected so far earns a diversity
// bonus, not a zero penalty. Returns 0 when nothing is selected or no pair
// is comparable.
func maxSimilarityTo(candidate *storage.Memory, selected []Scored) float64 {
	var max float64
	found := false
	for _, s := range selected {
		sim, err := vectormath.CosineSimilarity(candidate.Embedding, s.Memory.Embedding)
		if err != nil {
			continue
		}
		if !found || sim > max {
			max = sim
			found = true
		}
	}
	return max
}

// better reports whether candidate a with MMR score scoreA beats the current
// best b with scoreB, applying the tie-break chain: MMR score, then raw
// query similarity, then most-recently-updated.
func better(scoreA float64, a Scored, scoreB float64, b Scored) bool {
	const eps = 1e-12

	if scoreA > scoreB+eps {
		return true
	}
	if scoreA < scoreB-eps {
		return false
	}
	if a.Similarity > b.Similarity+eps {
		return true
	}
	if a.Similarity < b.Similarity-eps {
		return false
	}
	return a.Memory.UpdatedAt.After(b.Memory.UpdatedAt)
}

// SortBySimilarity sorts a scored slice by similarity descending and
// truncates it to limit (no truncation when limit <= 0). Used by the direct
// search entry point, which bypasses MMR.
func SortBySimilarity(scored []Scored, limit int) []Scored {
	sorted := make([]Scored, len(scored))
	copy(sorted, scored)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Similarity != sorted[j].Similarity {
			return sorted[i].Similarity > sorted[j].Similarity
		}
		return sorted[i].Memory.UpdatedAt.After(sorted[j].Memory.UpdatedAt)
	})

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	return sorted
}
