// Package fusion combines independently ranked candidate lists into a
// single ranking via Reciprocal Rank Fusion.
package fusion

import "sort"

// DefaultK is the RRF smoothing constant used unless a caller overrides it.
const DefaultK = 60

// Document is one candidate in a ranked list. Score carries the list's own
// notion of relevance (cosine similarity, BM25 score, ...) and is used only
// as a tie-breaker once RRF scores collide; it plays no role in the RRF sum
// itself. Payload carries whatever the caller wants attached to the result
// (chunk text, note title, ...) and is opaque to this package.
type Document struct {
	ID      int64
	Score   float64
	Payload any
}

// Result is a Document annotated with its fused score.
type Result struct {
	Document
	FusionScore float64
}

// Fuse applies N-ary Reciprocal Rank Fusion to lists, each ordered
// best-first. A document's score is the sum, over every list it appears in,
// of 1/(k+rank), where rank is its 1-based position in that list; lists it
// does not appear in contribute nothing (there is no synthetic "missing
// rank" term). k defaults to DefaultK when <= 0.
//
// An empty lists slice, or a slice of entirely empty lists, returns an
// empty (non-nil) result slice. A single list is passed straight through:
// its relative order is preserved because RRF score is a strictly
// decreasing function of rank within one list. Input documents are never
// mutated; fusion.Result values are newly allocated.
func Fuse(lists [][]Document, k int) []Result {
	if k <= 0 {
		k = DefaultK
	}

	scores := make(map[int64]float64)
	order := make([]int64, 0)
	seen := make(map[int64]Document)

	for _, list := range lists {
		for rank, d := range list {
			if _, ok := seen[d.ID]; !ok {
				seen[d.ID] = d
				order = append(order, d.ID)
			} else if existing := seen[d.ID]; d.Score > existing.Score {
				// Keep the highest original score seen for this id, purely
				// as tie-break material below; payload stays first-seen.
				existing.Score = d.Score
				seen[d.ID] = existing
			}
			scores[d.ID] += 1.0 / float64(k+rank+1)
		}
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		d := seen[id]
		results = append(results, Result{Document: d, FusionScore: scores[id]})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FusionScore != results[j].FusionScore {
			return results[i].FusionScore > results[j].FusionScore
		}
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	return results
}
