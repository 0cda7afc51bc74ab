package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// VectorSearcher is the dense half of the hybrid retriever.
type VectorSearcher interface {
	SearchMemories(ctx context.Context, vector []float32, callerID string, k int) ([]Hit, error)
	SearchConversations(ctx context.Context, vector []float32, callerID string, k int) ([]Hit, error)
}

// Retriever fuses dense and lexical search over the memory stores.
// It is side-effect-free: searches never write.
type Retriever struct {
	embedder     Embedder
	store        VectorSearcher
	bm25         *BM25Index
	ownerID      string
	vectorWeight float64
	bm25Weight   float64
}

// NewRetriever wires the hybrid retriever.
func NewRetriever(embedder Embedder, store VectorSearcher, bm25 *BM25Index, ownerID string, vectorWeight, bm25Weight float64) *Retriever {
	return &Retriever{
		embedder:     embedder,
		store:        store,
		bm25:         bm25,
		ownerID:      ownerID,
		vectorWeight: vectorWeight,
		bm25Weight:   bm25Weight,
	}
}

// interrogatives gate retrieval: only question-like turns hit the stores.
var interrogatives = []string{"что", "как", "где", "когда", "помнишь", "знаешь", "расскажи"}

// ShouldRetrieve reports whether the user turn warrants memory retrieval.
func ShouldRetrieve(text string) bool {
	if text == "" {
		return false
	}
	if strings.Contains(text, "?") {
		return true
	}
	lower := strings.ToLower(text)
	for _, w := range interrogatives {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Search returns the top-k memory contents by fused score, descending.
// Vector hits from conversations count at half weight; the lexical path
// runs only for the owner so substring recall over the owner's memory
// never leaks to other callers.
func (r *Retriever) Search(ctx context.Context, query, callerID string, k int) []string {
	scores := make(map[string]float64)

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("hybrid search: embedding failed", "error", err)
	} else {
		if hits, err := r.store.SearchMemories(ctx, vector, callerID, k); err != nil {
			slog.Warn("hybrid search: memories query failed", "error", err)
		} else {
			for _, h := range hits {
				scores[h.Content] += h.Score * r.vectorWeight
			}
		}
		if hits, err := r.store.SearchConversations(ctx, vector, callerID, k); err != nil {
			slog.Warn("hybrid search: conversations query failed", "error", err)
		} else {
			for _, h := range hits {
				scores[h.Content] += h.Score * r.vectorWeight * 0.5
			}
		}
	}

	if callerID == r.ownerID && r.bm25 != nil {
		lexical := r.bm25.Search(query, k*2)
		if len(lexical) > 0 {
			maxScore := lexical[0].Score
			for _, h := range lexical {
				if h.Score > maxScore {
					maxScore = h.Score
				}
			}
			for _, h := range lexical {
				if maxScore > 0 {
					scores[h.Content] += h.Score / maxScore * r.bm25Weight
				}
			}
		}
	}

	type scored struct {
		content string
		score   float64
	}
	ranked := make([]scored, 0, len(scores))
	for content, score := range scores {
		ranked = append(ranked, scored{content, score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]string, 0, k)
	for _, s := range ranked {
		out = append(out, s.content)
		if len(out) >= k {
			break
		}
	}
	return out
}
