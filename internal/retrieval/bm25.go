package retrieval

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// BM25 Okapi parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75

	memoryDocLimit       = 1000
	conversationDocLimit = 500
)

// LexicalHit is one BM25 search result with provenance.
type LexicalHit struct {
	Content string
	Score   float64
	DocID   string // "mem_<id>" or "conv_<id>"
}

// DocSource provides the records the lexical index is built from.
type DocSource interface {
	ActiveMemoryDocs(ctx context.Context, limit int) ([]Doc, error)
	ConversationDocs(ctx context.Context, limit int) ([]Doc, error)
}

// BM25Index is a lexical index over memory and conversation snippets.
// It is rebuilt on startup and on explicit request; rebuilds take the
// write lock, searches a read lock.
type BM25Index struct {
	mu     sync.RWMutex
	docs   []string
	ids    []string
	tokens [][]string
	df     map[string]int
	avgLen float64
	source DocSource
}

// NewBM25Index creates an empty index over the given source.
func NewBM25Index(source DocSource) *BM25Index {
	return &BM25Index{df: make(map[string]int), source: source}
}

// Tokenize lowercases, strips punctuation and drops tokens shorter than
// three runes.
func Tokenize(text string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	var out []string
	for _, w := range strings.Fields(b.String()) {
		if len([]rune(w)) > 2 {
			out = append(out, w)
		}
	}
	return out
}

// Rebuild reloads all documents from the source and reindexes.
// Idempotent for a fixed store snapshot.
func (idx *BM25Index) Rebuild(ctx context.Context) error {
	var docs []string
	var ids []string

	memories, err := idx.source.ActiveMemoryDocs(ctx, memoryDocLimit)
	if err != nil {
		slog.Warn("bm25: loading memories failed", "error", err)
	}
	for _, d := range memories {
		docs = append(docs, d.Content)
		ids = append(ids, d.ID)
	}

	convs, err := idx.source.ConversationDocs(ctx, conversationDocLimit)
	if err != nil {
		slog.Warn("bm25: loading conversations failed", "error", err)
	}
	for _, d := range convs {
		docs = append(docs, d.Content)
		ids = append(ids, d.ID)
	}

	tokens := make([][]string, len(docs))
	df := make(map[string]int)
	totalLen := 0
	for i, d := range docs {
		tokens[i] = Tokenize(d)
		totalLen += len(tokens[i])
		seen := make(map[string]struct{}, len(tokens[i]))
		for _, t := range tokens[i] {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				df[t]++
			}
		}
	}
	avgLen := 0.0
	if len(docs) > 0 {
		avgLen = float64(totalLen) / float64(len(docs))
	}

	idx.mu.Lock()
	idx.docs = docs
	idx.ids = ids
	idx.tokens = tokens
	idx.df = df
	idx.avgLen = avgLen
	idx.mu.Unlock()

	slog.Info("bm25 index rebuilt", "docs", len(docs))
	return nil
}

// Search returns the top-k documents with positive BM25 scores.
func (idx *BM25Index) Search(query string, k int) []LexicalHit {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil
	}

	scores := make([]float64, n)
	for _, qt := range queryTokens {
		df := idx.df[qt]
		if df == 0 {
			continue
		}
		idf := math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
		for i := range idx.tokens {
			tf := 0
			for _, t := range idx.tokens[i] {
				if t == qt {
					tf++
				}
			}
			if tf == 0 {
				continue
			}
			dl := float64(len(idx.tokens[i]))
			norm := float64(tf) * (bm25K1 + 1) / (float64(tf) + bm25K1*(1-bm25B+bm25B*dl/idx.avgLen))
			scores[i] += idf * norm
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	var hits []LexicalHit
	for _, i := range order {
		if scores[i] <= 0 {
			break
		}
		hits = append(hits, LexicalHit{Content: idx.docs[i], Score: scores[i], DocID: idx.ids[i]})
		if len(hits) >= k {
			break
		}
	}
	return hits
}

// DocCount reports the indexed document count (for /health).
func (idx *BM25Index) DocCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}
