package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeVectorStore struct {
	memories      map[string][]Hit // keyed by caller
	conversations map[string][]Hit
}

func (f *fakeVectorStore) SearchMemories(ctx context.Context, vector []float32, callerID string, k int) ([]Hit, error) {
	return f.memories[callerID], nil
}

func (f *fakeVectorStore) SearchConversations(ctx context.Context, vector []float32, callerID string, k int) ([]Hit, error) {
	return f.conversations[callerID], nil
}

func newTestRetriever(t *testing.T, store *fakeVectorStore, lexDocs []Doc) *Retriever {
	t.Helper()
	idx := NewBM25Index(&fakeSource{memories: lexDocs})
	require.NoError(t, idx.Rebuild(context.Background()))
	return NewRetriever(fakeEmbedder{}, store, idx, "owner", 0.7, 0.3)
}

func TestShouldRetrieve(t *testing.T) {
	assert.True(t, ShouldRetrieve("что ты помнишь обо мне?"))
	assert.True(t, ShouldRetrieve("расскажи про вчера"))
	assert.True(t, ShouldRetrieve("когда мы встречались"))
	assert.False(t, ShouldRetrieve("привет"))
	assert.False(t, ShouldRetrieve("создай задачу купить молоко"))
	assert.False(t, ShouldRetrieve(""))
}

func TestHybridFusionOrdering(t *testing.T) {
	store := &fakeVectorStore{
		memories: map[string][]Hit{
			"owner": {
				{Content: "сильное совпадение", Score: 0.9},
				{Content: "слабое совпадение", Score: 0.2},
			},
		},
		conversations: map[string][]Hit{
			"owner": {
				// Same score as the strong memory, but conversations count
				// at half weight, so it must rank below it.
				{Content: "разговор о том же", Score: 0.9},
			},
		},
	}
	r := newTestRetriever(t, store, nil)

	results := r.Search(context.Background(), "что мы обсуждали?", "owner", 5)
	require.Len(t, results, 3)
	assert.Equal(t, "сильное совпадение", results[0])
	assert.Equal(t, "разговор о том же", results[1])
	assert.Equal(t, "слабое совпадение", results[2])
}

func TestHybridTopK(t *testing.T) {
	store := &fakeVectorStore{
		memories: map[string][]Hit{"owner": {
			{Content: "a", Score: 0.9},
			{Content: "b", Score: 0.8},
			{Content: "c", Score: 0.7},
		}},
	}
	r := newTestRetriever(t, store, nil)
	results := r.Search(context.Background(), "вопрос?", "owner", 2)
	assert.Len(t, results, 2)
}

func TestLexicalOwnerOnly(t *testing.T) {
	lexDocs := []Doc{{ID: "mem_1", Content: "секретная лексическая память про пароли"}}
	store := &fakeVectorStore{}
	r := newTestRetriever(t, store, lexDocs)

	// Owner gets the lexical hit.
	ownerResults := r.Search(context.Background(), "лексическая память?", "owner", 5)
	assert.NotEmpty(t, ownerResults)

	// Any other caller must not: no vector hits, lexical path skipped.
	guestResults := r.Search(context.Background(), "лексическая память?", "guest42", 5)
	assert.Empty(t, guestResults)
}

func TestHybridDeduplicatesByContent(t *testing.T) {
	lexDocs := []Doc{{ID: "mem_1", Content: "пользователь любит кофе"}}
	store := &fakeVectorStore{
		memories: map[string][]Hit{"owner": {
			{Content: "пользователь любит кофе", Score: 0.8},
		}},
	}
	r := newTestRetriever(t, store, lexDocs)

	results := r.Search(context.Background(), "кофе?", "owner", 5)
	assert.Len(t, results, 1, "vector and lexical hits with identical content fuse into one")
}
