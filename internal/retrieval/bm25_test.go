package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	memories      []Doc
	conversations []Doc
}

func (f *fakeSource) ActiveMemoryDocs(ctx context.Context, limit int) ([]Doc, error) {
	return f.memories, nil
}

func (f *fakeSource) ConversationDocs(ctx context.Context, limit int) ([]Doc, error) {
	return f.conversations, nil
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Пользователь любит кофе.", []string{"пользователь", "любит", "кофе"}},
		{"a bb ccc dddd", []string{"ccc", "dddd"}}, // tokens under 3 runes dropped
		{"Hello, World! 42", []string{"hello", "world"}},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Tokenize(tt.input), "input %q", tt.input)
	}
}

func TestBM25Search(t *testing.T) {
	src := &fakeSource{
		memories: []Doc{
			{ID: "mem_1", Content: "Пользователь любит кофе по утрам"},
			{ID: "mem_2", Content: "Пользователь живёт в Москве"},
			{ID: "mem_3", Content: "Проект пользователя про роботов"},
		},
		conversations: []Doc{
			{ID: "conv_1", Content: "обсуждали кофе и сорта арабики"},
		},
	}
	idx := NewBM25Index(src)
	require.NoError(t, idx.Rebuild(context.Background()))
	assert.Equal(t, 4, idx.DocCount())

	hits := idx.Search("кофе", 5)
	require.NotEmpty(t, hits)
	// Only documents mentioning the term score positive.
	for _, h := range hits {
		assert.Contains(t, h.Content, "кофе")
		assert.Greater(t, h.Score, 0.0)
	}
	// Descending order.
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
	// Provenance prefixes survive.
	assert.Contains(t, []string{"mem_1", "conv_1"}, hits[0].DocID)
}

func TestBM25RebuildIdempotent(t *testing.T) {
	src := &fakeSource{memories: []Doc{{ID: "mem_1", Content: "тестовый документ про память"}}}
	idx := NewBM25Index(src)

	require.NoError(t, idx.Rebuild(context.Background()))
	first := idx.Search("память", 5)
	require.NoError(t, idx.Rebuild(context.Background()))
	second := idx.Search("память", 5)

	assert.Equal(t, first, second)
}

func TestBM25EmptyIndex(t *testing.T) {
	idx := NewBM25Index(&fakeSource{})
	require.NoError(t, idx.Rebuild(context.Background()))
	assert.Nil(t, idx.Search("что-нибудь", 5))
	assert.Equal(t, 0, idx.DocCount())
}
