package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wishmasterff/animara/internal/retrieval"
	"github.com/wishmasterff/animara/internal/session"
)

func TestExtractFacts(t *testing.T) {
	tests := []struct {
		input    string
		wantKind string
		wantText string
	}{
		{"меня зовут Сергей", "fact", "Пользователя зовут сергей"},
		{"я живу в Москве", "fact", "Пользователь живёт в москве"},
		{"я работаю инженером", "fact", "Пользователь работает инженером"},
		{"я люблю кофе по утрам", "preference", "Пользователь любит кофе по утрам"},
		{"мне нравится джаз", "preference", "Пользователю нравится джаз"},
		{"мой проект называется анимара", "project", "Проект пользователя: называется анимара"},
		{"я занимаюсь робототехникой", "hobby", "Пользователь занимается робототехникой"},
		{"я увлекаюсь фотографией", "hobby", "Пользователь увлекается фотографией"},
		{"я умею паять платы", "skill", "Пользователь умеет паять платы"},
		{"я хочу выучить японский", "plan", "Пользователь хочет выучить японский"},
		{"я планирую поездку на Бали", "plan", "Пользователь планирует поездку на бали"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			facts := ExtractFacts(tt.input)
			require.NotEmpty(t, facts, "no facts extracted")
			assert.Equal(t, tt.wantKind, facts[0].Kind)
			assert.Equal(t, tt.wantText, facts[0].Content)
		})
	}
}

func TestExtractFactsNoMatch(t *testing.T) {
	assert.Empty(t, ExtractFacts("привет, как дела?"))
	assert.Empty(t, ExtractFacts("короткий"))
}

func TestExtractFactsStopsAtPunctuation(t *testing.T) {
	facts := ExtractFacts("я люблю кофе, а ещё чай")
	require.NotEmpty(t, facts)
	assert.Equal(t, "Пользователь любит кофе", facts[0].Content)
}

type fakeInserter struct {
	mu      sync.Mutex
	records []retrieval.MemoryRecord
}

func (f *fakeInserter) InsertMemory(ctx context.Context, rec retrieval.MemoryRecord, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.5}, nil
}

func newTestSessions() *session.Manager {
	return session.NewManager(session.Limits{
		MaxMessages:       20,
		Timeout:           time.Hour,
		PruneAfter:        3,
		PruneToolMaxChars: 200,
		FlushThreshold:    28000,
	})
}

func TestFactExtractorDedupe(t *testing.T) {
	store := &fakeInserter{}
	sessions := newTestSessions()
	sessions.GetOrCreate("owner")

	fe := NewFactExtractor(fakeEmbedder{}, store, sessions)

	fe.Mine(context.Background(), "owner", "я люблю кофе")
	fe.Mine(context.Background(), "owner", "я люблю кофе")

	assert.Len(t, store.records, 1, "identical fact inserted once per session")
	rec := store.records[0]
	assert.Equal(t, "owner", rec.CallerID)
	assert.Equal(t, "preference", rec.MemoryType)
	assert.Equal(t, 0.8, rec.Confidence)
	assert.True(t, rec.Active)
}
