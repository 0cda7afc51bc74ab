package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wishmasterff/animara/internal/mcp"
	"github.com/wishmasterff/animara/internal/memory"
	"github.com/wishmasterff/animara/internal/providers"
	"github.com/wishmasterff/animara/internal/retrieval"
	"github.com/wishmasterff/animara/internal/router"
	"github.com/wishmasterff/animara/internal/session"
	"github.com/wishmasterff/animara/internal/tools"
)

type emptyDocSource struct{}

func (emptyDocSource) ActiveMemoryDocs(ctx context.Context, limit int) ([]retrieval.Doc, error) {
	return nil, nil
}

func (emptyDocSource) ConversationDocs(ctx context.Context, limit int) ([]retrieval.Doc, error) {
	return nil, nil
}

type nilEmbedder struct{}

func (nilEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0}, nil
}

type nilVectorStore struct{}

func (nilVectorStore) SearchMemories(ctx context.Context, v []float32, c string, k int) ([]retrieval.Hit, error) {
	return nil, nil
}

func (nilVectorStore) SearchConversations(ctx context.Context, v []float32, c string, k int) ([]retrieval.Hit, error) {
	return nil, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	registry := tools.NewRegistry(time.Second, 8000)
	bm25 := retrieval.NewBM25Index(emptyDocSource{})
	require.NoError(t, bm25.Rebuild(context.Background()))

	workspace := memory.NewWorkspace(t.TempDir(), time.Minute)
	t.Cleanup(workspace.Close)

	sessions := session.NewManager(session.Limits{
		MaxMessages:       20,
		Timeout:           time.Hour,
		PruneAfter:        3,
		PruneToolMaxChars: 200,
		FlushThreshold:    28000,
	})

	deps := Deps{
		Sessions:        sessions,
		Workspace:       workspace,
		Registry:        registry,
		BM25:            bm25,
		Retriever:       retrieval.NewRetriever(nilEmbedder{}, nilVectorStore{}, bm25, "owner", 0.7, 0.3),
		Classifier:      router.NewClassifier(),
		MCP:             mcp.NewManager(registry, nil),
		Premium:         providers.NewPremiumProvider("", "", "gpt-4o-mini", time.Second),
		DefaultCallerID: "owner",
		SearchTopK:      5,
	}
	return NewServer("127.0.0.1", 0, "", 0, deps)
}

func (s *Server) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestNotInitializedReturns503(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"привет"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChatBadRequests(t *testing.T) {
	s := newTestServer(t)
	s.SetReady()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing messages", `{}`},
		{"empty messages", `{"messages":[]}`},
		{"empty user message", `{"messages":[{"role":"user","content":"   "}]}`},
		{"no user role", `{"messages":[{"role":"assistant","content":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/v1/chat/completions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	s.SetReady()

	rec := s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), "bm25_docs")
	assert.Contains(t, rec.Body.String(), "failed_servers")
}

func TestListTools(t *testing.T) {
	s := newTestServer(t)
	s.SetReady()

	rec := s.do(http.MethodGet, "/tools", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tools"`)
}

func TestWorkspaceWriteValidation(t *testing.T) {
	s := newTestServer(t)
	s.SetReady()

	rec := s.do(http.MethodPost, "/workspace/write", `{"content":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/workspace/write", `{"content":"заметка"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t)
	s.SetReady()

	rec := s.do(http.MethodGet, "/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/search?q=кофе", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthToken(t *testing.T) {
	s := newTestServer(t)
	s.authToken = "secret"
	s.SetReady()

	rec := s.do(http.MethodGet, "/tools", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	req.Header.Set("Authorization", "Bearer secret")
	out := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}

func TestGodmodeEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.SetReady()

	rec := s.do(http.MethodGet, "/godmode", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"client_initialized":false`)

	rec = s.do(http.MethodPost, "/godmode/model", `{"model":"gpt-4.1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/godmode", "")
	assert.Contains(t, rec.Body.String(), "gpt-4.1")
}
