// Package retrieval implements the hybrid memory search: a Qdrant-backed
// vector store over the memories and conversations collections, a BM25
// lexical index rebuilt from the same records, and weighted score fusion.
package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField keeps the original record id in the payload: Qdrant only
// accepts UUIDs and unsigned integers as point ids.
const payloadIDField = "_original_id"

// MemoryRecord is a durable memory entry as stored in the vector DB.
type MemoryRecord struct {
	ID              string
	CallerID        string
	Content         string
	MemoryType      string
	Confidence      float64
	SourceSessionID string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Hit is one vector search result.
type Hit struct {
	Content string
	Score   float64
}

// Doc is a stored record surfaced for lexical indexing.
type Doc struct {
	ID      string
	Content string
}

// Store wraps the Qdrant client for the two collections the proxy depends on.
type Store struct {
	client        *qdrant.Client
	memories      string
	conversations string
	dimension     int
}

// NewStore connects to Qdrant and ensures both collections exist.
// The Go client speaks Qdrant's gRPC API (port 6334 by default). An API
// key may be passed as a query parameter: "http://host:6334?api_key=...".
func NewStore(dsn, memories, conversations string, dimensions int) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("qdrant requires dimensions > 0")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse vector DB DSN: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in vector DB DSN: %w", err)
	}

	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create Qdrant client: %w", err)
	}

	s := &Store{
		client:        client,
		memories:      memories,
		conversations: conversations,
		dimension:     dimensions,
	}
	ctx := context.Background()
	for _, col := range []string{memories, conversations} {
		if err := s.ensureCollection(ctx, col); err != nil {
			client.Close()
			return nil, fmt.Errorf("ensure collection %s: %w", col, err)
		}
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// InsertMemory upserts a memory record with its embedding.
func (s *Store) InsertMemory(ctx context.Context, rec MemoryRecord, vector []float32) error {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	pointID := id
	if _, err := uuid.Parse(pointID); err != nil {
		pointID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	}

	payload := map[string]any{
		"person_id":         rec.CallerID,
		"memory_type":       rec.MemoryType,
		"content":           rec.Content,
		"confidence":        rec.Confidence,
		"source_session_id": rec.SourceSessionID,
		"is_active":         rec.Active,
		"created_at":        rec.CreatedAt.Unix(),
		"updated_at":        rec.UpdatedAt.Unix(),
	}
	if pointID != id {
		payload[payloadIDField] = id
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.memories,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

// SearchMemories runs a similarity query over active memories of one caller.
func (s *Store) SearchMemories(ctx context.Context, vector []float32, callerID string, k int) ([]Hit, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatch("person_id", callerID),
		qdrant.NewMatchBool("is_active", true),
	}}
	return s.search(ctx, s.memories, vector, filter, k)
}

// SearchConversations runs a similarity query over one caller's conversations.
func (s *Store) SearchConversations(ctx context.Context, vector []float32, callerID string, k int) ([]Hit, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatch("person_id", callerID),
	}}
	return s.search(ctx, s.conversations, vector, filter, k)
}

func (s *Store) search(ctx context.Context, collection string, vector []float32, filter *qdrant.Filter, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		content := payloadString(p.Payload, "content")
		if content == "" {
			continue
		}
		// Cosine scores are already similarities; clamp to [0,1] the same
		// way a distance-based backend would convert with 1−distance.
		score := float64(p.Score)
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		hits = append(hits, Hit{Content: content, Score: score})
	}
	return hits, nil
}

// ActiveMemoryDocs scrolls active memory records for lexical indexing.
func (s *Store) ActiveMemoryDocs(ctx context.Context, limit int) ([]Doc, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatchBool("is_active", true),
	}}
	return s.scroll(ctx, s.memories, filter, limit, "mem_")
}

// ConversationDocs scrolls conversation records for lexical indexing.
func (s *Store) ConversationDocs(ctx context.Context, limit int) ([]Doc, error) {
	return s.scroll(ctx, s.conversations, nil, limit, "conv_")
}

func (s *Store) scroll(ctx context.Context, collection string, filter *qdrant.Filter, limit int, idPrefix string) ([]Doc, error) {
	if limit <= 0 {
		limit = 1000
	}
	lim := uint32(limit)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         filter,
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	docs := make([]Doc, 0, len(points))
	for _, p := range points {
		content := payloadString(p.Payload, "content")
		if content == "" {
			continue
		}
		id := payloadString(p.Payload, payloadIDField)
		if id == "" {
			id = p.Id.GetUuid()
		}
		docs = append(docs, Doc{ID: idPrefix + id, Content: content})
	}
	return docs, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// Collections returns the configured collection names (for /health).
func (s *Store) Collections() []string {
	return []string{s.memories, s.conversations}
}
