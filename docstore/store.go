package docstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/sciflow/types"
)

// ScoredDocument pairs a stored document with its similarity score for
// a query, normalized to [0,1].
type ScoredDocument struct {
	Document types.Document `json:"document"`
	Score    float64        `json:"score"`
}

// DocumentStore is a content-addressable store with similarity search.
type DocumentStore interface {
	// Add stores a document and returns its ID. Adding a document
	// that already has an ID is idempotent on that ID.
	Add(ctx context.Context, doc types.Document) (string, error)

	// Query returns up to k documents most similar to the text,
	// highest score first.
	Query(ctx context.Context, text string, k int) ([]ScoredDocument, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)
}

// Embedder produces a dense vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// MemoryStore is an in-memory DocumentStore. With an Embedder it ranks
// by cosine similarity; without one it falls back to token overlap, so
// it works in tests and offline runs.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]types.Document
	vectors  map[string][]float64
	embedder Embedder
	logger   *zap.Logger
}

// NewMemoryStore creates an empty in-memory store. embedder may be nil.
func NewMemoryStore(embedder Embedder, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		docs:     make(map[string]types.Document),
		vectors:  make(map[string][]float64),
		embedder: embedder,
		logger:   logger.With(zap.String("component", "docstore")),
	}
}

// Add stores the document, embedding it when an embedder is configured.
func (s *MemoryStore) Add(ctx context.Context, doc types.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	var vec []float64
	if s.embedder != nil {
		var err error
		vec, err = s.embedder.Embed(ctx, doc.Content())
		if err != nil {
			return "", fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
	}

	s.mu.Lock()
	_, existed := s.docs[doc.ID]
	s.docs[doc.ID] = doc
	if vec != nil {
		s.vectors[doc.ID] = vec
	}
	total := len(s.docs)
	s.mu.Unlock()

	if !existed {
		s.logger.Debug("document added",
			zap.String("id", doc.ID),
			zap.Int("total", total),
		)
	}
	return doc.ID, nil
}

// Query ranks stored documents against the text.
func (s *MemoryStore) Query(ctx context.Context, text string, k int) ([]ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}

	var queryVec []float64
	if s.embedder != nil {
		var err error
		queryVec, err = s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}
	queryTokens := tokenize(text)

	s.mu.RLock()
	results := make([]ScoredDocument, 0, len(s.docs))
	for id, doc := range s.docs {
		var score float64
		if queryVec != nil {
			if vec, ok := s.vectors[id]; ok {
				score = cosineSimilarity(queryVec, vec)
			}
		} else {
			score = overlapScore(queryTokens, tokenize(doc.Content()))
		}
		if score <= 0 {
			continue
		}
		scored := doc
		scored.Score = score
		results = append(results, ScoredDocument{Document: scored, Score: score})
	}
	s.mu.RUnlock()

	// Stable ordering: score desc, then ID for ties.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of stored documents.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// Get returns a stored document by ID.
func (s *MemoryStore) Get(id string) (types.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	return doc, ok
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Map [-1,1] to [0,1] so scores compose with overlap scoring.
	return (sim + 1) / 2
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?()[]\"'")
		if len(token) > 2 {
			tokens[token] = struct{}{}
		}
	}
	return tokens
}

func overlapScore(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	matched := 0
	for token := range query {
		if _, ok := doc[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
