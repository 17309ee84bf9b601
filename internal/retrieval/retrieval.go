// Package retrieval turns a query into ranked, graded knowledge-base evidence.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asesorlab/advisor/internal/cache"
	"github.com/asesorlab/advisor/internal/llm"
	apperrors "github.com/asesorlab/advisor/internal/pkg/errors"
	"github.com/asesorlab/advisor/internal/pkg/hash"
	"github.com/asesorlab/advisor/internal/pkg/logger"
	"github.com/asesorlab/advisor/internal/qdrant"
)

// GroundingConfidence is a coarse bucket summarizing retrieval quality.
type GroundingConfidence string

const (
	ConfidenceHigh   GroundingConfidence = "high"
	ConfidenceMedium GroundingConfidence = "medium"
	ConfidenceLow    GroundingConfidence = "low"
	ConfidenceNone   GroundingConfidence = "none"
)

// Confidence thresholds over the top similarity score.
const (
	highThreshold   = 0.75
	mediumThreshold = 0.55
)

// Chunk is one piece of retrieved evidence, ordered by descending score.
type Chunk struct {
	ID                      string  `json:"id"`
	DocumentTitle           string  `json:"document_title"`
	Content                 string  `json:"content"`
	SimilarityScore         float32 `json:"similarity_score"`
	SourceConfidencePercent int     `json:"source_confidence_percent"`
	Category                string  `json:"category,omitempty"`
}

// Query is one retrieval request.
type Query struct {
	// Text is the raw query text; it is normalized before embedding.
	Text string

	// Category restricts retrieval to one specialist domain. Empty = unfiltered.
	Category string

	// MatchCount overrides the configured result count when > 0.
	MatchCount int

	// MatchThreshold overrides the configured similarity floor when > 0.
	MatchThreshold float64
}

// Result is the outcome of one retrieval, cache-aware.
type Result struct {
	Chunks     []Chunk
	Confidence GroundingConfidence
	CacheHit   bool
	EmbedMs    int64
	SearchMs   int64
}

// Searcher is the similarity-search boundary.
type Searcher interface {
	SearchChunks(ctx context.Context, collection string, req qdrant.SearchRequest) ([]qdrant.ScoredChunk, error)
}

// Config configures the retriever.
type Config struct {
	Collection     string
	MatchCount     int
	MatchThreshold float64
}

// Retriever embeds queries and searches the knowledge collection,
// caching results per normalized query.
type Retriever struct {
	embedder llm.Embedder
	searcher Searcher
	cache    *cache.TTLCache[Result]
	group    singleflight.Group
	cfg      Config
	log      *logger.Logger
}

// New creates a retriever.
func New(embedder llm.Embedder, searcher Searcher, c *cache.TTLCache[Result], cfg Config, log *logger.Logger) *Retriever {
	if cfg.MatchCount <= 0 {
		cfg.MatchCount = 5
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		cache:    c,
		cfg:      cfg,
		log:      log,
	}
}

// Normalize lowercases and collapses whitespace in a query.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Retrieve returns graded evidence for query. Embedding or search failure
// degrades to an empty evidence set; the caller falls back to the
// no-evidence path instead of failing the request.
func (r *Retriever) Retrieve(ctx context.Context, q Query) Result {
	normalized := Normalize(q.Text)

	matchCount := q.MatchCount
	if matchCount <= 0 {
		matchCount = r.cfg.MatchCount
	}
	threshold := q.MatchThreshold
	if threshold <= 0 {
		threshold = r.cfg.MatchThreshold
	}

	key := hash.Key(normalized, q.Category, fmt.Sprintf("%d", matchCount))

	if cached, ok := r.cache.Get(key); ok {
		cached.CacheHit = true
		cached.EmbedMs = 0
		cached.SearchMs = 0
		return cached
	}

	// Concurrent identical misses share one embed+search flight.
	v, _, shared := r.group.Do(key, func() (any, error) {
		return r.retrieve(ctx, normalized, q.Category, matchCount, threshold, key), nil
	})
	result := v.(Result)
	if shared {
		result.EmbedMs = 0
		result.SearchMs = 0
	}
	return result
}

func (r *Retriever) retrieve(ctx context.Context, normalized, category string, matchCount int, threshold float64, key string) Result {
	embedStart := time.Now()
	vector, err := r.embedder.Embed(ctx, normalized)
	embedMs := time.Since(embedStart).Milliseconds()
	if err != nil {
		r.log.Warn("Embedding failed, degrading to empty evidence",
			"code", apperrors.CodeRetrievalUnavailable, "error", err)
		return Result{Confidence: ConfidenceNone, EmbedMs: embedMs}
	}

	searchStart := time.Now()
	scored, err := r.searcher.SearchChunks(ctx, r.cfg.Collection, qdrant.SearchRequest{
		Vector:         vector,
		MatchThreshold: float32(threshold),
		MatchCount:     uint64(matchCount),
		Category:       category,
	})
	searchMs := time.Since(searchStart).Milliseconds()
	if err != nil {
		r.log.Warn("Similarity search failed, degrading to empty evidence",
			"code", apperrors.CodeRetrievalUnavailable, "error", err)
		return Result{Confidence: ConfidenceNone, EmbedMs: embedMs, SearchMs: searchMs}
	}

	chunks := make([]Chunk, 0, len(scored))
	for _, s := range scored {
		chunks = append(chunks, Chunk{
			ID:                      s.ID,
			DocumentTitle:           s.Payload.DocumentTitle,
			Content:                 s.Payload.Content,
			SimilarityScore:         s.Score,
			SourceConfidencePercent: s.Payload.ConfidencePercent,
			Category:                s.Payload.Category,
		})
	}

	result := Result{
		Chunks:     chunks,
		Confidence: Grade(chunks),
		EmbedMs:    embedMs,
		SearchMs:   searchMs,
	}

	r.cache.Set(key, result)

	return result
}

// Grade derives the grounding confidence bucket from the top similarity score.
func Grade(chunks []Chunk) GroundingConfidence {
	if len(chunks) == 0 {
		return ConfidenceNone
	}

	top := chunks[0].SimilarityScore
	switch {
	case top >= highThreshold:
		return ConfidenceHigh
	case top >= mediumThreshold:
		return ConfidenceMedium
	case top > 0:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}
