package retrieval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asesorlab/advisor/internal/cache"
	"github.com/asesorlab/advisor/internal/pkg/logger"
	"github.com/asesorlab/advisor/internal/qdrant"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeSearcher struct {
	calls   int
	results []qdrant.ScoredChunk
	err     error
	lastReq qdrant.SearchRequest
}

func (f *fakeSearcher) SearchChunks(_ context.Context, _ string, req qdrant.SearchRequest) ([]qdrant.ScoredChunk, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func newRetriever(emb *fakeEmbedder, s *fakeSearcher) *Retriever {
	c := cache.New[Result](time.Minute, 100)
	cfg := Config{Collection: "knowledge_chunks", MatchCount: 5, MatchThreshold: 0.4}
	return New(emb, s, c, cfg, logger.Default())
}

func scored(score float32) []qdrant.ScoredChunk {
	return []qdrant.ScoredChunk{
		{
			ID:    "c1",
			Score: score,
			Payload: qdrant.ChunkPayload{
				DocumentTitle:     "IVA trimestral",
				Category:          "fiscal",
				Content:           "El modelo 303 se presenta trimestralmente.",
				ConfidencePercent: 90,
			},
		},
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("  Cuándo  presento el IVA\t trimestral ")
	want := "cuándo presento el iva trimestral"
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestRetrieve_Basic(t *testing.T) {
	emb := &fakeEmbedder{}
	s := &fakeSearcher{results: scored(0.8)}
	r := newRetriever(emb, s)

	res := r.Retrieve(context.Background(), Query{Text: "cuándo presento el IVA", Category: "fiscal"})

	if res.CacheHit {
		t.Error("first call should not be a cache hit")
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(res.Chunks))
	}
	if res.Confidence != ConfidenceHigh {
		t.Errorf("Confidence = %s, want high", res.Confidence)
	}
	if s.lastReq.Category != "fiscal" {
		t.Errorf("search category = %q, want fiscal", s.lastReq.Category)
	}
}

func TestRetrieve_CacheIdempotence(t *testing.T) {
	emb := &fakeEmbedder{}
	s := &fakeSearcher{results: scored(0.8)}
	r := newRetriever(emb, s)

	q := Query{Text: "Cuándo presento el IVA"}
	first := r.Retrieve(context.Background(), q)
	// Same query with different surface whitespace/case hits the same key.
	second := r.Retrieve(context.Background(), Query{Text: "  cuándo PRESENTO el iva "})

	if first.CacheHit {
		t.Error("first call should miss")
	}
	if !second.CacheHit {
		t.Error("second call should hit the retrieval cache")
	}
	if emb.calls != 1 || s.calls != 1 {
		t.Errorf("embed calls = %d, search calls = %d; want 1 each", emb.calls, s.calls)
	}
	if len(second.Chunks) != 1 {
		t.Errorf("cached result lost chunks: %d", len(second.Chunks))
	}
}

func TestRetrieve_ConcurrentMissesShareOneFlight(t *testing.T) {
	emb := &blockingEmbedder{release: make(chan struct{})}
	s := &fakeSearcher{results: scored(0.8)}
	c := cache.New[Result](time.Minute, 100)
	r := New(emb, s, c, Config{Collection: "knowledge_chunks", MatchCount: 5}, logger.Default())

	const callers = 4
	var wg sync.WaitGroup
	results := make([]Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Retrieve(context.Background(), Query{Text: "cuota de autónomos"})
		}(i)
	}

	// Let all callers pile up behind the in-flight embed, then release it.
	time.Sleep(20 * time.Millisecond)
	close(emb.release)
	wg.Wait()

	if got := emb.calls.Load(); got != 1 {
		t.Errorf("embed calls = %d, want 1", got)
	}
	for i, res := range results {
		if len(res.Chunks) != 1 {
			t.Errorf("caller %d got %d chunks, want 1", i, len(res.Chunks))
		}
	}
}

type blockingEmbedder struct {
	calls   atomic.Int64
	release chan struct{}
}

func (b *blockingEmbedder) Embed(context.Context, string) ([]float32, error) {
	b.calls.Add(1)
	<-b.release
	return []float32{0.1, 0.2, 0.3}, nil
}

func TestRetrieve_CategoryChangesKey(t *testing.T) {
	emb := &fakeEmbedder{}
	s := &fakeSearcher{results: scored(0.8)}
	r := newRetriever(emb, s)

	r.Retrieve(context.Background(), Query{Text: "alta autónomo", Category: "fiscal"})
	res := r.Retrieve(context.Background(), Query{Text: "alta autónomo", Category: "labor"})

	if res.CacheHit {
		t.Error("different category must not share a cache entry")
	}
	if s.calls != 2 {
		t.Errorf("search calls = %d, want 2", s.calls)
	}
}

func TestRetrieve_EmbedFailureDegrades(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("embedding service down")}
	s := &fakeSearcher{}
	r := newRetriever(emb, s)

	res := r.Retrieve(context.Background(), Query{Text: "cuota de autónomos"})

	if len(res.Chunks) != 0 {
		t.Error("expected empty evidence on embed failure")
	}
	if res.Confidence != ConfidenceNone {
		t.Errorf("Confidence = %s, want none", res.Confidence)
	}
	if s.calls != 0 {
		t.Error("search should not be attempted when embedding fails")
	}
}

func TestRetrieve_SearchFailureDegrades(t *testing.T) {
	emb := &fakeEmbedder{}
	s := &fakeSearcher{err: errors.New("qdrant unavailable")}
	r := newRetriever(emb, s)

	res := r.Retrieve(context.Background(), Query{Text: "cuota de autónomos"})

	if len(res.Chunks) != 0 || res.Confidence != ConfidenceNone {
		t.Error("expected degraded empty result on search failure")
	}
}

func TestGrade(t *testing.T) {
	tests := []struct {
		name  string
		score float32
		empty bool
		want  GroundingConfidence
	}{
		{"high at threshold", 0.75, false, ConfidenceHigh},
		{"medium at threshold", 0.55, false, ConfidenceMedium},
		{"medium below high", 0.74, false, ConfidenceMedium},
		{"low", 0.10, false, ConfidenceLow},
		{"zero score", 0, false, ConfidenceNone},
		{"empty set", 0, true, ConfidenceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var chunks []Chunk
			if !tt.empty {
				chunks = []Chunk{{SimilarityScore: tt.score}}
			}
			if got := Grade(chunks); got != tt.want {
				t.Errorf("Grade() = %s, want %s", got, tt.want)
			}
		})
	}
}
