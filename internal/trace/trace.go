// Package trace records per-request audit rows for the answer pipeline.
package trace

import (
	"sync"
	"time"
)

// Performance holds the per-stage timing and flag block of one request.
type Performance struct {
	TotalMs       int64 `json:"total_ms"`
	RoutingMs     int64 `json:"routing_ms"`
	RetrievalMs   int64 `json:"retrieval_ms"`
	EmbedMs       int64 `json:"embed_ms"`
	SearchMs      int64 `json:"search_ms"`
	LLMMs         int64 `json:"llm_ms"`
	LLMPrimaryMs  int64 `json:"llm_primary_ms"`
	LLMFallbackMs int64 `json:"llm_fallback_ms"`
	GuardMs       int64 `json:"guard_ms"`

	RetrievalCacheHit bool `json:"retrieval_cache_hit"`
	ResponseCacheHit  bool `json:"response_cache_hit"`
	UsedFallbackModel bool `json:"used_fallback_model"`
	GuardTriggered    bool `json:"guard_triggered"`
	GuardParseError   bool `json:"guard_parse_error"`
	ToolUsed          bool `json:"tool_used"`
}

// Record is one immutable audit row, created once per request.
type Record struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`

	Success             bool    `json:"success"`
	ErrorCode           string  `json:"error_code,omitempty"`
	Specialist          string  `json:"specialist"`
	RoutingConfidence   float64 `json:"routing_confidence"`
	GroundingConfidence string  `json:"grounding_confidence"`
	CitationCount       int     `json:"citation_count"`
	AlertCount          int     `json:"alert_count"`

	Performance Performance `json:"performance"`
}

// Recorder is a bounded, most-recent-first ring buffer of Records.
// Records are never mutated after insertion; once over capacity the
// oldest entry is evicted.
type Recorder struct {
	mu       sync.RWMutex
	records  []Record
	capacity int
}

// NewRecorder creates a recorder with the given capacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 100
	}
	return &Recorder{
		records:  make([]Record, 0, capacity),
		capacity: capacity,
	}
}

// Record appends rec, evicting the oldest entry when over capacity.
func (r *Recorder) Record(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)
	if len(r.records) > r.capacity {
		r.records = r.records[len(r.records)-r.capacity:]
	}
}

// List returns up to limit records, most recent first.
func (r *Recorder) List(limit int) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}

	out := make([]Record, 0, limit)
	for i := len(r.records) - 1; i >= len(r.records)-limit; i-- {
		out = append(out, r.records[i])
	}
	return out
}

// Len returns the current number of stored records.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Summary aggregates the most recent records. All fields are pure
// read-only aggregations.
type Summary struct {
	Count       int     `json:"count"`
	SuccessRate float64 `json:"success_rate"`

	AvgTotalMs     float64 `json:"avg_total_ms"`
	AvgRetrievalMs float64 `json:"avg_retrieval_ms"`
	AvgLLMMs       float64 `json:"avg_llm_ms"`

	// LowGroundingFraction is the share of answers with low or none
	// grounding confidence.
	LowGroundingFraction float64 `json:"low_grounding_fraction"`

	RetrievalCacheHits int `json:"retrieval_cache_hits"`
	ResponseCacheHits  int `json:"response_cache_hits"`
	ToolAnswers        int `json:"tool_answers"`
	FallbackAnswers    int `json:"fallback_answers"`
	GuardRewrites      int `json:"guard_rewrites"`
}

// Summarize computes a Summary over the most recent limit records.
func (r *Recorder) Summarize(limit int) Summary {
	recent := r.List(limit)

	s := Summary{Count: len(recent)}
	if s.Count == 0 {
		return s
	}

	var successes, lowGrounding int
	var totalMs, retrievalMs, llmMs int64

	for _, rec := range recent {
		if rec.Success {
			successes++
		}
		if rec.GroundingConfidence == "low" || rec.GroundingConfidence == "none" {
			lowGrounding++
		}

		totalMs += rec.Performance.TotalMs
		retrievalMs += rec.Performance.RetrievalMs
		llmMs += rec.Performance.LLMMs

		if rec.Performance.RetrievalCacheHit {
			s.RetrievalCacheHits++
		}
		if rec.Performance.ResponseCacheHit {
			s.ResponseCacheHits++
		}
		if rec.Performance.ToolUsed {
			s.ToolAnswers++
		}
		if rec.Performance.UsedFallbackModel {
			s.FallbackAnswers++
		}
		if rec.Performance.GuardTriggered {
			s.GuardRewrites++
		}
	}

	n := float64(s.Count)
	s.SuccessRate = float64(successes) / n
	s.AvgTotalMs = float64(totalMs) / n
	s.AvgRetrievalMs = float64(retrievalMs) / n
	s.AvgLLMMs = float64(llmMs) / n
	s.LowGroundingFraction = float64(lowGrounding) / n

	return s
}
