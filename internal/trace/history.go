package trace

import (
	"context"
	"sync"
	"time"
)

// DataPoint is a single bucketed time-series value.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// History stores bucketed time-series data with bounded retention.
// Values recorded within the same bucket window are averaged when the
// bucket is finalized.
type History struct {
	mu          sync.Mutex
	buckets     []DataPoint
	bucketSize  time.Duration
	maxBuckets  int
	accumulator float64
	count       int64
	lastBucket  time.Time
	storage     *RedisStorage
	metricName  string
}

// NewHistory creates an in-memory history with the given bucket size
// and retention.
func NewHistory(bucketSize time.Duration, maxBuckets int) *History {
	return &History{
		buckets:    make([]DataPoint, 0, maxBuckets),
		bucketSize: bucketSize,
		maxBuckets: maxBuckets,
		lastBucket: time.Now().Truncate(bucketSize),
	}
}

// NewHistoryWithRedis creates a history that persists finalized buckets
// to Redis and seeds itself from previously stored points.
func NewHistoryWithRedis(bucketSize time.Duration, maxBuckets int, storage *RedisStorage, metricName string) *History {
	h := &History{
		buckets:    make([]DataPoint, 0, maxBuckets),
		bucketSize: bucketSize,
		maxBuckets: maxBuckets,
		lastBucket: time.Now().Truncate(bucketSize),
		storage:    storage,
		metricName: metricName,
	}

	if storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		since := time.Now().Add(-time.Duration(maxBuckets) * bucketSize)
		if points, err := storage.LoadHistory(ctx, metricName, since); err == nil && len(points) > 0 {
			h.buckets = points
		}
	}

	return h
}

// Record adds a value to the current bucket.
func (h *History) Record(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	currentBucket := time.Now().Truncate(h.bucketSize)
	if currentBucket.After(h.lastBucket) {
		h.finalizeBucket()
		h.lastBucket = currentBucket
	}

	h.accumulator += value
	h.count++
}

// RecordCount increments the current bucket, for rate metrics.
func (h *History) RecordCount() {
	h.Record(1)
}

// finalizeBucket averages and stores the current bucket.
// Must be called with the lock held.
func (h *History) finalizeBucket() {
	if h.count == 0 {
		return
	}

	dp := DataPoint{
		Timestamp: h.lastBucket,
		Value:     h.accumulator / float64(h.count),
	}
	h.buckets = append(h.buckets, dp)

	if h.storage != nil && h.metricName != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = h.storage.SaveDataPoint(ctx, h.metricName, dp)
		}()
	}

	if len(h.buckets) > h.maxBuckets {
		h.buckets = h.buckets[len(h.buckets)-h.maxBuckets:]
	}

	h.accumulator = 0
	h.count = 0
}

// Points returns the stored buckets plus the unflushed current bucket.
func (h *History) Points() []DataPoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]DataPoint, len(h.buckets))
	copy(result, h.buckets)

	if h.count > 0 {
		result = append(result, DataPoint{
			Timestamp: h.lastBucket,
			Value:     h.accumulator / float64(h.count),
		})
	}

	return result
}

// PointsSince returns buckets at or after the given time.
func (h *History) PointsSince(since time.Time) []DataPoint {
	all := h.Points()
	result := make([]DataPoint, 0, len(all))
	for _, dp := range all {
		if !dp.Timestamp.Before(since) {
			result = append(result, dp)
		}
	}
	return result
}

// TimeSeries groups the pipeline's charted histories.
type TimeSeries struct {
	AskRate          *History // Requests per 5-minute bucket
	AnswerLatency    *History // Average end-to-end ms per bucket
	RetrievalLatency *History // Average retrieval ms per bucket
}

// NewTimeSeries creates an in-memory time-series collection with
// 5-minute buckets and one hour of retention.
func NewTimeSeries() *TimeSeries {
	bucketSize := 5 * time.Minute
	maxBuckets := 12

	return &TimeSeries{
		AskRate:          NewHistory(bucketSize, maxBuckets),
		AnswerLatency:    NewHistory(bucketSize, maxBuckets),
		RetrievalLatency: NewHistory(bucketSize, maxBuckets),
	}
}

// NewTimeSeriesWithRedis creates a time-series collection persisted to
// Redis. Pass a nil storage for in-memory behavior.
func NewTimeSeriesWithRedis(storage *RedisStorage) *TimeSeries {
	bucketSize := 5 * time.Minute
	maxBuckets := 12

	return &TimeSeries{
		AskRate:          NewHistoryWithRedis(bucketSize, maxBuckets, storage, "ask_rate"),
		AnswerLatency:    NewHistoryWithRedis(bucketSize, maxBuckets, storage, "answer_latency"),
		RetrievalLatency: NewHistoryWithRedis(bucketSize, maxBuckets, storage, "retrieval_latency"),
	}
}

// RecordAsk records one completed request.
func (t *TimeSeries) RecordAsk(totalMs, retrievalMs float64) {
	t.AskRate.RecordCount()
	t.AnswerLatency.Record(totalMs)
	t.RetrievalLatency.Record(retrievalMs)
}
