package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// SearchChunks performs a dense similarity search over the knowledge collection.
// Zero results is a valid, non-error outcome.
func (c *Client) SearchChunks(ctx context.Context, collection string, req SearchRequest) ([]ScoredChunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	limit := req.MatchCount
	if limit == 0 {
		limit = 5
	}

	queryPoints := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(req.Vector),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if req.MatchThreshold > 0 {
		queryPoints.ScoreThreshold = qdrant.PtrOf(req.MatchThreshold)
	}

	if req.Category != "" {
		queryPoints.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				{
					ConditionOneOf: &qdrant.Condition_Field{
						Field: &qdrant.FieldCondition{
							Key: "category",
							Match: &qdrant.Match{
								MatchValue: &qdrant.Match_Keyword{
									Keyword: req.Category,
								},
							},
						},
					},
				},
			},
		}
	}

	results, err := c.client.Query(ctx, queryPoints)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	return scoredPointsToChunks(results), nil
}

// scoredPointsToChunks converts Qdrant scored points to ScoredChunks.
func scoredPointsToChunks(points []*qdrant.ScoredPoint) []ScoredChunk {
	chunks := make([]ScoredChunk, 0, len(points))

	for _, p := range points {
		var id string
		switch v := p.Id.PointIdOptions.(type) {
		case *qdrant.PointId_Uuid:
			id = v.Uuid
		case *qdrant.PointId_Num:
			id = fmt.Sprintf("%d", v.Num)
		}

		chunks = append(chunks, ScoredChunk{
			ID:      id,
			Score:   p.Score,
			Payload: extractPayload(p.Payload),
		})
	}

	return chunks
}

// extractPayload extracts ChunkPayload from a Qdrant payload map.
func extractPayload(payload map[string]*qdrant.Value) ChunkPayload {
	result := ChunkPayload{}

	result.DocumentTitle = getStringValue(payload, "document_title")
	result.Category = getStringValue(payload, "category")
	result.Content = getStringValue(payload, "content")
	result.ConfidencePercent = getIntValue(payload, "confidence_percent")
	result.SourceURL = getStringValue(payload, "source_url")

	if v := getStringValue(payload, "ingested_at"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			result.IngestedAt = t
		}
	}

	return result
}

func getStringValue(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return sv.StringValue
		}
	}
	return ""
}

func getIntValue(payload map[string]*qdrant.Value, key string) int {
	if v, ok := payload[key]; ok {
		if iv, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
			return int(iv.IntegerValue)
		}
	}
	return 0
}
