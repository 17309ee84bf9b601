// Package qdrant provides a wrapper around the Qdrant Go client
// with simplified APIs for the advisor knowledge base.
package qdrant

import "time"

// CollectionConfig defines the configuration for the knowledge chunk collection.
type CollectionConfig struct {
	// Name is the collection name.
	Name string

	// VectorSize is the dimension of the dense embedding vectors.
	VectorSize uint64

	// OnDiskPayload stores payload on disk to save RAM.
	OnDiskPayload bool
}

// DefaultCollectionConfig returns sensible defaults for the knowledge collection.
func DefaultCollectionConfig(name string) CollectionConfig {
	return CollectionConfig{
		Name:          name,
		VectorSize:    768, // text-embedding-004
		OnDiskPayload: true,
	}
}

// ChunkPayload is the metadata stored with each knowledge chunk.
type ChunkPayload struct {
	// DocumentTitle is the title of the source document.
	DocumentTitle string `json:"document_title"`

	// Category is the advisory domain (fiscal, labor, market).
	Category string `json:"category"`

	// Content is the chunk text.
	Content string `json:"content"`

	// ConfidencePercent is the editorial confidence in the source (0-100).
	ConfidencePercent int `json:"confidence_percent"`

	// SourceURL is the origin of the document, when known.
	SourceURL string `json:"source_url,omitempty"`

	// IngestedAt is when the chunk entered the knowledge base.
	IngestedAt time.Time `json:"ingested_at"`
}

// SearchRequest defines parameters for a similarity search.
type SearchRequest struct {
	// Vector is the query embedding.
	Vector []float32

	// MatchThreshold drops results scoring below it.
	MatchThreshold float32

	// MatchCount is the maximum number of results.
	MatchCount uint64

	// Category restricts the search to one advisory domain. Empty = unfiltered.
	Category string
}

// ScoredChunk is one ranked similarity search result.
type ScoredChunk struct {
	ID      string
	Score   float32
	Payload ChunkPayload
}
