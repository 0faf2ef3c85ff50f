// Package vectorindex defines the contract of the knowledge base vector index.
//
// Backends return failures as *toolerr.Error, so that callers only have to
// tag the stage that failed.
package vectorindex

import (
	"context"
	"fmt"
)

//go:generate mockgen -source=vectorindex.go -destination=../mocks/mockvectorindex/vectorindex_mock.gen.go -package mockvectorindex

// Metadata keys surfaced by the knowledge base search
const (
	MetadataText   = "text"
	MetadataSource = "source"
)

// QueryRequest is a similarity query.
type QueryRequest struct {
	Vector          []float32
	TopK            int
	IncludeMetadata bool
}

// Match is a single nearest neighbor, as ranked by the index.
type Match struct {
	ID       string         `json:"id" yaml:"id"`
	Score    float64        `json:"score" yaml:"score"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Text returns the metadata value for key as text.
func (m *Match) Text(key string) string {
	if m.Metadata == nil {
		return ""
	}
	switch v := m.Metadata[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Vector is a record to write to the index.
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Index is a similarity search index.
type Index interface {
	// Name returns the index or collection name.
	Name() string
	// Query returns at most TopK matches in descending score order.
	Query(ctx context.Context, req *QueryRequest) ([]Match, error)
}

// Writer writes records to the index.
type Writer interface {
	// Upsert inserts or replaces vectors and returns the number written.
	Upsert(ctx context.Context, vectors []Vector) (int, error)
}

// Provisioner creates the index when it does not exist.
type Provisioner interface {
	// EnsureIndex creates the index with the given dimension if it is
	// missing, and waits until it is ready. It returns true if the index
	// was created.
	EnsureIndex(ctx context.Context, dimension int) (bool, error)
}
