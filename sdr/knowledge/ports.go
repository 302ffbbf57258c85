package knowledge

import (
	"context"
	"errors"
)

// Payload keys written by the seeder and read by the retriever.
const (
	PayloadText     = "text"
	PayloadCategory = "category"
)

var (
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrDimensionMismatch   = errors.New("vector dimension mismatch")
	ErrUnsupportedDistance = errors.New("unsupported distance metric")
)

// Distance is the similarity metric of a collection.
type Distance string

const (
	DistanceCosine Distance = "cosine"
	DistanceDot    Distance = "dot"
)

// Point is a vector with its payload.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]string
}

// ScoredPoint is a search hit; higher scores are more similar.
type ScoredPoint struct {
	ID      uint64
	Score   float32
	Payload map[string]string
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the nearest-neighbour backend.
type VectorStore interface {
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string, dimension int, distance Distance) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredPoint, error)
	Close() error
}

// Document is an FAQ entry before embedding.
type Document struct {
	ID       uint64
	Category string
	Text     string
}

// Hit is a retrieved snippet.
type Hit struct {
	Text     string
	Category string
	Score    float32
}
