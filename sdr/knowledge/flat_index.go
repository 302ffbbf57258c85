package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// FlatIndex is an in-memory brute-force VectorStore.
type FlatIndex struct {
	mu          sync.RWMutex
	collections map[string]*flatCollection
}

type flatCollection struct {
	dimension int
	distance  Distance
	points    map[uint64]Point
}

// NewFlatIndex creates an empty index.
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{collections: make(map[string]*flatCollection)}
}

func (f *FlatIndex) ListCollections(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.collections))
	for name := range f.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *FlatIndex) CreateCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	if !supportedDistance(distance) {
		return fmt.Errorf("%w: %s", ErrUnsupportedDistance, distance)
	}
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[name]; ok {
		return fmt.Errorf("collection %s already exists", name)
	}
	f.collections[name] = &flatCollection{
		dimension: dimension,
		distance:  distance,
		points:    make(map[uint64]Point),
	}
	return nil
}

func (f *FlatIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dimension, len(p.Vector))
		}
	}
	for _, p := range points {
		c.points[p.ID] = p
	}
	return nil
}

func (f *FlatIndex) Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredPoint, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, ok := f.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if len(vector) != c.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dimension, len(vector))
	}

	points := make([]Point, 0, len(c.points))
	for _, p := range c.points {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })

	return rank(c.distance, vector, points, topK), nil
}

func (f *FlatIndex) Close() error { return nil }

var _ VectorStore = (*FlatIndex)(nil)
