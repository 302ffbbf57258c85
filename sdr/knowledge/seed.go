package knowledge

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// SeedReport summarises one seeding run.
type SeedReport struct {
	Created bool // collection was missing and has been created
	Seeded  int
	Failed  int
}

// Seeder ensures the knowledge collection exists and, when it had to create
// it, fills it with the FAQ documents.
type Seeder struct {
	embedder    Embedder
	store       VectorStore
	collection  string
	dimension   int
	docs        []Document
	concurrency int
	logger      zerolog.Logger
}

func NewSeeder(embedder Embedder, store VectorStore, collection string, dimension int, docs []Document, concurrency int, logger zerolog.Logger) *Seeder {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Seeder{
		embedder:    embedder,
		store:       store,
		collection:  collection,
		dimension:   dimension,
		docs:        docs,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run is idempotent: an existing collection is left untouched. Documents
// that fail to embed are logged and skipped; their errors are joined into
// the returned error alongside the partial report.
func (s *Seeder) Run(ctx context.Context) (SeedReport, error) {
	var report SeedReport

	names, err := s.store.ListCollections(ctx)
	if err != nil {
		return report, fmt.Errorf("list collections: %w", err)
	}
	if slices.Contains(names, s.collection) {
		s.logger.Debug().Str("collection", s.collection).Msg("knowledge collection present, skipping seed")
		return report, nil
	}

	if err := s.store.CreateCollection(ctx, s.collection, s.dimension, DistanceCosine); err != nil {
		return report, fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	report.Created = true

	p := pool.NewWithResults[Point]().
		WithContext(ctx).
		WithMaxGoroutines(s.concurrency)
	for _, doc := range s.docs {
		p.Go(func(ctx context.Context) (Point, error) {
			vec, err := s.embedder.Embed(ctx, doc.Text)
			if err != nil {
				s.logger.Warn().Err(err).Str("category", doc.Category).Msg("failed to embed knowledge document")
				return Point{}, fmt.Errorf("embed %s: %w", doc.Category, err)
			}
			return Point{
				ID:     doc.ID,
				Vector: vec,
				Payload: map[string]string{
					PayloadText:     doc.Text,
					PayloadCategory: doc.Category,
				},
			}, nil
		})
	}
	points, embedErr := p.Wait()
	report.Failed = len(s.docs) - len(points)

	if len(points) > 0 {
		slices.SortFunc(points, func(a, b Point) int {
			switch {
			case a.ID < b.ID:
				return -1
			case a.ID > b.ID:
				return 1
			}
			return 0
		})
		if err := s.store.Upsert(ctx, s.collection, points); err != nil {
			report.Failed = len(s.docs)
			return report, fmt.Errorf("upsert knowledge documents: %w", err)
		}
		report.Seeded = len(points)
	}

	s.logger.Info().
		Str("collection", s.collection).
		Int("seeded", report.Seeded).
		Int("failed", report.Failed).
		Msg("knowledge collection seeded")

	return report, embedErr
}

// Start runs the seeder in the background. The channel yields exactly one
// value and is then closed; request serving never waits on it.
func (s *Seeder) Start(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		_, err := s.Run(ctx)
		errCh <- err
	}()
	return errCh
}
