package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/config"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/db"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder maps known texts to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
	calls   atomic.Int32
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.embedFn != nil {
		return e.embedFn(ctx, text)
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

// failingStore fails every call.
type failingStore struct{}

func (failingStore) ListCollections(context.Context) ([]string, error) {
	return nil, errors.New("unreachable")
}
func (failingStore) CreateCollection(context.Context, string, int, Distance) error {
	return errors.New("unreachable")
}
func (failingStore) Upsert(context.Context, string, []Point) error { return errors.New("unreachable") }
func (failingStore) Search(context.Context, string, []float32, int) ([]ScoredPoint, error) {
	return nil, errors.New("unreachable")
}
func (failingStore) Close() error { return nil }

func seededIndex(t *testing.T) *FlatIndex {
	t.Helper()
	ctx := context.Background()
	idx := NewFlatIndex()
	require.NoError(t, idx.CreateCollection(ctx, "faq", 3, DistanceCosine))
	require.NoError(t, idx.Upsert(ctx, "faq", []Point{
		{ID: 1, Vector: []float32{1, 0, 0}, Payload: map[string]string{PayloadText: "hours", PayloadCategory: "hours"}},
		{ID: 2, Vector: []float32{0.9, 0.1, 0}, Payload: map[string]string{PayloadText: "units", PayloadCategory: "units"}},
		{ID: 3, Vector: []float32{0.6, 0.8, 0}, Payload: map[string]string{PayloadText: "insurance", PayloadCategory: "insurance"}},
		{ID: 4, Vector: []float32{0, 1, 0}, Payload: map[string]string{PayloadText: "documents", PayloadCategory: "documents"}},
	}))
	return idx
}

func TestRetriever_SearchFiltersAndOrders(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"when are you open": {1, 0, 0}}}
	r := NewRetriever(embedder, seededIndex(t), nil, RetrieverConfig{Collection: "faq", Threshold: 0.70}, zerolog.Nop())

	// cosine: hours 1.0, units ~0.994, insurance 0.6, documents 0
	got := r.Search(context.Background(), "when are you open", 3)
	assert.Equal(t, []string{"hours", "units"}, got)

	got = r.Search(context.Background(), "when are you open", 1)
	assert.Equal(t, []string{"hours"}, got)
}

func TestRetriever_EmptyQuery(t *testing.T) {
	embedder := &stubEmbedder{}
	r := NewRetriever(embedder, seededIndex(t), nil, RetrieverConfig{Collection: "faq"}, zerolog.Nop())

	assert.Empty(t, r.Search(context.Background(), "   ", 3))
	assert.Equal(t, int32(0), embedder.calls.Load())
}

func TestRetriever_DegradesOnEmbedFailure(t *testing.T) {
	embedder := &stubEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding service down")
	}}
	r := NewRetriever(embedder, seededIndex(t), nil, RetrieverConfig{Collection: "faq"}, zerolog.Nop())

	got := r.Search(context.Background(), "hello", 3)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetriever_DegradesOnStoreFailure(t *testing.T) {
	r := NewRetriever(&stubEmbedder{}, failingStore{}, nil, RetrieverConfig{Collection: "faq"}, zerolog.Nop())
	assert.Empty(t, r.Search(context.Background(), "hello", 3))

	missing := NewRetriever(&stubEmbedder{}, NewFlatIndex(), nil, RetrieverConfig{Collection: "faq"}, zerolog.Nop())
	assert.Empty(t, missing.Search(context.Background(), "hello", 3))
}

func TestRetriever_TimeoutDegrades(t *testing.T) {
	embedder := &stubEmbedder{embedFn: func(ctx context.Context, _ string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := NewRetriever(embedder, seededIndex(t), nil, RetrieverConfig{Collection: "faq", Timeout: 20 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	assert.Empty(t, r.Search(context.Background(), "hello", 3))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetriever_CancelledCallerDoesNotSinkSharedSearch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	embedder := &stubEmbedder{embedFn: func(ctx context.Context, _ string) ([]float32, error) {
		started <- struct{}{}
		select {
		case <-release:
			return []float32{1, 0, 0}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	r := NewRetriever(embedder, seededIndex(t), nil, RetrieverConfig{Collection: "faq", Timeout: 5 * time.Second}, zerolog.Nop())

	ctxA, cancelA := context.WithCancel(context.Background())
	gotA := make(chan []string, 1)
	go func() { gotA <- r.Search(ctxA, "when are you open", 3) }()
	<-started

	gotB := make(chan []string, 1)
	go func() { gotB <- r.Search(context.Background(), "when are you open", 3) }()
	// let B join the in-flight search before A goes away
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.Empty(t, <-gotA)

	close(release)
	select {
	case got := <-gotB:
		assert.Equal(t, []string{"hours", "units"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, int32(1), embedder.calls.Load())
}

func TestRetriever_CachesQueryEmbeddings(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"hours?": {1, 0, 0}}}
	cache := newMapCache()
	r := NewRetriever(embedder, seededIndex(t), cache, RetrieverConfig{Collection: "faq", CacheTTLSeconds: 60}, zerolog.Nop())

	first := r.Search(context.Background(), "hours?", 2)
	second := r.Search(context.Background(), "hours?", 2)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), embedder.calls.Load())
}

func TestSeeder_CreatesAndSeedsOnce(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatIndex()
	embedder := &stubEmbedder{embedFn: func(_ context.Context, text string) ([]float32, error) {
		return []float32{float32(len(text)), 1, 0}, nil
	}}
	docs := DefaultDocuments()
	seeder := NewSeeder(embedder, idx, "clinic_knowledge", 3, docs, 3, zerolog.Nop())

	report, err := seeder.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Created)
	assert.Equal(t, len(docs), report.Seeded)
	assert.Zero(t, report.Failed)

	hits, err := idx.Search(ctx, "clinic_knowledge", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, len(docs))
	for _, h := range hits {
		assert.NotEmpty(t, h.Payload[PayloadText])
		assert.NotEmpty(t, h.Payload[PayloadCategory])
	}

	// second run sees the collection and leaves it alone
	calls := embedder.calls.Load()
	report, err = seeder.Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Created)
	assert.Equal(t, calls, embedder.calls.Load())
}

func TestSeeder_PartialFailure(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatIndex()
	embedder := &stubEmbedder{embedFn: func(_ context.Context, text string) ([]float32, error) {
		if text == DefaultDocuments()[1].Text {
			return nil, errors.New("rate limited")
		}
		return []float32{1, 0, 0}, nil
	}}
	seeder := NewSeeder(embedder, idx, "faq", 3, DefaultDocuments(), 2, zerolog.Nop())

	report, err := seeder.Run(ctx)
	assert.Error(t, err)
	assert.True(t, report.Created)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, len(DefaultDocuments())-1, report.Seeded)
}

func TestSeeder_StartReportsOnChannel(t *testing.T) {
	seeder := NewSeeder(&stubEmbedder{}, failingStore{}, "faq", 3, DefaultDocuments(), 1, zerolog.Nop())

	errCh := seeder.Start(context.Background())
	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("seeder did not report")
	}
}

func TestFlatIndex_Validation(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatIndex()

	assert.ErrorIs(t, idx.CreateCollection(ctx, "x", 3, Distance("euclid")), ErrUnsupportedDistance)
	require.NoError(t, idx.CreateCollection(ctx, "x", 3, DistanceCosine))
	assert.Error(t, idx.CreateCollection(ctx, "x", 3, DistanceCosine))

	err := idx.Upsert(ctx, "x", []Point{{ID: 1, Vector: []float32{1, 2}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Search(ctx, "nope", []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	names, err := idx.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, names)
}

func TestNewVectorStore_Backends(t *testing.T) {
	store, err := NewVectorStore(context.Background(), config.KnowledgeConfig{Backend: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &FlatIndex{}, store)

	_, err = NewVectorStore(context.Background(), config.KnowledgeConfig{Backend: "pinecone"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestLibSQLStore_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping libsql integration test in short mode")
	}
	ctx := context.Background()

	conn, err := db.ConnectToDB(ctx, filepath.Join(t.TempDir(), "knowledge.db"), zerolog.Nop())
	require.NoError(t, err)
	store := NewLibSQLStore(conn)
	defer store.Close()

	require.NoError(t, store.CreateCollection(ctx, "faq", 3, DistanceCosine))
	require.NoError(t, store.Upsert(ctx, "faq", []Point{
		{ID: 1, Vector: []float32{1, 0, 0}, Payload: map[string]string{PayloadText: "hours"}},
		{ID: 2, Vector: []float32{0, 1, 0}, Payload: map[string]string{PayloadText: "documents"}},
	}))
	// upsert replaces by id
	require.NoError(t, store.Upsert(ctx, "faq", []Point{
		{ID: 2, Vector: []float32{0.8, 0.6, 0}, Payload: map[string]string{PayloadText: "units"}},
	}))

	names, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"faq"}, names)

	hits, err := store.Search(ctx, "faq", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "hours", hits[0].Payload[PayloadText])
	assert.Equal(t, "units", hits[1].Payload[PayloadText])
	assert.InDelta(t, 0.8, hits[1].Score, 1e-5)

	_, err = store.Search(ctx, "missing", []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestEmbeddingModel(t *testing.T) {
	m, err := embeddingModel("text-embedding-ada-002")
	require.NoError(t, err)
	assert.Equal(t, openai.AdaEmbeddingV2, m)

	_, err = embeddingModel("no-such-model")
	assert.ErrorContains(t, err, "unsupported embedding model")

	_, err = NewOpenAIEmbedder(nil, "")
	assert.Error(t, err)
}
