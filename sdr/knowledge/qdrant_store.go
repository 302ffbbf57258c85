package knowledge

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/config"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore implements VectorStore on a Qdrant server (gRPC).
type QdrantStore struct {
	client *qdrant.Client
}

func NewQdrantStore(cfg config.QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list qdrant collections: %w", err)
	}
	return names, nil
}

func (s *QdrantStore) CreateCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	d, err := qdrantDistance(distance)
	if err != nil {
		return err
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: d,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant collection %s: %w", name, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payloadToAny(p.Payload)),
		})
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	}); err != nil {
		return fmt.Errorf("failed to upsert qdrant points: %w", err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredPoint, error) {
	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	hits := make([]ScoredPoint, 0, len(res))
	for _, p := range res {
		payload := make(map[string]string, len(p.GetPayload()))
		for k, v := range p.GetPayload() {
			payload[k] = v.GetStringValue()
		}
		hits = append(hits, ScoredPoint{
			ID:      p.GetId().GetNum(),
			Score:   p.GetScore(),
			Payload: payload,
		})
	}
	return hits, nil
}

func (s *QdrantStore) Close() error { return s.client.Close() }

func qdrantDistance(d Distance) (qdrant.Distance, error) {
	switch d {
	case DistanceCosine:
		return qdrant.Distance_Cosine, nil
	case DistanceDot:
		return qdrant.Distance_Dot, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedDistance, d)
}

func payloadToAny(payload map[string]string) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

var _ VectorStore = (*QdrantStore)(nil)
