package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultThreshold is the minimum similarity for a hit to be kept.
const DefaultThreshold = 0.70

// RetrieverConfig tunes a Retriever.
type RetrieverConfig struct {
	Collection      string
	TopK            int
	Threshold       float64
	Timeout         time.Duration // bounds embed+search; zero means no bound
	CacheTTLSeconds int
}

// Retriever turns a free-text query into relevant snippets. It is
// best-effort: every failure degrades to an empty result.
type Retriever struct {
	embedder Embedder
	store    VectorStore
	cfg      RetrieverConfig
	cache    ports.Cache // optional query-embedding cache
	group    singleflight.Group
	logger   zerolog.Logger
}

// NewRetriever creates a retriever; cache may be nil.
func NewRetriever(embedder Embedder, store VectorStore, cache ports.Cache, cfg RetrieverConfig, logger zerolog.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		cache:    cache,
		logger:   logger,
	}
}

// Search returns up to topK snippet texts scoring above the threshold, most
// similar first.
func (r *Retriever) Search(ctx context.Context, query string, topK int) []string {
	hits := r.Retrieve(ctx, query, topK)
	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		texts = append(texts, h.Text)
	}
	return texts
}

// Retrieve is Search with scores and categories kept.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) []Hit {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Hit{}
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	// The shared search outlives any one caller; each caller only gives up
	// its own wait.
	detached := context.WithoutCancel(ctx)
	key := fmt.Sprintf("%d|%s", topK, query)
	ch := r.group.DoChan(key, func() (any, error) {
		sctx := detached
		if r.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(detached, r.cfg.Timeout)
			defer cancel()
		}
		return r.search(sctx, query, topK)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			r.logger.Warn().Err(res.Err).Str("collection", r.cfg.Collection).Msg("knowledge retrieval degraded to empty")
			return []Hit{}
		}
		hits := res.Val.([]Hit)
		if res.Shared {
			hits = append([]Hit(nil), hits...)
		}
		return hits
	case <-ctx.Done():
		r.logger.Warn().Err(ctx.Err()).Str("collection", r.cfg.Collection).Msg("knowledge retrieval degraded to empty")
		return []Hit{}
	}
}

func (r *Retriever) search(ctx context.Context, query string, topK int) ([]Hit, error) {
	vector, err := r.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	points, err := r.store.Search(ctx, r.cfg.Collection, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Score > points[j].Score })

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		if float64(p.Score) <= r.cfg.Threshold {
			continue
		}
		text := p.Payload[PayloadText]
		if text == "" {
			continue
		}
		hits = append(hits, Hit{Text: text, Category: p.Payload[PayloadCategory], Score: p.Score})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

func (r *Retriever) embed(ctx context.Context, query string) ([]float32, error) {
	key := "embedding:" + query
	if r.cache != nil {
		if raw, ok := r.cache.Get(ctx, key); ok {
			var vec []float32
			if err := json.Unmarshal(raw, &vec); err == nil {
				return vec, nil
			}
		}
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if r.cache != nil && r.cfg.CacheTTLSeconds > 0 {
		if raw, err := json.Marshal(vec); err == nil {
			_ = r.cache.Set(ctx, key, raw, r.cfg.CacheTTLSeconds)
		}
	}
	return vec, nil
}
