package dialogue

import (
	"context"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/config"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/conversation"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/adapters"
	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/extraction"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/knowledge"
	"github.com/rs/zerolog"
)

// Components are the runtime pieces the factory cannot build from config.
type Components struct {
	Store     *conversation.Store
	Completer ports.Completer
	Retriever Retriever // optional
	Tools     ToolExecutor
	Rules     extraction.RuleSource // nil uses the built-in rules
	Events    EventSink             // optional
}

// Factory creates and wires dialogue components from configuration.
type Factory struct {
	cfg    *config.Config
	logger zerolog.Logger
	cache  ports.Cache
}

func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	f := &Factory{cfg: cfg, logger: logger}
	f.cache = f.createCache()
	return f
}

// CreateRetriever builds a knowledge retriever sharing the factory cache.
func (f *Factory) CreateRetriever(embedder knowledge.Embedder, store knowledge.VectorStore) *knowledge.Retriever {
	k := f.cfg.Knowledge
	return knowledge.NewRetriever(embedder, store, f.cache, knowledge.RetrieverConfig{
		Collection:      k.Collection,
		TopK:            k.TopK,
		Threshold:       k.Threshold,
		Timeout:         k.SearchTimeout,
		CacheTTLSeconds: f.cfg.Harness.CacheTTLSeconds,
	}, f.logger.With().Str("component", "retriever").Logger())
}

// CreateEngine wires a fully configured Engine.
func (f *Factory) CreateEngine(c Components) (*Engine, error) {
	d := f.cfg.Dialogue

	maxContext := d.MaxContextMessages
	if maxContext < 1 {
		maxContext = 1
		f.logger.Warn().Int("max_context_messages", d.MaxContextMessages).Msg("MaxContextMessages clamped to minimum of 1")
	}
	threshold := d.SummaryThreshold
	if threshold < maxContext {
		threshold = maxContext
		f.logger.Warn().Int("summary_threshold", d.SummaryThreshold).Msg("SummaryThreshold clamped to max_context_messages")
	}

	budget := Budget{MaxContextTokens: d.ContextTokenBudget, MaxSnippets: d.MaxSnippets}
	assembler := NewContextAssembler(budget, TiktokenEstimator())

	var summarizer Summarizer
	if c.Completer != nil {
		summarizer = NewLLMSummarizer(c.Completer, f.cfg.LLM.SummaryModel, d.SummaryTimeout)
	}

	contexts := NewContextBuilder(c.Retriever, summarizer, assembler, ContextConfig{
		MaxContextMessages: maxContext,
		SummaryThreshold:   threshold,
		TopK:               f.cfg.Knowledge.TopK,
		Budget:             budget,
	}, f.logger.With().Str("component", "context").Logger())

	rules := c.Rules
	if rules == nil {
		rules = extraction.DefaultRules()
	}

	return NewEngine(Dependencies{
		Store:      c.Store,
		Completer:  c.Completer,
		Context:    contexts,
		Tools:      c.Tools,
		Extractor:  extraction.NewExtractor(rules),
		Stages:     extraction.NewStageMachine(nil),
		Escalation: extraction.NewDetector(rules),
		Limiter:    f.createRateLimiter(),
		Tracer:     f.createTracer(),
		Metrics:    NewMetricsCollector(),
		Events:     c.Events,
	}, EngineConfig{
		Model:             f.cfg.LLM.Model,
		MaxNewTokens:      f.cfg.LLM.MaxNewTokens,
		Temperature:       f.cfg.LLM.Temperature,
		CompletionTimeout: d.CompletionTimeout,
	}, f.logger.With().Str("component", "engine").Logger())
}

func (f *Factory) createCache() ports.Cache {
	if !f.cfg.Harness.CacheEnabled {
		return &noOpCache{}
	}
	return adapters.NewLRUCache(f.cfg.Harness.CacheCapacity)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Harness.RateLimitCapacity, f.cfg.Harness.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var (
	_ ports.Cache       = (*noOpCache)(nil)
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
