package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/config"
	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/knowledge"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completerFunc func(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error)

func (f completerFunc) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	return f(ctx, in, opts)
}

type constEmbedder struct{}

func (constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		LLM:       config.LLMConfig{Model: "gpt-4o", SummaryModel: "gpt-4o-mini"},
		Embedding: config.EmbeddingConfig{Model: "text-embedding-ada-002", Dims: 3},
		Knowledge: config.KnowledgeConfig{
			Backend:         "memory",
			Collection:      "clinic_knowledge",
			TopK:            3,
			Threshold:       0.7,
			SeedConcurrency: 2,
		},
		Dialogue:     config.DialogueConfig{MaxContextMessages: 10, SummaryThreshold: 20, ContextTokenBudget: 1500, MaxSnippets: 3},
		Conversation: config.ConversationConfig{TTL: time.Hour, SweepSchedule: "@every 1m"},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	completer := completerFunc(func(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
		return ports.Completion{Text: "Hello John, which unit suits you?"}, nil
	})
	a, err := newApp(context.Background(), cfg, zerolog.Nop(), appOptions{Completer: completer, Embedder: constEmbedder{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestChatLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestApp(t, testConfig())
	require.NoError(t, a.start(ctx))

	var out bytes.Buffer
	in := strings.NewReader("Hi, my name is John and I want to schedule an ultrasound\n\nexit\nnever read\n")
	require.NoError(t, chatLoop(ctx, a.engine, "", in, &out))

	text := out.String()
	assert.Contains(t, text, "Hello John, which unit suits you?")
	assert.Contains(t, text, "[stage: confirm_unit]")
	assert.Equal(t, 1, strings.Count(text, "[stage:"))
}

func TestApp_Seeder(t *testing.T) {
	a := newTestApp(t, testConfig())

	report, err := a.seeder().Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Created)
	assert.Equal(t, len(knowledge.DefaultDocuments()), report.Seeded)

	report, err = a.seeder().Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Created)
}

func TestNewApp_Errors(t *testing.T) {
	cfg := testConfig()
	_, err := newApp(context.Background(), cfg, zerolog.Nop(), appOptions{})
	assert.ErrorContains(t, err, "API key not set")

	cfg = testConfig()
	cfg.Extraction.RulesPath = "/nonexistent/rules.yaml"
	_, err = newApp(context.Background(), cfg, zerolog.Nop(), appOptions{Completer: completerFunc(nil), Embedder: constEmbedder{}})
	assert.ErrorContains(t, err, "load extraction rules")

	cfg = testConfig()
	cfg.Knowledge.Backend = "cassandra"
	_, err = newApp(context.Background(), cfg, zerolog.Nop(), appOptions{Completer: completerFunc(nil), Embedder: constEmbedder{}})
	assert.ErrorIs(t, err, knowledge.ErrUnknownBackend)
}

func TestNewLogger(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn"}, false, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Str("k", "v").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)

	newLogger(config.LogConfig{Level: "bogus"}, false, &buf)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestSetLogLevel_ReloadCanLowerLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "info"}, false, &buf)
	logger.Debug().Msg("before")
	assert.NotContains(t, buf.String(), "before")

	assert.Equal(t, zerolog.DebugLevel, setLogLevel("debug"))
	logger.Debug().Msg("after")
	assert.Contains(t, buf.String(), "after")
}
