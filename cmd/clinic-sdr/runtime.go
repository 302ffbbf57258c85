package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/config"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/conversation"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/adapters"
	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/events"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/extraction"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/knowledge"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/scheduling"
	"github.com/rs/zerolog"
)

// newLogger builds the root logger: console output for humans, JSON otherwise.
// newLogger leaves the logger itself at trace; the configured level is the
// global one so config reloads can move it either way.
func newLogger(cfg config.LogConfig, pretty bool, w io.Writer) zerolog.Logger {
	setLogLevel(cfg.Level)
	if pretty || cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Logger()
}

// setLogLevel applies name globally, falling back to info when unparseable.
func setLogLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}

// appOptions replaces the hosted providers; tests inject stubs here.
type appOptions struct {
	Completer ports.Completer
	Embedder  knowledge.Embedder
}

// app owns every long-lived component of one process.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *conversation.Store
	vectors  knowledge.VectorStore
	embedder knowledge.Embedder
	bus      *events.Bus
	watcher  *extraction.Watcher
	sweeper  *conversation.Sweeper
	engine   *dialogue.Engine
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	completer := opts.Completer
	embedder := opts.Embedder
	if completer == nil || embedder == nil {
		if cfg.LLM.APIKey == "" {
			return nil, errors.New("API key not set. Set OPENAI_API_KEY or llm.api_key")
		}
		client := adapters.NewOpenAIClient(cfg.LLM)
		if completer == nil {
			completer = adapters.NewOpenAICompleter(client, cfg.LLM, logger.With().Str("component", "completer").Logger())
		}
		if embedder == nil {
			oe, err := knowledge.NewOpenAIEmbedder(client, cfg.Embedding.Model)
			if err != nil {
				return nil, fmt.Errorf("embedder: %w", err)
			}
			embedder = oe
		}
	}
	a.embedder = embedder

	vectors, err := knowledge.NewVectorStore(ctx, cfg.Knowledge, logger)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: %w", err)
	}
	a.vectors = vectors

	var rules extraction.RuleSource = extraction.DefaultRules()
	if cfg.Extraction.RulesPath != "" {
		a.watcher, err = extraction.NewWatcher(cfg.Extraction.RulesPath, logger.With().Str("component", "rules").Logger())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load extraction rules: %w", err)
		}
		rules = a.watcher
	}

	availability, err := scheduling.NewMemoryAvailability(scheduling.DefaultSchedule())
	if err != nil {
		a.Close()
		return nil, err
	}
	tools, err := scheduling.NewExecutor(availability, logger.With().Str("component", "tools").Logger())
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store = conversation.NewStore(cfg.Conversation.TTL, logger.With().Str("component", "conversations").Logger())
	if cfg.Conversation.SweepSchedule != "" {
		a.sweeper, err = conversation.NewSweeper(a.store, cfg.Conversation.SweepSchedule, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.bus = events.NewBus(logger.With().Str("component", "events").Logger())

	factory := dialogue.NewFactory(cfg, logger)
	a.engine, err = factory.CreateEngine(dialogue.Components{
		Store:     a.store,
		Completer: completer,
		Retriever: factory.CreateRetriever(embedder, vectors),
		Tools:     tools,
		Rules:     rules,
		Events:    a.bus,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// start launches the background work: sweeping, rule reloads, handoff
// logging and, when enabled, knowledge seeding. Serving never waits on it.
func (a *app) start(ctx context.Context) error {
	if a.sweeper != nil {
		a.sweeper.Start()
	}
	if a.watcher != nil && a.cfg.Extraction.WatchRules {
		go func() {
			if err := a.watcher.Run(ctx); err != nil {
				a.logger.Error().Err(err).Msg("rules watcher stopped")
			}
		}()
	}
	if err := a.bus.LogHandoffs(ctx); err != nil {
		return fmt.Errorf("subscribe handoffs: %w", err)
	}
	if a.cfg.Knowledge.SeedOnStartup {
		done := a.seeder().Start(ctx)
		go func() {
			if err := <-done; err != nil {
				a.logger.Warn().Err(err).Msg("knowledge seeding incomplete")
			}
		}()
	}
	return nil
}

func (a *app) seeder() *knowledge.Seeder {
	k := a.cfg.Knowledge
	return knowledge.NewSeeder(a.embedder, a.vectors, k.Collection, a.cfg.Embedding.Dims,
		knowledge.DefaultDocuments(), k.SeedConcurrency, a.logger.With().Str("component", "seeder").Logger())
}

func (a *app) Close() error {
	if a.sweeper != nil {
		<-a.sweeper.Stop().Done()
	}
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.vectors != nil {
		errs = append(errs, a.vectors.Close())
	}
	return errors.Join(errs...)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func stderrLogger(cfg *config.Config, pretty bool) zerolog.Logger {
	return newLogger(cfg.Log, pretty, os.Stderr)
}
