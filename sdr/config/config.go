package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/clinic-sdr/sdr"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	LLM          LLMConfig          `mapstructure:"llm"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding"`
	Knowledge    KnowledgeConfig    `mapstructure:"knowledge"`
	Dialogue     DialogueConfig     `mapstructure:"dialogue"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Extraction   ExtractionConfig   `mapstructure:"extraction"`
	Harness      HarnessConfig      `mapstructure:"harness"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
}

// LLMConfig stores completion model configurations.
type LLMConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	BaseURL      string  `mapstructure:"base_url"`      // empty uses the provider default
	Model        string  `mapstructure:"model"`         // main completion model
	SummaryModel string  `mapstructure:"summary_model"` // cheaper model for rolling summaries
	MaxNewTokens int     `mapstructure:"max_new_tokens"`
	Temperature  float32 `mapstructure:"temperature"`
}

// EmbeddingConfig stores embedding model configurations.
type EmbeddingConfig struct {
	Model string `mapstructure:"model"`
	Dims  int    `mapstructure:"dims"`
}

// QdrantConfig stores the vector-store endpoint.
type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

// DatabaseConfig stores the embedded libsql location.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// KnowledgeConfig stores retrieval settings.
type KnowledgeConfig struct {
	Backend         string         `mapstructure:"backend"` // "qdrant", "libsql", "memory"
	Collection      string         `mapstructure:"collection"`
	TopK            int            `mapstructure:"top_k"`
	Threshold       float64        `mapstructure:"threshold"`
	SearchTimeout   time.Duration  `mapstructure:"search_timeout"`
	SeedOnStartup   bool           `mapstructure:"seed_on_startup"`
	SeedConcurrency int            `mapstructure:"seed_concurrency"`
	Qdrant          QdrantConfig   `mapstructure:"qdrant"`
	Database        DatabaseConfig `mapstructure:"database"`
}

// DialogueConfig stores turn pipeline settings.
type DialogueConfig struct {
	MaxContextMessages int           `mapstructure:"max_context_messages"`
	SummaryThreshold   int           `mapstructure:"summary_threshold"`
	CompletionTimeout  time.Duration `mapstructure:"completion_timeout"`
	SummaryTimeout     time.Duration `mapstructure:"summary_timeout"`
	ContextTokenBudget int           `mapstructure:"context_token_budget"`
	MaxSnippets        int           `mapstructure:"max_snippets"`
}

// ConversationConfig stores conversation cache settings.
type ConversationConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"` // cron spec, empty disables the sweeper
}

// ExtractionConfig stores rule table settings.
type ExtractionConfig struct {
	RulesPath  string `mapstructure:"rules_path"` // empty uses the compiled-in rules
	WatchRules bool   `mapstructure:"watch_rules"`
}

// HarnessConfig stores completion harness configurations.
type HarnessConfig struct {
	// Cache settings
	CacheEnabled    bool `mapstructure:"cache_enabled"`     // memoise query embeddings
	CacheCapacity   int  `mapstructure:"cache_capacity"`    // LRU cache capacity
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // Cache entry TTL

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`
}

// ServerConfig stores the http adapter settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Completion defaults
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.base_url", "")
	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.summary_model", "gpt-4o-mini")
	viper.SetDefault("llm.max_new_tokens", 512)
	viper.SetDefault("llm.temperature", 0.7)

	// Embedding defaults
	viper.SetDefault("embedding.model", "text-embedding-ada-002")
	viper.SetDefault("embedding.dims", internal.DefaultEmbeddingDims)

	// Knowledge defaults
	viper.SetDefault("knowledge.backend", "qdrant")
	viper.SetDefault("knowledge.collection", internal.DefaultCollectionName)
	viper.SetDefault("knowledge.top_k", 3)
	viper.SetDefault("knowledge.threshold", 0.7)
	viper.SetDefault("knowledge.search_timeout", "5s")
	viper.SetDefault("knowledge.seed_on_startup", true)
	viper.SetDefault("knowledge.seed_concurrency", 4)
	viper.SetDefault("knowledge.qdrant.host", "localhost")
	viper.SetDefault("knowledge.qdrant.port", 6334) // gRPC port
	viper.SetDefault("knowledge.qdrant.api_key", "")
	viper.SetDefault("knowledge.qdrant.use_tls", false)
	viper.SetDefault("knowledge.database.path", internal.DefaultDatabasePath)

	// Dialogue defaults
	viper.SetDefault("dialogue.max_context_messages", 10)
	viper.SetDefault("dialogue.summary_threshold", 20)
	viper.SetDefault("dialogue.completion_timeout", "30s")
	viper.SetDefault("dialogue.summary_timeout", "20s")
	viper.SetDefault("dialogue.context_token_budget", 1500)
	viper.SetDefault("dialogue.max_snippets", 3)

	// Conversation cache defaults
	viper.SetDefault("conversation.ttl", "60m")
	viper.SetDefault("conversation.sweep_schedule", "@every 5m")

	viper.SetDefault("extraction.rules_path", "")
	viper.SetDefault("extraction.watch_rules", true)

	// Harness defaults
	viper.SetDefault("harness.cache_enabled", true)
	viper.SetDefault("harness.cache_capacity", 1000)
	viper.SetDefault("harness.cache_ttl_seconds", 3600) // 1 hour
	viper.SetDefault("harness.rate_limit_enabled", false)
	viper.SetDefault("harness.rate_limit_capacity", 10)
	viper.SetDefault("harness.rate_limit_refill_rate", "1s")
	viper.SetDefault("harness.enable_tracing", true)

	viper.SetDefault("server.addr", internal.DefaultHTTPAddr)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", false)

	viper.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. knowledge.qdrant.host becomes KNOWLEDGE_QDRANT_HOST
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := viper.BindEnv("llm.api_key", "LLM_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind api key env: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and env apply.
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}

// WatchConfig re-decodes the config file whenever it changes on disk and
// hands the fresh copy to onChange. It is a no-op when no file was loaded.
func WatchConfig(logger zerolog.Logger, onChange func(*Config)) bool {
	if viper.ConfigFileUsed() == "" {
		return false
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := viper.Unmarshal(&next); err != nil {
			logger.Error().Err(err).Str("file", e.Name).Msg("config reload failed")
			return
		}
		logger.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("config reloaded")
		if onChange != nil {
			onChange(&next)
		}
	})
	viper.WatchConfig()
	return true
}
