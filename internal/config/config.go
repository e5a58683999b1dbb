package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/opportunity"
	"github.com/sells-group/opportunity-cli/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig            `yaml:"store" mapstructure:"store"`
	Log       LogConfig              `yaml:"log" mapstructure:"log"`
	Server    ServerConfig           `yaml:"server" mapstructure:"server"`
	Jina      JinaConfig             `yaml:"jina" mapstructure:"jina"`
	Anthropic AnthropicConfig        `yaml:"anthropic" mapstructure:"anthropic"`
	Collect   CollectConfig          `yaml:"collect" mapstructure:"collect"`
	Analysis  AnalysisConfig         `yaml:"analysis" mapstructure:"analysis"`
	Retry     resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// JinaConfig holds Jina AI reader and search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	Model     string  `yaml:"model" mapstructure:"model"`
	MaxTokens int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temp      float64 `yaml:"temperature" mapstructure:"temperature"`
}

// CollectConfig configures evidence collection and competitor discovery.
type CollectConfig struct {
	Concurrency      int                      `yaml:"concurrency" mapstructure:"concurrency"`
	RequestsPerSec   float64                  `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	ResultsPerSearch int                      `yaml:"results_per_search" mapstructure:"results_per_search"`
	Queries          []string                 `yaml:"queries" mapstructure:"queries"`
	Breaker          resilience.BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// AnalysisConfig is passed to the orchestrator at construction time and
// replaces process-wide feature flags.
type AnalysisConfig struct {
	Coverage evidence.CoverageConfig `yaml:"coverage" mapstructure:"coverage"`
	Rank     opportunity.RankConfig  `yaml:"rank" mapstructure:"rank"`

	// RequireKnownCitations drops generated opportunities that cite URLs
	// not present in the collected evidence.
	RequireKnownCitations bool `yaml:"require_known_citations" mapstructure:"require_known_citations"`
	// FilterFluff drops opportunities whose title or claims are vague.
	FilterFluff bool `yaml:"filter_fluff" mapstructure:"filter_fluff"`
	// MaxConflicts bounds version-conflict retries per step transition.
	MaxConflicts int `yaml:"max_conflicts" mapstructure:"max_conflicts"`
	// StepTimeout bounds a single step body. Zero means no limit.
	StepTimeout time.Duration `yaml:"step_timeout" mapstructure:"step_timeout"`
}

// DefaultAnalysisConfig returns the analysis settings used when no
// configuration is loaded.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Coverage:              evidence.DefaultCoverageConfig(),
		Rank:                  opportunity.DefaultRankConfig(),
		RequireKnownCitations: true,
		FilterFluff:           true,
		MaxConflicts:          8,
		StepTimeout:           10 * time.Minute,
	}
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OPPORTUNITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	an := DefaultAnalysisConfig()
	retry := resilience.DefaultRetryConfig()
	breaker := resilience.DefaultBreakerConfig()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "opportunity.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.temperature", 0.2)
	v.SetDefault("collect.concurrency", 4)
	v.SetDefault("collect.requests_per_sec", 2.0)
	v.SetDefault("collect.results_per_search", 5)
	v.SetDefault("collect.queries", []string{"pricing", "changelog", "reviews", "documentation"})
	v.SetDefault("collect.breaker.failure_threshold", breaker.FailureThreshold)
	v.SetDefault("collect.breaker.reset_timeout", breaker.ResetTimeout)
	v.SetDefault("analysis.coverage.min_competitors", an.Coverage.MinCompetitors)
	v.SetDefault("analysis.coverage.min_coverage_ratio", an.Coverage.MinCoverageRatio)
	v.SetDefault("analysis.rank.weights.strength", an.Rank.Weights.Strength)
	v.SetDefault("analysis.rank.weights.recency", an.Rank.Weights.Recency)
	v.SetDefault("analysis.rank.weights.consistency", an.Rank.Weights.Consistency)
	v.SetDefault("analysis.rank.recency_half_life_days", an.Rank.RecencyHalfLifeDays)
	v.SetDefault("analysis.rank.merge_threshold", an.Rank.MergeThreshold)
	v.SetDefault("analysis.require_known_citations", an.RequireKnownCitations)
	v.SetDefault("analysis.filter_fluff", an.FilterFluff)
	v.SetDefault("analysis.max_conflicts", an.MaxConflicts)
	v.SetDefault("analysis.step_timeout", an.StepTimeout)
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.initial_backoff", retry.InitialBackoff)
	v.SetDefault("retry.max_backoff", retry.MaxBackoff)
	v.SetDefault("retry.multiplier", retry.Multiplier)
	v.SetDefault("retry.jitter_fraction", retry.JitterFraction)
}

// Validate checks values that would make the pipeline misbehave silently.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for postgres")
	}
	if c.Analysis.Coverage.MinCoverageRatio < 0 || c.Analysis.Coverage.MinCoverageRatio > 1 {
		return eris.Errorf("config: analysis.coverage.min_coverage_ratio must be in [0,1], got %v",
			c.Analysis.Coverage.MinCoverageRatio)
	}
	w := c.Analysis.Rank.Weights
	if w.Strength < 0 || w.Recency < 0 || w.Consistency < 0 {
		return eris.New("config: analysis.rank.weights must be non-negative")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
