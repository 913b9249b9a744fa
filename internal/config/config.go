// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config loads the trialmatch configuration from defaults, an
// optional YAML file and TRIALMATCH_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/internal/secrets"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// EnvPrefix prefixes every environment override, e.g.
// TRIALMATCH_DISCOVERY_MAX_TRIALS.
const EnvPrefix = "TRIALMATCH"

// DefaultUserAgent is sent to every upstream source.
const DefaultUserAgent = "trialmatch/0.1"

type sourceDefaults struct {
	rate int
	ttl  time.Duration
}

var sourceClasses = map[string]sourceDefaults{
	"registry":    {rate: 5, ttl: 15 * time.Minute},
	"literature":  {rate: 3, ttl: 30 * time.Minute},
	"drug_safety": {rate: 4, ttl: 6 * time.Hour},
	"diagnosis":   {rate: 5, ttl: 7 * 24 * time.Hour},
}

// SetDefaults registers every default on v. Keys without a default are not
// picked up from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	for name, d := range sourceClasses {
		k := "sources." + name + "."
		v.SetDefault(k+"base_url", "")
		v.SetDefault(k+"timeout", 0)
		v.SetDefault(k+"user_agent", DefaultUserAgent)
		v.SetDefault(k+"max_retries", 2)
		v.SetDefault(k+"rate_per_window", d.rate)
		v.SetDefault(k+"rate_window", time.Second)
		v.SetDefault(k+"cache_ttl", d.ttl)
		v.SetDefault(k+"api_key", "")
	}
	v.SetDefault("sources.mock_on_failure", false)

	v.SetDefault("cache.backend", string(types.CacheMemory))
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "trialmatch:")

	v.SetDefault("profile.ai.enabled", false)
	v.SetDefault("profile.ai.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("profile.ai.api_key", "")
	v.SetDefault("profile.ai.timeout", 30*time.Second)
	v.SetDefault("profile.code_diagnosis", true)

	v.SetDefault("discovery.max_trials", 10)
	v.SetDefault("discovery.min_results", 3)
	v.SetDefault("discovery.max_literature", 3)
	v.SetDefault("discovery.literature_concurrency", 4)
	v.SetDefault("discovery.timeout", 30*time.Second)

	v.SetDefault("eligibility.weights.age", 0.3)
	v.SetDefault("eligibility.weights.location", 0.2)
	v.SetDefault("eligibility.weights.medication", 0.3)
	v.SetDefault("eligibility.weights.exclusion", 0.2)
	v.SetDefault("eligibility.thresholds.eligible", 0.8)
	v.SetDefault("eligibility.thresholds.potential", 0.6)
	v.SetDefault("eligibility.thresholds.review", 0.4)
	v.SetDefault("eligibility.top_n", 5)
	v.SetDefault("eligibility.check_drug_safety", true)
	v.SetDefault("eligibility.labels_per_drug", 1)

	v.SetDefault("review.enabled", false)
	v.SetDefault("review.addr", ":8080")
	v.SetDefault("review.jwt_secret", "")

	v.SetDefault("store.backend", string(types.StoreSQLite))
	v.SetDefault("store.path", filepath.Join(".trialmatch", "runs.db"))
	v.SetDefault("store.dsn", "")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 200*time.Millisecond)
	v.SetDefault("retry.max_delay", 2*time.Second)
}

// New returns a viper instance with defaults and environment binding.
// When path is empty it looks for trialmatch.yaml in the working directory
// and in ~/.config/trialmatch.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("trialmatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "trialmatch"))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. A missing default config file is not an
// error; a missing explicit path is.
func Load(path string) (types.Config, string, error) {
	v := New(path)
	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return types.Config{}, "", failure.Validation("reading config: %v", err)
		}
	} else {
		used = v.ConfigFileUsed()
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, used, failure.Validation("decoding config: %v", err)
	}
	if err := Validate(cfg); err != nil {
		return types.Config{}, used, err
	}
	return cfg, used, nil
}

// ApplySecrets fills API keys the configuration left empty from a secrets
// directory's contents.
func ApplySecrets(cfg *types.Config, s map[string]string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = s[key]
		}
	}
	fill(&cfg.Profile.AI.APIKey, secrets.AnthropicAPIKey)
	fill(&cfg.Sources.Literature.APIKey, secrets.NCBIAPIKey)
	fill(&cfg.Sources.DrugSafety.APIKey, secrets.OpenFDAAPIKey)
	fill(&cfg.Review.JWTSecret, secrets.ReviewJWTSecret)
}

// Validate rejects configurations the pipeline cannot run with.
func Validate(cfg types.Config) error {
	w := cfg.Eligibility.Weights
	for name, x := range map[string]float64{"age": w.Age, "location": w.Location, "medication": w.Medication, "exclusion": w.Exclusion} {
		if x < 0 {
			return failure.Validation("eligibility weight %s is negative", name)
		}
	}
	if math.Abs(w.Sum()-1) > 1e-6 {
		return failure.Validation("eligibility weights sum to %.4f, want 1", w.Sum())
	}

	th := cfg.Eligibility.Thresholds
	if th.Eligible > 1 || th.Review < 0 || th.Eligible < th.Potential || th.Potential < th.Review {
		return failure.Validation("eligibility thresholds must satisfy 1 >= eligible >= potential >= review >= 0")
	}

	sources := map[string]types.SourceConfig{
		"registry":    cfg.Sources.Registry,
		"literature":  cfg.Sources.Literature,
		"drug_safety": cfg.Sources.DrugSafety,
		"diagnosis":   cfg.Sources.Diagnosis,
	}
	for name, sc := range sources {
		if sc.RatePerWindow <= 0 || sc.RateWindow <= 0 {
			return failure.Validation("source %s needs a positive rate", name)
		}
		if sc.CacheTTL <= 0 {
			return failure.Validation("source %s needs a positive cache ttl", name)
		}
	}

	d := cfg.Discovery
	if d.MaxTrials <= 0 || d.MinResults < 0 || d.MaxLiterature < 0 {
		return failure.Validation("discovery limits must be positive")
	}

	switch cfg.Cache.Backend {
	case types.CacheMemory:
	case types.CacheRedis:
		if cfg.Cache.RedisAddr == "" {
			return failure.Validation("redis cache needs cache.redis_addr")
		}
	default:
		return failure.Validation("unknown cache backend %q", cfg.Cache.Backend)
	}

	switch cfg.Store.Backend {
	case types.StoreMemory:
	case types.StoreSQLite:
		if cfg.Store.Path == "" {
			return failure.Validation("sqlite store needs store.path")
		}
	case types.StorePostgres:
		if cfg.Store.DSN == "" {
			return failure.Validation("postgres store needs store.dsn")
		}
	default:
		return failure.Validation("unknown store backend %q", cfg.Store.Backend)
	}

	if cfg.Retry.MaxAttempts < 1 {
		return failure.Validation("retry.max_attempts must be at least 1")
	}
	return nil
}

// RetryPolicy converts the configured retry settings.
func RetryPolicy(c types.RetryConfig) failure.RetryPolicy {
	return failure.RetryPolicy{MaxAttempts: c.MaxAttempts, BaseDelay: c.BaseDelay, MaxDelay: c.MaxDelay}
}
