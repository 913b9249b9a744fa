// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by every upstream source client.
type HTTPConfig struct {
	// BaseURL overrides the public endpoint (tests point this at httptest).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "trialmatch/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// MaxRetries bounds transport-level retries on 429 and 5xx responses.
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// SourceConfig is the per-source transport, rate class and cache TTL.
type SourceConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// RatePerWindow is the number of upstream calls allowed per RateWindow.
	RatePerWindow int `json:"rate_per_window" yaml:"rate_per_window" mapstructure:"rate_per_window"`

	// RateWindow is the rolling window for RatePerWindow (default 1s).
	RateWindow time.Duration `json:"rate_window" yaml:"rate_window" mapstructure:"rate_window"`

	// CacheTTL is how long a successful response stays cached.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" mapstructure:"cache_ttl"`

	// APIKey is optional; sources accept anonymous traffic at lower limits.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
}

// SourcesConfig groups the four upstream sources.
type SourcesConfig struct {
	Registry   SourceConfig `json:"registry" yaml:"registry" mapstructure:"registry"`
	Literature SourceConfig `json:"literature" yaml:"literature" mapstructure:"literature"`
	DrugSafety SourceConfig `json:"drug_safety" yaml:"drug_safety" mapstructure:"drug_safety"`
	Diagnosis  SourceConfig `json:"diagnosis" yaml:"diagnosis" mapstructure:"diagnosis"`

	// MockOnFailure makes the registry return one synthetic trial instead
	// of failing when the upstream is unavailable.
	MockOnFailure bool `json:"mock_on_failure" yaml:"mock_on_failure" mapstructure:"mock_on_failure"`
}

// CacheBackend selects where cached responses live.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
)

// CacheConfig selects and configures the response cache.
type CacheConfig struct {
	Backend CacheBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// RedisAddr is host:port for the redis backend.
	RedisAddr string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisDB   int    `json:"redis_db" yaml:"redis_db" mapstructure:"redis_db"`

	// KeyPrefix namespaces keys in a shared redis.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix"`
}

// AIConfig holds settings for the optional LLM-assisted profile extraction.
type AIConfig struct {
	// Enabled turns on LLM completion of fields the rule pass left empty.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// ProfileConfig holds settings for the profile analysis stage.
type ProfileConfig struct {
	AI AIConfig `json:"ai" yaml:"ai" mapstructure:"ai"`

	// CodeDiagnosis looks up an ICD-10-CM code for the extracted diagnosis.
	CodeDiagnosis bool `json:"code_diagnosis" yaml:"code_diagnosis" mapstructure:"code_diagnosis"`
}

// DiscoveryConfig holds settings for the trial discovery stage.
type DiscoveryConfig struct {
	// MaxTrials caps the candidate list before literature lookups (default 10).
	MaxTrials int `json:"max_trials" yaml:"max_trials" mapstructure:"max_trials"`

	// MinResults is the primary result count below which the search is
	// broadened once (default 3).
	MinResults int `json:"min_results" yaml:"min_results" mapstructure:"min_results"`

	// MaxLiterature is the per-trial literature reference count (default 3).
	MaxLiterature int `json:"max_literature" yaml:"max_literature" mapstructure:"max_literature"`

	// LiteratureConcurrency bounds concurrent literature queries.
	LiteratureConcurrency int `json:"literature_concurrency" yaml:"literature_concurrency" mapstructure:"literature_concurrency"`

	// Timeout bounds the whole search phase.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// ScoringWeights are the per-check contributions to the eligibility score.
// They must sum to 1.0.
type ScoringWeights struct {
	Age        float64 `json:"age" yaml:"age" mapstructure:"age"`
	Location   float64 `json:"location" yaml:"location" mapstructure:"location"`
	Medication float64 `json:"medication" yaml:"medication" mapstructure:"medication"`
	Exclusion  float64 `json:"exclusion" yaml:"exclusion" mapstructure:"exclusion"`
}

// Sum returns the total of all weights.
func (w ScoringWeights) Sum() float64 {
	return w.Age + w.Location + w.Medication + w.Exclusion
}

// ScoringThresholds map a score to a status. Scores at or above Eligible are
// ELIGIBLE, at or above Potential are POTENTIALLY_ELIGIBLE, at or above
// Review are REQUIRES_REVIEW, and anything lower is INELIGIBLE.
type ScoringThresholds struct {
	Eligible  float64 `json:"eligible" yaml:"eligible" mapstructure:"eligible"`
	Potential float64 `json:"potential" yaml:"potential" mapstructure:"potential"`
	Review    float64 `json:"review" yaml:"review" mapstructure:"review"`
}

// EligibilityConfig holds settings for the eligibility scoring stage.
type EligibilityConfig struct {
	Weights    ScoringWeights    `json:"weights" yaml:"weights" mapstructure:"weights"`
	Thresholds ScoringThresholds `json:"thresholds" yaml:"thresholds" mapstructure:"thresholds"`

	// TopN is the number of trial ids kept in the summary (default 5).
	TopN int `json:"top_n" yaml:"top_n" mapstructure:"top_n"`

	// CheckDrugSafety enables the drug-safety lookup for patient medications.
	CheckDrugSafety bool `json:"check_drug_safety" yaml:"check_drug_safety" mapstructure:"check_drug_safety"`

	// LabelsPerDrug is the openFDA result limit per drug (default 1).
	LabelsPerDrug int `json:"labels_per_drug" yaml:"labels_per_drug" mapstructure:"labels_per_drug"`
}

// ReviewConfig holds settings for the human review checkpoint and its
// HTTP channel.
type ReviewConfig struct {
	// Enabled suspends every run at awaiting_review.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Addr is the listen address for the review server.
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// JWTSecret is the HS256 key for reviewer tokens. Empty disables auth.
	JWTSecret string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty" mapstructure:"jwt_secret"`
}

// StoreBackend selects the run-state store.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreSQLite   StoreBackend = "sqlite"
	StorePostgres StoreBackend = "postgres"
)

// StoreConfig selects where suspended and finished runs are persisted.
type StoreConfig struct {
	Backend StoreBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Path is the sqlite database file.
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// DSN is the postgres connection string.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// RetryConfig is the orchestrator's whole-stage retry policy.
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// Config is the complete trialmatch configuration.
type Config struct {
	Log         LogConfig         `json:"log" yaml:"log" mapstructure:"log"`
	Sources     SourcesConfig     `json:"sources" yaml:"sources" mapstructure:"sources"`
	Cache       CacheConfig       `json:"cache" yaml:"cache" mapstructure:"cache"`
	Profile     ProfileConfig     `json:"profile" yaml:"profile" mapstructure:"profile"`
	Discovery   DiscoveryConfig   `json:"discovery" yaml:"discovery" mapstructure:"discovery"`
	Eligibility EligibilityConfig `json:"eligibility" yaml:"eligibility" mapstructure:"eligibility"`
	Review      ReviewConfig      `json:"review" yaml:"review" mapstructure:"review"`
	Store       StoreConfig       `json:"store" yaml:"store" mapstructure:"store"`
	Retry       RetryConfig       `json:"retry" yaml:"retry" mapstructure:"retry"`
}
