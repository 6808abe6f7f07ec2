package model

import "time"

// Config holds the complete engine configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Blob   BlobConfig   `yaml:"blob" mapstructure:"blob"`
	Anchor AnchorConfig `yaml:"anchor" mapstructure:"anchor"`
	Fusion FusionConfig `yaml:"fusion" mapstructure:"fusion"`
	HTTP   HTTPConfig   `yaml:"http" mapstructure:"http"`
	LLM    LLMConfig    `yaml:"llm" mapstructure:"llm"`
	Output OutputConfig `yaml:"output" mapstructure:"output"`
}

// StoreConfig configures the embedded BadgerDB store.
type StoreConfig struct {
	Path       string        `yaml:"path" mapstructure:"path"`
	InMemory   bool          `yaml:"in_memory" mapstructure:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes" mapstructure:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" mapstructure:"gc_interval"`
}

// BlobConfig configures the content-addressed archive of raw bytes.
type BlobConfig struct {
	Dir         string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL   time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	MemorySweep time.Duration `yaml:"memory_sweep" mapstructure:"memory_sweep"`
}

// AnchorConfig configures chunking and anchor re-validation.
type AnchorConfig struct {
	PolicyVersion string        `yaml:"policy_version" mapstructure:"policy_version"`
	MinChunkRunes int           `yaml:"min_chunk_runes" mapstructure:"min_chunk_runes"`
	MaxChunkRunes int           `yaml:"max_chunk_runes" mapstructure:"max_chunk_runes"`
	ContextRunes  int           `yaml:"context_runes" mapstructure:"context_runes"` // quote selector prefix/suffix length
	LocateTimeout time.Duration `yaml:"locate_timeout" mapstructure:"locate_timeout"`
	TextCacheTTL  time.Duration `yaml:"text_cache_ttl" mapstructure:"text_cache_ttl"`
	Revalidators  int           `yaml:"revalidators" mapstructure:"revalidators"` // concurrent locate workers
}

// FusionConfig configures clustering and the confidence formula.
// Confidence = modalityWeight * (1 - 0.5^independentSources), capped at
// GapFloor when independentSources < MinIndependentSources.
type FusionConfig struct {
	TimeBucket            time.Duration `yaml:"time_bucket" mapstructure:"time_bucket"`
	MinIndependentSources int           `yaml:"min_independent_sources" mapstructure:"min_independent_sources"`
	FactThreshold         float64       `yaml:"fact_threshold" mapstructure:"fact_threshold"`
	GapFloor              float64       `yaml:"gap_floor" mapstructure:"gap_floor"`
	SimilarityThreshold   float64       `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	LockTTL               time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// HTTPConfig configures the thin ingest fetcher.
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	InsecureTLS   bool          `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	RatePerSecond float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int           `yaml:"burst" mapstructure:"burst"`
	HTTPProxy     string        `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy" mapstructure:"https_proxy"`
}

// LLMConfig configures the optional LLM claim proposer.
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // "openai", "ollama", "" (disabled)
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"-" mapstructure:"-"` // from environment only, never persisted
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OutputConfig configures CLI output behavior.
type OutputConfig struct {
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
}

// DefaultConfig returns the built-in defaults. The CLI layers flags, env
// vars, and the config file on top.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:       "",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Blob: BlobConfig{
			Dir:         "",
			MemoryTTL:   15 * time.Minute,
			MemorySweep: 10 * time.Minute,
		},
		Anchor: AnchorConfig{
			PolicyVersion: "chunk:v1",
			MinChunkRunes: 30,
			MaxChunkRunes: 2000,
			ContextRunes:  32,
			LocateTimeout: 10 * time.Second,
			TextCacheTTL:  15 * time.Minute,
			Revalidators:  4,
		},
		Fusion: FusionConfig{
			TimeBucket:            24 * time.Hour * 365, // yearly buckets suit slow-moving OSINT facts
			MinIndependentSources: 2,
			FactThreshold:         0.75,
			GapFloor:              0.5,
			SimilarityThreshold:   0.8,
			LockTTL:               5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Timeout:       2 * time.Minute,
			UserAgent:     "Evidentia/0.1 (+https://github.com/avolkau/evidentia)",
			MaxBodyBytes:  2_000_000,
			RespectRobots: true,
			RatePerSecond: 1,
			Burst:         3,
		},
		LLM: LLMConfig{
			Provider:  "",
			Timeout:   30,
			MaxTokens: 1500,
		},
	}
}
