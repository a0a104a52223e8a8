package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// LLM configuration for the extraction collaborator
	LLM LLMConfig `mapstructure:"llm"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// CircuitBreaker configuration for the extraction client
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Graph holds the knowledge-graph feature configuration
	Graph Graph `mapstructure:"graph"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// DatabaseConfig holds graph store configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // memory, badger, neo4j
	URI      string `mapstructure:"uri"`    // bolt URI or badger path
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// LLMConfig holds configuration for the extraction model.
type LLMConfig struct {
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// EmbeddingConfig holds embedding model configuration.
type EmbeddingConfig struct {
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
}

// CircuitBreakerConfig holds configuration for circuit breaking around the
// extraction collaborator.
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// TelemetryConfig holds telemetry configuration.
type TelemetryConfig struct {
	ParquetPath string `mapstructure:"parquet_path"`
}

// Graph is the knowledge-graph feature configuration. It is a plain value
// object passed into components at construction; components never read
// environment or global state directly, which keeps the pipeline testable
// without process-wide setup.
type Graph struct {
	// Enabled is the master switch for all enhanced graph features.
	Enabled bool `mapstructure:"enabled"`

	// Feature toggles, all gated behind Enabled.
	Canonicalization   bool `mapstructure:"canonicalization"`
	TypedRelationships bool `mapstructure:"typed_relationships"`
	SymmetricMirroring bool `mapstructure:"symmetric_mirroring"`
	Parallelism        bool `mapstructure:"parallelism"`

	// EntityDistanceThreshold is the cosine-similarity bar for fuzzy
	// entity deduplication. Zero means "use the mode default": 0.85 when
	// enhanced features are on, 0.1 in legacy mode.
	EntityDistanceThreshold float64 `mapstructure:"entity_distance_threshold"`

	// SeedSimilarityThreshold selects retrieval seed entities.
	SeedSimilarityThreshold float64 `mapstructure:"seed_similarity_threshold"`

	// HopDecay is the per-hop decay factor applied to traversal scores.
	HopDecay float64 `mapstructure:"hop_decay"`

	// MinRelationshipConfidence drops relationships below this confidence
	// before persistence. Boundary inclusive.
	MinRelationshipConfidence float64 `mapstructure:"min_relationship_confidence"`

	// MaxEdgesPerEntity caps outgoing degree; lowest-weight excess edges
	// are evicted first.
	MaxEdgesPerEntity int `mapstructure:"max_edges_per_entity"`

	// MaxWorkers bounds the ingestion worker pool. Zero means CPU count
	// plus four, tuned for the mix of CPU-bound canonicalization and
	// I/O-bound extraction calls.
	MaxWorkers int `mapstructure:"max_workers"`

	// ChunkTimeout bounds each chunk's end-to-end processing.
	ChunkTimeout time.Duration `mapstructure:"chunk_timeout"`

	// PreserveCaseEntities lists names whose case is significant and must
	// survive normalization (domain abbreviations).
	PreserveCaseEntities []string `mapstructure:"preserve_case_entities"`
}

// legacyDistanceThreshold matches the pre-enhancement dedup behavior.
const legacyDistanceThreshold = 0.1

// DefaultGraph returns the graph configuration with enhanced features on.
func DefaultGraph() Graph {
	return Graph{
		Enabled:                   true,
		Canonicalization:          true,
		TypedRelationships:        true,
		SymmetricMirroring:        true,
		Parallelism:               true,
		EntityDistanceThreshold:   0.85,
		SeedSimilarityThreshold:   0.5,
		HopDecay:                  0.8,
		MinRelationshipConfidence: 0.3,
		MaxEdgesPerEntity:         50,
		ChunkTimeout:              30 * time.Second,
		PreserveCaseEntities: []string{
			"ICU", "ARDS", "ECMO", "IABP", "CVP", "PCWP", "SVR", "MAP",
			"SOFA", "APACHE", "SIRS", "MODS", "DIC", "AKI", "CKD",
			"IV", "IM", "SQ", "PO", "PR", "SL", "ET", "IO",
			"ACE", "ARB", "CCB", "NSAID", "SSRI", "MAOI", "MAO", "COMT",
			"FDA", "WHO", "ACCP", "SCCM", "AHA", "ESC", "NICE",
			"SQL", "API", "JSON", "XML", "HTTP", "HTTPS",
		},
	}
}

// CanonicalizationOn reports whether entity canonicalization is active.
func (g Graph) CanonicalizationOn() bool {
	return g.Enabled && g.Canonicalization
}

// TypedRelationshipsOn reports whether semantic typing is active.
func (g Graph) TypedRelationshipsOn() bool {
	return g.Enabled && g.TypedRelationships
}

// SymmetricMirroringOn reports whether symmetric edges are materialized.
func (g Graph) SymmetricMirroringOn() bool {
	return g.Enabled && g.SymmetricMirroring
}

// ParallelismOn reports whether the bounded worker pool is active.
func (g Graph) ParallelismOn() bool {
	return g.Enabled && g.Parallelism
}

// EffectiveDistanceThreshold returns the entity dedup threshold for the
// current mode: the configured value when enhanced features are on, the
// legacy 0.1 otherwise.
func (g Graph) EffectiveDistanceThreshold() float64 {
	if !g.Enabled {
		return legacyDistanceThreshold
	}
	if g.EntityDistanceThreshold == 0 {
		return 0.85
	}
	return g.EntityDistanceThreshold
}

// WorkerCount returns the effective worker pool size.
func (g Graph) WorkerCount() int {
	if g.MaxWorkers > 0 {
		return g.MaxWorkers
	}
	return runtime.NumCPU() + 4
}

// Validate rejects structurally invalid graph configuration before any
// chunk is processed.
func (g Graph) Validate() error {
	if g.MinRelationshipConfidence < 0 || g.MinRelationshipConfidence > 1 {
		return fmt.Errorf("min_relationship_confidence must be in [0, 1], got %v", g.MinRelationshipConfidence)
	}
	if g.EntityDistanceThreshold < 0 || g.EntityDistanceThreshold > 1 {
		return fmt.Errorf("entity_distance_threshold must be in [0, 1], got %v", g.EntityDistanceThreshold)
	}
	if g.MaxEdgesPerEntity < 0 {
		return fmt.Errorf("max_edges_per_entity cannot be negative, got %d", g.MaxEdgesPerEntity)
	}
	if g.MaxWorkers < 0 {
		return fmt.Errorf("max_workers cannot be negative, got %d", g.MaxWorkers)
	}
	if g.ChunkTimeout < 0 {
		return fmt.Errorf("chunk_timeout cannot be negative, got %v", g.ChunkTimeout)
	}
	return nil
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)

	if err := config.Graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")

	// Database defaults
	viper.SetDefault("database.driver", "memory")
	viper.SetDefault("database.uri", "")
	viper.SetDefault("database.username", "")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.database", "")

	// LLM defaults
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.max_tokens", 4096)

	// Embedding defaults
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimensions", 1536)

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	// Graph defaults
	defaults := DefaultGraph()
	viper.SetDefault("graph.enabled", defaults.Enabled)
	viper.SetDefault("graph.canonicalization", defaults.Canonicalization)
	viper.SetDefault("graph.typed_relationships", defaults.TypedRelationships)
	viper.SetDefault("graph.symmetric_mirroring", defaults.SymmetricMirroring)
	viper.SetDefault("graph.parallelism", defaults.Parallelism)
	viper.SetDefault("graph.entity_distance_threshold", defaults.EntityDistanceThreshold)
	viper.SetDefault("graph.seed_similarity_threshold", defaults.SeedSimilarityThreshold)
	viper.SetDefault("graph.hop_decay", defaults.HopDecay)
	viper.SetDefault("graph.min_relationship_confidence", defaults.MinRelationshipConfidence)
	viper.SetDefault("graph.max_edges_per_entity", defaults.MaxEdgesPerEntity)
	viper.SetDefault("graph.chunk_timeout", defaults.ChunkTimeout)
	viper.SetDefault("graph.preserve_case_entities", defaults.PreserveCaseEntities)

	// Telemetry defaults
	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("telemetry.parquet_path", fmt.Sprintf("%s/.kgindex/telemetry", home))
	}
}

// overrideWithEnv overrides config with environment variables.
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
	}

	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Database.Driver = "neo4j"
		config.Database.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Database.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Database.Password = pass
	}

	if dbDriver := os.Getenv("DB_DRIVER"); dbDriver != "" {
		config.Database.Driver = dbDriver
	}
	if dbURI := os.Getenv("DB_URI"); dbURI != "" {
		config.Database.URI = dbURI
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
}
