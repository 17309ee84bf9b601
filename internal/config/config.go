// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"ADVISOR_HOST" yaml:"host"`
	Port int    `envconfig:"ADVISOR_PORT" yaml:"port"`

	// Qdrant configuration
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Gemini configuration
	Gemini GeminiConfig `yaml:"gemini"`

	// Retrieval configuration
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Guard configuration
	Guard GuardConfig `yaml:"guard"`

	// Trace configuration
	Trace TraceConfig `yaml:"trace"`

	// Conversation configuration
	Conversation ConversationConfig `yaml:"conversation"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Security configuration
	Security SecurityConfig `yaml:"security"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	URL        string `envconfig:"QDRANT_URL" yaml:"url"`
	APIKey     string `envconfig:"QDRANT_API_KEY" yaml:"api_key"`
	Collection string `envconfig:"QDRANT_COLLECTION" yaml:"collection"`
	VectorSize int    `envconfig:"QDRANT_VECTOR_SIZE" yaml:"vector_size"`
}

// GeminiConfig holds generation model settings.
type GeminiConfig struct {
	APIKey        string `envconfig:"GEMINI_API_KEY" yaml:"api_key"`
	BaseURL       string `envconfig:"GEMINI_BASE_URL" yaml:"base_url"`
	EmbedModel    string `envconfig:"ADVISOR_EMBED_MODEL" yaml:"embed_model"`
	PrimaryModel  string `envconfig:"ADVISOR_PRIMARY_MODEL" yaml:"primary_model"`
	FallbackModel string `envconfig:"ADVISOR_FALLBACK_MODEL" yaml:"fallback_model"`
	RouterModel   string `envconfig:"ADVISOR_ROUTER_MODEL" yaml:"router_model"`
	GuardModel    string `envconfig:"ADVISOR_GUARD_MODEL" yaml:"guard_model"`

	// Per-call timeouts in milliseconds.
	EmbedTimeoutMs    int `envconfig:"ADVISOR_EMBED_TIMEOUT_MS" yaml:"embed_timeout_ms"`
	GenerateTimeoutMs int `envconfig:"ADVISOR_GENERATE_TIMEOUT_MS" yaml:"generate_timeout_ms"`
	RouterTimeoutMs   int `envconfig:"ADVISOR_ROUTER_TIMEOUT_MS" yaml:"router_timeout_ms"`
	GuardTimeoutMs    int `envconfig:"ADVISOR_GUARD_TIMEOUT_MS" yaml:"guard_timeout_ms"`
}

// RetrievalConfig holds evidence retrieval settings.
type RetrievalConfig struct {
	MatchCount     int     `envconfig:"ADVISOR_MATCH_COUNT" yaml:"match_count"`
	MatchThreshold float64 `envconfig:"ADVISOR_MATCH_THRESHOLD" yaml:"match_threshold"`
}

// CacheConfig holds cache settings for both pipeline caches.
type CacheConfig struct {
	RetrievalTTLMs      int `envconfig:"ADVISOR_RETRIEVAL_CACHE_TTL_MS" yaml:"retrieval_ttl_ms"`
	RetrievalMaxEntries int `envconfig:"ADVISOR_RETRIEVAL_CACHE_SIZE" yaml:"retrieval_max_entries"`
	ResponseTTLMs       int `envconfig:"ADVISOR_RESPONSE_CACHE_TTL_MS" yaml:"response_ttl_ms"`
	ResponseMaxEntries  int `envconfig:"ADVISOR_RESPONSE_CACHE_SIZE" yaml:"response_max_entries"`
}

// GuardConfig holds grounding verification settings.
type GuardConfig struct {
	Enabled bool `envconfig:"ADVISOR_GUARD_ENABLED" yaml:"enabled"`
	// FailClosed discards the answer when guard output cannot be parsed.
	// Default is fail-open: keep the answer and flag the parse failure.
	FailClosed bool `envconfig:"ADVISOR_GUARD_FAIL_CLOSED" yaml:"fail_closed"`
}

// TraceConfig holds trace recorder settings.
type TraceConfig struct {
	Capacity int    `envconfig:"ADVISOR_TRACE_CAPACITY" yaml:"capacity"`
	RedisURL string `envconfig:"ADVISOR_TRACE_REDIS_URL" yaml:"redis_url"`
}

// ConversationConfig holds conversation store settings.
type ConversationConfig struct {
	RedisURL string `envconfig:"ADVISOR_CONVERSATION_REDIS_URL" yaml:"redis_url"`
	TTLHours int    `envconfig:"ADVISOR_CONVERSATION_TTL_HOURS" yaml:"ttl_hours"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"ADVISOR_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"ADVISOR_KAFKA_BROKERS" yaml:"kafka_brokers"`
	ClientID     string `envconfig:"ADVISOR_BUS_CLIENT_ID" yaml:"client_id"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"ADVISOR_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"ADVISOR_LOG_FORMAT" yaml:"format"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	// AdminAPIKey guards the observability endpoints.
	AdminAPIKey string `envconfig:"ADVISOR_ADMIN_API_KEY" yaml:"admin_api_key"`
	RateLimit   int    `envconfig:"ADVISOR_RATE_LIMIT" yaml:"rate_limit"` // 0 = disabled
	CORSOrigins string `envconfig:"ADVISOR_CORS_ORIGINS" yaml:"cors_origins"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080

	cfg.Qdrant = QdrantConfig{
		URL:        "http://localhost:6333",
		Collection: "knowledge_chunks",
		VectorSize: 768,
	}

	cfg.Gemini = GeminiConfig{
		EmbedModel:        "text-embedding-004",
		PrimaryModel:      "gemini-2.5-flash",
		FallbackModel:     "gemini-2.0-flash",
		RouterModel:       "gemini-2.0-flash-lite",
		GuardModel:        "gemini-2.0-flash",
		EmbedTimeoutMs:    10000,
		GenerateTimeoutMs: 30000,
		RouterTimeoutMs:   8000,
		GuardTimeoutMs:    20000,
	}

	cfg.Retrieval = RetrievalConfig{
		MatchCount:     5,
		MatchThreshold: 0.40,
	}

	cfg.Cache = CacheConfig{
		RetrievalTTLMs:      5 * 60 * 1000,
		RetrievalMaxEntries: 500,
		ResponseTTLMs:       10 * 60 * 1000,
		ResponseMaxEntries:  200,
	}

	cfg.Guard = GuardConfig{
		Enabled:    true,
		FailClosed: false,
	}

	cfg.Trace = TraceConfig{
		Capacity: 200,
	}

	cfg.Conversation = ConversationConfig{
		RedisURL: "redis://localhost:6379",
		TTLHours: 72,
	}

	cfg.Bus = BusConfig{
		Type:     "memory",
		ClientID: "advisor",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Security = SecurityConfig{
		RateLimit:   0,
		CORSOrigins: "*",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.Qdrant.Collection == "" {
		errs = append(errs, "qdrant collection is required")
	}

	if c.Qdrant.VectorSize < 1 {
		errs = append(errs, "qdrant vector_size must be positive")
	}

	if c.Gemini.PrimaryModel == "" {
		errs = append(errs, "primary model is required")
	}

	if c.Gemini.FallbackModel == "" {
		errs = append(errs, "fallback model is required")
	}

	if c.Retrieval.MatchCount < 1 {
		errs = append(errs, "match_count must be positive")
	}

	if c.Retrieval.MatchThreshold < 0 || c.Retrieval.MatchThreshold > 1 {
		errs = append(errs, "match_threshold must be between 0 and 1")
	}

	if c.Cache.RetrievalTTLMs < 0 || c.Cache.ResponseTTLMs < 0 {
		errs = append(errs, "cache TTLs must not be negative")
	}

	if c.Cache.RetrievalMaxEntries < 1 || c.Cache.ResponseMaxEntries < 1 {
		errs = append(errs, "cache max entries must be positive")
	}

	if c.Trace.Capacity < 1 {
		errs = append(errs, "trace capacity must be positive")
	}

	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	if c.Bus.Type == "kafka" && c.Bus.KafkaBrokers == "" {
		errs = append(errs, "kafka brokers required when bus type is kafka")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EmbedTimeout returns the embedding call timeout as a duration.
func (c *GeminiConfig) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutMs) * time.Millisecond
}

// GenerateTimeout returns the generation call timeout as a duration.
func (c *GeminiConfig) GenerateTimeout() time.Duration {
	return time.Duration(c.GenerateTimeoutMs) * time.Millisecond
}

// RouterTimeout returns the router call timeout as a duration.
func (c *GeminiConfig) RouterTimeout() time.Duration {
	return time.Duration(c.RouterTimeoutMs) * time.Millisecond
}

// GuardTimeout returns the guard call timeout as a duration.
func (c *GeminiConfig) GuardTimeout() time.Duration {
	return time.Duration(c.GuardTimeoutMs) * time.Millisecond
}
