// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Generator backends.
const (
	GeneratorNone   = "none"
	GeneratorOpenAI = "openai"
	GeneratorGRPC   = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	DBPath             string
	DatabaseURL        string // when set, sessions are stored in PostgreSQL instead of SQLite
	AgentsFile         string
	AllowedOrigins     []string
	SessionTTL         time.Duration
	SweepInterval      time.Duration
	MaxRequestBodySize int64
	RateLimit          RateLimitConfig
	Generator          GeneratorConfig
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// GeneratorConfig selects and configures the response generator.
type GeneratorConfig struct {
	Backend      string
	OpenAIAPIKey string
	OpenAIModel  string
	GRPCAddr     string
	Retries      int
	RetryDelay   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBPath:             getEnv("DB_PATH", "./data/callagent.db"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		AgentsFile:         getEnv("AGENTS_FILE", ""),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		SessionTTL:         getEnvDuration("SESSION_TTL", 24*time.Hour),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 64<<10)),
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 10),
		},
		Generator: GeneratorConfig{
			Backend:      strings.ToLower(getEnv("GENERATOR", GeneratorNone)),
			OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:  getEnv("OPENAI_MODEL", ""),
			GRPCAddr:     getEnv("GENERATOR_GRPC_ADDR", "localhost:50051"),
			Retries:      getEnvInt("GENERATOR_RETRIES", 3),
			RetryDelay:   getEnvDuration("GENERATOR_RETRY_DELAY", time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DatabaseURL == "" && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty when DATABASE_URL is not set")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be > 0")
	}
	switch c.Generator.Backend {
	case GeneratorNone:
	case GeneratorOpenAI:
		if c.Generator.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when GENERATOR=openai")
		}
	case GeneratorGRPC:
		if c.Generator.GRPCAddr == "" {
			return fmt.Errorf("GENERATOR_GRPC_ADDR is required when GENERATOR=grpc")
		}
	default:
		return fmt.Errorf("GENERATOR must be one of none, openai, grpc (got %q)", c.Generator.Backend)
	}
	return nil
}

// UsePostgres reports whether sessions should be stored in PostgreSQL.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
