package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the recommendation engine and
// its HTTP surface. Values come from environment variables; cmd entrypoints
// load a .env file first via godotenv.
type Config struct {
	// Server
	Port     string
	LogLevel string
	LogFile  string

	// Storage
	DatabaseURL string // GORM DSN; "sqlite://path" or a postgres DSN
	RedisHost   string
	RedisPort   string
	RedisPass   string

	// Optional collaborators
	ElasticsearchURL string
	ProviderURL      string // feature provider REST endpoint
	ProviderAPIKey   string

	// Engine tunables
	EmbeddingDim        int
	IndexCapacity       int
	BruteForceThreshold int
	EFConstruction      int
	EFSearch            int
	MMax                int
	MMax0               int

	ReplenishThreshold int
	ReplenishCooldown  time.Duration
	ProviderTimeout    time.Duration
	MaxPerArtist       int
	RadioSeedWeight    float64
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnvOrDefault("PORT", "8080"),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:  getEnvOrDefault("LOG_FILE", "resound.log"),

		DatabaseURL: getEnvOrDefault("DATABASE_URL", "sqlite://resound.db"),
		RedisHost:   os.Getenv("REDIS_HOST"),
		RedisPort:   getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPass:   os.Getenv("REDIS_PASSWORD"),

		ElasticsearchURL: os.Getenv("ELASTICSEARCH_URL"),
		ProviderURL:      os.Getenv("PROVIDER_URL"),
		ProviderAPIKey:   os.Getenv("PROVIDER_API_KEY"),

		EmbeddingDim:        128,
		IndexCapacity:       getEnvInt("INDEX_CAPACITY", 100000),
		BruteForceThreshold: getEnvInt("INDEX_BRUTE_FORCE_THRESHOLD", 1000),
		EFConstruction:      getEnvInt("INDEX_EF_CONSTRUCTION", 200),
		EFSearch:            getEnvInt("INDEX_EF_SEARCH", 50),
		MMax:                getEnvInt("INDEX_M_MAX", 16),
		MMax0:               getEnvInt("INDEX_M_MAX0", 32),

		ReplenishThreshold: getEnvInt("QUEUE_REPLENISH_THRESHOLD", 2),
		ReplenishCooldown:  getEnvDuration("QUEUE_REPLENISH_COOLDOWN", 5*time.Second),
		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second),
		MaxPerArtist:       getEnvInt("QUEUE_MAX_PER_ARTIST", 2),
		RadioSeedWeight:    getEnvFloat("RADIO_SEED_WEIGHT", 0.7),
	}

	if cfg.RadioSeedWeight < 0 || cfg.RadioSeedWeight > 1 {
		return nil, fmt.Errorf("RADIO_SEED_WEIGHT must be in [0,1], got %v", cfg.RadioSeedWeight)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
