package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the cache daemon.
type Config struct {
	Port string
	Env  string

	// Durable storage. DatabaseURL selects PostgreSQL; otherwise SQLite at
	// DBPath. RedisURL enables the key-value fallback tier; empty keeps it
	// in-process.
	DBPath      string
	DatabaseURL string
	RedisURL    string

	// Memory tier bounds
	MaxRooms          int
	MaxRoomBytes      int64
	MaxMessages       int
	MaxUsers          int
	CompressThreshold int

	// Preload engine
	PreloadBudgetBytes int64 // per tumbling minute
	PreloadTopN        int
	MessagesPerRoom    int
	AvgMessageBytes    int64

	// Maintenance
	MessageTTL      time.Duration
	CleanupInterval time.Duration
	MetricsInterval time.Duration
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8090"),
		Env:         getEnv("ENV", "development"),
		DBPath:      getEnv("DB_PATH", "./data/chatcache.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		MaxRooms:          getEnvInt("CACHE_MAX_ROOMS", 50),
		MaxRoomBytes:      getEnvInt64("CACHE_MAX_ROOM_BYTES", 16<<20),
		MaxMessages:       getEnvInt("CACHE_MAX_MESSAGES", 5000),
		MaxUsers:          getEnvInt("CACHE_MAX_USERS", 100),
		CompressThreshold: getEnvInt("CACHE_COMPRESS_THRESHOLD", 8<<10),

		PreloadBudgetBytes: getEnvInt64("PRELOAD_BUDGET_BYTES", 512<<10),
		PreloadTopN:        getEnvInt("PRELOAD_TOP_N", 5),
		MessagesPerRoom:    getEnvInt("PRELOAD_MESSAGES_PER_ROOM", 50),
		AvgMessageBytes:    getEnvInt64("PRELOAD_AVG_MESSAGE_BYTES", 512),

		MessageTTL:      getEnvDuration("MESSAGE_TTL", 7*24*time.Hour),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 10*time.Minute),
		MetricsInterval: getEnvDuration("METRICS_INTERVAL", 30*time.Second),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
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
