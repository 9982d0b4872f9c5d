package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Listen addresses
	APIAddr     string
	GatewayAddr string

	// Storage: "scylla" or "memory"
	Store          string
	ScyllaHosts    []string
	ScyllaKeyspace string

	RedisAddr string

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string

	// Snowflake node, unique per process
	NodeID int64

	FanoutWorkers int
	FanoutQueue   int

	TypingTimeout time.Duration

	LogLevel string
	LogFile  string

	RateLimitRPS   float64
	RateLimitBurst int

	// Where the API stores uploaded attachments
	UploadDir string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		APIAddr:     getEnv("API_ADDR", ":8081"),
		GatewayAddr: getEnv("GATEWAY_ADDR", ":8080"),

		Store:          getEnv("STORE", "scylla"),
		ScyllaHosts:    getEnvAsList("SCYLLA_HOSTS", "localhost:9042"),
		ScyllaKeyspace: getEnv("SCYLLA_KEYSPACE", "chat"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),

		KafkaBrokers: getEnvAsList("KAFKA_BROKERS", "localhost:19092"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "chat-events"),

		JWTSecret: getEnv("JWT_SECRET", "my_secret_key"),
		NodeID:    int64(getEnvAsInt("NODE_ID", 1)),

		FanoutWorkers: getEnvAsInt("FANOUT_WORKERS", 8),
		FanoutQueue:   getEnvAsInt("FANOUT_QUEUE", 1024),

		TypingTimeout: getEnvAsDuration("TYPING_TIMEOUT", 2*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 40),

		UploadDir: getEnv("UPLOAD_DIR", "uploads"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
