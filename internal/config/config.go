package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr       string
	QueueWorkers   int
	QueueBuf       int
	JobMaxDuration time.Duration

	PollInterval     time.Duration
	PollMaxAttempts  int
	JobRetention     time.Duration
	SweepInterval    time.Duration
	BatchConcurrency int
	MaxBatchItems    int
	DefaultStrength  float64

	RateLimitRequests int
	RateLimitWindow   time.Duration

	OpenAIAPIKey    string
	OpenAIVision    bool
	GeminiAPIKey    string
	GeminiModel     string
	LeonardoAPIKey  string
	LeonardoBaseURL string
	LeonardoModelID string

	ShopifyAPIKey      string
	ShopifyAPISecret   string
	ShopifyAccessToken string
	ShopifyAPIVersion  string

	StorageMode      string
	S3Bucket         string
	S3Endpoint       string
	S3Region         string
	AWSAccessKey     string
	AWSSecretKey     string
	S3ForcePathStyle bool
	LocalStorageDir  string
	LocalStorageURL  string
	// StoragePresignTTL > 0 publishes presigned links instead of public URLs.
	StoragePresignTTL time.Duration

	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	LogLevel  string
	LogFormat string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
		slog.Warn("bad int env, using default", "key", key, "value", v)
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "true" || v == "1" {
			return true
		}
		if v == "false" || v == "0" {
			return false
		}
		slog.Warn("bad bool env, using default", "key", key, "value", v)
	}
	return def
}

func mustFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
		slog.Warn("bad float env, using default", "key", key, "value", v)
	}
	return def
}

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
		slog.Warn("bad duration env, using default", "key", key, "value", v)
	}
	return def
}

func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}

	// try to find .env files starting from current directory and going up
	currentDir, err := os.Getwd()
	if err != nil {
		slog.Debug("failed to get current directory", "error", err)
		return
	}

	// look in current directory and up to 3 parent directories
	searchDirs := []string{currentDir}
	for i := 0; i < 3; i++ {
		parent := filepath.Dir(currentDir)
		if parent == currentDir {
			break // reached root
		}
		searchDirs = append(searchDirs, parent)
		currentDir = parent
	}

	loadedAny := false
	for _, dir := range searchDirs {
		for _, envFile := range envFiles {
			envPath := filepath.Join(dir, envFile)
			if _, err := os.Stat(envPath); err == nil {
				if err := godotenv.Load(envPath); err == nil {
					slog.Debug("loaded environment file", "path", envPath)
					loadedAny = true
				} else {
					slog.Debug("failed to load environment file", "path", envPath, "error", err)
				}
			}
		}
		if loadedAny {
			break // stop searching once we find .env files in a directory
		}
	}

	if !loadedAny {
		slog.Debug("no .env files found, using system environment variables only")
	}
}

func Load() Config {
	loadEnvFiles()
	return Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		QueueWorkers:   mustInt("QUEUE_WORKERS", 4),
		QueueBuf:       mustInt("QUEUE_BUFFER", 1024),
		JobMaxDuration: mustDuration("JOB_MAX_DURATION", 5*time.Minute),

		PollInterval:     mustDuration("POLL_INTERVAL", 3*time.Second),
		PollMaxAttempts:  mustInt("POLL_MAX_ATTEMPTS", 60),
		JobRetention:     mustDuration("JOB_RETENTION", 5*time.Minute),
		SweepInterval:    mustDuration("SWEEP_INTERVAL", time.Minute),
		BatchConcurrency: mustInt("BATCH_CONCURRENCY", 1),
		MaxBatchItems:    mustInt("MAX_BATCH_ITEMS", 50),
		DefaultStrength:  mustFloat("DEFAULT_STRENGTH", 0.15),

		RateLimitRequests: mustInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   mustDuration("RATE_LIMIT_WINDOW", time.Minute),

		OpenAIAPIKey:    getenv("OPENAI_API_KEY", ""),
		OpenAIVision:    getBool("OPENAI_VISION", true),
		GeminiAPIKey:    getenv("GEMINI_API_KEY", ""),
		GeminiModel:     getenv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		LeonardoAPIKey:  getenv("LEONARDO_API_KEY", ""),
		LeonardoBaseURL: getenv("LEONARDO_BASE_URL", "https://cloud.leonardo.ai/api/rest/v1"),
		LeonardoModelID: getenv("LEONARDO_MODEL_ID", ""),

		ShopifyAPIKey:      getenv("SHOPIFY_API_KEY", ""),
		ShopifyAPISecret:   getenv("SHOPIFY_API_SECRET", "dev-secret-change-me"),
		ShopifyAccessToken: getenv("SHOPIFY_ACCESS_TOKEN", ""),
		ShopifyAPIVersion:  getenv("SHOPIFY_API_VERSION", "2025-07"),

		StorageMode:      getenv("STORAGE_MODE", "local"),
		S3Bucket:         getenv("S3_BUCKET", "shopgen-images"),
		S3Endpoint:       getenv("S3_ENDPOINT", ""),
		S3Region:         getenv("S3_REGION", "us-east-1"),
		AWSAccessKey:     getenv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:     getenv("AWS_SECRET_ACCESS_KEY", ""),
		S3ForcePathStyle: getBool("S3_FORCE_PATH_STYLE", false),
		LocalStorageDir:  getenv("LOCAL_STORAGE_DIR", "./uploads"),
		LocalStorageURL:  getenv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		StoragePresignTTL: mustDuration("STORAGE_PRESIGN_TTL", 0),

		DatabaseURL:        getenv("DATABASE_URL", ""),
		RedisURL:           getenv("REDIS_URL", ""),
		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"https://admin.shopify.com"}),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "text"),
	}
}
