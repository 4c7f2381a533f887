package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Replicate ReplicateConfig
	Gemini    GeminiConfig
	R2        R2Config
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	GeneratePerHour int
	LessonsPerMin   int
}

type ReplicateConfig struct {
	APIToken       string // server-side default credential, optional
	BaseURL        string
	ModelVersion   string
	AuthScheme     string
	PollInterval   time.Duration
	Timeout        time.Duration
	RequestTimeout time.Duration
}

type GeminiConfig struct {
	APIKey   string // server-side default credential, optional
	Model    string
	Endpoint string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("REPLICATE_API_TOKEN")
	readSecret("GEMINI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = v.BindEnv("ratelimit.lessons_per_min", "RATELIMIT_LESSONS_PER_MIN")
	_ = v.BindEnv("replicate.api_token", "REPLICATE_API_TOKEN")
	_ = v.BindEnv("replicate.base_url", "REPLICATE_BASE_URL")
	_ = v.BindEnv("replicate.model_version", "REPLICATE_MODEL_VERSION")
	_ = v.BindEnv("replicate.auth_scheme", "REPLICATE_AUTH_SCHEME")
	_ = v.BindEnv("replicate.poll_interval_ms", "REPLICATE_POLL_INTERVAL_MS")
	_ = v.BindEnv("replicate.timeout_ms", "REPLICATE_TIMEOUT_MS")
	_ = v.BindEnv("replicate.request_timeout_sec", "REPLICATE_REQUEST_TIMEOUT_SEC")
	_ = v.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("gemini.model", "GEMINI_MODEL")
	_ = v.BindEnv("gemini.endpoint", "GEMINI_ENDPOINT")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.generate_per_hour", 20)
	v.SetDefault("ratelimit.lessons_per_min", 10)

	// Replicate defaults (SDXL)
	v.SetDefault("replicate.base_url", "https://api.replicate.com/v1")
	v.SetDefault("replicate.model_version", "af1a68a271597604546c09c64aabcd7782c114a63539a4a8d14d1eeda5630c33")
	v.SetDefault("replicate.auth_scheme", "Token")
	v.SetDefault("replicate.poll_interval_ms", 1000)
	v.SetDefault("replicate.timeout_ms", 120000)
	v.SetDefault("replicate.request_timeout_sec", 30)

	// Gemini defaults
	v.SetDefault("gemini.model", "gemini-pro")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
			LessonsPerMin:   v.GetInt("ratelimit.lessons_per_min"),
		},
		Replicate: ReplicateConfig{
			APIToken:       v.GetString("replicate.api_token"),
			BaseURL:        strings.TrimRight(v.GetString("replicate.base_url"), "/"),
			ModelVersion:   v.GetString("replicate.model_version"),
			AuthScheme:     v.GetString("replicate.auth_scheme"),
			PollInterval:   time.Duration(v.GetInt("replicate.poll_interval_ms")) * time.Millisecond,
			Timeout:        time.Duration(v.GetInt("replicate.timeout_ms")) * time.Millisecond,
			RequestTimeout: time.Duration(v.GetInt("replicate.request_timeout_sec")) * time.Second,
		},
		Gemini: GeminiConfig{
			APIKey:   v.GetString("gemini.api_key"),
			Model:    v.GetString("gemini.model"),
			Endpoint: v.GetString("gemini.endpoint"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}
