package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Runner strategies for transcode jobs.
const (
	RunnerInline = "inline"
	RunnerQueue  = "queue"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Media    MediaConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/recordings?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings for the auth collaborator.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Bucket               string
	PresignExpireMinutes int
}

// MediaConfig holds transcode pipeline settings.
type MediaConfig struct {
	RecordingsDir  string        // root under which local raw recordings live
	HLSOutputDir   string        // root for HLS output, one subdirectory per recording
	SegmentSeconds int           // HLS segment duration
	Workers        int           // inline-runner concurrency limit
	SoftTimeout    time.Duration // cooperative abort (SIGTERM to ffmpeg)
	HardTimeout    time.Duration // forced kill past the soft limit
	Runner         string        // inline | queue
	JobTTL         time.Duration // eviction delay for terminal in-memory jobs
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "recordings"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Bucket:               getEnv("AWS_BUCKET_NAME", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 60),
		},
		Media: MediaConfig{
			RecordingsDir:  getEnv("RECORDINGS_DIR", "/recordings"),
			HLSOutputDir:   getEnv("HLS_OUTPUT_DIR", "/recordings/hls"),
			SegmentSeconds: getEnvInt("HLS_SEGMENT_SECONDS", 10),
			Workers:        getEnvInt("TRANSCODE_WORKERS", 2),
			SoftTimeout:    time.Duration(getEnvInt("TRANSCODE_SOFT_TIMEOUT_MIN", 50)) * time.Minute,
			HardTimeout:    time.Duration(getEnvInt("TRANSCODE_HARD_TIMEOUT_MIN", 60)) * time.Minute,
			Runner:         getEnv("JOB_RUNNER", RunnerInline),
			JobTTL:         time.Duration(getEnvInt("JOB_TTL_MIN", 60)) * time.Minute,
		},
	}
	if cfg.Media.Runner != RunnerInline && cfg.Media.Runner != RunnerQueue {
		return nil, fmt.Errorf("invalid JOB_RUNNER %q: must be %q or %q", cfg.Media.Runner, RunnerInline, RunnerQueue)
	}
	if cfg.Media.HardTimeout < cfg.Media.SoftTimeout {
		return nil, fmt.Errorf("TRANSCODE_HARD_TIMEOUT_MIN must be >= TRANSCODE_SOFT_TIMEOUT_MIN")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
