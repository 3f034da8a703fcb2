package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	WebRTC    WebRTCConfig
	AWS       AWSConfig
	Live      LiveConfig
	Recording RecordingConfig
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
	URL      string // if set, used as-is
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

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// WebRTCConfig holds STUN/TURN ICE server URLs handed to clients at session creation.
type WebRTCConfig struct {
	ICEUrls []string // e.g. stun:stun.l.google.com:19302 (comma-separated in env)
}

// AWSConfig holds AWS credentials and the recordings S3 bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// RecordingConfig holds local recording output settings.
type RecordingConfig struct {
	OutputDir string // directory for temp recording files; empty = os.TempDir()
}

// LiveConfig holds the tunables of the live session core.
type LiveConfig struct {
	// GiftSplitPercent is the creator's share of a gift's total value.
	GiftSplitPercent int
	// LargeGiftThresholdCents is the gift value at or above which a highlight
	// is synthesized automatically.
	LargeGiftThresholdCents int64
	// PeakViewerFloor is the minimum peak before a peak-viewership highlight fires.
	PeakViewerFloor int
	// ChatBurstThreshold is messages in the trailing minute required for a
	// high-engagement highlight.
	ChatBurstThreshold int
	// HighlightWindow is the fixed length of any generated highlight interval.
	HighlightWindow time.Duration
	// HighlightSweepInterval drives the automatic highlight scan.
	HighlightSweepInterval time.Duration
	// RetentionSweepInterval drives the retention-curve sampling.
	RetentionSweepInterval time.Duration
	// SessionRetention is how long an ended session stays queryable in the
	// registry before eviction.
	SessionRetention time.Duration
	// EvictionSweepInterval drives the registry garbage-collection pass.
	EvictionSweepInterval time.Duration
	// WaiveVerification skips the verification gate for hosts (dev/test).
	WaiveVerification bool
	// BlockedTerms is the moderation blocklist for chat messages.
	BlockedTerms []string
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
	_ = godotenv.Load() // .env

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/pulselive?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "pulselive"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		WebRTC: WebRTCConfig{
			ICEUrls: splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "pulselive-recordings"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Recording: RecordingConfig{
			OutputDir: getEnv("RECORDING_OUTPUT_DIR", ""),
		},
		Live: LiveConfig{
			GiftSplitPercent:        getEnvInt("GIFT_SPLIT_PERCENT", 80),
			LargeGiftThresholdCents: int64(getEnvInt("LARGE_GIFT_THRESHOLD_CENTS", 10000)),
			PeakViewerFloor:         getEnvInt("HIGHLIGHT_PEAK_VIEWER_FLOOR", 100),
			ChatBurstThreshold:      getEnvInt("HIGHLIGHT_CHAT_BURST_THRESHOLD", 50),
			HighlightWindow:         getEnvDuration("HIGHLIGHT_WINDOW", 60*time.Second),
			HighlightSweepInterval:  getEnvDuration("HIGHLIGHT_SWEEP_INTERVAL", 10*time.Second),
			RetentionSweepInterval:  getEnvDuration("RETENTION_SWEEP_INTERVAL", 60*time.Second),
			SessionRetention:        getEnvDuration("SESSION_RETENTION", time.Hour),
			EvictionSweepInterval:   getEnvDuration("EVICTION_SWEEP_INTERVAL", 5*time.Minute),
			WaiveVerification:       getEnvBool("WAIVE_VERIFICATION", false),
			BlockedTerms:            splitTrim(getEnv("MODERATION_BLOCKED_TERMS", "spam,scam,abuse"), ","),
		},
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

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
