package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Remote report API
	ReportAPIBaseURL  string
	ReportAPIToken    string
	ReportAPITimeout  time.Duration
	ReportAPIAttempts int

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers   []string
	KafkaGroupID   string
	ConfirmedTopic string

	// Sessions
	SessionBackend string
	SessionTTL     time.Duration
	SessionLockTTL time.Duration

	// Gateway
	JWTSecret      string
	JWTAudience    string
	RateLimitRPS   int
	RateLimitBurst int

	// Scoring thresholds file (YAML); empty uses defaults
	ScoringConfigPath string

	// Pass non-numeric test values through as text
	LenientTestValues bool

	// Ledger redaction rules file (YAML); empty uses defaults
	RedactionRulesPath string

	// Uploads
	MaxUploadBytes int64
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 60*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),

		ReportAPIBaseURL:  getEnv("REPORT_API_BASE_URL", "http://127.0.0.1:5000/api"),
		ReportAPIToken:    getEnv("REPORT_API_TOKEN", ""),
		ReportAPITimeout:  getDuration("REPORT_API_TIMEOUT", 0),
		ReportAPIAttempts: getIntEnv("REPORT_API_ATTEMPTS", 1),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "carescore"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "carescore"),
		PostgresDB:       getEnv("POSTGRES_DB", "carescore"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:   getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaGroupID:   getEnv("KAFKA_GROUP_ID", "carescore-ledger"),
		ConfirmedTopic: getEnv("CONFIRMED_TOPIC", "report-confirmed"),

		SessionBackend: getEnv("SESSION_BACKEND", "memory"),
		SessionTTL:     getDuration("SESSION_TTL", 2*time.Hour),
		SessionLockTTL: getDuration("SESSION_LOCK_TTL", 2*time.Minute),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTAudience:    getEnv("JWT_AUDIENCE", "authenticated"),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 40),

		ScoringConfigPath: getEnv("SCORING_CONFIG", ""),
		LenientTestValues: getBoolEnv("LENIENT_TEST_VALUES", false),

		RedactionRulesPath: getEnv("REDACTION_RULES", ""),

		MaxUploadBytes: int64(getIntEnv("MAX_UPLOAD_BYTES", 16*1024*1024)),
	}
}

// KafkaEnabled reports whether any broker is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
