package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration. FromEnv keeps main lean; every
// component receives only the slice it needs.
type Config struct {
	Addr          string
	JWTSigningKey string

	PostgresDSN string
	RedisURL    string

	// Blob storage. When S3Bucket is set the S3 store is used, otherwise
	// files land under BlobRoot on the local filesystem.
	BlobRoot string
	S3Bucket string
	S3Region string

	// ML verification service.
	MLBaseURL        string
	MLRequestTimeout time.Duration
	MLMaxRetries     int

	// Auto-review batch loop.
	BatchInterval time.Duration
	BatchSize     int

	// Retention sweep.
	RetentionWindow time.Duration
	SweepInterval   time.Duration

	// Kafka audit sink. Empty means the in-process store is the only sink.
	KafkaBrokers string
	AuditTopic   string
}

// FromEnv builds a Config from environment variables with development defaults.
func FromEnv() Config {
	return Config{
		Addr:          envOr("KYCFLOW_ADDR", ":8080"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),

		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		RedisURL:    os.Getenv("REDIS_URL"),

		BlobRoot: envOr("BLOB_ROOT", "data/uploads"),
		S3Bucket: os.Getenv("S3_BUCKET"),
		S3Region: envOr("S3_REGION", "us-east-1"),

		MLBaseURL:        envOr("ML_BASE_URL", "http://127.0.0.1:8000"),
		MLRequestTimeout: durationOr("ML_REQUEST_TIMEOUT", 15*time.Second),
		MLMaxRetries:     intOr("ML_MAX_RETRIES", 2),

		BatchInterval: durationOr("KYC_BATCH_INTERVAL", 10*time.Second),
		BatchSize:     intOr("KYC_BATCH_SIZE", 50),

		RetentionWindow: durationOr("KYC_RETENTION_WINDOW", 30*24*time.Hour),
		SweepInterval:   durationOr("KYC_SWEEP_INTERVAL", 24*time.Hour),

		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		AuditTopic:   envOr("AUDIT_TOPIC", "kyc.audit"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intOr(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func durationOr(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
