package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	liststr "attestra/pkg/platform/strings"

	"github.com/joho/godotenv"
)

// Config is the full process configuration assembled from the environment.
type Config struct {
	Server       Server
	Oracle       Oracle
	Verification Verification
	Postgres     Postgres
	Redis        RedisConfig
	Kafka        Kafka
	Metadata     Metadata
	LogLevel     string
	LogFormat    string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
}

// Oracle configures the external data client.
type Oracle struct {
	URL            string
	JobID          string
	JobIDPattern   string
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	// BreakerThreshold is the number of consecutive exhausted fetches that
	// open the oracle circuit; 0 disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Verification configures policy inputs for asset verification.
type Verification struct {
	// ThresholdFile points at a YAML threshold table; empty uses built-in defaults.
	ThresholdFile string
	// SignerKeys maps issuing authority to a hex ed25519 public key.
	SignerKeys  map[string]string
	IPFSGateway string
	// LedgerTarget is the ledger contract/address the tokenization service calls.
	LedgerTarget string
}

// Postgres configures the audit trail store. Empty DSN selects the in-memory store.
type Postgres struct {
	DSN string
}

// RedisConfig configures the optional Redis-backed mint lease.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LeaseTTL     time.Duration
}

// Kafka configures the audit stream. Empty Brokers disables streaming.
type Kafka struct {
	Brokers    []string
	AuditTopic string
}

// Metadata configures where token metadata documents are stored.
type Metadata struct {
	GCSBucket string
}

// Defaults mirror the oracle retry contract.
const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = 1000 * time.Millisecond
	DefaultMaxDelay       = 10000 * time.Millisecond
	DefaultAttemptTimeout = 30 * time.Second
	DefaultJobIDPattern   = `^[a-zA-Z0-9-]{8,64}$`
)

// FromEnv builds a Config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Server: Server{
			Addr:          getEnv("ATTESTRA_ADDR", ":8080"),
			JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:     getEnv("JWT_ISSUER", "attestra"),
		},
		Oracle: Oracle{
			URL:              os.Getenv("ORACLE_URL"),
			JobID:            getEnv("ORACLE_JOB_ID", "asset-attestation-v1"),
			JobIDPattern:     getEnv("ORACLE_JOB_ID_PATTERN", DefaultJobIDPattern),
			MaxRetries:       getEnvInt("ORACLE_MAX_RETRIES", DefaultMaxRetries),
			BaseDelay:        getEnvMillis("ORACLE_BASE_DELAY_MS", DefaultBaseDelay),
			MaxDelay:         getEnvMillis("ORACLE_MAX_DELAY_MS", DefaultMaxDelay),
			AttemptTimeout:   getEnvMillis("ORACLE_ATTEMPT_TIMEOUT_MS", DefaultAttemptTimeout),
			BreakerThreshold: getEnvInt("ORACLE_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getEnvMillis("ORACLE_BREAKER_COOLDOWN_MS", 30*time.Second),
		},
		Verification: Verification{
			ThresholdFile: os.Getenv("THRESHOLD_FILE"),
			SignerKeys:    parseKeyValues(os.Getenv("PROPERTY_SIGNER_KEYS")),
			IPFSGateway:   getEnv("IPFS_GATEWAY", "https://ipfs.io/ipfs/"),
			LedgerTarget:  getEnv("LEDGER_TARGET", "asset-registry"),
		},
		Postgres: Postgres{
			DSN: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvMillis("REDIS_DIAL_TIMEOUT_MS", 5*time.Second),
			ReadTimeout:  getEnvMillis("REDIS_READ_TIMEOUT_MS", 3*time.Second),
			WriteTimeout: getEnvMillis("REDIS_WRITE_TIMEOUT_MS", 3*time.Second),
			LeaseTTL:     getEnvMillis("MINT_LEASE_TTL_MS", 2*time.Minute),
		},
		Kafka: Kafka{
			Brokers:    liststr.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "attestra.audit"),
		},
		Metadata: Metadata{
			GCSBucket: os.Getenv("METADATA_GCS_BUCKET"),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// parseKeyValues reads "issuer=hexkey,issuer2=hexkey2".
func parseKeyValues(v string) map[string]string {
	out := make(map[string]string)
	for _, pair := range liststr.SplitList(v) {
		k, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out
}
