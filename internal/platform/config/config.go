package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	strutil "auditchain/pkg/platform/strings"
)

// Config captures daemon-level configuration. Every field has a default so
// the daemon starts with nothing set (memory storage, no sinks).
type Config struct {
	Addr        string
	AdminToken  string
	LogFormat   string
	LogLevel    string
	DatabaseURL string
	Redis       RedisConfig

	// OperatorKeys maps operator names to the secrets their admin tokens are
	// signed with. Read from AUDITCHAIN_OPERATOR_KEYS as "alice=k1,bob=k2".
	OperatorKeys map[string]string

	HashAlgorithm     string
	MerkleBatchSize   int
	MerkleFlushEvery  time.Duration
	KeyMaxAge         time.Duration
	KeyCheckInterval  time.Duration
	NotifyBuffer      int
	VerifyConcurrency int
	RulesFile         string
	Retention         RetentionConfig
	Sinks             SinksConfig
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration

	// Warnings lists values that were set but could not be parsed; the
	// default was used instead.
	Warnings []string
}

// RedisConfig controls the go-redis client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RetentionConfig struct {
	DefaultDays      int
	SweepInterval    time.Duration
	SweepLimit       int
	MinConfirmations int
	ArchiveDir       string
	ConfirmationTTL  time.Duration
}

// SinksConfig configures the distribution sinks. A sink is enabled when
// its address is set.
type SinksConfig struct {
	KafkaBrokers  []string
	KafkaTopic    string
	WebhookURL    string
	WebhookToken  string
	SyslogNetwork string
	SyslogAddr    string
	FilterFile    string
	BatchSize     int
	BatchTimeout  time.Duration
	QueueCapacity int
	MaxRetries    int
	MaxBackoff    time.Duration
}

// FromEnv builds a Config from AUDITCHAIN_* environment variables so main stays lean.
func FromEnv() Config {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) Config {
	e := env{lookup: lookup}
	cfg := Config{
		Addr:         e.str("AUDITCHAIN_ADDR", ":8080"),
		AdminToken:   e.str("AUDITCHAIN_ADMIN_TOKEN", ""),
		OperatorKeys: e.pairs("AUDITCHAIN_OPERATOR_KEYS"),
		LogFormat:    e.str("AUDITCHAIN_LOG_FORMAT", "json"),
		LogLevel:     e.str("AUDITCHAIN_LOG_LEVEL", "info"),
		DatabaseURL:  e.str("AUDITCHAIN_DATABASE_URL", ""),
		Redis: RedisConfig{
			URL:          e.str("AUDITCHAIN_REDIS_URL", ""),
			PoolSize:     e.integer("AUDITCHAIN_REDIS_POOL_SIZE", 10),
			MinIdleConns: e.integer("AUDITCHAIN_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("AUDITCHAIN_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("AUDITCHAIN_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("AUDITCHAIN_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		HashAlgorithm:     e.str("AUDITCHAIN_HASH_ALGORITHM", "sha256"),
		MerkleBatchSize:   e.integer("AUDITCHAIN_MERKLE_BATCH_SIZE", 100),
		MerkleFlushEvery:  e.duration("AUDITCHAIN_MERKLE_FLUSH_INTERVAL", time.Minute),
		KeyMaxAge:         e.duration("AUDITCHAIN_KEY_MAX_AGE", 30*24*time.Hour),
		KeyCheckInterval:  e.duration("AUDITCHAIN_KEY_CHECK_INTERVAL", time.Hour),
		NotifyBuffer:      e.integer("AUDITCHAIN_NOTIFY_BUFFER", 1024),
		VerifyConcurrency: e.integer("AUDITCHAIN_VERIFY_CONCURRENCY", 4),
		RulesFile:         e.str("AUDITCHAIN_RULES_FILE", ""),
		Retention: RetentionConfig{
			DefaultDays:      e.integer("AUDITCHAIN_RETENTION_DEFAULT_DAYS", 365),
			SweepInterval:    e.duration("AUDITCHAIN_RETENTION_SWEEP_INTERVAL", time.Hour),
			SweepLimit:       e.integer("AUDITCHAIN_RETENTION_SWEEP_LIMIT", 1000),
			MinConfirmations: e.integer("AUDITCHAIN_RETENTION_MIN_CONFIRMATIONS", 2),
			ArchiveDir:       e.str("AUDITCHAIN_RETENTION_ARCHIVE_DIR", ""),
			ConfirmationTTL:  e.duration("AUDITCHAIN_RETENTION_CONFIRMATION_TTL", 7*24*time.Hour),
		},
		Sinks: SinksConfig{
			KafkaBrokers:  e.list("AUDITCHAIN_KAFKA_BROKERS"),
			KafkaTopic:    e.str("AUDITCHAIN_KAFKA_TOPIC", "audit-entries"),
			WebhookURL:    e.str("AUDITCHAIN_WEBHOOK_URL", ""),
			WebhookToken:  e.str("AUDITCHAIN_WEBHOOK_TOKEN", ""),
			SyslogNetwork: e.str("AUDITCHAIN_SYSLOG_NETWORK", "udp"),
			SyslogAddr:    e.str("AUDITCHAIN_SYSLOG_ADDR", ""),
			FilterFile:    e.str("AUDITCHAIN_SINK_FILTER_FILE", ""),
			BatchSize:     e.integer("AUDITCHAIN_SINK_BATCH_SIZE", 100),
			BatchTimeout:  e.duration("AUDITCHAIN_SINK_BATCH_TIMEOUT", 5*time.Second),
			QueueCapacity: e.integer("AUDITCHAIN_SINK_QUEUE_CAPACITY", 64),
			MaxRetries:    e.integer("AUDITCHAIN_SINK_MAX_RETRIES", 5),
			MaxBackoff:    e.duration("AUDITCHAIN_SINK_MAX_BACKOFF", 30*time.Second),
		},
		ShutdownTimeout: e.duration("AUDITCHAIN_SHUTDOWN_TIMEOUT", 15*time.Second),
		RequestTimeout:  e.duration("AUDITCHAIN_REQUEST_TIMEOUT", 30*time.Second),
	}
	cfg.Warnings = e.warnings
	return cfg
}

type env struct {
	lookup   func(string) (string, bool)
	warnings []string
}

func (e *env) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *env) str(key, def string) string {
	if v, ok := e.get(key); ok {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a non-negative integer, using %d", key, v, def))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a duration, using %s", key, v, def))
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	v, ok := e.get(key)
	if !ok {
		return nil
	}
	return strutil.SplitList(v)
}

func (e *env) pairs(key string) map[string]string {
	out := map[string]string{}
	for _, item := range e.list(key) {
		name, value, ok := strings.Cut(item, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			e.warnings = append(e.warnings, fmt.Sprintf("%s entry %q is not name=value, skipping", key, item))
			continue
		}
		out[name] = value
	}
	return out
}
