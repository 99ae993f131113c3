package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func lookupFrom(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := fromLookup(lookupFrom(nil))

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "sha256", cfg.HashAlgorithm)
	assert.Equal(t, 100, cfg.MerkleBatchSize)
	assert.Equal(t, 2, cfg.Retention.MinConfirmations)
	assert.Equal(t, 5*time.Second, cfg.Sinks.BatchTimeout)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.Sinks.KafkaBrokers)
	assert.Empty(t, cfg.OperatorKeys)
	assert.Empty(t, cfg.Warnings)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg := fromLookup(lookupFrom(map[string]string{
		"AUDITCHAIN_ADDR":                     ":9090",
		"AUDITCHAIN_MERKLE_BATCH_SIZE":        "16",
		"AUDITCHAIN_KEY_MAX_AGE":              "72h",
		"AUDITCHAIN_KAFKA_BROKERS":            "k1:9092, k2:9092,",
		"AUDITCHAIN_RETENTION_ARCHIVE_DIR":    "/var/lib/auditchain/archive",
		"AUDITCHAIN_SINK_QUEUE_CAPACITY":      "8",
		"AUDITCHAIN_REDIS_URL":                "redis://localhost:6379/0",
		"AUDITCHAIN_RETENTION_SWEEP_INTERVAL": " 10m ",
		"AUDITCHAIN_OPERATOR_KEYS":            "alice=k-alice, bob = k-bob",
	}))

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 16, cfg.MerkleBatchSize)
	assert.Equal(t, 72*time.Hour, cfg.KeyMaxAge)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Sinks.KafkaBrokers)
	assert.Equal(t, "/var/lib/auditchain/archive", cfg.Retention.ArchiveDir)
	assert.Equal(t, 8, cfg.Sinks.QueueCapacity)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 10*time.Minute, cfg.Retention.SweepInterval)
	assert.Equal(t, map[string]string{"alice": "k-alice", "bob": "k-bob"}, cfg.OperatorKeys)
	assert.Empty(t, cfg.Warnings)
}

func TestFromEnvInvalidValuesFallBack(t *testing.T) {
	cfg := fromLookup(lookupFrom(map[string]string{
		"AUDITCHAIN_MERKLE_BATCH_SIZE":     "lots",
		"AUDITCHAIN_SINK_MAX_RETRIES":      "-1",
		"AUDITCHAIN_MERKLE_FLUSH_INTERVAL": "soon",
		"AUDITCHAIN_OPERATOR_KEYS":         "alice=k-alice,bob,=orphan",
	}))

	assert.Equal(t, 100, cfg.MerkleBatchSize)
	assert.Equal(t, 5, cfg.Sinks.MaxRetries)
	assert.Equal(t, time.Minute, cfg.MerkleFlushEvery)
	assert.Equal(t, map[string]string{"alice": "k-alice"}, cfg.OperatorKeys)
	assert.Len(t, cfg.Warnings, 5)
}
