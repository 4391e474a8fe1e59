package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
server:
  port: "8080"
storage:
  driver: postgres
intake:
  source: kafka
kafka:
  brokers: ["localhost:9092"]
  topic: notification-events
  group_id: notifyhub
push:
  transport: amqp
  breaker:
    failure_threshold: 3
dlq:
  retry_interval: 0s
`

func writeConfig(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func TestLoadFromAppliesDefaultsAndOverlay(t *testing.T) {
	dir := writeConfig(t, map[string]string{
		"base.yaml": baseYAML,
		"local.yaml": `
storage:
  driver: memory
dlq:
  retry_interval: 1m
`,
	})

	cfg, err := LoadFrom("local", dir)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, time.Minute, cfg.DLQ.RetryInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.DLQ.RetryCounterTTL)
	assert.Equal(t, 16, cfg.Fanout.MaxConcurrency)
	assert.Equal(t, 3, cfg.Push.Breaker.FailureThreshold)
	assert.Equal(t, "notifications.push", cfg.Push.Exchange)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	dir := writeConfig(t, map[string]string{"base.yaml": baseYAML})
	t.Setenv("PUSH_TRANSPORT", "redis")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("FANOUT_MAX_CONCURRENCY", "4")
	t.Setenv("SERVER_PORT", "9000")

	cfg, err := LoadFrom("", dir)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Push.Transport)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 4, cfg.Fanout.MaxConcurrency)
	assert.Equal(t, "9000", cfg.Server.Port)
}

func TestLoadFromRejectsUnknownDriver(t *testing.T) {
	dir := writeConfig(t, map[string]string{"base.yaml": baseYAML})
	t.Setenv("STORAGE_DRIVER", "mongo")

	_, err := LoadFrom("", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
}

func TestLoadFromRequiresKafkaSettings(t *testing.T) {
	dir := writeConfig(t, map[string]string{"base.yaml": "intake:\n  source: kafka\n"})

	_, err := LoadFrom("", dir)
	require.Error(t, err)
}
