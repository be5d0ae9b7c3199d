package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"OUTBOX_GRACE", "OUTBOX_BATCH_SIZE", "ELASTICSEARCH_URL", "EVENT_DEDUPE_TTL"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.OutboxGrace)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Equal(t, 24*time.Hour, cfg.EventDedupeTTL)
	assert.Empty(t, cfg.ElasticsearchURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("EVENT_BUS", "memory")
	t.Setenv("OUTBOX_SWEEP_INTERVAL", "5s")
	t.Setenv("OUTBOX_BATCH_SIZE", "25")
	t.Setenv("CONSUMER_PREFETCH", "4")
	t.Setenv("REDIS_URL", "")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.StorageDriver)
	assert.Equal(t, BusMemory, cfg.EventBus)
	assert.Equal(t, 5*time.Second, cfg.OutboxSweepInterval)
	assert.Equal(t, 25, cfg.OutboxBatchSize)
	assert.Equal(t, 4, cfg.ConsumerPrefetch)
	assert.Empty(t, cfg.RedisURL, "explicitly empty REDIS_URL disables the dedupe ledger")
	require.NoError(t, cfg.Validate())
}

func TestLoad_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("OUTBOX_GRACE", "soon")
	t.Setenv("OUTBOX_BATCH_SIZE", "lots")

	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.OutboxGrace)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StorageDriver:    DriverMemory,
			EventBus:         BusMemory,
			OutboxBatchSize:  10,
			ConsumerPrefetch: 1,
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.StorageDriver = "sqlite" }},
		{"unknown bus", func(c *Config) { c.EventBus = "kafka" }},
		{"postgres without url", func(c *Config) { c.StorageDriver = DriverPostgres }},
		{"amqp without url", func(c *Config) { c.EventBus = BusAMQP }},
		{"zero batch", func(c *Config) { c.OutboxBatchSize = 0 }},
		{"zero prefetch", func(c *Config) { c.ConsumerPrefetch = 0 }},
		{"bad cors origin", func(c *Config) { c.CORSOrigins = "https://app.example.com/path" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{"unset allows all", "", []string{"*"}, false},
		{"wildcard", " * ", []string{"*"}, false},
		{"list trimmed and deduped", "https://a.example.com, https://b.example.com/,https://a.example.com", []string{"https://a.example.com", "https://b.example.com"}, false},
		{"port kept", "http://localhost:3000", []string{"http://localhost:3000"}, false},
		{"only separators", " , ", []string{"*"}, false},
		{"wildcard mixed in", "https://a.example.com,*", nil, true},
		{"missing scheme", "a.example.com", nil, true},
		{"path not allowed", "https://a.example.com/app", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&Config{CORSOrigins: tt.raw}).AllowedOrigins()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
