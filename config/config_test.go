package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockbroker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
grpc:
  addr: ":6000"
log:
  level: debug
  format: json
outbox:
  dir: /var/lib/stockbroker/outbox
events:
  driver: kafka-go
  brokers: ["k1:9092", "k2:9092"]
  interval: 1s
idempotency:
  window: 30s
tracing:
  enabled: true
  exporter: otlp
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.GRPC.Addr)
	assert.Equal(t, ":9090", cfg.Metrics.Addr, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/lib/stockbroker/outbox", cfg.Outbox.Dir)
	assert.Equal(t, DriverKafkaGo, cfg.Events.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Brokers)
	assert.Equal(t, time.Second, cfg.Events.Interval)
	assert.Equal(t, "stockbroker.orders", cfg.Events.Topic)
	assert.Equal(t, 30*time.Second, cfg.Idempotency.Window)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, "stockbroker", cfg.Tracing.ServiceName)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STOCKBROKER_GRPC_ADDR", ":7000")
	t.Setenv("STOCKBROKER_EVENTS_DRIVER", "sarama")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.GRPC.Addr)
	assert.Equal(t, DriverSarama, cfg.Events.Driver)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Events.Driver = "rabbit"
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Events.Driver = DriverSarama
	cfg.Events.Brokers = nil
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Events.Driver = DriverSarama
	cfg.Events.Topic = ""
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Idempotency.Window = -time.Second
	assert.Error(t, cfg.Validate())
}
