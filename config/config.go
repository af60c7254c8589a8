// Package config loads server settings from defaults, an optional YAML
// file and STOCKBROKER_* environment variables, in that order of
// precedence (last wins).
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"stockbroker/infra/tracing"
)

type Config struct {
	GRPC        GRPC           `mapstructure:"grpc"`
	Metrics     Metrics        `mapstructure:"metrics"`
	Log         Log            `mapstructure:"log"`
	Outbox      Outbox         `mapstructure:"outbox"`
	Events      Events         `mapstructure:"events"`
	Idempotency Idempotency    `mapstructure:"idempotency"`
	Tracing     tracing.Config `mapstructure:"tracing"`
}

type GRPC struct {
	Addr string `mapstructure:"addr"`
}

type Metrics struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Outbox selects where order events wait for publication. An empty Dir
// keeps them in memory.
type Outbox struct {
	Dir string `mapstructure:"dir"`
}

// Events configures the relay from the outbox to Kafka. Driver is
// "sarama", "kafka-go" or "none".
type Events struct {
	Driver     string        `mapstructure:"driver"`
	Brokers    []string      `mapstructure:"brokers"`
	Topic      string        `mapstructure:"topic"`
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxRetries uint32        `mapstructure:"max_retries"`
}

// Idempotency is the window during which a client order id cannot be
// reused.
type Idempotency struct {
	Window time.Duration `mapstructure:"window"`
}

const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
	DriverNone    = "none"
)

func Defaults() Config {
	return Config{
		GRPC:    GRPC{Addr: ":50051"},
		Metrics: Metrics{Addr: ":9090"},
		Log:     Log{Level: "info", Format: "text"},
		Events: Events{
			Driver:     DriverNone,
			Brokers:    []string{"localhost:9092"},
			Topic:      "stockbroker.orders",
			Interval:   250 * time.Millisecond,
			BatchSize:  256,
			MaxRetries: 5,
		},
		Idempotency: Idempotency{Window: 10 * time.Minute},
		Tracing:     tracing.DefaultConfig(),
	}
}

// SetDefaults registers Defaults() on v so that file and env values
// layer over them.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("grpc.addr", d.GRPC.Addr)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("outbox.dir", d.Outbox.Dir)
	v.SetDefault("events.driver", d.Events.Driver)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
	v.SetDefault("events.interval", d.Events.Interval)
	v.SetDefault("events.batch_size", d.Events.BatchSize)
	v.SetDefault("events.max_retries", d.Events.MaxRetries)
	v.SetDefault("idempotency.window", d.Idempotency.Window)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load reads configuration into a fresh viper instance. path may be
// empty, in which case only defaults and environment apply.
func Load(path string) (Config, error) {
	v := viper.New()
	return LoadWith(v, path)
}

// LoadWith is Load on a caller-provided viper, so command flags bound
// to v take part.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("STOCKBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "config: read %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: decode")
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Events.Driver {
	case DriverSarama, DriverKafkaGo:
		if len(c.Events.Brokers) == 0 {
			return errors.Newf("config: events.driver %q needs at least one broker", c.Events.Driver)
		}
		if c.Events.Topic == "" {
			return errors.New("config: events.topic is required")
		}
	case DriverNone, "":
	default:
		return errors.Newf("config: unknown events.driver %q", c.Events.Driver)
	}
	if c.Idempotency.Window < 0 {
		return errors.New("config: idempotency.window must not be negative")
	}
	return nil
}
