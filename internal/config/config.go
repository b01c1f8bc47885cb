package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Outbox     OutboxConfig     `mapstructure:"outbox"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres|mysql|memory
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type BrokerConfig struct {
	Kind     string         `mapstructure:"kind"` // kafka|rabbitmq|memory
	Source   string         `mapstructure:"source"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Prefetch int    `mapstructure:"prefetch"`
}

type OutboxConfig struct {
	DispatchDelay time.Duration `mapstructure:"dispatch_delay"`
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	BaseBackoff   time.Duration `mapstructure:"base_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"` // empty disables the sweep lease
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"` // empty disables auth
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type ProjectionConfig struct {
	Consumer      string `mapstructure:"consumer"`
	MaxDeliveries int    `mapstructure:"max_deliveries"`
}

type NotifierConfig struct {
	Consumer   string        `mapstructure:"consumer"`
	GroupID    string        `mapstructure:"group_id"`
	SMTPHost   string        `mapstructure:"smtp_host"`
	SMTPPort   string        `mapstructure:"smtp_port"`
	From       string        `mapstructure:"from"`
	DedupeTTL  time.Duration `mapstructure:"dedupe_ttl"`
	PendingTTL time.Duration `mapstructure:"pending_ttl"` // how long an unconfirmed send blocks redeliveries
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (ORDERING_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	// env override (ORDERING_DATABASE_DSN, ...)
	v.SetEnvPrefix("ORDERING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "memory":
	default:
		return fmt.Errorf("database.driver: unsupported %q", c.Database.Driver)
	}
	switch c.Broker.Kind {
	case "kafka", "rabbitmq", "memory":
	default:
		return fmt.Errorf("broker.kind: unsupported %q", c.Broker.Kind)
	}
	if c.Outbox.Interval <= 0 || c.Outbox.BatchSize <= 0 || c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("outbox: interval, batch_size and max_attempts must be positive")
	}
	return nil
}
