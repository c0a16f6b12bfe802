// Package config loads runtime configuration from SPECTRALOG_* environment
// variables. Nesting uses a double underscore: SPECTRALOG_KAFKA__GROUP maps
// to kafka.group. Defaults suit a local single-node setup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SPECTRALOG_"

// Config is the full runtime configuration. Every command loads the same
// struct; unused sections keep their defaults.
type Config struct {
	Log    LogConfig    `koanf:"log"`
	Kafka  KafkaConfig  `koanf:"kafka"`
	Stores StoresConfig `koanf:"stores"`
	Init   InitConfig   `koanf:"init"`
	Siphon SiphonConfig `koanf:"siphon"`
	HTTP   HTTPConfig   `koanf:"http"`
	Redis  RedisConfig  `koanf:"redis"`
	Query  QueryConfig  `koanf:"query"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

type KafkaConfig struct {
	Brokers []string `koanf:"brokers" validate:"required,min=1"`
	Group   string   `koanf:"group" validate:"required"`
	// Topics is the full set to siphon; StructuredTopic is the one
	// carrying correlated entries, all others are schema-flexible.
	Topics          []string `koanf:"topics" validate:"required,min=1"`
	StructuredTopic string   `koanf:"structured_topic" validate:"required"`
	ClientID        string   `koanf:"client_id"`
}

type StoresConfig struct {
	AdminDSN    string `koanf:"admin_dsn"`
	EventLogDSN string `koanf:"eventlog_dsn" validate:"required"`
	CorrLogDSN  string `koanf:"corrlog_dsn" validate:"required"`
	// PasswordFile, when set, supplies the password for any DSN that
	// does not carry one inline.
	PasswordFile string `koanf:"password_file"`

	Admin    DSN `koanf:"-"`
	EventLog DSN `koanf:"-"`
	CorrLog  DSN `koanf:"-"`
}

type InitConfig struct {
	Policy string `koanf:"policy" validate:"oneof=skip recreate fail"`
}

type SiphonConfig struct {
	BackoffMin  time.Duration `koanf:"backoff_min" validate:"gt=0"`
	BackoffMax  time.Duration `koanf:"backoff_max" validate:"gt=0"`
	LagInterval time.Duration `koanf:"lag_interval" validate:"gt=0"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
}

type QueryConfig struct {
	// Zone is the default input/display zone for timestamps.
	Zone string `koanf:"zone" validate:"required"`
}

// Load reads the environment, applies defaults, validates, and resolves
// the store connection strings including the password file.
func Load() (*Config, error) {
	k := koanf.New(".")
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := cfg.resolveStores(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Group == "" {
		c.Kafka.Group = "spectralog-siphon"
	}
	if c.Kafka.StructuredTopic == "" {
		c.Kafka.StructuredTopic = "afc_inquiry"
	}
	if len(c.Kafka.Topics) == 0 {
		c.Kafka.Topics = []string{c.Kafka.StructuredTopic}
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "spectralog"
	}
	if c.Stores.AdminDSN == "" {
		c.Stores.AdminDSN = "postgres://postgres@localhost:5432/postgres"
	}
	if c.Stores.EventLogDSN == "" {
		c.Stores.EventLogDSN = "postgres://postgres@localhost:5432/spectrum_logs"
	}
	if c.Stores.CorrLogDSN == "" {
		c.Stores.CorrLogDSN = "postgres://postgres@localhost:5432/spectrum_corr"
	}
	if c.Init.Policy == "" {
		c.Init.Policy = "skip"
	}
	if c.Siphon.BackoffMin == 0 {
		c.Siphon.BackoffMin = 200 * time.Millisecond
	}
	if c.Siphon.BackoffMax == 0 {
		c.Siphon.BackoffMax = 30 * time.Second
	}
	if c.Siphon.LagInterval == 0 {
		c.Siphon.LagInterval = 30 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9090"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 30 * time.Second
	}
	if c.Query.Zone == "" {
		c.Query.Zone = "UTC"
	}
}

func (c *Config) resolveStores() error {
	var err error
	if c.Stores.AdminDSN != "" {
		if c.Stores.Admin, err = ParseDSN(c.Stores.AdminDSN); err != nil {
			return fmt.Errorf("stores.admin_dsn: %w", err)
		}
	}
	if c.Stores.EventLog, err = ParseDSN(c.Stores.EventLogDSN); err != nil {
		return fmt.Errorf("stores.eventlog_dsn: %w", err)
	}
	if c.Stores.CorrLog, err = ParseDSN(c.Stores.CorrLogDSN); err != nil {
		return fmt.Errorf("stores.corrlog_dsn: %w", err)
	}

	if c.Stores.PasswordFile != "" {
		pw, err := ReadPasswordFile(c.Stores.PasswordFile)
		if err != nil {
			return err
		}
		for _, d := range []*DSN{&c.Stores.Admin, &c.Stores.EventLog, &c.Stores.CorrLog} {
			if d.Host != "" && d.Password == "" {
				d.Password = pw
			}
		}
	}
	return nil
}
