package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Phone      PhoneConfig      `mapstructure:"phone"`
	API        APIConfig        `mapstructure:"api"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type ClickHouseConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	DatabaseConfig `mapstructure:",squash"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	IngestTopic    string   `mapstructure:"ingest_topic"`
	EventsTopic    string   `mapstructure:"events_topic"`
	PublishEvents  bool     `mapstructure:"publish_events"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

const (
	AuthBasic  = "basic"
	AuthBearer = "bearer"

	SchemaWrapped = "wrapped"
	SchemaFlat    = "flat"
)

type GatewayConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Path        string        `mapstructure:"path"`
	AuthMode    string        `mapstructure:"auth_mode"` // basic | bearer
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Token       string        `mapstructure:"token"`
	SchemaStyle string        `mapstructure:"schema_style"` // wrapped | flat
	SchemaKey   string        `mapstructure:"schema_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

type DispatcherConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BatchSize   int           `mapstructure:"batch_size"`
	SendDelay   time.Duration `mapstructure:"send_delay"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
	Lock        LockConfig    `mapstructure:"lock"`
}

// worstCasePass is how long a pass takes when every gateway call times out.
func (d DispatcherConfig) worstCasePass(gatewayTimeout time.Duration) time.Duration {
	return time.Duration(d.BatchSize) * (gatewayTimeout + d.SendDelay)
}

type LockConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Key     string        `mapstructure:"key"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type WebhookConfig struct {
	Secret  string   `mapstructure:"secret"`
	Headers []string `mapstructure:"headers"`
}

type PhoneConfig struct {
	Region          string `mapstructure:"region"`
	MinDigits       int    `mapstructure:"min_digits"`
	RestrictCountry bool   `mapstructure:"restrict_country"`
}

type APIConfig struct {
	Keys         []string `mapstructure:"keys"`
	MaxBodyRunes int      `mapstructure:"max_body_runes"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (MSMS_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (MSMS_GATEWAY_BASE_URL -> gateway.base_url)
	v.SetEnvPrefix("MSMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that makes the dispatcher or the gateway unusable.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.MySQL.DSN) == "" {
		errs = append(errs, errors.New("mysql.dsn is empty"))
	}
	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Dispatcher.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("dispatcher.max_attempts must be >= 1, got %d", c.Dispatcher.MaxAttempts))
	}
	if c.Dispatcher.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("dispatcher.batch_size must be >= 1, got %d", c.Dispatcher.BatchSize))
	}
	if c.Dispatcher.SendDelay < 0 {
		errs = append(errs, errors.New("dispatcher.send_delay must not be negative"))
	}
	if c.Dispatcher.Lock.Enabled {
		if worst := c.Dispatcher.worstCasePass(c.Gateway.Timeout); c.Dispatcher.Lock.TTL <= worst {
			errs = append(errs, fmt.Errorf(
				"dispatcher.lock.ttl %s must exceed batch_size*(gateway.timeout+send_delay) = %s",
				c.Dispatcher.Lock.TTL, worst))
		}
	}

	return errors.Join(errs...)
}

func (g GatewayConfig) Validate() error {
	if strings.TrimSpace(g.BaseURL) == "" {
		return errors.New("gateway.base_url is empty")
	}

	switch g.AuthMode {
	case AuthBasic:
		if g.Username == "" {
			return errors.New("gateway.username is required for basic auth")
		}
	case AuthBearer:
		if g.Token == "" {
			return errors.New("gateway.token is required for bearer auth")
		}
	default:
		return fmt.Errorf("gateway.auth_mode %q is not one of basic|bearer", g.AuthMode)
	}

	switch g.SchemaStyle {
	case SchemaWrapped, SchemaFlat:
	default:
		return fmt.Errorf("gateway.schema_style %q is not one of wrapped|flat", g.SchemaStyle)
	}

	return nil
}
