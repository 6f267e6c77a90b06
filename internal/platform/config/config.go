// Package config loads service configuration from defaults, an optional YAML
// file and IPX_-prefixed environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	ipxstrings "ipx/pkg/platform/strings"
)

const (
	EnvPrefix     = "IPX"
	EnvConfigFile = "IPX_CONFIG"

	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverKafka    = "kafka"
	DriverHTTP     = "http"
	DriverFS       = "fs"

	devSigningKey = "dev-secret-key-change-in-production"
)

// Config is the complete service configuration.
type Config struct {
	Env          string             `mapstructure:"env"`
	Location     string             `mapstructure:"location"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Store        StoreConfig        `mapstructure:"store"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Verification VerificationConfig `mapstructure:"verification"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Proofs       ProofsConfig       `mapstructure:"proofs"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	Leeway     time.Duration `mapstructure:"leeway"`
}

// StoreConfig selects registration persistence.
type StoreConfig struct {
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// VerificationConfig configures ownership checks. Providers maps routing keys
// to remote base URLs; routing keys without an entry use the sandbox when
// Sandbox is set.
type VerificationConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout"`
	ProviderTimeout time.Duration     `mapstructure:"provider_timeout"`
	CacheTTL        time.Duration     `mapstructure:"cache_ttl"`
	Sandbox         bool              `mapstructure:"sandbox"`
	SandboxLatency  time.Duration     `mapstructure:"sandbox_latency"`
	APIKey          string            `mapstructure:"api_key"`
	Providers       map[string]string `mapstructure:"providers"`
}

type LedgerConfig struct {
	Driver           string        `mapstructure:"driver"`
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	SubmissionLease  time.Duration `mapstructure:"submission_lease"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type ProofsConfig struct {
	Driver  string `mapstructure:"driver"`
	Dir     string `mapstructure:"dir"`
	MaxSize int64  `mapstructure:"max_size"`
}

// AuditConfig selects where audit events go. The postgres driver writes an
// outbox that the relay forwards to Kafka when brokers are configured.
type AuditConfig struct {
	Driver        string        `mapstructure:"driver"`
	DSN           string        `mapstructure:"dsn"`
	Brokers       []string      `mapstructure:"brokers"`
	Topic         string        `mapstructure:"topic"`
	Partitions    int32         `mapstructure:"partitions"`
	Replication   int16         `mapstructure:"replication"`
	Buffer        int           `mapstructure:"buffer"`
	RelayInterval time.Duration `mapstructure:"relay_interval"`
}

// RateLimitConfig holds per-principal request budgets for one Window.
// A zero budget disables limiting for that class.
type RateLimitConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Window       time.Duration `mapstructure:"window"`
	Reads        int           `mapstructure:"reads"`
	Writes       int           `mapstructure:"writes"`
	Verification int           `mapstructure:"verification"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Defaults returns the development configuration.
func Defaults() Config {
	return Config{
		Env:      EnvDevelopment,
		Location: "UTC",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			RequestTimeout:  45 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Log:  LogConfig{Level: "info", Format: "text"},
		Auth: AuthConfig{SigningKey: devSigningKey, Issuer: "ipx-identity", Audience: "ipx", Leeway: 30 * time.Second},
		Store: StoreConfig{
			Driver: DriverMemory,
			TTL:    30 * 24 * time.Hour,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{MaxConns: 10},
		Verification: VerificationConfig{
			Timeout:         10 * time.Second,
			ProviderTimeout: 8 * time.Second,
			CacheTTL:        2 * time.Minute,
			Sandbox:         true,
		},
		Ledger: LedgerConfig{
			Driver:           DriverMemory,
			Timeout:          30 * time.Second,
			SubmissionLease:  2 * time.Minute,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			BreakerCooldown:  30 * time.Second,
		},
		Proofs: ProofsConfig{Driver: DriverMemory, Dir: "data/proofs", MaxSize: 10 << 20},
		Audit: AuditConfig{
			Driver:        DriverMemory,
			Topic:         "ipx.audit",
			Partitions:    3,
			Replication:   1,
			Buffer:        1024,
			RelayInterval: 2 * time.Second,
		},
		Tracing: TracingConfig{Exporter: "none", SampleRate: 1},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			Window:       time.Minute,
			Reads:        300,
			Writes:       60,
			Verification: 10,
		},
	}
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("env", d.Env)
	v.SetDefault("location", d.Location)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("auth.signing_key", d.Auth.SigningKey)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.audience", d.Auth.Audience)
	v.SetDefault("auth.leeway", d.Auth.Leeway)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.ttl", d.Store.TTL)
	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.min_idle_conns", d.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", d.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", d.Redis.WriteTimeout)
	v.SetDefault("postgres.dsn", d.Postgres.DSN)
	v.SetDefault("postgres.max_conns", d.Postgres.MaxConns)
	v.SetDefault("verification.timeout", d.Verification.Timeout)
	v.SetDefault("verification.provider_timeout", d.Verification.ProviderTimeout)
	v.SetDefault("verification.cache_ttl", d.Verification.CacheTTL)
	v.SetDefault("verification.sandbox", d.Verification.Sandbox)
	v.SetDefault("verification.sandbox_latency", d.Verification.SandboxLatency)
	v.SetDefault("verification.api_key", d.Verification.APIKey)
	v.SetDefault("ledger.driver", d.Ledger.Driver)
	v.SetDefault("ledger.base_url", d.Ledger.BaseURL)
	v.SetDefault("ledger.timeout", d.Ledger.Timeout)
	v.SetDefault("ledger.submission_lease", d.Ledger.SubmissionLease)
	v.SetDefault("ledger.failure_threshold", d.Ledger.FailureThreshold)
	v.SetDefault("ledger.success_threshold", d.Ledger.SuccessThreshold)
	v.SetDefault("ledger.breaker_cooldown", d.Ledger.BreakerCooldown)
	v.SetDefault("proofs.driver", d.Proofs.Driver)
	v.SetDefault("proofs.dir", d.Proofs.Dir)
	v.SetDefault("proofs.max_size", d.Proofs.MaxSize)
	v.SetDefault("audit.driver", d.Audit.Driver)
	v.SetDefault("audit.dsn", d.Audit.DSN)
	v.SetDefault("audit.brokers", d.Audit.Brokers)
	v.SetDefault("audit.topic", d.Audit.Topic)
	v.SetDefault("audit.partitions", d.Audit.Partitions)
	v.SetDefault("audit.replication", d.Audit.Replication)
	v.SetDefault("audit.buffer", d.Audit.Buffer)
	v.SetDefault("audit.relay_interval", d.Audit.RelayInterval)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("ratelimit.enabled", d.RateLimit.Enabled)
	v.SetDefault("ratelimit.window", d.RateLimit.Window)
	v.SetDefault("ratelimit.reads", d.RateLimit.Reads)
	v.SetDefault("ratelimit.writes", d.RateLimit.Writes)
	v.SetDefault("ratelimit.verification", d.RateLimit.Verification)
}

// Load reads configuration. path may be empty, in which case IPX_CONFIG names
// the file; with neither set only defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Audit.Brokers = ipxstrings.DedupeAndTrim(cfg.Audit.Brokers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules. Production refuses the development
// signing key.
func (c *Config) Validate() error {
	var errs []error
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("env must be %q or %q", EnvDevelopment, EnvProduction))
	}
	if c.Env == EnvProduction && (c.Auth.SigningKey == devSigningKey || len(c.Auth.SigningKey) < 32) {
		errs = append(errs, errors.New("auth.signing_key must be set to at least 32 bytes in production"))
	}
	if c.Auth.SigningKey == "" {
		errs = append(errs, errors.New("auth.signing_key is required"))
	}
	if _, err := time.LoadLocation(c.Location); err != nil {
		errs = append(errs, fmt.Errorf("location: %w", err))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis store"))
		}
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}

	switch c.Ledger.Driver {
	case DriverMemory:
	case DriverHTTP:
		if c.Ledger.BaseURL == "" {
			errs = append(errs, errors.New("ledger.base_url is required for the http ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.driver %q is not supported", c.Ledger.Driver))
	}

	switch c.Proofs.Driver {
	case DriverMemory, DriverFS:
	default:
		errs = append(errs, fmt.Errorf("proofs.driver %q is not supported", c.Proofs.Driver))
	}
	if c.Proofs.MaxSize <= 0 {
		errs = append(errs, errors.New("proofs.max_size must be positive"))
	}

	switch c.Audit.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Audit.DSN == "" {
			errs = append(errs, errors.New("audit.dsn is required for the postgres audit store"))
		}
	case DriverKafka:
		if len(c.Audit.Brokers) == 0 {
			errs = append(errs, errors.New("audit.brokers is required for the kafka audit store"))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.driver %q is not supported", c.Audit.Driver))
	}

	if c.Verification.Timeout <= 0 {
		errs = append(errs, errors.New("verification.timeout must be positive"))
	}
	if c.RateLimit.Enabled && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("ratelimit.window must be positive"))
	}
	if !c.Verification.Sandbox && len(c.Verification.Providers) == 0 {
		errs = append(errs, errors.New("verification.providers is required when the sandbox is disabled"))
	}
	return errors.Join(errs...)
}

// CalendarLocation returns the location used for term window dates.
func (c *Config) CalendarLocation() *time.Location {
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool { return c.Env == EnvProduction }
