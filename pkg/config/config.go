package config

import (
	"fmt"
	"time"

	"github.com/botfleet/webhook-router/pkg/logger"
)

// Config holds runtime configuration for the webhook router.
type Config struct {
	AppEnv string `mapstructure:"-"`

	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Postgres  PostgresConfig  `mapstructure:"postgres" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis" validate:"required"`
	Logger    logger.Config   `mapstructure:"logger"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Connect   ConnectConfig   `mapstructure:"connect"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	InternalToken   string        `mapstructure:"internal_token" validate:"required"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Serverless tightens the end-to-end webhook budget for function-style
	// deployments with hard execution-time caps.
	Serverless     bool          `mapstructure:"serverless"`
	RequestBudget  time.Duration `mapstructure:"request_budget"`
	SideEffectWait time.Duration `mapstructure:"side_effect_wait"`
}

// PostgresConfig configures the relational store pool.
type PostgresConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     string `mapstructure:"port" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Database string `mapstructure:"database" validate:"required"`
	SSLMode  string `mapstructure:"ssl_mode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// DSN renders the PostgreSQL connection string.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode,
	)
}

// RedactedTarget describes the postgres target without credentials, for error
// messages and logs.
func (c PostgresConfig) RedactedTarget() string {
	return fmt.Sprintf("%s:%s/%s", c.Host, c.Port, c.Database)
}

// RedisConfig configures the cache store client.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RateLimitConfig sets fixed-window maxima per scope.
type RateLimitConfig struct {
	Window          time.Duration `mapstructure:"window"`
	GlobalMax       int           `mapstructure:"global_max"`
	TenantMax       int           `mapstructure:"tenant_max"`
	MemoryMaxScopes int           `mapstructure:"memory_max_scopes"`
}

// Normalized applies defaults for unset rate-limit values.
func (c RateLimitConfig) Normalized() RateLimitConfig {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.GlobalMax <= 0 {
		c.GlobalMax = 1000
	}
	if c.TenantMax <= 0 {
		c.TenantMax = 60
	}
	if c.MemoryMaxScopes <= 0 {
		c.MemoryMaxScopes = 10000
	}
	return c
}

// BreakerConfig tunes circuit breakers shared by all guarded dependencies.
type BreakerConfig struct {
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	SuccessThreshold  int           `mapstructure:"success_threshold"`
	ResetTimeout      time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMaxProbes int           `mapstructure:"half_open_max_probes"`
}

// ProviderConfig configures the outbound messaging-provider client.
type ProviderConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
}

// BroadcastConfig bounds one broadcast pipeline run.
type BroadcastConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	MaxMessagesPerRun int           `mapstructure:"max_messages_per_run"`
	MaxRunDuration    time.Duration `mapstructure:"max_run_duration"`
	Lease             time.Duration `mapstructure:"lease"`
	MessagesPerSecond float64       `mapstructure:"messages_per_second"`
}

// Normalized applies defaults for unset broadcast values.
func (c BroadcastConfig) Normalized() BroadcastConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.MaxMessagesPerRun <= 0 {
		c.MaxMessagesPerRun = 500
	}
	if c.MaxRunDuration <= 0 {
		c.MaxRunDuration = 50 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 25
	}
	return c
}

// ConnectConfig bounds dependency connection retries at startup.
type ConnectConfig struct {
	Attempts          int           `mapstructure:"attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout"`
}
