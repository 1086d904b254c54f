package config

import (
	"time"
)

// Config is the root configuration for the eventinspect service.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Bus       BusConfig       `mapstructure:"bus"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Projects  []ProjectConfig `mapstructure:"projects"`
}

// ServiceConfig identifies the service instance.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig configures the HTTP listener.
//
// WriteTimeout must stay zero: the stream endpoint holds responses
// open indefinitely and a non-zero write timeout would sever every
// connected viewer.
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxRequestSize  int64         `mapstructure:"max_request_size"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CORSConfig configures cross-origin access for the ingest and stream
// endpoints. Producers post from arbitrary instrumented pages, so the
// default allows every origin.
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
	AllowMethods []string `mapstructure:"allow_methods"`
	AllowHeaders []string `mapstructure:"allow_headers"`
	MaxAge       int      `mapstructure:"max_age"`
}

// RateLimitConfig configures per-client rate limiting on the ingest
// endpoint.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Bus variant names.
const (
	BusVariantMemory = "memory"
	BusVariantRedis  = "redis"
)

// BusConfig selects the event distribution backend.
type BusConfig struct {
	Variant string `mapstructure:"variant"`
}

// RedisConfig configures the durable bus backend. Ignored when the
// bus variant is memory.
type RedisConfig struct {
	URL              string        `mapstructure:"url"`
	Prefix           string        `mapstructure:"prefix"`
	EventTTL         time.Duration `mapstructure:"event_ttl"`
	QueueSize        int64         `mapstructure:"queue_size"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PollBatch        int64         `mapstructure:"poll_batch"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	MaxConns         int           `mapstructure:"max_conns"`
}

// StreamConfig configures the SSE stream endpoint.
type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ClientBuffer      int           `mapstructure:"client_buffer"`
}

// ProjectConfig declares a project and its environments. Each
// environment carries the write key producers authenticate with.
type ProjectConfig struct {
	ID           string              `mapstructure:"id"`
	Name         string              `mapstructure:"name"`
	Environments []EnvironmentConfig `mapstructure:"environments"`
}

// EnvironmentConfig declares one environment of a project.
type EnvironmentConfig struct {
	ID       string `mapstructure:"id"`
	WriteKey string `mapstructure:"write_key"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "eventinspect",
			Environment: "development",
		},
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxRequestSize:  1 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Content-Type"},
			MaxAge:       600,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Bus: BusConfig{
			Variant: BusVariantMemory,
		},
		Redis: RedisConfig{
			Prefix:           "ei:events",
			EventTTL:         60 * time.Second,
			QueueSize:        1000,
			PollInterval:     time.Second,
			PollBatch:        50,
			OperationTimeout: 3 * time.Second,
			MaxConns:         10,
		},
		Stream: StreamConfig{
			HeartbeatInterval: 25 * time.Second,
			ClientBuffer:      64,
		},
	}
}
