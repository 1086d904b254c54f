package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/eventinspect/eventinspect/pkg/writekey"
)

// Loader loads and validates configuration.
type Loader interface {
	Load() (*Config, error)
	Validate(cfg *Config) error
}

// ViperLoader implements Loader using Viper.
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader.
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "EVENTINSPECT")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > file > defaults.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	l.setDefaults(v, defaults)

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables for nested structs.
// Project mappings are file-only and intentionally have no env binding.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Service
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// HTTP
	v.BindEnv("http.port", l.prefixedEnv("HTTP_PORT"))
	v.BindEnv("http.read_timeout", l.prefixedEnv("HTTP_READ_TIMEOUT"))
	v.BindEnv("http.write_timeout", l.prefixedEnv("HTTP_WRITE_TIMEOUT"))
	v.BindEnv("http.idle_timeout", l.prefixedEnv("HTTP_IDLE_TIMEOUT"))
	v.BindEnv("http.shutdown_timeout", l.prefixedEnv("HTTP_SHUTDOWN_TIMEOUT"))
	v.BindEnv("http.max_request_size", l.prefixedEnv("HTTP_MAX_REQUEST_SIZE"))

	// Log
	v.BindEnv("log.level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("log.format", l.prefixedEnv("LOG_FORMAT"))

	// CORS
	v.BindEnv("cors.allow_origins", l.prefixedEnv("CORS_ALLOW_ORIGINS"))
	v.BindEnv("cors.allow_methods", l.prefixedEnv("CORS_ALLOW_METHODS"))
	v.BindEnv("cors.allow_headers", l.prefixedEnv("CORS_ALLOW_HEADERS"))
	v.BindEnv("cors.max_age", l.prefixedEnv("CORS_MAX_AGE"))

	// Rate limiting
	v.BindEnv("rate_limit.enabled", l.prefixedEnv("RATE_LIMIT_ENABLED"))
	v.BindEnv("rate_limit.requests_per_second", l.prefixedEnv("RATE_LIMIT_REQUESTS_PER_SECOND"))
	v.BindEnv("rate_limit.burst", l.prefixedEnv("RATE_LIMIT_BURST"))

	// Bus
	v.BindEnv("bus.variant", l.prefixedEnv("BUS_VARIANT"))

	// Redis
	v.BindEnv("redis.url", l.prefixedEnv("REDIS_URL"))
	v.BindEnv("redis.prefix", l.prefixedEnv("REDIS_PREFIX"))
	v.BindEnv("redis.event_ttl", l.prefixedEnv("REDIS_EVENT_TTL"))
	v.BindEnv("redis.queue_size", l.prefixedEnv("REDIS_QUEUE_SIZE"))
	v.BindEnv("redis.poll_interval", l.prefixedEnv("REDIS_POLL_INTERVAL"))
	v.BindEnv("redis.poll_batch", l.prefixedEnv("REDIS_POLL_BATCH"))
	v.BindEnv("redis.operation_timeout", l.prefixedEnv("REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("redis.max_conns", l.prefixedEnv("REDIS_MAX_CONNS"))

	// Stream
	v.BindEnv("stream.heartbeat_interval", l.prefixedEnv("STREAM_HEARTBEAT_INTERVAL"))
	v.BindEnv("stream.client_buffer", l.prefixedEnv("STREAM_CLIENT_BUFFER"))
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "EVENTINSPECT"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config.
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("http.port", cfg.HTTP.Port)
	v.SetDefault("http.read_timeout", cfg.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", cfg.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", cfg.HTTP.IdleTimeout)
	v.SetDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	v.SetDefault("http.max_request_size", cfg.HTTP.MaxRequestSize)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("cors.allow_origins", cfg.CORS.AllowOrigins)
	v.SetDefault("cors.allow_methods", cfg.CORS.AllowMethods)
	v.SetDefault("cors.allow_headers", cfg.CORS.AllowHeaders)
	v.SetDefault("cors.max_age", cfg.CORS.MaxAge)

	v.SetDefault("rate_limit.enabled", cfg.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_second", cfg.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)

	v.SetDefault("bus.variant", cfg.Bus.Variant)

	v.SetDefault("redis.url", cfg.Redis.URL)
	v.SetDefault("redis.prefix", cfg.Redis.Prefix)
	v.SetDefault("redis.event_ttl", cfg.Redis.EventTTL)
	v.SetDefault("redis.queue_size", cfg.Redis.QueueSize)
	v.SetDefault("redis.poll_interval", cfg.Redis.PollInterval)
	v.SetDefault("redis.poll_batch", cfg.Redis.PollBatch)
	v.SetDefault("redis.operation_timeout", cfg.Redis.OperationTimeout)
	v.SetDefault("redis.max_conns", cfg.Redis.MaxConns)

	v.SetDefault("stream.heartbeat_interval", cfg.Stream.HeartbeatInterval)
	v.SetDefault("stream.client_buffer", cfg.Stream.ClientBuffer)
}

// Validate validates the configuration.
func (l *ViperLoader) Validate(cfg *Config) error {
	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.WriteTimeout != 0 {
		return fmt.Errorf("http write_timeout must be 0, stream connections stay open past any fixed deadline")
	}

	switch cfg.Bus.Variant {
	case BusVariantMemory:
	case BusVariantRedis:
		if strings.TrimSpace(cfg.Redis.URL) == "" {
			return fmt.Errorf("redis.url is required when bus.variant is %q", BusVariantRedis)
		}
	default:
		return fmt.Errorf("invalid bus variant: %q (must be %q or %q)", cfg.Bus.Variant, BusVariantMemory, BusVariantRedis)
	}

	if cfg.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("stream.heartbeat_interval must be positive")
	}
	if cfg.Stream.ClientBuffer <= 0 {
		return fmt.Errorf("stream.client_buffer must be positive")
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive")
		}
		if cfg.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive")
		}
	}

	return validateProjects(cfg.Projects)
}

// validateProjects checks project and environment identifiers. The
// colon is the channel key separator and cannot appear in either id.
func validateProjects(projects []ProjectConfig) error {
	seenKeys := make(map[string]string)
	for _, p := range projects {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("project id must not be empty")
		}
		if strings.Contains(p.ID, ":") {
			return fmt.Errorf("project id %q must not contain ':'", p.ID)
		}
		if len(p.Environments) == 0 {
			return fmt.Errorf("project %s has no environments", p.ID)
		}
		for _, env := range p.Environments {
			if strings.TrimSpace(env.ID) == "" {
				return fmt.Errorf("project %s has an environment with empty id", p.ID)
			}
			if strings.Contains(env.ID, ":") {
				return fmt.Errorf("environment id %q in project %s must not contain ':'", env.ID, p.ID)
			}
			if strings.TrimSpace(env.WriteKey) == "" {
				return fmt.Errorf("environment %s/%s has no write key", p.ID, env.ID)
			}
			if prev, ok := seenKeys[env.WriteKey]; ok {
				return fmt.Errorf("write key for %s/%s already assigned to %s", p.ID, env.ID, prev)
			}
			seenKeys[env.WriteKey] = p.ID + "/" + env.ID
		}
	}
	return nil
}

// Mappings flattens the project configuration into write key mappings
// for the directory.
func (c *Config) Mappings() []writekey.Mapping {
	var out []writekey.Mapping
	for _, p := range c.Projects {
		for _, env := range p.Environments {
			out = append(out, writekey.Mapping{
				WriteKey:      env.WriteKey,
				ProjectID:     p.ID,
				EnvironmentID: env.ID,
			})
		}
	}
	return out
}
