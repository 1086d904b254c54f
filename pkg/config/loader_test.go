package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewViperLoader("", "EVENTINSPECT_TEST").Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.HTTP.WriteTimeout != 0 {
		t.Fatalf("write timeout = %v, want 0", cfg.HTTP.WriteTimeout)
	}
	if cfg.Bus.Variant != BusVariantMemory {
		t.Fatalf("bus variant = %q, want memory", cfg.Bus.Variant)
	}
	if cfg.Redis.EventTTL != 60*time.Second {
		t.Fatalf("event ttl = %v, want 60s", cfg.Redis.EventTTL)
	}
	if cfg.Redis.QueueSize != 1000 {
		t.Fatalf("queue size = %d, want 1000", cfg.Redis.QueueSize)
	}
	if cfg.Redis.PollInterval != time.Second {
		t.Fatalf("poll interval = %v, want 1s", cfg.Redis.PollInterval)
	}
	if cfg.Stream.HeartbeatInterval != 25*time.Second {
		t.Fatalf("heartbeat = %v, want 25s", cfg.Stream.HeartbeatInterval)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
http:
  port: 9090
log:
  level: debug
bus:
  variant: redis
redis:
  url: redis://localhost:6379/1
  poll_interval: 500ms
projects:
  - id: shop
    name: Web Shop
    environments:
      - id: prod
        write_key: wk_shop_prod_1
      - id: staging
        write_key: wk_shop_stg_1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewViperLoader(path, "EVENTINSPECT_TEST").Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	if cfg.Bus.Variant != BusVariantRedis || cfg.Redis.URL == "" {
		t.Fatalf("redis bus config not loaded: %+v", cfg.Bus)
	}
	if cfg.Redis.PollInterval != 500*time.Millisecond {
		t.Fatalf("poll interval = %v, want 500ms", cfg.Redis.PollInterval)
	}

	mappings := cfg.Mappings()
	if len(mappings) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(mappings))
	}
	if mappings[0].ProjectID != "shop" || mappings[0].EnvironmentID != "prod" || mappings[0].WriteKey != "wk_shop_prod_1" {
		t.Fatalf("unexpected mapping %+v", mappings[0])
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("EVENTINSPECT_TEST_HTTP_PORT", "7070")
	cfg, err := NewViperLoader(path, "EVENTINSPECT_TEST").Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 7070 {
		t.Fatalf("port = %d, env should beat file", cfg.HTTP.Port)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := NewViperLoader("/nonexistent/config.yaml", "EVENTINSPECT_TEST").Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_Rejections(t *testing.T) {
	loader := NewViperLoader("", "EVENTINSPECT_TEST")

	base := func() *Config { return DefaultConfig() }

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }},
		{"nonzero write timeout", func(c *Config) { c.HTTP.WriteTimeout = time.Second }},
		{"unknown bus variant", func(c *Config) { c.Bus.Variant = "kafka" }},
		{"redis variant without url", func(c *Config) { c.Bus.Variant = BusVariantRedis; c.Redis.URL = "" }},
		{"zero heartbeat", func(c *Config) { c.Stream.HeartbeatInterval = 0 }},
		{"zero client buffer", func(c *Config) { c.Stream.ClientBuffer = 0 }},
		{"rate limit enabled without rps", func(c *Config) { c.RateLimit.Enabled = true; c.RateLimit.RequestsPerSecond = 0 }},
		{"project id with separator", func(c *Config) {
			c.Projects = []ProjectConfig{{ID: "a:b", Environments: []EnvironmentConfig{{ID: "prod", WriteKey: "wk"}}}}
		}},
		{"environment id with separator", func(c *Config) {
			c.Projects = []ProjectConfig{{ID: "a", Environments: []EnvironmentConfig{{ID: "pr:od", WriteKey: "wk"}}}}
		}},
		{"environment without write key", func(c *Config) {
			c.Projects = []ProjectConfig{{ID: "a", Environments: []EnvironmentConfig{{ID: "prod"}}}}
		}},
		{"duplicate write key", func(c *Config) {
			c.Projects = []ProjectConfig{
				{ID: "a", Environments: []EnvironmentConfig{{ID: "prod", WriteKey: "wk_same"}}},
				{ID: "b", Environments: []EnvironmentConfig{{ID: "prod", WriteKey: "wk_same"}}},
			}
		}},
		{"project without environments", func(c *Config) {
			c.Projects = []ProjectConfig{{ID: "a"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := loader.Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidate_AcceptsRedisVariant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bus.Variant = BusVariantRedis
	cfg.Redis.URL = "redis://localhost:6379/0"
	if err := NewViperLoader("", "EVENTINSPECT_TEST").Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
