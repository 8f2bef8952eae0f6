package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/goquota/pkg/ratelimit/limiter"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goquota.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Engine.KeyPrefix != "goquota" {
		t.Errorf("default key prefix = %q, want goquota", cfg.Engine.KeyPrefix)
	}
	if cfg.Maintenance.PreloadSchedule != "@every 1m" {
		t.Errorf("default preload schedule = %q", cfg.Maintenance.PreloadSchedule)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no redis", func(c *Config) { c.Redis.Addrs = nil }},
		{"blank redis addr", func(c *Config) { c.Redis.Addrs = []string{" "} }},
		{"negative db", func(c *Config) { c.Redis.DB = -1 }},
		{"braced prefix", func(c *Config) { c.Engine.KeyPrefix = "a{b}" }},
		{"zero instances", func(c *Config) { c.Engine.InstanceCount = 0 }},
		{"zero timeout", func(c *Config) { c.Engine.Timeout = 0 }},
		{"short stats ttl", func(c *Config) { c.Engine.StatsTTL = time.Millisecond }},
		{"no listen addr", func(c *Config) { c.Server.Addr = "" }},
		{"bad preload schedule", func(c *Config) { c.Maintenance.PreloadSchedule = "often" }},
		{"bad reset schedule", func(c *Config) {
			c.Maintenance.Resets = []ScheduledReset{{Key: "k", Schedule: "often"}}
		}},
		{"bad reset key", func(c *Config) {
			c.Maintenance.Resets = []ScheduledReset{{Key: "", Schedule: "@daily"}}
		}},
		{"unknown reset rule set", func(c *Config) {
			c.Maintenance.Resets = []ScheduledReset{{Key: "k", Schedule: "@daily", RuleSet: "missing"}}
		}},
		{"bad rule", func(c *Config) {
			c.Rules = map[string][]RuleConfig{"api": {{Name: "r", Algorithm: "token_bucket", Capacity: 5}}}
		}},
		{"unknown algorithm", func(c *Config) {
			c.Rules = map[string][]RuleConfig{"api": {{Name: "r", Algorithm: "gcra", Capacity: 5, Rate: 1}}}
		}},
		{"duplicate rule", func(c *Config) {
			c.Rules = map[string][]RuleConfig{"api": {
				{Name: "r", Algorithm: "token_bucket", Capacity: 5, Rate: 1},
				{Name: "r", Algorithm: "leaky_bucket", Capacity: 5, Rate: 1},
			}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `{
  "redis": {"addrs": ["redis-a:6379"], "db": 2},
  "engine": {"key_prefix": "mail", "timeout": "250ms", "fail_open": true, "stats_ttl": "1h"},
  "maintenance": {"resets": [{"key": "tenant:trial", "schedule": "@daily", "rule_set": "sender"}]},
  "rules": {
    "sender": [
      {"name": "per-second", "algorithm": "token_bucket", "priority": 1, "capacity": 5, "rate": 1},
      {"name": "per-hour", "algorithm": "sliding_window", "priority": 2, "window": "1h", "max_requests": 500},
      {"name": "off", "algorithm": "fixed_window", "priority": 3, "window": "1m", "max_requests": 5, "enabled": false}
    ]
  }
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Redis.Addrs[0] != "redis-a:6379" || cfg.Redis.DB != 2 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Engine.KeyPrefix != "mail" || cfg.Engine.Timeout != 250*time.Millisecond || !cfg.Engine.FailOpen {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.StatsTTL != time.Hour {
		t.Errorf("stats ttl = %s, want 1h", cfg.Engine.StatsTTL)
	}
	// Unset fields keep their defaults.
	if cfg.Server.Addr != ":8080" || cfg.Engine.InstanceCount != 1 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Maintenance.PreloadSchedule != "@every 1m" {
		t.Errorf("preload schedule = %q", cfg.Maintenance.PreloadSchedule)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	rules, err := cfg.ToRules("sender")
	if err != nil {
		t.Fatalf("ToRules: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(rules))
	}
	if rules[1].Algorithm != model.SlidingWindow || rules[1].WindowSize != time.Hour || rules[1].MaxRequests != 500 {
		t.Errorf("rule per-hour = %+v", rules[1])
	}
	if rules[2].Enabled {
		t.Error("rule off should be disabled")
	}
	if !rules[0].Enabled {
		t.Error("rules are enabled by default")
	}

	all, err := cfg.AllRules()
	if err != nil {
		t.Fatalf("AllRules: %v", err)
	}
	if len(all) != 1 || len(all["sender"]) != 3 {
		t.Errorf("AllRules = %v", all)
	}

	resets, err := cfg.Resets()
	if err != nil {
		t.Fatalf("Resets: %v", err)
	}
	if len(resets) != 1 || resets[0].Key != "tenant:trial" || len(resets[0].Rules) != 3 {
		t.Errorf("Resets = %+v", resets)
	}
}

func TestLoadFileDisablesPreload(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, `{"maintenance": {"preload_schedule": ""}}`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Maintenance.PreloadSchedule != "" {
		t.Errorf("explicit empty schedule should disable preload, got %q", cfg.Maintenance.PreloadSchedule)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad json", `{`},
		{"bad timeout", `{"engine": {"timeout": "soon"}}`},
		{"bad stats ttl", `{"engine": {"stats_ttl": "forever"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFile(writeFile(t, tt.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvRedisAddr:     "a:1, b:2",
		EnvRedisPassword: "secret",
		EnvRedisDB:       "3",
		EnvKeyPrefix:     "edge",
		EnvInstanceID:    "node-7",
		EnvFailOpen:      "true",
		EnvListenAddr:    ":9090",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if len(cfg.Redis.Addrs) != 2 || cfg.Redis.Addrs[1] != "b:2" {
		t.Errorf("addrs = %v", cfg.Redis.Addrs)
	}
	if cfg.Redis.Password != "secret" || cfg.Redis.DB != 3 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Engine.KeyPrefix != "edge" || cfg.Engine.InstanceID != "node-7" || !cfg.Engine.FailOpen {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}

	for _, bad := range []map[string]string{
		{EnvRedisDB: "two"},
		{EnvFailOpen: "maybe"},
	} {
		c := Default()
		if err := c.ApplyEnv(envMap(bad)); err == nil {
			t.Errorf("ApplyEnv(%v) should fail", bad)
		}
	}
}

func TestLimiterConfig(t *testing.T) {
	cfg := Default()
	cfg.Engine.FailOpen = true
	cfg.Engine.InstanceID = "node-1"

	client := cfg.RedisClient()
	defer client.Close()
	if _, ok := client.(*redis.Client); !ok {
		t.Errorf("one address should build a single-node client, got %T", client)
	}

	lc := cfg.LimiterConfig(client)
	if lc.FailurePolicy != limiter.FailOpen || lc.InstanceID != "node-1" || lc.KeyPrefix != "goquota" {
		t.Errorf("limiter config = %+v", lc)
	}

	cfg.Redis.Addrs = []string{"a:1", "b:2"}
	cluster := cfg.RedisClient()
	defer cluster.Close()
	if _, ok := cluster.(*redis.ClusterClient); !ok {
		t.Errorf("several addresses should build a cluster client, got %T", cluster)
	}
}

func TestWriteExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	if err := WriteExample(path); err != nil {
		t.Fatalf("WriteExample: %v", err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile(example): %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("example config should be valid: %v", err)
	}
	if _, err := cfg.ToRules("sender"); err != nil {
		t.Errorf("example rules: %v", err)
	}
}
