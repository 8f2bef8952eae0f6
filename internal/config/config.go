// Package config loads the goquota command configuration from a JSON file
// and environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/goquota/internal/maintenance"
	"github.com/vnykmshr/goquota/pkg/ratelimit/keys"
	"github.com/vnykmshr/goquota/pkg/ratelimit/limiter"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// Environment variables applied by ApplyEnv.
const (
	EnvRedisAddr     = "GOQUOTA_REDIS_ADDR"
	EnvRedisPassword = "GOQUOTA_REDIS_PASSWORD"
	EnvRedisDB       = "GOQUOTA_REDIS_DB"
	EnvKeyPrefix     = "GOQUOTA_KEY_PREFIX"
	EnvInstanceID    = "GOQUOTA_INSTANCE_ID"
	EnvFailOpen      = "GOQUOTA_FAIL_OPEN"
	EnvListenAddr    = "GOQUOTA_LISTEN_ADDR"
)

// Config is the top-level configuration for the goquota command.
type Config struct {
	Redis       RedisConfig             `json:"redis"`
	Engine      EngineConfig            `json:"engine"`
	Server      ServerConfig            `json:"server"`
	Maintenance MaintenanceConfig       `json:"maintenance"`
	Rules       map[string][]RuleConfig `json:"rules,omitempty"`
}

// RedisConfig holds shared store connection settings. More than one address
// selects a cluster client.
type RedisConfig struct {
	Addrs    []string `json:"addrs"`
	Password string   `json:"password,omitempty"`
	DB       int      `json:"db"`
}

// EngineConfig holds limiter settings.
type EngineConfig struct {
	KeyPrefix     string        `json:"key_prefix"`
	InstanceID    string        `json:"instance_id,omitempty"`
	InstanceCount int           `json:"instance_count"`
	Timeout       time.Duration `json:"timeout"`
	FailOpen      bool          `json:"fail_open"`
	StatsTTL      time.Duration `json:"stats_ttl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// MaintenanceConfig holds scheduled jobs.
type MaintenanceConfig struct {
	PreloadSchedule string           `json:"preload_schedule"`
	Resets          []ScheduledReset `json:"resets,omitempty"`
}

// ScheduledReset clears a key on a cron schedule. When RuleSet is set, the
// per-rule keys of that rule set are cleared instead.
type ScheduledReset struct {
	Key      string `json:"key"`
	Schedule string `json:"schedule"`
	RuleSet  string `json:"rule_set,omitempty"`
}

// RuleConfig is the JSON form of a model.Rule.
type RuleConfig struct {
	Name          string  `json:"name"`
	Algorithm     string  `json:"algorithm"`
	Priority      int     `json:"priority"`
	Enabled       *bool   `json:"enabled,omitempty"`
	Window        string  `json:"window,omitempty"`
	MaxRequests   int64   `json:"max_requests,omitempty"`
	Capacity      int64   `json:"capacity,omitempty"`
	Rate          float64 `json:"rate,omitempty"`
	InstanceCount int     `json:"instance_count,omitempty"`
	InstanceLimit int64   `json:"instance_limit,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Redis: RedisConfig{
			Addrs: []string{"localhost:6379"},
		},
		Engine: EngineConfig{
			KeyPrefix:     keys.DefaultPrefix,
			InstanceCount: 1,
			Timeout:       500 * time.Millisecond,
			StatsTTL:      24 * time.Hour,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Maintenance: MaintenanceConfig{
			PreloadSchedule: maintenance.DefaultPreloadSchedule,
		},
	}
}

// Validate checks that the config is valid without contacting Redis.
func (c Config) Validate() error {
	if len(c.Redis.Addrs) == 0 {
		return fmt.Errorf("redis.addrs must not be empty")
	}
	for _, addr := range c.Redis.Addrs {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("redis.addrs contains an empty address")
		}
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must not be negative, got %d", c.Redis.DB)
	}
	if err := keys.ValidateKey(c.Engine.KeyPrefix); err != nil {
		return fmt.Errorf("engine.key_prefix: %w", err)
	}
	if c.Engine.InstanceCount <= 0 {
		return fmt.Errorf("engine.instance_count must be positive, got %d", c.Engine.InstanceCount)
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive, got %s", c.Engine.Timeout)
	}
	if c.Engine.StatsTTL < time.Second {
		return fmt.Errorf("engine.stats_ttl must be at least 1s, got %s", c.Engine.StatsTTL)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}

	for _, name := range c.RuleSetNames() {
		if _, err := c.ToRules(name); err != nil {
			return err
		}
	}

	if c.Maintenance.PreloadSchedule != "" {
		if _, err := maintenance.ParseSchedule(c.Maintenance.PreloadSchedule); err != nil {
			return fmt.Errorf("maintenance.preload_schedule: %w", err)
		}
	}
	for i, r := range c.Maintenance.Resets {
		if err := keys.ValidateKey(r.Key); err != nil {
			return fmt.Errorf("maintenance.resets[%d].key: %w", i, err)
		}
		if _, err := maintenance.ParseSchedule(r.Schedule); err != nil {
			return fmt.Errorf("maintenance.resets[%d].schedule: %w", i, err)
		}
		if r.RuleSet != "" {
			if _, ok := c.Rules[r.RuleSet]; !ok {
				return fmt.Errorf("maintenance.resets[%d].rule_set: unknown rule set %q", i, r.RuleSet)
			}
		}
	}
	return nil
}

// RuleSetNames returns the configured rule set names in sorted order.
func (c Config) RuleSetNames() []string {
	names := make([]string, 0, len(c.Rules))
	for name := range c.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToRules converts the named rule set into validated rules.
func (c Config) ToRules(name string) ([]model.Rule, error) {
	set, ok := c.Rules[name]
	if !ok {
		return nil, fmt.Errorf("unknown rule set %q", name)
	}

	rules := make([]model.Rule, 0, len(set))
	for i, rc := range set {
		r, err := rc.Rule()
		if err != nil {
			return nil, fmt.Errorf("rules.%s[%d]: %w", name, i, err)
		}
		rules = append(rules, r)
	}
	if err := model.ValidateRules(rules); err != nil {
		return nil, fmt.Errorf("rules.%s: %w", name, err)
	}
	return rules, nil
}

// AllRules converts every rule set.
func (c Config) AllRules() (map[string][]model.Rule, error) {
	out := make(map[string][]model.Rule, len(c.Rules))
	for _, name := range c.RuleSetNames() {
		rules, err := c.ToRules(name)
		if err != nil {
			return nil, err
		}
		out[name] = rules
	}
	return out, nil
}

// Resets converts the scheduled resets for the maintenance scheduler,
// resolving rule set references.
func (c Config) Resets() ([]maintenance.Reset, error) {
	out := make([]maintenance.Reset, 0, len(c.Maintenance.Resets))
	for i, sr := range c.Maintenance.Resets {
		r := maintenance.Reset{Key: sr.Key, Schedule: sr.Schedule}
		if sr.RuleSet != "" {
			rules, err := c.ToRules(sr.RuleSet)
			if err != nil {
				return nil, fmt.Errorf("maintenance.resets[%d]: %w", i, err)
			}
			r.Rules = rules
		}
		out = append(out, r)
	}
	return out, nil
}

// Rule converts rc into a model.Rule. Rules are enabled unless they say
// otherwise.
func (rc RuleConfig) Rule() (model.Rule, error) {
	alg, err := model.ParseAlgorithm(rc.Algorithm)
	if err != nil {
		return model.Rule{}, err
	}

	var window time.Duration
	if rc.Window != "" {
		window, err = time.ParseDuration(rc.Window)
		if err != nil {
			return model.Rule{}, fmt.Errorf("parsing window: %w", err)
		}
	}

	p := model.Params{
		Algorithm:     alg,
		WindowSize:    window,
		MaxRequests:   rc.MaxRequests,
		Capacity:      rc.Capacity,
		Rate:          rc.Rate,
		InstanceCount: rc.InstanceCount,
		InstanceLimit: rc.InstanceLimit,
	}
	r := model.NewRule(rc.Name, rc.Priority, p)
	if rc.Enabled != nil {
		r.Enabled = *rc.Enabled
	}
	if err := r.Validate(); err != nil {
		return model.Rule{}, err
	}
	return r, nil
}

// LoadFile reads a JSON config file and merges it with defaults.
// Fields not specified in the file retain their default values.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	// Use a raw intermediate struct to handle duration parsing.
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if len(raw.Redis.Addrs) > 0 {
		cfg.Redis.Addrs = raw.Redis.Addrs
	}
	if raw.Redis.Password != "" {
		cfg.Redis.Password = raw.Redis.Password
	}
	if raw.Redis.DB != 0 {
		cfg.Redis.DB = raw.Redis.DB
	}

	if raw.Engine.KeyPrefix != "" {
		cfg.Engine.KeyPrefix = raw.Engine.KeyPrefix
	}
	if raw.Engine.InstanceID != "" {
		cfg.Engine.InstanceID = raw.Engine.InstanceID
	}
	if raw.Engine.InstanceCount != 0 {
		cfg.Engine.InstanceCount = raw.Engine.InstanceCount
	}
	if raw.Engine.Timeout != "" {
		d, err := time.ParseDuration(raw.Engine.Timeout)
		if err != nil {
			return cfg, fmt.Errorf("parsing engine.timeout: %w", err)
		}
		cfg.Engine.Timeout = d
	}
	if raw.Engine.FailOpen != nil {
		cfg.Engine.FailOpen = *raw.Engine.FailOpen
	}
	if raw.Engine.StatsTTL != "" {
		d, err := time.ParseDuration(raw.Engine.StatsTTL)
		if err != nil {
			return cfg, fmt.Errorf("parsing engine.stats_ttl: %w", err)
		}
		cfg.Engine.StatsTTL = d
	}

	if raw.Server.Addr != "" {
		cfg.Server.Addr = raw.Server.Addr
	}

	if raw.Maintenance.PreloadSchedule != nil {
		cfg.Maintenance.PreloadSchedule = *raw.Maintenance.PreloadSchedule
	}
	if len(raw.Maintenance.Resets) > 0 {
		cfg.Maintenance.Resets = raw.Maintenance.Resets
	}
	if len(raw.Rules) > 0 {
		cfg.Rules = raw.Rules
	}

	return cfg, nil
}

// rawConfig is the JSON-friendly representation with string durations.
type rawConfig struct {
	Redis  RedisConfig `json:"redis"`
	Engine struct {
		KeyPrefix     string `json:"key_prefix"`
		InstanceID    string `json:"instance_id"`
		InstanceCount int    `json:"instance_count"`
		Timeout       string `json:"timeout"`
		FailOpen      *bool  `json:"fail_open"`
		StatsTTL      string `json:"stats_ttl"`
	} `json:"engine"`
	Server      ServerConfig `json:"server"`
	Maintenance struct {
		PreloadSchedule *string          `json:"preload_schedule"`
		Resets          []ScheduledReset `json:"resets"`
	} `json:"maintenance"`
	Rules map[string][]RuleConfig `json:"rules"`
}

// ApplyEnv overrides c with the GOQUOTA_* variables found by lookup,
// typically os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Redis.Addrs = splitList(v)
	}
	if v, ok := lookup(EnvRedisPassword); ok {
		c.Redis.Password = v
	}
	if v, ok := lookup(EnvRedisDB); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvRedisDB, err)
		}
		c.Redis.DB = db
	}
	if v, ok := lookup(EnvKeyPrefix); ok && v != "" {
		c.Engine.KeyPrefix = v
	}
	if v, ok := lookup(EnvInstanceID); ok && v != "" {
		c.Engine.InstanceID = v
	}
	if v, ok := lookup(EnvFailOpen); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvFailOpen, err)
		}
		c.Engine.FailOpen = b
	}
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		c.Server.Addr = v
	}
	return nil
}

// Load reads path when it is not empty, then applies the environment and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// RedisClient builds a client for the configured addresses: a cluster client
// for several addresses, a single-node client otherwise.
func (c Config) RedisClient() redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Redis.Addrs,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
}

// LimiterConfig returns the limiter configuration for client.
func (c Config) LimiterConfig(client redis.UniversalClient) limiter.Config {
	lc := limiter.DefaultConfig()
	lc.Redis = client
	lc.KeyPrefix = c.Engine.KeyPrefix
	lc.InstanceID = c.Engine.InstanceID
	lc.InstanceCount = c.Engine.InstanceCount
	lc.Timeout = c.Engine.Timeout
	lc.StatsTTL = c.Engine.StatsTTL
	if c.Engine.FailOpen {
		lc.FailurePolicy = limiter.FailOpen
	}
	return lc
}

// WriteExample writes an example config file to the given path.
func WriteExample(path string) error {
	example := `{
  "redis": {
    "addrs": ["localhost:6379"],
    "db": 0
  },
  "engine": {
    "key_prefix": "goquota",
    "instance_count": 2,
    "timeout": "500ms",
    "fail_open": false,
    "stats_ttl": "24h"
  },
  "server": {
    "addr": ":8080"
  },
  "maintenance": {
    "preload_schedule": "@every 1m",
    "resets": [
      {"key": "tenant:trial", "schedule": "0 0 * * *"}
    ]
  },
  "rules": {
    "sender": [
      {"name": "per-second", "algorithm": "token_bucket", "priority": 1, "capacity": 5, "rate": 1},
      {"name": "per-hour", "algorithm": "sliding_window", "priority": 2, "window": "1h", "max_requests": 500}
    ]
  }
}
`
	return os.WriteFile(path, []byte(example), 0o644)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
