// Package config loads the TOML configuration of the drain daemon.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/unkn0wn-root/taskcache"
)

// Duration is a time.Duration written as a string ("30s", "5m").
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

type Config struct {
	Project            string   `toml:"project"`
	Types              []string `toml:"types"`
	Codec              string   `toml:"codec"`
	MaxDecodeBytes     int      `toml:"max_decode_bytes"` // 0 => unlimited
	CacheExpiry        Duration `toml:"cache_expiry"`
	IsolateFlushErrors bool     `toml:"isolate_flush_errors"`

	Cache   Cache   `toml:"cache"`
	Redis   Redis   `toml:"redis"`
	Store   Store   `toml:"store"`
	Drain   Drain   `toml:"drain"`
	Webhook Webhook `toml:"webhook"`
	Log     Log     `toml:"log"`
	Metrics Metrics `toml:"metrics"`
}

// Cache selects the fast-read provider. Staged writes always live in Redis:
// the daemon drains hashes written by other processes.
type Cache struct {
	Provider string `toml:"provider"` // redis | bigcache | ristretto
	MaxCost  int64  `toml:"max_cost"` // ristretto
}

type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type Store struct {
	Driver string `toml:"driver"` // sqlite | postgres
	DSN    string `toml:"dsn"`    // file path for sqlite
}

type Drain struct {
	Interval Duration `toml:"interval"`
	Timeout  Duration `toml:"timeout"`
}

type Webhook struct {
	Timeout        Duration `toml:"timeout"`
	Attempts       int      `toml:"attempts"`
	Delay          Duration `toml:"delay"`
	MaxConcurrency int      `toml:"max_concurrency"`
}

type Log struct {
	Level  string `toml:"level"`  // debug | info | warn | error
	Format string `toml:"format"` // json | console
}

type Metrics struct {
	Addr string `toml:"addr"` // "" disables the endpoint
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	return &Config{
		Project:     "taskcache",
		Codec:       "json",
		CacheExpiry: Duration{60 * time.Second},
		Cache:       Cache{Provider: "redis", MaxCost: 1 << 26},
		Redis:       Redis{Addr: "localhost:6379"},
		Store:       Store{Driver: "sqlite", DSN: "taskcache.db"},
		Drain:       Drain{Interval: Duration{30 * time.Second}},
		Webhook:     Webhook{Timeout: Duration{10 * time.Second}, Attempts: 1, MaxConcurrency: 8},
		Log:         Log{Level: "info", Format: "json"},
	}
}

// LoadFile reads and parses a TOML file.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(content))
}

// Parse decodes TOML over Default and validates the result.
func Parse(content string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(content, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.Project == "" {
		problems = append(problems, "project must not be empty")
	}
	if len(c.Types) == 0 {
		problems = append(problems, "types must list at least one entity type")
	}
	switch c.Codec {
	case "json", "msgpack", "cbor":
	default:
		problems = append(problems, fmt.Sprintf("codec %q not supported", c.Codec))
	}
	switch c.Cache.Provider {
	case "redis", "bigcache", "ristretto":
	case "local":
		problems = append(problems, `cache.provider "local" cannot see staged writes of other processes`)
	default:
		problems = append(problems, fmt.Sprintf("cache.provider %q not supported", c.Cache.Provider))
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	case "memory":
		problems = append(problems, `store.driver "memory" would discard every drained write`)
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q not supported", c.Store.Driver))
	}
	if c.MaxDecodeBytes < 0 {
		problems = append(problems, "max_decode_bytes must not be negative")
	}
	if c.CacheExpiry.Duration <= 0 {
		problems = append(problems, "cache_expiry must be positive")
	}
	if c.Drain.Interval.Duration <= 0 {
		problems = append(problems, "drain.interval must be positive")
	}
	if c.Webhook.Attempts < 1 {
		problems = append(problems, "webhook.attempts must be at least 1")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q not supported", c.Log.Level))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DrainerOptions maps the drain section onto taskcache.DrainerOptions.
func (c *Config) DrainerOptions(l taskcache.Logger) taskcache.DrainerOptions {
	return taskcache.DrainerOptions{
		Interval: c.Drain.Interval.Duration,
		Timeout:  c.Drain.Timeout.Duration,
		Logger:   l,
	}
}

// DispatcherOptions maps the webhook section onto taskcache.DispatcherOptions.
func (c *Config) DispatcherOptions(sig *taskcache.SignalRegistry, l taskcache.Logger, h taskcache.Hooks) taskcache.DispatcherOptions {
	return taskcache.DispatcherOptions{
		Signals:         sig,
		WebhookTimeout:  c.Webhook.Timeout.Duration,
		WebhookAttempts: c.Webhook.Attempts,
		WebhookDelay:    c.Webhook.Delay.Duration,
		MaxConcurrency:  c.Webhook.MaxConcurrency,
		Logger:          l,
		Hooks:           h,
	}
}
