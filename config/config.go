package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type Config struct {
	Port        int
	Environment string `toml:"-"`
	// logging
	LogLevel    string `toml:"log_level"`
	LogsPath    string `toml:"logs_path"`
	LogToStdout bool   `toml:"log_to_stdout"`
	LogJSON     bool   `toml:"log_json"`
	// storage
	Store      string `toml:"store"`
	SQLitePath string `toml:"sqlite_path"`
	RedisAddr  string `toml:"redis_addr"`
	RedisPass  string `toml:"redis_password"`
	// engine
	RefreshInterval Duration `toml:"refresh_interval"`
	StartingBalance int      `toml:"starting_balance"`
	CatalogPath     string   `toml:"catalog_path"`
	// remote
	CacheSizeMB      int      `toml:"cache_size_mb"`
	CacheTTLSeconds  int      `toml:"cache_ttl_seconds"`
	SimulatorLatency Duration `toml:"simulator_latency"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

// Duration decodes "30s"-style TOML strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("no [%s] section in config", env)
	}
	return cfg, nil
}

// Load decodes path and returns the section for env with defaults
// applied to anything the file leaves unset.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return fromToml(&t, env)
}

// Parse is Load for an in-memory document.
func Parse(env, doc string) (*Config, error) {
	var t Toml
	if _, err := toml.Decode(doc, &t); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return fromToml(&t, env)
}

func fromToml(t *Toml, env string) (*Config, error) {
	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	cfg.Environment = strings.ToLower(env)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default is the development configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Environment: "development", LogToStdout: true}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store == "" {
		c.Store = StoreMemory
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "./progression.db"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.RefreshInterval.Duration <= 0 {
		c.RefreshInterval.Duration = 30 * time.Second
	}
	if c.StartingBalance == 0 {
		c.StartingBalance = 100
	}
	if c.CacheSizeMB <= 0 {
		c.CacheSizeMB = 8
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = 300
	}
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store %q (want %s, %s or %s)", c.Store, StoreMemory, StoreSQLite, StoreRedis)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.StartingBalance < 0 {
		return fmt.Errorf("starting balance must be non-negative, got %d", c.StartingBalance)
	}
	return nil
}
