// Package config loads the CLI configuration file.
//
// The file is TOML. Only keys present in the file replace defaults, and a
// few environment variables override the file. The resulting Config is
// passed by value to whatever needs it; nothing here is global.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"

	"xdao.co/channels/internal/retry"
)

// Environment overrides.
const (
	EnvConfig     = "XDAO_CHAN_CONFIG"
	EnvServer     = "XDAO_CHAN_SERVER"
	EnvGRPCTarget = "XDAO_CHAN_GRPC_TARGET"
	EnvBudgetKey  = "XDAO_CHAN_BUDGET_KEY"
	EnvLogLevel   = "XDAO_CHAN_LOG_LEVEL"
)

// DefaultGRPCPort is used when grpc_target is derived from server.
const DefaultGRPCPort = "3846"

// DefaultServer is a locally running channel server.
const DefaultServer = "http://localhost:3845"

type Config struct {
	// Server is the HTTP base URL pages are published under.
	Server string
	// GRPCTarget is the directory endpoint. Empty means derive from Server.
	GRPCTarget string
	BudgetKey  string
	KeysDir    string
	// TokenCache is the token cache file. Empty disables caching.
	TokenCache string
	// CacheDir holds fetched shard ciphertext. Empty disables the cache.
	CacheDir string

	Authorize Authorize
	Publish   Publish
	Shard     Shard
	Retry     retry.Policy
	LogLevel  string
}

type Authorize struct {
	// DefaultBudget is the target quota used when authorize gets no size.
	DefaultBudget uint64
}

type Publish struct {
	PrefixLength      int
	TopUpIncrement    uint64
	StorageMultiplier uint64
}

type Shard struct {
	VerifyTimeout   time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// Concurrency bounds parallel uploads in shardify.
	Concurrency int
}

// Default returns the configuration used when no file is present. Paths
// are rooted at home.
func Default(home string) Config {
	base := filepath.Join(home, ".xdao")
	return Config{
		Server:     DefaultServer,
		KeysDir:    filepath.Join(base, "keys"),
		TokenCache: filepath.Join(base, "channels-tokens.cbor"),
		CacheDir:   filepath.Join(base, "shards"),
		Authorize:  Authorize{DefaultBudget: 256 << 20},
		Publish: Publish{
			PrefixLength:      8,
			TopUpIncrement:    16 << 20,
			StorageMultiplier: 1,
		},
		Shard: Shard{
			VerifyTimeout:   2 * time.Minute,
			PollInterval:    250 * time.Millisecond,
			MaxPollInterval: 5 * time.Second,
			Concurrency:     4,
		},
		Retry: retry.Policy{
			MaxAttempts:  1,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
		LogLevel: "info",
	}
}

// DefaultPath is ~/.xdao/channels.toml.
func DefaultPath(home string) string {
	return filepath.Join(home, ".xdao", "channels.toml")
}

// Target returns the directory endpoint: GRPCTarget when set, otherwise
// the host of Server on DefaultGRPCPort.
func (c Config) Target() (string, error) {
	if c.GRPCTarget != "" {
		return c.GRPCTarget, nil
	}
	u, err := url.Parse(c.Server)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("config: cannot derive grpc target from server %q", c.Server)
	}
	return net.JoinHostPort(u.Hostname(), DefaultGRPCPort), nil
}

type fileConfig struct {
	Server     string `toml:"server"`
	GRPCTarget string `toml:"grpc_target"`
	BudgetKey  string `toml:"budget_key"`
	KeysDir    string `toml:"keys_dir"`
	TokenCache string `toml:"token_cache"`
	CacheDir   string `toml:"cache_dir"`

	Authorize struct {
		DefaultBudget string `toml:"default_budget"`
	} `toml:"authorize"`

	Publish struct {
		PrefixLength      int    `toml:"prefix_length"`
		TopUpIncrement    string `toml:"top_up_increment"`
		StorageMultiplier uint64 `toml:"storage_multiplier"`
	} `toml:"publish"`

	Shard struct {
		VerifyTimeout   string `toml:"verify_timeout"`
		PollInterval    string `toml:"poll_interval"`
		MaxPollInterval string `toml:"max_poll_interval"`
		Concurrency     int    `toml:"concurrency"`
	} `toml:"shard"`

	Retry struct {
		MaxAttempts  int     `toml:"max_attempts"`
		InitialDelay string  `toml:"initial_delay"`
		MaxDelay     string  `toml:"max_delay"`
		Multiplier   float64 `toml:"multiplier"`
		Jitter       bool    `toml:"jitter"`
	} `toml:"retry"`

	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// Load reads path on top of Default(home) and applies environment
// overrides from getenv. A missing file is an error only when required
// is set.
func Load(path, home string, required bool, getenv func(string) string) (Config, error) {
	cfg := Default(home)
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || required {
				return Config{}, err
			}
		}
	}
	if getenv != nil {
		applyEnv(&cfg, getenv)
	}
	return cfg, cfg.Validate()
}

func decodeFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	str := func(dst *string, v string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(v)
		}
	}
	str(&cfg.Server, raw.Server, "server")
	str(&cfg.GRPCTarget, raw.GRPCTarget, "grpc_target")
	str(&cfg.BudgetKey, raw.BudgetKey, "budget_key")
	str(&cfg.KeysDir, raw.KeysDir, "keys_dir")
	str(&cfg.TokenCache, raw.TokenCache, "token_cache")
	str(&cfg.CacheDir, raw.CacheDir, "cache_dir")
	str(&cfg.LogLevel, raw.Log.Level, "log", "level")

	sizes := []struct {
		key []string
		v   string
		dst *uint64
	}{
		{[]string{"authorize", "default_budget"}, raw.Authorize.DefaultBudget, &cfg.Authorize.DefaultBudget},
		{[]string{"publish", "top_up_increment"}, raw.Publish.TopUpIncrement, &cfg.Publish.TopUpIncrement},
	}
	for _, s := range sizes {
		if !meta.IsDefined(s.key...) {
			continue
		}
		n, err := ParseSize(s.v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(s.key, "."), err)
		}
		*s.dst = n
	}

	durations := []struct {
		key []string
		v   string
		dst *time.Duration
	}{
		{[]string{"shard", "verify_timeout"}, raw.Shard.VerifyTimeout, &cfg.Shard.VerifyTimeout},
		{[]string{"shard", "poll_interval"}, raw.Shard.PollInterval, &cfg.Shard.PollInterval},
		{[]string{"shard", "max_poll_interval"}, raw.Shard.MaxPollInterval, &cfg.Shard.MaxPollInterval},
		{[]string{"retry", "initial_delay"}, raw.Retry.InitialDelay, &cfg.Retry.InitialDelay},
		{[]string{"retry", "max_delay"}, raw.Retry.MaxDelay, &cfg.Retry.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("publish", "prefix_length") {
		cfg.Publish.PrefixLength = raw.Publish.PrefixLength
	}
	if meta.IsDefined("publish", "storage_multiplier") {
		cfg.Publish.StorageMultiplier = raw.Publish.StorageMultiplier
	}
	if meta.IsDefined("shard", "concurrency") {
		cfg.Shard.Concurrency = raw.Shard.Concurrency
	}
	if meta.IsDefined("retry", "max_attempts") {
		cfg.Retry.MaxAttempts = raw.Retry.MaxAttempts
	}
	if meta.IsDefined("retry", "multiplier") {
		cfg.Retry.Multiplier = raw.Retry.Multiplier
	}
	if meta.IsDefined("retry", "jitter") {
		cfg.Retry.Jitter = raw.Retry.Jitter
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Server, EnvServer)
	set(&cfg.GRPCTarget, EnvGRPCTarget)
	set(&cfg.BudgetKey, EnvBudgetKey)
	set(&cfg.LogLevel, EnvLogLevel)
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	switch {
	case c.Server == "":
		return errors.New("config: server is required")
	case c.Publish.PrefixLength < 1:
		return fmt.Errorf("config: publish.prefix_length must be positive, got %d", c.Publish.PrefixLength)
	case c.Publish.StorageMultiplier < 1:
		return errors.New("config: publish.storage_multiplier must be at least 1")
	case c.Shard.Concurrency < 1:
		return fmt.Errorf("config: shard.concurrency must be positive, got %d", c.Shard.Concurrency)
	case c.Shard.VerifyTimeout <= 0:
		return errors.New("config: shard.verify_timeout must be positive")
	}
	return nil
}

// ParseSize accepts humanized sizes ("256MiB", "16 MB") or plain bytes.
func ParseSize(s string) (uint64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}
