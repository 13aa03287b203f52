// Package config loads Heimdall's configuration from TOML (BurntSushi/toml).
// Config is treated as an immutable value after load; callers needing
// hot-reload hold an atomic.Pointer[Config] and swap it wholesale rather
// than mutating fields in place.
package config

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full set of recognized options, plus the minimal
// defaults needed to run without a file.
type Config struct {
	BindAddr         string   `toml:"bind_addr"`
	UpstreamServers  []string `toml:"upstream_servers"`

	MaxCacheSize        int    `toml:"max_cache_size"`
	HotCachePercentage  int    `toml:"hot_cache_percentage"`
	PromotionThreshold  int    `toml:"promotion_threshold"`
	CacheFilePath       string `toml:"cache_file_path"`
	CacheSaveIntervalS  int    `toml:"cache_save_interval_s"`

	MinCacheTTL       int `toml:"min_cache_ttl"`
	MaxCacheTTL       int `toml:"max_cache_ttl"`
	NegativeCacheTTL  int `toml:"negative_cache_ttl"`
	HardenBelowNXDomain bool `toml:"harden_below_nxdomain"`

	UpstreamTimeoutS      int  `toml:"upstream_timeout_s"`
	MaxRetries            int  `toml:"max_retries"`
	EnableParallelQueries bool `toml:"enable_parallel_queries"`
	ParallelK             int  `toml:"parallel_k"`

	MaxConcurrentQueries int `toml:"max_concurrent_queries"`
	WorkerThreads        int `toml:"worker_threads"`

	EnableDNSSEC bool `toml:"enable_dnssec"`

	L2CacheEnabled  bool   `toml:"l2_cache_enabled"`
	L2CacheEndpoint string `toml:"l2_cache_endpoint"`

	LogLevel string `toml:"log_level"`
}

// Default returns the configuration to assume when a field is absent
// from the file.
func Default() *Config {
	return &Config{
		BindAddr:              "0.0.0.0:1053",
		MaxCacheSize:          10000,
		HotCachePercentage:    10,
		PromotionThreshold:    3,
		CacheFilePath:         "",
		CacheSaveIntervalS:    300,
		MinCacheTTL:           0,
		MaxCacheTTL:           86400,
		NegativeCacheTTL:      3600,
		HardenBelowNXDomain:   false,
		UpstreamTimeoutS:      2,
		MaxRetries:            3,
		EnableParallelQueries: false,
		ParallelK:             2,
		MaxConcurrentQueries:  1000,
		WorkerThreads:         0,
		EnableDNSSEC:          false,
		L2CacheEnabled:        false,
		LogLevel:              "info",
	}
}

// Load reads and decodes a TOML file at path, applying Default() for any
// field left unset (BurntSushi/toml leaves zero values for absent keys, so
// defaults are applied by decoding onto a pre-populated Default()).
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants that would make the engine misbehave
// (e.g. upstream_timeout_s ≤ 300) and rejects the config instead of
// silently clamping it.
func (c *Config) Validate() error {
	if len(c.UpstreamServers) == 0 {
		return fmt.Errorf("config: at least one upstream_servers entry is required")
	}
	if c.UpstreamTimeoutS <= 0 || c.UpstreamTimeoutS > 300 {
		return fmt.Errorf("config: upstream_timeout_s must be in (0, 300], got %d", c.UpstreamTimeoutS)
	}
	if c.ParallelK < 1 {
		return fmt.Errorf("config: parallel_k must be >= 1, got %d", c.ParallelK)
	}
	if c.HotCachePercentage < 0 || c.HotCachePercentage > 100 {
		return fmt.Errorf("config: hot_cache_percentage must be in [0, 100], got %d", c.HotCachePercentage)
	}
	return nil
}

// UpstreamTimeout is UpstreamTimeoutS as a time.Duration.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutS) * time.Second
}

// CacheSaveInterval is CacheSaveIntervalS as a time.Duration.
func (c *Config) CacheSaveInterval() time.Duration {
	return time.Duration(c.CacheSaveIntervalS) * time.Second
}

// HotCapacity returns the hot-tier capacity derived from MaxCacheSize and
// HotCachePercentage.
func (c *Config) HotCapacity() int {
	return c.MaxCacheSize * c.HotCachePercentage / 100
}

// MainCapacity returns the main-tier capacity: the remainder after the hot
// tier's share.
func (c *Config) MainCapacity() int {
	return c.MaxCacheSize - c.HotCapacity()
}

// Holder is an atomically-swappable Config reference, for reload-on-SIGHUP
// style configuration without taking a lock on the read path.
type Holder struct {
	p atomic.Pointer[Config]
}

func NewHolder(c *Config) *Holder {
	h := &Holder{}
	h.p.Store(c)
	return h
}

func (h *Holder) Load() *Config { return h.p.Load() }

func (h *Holder) Store(c *Config) { h.p.Store(c) }
