package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingToken means no upstream token is configured; the proxy runs disabled.
var ErrMissingToken = errors.New("upstream token not configured")

type Server struct {
	Port                  string `yaml:"port"`
	RequestTimeoutSec     int    `yaml:"request_timeout_sec"`
	CacheControlMaxAgeSec int    `yaml:"cache_control_max_age_sec"`
	MaxSymbols            int    `yaml:"max_symbols"`
}

type Upstream struct {
	BaseURL              string `yaml:"base_url"`
	Token                string `yaml:"token"`
	TimeoutSec           int    `yaml:"timeout_sec"`
	MaxRequestsPerMinute int    `yaml:"max_requests_per_minute"`
	Burst                int    `yaml:"burst"`
	MinRequestIntervalMs int    `yaml:"min_request_interval_ms"`
}

type Cache struct {
	TTLSeconds       int     `yaml:"ttl_sec"`
	StaleTTLSeconds  int     `yaml:"stale_ttl_sec"`
	SweepSchedule    string  `yaml:"sweep_schedule"`
	SweepProbability float64 `yaml:"sweep_probability"`
}

type Breaker struct {
	Threshold int `yaml:"threshold"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Upstream Upstream `yaml:"upstream"`
	Cache    Cache    `yaml:"cache"`
	Breaker  Breaker  `yaml:"breaker"`
	Log      Log      `yaml:"log"`
}

func Default() Config {
	return Config{
		Server: Server{
			Port:                  "8080",
			RequestTimeoutSec:     15,
			CacheControlMaxAgeSec: 30,
			MaxSymbols:            50,
		},
		Upstream: Upstream{
			BaseURL:    "https://finnhub.io/api/v1",
			TimeoutSec: 7,
			Burst:      1,
		},
		Cache: Cache{
			TTLSeconds:      60,
			StaleTTLSeconds: 900,
			SweepSchedule:   "@every 60s",
		},
		Breaker: Breaker{Threshold: 5},
		Log:     Log{Level: "info"},
	}
}

// Load builds the configuration: defaults, then a YAML (or JSON) file, then
// environment variables. Keys in a .env file in the working directory apply
// where the process environment leaves them unset; the file is re-read on every
// call and never copied into the environment, so a reload sees its edits. If
// path is empty, config.yaml or config.json in the working directory is used
// when present.
func Load(path string) (Config, error) {
	dotenv, err := godotenv.Read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Default(), fmt.Errorf("read .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		for _, candidate := range []string{"config.yaml", "config.yml", "config.json"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg, envLookup(dotenv))
	cfg.normalize()
	return cfg, nil
}

// Validate reports configuration that disables the proxy.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Upstream.Token) == "" {
		return ErrMissingToken
	}
	return nil
}

func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSec) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

func (c Config) MinRequestInterval() time.Duration {
	return time.Duration(c.Upstream.MinRequestIntervalMs) * time.Millisecond
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c Config) StaleTTL() time.Duration {
	return time.Duration(c.Cache.StaleTTLSeconds) * time.Second
}

func (c Config) CacheControlMaxAge() time.Duration {
	return time.Duration(c.Server.CacheControlMaxAgeSec) * time.Second
}

// normalize clamps values to the ranges the proxy supports.
func (c *Config) normalize() {
	c.Upstream.Token = strings.TrimSpace(c.Upstream.Token)
	c.Upstream.BaseURL = strings.TrimRight(c.Upstream.BaseURL, "/")
	c.Upstream.TimeoutSec = clampInt(c.Upstream.TimeoutSec, 5, 8)
	c.Server.CacheControlMaxAgeSec = clampInt(c.Server.CacheControlMaxAgeSec, 5, 900)
	if c.Server.RequestTimeoutSec <= 0 {
		c.Server.RequestTimeoutSec = 15
	}
	if c.Server.MaxSymbols <= 0 {
		c.Server.MaxSymbols = 50
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 60
	}
	if c.Cache.StaleTTLSeconds < 0 {
		c.Cache.StaleTTLSeconds = 0
	}
	if c.Cache.SweepProbability < 0 {
		c.Cache.SweepProbability = 0
	}
	if c.Cache.SweepProbability > 1 {
		c.Cache.SweepProbability = 1
	}
	if c.Breaker.Threshold <= 0 {
		c.Breaker.Threshold = 5
	}
	if c.Upstream.Burst <= 0 {
		c.Upstream.Burst = 1
	}
}

// envLookup reads a key from the process environment, falling back to dotenv.
func envLookup(dotenv map[string]string) func(string) string {
	return func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
}

func applyEnv(cfg *Config, get func(string) string) {
	if v := get("PORT"); v != "" {
		cfg.Server.Port = v
	}
	setInt(get, "REQUEST_TIMEOUT_SEC", &cfg.Server.RequestTimeoutSec)
	setInt(get, "CACHE_CONTROL_MAX_AGE_SEC", &cfg.Server.CacheControlMaxAgeSec)
	setInt(get, "MAX_SYMBOLS", &cfg.Server.MaxSymbols)

	if v := get("FINNHUB_API_KEY"); v != "" {
		cfg.Upstream.Token = v
	}
	if v := get("FINNHUB_TOKEN"); v != "" {
		cfg.Upstream.Token = v
	}
	if v := get("FINNHUB_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	setInt(get, "UPSTREAM_TIMEOUT_SEC", &cfg.Upstream.TimeoutSec)
	setInt(get, "UPSTREAM_MAX_RPM", &cfg.Upstream.MaxRequestsPerMinute)
	setInt(get, "UPSTREAM_BURST", &cfg.Upstream.Burst)
	setInt(get, "UPSTREAM_MIN_INTERVAL_MS", &cfg.Upstream.MinRequestIntervalMs)

	setInt(get, "QUOTE_CACHE_TTL_SEC", &cfg.Cache.TTLSeconds)
	setInt(get, "QUOTE_STALE_TTL_SEC", &cfg.Cache.StaleTTLSeconds)
	if v := get("QUOTE_SWEEP_SCHEDULE"); v != "" {
		cfg.Cache.SweepSchedule = v
	}
	if v := get("QUOTE_SWEEP_PROBABILITY"); v != "" {
		if x, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cache.SweepProbability = x
		}
	}

	setInt(get, "BREAKER_THRESHOLD", &cfg.Breaker.Threshold)

	if v := get("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := get("LOG_PRETTY"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			cfg.Log.Pretty = true
		case "0", "false", "no", "n":
			cfg.Log.Pretty = false
		}
	}
}

func setInt(get func(string) string, key string, dst *int) {
	if v := get(key); v != "" {
		if x, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = x
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
