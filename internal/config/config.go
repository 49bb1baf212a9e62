package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.wacrm/config.toml.
type Config struct {
	DefaultProfile string        `toml:"default_profile"`
	APIBaseURL     string        `toml:"api_base_url"`
	PushURL        string        `toml:"push_url"`
	Operator       Operator      `toml:"operator"`
	Cache          Cache         `toml:"cache"`
	RefreshEvery   string        `toml:"refresh_interval"`
	RequestTimeout string        `toml:"request_timeout"`
	Notifications  Notifications `toml:"notifications"`
}

// Operator identifies who is sending from this console.
type Operator struct {
	ID    string `toml:"id"`
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

type Cache struct {
	TTL      string `toml:"ttl"`
	Capacity int    `toml:"capacity"`
}

type Notifications struct {
	Enabled bool `toml:"enabled"`
	Bell    bool `toml:"bell"`
}

// Settings is a validated Config with parsed durations.
type Settings struct {
	APIBaseURL      string
	PushURL         string
	Operator        Operator
	CacheTTL        time.Duration
	CacheCapacity   int
	RefreshInterval time.Duration
	RequestTimeout  time.Duration
	Notify          bool
	Bell            bool
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		APIBaseURL:     "http://localhost:3000",
		Cache:          Cache{TTL: "30s", Capacity: 10},
		RefreshEvery:   "30s",
		RequestTimeout: "15s",
		Notifications:  Notifications{Enabled: true, Bell: true},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault reads path on top of Default. A missing file is not an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadEnv loads .env files into the process environment. Variables already
// set win. Missing files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Resolve applies environment overrides to cfg and validates the result.
func Resolve(cfg *Config) (*Settings, error) {
	c := *cfg
	override(&c.APIBaseURL, "WACRM_API_URL")
	override(&c.PushURL, "WACRM_PUSH_URL")
	override(&c.Operator.ID, "WACRM_OPERATOR_ID")
	override(&c.Operator.Name, "WACRM_OPERATOR_NAME")
	override(&c.Operator.Email, "WACRM_OPERATOR_EMAIL")

	def := Default()
	if c.APIBaseURL == "" {
		c.APIBaseURL = def.APIBaseURL
	}
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		return nil, fmt.Errorf("api_base_url: %w", err)
	}
	if c.PushURL == "" {
		// The push server normally shares the API origin.
		c.PushURL = c.APIBaseURL
	}
	if _, err := url.ParseRequestURI(c.PushURL); err != nil {
		return nil, fmt.Errorf("push_url: %w", err)
	}

	s := &Settings{
		APIBaseURL:    c.APIBaseURL,
		PushURL:       c.PushURL,
		Operator:      c.Operator,
		CacheCapacity: c.Cache.Capacity,
		Notify:        c.Notifications.Enabled,
		Bell:          c.Notifications.Bell,
	}
	if s.CacheCapacity <= 0 {
		s.CacheCapacity = def.Cache.Capacity
	}

	var err error
	if s.CacheTTL, err = duration("cache.ttl", c.Cache.TTL, def.Cache.TTL); err != nil {
		return nil, err
	}
	if s.RefreshInterval, err = duration("refresh_interval", c.RefreshEvery, def.RefreshEvery); err != nil {
		return nil, err
	}
	if s.RequestTimeout, err = duration("request_timeout", c.RequestTimeout, def.RequestTimeout); err != nil {
		return nil, err
	}
	return s, nil
}

func override(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func duration(field, value, fallback string) (time.Duration, error) {
	if value == "" {
		value = fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, value)
	}
	return d, nil
}
