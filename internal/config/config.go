// Package config assembles runtime settings from defaults, an optional
// YAML file and environment overrides, validated once at the boundary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RedisURL    string `yaml:"redis_url"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	WorkDir     string `yaml:"work_dir"`
	StorageDir  string `yaml:"storage_dir"`
	DBPath      string `yaml:"db_path"`
	ListenAddr  string `yaml:"listen_addr"`
	QueuePrefix string `yaml:"queue_prefix"`

	Capacity      int           `yaml:"capacity"`
	MaxDeliveries int           `yaml:"max_deliveries"`
	PollWait      time.Duration `yaml:"poll_wait"`
	Visibility    time.Duration `yaml:"visibility"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
	ReapInterval  time.Duration `yaml:"reap_interval"`
}

func defaults() Config {
	return Config{
		RedisURL:      "redis://localhost:6379",
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		WorkDir:       "work",
		StorageDir:    "renders",
		DBPath:        "data/clipforge.db",
		ListenAddr:    ":8080",
		QueuePrefix:   "clipforge:render",
		Capacity:      1,
		MaxDeliveries: 3,
		PollWait:      5 * time.Second,
		Visibility:    30 * time.Minute,
		DrainTimeout:  2 * time.Minute,
		ReapInterval:  time.Minute,
	}
}

// UnmarshalYAML decodes a config document over the existing values, so
// absent keys keep their defaults. Durations are written as strings
// ("30s", "5m") and parsed here; yaml has no native duration scalar.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var doc struct {
		RedisURL    *string `yaml:"redis_url"`
		FFmpegPath  *string `yaml:"ffmpeg_path"`
		FFprobePath *string `yaml:"ffprobe_path"`
		WorkDir     *string `yaml:"work_dir"`
		StorageDir  *string `yaml:"storage_dir"`
		DBPath      *string `yaml:"db_path"`
		ListenAddr  *string `yaml:"listen_addr"`
		QueuePrefix *string `yaml:"queue_prefix"`

		Capacity      *int    `yaml:"capacity"`
		MaxDeliveries *int    `yaml:"max_deliveries"`
		PollWait      *string `yaml:"poll_wait"`
		Visibility    *string `yaml:"visibility"`
		DrainTimeout  *string `yaml:"drain_timeout"`
		ReapInterval  *string `yaml:"reap_interval"`
	}
	if err := value.Decode(&doc); err != nil {
		return err
	}

	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setStr(&c.RedisURL, doc.RedisURL)
	setStr(&c.FFmpegPath, doc.FFmpegPath)
	setStr(&c.FFprobePath, doc.FFprobePath)
	setStr(&c.WorkDir, doc.WorkDir)
	setStr(&c.StorageDir, doc.StorageDir)
	setStr(&c.DBPath, doc.DBPath)
	setStr(&c.ListenAddr, doc.ListenAddr)
	setStr(&c.QueuePrefix, doc.QueuePrefix)
	if doc.Capacity != nil {
		c.Capacity = *doc.Capacity
	}
	if doc.MaxDeliveries != nil {
		c.MaxDeliveries = *doc.MaxDeliveries
	}

	setDur := func(dst *time.Duration, key string, src *string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("config: invalid %s: %w", key, err)
		}
		*dst = d
		return nil
	}
	if err := setDur(&c.PollWait, "poll_wait", doc.PollWait); err != nil {
		return err
	}
	if err := setDur(&c.Visibility, "visibility", doc.Visibility); err != nil {
		return err
	}
	if err := setDur(&c.DrainTimeout, "drain_timeout", doc.DrainTimeout); err != nil {
		return err
	}
	return setDur(&c.ReapInterval, "reap_interval", doc.ReapInterval)
}

// Load reads path (when non-empty and present) over the defaults, then
// applies environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&c.RedisURL, "REDIS_URL")
	setStr(&c.FFmpegPath, "FFMPEG_PATH")
	setStr(&c.FFprobePath, "FFPROBE_PATH")
	setStr(&c.WorkDir, "WORK_DIR")
	setStr(&c.StorageDir, "STORAGE_DIR")
	setStr(&c.DBPath, "DB_PATH")
	setStr(&c.ListenAddr, "LISTEN_ADDR")
	setStr(&c.QueuePrefix, "QUEUE_PREFIX")

	if v := os.Getenv("CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Capacity = n
		}
	}
	if v := os.Getenv("MAX_DELIVERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxDeliveries = n
		}
	}
	setDur := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setDur(&c.PollWait, "POLL_WAIT")
	setDur(&c.Visibility, "VISIBILITY_TIMEOUT")
	setDur(&c.DrainTimeout, "DRAIN_TIMEOUT")
	setDur(&c.ReapInterval, "REAP_INTERVAL")
}

func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("config: redis_url is required")
	}
	if c.FFmpegPath == "" {
		return fmt.Errorf("config: ffmpeg_path is required")
	}
	if c.Capacity < 1 {
		return fmt.Errorf("config: capacity must be at least 1, got %d", c.Capacity)
	}
	if c.MaxDeliveries < 1 {
		return fmt.Errorf("config: max_deliveries must be at least 1, got %d", c.MaxDeliveries)
	}
	if c.PollWait <= 0 {
		return fmt.Errorf("config: poll_wait must be positive")
	}
	if c.Visibility <= 0 {
		return fmt.Errorf("config: visibility must be positive")
	}
	return nil
}
