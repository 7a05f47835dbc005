// Package config provides configuration for forgecache nodes.
//
// Values are resolved in precedence order:
//  1. Command-line flags (highest)
//  2. FORGECACHE_* environment variables
//  3. An optional YAML config file
//  4. Built-in defaults (lowest)
//
// Example:
//
//	cfg, err := config.Load(os.Args[1:])
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultPort         = 5000
	DefaultCapacityMB   = 100
	DefaultMaxWorkers   = 4
	DefaultDialTimeout  = 3
	DefaultReadTimeout  = 5
	DefaultWriteTimeout = 5
	DefaultRetries      = 2
	DefaultVirtualNodes = 150
)

// Config holds all settings for one cache node. Timeout fields are in seconds.
type Config struct {
	Host         string `yaml:"host"`
	CacheDir     string `yaml:"cache_dir"`
	Router       string `yaml:"router"`
	LogLevel     string `yaml:"log_level"`
	MetricsAddr  string `yaml:"metrics_addr"`
	Port         int    `yaml:"port"`
	CapacityMB   int    `yaml:"capacity_mb"`
	MaxWorkers   int    `yaml:"max_workers"`
	DialTimeout  int    `yaml:"dial_timeout"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	Retries      int    `yaml:"retries"`
	VirtualNodes int    `yaml:"virtual_nodes"`
}

// Default returns the built-in configuration. The cache directory defaults to
// ~/.forgecache/cache, falling back to the working directory when the home
// directory cannot be determined.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		Host:         "localhost",
		Port:         DefaultPort,
		CapacityMB:   DefaultCapacityMB,
		CacheDir:     filepath.Join(home, ".forgecache", "cache"),
		MaxWorkers:   DefaultMaxWorkers,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		Retries:      DefaultRetries,
		Router:       "load",
		VirtualNodes: DefaultVirtualNodes,
		LogLevel:     "info",
	}
}

// Load builds a Config from defaults, an optional YAML file (via the -config
// flag), FORGECACHE_* environment variables and command-line flags.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("forgecached", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host to advertise and bind")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on")
	fs.IntVar(&cfg.CapacityMB, "capacity-mb", cfg.CapacityMB, "Cache capacity in megabytes")
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "Durable tier directory")
	fs.IntVar(&cfg.MaxWorkers, "max-workers", cfg.MaxWorkers, "Connection worker pool size")
	fs.IntVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Peer dial timeout in seconds")
	fs.IntVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Read timeout in seconds")
	fs.IntVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Write timeout in seconds")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "Peer request retry attempts")
	fs.StringVar(&cfg.Router, "router", cfg.Router, "Shard router strategy (load or ring)")
	fs.IntVar(&cfg.VirtualNodes, "virtual-nodes", cfg.VirtualNodes, "Virtual nodes for the ring router")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Metrics HTTP address (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	// First parse discovers -config; file and env are then layered under the
	// flag values by parsing again.
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if host := os.Getenv("FORGECACHE_HOST"); host != "" {
		c.Host = host
	}
	if dir := os.Getenv("FORGECACHE_CACHE_DIR"); dir != "" {
		c.CacheDir = dir
	}
	if router := os.Getenv("FORGECACHE_ROUTER"); router != "" {
		c.Router = router
	}
	if addr := os.Getenv("FORGECACHE_METRICS_ADDR"); addr != "" {
		c.MetricsAddr = addr
	}
	if level := os.Getenv("FORGECACHE_LOG"); level != "" {
		c.LogLevel = level
	}

	envInt("FORGECACHE_PORT", &c.Port)
	envInt("FORGECACHE_CAPACITY_MB", &c.CapacityMB)
	envInt("FORGECACHE_MAX_WORKERS", &c.MaxWorkers)
	envInt("FORGECACHE_DIAL_TIMEOUT", &c.DialTimeout)
	envInt("FORGECACHE_READ_TIMEOUT", &c.ReadTimeout)
	envInt("FORGECACHE_WRITE_TIMEOUT", &c.WriteTimeout)
	envInt("FORGECACHE_RETRIES", &c.Retries)
	envInt("FORGECACHE_VIRTUAL_NODES", &c.VirtualNodes)
}

// envInt overwrites dst when the variable is set to a valid integer.
func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Address returns the host:port this node binds and advertises.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Capacity returns the configured capacity in bytes.
func (c *Config) Capacity() int64 {
	return int64(c.CapacityMB) << 20
}

// DialTimeoutDuration returns the peer dial timeout.
func (c *Config) DialTimeoutDuration() time.Duration {
	return time.Duration(c.DialTimeout) * time.Second
}

// ReadTimeoutDuration returns the read timeout.
func (c *Config) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout.
func (c *Config) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.CapacityMB < 1 {
		return fmt.Errorf("capacity must be positive: %d MB", c.CapacityMB)
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache dir must be set")
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("worker pool size must be positive: %d", c.MaxWorkers)
	}
	if c.DialTimeout < 1 || c.ReadTimeout < 1 || c.WriteTimeout < 1 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be non-negative: %d", c.Retries)
	}
	if c.Router != "load" && c.Router != "ring" {
		return fmt.Errorf("invalid router strategy: %s", c.Router)
	}
	if c.VirtualNodes < 1 {
		return fmt.Errorf("virtual nodes must be positive: %d", c.VirtualNodes)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}
