// Package config loads server and CLI settings from YAML and the environment
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by timeindexd and ti
type Config struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	DataDir     string `yaml:"data_dir"`
	LogLevel    string `yaml:"log_level"`
	LogPretty   bool   `yaml:"log_pretty"`

	// Index defaults applied when a request does not set them
	LoadStyle   string `yaml:"load_style"`
	CachePolicy string `yaml:"cache_policy"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Port:        50051,
		MetricsPort: 9090,
		DataDir:     "./data",
		LogLevel:    "info",
		LoadStyle:   "hollow",
		CachePolicy: "none",
	}
}

// Load reads path (optional) over the defaults, then applies TIMEINDEX_*
// environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	var err error
	if c.Port, err = getIntEnv("TIMEINDEX_PORT", c.Port); err != nil {
		return err
	}
	if c.MetricsPort, err = getIntEnv("TIMEINDEX_METRICS_PORT", c.MetricsPort); err != nil {
		return err
	}
	if c.LogPretty, err = getBoolEnv("TIMEINDEX_LOG_PRETTY", c.LogPretty); err != nil {
		return err
	}
	c.DataDir = getEnv("TIMEINDEX_DATA_DIR", c.DataDir)
	c.LogLevel = getEnv("TIMEINDEX_LOG_LEVEL", c.LogLevel)
	c.LoadStyle = getEnv("TIMEINDEX_LOAD_STYLE", c.LoadStyle)
	c.CachePolicy = getEnv("TIMEINDEX_CACHE_POLICY", c.CachePolicy)
	return nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("config: invalid metrics port %d", c.MetricsPort)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	return nil
}

// LoadProperties reads a YAML map of index properties. Scalar values of any
// type are kept in their YAML spelling.
func LoadProperties(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	props := make(map[string]string, len(raw))
	for k, n := range raw {
		if n.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("config: property %q in %s is not a scalar", k, path)
		}
		props[strings.ToLower(k)] = n.Value
	}
	return props, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, nil
}

func getBoolEnv(key string, def bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s=%q is not a boolean", key, v)
	}
	return b, nil
}
