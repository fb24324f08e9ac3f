// Package config holds the scrape-loop configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds tracker configuration.
type Config struct {
	URLs             []string
	Interval         time.Duration
	Delay            time.Duration
	Timeout          time.Duration
	UserAgent        string
	DatabaseDSN      string
	MetricsAddr      string
	GoneCacheSize    int
	GoneCacheTTL     time.Duration
	RespectRobotsTxt bool
	Verbose          bool
}

// DefaultConfig returns conservative defaults for the supported sites.
func DefaultConfig() *Config {
	return &Config{
		Interval:         12 * time.Hour,
		Delay:            2 * time.Second,
		Timeout:          10 * time.Second,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64; rv:132.0) Gecko/20100101 Firefox/132.0",
		GoneCacheSize:    1024,
		GoneCacheTTL:     24 * time.Hour,
		RespectRobotsTxt: false,
		Verbose:          false,
	}
}

// Validate ensures all configuration values are coherent. Site-specific
// URL acceptance lives in the extract package; this only checks shape.
func (c *Config) Validate() error {
	if len(c.URLs) == 0 {
		return fmt.Errorf("at least one listing URL is required")
	}
	for _, raw := range c.URLs {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid listing URL %q: %w", raw, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("listing URL %q must use http or https", raw)
		}
		if parsed.Host == "" {
			return fmt.Errorf("listing URL %q must include a host", raw)
		}
	}

	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.GoneCacheSize <= 0 {
		return fmt.Errorf("gone cache size must be positive")
	}
	if c.GoneCacheTTL <= 0 {
		return fmt.Errorf("gone cache TTL must be positive")
	}
	return nil
}

// SplitURLs parses a comma-separated URL list, dropping empty entries.
func SplitURLs(raw string) []string {
	parts := strings.Split(raw, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

// EnvString reads a string environment variable. The boolean reports
// whether the variable was set and non-empty.
func EnvString(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// EnvInt reads an integer environment variable.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvBool reads a boolean environment variable.
func EnvBool(key string) (bool, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}
