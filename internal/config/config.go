// CLAUDE:SUMMARY pagesaver configuration: YAML file with defaults, .env loading and PAGESAVER_* overrides.
// Package config loads pagesaver configuration from a YAML file. Missing
// fields get defaults; a .env file next to the working directory and
// PAGESAVER_* environment variables override the output and browser
// location.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level pagesaver configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Capture CaptureConfig `yaml:"capture"`
	Images  ImagesConfig  `yaml:"images"`
	Archive ArchiveConfig `yaml:"archive"`
	Output  OutputConfig  `yaml:"output"`
	Serve   ServeConfig   `yaml:"serve"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string         `yaml:"remote"`
	Mode             string         `yaml:"mode"` // headless | xvfb | visible
	Stealth          bool           `yaml:"stealth"`
	XvfbDisplay      string         `yaml:"xvfb_display"`
	ResourceBlocking []string       `yaml:"resource_blocking"`
	Viewport         ViewportConfig `yaml:"viewport"`
	RecycleInterval  time.Duration  `yaml:"recycle_interval"`
	MemoryLimit      int64          `yaml:"memory_limit"`
	NavigateTimeout  time.Duration  `yaml:"navigate_timeout"`
}

// ViewportConfig is the browser window size.
type ViewportConfig struct {
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	Scale  float64 `yaml:"scale"`
}

// CaptureConfig tunes the full-page pipeline.
type CaptureConfig struct {
	Settle              time.Duration `yaml:"settle"`
	PreSettle           time.Duration `yaml:"pre_settle"`
	DivergenceThreshold float64       `yaml:"divergence_threshold"`
	AreaTimeout         time.Duration `yaml:"area_timeout"`
}

// ImagesConfig tunes bulk image extraction.
type ImagesConfig struct {
	MinSize           int64         `yaml:"min_size"`
	IncludeImg        *bool         `yaml:"include_img"`
	IncludeBackground *bool         `yaml:"include_background"`
	Delay             time.Duration `yaml:"delay"`
}

// ArchiveConfig tunes the site archiver.
type ArchiveConfig struct {
	MaxPages int           `yaml:"max_pages"`
	Delay    time.Duration `yaml:"delay"`
	Markdown bool          `yaml:"markdown"`
}

// OutputConfig says where files and history go.
type OutputConfig struct {
	Dir string `yaml:"dir"`
	DB  string `yaml:"db"`
	// Webhook, when set, receives a copy of every saved file.
	Webhook string `yaml:"webhook"`
}

// ServeConfig is the HTTP listener for `pagesaver serve`.
type ServeConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is POST /api/ requests per client IP per minute; 0 disables.
	RateLimit int `yaml:"rate_limit"`
	// AllowPrivate lets the API capture loopback and private-network URLs.
	AllowPrivate bool `yaml:"allow_private"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file. An empty path or a missing file
// yields the defaults. Environment overrides are applied last.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotenv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables already set. Missing files are
// ignored.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Viewport.Width <= 0 {
		c.Browser.Viewport.Width = 1280
	}
	if c.Browser.Viewport.Height <= 0 {
		c.Browser.Viewport.Height = 800
	}
	if c.Browser.Viewport.Scale <= 0 {
		c.Browser.Viewport.Scale = 1
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}

	if c.Capture.Settle <= 0 {
		c.Capture.Settle = 800 * time.Millisecond
	}
	if c.Capture.PreSettle <= 0 {
		c.Capture.PreSettle = 300 * time.Millisecond
	}
	if c.Capture.DivergenceThreshold <= 0 {
		c.Capture.DivergenceThreshold = 0.05
	}
	if c.Capture.AreaTimeout <= 0 {
		c.Capture.AreaTimeout = 60 * time.Second
	}

	if c.Images.IncludeImg == nil {
		c.Images.IncludeImg = boolPtr(true)
	}
	if c.Images.IncludeBackground == nil {
		c.Images.IncludeBackground = boolPtr(true)
	}
	if c.Images.Delay <= 0 {
		c.Images.Delay = 300 * time.Millisecond
	}

	if c.Archive.MaxPages <= 0 {
		c.Archive.MaxPages = 50
	}
	if c.Archive.Delay <= 0 {
		c.Archive.Delay = 500 * time.Millisecond
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "pagesaver"
	}
	if c.Output.DB == "" {
		c.Output.DB = "pagesaver.db"
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = "127.0.0.1:8087"
	}
	if c.Serve.RateLimit < 0 {
		c.Serve.RateLimit = 0
	}
}

// applyEnv overrides fields from PAGESAVER_* variables.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PAGESAVER_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := getenv("PAGESAVER_DB"); v != "" {
		c.Output.DB = v
	}
	if v := getenv("PAGESAVER_BROWSER_REMOTE"); v != "" {
		c.Browser.Remote = v
	}
	if v := getenv("PAGESAVER_BROWSER_MODE"); v != "" {
		c.Browser.Mode = v
	}
	if v := getenv("PAGESAVER_WEBHOOK"); v != "" {
		c.Output.Webhook = v
	}
	if v := getenv("PAGESAVER_SERVE_ADDR"); v != "" {
		c.Serve.Addr = v
	}
	if v := getenv("PAGESAVER_SETTLE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: PAGESAVER_SETTLE: %w", err)
		}
		c.Capture.Settle = d
	}
	if v := getenv("PAGESAVER_ARCHIVE_MAX_PAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: PAGESAVER_ARCHIVE_MAX_PAGES: invalid %q", v)
		}
		c.Archive.MaxPages = n
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
