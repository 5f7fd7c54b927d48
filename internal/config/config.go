package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines configuration for the s5p CLI.
type Config struct {
	Hub          HubConfig   `yaml:"hub"`
	DownloadURL  string      `yaml:"download_url"`
	ExportDir    string      `yaml:"export_dir"`
	ProcessedDir string      `yaml:"processed_dir"`
	HarpBinary   string      `yaml:"harp_binary"`
	QA           int         `yaml:"qa"`
	Unit         string      `yaml:"unit"`
	XStep        float64     `yaml:"xstep"`
	YStep        float64     `yaml:"ystep"`
	ChunkSize    int         `yaml:"chunk_size"`
	NumThreads   int         `yaml:"num_threads"`
	NumWorkers   int         `yaml:"num_workers"`
	Retry        RetryConfig `yaml:"retry"`
}

// HubConfig identifies the product hub and its credentials.
type HubConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RetryConfig defines retry behavior for downloads whose checksum
// verification fails. Attempts = 0 retries forever.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults. The hub defaults
// are the public Sentinel-5P pre-operations hub with the shared guest
// account; the directory layout mirrors the processing stages
// (L2 originals, L3 conversions, merged output).
func Default() Config {
	return Config{
		Hub: HubConfig{
			URL:      "https://s5phub.copernicus.eu/dhus",
			Username: "s5pguest",
			Password: "s5pguest",
		},
		DownloadURL:  "file://L2_data",
		ExportDir:    "L3_data",
		ProcessedDir: "processed",
		HarpBinary:   "harpconvert",
		QA:           50,
		Unit:         "mol/m2",
		XStep:        0.01,
		YStep:        0.01,
		ChunkSize:    256,
		NumThreads:   4,
		NumWorkers:   runtime.NumCPU(),
		Retry: RetryConfig{
			Attempts:   10,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Hub          HubConfig       `yaml:"hub"`
	DownloadURL  string          `yaml:"download_url"`
	ExportDir    string          `yaml:"export_dir"`
	ProcessedDir string          `yaml:"processed_dir"`
	HarpBinary   string          `yaml:"harp_binary"`
	QA           *int            `yaml:"qa"`
	Unit         string          `yaml:"unit"`
	XStep        float64         `yaml:"xstep"`
	YStep        float64         `yaml:"ystep"`
	ChunkSize    int             `yaml:"chunk_size"`
	NumThreads   int             `yaml:"num_threads"`
	NumWorkers   int             `yaml:"num_workers"`
	Retry        yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   *int   `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Hub.URL != "" {
		cfg.Hub.URL = yc.Hub.URL
	}
	if yc.Hub.Username != "" {
		cfg.Hub.Username = yc.Hub.Username
	}
	if yc.Hub.Password != "" {
		cfg.Hub.Password = yc.Hub.Password
	}
	if yc.DownloadURL != "" {
		cfg.DownloadURL = yc.DownloadURL
	}
	if yc.ExportDir != "" {
		cfg.ExportDir = yc.ExportDir
	}
	if yc.ProcessedDir != "" {
		cfg.ProcessedDir = yc.ProcessedDir
	}
	if yc.HarpBinary != "" {
		cfg.HarpBinary = yc.HarpBinary
	}
	if yc.QA != nil {
		cfg.QA = *yc.QA
	}
	if yc.Unit != "" {
		cfg.Unit = yc.Unit
	}
	if yc.XStep != 0 {
		cfg.XStep = yc.XStep
	}
	if yc.YStep != 0 {
		cfg.YStep = yc.YStep
	}
	if yc.ChunkSize != 0 {
		cfg.ChunkSize = yc.ChunkSize
	}
	if yc.NumThreads != 0 {
		cfg.NumThreads = yc.NumThreads
	}
	if yc.NumWorkers != 0 {
		cfg.NumWorkers = yc.NumWorkers
	}
	if yc.Retry.Attempts != nil {
		cfg.Retry.Attempts = *yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the S5P_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("S5P_HUB_URL"); v != "" {
		c.Hub.URL = v
	}
	if v := os.Getenv("S5P_HUB_USERNAME"); v != "" {
		c.Hub.Username = v
	}
	if v := os.Getenv("S5P_HUB_PASSWORD"); v != "" {
		c.Hub.Password = v
	}
	if v := os.Getenv("S5P_DOWNLOAD_URL"); v != "" {
		c.DownloadURL = v
	}
	if v := os.Getenv("S5P_EXPORT_DIR"); v != "" {
		c.ExportDir = v
	}
	if v := os.Getenv("S5P_PROCESSED_DIR"); v != "" {
		c.ProcessedDir = v
	}
	if v := os.Getenv("S5P_HARP_BINARY"); v != "" {
		c.HarpBinary = v
	}
	if v := os.Getenv("S5P_QA"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse S5P_QA: %w", err)
		}
		c.QA = n
	}
	if v := os.Getenv("S5P_UNIT"); v != "" {
		c.Unit = v
	}
	if v := os.Getenv("S5P_NUM_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse S5P_NUM_THREADS: %w", err)
		}
		c.NumThreads = n
	}
	if v := os.Getenv("S5P_NUM_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse S5P_NUM_WORKERS: %w", err)
		}
		c.NumWorkers = n
	}
	if v := os.Getenv("S5P_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse S5P_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("S5P_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse S5P_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("S5P_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse S5P_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Hub.URL == "" {
		return errors.New("config: hub URL is required")
	}
	if c.DownloadURL == "" {
		return errors.New("config: download_url is required")
	}
	if c.ExportDir == "" {
		return errors.New("config: export_dir is required")
	}
	if c.ProcessedDir == "" {
		return errors.New("config: processed_dir is required")
	}
	if c.QA < 0 || c.QA > 100 {
		return errors.New("config: qa must be between 0 and 100")
	}
	if c.XStep <= 0 || c.YStep <= 0 {
		return errors.New("config: resolution steps must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.NumThreads <= 0 {
		return errors.New("config: num_threads must be positive")
	}
	if c.NumWorkers <= 0 {
		return errors.New("config: num_workers must be positive")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	return nil
}
