package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string ("3s", "1m") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the global ~/.chatline/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	ServerURL      string   `toml:"server_url"`
	PollInterval   Duration `toml:"poll_interval"`
	MaxPollBackoff Duration `toml:"max_poll_backoff"`
	RequestTimeout Duration `toml:"request_timeout"`
	CommandPrefix  string   `toml:"command_prefix"`
	HistoryCommand string   `toml:"history_command"`
	SendCommand    string   `toml:"send_command"`
	MetricsAddr    string   `toml:"metrics_addr,omitempty"`
	LogLevel       string   `toml:"log_level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		PollInterval:   Duration{3 * time.Second},
		MaxPollBackoff: Duration{time.Minute},
		RequestTimeout: Duration{10 * time.Second},
		CommandPrefix:  "/",
		HistoryCommand: "history",
		SendCommand:    "send",
		LogLevel:       "info",
	}
}

// Load reads config from the given path on top of the defaults.
// Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the values the daemon depends on.
func (c *Config) Validate() error {
	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil {
			return fmt.Errorf("server_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("server_url: unsupported scheme %q", u.Scheme)
		}
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.MaxPollBackoff.Duration < c.PollInterval.Duration {
		return fmt.Errorf("max_poll_backoff (%s) is shorter than poll_interval (%s)", c.MaxPollBackoff, c.PollInterval)
	}
	if c.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if strings.TrimSpace(c.CommandPrefix) == "" {
		return fmt.Errorf("command_prefix must not be blank")
	}
	if c.HistoryCommand == "" || c.SendCommand == "" {
		return fmt.Errorf("history_command and send_command must be set")
	}
	return nil
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
