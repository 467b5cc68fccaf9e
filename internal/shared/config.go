package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Database  DatabaseConfig  `toml:"database"`
	Storage   StorageConfig   `toml:"storage"`
	Player    PlayerConfig    `toml:"player"`
	Downloads DownloadsConfig `toml:"downloads"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Server    ServerConfig    `toml:"server"`
}

// LogConfig controls the default logger.
type LogConfig struct {
	Level string `toml:"level"`
}

// DatabaseConfig contains database connection settings.
//
// PassphraseEnv names the environment variable the default passphrase provider reads.
type DatabaseConfig struct {
	Path          string `toml:"path"`
	MaxOpenConns  int    `toml:"max_open_conns"`
	MaxIdleConns  int    `toml:"max_idle_conns"`
	PassphraseEnv string `toml:"passphrase_env"`
}

// StorageConfig contains on-disk locations for offline copies.
type StorageConfig struct {
	AudioDir   string `toml:"audio_dir"`
	ArtworkDir string `toml:"artwork_dir"`
}

// PlayerConfig contains queue, session and event stream settings.
type PlayerConfig struct {
	PageSize               int  `toml:"page_size"`
	PrefetchThreshold      int  `toml:"prefetch_threshold"`
	EventBuffer            int  `toml:"event_buffer"`
	TickIntervalMS         int  `toml:"tick_interval_ms"`
	MaxConsecutiveFailures int  `toml:"max_consecutive_failures"`
	Restore                bool `toml:"restore"`
}

// DownloadsConfig contains download worker settings.
type DownloadsConfig struct {
	Workers        int     `toml:"workers"`
	RateLimit      float64 `toml:"rate_limit"`
	ThrottleMS     int     `toml:"throttle_ms"`
	ConnectTimeout int     `toml:"connect_timeout_seconds"`
	ReadTimeout    int     `toml:"read_timeout_seconds"`
	TagAudio       bool    `toml:"tag_audio"`
}

// CatalogConfig points at the track catalog used for pagination and restore resolution.
//
// An empty BaseURL selects the built-in static catalog of StaticSize tracks.
type CatalogConfig struct {
	BaseURL         string `toml:"base_url"`
	StaticSize      int    `toml:"static_size"`
	ClientID        string `toml:"client_id"`
	ClientSecretEnv string `toml:"client_secret_env"`
	TokenURL        string `toml:"token_url"`
}

// ServerConfig contains catalog HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// TickInterval returns the session tick as a [time.Duration].
func (c PlayerConfig) TickInterval() time.Duration {
	if c.TickIntervalMS <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// Throttle returns the minimum gap between progress callbacks.
func (c DownloadsConfig) Throttle() time.Duration {
	if c.ThrottleMS <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.ThrottleMS) * time.Millisecond
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}
	if c.Player.PageSize <= 0 {
		return fmt.Errorf("%w: player.page_size must be positive, got %d", ErrInvalidConfig, c.Player.PageSize)
	}
	if c.Player.EventBuffer <= 0 {
		return fmt.Errorf("%w: player.event_buffer must be positive, got %d", ErrInvalidConfig, c.Player.EventBuffer)
	}
	if c.Storage.AudioDir == "" {
		return fmt.Errorf("%w: storage.audio_dir is required", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, os.ErrExist)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
