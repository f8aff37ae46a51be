package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the config file
const (
	EnvAdminPasswordHash = "CROSSDECK_ADMIN_PASSWORD_HASH"
	EnvNgrokAuthToken    = "NGROK_AUTHTOKEN"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Library  LibraryConfig  `toml:"library"`
	Logging  LoggingConfig  `toml:"logging"`
	Audio    AudioConfig    `toml:"audio"`
	Director DirectorConfig `toml:"director"`
	Stream   StreamConfig   `toml:"stream"`
	Tunnel   TunnelConfig   `toml:"tunnel"`
}

// ServerConfig contains control surface configuration
type ServerConfig struct {
	Port              string `toml:"port"`
	Host              string `toml:"host"`
	EnableCORS        bool   `toml:"enable_cors"`
	ReadTimeout       int    `toml:"read_timeout_seconds"`
	AdminUser         string `toml:"admin_user"`
	AdminPasswordHash string `toml:"admin_password_hash"` // bcrypt; empty disables auth
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LibraryConfig contains track acquisition configuration
type LibraryConfig struct {
	Path             string   `toml:"path"`
	SupportedFormats []string `toml:"supported_formats"`
	WatchForChanges  bool     `toml:"watch_for_changes"`
	ScanOnStartup    bool     `toml:"scan_on_startup"`
	Workers          int      `toml:"workers"` // 0 means one per CPU
	MaxDownloadMB    int      `toml:"max_download_mb"`
	DownloadTimeout  int      `toml:"download_timeout_seconds"`
	DownloadCacheTTL int      `toml:"download_cache_minutes"` // 0 disables the cache
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// AudioConfig contains engine and output configuration
type AudioConfig struct {
	SampleRate int    `toml:"sample_rate"`
	Output     string `toml:"output"` // "device" or "null"
	BufferMS   int    `toml:"buffer_ms"`
}

// DirectorConfig contains autonomous transition configuration
type DirectorConfig struct {
	EnableOnStart     bool    `toml:"enable_on_start"`
	IntervalSeconds   float64 `toml:"interval_seconds"`
	Probability       float64 `toml:"probability"`
	WindowSeconds     float64 `toml:"window_seconds"`
	DefaultChannel    string  `toml:"default_channel"`
	GuardDeferredStop bool    `toml:"guard_deferred_stop"`
	Seed              int64   `toml:"seed"` // 0 seeds from the clock
}

// StreamConfig contains WebRTC monitoring configuration
type StreamConfig struct {
	Enabled     bool     `toml:"enabled"`
	BitrateKbps int      `toml:"bitrate_kbps"`
	STUNServers []string `toml:"stun_servers"`
}

// TunnelConfig contains ngrok tunnel configuration
type TunnelConfig struct {
	Enabled      bool   `toml:"enabled"`
	AuthToken    string `toml:"auth_token"`
	Domain       string `toml:"domain"`
	EnableAuth   bool   `toml:"enable_auth"`
	AuthProvider string `toml:"auth_provider"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Host:        "0.0.0.0",
			EnableCORS:  true,
			ReadTimeout: 30,
			AdminUser:   "operator",
		},
		Database: DatabaseConfig{
			Path: "./crossdeck.db",
		},
		Library: LibraryConfig{
			Path:             "./music",
			SupportedFormats: []string{".flac", ".mp3", ".wav"},
			WatchForChanges:  true,
			ScanOnStartup:    true,
			Workers:          0,
			MaxDownloadMB:    100,
			DownloadTimeout:  60,
			DownloadCacheTTL: 15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Audio: AudioConfig{
			SampleRate: 48000,
			Output:     "device",
			BufferMS:   40,
		},
		Director: DirectorConfig{
			EnableOnStart:     false,
			IntervalSeconds:   1,
			Probability:       0.05,
			WindowSeconds:     5,
			DefaultChannel:    "A",
			GuardDeferredStop: true,
		},
		Stream: StreamConfig{
			Enabled:     true,
			BitrateKbps: 128,
			STUNServers: []string{"stun:stun.l.google.com:19302"},
		},
		Tunnel: TunnelConfig{
			Enabled:      false,
			AuthProvider: "google",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating it with defaults
// on first run. A .env file next to the working directory is loaded first so
// secrets can stay out of the config file.
func LoadConfig(configPath string) (*Config, error) {
	loadDotEnv(".env")

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not load %s: %v\n", path, err)
		}
	}
}

// applyEnv fills secrets from the environment when the file leaves them empty
func (c *Config) applyEnv() {
	if c.Server.AdminPasswordHash == "" {
		c.Server.AdminPasswordHash = os.Getenv(EnvAdminPasswordHash)
	}
	if c.Tunnel.AuthToken == "" {
		c.Tunnel.AuthToken = os.Getenv(EnvNgrokAuthToken)
	}
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# crossdeck configuration
# Durations are in seconds. Secrets (admin_password_hash, auth_token) may be
# left empty here and supplied through .env instead.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Library.Path == "" {
		return fmt.Errorf("library path cannot be empty")
	}
	if len(c.Library.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}
	if c.Library.Workers < 0 {
		return fmt.Errorf("library workers cannot be negative")
	}
	if c.Library.MaxDownloadMB < 1 {
		return fmt.Errorf("library max download size must be at least 1 MB")
	}
	if c.Library.DownloadCacheTTL < 0 {
		return fmt.Errorf("library download cache TTL cannot be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio sample rate %d out of range", c.Audio.SampleRate)
	}
	if c.Audio.Output != "device" && c.Audio.Output != "null" {
		return fmt.Errorf("invalid audio output: %s (must be device or null)", c.Audio.Output)
	}
	if c.Audio.BufferMS < 5 {
		return fmt.Errorf("audio buffer must be at least 5 ms")
	}

	if c.Director.IntervalSeconds <= 0 {
		return fmt.Errorf("director interval must be positive")
	}
	if c.Director.Probability < 0 || c.Director.Probability > 1 {
		return fmt.Errorf("director probability must be within [0, 1]")
	}
	if c.Director.WindowSeconds <= 0 {
		return fmt.Errorf("director window must be positive")
	}
	switch c.Director.DefaultChannel {
	case "A", "B", "C", "D":
	default:
		return fmt.Errorf("invalid director default channel: %s (must be A, B, C or D)", c.Director.DefaultChannel)
	}

	if c.Stream.Enabled && c.Stream.BitrateKbps < 6 {
		return fmt.Errorf("stream bitrate must be at least 6 kbps")
	}

	if c.Tunnel.Enabled && c.Tunnel.AuthToken == "" {
		return fmt.Errorf("tunnel enabled but no auth token (set %s)", EnvNgrokAuthToken)
	}
	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsFormatSupported checks if an audio format is supported
func (c *Config) IsFormatSupported(format string) bool {
	for _, supported := range c.Library.SupportedFormats {
		if supported == format {
			return true
		}
	}
	return false
}

// Interval returns the director scan period
func (d DirectorConfig) Interval() time.Duration {
	return seconds(d.IntervalSeconds)
}

// Window returns the director crossfade window
func (d DirectorConfig) Window() time.Duration {
	return seconds(d.WindowSeconds)
}

// Buffer returns the output buffer length
func (a AudioConfig) Buffer() time.Duration {
	return time.Duration(a.BufferMS) * time.Millisecond
}

// Timeout returns the network acquisition timeout
func (l LibraryConfig) Timeout() time.Duration {
	return time.Duration(l.DownloadTimeout) * time.Second
}

// CacheTTL returns how long decoded downloads are kept
func (l LibraryConfig) CacheTTL() time.Duration {
	return time.Duration(l.DownloadCacheTTL) * time.Minute
}

// MaxDownloadBytes returns the network acquisition size cap
func (l LibraryConfig) MaxDownloadBytes() int64 {
	return int64(l.MaxDownloadMB) << 20
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
