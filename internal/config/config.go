package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the SongCast server.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Content    ContentConfig    `yaml:"content"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains the HTTP/WebSocket listener settings.
type ServerConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	StaticDir      string        `yaml:"static_dir"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// SessionConfig contains room lifecycle settings.
type SessionConfig struct {
	CodeLength         int           `yaml:"code_length"`
	AllocationAttempts int           `yaml:"allocation_attempts"`
	GracePeriod        time.Duration `yaml:"grace_period"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	DefaultLanguage    string        `yaml:"default_language"`
}

// ContentConfig points at the song and Bible content directories.
type ContentConfig struct {
	SongsDir   string `yaml:"songs_dir"`
	BibleDir   string `yaml:"bible_dir"`
	WatchSongs bool   `yaml:"watch_songs"`
}

// SecurityConfig contains connection admission settings.
type SecurityConfig struct {
	MaxConnections      int             `yaml:"max_connections"`
	MaxConnectionsPerIP int             `yaml:"max_connections_per_ip"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled              bool `yaml:"enabled"`
	ConnectionsPerMinute int  `yaml:"connections_per_minute"`
	MessagesPerSecond    int  `yaml:"messages_per_second"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig contains the health/admin endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:  "0.0.0.0:3000",
			StaticDir:      "build",
			DrainTimeout:   30 * time.Second,
			MaxMessageSize: 262144, // 256KB, enough for a full song payload
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Session: SessionConfig{
			CodeLength:         6,
			AllocationAttempts: 50,
			GracePeriod:        5 * time.Minute,
			SweepInterval:      30 * time.Second,
			DefaultLanguage:    "en",
		},
		Content: ContentConfig{
			SongsDir:   "songs",
			BibleDir:   "bible",
			WatchSongs: true,
		},
		Security: SecurityConfig{
			MaxConnections:      1000,
			MaxConnectionsPerIP: 20,
			RateLimit: RateLimitConfig{
				Enabled:              true,
				ConnectionsPerMinute: 60,
				MessagesPerSecond:    100,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Health: HealthConfig{
			Enabled:       true,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:8081",
			Detailed:      true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
// An empty path loads defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s (run 'songcast setup' to create one)", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address is invalid: %w", err)
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("server.max_message_size must be positive")
	}
	if c.Server.MaxMessageSize > 16777216 {
		return fmt.Errorf("server.max_message_size must not exceed 16777216 (16MB)")
	}
	if c.Server.DrainTimeout <= 0 {
		return fmt.Errorf("server.drain_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	if c.Session.CodeLength < 4 || c.Session.CodeLength > 12 {
		return fmt.Errorf("session.code_length must be between 4 and 12")
	}
	if c.Session.AllocationAttempts <= 0 {
		return fmt.Errorf("session.allocation_attempts must be positive")
	}
	if c.Session.GracePeriod <= 0 {
		return fmt.Errorf("session.grace_period must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be positive")
	}
	if c.Session.SweepInterval > c.Session.GracePeriod {
		return fmt.Errorf("session.sweep_interval must not exceed session.grace_period")
	}

	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("security.max_connections must be positive")
	}
	if c.Security.MaxConnections > 65535 {
		return fmt.Errorf("security.max_connections must not exceed 65535")
	}
	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("security.max_connections_per_ip must be positive")
	}
	if c.Security.MaxConnectionsPerIP > c.Security.MaxConnections {
		return fmt.Errorf("security.max_connections_per_ip must not exceed security.max_connections")
	}
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.ConnectionsPerMinute <= 0 {
		return fmt.Errorf("security.rate_limit.connections_per_minute must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
		host, _, _ := net.SplitHostPort(c.Health.ListenAddress)
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("health.listen_address should bind to a loopback address (e.g. 127.0.0.1) to avoid exposing the admin API")
		}
		if c.Server.ListenAddress == c.Health.ListenAddress {
			return fmt.Errorf("server.listen_address and health.listen_address must be different")
		}
	}

	return nil
}

// applyEnvOverrides applies SONGCAST_ prefixed environment variables.
// Convention: SONGCAST_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"SONGCAST_SERVER_LISTEN_ADDRESS":          func(v string) { cfg.Server.ListenAddress = v },
		"SONGCAST_SERVER_STATIC_DIR":              func(v string) { cfg.Server.StaticDir = v },
		"SONGCAST_SERVER_DRAIN_TIMEOUT":           func(v string) { cfg.Server.DrainTimeout = parseDuration(v, cfg.Server.DrainTimeout) },
		"SONGCAST_SERVER_MAX_MESSAGE_SIZE":        func(v string) { cfg.Server.MaxMessageSize = parseInt64(v, cfg.Server.MaxMessageSize) },
		"SONGCAST_SERVER_PING_INTERVAL":           func(v string) { cfg.Server.PingInterval = parseDuration(v, cfg.Server.PingInterval) },
		"SONGCAST_SERVER_WRITE_TIMEOUT":           func(v string) { cfg.Server.WriteTimeout = parseDuration(v, cfg.Server.WriteTimeout) },
		"SONGCAST_SESSION_GRACE_PERIOD":           func(v string) { cfg.Session.GracePeriod = parseDuration(v, cfg.Session.GracePeriod) },
		"SONGCAST_SESSION_SWEEP_INTERVAL":         func(v string) { cfg.Session.SweepInterval = parseDuration(v, cfg.Session.SweepInterval) },
		"SONGCAST_SESSION_DEFAULT_LANGUAGE":       func(v string) { cfg.Session.DefaultLanguage = v },
		"SONGCAST_CONTENT_SONGS_DIR":              func(v string) { cfg.Content.SongsDir = v },
		"SONGCAST_CONTENT_BIBLE_DIR":              func(v string) { cfg.Content.BibleDir = v },
		"SONGCAST_CONTENT_WATCH_SONGS":            func(v string) { cfg.Content.WatchSongs = parseBool(v, cfg.Content.WatchSongs) },
		"SONGCAST_SECURITY_MAX_CONNECTIONS":       func(v string) { cfg.Security.MaxConnections = parseInt(v, cfg.Security.MaxConnections) },
		"SONGCAST_SECURITY_MAX_CONNECTIONS_PER_IP": func(v string) {
			cfg.Security.MaxConnectionsPerIP = parseInt(v, cfg.Security.MaxConnectionsPerIP)
		},
		"SONGCAST_SECURITY_RATE_LIMIT_ENABLED": func(v string) {
			cfg.Security.RateLimit.Enabled = parseBool(v, cfg.Security.RateLimit.Enabled)
		},
		"SONGCAST_SECURITY_RATE_LIMIT_CONNECTIONS_PER_MINUTE": func(v string) {
			cfg.Security.RateLimit.ConnectionsPerMinute = parseInt(v, cfg.Security.RateLimit.ConnectionsPerMinute)
		},
		"SONGCAST_LOGGING_LEVEL":         func(v string) { cfg.Logging.Level = v },
		"SONGCAST_LOGGING_FORMAT":        func(v string) { cfg.Logging.Format = v },
		"SONGCAST_LOGGING_FILE":          func(v string) { cfg.Logging.File = v },
		"SONGCAST_HEALTH_ENABLED":        func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"SONGCAST_HEALTH_LISTEN_ADDRESS": func(v string) { cfg.Health.ListenAddress = v },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with reloadable fields taken
// from newCfg. Non-reloadable: listen addresses, content dirs, code
// length, static dir.
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Security = newCfg.Security
	updated.Logging.Level = newCfg.Logging.Level
	updated.Server.MaxMessageSize = newCfg.Server.MaxMessageSize
	updated.Session.GracePeriod = newCfg.Session.GracePeriod
	return &updated
}

// IsReloadSafe reports fields whose change requires a restart.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Server.ListenAddress != new.Server.ListenAddress {
		warnings = append(warnings, "server.listen_address requires restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	if old.Content != new.Content {
		warnings = append(warnings, "content.* requires restart")
	}
	if old.Session.CodeLength != new.Session.CodeLength {
		warnings = append(warnings, "session.code_length requires restart")
	}
	if old.Session.SweepInterval != new.Session.SweepInterval {
		warnings = append(warnings, "session.sweep_interval requires restart")
	}
	return warnings
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
