package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvDBUser     = "STIMLOG_DB_USER"
	EnvDBPassword = "STIMLOG_DB_PASSWORD"
	EnvDBHost     = "STIMLOG_DB_HOST"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Display     DisplayConfig     `yaml:"display"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Security    SecurityConfig    `yaml:"security"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
	FlushOnShutdown bool          `yaml:"flush_on_shutdown"`
}

type DatabaseConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Name           string        `yaml:"name"`
	SSLMode        string        `yaml:"sslmode"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AutoMigrate    bool          `yaml:"auto_migrate"` // create tables on connect; development databases only
}

// CredentialsConfig controls how database credentials are obtained.
type CredentialsConfig struct {
	Mode        string `yaml:"mode"` // "dialog" (default) or "static"
	DefaultUser string `yaml:"default_user"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	MaxAttempts int    `yaml:"max_attempts"` // 0 = ask until the user gives up
	EnvFile     string `yaml:"env_file"`

	// PrefillPassword puts DefaultPassword into the dialog's password field.
	// Anyone at the rig can then submit it, so it is off unless asked for.
	PrefillPassword bool   `yaml:"prefill_password"`
	DefaultPassword string `yaml:"default_password"`
}

type DisplayConfig struct {
	Source       string        `yaml:"source"` // "xrandr" (default), "static", or "none"
	Timeout      time.Duration `yaml:"timeout"`
	DefaultDepth int           `yaml:"default_depth"`
	Static       StaticDisplay `yaml:"static"`
}

type StaticDisplay struct {
	Width       int `yaml:"width"`
	Height      int `yaml:"height"`
	RefreshRate int `yaml:"refresh_rate"`
	PixelDepth  int `yaml:"pixel_depth"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type SecurityConfig struct {
	AllowedKeys          []string `yaml:"allowed_keys"`
	AllowUnauthenticated bool     `yaml:"allow_unauthenticated"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7070,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute, // a flush may wait on the login dialog
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
			FlushOnShutdown: true,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Name:           "lab",
			SSLMode:        "prefer",
			ConnectTimeout: 10 * time.Second,
		},
		Credentials: CredentialsConfig{
			Mode:        "dialog",
			DefaultUser: os.Getenv("USER"),
		},
		Display: DisplayConfig{
			Source:       "xrandr",
			Timeout:      5 * time.Second,
			DefaultDepth: 24,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadEnvFile reads a dotenv file into the process environment. Variables
// already set are left alone. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides credentials and database host from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDBUser); v != "" {
		c.Credentials.User = v
	}
	if v := os.Getenv(EnvDBPassword); v != "" {
		c.Credentials.Password = v
	}
	if v := os.Getenv(EnvDBHost); v != "" {
		c.Database.Host = v
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	switch c.Database.SSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("database.sslmode %q is not a libpq sslmode", c.Database.SSLMode)
	}
	switch c.Credentials.Mode {
	case "dialog", "static":
	default:
		return fmt.Errorf("credentials.mode must be dialog or static, got %q", c.Credentials.Mode)
	}
	if c.Credentials.MaxAttempts < 0 {
		return fmt.Errorf("credentials.max_attempts must be >= 0")
	}
	if c.Credentials.PrefillPassword {
		if c.Credentials.DefaultPassword == "" {
			return fmt.Errorf("credentials.default_password is required when prefill_password is set")
		}
		log.Warn().Msg("credentials.prefill_password is set, the login dialog will offer a stored password")
	}
	switch c.Display.Source {
	case "xrandr", "none":
	case "static":
		s := c.Display.Static
		if s.Width < 1 || s.Height < 1 || s.RefreshRate < 1 || s.PixelDepth < 1 {
			return fmt.Errorf("display.static values must all be >= 1")
		}
	default:
		return fmt.Errorf("display.source must be xrandr, static, or none, got %q", c.Display.Source)
	}
	if c.Database.SSLMode == "disable" {
		log.Warn().Msg("database sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DSN returns a keyword/value connection string without credentials. Values
// are single-quoted so spaces and quotes survive parsing.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		quoteDSN(d.Host), d.Port, quoteDSN(d.Name), quoteDSN(d.SSLMode))
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quoteDSN(v string) string {
	return "'" + dsnEscaper.Replace(v) + "'"
}
