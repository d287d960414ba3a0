// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.verita/config.yaml)
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingCredentials indicates neither an API key nor a project and
	// location pair is configured.
	ErrMissingCredentials = errors.New("missing model credentials")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidWorkers indicates the verification worker count is out of range.
	ErrInvalidWorkers = errors.New("invalid verification workers")

	// ErrInvalidRateLimit indicates the verification rate limit is out of range.
	ErrInvalidRateLimit = errors.New("invalid verification rate limit")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrMissingBucket indicates the session storage bucket is not set.
	ErrMissingBucket = errors.New("missing session bucket")
)

// Config stores application configuration.
type Config struct {
	// Model configuration. APIKey selects the Gemini API backend; Project
	// and Location select Vertex AI.
	APIKey      string  `mapstructure:"api_key"`
	Project     string  `mapstructure:"project"`
	Location    string  `mapstructure:"location"`
	ChatModel   string  `mapstructure:"chat_model"`
	VerifyModel string  `mapstructure:"verify_model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int32   `mapstructure:"max_tokens"`

	// Verification fan-out configuration.
	VerifyWorkers  int           `mapstructure:"verify_workers"`
	VerifyMaxCalls int           `mapstructure:"verify_max_calls"`
	VerifyWindow   time.Duration `mapstructure:"verify_window"`

	// Session storage configuration.
	SessionBucket string `mapstructure:"session_bucket"`

	// Storage configuration.
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Server configuration (serve mode only).
	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	// Observability configuration.
	TraceAgentHost   string `mapstructure:"trace_agent_host"`
	TraceEnvironment string `mapstructure:"trace_environment"`
	TraceServiceName string `mapstructure:"trace_service_name"`

	// Logging configuration.
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".verita")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing configuration file is not an error.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chat_model", "gemini-2.5-pro")
	v.SetDefault("verify_model", "gemini-2.5-flash")
	v.SetDefault("temperature", 0.2)
	v.SetDefault("max_tokens", 8192)

	v.SetDefault("verify_workers", 8)
	v.SetDefault("verify_max_calls", 60)
	v.SetDefault("verify_window", time.Minute)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "verita")
	v.SetDefault("postgres_password", "verita_dev_password")
	v.SetDefault("postgres_db_name", "verita")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("cors_origins", []string{"http://localhost:4200"})

	v.SetDefault("trace_agent_host", "localhost:4318")
	v.SetDefault("trace_environment", "dev")
	v.SetDefault("trace_service_name", "verita")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
}

func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_key", "GEMINI_API_KEY")
	mustBind("project", "GOOGLE_CLOUD_PROJECT")
	mustBind("location", "GOOGLE_CLOUD_LOCATION")
	mustBind("session_bucket", "VERITA_SESSION_BUCKET")
	mustBind("listen_addr", "VERITA_LISTEN_ADDR")
	mustBind("cors_origins", "VERITA_CORS_ORIGINS")
	mustBind("log_level", "VERITA_LOG_LEVEL")
}

// Validate performs range and presence checks, fail-fast at startup.
func (c *Config) Validate() error {
	if c.APIKey == "" && (c.Project == "" || c.Location == "") {
		return fmt.Errorf("%w: set GEMINI_API_KEY, or GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION", ErrMissingCredentials)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v not in [0, 2]", ErrInvalidTemperature, c.Temperature)
	}
	if c.VerifyWorkers < 1 || c.VerifyWorkers > 64 {
		return fmt.Errorf("%w: %d not in [1, 64]", ErrInvalidWorkers, c.VerifyWorkers)
	}
	if c.VerifyMaxCalls < 1 || c.VerifyWindow <= 0 {
		return fmt.Errorf("%w: %d calls per %v", ErrInvalidRateLimit, c.VerifyMaxCalls, c.VerifyWindow)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	return nil
}

// PostgresURL returns the connection URL for pgx and golang-migrate.
func (c *Config) PostgresURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     "/" + c.PostgresDBName,
		RawQuery: "sslmode=" + c.PostgresSSLMode,
	}
	return u.String()
}

// parseDatabaseURL overrides the PostgreSQL fields from DATABASE_URL when
// set, the conventional form on managed platforms.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if port := u.Port(); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &c.PostgresPort); err != nil {
			return fmt.Errorf("parsing port %q: %w", port, err)
		}
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if len(u.Path) > 1 {
		c.PostgresDBName = u.Path[1:]
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}
