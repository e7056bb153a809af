package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AUTOBLOG_AUTH_SECRET.
const EnvPrefix = "AUTOBLOG_"

type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Cookie    CookieConfig    `yaml:"cookie" envPrefix:"COOKIE_"`
	Email     EmailConfig     `yaml:"email" envPrefix:"EMAIL_"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Admin     AdminConfig     `yaml:"admin" envPrefix:"ADMIN_"`
	Tracing   TracingConfig   `yaml:"tracing" envPrefix:"TRACING_"`
}

type ServerConfig struct {
	Name           string   `yaml:"name" env:"NAME"`
	Host           string   `yaml:"host" env:"HOST"`
	Port           int      `yaml:"port" env:"PORT"`
	BaseURL        string   `yaml:"base_url" env:"BASE_URL"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES"`
}

type DatabaseConfig struct {
	// Driver is sqlite3, sqlite or pgx.
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN is a file path for the SQLite drivers and a connection URL for pgx.
	DSN string `yaml:"dsn" env:"DSN"`
}

type AuthConfig struct {
	Secret               string        `yaml:"secret" env:"SECRET"`
	PasswordlessProvider string        `yaml:"passwordless_provider" env:"PASSWORDLESS_PROVIDER"`
	PasswordlessTTL      time.Duration `yaml:"passwordless_ttl" env:"PASSWORDLESS_TTL"`
	TokenTTL             time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	MaxCodeAttempts      int           `yaml:"max_code_attempts" env:"MAX_CODE_ATTEMPTS"`
}

type CookieConfig struct {
	Name               string        `yaml:"name" env:"NAME"`
	Domain             string        `yaml:"domain" env:"DOMAIN"`
	Secure             bool          `yaml:"secure" env:"SECURE"`
	PersistentLifetime time.Duration `yaml:"persistent_lifetime" env:"PERSISTENT_LIFETIME"`
	SessionLifetime    time.Duration `yaml:"session_lifetime" env:"SESSION_LIFETIME"`
	DisableSliding     bool          `yaml:"disable_sliding" env:"DISABLE_SLIDING"`
}

type EmailConfig struct {
	// Transport is smtp or log.
	Transport string        `yaml:"transport" env:"TRANSPORT"`
	AppName   string        `yaml:"app_name" env:"APP_NAME"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	SMTP      SMTPConfig    `yaml:"smtp" envPrefix:"SMTP_"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	From     string `yaml:"from" env:"FROM"`
}

type RateLimitConfig struct {
	// Per client IP, per minute.
	CodeRequests int `yaml:"code_requests" env:"CODE_REQUESTS"`
	Credentials  int `yaml:"credentials" env:"CREDENTIALS"`
	// Per email address.
	EmailRequests int           `yaml:"email_requests" env:"EMAIL_REQUESTS"`
	EmailWindow   time.Duration `yaml:"email_window" env:"EMAIL_WINDOW"`
}

type AdminConfig struct {
	UserName string `yaml:"user_name" env:"USER_NAME"`
	Email    string `yaml:"email" env:"EMAIL"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// Load reads the YAML file at path, applies AUTOBLOG_* environment
// overrides, validates and fills defaults. An empty path or a missing file
// leaves configuration to the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	return env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix})
}

func (c *Config) validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 characters")
	}

	switch c.Auth.PasswordlessProvider {
	case "", "PasswordlessLoginTotpProvider", "PasswordlessLoginProvider":
	default:
		return fmt.Errorf("auth.passwordless_provider %q is not supported", c.Auth.PasswordlessProvider)
	}

	switch c.Database.Driver {
	case "", "sqlite3", "sqlite":
	case "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the pgx driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	switch c.Email.Transport {
	case "", "smtp":
		if c.Email.SMTP.Host == "" {
			return fmt.Errorf("email.smtp.host is required")
		}
		if c.Email.SMTP.Port == 0 {
			return fmt.Errorf("email.smtp.port is required")
		}
		if c.Email.SMTP.From == "" {
			return fmt.Errorf("email.smtp.from is required")
		}
	case "log":
	default:
		return fmt.Errorf("email.transport %q is not supported", c.Email.Transport)
	}

	if c.Admin.Email != "" && c.Admin.Password == "" {
		return fmt.Errorf("admin.password is required when admin.email is set")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "AutoBlog"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "./data/autoblog.db"
	}
	if c.Auth.PasswordlessProvider == "" {
		c.Auth.PasswordlessProvider = "PasswordlessLoginTotpProvider"
	}
	if c.Auth.PasswordlessTTL == 0 {
		c.Auth.PasswordlessTTL = 5 * time.Minute
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Auth.MaxCodeAttempts == 0 {
		c.Auth.MaxCodeAttempts = 5
	}
	if c.Cookie.Name == "" {
		c.Cookie.Name = ".autoblog.session"
	}
	if c.Cookie.PersistentLifetime == 0 {
		c.Cookie.PersistentLifetime = 14 * 24 * time.Hour
	}
	if c.Cookie.SessionLifetime == 0 {
		c.Cookie.SessionLifetime = 12 * time.Hour
	}
	if c.Email.Transport == "" {
		c.Email.Transport = "smtp"
	}
	if c.Email.AppName == "" {
		c.Email.AppName = c.Server.Name
	}
	if c.Email.Timeout == 0 {
		c.Email.Timeout = 30 * time.Second
	}
	if c.RateLimit.CodeRequests == 0 {
		c.RateLimit.CodeRequests = 5
	}
	if c.RateLimit.Credentials == 0 {
		c.RateLimit.Credentials = 10
	}
	if c.RateLimit.EmailRequests == 0 {
		c.RateLimit.EmailRequests = 3
	}
	if c.RateLimit.EmailWindow == 0 {
		c.RateLimit.EmailWindow = 10 * time.Minute
	}
	if c.Admin.Email != "" && c.Admin.UserName == "" {
		c.Admin.UserName = "admin"
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
