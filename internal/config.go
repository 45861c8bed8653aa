package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/crypto/bcrypt"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	Session SessionConfig     `yaml:"session"`
	MCP     MCPConfig         `yaml:"mcp"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.MCP.Validate(); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// Timezone is the IANA zone calendar dates and weeks are computed in.
	Timezone string `yaml:"timezone"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Timezone, validation.Required, validation.By(validLocation)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// Location returns the configured time zone.
func (c *ApplicationConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func validLocation(v interface{}) error {
	s, _ := v.(string)
	if _, err := time.LoadLocation(s); err != nil {
		return errors.New("unknown time zone")
	}
	return nil
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// MetricsToken, when set, is the bearer token /metrics requires.
	MetricsToken string `yaml:"metrics_token"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Host, is.Host),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds identity configuration.
//
// AppID namespaces the day log collections.
type AuthConfig struct {
	AppID             string `yaml:"app_id"`
	MinPasswordLength int    `yaml:"min_password_length"`
	BcryptCost        int    `yaml:"bcrypt_cost"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AppID, validation.Required, is.PrintableASCII),
		validation.Field(&c.MinPasswordLength, validation.Required, validation.Min(1)),
		validation.Field(&c.BcryptCost, validation.Required, validation.Min(bcrypt.MinCost), validation.Max(bcrypt.MaxCost)),
	)
}

// SessionConfig holds per-client controller settings.
type SessionConfig struct {
	// MessageTTL is how long a notification stays on screen.
	MessageTTL time.Duration `yaml:"message_ttl"`
	// IdleTimeout is how long a client without an open stream is kept.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// KeepAlive is the event stream heartbeat interval.
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// Validate validates the session configuration.
func (c *SessionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MessageTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.IdleTimeout, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.KeepAlive, validation.Required, validation.Min(time.Second)),
	)
}

// MCPConfig holds settings for the stdio MCP server.
type MCPConfig struct {
	// UserEmail is the account the MCP tools act as.
	UserEmail string `yaml:"user_email"`
}

// Validate validates the MCP configuration. An empty email is allowed;
// the mcp command checks for it.
func (c *MCPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.UserEmail, is.EmailFormat),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			Timezone: "UTC",
		},
		SQLite: SQLiteConfig{
			Path: "./daylens.db",
		},
		Auth: AuthConfig{
			AppID:             "default-app-id",
			MinPasswordLength: 6,
			BcryptCost:        bcrypt.DefaultCost,
		},
		Session: SessionConfig{
			MessageTTL:  5 * time.Second,
			IdleTimeout: 30 * time.Minute,
			KeepAlive:   15 * time.Second,
		},
	}
}
