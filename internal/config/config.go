// Package config loads process-wide settings from the environment
// (prefix COPILOT_) with struct-tag validation, overridable by the
// handful of flags cmd/copilot exposes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Settings holds every knob the copilot service reads at startup.
// Fields are loaded from COPILOT_* environment variables; a handful are
// also settable via CLI flag, which take precedence when explicitly passed.
type Settings struct {
	// LLM
	AnthropicAPIKey string `validate:"required"`
	ClaudeModel     string `validate:"required"`

	// Database
	DatabaseURL string
	DBHost      string `validate:"required"`
	DBPort      int    `validate:"required,min=1,max=65535"`
	DBName      string `validate:"required"`
	DBUser      string `validate:"required"`
	DBPassword  string

	// Safety
	SQLStatementTimeoutMS int `validate:"required,min=1"`
	SQLMaxRows            int `validate:"required,min=1"`

	// Auth
	SecretKey         string `validate:"required,min=32"`
	SessionCookieName string `validate:"required"`
	SessionMaxAgeSec  int    `validate:"required,min=1"`
	UsersFile         string `validate:"required"`
	SuperUsersFile    string `validate:"required"`

	// Paths
	BaseDir string `validate:"required"`

	// Server
	Address    string `validate:"required"`
	Port       int    `validate:"required,min=1,max=65535"`
	LogLevel   string `validate:"required"`
	LogFormat  string `validate:"required"`
}

// DatabaseDSN returns the connection string, preferring DatabaseURL if
// explicitly set.
func (s Settings) DatabaseDSN() string {
	if s.DatabaseURL != "" {
		return s.DatabaseURL
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s", s.DBUser, s.DBPassword, s.DBHost, s.DBPort, s.DBName)
}

func (s Settings) SchemaDir() string         { return filepath.Join(s.BaseDir, "schema") }
func (s Settings) CatalogPath() string       { return filepath.Join(s.BaseDir, "out", "catalog.json") }
func (s Settings) ConceptsPath() string      { return filepath.Join(s.BaseDir, "schema", "concepts.yaml") }
func (s Settings) UsersCSVPath() string      { return filepath.Join(s.BaseDir, s.UsersFile) }
func (s Settings) SuperUsersPath() string    { return filepath.Join(s.BaseDir, s.SuperUsersFile) }
func (s Settings) StaticDir() string         { return filepath.Join(s.BaseDir, "web", "static") }

func defaults() Settings {
	return Settings{
		ClaudeModel:           "claude-sonnet-4-20250514",
		DBHost:                "localhost",
		DBPort:                5432,
		DBName:                "kcmh",
		DBUser:                "readonly",
		SQLStatementTimeoutMS: 15000,
		SQLMaxRows:            2000,
		SecretKey:             "",
		SessionCookieName:     "kcmh_session",
		SessionMaxAgeSec:      28800,
		UsersFile:             "usr/ID.csv",
		SuperUsersFile:        "config/super_users.json",
		BaseDir:               ".",
		Address:               "127.0.0.1",
		Port:                  8080,
		LogLevel:              "INFO",
		LogFormat:             "standard",
	}
}

// Load reads Settings from the environment (COPILOT_* variables) and
// validates the result. It never reads a .env file: the process
// environment is the single source of truth in production.
func Load() (Settings, error) {
	s := defaults()

	strVar(&s.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	strVar(&s.ClaudeModel, "CLAUDE_MODEL")
	strVar(&s.DatabaseURL, "DATABASE_URL")
	strVar(&s.DBHost, "DB_HOST")
	strVar(&s.DBName, "DB_NAME")
	strVar(&s.DBUser, "DB_USER")
	strVar(&s.DBPassword, "DB_PASSWORD")
	strVar(&s.SecretKey, "SECRET_KEY")
	strVar(&s.SessionCookieName, "SESSION_COOKIE_NAME")
	strVar(&s.UsersFile, "USERS_FILE")
	strVar(&s.SuperUsersFile, "SUPER_USERS_FILE")
	strVar(&s.BaseDir, "BASE_DIR")
	strVar(&s.Address, "ADDRESS")
	strVar(&s.LogLevel, "LOG_LEVEL")
	strVar(&s.LogFormat, "LOG_FORMAT")

	if err := intVar(&s.DBPort, "DB_PORT"); err != nil {
		return Settings{}, err
	}
	if err := intVar(&s.SQLStatementTimeoutMS, "SQL_STATEMENT_TIMEOUT_MS"); err != nil {
		return Settings{}, err
	}
	if err := intVar(&s.SQLMaxRows, "SQL_MAX_ROWS"); err != nil {
		return Settings{}, err
	}
	if err := intVar(&s.SessionMaxAgeSec, "SESSION_MAX_AGE"); err != nil {
		return Settings{}, err
	}
	if err := intVar(&s.Port, "PORT"); err != nil {
		return Settings{}, err
	}

	if err := validator.New().Struct(s); err != nil {
		return Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

func envKey(suffix string) string {
	return "COPILOT_" + suffix
}

func strVar(dst *string, suffix string) {
	if v, ok := os.LookupEnv(envKey(suffix)); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func intVar(dst *int, suffix string) error {
	v, ok := os.LookupEnv(envKey(suffix))
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", envKey(suffix), err)
	}
	*dst = n
	return nil
}
