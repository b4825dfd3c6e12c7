/*
2019 © Postgres.ai
*/

// Package config provides the App configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

// Config defines an App configuration.
type Config struct {
	App      App      `yaml:"app"`
	Database Database `yaml:"database"`
	Probe    Probe    `yaml:"probe"`
}

// App defines a general application configuration.
type App struct {
	Version string `yaml:"-"`
	Host    string `yaml:"host" env:"LOCKPROBE_APP_HOST" env-default:"127.0.0.1"`
	Port    uint   `yaml:"port" env:"LOCKPROBE_APP_PORT" env-default:"5430"`
	Debug   bool   `yaml:"debug" env:"LOCKPROBE_APP_DEBUG"`

	// VerificationSecret enables signature checks of incoming requests when set.
	VerificationSecret string `yaml:"verificationSecret" env:"LOCKPROBE_VERIFICATION_SECRET"`

	// Explanations overrides the built-in lock mode catalog.
	Explanations string `yaml:"explanations" env:"LOCKPROBE_EXPLANATIONS"`
}

// Database describes the connection parameters of the probed database.
type Database struct {
	Host     string `yaml:"host" env:"LOCKPROBE_DB_HOST"`
	Port     uint   `yaml:"port" env:"LOCKPROBE_DB_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"LOCKPROBE_DB_USER"`
	Password string `yaml:"password" env:"LOCKPROBE_DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"LOCKPROBE_DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"LOCKPROBE_DB_SSLMODE" env-default:"disable"`
}

// Probe describes the lock probe options.
type Probe struct {
	StatementTimeout time.Duration `yaml:"statementTimeout" env:"LOCKPROBE_STATEMENT_TIMEOUT" env-default:"10s"`
	LockTimeout      time.Duration `yaml:"lockTimeout" env:"LOCKPROBE_LOCK_TIMEOUT" env-default:"5s"`
	RoundTripTimeout time.Duration `yaml:"roundTripTimeout" env:"LOCKPROBE_ROUND_TRIP_TIMEOUT" env-default:"1m"`
	Pairs            uint          `yaml:"pairs" env:"LOCKPROBE_PAIRS" env-default:"1"`
	TagStatements    bool          `yaml:"tagStatements" env:"LOCKPROBE_TAG_STATEMENTS"`
}

// Load reads a configuration file and overrides its values with environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read a config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &cfg, nil
}

// LoadEnv reads the configuration from environment variables only.
func LoadEnv() (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read environment variables")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database host, user and dbname are required")
	}

	if c.Probe.Pairs < 1 {
		return errors.New("at least one session pair is required")
	}

	// Concurrent pairs running the same text are indistinguishable in pg_stat_activity.
	if c.Probe.Pairs > 1 && !c.Probe.TagStatements {
		return errors.New("tagStatements must be enabled to use more than one session pair")
	}

	return nil
}

// ConnectionString returns a keyword/value connection string.
func (d Database) ConnectionString() string {
	params := []struct {
		key   string
		value string
	}{
		{"host", d.Host},
		{"port", fmt.Sprintf("%d", d.Port)},
		{"user", d.User},
		{"dbname", d.DBName},
		{"password", d.Password},
		{"sslmode", d.SSLMode},
	}

	parts := make([]string, 0, len(params))

	for _, param := range params {
		if param.value == "" || param.value == "0" {
			continue
		}

		parts = append(parts, param.key+"="+quoteValue(param.value))
	}

	return strings.Join(parts, " ")
}

var valueEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quoteValue(value string) string {
	return "'" + valueEscaper.Replace(value) + "'"
}
