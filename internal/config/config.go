package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Backend kinds accepted for database.type.
const (
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendSQLite   = "sqlite"
)

// identRe guards the table name, which is interpolated into DDL by the
// storage backends.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DatabaseConfig selects the storage backend and its connection target.
type DatabaseConfig struct {
	Type string `mapstructure:"type"`
	URL  string `mapstructure:"url"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// Config contains the fully-resolved runtime configuration. It is built
// once at startup and never re-read afterwards.
type Config struct {
	Port      int            `mapstructure:"port"`
	Secret    string         `mapstructure:"secret"`
	TableName string         `mapstructure:"table_name"`
	Database  DatabaseConfig `mapstructure:"database"`
	Log       LoggingConfig  `mapstructure:"log"`
}

// Load resolves configuration with precedence: config file > environment
// > defaults. path may be empty, in which case only environment and
// defaults apply. Environment keys are the upper-cased, underscore-joined
// forms of the config keys (database.url -> DATABASE_URL).
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("port", 8080)
	v.SetDefault("table_name", "webhook_events")
	v.SetDefault("database.type", BackendSQLite)
	v.SetDefault("database.url", "webhook_events.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface nested keys into Unmarshal;
	// bind the ones we read explicitly.
	for _, key := range []string{
		"port", "secret", "table_name",
		"database.type", "database.url",
		"log.level", "log.format",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	// The config file outranks the environment. Viper's own precedence
	// puts env above file, so file values are promoted via Set, which
	// outranks both.
	if strings.TrimSpace(path) != "" {
		fv := viper.New()
		fv.SetConfigFile(path)
		fv.SetConfigType("yaml")
		if err := fv.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		for _, key := range fv.AllKeys() {
			v.Set(key, fv.Get(key))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Secret = strings.TrimSpace(cfg.Secret)
	cfg.TableName = strings.TrimSpace(cfg.TableName)
	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	cfg.Database.URL = strings.TrimSpace(cfg.Database.URL)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in range 1..65535, got %d", c.Port)
	}
	if c.Secret == "" {
		return fmt.Errorf("secret is required (set SECRET or the secret config key)")
	}
	switch c.Database.Type {
	case BackendPostgres, BackendMySQL, BackendSQLite:
	default:
		return fmt.Errorf("database.type must be one of %s, %s, %s; got %q",
			BackendPostgres, BackendMySQL, BackendSQLite, c.Database.Type)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if !identRe.MatchString(c.TableName) {
		return fmt.Errorf("table_name %q is not a valid identifier", c.TableName)
	}
	return nil
}

// FromEnvFile is a convenience for main: resolves the config file path
// from CONFIG_FILE and loads.
func FromEnvFile() (Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}
