package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/stockmetrics/internal/application/engine"
	"github.com/sawpanic/stockmetrics/internal/infrastructure/db"
	"github.com/sawpanic/stockmetrics/internal/infrastructure/lock"
	"github.com/sawpanic/stockmetrics/internal/infrastructure/providers"
	"github.com/sawpanic/stockmetrics/internal/interfaces/alerts"
	monitor "github.com/sawpanic/stockmetrics/internal/interfaces/http"
	"github.com/sawpanic/stockmetrics/internal/scheduler"
)

// Config is the complete application configuration
type Config struct {
	LogLevel     string                `yaml:"log_level" env:"STOCKMETRICS_LOG_LEVEL"`
	ArtifactsDir string                `yaml:"artifacts_dir" env:"STOCKMETRICS_ARTIFACTS_DIR"`
	Database     db.Config             `yaml:"database"`
	Engine       engine.Options        `yaml:"engine"`
	Writer       engine.WriterOptions  `yaml:"writer"`
	Reader       providers.GuardConfig `yaml:"reader"`
	Lock         lock.Config           `yaml:"lock"`
	Telegram     alerts.TelegramConfig `yaml:"telegram"`
	Scheduler    scheduler.Config      `yaml:"scheduler"`
	Monitor      monitor.ServerConfig  `yaml:"monitor"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	database := db.DefaultConfig()
	database.DSN = "postgres://localhost:5432/stockmetrics?sslmode=disable"

	return Config{
		LogLevel:     "info",
		ArtifactsDir: "artifacts",
		Database:     database,
		Engine:       engine.DefaultOptions(),
		Writer:       engine.DefaultWriterOptions(),
		Reader:       providers.DefaultGuardConfig(),
		Lock:         lock.DefaultConfig(),
		Telegram:     alerts.DefaultTelegramConfig(),
		Scheduler:    scheduler.DefaultConfig(),
		Monitor:      monitor.DefaultServerConfig(),
	}
}

// Load reads .env if present, overlays the YAML file at path (when not
// empty) on the defaults, then applies environment overrides
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	ApplyEnvOverrides(&config)
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// ApplyEnvOverrides applies environment variables on top of file values
func ApplyEnvOverrides(config *Config) {
	db.ApplyEnvOverrides(&config.Database)

	if v := os.Getenv("STOCKMETRICS_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("STOCKMETRICS_ARTIFACTS_DIR"); v != "" {
		config.ArtifactsDir = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Lock.Addr = v
		config.Lock.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Lock.Password = v
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		config.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		config.Telegram.ChatID = v
	}
	if v := os.Getenv("TELEGRAM_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			config.Telegram.Enabled = enabled
		}
	}
}

// Validate checks every section
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	checks := []struct {
		section string
		err     error
	}{
		{"database", c.Database.Validate()},
		{"engine", c.Engine.Validate()},
		{"writer", c.Writer.Validate()},
		{"telegram", c.Telegram.Validate()},
		{"scheduler", c.Scheduler.Validate()},
		{"monitor", c.Monitor.Validate()},
	}
	for _, check := range checks {
		if check.err != nil {
			return fmt.Errorf("%s: %w", check.section, check.err)
		}
	}
	return nil
}
