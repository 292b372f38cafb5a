package db

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to database config.
// PG_DSN wins; otherwise a DSN is assembled from DB_HOST, DB_PORT, DB_USER,
// DB_PASSWORD, DB_NAME and DB_SSLMODE when DB_HOST is set. Unparseable values
// are ignored.
func ApplyEnvOverrides(config *Config) {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		config.DSN = dsn
	} else if host := os.Getenv("DB_HOST"); host != "" {
		config.DSN = dsnFromParts(host, os.Getenv("DB_PORT"), os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), os.Getenv("DB_NAME"), os.Getenv("DB_SSLMODE"))
	}

	envBool("PG_ENABLED", &config.Enabled)
	envBool("PG_HYPERTABLE", &config.Hypertable)
	envInt("PG_MAX_OPEN_CONNS", &config.MaxOpenConns)
	envInt("PG_MAX_IDLE_CONNS", &config.MaxIdleConns)
	envInt("PG_MIN_LOCKS_PER_TRANSACTION", &config.MinLocksPerTransaction)
	envDuration("PG_CONN_MAX_LIFETIME", &config.ConnMaxLifetime)
	envDuration("PG_CONN_MAX_IDLE_TIME", &config.ConnMaxIdleTime)
	envDuration("PG_QUERY_TIMEOUT", &config.QueryTimeout)
}

func envBool(key string, dst *bool) {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = v
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		*dst = v
	}
}

func dsnFromParts(host, port, user, password, name, sslmode string) string {
	if port == "" {
		port = "5432"
	}
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + port,
		Path:     "/" + name,
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	if user != "" {
		u.User = url.UserPassword(user, password)
	}
	return u.String()
}

// Validate validates the database configuration
func (c Config) Validate() error {
	if c.Enabled && c.DSN == "" {
		return fmt.Errorf("database DSN is required when database is enabled")
	}

	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive")
	}

	if c.MaxIdleConns < 0 {
		return fmt.Errorf("max_idle_conns cannot be negative")
	}

	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot exceed max_open_conns")
	}

	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}

	if c.MinLocksPerTransaction < 0 {
		return fmt.Errorf("min_locks_per_transaction cannot be negative")
	}

	return c.Tables.Validate()
}
