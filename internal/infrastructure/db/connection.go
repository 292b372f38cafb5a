package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/stockmetrics/internal/persistence"
	"github.com/sawpanic/stockmetrics/internal/persistence/postgres"
)

// Config holds database connection configuration
type Config struct {
	DSN             string        `yaml:"dsn" env:"PG_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"PG_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"PG_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"PG_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"PG_CONN_MAX_IDLE_TIME"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"PG_QUERY_TIMEOUT"`
	Enabled         bool          `yaml:"enabled" env:"PG_ENABLED"`

	// MinLocksPerTransaction is the smallest max_locks_per_transaction the
	// writer accepts before a run starts; 0 skips the check
	MinLocksPerTransaction int             `yaml:"min_locks_per_transaction" env:"PG_MIN_LOCKS_PER_TRANSACTION"`
	Hypertable             bool            `yaml:"hypertable"`
	Tables                 postgres.Tables `yaml:"tables"`
}

// DefaultConfig returns reasonable defaults for database connections
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:           10,
		MaxIdleConns:           5,
		ConnMaxLifetime:        30 * time.Minute,
		ConnMaxIdleTime:        5 * time.Minute,
		QueryTimeout:           30 * time.Second,
		Enabled:                true,
		MinLocksPerTransaction: 64,
		Tables:                 postgres.DefaultTables(),
	}
}

// Manager manages database connections and repository instances
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager creates a new database manager with the given configuration
func NewManager(config Config) (*Manager, error) {
	if !config.Enabled {
		return &Manager{
			config: config,
			health: &healthChecker{enabled: false},
		}, nil
	}

	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewManagerFromDB(db, config), nil
}

// NewManagerFromDB wires repositories around an already open connection
func NewManagerFromDB(db *sqlx.DB, config Config) *Manager {
	tables := config.Tables
	if tables == (postgres.Tables{}) {
		tables = postgres.DefaultTables()
	}
	config.Tables = tables
	config.Enabled = true

	repos := &persistence.Repository{
		Prices:   postgres.NewPricesRepo(db, config.QueryTimeout, tables.Prices),
		Universe: postgres.NewUniverseRepo(db, config.QueryTimeout, tables),
		Metrics:  postgres.NewMetricsRepo(db, config.QueryTimeout, tables.Metrics),
		Runs:     postgres.NewRunsRepo(db, config.QueryTimeout, tables.Runs),
	}

	return &Manager{
		db:     db,
		config: config,
		repos:  repos,
		health: &healthChecker{
			enabled: true,
			db:      db,
			timeout: config.QueryTimeout,
			tables:  tables,
		},
	}
}

// Repository returns the repository collection, or nil if database is disabled
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// Health returns the health checker interface
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// DB returns the underlying database connection (for migrations, etc.)
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// IsEnabled returns whether database persistence is enabled
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled && m.db != nil
}

// Migrate applies the metrics and run ledger schema
func (m *Manager) Migrate(ctx context.Context) error {
	if !m.IsEnabled() {
		return fmt.Errorf("database is disabled")
	}
	return postgres.Migrate(ctx, m.db, m.config.Tables, m.config.Hypertable)
}

// CheckLockCapacity verifies max_locks_per_transaction against the configured minimum
func (m *Manager) CheckLockCapacity(ctx context.Context) error {
	if !m.IsEnabled() || m.config.MinLocksPerTransaction <= 0 {
		return nil
	}
	_, err := postgres.CheckLockCapacity(ctx, m.db, m.config.MinLocksPerTransaction)
	return err
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker implements persistence.RepositoryHealth. Beyond a ping it
// confirms every configured table exists, so an unmigrated store reports
// unhealthy before a run tries to write.
type healthChecker struct {
	enabled bool
	db      *sqlx.DB
	timeout time.Duration
	tables  postgres.Tables
}

// Health pings the store and checks the configured tables
func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	check := persistence.HealthCheck{Healthy: true, LastCheck: time.Now()}
	if !h.enabled {
		check.Errors = []string{"Database persistence disabled"}
		check.ConnectionPool = map[string]int{"status": 0}
		return check
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		check.Healthy = false
		check.Errors = append(check.Errors, fmt.Sprintf("ping failed: %v", err))
	} else {
		missing, err := h.missingTables(ctx)
		if err != nil {
			check.Healthy = false
			check.Errors = append(check.Errors, fmt.Sprintf("table check failed: %v", err))
		}
		for _, name := range missing {
			check.Healthy = false
			check.Errors = append(check.Errors, fmt.Sprintf("table %s missing", name))
		}
	}

	stats := h.db.Stats()
	check.ConnectionPool = map[string]int{
		"max_open":      stats.MaxOpenConnections,
		"open":          stats.OpenConnections,
		"in_use":        stats.InUse,
		"idle":          stats.Idle,
		"wait_count":    int(stats.WaitCount),
		"wait_duration": int(stats.WaitDuration.Milliseconds()),
	}
	check.ResponseTimeMS = time.Since(start).Milliseconds()
	return check
}

// missingTables returns the configured tables to_regclass cannot resolve
func (h *healthChecker) missingTables(ctx context.Context) ([]string, error) {
	names := []string{h.tables.Prices, h.tables.Tickers, h.tables.Metrics, h.tables.Runs}

	var missing []string
	err := h.db.SelectContext(ctx, &missing,
		`SELECT name FROM unnest($1::text[]) AS name WHERE to_regclass(name) IS NULL ORDER BY name`,
		pq.Array(names))
	if err != nil {
		return nil, err
	}
	return missing, nil
}

// Ping tests basic connectivity to database
func (h *healthChecker) Ping(ctx context.Context) error {
	if !h.enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(ctx)
}

// Stats returns connection pool statistics and the tables in use
func (h *healthChecker) Stats(ctx context.Context) map[string]interface{} {
	if !h.enabled {
		return map[string]interface{}{"enabled": false}
	}

	stats := h.db.Stats()
	return map[string]interface{}{
		"enabled":              true,
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		"metrics_table":        h.tables.Metrics,
		"runs_table":           h.tables.Runs,
	}
}
