// Package database manages the MySQL connection used by the export sink.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
)

// connectAttempts bounds how often Connect dials before giving up.
const connectAttempts = 3

// Manager owns the export target connection pool.
type Manager struct {
	DB     *sql.DB
	config *config.DatabaseConfig
	log    *logger.Logger

	// initialInterval is the first backoff delay between connection attempts.
	initialInterval time.Duration
}

// NewManager creates a new database manager from configuration.
func NewManager(cfg *config.DatabaseConfig, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		config:          cfg,
		log:             log.WithComponent("database"),
		initialInterval: time.Second,
	}
}

// NewManagerWithDB wraps an already opened pool, typically a sqlmock.
func NewManagerWithDB(db *sql.DB, log *logger.Logger) *Manager {
	m := NewManager(&config.DatabaseConfig{}, log)
	m.DB = db
	return m
}

// Connect opens the pool and verifies it with a ping, retrying with
// exponential backoff.
func (m *Manager) Connect(ctx context.Context) error {
	db, err := m.connectWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to export database: %w", err)
	}
	m.DB = db
	return nil
}

func (m *Manager) connectWithRetry(ctx context.Context) (*sql.DB, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.initialInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	var db *sql.DB
	attempt := 0
	operation := func() error {
		attempt++
		conn, err := m.connect()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			m.log.Warnw("export database ping failed",
				"host", m.config.Host,
				"attempt", attempt,
				"error", err)
			return err
		}
		db = conn
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, connectAttempts-1), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed after %d attempts: %w", attempt, err)
	}

	m.log.Infow("connected to export database",
		"host", m.config.Host,
		"port", m.config.Port,
		"database", m.config.Database)
	return db, nil
}

// connect creates a database connection.
func (m *Manager) connect() (*sql.DB, error) {
	db, err := sql.Open("mysql", BuildDSN(m.config))
	if err != nil {
		return nil, err
	}

	if m.config.MaxConnections > 0 {
		db.SetMaxOpenConns(m.config.MaxConnections)
	}
	if m.config.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(m.config.MaxIdleConnections)
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	return db, nil
}

// BuildDSN constructs a MySQL DSN from configuration.
func BuildDSN(cfg *config.DatabaseConfig) string {
	// Format: user:password@tcp(host:port)/database?params
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
	)

	if cfg.Database != "" {
		dsn += cfg.Database
	}

	// utf8mb4 so licensee names round-trip unchanged
	params := "?parseTime=true&charset=utf8mb4"
	switch cfg.TLS {
	case "disable":
		params += "&tls=false"
	case "required":
		params += "&tls=true"
	case "preferred", "":
		params += "&tls=preferred"
	}

	return dsn + params
}

// Close closes the pool.
func (m *Manager) Close() error {
	if m.DB == nil {
		return nil
	}
	if err := m.DB.Close(); err != nil {
		return fmt.Errorf("export database close: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (m *Manager) Ping(ctx context.Context) error {
	if m.DB == nil {
		return fmt.Errorf("export database is not connected")
	}
	if err := m.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("export database ping failed: %w", err)
	}
	return nil
}
