// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-seedvault.
//
// go-seedvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package storage persists users, credentials, salts, seeds, wrapped keys
// and ceremony challenges in a relational database.
//
// The same SQL runs on SQLite (modernc.org/sqlite, embedded and tests) and
// PostgreSQL (pgx). Every vault operation runs inside exactly one
// transaction obtained from Store.InTx.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jeremyhahn/go-seedvault/pkg/storage/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// driverName returns the database/sql driver registered for the dialect.
func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectSQLite:
		return "sqlite", nil
	case DialectPostgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, string(d))
	}
}

func (d Dialect) gooseDialect() goose.Dialect {
	if d == DialectPostgres {
		return goose.DialectPostgres
	}
	return goose.DialectSQLite3
}

// Config contains database settings.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver" mapstructure:"driver"`

	// DSN is a file path or URI for sqlite, a connection string for postgres.
	DSN string `yaml:"dsn" json:"dsn" mapstructure:"dsn"`

	// MaxOpenConns limits the postgres pool. SQLite always uses one connection.
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns" mapstructure:"max_open_conns"`

	// AutoMigrate applies pending migrations on Open.
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" mapstructure:"auto_migrate"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Driver == "" {
		c.Driver = string(DialectSQLite)
	}
	if c.DSN == "" && c.Driver == string(DialectSQLite) {
		c.DSN = "seedvault.db"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := Dialect(c.Driver).driverName(); err != nil {
		return err
	}
	if c.DSN == "" {
		return fmt.Errorf("storage: dsn is required")
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("storage: max_open_conns must be non-negative")
	}
	return nil
}

// Store owns the database handle.
type Store struct {
	db      *sql.DB
	dialect Dialect
	closed  atomic.Bool
}

// New wraps an already opened database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open opens the configured database and, when AutoMigrate is set, applies
// pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialect := Dialect(cfg.Driver)
	driver, _ := dialect.driverName()

	dsn := cfg.DSN
	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// A single connection serializes writers and keeps shared
		// in-memory databases alive.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	s := New(db, dialect)
	if cfg.AutoMigrate {
		if _, err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// OpenInMemory opens a migrated, named, shared in-memory SQLite database.
func OpenInMemory(ctx context.Context, name string) (*Store, error) {
	return Open(ctx, Config{
		Driver:      string(DialectSQLite),
		DSN:         "file:" + url.PathEscape(name) + "?mode=memory&cache=shared",
		AutoMigrate: true,
	})
}

// sqliteDSN adds the pragmas every connection needs.
func sqliteDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "foreign_keys") {
		dsn += sep + "_pragma=foreign_keys(ON)"
		sep = "&"
	}
	if !strings.Contains(dsn, "busy_timeout") {
		dsn += sep + "_pragma=busy_timeout(5000)"
	}
	return dsn
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Repositories returns repositories bound to the database handle, outside
// any transaction.
func (s *Store) Repositories() *Repositories {
	return NewRepositories(s.db)
}

// InTx runs fn with repositories bound to one transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r *Repositories) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		return fn(ctx, NewRepositories(tx))
	})
}

func (s *Store) provider() (*goose.Provider, error) {
	fsys, err := migrations.FS(string(s.dialect))
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return goose.NewProvider(s.dialect.gooseDialect(), s.db, fsys)
}

// Migrate applies all pending migrations.
func (s *Store) Migrate(ctx context.Context) ([]*goose.MigrationResult, error) {
	p, err := s.provider()
	if err != nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return results, fmt.Errorf("run migrations: %w", err)
	}
	return results, nil
}

// MigrationStatus reports every known migration and whether it is applied.
func (s *Store) MigrationStatus(ctx context.Context) ([]*goose.MigrationStatus, error) {
	p, err := s.provider()
	if err != nil {
		return nil, err
	}
	return p.Status(ctx)
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
