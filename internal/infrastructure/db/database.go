package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/avatarctic/ratelimit-planes/configs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Database struct {
	DB     *sqlx.DB
	Driver string
}

// driverName maps a configured driver onto its database/sql name.
func driverName(driver string) (string, error) {
	switch driver {
	case configs.DriverPostgres:
		return "postgres", nil
	case configs.DriverSQLite, "":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewSQLiteDatabase opens a SQLite file with the pool settings SQLite tolerates.
func NewSQLiteDatabase(path string) (*Database, error) {
	return NewDatabaseWithConfig(&configs.DatabaseConfig{
		Driver:          configs.DriverSQLite,
		DSN:             path,
		ConnMaxLifetime: 30 * time.Minute,
	})
}

// NewDatabaseWithConfig opens a DB using the provided DatabaseConfig and applies pool settings.
func NewDatabaseWithConfig(cfg *configs.DatabaseConfig) (*Database, error) {
	name, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := cfg.DSN
	if name == "sqlite" {
		// concurrent writers wait instead of failing with SQLITE_BUSY
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DSN)
	}

	dbx, err := sqlx.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if name == "sqlite" {
		// a single writer connection keeps SQLite transactions serialised
		dbx.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		dbx.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		dbx.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		dbx.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		dbx.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	// Use PingContext with timeout to avoid hanging at startup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(ctx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{DB: dbx, Driver: name}, nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// Ping implements a liveness check for health checks.
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Migrate applies the embedded schema migrations.
func (d *Database) Migrate() error {
	var (
		driver database.Driver
		err    error
	)
	switch d.Driver {
	case "postgres":
		driver, err = postgres.WithInstance(d.DB.DB, &postgres.Config{})
	default:
		driver, err = sqlite.WithInstance(d.DB.DB, &sqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, d.Driver, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
