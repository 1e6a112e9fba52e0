// config/postgres.go
package config

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ConnectPostgres opens the pool and applies pending migrations.
func ConnectPostgres(ctx context.Context, dsn string, log *zap.Logger) (*sqlx.DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(connectCtx, "postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres connect")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	log.Info("connected to PostgreSQL")

	version, err := Migrate(db.DB)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info("schema migrated", zap.Uint("version", version))
	return db, nil
}

// Migrate applies the embedded migrations and returns the schema version.
func Migrate(db *sql.DB) (uint, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return 0, errors.Wrap(err, "open migrations")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return 0, errors.Wrap(err, "migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return 0, errors.Wrap(err, "init migrations")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, errors.Wrap(err, "apply migrations")
	}
	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, errors.Wrap(err, "read schema version")
	}
	return version, nil
}
