package auth

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/migrate"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// DialectMigrations returns the migrations for one dialect directory
func DialectMigrations(name string) (fs.FS, error) {
	return fs.Sub(migrationsFS, "data/sql/migrations/"+name)
}

// OpenDB opens a bun database for driver and dsn
func OpenDB(driver, dsn string) (*bun.DB, error) {
	switch driver {
	case DriverSQLite, "":
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil

	case DriverPostgres:
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Migrate applies pending migrations for the dialect of db and returns the
// names of the migrations that ran.
func Migrate(ctx context.Context, db *bun.DB) ([]string, error) {
	migrator, err := newMigrator(db)
	if err != nil {
		return nil, err
	}

	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	applied := []string{}
	if group.IsZero() {
		return applied, nil
	}

	for _, m := range group.Migrations {
		applied = append(applied, m.Name)
	}
	return applied, nil
}

// Rollback reverts the last migration group
func Rollback(ctx context.Context, db *bun.DB) ([]string, error) {
	migrator, err := newMigrator(db)
	if err != nil {
		return nil, err
	}

	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}

	reverted := []string{}
	if group.IsZero() {
		return reverted, nil
	}

	for _, m := range group.Migrations {
		reverted = append(reverted, m.Name)
	}
	return reverted, nil
}

func newMigrator(db *bun.DB) (*migrate.Migrator, error) {
	var dir string
	switch db.Dialect().Name() {
	case dialect.SQLite:
		dir = DriverSQLite
	case dialect.PG:
		dir = DriverPostgres
	default:
		return nil, fmt.Errorf("no migrations for dialect %s", db.Dialect().Name())
	}

	sub, err := DialectMigrations(dir)
	if err != nil {
		return nil, err
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(sub); err != nil {
		return nil, fmt.Errorf("discover migrations: %w", err)
	}

	return migrate.NewMigrator(db, migrations), nil
}
