package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationFS embed.FS

// Supported ledger drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Database couples an open handle with the SQL dialect it speaks.
type Database struct {
	DB     *sql.DB
	Driver string
}

// Open connects to the ledger database. SQLite is limited to one writer connection.
func Open(driver, dsn string) (*Database, error) {
	if dsn == "" {
		return nil, errors.New("ledger dsn is empty")
	}

	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return &Database{DB: db, Driver: driver}, nil
}

// Close releases the underlying handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

func (d *Database) builder() sq.StatementBuilderType {
	if d.Driver == DriverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// RunMigrations applies all pending migrations and returns the resulting version.
func RunMigrations(d *Database) (uint, bool, error) {
	var (
		driver database.Driver
		err    error
	)

	switch d.Driver {
	case DriverPostgres:
		driver, err = postgres.WithInstance(d.DB, &postgres.Config{})
	default:
		driver, err = sqlite.WithInstance(d.DB, &sqlite.Config{})
	}
	if err != nil {
		return 0, false, fmt.Errorf("create %s migrate driver: %w", d.Driver, err)
	}

	sub, err := fs.Sub(migrationFS, "migrations/"+d.Driver)
	if err != nil {
		return 0, false, fmt.Errorf("locate %s migrations: %w", d.Driver, err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return 0, false, fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, d.Driver, driver)
	if err != nil {
		return 0, false, fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("migration version: %w", err)
	}

	return version, dirty, nil
}
