package db

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/SplitFi/go-threads/service/logger"
)

// RunMigration applies every pending up migration found in dir. The returned
// Migrate must be closed by the caller.
func RunMigration(client *sql.DB, dir string) (*migrate.Migrate, error) {
	d, err := postgres.WithInstance(client, &postgres.Config{})
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", abs), "postgres", d)
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return m, err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return m, err
	}
	logger.For(nil).Infof("database at migration version %d (dirty=%t)", version, dirty)
	return m, nil
}
