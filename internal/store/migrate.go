package store

import (
	"embed"
	"errors"
	"io/fs"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations
var migrationFS embed.FS

// migrateLogger routes golang-migrate output through zap.
type migrateLogger struct {
	log *zap.SugaredLogger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Infof(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool { return false }

func migrationSource(dialect string) (source.Driver, error) {
	sub, err := fs.Sub(migrationFS, "migrations/"+dialect)
	if err != nil {
		return nil, eris.Wrapf(err, "store: migrations for %s", dialect)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, eris.Wrapf(err, "store: open %s migrations", dialect)
	}
	return src, nil
}

// runMigrations applies every pending up migration. No pending migration
// is not an error.
func runMigrations(m *migrate.Migrate) error {
	m.Log = migrateLogger{log: zap.S().With("component", "migrate")}

	before, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return eris.Wrap(err, "store: read schema version")
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			zap.L().Debug("store: schema up to date", zap.Uint("version", before))
			return nil
		}
		version, dirty, _ := m.Version()
		return eris.Wrapf(err, "store: migrate (version %d, dirty %t)", version, dirty)
	}

	after, _, _ := m.Version()
	zap.L().Info("store: migrations applied", zap.Uint("from", before), zap.Uint("to", after))
	return nil
}

// migratePostgres applies the Postgres migrations to the database at
// databaseURL.
func migratePostgres(databaseURL string) error {
	src, err := migrationSource("postgres")
	if err != nil {
		return err
	}
	target, err := pgx5URL(databaseURL)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return eris.Wrap(err, "store: init postgres migrations")
	}
	defer m.Close() //nolint:errcheck

	return runMigrations(m)
}

// migrateWithDriver applies the dialect's migrations through an open
// driver. The migrate instance is not closed because that would close the
// caller's database handle.
func migrateWithDriver(dialect string, drv database.Driver) error {
	src, err := migrationSource(dialect)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, dialect, drv)
	if err != nil {
		return eris.Wrapf(err, "store: init %s migrations", dialect)
	}
	return runMigrations(m)
}

// pgx5URL rewrites a postgres:// URL for the pgx5 migrate driver.
func pgx5URL(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", eris.Wrap(err, "store: parse database url")
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
	default:
		return "", eris.Errorf("store: migrations need a postgres:// url, got scheme %q", u.Scheme)
	}
	u.Scheme = "pgx5"
	return u.String(), nil
}
