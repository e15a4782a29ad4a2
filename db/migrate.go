package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/sym"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded schema file, identified by its numeric prefix.
type migration struct {
	version  string
	filename string
}

// listMigrations returns embedded migrations in apply order.
func listMigrations() ([]migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		out = append(out, migration{
			version:  strings.SplitN(entry.Name(), "_", 2)[0],
			filename: entry.Name(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].filename < out[j].filename })
	return out, nil
}

// Migrate runs all pending migrations.
// If logger is provided, logs migration progress; otherwise operates silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	all, err := listMigrations()
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range all {
		done, err := isApplied(db, m.version)
		if err != nil {
			return err
		}
		if done {
			if logger != nil {
				logger.Debugw("Skipping migration (already applied)", "migration", m.filename)
			}
			continue
		}

		if logger != nil {
			logger.Infow("Applying migration", "migration", m.filename, "version", m.version)
		}
		if err := apply(db, m); err != nil {
			return err
		}
		applied++
	}

	if logger != nil {
		logger.Infow("Migrations complete",
			"symbol", sym.DB,
			"applied", applied,
			"total_migrations", len(all),
		)
	}
	return nil
}

// isApplied reports whether version is recorded. Before 000 has run the
// table is absent, which only migration 000 may tolerate.
func isApplied(db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
	if err != nil {
		if version != "000" {
			return false, errors.Wrapf(err, "schema_migrations unavailable for migration %s", version)
		}
		return false, nil
	}
	return exists, nil
}

func apply(db *sql.DB, m migration) error {
	sqlBytes, err := migrations.ReadFile(path.Join(migrationsDir, m.filename))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.filename)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.filename)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(sqlBytes)); err != nil {
		return errors.Wrapf(err, "execute %s", m.filename)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return errors.Wrapf(err, "record %s", m.filename)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.filename)
}

// SchemaVersion returns the highest applied migration version, or "" on a fresh database.
func SchemaVersion(db *sql.DB) (string, error) {
	var version sql.NullString
	if err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return "", errors.Wrap(err, "read schema version")
	}
	return version.String, nil
}
