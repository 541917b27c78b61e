package db

import (
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/lookout/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// migration is one NNN_name.sql file
type migration struct {
	version string
	file    string
}

// Migrate applies pending migrations in version order. Each file runs in
// its own transaction together with its schema_migrations row.
func Migrate(conn *sql.DB, logger *zap.SugaredLogger) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "open embedded migrations")
	}
	return migrateFS(conn, sub, logger)
}

func migrateFS(conn *sql.DB, fsys fs.FS, logger *zap.SugaredLogger) error {
	all, err := listMigrations(fsys)
	if err != nil {
		return err
	}
	done, err := appliedVersions(conn)
	if err != nil {
		return err
	}

	var pending []migration
	for _, m := range all {
		if !done[m.version] {
			pending = append(pending, m)
		}
	}

	for _, m := range pending {
		if logger != nil {
			logger.Infow("Applying migration", "migration", m.file, "version", m.version)
		}
		if err := m.apply(conn, fsys); err != nil {
			return err
		}
	}

	if logger != nil {
		logger.Debugw("Migrations complete", "total", len(all), "applied", len(pending))
	}
	return nil
}

// listMigrations returns the .sql files of fsys sorted by version
func listMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok || version == "" {
			return nil, errors.Newf("migration %s is not named NNN_description.sql", name)
		}
		out = append(out, migration{version: version, file: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })

	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, errors.Newf("migrations %s and %s share version %s", out[i-1].file, out[i].file, out[i].version)
		}
	}
	return out, nil
}

// appliedVersions reads schema_migrations in one query. A database without
// the table (nothing applied yet) yields an empty set.
func appliedVersions(conn *sql.DB) (map[string]bool, error) {
	var n int
	err := conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'").Scan(&n)
	if err != nil {
		return nil, MarkClosed(errors.Wrap(err, "look up schema_migrations"))
	}
	done := make(map[string]bool)
	if n == 0 {
		return done, nil
	}

	rows, err := conn.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, MarkClosed(errors.Wrap(err, "read schema_migrations"))
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		done[v] = true
	}
	return done, errors.Wrap(rows.Err(), "iterate schema_migrations")
}

func (m migration) apply(conn *sql.DB, fsys fs.FS) error {
	body, err := fs.ReadFile(fsys, m.file)
	if err != nil {
		return errors.Wrapf(err, "read %s", m.file)
	}

	tx, err := conn.Begin()
	if err != nil {
		return MarkClosed(errors.Wrapf(err, "begin tx for %s", m.file))
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "execute %s", m.file)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return errors.Wrapf(err, "record %s", m.file)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.file)
}
