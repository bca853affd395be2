// Package migrations embeds the schema and applies it to a database
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var postgresFiles embed.FS

//go:embed sqlite/*.sql
var sqliteFiles embed.FS

// Files returns the ordered migration file names and their filesystem for a dialect
func Files(dialect string) (fs.FS, []string, error) {
	var fsys fs.FS
	switch dialect {
	case "postgres":
		fsys = postgresFiles
	case "sqlite":
		sub, err := fs.Sub(sqliteFiles, "sqlite")
		if err != nil {
			return nil, nil, err
		}
		fsys = sub
	default:
		return nil, nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}

	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(names)
	return fsys, names, nil
}

// Apply runs every migration not yet recorded in schema_migrations, in file order.
// It returns the names of the files it applied.
func Apply(ctx context.Context, db *sql.DB, dialect string) ([]string, error) {
	fsys, names, err := Files(dialect)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(255) PRIMARY KEY)`); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, err
		}
		applied[v] = true
	}
	rows.Close()

	insert := `INSERT INTO schema_migrations (version) VALUES ($1)`
	if dialect == "sqlite" {
		insert = `INSERT INTO schema_migrations (version) VALUES (?)`
	}

	var done []string
	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		if applied[version] {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return done, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return done, err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return done, fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, insert, version); err != nil {
			tx.Rollback()
			return done, fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return done, err
		}
		done = append(done, name)
	}
	return done, nil
}
