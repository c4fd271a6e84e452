package tools

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

//go:embed migration/*
var migrationFiles embed.FS

// The recorder and the HTTP handlers share one file; wait on a locked
// database instead of failing with SQLITE_BUSY.
const sqliteBusyTimeoutMs = 5000

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// ConnectSqlite opens the results database and brings its schema up to date.
func ConnectSqlite(filePath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", filePath, sqliteBusyTimeoutMs)
	db, err := connectWithBackoff("sqlite3", dsn, 3, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite %s: %w", filePath, err)
	}

	if err := RunMigrations(db); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return db, nil
}

// RunMigrations applies the embedded migrations that are not yet recorded in
// schema_migrations, in file name order, each in its own transaction.
func RunMigrations(db *sql.DB) error {
	if _, err := db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}

	names, err := fs.Glob(migrationFiles, "migration/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		id := path.Base(name)
		if applied[id] {
			continue
		}
		script, err := fs.ReadFile(migrationFiles, name)
		if err != nil {
			return err
		}
		if err := applyMigration(db, id, string(script)); err != nil {
			return fmt.Errorf("migration %s: %w", id, err)
		}
		log.WithField("migration", id).Info("Applied migration")
	}
	return nil
}

func appliedMigrations(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT name FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func applyMigration(db *sql.DB, id, script string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(script); err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (name) VALUES (?)", id); err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	return tx.Commit()
}

// connectWithBackoff retries open and ping, waiting step longer after each failure.
func connectWithBackoff(driver string, dsn string, maxRetries int, step time.Duration) (*sql.DB, error) {
	var errs error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err := sql.Open(driver, dsn)
		if err == nil {
			if err = db.Ping(); err == nil {
				return db, nil
			}
			db.Close()
		}
		errs = multierr.Append(errs, err)
		log.WithError(err).WithField("attempt", attempt).Warn("Failed attempt to connect to " + driver)
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * step)
		}
	}
	return nil, errs
}
