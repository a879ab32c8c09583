// Package database opens the service's sqlite store and brings its schema
// up to date. The database is a cache of gateway truth (account rows with
// projected subscription state) plus local bookkeeping: sessions,
// notifications, push endpoints and processed webhook event ids.
package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// pragmas tunes sqlite for this service's write pattern: the webhook
// processor and the sync endpoint both write full account snapshots, so WAL
// keeps readers off the writer's back and the busy timeout absorbs the
// moments both paths land at once. Foreign keys guard the session and
// notification rows hanging off accounts.
const pragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

// Open opens the sqlite database at path, applies pending migrations and
// verifies the schema the service depends on is present.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if err := verifySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// verifySchema confirms the tables every request path touches exist before
// the server starts taking traffic. A migration set that drifted from the
// code fails the bootstrap here instead of the first webhook.
func verifySchema(db *sql.DB) error {
	for _, table := range []string{"accounts", "sessions", "processed_events"} {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("schema verification: table %q missing after migrations", table)
		}
		if err != nil {
			return fmt.Errorf("schema verification: %w", err)
		}
	}
	return nil
}
