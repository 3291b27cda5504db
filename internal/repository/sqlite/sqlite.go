// Package sqlite implements the repository interfaces on one SQLite
// database: the marketplace documents, the identity provider's accounts and
// the key-value table backing session stores.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs
// no C toolchain. Use ":memory:" for tests.
//
// WHY ONE DATABASE FOR EVERYTHING?
// Users, skills, categories and chats are documents keyed by id, and every
// query the managers make is a lookup by id, by owner or by chat pair. One
// SQLite file answers all of them with indexes, and the identity accounts
// and device sessions live next to them, so a single-node deployment has
// one file to back up. Session stores can move to Redis (see the session
// package) when several server processes share devices.
//
// WHY A BUS INSTEAD OF POLLING?
// SQLite has no change feed. Every write to a chat publishes a change event
// on the DB's realtime Bus after it commits; WatchChat and WatchUserChats
// subscribe to those events. Events carry no payload, so subscribers re-read
// the chat and always see committed state. Writes made by another process
// on the same file are not observed.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tinkapp/tink/internal/realtime"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
	bus  *realtime.Bus
}

// New opens the database at dbPath and runs migrations.
//
//   - "data/tink.db" → file-based database (persistent)
//   - ":memory:"     → in-memory database, lost on close
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Each connection to ":memory:" is a separate database, so the pool must
	// never open a second one.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn, bus: realtime.NewBus()}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Bus returns the bus chat changes are published on.
func (db *DB) Bus() *realtime.Bus {
	return db.bus
}

// migrate creates every table. CREATE ... IF NOT EXISTS makes it safe to run
// on each start; later columns go through addColumnIfNotExists.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			email             TEXT NOT NULL DEFAULT '',
			profile_image_url TEXT,
			locality          TEXT,
			province          TEXT,
			created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS categories (
			id        TEXT PRIMARY KEY,
			name      TEXT NOT NULL,
			is_manual INTEGER,
			image_url TEXT
		);
	`)
	if err != nil {
		return fmt.Errorf("creating categories table: %w", err)
	}

	// Skills embed a snapshot of their category and owner. There is no
	// foreign key to users: the snapshot is allowed to diverge until the
	// owner's profile change is fanned out.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS skills (
			id                     TEXT PRIMARY KEY,
			name                   TEXT NOT NULL,
			description            TEXT NOT NULL DEFAULT '',
			price                  TEXT NOT NULL DEFAULT '',
			is_online              INTEGER,
			category_id            TEXT NOT NULL DEFAULT '',
			category_name          TEXT NOT NULL DEFAULT '',
			category_is_manual     INTEGER,
			category_image_url     TEXT,
			user_id                TEXT NOT NULL,
			user_name              TEXT NOT NULL DEFAULT '',
			user_email             TEXT NOT NULL DEFAULT '',
			user_profile_image_url TEXT,
			user_locality          TEXT,
			user_province          TEXT,
			created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_skills_user_id ON skills(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating skills table: %w", err)
	}

	// user_a < user_b always; the UNIQUE pair is what makes chat creation
	// idempotent even when two devices race.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			user_a     TEXT NOT NULL,
			user_b     TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_a, user_b)
		);
		CREATE INDEX IF NOT EXISTS idx_chats_user_b ON chats(user_b);
	`)
	if err != nil {
		return fmt.Errorf("creating chats table: %w", err)
	}

	// ts is unix nanoseconds so ordering is numeric.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id        TEXT PRIMARY KEY,
			chat_id   TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			text      TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			ts        INTEGER NOT NULL,
			received  INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages(chat_id, ts);
	`)
	if err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}

	// email and subject are NULL when absent so UNIQUE ignores them.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			uid              TEXT PRIMARY KEY,
			email            TEXT UNIQUE,
			password_hash    TEXT NOT NULL DEFAULT '',
			provider         TEXT NOT NULL,
			subject          TEXT,
			display_name     TEXT NOT NULL DEFAULT '',
			photo_url        TEXT NOT NULL DEFAULT '',
			token_generation INTEGER NOT NULL DEFAULT 0,
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (provider, subject)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating accounts table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating kv table: %w", err)
	}

	if err := db.addColumnIfNotExists("categories", "sort_order", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding sort_order to categories: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent, so they are safe to run again.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

// Nullable column helpers.

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolPtr(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	b := nb.Bool
	return &b
}

// emptyToNull stores "" as NULL.
func emptyToNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
