package sqlite

import (
	"path/filepath"
	"testing"
)

// newTestDB returns a fresh in-memory database closed at the end of the test.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tink.db")

	first, err := New(path)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	first.Close()

	second, err := New(path)
	if err != nil {
		t.Fatalf("second New() on existing file error = %v", err)
	}
	defer second.Close()

	for _, table := range []string{"users", "categories", "skills", "chats", "messages", "accounts", "kv"} {
		var n int
		err := second.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		if err != nil || n != 1 {
			t.Errorf("table %s missing (n=%d, err=%v)", table, n, err)
		}
	}
}

func TestAddColumnIfNotExists(t *testing.T) {
	db := newTestDB(t)

	if err := db.addColumnIfNotExists("users", "nickname", "TEXT"); err != nil {
		t.Fatalf("addColumnIfNotExists() error = %v", err)
	}
	if err := db.addColumnIfNotExists("users", "nickname", "TEXT"); err != nil {
		t.Fatalf("second addColumnIfNotExists() error = %v", err)
	}
}
