package commands

import (
	"fmt"
	"os"

	"github.com/tinkapp/tink/internal/repository/sqlite"
)

// withDB opens the database, runs fn and closes it again.
func withDB(path string, fn func(db *sqlite.DB) error) error {
	db, err := sqlite.New(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}()
	return fn(db)
}
