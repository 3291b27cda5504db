package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/xid"

	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/repository"
)

var _ repository.CategoryRepository = (*DB)(nil)

// ListCategories returns every category ordered by sort order, then name.
func (db *DB) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, is_manual, image_url, sort_order
		 FROM categories
		 ORDER BY sort_order, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing categories: %w", err)
	}
	defer rows.Close()

	categories := []model.Category{}
	for rows.Next() {
		var (
			c        model.Category
			isManual sql.NullBool
			image    sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &isManual, &image, &c.SortOrder); err != nil {
			return nil, fmt.Errorf("sqlite: scanning category: %w", err)
		}
		c.IsManual = boolPtr(isManual)
		c.ImageURL = stringPtr(image)
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating categories: %w", err)
	}
	return categories, nil
}

// UpsertCategory inserts c, or overwrites the category with the same id.
// An empty id gets a generated one.
func (db *DB) UpsertCategory(ctx context.Context, c *model.Category) error {
	if c.ID == "" {
		c.ID = xid.New().String()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO categories (id, name, is_manual, image_url, sort_order)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   is_manual = excluded.is_manual,
		   image_url = excluded.image_url,
		   sort_order = excluded.sort_order`,
		c.ID,
		c.Name,
		nullBool(c.IsManual),
		nullString(c.ImageURL),
		c.SortOrder,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting category %s: %w", c.ID, err)
	}
	return nil
}
