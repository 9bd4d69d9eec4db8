package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/grocery/internal/model"
)

const itemColumns = `id, name, quantity, expiration_date, category, image_url, thumbnail_data, description`

// CreateItem inserts a new item document and returns the id it was assigned.
// Any id already on item is ignored.
func CreateItem(ctx context.Context, db *sql.DB, item model.Item) (string, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, item.Name, item.Quantity, nullTime(item.ExpirationDate), nullString(item.Category),
		nullString(item.ImageURL), nullString(item.ThumbnailData), nullString(item.Description),
	)
	if err != nil {
		return "", fmt.Errorf("creating item: %w", err)
	}
	return id, nil
}

// ListItems returns all items ordered by name.
func ListItems(ctx context.Context, db *sql.DB) ([]model.Item, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// MergeItem writes the fields present on item to the stored document.
// Nil optional fields are left as stored unless named in clear.
// Returns model.ErrNotFound if no document has item.ID.
func MergeItem(ctx context.Context, db *sql.DB, item model.Item, clear []model.Field) error {
	query, args := mergeQuery(item, clear)
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteItem removes an item document. Deleting a missing id is not an error.
func DeleteItem(ctx context.Context, db *sql.DB, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// mergeQuery builds the UPDATE for MergeItem.
func mergeQuery(item model.Item, clear []model.Field) (string, []any) {
	sets := []string{"name = ?", "quantity = ?"}
	args := []any{item.Name, item.Quantity}

	cleared := make(map[model.Field]bool, len(clear))
	for _, f := range clear {
		cleared[f] = true
	}

	optional := []struct {
		field  model.Field
		column string
		value  any
		set    bool
	}{
		{model.FieldExpirationDate, "expiration_date", nullTime(item.ExpirationDate), item.ExpirationDate != nil},
		{model.FieldCategory, "category", nullString(item.Category), item.Category != nil},
		{model.FieldImageURL, "image_url", nullString(item.ImageURL), item.ImageURL != nil},
		{model.FieldThumbnailData, "thumbnail_data", nullString(item.ThumbnailData), item.ThumbnailData != nil},
		{model.FieldDescription, "description", nullString(item.Description), item.Description != nil},
	}
	for _, o := range optional {
		switch {
		case o.set:
			sets = append(sets, o.column+" = ?")
			args = append(args, o.value)
		case cleared[o.field]:
			sets = append(sets, o.column+" = NULL")
		}
	}

	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, item.ID)
	return `UPDATE items SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	var item model.Item
	var expiration sql.NullTime
	var category, imageURL, thumbnail, description sql.NullString
	if err := row.Scan(&item.ID, &item.Name, &item.Quantity, &expiration, &category, &imageURL, &thumbnail, &description); err != nil {
		return nil, err
	}
	if expiration.Valid {
		t := expiration.Time.UTC()
		item.ExpirationDate = &t
	}
	item.Category = stringPtr(category)
	item.ImageURL = stringPtr(imageURL)
	item.ThumbnailData = stringPtr(thumbnail)
	item.Description = stringPtr(description)
	return &item, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
