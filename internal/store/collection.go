package store

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/erazemk/grocery/internal/model"
	"github.com/erazemk/grocery/internal/notify"
)

// ItemsTopic is the change topic for the items collection.
const ItemsTopic = "groceryItems"

// Collection is the items document collection on SQLite. Every committed
// write publishes a change signal on the bus so watchers re-read.
type Collection struct {
	DB  *sql.DB
	Bus notify.Bus
}

// NewCollection returns a collection over db that signals changes on bus.
func NewCollection(db *sql.DB, bus notify.Bus) *Collection {
	return &Collection{DB: db, Bus: bus}
}

// Add inserts item as a new document.
func (c *Collection) Add(ctx context.Context, item model.Item) (string, error) {
	id, err := CreateItem(ctx, c.DB, item)
	if err != nil {
		return "", err
	}
	c.changed(ctx)
	return id, nil
}

// Merge applies a merge write to an existing document.
func (c *Collection) Merge(ctx context.Context, item model.Item, clear []model.Field) error {
	if err := MergeItem(ctx, c.DB, item, clear); err != nil {
		return err
	}
	c.changed(ctx)
	return nil
}

// Delete removes a document by id.
func (c *Collection) Delete(ctx context.Context, id string) error {
	if err := DeleteItem(ctx, c.DB, id); err != nil {
		return err
	}
	c.changed(ctx)
	return nil
}

// List returns every document ordered by name.
func (c *Collection) List(ctx context.Context) ([]model.Item, error) {
	return ListItems(ctx, c.DB)
}

// Watch returns a signal channel that fires after every write.
func (c *Collection) Watch(ctx context.Context) (<-chan struct{}, error) {
	return c.Bus.Subscribe(ctx, ItemsTopic)
}

// changed publishes a change signal. The write has already committed, so a
// failed publish is logged rather than reported as a failed write.
func (c *Collection) changed(ctx context.Context) {
	if err := c.Bus.Publish(ctx, ItemsTopic); err != nil {
		slog.Warn("failed to publish item change", "error", err)
	}
}
