// Package memory implements the items collection in process memory.
// Used by tests and by the server's "memory" backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/erazemk/grocery/internal/model"
	"github.com/erazemk/grocery/internal/notify"
)

const topic = "groceryItems"

// Collection stores item documents in a map keyed by id.
type Collection struct {
	mu   sync.RWMutex
	docs map[string]model.Item
	bus  *notify.Local

	failMu     sync.RWMutex
	failWrites error
}

// New returns an empty collection.
func New() *Collection {
	return &Collection{
		docs: make(map[string]model.Item),
		bus:  notify.NewLocal(),
	}
}

// FailWrites makes subsequent writes fail with err; nil restores normal behaviour.
func (c *Collection) FailWrites(err error) {
	c.failMu.Lock()
	c.failWrites = err
	c.failMu.Unlock()
}

func (c *Collection) writeErr() error {
	c.failMu.RLock()
	defer c.failMu.RUnlock()
	return c.failWrites
}

// Add stores a copy of item under a fresh id.
func (c *Collection) Add(ctx context.Context, item model.Item) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("add item: %w", err)
	}
	if err := c.writeErr(); err != nil {
		return "", fmt.Errorf("add item: %w", err)
	}

	item = item.Clone()
	item.ID = uuid.NewString()

	c.mu.Lock()
	c.docs[item.ID] = item
	c.mu.Unlock()

	c.bus.Publish(ctx, topic)
	return item.ID, nil
}

// Merge applies present fields of item to the stored document.
func (c *Collection) Merge(ctx context.Context, item model.Item, clear []model.Field) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("merge item: %w", err)
	}
	if err := c.writeErr(); err != nil {
		return fmt.Errorf("merge item: %w", err)
	}

	c.mu.Lock()
	existing, ok := c.docs[item.ID]
	if !ok {
		c.mu.Unlock()
		return model.ErrNotFound
	}
	c.docs[item.ID] = merge(existing, item.Clone(), clear)
	c.mu.Unlock()

	c.bus.Publish(ctx, topic)
	return nil
}

// Delete removes a document. Missing ids are not an error.
func (c *Collection) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if err := c.writeErr(); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	c.mu.Lock()
	delete(c.docs, id)
	c.mu.Unlock()

	c.bus.Publish(ctx, topic)
	return nil
}

// List returns copies of all documents ordered by name, then id.
func (c *Collection) List(ctx context.Context) ([]model.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	c.mu.RLock()
	items := make([]model.Item, 0, len(c.docs))
	for _, doc := range c.docs {
		items = append(items, doc.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// Watch signals after every write until ctx is done.
func (c *Collection) Watch(ctx context.Context) (<-chan struct{}, error) {
	return c.bus.Subscribe(ctx, topic)
}

// Watchers returns the number of open watches.
func (c *Collection) Watchers() int {
	return c.bus.Subscribers(topic)
}

func merge(dst, src model.Item, clear []model.Field) model.Item {
	dst.Name = src.Name
	dst.Quantity = src.Quantity

	for _, f := range clear {
		switch f {
		case model.FieldExpirationDate:
			dst.ExpirationDate = nil
		case model.FieldCategory:
			dst.Category = nil
		case model.FieldImageURL:
			dst.ImageURL = nil
		case model.FieldThumbnailData:
			dst.ThumbnailData = nil
		case model.FieldDescription:
			dst.Description = nil
		}
	}

	if src.ExpirationDate != nil {
		dst.ExpirationDate = src.ExpirationDate
	}
	if src.Category != nil {
		dst.Category = src.Category
	}
	if src.ImageURL != nil {
		dst.ImageURL = src.ImageURL
	}
	if src.ThumbnailData != nil {
		dst.ThumbnailData = src.ThumbnailData
	}
	if src.Description != nil {
		dst.Description = src.Description
	}
	return dst
}
