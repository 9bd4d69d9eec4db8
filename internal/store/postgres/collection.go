// Package postgres implements the items collection on PostgreSQL. Writes
// notify a channel in the same transaction, and watchers LISTEN on it, so
// every process sharing the database sees every change.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erazemk/grocery/internal/model"
)

// Channel is the LISTEN/NOTIFY channel for item changes.
const Channel = "grocery_items"

const schema = `
CREATE TABLE IF NOT EXISTS grocery_items (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    quantity        INTEGER NOT NULL,
    expiration_date TIMESTAMPTZ,
    category        TEXT,
    image_url       TEXT,
    thumbnail_data  TEXT,
    description     TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_grocery_items_name ON grocery_items (name, id);
`

const columns = `id, name, quantity, expiration_date, category, image_url, thumbnail_data, description`

// reconnectDelay is how long a watcher waits before re-LISTENing after the
// listener connection drops.
const reconnectDelay = 2 * time.Second

// Collection is the items collection on a Postgres database.
type Collection struct {
	pool *pgxpool.Pool
	dsn  string
}

// Open connects to dsn and ensures the table exists.
func Open(ctx context.Context, dsn string) (*Collection, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating postgres schema: %w", err)
	}
	return &Collection{pool: pool, dsn: dsn}, nil
}

// Close releases the connection pool.
func (c *Collection) Close() {
	c.pool.Close()
}

// Add inserts item under a fresh id.
func (c *Collection) Add(ctx context.Context, item model.Item) (string, error) {
	id := uuid.NewString()
	err := c.write(ctx, id,
		`INSERT INTO grocery_items (`+columns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, item.Name, item.Quantity, item.ExpirationDate, item.Category,
		item.ImageURL, item.ThumbnailData, item.Description,
	)
	if err != nil {
		return "", fmt.Errorf("creating item: %w", err)
	}
	return id, nil
}

// Merge writes the present fields of item. Missing documents yield model.ErrNotFound.
func (c *Collection) Merge(ctx context.Context, item model.Item, clear []model.Field) error {
	query, args := mergeQuery(item, clear)
	if err := c.write(ctx, item.ID, query, args...); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// Delete removes a document by id.
func (c *Collection) Delete(ctx context.Context, id string) error {
	err := c.write(ctx, id, `DELETE FROM grocery_items WHERE id = $1`, id)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// List returns all documents ordered by name.
func (c *Collection) List(ctx context.Context) ([]model.Item, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+columns+` FROM grocery_items ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		var item model.Item
		var expiration *time.Time
		if err := rows.Scan(&item.ID, &item.Name, &item.Quantity, &expiration, &item.Category,
			&item.ImageURL, &item.ThumbnailData, &item.Description); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		if expiration != nil {
			t := expiration.UTC()
			item.ExpirationDate = &t
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Watch LISTENs on Channel over a dedicated connection until ctx is done.
// The first LISTEN must succeed; later connection loss is retried.
func (c *Collection) Watch(ctx context.Context) (<-chan struct{}, error) {
	conn, err := c.listen(ctx)
	if err != nil {
		return nil, err
	}
	return watch(ctx, conn, func(ctx context.Context) (listener, error) {
		conn, err := c.listen(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, reconnectDelay), nil
}

// listener is the part of a pgx connection a watcher uses.
type listener interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// watch signals out for every notification on conn. When conn fails it
// reconnects every delay and signals once, since writes may have landed
// while disconnected. out is closed when ctx is done.
func watch(ctx context.Context, conn listener, connect func(context.Context) (listener, error), delay time.Duration) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			err := waitLoop(ctx, conn, out)
			conn.Close(context.Background())
			if ctx.Err() != nil {
				return
			}
			slog.Warn("postgres listener lost, reconnecting", "error", err)

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				if conn, err = connect(ctx); err == nil {
					break
				}
				slog.Warn("postgres listener reconnect failed", "error", err)
			}
			notifyOnce(out)
		}
	}()
	return out
}

func (c *Collection) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("listening on %s: %w", Channel, err)
	}
	return conn, nil
}

func waitLoop(ctx context.Context, conn listener, out chan struct{}) error {
	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return err
		}
		notifyOnce(out)
	}
}

func notifyOnce(out chan struct{}) {
	select {
	case out <- struct{}{}:
	default:
	}
}

// write runs one statement and pg_notify in a transaction, so the
// notification is only delivered if the write commits.
func (c *Collection) write(ctx context.Context, id, query string, args ...any) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func mergeQuery(item model.Item, clear []model.Field) (string, []any) {
	args := []any{item.ID, item.Name, item.Quantity}
	sets := []string{"name = $2", "quantity = $3"}

	cleared := make(map[model.Field]bool, len(clear))
	for _, f := range clear {
		cleared[f] = true
	}

	add := func(field model.Field, column string, value any, present bool) {
		switch {
		case present:
			args = append(args, value)
			sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
		case cleared[field]:
			sets = append(sets, column+" = NULL")
		}
	}
	add(model.FieldExpirationDate, "expiration_date", item.ExpirationDate, item.ExpirationDate != nil)
	add(model.FieldCategory, "category", item.Category, item.Category != nil)
	add(model.FieldImageURL, "image_url", item.ImageURL, item.ImageURL != nil)
	add(model.FieldThumbnailData, "thumbnail_data", item.ThumbnailData, item.ThumbnailData != nil)
	add(model.FieldDescription, "description", item.Description, item.Description != nil)

	sets = append(sets, "updated_at = now()")
	return `UPDATE grocery_items SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`, args
}
