// Package inventory owns the live, name-ordered item collection. The
// snapshot is only ever replaced by the watch goroutine re-reading the
// backing collection; writes go straight to the collection and show up
// once the watch observes them.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/erazemk/grocery/internal/model"
)

var (
	// ErrWrite is wrapped by every failed create, update or delete.
	ErrWrite = errors.New("write failed")
	// ErrMissingID is returned when updating an item that was never persisted.
	ErrMissingID = fmt.Errorf("%w: item has no id", ErrWrite)
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("inventory store closed")
)

// Collection is the backing document collection.
type Collection interface {
	Add(ctx context.Context, item model.Item) (string, error)
	Merge(ctx context.Context, item model.Item, clear []model.Field) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.Item, error)
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// ImageJanitor removes stored images that no item references anymore.
type ImageJanitor interface {
	Delete(ctx context.Context, url string) error
}

// Store is the single source of truth for the published item list.
type Store struct {
	coll    Collection
	janitor ImageJanitor

	mu     sync.RWMutex
	items  []model.Item
	subs   map[*Subscription]struct{}
	closed bool

	watchMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithImageJanitor deletes an item's image after the item itself is removed.
func WithImageJanitor(j ImageJanitor) Option {
	return func(s *Store) { s.janitor = j }
}

// New returns a store over coll. Call Start to begin watching.
func New(coll Collection, opts ...Option) *Store {
	s := &Store{
		coll:  coll,
		items: []model.Item{},
		subs:  make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start establishes the watch, replacing any previous one, and publishes
// the initial snapshot before returning.
func (s *Store) Start(ctx context.Context) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	s.stopLocked()

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	// Subscribe before the first read so no change between the two is lost.
	signals, err := s.coll.Watch(watchCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("watching items: %w", err)
	}
	items, err := s.coll.List(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("loading items: %w", err)
	}
	s.publish(items)

	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(watchCtx, signals, done)

	slog.Info("inventory watch started", "items", len(items))
	return nil
}

// Close tears the watch down and ends every subscription. Safe to call more
// than once.
func (s *Store) Close() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.stopLocked()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		close(sub.ch)
		delete(s.subs, sub)
	}
	subscribersGauge.Set(0)
	slog.Info("inventory store closed")
}

// stopLocked cancels the running watch and waits for it. Caller holds watchMu.
func (s *Store) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func (s *Store) run(ctx context.Context, signals <-chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				if ctx.Err() == nil {
					slog.Warn("item watch ended unexpectedly")
				}
				return
			}
			items, err := s.coll.List(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("failed to refresh items", "error", err)
				}
				continue
			}
			s.publish(items)
		}
	}
}

// publish replaces the snapshot and offers it to every subscriber.
func (s *Store) publish(items []model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.items = items
	for sub := range s.subs {
		offer(sub.ch, copyItems(items))
	}
	snapshotsTotal.Inc()
	snapshotItems.Set(float64(len(items)))
}

// offer replaces any undelivered snapshot with items. Only publish sends,
// under s.mu, so the second send cannot block.
func offer(ch chan []model.Item, items []model.Item) {
	select {
	case ch <- items:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- items
}

// Subscription delivers published snapshots. Undelivered snapshots are
// replaced by newer ones.
type Subscription struct {
	store *Store
	ch    chan []model.Item
}

// C returns the snapshot channel. It is closed by Cancel or Store.Close.
func (sub *Subscription) C() <-chan []model.Item {
	return sub.ch
}

// Cancel stops delivery and closes the channel.
func (sub *Subscription) Cancel() {
	s := sub.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.ch)
	subscribersGauge.Dec()
}

// Subscribe returns a subscription that immediately holds the current
// snapshot. On a closed store the channel is already closed.
func (s *Store) Subscribe() *Subscription {
	sub := &Subscription{store: s, ch: make(chan []model.Item, 1)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(sub.ch)
		return sub
	}
	s.subs[sub] = struct{}{}
	sub.ch <- copyItems(s.items)
	subscribersGauge.Inc()
	return sub
}

// Items returns a copy of the current snapshot.
func (s *Store) Items() []model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyItems(s.items)
}

// Search returns the snapshot items whose name contains query, ignoring
// case. An empty query matches everything.
func (s *Store) Search(query string) []model.Item {
	return Filter(s.Items(), query)
}

// Filter keeps the items whose name contains query, ignoring case.
func Filter(items []model.Item, query string) []model.Item {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return items
	}
	matched := []model.Item{}
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Name), query) {
			matched = append(matched, item)
		}
	}
	return matched
}

// Lookup returns the snapshot item with id.
func (s *Store) Lookup(id string) (model.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return model.Item{}, false
}

// Add writes item as a new record and reports whether the write succeeded.
// The assigned id becomes visible through the next snapshot.
func (s *Store) Add(ctx context.Context, item model.Item) bool {
	item.ID = ""
	id, err := s.coll.Add(ctx, item)
	if err != nil {
		writesTotal.WithLabelValues("add", outcomeError).Inc()
		slog.Error("failed to add item", "name", item.Name, "error", err)
		return false
	}
	writesTotal.WithLabelValues("add", outcomeOK).Inc()
	slog.Info("item added", "id", id, "name", item.Name)
	return true
}

// Update merges the present fields of item into the stored record and
// clears the fields named in clear. Items without an id are rejected
// without touching the collection.
func (s *Store) Update(ctx context.Context, item model.Item, clear ...model.Field) error {
	if !item.Persisted() {
		writesTotal.WithLabelValues("update", outcomeSkipped).Inc()
		return ErrMissingID
	}
	if err := s.coll.Merge(ctx, item, clear); err != nil {
		writesTotal.WithLabelValues("update", outcomeError).Inc()
		slog.Error("failed to update item", "id", item.ID, "error", err)
		return fmt.Errorf("%w: updating item %s: %w", ErrWrite, item.ID, err)
	}
	writesTotal.WithLabelValues("update", outcomeOK).Inc()
	slog.Info("item updated", "id", item.ID, "name", item.Name)
	return nil
}

// RemoveResult reports what Remove did with each item.
type RemoveResult struct {
	Removed []string
	Skipped int
	Failed  map[string]error
}

// Remove deletes every persisted item in items independently. Items without
// an id are skipped and one failure never stops the rest.
func (s *Store) Remove(ctx context.Context, items []model.Item) RemoveResult {
	result := RemoveResult{Removed: []string{}, Failed: map[string]error{}}
	for _, item := range items {
		if !item.Persisted() {
			result.Skipped++
			writesTotal.WithLabelValues("remove", outcomeSkipped).Inc()
			continue
		}
		if err := s.coll.Delete(ctx, item.ID); err != nil {
			result.Failed[item.ID] = fmt.Errorf("%w: deleting item %s: %w", ErrWrite, item.ID, err)
			writesTotal.WithLabelValues("remove", outcomeError).Inc()
			slog.Error("failed to remove item", "id", item.ID, "error", err)
			continue
		}
		result.Removed = append(result.Removed, item.ID)
		writesTotal.WithLabelValues("remove", outcomeOK).Inc()
		slog.Info("item removed", "id", item.ID, "name", item.Name)

		if s.janitor != nil && item.ImageURL != nil {
			if err := s.janitor.Delete(ctx, *item.ImageURL); err != nil {
				slog.Warn("failed to delete item image", "id", item.ID, "url", *item.ImageURL, "error", err)
			}
		}
	}
	return result
}

func copyItems(items []model.Item) []model.Item {
	out := make([]model.Item, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
