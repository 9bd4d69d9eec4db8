package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erazemk/grocery/internal/model"
	"github.com/erazemk/grocery/internal/store/memory"
)

const settle = 2 * time.Second

// countingCollection records calls made to the wrapped collection.
type countingCollection struct {
	*memory.Collection
	mu      sync.Mutex
	merges  int
	deletes []string
	failIDs map[string]bool
}

func (c *countingCollection) Merge(ctx context.Context, item model.Item, clear []model.Field) error {
	c.mu.Lock()
	c.merges++
	c.mu.Unlock()
	return c.Collection.Merge(ctx, item, clear)
}

func (c *countingCollection) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	c.deletes = append(c.deletes, id)
	fail := c.failIDs[id]
	c.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return c.Collection.Delete(ctx, id)
}

type recordingJanitor struct {
	mu   sync.Mutex
	urls []string
}

func (j *recordingJanitor) Delete(_ context.Context, url string) error {
	j.mu.Lock()
	j.urls = append(j.urls, url)
	j.mu.Unlock()
	return nil
}

func newStarted(t *testing.T, coll Collection, opts ...Option) *Store {
	t.Helper()
	s := New(coll, opts...)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// waitFor reads snapshots until one satisfies ok.
func waitFor(t *testing.T, sub *Subscription, ok func([]model.Item) bool) []model.Item {
	t.Helper()
	deadline := time.After(settle)
	for {
		select {
		case items, open := <-sub.C():
			if !open {
				t.Fatal("subscription closed while waiting")
			}
			if ok(items) {
				return items
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
			return nil
		}
	}
}

func names(items []model.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Name
	}
	return out
}

func TestAddPublishesAssignedItem(t *testing.T) {
	s := newStarted(t, memory.New())
	sub := s.Subscribe()
	defer sub.Cancel()

	if !s.Add(context.Background(), model.Item{Name: "Milk", Quantity: 1, Category: model.StringPtr("Dairy")}) {
		t.Fatal("Add returned false")
	}

	items := waitFor(t, sub, func(items []model.Item) bool { return len(items) == 1 })
	got := items[0]
	if got.ID == "" {
		t.Error("expected assigned id")
	}
	if got.Name != "Milk" || got.Quantity != 1 || got.CategoryName() != "Dairy" {
		t.Errorf("unexpected item: %+v", got)
	}
}

func TestAddDoesNotTouchSnapshotDirectly(t *testing.T) {
	coll := memory.New()
	s := newStarted(t, coll)

	// Stop the watch so only a subscription-driven refresh could update the snapshot.
	s.watchMu.Lock()
	s.stopLocked()
	s.watchMu.Unlock()

	if !s.Add(context.Background(), model.Item{Name: "Milk", Quantity: 1}) {
		t.Fatal("Add returned false")
	}
	if n := len(s.Items()); n != 0 {
		t.Errorf("expected snapshot untouched by Add, got %d items", n)
	}
}

func TestAddFailureReturnsFalse(t *testing.T) {
	coll := memory.New()
	coll.FailWrites(errors.New("offline"))
	s := newStarted(t, coll)

	if s.Add(context.Background(), model.Item{Name: "Milk", Quantity: 1}) {
		t.Error("expected Add to fail")
	}
}

func TestUpdateQuantity(t *testing.T) {
	s := newStarted(t, memory.New())
	sub := s.Subscribe()
	defer sub.Cancel()
	ctx := context.Background()

	s.Add(ctx, model.Item{Name: "Bread", Quantity: 1})
	items := waitFor(t, sub, func(items []model.Item) bool { return len(items) == 1 })

	bread := items[0]
	bread.Quantity = 2
	if err := s.Update(ctx, bread); err != nil {
		t.Fatalf("Update: %v", err)
	}

	items = waitFor(t, sub, func(items []model.Item) bool {
		return len(items) == 1 && items[0].Quantity == 2
	})
	if items[0].Name != "Bread" || items[0].ID != bread.ID {
		t.Errorf("unexpected item after update: %+v", items[0])
	}
}

func TestUpdateWithoutIDMakesNoRemoteCall(t *testing.T) {
	coll := &countingCollection{Collection: memory.New()}
	s := newStarted(t, coll)

	err := s.Update(context.Background(), model.Item{Name: "Ghost", Quantity: 1})
	if !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
	if !errors.Is(err, ErrWrite) {
		t.Errorf("expected ErrMissingID to be a write error")
	}
	if coll.merges != 0 {
		t.Errorf("expected no merge calls, got %d", coll.merges)
	}
}

func TestUpdateMissingDocumentIsWriteError(t *testing.T) {
	s := newStarted(t, memory.New())

	err := s.Update(context.Background(), model.Item{ID: "gone", Name: "Ghost", Quantity: 1})
	if !errors.Is(err, ErrWrite) || !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected wrapped ErrWrite and ErrNotFound, got %v", err)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	s := newStarted(t, memory.New())
	sub := s.Subscribe()
	defer sub.Cancel()
	ctx := context.Background()

	s.Add(ctx, model.Item{Name: "Butter", Quantity: 1})
	item := waitFor(t, sub, func(items []model.Item) bool { return len(items) == 1 })[0]

	item.Quantity = 4
	item.Description = model.StringPtr("salted")
	if err := s.Update(ctx, item); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	once := waitFor(t, sub, func(items []model.Item) bool { return items[0].Quantity == 4 })

	if err := s.Update(ctx, item); err != nil {
		t.Fatalf("second Update: %v", err)
	}
	// A later write shows up only after the second update was observed.
	s.Add(ctx, model.Item{Name: "Zucchini", Quantity: 1})
	twice := waitFor(t, sub, func(items []model.Item) bool { return len(items) == 2 })

	if *twice[0].Description != *once[0].Description || twice[0].Quantity != once[0].Quantity {
		t.Errorf("second update changed state: %+v vs %+v", twice[0], once[0])
	}
}

func TestRemoveMixedBatch(t *testing.T) {
	coll := &countingCollection{Collection: memory.New()}
	s := newStarted(t, coll)
	sub := s.Subscribe()
	defer sub.Cancel()
	ctx := context.Background()

	s.Add(ctx, model.Item{Name: "Eggs", Quantity: 12})
	s.Add(ctx, model.Item{Name: "Cheese", Quantity: 1})
	items := waitFor(t, sub, func(items []model.Item) bool { return len(items) == 2 })

	var eggs model.Item
	for _, item := range items {
		if item.Name == "Eggs" {
			eggs = item
		}
	}

	result := s.Remove(ctx, []model.Item{eggs, {Name: "Unsaved", Quantity: 1}})
	if len(result.Removed) != 1 || result.Removed[0] != eggs.ID {
		t.Errorf("expected only eggs removed, got %v", result.Removed)
	}
	if result.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", result.Skipped)
	}
	if len(coll.deletes) != 1 {
		t.Errorf("expected 1 delete call, got %v", coll.deletes)
	}

	items = waitFor(t, sub, func(items []model.Item) bool { return len(items) == 1 })
	if items[0].Name != "Cheese" || items[0].Quantity != 1 {
		t.Errorf("expected Cheese to remain, got %+v", items[0])
	}
}

func TestRemoveContinuesPastFailures(t *testing.T) {
	coll := &countingCollection{Collection: memory.New(), failIDs: map[string]bool{}}
	janitor := &recordingJanitor{}
	s := newStarted(t, coll, WithImageJanitor(janitor))
	sub := s.Subscribe()
	defer sub.Cancel()
	ctx := context.Background()

	s.Add(ctx, model.Item{Name: "Apples", Quantity: 3, ImageURL: model.StringPtr("http://x/images/itemImages/a.jpg")})
	s.Add(ctx, model.Item{Name: "Pears", Quantity: 2, ImageURL: model.StringPtr("http://x/images/itemImages/p.jpg")})
	items := waitFor(t, sub, func(items []model.Item) bool { return len(items) == 2 })
	coll.failIDs[items[0].ID] = true

	result := s.Remove(ctx, items)
	if len(result.Failed) != 1 || result.Failed[items[0].ID] == nil {
		t.Errorf("expected apples to fail, got %v", result.Failed)
	}
	if !errors.Is(result.Failed[items[0].ID], ErrWrite) {
		t.Errorf("expected failure to wrap ErrWrite")
	}
	if len(result.Removed) != 1 || result.Removed[0] != items[1].ID {
		t.Errorf("expected pears removed, got %v", result.Removed)
	}
	if len(janitor.urls) != 1 || janitor.urls[0] != "http://x/images/itemImages/p.jpg" {
		t.Errorf("expected only the removed item's image deleted, got %v", janitor.urls)
	}
}

func TestRoundTripAllFields(t *testing.T) {
	s := newStarted(t, memory.New())
	sub := s.Subscribe()
	defer sub.Cancel()

	expires := time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC)
	want := model.Item{
		Name:           "Salmon",
		Quantity:       2,
		ExpirationDate: &expires,
		Category:       model.StringPtr("Meat & Seafood"),
		ImageURL:       model.StringPtr("http://x/images/itemImages/s.jpg"),
		ThumbnailData:  model.StringPtr("/9j/4AAQ"),
		Description:    model.StringPtr("wild\nfrozen"),
	}
	s.Add(context.Background(), want)

	got := waitFor(t, sub, func(items []model.Item) bool { return len(items) == 1 })[0]
	if got.ID == "" {
		t.Fatal("expected assigned id")
	}
	if got.Name != want.Name || got.Quantity != want.Quantity ||
		!got.ExpirationDate.Equal(*want.ExpirationDate) ||
		*got.Category != *want.Category || *got.ImageURL != *want.ImageURL ||
		*got.ThumbnailData != *want.ThumbnailData || *got.Description != *want.Description {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestSnapshotOrderedByName(t *testing.T) {
	coll := memory.New()
	s := newStarted(t, coll)
	sub := s.Subscribe()
	defer sub.Cancel()
	ctx := context.Background()

	for _, name := range []string{"Yogurt", "Apples", "Milk", "Bread"} {
		s.Add(ctx, model.Item{Name: name, Quantity: 1})
	}
	items := waitFor(t, sub, func(items []model.Item) bool { return len(items) == 4 })

	want := []string{"Apples", "Bread", "Milk", "Yogurt"}
	got := names(items)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestExternalWritesArePublished(t *testing.T) {
	coll := memory.New()
	s := newStarted(t, coll)
	sub := s.Subscribe()
	defer sub.Cancel()

	// Another writer on the same collection.
	if _, err := coll.Add(context.Background(), model.Item{Name: "Tea", Quantity: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitFor(t, sub, func(items []model.Item) bool { return len(items) == 1 && items[0].Name == "Tea" })
}

func TestSubscribeDeliversCurrentSnapshot(t *testing.T) {
	coll := memory.New()
	coll.Add(context.Background(), model.Item{Name: "Rice", Quantity: 1})
	s := newStarted(t, coll)

	sub := s.Subscribe()
	defer sub.Cancel()
	select {
	case items := <-sub.C():
		if len(items) != 1 || items[0].Name != "Rice" {
			t.Errorf("unexpected initial snapshot: %v", names(items))
		}
	default:
		t.Fatal("expected snapshot to be ready immediately")
	}
}

func TestSearch(t *testing.T) {
	coll := memory.New()
	ctx := context.Background()
	for _, name := range []string{"Whole Milk", "Oat milk", "Bread"} {
		coll.Add(ctx, model.Item{Name: name, Quantity: 1})
	}
	s := newStarted(t, coll)

	got := names(s.Search("MILK"))
	if len(got) != 2 || got[0] != "Oat milk" || got[1] != "Whole Milk" {
		t.Errorf("unexpected search result: %v", got)
	}
	if n := len(s.Search("  ")); n != 3 {
		t.Errorf("expected blank query to match all, got %d", n)
	}
	if n := len(s.Search("cheese")); n != 0 {
		t.Errorf("expected no matches, got %d", n)
	}
}

func TestLookup(t *testing.T) {
	coll := memory.New()
	id, _ := coll.Add(context.Background(), model.Item{Name: "Rice", Quantity: 1})
	s := newStarted(t, coll)

	if item, ok := s.Lookup(id); !ok || item.Name != "Rice" {
		t.Errorf("Lookup(%s) = %+v, %v", id, item, ok)
	}
	if _, ok := s.Lookup("missing"); ok {
		t.Error("expected missing id to be absent")
	}
}

func waitWatchers(t *testing.T, coll *memory.Collection, want int) {
	t.Helper()
	deadline := time.Now().Add(settle)
	for coll.Watchers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d watchers, have %d", want, coll.Watchers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRestartKeepsSingleWatch(t *testing.T) {
	coll := memory.New()
	s := New(coll)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Start(ctx); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
	}
	waitWatchers(t, coll, 1)

	s.Close()
	waitWatchers(t, coll, 0)
}

func TestCloseIsIdempotentAndEndsSubscriptions(t *testing.T) {
	coll := memory.New()
	s := New(coll)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := s.Subscribe()
	<-sub.C()

	s.Close()
	s.Close()
	sub.Cancel()

	if _, open := <-sub.C(); open {
		t.Error("expected subscription channel closed")
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, open := <-s.Subscribe().C(); open {
		t.Error("expected subscription on closed store to be closed")
	}
}

func TestStartFailsWhenListFails(t *testing.T) {
	coll := &failingList{Collection: memory.New()}
	s := New(coll)
	defer s.Close()

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	waitWatchers(t, coll.Collection, 0)
}

type failingList struct {
	*memory.Collection
}

func (f *failingList) List(context.Context) ([]model.Item, error) {
	return nil, errors.New("unavailable")
}

func TestSnapshotsDoNotShareOptionals(t *testing.T) {
	coll := memory.New()
	expires := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	coll.Add(context.Background(), model.Item{
		Name:           "Milk",
		Quantity:       1,
		Category:       model.StringPtr("Dairy"),
		ExpirationDate: &expires,
		Description:    model.StringPtr("whole"),
	})
	s := newStarted(t, coll)

	sub := s.Subscribe()
	defer sub.Cancel()
	snapshot := <-sub.C()
	*snapshot[0].Category = "Frozen"
	*snapshot[0].Description = "skimmed"

	items := s.Items()
	if items[0].CategoryName() != "Dairy" || *items[0].Description != "whole" {
		t.Errorf("subscriber mutation reached the store: %+v", items[0])
	}

	*items[0].ExpirationDate = expires.AddDate(1, 0, 0)
	if again := s.Items(); !again[0].ExpirationDate.Equal(expires) {
		t.Errorf("Items mutation reached the store: %v", again[0].ExpirationDate)
	}
}
