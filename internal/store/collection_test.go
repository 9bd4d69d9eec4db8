package store

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/grocery/internal/db"
	"github.com/erazemk/grocery/internal/model"
	"github.com/erazemk/grocery/internal/notify"
)

func TestCollectionSignalsEveryWrite(t *testing.T) {
	database := db.NewTestDB(t)
	coll := NewCollection(database, notify.NewLocal())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := coll.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	expectSignal := func(op string) {
		t.Helper()
		select {
		case <-changes:
		case <-time.After(time.Second):
			t.Fatalf("no change signal after %s", op)
		}
	}

	id, err := coll.Add(ctx, model.Item{Name: "Milk", Quantity: 1})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	expectSignal("add")

	if err := coll.Merge(ctx, model.Item{ID: id, Name: "Milk", Quantity: 3}, nil); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	expectSignal("merge")

	if err := coll.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	expectSignal("delete")
}

func TestCollectionFailedMergeDoesNotSignal(t *testing.T) {
	database := db.NewTestDB(t)
	coll := NewCollection(database, notify.NewLocal())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, _ := coll.Watch(ctx)

	if err := coll.Merge(ctx, model.Item{ID: "missing", Name: "X", Quantity: 1}, nil); err == nil {
		t.Fatal("expected error merging a missing document")
	}

	select {
	case <-changes:
		t.Error("failed write should not signal a change")
	case <-time.After(50 * time.Millisecond):
	}
}
