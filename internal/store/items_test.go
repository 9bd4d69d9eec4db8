package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/erazemk/grocery/internal/db"
	"github.com/erazemk/grocery/internal/model"
)

func TestCreateItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	expires := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	id, err := CreateItem(ctx, database, model.Item{
		ID:             "ignored",
		Name:           "Milk",
		Quantity:       2,
		ExpirationDate: &expires,
		Category:       model.StringPtr("Dairy"),
		ImageURL:       model.StringPtr("http://localhost:8080/images/itemImages/a.jpg"),
		ThumbnailData:  model.StringPtr("aGVsbG8="),
		Description:    model.StringPtr("2%\nlactose free"),
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if id == "" || id == "ignored" {
		t.Fatalf("expected a fresh id, got %q", id)
	}

	item, err := getItem(ctx, database, id)
	if err != nil {
		t.Fatalf("getItem: %v", err)
	}
	if item == nil {
		t.Fatal("expected item, got nil")
	}
	if item.Name != "Milk" || item.Quantity != 2 {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.ExpirationDate == nil || !item.ExpirationDate.Equal(expires) {
		t.Errorf("expected expiration %v, got %v", expires, item.ExpirationDate)
	}
	if item.CategoryName() != "Dairy" {
		t.Errorf("expected category 'Dairy', got %q", item.CategoryName())
	}
	if item.Description == nil || *item.Description != "2%\nlactose free" {
		t.Errorf("expected multi-line description, got %v", item.Description)
	}
}

func TestListItemsOrderedByName(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"Eggs", "Bread", "Milk", "Cheese"} {
		if _, err := CreateItem(ctx, database, model.Item{Name: name, Quantity: 1}); err != nil {
			t.Fatalf("CreateItem(%s): %v", name, err)
		}
	}

	items, err := ListItems(ctx, database)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}

	want := []string{"Bread", "Cheese", "Eggs", "Milk"}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, name := range want {
		if items[i].Name != name {
			t.Errorf("position %d: expected %q, got %q", i, name, items[i].Name)
		}
	}
}

func TestListItemsEmpty(t *testing.T) {
	database := db.NewTestDB(t)

	items, err := ListItems(context.Background(), database)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", items)
	}
}

func TestMergeItemLeavesAbsentFields(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	id, _ := CreateItem(ctx, database, model.Item{
		Name:        "Bread",
		Quantity:    1,
		Category:    model.StringPtr("Bakery"),
		Description: model.StringPtr("sourdough"),
	})

	err := MergeItem(ctx, database, model.Item{ID: id, Name: "Bread", Quantity: 2}, nil)
	if err != nil {
		t.Fatalf("MergeItem: %v", err)
	}

	item, _ := getItem(ctx, database, id)
	if item.Quantity != 2 {
		t.Errorf("expected quantity 2, got %d", item.Quantity)
	}
	if item.CategoryName() != "Bakery" {
		t.Errorf("absent category should be untouched, got %q", item.CategoryName())
	}
	if item.Description == nil || *item.Description != "sourdough" {
		t.Errorf("absent description should be untouched, got %v", item.Description)
	}
}

func TestMergeItemClearsNamedFields(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	expires := time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC)
	id, _ := CreateItem(ctx, database, model.Item{
		Name:           "Cheese",
		Quantity:       1,
		ExpirationDate: &expires,
		ImageURL:       model.StringPtr("http://x/itemImages/a.jpg"),
		ThumbnailData:  model.StringPtr("dGh1bWI="),
	})

	err := MergeItem(ctx, database, model.Item{ID: id, Name: "Cheese", Quantity: 1},
		[]model.Field{model.FieldExpirationDate, model.FieldImageURL, model.FieldThumbnailData})
	if err != nil {
		t.Fatalf("MergeItem: %v", err)
	}

	item, _ := getItem(ctx, database, id)
	if item.ExpirationDate != nil {
		t.Errorf("expected expiration cleared, got %v", item.ExpirationDate)
	}
	if item.ImageURL != nil || item.ThumbnailData != nil {
		t.Errorf("expected image fields cleared, got %v / %v", item.ImageURL, item.ThumbnailData)
	}
}

func TestMergeItemValueWinsOverClear(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	id, _ := CreateItem(ctx, database, model.Item{Name: "Tea", Quantity: 1})

	err := MergeItem(ctx, database,
		model.Item{ID: id, Name: "Tea", Quantity: 1, Category: model.StringPtr("Beverages")},
		[]model.Field{model.FieldCategory})
	if err != nil {
		t.Fatalf("MergeItem: %v", err)
	}

	item, _ := getItem(ctx, database, id)
	if item.CategoryName() != "Beverages" {
		t.Errorf("expected category 'Beverages', got %q", item.CategoryName())
	}
}

func TestMergeItemMissing(t *testing.T) {
	database := db.NewTestDB(t)

	err := MergeItem(context.Background(), database, model.Item{ID: "missing", Name: "X", Quantity: 1}, nil)
	if err != model.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	id, _ := CreateItem(ctx, database, model.Item{Name: "Delete Me", Quantity: 1})
	if err := DeleteItem(ctx, database, id); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}

	items, _ := ListItems(ctx, database)
	if len(items) != 0 {
		t.Errorf("expected 0 items after delete, got %d", len(items))
	}

	// Deleting again is not an error.
	if err := DeleteItem(ctx, database, id); err != nil {
		t.Errorf("second DeleteItem: %v", err)
	}
}

func getItem(ctx context.Context, database *sql.DB, id string) (*model.Item, error) {
	row := database.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}
