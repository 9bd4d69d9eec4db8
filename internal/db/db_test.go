package db

import (
	"sync"
	"testing"
)

func TestMemoryDatabaseSharedAcrossGoroutines(t *testing.T) {
	database := NewTestDB(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var n int
			// Each goroutine must see the schema created on the first connection.
			if err := database.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("query from goroutine: %v", err)
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	database := NewTestDB(t)
	if err := EnsureSchema(database); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}
