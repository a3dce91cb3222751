package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/metrapark/facility-sync/pkg/facility"
)

func TestMemorySaveAll(t *testing.T) {
	store := NewMemory()

	records := []facility.Facility{
		{ID: "lot-1", Provider: "city-a", Name: "Lot 1"},
		{ID: "lot-2", Provider: "city-a", Name: "Lot 2"},
	}

	if err := store.SaveAll(context.Background(), records); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	if store.Count() != 2 {
		t.Errorf("Count = %d, want 2", store.Count())
	}
	if store.Saves() != 1 {
		t.Errorf("Saves = %d, want 1", store.Saves())
	}
}

func TestMemoryConcurrentSaves(t *testing.T) {
	store := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.SaveAll(context.Background(), []facility.Facility{{ID: "x", Provider: "p"}})
		}()
	}
	wg.Wait()

	if store.Count() != 10 {
		t.Errorf("Count = %d, want 10", store.Count())
	}
}

func TestMemoryRecordsReturnsCopy(t *testing.T) {
	store := NewMemory()
	_ = store.SaveAll(context.Background(), []facility.Facility{{ID: "lot-1", Provider: "p"}})

	records := store.Records()
	records[0].ID = "mutated"

	if store.Records()[0].ID != "lot-1" {
		t.Error("Records should return a copy, not the backing slice")
	}
}
