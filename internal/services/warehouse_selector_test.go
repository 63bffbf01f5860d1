package services

import (
	"testing"

	"github.com/mrshanebarron/repshare/internal/domain"
)

func lookupFrom(stock map[string]map[string]int) StockLookup {
	return func(productID, warehouseID string) (int, bool) {
		byWarehouse, ok := stock[productID]
		if !ok {
			return 0, false
		}
		available, ok := byWarehouse[warehouseID]
		return available, ok
	}
}

func TestSelectWarehousePrefersFullCoverage(t *testing.T) {
	warehouses := []domain.Warehouse{
		{ID: "wh-x", Code: "X"},
		{ID: "wh-y", Code: "Y"},
	}
	demands := []WarehouseDemand{
		{ProductID: "prod-a", Quantity: 10},
		{ProductID: "prod-b", Quantity: 5},
	}
	// X satisfies only product A (score 10); Y satisfies both (score 15).
	lookup := lookupFrom(map[string]map[string]int{
		"prod-a": {"wh-x": 10, "wh-y": 10},
		"prod-b": {"wh-x": 3, "wh-y": 5},
	})

	selected := SelectWarehouse(warehouses, demands, lookup)
	if selected == nil || selected.ID != "wh-y" {
		t.Fatalf("expected wh-y, got %+v", selected)
	}
}

func TestSelectWarehouseFullCoverageBeatsHigherPartialScore(t *testing.T) {
	warehouses := []domain.Warehouse{
		{ID: "wh-big"},
		{ID: "wh-full"},
	}
	demands := []WarehouseDemand{
		{ProductID: "prod-a", Quantity: 100},
		{ProductID: "prod-b", Quantity: 1},
	}
	// wh-big scores 100 but misses product B; wh-full covers only B.
	lookup := lookupFrom(map[string]map[string]int{
		"prod-a": {"wh-big": 100, "wh-full": 100},
		"prod-b": {"wh-full": 1},
	})

	selected := SelectWarehouse(warehouses, demands, lookup)
	if selected == nil || selected.ID != "wh-full" {
		t.Fatalf("expected full-coverage warehouse, got %+v", selected)
	}
}

func TestSelectWarehouseTiesBreakByInputOrder(t *testing.T) {
	warehouses := []domain.Warehouse{
		{ID: "wh-1"},
		{ID: "wh-2"},
	}
	demands := []WarehouseDemand{{ProductID: "prod-a", Quantity: 4}}
	lookup := lookupFrom(map[string]map[string]int{
		"prod-a": {"wh-1": 10, "wh-2": 10},
	})

	selected := SelectWarehouse(warehouses, demands, lookup)
	if selected == nil || selected.ID != "wh-1" {
		t.Fatalf("expected first warehouse on tie, got %+v", selected)
	}
}

func TestSelectWarehouseZeroScoreStillSelects(t *testing.T) {
	warehouses := []domain.Warehouse{{ID: "wh-empty"}}
	demands := []WarehouseDemand{{ProductID: "prod-a", Quantity: 5}}

	selected := SelectWarehouse(warehouses, demands, lookupFrom(nil))
	if selected == nil || selected.ID != "wh-empty" {
		t.Fatalf("expected sole candidate even with zero score, got %+v", selected)
	}
}

func TestSelectWarehousePartialAvailabilityDoesNotScore(t *testing.T) {
	warehouses := []domain.Warehouse{
		{ID: "wh-short"},
		{ID: "wh-enough"},
	}
	demands := []WarehouseDemand{{ProductID: "prod-a", Quantity: 10}}
	// 9 of 10 on hand contributes nothing; a line cannot be half reserved.
	lookup := lookupFrom(map[string]map[string]int{
		"prod-a": {"wh-short": 9, "wh-enough": 10},
	})

	selected := SelectWarehouse(warehouses, demands, lookup)
	if selected == nil || selected.ID != "wh-enough" {
		t.Fatalf("expected wh-enough, got %+v", selected)
	}
}

func TestSelectWarehouseNilOnlyWhenNoCandidates(t *testing.T) {
	if selected := SelectWarehouse(nil, nil, nil); selected != nil {
		t.Fatalf("expected nil for empty candidate list, got %+v", selected)
	}
}

func TestSelectWarehouseReturnsCopy(t *testing.T) {
	warehouses := []domain.Warehouse{{ID: "wh-1", Code: "SYD"}}
	selected := SelectWarehouse(warehouses, nil, nil)
	if selected == nil {
		t.Fatal("expected a selection")
	}
	selected.Code = "MEL"
	if warehouses[0].Code != "SYD" {
		t.Fatal("selection must not alias the input slice")
	}
}
