package services

// WarehouseDemand is one (product, quantity) requirement for a seller group.
type WarehouseDemand struct {
	ProductID string
	Quantity  int
}

// StockLookup reports available quantity for a (product, warehouse) pair.
// ok is false when the pair has no stock record.
type StockLookup func(productID string, warehouseID string) (available int, ok bool)

// SelectWarehouse picks the single best-fit warehouse for a seller's demands.
//
// Each candidate is scored by the sum of demanded quantities it can satisfy in
// full. A warehouse covering every demand always outranks a partial one
// regardless of raw score; among equals the earlier warehouse in the input
// slice wins, which keeps selection deterministic. Returns nil only when the
// candidate list is empty — a zero-score warehouse is still selected so the
// caller can record the resulting unreserved lines.
func SelectWarehouse(warehouses []Warehouse, demands []WarehouseDemand, lookup StockLookup) *Warehouse {
	if len(warehouses) == 0 {
		return nil
	}

	best := 0
	bestScore := -1
	bestFull := false

	for i, warehouse := range warehouses {
		score := 0
		full := true
		for _, demand := range demands {
			available, ok := 0, false
			if lookup != nil {
				available, ok = lookup(demand.ProductID, warehouse.ID)
			}
			if ok && available >= demand.Quantity {
				score += demand.Quantity
			} else {
				full = false
			}
		}
		if len(demands) == 0 {
			full = false
		}

		if (full && !bestFull) || (full == bestFull && score > bestScore) {
			best = i
			bestScore = score
			bestFull = full
		}
	}

	selected := warehouses[best]
	return &selected
}
