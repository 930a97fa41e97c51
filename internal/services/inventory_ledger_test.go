package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/sqaleshop/api/internal/domain"
)

func shirtProduct() domain.Product {
	return domain.Product{
		ID:      "prod_shirt",
		StoreID: "store_1",
		Name:    "Shirt",
		SKU:     "SHIRT",
		Price:   1000,
		Variants: []domain.ProductVariant{
			{ID: "var_s", Name: "Small", SKU: "SHIRT-S", Inventory: 5},
			{ID: "var_m", Name: "Medium", SKU: "SHIRT-M", Price: 1200, Inventory: 1, LowStockThreshold: 1},
		},
	}
}

func mugProduct() domain.Product {
	return domain.Product{ID: "prod_mug", StoreID: "store_1", Name: "Mug", SKU: "MUG", Price: 500, Inventory: 3}
}

func newTestLedger(t *testing.T, products *memProducts, logger *captureLogger) InventoryLedger {
	t.Helper()
	deps := InventoryLedgerDeps{Products: products}
	if logger != nil {
		deps.Logger = logger.log
	}
	ledger, err := NewInventoryLedger(deps)
	if err != nil {
		t.Fatalf("NewInventoryLedger: %v", err)
	}
	return ledger
}

func TestInventoryLedgerReserveDecrementsAllCounters(t *testing.T) {
	products := newMemProducts(shirtProduct(), mugProduct())
	logger := &captureLogger{}
	ledger := newTestLedger(t, products, logger)

	items, err := ledger.Reserve(context.Background(), "store_1", []StockDemand{
		{ProductID: "prod_shirt", VariantID: "var_s", Quantity: 2},
		{ProductID: "prod_shirt", SKU: "shirt-m", Quantity: 1},
		{ProductID: "prod_mug", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[1].VariantID != "var_m" || items[1].UnitPrice != 1200 || items[1].SKU != "SHIRT-M" {
		t.Fatalf("expected sku match to resolve medium variant with its price, got %+v", items[1])
	}
	if items[0].UnitPrice != 1000 || items[0].TotalPrice != 2000 {
		t.Fatalf("expected variant without price to inherit product price, got %+v", items[0])
	}
	for _, item := range items {
		if !item.StockTracked {
			t.Fatalf("expected every item tracked, got %+v", item)
		}
	}
	if got := products.stock("prod_shirt", "var_s"); got != 3 {
		t.Fatalf("expected small stock 3, got %d", got)
	}
	if got := products.stock("prod_shirt", "var_m"); got != 0 {
		t.Fatalf("expected medium stock 0, got %d", got)
	}
	if got := products.stock("prod_mug", ""); got != 0 {
		t.Fatalf("expected mug stock 0, got %d", got)
	}
	if products.saves != 2 {
		t.Fatalf("expected one save per product, got %d", products.saves)
	}
	if !logger.has("inventory.low_stock") {
		t.Fatalf("expected low stock log")
	}
}

func TestInventoryLedgerReserveAggregatesBeforeChecking(t *testing.T) {
	products := newMemProducts(mugProduct())
	ledger := newTestLedger(t, products, nil)

	_, err := ledger.Reserve(context.Background(), "store_1", []StockDemand{
		{ProductID: "prod_mug", Quantity: 2},
		{ProductID: "prod_mug", Quantity: 2},
	})
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
	if got := products.stock("prod_mug", ""); got != 3 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
	if products.saves != 0 {
		t.Fatalf("expected no saves, got %d", products.saves)
	}
}

func TestInventoryLedgerReserveFailsWholeGroup(t *testing.T) {
	products := newMemProducts(shirtProduct(), mugProduct())
	ledger := newTestLedger(t, products, nil)

	_, err := ledger.Reserve(context.Background(), "store_1", []StockDemand{
		{ProductID: "prod_mug", Quantity: 1},
		{ProductID: "prod_shirt", VariantID: "var_m", Quantity: 2},
	})
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
	if got := products.stock("prod_mug", ""); got != 3 {
		t.Fatalf("expected mug stock untouched, got %d", got)
	}
}

func TestInventoryLedgerUnresolvedVariantIsSoftFallback(t *testing.T) {
	products := newMemProducts(shirtProduct())
	logger := &captureLogger{}
	ledger := newTestLedger(t, products, logger)

	items, err := ledger.Reserve(context.Background(), "store_1", []StockDemand{
		{ProductID: "prod_shirt", VariantID: "var_xl", SKU: "SHIRT-XL", Quantity: 10},
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if items[0].StockTracked {
		t.Fatalf("expected unresolved variant to be untracked")
	}
	if items[0].UnitPrice != 1000 {
		t.Fatalf("expected product price, got %v", items[0].UnitPrice)
	}
	if products.saves != 0 {
		t.Fatalf("expected no stock writes, got %d", products.saves)
	}
	if !logger.has("inventory.variant.unresolved") {
		t.Fatalf("expected unresolved variant log")
	}
}

func TestInventoryLedgerRejectsForeignAndMissingProducts(t *testing.T) {
	foreign := mugProduct()
	foreign.ID = "prod_foreign"
	foreign.StoreID = "store_2"
	ledger := newTestLedger(t, newMemProducts(foreign), nil)

	for _, id := range []string{"prod_foreign", "prod_missing"} {
		_, err := ledger.Reserve(context.Background(), "store_1", []StockDemand{{ProductID: id, Quantity: 1}})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", id, err)
		}
	}

	_, err := ledger.Reserve(context.Background(), "store_1", []StockDemand{{ProductID: "prod_foreign", Quantity: 0}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero quantity, got %v", err)
	}
}

func TestInventoryLedgerUndoesEarlierSavesWhenLaterSaveFails(t *testing.T) {
	products := newMemProducts(mugProduct(), shirtProduct())
	products.saveErrs["prod_shirt"] = repoErr{unavailable: true}
	ledger := newTestLedger(t, products, nil)

	_, err := ledger.Reserve(context.Background(), "store_1", []StockDemand{
		{ProductID: "prod_mug", Quantity: 2},
		{ProductID: "prod_shirt", VariantID: "var_s", Quantity: 1},
	})
	if !errors.Is(err, ErrTransientStore) {
		t.Fatalf("expected ErrTransientStore, got %v", err)
	}
	if got := products.stock("prod_mug", ""); got != 3 {
		t.Fatalf("expected mug stock restored to 3, got %d", got)
	}
}

func TestInventoryLedgerRestoreReturnsExactQuantities(t *testing.T) {
	products := newMemProducts(shirtProduct(), mugProduct())
	logger := &captureLogger{}
	ledger := newTestLedger(t, products, logger)

	err := ledger.Restore(context.Background(), "store_1", []OrderItem{
		{ProductID: "prod_shirt", VariantID: "var_s", Quantity: 2, StockTracked: true},
		{ProductID: "prod_shirt", VariantID: "var_s", Quantity: 1, StockTracked: true},
		{ProductID: "prod_mug", Quantity: 4, StockTracked: true},
		{ProductID: "prod_shirt", VariantID: "var_xl", Quantity: 9},
		{ProductID: "prod_gone", Quantity: 1, StockTracked: true},
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := products.stock("prod_shirt", "var_s"); got != 8 {
		t.Fatalf("expected small stock 8, got %d", got)
	}
	if got := products.stock("prod_mug", ""); got != 7 {
		t.Fatalf("expected mug stock 7, got %d", got)
	}
	if !logger.has("inventory.restore.product_missing") {
		t.Fatalf("expected missing product to be logged")
	}
}

func TestNewInventoryLedgerRequiresProducts(t *testing.T) {
	if _, err := NewInventoryLedger(InventoryLedgerDeps{}); err == nil {
		t.Fatalf("expected error when products missing")
	}
}

func TestInventoryLedgerReserveRefusesStaleStockWrite(t *testing.T) {
	products := newMemProducts(mugProduct())
	products.bump("prod_mug", 0)
	// a cancellation gives back 2 mugs between our read and our write
	products.beforeSave = func(id string) { products.bump(id, 2) }
	ledger := newTestLedger(t, products, nil)

	_, err := ledger.Reserve(context.Background(), "store_1", []StockDemand{{ProductID: "prod_mug", Quantity: 1}})
	if !errors.Is(err, ErrTransientStore) {
		t.Fatalf("expected ErrTransientStore for a stale write, got %v", err)
	}
	if got := products.stock("prod_mug", ""); got != 5 {
		t.Fatalf("expected the concurrent restore to survive with stock 5, got %d", got)
	}
}

func TestInventoryLedgerRestoreRetriesOnConcurrentWrite(t *testing.T) {
	products := newMemProducts(mugProduct())
	products.bump("prod_mug", 0)
	products.beforeSave = func(id string) { products.bump(id, 2) }
	logger := &captureLogger{}
	ledger := newTestLedger(t, products, logger)

	err := ledger.Restore(context.Background(), "store_1", []OrderItem{{ProductID: "prod_mug", Quantity: 1, StockTracked: true}})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := products.stock("prod_mug", ""); got != 6 {
		t.Fatalf("expected both increments to land (3+2+1), got %d", got)
	}
	if !logger.has("inventory.restore.retry") {
		t.Fatalf("expected the conflicting write to be retried")
	}
}
