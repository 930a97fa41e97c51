package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/platform/textutil"
	"github.com/sqaleshop/api/internal/repositories"
)

// InventoryLedgerDeps bundles collaborators required by the inventory ledger.
type InventoryLedgerDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// stockWriteAttempts bounds the re-read and write cycle when a conditional stock write conflicts.
const stockWriteAttempts = 3

type inventoryLedger struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// stockKey addresses one stock counter: a variant, or the product itself when variantID is empty.
type stockKey struct {
	productID string
	variantID string
}

// NewInventoryLedger constructs the ledger over the product repository.
func NewInventoryLedger(deps InventoryLedgerDeps) (InventoryLedger, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory ledger: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &inventoryLedger{products: deps.Products, logger: logger}, nil
}

// Reserve resolves every demand to a priced order item and decrements stock for all of them or none.
func (l *inventoryLedger) Reserve(ctx context.Context, storeID string, demands []StockDemand) ([]OrderItem, error) {
	if len(demands) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	for i, demand := range demands {
		if strings.TrimSpace(demand.ProductID) == "" {
			return nil, fmt.Errorf("%w: items[%d].productId is required", ErrValidation, i)
		}
		if demand.Quantity < 1 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrValidation, i)
		}
	}

	products, order, err := l.loadProducts(ctx, storeID, demands)
	if err != nil {
		return nil, err
	}

	items := make([]OrderItem, 0, len(demands))
	needed := make(map[stockKey]int)
	for _, demand := range demands {
		product := products[strings.TrimSpace(demand.ProductID)]
		item := OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			SKU:       product.SKU,
			Images:    append([]string(nil), product.Images...),
			Quantity:  demand.Quantity,
			UnitPrice: product.Price,
		}

		if len(product.Variants) == 0 {
			item.StockTracked = true
			needed[stockKey{productID: product.ID}] += demand.Quantity
		} else if idx := resolveVariant(product, demand.VariantID, demand.SKU); idx >= 0 {
			variant := product.Variants[idx]
			item.VariantID = variant.ID
			item.VariantName = variant.Name
			if variant.SKU != "" {
				item.SKU = variant.SKU
			}
			if variant.Price > 0 {
				item.UnitPrice = variant.Price
			}
			item.StockTracked = true
			needed[stockKey{productID: product.ID, variantID: variant.ID}] += demand.Quantity
		} else {
			item.VariantID = strings.TrimSpace(demand.VariantID)
			l.logger(ctx, "inventory.variant.unresolved", map[string]any{
				"productId": product.ID,
				"variantId": demand.VariantID,
				"sku":       demand.SKU,
			})
		}

		item.TotalPrice = decimal.NewFromFloat(item.UnitPrice).
			Mul(decimal.NewFromInt(int64(item.Quantity))).
			Round(2).InexactFloat64()
		items = append(items, item)
	}

	for key, qty := range needed {
		product := products[key.productID]
		available := stockOf(product, key.variantID)
		if available < qty {
			label := product.Name
			if key.variantID != "" {
				label = fmt.Sprintf("%s (%s)", product.Name, key.variantID)
			}
			return nil, fmt.Errorf("%w: %s requested %d, available %d", ErrInsufficientInventory, label, qty, available)
		}
	}

	var saved []string
	for _, productID := range order {
		product := products[productID]
		if !takeNeeded(product, needed) {
			continue
		}
		if err := l.products.SaveStock(ctx, *product); err != nil {
			l.undoSaved(ctx, storeID, saved, needed)
			return nil, mapRepositoryError(err)
		}
		saved = append(saved, productID)
		if low := lowStock(*product); len(low) > 0 {
			l.logger(ctx, "inventory.low_stock", map[string]any{"productId": productID, "counters": low})
		}
	}

	return items, nil
}

// Restore re-increments the quantities recorded on stock tracked items.
func (l *inventoryLedger) Restore(ctx context.Context, storeID string, items []OrderItem) error {
	returned := make(map[stockKey]int)
	var order []string
	seen := make(map[string]struct{})
	for _, item := range items {
		if !item.StockTracked || item.Quantity <= 0 {
			continue
		}
		if _, ok := seen[item.ProductID]; !ok {
			seen[item.ProductID] = struct{}{}
			order = append(order, item.ProductID)
		}
		returned[stockKey{productID: item.ProductID, variantID: item.VariantID}] += item.Quantity
	}

	for _, productID := range order {
		if err := l.returnStock(ctx, storeID, productID, returned); err != nil {
			return err
		}
	}
	return nil
}

// returnStock re-reads the product on every attempt, so a stock write that raced ours is
// retried on top of instead of being overwritten.
func (l *inventoryLedger) returnStock(ctx context.Context, storeID, productID string, returned map[stockKey]int) error {
	for attempt := 1; ; attempt++ {
		product, err := l.products.FindByID(ctx, productID)
		if err != nil {
			if isRepoNotFound(err) {
				l.logger(ctx, "inventory.restore.product_missing", map[string]any{"productId": productID})
				return nil
			}
			return mapRepositoryError(err)
		}
		product.Variants = append([]domain.ProductVariant(nil), product.Variants...)
		if product.StoreID != storeID {
			l.logger(ctx, "inventory.restore.store_mismatch", map[string]any{"productId": productID, "storeId": storeID})
			return nil
		}
		for key, qty := range returned {
			if key.productID != productID {
				continue
			}
			if key.variantID != "" && variantIndex(product, key.variantID) < 0 {
				l.logger(ctx, "inventory.restore.variant_missing", map[string]any{"productId": productID, "variantId": key.variantID})
				continue
			}
			adjustStock(&product, key.variantID, qty)
		}
		err = l.products.SaveStock(ctx, product)
		if err == nil {
			return nil
		}
		if !isRepoConflict(err) || attempt == stockWriteAttempts {
			return mapRepositoryError(err)
		}
		l.logger(ctx, "inventory.restore.retry", map[string]any{"productId": productID, "attempt": attempt})
	}
}

// undoSaved gives back stock already written when a later product fails to save.
func (l *inventoryLedger) undoSaved(ctx context.Context, storeID string, saved []string, needed map[stockKey]int) {
	ctx = context.WithoutCancel(ctx)
	for _, productID := range saved {
		if err := l.returnStock(ctx, storeID, productID, needed); err != nil {
			l.logger(ctx, "inventory.undo.failed", map[string]any{"productId": productID, "error": err.Error()})
		}
	}
}

func takeNeeded(product *Product, needed map[stockKey]int) bool {
	changed := false
	for key, qty := range needed {
		if key.productID != product.ID {
			continue
		}
		adjustStock(product, key.variantID, -qty)
		changed = true
	}
	return changed
}

func (l *inventoryLedger) loadProducts(ctx context.Context, storeID string, demands []StockDemand) (map[string]*Product, []string, error) {
	products := make(map[string]*Product, len(demands))
	order := make([]string, 0, len(demands))
	for _, demand := range demands {
		id := strings.TrimSpace(demand.ProductID)
		if _, ok := products[id]; ok {
			continue
		}
		product, err := l.products.FindByID(ctx, id)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, nil, fmt.Errorf("%w: product %s", ErrNotFound, id)
			}
			return nil, nil, mapRepositoryError(err)
		}
		if product.StoreID != storeID {
			return nil, nil, fmt.Errorf("%w: product %s", ErrNotFound, id)
		}
		product.Variants = append([]domain.ProductVariant(nil), product.Variants...)
		products[id] = &product
		order = append(order, id)
	}
	return products, order, nil
}

// resolveVariant matches by id first, then by case-folded SKU.
func resolveVariant(product *Product, variantID, sku string) int {
	if idx := variantIndex(*product, strings.TrimSpace(variantID)); idx >= 0 {
		return idx
	}
	for i, variant := range product.Variants {
		if textutil.FoldEqual(variant.SKU, sku) {
			return i
		}
	}
	return -1
}

func variantIndex(product Product, variantID string) int {
	if variantID == "" {
		return -1
	}
	for i, variant := range product.Variants {
		if variant.ID == variantID {
			return i
		}
	}
	return -1
}

func stockOf(product *Product, variantID string) int {
	if variantID == "" {
		return product.Inventory
	}
	if idx := variantIndex(*product, variantID); idx >= 0 {
		return product.Variants[idx].Inventory
	}
	return 0
}

func adjustStock(product *Product, variantID string, delta int) {
	if variantID == "" {
		product.Inventory += delta
		return
	}
	if idx := variantIndex(*product, variantID); idx >= 0 {
		product.Variants[idx].Inventory += delta
	}
}

// lowStock reports the counters that fell to or below their threshold.
func lowStock(product Product) []string {
	var low []string
	if len(product.Variants) == 0 {
		if product.LowStockThreshold > 0 && product.Inventory <= product.LowStockThreshold {
			low = append(low, product.ID)
		}
		return low
	}
	for _, variant := range product.Variants {
		if variant.LowStockThreshold > 0 && variant.Inventory <= variant.LowStockThreshold {
			low = append(low, product.ID+"/"+variant.ID)
		}
	}
	return low
}
