//go:build integration

package firestore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/platform/config"
	pfirestore "github.com/sqaleshop/api/internal/platform/firestore"
	"github.com/sqaleshop/api/internal/repositories"
)

func emulatorRegistry(t *testing.T) *Registry {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "sqale-test", EmulatorHost: host})
	reg, err := NewRegistry(provider, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg
}

func TestCounterSequencesAgainstEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	ctx := context.Background()
	id := "orders:" + uuid.NewString()

	for want := int64(1); want <= 3; want++ {
		got, err := reg.Counters().Next(ctx, id, 1)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	if got, err := reg.Counters().Next(ctx, id, 5); err != nil || got != 8 {
		t.Fatalf("expected 8 after step 5, got %d (%v)", got, err)
	}
}

func TestCustomerInsertConflictsAgainstEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	ctx := context.Background()
	tenant := "tenant_" + uuid.NewString()

	created, err := reg.Customers().Insert(ctx, domain.Customer{TenantID: tenant, Email: " Ana@Example.com ", Name: "Ana"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if created.ID != CustomerDocumentID(tenant, "ana@example.com") {
		t.Fatalf("unexpected customer id %q", created.ID)
	}

	_, err = reg.Customers().Insert(ctx, domain.Customer{TenantID: tenant, Email: "ana@example.com"})
	var conflict interface{ IsConflict() bool }
	if !errors.As(err, &conflict) || !conflict.IsConflict() {
		t.Fatalf("expected conflict on duplicate identity, got %v", err)
	}

	found, err := reg.Customers().FindByTenantEmail(ctx, tenant, "ANA@example.com")
	if err != nil || found.ID != created.ID {
		t.Fatalf("expected lookup by email, got %+v (%v)", found, err)
	}
}

func TestOrderListPaginatesAgainstEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	ctx := context.Background()
	store := "store_" + uuid.NewString()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	statuses := []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusConfirmed,
		domain.OrderStatusPending,
		domain.OrderStatusCancelled,
	}
	for i, status := range statuses {
		order := domain.Order{
			ID:        "ord_" + uuid.NewString(),
			TenantID:  "tenant_1",
			StoreID:   store,
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := reg.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert order %d: %v", i, err)
		}
		if i == 0 {
			loaded, err := reg.Orders().FindByID(ctx, order.ID)
			if err != nil || loaded.StoreID != store || loaded.Status != status {
				t.Fatalf("expected round-trip of %s, got %+v (%v)", order.ID, loaded, err)
			}
		}
	}

	first, err := reg.Orders().List(ctx, repositories.OrderListFilter{
		StoreID:    store,
		Pagination: domain.Pagination{PageSize: 3},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 3 || first.NextPageToken == "" {
		t.Fatalf("expected full first page with token, got %d items token %q", len(first.Items), first.NextPageToken)
	}
	if first.Items[0].Status != domain.OrderStatusCancelled {
		t.Fatalf("expected newest first, got %s", first.Items[0].Status)
	}

	second, err := reg.Orders().List(ctx, repositories.OrderListFilter{
		StoreID:    store,
		Pagination: domain.Pagination{PageSize: 3, PageToken: first.NextPageToken},
	})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Items) != 1 || second.NextPageToken != "" {
		t.Fatalf("expected final page of one, got %d items token %q", len(second.Items), second.NextPageToken)
	}

	pending, err := reg.Orders().List(ctx, repositories.OrderListFilter{
		StoreID: store,
		Status:  []string{"PENDING"},
	})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending.Items) != 2 {
		t.Fatalf("expected 2 pending orders, got %d", len(pending.Items))
	}
}

func TestRunInTxRollsBackAgainstEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	ctx := context.Background()
	id := "ord_" + uuid.NewString()
	boom := errors.New("boom")

	err := reg.RunInTx(ctx, func(ctx context.Context) error {
		if err := reg.Orders().Insert(ctx, domain.Order{ID: id, StoreID: "store_1", Status: domain.OrderStatusPending, CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	_, err = reg.Orders().FindByID(ctx, id)
	var notFound interface{ IsNotFound() bool }
	if !errors.As(err, &notFound) || !notFound.IsNotFound() {
		t.Fatalf("expected rolled back order to be missing, got %v", err)
	}
}

func TestConcurrentCustomerInsertKeepsOneAgainstEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	ctx := context.Background()
	tenant := "tenant_" + uuid.NewString()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Customers().Insert(ctx, domain.Customer{TenantID: tenant, Email: "a@b.com"})
			var conflict interface{ IsConflict() bool }
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.As(err, &conflict) && conflict.IsConflict():
				conflicts++
			default:
				t.Errorf("unexpected insert error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || conflicts != workers-1 {
		t.Fatalf("expected one insert and %d conflicts, got %d and %d", workers-1, created, conflicts)
	}
}

func TestConcurrentStockDecrementNeverOversellsAgainstEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	ctx := context.Background()
	client, err := reg.provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	productID := "prod_" + uuid.NewString()
	const stock = 3
	if _, err := client.Collection(productsCollection).Doc(productID).Set(ctx, productDocument{
		StoreID:   "store_1",
		Name:      "Kopi",
		Price:     1000,
		Inventory: stock,
		Status:    "active",
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	errSoldOut := errors.New("sold out")
	const workers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.RunInTx(ctx, func(ctx context.Context) error {
				product, err := reg.Products().FindByID(ctx, productID)
				if err != nil {
					return err
				}
				if product.Inventory < 1 {
					return errSoldOut
				}
				product.Inventory--
				return reg.Products().SaveStock(ctx, product)
			})
			if err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	product, err := reg.Products().FindByID(ctx, productID)
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if sold > stock || sold == 0 {
		t.Fatalf("expected between 1 and %d sales, got %d", stock, sold)
	}
	if product.Inventory != stock-sold {
		t.Fatalf("expected inventory %d after %d sales, got %d", stock-sold, sold, product.Inventory)
	}
}

func TestCounterHandsOutDistinctValuesWithoutTransactionAgainstEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	ctx := context.Background()
	id := "bookings:" + uuid.NewString()

	const workers = 4
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := reg.Counters().Next(ctx, id, 1)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var conflict interface{ IsConflict() bool }
				if errors.As(err, &conflict) && conflict.IsConflict() {
					return
				}
				t.Errorf("next: %v", err)
				return
			}
			if seen[got] {
				t.Errorf("value %d handed out twice", got)
			}
			seen[got] = true
		}()
	}
	wg.Wait()
	if len(seen) == 0 {
		t.Fatalf("expected at least one value")
	}
}

func TestSaveStockRejectsStaleRevisionAgainstEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	ctx := context.Background()
	client, err := reg.provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	productID := "prod_" + uuid.NewString()
	if _, err := client.Collection(productsCollection).Doc(productID).Set(ctx, productDocument{
		StoreID: "store_1", Name: "Kopi", Price: 1000, Inventory: 5, Status: "active",
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	stale, err := reg.Products().FindByID(ctx, productID)
	if err != nil || stale.Revision.IsZero() {
		t.Fatalf("expected product with revision, got %+v (%v)", stale, err)
	}
	fresh := stale
	fresh.Inventory = 7
	if err := reg.Products().SaveStock(ctx, fresh); err != nil {
		t.Fatalf("first save: %v", err)
	}

	stale.Inventory = 4
	err = reg.Products().SaveStock(ctx, stale)
	var conflict interface{ IsConflict() bool }
	if !errors.As(err, &conflict) || !conflict.IsConflict() {
		t.Fatalf("expected conflict for stale revision, got %v", err)
	}
	current, _ := reg.Products().FindByID(ctx, productID)
	if current.Inventory != 7 {
		t.Fatalf("expected the newer write to survive, got %d", current.Inventory)
	}
}

func TestCustomerStatsIncrementsAgainstEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	ctx := context.Background()
	tenant := "tenant_" + uuid.NewString()

	created, err := reg.Customers().Insert(ctx, domain.Customer{TenantID: tenant, Email: "ana@example.com", Name: "Ana"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	const workers = 5
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// every writer carries the stats it read at insert time
			if err := reg.Customers().Update(ctx, created, repositories.CustomerStatsDelta{Orders: 1, Spent: 10, LastOrderAt: &at}); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	stale := created
	stale.Name = "Ana Maria"
	if err := reg.Customers().Update(ctx, stale, repositories.CustomerStatsDelta{}); err != nil {
		t.Fatalf("update: %v", err)
	}

	found, err := reg.Customers().FindByTenantEmail(ctx, tenant, "ana@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Stats.OrderCount != workers || found.Stats.TotalSpent != 50 || found.Name != "Ana Maria" {
		t.Fatalf("expected %d orders worth 50 and the new name, got %+v", workers, found)
	}
}
