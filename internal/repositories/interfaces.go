package repositories

import (
	"context"
	"time"

	domain "github.com/sqaleshop/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Stores() StoreRepository
	Products() ProductRepository
	Slots() SlotRepository
	Customers() CustomerRepository
	Orders() OrderRepository
	Bookings() BookingRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories called with the context passed to fn take part in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StoreRepository reads storefront records.
type StoreRepository interface {
	FindByID(ctx context.Context, storeID string) (domain.Store, error)
	FindBySlug(ctx context.Context, slug string) (domain.Store, error)
}

// ProductRepository is the catalog reader used by the inventory ledger.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// SaveStock persists the product and variant inventory counters only.
	SaveStock(ctx context.Context, product domain.Product) error
}

// SlotRepository reads bookable slots.
type SlotRepository interface {
	FindByID(ctx context.Context, slotID string) (domain.BookingSlot, error)
}

// CustomerRepository persists customers unique on (tenant, email).
type CustomerRepository interface {
	FindByTenantEmail(ctx context.Context, tenantID, email string) (domain.Customer, error)
	// FindByEmail looks across all tenants.
	FindByEmail(ctx context.Context, email string) (domain.Customer, error)
	// Insert assigns the id and fails with a conflict RepositoryError when (tenant, email) already exists.
	Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	// Update writes identity, contact and metadata fields and adds delta to the stored stats in
	// the same write. Stored stats are never overwritten.
	Update(ctx context.Context, customer domain.Customer, delta CustomerStatsDelta) error
}

// CustomerStatsDelta is one purchase's contribution to a customer's stats.
type CustomerStatsDelta struct {
	Orders        int
	Bookings      int
	Spent         float64
	LastOrderAt   *time.Time
	LastBookingAt *time.Time
}

// OrderRepository persists orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter scopes order listings to a store.
type OrderListFilter struct {
	StoreID    string
	Status     []string
	Pagination domain.Pagination
}

// BookingRepository persists bookings.
type BookingRepository interface {
	Insert(ctx context.Context, booking domain.Booking) error
	Update(ctx context.Context, booking domain.Booking) error
	FindByID(ctx context.Context, bookingID string) (domain.Booking, error)
}

// CounterRepository provides atomic sequences.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Clock is shared by repositories that stamp documents.
type Clock func() time.Time
