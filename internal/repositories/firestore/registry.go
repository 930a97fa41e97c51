package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/sqaleshop/api/internal/platform/firestore"
	"github.com/sqaleshop/api/internal/repositories"
)

// Registry wires every Firestore repository over one provider.
type Registry struct {
	provider  *pfirestore.Provider
	uow       *pfirestore.UnitOfWork
	txOpts    []pfirestore.TxOption
	stores    *StoreRepository
	products  *ProductRepository
	slots     *SlotRepository
	customers *CustomerRepository
	orders    *OrderRepository
	bookings  *BookingRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repository set. health may be nil when readiness probes are not wired.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository, txOpts ...pfirestore.TxOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{
		provider: provider,
		uow:      pfirestore.NewUnitOfWork(provider, txOpts...),
		txOpts:   txOpts,
		health:   health,
	}
	var err error
	if reg.stores, err = NewStoreRepository(provider); err != nil {
		return nil, err
	}
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.slots, err = NewSlotRepository(provider); err != nil {
		return nil, err
	}
	if reg.customers, err = NewCustomerRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.bookings, err = NewBookingRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Stores() repositories.StoreRepository       { return r.stores }
func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Slots() repositories.SlotRepository         { return r.slots }
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Bookings() repositories.BookingRepository   { return r.bookings }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

// RunInTx runs fn in a Firestore transaction shared by every repository in the registry.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

// UnitOfWork returns a unit of work over the same provider with opts applied after the
// registry's own transaction options.
func (r *Registry) UnitOfWork(opts ...pfirestore.TxOption) repositories.UnitOfWork {
	merged := append(append([]pfirestore.TxOption(nil), r.txOpts...), opts...)
	return pfirestore.NewUnitOfWork(r.provider, merged...)
}

// SupportsTransactions reports whether the backend accepted a probe transaction.
func (r *Registry) SupportsTransactions(ctx context.Context) bool {
	return r.provider.SupportsTransactions(ctx)
}
