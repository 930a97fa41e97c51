package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/platform/textutil"
	"github.com/sqaleshop/api/internal/repositories"
)

const orderIDPrefix = "ord_"

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^[0-9+()\-.\s]{6,20}$`)
)

// OrderBuilder creates a persisted order from a checkout command.
type OrderBuilder interface {
	Build(ctx context.Context, cmd CreateOrderCommand) (Order, error)
}

// OrderBuilderDeps bundles collaborators shared by both builder implementations.
type OrderBuilderDeps struct {
	Ledger    InventoryLedger
	Customers CustomerResolver
	Pricing   *PricingReconciler
	Orders    repositories.OrderRepository
	Counters  repositories.CounterRepository
	// UnitOfWork is required when Transactional is set.
	UnitOfWork    repositories.UnitOfWork
	Transactional bool
	Retry         RetryPolicy
	Clock         func() time.Time
	IDGenerator   func() string
	TokenSource   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderSteps struct {
	ledger    InventoryLedger
	customers CustomerResolver
	pricing   *PricingReconciler
	orders    repositories.OrderRepository
	numbers   sequenceNumberer
	clock     func() time.Time
	newID     func() string
	newToken  func() string
	logger    func(context.Context, string, map[string]any)
}

// sequentialOrderBuilder runs every step as an independent write. A failure after stock
// was taken restores it, but concurrent checkouts can still oversell.
type sequentialOrderBuilder struct {
	steps *orderSteps
}

// transactionalOrderBuilder runs the steps in one unit of work and falls back to the
// sequential builder once retries are spent.
type transactionalOrderBuilder struct {
	steps    *orderSteps
	retrier  *txRetrier
	fallback OrderBuilder
}

// NewOrderBuilder returns the transactional builder when deps.Transactional is set, else the sequential one.
func NewOrderBuilder(deps OrderBuilderDeps) (OrderBuilder, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("order builder: inventory ledger is required")
	case deps.Customers == nil:
		return nil, errors.New("order builder: customer resolver is required")
	case deps.Orders == nil:
		return nil, errors.New("order builder: order repository is required")
	case deps.Counters == nil:
		return nil, errors.New("order builder: counter repository is required")
	case deps.Transactional && deps.UnitOfWork == nil:
		return nil, errors.New("order builder: unit of work is required for transactional builds")
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	pricing := deps.Pricing
	if pricing == nil {
		pricing = NewPricingReconciler(logger)
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	tokens := deps.TokenSource
	if tokens == nil {
		tokens = newInvoiceToken
	}

	steps := &orderSteps{
		ledger:    deps.Ledger,
		customers: deps.Customers,
		pricing:   pricing,
		orders:    deps.Orders,
		numbers:   sequenceNumberer{counters: deps.Counters},
		clock:     utcClock(deps.Clock),
		newID:     idGen,
		newToken:  tokens,
		logger:    logger,
	}
	sequential := &sequentialOrderBuilder{steps: steps}
	if !deps.Transactional {
		return sequential, nil
	}
	return &transactionalOrderBuilder{
		steps:    steps,
		retrier:  newTxRetrier(deps.UnitOfWork, deps.Retry, logger),
		fallback: sequential,
	}, nil
}

func (b *sequentialOrderBuilder) Build(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	return b.steps.run(ctx, cmd, false)
}

func (b *transactionalOrderBuilder) Build(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateOrderCommand(cmd); err != nil {
		return Order{}, err
	}
	// attempts carry their own deadline and the fallback runs unbounded, so the
	// caller's deadline must not cut either short
	ctx = context.WithoutCancel(ctx)
	var order Order
	err := b.retrier.run(ctx, "order", func(txCtx context.Context) error {
		built, err := b.steps.run(txCtx, cmd, true)
		if err != nil {
			return err
		}
		order = built
		return nil
	})
	if errors.Is(err, errRetriesExhausted) {
		return b.fallback.Build(ctx, cmd)
	}
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// run executes validate, inventory, pricing, customer and persist. When atomic is false
// every failure after the stock decrement gives the stock back.
func (s *orderSteps) run(ctx context.Context, cmd CreateOrderCommand, atomic bool) (Order, error) {
	if err := validateOrderCommand(cmd); err != nil {
		return Order{}, err
	}
	store := cmd.Store
	now := s.clock()

	reserved, err := s.ledger.Reserve(ctx, store.ID, cmd.Items)
	if err != nil {
		return Order{}, err
	}
	compensate := func(cause error) error {
		if atomic {
			return cause
		}
		if restoreErr := s.ledger.Restore(context.WithoutCancel(ctx), store.ID, reserved); restoreErr != nil {
			s.logger(ctx, "order.builder.compensation_failed", map[string]any{
				"storeId": store.ID,
				"error":   restoreErr.Error(),
			})
		}
		return cause
	}

	pricing, items, err := s.pricing.Reconcile(ctx, PricingInput{
		Lines:          reserved,
		Shipping:       cmd.Delivery.Fee,
		Discount:       cmd.Discount,
		DiscountCode:   cmd.DiscountCode,
		Currency:       store.Currency,
		ClientSubtotal: cmd.ClientSubtotal,
		ClientTotal:    cmd.ClientTotal,
	})
	if err != nil {
		return Order{}, compensate(err)
	}

	customer, err := s.customers.Resolve(ctx, CustomerInput{
		TenantID: tenantOf(store),
		Email:    cmd.Customer.Email,
		Name:     cmd.Customer.Name,
		Phone:    cmd.Customer.Phone,
		Address:  cmd.Customer.Address,
		Guest:    cmd.Guest,
		Activity: &CustomerActivity{Kind: ActivityOrder, Amount: pricing.Total, At: now},
	})
	if err != nil {
		return Order{}, compensate(err)
	}

	number, err := s.numbers.next(ctx, "orders", "", store, now)
	if err != nil {
		return Order{}, compensate(err)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	delivery := cmd.Delivery
	delivery.Address = cloneAddress(delivery.Address)
	delivery.Notes = textutil.Sanitize(delivery.Notes)
	delivery.Fee = pricing.Shipping

	order := Order{
		ID:           orderIDPrefix + s.newID(),
		TenantID:     tenantOf(store),
		StoreID:      store.ID,
		OrderNumber:  number,
		InvoiceToken: s.newToken(),
		CustomerID:   customer.ID,
		Customer: CustomerSnapshot{
			ID:      customer.ID,
			Name:    strings.TrimSpace(cmd.Customer.Name),
			Email:   textutil.NormalizeEmail(cmd.Customer.Email),
			Phone:   strings.TrimSpace(cmd.Customer.Phone),
			Address: cloneAddress(cmd.Customer.Address),
		},
		Items:    items,
		Delivery: delivery,
		Pricing:  pricing,
		Status:   domain.OrderStatusPending,
		Timeline: appendTimeline(nil, string(domain.OrderStatusPending), "Order placed", actor, now),
		Payment: Payment{
			Method:   strings.TrimSpace(cmd.PaymentMethod),
			Status:   domain.PaymentStatusPending,
			Amount:   pricing.Total,
			ProofURL: strings.TrimSpace(cmd.PaymentProofURL),
		},
		Notes:     textutil.Sanitize(cmd.Notes),
		Source:    strings.TrimSpace(cmd.Source),
		Metadata:  cloneMap(cmd.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, compensate(mapRepositoryError(err))
	}
	return order, nil
}

func validateOrderCommand(cmd CreateOrderCommand) error {
	if err := validateContact(cmd.Customer); err != nil {
		return err
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: items[%d].productId is required", ErrValidation, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrValidation, i)
		}
	}
	if cmd.Delivery.Fee < 0 || cmd.Discount < 0 {
		return fmt.Errorf("%w: shipping and discount must not be negative", ErrValidation)
	}
	if strings.TrimSpace(cmd.Store.ID) == "" {
		return ErrStoreResolution
	}
	return nil
}

func validateContact(contact ContactInput) error {
	email := strings.TrimSpace(contact.Email)
	switch {
	case email == "":
		return fmt.Errorf("%w: customer email is required", ErrValidation)
	case !emailPattern.MatchString(email):
		return fmt.Errorf("%w: customer email is malformed", ErrValidation)
	case strings.TrimSpace(contact.Name) == "":
		return fmt.Errorf("%w: customer name is required", ErrValidation)
	case strings.TrimSpace(contact.Phone) == "":
		return fmt.Errorf("%w: customer phone is required", ErrValidation)
	case !phonePattern.MatchString(strings.TrimSpace(contact.Phone)):
		return fmt.Errorf("%w: customer phone is malformed", ErrValidation)
	}
	return nil
}
