package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sqaleshop/api/internal/platform/textutil"
	"github.com/sqaleshop/api/internal/repositories"
)

// CustomerResolverDeps bundles collaborators required by the customer resolver.
type CustomerResolverDeps struct {
	Customers repositories.CustomerRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type customerResolver struct {
	customers repositories.CustomerRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCustomerResolver constructs the resolver.
func NewCustomerResolver(deps CustomerResolverDeps) (CustomerResolver, error) {
	if deps.Customers == nil {
		return nil, errors.New("customer resolver: customer repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &customerResolver{
		customers: deps.Customers,
		clock:     utcClock(deps.Clock),
		logger:    logger,
	}, nil
}

// Resolve returns the single customer for (tenant, email), creating it on first sight.
// A lost insert race re-reads the winner instead of failing.
func (r *customerResolver) Resolve(ctx context.Context, input CustomerInput) (Customer, error) {
	tenantID := strings.TrimSpace(input.TenantID)
	email := textutil.NormalizeEmail(input.Email)
	if tenantID == "" {
		return Customer{}, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if email == "" {
		return Customer{}, fmt.Errorf("%w: customer email is required", ErrValidation)
	}
	input.TenantID = tenantID
	input.Email = email

	existing, err := r.customers.FindByTenantEmail(ctx, tenantID, email)
	if err == nil {
		return r.refresh(ctx, existing, input)
	}
	if !isRepoNotFound(err) {
		return Customer{}, mapRepositoryError(err)
	}

	now := r.clock()
	customer := Customer{
		TenantID:  tenantID,
		Email:     email,
		Name:      strings.TrimSpace(input.Name),
		Phone:     strings.TrimSpace(input.Phone),
		Address:   cloneAddress(input.Address),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.Guest {
		customer.Metadata = map[string]any{
			"guestCustomer":  true,
			"guestCreatedAt": now.Format(time.RFC3339),
		}
	}
	applyActivity(&customer, input.Activity)

	created, err := r.customers.Insert(ctx, customer)
	if err == nil {
		return created, nil
	}
	if !isRepoConflict(err) {
		return Customer{}, mapRepositoryError(err)
	}

	r.logger(ctx, "customer.insert.conflict", map[string]any{"tenantId": tenantID})
	return r.resolveAfterConflict(ctx, input)
}

func (r *customerResolver) resolveAfterConflict(ctx context.Context, input CustomerInput) (Customer, error) {
	existing, err := r.customers.FindByTenantEmail(ctx, input.TenantID, input.Email)
	if err == nil {
		return r.refresh(ctx, existing, input)
	}
	if !isRepoNotFound(err) {
		return Customer{}, mapRepositoryError(err)
	}

	other, err := r.customers.FindByEmail(ctx, input.Email)
	if err != nil {
		if isRepoNotFound(err) {
			return Customer{}, fmt.Errorf("%w: no customer for tenant %s after insert conflict", ErrCustomerResolution, input.TenantID)
		}
		return Customer{}, mapRepositoryError(err)
	}
	if other.TenantID == input.TenantID {
		return r.refresh(ctx, other, input)
	}

	previous := other.TenantID
	other.TenantID = input.TenantID
	other.Metadata = ensureMap(cloneMap(other.Metadata))
	other.Metadata["reassignedFrom"] = previous
	mergeContact(&other, input)
	if err := r.save(ctx, &other, input.Activity); err != nil {
		return Customer{}, err
	}
	r.logger(ctx, "customer.tenant.reassigned", map[string]any{
		"customerId": other.ID,
		"fromTenant": previous,
		"toTenant":   input.TenantID,
	})
	return other, nil
}

// refresh applies the longer-wins merge and activity, saving only when something changed.
func (r *customerResolver) refresh(ctx context.Context, customer Customer, input CustomerInput) (Customer, error) {
	changed := mergeContact(&customer, input)
	if !changed && input.Activity == nil {
		return customer, nil
	}
	if err := r.save(ctx, &customer, input.Activity); err != nil {
		return Customer{}, err
	}
	return customer, nil
}

// save writes customer's contact fields and adds activity to the stored stats. The stats on
// customer are updated to match.
func (r *customerResolver) save(ctx context.Context, customer *Customer, activity *CustomerActivity) error {
	customer.UpdatedAt = r.clock()
	delta := statsDelta(activity)
	if err := r.customers.Update(ctx, *customer, delta); err != nil {
		return mapRepositoryError(err)
	}
	applyActivity(customer, activity)
	return nil
}

// mergeContact overwrites name, phone and address only with strictly longer values.
func mergeContact(customer *Customer, input CustomerInput) bool {
	changed := false
	if name := strings.TrimSpace(input.Name); len(name) > len(customer.Name) {
		customer.Name = name
		changed = true
	}
	if phone := strings.TrimSpace(input.Phone); len(phone) > len(customer.Phone) {
		customer.Phone = phone
		changed = true
	}
	if input.Address != nil && !input.Address.IsZero() {
		current := 0
		if customer.Address != nil {
			current = len(customer.Address.String())
		}
		if len(input.Address.String()) > current {
			customer.Address = cloneAddress(input.Address)
			changed = true
		}
	}
	return changed
}

func statsDelta(activity *CustomerActivity) repositories.CustomerStatsDelta {
	if activity == nil {
		return repositories.CustomerStatsDelta{}
	}
	at := activity.At
	delta := repositories.CustomerStatsDelta{
		Spent: decimal.NewFromFloat(activity.Amount).Round(2).InexactFloat64(),
	}
	switch activity.Kind {
	case ActivityOrder:
		delta.Orders = 1
		delta.LastOrderAt = &at
	case ActivityBooking:
		delta.Bookings = 1
		delta.LastBookingAt = &at
	default:
		return repositories.CustomerStatsDelta{}
	}
	return delta
}

func applyActivity(customer *Customer, activity *CustomerActivity) {
	if activity == nil {
		return
	}
	at := activity.At
	switch activity.Kind {
	case ActivityOrder:
		customer.Stats.OrderCount++
		customer.Stats.LastOrderAt = &at
	case ActivityBooking:
		customer.Stats.BookingCount++
		customer.Stats.LastBookingAt = &at
	default:
		return
	}
	customer.Stats.TotalSpent = decimal.NewFromFloat(customer.Stats.TotalSpent).
		Add(decimal.NewFromFloat(activity.Amount)).
		Round(2).InexactFloat64()
}
