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

const bookingIDPrefix = "bkg_"

var clockTimePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// knownBookingMetadata lists metadata keys whose values must be scalars. Other keys pass through.
var knownBookingMetadata = map[string]struct{}{
	"source":          {},
	"notes":           {},
	"specialRequests": {},
	"referral":        {},
	"guests":          {},
}

// BookingBuilder creates a persisted booking for a slot.
type BookingBuilder interface {
	Build(ctx context.Context, cmd CreateBookingCommand) (Booking, error)
}

// BookingBuilderDeps mirrors OrderBuilderDeps for the booking flow.
type BookingBuilderDeps struct {
	Slots         repositories.SlotRepository
	Customers     CustomerResolver
	Pricing       *PricingReconciler
	Bookings      repositories.BookingRepository
	Counters      repositories.CounterRepository
	UnitOfWork    repositories.UnitOfWork
	Transactional bool
	Retry         RetryPolicy
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type bookingSteps struct {
	slots     repositories.SlotRepository
	customers CustomerResolver
	pricing   *PricingReconciler
	bookings  repositories.BookingRepository
	numbers   sequenceNumberer
	clock     func() time.Time
	newID     func() string
}

type sequentialBookingBuilder struct {
	steps *bookingSteps
}

type transactionalBookingBuilder struct {
	steps    *bookingSteps
	retrier  *txRetrier
	fallback BookingBuilder
}

// NewBookingBuilder returns the transactional builder when deps.Transactional is set, else the sequential one.
func NewBookingBuilder(deps BookingBuilderDeps) (BookingBuilder, error) {
	switch {
	case deps.Slots == nil:
		return nil, errors.New("booking builder: slot repository is required")
	case deps.Customers == nil:
		return nil, errors.New("booking builder: customer resolver is required")
	case deps.Bookings == nil:
		return nil, errors.New("booking builder: booking repository is required")
	case deps.Counters == nil:
		return nil, errors.New("booking builder: counter repository is required")
	case deps.Transactional && deps.UnitOfWork == nil:
		return nil, errors.New("booking builder: unit of work is required for transactional builds")
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

	steps := &bookingSteps{
		slots:     deps.Slots,
		customers: deps.Customers,
		pricing:   pricing,
		bookings:  deps.Bookings,
		numbers:   sequenceNumberer{counters: deps.Counters},
		clock:     utcClock(deps.Clock),
		newID:     idGen,
	}
	sequential := &sequentialBookingBuilder{steps: steps}
	if !deps.Transactional {
		return sequential, nil
	}
	return &transactionalBookingBuilder{
		steps:    steps,
		retrier:  newTxRetrier(deps.UnitOfWork, deps.Retry, logger),
		fallback: sequential,
	}, nil
}

func (b *sequentialBookingBuilder) Build(ctx context.Context, cmd CreateBookingCommand) (Booking, error) {
	return b.steps.run(ctx, cmd)
}

func (b *transactionalBookingBuilder) Build(ctx context.Context, cmd CreateBookingCommand) (Booking, error) {
	if err := validateBookingCommand(&cmd); err != nil {
		return Booking{}, err
	}
	// attempts carry their own deadline and the fallback runs unbounded, so the
	// caller's deadline must not cut either short
	ctx = context.WithoutCancel(ctx)
	var booking Booking
	err := b.retrier.run(ctx, "booking", func(txCtx context.Context) error {
		built, err := b.steps.run(txCtx, cmd)
		if err != nil {
			return err
		}
		booking = built
		return nil
	})
	if errors.Is(err, errRetriesExhausted) {
		return b.fallback.Build(ctx, cmd)
	}
	if err != nil {
		return Booking{}, err
	}
	return booking, nil
}

// run does not check other bookings on the same slot; capacity is informational only.
func (s *bookingSteps) run(ctx context.Context, cmd CreateBookingCommand) (Booking, error) {
	if err := validateBookingCommand(&cmd); err != nil {
		return Booking{}, err
	}
	store := cmd.Store
	now := s.clock()

	slot, err := s.slots.FindByID(ctx, strings.TrimSpace(cmd.SlotID))
	if err != nil {
		return Booking{}, mapRepositoryError(err)
	}
	if slot.StoreID != store.ID {
		return Booking{}, fmt.Errorf("%w: slot %s", ErrNotFound, cmd.SlotID)
	}
	if slot.Status != domain.SlotStatusActive {
		return Booking{}, fmt.Errorf("%w: slot %s is not available", ErrValidation, slot.ID)
	}

	pricing, err := s.pricing.ReconcileBooking(ctx, BookingPricingInput{
		Price:       slot.Price,
		Quantity:    cmd.Details.Quantity,
		Discount:    cmd.Discount,
		Currency:    store.Currency,
		ClientTotal: cmd.ClientTotal,
	})
	if err != nil {
		return Booking{}, err
	}

	customer, err := s.customers.Resolve(ctx, CustomerInput{
		TenantID: tenantOf(store),
		Email:    cmd.Customer.Email,
		Name:     cmd.Customer.Name,
		Phone:    cmd.Customer.Phone,
		Address:  cmd.Customer.Address,
		Guest:    cmd.Guest,
		Activity: &CustomerActivity{Kind: ActivityBooking, Amount: pricing.Total, At: now},
	})
	if err != nil {
		return Booking{}, err
	}

	number, err := s.numbers.next(ctx, "bookings", "B", store, now)
	if err != nil {
		return Booking{}, err
	}

	details := cmd.Details
	details.Notes = textutil.Sanitize(details.Notes)

	booking := Booking{
		ID:            bookingIDPrefix + s.newID(),
		TenantID:      tenantOf(store),
		StoreID:       store.ID,
		BookingNumber: number,
		CustomerID:    customer.ID,
		Customer: CustomerSnapshot{
			ID:      customer.ID,
			Name:    strings.TrimSpace(cmd.Customer.Name),
			Email:   textutil.NormalizeEmail(cmd.Customer.Email),
			Phone:   strings.TrimSpace(cmd.Customer.Phone),
			Address: cloneAddress(cmd.Customer.Address),
		},
		Slot: SlotSnapshot{
			ID:           slot.ID,
			Name:         slot.Name,
			Type:         slot.Type,
			Price:        slot.Price,
			Capacity:     slot.Capacity,
			Duration:     slot.Duration,
			DurationUnit: slot.DurationUnit,
		},
		Details:  details,
		Pricing:  pricing,
		Status:   domain.BookingStatusPending,
		Timeline: appendTimeline(nil, string(domain.BookingStatusPending), "Booking created", strings.TrimSpace(cmd.ActorID), now),
		Payment: Payment{
			Method:   strings.TrimSpace(cmd.PaymentMethod),
			Status:   domain.PaymentStatusPending,
			Amount:   pricing.Total,
			ProofURL: strings.TrimSpace(cmd.PaymentProofURL),
		},
		Metadata:  cloneMap(cmd.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.bookings.Insert(ctx, booking); err != nil {
		return Booking{}, mapRepositoryError(err)
	}
	return booking, nil
}

// validateBookingCommand also fills defaults: quantity 1 and an end date equal to the start date.
func validateBookingCommand(cmd *CreateBookingCommand) error {
	if strings.TrimSpace(cmd.Store.ID) == "" {
		return ErrStoreResolution
	}
	if err := validateContact(cmd.Customer); err != nil {
		return err
	}
	if strings.TrimSpace(cmd.SlotID) == "" {
		return fmt.Errorf("%w: slotId is required", ErrValidation)
	}
	details := &cmd.Details
	if details.StartDate.IsZero() {
		return fmt.Errorf("%w: startDate is required", ErrValidation)
	}
	if details.EndDate.IsZero() {
		details.EndDate = details.StartDate
	}
	if details.EndDate.Before(details.StartDate) {
		return fmt.Errorf("%w: endDate must not be before startDate", ErrValidation)
	}
	if details.Quantity == 0 {
		details.Quantity = 1
	}
	if details.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	for field, value := range map[string]string{"startTime": details.StartTime, "endTime": details.EndTime} {
		if value = strings.TrimSpace(value); value != "" && !clockTimePattern.MatchString(value) {
			return fmt.Errorf("%w: %s must be HH:MM", ErrValidation, field)
		}
	}
	if cmd.Discount < 0 {
		return fmt.Errorf("%w: discount must not be negative", ErrValidation)
	}
	if cmd.Store.BookingSettings.RequirePaymentProof && strings.TrimSpace(cmd.PaymentProofURL) == "" {
		return fmt.Errorf("%w: payment proof is required", ErrValidation)
	}
	return validateBookingMetadata(cmd.Metadata)
}

func validateBookingMetadata(metadata map[string]any) error {
	for key, value := range metadata {
		if _, known := knownBookingMetadata[key]; !known {
			continue
		}
		switch value.(type) {
		case nil, string, float64, float32, int, int32, int64:
		default:
			return fmt.Errorf("%w: metadata.%s must be a string or number", ErrValidation, key)
		}
	}
	return nil
}
