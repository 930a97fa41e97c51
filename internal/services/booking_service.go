package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sqaleshop/api/internal/repositories"
)

const (
	bookingEventCreated        = "booking.created"
	bookingEventStatusChanged  = "booking.status.changed"
	bookingEventPaymentUpdated = "booking.payment.updated"
	bookingEventCancelled      = "booking.cancelled"
	bookingEventRefunded       = "booking.refunded"
)

// BookingServiceDeps bundles collaborators required to construct the booking service.
type BookingServiceDeps struct {
	Builder       BookingBuilder
	Bookings      repositories.BookingRepository
	Stores        repositories.StoreRepository
	UnitOfWork    repositories.UnitOfWork
	Payments      PaymentGateway
	Notifications NotificationDispatcher
	Events        EventPublisher
	NotifyTimeout time.Duration
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type bookingService struct {
	builder    BookingBuilder
	bookings   repositories.BookingRepository
	unitOfWork repositories.UnitOfWork
	payments   PaymentGateway
	events     EventPublisher
	notifier   *asyncNotifier
	machine    StatusMachine
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewBookingService wires dependencies into a concrete BookingService implementation.
func NewBookingService(deps BookingServiceDeps) (BookingService, error) {
	if deps.Builder == nil {
		return nil, errors.New("booking service: booking builder is required")
	}
	if deps.Bookings == nil {
		return nil, errors.New("booking service: booking repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &bookingService{
		builder:    deps.Builder,
		bookings:   deps.Bookings,
		unitOfWork: unit,
		payments:   deps.Payments,
		events:     deps.Events,
		notifier:   newAsyncNotifier(deps.Notifications, deps.Stores, deps.NotifyTimeout, logger),
		machine:    NewStatusMachine(func() string { return refundIDPrefix + idGen() }),
		clock:      utcClock(deps.Clock),
		newID:      idGen,
		logger:     logger,
	}, nil
}

func (s *bookingService) CreateBooking(ctx context.Context, cmd CreateBookingCommand) (Booking, error) {
	booking, err := s.builder.Build(ctx, cmd)
	if err != nil {
		return Booking{}, err
	}
	s.notifier.send(ctx, "booking.confirmation", booking.ID, cmd.Store, func(ctx context.Context, d NotificationDispatcher, store Store) error {
		return d.SendBookingConfirmation(ctx, booking, store)
	})
	s.notifier.send(ctx, "booking.internal", booking.ID, cmd.Store, func(ctx context.Context, d NotificationDispatcher, store Store) error {
		return d.SendInternalBookingNotification(ctx, booking, store)
	})
	s.publish(ctx, bookingEventCreated, booking, "", cmd.ActorID, booking.CreatedAt, map[string]any{
		"slotId":    booking.Slot.ID,
		"startDate": booking.Details.StartDate.Format(time.DateOnly),
		"total":     booking.Pricing.Total,
	})
	return booking, nil
}

func (s *bookingService) GetBooking(ctx context.Context, storeID, bookingID string) (Booking, error) {
	return s.loadOwned(ctx, storeID, bookingID)
}

func (s *bookingService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (Booking, error) {
	now := s.clock()
	var previous string
	booking, err := s.mutate(ctx, cmd.StoreID, cmd.EntityID, func(b *Booking) error {
		previous = string(b.Status)
		return s.machine.SetBookingStatus(b, cmd.Status, cmd.Note, cmd.ActorID, now)
	})
	if err != nil {
		return Booking{}, err
	}
	if cmd.NotifyCustomer {
		s.notifier.send(ctx, "booking.status", booking.ID, Store{ID: booking.StoreID}, func(ctx context.Context, d NotificationDispatcher, store Store) error {
			return d.SendBookingStatusUpdate(ctx, booking, store, previous)
		})
	}
	s.publish(ctx, bookingEventStatusChanged, booking, previous, cmd.ActorID, now, nil)
	return booking, nil
}

func (s *bookingService) UpdatePayment(ctx context.Context, cmd UpdatePaymentCommand) (Booking, error) {
	now := s.clock()
	var previous string
	booking, err := s.mutate(ctx, cmd.StoreID, cmd.EntityID, func(b *Booking) error {
		previous = string(b.Status)
		return s.machine.SetBookingPayment(b, cmd, now)
	})
	if err != nil {
		return Booking{}, err
	}
	s.publish(ctx, bookingEventPaymentUpdated, booking, previous, cmd.ActorID, now, map[string]any{
		"paymentStatus": string(booking.Payment.Status),
	})
	if previous != string(booking.Status) {
		s.publish(ctx, bookingEventStatusChanged, booking, previous, cmd.ActorID, now, nil)
	}
	return booking, nil
}

func (s *bookingService) Cancel(ctx context.Context, cmd CancelCommand) (Booking, error) {
	now := s.clock()
	var previous string
	booking, err := s.mutate(ctx, cmd.StoreID, cmd.EntityID, func(b *Booking) error {
		previous = string(b.Status)
		_, err := s.machine.CancelBooking(b, cmd, now)
		return err
	})
	if err != nil {
		return Booking{}, err
	}
	s.notifier.send(ctx, "booking.cancellation", booking.ID, Store{ID: booking.StoreID}, func(ctx context.Context, d NotificationDispatcher, store Store) error {
		return d.SendBookingCancellation(ctx, booking, store)
	})
	s.publish(ctx, bookingEventCancelled, booking, previous, cmd.ActorID, now, map[string]any{
		"reason":        booking.CancelReason,
		"paymentStatus": string(booking.Payment.Status),
	})
	return booking, nil
}

func (s *bookingService) Refund(ctx context.Context, cmd RefundCommand) (Booking, Refund, error) {
	current, err := s.loadOwned(ctx, cmd.StoreID, cmd.EntityID)
	if err != nil {
		return Booking{}, Refund{}, err
	}
	if !CanRefundBooking(current) {
		return Booking{}, Refund{}, fmt.Errorf("%w: booking status %q, payment status %q", ErrNotRefundable, current.Status, current.Payment.Status)
	}
	if err := checkRefundAmount(current.Payment, cmd.Amount); err != nil {
		return Booking{}, Refund{}, err
	}

	method := strings.TrimSpace(cmd.Method)
	if method == "" {
		method = current.Payment.Method
	}
	refundID := refundIDPrefix + s.newID()
	providerRef, err := executeProviderRefund(ctx, s.payments, providerRefund{
		RefundID:  refundID,
		EntityID:  current.ID,
		EntityKey: "bookingId",
		StoreID:   current.StoreID,
		Method:    method,
		Payment:   current.Payment,
		Currency:  current.Pricing.Currency,
		Amount:    cmd.Amount,
		Reason:    cmd.Reason,
	})
	if err != nil {
		return Booking{}, Refund{}, err
	}

	now := s.clock()
	var refund Refund
	booking, err := s.mutate(ctx, cmd.StoreID, cmd.EntityID, func(b *Booking) error {
		applied, err := s.machine.RefundBooking(b, RefundRequest{
			ID:          refundID,
			Amount:      cmd.Amount,
			Reason:      cmd.Reason,
			Method:      method,
			ProviderRef: providerRef,
			Actor:       cmd.ActorID,
		}, now)
		refund = applied
		return err
	})
	if err != nil {
		if providerRef != "" {
			s.logger(ctx, "booking.refund.persist_failed", map[string]any{
				"bookingId":   current.ID,
				"refundId":    refundID,
				"providerRef": providerRef,
				"error":       err.Error(),
			})
		}
		return Booking{}, Refund{}, err
	}

	s.notifier.send(ctx, "booking.refund", booking.ID, Store{ID: booking.StoreID}, func(ctx context.Context, d NotificationDispatcher, store Store) error {
		return d.SendBookingRefundConfirmation(ctx, booking, store, refund)
	})
	s.publish(ctx, bookingEventRefunded, booking, string(current.Status), cmd.ActorID, now, map[string]any{
		"refundId": refund.ID,
		"amount":   refund.Amount,
	})
	return booking, refund, nil
}

// mutate loads, changes and saves a booking inside one unit of work.
func (s *bookingService) mutate(ctx context.Context, storeID, bookingID string, change func(*Booking) error) (Booking, error) {
	var booking Booking
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.loadOwned(txCtx, storeID, bookingID)
		if err != nil {
			return err
		}
		if err := change(&loaded); err != nil {
			return err
		}
		if err := s.bookings.Update(txCtx, loaded); err != nil {
			return mapRepositoryError(err)
		}
		booking = loaded
		return nil
	})
	return booking, err
}

func (s *bookingService) loadOwned(ctx context.Context, storeID, bookingID string) (Booking, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return Booking{}, fmt.Errorf("%w: booking id is required", ErrValidation)
	}
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return Booking{}, mapRepositoryError(err)
	}
	if storeID = strings.TrimSpace(storeID); storeID != "" && booking.StoreID != storeID {
		return Booking{}, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	return booking, nil
}

func (s *bookingService) publish(ctx context.Context, eventType string, booking Booking, previous, actor string, at time.Time, metadata map[string]any) {
	publishEvent(ctx, s.events, s.logger, DomainEvent{
		Type:           eventType,
		StoreID:        booking.StoreID,
		EntityID:       booking.ID,
		EntityNumber:   booking.BookingNumber,
		PreviousStatus: previous,
		CurrentStatus:  string(booking.Status),
		ActorID:        strings.TrimSpace(actor),
		OccurredAt:     at,
		Metadata:       metadata,
	})
}
