package services

import (
	"context"
	"errors"
	"slices"
	"testing"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/payments"
)

type bookingServiceFixture struct {
	bookings      *memBookings
	notifications *recordingNotifications
	events        *captureEvents
	gateway       *stubGateway
	logger        *captureLogger
	svc           *bookingService
}

func newBookingServiceFixture(t *testing.T) *bookingServiceFixture {
	t.Helper()
	f := &bookingServiceFixture{
		bookings:      newMemBookings(),
		notifications: &recordingNotifications{},
		events:        &captureEvents{},
		gateway:       &stubGateway{},
		logger:        &captureLogger{},
	}
	builder := newTestBookingBuilder(t, slotLookup(studioSlot()), f.bookings, newMemCounters(), newMemCustomers())
	svc, err := NewBookingService(BookingServiceDeps{
		Builder:       builder,
		Bookings:      f.bookings,
		Stores:        &stubStoreRepo{byID: map[string]domain.Store{"store_1": testStore()}},
		UnitOfWork:    &scriptedUnitOfWork{},
		Payments:      f.gateway,
		Notifications: f.notifications,
		Events:        f.events,
		Clock:         fixedClock(machineNow),
		IDGenerator:   sequenceIDs("01B"),
		Logger:        f.logger.log,
	})
	if err != nil {
		t.Fatalf("NewBookingService: %v", err)
	}
	f.svc = svc.(*bookingService)
	return f
}

func (f *bookingServiceFixture) seed(mutate func(*Booking)) Booking {
	booking := Booking{
		ID:            "bkg_seed",
		StoreID:       "store_1",
		BookingNumber: "KOPB26030001",
		Status:        domain.BookingStatusConfirmed,
		Timeline:      []TimelineEntry{{Status: "pending", Note: "Booking created"}},
		Pricing:       Pricing{Subtotal: 150, Total: 130, Currency: "EUR"},
		Payment:       Payment{Method: "stripe", Status: domain.PaymentStatusCompleted, Amount: 130, Reference: "pi_777", Provider: "stripe"},
	}
	if mutate != nil {
		mutate(&booking)
	}
	f.bookings.items[booking.ID] = booking
	return booking
}

func TestBookingServiceCreateBooking(t *testing.T) {
	f := newBookingServiceFixture(t)

	booking, err := f.svc.CreateBooking(context.Background(), bookingCommand())
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	f.svc.notifier.wait()

	if booking.Status != domain.BookingStatusPending {
		t.Fatalf("unexpected status %s", booking.Status)
	}
	if got := f.notifications.kinds(); !slices.Equal(got, []string{"booking.confirmation", "booking.internal"}) {
		t.Fatalf("unexpected notifications %v", got)
	}
	if got := f.events.types(); !slices.Equal(got, []string{"booking.created"}) {
		t.Fatalf("unexpected events %v", got)
	}
	if f.events.events[0].Metadata["startDate"] != "2026-03-20" {
		t.Fatalf("unexpected metadata %+v", f.events.events[0].Metadata)
	}
}

func TestBookingServiceLifecycle(t *testing.T) {
	f := newBookingServiceFixture(t)
	f.seed(nil)

	booking, err := f.svc.UpdateStatus(context.Background(), UpdateStatusCommand{StoreID: "store_1", EntityID: "bkg_seed", Status: "completed", NotifyCustomer: true})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	f.svc.notifier.wait()
	if booking.Status != domain.BookingStatusCompleted || len(booking.Timeline) != 2 {
		t.Fatalf("unexpected booking %+v", booking)
	}
	if got := f.notifications.kinds(); !slices.Equal(got, []string{"booking.status:confirmed"}) {
		t.Fatalf("unexpected notifications %v", got)
	}

	if _, err := f.svc.Cancel(context.Background(), CancelCommand{StoreID: "store_1", EntityID: "bkg_seed", Reason: "late"}); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable for a completed booking, got %v", err)
	}
	if _, err := f.svc.GetBooking(context.Background(), "store_9", "bkg_seed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another store, got %v", err)
	}
}

func TestBookingServiceCancelWithRefundKeepsCancelledStatus(t *testing.T) {
	f := newBookingServiceFixture(t)
	f.seed(nil)
	amount := 50.0

	booking, err := f.svc.Cancel(context.Background(), CancelCommand{StoreID: "store_1", EntityID: "bkg_seed", Reason: "weather", RefundAmount: &amount})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	f.svc.notifier.wait()

	if booking.Status != domain.BookingStatusCancelled || booking.Payment.Status != domain.PaymentStatusPartiallyRefunded {
		t.Fatalf("unexpected statuses %s/%s", booking.Status, booking.Payment.Status)
	}
	if f.gateway.calls != 0 {
		t.Fatalf("cancellation refunds are recorded without a provider call")
	}
	if !slices.Contains(f.notifications.kinds(), "booking.cancellation") {
		t.Fatalf("expected cancellation notification")
	}
	if !CanRefundBooking(booking) {
		t.Fatalf("cancelled booking with a balance must stay refundable")
	}
}

func TestBookingServiceRefundThroughProvider(t *testing.T) {
	f := newBookingServiceFixture(t)
	f.seed(func(b *Booking) { b.Status = domain.BookingStatusNoShow })
	f.gateway.refundFn = func(_ context.Context, pc payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
		if pc.PreferredProvider != "stripe" || *req.Amount != 13000 || req.Metadata["bookingId"] != "bkg_seed" {
			t.Errorf("unexpected provider call %+v %+v", pc, req)
		}
		return payments.PaymentDetails{RefundID: "re_b1"}, nil
	}

	booking, refund, err := f.svc.Refund(context.Background(), RefundCommand{StoreID: "store_1", EntityID: "bkg_seed", Amount: 130, Reason: "no show waived"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if booking.Status != domain.BookingStatusRefunded || refund.ProviderRef != "re_b1" || refund.ID != "rfd_01B01" {
		t.Fatalf("unexpected result %+v %+v", booking, refund)
	}
	if !slices.Contains(f.events.types(), "booking.refunded") {
		t.Fatalf("expected refunded event")
	}
}

func TestBookingServiceRefundWithoutGatewayFails(t *testing.T) {
	f := newBookingServiceFixture(t)
	f.seed(func(b *Booking) { b.Status = domain.BookingStatusCompleted })
	f.svc.payments = nil

	if _, _, err := f.svc.Refund(context.Background(), RefundCommand{StoreID: "store_1", EntityID: "bkg_seed", Amount: 10}); !errors.Is(err, ErrPaymentProvider) {
		t.Fatalf("expected ErrPaymentProvider, got %v", err)
	}
	if stored := f.bookings.items["bkg_seed"]; stored.Payment.RefundedAmount != 0 {
		t.Fatalf("booking must be unchanged")
	}
}
