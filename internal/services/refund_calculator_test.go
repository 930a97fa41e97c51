package services

import (
	"errors"
	"testing"

	domain "github.com/sqaleshop/api/internal/domain"
)

func TestRefundCalculatorAccumulatesWithoutDrift(t *testing.T) {
	calc := RefundCalculator{}
	payment := Payment{Status: domain.PaymentStatusCompleted, Amount: 0.3}
	var timeline []TimelineEntry

	for _, amount := range []float64{0.1, 0.2} {
		if _, err := calc.Apply(RefundTarget{Payment: &payment, Timeline: &timeline}, RefundRequest{Amount: amount}, machineNow); err != nil {
			t.Fatalf("Apply(%v): %v", amount, err)
		}
	}
	if payment.RefundedAmount != 0.3 || payment.Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected exact full refund, got %+v", payment)
	}
	if RemainingRefundable(payment) != 0 {
		t.Fatalf("expected nothing remaining, got %v", RemainingRefundable(payment))
	}
	if len(timeline) != 2 || timeline[0].Note != "Refund of 0.10 processed" || timeline[1].Status != "refunded" {
		t.Fatalf("unexpected timeline %+v", timeline)
	}
}

func TestRefundCalculatorRejectsBadAmounts(t *testing.T) {
	calc := RefundCalculator{}
	for _, amount := range []float64{0, -5, 100.01} {
		payment := Payment{Status: domain.PaymentStatusCompleted, Amount: 100}
		if _, err := calc.Apply(RefundTarget{Payment: &payment}, RefundRequest{Amount: amount}, machineNow); !errors.Is(err, ErrInvalidRefundAmount) {
			t.Fatalf("amount %v: expected ErrInvalidRefundAmount, got %v", amount, err)
		}
		if payment.Status != domain.PaymentStatusCompleted || len(payment.Refunds) != 0 {
			t.Fatalf("amount %v: payment mutated %+v", amount, payment)
		}
	}
}

func TestRemainingRefundableNeverNegative(t *testing.T) {
	if got := RemainingRefundable(Payment{Amount: 10, RefundedAmount: 12}); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestRefundEligibility(t *testing.T) {
	paid := Payment{Status: domain.PaymentStatusCompleted, Amount: 50}
	orderCases := map[domain.OrderStatus]bool{
		domain.OrderStatusPending:           false,
		domain.OrderStatusConfirmed:         false,
		domain.OrderStatusProcessing:        false,
		domain.OrderStatusShipped:           true,
		domain.OrderStatusDelivered:         true,
		domain.OrderStatusCancelled:         false,
		domain.OrderStatusPartiallyRefunded: true,
		domain.OrderStatusRefunded:          false,
	}
	for status, want := range orderCases {
		if got := CanRefundOrder(Order{Status: status, Payment: paid}); got != want {
			t.Fatalf("CanRefundOrder(%s) = %v, want %v", status, got, want)
		}
	}

	bookingCases := map[domain.BookingStatus]bool{
		domain.BookingStatusPending:           false,
		domain.BookingStatusConfirmed:         false,
		domain.BookingStatusCompleted:         true,
		domain.BookingStatusCancelled:         true,
		domain.BookingStatusNoShow:            true,
		domain.BookingStatusPartiallyRefunded: true,
		domain.BookingStatusRefunded:          false,
	}
	for status, want := range bookingCases {
		if got := CanRefundBooking(Booking{Status: status, Payment: paid}); got != want {
			t.Fatalf("CanRefundBooking(%s) = %v, want %v", status, got, want)
		}
	}

	unpaid := Payment{Status: domain.PaymentStatusPending, Amount: 50}
	if CanRefundOrder(Order{Status: domain.OrderStatusDelivered, Payment: unpaid}) {
		t.Fatalf("unpaid order must not be refundable")
	}
	spent := Payment{Status: domain.PaymentStatusPartiallyRefunded, Amount: 50, RefundedAmount: 50}
	if CanRefundBooking(Booking{Status: domain.BookingStatusCompleted, Payment: spent}) {
		t.Fatalf("exhausted payment must not be refundable")
	}
}
