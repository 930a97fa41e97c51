package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/sqaleshop/api/internal/domain"
)

// RefundRequest is one refund to apply to a payment.
type RefundRequest struct {
	// ID is generated when empty.
	ID          string
	Amount      float64
	Reason      string
	Method      string
	ProviderRef string
	Actor       string
}

// RefundCalculator applies refunds to payments. It holds no state.
type RefundCalculator struct {
	newID func() string
}

// RefundTarget abstracts the entity being refunded so orders and bookings share Apply.
// Cancellations leave Timeline and SetRefunded nil so the entity keeps its cancelled status.
type RefundTarget struct {
	Payment  *Payment
	Timeline *[]TimelineEntry
	// SetRefunded receives true for a full refund and false for a partial one.
	SetRefunded func(full bool)
}

// RemainingRefundable returns max(amount - refundedAmount, 0).
func RemainingRefundable(payment Payment) float64 {
	remaining := decimal.NewFromFloat(payment.Amount).Sub(decimal.NewFromFloat(payment.RefundedAmount))
	if remaining.IsNegative() {
		return 0
	}
	return remaining.Round(2).InexactFloat64()
}

// CanRefundOrder reports whether a shipped, delivered or partially refunded order has a settled payment with a balance left.
func CanRefundOrder(order Order) bool {
	switch order.Status {
	case domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusPartiallyRefunded:
	default:
		return false
	}
	return paymentRefundable(order.Payment)
}

// CanRefundBooking is CanRefundOrder for bookings.
func CanRefundBooking(booking Booking) bool {
	switch booking.Status {
	case domain.BookingStatusCompleted, domain.BookingStatusCancelled, domain.BookingStatusNoShow,
		domain.BookingStatusPartiallyRefunded:
	default:
		return false
	}
	return paymentRefundable(booking.Payment)
}

func paymentRefundable(payment Payment) bool {
	switch payment.Status {
	case domain.PaymentStatusCompleted, domain.PaymentStatusPartiallyRefunded:
		return RemainingRefundable(payment) > 0
	}
	return false
}

// Apply validates the amount against the remaining balance and mutates target only on success.
func (c RefundCalculator) Apply(target RefundTarget, req RefundRequest, now time.Time) (Refund, error) {
	amount := decimal.NewFromFloat(req.Amount).Round(2)
	remaining := decimal.NewFromFloat(RemainingRefundable(*target.Payment))
	if !amount.IsPositive() {
		return Refund{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRefundAmount)
	}
	if amount.GreaterThan(remaining) {
		return Refund{}, fmt.Errorf("%w: %s exceeds refundable %s", ErrInvalidRefundAmount, amount.StringFixed(2), remaining.StringFixed(2))
	}

	id := strings.TrimSpace(req.ID)
	if id == "" && c.newID != nil {
		id = c.newID()
	}
	refund := Refund{
		ID:          id,
		Amount:      amount.InexactFloat64(),
		Reason:      strings.TrimSpace(req.Reason),
		Method:      strings.TrimSpace(req.Method),
		ProviderRef: strings.TrimSpace(req.ProviderRef),
		ProcessedAt: now,
		ProcessedBy: strings.TrimSpace(req.Actor),
	}

	payment := target.Payment
	refunded := decimal.NewFromFloat(payment.RefundedAmount).Add(amount).Round(2)
	payment.RefundedAmount = refunded.InexactFloat64()
	payment.Refunds = append(payment.Refunds, refund)
	full := refunded.GreaterThanOrEqual(decimal.NewFromFloat(payment.Amount))
	if full {
		payment.Status = domain.PaymentStatusRefunded
	} else {
		payment.Status = domain.PaymentStatusPartiallyRefunded
	}

	if target.SetRefunded != nil {
		target.SetRefunded(full)
	}
	if target.Timeline != nil {
		status := string(payment.Status)
		*target.Timeline = appendTimeline(*target.Timeline, status,
			fmt.Sprintf("Refund of %s processed", amount.StringFixed(2)), refund.ProcessedBy, now)
	}
	return refund, nil
}
