package services

import (
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/platform/textutil"
)

// CanBeCancelled reports whether an order or booking status still allows cancellation.
func CanBeCancelled(status string) bool {
	switch status {
	case string(domain.OrderStatusPending), string(domain.OrderStatusConfirmed):
		return true
	}
	return false
}

// StatusMachine applies status, payment and cancellation changes in memory. Any status may
// follow any status; CanBeCancelled and the refund guards are the only eligibility checks.
// Callers persist the mutated entity.
type StatusMachine struct {
	refunds RefundCalculator
}

// NewStatusMachine constructs a machine whose refunds take ids from newID.
func NewStatusMachine(newID func() string) StatusMachine {
	return StatusMachine{refunds: RefundCalculator{newID: newID}}
}

// SetOrderStatus sets the status and appends exactly one timeline entry.
func (m StatusMachine) SetOrderStatus(order *Order, status, note, actor string, now time.Time) error {
	target := domain.OrderStatus(strings.TrimSpace(status))
	if !target.Valid() {
		return fmt.Errorf("%w: unknown order status %q", ErrValidation, status)
	}
	order.Status = target
	order.Timeline = appendTimeline(order.Timeline, string(target), textutil.Sanitize(note), strings.TrimSpace(actor), now)
	order.UpdatedAt = now
	return nil
}

// SetBookingStatus sets the status and appends exactly one timeline entry.
func (m StatusMachine) SetBookingStatus(booking *Booking, status, note, actor string, now time.Time) error {
	target := domain.BookingStatus(strings.TrimSpace(status))
	if !target.Valid() {
		return fmt.Errorf("%w: unknown booking status %q", ErrValidation, status)
	}
	booking.Status = target
	booking.Timeline = appendTimeline(booking.Timeline, string(target), textutil.Sanitize(note), strings.TrimSpace(actor), now)
	booking.UpdatedAt = now
	return nil
}

// SetOrderPayment updates the payment and confirms a pending order once payment completes.
func (m StatusMachine) SetOrderPayment(order *Order, cmd UpdatePaymentCommand, now time.Time) error {
	completed, err := setPayment(&order.Payment, cmd, now)
	if err != nil {
		return err
	}
	if completed && order.Status == domain.OrderStatusPending {
		order.Status = domain.OrderStatusConfirmed
		order.Timeline = appendTimeline(order.Timeline, string(domain.OrderStatusConfirmed), "Payment confirmed", strings.TrimSpace(cmd.ActorID), now)
	}
	order.UpdatedAt = now
	return nil
}

// SetBookingPayment is SetOrderPayment for bookings.
func (m StatusMachine) SetBookingPayment(booking *Booking, cmd UpdatePaymentCommand, now time.Time) error {
	completed, err := setPayment(&booking.Payment, cmd, now)
	if err != nil {
		return err
	}
	if completed && booking.Status == domain.BookingStatusPending {
		booking.Status = domain.BookingStatusConfirmed
		booking.Timeline = appendTimeline(booking.Timeline, string(domain.BookingStatusConfirmed), "Payment confirmed", strings.TrimSpace(cmd.ActorID), now)
	}
	booking.UpdatedAt = now
	return nil
}

func setPayment(payment *Payment, cmd UpdatePaymentCommand, now time.Time) (bool, error) {
	status := domain.PaymentStatus(strings.TrimSpace(cmd.Status))
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown payment status %q", ErrValidation, cmd.Status)
	}
	payment.Status = status
	if ref := strings.TrimSpace(cmd.Reference); ref != "" {
		payment.Reference = ref
	}
	if status != domain.PaymentStatusCompleted {
		return false, nil
	}
	paidAt := now
	payment.PaidAt = &paidAt
	return true, nil
}

// CancelOrder marks a pending or confirmed order cancelled and optionally records a refund.
// The order is left untouched when any check fails. Stock is restored by the caller.
func (m StatusMachine) CancelOrder(order *Order, cmd CancelCommand, now time.Time) (*Refund, error) {
	if !CanBeCancelled(string(order.Status)) {
		return nil, fmt.Errorf("%w: order status %q", ErrNotCancellable, order.Status)
	}
	next := *order
	next.Timeline = slices.Clone(order.Timeline)
	next.Payment.Refunds = slices.Clone(order.Payment.Refunds)

	reason := textutil.Sanitize(cmd.Reason)
	next.Status = domain.OrderStatusCancelled
	next.CancelReason = reason
	next.CancelledAt = &now
	next.UpdatedAt = now

	refund, err := m.cancelRefund(&next.Payment, cmd, now)
	if err != nil {
		return nil, err
	}
	next.Timeline = appendTimeline(next.Timeline, string(domain.OrderStatusCancelled), reason, strings.TrimSpace(cmd.ActorID), now)
	*order = next
	return refund, nil
}

// CancelBooking is CancelOrder for bookings.
func (m StatusMachine) CancelBooking(booking *Booking, cmd CancelCommand, now time.Time) (*Refund, error) {
	if !CanBeCancelled(string(booking.Status)) {
		return nil, fmt.Errorf("%w: booking status %q", ErrNotCancellable, booking.Status)
	}
	next := *booking
	next.Timeline = slices.Clone(booking.Timeline)
	next.Payment.Refunds = slices.Clone(booking.Payment.Refunds)

	reason := textutil.Sanitize(cmd.Reason)
	next.Status = domain.BookingStatusCancelled
	next.CancelReason = reason
	next.CancelledAt = &now
	next.UpdatedAt = now

	refund, err := m.cancelRefund(&next.Payment, cmd, now)
	if err != nil {
		return nil, err
	}
	next.Timeline = appendTimeline(next.Timeline, string(domain.BookingStatusCancelled), reason, strings.TrimSpace(cmd.ActorID), now)
	*booking = next
	return refund, nil
}

// cancelRefund records the optional refund of a cancellation on the payment only.
func (m StatusMachine) cancelRefund(payment *Payment, cmd CancelCommand, now time.Time) (*Refund, error) {
	if cmd.RefundAmount == nil || *cmd.RefundAmount <= 0 {
		return nil, nil
	}
	if !paymentRefundable(*payment) {
		return nil, fmt.Errorf("%w: payment status %q has nothing to refund", ErrNotRefundable, payment.Status)
	}
	refund, err := m.refunds.Apply(RefundTarget{Payment: payment}, RefundRequest{
		Amount: *cmd.RefundAmount,
		Reason: textutil.Sanitize(cmd.Reason),
		Method: payment.Method,
		Actor:  cmd.ActorID,
	}, now)
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// RefundOrder applies a refund to an order that passes CanRefundOrder.
func (m StatusMachine) RefundOrder(order *Order, req RefundRequest, now time.Time) (Refund, error) {
	if !CanRefundOrder(*order) {
		return Refund{}, fmt.Errorf("%w: order status %q, payment status %q", ErrNotRefundable, order.Status, order.Payment.Status)
	}
	refund, err := m.refunds.Apply(RefundTarget{
		Payment:  &order.Payment,
		Timeline: &order.Timeline,
		SetRefunded: func(full bool) {
			order.Status = domain.OrderStatusPartiallyRefunded
			if full {
				order.Status = domain.OrderStatusRefunded
			}
		},
	}, req, now)
	if err != nil {
		return Refund{}, err
	}
	order.UpdatedAt = now
	return refund, nil
}

// RefundBooking applies a refund to a booking that passes CanRefundBooking.
func (m StatusMachine) RefundBooking(booking *Booking, req RefundRequest, now time.Time) (Refund, error) {
	if !CanRefundBooking(*booking) {
		return Refund{}, fmt.Errorf("%w: booking status %q, payment status %q", ErrNotRefundable, booking.Status, booking.Payment.Status)
	}
	refund, err := m.refunds.Apply(RefundTarget{
		Payment:  &booking.Payment,
		Timeline: &booking.Timeline,
		SetRefunded: func(full bool) {
			booking.Status = domain.BookingStatusPartiallyRefunded
			if full {
				booking.Status = domain.BookingStatusRefunded
			}
		},
	}, req, now)
	if err != nil {
		return Refund{}, err
	}
	booking.UpdatedAt = now
	return refund, nil
}
