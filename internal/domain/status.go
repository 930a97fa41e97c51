package domain

// OrderStatus enumerates the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusConfirmed         OrderStatus = "confirmed"
	OrderStatusProcessing        OrderStatus = "processing"
	OrderStatusShipped           OrderStatus = "shipped"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusRefunded          OrderStatus = "refunded"
	OrderStatusPartiallyRefunded OrderStatus = "partially_refunded"
)

var orderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:           {},
	OrderStatusConfirmed:         {},
	OrderStatusProcessing:        {},
	OrderStatusShipped:           {},
	OrderStatusDelivered:         {},
	OrderStatusCancelled:         {},
	OrderStatusRefunded:          {},
	OrderStatusPartiallyRefunded: {},
}

// Valid reports whether the status is part of the order lifecycle.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatuses[s]
	return ok
}

// BookingStatus enumerates the booking lifecycle.
type BookingStatus string

const (
	BookingStatusPending           BookingStatus = "pending"
	BookingStatusConfirmed         BookingStatus = "confirmed"
	BookingStatusCompleted         BookingStatus = "completed"
	BookingStatusCancelled         BookingStatus = "cancelled"
	BookingStatusNoShow            BookingStatus = "no_show"
	BookingStatusRefunded          BookingStatus = "refunded"
	BookingStatusPartiallyRefunded BookingStatus = "partially_refunded"
)

var bookingStatuses = map[BookingStatus]struct{}{
	BookingStatusPending:           {},
	BookingStatusConfirmed:         {},
	BookingStatusCompleted:         {},
	BookingStatusCancelled:         {},
	BookingStatusNoShow:            {},
	BookingStatusRefunded:          {},
	BookingStatusPartiallyRefunded: {},
}

// Valid reports whether the status is part of the booking lifecycle.
func (s BookingStatus) Valid() bool {
	_, ok := bookingStatuses[s]
	return ok
}

// PaymentStatus enumerates the payment lifecycle shared by orders and bookings.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Valid reports whether the status is part of the payment lifecycle.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed,
		PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}
